package feed

import (
	"sync"

	"github.com/newsrank/backend/internal/metrics"
)

// Event is pushed to live feed subscribers for every stored original.
type Event struct {
	DocumentID string   `json:"document_id"`
	Title      string   `json:"title"`
	EventType  string   `json:"event_type"`
	ImpactTier string   `json:"impact_tier"`
	Partition  string   `json:"partition"`
	Tickers    []string `json:"tickers,omitempty"`
}

// Broadcaster fans ingestion events out to websocket subscribers. Slow
// subscribers drop events rather than block ingestion.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan Event]struct{})}
}

func (b *Broadcaster) Subscribe() chan Event {
	ch := make(chan Event, 16)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	metrics.FeedSubscribers.Inc()
	return ch
}

func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
		metrics.FeedSubscribers.Dec()
	}
	b.mu.Unlock()
}

func (b *Broadcaster) Publish(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

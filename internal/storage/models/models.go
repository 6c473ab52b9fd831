package models

import (
	"errors"
	"time"
)

// ErrProfileNotFound is returned by profile stores when a client id is
// unknown. It is a data-integrity failure and is surfaced to the caller.
var ErrProfileNotFound = errors.New("client profile not found")

// ImpactTier classifies the market significance of a document, ordered from
// least to most severe.
type ImpactTier int

const (
	TierStandard ImpactTier = iota
	TierBronze
	TierSilver
	TierGold
	TierPlatinum
)

func (t ImpactTier) String() string {
	switch t {
	case TierPlatinum:
		return "platinum"
	case TierGold:
		return "gold"
	case TierSilver:
		return "silver"
	case TierBronze:
		return "bronze"
	default:
		return "standard"
	}
}

func ParseImpactTier(s string) ImpactTier {
	switch s {
	case "platinum":
		return TierPlatinum
	case "gold":
		return TierGold
	case "silver":
		return TierSilver
	case "bronze":
		return TierBronze
	default:
		return TierStandard
	}
}

// MatchReason explains why a document was surfaced for a client.
type MatchReason string

const (
	ReasonDirectHolding MatchReason = "direct-holding"
	ReasonWatchlist     MatchReason = "watchlist"
	ReasonSupplyChain   MatchReason = "supply-chain"
	ReasonCompetitor    MatchReason = "competitor"
	ReasonPeer          MatchReason = "peer"
	ReasonBenchmark     MatchReason = "benchmark"
	ReasonSemantic      MatchReason = "semantic-match"
	ReasonTheme         MatchReason = "theme-match"
)

// AffectedInstrument is one instrument a document moves, with direction and
// magnitude as extracted at ingest time.
type AffectedInstrument struct {
	Ticker    string  `json:"ticker"`
	Direction string  `json:"direction"`
	Magnitude float64 `json:"magnitude"`
}

// Document is immutable once persisted; only the duplicate linkage fields are
// set, once, before the insert.
type Document struct {
	ID          string
	Title       string
	Body        string
	ContentHash string
	Fingerprint string
	Embedding   []float32

	ImpactScore int
	ImpactTier  ImpactTier
	EventType   string
	Instruments []AffectedInstrument
	Entities    []string
	Themes      []string
	Sectors     []string
	Partition   string

	DuplicateOf     string
	DuplicateScore  float64
	DuplicateMethod string

	CreatedAt time.Time
}

// IsDuplicate reports whether the document was linked to a canonical original.
func (d *Document) IsDuplicate() bool {
	return d.DuplicateOf != ""
}

// Holding is a single portfolio position.
type Holding struct {
	Ticker  string  `json:"ticker"`
	Weight  float64 `json:"weight"`
	Shares  float64 `json:"shares,omitempty"`
	AvgCost float64 `json:"avg_cost,omitempty"`
}

// WatchItem is a watched instrument with an optional alert threshold.
type WatchItem struct {
	Ticker         string  `json:"ticker"`
	AlertThreshold float64 `json:"alert_threshold,omitempty"`
}

// Exclusions is a client's hard veto set. A document touching any excluded
// sector or issuer never appears in ranked output.
type Exclusions struct {
	Sectors []string `json:"sectors,omitempty"`
	Issuers []string `json:"issuers,omitempty"`
}

type ClientProfile struct {
	ID                 string
	MandateType        string
	MandateDescription string
	MandateThemes      []string
	MandateEmbedding   []float32
	Benchmark          string
	Horizon            string
	Exclusions         Exclusions
	ImpactThreshold    int
	DefaultBias        float64
	Holdings           []Holding
	Watchlist          []WatchItem
	Partitions         []string
	CreatedAt          time.Time
}

// HoldingWeight returns the portfolio weight fraction for a ticker, or 0.
func (p *ClientProfile) HoldingWeight(ticker string) float64 {
	for _, h := range p.Holdings {
		if h.Ticker == ticker {
			return h.Weight
		}
	}
	return 0
}

// Candidate is a per-request, transient record of a retrievable document and
// the evidence connecting it to the client. A document found by both channels
// appears once, with the union of its reasons.
type Candidate struct {
	DocumentID     string
	Reasons        []MatchReason
	HopDistance    int
	InfluenceCount int
	Similarity     float64
	ThemeOverlap   float64
	Tickers        []string
}

// HasReason reports whether the candidate already carries the given reason.
func (c *Candidate) HasReason(r MatchReason) bool {
	for _, have := range c.Reasons {
		if have == r {
			return true
		}
	}
	return false
}

// AddReason appends a reason preserving first-seen order, without duplicates.
func (c *Candidate) AddReason(r MatchReason) {
	if !c.HasReason(r) {
		c.Reasons = append(c.Reasons, r)
	}
}

// RankedDocument is one entry of the ranked feed returned to the caller.
type RankedDocument struct {
	DocumentID string
	Score      float64
	Reasons    []MatchReason
	CreatedAt  time.Time
}

// EventFacts is what the extraction model returns for a raw draft.
type EventFacts struct {
	EventType   string               `json:"event_type"`
	ImpactScore int                  `json:"impact_score"`
	ImpactTier  string               `json:"impact_tier"`
	Instruments []AffectedInstrument `json:"instruments"`
	Themes      []string             `json:"themes"`
	Sectors     []string             `json:"sectors"`
}

// RankRecord is one row of rank history, kept for evaluation.
type RankRecord struct {
	ID          string
	ClientID    string
	Bias        float64
	Limit       int
	WindowHours int
	Returned    int
	TopScore    float64
	LatencyMS   int
	CreatedAt   time.Time
}

// Feedback is a client's verdict on a ranked item.
type Feedback struct {
	ID        int
	RankID    string
	ClientID  string
	Helpful   bool
	Comment   string
	CreatedAt time.Time
}

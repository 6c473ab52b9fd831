package dedup

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/newsrank/backend/internal/metrics"
	"github.com/newsrank/backend/pkg/logger"
)

const (
	MethodHash        = "hash"
	MethodFingerprint = "fingerprint"
	MethodEmbedding   = "embedding"
	MethodNone        = "none"
)

// Draft is the part of an incoming document the detector needs. The document
// id must already be assigned so a losing concurrent draft can be linked to
// the winner.
type Draft struct {
	ID        string
	Title     string
	Content   string
	Tickers   []string
	EventType string
	Timestamp time.Time
	Embedding []float32
}

type Result struct {
	IsDuplicate bool
	DuplicateOf string
	Score       float64
	Method      string
}

// NearDupIndex is the semantic tier's backend: nearest-neighbor lookup over
// recently indexed documents.
type NearDupIndex interface {
	NearDuplicate(ctx context.Context, embedding []float32, since time.Time) (docID string, similarity float64, err error)
}

// Detector classifies incoming drafts against recently seen content using
// three cascading tiers: exact hash, structural fingerprint, and embedding
// similarity. Each tier is scoped to the rolling window so recurring events
// (quarterly earnings, scheduled announcements) do not collide across periods.
type Detector struct {
	index     WindowIndex
	nearDup   NearDupIndex
	window    time.Duration
	threshold float64
}

func NewDetector(index WindowIndex, nearDup NearDupIndex, window time.Duration, threshold float64) *Detector {
	if window <= 0 {
		window = 48 * time.Hour
	}
	if threshold <= 0 {
		threshold = 0.85
	}
	return &Detector{
		index:     index,
		nearDup:   nearDup,
		window:    window,
		threshold: threshold,
	}
}

// Check runs the cascade, short-circuiting on the first confident match. The
// hash and fingerprint tiers insert the draft's keys as part of the check, so
// ingestion needs no second write. The embedding tier fails open: if the
// similarity backend is down the draft proceeds as original.
func (d *Detector) Check(ctx context.Context, draft Draft) (Result, error) {
	hashKey := "hash:" + HashContent(draft.Content)
	existing, inserted, err := d.index.PutIfAbsent(ctx, hashKey, draft.ID, d.window)
	if err != nil {
		return Result{}, err
	}
	if !inserted {
		logger.Info("Duplicate detected",
			zap.String("doc_id", draft.ID),
			zap.String("duplicate_of", existing),
			zap.String("method", MethodHash),
		)
		metrics.DuplicateChecks.WithLabelValues(MethodHash).Inc()
		return Result{IsDuplicate: true, DuplicateOf: existing, Score: 1.0, Method: MethodHash}, nil
	}

	// An empty ticker set carries no same-event evidence: two unrelated
	// stories with the same generic event type and day must not collide.
	if len(draft.Tickers) > 0 {
		fpKey := "fp:" + Fingerprint(draft.Tickers, draft.EventType, draft.Timestamp)
		existing, inserted, err = d.index.PutIfAbsent(ctx, fpKey, draft.ID, d.window)
		if err != nil {
			return Result{}, err
		}
		if !inserted {
			logger.Info("Duplicate detected",
				zap.String("doc_id", draft.ID),
				zap.String("duplicate_of", existing),
				zap.String("method", MethodFingerprint),
			)
			metrics.DuplicateChecks.WithLabelValues(MethodFingerprint).Inc()
			return Result{IsDuplicate: true, DuplicateOf: existing, Score: 0.9, Method: MethodFingerprint}, nil
		}
	}

	if len(draft.Embedding) > 0 && d.nearDup != nil {
		since := draft.Timestamp.Add(-d.window)
		docID, similarity, err := d.nearDup.NearDuplicate(ctx, draft.Embedding, since)
		if err != nil {
			// Never block ingestion on the similarity backend.
			logger.Warn("Near-duplicate lookup unavailable, degrading to hash and fingerprint tiers",
				zap.String("doc_id", draft.ID),
				zap.Error(err),
			)
			metrics.DedupDegraded.Inc()
		} else if docID != "" && similarity >= d.threshold {
			logger.Info("Duplicate detected",
				zap.String("doc_id", draft.ID),
				zap.String("duplicate_of", docID),
				zap.Float64("similarity", similarity),
				zap.String("method", MethodEmbedding),
			)
			metrics.DuplicateChecks.WithLabelValues(MethodEmbedding).Inc()
			return Result{IsDuplicate: true, DuplicateOf: docID, Score: similarity, Method: MethodEmbedding}, nil
		}
	}

	metrics.DuplicateChecks.WithLabelValues(MethodNone).Inc()
	return Result{Method: MethodNone}, nil
}

// Probe runs the same cascade read-only. Nothing is recorded, so a probe does
// not claim the draft's keys and a later Check of the same content still wins
// as original.
func (d *Detector) Probe(ctx context.Context, draft Draft) (Result, error) {
	hashKey := "hash:" + HashContent(draft.Content)
	existing, found, err := d.index.Get(ctx, hashKey)
	if err != nil {
		return Result{}, err
	}
	if found {
		return Result{IsDuplicate: true, DuplicateOf: existing, Score: 1.0, Method: MethodHash}, nil
	}

	if len(draft.Tickers) > 0 {
		fpKey := "fp:" + Fingerprint(draft.Tickers, draft.EventType, draft.Timestamp)
		existing, found, err = d.index.Get(ctx, fpKey)
		if err != nil {
			return Result{}, err
		}
		if found {
			return Result{IsDuplicate: true, DuplicateOf: existing, Score: 0.9, Method: MethodFingerprint}, nil
		}
	}

	if len(draft.Embedding) > 0 && d.nearDup != nil {
		since := draft.Timestamp.Add(-d.window)
		docID, similarity, err := d.nearDup.NearDuplicate(ctx, draft.Embedding, since)
		if err != nil {
			logger.Warn("Near-duplicate lookup unavailable during probe", zap.Error(err))
			metrics.DedupDegraded.Inc()
		} else if docID != "" && similarity >= d.threshold {
			return Result{IsDuplicate: true, DuplicateOf: docID, Score: similarity, Method: MethodEmbedding}, nil
		}
	}

	return Result{Method: MethodNone}, nil
}

package ranking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/newsrank/backend/internal/metrics"
	"github.com/newsrank/backend/internal/storage/models"
	"github.com/newsrank/backend/pkg/config"
	"github.com/newsrank/backend/pkg/logger"
)

// ErrInvalidBias rejects a bias parameter outside [0,1] before any retrieval
// work begins.
var ErrInvalidBias = errors.New("bias parameter must be in [0,1]")

// ProfileStore reads client mandates, holdings, watchlists, and exclusions.
type ProfileStore interface {
	GetClientProfile(ctx context.Context, id string) (*models.ClientProfile, error)
}

// DocumentStore reads persisted documents. FindRecentByThemes is the
// always-on half of the vector channel.
type DocumentStore interface {
	GetDocumentsByIDs(ctx context.Context, ids []string) (map[string]*models.Document, error)
	FindRecentByThemes(ctx context.Context, themes, partitions []string, since time.Time, limit int) ([]*models.Document, error)
}

// GraphChannel traverses the relationship graph out to documents.
type GraphChannel interface {
	Traverse(ctx context.Context, clientID, benchmark string, hopLimit int, partitions []string, since time.Time) ([]models.Candidate, error)
}

// VectorIndex runs embedding-similarity retrieval.
type VectorIndex interface {
	Nearest(ctx context.Context, embedding []float32, k int, partitions []string, since time.Time) ([]models.Candidate, error)
}

// HistoryRecorder persists rank requests for the evaluation report. Optional.
type HistoryRecorder interface {
	InsertRankRecord(ctx context.Context, record *models.RankRecord) error
}

type Request struct {
	ClientID string
	// Bias overrides the profile's default λ when non-nil.
	Bias              *float64
	Limit             int
	WindowHours       int
	TierFilter        []models.ImpactTier
	IncludeDuplicates bool
}

// Engine is the query-time hybrid ranker: concurrent two-channel retrieval,
// merge, hard filters, pure scoring, deterministic ordering.
type Engine struct {
	profiles ProfileStore
	docs     DocumentStore
	graph    GraphChannel
	vectors  VectorIndex
	history  HistoryRecorder
	cfg      config.RankingConfig
	now      func() time.Time
}

func NewEngine(profiles ProfileStore, docs DocumentStore, graph GraphChannel, vectors VectorIndex, history HistoryRecorder, cfg config.RankingConfig) *Engine {
	return &Engine{
		profiles: profiles,
		docs:     docs,
		graph:    graph,
		vectors:  vectors,
		history:  history,
		cfg:      cfg,
		now:      time.Now,
	}
}

// WithClock fixes the engine's clock. Tests use this to make recency decay
// deterministic.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

func (e *Engine) Rank(ctx context.Context, req Request) ([]models.RankedDocument, error) {
	started := e.now()

	// Failed requests spend latency too; every outcome is observed.
	status := "ok"
	defer func() {
		metrics.RankTotal.WithLabelValues(status).Inc()
		metrics.RankDuration.WithLabelValues(status).Observe(e.now().Sub(started).Seconds())
	}()

	if req.Bias != nil && (*req.Bias < 0 || *req.Bias > 1) {
		status = "invalid"
		return nil, fmt.Errorf("%w: %v", ErrInvalidBias, *req.Bias)
	}

	profile, err := e.profiles.GetClientProfile(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, models.ErrProfileNotFound) {
			status = "not_found"
			return nil, fmt.Errorf("client %s: %w", req.ClientID, models.ErrProfileNotFound)
		}
		status = "error"
		return nil, fmt.Errorf("failed to load client profile: %w", err)
	}

	bias := profile.DefaultBias
	if req.Bias != nil {
		bias = *req.Bias
	}
	if bias < 0 || bias > 1 {
		status = "invalid"
		return nil, fmt.Errorf("%w: %v", ErrInvalidBias, bias)
	}

	limit := req.Limit
	if limit <= 0 {
		limit = e.cfg.DefaultLimit
	}
	windowHours := req.WindowHours
	if windowHours <= 0 {
		windowHours = e.cfg.DefaultWindowHours
	}
	since := e.now().Add(-time.Duration(windowHours) * time.Hour)

	logger.Info("Ranking feed",
		zap.String("client_id", req.ClientID),
		zap.Float64("bias", bias),
		zap.Int("limit", limit),
		zap.Int("window_hours", windowHours),
	)

	// Fan out both retrieval channels; the merge below is the join barrier.
	graphCh := make(chan []models.Candidate, 1)
	vectorCh := make(chan []models.Candidate, 1)

	go func() {
		graphCh <- e.runGraphChannel(ctx, profile, since)
	}()
	go func() {
		vectorCh <- e.runVectorChannel(ctx, profile, bias, since)
	}()

	graphCandidates := <-graphCh
	vectorCandidates := <-vectorCh

	metrics.ChannelCandidates.WithLabelValues("graph").Observe(float64(len(graphCandidates)))
	metrics.ChannelCandidates.WithLabelValues("vector").Observe(float64(len(vectorCandidates)))

	merged := mergeCandidates(graphCandidates, vectorCandidates)

	ids := make([]string, len(merged))
	for i, c := range merged {
		ids[i] = c.DocumentID
	}
	docs, err := e.docs.GetDocumentsByIDs(ctx, ids)
	if err != nil {
		status = "error"
		return nil, fmt.Errorf("failed to load candidate documents: %w", err)
	}

	survivors := e.applyFilters(merged, docs, profile, req)

	ranked := e.score(survivors, docs, profile, bias)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	latency := e.now().Sub(started)
	e.recordHistory(ctx, req.ClientID, bias, limit, windowHours, ranked, latency)

	logger.Info("Feed ranked",
		zap.String("client_id", req.ClientID),
		zap.Int("graph_candidates", len(graphCandidates)),
		zap.Int("vector_candidates", len(vectorCandidates)),
		zap.Int("merged", len(merged)),
		zap.Int("returned", len(ranked)),
		zap.Duration("latency", latency),
	)

	return ranked, nil
}

// runGraphChannel traverses the relationship graph under its own budget. A
// timeout or backend failure degrades to an empty contribution; it never
// fails the request.
func (e *Engine) runGraphChannel(ctx context.Context, profile *models.ClientProfile, since time.Time) []models.Candidate {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(e.cfg.GraphTimeoutMS)*time.Millisecond)
	defer cancel()

	candidates, err := e.graph.Traverse(ctx, profile.ID, profile.Benchmark, e.cfg.HopLimit, profile.Partitions, since)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			metrics.ChannelTimeouts.WithLabelValues("graph").Inc()
		}
		logger.Warn("Graph channel degraded to empty", zap.String("client_id", profile.ID), zap.Error(err))
		return nil
	}
	return candidates
}

// runVectorChannel always does theme-filtered retrieval; the embedding query
// runs only past the activation threshold and only for clients that carry a
// mandate embedding, keeping holdings-only requests cheap.
func (e *Engine) runVectorChannel(ctx context.Context, profile *models.ClientProfile, bias float64, since time.Time) []models.Candidate {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(e.cfg.VectorTimeoutMS)*time.Millisecond)
	defer cancel()

	var candidates []models.Candidate
	seen := make(map[string]int)

	themeDocs, err := e.docs.FindRecentByThemes(ctx, profile.MandateThemes, profile.Partitions, since, e.cfg.ThemeLimit)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			metrics.ChannelTimeouts.WithLabelValues("vector").Inc()
		}
		logger.Warn("Theme retrieval degraded to empty", zap.String("client_id", profile.ID), zap.Error(err))
	} else {
		for _, doc := range themeDocs {
			candidate := models.Candidate{DocumentID: doc.ID}
			candidate.AddReason(models.ReasonTheme)
			seen[doc.ID] = len(candidates)
			candidates = append(candidates, candidate)
		}
	}

	if bias > e.cfg.ActivationThreshold && len(profile.MandateEmbedding) > 0 {
		hits, err := e.vectors.Nearest(ctx, profile.MandateEmbedding, e.cfg.VectorTopK, profile.Partitions, since)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				metrics.ChannelTimeouts.WithLabelValues("vector").Inc()
			}
			logger.Warn("Embedding retrieval degraded to empty", zap.String("client_id", profile.ID), zap.Error(err))
		} else {
			for _, hit := range hits {
				if idx, ok := seen[hit.DocumentID]; ok {
					candidates[idx].AddReason(models.ReasonSemantic)
					if hit.Similarity > candidates[idx].Similarity {
						candidates[idx].Similarity = hit.Similarity
					}
					continue
				}
				candidate := models.Candidate{DocumentID: hit.DocumentID, Similarity: hit.Similarity}
				candidate.AddReason(models.ReasonSemantic)
				seen[hit.DocumentID] = len(candidates)
				candidates = append(candidates, candidate)
			}
		}
	}

	return candidates
}

// mergeCandidates unions both channels by document id: reasons merge in
// first-seen order, hop distance takes the minimum, influence and similarity
// the maximum.
func mergeCandidates(graph, vector []models.Candidate) []models.Candidate {
	byDoc := make(map[string]int)
	var merged []models.Candidate

	for _, c := range append(append([]models.Candidate{}, graph...), vector...) {
		idx, ok := byDoc[c.DocumentID]
		if !ok {
			byDoc[c.DocumentID] = len(merged)
			merged = append(merged, c)
			continue
		}

		existing := &merged[idx]
		for _, r := range c.Reasons {
			existing.AddReason(r)
		}
		if c.HopDistance > 0 && (existing.HopDistance == 0 || c.HopDistance < existing.HopDistance) {
			existing.HopDistance = c.HopDistance
		}
		if c.InfluenceCount > existing.InfluenceCount {
			existing.InfluenceCount = c.InfluenceCount
		}
		if c.Similarity > existing.Similarity {
			existing.Similarity = c.Similarity
		}
		for _, t := range c.Tickers {
			existing.Tickers = appendUnique(existing.Tickers, t)
		}
	}

	return merged
}

// applyFilters drops candidates in order: duplicates, exclusion-set veto,
// impact threshold, caller tier filter. The exclusion veto is absolute and
// independent of score.
func (e *Engine) applyFilters(candidates []models.Candidate, docs map[string]*models.Document, profile *models.ClientProfile, req Request) []models.Candidate {
	tierAllowed := func(models.ImpactTier) bool { return true }
	if len(req.TierFilter) > 0 {
		allowed := make(map[models.ImpactTier]bool, len(req.TierFilter))
		for _, t := range req.TierFilter {
			allowed[t] = true
		}
		tierAllowed = func(t models.ImpactTier) bool { return allowed[t] }
	}

	var survivors []models.Candidate
	for _, c := range candidates {
		doc, ok := docs[c.DocumentID]
		if !ok {
			continue
		}

		if doc.IsDuplicate() && !req.IncludeDuplicates {
			metrics.CandidatesFiltered.WithLabelValues("duplicate").Inc()
			continue
		}
		if violatesExclusions(doc, profile.Exclusions) {
			metrics.CandidatesFiltered.WithLabelValues("exclusion").Inc()
			continue
		}
		if doc.ImpactScore < profile.ImpactThreshold {
			metrics.CandidatesFiltered.WithLabelValues("impact_threshold").Inc()
			continue
		}
		if !tierAllowed(doc.ImpactTier) {
			metrics.CandidatesFiltered.WithLabelValues("tier").Inc()
			continue
		}

		survivors = append(survivors, c)
	}

	return survivors
}

// violatesExclusions reports whether a document touches any excluded sector
// or issuer.
func violatesExclusions(doc *models.Document, exclusions models.Exclusions) bool {
	for _, excluded := range exclusions.Sectors {
		for _, sector := range doc.Sectors {
			if sector == excluded {
				return true
			}
		}
	}
	for _, excluded := range exclusions.Issuers {
		for _, instrument := range doc.Instruments {
			if instrument.Ticker == excluded {
				return true
			}
		}
		for _, entity := range doc.Entities {
			if entity == excluded {
				return true
			}
		}
	}
	return false
}

func (e *Engine) score(candidates []models.Candidate, docs map[string]*models.Document, profile *models.ClientProfile, bias float64) []models.RankedDocument {
	cfg := ConfigForBias(e.cfg, bias)
	now := e.now()

	ranked := make([]models.RankedDocument, 0, len(candidates))
	for _, c := range candidates {
		doc := docs[c.DocumentID]

		c.ThemeOverlap = themeOverlap(doc.Themes, profile.MandateThemes)

		var matchedWeight float64
		for _, ticker := range c.Tickers {
			matchedWeight += profile.HoldingWeight(ticker)
		}

		score := Score(Input{
			Candidate:     c,
			ImpactScore:   doc.ImpactScore,
			ImpactTier:    doc.ImpactTier,
			Age:           now.Sub(doc.CreatedAt),
			MatchedWeight: matchedWeight,
		}, cfg)

		ranked = append(ranked, models.RankedDocument{
			DocumentID: c.DocumentID,
			Score:      score,
			Reasons:    c.Reasons,
			CreatedAt:  doc.CreatedAt,
		})
	}

	// Strict total order: score desc, newer first, then id, so identical
	// inputs always produce byte-identical output.
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		if !ranked[i].CreatedAt.Equal(ranked[j].CreatedAt) {
			return ranked[i].CreatedAt.After(ranked[j].CreatedAt)
		}
		return ranked[i].DocumentID < ranked[j].DocumentID
	})

	return ranked
}

// themeOverlap is the fraction of mandate themes present on the document.
func themeOverlap(docThemes, mandateThemes []string) float64 {
	if len(mandateThemes) == 0 {
		return 0
	}

	tagged := make(map[string]bool, len(docThemes))
	for _, t := range docThemes {
		tagged[t] = true
	}

	matched := 0
	for _, t := range mandateThemes {
		if tagged[t] {
			matched++
		}
	}

	return float64(matched) / float64(len(mandateThemes))
}

func (e *Engine) recordHistory(ctx context.Context, clientID string, bias float64, limit, windowHours int, ranked []models.RankedDocument, latency time.Duration) {
	if e.history == nil {
		return
	}

	var topScore float64
	if len(ranked) > 0 {
		topScore = ranked[0].Score
	}

	record := &models.RankRecord{
		ID:          uuid.New().String(),
		ClientID:    clientID,
		Bias:        bias,
		Limit:       limit,
		WindowHours: windowHours,
		Returned:    len(ranked),
		TopScore:    topScore,
		LatencyMS:   int(latency.Milliseconds()),
		CreatedAt:   e.now(),
	}

	if err := e.history.InsertRankRecord(ctx, record); err != nil {
		logger.Warn("Failed to record rank history", zap.Error(err))
	}
}

func appendUnique(values []string, value string) []string {
	for _, v := range values {
		if v == value {
			return values
		}
	}
	return append(values, value)
}

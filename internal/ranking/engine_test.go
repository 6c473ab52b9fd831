package ranking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newsrank/backend/internal/metrics"
	"github.com/newsrank/backend/internal/storage/models"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type fakeProfiles struct {
	profiles map[string]*models.ClientProfile
}

func (f *fakeProfiles) GetClientProfile(ctx context.Context, id string) (*models.ClientProfile, error) {
	p, ok := f.profiles[id]
	if !ok {
		return nil, models.ErrProfileNotFound
	}
	return p, nil
}

type fakeDocs struct {
	docs   map[string]*models.Document
	themed []*models.Document
}

func (f *fakeDocs) GetDocumentsByIDs(ctx context.Context, ids []string) (map[string]*models.Document, error) {
	out := make(map[string]*models.Document)
	for _, id := range ids {
		if doc, ok := f.docs[id]; ok {
			out[id] = doc
		}
	}
	return out, nil
}

func (f *fakeDocs) FindRecentByThemes(ctx context.Context, themes, partitions []string, since time.Time, limit int) ([]*models.Document, error) {
	return f.themed, nil
}

type fakeGraph struct {
	candidates []models.Candidate
	err        error
	block      bool
}

func (f *fakeGraph) Traverse(ctx context.Context, clientID, benchmark string, hopLimit int, partitions []string, since time.Time) ([]models.Candidate, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.candidates, f.err
}

type fakeVectors struct {
	hits  []models.Candidate
	err   error
	calls int
}

func (f *fakeVectors) Nearest(ctx context.Context, embedding []float32, k int, partitions []string, since time.Time) ([]models.Candidate, error) {
	f.calls++
	return f.hits, f.err
}

type fakeHistory struct {
	records []*models.RankRecord
}

func (f *fakeHistory) InsertRankRecord(ctx context.Context, record *models.RankRecord) error {
	f.records = append(f.records, record)
	return nil
}

func testProfile() *models.ClientProfile {
	return &models.ClientProfile{
		ID:               "client-1",
		MandateThemes:    []string{"artificial-intelligence"},
		MandateEmbedding: []float32{0.1, 0.2, 0.3},
		Benchmark:        "SPX",
		Exclusions:       models.Exclusions{Sectors: []string{"tobacco"}},
		ImpactThreshold:  30,
		DefaultBias:      0.3,
		Holdings:         []models.Holding{{Ticker: "ACME", Weight: 0.05}},
		Watchlist:        []models.WatchItem{{Ticker: "NXS"}},
		Partitions:       []string{"us"},
	}
}

func testDocs() *fakeDocs {
	docs := map[string]*models.Document{
		"doc-h": {
			ID: "doc-h", ImpactScore: 80, ImpactTier: models.TierGold,
			EventType:   "earnings",
			Instruments: []models.AffectedInstrument{{Ticker: "ACME"}},
			CreatedAt:   testNow.Add(-time.Hour),
		},
		"doc-t": {
			ID: "doc-t", ImpactScore: 70, ImpactTier: models.TierSilver,
			EventType: "product-launch",
			Themes:    []string{"artificial-intelligence"},
			CreatedAt: testNow.Add(-2 * time.Hour),
		},
		"doc-x": {
			ID: "doc-x", ImpactScore: 90, ImpactTier: models.TierPlatinum,
			Sectors:     []string{"tobacco"},
			Instruments: []models.AffectedInstrument{{Ticker: "ACME"}},
			CreatedAt:   testNow.Add(-time.Hour),
		},
		"doc-d": {
			ID: "doc-d", ImpactScore: 80, ImpactTier: models.TierGold,
			Instruments: []models.AffectedInstrument{{Ticker: "ACME"}},
			DuplicateOf: "doc-h", DuplicateScore: 1.0, DuplicateMethod: "hash",
			CreatedAt: testNow.Add(-30 * time.Minute),
		},
		"doc-low": {
			ID: "doc-low", ImpactScore: 10, ImpactTier: models.TierStandard,
			Instruments: []models.AffectedInstrument{{Ticker: "ACME"}},
			CreatedAt:   testNow.Add(-time.Hour),
		},
	}
	return &fakeDocs{
		docs:   docs,
		themed: []*models.Document{docs["doc-t"]},
	}
}

func graphCandidate(docID string, reasons ...models.MatchReason) models.Candidate {
	c := models.Candidate{DocumentID: docID, HopDistance: 1, InfluenceCount: 1, Tickers: []string{"ACME"}}
	for _, r := range reasons {
		c.AddReason(r)
	}
	return c
}

func newTestEngine(graph GraphChannel, vectors VectorIndex, docs *fakeDocs, history HistoryRecorder) *Engine {
	profiles := &fakeProfiles{profiles: map[string]*models.ClientProfile{"client-1": testProfile()}}
	return NewEngine(profiles, docs, graph, vectors, history, testRankingConfig()).
		WithClock(func() time.Time { return testNow })
}

func docIDs(ranked []models.RankedDocument) []string {
	ids := make([]string, len(ranked))
	for i, r := range ranked {
		ids[i] = r.DocumentID
	}
	return ids
}

func TestRankInvalidBias(t *testing.T) {
	engine := newTestEngine(&fakeGraph{}, &fakeVectors{}, testDocs(), nil)

	for _, bias := range []float64{-0.1, 1.5} {
		b := bias
		_, err := engine.Rank(context.Background(), Request{ClientID: "client-1", Bias: &b})
		assert.ErrorIs(t, err, ErrInvalidBias)
	}
}

func TestRankUnknownClient(t *testing.T) {
	engine := newTestEngine(&fakeGraph{}, &fakeVectors{}, testDocs(), nil)

	_, err := engine.Rank(context.Background(), Request{ClientID: "nobody"})
	assert.ErrorIs(t, err, models.ErrProfileNotFound)
}

func TestRankEmptyFeedIsNotAnError(t *testing.T) {
	engine := newTestEngine(&fakeGraph{}, &fakeVectors{}, &fakeDocs{docs: map[string]*models.Document{}}, nil)

	ranked, err := engine.Rank(context.Background(), Request{ClientID: "client-1"})
	require.NoError(t, err)
	assert.Empty(t, ranked)
}

func TestRankExclusionVetoAtEveryBias(t *testing.T) {
	graph := &fakeGraph{candidates: []models.Candidate{
		graphCandidate("doc-h", models.ReasonDirectHolding),
		graphCandidate("doc-x", models.ReasonDirectHolding),
	}}

	for _, bias := range []float64{0, 0.5, 1} {
		b := bias
		engine := newTestEngine(graph, &fakeVectors{}, testDocs(), nil)
		ranked, err := engine.Rank(context.Background(), Request{ClientID: "client-1", Bias: &b, Limit: 10})
		require.NoError(t, err)
		assert.NotContains(t, docIDs(ranked), "doc-x", "excluded sector must never surface at bias %v", bias)
	}
}

func TestRankDuplicatesFiltered(t *testing.T) {
	graph := &fakeGraph{candidates: []models.Candidate{
		graphCandidate("doc-h", models.ReasonDirectHolding),
		graphCandidate("doc-d", models.ReasonDirectHolding),
	}}
	engine := newTestEngine(graph, &fakeVectors{}, testDocs(), nil)

	ranked, err := engine.Rank(context.Background(), Request{ClientID: "client-1", Limit: 10})
	require.NoError(t, err)
	assert.NotContains(t, docIDs(ranked), "doc-d")

	ranked, err = engine.Rank(context.Background(), Request{ClientID: "client-1", Limit: 10, IncludeDuplicates: true})
	require.NoError(t, err)
	assert.Contains(t, docIDs(ranked), "doc-d")
}

func TestRankImpactThreshold(t *testing.T) {
	graph := &fakeGraph{candidates: []models.Candidate{
		graphCandidate("doc-h", models.ReasonDirectHolding),
		graphCandidate("doc-low", models.ReasonDirectHolding),
	}}
	engine := newTestEngine(graph, &fakeVectors{}, testDocs(), nil)

	ranked, err := engine.Rank(context.Background(), Request{ClientID: "client-1", Limit: 10})
	require.NoError(t, err)
	assert.NotContains(t, docIDs(ranked), "doc-low")
}

func TestRankTierFilter(t *testing.T) {
	graph := &fakeGraph{candidates: []models.Candidate{
		graphCandidate("doc-h", models.ReasonDirectHolding),
	}}
	engine := newTestEngine(graph, &fakeVectors{}, testDocs(), nil)

	ranked, err := engine.Rank(context.Background(), Request{
		ClientID:   "client-1",
		Limit:      10,
		TierFilter: []models.ImpactTier{models.TierPlatinum},
	})
	require.NoError(t, err)
	assert.Empty(t, ranked, "gold document must not pass a platinum-only filter")
}

func TestRankMergesChannelsByDocument(t *testing.T) {
	graph := &fakeGraph{candidates: []models.Candidate{
		graphCandidate("doc-t", models.ReasonSupplyChain),
	}}
	docs := testDocs()
	engine := newTestEngine(graph, &fakeVectors{}, docs, nil)

	ranked, err := engine.Rank(context.Background(), Request{ClientID: "client-1", Limit: 10})
	require.NoError(t, err)

	require.Equal(t, []string{"doc-t"}, docIDs(ranked), "both channels found doc-t; it must appear once")
	assert.Equal(t, []models.MatchReason{models.ReasonSupplyChain, models.ReasonTheme}, ranked[0].Reasons,
		"reasons merge in first-seen order")
}

func TestRankBiasFlipsOrdering(t *testing.T) {
	graph := &fakeGraph{candidates: []models.Candidate{
		graphCandidate("doc-h", models.ReasonDirectHolding),
	}}
	vectors := &fakeVectors{hits: []models.Candidate{{DocumentID: "doc-t", Similarity: 0.92}}}

	holdingsBias := 0.1
	engine := newTestEngine(graph, vectors, testDocs(), nil)
	ranked, err := engine.Rank(context.Background(), Request{ClientID: "client-1", Bias: &holdingsBias, Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, ranked)
	assert.Equal(t, "doc-h", ranked[0].DocumentID, "low bias favors the held position")

	thematicBias := 0.9
	ranked, err = engine.Rank(context.Background(), Request{ClientID: "client-1", Bias: &thematicBias, Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, ranked)
	assert.Equal(t, "doc-t", ranked[0].DocumentID, "high bias favors the thematic match")
}

func TestRankVectorActivation(t *testing.T) {
	vectors := &fakeVectors{}
	engine := newTestEngine(&fakeGraph{}, vectors, testDocs(), nil)

	low := 0.3
	_, err := engine.Rank(context.Background(), Request{ClientID: "client-1", Bias: &low})
	require.NoError(t, err)
	assert.Equal(t, 0, vectors.calls, "below the activation threshold the embedding query must not run")

	high := 0.8
	_, err = engine.Rank(context.Background(), Request{ClientID: "client-1", Bias: &high})
	require.NoError(t, err)
	assert.Equal(t, 1, vectors.calls)
}

func TestRankVectorSkippedWithoutMandateEmbedding(t *testing.T) {
	vectors := &fakeVectors{}
	profile := testProfile()
	profile.MandateEmbedding = nil
	profiles := &fakeProfiles{profiles: map[string]*models.ClientProfile{"client-1": profile}}
	engine := NewEngine(profiles, testDocs(), &fakeGraph{}, vectors, nil, testRankingConfig()).
		WithClock(func() time.Time { return testNow })

	high := 0.9
	_, err := engine.Rank(context.Background(), Request{ClientID: "client-1", Bias: &high})
	require.NoError(t, err)
	assert.Equal(t, 0, vectors.calls)
}

func TestRankGraphTimeoutDegrades(t *testing.T) {
	cfg := testRankingConfig()
	cfg.GraphTimeoutMS = 20

	profiles := &fakeProfiles{profiles: map[string]*models.ClientProfile{"client-1": testProfile()}}
	engine := NewEngine(profiles, testDocs(), &fakeGraph{block: true}, &fakeVectors{}, nil, cfg).
		WithClock(func() time.Time { return testNow })

	ranked, err := engine.Rank(context.Background(), Request{ClientID: "client-1", Limit: 10})
	require.NoError(t, err, "a timed-out channel must not fail the request")
	assert.Equal(t, []string{"doc-t"}, docIDs(ranked), "the vector channel still contributes")
}

func TestRankVectorErrorDegrades(t *testing.T) {
	graph := &fakeGraph{candidates: []models.Candidate{
		graphCandidate("doc-h", models.ReasonDirectHolding),
	}}
	vectors := &fakeVectors{err: errors.New("milvus unavailable")}
	docs := testDocs()
	docs.themed = nil

	engine := newTestEngine(graph, vectors, docs, nil)
	high := 0.8
	ranked, err := engine.Rank(context.Background(), Request{ClientID: "client-1", Bias: &high, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-h"}, docIDs(ranked))
}

func TestRankLimitAndDefaultLimit(t *testing.T) {
	graph := &fakeGraph{candidates: []models.Candidate{
		graphCandidate("doc-h", models.ReasonDirectHolding),
		graphCandidate("doc-t", models.ReasonSupplyChain),
	}}
	engine := newTestEngine(graph, &fakeVectors{}, testDocs(), nil)

	ranked, err := engine.Rank(context.Background(), Request{ClientID: "client-1", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, ranked, 1)
}

func TestRankDeterministic(t *testing.T) {
	graph := &fakeGraph{candidates: []models.Candidate{
		graphCandidate("doc-h", models.ReasonDirectHolding),
		graphCandidate("doc-t", models.ReasonSupplyChain),
	}}
	engine := newTestEngine(graph, &fakeVectors{}, testDocs(), nil)

	first, err := engine.Rank(context.Background(), Request{ClientID: "client-1", Limit: 10})
	require.NoError(t, err)
	second, err := engine.Rank(context.Background(), Request{ClientID: "client-1", Limit: 10})
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestRankTieBreaksByRecencyThenID(t *testing.T) {
	docs := &fakeDocs{docs: map[string]*models.Document{
		"doc-a": {ID: "doc-a", ImpactScore: 80, ImpactTier: models.TierGold, CreatedAt: testNow.Add(-time.Hour)},
		"doc-b": {ID: "doc-b", ImpactScore: 80, ImpactTier: models.TierGold, CreatedAt: testNow.Add(-time.Hour)},
		"doc-c": {ID: "doc-c", ImpactScore: 80, ImpactTier: models.TierGold, CreatedAt: testNow.Add(-30 * time.Minute)},
	}}
	graph := &fakeGraph{candidates: []models.Candidate{
		{DocumentID: "doc-b", Reasons: []models.MatchReason{models.ReasonBenchmark}},
		{DocumentID: "doc-a", Reasons: []models.MatchReason{models.ReasonBenchmark}},
		{DocumentID: "doc-c", Reasons: []models.MatchReason{models.ReasonBenchmark}},
	}}

	profiles := &fakeProfiles{profiles: map[string]*models.ClientProfile{"client-1": testProfile()}}
	engine := NewEngine(profiles, docs, graph, &fakeVectors{}, nil, testRankingConfig()).
		WithClock(func() time.Time { return testNow })

	zero := 0.0
	ranked, err := engine.Rank(context.Background(), Request{ClientID: "client-1", Bias: &zero, Limit: 10})
	require.NoError(t, err)

	// Equal scores except recency decay: doc-c is newer. doc-a vs doc-b tie
	// entirely and fall back to id order.
	require.Len(t, ranked, 3)
	assert.Equal(t, []string{"doc-c", "doc-a", "doc-b"}, docIDs(ranked))
}

func TestRankRecordsHistory(t *testing.T) {
	graph := &fakeGraph{candidates: []models.Candidate{
		graphCandidate("doc-h", models.ReasonDirectHolding),
	}}
	history := &fakeHistory{}
	engine := newTestEngine(graph, &fakeVectors{}, testDocs(), history)

	bias := 0.4
	ranked, err := engine.Rank(context.Background(), Request{ClientID: "client-1", Bias: &bias, Limit: 10})
	require.NoError(t, err)

	require.Len(t, history.records, 1)
	record := history.records[0]
	assert.Equal(t, "client-1", record.ClientID)
	assert.Equal(t, 0.4, record.Bias)
	assert.Equal(t, len(ranked), record.Returned)
	assert.Equal(t, ranked[0].Score, record.TopScore)
}

func TestMergeCandidates(t *testing.T) {
	a := models.Candidate{DocumentID: "d", HopDistance: 2, InfluenceCount: 1, Tickers: []string{"ACME"}}
	a.AddReason(models.ReasonSupplyChain)
	b := models.Candidate{DocumentID: "d", HopDistance: 1, InfluenceCount: 3, Similarity: 0.9, Tickers: []string{"NXS"}}
	b.AddReason(models.ReasonSemantic)
	b.AddReason(models.ReasonSupplyChain)

	merged := mergeCandidates([]models.Candidate{a}, []models.Candidate{b})
	require.Len(t, merged, 1)

	got := merged[0]
	assert.Equal(t, []models.MatchReason{models.ReasonSupplyChain, models.ReasonSemantic}, got.Reasons)
	assert.Equal(t, 1, got.HopDistance)
	assert.Equal(t, 3, got.InfluenceCount)
	assert.Equal(t, 0.9, got.Similarity)
	assert.ElementsMatch(t, []string{"ACME", "NXS"}, got.Tickers)
}

func TestThemeOverlap(t *testing.T) {
	assert.Zero(t, themeOverlap([]string{"ai"}, nil))
	assert.Equal(t, 0.5, themeOverlap([]string{"ai"}, []string{"ai", "energy"}))
	assert.Equal(t, 1.0, themeOverlap([]string{"ai", "energy", "chips"}, []string{"ai", "energy"}))
}

func TestRankDurationObservedOnFailure(t *testing.T) {
	engine := newTestEngine(&fakeGraph{}, &fakeVectors{}, testDocs(), nil)

	bad := 1.5
	_, err := engine.Rank(context.Background(), Request{ClientID: "client-1", Bias: &bad})
	require.ErrorIs(t, err, ErrInvalidBias)

	m := &dto.Metric{}
	require.NoError(t, metrics.RankDuration.WithLabelValues("invalid").(prometheus.Metric).Write(m))
	assert.Greater(t, m.GetHistogram().GetSampleCount(), uint64(0), "failed requests record latency too")
}

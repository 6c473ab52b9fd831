package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newsrank/backend/internal/storage/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	client, err := NewClient(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, client.InitSchema())
	t.Cleanup(func() { client.Close() })

	return client
}

func TestDocumentRoundTrip(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	doc := &models.Document{
		ID:          "doc-1",
		Title:       "Acme beats estimates",
		Body:        "Acme Corp reported strong quarterly results.",
		ContentHash: "abc123",
		Fingerprint: "ACME|earnings|2026-03-14",
		ImpactScore: 80,
		ImpactTier:  models.TierGold,
		EventType:   "earnings",
		Instruments: []models.AffectedInstrument{{Ticker: "ACME", Direction: "up", Magnitude: 0.7}},
		Entities:    []string{"Acme Corp"},
		Themes:      []string{"earnings-season"},
		Sectors:     []string{"technology"},
		Partition:   "us",
		CreatedAt:   time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, client.InsertDocument(ctx, doc))

	got, err := client.GetDocument(ctx, "doc-1")
	require.NoError(t, err)

	assert.Equal(t, doc.Title, got.Title)
	assert.Equal(t, models.TierGold, got.ImpactTier)
	assert.Equal(t, doc.Instruments, got.Instruments)
	assert.Equal(t, doc.CreatedAt, got.CreatedAt)
	assert.False(t, got.IsDuplicate())
}

func TestDuplicateLinkagePersists(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	dup := &models.Document{
		ID: "doc-2", Title: "Acme beats estimates (wire copy)",
		ContentHash: "abc123", Fingerprint: "ACME|earnings|2026-03-14",
		ImpactScore: 80, ImpactTier: models.TierGold, Partition: "us",
		DuplicateOf: "doc-1", DuplicateScore: 1.0, DuplicateMethod: "hash",
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, client.InsertDocument(ctx, dup))

	got, err := client.GetDocument(ctx, "doc-2")
	require.NoError(t, err)
	assert.True(t, got.IsDuplicate())
	assert.Equal(t, "doc-1", got.DuplicateOf)
	assert.Equal(t, 1.0, got.DuplicateScore)
	assert.Equal(t, "hash", got.DuplicateMethod)
}

func TestGetDocumentsByIDs(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		require.NoError(t, client.InsertDocument(ctx, &models.Document{
			ID: id, Title: id, ContentHash: id, Fingerprint: id,
			ImpactTier: models.TierStandard, Partition: "us", CreatedAt: time.Now().UTC(),
		}))
	}

	docs, err := client.GetDocumentsByIDs(ctx, []string{"a", "b", "missing"})
	require.NoError(t, err)
	assert.Len(t, docs, 2)
	assert.Contains(t, docs, "a")
	assert.Contains(t, docs, "b")

	empty, err := client.GetDocumentsByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestFindRecentByThemes(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	insert := func(id, partition string, themes []string, createdAt time.Time) {
		require.NoError(t, client.InsertDocument(ctx, &models.Document{
			ID: id, Title: id, ContentHash: id, Fingerprint: id,
			ImpactTier: models.TierStandard, Themes: themes, Partition: partition,
			CreatedAt: createdAt,
		}))
	}

	insert("match-new", "us", []string{"artificial-intelligence"}, now.Add(-time.Hour))
	insert("match-old", "us", []string{"artificial-intelligence"}, now.Add(-48*time.Hour))
	insert("wrong-theme", "us", []string{"energy"}, now.Add(-time.Hour))
	insert("wrong-partition", "eu", []string{"artificial-intelligence"}, now.Add(-time.Hour))
	insert("match-older", "us", []string{"artificial-intelligence", "chips"}, now.Add(-2*time.Hour))

	docs, err := client.FindRecentByThemes(ctx,
		[]string{"artificial-intelligence"}, []string{"us"}, now.Add(-24*time.Hour), 10)
	require.NoError(t, err)

	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	assert.Equal(t, []string{"match-new", "match-older"}, ids, "newest first, window and partition respected")

	none, err := client.FindRecentByThemes(ctx, nil, []string{"us"}, now, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestClientProfileRoundTrip(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	profile := &models.ClientProfile{
		ID:               "client-1",
		MandateType:      "thematic-growth",
		MandateThemes:    []string{"artificial-intelligence"},
		MandateEmbedding: []float32{0.1, 0.2},
		Benchmark:        "SPX",
		Horizon:          "long",
		Exclusions:       models.Exclusions{Sectors: []string{"tobacco"}, Issuers: []string{"VICE"}},
		ImpactThreshold:  30,
		DefaultBias:      0.4,
		Holdings:         []models.Holding{{Ticker: "ACME", Weight: 0.05}},
		Watchlist:        []models.WatchItem{{Ticker: "NXS"}},
		Partitions:       []string{"us"},
		CreatedAt:        time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, client.UpsertClientProfile(ctx, profile))

	got, err := client.GetClientProfile(ctx, "client-1")
	require.NoError(t, err)
	assert.Equal(t, profile.MandateThemes, got.MandateThemes)
	assert.Equal(t, profile.Exclusions, got.Exclusions)
	assert.Equal(t, profile.Holdings, got.Holdings)
	assert.Equal(t, 0.4, got.DefaultBias)

	// Upsert replaces.
	profile.DefaultBias = 0.7
	require.NoError(t, client.UpsertClientProfile(ctx, profile))
	got, err = client.GetClientProfile(ctx, "client-1")
	require.NoError(t, err)
	assert.Equal(t, 0.7, got.DefaultBias)
}

func TestGetClientProfileNotFound(t *testing.T) {
	client := newTestClient(t)

	_, err := client.GetClientProfile(context.Background(), "nobody")
	assert.ErrorIs(t, err, models.ErrProfileNotFound)
}

func TestRankHistoryAndFeedback(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	record := &models.RankRecord{
		ID: "rank-1", ClientID: "client-1", Bias: 0.6, Limit: 3,
		WindowHours: 24, Returned: 2, TopScore: 0.41, LatencyMS: 12,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, client.InsertRankRecord(ctx, record))

	require.NoError(t, client.StoreFeedback(ctx, &models.Feedback{
		RankID: "rank-1", ClientID: "client-1", Helpful: true, Comment: "good picks",
	}))

	rows, err := client.GetRankFeedback(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 0.6, rows[0].Bias)
	assert.True(t, rows[0].Helpful)
	assert.Equal(t, 0.41, rows[0].TopScore)
}

func TestCountDocuments(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, client.InsertDocument(ctx, &models.Document{
		ID: "orig", Title: "t", ContentHash: "h1", Fingerprint: "f1",
		ImpactTier: models.TierStandard, Partition: "us", CreatedAt: now,
	}))
	require.NoError(t, client.InsertDocument(ctx, &models.Document{
		ID: "dup", Title: "t", ContentHash: "h1", Fingerprint: "f1",
		ImpactTier: models.TierStandard, Partition: "us",
		DuplicateOf: "orig", DuplicateScore: 1.0, DuplicateMethod: "hash",
		CreatedAt: now,
	}))

	total, duplicates, err := client.CountDocuments(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, duplicates)
}

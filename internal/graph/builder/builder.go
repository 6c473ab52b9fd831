package builder

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/newsrank/backend/internal/graph/neo4j"
	"github.com/newsrank/backend/internal/storage/models"
	"github.com/newsrank/backend/pkg/logger"
)

// RelationSeed is one lateral edge between instruments.
type RelationSeed struct {
	From     string `json:"from"`
	Relation string `json:"relation"`
	To       string `json:"to"`
}

// SeedFile is the startup graph seed: lateral instrument relations plus
// benchmark constituent lists keyed by benchmark id.
type SeedFile struct {
	Relations  []RelationSeed      `json:"relations"`
	Benchmarks map[string][]string `json:"benchmarks"`
}

var validRelations = map[string]bool{
	"COMPETES_WITH": true,
	"SUPPLIES":      true,
	"PEER_OF":       true,
}

// Builder maintains the relationship graph outside the per-document ingest
// path: profile sync, lateral relation seeding, benchmark membership.
type Builder struct {
	graph *neo4j.Client
}

func NewBuilder(graph *neo4j.Client) *Builder {
	return &Builder{graph: graph}
}

// SyncProfile mirrors a client profile into the graph so traversal can start
// from its holdings, watchlist and benchmark.
func (b *Builder) SyncProfile(ctx context.Context, profile *models.ClientProfile) error {
	if err := b.graph.MergeClient(ctx, profile); err != nil {
		return fmt.Errorf("failed to sync client into graph: %w", err)
	}

	logger.Info("Client profile synced into graph",
		zap.String("client_id", profile.ID),
		zap.Int("holdings", len(profile.Holdings)),
		zap.Int("watchlist", len(profile.Watchlist)),
	)
	return nil
}

// SeedRelations merges lateral instrument edges. Unknown relation types are
// skipped with a warning rather than failing the batch.
func (b *Builder) SeedRelations(ctx context.Context, seeds []RelationSeed) error {
	merged := 0
	for _, seed := range seeds {
		if !validRelations[seed.Relation] {
			logger.Warn("Skipping unknown relation type",
				zap.String("relation", seed.Relation),
				zap.String("from", seed.From),
			)
			continue
		}
		if err := b.graph.MergeInstrumentRelation(ctx, seed.From, seed.Relation, seed.To); err != nil {
			return fmt.Errorf("failed to merge relation %s-[%s]->%s: %w", seed.From, seed.Relation, seed.To, err)
		}
		merged++
	}

	logger.Info("Instrument relations seeded", zap.Int("merged", merged), zap.Int("skipped", len(seeds)-merged))
	return nil
}

// SeedBenchmarks merges benchmark nodes and their CONSTITUENT edges.
func (b *Builder) SeedBenchmarks(ctx context.Context, benchmarks map[string][]string) error {
	for id, tickers := range benchmarks {
		if err := b.graph.MergeBenchmark(ctx, id, tickers); err != nil {
			return fmt.Errorf("failed to merge benchmark %s: %w", id, err)
		}
	}

	logger.Info("Benchmarks seeded", zap.Int("count", len(benchmarks)))
	return nil
}

// SeedFromFile loads the JSON seed file and applies it. A missing path is a
// no-op so fresh deployments can start with an empty graph.
func (b *Builder) SeedFromFile(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read seed file: %w", err)
	}

	var seed SeedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("failed to parse seed file: %w", err)
	}

	if err := b.SeedRelations(ctx, seed.Relations); err != nil {
		return err
	}
	return b.SeedBenchmarks(ctx, seed.Benchmarks)
}

package neo4j

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/newsrank/backend/internal/storage/models"
	"github.com/newsrank/backend/pkg/circuitbreaker"
	"github.com/newsrank/backend/pkg/logger"
	"github.com/newsrank/backend/pkg/retry"
)

// Client is the relationship-graph store. Nodes are Client, Instrument,
// Benchmark, and Document; edges are HOLDS, WATCHES, COMPETES_WITH, SUPPLIES,
// PEER_OF, CONSTITUENT, and AFFECTS.
type Client struct {
	driver      neo4j.DriverWithContext
	database    string
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewClient(uri, username, password, database string) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(
		uri,
		neo4j.BasicAuth(username, password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	ctx := context.Background()
	err = driver.VerifyConnectivity(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to verify connectivity: %w", err)
	}

	cb := circuitbreaker.NewCircuitBreaker("neo4j", circuitbreaker.Config{
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          20 * time.Second,
		FailureThreshold: 5,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       3 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("Neo4j client initialized", zap.String("uri", uri))

	return &Client{
		driver:      driver,
		database:    database,
		cb:          cb,
		retryConfig: retryConfig,
	}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

func (c *Client) executeWithRetry(ctx context.Context, operation func(neo4j.SessionWithContext) error) error {
	return c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			session := c.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: c.database})
			defer session.Close(ctx)
			return operation(session)
		})
	})
}

var relationReasons = map[string]models.MatchReason{
	"HOLDS":         models.ReasonDirectHolding,
	"WATCHES":       models.ReasonWatchlist,
	"COMPETES_WITH": models.ReasonCompetitor,
	"SUPPLIES":      models.ReasonSupplyChain,
	"PEER_OF":       models.ReasonPeer,
	"BENCHMARK":     models.ReasonBenchmark,
}

// Traverse walks the relationship graph from the client out to documents,
// bounded by the hop limit. Recency and partition filters live inside the
// Cypher WHERE clauses so the result set is bounded at the source. Each row
// is one relationship path; rows are aggregated per document, and the row
// count per document is its influence count.
func (c *Client) Traverse(ctx context.Context, clientID, benchmark string, hopLimit int, partitions []string, since time.Time) ([]models.Candidate, error) {
	query := `
		MATCH (c:Client {id: $client_id})-[r:HOLDS|WATCHES]->(i:Instrument)<-[:AFFECTS]-(d:Document)
		WHERE d.created_at >= $since AND d.partition IN $partitions
		RETURN d.id AS doc_id, type(r) AS relation, i.ticker AS ticker, 1 AS hops
	`

	if hopLimit >= 2 {
		query += `
		UNION ALL
		MATCH (c:Client {id: $client_id})-[:HOLDS]->(:Instrument)-[r:COMPETES_WITH|SUPPLIES|PEER_OF]-(i:Instrument)<-[:AFFECTS]-(d:Document)
		WHERE d.created_at >= $since AND d.partition IN $partitions
		RETURN d.id AS doc_id, type(r) AS relation, i.ticker AS ticker, 2 AS hops
	`
		if benchmark != "" {
			query += `
		UNION ALL
		MATCH (b:Benchmark {id: $benchmark})-[:CONSTITUENT]->(i:Instrument)<-[:AFFECTS]-(d:Document)
		WHERE d.created_at >= $since AND d.partition IN $partitions
		RETURN d.id AS doc_id, 'BENCHMARK' AS relation, i.ticker AS ticker, 2 AS hops
	`
		}
	}

	params := map[string]interface{}{
		"client_id":  clientID,
		"benchmark":  benchmark,
		"since":      since.Unix(),
		"partitions": partitions,
	}

	byDoc := make(map[string]*models.Candidate)
	var order []string

	err := c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		result, err := session.Run(ctx, query, params)
		if err != nil {
			return fmt.Errorf("failed to traverse graph: %w", err)
		}

		for result.Next(ctx) {
			record := result.Record()

			docID, _ := record.Get("doc_id")
			relation, _ := record.Get("relation")
			ticker, _ := record.Get("ticker")
			hops, _ := record.Get("hops")

			id := docID.(string)
			candidate, ok := byDoc[id]
			if !ok {
				candidate = &models.Candidate{DocumentID: id, HopDistance: int(hops.(int64))}
				byDoc[id] = candidate
				order = append(order, id)
			}

			if reason, ok := relationReasons[relation.(string)]; ok {
				candidate.AddReason(reason)
			}
			if h := int(hops.(int64)); h < candidate.HopDistance {
				candidate.HopDistance = h
			}
			candidate.InfluenceCount++

			if t, ok := ticker.(string); ok {
				candidate.Tickers = appendUnique(candidate.Tickers, t)
			}
		}

		return result.Err()
	})
	if err != nil {
		return nil, err
	}

	candidates := make([]models.Candidate, 0, len(order))
	for _, id := range order {
		candidates = append(candidates, *byDoc[id])
	}

	logger.Debug("Graph traversal completed",
		zap.String("client_id", clientID),
		zap.Int("documents", len(candidates)),
	)

	return candidates, nil
}

// MergeClient creates or refreshes the client node and its HOLDS/WATCHES
// edges from the profile.
func (c *Client) MergeClient(ctx context.Context, profile *models.ClientProfile) error {
	return c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		_, err := session.Run(ctx, `
			MERGE (c:Client {id: $id})
			WITH c
			OPTIONAL MATCH (c)-[r:HOLDS|WATCHES]->()
			DELETE r
		`, map[string]interface{}{"id": profile.ID})
		if err != nil {
			return fmt.Errorf("failed to merge client: %w", err)
		}

		for _, h := range profile.Holdings {
			_, err := session.Run(ctx, `
				MATCH (c:Client {id: $id})
				MERGE (i:Instrument {ticker: $ticker})
				MERGE (c)-[r:HOLDS]->(i)
				SET r.weight = $weight
			`, map[string]interface{}{"id": profile.ID, "ticker": h.Ticker, "weight": h.Weight})
			if err != nil {
				return fmt.Errorf("failed to merge holding %s: %w", h.Ticker, err)
			}
		}

		for _, w := range profile.Watchlist {
			_, err := session.Run(ctx, `
				MATCH (c:Client {id: $id})
				MERGE (i:Instrument {ticker: $ticker})
				MERGE (c)-[:WATCHES]->(i)
			`, map[string]interface{}{"id": profile.ID, "ticker": w.Ticker})
			if err != nil {
				return fmt.Errorf("failed to merge watch item %s: %w", w.Ticker, err)
			}
		}

		return nil
	})
}

// LinkDocument creates the document node and its AFFECTS edges.
func (c *Client) LinkDocument(ctx context.Context, doc *models.Document) error {
	return c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		for _, instrument := range doc.Instruments {
			_, err := session.Run(ctx, `
				MERGE (i:Instrument {ticker: $ticker})
				MERGE (d:Document {id: $doc_id})
				SET d.created_at = $created_at,
				    d.partition = $partition,
				    d.event_type = $event_type,
				    d.impact_tier = $impact_tier
				MERGE (d)-[a:AFFECTS]->(i)
				SET a.direction = $direction,
				    a.magnitude = $magnitude
			`, map[string]interface{}{
				"ticker":      instrument.Ticker,
				"doc_id":      doc.ID,
				"created_at":  doc.CreatedAt.Unix(),
				"partition":   doc.Partition,
				"event_type":  doc.EventType,
				"impact_tier": doc.ImpactTier.String(),
				"direction":   instrument.Direction,
				"magnitude":   instrument.Magnitude,
			})
			if err != nil {
				return fmt.Errorf("failed to link document to %s: %w", instrument.Ticker, err)
			}
		}
		return nil
	})
}

// MergeInstrumentRelation seeds a lateral edge between two instruments.
func (c *Client) MergeInstrumentRelation(ctx context.Context, from, relation, to string) error {
	switch relation {
	case "COMPETES_WITH", "SUPPLIES", "PEER_OF":
	default:
		return fmt.Errorf("unknown instrument relation: %s", relation)
	}

	return c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		_, err := session.Run(ctx, fmt.Sprintf(`
			MERGE (a:Instrument {ticker: $from})
			MERGE (b:Instrument {ticker: $to})
			MERGE (a)-[:%s]->(b)
		`, relation), map[string]interface{}{"from": from, "to": to})
		if err != nil {
			return fmt.Errorf("failed to merge relation: %w", err)
		}
		return nil
	})
}

// MergeBenchmark seeds a benchmark and its constituent edges.
func (c *Client) MergeBenchmark(ctx context.Context, benchmarkID string, tickers []string) error {
	return c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		for _, ticker := range tickers {
			_, err := session.Run(ctx, `
				MERGE (b:Benchmark {id: $id})
				MERGE (i:Instrument {ticker: $ticker})
				MERGE (b)-[:CONSTITUENT]->(i)
			`, map[string]interface{}{"id": benchmarkID, "ticker": ticker})
			if err != nil {
				return fmt.Errorf("failed to merge benchmark constituent %s: %w", ticker, err)
			}
		}
		return nil
	})
}

func appendUnique(values []string, value string) []string {
	for _, v := range values {
		if v == value {
			return values
		}
	}
	return append(values, value)
}

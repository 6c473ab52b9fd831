package milvus

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/newsrank/backend/internal/storage/models"
	"github.com/newsrank/backend/pkg/logger"
	"github.com/newsrank/backend/pkg/retry"
)

// Client indexes document embeddings. Vectors are L2-normalized on insert and
// search, so the IP metric yields cosine similarity directly; both the
// ranking channel and the near-duplicate lookup depend on that.
type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
	retryConfig    retry.Config
}

type IndexedDocument struct {
	ID        string
	Embedding []float32
	Partition string
	EventType string
	Themes    []string
	CreatedAt time.Time
}

func NewClient(endpoint, apiKey, collectionName string, vectorDim int) (*Client, error) {
	c, err := client.NewGrpcClient(
		context.Background(),
		endpoint,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
		retryConfig: retry.Config{
			MaxAttempts:    2,
			InitialDelay:   100 * time.Millisecond,
			MaxDelay:       time.Second,
			Multiplier:     2.0,
			JitterFraction: 0.1,
			Logger:         logger.GetLogger(),
		},
	}, nil
}

func (m *Client) Close() error {
	return m.client.Close()
}

func (m *Client) CreateCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if has {
		logger.Info("Collection already exists", zap.String("collection", m.collectionName))
		return nil
	}

	schema := &entity.Schema{
		CollectionName: m.collectionName,
		Description:    "Financial news document embeddings",
		Fields: []*entity.Field{
			{
				Name:       "doc_id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "embedding",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", m.vectorDim),
				},
			},
			{
				Name:     "doc_partition",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "event_type",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "themes",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "1024",
				},
			},
			{
				Name:     "created_at",
				DataType: entity.FieldTypeInt64,
			},
		},
	}

	err = m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.IP, 1024)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	err = m.client.CreateIndex(ctx, m.collectionName, "embedding", idx, false)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	err = m.client.LoadCollection(ctx, m.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", m.collectionName))

	return nil
}

func (m *Client) Insert(ctx context.Context, doc IndexedDocument) error {
	if len(doc.Embedding) == 0 {
		return nil
	}

	_, err := m.client.Insert(
		ctx,
		m.collectionName,
		"",
		entity.NewColumnVarChar("doc_id", []string{doc.ID}),
		entity.NewColumnFloatVector("embedding", m.vectorDim, [][]float32{Normalize(doc.Embedding)}),
		entity.NewColumnVarChar("doc_partition", []string{doc.Partition}),
		entity.NewColumnVarChar("event_type", []string{doc.EventType}),
		entity.NewColumnVarChar("themes", []string{strings.Join(doc.Themes, ",")}),
		entity.NewColumnInt64("created_at", []int64{doc.CreatedAt.Unix()}),
	)
	if err != nil {
		return fmt.Errorf("failed to insert embedding: %w", err)
	}

	err = m.client.Flush(ctx, m.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Debug("Embedding indexed", zap.String("doc_id", doc.ID))

	return nil
}

// Nearest returns the top-k most similar recent, in-partition documents.
func (m *Client) Nearest(ctx context.Context, embedding []float32, k int, partitions []string, since time.Time) ([]models.Candidate, error) {
	expr := fmt.Sprintf("created_at >= %d", since.Unix())
	if len(partitions) > 0 {
		quoted := make([]string, len(partitions))
		for i, p := range partitions {
			quoted[i] = fmt.Sprintf("%q", p)
		}
		expr += fmt.Sprintf(" && doc_partition in [%s]", strings.Join(quoted, ", "))
	}

	hits, err := m.search(ctx, embedding, k, expr)
	if err != nil {
		return nil, err
	}

	candidates := make([]models.Candidate, 0, len(hits))
	for _, hit := range hits {
		candidates = append(candidates, models.Candidate{
			DocumentID: hit.docID,
			Similarity: hit.similarity,
		})
	}

	logger.Debug("Vector search completed",
		zap.Int("topK", k),
		zap.Int("results", len(candidates)),
	)

	return candidates, nil
}

// NearDuplicate returns the closest indexed document within the window. It is
// the third tier of the duplicate detector and is not partition-scoped:
// duplicates are duplicates regardless of who may read them.
func (m *Client) NearDuplicate(ctx context.Context, embedding []float32, since time.Time) (string, float64, error) {
	expr := fmt.Sprintf("created_at >= %d", since.Unix())

	hits, err := m.search(ctx, embedding, 1, expr)
	if err != nil {
		return "", 0, err
	}
	if len(hits) == 0 {
		return "", 0, nil
	}

	return hits[0].docID, hits[0].similarity, nil
}

type searchHit struct {
	docID      string
	similarity float64
}

func (m *Client) search(ctx context.Context, embedding []float32, k int, expr string) ([]searchHit, error) {
	sp, _ := entity.NewIndexIvfFlatSearchParam(16)

	return retry.DoWithResult(ctx, m.retryConfig, func() ([]searchHit, error) {
		searchResult, err := m.client.Search(
			ctx,
			m.collectionName,
			[]string{},
			expr,
			[]string{"doc_id"},
			[]entity.Vector{entity.FloatVector(Normalize(embedding))},
			"embedding",
			entity.IP,
			k,
			sp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to search: %w", err)
		}

		var hits []searchHit
		for _, sr := range searchResult {
			idCol := sr.Fields.GetColumn("doc_id")
			for i := 0; i < sr.ResultCount; i++ {
				docID, err := idCol.Get(i)
				if err != nil {
					continue
				}
				hits = append(hits, searchHit{
					docID:      docID.(string),
					similarity: float64(sr.Scores[i]),
				})
			}
		}

		return hits, nil
	})
}

// Normalize scales a vector to unit length so IP distance equals cosine
// similarity. Zero vectors are returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}

	norm := float32(math.Sqrt(sum))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

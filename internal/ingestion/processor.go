package ingestion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"github.com/newsrank/backend/internal/dedup"
	"github.com/newsrank/backend/internal/feed"
	"github.com/newsrank/backend/internal/metrics"
	"github.com/newsrank/backend/internal/storage/models"
	"github.com/newsrank/backend/internal/vector/milvus"
	"github.com/newsrank/backend/pkg/logger"
)

// DocumentStore persists drafts and resolves duplicate linkage targets.
type DocumentStore interface {
	InsertDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
}

// VectorWriter indexes an original's embedding for retrieval and near-dup
// lookup.
type VectorWriter interface {
	Insert(ctx context.Context, doc milvus.IndexedDocument) error
}

// GraphLinker attaches an original to the instruments it affects.
type GraphLinker interface {
	LinkDocument(ctx context.Context, doc *models.Document) error
}

// Extractor is the language-model side of the pipeline.
type Extractor interface {
	ExtractEventFacts(ctx context.Context, title, content string) (*models.EventFacts, error)
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// Draft is an incoming raw document before extraction and dedup.
type Draft struct {
	Title     string
	Content   string
	Partition string
	Timestamp time.Time
}

// Processor runs the ingest pipeline: clean, extract, deduplicate, persist,
// index, link. The duplicate check happens synchronously before any write to
// the document store.
type Processor struct {
	db          DocumentStore
	vectors     VectorWriter
	graph       GraphLinker
	llmClient   Extractor
	detector    *dedup.Detector
	broadcaster *feed.Broadcaster
}

func NewProcessor(db DocumentStore, vectors VectorWriter, graph GraphLinker, llmClient Extractor, detector *dedup.Detector, broadcaster *feed.Broadcaster) *Processor {
	return &Processor{
		db:          db,
		vectors:     vectors,
		graph:       graph,
		llmClient:   llmClient,
		detector:    detector,
		broadcaster: broadcaster,
	}
}

func (p *Processor) ProcessDocument(ctx context.Context, draft Draft) (*models.Document, error) {
	if draft.Timestamp.IsZero() {
		draft.Timestamp = time.Now().UTC()
	}

	content := draft.Content
	if strings.Contains(content, "<") {
		if cleaned := cleanHTML(content); cleaned != "" {
			content = cleaned
		}
	}
	if content == "" {
		return nil, fmt.Errorf("no content in draft")
	}

	docID := uuid.New().String()
	logger.Info("Processing document",
		zap.String("doc_id", docID),
		zap.String("title", draft.Title),
		zap.String("partition", draft.Partition),
	)

	facts, err := p.llmClient.ExtractEventFacts(ctx, draft.Title, content)
	if err != nil {
		return nil, fmt.Errorf("failed to extract event facts: %w", err)
	}

	entities := extractEntities(content)

	// The embedding is optional everywhere downstream, so its failure only
	// costs the semantic dedup tier and vector retrieval for this document.
	embedding, err := p.llmClient.GenerateEmbedding(ctx, draft.Title+"\n"+content)
	if err != nil {
		logger.Warn("Embedding generation failed, continuing without", zap.String("doc_id", docID), zap.Error(err))
		metrics.EmbeddingFailures.Inc()
		embedding = nil
	}

	tickers := make([]string, 0, len(facts.Instruments))
	for _, instrument := range facts.Instruments {
		tickers = append(tickers, instrument.Ticker)
	}

	result, err := p.detector.Check(ctx, dedup.Draft{
		ID:        docID,
		Title:     draft.Title,
		Content:   content,
		Tickers:   tickers,
		EventType: facts.EventType,
		Timestamp: draft.Timestamp,
		Embedding: embedding,
	})
	if err != nil {
		return nil, fmt.Errorf("duplicate check failed: %w", err)
	}

	doc := &models.Document{
		ID:          docID,
		Title:       draft.Title,
		Body:        content,
		ContentHash: dedup.HashContent(content),
		Fingerprint: dedup.Fingerprint(tickers, facts.EventType, draft.Timestamp),
		Embedding:   embedding,
		ImpactScore: facts.ImpactScore,
		ImpactTier:  models.ParseImpactTier(facts.ImpactTier),
		EventType:   facts.EventType,
		Instruments: facts.Instruments,
		Entities:    entities,
		Themes:      facts.Themes,
		Sectors:     facts.Sectors,
		Partition:   draft.Partition,
		CreatedAt:   draft.Timestamp,
	}

	if result.IsDuplicate {
		// Always link to the canonical original, never to another duplicate,
		// so linkage stays one level deep.
		canonical := result.DuplicateOf
		if prior, err := p.db.GetDocument(ctx, canonical); err == nil && prior.IsDuplicate() {
			canonical = prior.DuplicateOf
		}
		doc.DuplicateOf = canonical
		doc.DuplicateScore = result.Score
		doc.DuplicateMethod = result.Method
	}

	if err := p.db.InsertDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to persist document: %w", err)
	}

	if result.IsDuplicate {
		metrics.DocumentsIngested.WithLabelValues("duplicate").Inc()
		logger.Info("Duplicate stored and linked",
			zap.String("doc_id", docID),
			zap.String("duplicate_of", result.DuplicateOf),
			zap.String("method", result.Method),
		)
		return doc, nil
	}

	// Only originals are indexed and linked: duplicates must not add
	// retrieval surface or influence paths.
	if len(embedding) > 0 {
		err = p.vectors.Insert(ctx, milvus.IndexedDocument{
			ID:        doc.ID,
			Embedding: embedding,
			Partition: doc.Partition,
			EventType: doc.EventType,
			Themes:    doc.Themes,
			CreatedAt: doc.CreatedAt,
		})
		if err != nil {
			logger.Warn("Failed to index embedding", zap.String("doc_id", docID), zap.Error(err))
		}
	}

	if err := p.graph.LinkDocument(ctx, doc); err != nil {
		logger.Warn("Failed to link document in graph", zap.String("doc_id", docID), zap.Error(err))
	}

	metrics.DocumentsIngested.WithLabelValues("original").Inc()

	p.broadcaster.Publish(feed.Event{
		DocumentID: doc.ID,
		Title:      doc.Title,
		EventType:  doc.EventType,
		ImpactTier: doc.ImpactTier.String(),
		Partition:  doc.Partition,
		Tickers:    tickers,
	})

	logger.Info("Document processed",
		zap.String("doc_id", docID),
		zap.String("tier", doc.ImpactTier.String()),
		zap.Int("instruments", len(doc.Instruments)),
	)

	return doc, nil
}

// CheckDuplicate runs only the detector, for callers that want the verdict
// before deciding to persist. Extraction still runs because the fingerprint
// tier needs tickers and an event type.
func (p *Processor) CheckDuplicate(ctx context.Context, draft Draft) (dedup.Result, error) {
	content := draft.Content
	if strings.Contains(content, "<") {
		if cleaned := cleanHTML(content); cleaned != "" {
			content = cleaned
		}
	}
	if draft.Timestamp.IsZero() {
		draft.Timestamp = time.Now().UTC()
	}

	facts, err := p.llmClient.ExtractEventFacts(ctx, draft.Title, content)
	if err != nil {
		return dedup.Result{}, fmt.Errorf("failed to extract event facts: %w", err)
	}

	tickers := make([]string, 0, len(facts.Instruments))
	for _, instrument := range facts.Instruments {
		tickers = append(tickers, instrument.Ticker)
	}

	embedding, err := p.llmClient.GenerateEmbedding(ctx, draft.Title+"\n"+content)
	if err != nil {
		embedding = nil
	}

	return p.detector.Probe(ctx, dedup.Draft{
		ID:        uuid.New().String(),
		Title:     draft.Title,
		Content:   content,
		Tickers:   tickers,
		EventType: facts.EventType,
		Timestamp: draft.Timestamp,
		Embedding: embedding,
	})
}

func cleanHTML(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	doc.Find("script, style, nav, footer, header, aside").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})

	text := doc.Find("body").Text()
	return strings.Join(strings.Fields(text), " ")
}

// extractEntities pulls mentioned organizations and people out of the text.
// Purely lexical; the authoritative instrument list comes from the
// extraction model.
func extractEntities(text string) []string {
	if len(text) > 10000 {
		text = text[:10000]
	}

	doc, err := prose.NewDocument(text)
	if err != nil {
		logger.Warn("Entity extraction failed", zap.Error(err))
		return nil
	}

	seen := make(map[string]bool)
	var entities []string
	for _, ent := range doc.Entities() {
		if ent.Label != "ORGANIZATION" && ent.Label != "PERSON" && ent.Label != "GPE" {
			continue
		}
		name := strings.TrimSpace(ent.Text)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		entities = append(entities, name)
	}

	return entities
}

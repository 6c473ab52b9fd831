package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/newsrank/backend/internal/storage/models"
	"github.com/newsrank/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		body TEXT,
		content_hash TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		impact_score INTEGER NOT NULL,
		impact_tier TEXT NOT NULL,
		event_type TEXT,
		instruments TEXT,
		entities TEXT,
		themes TEXT,
		sectors TEXT,
		doc_partition TEXT NOT NULL,
		duplicate_of TEXT,
		duplicate_score REAL,
		duplicate_method TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_created ON documents(created_at);
	CREATE INDEX IF NOT EXISTS idx_documents_partition ON documents(doc_partition);
	CREATE INDEX IF NOT EXISTS idx_documents_hash ON documents(content_hash);

	CREATE TABLE IF NOT EXISTS client_profiles (
		id TEXT PRIMARY KEY,
		mandate_type TEXT,
		mandate_description TEXT,
		mandate_themes TEXT,
		mandate_embedding TEXT,
		benchmark TEXT,
		horizon TEXT,
		exclusions TEXT,
		impact_threshold INTEGER DEFAULT 0,
		default_bias REAL DEFAULT 0.5,
		holdings TEXT,
		watchlist TEXT,
		partitions TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rank_history (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		bias REAL NOT NULL,
		result_limit INTEGER,
		window_hours INTEGER,
		returned INTEGER,
		top_score REAL,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_rank_client ON rank_history(client_id);
	CREATE INDEX IF NOT EXISTS idx_rank_created ON rank_history(created_at);

	CREATE TABLE IF NOT EXISTS feedback (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		rank_id TEXT NOT NULL,
		client_id TEXT NOT NULL,
		helpful INTEGER NOT NULL,
		comment TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (rank_id) REFERENCES rank_history(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_rank ON feedback(rank_id);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// InsertDocument appends a document. Documents are immutable; the duplicate
// linkage fields are attached by the detector before this write, so there is
// no update path.
func (c *Client) InsertDocument(ctx context.Context, doc *models.Document) error {
	instruments, _ := json.Marshal(doc.Instruments)
	entities, _ := json.Marshal(doc.Entities)
	themes, _ := json.Marshal(doc.Themes)
	sectors, _ := json.Marshal(doc.Sectors)

	query := `
		INSERT INTO documents (id, title, body, content_hash, fingerprint, impact_score, impact_tier,
			event_type, instruments, entities, themes, sectors, doc_partition,
			duplicate_of, duplicate_score, duplicate_method, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.ExecContext(ctx, query,
		doc.ID,
		doc.Title,
		doc.Body,
		doc.ContentHash,
		doc.Fingerprint,
		doc.ImpactScore,
		doc.ImpactTier.String(),
		doc.EventType,
		string(instruments),
		string(entities),
		string(themes),
		string(sectors),
		doc.Partition,
		doc.DuplicateOf,
		doc.DuplicateScore,
		doc.DuplicateMethod,
		doc.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}

	logger.Debug("Document inserted", zap.String("doc_id", doc.ID), zap.String("tier", doc.ImpactTier.String()))
	return nil
}

const documentColumns = `id, title, body, content_hash, fingerprint, impact_score, impact_tier,
	event_type, instruments, entities, themes, sectors, doc_partition,
	duplicate_of, duplicate_score, duplicate_method, created_at`

func scanDocument(scan func(dest ...interface{}) error) (*models.Document, error) {
	var doc models.Document
	var tier string
	var instruments, entities, themes, sectors string
	var duplicateOf, duplicateMethod sql.NullString
	var duplicateScore sql.NullFloat64
	var createdAt int64

	err := scan(
		&doc.ID,
		&doc.Title,
		&doc.Body,
		&doc.ContentHash,
		&doc.Fingerprint,
		&doc.ImpactScore,
		&tier,
		&doc.EventType,
		&instruments,
		&entities,
		&themes,
		&sectors,
		&doc.Partition,
		&duplicateOf,
		&duplicateScore,
		&duplicateMethod,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	doc.ImpactTier = models.ParseImpactTier(tier)
	doc.DuplicateOf = duplicateOf.String
	doc.DuplicateScore = duplicateScore.Float64
	doc.DuplicateMethod = duplicateMethod.String
	doc.CreatedAt = time.Unix(createdAt, 0).UTC()

	json.Unmarshal([]byte(instruments), &doc.Instruments)
	json.Unmarshal([]byte(entities), &doc.Entities)
	json.Unmarshal([]byte(themes), &doc.Themes)
	json.Unmarshal([]byte(sectors), &doc.Sectors)

	return &doc, nil
}

func (c *Client) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row.Scan)
	if err != nil {
		return nil, fmt.Errorf("failed to get document %s: %w", id, err)
	}
	return doc, nil
}

// GetDocumentsByIDs fetches a batch of documents keyed by id. Missing ids are
// silently absent from the result.
func (c *Client) GetDocumentsByIDs(ctx context.Context, ids []string) (map[string]*models.Document, error) {
	docs := make(map[string]*models.Document, len(ids))
	if len(ids) == 0 {
		return docs, nil
	}

	placeholders := strings.Repeat("?,", len(ids)-1) + "?"
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get documents: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		doc, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs[doc.ID] = doc
	}

	return docs, rows.Err()
}

// FindRecentByThemes returns recent in-partition documents tagged with any of
// the given themes, newest first. This is the always-on half of the vector
// channel.
func (c *Client) FindRecentByThemes(ctx context.Context, themes, partitions []string, since time.Time, limit int) ([]*models.Document, error) {
	if len(themes) == 0 || len(partitions) == 0 {
		return nil, nil
	}

	var conditions []string
	var args []interface{}

	themeClauses := make([]string, 0, len(themes))
	for _, theme := range themes {
		themeClauses = append(themeClauses, "themes LIKE ?")
		args = append(args, `%"`+theme+`"%`)
	}
	conditions = append(conditions, "("+strings.Join(themeClauses, " OR ")+")")

	partPlaceholders := strings.Repeat("?,", len(partitions)-1) + "?"
	conditions = append(conditions, "doc_partition IN ("+partPlaceholders+")")
	for _, p := range partitions {
		args = append(args, p)
	}

	conditions = append(conditions, "created_at >= ?")
	args = append(args, since.Unix())
	args = append(args, limit)

	query := `SELECT ` + documentColumns + ` FROM documents WHERE ` +
		strings.Join(conditions, " AND ") + ` ORDER BY created_at DESC LIMIT ?`

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find documents by themes: %w", err)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}

	return docs, rows.Err()
}

func (c *Client) UpsertClientProfile(ctx context.Context, profile *models.ClientProfile) error {
	mandateThemes, _ := json.Marshal(profile.MandateThemes)
	mandateEmbedding, _ := json.Marshal(profile.MandateEmbedding)
	exclusions, _ := json.Marshal(profile.Exclusions)
	holdings, _ := json.Marshal(profile.Holdings)
	watchlist, _ := json.Marshal(profile.Watchlist)
	partitions, _ := json.Marshal(profile.Partitions)

	query := `
		INSERT INTO client_profiles (id, mandate_type, mandate_description, mandate_themes,
			mandate_embedding, benchmark, horizon, exclusions, impact_threshold, default_bias,
			holdings, watchlist, partitions, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			mandate_type = excluded.mandate_type,
			mandate_description = excluded.mandate_description,
			mandate_themes = excluded.mandate_themes,
			mandate_embedding = excluded.mandate_embedding,
			benchmark = excluded.benchmark,
			horizon = excluded.horizon,
			exclusions = excluded.exclusions,
			impact_threshold = excluded.impact_threshold,
			default_bias = excluded.default_bias,
			holdings = excluded.holdings,
			watchlist = excluded.watchlist,
			partitions = excluded.partitions
	`

	_, err := c.db.ExecContext(ctx, query,
		profile.ID,
		profile.MandateType,
		profile.MandateDescription,
		string(mandateThemes),
		string(mandateEmbedding),
		profile.Benchmark,
		profile.Horizon,
		string(exclusions),
		profile.ImpactThreshold,
		profile.DefaultBias,
		string(holdings),
		string(watchlist),
		string(partitions),
		profile.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert client profile: %w", err)
	}

	return nil
}

func (c *Client) GetClientProfile(ctx context.Context, id string) (*models.ClientProfile, error) {
	query := `
		SELECT id, mandate_type, mandate_description, mandate_themes, mandate_embedding,
			benchmark, horizon, exclusions, impact_threshold, default_bias,
			holdings, watchlist, partitions, created_at
		FROM client_profiles WHERE id = ?
	`

	var p models.ClientProfile
	var mandateThemes, mandateEmbedding, exclusions, holdings, watchlist, partitions string
	var createdAt int64

	err := c.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID,
		&p.MandateType,
		&p.MandateDescription,
		&mandateThemes,
		&mandateEmbedding,
		&p.Benchmark,
		&p.Horizon,
		&exclusions,
		&p.ImpactThreshold,
		&p.DefaultBias,
		&holdings,
		&watchlist,
		&partitions,
		&createdAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, models.ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to get client profile: %w", err)
	}

	json.Unmarshal([]byte(mandateThemes), &p.MandateThemes)
	json.Unmarshal([]byte(mandateEmbedding), &p.MandateEmbedding)
	json.Unmarshal([]byte(exclusions), &p.Exclusions)
	json.Unmarshal([]byte(holdings), &p.Holdings)
	json.Unmarshal([]byte(watchlist), &p.Watchlist)
	json.Unmarshal([]byte(partitions), &p.Partitions)
	p.CreatedAt = time.Unix(createdAt, 0).UTC()

	return &p, nil
}

func (c *Client) InsertRankRecord(ctx context.Context, record *models.RankRecord) error {
	query := `
		INSERT INTO rank_history (id, client_id, bias, result_limit, window_hours, returned, top_score, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.ExecContext(ctx, query,
		record.ID,
		record.ClientID,
		record.Bias,
		record.Limit,
		record.WindowHours,
		record.Returned,
		record.TopScore,
		record.LatencyMS,
		record.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert rank record: %w", err)
	}

	return nil
}

func (c *Client) StoreFeedback(ctx context.Context, fb *models.Feedback) error {
	helpful := 0
	if fb.Helpful {
		helpful = 1
	}

	_, err := c.db.ExecContext(ctx,
		`INSERT INTO feedback (rank_id, client_id, helpful, comment, created_at) VALUES (?, ?, ?, ?, ?)`,
		fb.RankID, fb.ClientID, helpful, fb.Comment, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to store feedback: %w", err)
	}

	logger.Info("Feedback stored", zap.String("rank_id", fb.RankID), zap.Bool("helpful", fb.Helpful))
	return nil
}

// RankFeedbackRow joins a rank request with one feedback verdict; the
// evaluator aggregates these into the feed quality report.
type RankFeedbackRow struct {
	Bias     float64
	Helpful  bool
	TopScore float64
}

func (c *Client) GetRankFeedback(ctx context.Context, since time.Time) ([]RankFeedbackRow, error) {
	query := `
		SELECT r.bias, f.helpful, r.top_score
		FROM feedback f
		JOIN rank_history r ON r.id = f.rank_id
		WHERE f.created_at >= ?
	`

	rows, err := c.db.QueryContext(ctx, query, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to get rank feedback: %w", err)
	}
	defer rows.Close()

	var out []RankFeedbackRow
	for rows.Next() {
		var row RankFeedbackRow
		var helpful int
		if err := rows.Scan(&row.Bias, &helpful, &row.TopScore); err != nil {
			return nil, fmt.Errorf("failed to scan feedback row: %w", err)
		}
		row.Helpful = helpful == 1
		out = append(out, row)
	}

	return out, rows.Err()
}

// CountDocuments reports totals used by the evaluation report.
func (c *Client) CountDocuments(ctx context.Context, since time.Time) (total, duplicates int, err error) {
	err = c.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN duplicate_of != '' AND duplicate_of IS NOT NULL THEN 1 ELSE 0 END), 0)
		 FROM documents WHERE created_at >= ?`, since.Unix(),
	).Scan(&total, &duplicates)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return total, duplicates, nil
}

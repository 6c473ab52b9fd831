package evaluation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/newsrank/backend/internal/storage/sqlite"
	"github.com/newsrank/backend/pkg/logger"
)

// BiasBucket aggregates feedback for rank requests whose bias fell in
// [Low, High).
type BiasBucket struct {
	Low          float64 `json:"low"`
	High         float64 `json:"high"`
	Requests     int     `json:"requests"`
	Helpful      int     `json:"helpful"`
	HelpfulRate  float64 `json:"helpful_rate"`
	AvgTopScore  float64 `json:"avg_top_score"`
}

// Report summarizes feed quality over a window: how often clients marked
// ranked items helpful per bias bucket, and how much of the ingested stream
// was duplicate.
type Report struct {
	WindowHours    int          `json:"window_hours"`
	TotalFeedback  int          `json:"total_feedback"`
	HelpfulRate    float64      `json:"helpful_rate"`
	BiasBuckets    []BiasBucket `json:"bias_buckets"`
	TotalDocuments int          `json:"total_documents"`
	Duplicates     int          `json:"duplicates"`
	DuplicateRate  float64      `json:"duplicate_rate"`
	GeneratedAt    time.Time    `json:"generated_at"`
}

type Evaluator struct {
	db *sqlite.Client
}

func NewEvaluator(db *sqlite.Client) *Evaluator {
	return &Evaluator{db: db}
}

const bucketCount = 4

// BuildReport aggregates rank feedback and ingest duplicate counts over the
// trailing window.
func (e *Evaluator) BuildReport(ctx context.Context, windowHours int) (*Report, error) {
	if windowHours <= 0 {
		windowHours = 24 * 7
	}
	since := time.Now().UTC().Add(-time.Duration(windowHours) * time.Hour)

	rows, err := e.db.GetRankFeedback(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load rank feedback: %w", err)
	}

	report := &Report{
		WindowHours: windowHours,
		GeneratedAt: time.Now().UTC(),
	}

	buckets := make([]BiasBucket, bucketCount)
	scoreSums := make([]float64, bucketCount)
	for i := range buckets {
		buckets[i].Low = float64(i) / bucketCount
		buckets[i].High = float64(i+1) / bucketCount
	}

	helpful := 0
	for _, row := range rows {
		idx := int(row.Bias * bucketCount)
		if idx >= bucketCount {
			idx = bucketCount - 1
		}
		buckets[idx].Requests++
		scoreSums[idx] += row.TopScore
		if row.Helpful {
			buckets[idx].Helpful++
			helpful++
		}
	}

	for i := range buckets {
		if buckets[i].Requests > 0 {
			buckets[i].HelpfulRate = float64(buckets[i].Helpful) / float64(buckets[i].Requests)
			buckets[i].AvgTopScore = scoreSums[i] / float64(buckets[i].Requests)
		}
	}

	report.TotalFeedback = len(rows)
	if len(rows) > 0 {
		report.HelpfulRate = float64(helpful) / float64(len(rows))
	}
	report.BiasBuckets = buckets

	total, duplicates, err := e.db.CountDocuments(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}
	report.TotalDocuments = total
	report.Duplicates = duplicates
	if total > 0 {
		report.DuplicateRate = float64(duplicates) / float64(total)
	}

	logger.Info("Evaluation report built",
		zap.Int("feedback", report.TotalFeedback),
		zap.Float64("helpful_rate", report.HelpfulRate),
		zap.Float64("duplicate_rate", report.DuplicateRate),
	)

	return report, nil
}

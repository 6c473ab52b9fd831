package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RankDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "newsrank_rank_duration_seconds",
			Help:    "Rank request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"status"},
	)

	RankTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsrank_rank_total",
			Help: "Total number of rank requests",
		},
		[]string{"status"},
	)

	ChannelTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsrank_channel_timeouts_total",
			Help: "Retrieval channels that exceeded their budget and degraded to empty",
		},
		[]string{"channel"},
	)

	ChannelCandidates = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "newsrank_channel_candidates",
			Help:    "Candidates returned per retrieval channel",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
		},
		[]string{"channel"},
	)

	CandidatesFiltered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsrank_candidates_filtered_total",
			Help: "Candidates dropped by hard filters",
		},
		[]string{"filter"},
	)

	DuplicateChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsrank_duplicate_checks_total",
			Help: "Duplicate checks by classification method",
		},
		[]string{"method"},
	)

	DedupDegraded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "newsrank_dedup_degraded_total",
			Help: "Duplicate checks that ran without the similarity tier",
		},
	)

	DocumentsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsrank_documents_ingested_total",
			Help: "Documents ingested, split by original vs duplicate",
		},
		[]string{"outcome"},
	)

	EmbeddingFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "newsrank_embedding_failures_total",
			Help: "Embedding generation failures during ingestion",
		},
	)

	FeedSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "newsrank_feed_subscribers",
			Help: "Connected live feed websocket clients",
		},
	)
)

func Init() {
	prometheus.MustRegister(RankDuration)
	prometheus.MustRegister(RankTotal)
	prometheus.MustRegister(ChannelTimeouts)
	prometheus.MustRegister(ChannelCandidates)
	prometheus.MustRegister(CandidatesFiltered)
	prometheus.MustRegister(DuplicateChecks)
	prometheus.MustRegister(DedupDegraded)
	prometheus.MustRegister(DocumentsIngested)
	prometheus.MustRegister(EmbeddingFailures)
	prometheus.MustRegister(FeedSubscribers)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}

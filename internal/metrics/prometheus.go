package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ChatRequestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyrag_chat_requests_total",
			Help: "Total chat requests processed",
		},
		[]string{"status"},
	)

	ChatDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "studyrag_chat_duration_seconds",
			Help:    "Chat request duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	ChunksRetrieved = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "studyrag_chunks_retrieved",
			Help:    "Number of chunks retrieved per chat request",
			Buckets: []float64{0, 1, 2, 3, 5, 10, 20},
		},
	)

	DocumentsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyrag_documents_ingested_total",
			Help: "Documents run through the ingestion pipeline",
		},
		[]string{"status"},
	)

	ChunksIngested = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "studyrag_chunks_ingested_total",
			Help: "Chunk records produced and persisted",
		},
	)

	EmbeddingFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "studyrag_embedding_failures_total",
			Help: "Embedding service calls that failed after retries",
		},
	)

	GenerationFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "studyrag_generation_failures_total",
			Help: "Generation service calls that degraded to an apology",
		},
	)
)

func Register() {
	prometheus.MustRegister(
		ChatRequestTotal,
		ChatDuration,
		ChunksRetrieved,
		DocumentsIngested,
		ChunksIngested,
		EmbeddingFailures,
		GenerationFailures,
	)
}

// Handler exposes the prometheus scrape endpoint through fiber.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}

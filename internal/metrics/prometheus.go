// Package metrics exposes the Prometheus instruments shared by the API and
// the ingestion worker.
package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ChatQueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docuchat_chat_queries_total",
		Help: "Chat queries handled, labeled by terminal status.",
	}, []string{"status"})

	ChatQueryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "docuchat_chat_query_duration_seconds",
		Help:    "Wall time from query receipt to terminal frame.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	})

	TokensStreamed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docuchat_tokens_streamed_total",
		Help: "Answer tokens delivered to clients.",
	})

	StreamCancellations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docuchat_stream_cancellations_total",
		Help: "Streams stopped early by client cancellation.",
	})

	RetrievedChunks = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "docuchat_retrieved_chunks",
		Help:    "Chunks returned per retrieval after similarity filtering.",
		Buckets: prometheus.LinearBuckets(0, 1, 11),
	})

	IngestJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docuchat_ingest_jobs_total",
		Help: "Ingestion jobs consumed, labeled by outcome.",
	}, []string{"outcome"})

	ChunksStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docuchat_chunks_stored_total",
		Help: "Chunks written to the vector store.",
	})

	EmbeddingCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docuchat_embedding_cache_ops_total",
		Help: "Embedding cache lookups, labeled hit or miss.",
	}, []string{"result"})
)

// Handler serves the Prometheus scrape endpoint inside a Fiber app.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}

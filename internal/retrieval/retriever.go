// Package retrieval finds the document chunks most relevant to a query and
// assembles them into a bounded prompt context.
package retrieval

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/docuchat/backend/internal/metrics"
	"github.com/docuchat/backend/internal/storage/models"
	"github.com/docuchat/backend/pkg/logger"
)

// ErrRetrieval wraps any failure while embedding the query or searching the
// vector store.
var ErrRetrieval = errors.New("retrieval failed")

// QueryEmbedder turns the user's question into a vector.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher returns chunks ranked by similarity, best first.
type Searcher interface {
	SimilaritySearch(ctx context.Context, projectID string, queryVector []float32, topK int, minSimilarity float64) ([]models.RetrievedChunk, error)
}

type Retriever struct {
	embedder      QueryEmbedder
	store         Searcher
	topK          int
	minSimilarity float64
}

func NewRetriever(embedder QueryEmbedder, store Searcher, topK int, minSimilarity float64) *Retriever {
	return &Retriever{
		embedder:      embedder,
		store:         store,
		topK:          topK,
		minSimilarity: minSimilarity,
	}
}

// Retrieve returns the chunks most similar to the query within the project.
// An empty result is a valid answer, not an error.
func (r *Retriever) Retrieve(ctx context.Context, projectID, query string) ([]models.RetrievedChunk, error) {
	queryVector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding query: %v", ErrRetrieval, err)
	}

	chunks, err := r.store.SimilaritySearch(ctx, projectID, queryVector, r.topK, r.minSimilarity)
	if err != nil {
		return nil, fmt.Errorf("%w: searching: %v", ErrRetrieval, err)
	}

	metrics.RetrievedChunks.Observe(float64(len(chunks)))
	logger.Debug("Retrieved chunks",
		zap.String("projectID", projectID),
		zap.Int("count", len(chunks)),
	)

	return chunks, nil
}

// Package vector defines the chunk vector store contract and an in-memory
// reference implementation. The production adapter lives in the milvus
// subpackage.
package vector

import (
	"context"

	"github.com/docuchat/backend/internal/storage/models"
)

// Store persists chunks with their embeddings and answers nearest-neighbor
// queries scoped to a project.
type Store interface {
	// UpsertChunks associates chunks (with vectors) with their file.
	UpsertChunks(ctx context.Context, chunks []models.Chunk) error

	// DeleteChunks removes all chunks of a file and reports how many were
	// removed. Deleting a file with no chunks is not an error.
	DeleteChunks(ctx context.Context, fileID string) (int, error)

	// SimilaritySearch returns at most topK chunks of the project whose
	// similarity score (1 - cosine distance) is >= minSimilarity, ordered by
	// descending score with ties broken by ascending chunk index.
	SimilaritySearch(ctx context.Context, projectID string, queryVector []float32, topK int, minSimilarity float64) ([]models.RetrievedChunk, error)
}

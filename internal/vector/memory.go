package vector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/docuchat/backend/internal/storage/models"
)

// MemoryStore is a full-scan in-memory Store. Every search visits every chunk
// in the project, which is fine up to roughly 10k chunks; beyond that use the
// milvus adapter, which carries a proper ANN index.
type MemoryStore struct {
	mu     sync.RWMutex
	chunks map[string]models.Chunk // chunk ID -> chunk
	files  map[string][]string     // file ID -> chunk IDs
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chunks: make(map[string]models.Chunk),
		files:  make(map[string][]string),
	}
}

func (s *MemoryStore) UpsertChunks(ctx context.Context, chunks []models.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ch := range chunks {
		if _, exists := s.chunks[ch.ID]; !exists {
			s.files[ch.FileID] = append(s.files[ch.FileID], ch.ID)
		}
		s.chunks[ch.ID] = ch
	}
	return nil
}

func (s *MemoryStore) DeleteChunks(ctx context.Context, fileID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, ok := s.files[fileID]
	if !ok {
		return 0, nil
	}

	for _, id := range ids {
		delete(s.chunks, id)
	}
	delete(s.files, fileID)
	return len(ids), nil
}

func (s *MemoryStore) SimilaritySearch(ctx context.Context, projectID string, queryVector []float32, topK int, minSimilarity float64) ([]models.RetrievedChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []models.RetrievedChunk
	for _, ch := range s.chunks {
		if ch.ProjectID != projectID {
			continue
		}

		score, err := CosineSimilarity(queryVector, ch.Embedding)
		if err != nil {
			return nil, err
		}
		if score < minSimilarity {
			continue
		}

		results = append(results, models.RetrievedChunk{
			ChunkID:         ch.ID,
			FileID:          ch.FileID,
			Filename:        ch.Filename,
			Content:         ch.Content,
			ChunkIndex:      ch.ChunkIndex,
			PageNumber:      ch.PageNumber,
			SimilarityScore: score,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].SimilarityScore != results[j].SimilarityScore {
			return results[i].SimilarityScore > results[j].SimilarityScore
		}
		return results[i].ChunkIndex < results[j].ChunkIndex
	})

	if len(results) > topK {
		results = results[:topK]
	}

	return results, nil
}

// CosineSimilarity returns the cosine of the angle between two vectors,
// matching the 1 - cosine_distance score the milvus adapter returns.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector dimension mismatch: %d != %d", len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0, nil
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// Package milvus implements the vector.Store contract on a Milvus/Zilliz
// collection with an IVF_FLAT cosine index.
package milvus

import (
	"context"
	"fmt"
	"sort"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/docuchat/backend/internal/storage/models"
	"github.com/docuchat/backend/internal/vector"
	"github.com/docuchat/backend/pkg/logger"
)

type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
}

var _ vector.Store = (*Client)(nil)

func NewClient(endpoint, collectionName string, vectorDim int) (*Client, error) {
	c, err := client.NewGrpcClient(context.Background(), endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
		zap.Int("dim", vectorDim),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
	}, nil
}

func (m *Client) Close() error {
	return m.client.Close()
}

func (m *Client) EnsureCollection(ctx context.Context) error {
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
		Description:    "Document chunk embeddings",
		Fields: []*entity.Field{
			{
				Name:       "chunk_id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:       "project_id",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:       "file_id",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:       "filename",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "512"},
			},
			{
				Name:       "content",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "8192"},
			},
			{
				Name:     "chunk_index",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     "page_number",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     "char_start",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     "char_end",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:       "embedding",
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": fmt.Sprintf("%d", m.vectorDim)},
			},
		},
	}

	if err := m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.COSINE, 1024)
	if err != nil {
		return fmt.Errorf("failed to build index spec: %w", err)
	}
	if err := m.client.CreateIndex(ctx, m.collectionName, "embedding", idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	if err := m.client.LoadCollection(ctx, m.collectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", m.collectionName))

	return nil
}

func (m *Client) UpsertChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	chunkIDs := make([]string, len(chunks))
	projectIDs := make([]string, len(chunks))
	fileIDs := make([]string, len(chunks))
	filenames := make([]string, len(chunks))
	contents := make([]string, len(chunks))
	chunkIndexes := make([]int64, len(chunks))
	pageNumbers := make([]int64, len(chunks))
	charStarts := make([]int64, len(chunks))
	charEnds := make([]int64, len(chunks))
	embeddings := make([][]float32, len(chunks))

	for i, ch := range chunks {
		if len(ch.Embedding) != m.vectorDim {
			return fmt.Errorf("chunk %s has vector dimension %d, collection expects %d",
				ch.ID, len(ch.Embedding), m.vectorDim)
		}
		chunkIDs[i] = ch.ID
		projectIDs[i] = ch.ProjectID
		fileIDs[i] = ch.FileID
		filenames[i] = ch.Filename
		contents[i] = ch.Content
		chunkIndexes[i] = int64(ch.ChunkIndex)
		pageNumbers[i] = int64(ch.PageNumber)
		charStarts[i] = int64(ch.CharStart)
		charEnds[i] = int64(ch.CharEnd)
		embeddings[i] = ch.Embedding
	}

	_, err := m.client.Insert(
		ctx,
		m.collectionName,
		"",
		entity.NewColumnVarChar("chunk_id", chunkIDs),
		entity.NewColumnVarChar("project_id", projectIDs),
		entity.NewColumnVarChar("file_id", fileIDs),
		entity.NewColumnVarChar("filename", filenames),
		entity.NewColumnVarChar("content", contents),
		entity.NewColumnInt64("chunk_index", chunkIndexes),
		entity.NewColumnInt64("page_number", pageNumbers),
		entity.NewColumnInt64("char_start", charStarts),
		entity.NewColumnInt64("char_end", charEnds),
		entity.NewColumnFloatVector("embedding", m.vectorDim, embeddings),
	)
	if err != nil {
		return fmt.Errorf("failed to insert chunks: %w", err)
	}

	if err := m.client.Flush(ctx, m.collectionName, false); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Chunks inserted into vector store", zap.Int("count", len(chunks)))

	return nil
}

func (m *Client) DeleteChunks(ctx context.Context, fileID string) (int, error) {
	expr := fmt.Sprintf(`file_id == "%s"`, fileID)

	existing, err := m.client.Query(ctx, m.collectionName, nil, expr, []string{"chunk_id"})
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks for deletion: %w", err)
	}

	count := 0
	for _, col := range existing {
		if col.Name() == "chunk_id" {
			count = col.Len()
		}
	}

	if count == 0 {
		return 0, nil
	}

	if err := m.client.Delete(ctx, m.collectionName, "", expr); err != nil {
		return 0, fmt.Errorf("failed to delete chunks: %w", err)
	}

	logger.Info("Chunks deleted from vector store",
		zap.String("file_id", fileID),
		zap.Int("count", count),
	)

	return count, nil
}

func (m *Client) SimilaritySearch(ctx context.Context, projectID string, queryVector []float32, topK int, minSimilarity float64) ([]models.RetrievedChunk, error) {
	expr := fmt.Sprintf(`project_id == "%s"`, projectID)

	sp, err := entity.NewIndexIvfFlatSearchParam(16)
	if err != nil {
		return nil, fmt.Errorf("failed to build search param: %w", err)
	}

	searchResult, err := m.client.Search(
		ctx,
		m.collectionName,
		[]string{},
		expr,
		[]string{"chunk_id", "file_id", "filename", "content", "chunk_index", "page_number"},
		[]entity.Vector{entity.FloatVector(queryVector)},
		"embedding",
		entity.COSINE,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	results := make([]models.RetrievedChunk, 0)
	for _, sr := range searchResult {
		for i := 0; i < sr.ResultCount; i++ {
			// COSINE scores are already 1 - cosine_distance.
			score := float64(sr.Scores[i])
			if score < minSimilarity {
				continue
			}

			chunkID, _ := sr.Fields.GetColumn("chunk_id").Get(i)
			fileID, _ := sr.Fields.GetColumn("file_id").Get(i)
			filename, _ := sr.Fields.GetColumn("filename").Get(i)
			content, _ := sr.Fields.GetColumn("content").Get(i)
			chunkIndex, _ := sr.Fields.GetColumn("chunk_index").Get(i)
			pageNumber, _ := sr.Fields.GetColumn("page_number").Get(i)

			results = append(results, models.RetrievedChunk{
				ChunkID:         chunkID.(string),
				FileID:          fileID.(string),
				Filename:        filename.(string),
				Content:         content.(string),
				ChunkIndex:      int(chunkIndex.(int64)),
				PageNumber:      int(pageNumber.(int64)),
				SimilarityScore: score,
			})
		}
	}

	// Milvus orders by score; re-sort to pin the equal-score tie-break.
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].SimilarityScore != results[j].SimilarityScore {
			return results[i].SimilarityScore > results[j].SimilarityScore
		}
		return results[i].ChunkIndex < results[j].ChunkIndex
	})

	logger.Debug("Vector search completed",
		zap.String("project_id", projectID),
		zap.Int("topK", topK),
		zap.Int("results", len(results)),
	)

	return results, nil
}

// Package ingestion runs uploaded documents through extraction, chunking and
// embedding, and lands the results in the vector and metadata stores.
package ingestion

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docuchat/backend/internal/ingestion/extract"
	"github.com/docuchat/backend/internal/metrics"
	"github.com/docuchat/backend/internal/queue"
	"github.com/docuchat/backend/internal/storage/models"
	"github.com/docuchat/backend/pkg/logger"
)

// BlobStore fetches uploaded documents into local temp files.
type BlobStore interface {
	Fetch(ctx context.Context, location string) (string, error)
	Cleanup(path string)
}

// Embedder produces one vector per input text, in input order.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorStore holds chunk vectors. Deleting before upserting makes
// reprocessing idempotent.
type VectorStore interface {
	DeleteChunks(ctx context.Context, fileID string) (int, error)
	UpsertChunks(ctx context.Context, chunks []models.Chunk) error
}

// MetadataStore tracks per-file processing state and the chunk catalogue.
type MetadataStore interface {
	UpdateProcessingStatus(fileID, status, errorDetail string) error
	ReplaceChunkMetadata(fileID string, chunks []models.Chunk) error
}

type Processor struct {
	blobs    BlobStore
	extract  *extract.Extractor
	splitter *Splitter
	embedder Embedder
	vectors  VectorStore
	meta     MetadataStore
}

func NewProcessor(blobs BlobStore, splitter *Splitter, embedder Embedder, vectors VectorStore, meta MetadataStore) *Processor {
	return &Processor{
		blobs:    blobs,
		extract:  extract.New(),
		splitter: splitter,
		embedder: embedder,
		vectors:  vectors,
		meta:     meta,
	}
}

// Process takes one ingestion job from pending to completed. Any failure
// after the job is marked processing also marks the file failed with a
// human-readable reason before the error is returned to the consumer.
func (p *Processor) Process(ctx context.Context, job queue.Job) error {
	log := logger.GetLogger().With(
		zap.String("fileID", job.FileID),
		zap.String("projectID", job.ProjectID),
		zap.String("filename", job.Filename),
	)
	log.Info("Processing ingestion job")

	if err := p.meta.UpdateProcessingStatus(job.FileID, models.ProcessingActive, ""); err != nil {
		metrics.IngestJobsTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("marking file processing: %w", err)
	}

	chunks, err := p.buildChunks(ctx, job)
	if err != nil {
		p.markFailed(job.FileID, err, log)
		return err
	}

	if err := p.store(ctx, job.FileID, chunks); err != nil {
		p.markFailed(job.FileID, err, log)
		return err
	}

	if err := p.meta.UpdateProcessingStatus(job.FileID, models.ProcessingCompleted, ""); err != nil {
		metrics.IngestJobsTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("marking file completed: %w", err)
	}

	metrics.IngestJobsTotal.WithLabelValues("completed").Inc()
	metrics.ChunksStored.Add(float64(len(chunks)))
	log.Info("Ingestion job completed", zap.Int("chunks", len(chunks)))

	return nil
}

func (p *Processor) buildChunks(ctx context.Context, job queue.Job) ([]models.Chunk, error) {
	path, err := p.blobs.Fetch(ctx, job.BlobLocation)
	if err != nil {
		return nil, fmt.Errorf("fetching blob %s: %w", job.BlobLocation, err)
	}
	defer p.blobs.Cleanup(path)

	contentType := mime.TypeByExtension(filepath.Ext(job.Filename))
	pages, err := p.extract.Extract(path, contentType)
	if err != nil {
		return nil, fmt.Errorf("extracting %s: %w", job.Filename, err)
	}

	fragments := p.splitter.Split(pages)
	if len(fragments) == 0 {
		return nil, fmt.Errorf("document %s produced no chunks", job.Filename)
	}

	texts := make([]string, len(fragments))
	for i, f := range fragments {
		texts[i] = f.Text
	}

	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding %d chunks: %w", len(fragments), err)
	}

	chunks := make([]models.Chunk, len(fragments))
	for i, f := range fragments {
		chunks[i] = models.Chunk{
			ID:         uuid.NewString(),
			ProjectID:  job.ProjectID,
			FileID:     job.FileID,
			Filename:   job.Filename,
			Content:    f.Text,
			Embedding:  vectors[i],
			ChunkIndex: f.Index,
			PageNumber: f.PageNumber,
			CharStart:  f.CharStart,
			CharEnd:    f.CharEnd,
		}
	}

	return chunks, nil
}

// store replaces any chunks from an earlier run of the same file before
// writing the new set, in both the vector store and the metadata mirror.
func (p *Processor) store(ctx context.Context, fileID string, chunks []models.Chunk) error {
	deleted, err := p.vectors.DeleteChunks(ctx, fileID)
	if err != nil {
		return fmt.Errorf("deleting stale chunks: %w", err)
	}
	if deleted > 0 {
		logger.Info("Replaced stale chunks",
			zap.String("fileID", fileID),
			zap.Int("deleted", deleted),
		)
	}

	if err := p.vectors.UpsertChunks(ctx, chunks); err != nil {
		return fmt.Errorf("upserting chunks: %w", err)
	}

	if err := p.meta.ReplaceChunkMetadata(fileID, chunks); err != nil {
		return fmt.Errorf("recording chunk metadata: %w", err)
	}

	return nil
}

func (p *Processor) markFailed(fileID string, cause error, log *zap.Logger) {
	metrics.IngestJobsTotal.WithLabelValues("failed").Inc()
	log.Error("Ingestion job failed", zap.Error(cause))

	if err := p.meta.UpdateProcessingStatus(fileID, models.ProcessingFailed, cause.Error()); err != nil {
		log.Error("Failed to record failure status", zap.Error(err))
	}
}

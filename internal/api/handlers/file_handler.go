// Package handlers exposes the HTTP and websocket surface of the API.
package handlers

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/docuchat/backend/internal/queue"
	"github.com/docuchat/backend/internal/storage/models"
	"github.com/docuchat/backend/internal/storage/sqlite"
	"github.com/docuchat/backend/pkg/logger"
)

// JobPublisher enqueues an ingestion job. Nil when the API runs without a
// broker, which disables reprocessing.
type JobPublisher interface {
	Publish(ctx context.Context, job queue.Job) error
}

type FileHandler struct {
	store     *sqlite.Client
	publisher JobPublisher
}

func NewFileHandler(store *sqlite.Client, publisher JobPublisher) *FileHandler {
	return &FileHandler{store: store, publisher: publisher}
}

// GetFile reports a file's processing status.
func (h *FileHandler) GetFile(c *fiber.Ctx) error {
	file, err := h.store.GetFile(c.Params("id"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "File not found",
			})
		}
		logger.Error("Failed to load file", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load file",
		})
	}

	return c.JSON(fileResponse(file))
}

// ListProjectFiles returns every file in a project with its status.
func (h *FileHandler) ListProjectFiles(c *fiber.Ctx) error {
	projectID := c.Params("id")

	if _, err := h.store.GetProject(projectID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Project not found",
			})
		}
		logger.Error("Failed to load project", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load project",
		})
	}

	files, err := h.store.ListProjectFiles(projectID)
	if err != nil {
		logger.Error("Failed to list project files", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list files",
		})
	}

	responses := make([]fiber.Map, 0, len(files))
	for i := range files {
		responses = append(responses, fileResponse(&files[i]))
	}

	return c.JSON(fiber.Map{"files": responses})
}

// Reprocess queues a file for ingestion again. Reingestion replaces the
// file's chunks, so repeating it is safe.
func (h *FileHandler) Reprocess(c *fiber.Ctx) error {
	if h.publisher == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Reprocessing is not available",
		})
	}

	file, err := h.store.GetFile(c.Params("id"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "File not found",
			})
		}
		logger.Error("Failed to load file", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load file",
		})
	}

	if file.ProcessingStatus == models.ProcessingActive {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "File is already being processed",
		})
	}

	job := queue.Job{
		ProjectID:    file.ProjectID,
		FileID:       file.ID,
		Filename:     file.Filename,
		BlobLocation: file.BlobLocation,
	}

	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	if err := h.publisher.Publish(ctx, job); err != nil {
		logger.Error("Failed to enqueue reprocess job",
			zap.String("fileID", file.ID),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to queue file for processing",
		})
	}

	if err := h.store.UpdateProcessingStatus(file.ID, models.ProcessingPending, ""); err != nil {
		logger.Error("Failed to reset processing status",
			zap.String("fileID", file.ID),
			zap.Error(err),
		)
	}

	logger.Info("File queued for reprocessing", zap.String("fileID", file.ID))

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"message": "File queued for processing",
		"file_id": file.ID,
	})
}

func fileResponse(f *models.File) fiber.Map {
	resp := fiber.Map{
		"id":                f.ID,
		"project_id":        f.ProjectID,
		"filename":          f.Filename,
		"processing_status": f.ProcessingStatus,
		"created_at":        f.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":        f.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if f.ProcessingError != "" {
		resp["processing_error"] = f.ProcessingError
	}
	return resp
}

package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/docuchat/backend/internal/storage/models"
	"github.com/docuchat/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT,
		status TEXT NOT NULL DEFAULT 'creating',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS files (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		filename TEXT NOT NULL,
		blob_location TEXT NOT NULL,
		content_type TEXT,
		size_bytes INTEGER,
		upload_status TEXT,
		processing_status TEXT NOT NULL DEFAULT 'pending',
		processing_error TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_files_project ON files(project_id);
	CREATE INDEX IF NOT EXISTS idx_files_status ON files(processing_status);

	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		file_id TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		page_number INTEGER,
		char_start INTEGER,
		char_end INTEGER,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (file_id) REFERENCES files(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_file ON chunks(file_id);
	CREATE INDEX IF NOT EXISTS idx_chunks_project ON chunks(project_id);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) InsertProject(p *models.Project) error {
	query := `
		INSERT INTO projects (id, title, description, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(query, p.ID, p.Title, p.Description, p.Status,
		p.CreatedAt.Unix(), p.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert project: %w", err)
	}

	return nil
}

func (c *Client) GetProject(id string) (*models.Project, error) {
	query := `SELECT id, title, description, status, created_at, updated_at FROM projects WHERE id = ?`

	var p models.Project
	var createdAt, updatedAt int64

	err := c.db.QueryRow(query, id).Scan(&p.ID, &p.Title, &p.Description, &p.Status, &createdAt, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	p.CreatedAt = time.Unix(createdAt, 0)
	p.UpdatedAt = time.Unix(updatedAt, 0)

	return &p, nil
}

func (c *Client) InsertFile(f *models.File) error {
	query := `
		INSERT INTO files (id, project_id, filename, blob_location, content_type, size_bytes,
			upload_status, processing_status, processing_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(query, f.ID, f.ProjectID, f.Filename, f.BlobLocation, f.ContentType,
		f.SizeBytes, f.UploadStatus, f.ProcessingStatus, f.ProcessingError,
		f.CreatedAt.Unix(), f.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert file: %w", err)
	}

	return nil
}

func (c *Client) GetFile(id string) (*models.File, error) {
	query := `
		SELECT id, project_id, filename, blob_location, content_type, size_bytes,
			upload_status, processing_status, processing_error, created_at, updated_at
		FROM files WHERE id = ?
	`

	var f models.File
	var contentType, uploadStatus, processingError sql.NullString
	var sizeBytes sql.NullInt64
	var createdAt, updatedAt int64

	err := c.db.QueryRow(query, id).Scan(
		&f.ID, &f.ProjectID, &f.Filename, &f.BlobLocation, &contentType, &sizeBytes,
		&uploadStatus, &f.ProcessingStatus, &processingError, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get file: %w", err)
	}

	f.ContentType = contentType.String
	f.SizeBytes = sizeBytes.Int64
	f.UploadStatus = uploadStatus.String
	f.ProcessingError = processingError.String
	f.CreatedAt = time.Unix(createdAt, 0)
	f.UpdatedAt = time.Unix(updatedAt, 0)

	return &f, nil
}

func (c *Client) ListProjectFiles(projectID string) ([]models.File, error) {
	query := `
		SELECT id, project_id, filename, processing_status, processing_error, created_at, updated_at
		FROM files WHERE project_id = ? ORDER BY created_at
	`

	rows, err := c.db.Query(query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list project files: %w", err)
	}
	defer rows.Close()

	var files []models.File
	for rows.Next() {
		var f models.File
		var processingError sql.NullString
		var createdAt, updatedAt int64

		if err := rows.Scan(&f.ID, &f.ProjectID, &f.Filename, &f.ProcessingStatus,
			&processingError, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		f.ProcessingError = processingError.String
		f.CreatedAt = time.Unix(createdAt, 0)
		f.UpdatedAt = time.Unix(updatedAt, 0)
		files = append(files, f)
	}

	return files, rows.Err()
}

// UpdateProcessingStatus records a worker state transition. errorDetail is
// kept only for the failed state.
func (c *Client) UpdateProcessingStatus(fileID, status, errorDetail string) error {
	query := `UPDATE files SET processing_status = ?, processing_error = ?, updated_at = ? WHERE id = ?`

	res, err := c.db.Exec(query, status, errorDetail, time.Now().Unix(), fileID)
	if err != nil {
		return fmt.Errorf("failed to update processing status: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("file %s not found", fileID)
	}

	logger.Info("File status updated",
		zap.String("file_id", fileID),
		zap.String("status", status),
	)

	return nil
}

// ReplaceChunkMetadata swaps the metadata rows for a file in one transaction
// so the relational view of a file's chunks is never half-updated.
func (c *Client) ReplaceChunkMetadata(fileID string, chunks []models.Chunk) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM chunks WHERE file_id = ?`, fileID); err != nil {
		return fmt.Errorf("failed to delete chunk metadata: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO chunks (id, project_id, file_id, chunk_index, page_number, char_start, char_end, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, ch := range chunks {
		if _, err := stmt.Exec(ch.ID, ch.ProjectID, ch.FileID, ch.ChunkIndex,
			ch.PageNumber, ch.CharStart, ch.CharEnd, now); err != nil {
			return fmt.Errorf("failed to insert chunk metadata: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chunk metadata: %w", err)
	}

	logger.Debug("Chunk metadata replaced",
		zap.String("file_id", fileID),
		zap.Int("chunks", len(chunks)),
	)

	return nil
}

func (c *Client) CountChunks(fileID string) (int, error) {
	var count int
	err := c.db.QueryRow(`SELECT COUNT(*) FROM chunks WHERE file_id = ?`, fileID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return count, nil
}

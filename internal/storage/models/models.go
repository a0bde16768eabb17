package models

import "time"

// Project statuses are set by the admin surface that creates projects; this
// service only reads them.
const (
	ProjectCreating = "creating"
	ProjectCreated  = "created"
	ProjectFailed   = "failed"
)

// File processing statuses. The ingestion worker owns every transition;
// processing status is the source of truth for "is this file queryable yet".
const (
	ProcessingPending   = "pending"
	ProcessingActive    = "processing"
	ProcessingCompleted = "completed"
	ProcessingFailed    = "failed"
)

type Project struct {
	ID          string
	Title       string
	Description string
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type File struct {
	ID               string
	ProjectID        string
	Filename         string
	BlobLocation     string
	ContentType      string
	SizeBytes        int64
	UploadStatus     string
	ProcessingStatus string
	ProcessingError  string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Chunk is one retrievable span of a file's text. The embedding vector lives
// in the vector store; this record mirrors the chunk's positional metadata in
// the relational store.
type Chunk struct {
	ID         string
	ProjectID  string
	FileID     string
	Filename   string
	Content    string
	Embedding  []float32
	ChunkIndex int
	PageNumber int
	CharStart  int
	CharEnd    int
	Metadata   map[string]string
	CreatedAt  time.Time
}

// RetrievedChunk is a chunk plus its similarity score against a query vector,
// in [0,1] where 1 means identical direction (1 - cosine distance). Transient,
// never persisted.
type RetrievedChunk struct {
	ChunkID         string
	FileID          string
	Filename        string
	Content         string
	ChunkIndex      int
	PageNumber      int
	SimilarityScore float64
}

// ConversationTurn is caller-supplied chat history; this core never stores it.
type ConversationTurn struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// Source is the attribution record returned with a completed answer.
type Source struct {
	FileID          string  `json:"file_id"`
	Filename        string  `json:"filename"`
	PageNumber      int     `json:"page_number"`
	ChunkIndex      int     `json:"chunk_index"`
	SimilarityScore float64 `json:"similarity_score"`
}

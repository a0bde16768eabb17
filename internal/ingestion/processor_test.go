package ingestion

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/docuchat/backend/internal/queue"
	"github.com/docuchat/backend/internal/storage/models"
)

type fakeBlobStore struct {
	content   string
	fetchErr  error
	fetched   string
	cleanedUp []string
}

func (f *fakeBlobStore) Fetch(ctx context.Context, location string) (string, error) {
	if f.fetchErr != nil {
		return "", f.fetchErr
	}
	path := filepath.Join(os.TempDir(), "processor-test-"+filepath.Base(location)+".txt")
	if err := os.WriteFile(path, []byte(f.content), 0o644); err != nil {
		return "", err
	}
	f.fetched = path
	return path, nil
}

func (f *fakeBlobStore) Cleanup(path string) {
	f.cleanedUp = append(f.cleanedUp, path)
	os.Remove(path)
}

type fakeEmbedder struct {
	err   error
	calls [][]string
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls = append(f.calls, texts)
	if f.err != nil {
		return nil, f.err
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{float32(i), 1}
	}
	return vectors, nil
}

type fakeVectorStore struct {
	deleteErr error
	upsertErr error
	ops       []string
	upserted  []models.Chunk
}

func (f *fakeVectorStore) DeleteChunks(ctx context.Context, fileID string) (int, error) {
	f.ops = append(f.ops, "delete")
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	return 2, nil
}

func (f *fakeVectorStore) UpsertChunks(ctx context.Context, chunks []models.Chunk) error {
	f.ops = append(f.ops, "upsert")
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserted = chunks
	return nil
}

type fakeMetadataStore struct {
	statusErr    error
	statuses     []string
	errorDetails []string
	replaced     []models.Chunk
}

func (f *fakeMetadataStore) UpdateProcessingStatus(fileID, status, errorDetail string) error {
	if f.statusErr != nil {
		return f.statusErr
	}
	f.statuses = append(f.statuses, status)
	f.errorDetails = append(f.errorDetails, errorDetail)
	return nil
}

func (f *fakeMetadataStore) ReplaceChunkMetadata(fileID string, chunks []models.Chunk) error {
	f.replaced = chunks
	return nil
}

func testJob() queue.Job {
	return queue.Job{
		ProjectID:    "proj-1",
		FileID:       "file-1",
		Filename:     "notes.txt",
		BlobLocation: "documents/file-1",
	}
}

func newTestProcessor(t *testing.T, blobs *fakeBlobStore, emb *fakeEmbedder, vec *fakeVectorStore, meta *fakeMetadataStore) *Processor {
	t.Helper()
	splitter, err := NewSplitter(50, 10)
	if err != nil {
		t.Fatal(err)
	}
	return NewProcessor(blobs, splitter, emb, vec, meta)
}

func TestProcessSuccess(t *testing.T) {
	blobs := &fakeBlobStore{content: "first paragraph of text.\n\nsecond paragraph of text."}
	emb := &fakeEmbedder{}
	vec := &fakeVectorStore{}
	meta := &fakeMetadataStore{}
	p := newTestProcessor(t, blobs, emb, vec, meta)

	if err := p.Process(context.Background(), testJob()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantStatuses := []string{models.ProcessingActive, models.ProcessingCompleted}
	if len(meta.statuses) != 2 || meta.statuses[0] != wantStatuses[0] || meta.statuses[1] != wantStatuses[1] {
		t.Errorf("unexpected status transitions: %v", meta.statuses)
	}

	if len(vec.ops) != 2 || vec.ops[0] != "delete" || vec.ops[1] != "upsert" {
		t.Errorf("stale chunks must be deleted before upsert, got ops %v", vec.ops)
	}

	if len(vec.upserted) == 0 {
		t.Fatal("no chunks upserted")
	}
	for i, chunk := range vec.upserted {
		if chunk.ID == "" {
			t.Errorf("chunk %d has no id", i)
		}
		if chunk.ProjectID != "proj-1" || chunk.FileID != "file-1" || chunk.Filename != "notes.txt" {
			t.Errorf("chunk %d missing job identity: %+v", i, chunk)
		}
		if chunk.ChunkIndex != i {
			t.Errorf("chunk %d has index %d", i, chunk.ChunkIndex)
		}
		if len(chunk.Embedding) == 0 {
			t.Errorf("chunk %d has no embedding", i)
		}
	}

	if len(meta.replaced) != len(vec.upserted) {
		t.Errorf("metadata mirror has %d chunks, vector store has %d", len(meta.replaced), len(vec.upserted))
	}

	if len(blobs.cleanedUp) != 1 || blobs.cleanedUp[0] != blobs.fetched {
		t.Errorf("temp file not cleaned up: %v", blobs.cleanedUp)
	}
}

func TestProcessBlobFetchFailureMarksFailed(t *testing.T) {
	blobs := &fakeBlobStore{fetchErr: errors.New("object not found")}
	meta := &fakeMetadataStore{}
	p := newTestProcessor(t, blobs, &fakeEmbedder{}, &fakeVectorStore{}, meta)

	if err := p.Process(context.Background(), testJob()); err == nil {
		t.Fatal("expected error")
	}

	last := meta.statuses[len(meta.statuses)-1]
	if last != models.ProcessingFailed {
		t.Errorf("expected failed status, got %q", last)
	}
	if detail := meta.errorDetails[len(meta.errorDetails)-1]; !strings.Contains(detail, "object not found") {
		t.Errorf("failure detail should carry the cause, got %q", detail)
	}
}

func TestProcessEmbeddingFailureMarksFailedAndCleansUp(t *testing.T) {
	blobs := &fakeBlobStore{content: "some document text"}
	emb := &fakeEmbedder{err: errors.New("upstream down")}
	meta := &fakeMetadataStore{}
	p := newTestProcessor(t, blobs, emb, &fakeVectorStore{}, meta)

	if err := p.Process(context.Background(), testJob()); err == nil {
		t.Fatal("expected error")
	}

	if last := meta.statuses[len(meta.statuses)-1]; last != models.ProcessingFailed {
		t.Errorf("expected failed status, got %q", last)
	}
	if len(blobs.cleanedUp) != 1 {
		t.Errorf("temp file must be cleaned up on failure, got %v", blobs.cleanedUp)
	}
}

func TestProcessEmptyDocumentMarksFailed(t *testing.T) {
	blobs := &fakeBlobStore{content: "   "}
	meta := &fakeMetadataStore{}
	p := newTestProcessor(t, blobs, &fakeEmbedder{}, &fakeVectorStore{}, meta)

	if err := p.Process(context.Background(), testJob()); err == nil {
		t.Fatal("expected error for empty document")
	}
	if last := meta.statuses[len(meta.statuses)-1]; last != models.ProcessingFailed {
		t.Errorf("expected failed status, got %q", last)
	}
}

func TestProcessStatusStoreFailureReturnsError(t *testing.T) {
	blobs := &fakeBlobStore{content: "text"}
	meta := &fakeMetadataStore{statusErr: errors.New("db locked")}
	p := newTestProcessor(t, blobs, &fakeEmbedder{}, &fakeVectorStore{}, meta)

	if err := p.Process(context.Background(), testJob()); err == nil {
		t.Fatal("expected error when status cannot be recorded")
	}
	if blobs.fetched != "" {
		t.Error("blob should not be fetched when the job cannot be marked processing")
	}
}

func TestProcessVectorUpsertFailureMarksFailed(t *testing.T) {
	blobs := &fakeBlobStore{content: "document body text"}
	vec := &fakeVectorStore{upsertErr: errors.New("milvus unavailable")}
	meta := &fakeMetadataStore{}
	p := newTestProcessor(t, blobs, &fakeEmbedder{}, vec, meta)

	if err := p.Process(context.Background(), testJob()); err == nil {
		t.Fatal("expected error")
	}
	if last := meta.statuses[len(meta.statuses)-1]; last != models.ProcessingFailed {
		t.Errorf("expected failed status, got %q", last)
	}
	if meta.replaced != nil {
		t.Error("metadata must not be replaced when the vector write failed")
	}
}

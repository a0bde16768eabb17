package retrieval

import (
	"strings"
	"testing"

	"github.com/docuchat/backend/internal/storage/models"
)

func rankedChunks() []models.RetrievedChunk {
	return []models.RetrievedChunk{
		{ChunkID: "c1", FileID: "f1", Filename: "a.pdf", Content: "highest ranked chunk", PageNumber: 3, ChunkIndex: 2, SimilarityScore: 0.9},
		{ChunkID: "c2", FileID: "f1", Filename: "a.pdf", Content: "second ranked chunk", PageNumber: 5, ChunkIndex: 7, SimilarityScore: 0.6},
		{ChunkID: "c3", FileID: "f2", Filename: "b.txt", Content: "third ranked chunk", ChunkIndex: 0, SimilarityScore: 0.4},
	}
}

func TestAssembleIncludesAllWithinBudget(t *testing.T) {
	text, used := NewAssembler(4000).Assemble(rankedChunks())

	if len(used) != 3 {
		t.Fatalf("expected all 3 chunks used, got %d", len(used))
	}
	if !strings.Contains(text, "Source: a.pdf (Page 3)\nhighest ranked chunk\n") {
		t.Errorf("missing first block in context:\n%s", text)
	}
	if !strings.Contains(text, "Source: b.txt\nthird ranked chunk\n") {
		t.Errorf("page header should be omitted for unpaged chunks:\n%s", text)
	}
	if strings.Index(text, "highest") > strings.Index(text, "second") {
		t.Error("context blocks out of rank order")
	}
}

func TestAssembleStopsAtBudget(t *testing.T) {
	chunks := rankedChunks()
	// Budget fits the first two blocks but not the third.
	budget := len(formatBlock(chunks[0])) + len(formatBlock(chunks[1])) + 5

	text, used := NewAssembler(budget).Assemble(chunks)
	if len(used) != 2 {
		t.Fatalf("expected 2 chunks used, got %d", len(used))
	}
	if strings.Contains(text, "third ranked chunk") {
		t.Error("excluded chunk leaked into the context")
	}
	if len(text) > budget {
		t.Errorf("context length %d exceeds budget %d", len(text), budget)
	}
}

func TestAssembleIsPrefixOfRanking(t *testing.T) {
	chunks := []models.RetrievedChunk{
		{ChunkID: "big", Filename: "a.pdf", Content: strings.Repeat("x", 200), SimilarityScore: 0.9},
		{ChunkID: "small", Filename: "a.pdf", Content: "tiny", SimilarityScore: 0.5},
	}

	// The small chunk would fit, but it ranks below the excluded big one.
	_, used := NewAssembler(100).Assemble(chunks)
	if len(used) != 0 {
		t.Errorf("lower-ranked chunk must not leapfrog an excluded one, got %d used", len(used))
	}
}

func TestAssembleEmptyInput(t *testing.T) {
	text, used := NewAssembler(4000).Assemble(nil)
	if text != "" || len(used) != 0 {
		t.Errorf("expected empty context, got %q with %d used", text, len(used))
	}
}

func TestFormatSources(t *testing.T) {
	sources := FormatSources(rankedChunks())

	if len(sources) != 3 {
		t.Fatalf("expected 3 sources, got %d", len(sources))
	}
	first := sources[0]
	if first.FileID != "f1" || first.Filename != "a.pdf" || first.PageNumber != 3 ||
		first.ChunkIndex != 2 || first.SimilarityScore != 0.9 {
		t.Errorf("unexpected first source: %+v", first)
	}
	if sources[2].PageNumber != 0 {
		t.Errorf("unpaged chunk should keep zero page number, got %d", sources[2].PageNumber)
	}
}

package retrieval

import (
	"fmt"
	"strings"

	"github.com/docuchat/backend/internal/storage/models"
)

// Assembler packs ranked chunks into a prompt context no longer than
// maxLength characters.
type Assembler struct {
	maxLength int
}

func NewAssembler(maxLength int) *Assembler {
	return &Assembler{maxLength: maxLength}
}

// Assemble includes chunks in rank order until the next one would exceed the
// budget, then stops. Lower-ranked chunks never leapfrog an excluded one, so
// the context is always a prefix of the ranking. Returns the context text and
// the chunks actually used.
func (a *Assembler) Assemble(chunks []models.RetrievedChunk) (string, []models.RetrievedChunk) {
	var builder strings.Builder
	var used []models.RetrievedChunk

	for _, chunk := range chunks {
		block := formatBlock(chunk)
		if builder.Len()+len(block) > a.maxLength {
			break
		}
		builder.WriteString(block)
		used = append(used, chunk)
	}

	return builder.String(), used
}

func formatBlock(chunk models.RetrievedChunk) string {
	if chunk.PageNumber > 0 {
		return fmt.Sprintf("Source: %s (Page %d)\n%s\n", chunk.Filename, chunk.PageNumber, chunk.Content)
	}
	return fmt.Sprintf("Source: %s\n%s\n", chunk.Filename, chunk.Content)
}

// FormatSources maps the used chunks to the attribution entries sent with
// the terminal frame, preserving rank order.
func FormatSources(used []models.RetrievedChunk) []models.Source {
	sources := make([]models.Source, 0, len(used))
	for _, chunk := range used {
		sources = append(sources, models.Source{
			FileID:          chunk.FileID,
			Filename:        chunk.Filename,
			PageNumber:      chunk.PageNumber,
			ChunkIndex:      chunk.ChunkIndex,
			SimilarityScore: chunk.SimilarityScore,
		})
	}
	return sources
}

package ingestion

import (
	"fmt"
	"strings"

	"github.com/docuchat/backend/internal/ingestion/extract"
)

// defaultSeparators are tried in order, preferring paragraph and line breaks
// over word breaks before falling back to a hard cut.
var defaultSeparators = []string{"\n\n", "\n", " ", ""}

// Fragment is one chunk-sized slice of a document, with its position inside
// the source page.
type Fragment struct {
	Text       string
	Index      int
	PageNumber int
	CharStart  int
	CharEnd    int
}

// Splitter cuts page text into overlapping fragments no longer than
// chunkSize, splitting on the most natural boundary available.
type Splitter struct {
	chunkSize    int
	chunkOverlap int
	separators   []string
}

func NewSplitter(chunkSize, chunkOverlap int) (*Splitter, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return nil, fmt.Errorf("chunk overlap %d must be in [0, %d)", chunkOverlap, chunkSize)
	}
	return &Splitter{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		separators:   defaultSeparators,
	}, nil
}

// Split chunks every page and numbers the fragments contiguously from zero
// across the whole document.
func (s *Splitter) Split(pages []extract.Page) []Fragment {
	var fragments []Fragment
	index := 0

	for _, page := range pages {
		searchFrom := 0
		for _, text := range s.splitText(page.Text, s.separators) {
			text = strings.TrimSpace(text)
			if text == "" {
				continue
			}

			start := searchFrom
			if idx := strings.Index(page.Text[searchFrom:], text); idx >= 0 {
				start = searchFrom + idx
			}

			fragments = append(fragments, Fragment{
				Text:       text,
				Index:      index,
				PageNumber: page.Number,
				CharStart:  start,
				CharEnd:    start + len(text),
			})
			index++

			// Fragments overlap, so the next one may begin before this
			// one ends but never at the same offset.
			searchFrom = start + 1
		}
	}

	return fragments
}

func (s *Splitter) splitText(text string, separators []string) []string {
	sep := separators[len(separators)-1]
	var remaining []string
	for i, candidate := range separators {
		if candidate == "" || strings.Contains(text, candidate) {
			sep = candidate
			remaining = separators[i+1:]
			break
		}
	}

	if sep == "" {
		return s.hardCut(text)
	}

	var result []string
	var mergeable []string
	for _, piece := range strings.Split(text, sep) {
		if len(piece) < s.chunkSize {
			mergeable = append(mergeable, piece)
			continue
		}

		if len(mergeable) > 0 {
			result = append(result, s.merge(mergeable, sep)...)
			mergeable = nil
		}

		if len(remaining) == 0 {
			result = append(result, s.hardCut(piece)...)
		} else {
			result = append(result, s.splitText(piece, remaining)...)
		}
	}
	if len(mergeable) > 0 {
		result = append(result, s.merge(mergeable, sep)...)
	}

	return result
}

// merge packs adjacent pieces back together up to chunkSize, then restarts
// each chunk with the tail of the previous one to keep chunkOverlap bytes of
// shared context.
func (s *Splitter) merge(pieces []string, sep string) []string {
	var chunks []string
	var current []string
	total := 0

	currentLen := func() int {
		if len(current) == 0 {
			return 0
		}
		return total + (len(current)-1)*len(sep)
	}

	for _, piece := range pieces {
		if len(current) > 0 && currentLen()+len(sep)+len(piece) > s.chunkSize {
			chunks = append(chunks, strings.Join(current, sep))

			for len(current) > 0 && (currentLen() > s.chunkOverlap ||
				currentLen()+len(sep)+len(piece) > s.chunkSize) {
				total -= len(current[0])
				current = current[1:]
			}
		}
		current = append(current, piece)
		total += len(piece)
	}

	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, sep))
	}

	return chunks
}

// hardCut windows the text at rune boundaries when no separator fits.
func (s *Splitter) hardCut(text string) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	step := s.chunkSize - s.chunkOverlap
	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + s.chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}

	return chunks
}

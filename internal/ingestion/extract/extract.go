// Package extract turns raw documents into ordered per-page text.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"

	"github.com/docuchat/backend/pkg/logger"
)

// ErrExtraction marks an unreadable or unsupported document.
var ErrExtraction = errors.New("extraction failed")

var whitespaceRe = regexp.MustCompile(`\s+`)

// Page is the extracted text of one document page. Number is 1-based for
// paginated formats and 0 for formats without pages.
type Page struct {
	Number int
	Text   string
}

type Extractor struct{}

func New() *Extractor {
	return &Extractor{}
}

// Extract reads the document at path and returns its pages in order.
// contentType routes to a format-specific strategy; when it is empty the file
// extension decides.
func (e *Extractor) Extract(path, contentType string) ([]Page, error) {
	switch {
	case strings.Contains(contentType, "pdf") || hasExt(path, contentType, ".pdf"):
		return e.extractPDF(path)
	case strings.Contains(contentType, "html") || hasExt(path, contentType, ".html", ".htm"):
		return e.extractHTML(path)
	default:
		return e.extractPlainText(path)
	}
}

func (e *Extractor) extractPDF(path string) ([]Page, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot open pdf: %v", ErrExtraction, err)
	}
	defer f.Close()

	var pages []Page
	pageErrs := 0
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			pageErrs++
			continue
		}

		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		pages = append(pages, Page{Number: i, Text: text})
	}

	if len(pages) > 0 {
		logger.Debug("PDF extracted per page",
			zap.String("path", path),
			zap.Int("pages", len(pages)),
			zap.Int("page_errors", pageErrs),
		)
		return pages, nil
	}

	// Secondary strategy: some PDFs defeat per-page extraction but still
	// yield text as one stream.
	return e.extractPDFWholeDocument(reader, path)
}

func (e *Extractor) extractPDFWholeDocument(reader *pdf.Reader, path string) ([]Page, error) {
	plain, err := reader.GetPlainText()
	if err != nil {
		return nil, fmt.Errorf("%w: pdf has no extractable text: %v", ErrExtraction, err)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return nil, fmt.Errorf("%w: reading pdf text: %v", ErrExtraction, err)
	}

	text := strings.TrimSpace(buf.String())
	if text == "" {
		return nil, fmt.Errorf("%w: pdf has no extractable text", ErrExtraction)
	}

	logger.Warn("PDF extracted via whole-document fallback", zap.String("path", path))

	return []Page{{Number: 1, Text: text}}, nil
}

func (e *Extractor) extractHTML(path string) ([]Page, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot open html: %v", ErrExtraction, err)
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot parse html: %v", ErrExtraction, err)
	}

	doc.Find("script, style, nav, footer, header, aside").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})

	text := doc.Find("body").Text()
	text = strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
	if text == "" {
		return nil, fmt.Errorf("%w: html body has no text", ErrExtraction)
	}

	return []Page{{Text: text}}, nil
}

func (e *Extractor) extractPlainText(path string) ([]Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot read file: %v", ErrExtraction, err)
	}

	if !isLikelyText(data) {
		return nil, fmt.Errorf("%w: file is not text", ErrExtraction)
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil, fmt.Errorf("%w: file is empty", ErrExtraction)
	}

	return []Page{{Text: text}}, nil
}

func hasExt(path, contentType string, exts ...string) bool {
	if contentType != "" {
		return false
	}
	got := strings.ToLower(filepath.Ext(path))
	for _, ext := range exts {
		if got == ext {
			return true
		}
	}
	return false
}

func isLikelyText(data []byte) bool {
	if bytes.IndexByte(data, 0) >= 0 {
		return false
	}
	return true
}

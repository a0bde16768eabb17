package extract

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}
	return path
}

func TestExtractPlainText(t *testing.T) {
	path := writeTemp(t, "notes.txt", "  hello world\nsecond line  ")

	pages, err := New().Extract(path, "text/plain")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pages) != 1 {
		t.Fatalf("expected 1 page, got %d", len(pages))
	}
	if pages[0].Number != 0 {
		t.Errorf("plain text should have no page number, got %d", pages[0].Number)
	}
	if pages[0].Text != "hello world\nsecond line" {
		t.Errorf("unexpected text: %q", pages[0].Text)
	}
}

func TestExtractPlainTextEmpty(t *testing.T) {
	path := writeTemp(t, "empty.txt", "   \n  ")

	_, err := New().Extract(path, "text/plain")
	if !errors.Is(err, ErrExtraction) {
		t.Fatalf("expected ErrExtraction, got %v", err)
	}
}

func TestExtractPlainTextRejectsBinary(t *testing.T) {
	path := writeTemp(t, "blob.bin", "abc\x00def")

	_, err := New().Extract(path, "application/octet-stream")
	if !errors.Is(err, ErrExtraction) {
		t.Fatalf("expected ErrExtraction, got %v", err)
	}
}

func TestExtractHTMLStripsChrome(t *testing.T) {
	html := `<html><head><style>p{color:red}</style></head><body>
		<nav>menu</nav>
		<script>alert(1)</script>
		<p>First paragraph.</p>
		<p>Second   paragraph.</p>
		<footer>copyright</footer>
	</body></html>`
	path := writeTemp(t, "page.html", html)

	pages, err := New().Extract(path, "text/html")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pages) != 1 {
		t.Fatalf("expected 1 page, got %d", len(pages))
	}

	text := pages[0].Text
	for _, banned := range []string{"menu", "alert", "copyright", "color:red"} {
		if strings.Contains(text, banned) {
			t.Errorf("non-content text %q survived extraction: %q", banned, text)
		}
	}
	if !strings.Contains(text, "First paragraph.") || !strings.Contains(text, "Second paragraph.") {
		t.Errorf("paragraph text missing or not normalized: %q", text)
	}
}

func TestExtractRoutesByExtensionWhenTypeMissing(t *testing.T) {
	path := writeTemp(t, "page.html", "<html><body><p>by extension</p></body></html>")

	pages, err := New().Extract(path, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(pages[0].Text, "by extension") {
		t.Errorf("extension routing failed: %q", pages[0].Text)
	}
}

func TestExtractPDFBadFile(t *testing.T) {
	path := writeTemp(t, "fake.pdf", "not a pdf at all")

	_, err := New().Extract(path, "application/pdf")
	if !errors.Is(err, ErrExtraction) {
		t.Fatalf("expected ErrExtraction, got %v", err)
	}
}

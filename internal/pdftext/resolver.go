// Package pdftext decides whether a PDF carries usable text or has to be
// rasterized for OCR.
package pdftext

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/gen2brain/go-fitz"
)

// Config holds the acceptance thresholds for embedded text.
type Config struct {
	// MinChars is the shortest embedded text worth keeping.
	MinChars int
	// MinPrintable is the required share of printable characters.
	MinPrintable float64
	// Text with more than MaxPlaceholders undecodable glyphs making up more
	// than PlaceholderShare of its length is treated as a scan.
	MaxPlaceholders  int
	PlaceholderShare float64
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		MinChars:         20,
		MinPrintable:     0.85,
		MaxPlaceholders:  5,
		PlaceholderShare: 0.15,
	}
}

// Source is what a PDF offers to the OCR stage. Both fields are empty when
// neither text extraction nor rasterization worked.
type Source struct {
	Text  string
	Image []byte
}

// Resolver picks the text source for PDFs.
type Resolver struct {
	cfg        Config
	rasterizer Rasterizer
}

// NewResolver returns a Resolver that falls back to rasterizer for scans.
func NewResolver(cfg Config, rasterizer Rasterizer) *Resolver {
	return &Resolver{cfg: cfg, rasterizer: rasterizer}
}

// Resolve returns the embedded text if it is usable, otherwise an image of
// page one.
func (r *Resolver) Resolve(ctx context.Context, pdf []byte) Source {
	text, err := EmbeddedText(pdf)
	if err != nil {
		slog.Warn("PDF text extraction failed", "error", err)
	} else if r.Acceptable(text) {
		slog.Info("PDF direct text extraction", "chars", len(text))
		return Source{Text: text}
	}

	if r.rasterizer == nil {
		return Source{}
	}
	img, err := r.rasterizer.Rasterize(ctx, pdf)
	if err != nil {
		slog.Warn("PDF rasterization failed, OCR will see the PDF bytes", "error", err)
		return Source{}
	}
	return Source{Image: img}
}

// EmbeddedText returns the text layer of every page.
func EmbeddedText(pdf []byte) (string, error) {
	doc, err := fitz.NewFromMemory(pdf)
	if err != nil {
		return "", fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	var b strings.Builder
	for i := 0; i < doc.NumPage(); i++ {
		text, err := doc.Text(i)
		if err != nil {
			return "", fmt.Errorf("extracting text from page %d: %w", i+1, err)
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(text)
	}
	return strings.TrimSpace(b.String()), nil
}

var cidRe = regexp.MustCompile(`\(cid:\d+\)`)

// cidTokenLen approximates the length of one "(cid:N)" token.
const cidTokenLen = 8

// Acceptable reports whether embedded text looks like real text rather than
// a scan wrapped in a PDF.
func (r *Resolver) Acceptable(text string) bool {
	text = strings.TrimSpace(text)
	n := utf8.RuneCountInString(text)
	if n < r.cfg.MinChars {
		return false
	}

	printable, replacement := 0, 0
	for _, c := range text {
		if c == utf8.RuneError {
			replacement++
			continue
		}
		if unicode.IsPrint(c) || c == '\n' || c == '\t' || c == ' ' {
			printable++
		}
	}
	if float64(printable)/float64(n) < r.cfg.MinPrintable {
		slog.Warn("PDF text is mostly non-printable, treating as scan")
		return false
	}

	cids := len(cidRe.FindAllStringIndex(text, -1))
	if placeholders := cids + replacement; placeholders > r.cfg.MaxPlaceholders {
		share := float64(cids*cidTokenLen+replacement) / float64(n)
		if share > r.cfg.PlaceholderShare {
			slog.Warn("PDF text has undecodable glyphs, treating as scan", "placeholders", placeholders, "share", share)
			return false
		}
	}
	return true
}

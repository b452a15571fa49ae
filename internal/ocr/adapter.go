package ocr

import (
	"bytes"
	"context"
	"log/slog"
	"strings"

	"github.com/PStewardYUL/receipt-ai/internal/anchors"
	"github.com/PStewardYUL/receipt-ai/internal/extraction"
	"github.com/PStewardYUL/receipt-ai/internal/imageprep"
	"github.com/PStewardYUL/receipt-ai/internal/pdftext"
)

const bottomRescanMarker = "\n\n[BOTTOM REGION RESCAN]\n"

// LogoIdentifier guesses a brand from the header of a receipt image.
type LogoIdentifier interface {
	Identify(ctx context.Context, img []byte) string
}

// Stage is one recognizer in the fallback order and the provenance its
// text is reported with.
type Stage struct {
	Recognizer Recognizer
	Provenance extraction.Provenance
}

// Config holds the adapter thresholds.
type Config struct {
	// MinLength is the shortest text accepted from any source.
	MinLength int
	// BottomFraction is the share of the page rescanned when no total was
	// found in the first pass.
	BottomFraction float64
}

func DefaultConfig() Config {
	return Config{MinLength: 40, BottomFraction: 0.45}
}

// Adapter runs the text-source decision and the recognizer fallbacks.
type Adapter struct {
	cfg        Config
	resolver   *pdftext.Resolver
	normalizer *imageprep.Normalizer
	stages     []Stage
	anchors    *anchors.Extractor
	logo       LogoIdentifier
}

// NewAdapter returns an Adapter trying stages in order. logo may be nil.
func NewAdapter(cfg Config, resolver *pdftext.Resolver, normalizer *imageprep.Normalizer, logo LogoIdentifier, stages ...Stage) *Adapter {
	if cfg.MinLength <= 0 {
		cfg.MinLength = 40
	}
	if cfg.BottomFraction <= 0 || cfg.BottomFraction > 1 {
		cfg.BottomFraction = 0.45
	}
	return &Adapter{
		cfg:        cfg,
		resolver:   resolver,
		normalizer: normalizer,
		stages:     stages,
		anchors:    anchors.New(),
		logo:       logo,
	}
}

// Stages returns the configured recognizers in order.
func (a *Adapter) Stages() []Stage {
	return a.stages
}

// Extract returns the best text it can get for doc. It never fails; an
// unreadable document comes back with the failed provenance.
func (a *Adapter) Extract(ctx context.Context, doc extraction.Document) extraction.Text {
	img := doc.Data

	if doc.IsPDF() && a.resolver != nil {
		src := a.resolver.Resolve(ctx, doc.Data)
		if len(strings.TrimSpace(src.Text)) >= a.cfg.MinLength {
			return extraction.Text{Text: src.Text, Provenance: extraction.ProvenanceEmbeddedPDF}
		}
		if len(src.Image) > 0 {
			img = src.Image
		}
	}

	prepared := img
	if a.normalizer != nil {
		prepared = a.normalizer.Normalize(img)
	}

	var hint string
	if a.logo != nil {
		hint = a.logo.Identify(ctx, prepared)
		slog.Info("logo scan result", "document", doc.ID, "hint", hint)
	}

	out, ok := a.recognize(ctx, doc.ID, prepared)
	if !ok && !bytes.Equal(prepared, img) {
		// Normalization can hurt some inputs; give the recognizers the raw page.
		if raw, rawOK := a.recognize(ctx, doc.ID, img); rawOK || len(raw.Text) > len(out.Text) {
			out, ok = raw, rawOK
		}
	}
	out.LogoHint = hint
	if ok {
		return out
	}

	if len(strings.TrimSpace(doc.Text)) >= a.cfg.MinLength {
		slog.Warn("recognizers failed, using pre-extracted text", "document", doc.ID, "chars", len(doc.Text))
		return extraction.Text{Text: doc.Text, Provenance: extraction.ProvenanceFallback, LogoHint: hint}
	}
	if out.Text != "" {
		return out
	}
	slog.Warn("no text recovered", "document", doc.ID)
	return extraction.Text{Provenance: extraction.ProvenanceFailed, LogoHint: hint}
}

// recognize walks the stages until one returns enough text. When none does
// it reports false along with the longest short answer, if any.
func (a *Adapter) recognize(ctx context.Context, docID string, img []byte) (extraction.Text, bool) {
	var (
		best      string
		bestStage Stage
	)
	for _, st := range a.stages {
		if ctx.Err() != nil {
			break
		}
		text, err := st.Recognizer.Recognize(ctx, img)
		if err != nil {
			slog.Warn("recognizer failed", "document", docID, "engine", st.Recognizer.Name(), "error", err)
			continue
		}
		text = strings.TrimSpace(text)
		if len(text) >= a.cfg.MinLength {
			slog.Info("text recognized", "document", docID, "engine", st.Recognizer.Name(), "chars", len(text))
			return a.finish(ctx, docID, st, img, text), true
		}
		slog.Info("recognizer returned too little text", "document", docID, "engine", st.Recognizer.Name(), "chars", len(text))
		if len(text) > len(best) {
			best, bestStage = text, st
		}
	}
	if best == "" {
		return extraction.Text{}, false
	}
	return extraction.Text{Text: NormalizeDecimals(best), Provenance: bestStage.Provenance}, false
}

// finish normalizes decimals and, when the quick anchor pass finds no
// total, appends a rescan of the bottom of the page.
func (a *Adapter) finish(ctx context.Context, docID string, st Stage, img []byte, text string) extraction.Text {
	text = NormalizeDecimals(text)

	if _, ok := a.anchors.Extract(text).Amount(extraction.FieldTotal); !ok {
		if bottom := imageprep.CropBottom(img, a.cfg.BottomFraction); bottom != nil {
			extra, err := st.Recognizer.Recognize(ctx, bottom)
			switch {
			case err != nil:
				slog.Warn("bottom rescan failed", "document", docID, "error", err)
			case strings.TrimSpace(extra) != "":
				extra = NormalizeDecimals(strings.TrimSpace(extra))
				text += bottomRescanMarker + extra
				slog.Info("bottom rescan added text", "document", docID, "chars", len(extra))
			}
		}
	}
	return extraction.Text{Text: text, Provenance: st.Provenance}
}

package pdftext

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gen2brain/go-fitz"
)

// Rasterizer renders the first page of a PDF as an image.
type Rasterizer interface {
	Rasterize(ctx context.Context, pdf []byte) ([]byte, error)
}

// Runner runs an external command.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run executes name and returns its combined output.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("running %s: %w", name, err)
	}
	return out, nil
}

// Pdftoppm rasterizes with the poppler command line tool.
type Pdftoppm struct {
	Binary  string
	DPI     int
	Timeout time.Duration
	Runner  Runner
}

// NewPdftoppm returns a Pdftoppm rendering at 200 DPI with a 60s timeout.
func NewPdftoppm() *Pdftoppm {
	return &Pdftoppm{Binary: "pdftoppm", DPI: 200, Timeout: 60 * time.Second, Runner: ExecRunner{}}
}

// Rasterize writes the PDF to a temporary directory and renders page one to
// JPEG.
func (p *Pdftoppm) Rasterize(ctx context.Context, pdf []byte) ([]byte, error) {
	dir, err := os.MkdirTemp("", "receipt-pdf-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "in.pdf")
	if err := os.WriteFile(in, pdf, 0o600); err != nil {
		return nil, fmt.Errorf("writing PDF: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	prefix := filepath.Join(dir, "page")
	dpi := strconv.Itoa(p.DPI)
	out, err := p.Runner.Run(ctx, p.Binary, "-jpeg", "-r", dpi, "-f", "1", "-l", "1", in, prefix)
	if err != nil {
		switch {
		case errors.Is(err, exec.ErrNotFound):
			return nil, fmt.Errorf("%s not available: %w", p.Binary, err)
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return nil, fmt.Errorf("%s timed out after %s: %w", p.Binary, p.Timeout, err)
		}
		return nil, fmt.Errorf("%s failed: %s: %w", p.Binary, bytes.TrimSpace(out), err)
	}

	files, err := filepath.Glob(prefix + "*.jpg")
	if err != nil || len(files) == 0 {
		return nil, fmt.Errorf("%s produced no image", p.Binary)
	}
	img, err := os.ReadFile(files[0])
	if err != nil {
		return nil, fmt.Errorf("reading rendered page: %w", err)
	}
	slog.Debug("PDF rasterized", "kb", len(img)/1024, "dpi", p.DPI)
	return img, nil
}

// Fitz rasterizes in process with MuPDF.
type Fitz struct {
	DPI float64
}

// Rasterize renders page one to JPEG.
func (f Fitz) Rasterize(_ context.Context, pdf []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(pdf)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.ImageDPI(0, f.DPI)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("encoding JPEG: %w", err)
	}
	return buf.Bytes(), nil
}

// Chain tries each rasterizer in order and returns the first image.
type Chain []Rasterizer

// Rasterize returns the first successful rendering, or the joined errors.
func (c Chain) Rasterize(ctx context.Context, pdf []byte) ([]byte, error) {
	var errs []error
	for _, r := range c {
		img, err := r.Rasterize(ctx, pdf)
		if err == nil {
			return img, nil
		}
		slog.Debug("rasterizer failed, trying next", "error", err)
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, errors.New("no rasterizer configured")
	}
	return nil, errors.Join(errs...)
}

// DefaultRasterizer tries pdftoppm, then MuPDF.
func DefaultRasterizer() Rasterizer {
	return Chain{NewPdftoppm(), Fitz{DPI: 200}}
}

package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/PStewardYUL/receipt-ai/internal/lazy"
	"github.com/otiai10/gosseract/v2"
)

// minTrainedData is the smallest traineddata file considered complete.
const minTrainedData = 1024

// TesseractConfig configures the local OCR engine.
type TesseractConfig struct {
	Languages []string
	// DataDir overrides TESSDATA_PREFIX. Broken model files here are purged
	// before a retried initialization.
	DataDir string
	// RowBand is the vertical distance in pixels below which two text
	// lines are read as one row.
	RowBand int
	Timeout time.Duration
}

// DefaultTesseractConfig reads English and French.
func DefaultTesseractConfig() TesseractConfig {
	return TesseractConfig{
		Languages: []string{"eng", "fra"},
		RowBand:   15,
		Timeout:   60 * time.Second,
	}
}

// Tesseract is the local OCR engine. The underlying client is created on
// first use and shared; calls are serialized.
type Tesseract struct {
	cfg    TesseractConfig
	engine *lazy.Handle[*gosseract.Client]
	mu     sync.Mutex
}

// NewTesseract returns a Tesseract recognizer. Nothing is loaded until the
// first call.
func NewTesseract(cfg TesseractConfig) *Tesseract {
	if cfg.RowBand <= 0 {
		cfg.RowBand = 15
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{"eng"}
	}
	t := &Tesseract{cfg: cfg}
	t.engine = lazy.New(t.build, lazy.Options{
		Name:        "tesseract",
		Cleanup:     t.purgeBrokenModels,
		Recoverable: modelFileError,
	})
	return t
}

func (t *Tesseract) Name() string { return "tesseract" }

// build creates a client and runs it once on a blank page so that missing
// or corrupt language data fails here instead of on a real document.
func (t *Tesseract) build(ctx context.Context) (*gosseract.Client, error) {
	client := gosseract.NewClient()
	if t.cfg.DataDir != "" {
		if err := client.SetTessdataPrefix(t.cfg.DataDir); err != nil {
			client.Close()
			return nil, fmt.Errorf("setting tessdata prefix: %w", err)
		}
	}
	if err := client.SetLanguage(t.cfg.Languages...); err != nil {
		client.Close()
		return nil, fmt.Errorf("setting languages: %w", err)
	}
	if err := client.SetImageFromBytes(blankPage()); err != nil {
		client.Close()
		return nil, fmt.Errorf("loading probe image: %w", err)
	}
	if _, err := client.Text(); err != nil {
		client.Close()
		return nil, fmt.Errorf("probing tesseract: %w", err)
	}
	return client, nil
}

// Ready initializes the engine if needed.
func (t *Tesseract) Ready(ctx context.Context) bool {
	_, err := t.engine.Get(ctx)
	return err == nil
}

type recognition struct {
	text string
	err  error
}

// Recognize reads img and returns its lines in reading order. A call that
// runs past the timeout is abandoned.
func (t *Tesseract) Recognize(ctx context.Context, img []byte) (string, error) {
	client, err := t.engine.Get(ctx)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	done := make(chan recognition, 1)
	go func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		text, err := t.read(client, img)
		done <- recognition{text: text, err: err}
	}()

	select {
	case r := <-done:
		return r.text, r.err
	case <-ctx.Done():
		slog.Warn("tesseract timed out", "timeout", t.cfg.Timeout)
		return "", fmt.Errorf("tesseract: %w", ctx.Err())
	}
}

func (t *Tesseract) read(client *gosseract.Client, img []byte) (string, error) {
	if err := client.SetImageFromBytes(img); err != nil {
		return "", fmt.Errorf("loading image: %w", err)
	}
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return "", fmt.Errorf("reading text lines: %w", err)
	}
	frags := make([]Fragment, 0, len(boxes))
	for _, b := range boxes {
		frags = append(frags, Fragment{Text: b.Word, Box: b.Box})
	}
	text := JoinRows(frags, t.cfg.RowBand)
	slog.Debug("tesseract finished", "lines", len(boxes), "chars", len(text))
	return text, nil
}

// Close releases the client if it was created.
func (t *Tesseract) Close() error {
	if !t.engine.Ready() {
		return nil
	}
	client, err := t.engine.Get(context.Background())
	if err != nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return client.Close()
}

func (t *Tesseract) purgeBrokenModels() error {
	dir := t.cfg.DataDir
	if dir == "" {
		dir = os.Getenv("TESSDATA_PREFIX")
	}
	if dir == "" {
		return nil
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.traineddata"))
	if err != nil {
		return err
	}
	var errs []error
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil || info.Size() >= minTrainedData {
			continue
		}
		slog.Warn("removing broken language data", "file", f, "bytes", info.Size())
		if err := os.Remove(f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func modelFileError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"traineddata", "failed loading language", "tessdata", "no such file"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func blankPage() []byte {
	img := image.NewGray(image.Rect(0, 0, 32, 32))
	for i := range img.Pix {
		img.Pix[i] = uint8(color.White.Y >> 8)
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

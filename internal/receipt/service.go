// Package receipt wraps the extraction pipeline in a service: per-document
// timeouts, an OCR text cache, stored outcomes, an inbox batch runner and an
// HTTP API.
package receipt

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/PStewardYUL/receipt-ai/internal/extraction"
)

// TextExtractor produces text from a document. *ocr.Adapter implements it.
type TextExtractor interface {
	Extract(ctx context.Context, doc extraction.Document) extraction.Text
}

// Parser turns text into a validated receipt. *parser.Parser implements it.
type Parser interface {
	Parse(ctx context.Context, text extraction.Text, vendorHints []string) extraction.Result
}

// Engine is a recognition engine that can report readiness.
type Engine interface {
	Name() string
	Ready(ctx context.Context) bool
}

// IDGenerator generates unique IDs for documents and batch runs
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Config holds the service limits.
type Config struct {
	// Timeout bounds the whole pipeline for one document.
	Timeout time.Duration
	// Embedded PDF text longer than MaxReceiptChars is checked for a bank
	// statement and, if it is not one, cut to HeadChars + TailChars.
	MaxReceiptChars int
	HeadChars       int
	TailChars       int
	// A statement has at least StatementKeywords keywords and more than
	// StatementChars characters.
	StatementKeywords int
	StatementChars    int
	// ReviewBelow is the confidence under which a receipt is flagged.
	ReviewBelow    float64
	MaxVendorHints int
}

func DefaultConfig() Config {
	return Config{
		Timeout:           300 * time.Second,
		MaxReceiptChars:   15000,
		HeadChars:         8000,
		TailChars:         2000,
		StatementKeywords: 3,
		StatementChars:    200000,
		ReviewBelow:       0.65,
		MaxVendorHints:    20,
	}
}

// Skip reasons.
const (
	ReasonNoText    = "no_text"
	ReasonStatement = "statement_detected"
)

const omissionMarker = "\n\n[... middle section omitted ...]\n\n"

var statementKeywords = []string{
	"account summary", "account balance", "previous balance",
	"new balance", "credit limit", "available credit",
	"payment due date", "minimum payment", "annual fee",
	"transaction date", "posting date", "merchant name",
	"opening balance", "closing balance", "interest charged",
	"finance charge", "periodic rate", "annual percentage",
}

// Service runs documents through the pipeline and records the outcomes
type Service struct {
	db          DB
	storage     Storage
	extractor   TextExtractor
	parser      Parser
	engines     []Engine
	cfg         Config
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, storage Storage, extractor TextExtractor, parser Parser, cfg Config) *Service {
	return NewServiceWithDeps(db, storage, extractor, parser, cfg, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, storage Storage, extractor TextExtractor, parser Parser, cfg Config, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		storage:     storage,
		extractor:   extractor,
		parser:      parser,
		cfg:         cfg,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// WithEngines registers the engines reported by Health.
func (s *Service) WithEngines(engines ...Engine) *Service {
	s.engines = engines
	return s
}

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	reg := regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	base = reg.ReplaceAllString(base, "")

	reg = regexp.MustCompile(`\s+`)
	base = reg.ReplaceAllString(base, " ")

	base = strings.TrimSpace(base)

	maxLen := 50
	if len(base) > maxLen {
		base = base[:maxLen]
	}

	if base == "" {
		base = "receipt"
	}

	return base + ext
}

// contentTypeFromName guesses a MIME type from a file extension.
func contentTypeFromName(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".tif", ".tiff":
		return "image/tiff"
	case ".bmp":
		return "image/bmp"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// Upload saves a file to the inbox and processes it.
func (s *Service) Upload(ctx context.Context, filename string, data []byte, contentType string, force bool) (extraction.Outcome, error) {
	id := s.idGenerator.Generate()

	savedPath, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), data)
	if err != nil {
		return extraction.Outcome{}, fmt.Errorf("saving file: %w", err)
	}

	doc := extraction.Document{
		ID:          id,
		Name:        savedPath,
		Data:        data,
		Kind:        extraction.KindFromContentType(contentType),
		ContentType: contentType,
	}
	return s.Process(ctx, doc, force), nil
}

// ProcessFile reads a file from disk and processes it without copying it to
// the inbox. The document ID is the file's base name.
func (s *Service) ProcessFile(ctx context.Context, path string, force bool) (extraction.Outcome, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return extraction.Outcome{}, fmt.Errorf("reading %s: %w", path, err)
	}

	name := filepath.Base(path)
	contentType := contentTypeFromName(name)
	doc := extraction.Document{
		ID:          name,
		Name:        name,
		Data:        data,
		Kind:        extraction.KindFromContentType(contentType),
		ContentType: contentType,
	}
	return s.Process(ctx, doc, force), nil
}

// Process runs one document through the pipeline and stores the outcome. It
// never fails; a timeout or panic becomes an outcome with StatusError.
func (s *Service) Process(ctx context.Context, doc extraction.Document, force bool) extraction.Outcome {
	if doc.ID == "" {
		doc.ID = s.idGenerator.Generate()
	}
	hash := contentHash(doc.Data)
	start := s.timeSource.Now()

	outcome := s.run(ctx, doc, hash, force)
	outcome.DocumentID = doc.ID

	record := &Record{
		ID:          doc.ID,
		Filename:    doc.Name,
		ContentType: doc.ContentType,
		SHA256:      hash,
		Outcome:     outcome,
		CreatedAt:   start,
	}
	if outcome.Result != nil && outcome.Result.IsReceipt {
		record.Review = ReviewReasons(*outcome.Result, s.cfg.ReviewBelow)
	}
	if err := s.db.SaveRecord(record); err != nil {
		slog.Error("Failed to save record", "id", doc.ID, "error", err)
	}

	attrs := []any{"id", doc.ID, "status", outcome.Status, "ocr_method", outcome.Provenance}
	if outcome.Reason != "" {
		attrs = append(attrs, "reason", outcome.Reason)
	}
	if outcome.Error != "" {
		attrs = append(attrs, "error", outcome.Error)
	}
	if outcome.Result != nil {
		attrs = append(attrs, "vendor", outcome.Result.Vendor, "total", outcome.Result.Total, "confidence", outcome.Result.Confidence)
	}
	if len(record.Review) > 0 {
		attrs = append(attrs, "review", strings.Join(record.Review, "|"))
	}
	slog.Info("Document processed", attrs...)
	return outcome
}

// run bounds the pipeline with the document timeout and turns a panic into
// an error outcome.
func (s *Service) run(ctx context.Context, doc extraction.Document, hash string, force bool) extraction.Outcome {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	done := make(chan extraction.Outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Pipeline panic", "id", doc.ID, "panic", r)
				done <- extraction.Outcome{Status: extraction.StatusError, Error: fmt.Sprintf("panic: %v", r)}
			}
		}()
		done <- s.pipeline(ctx, doc, hash, force)
	}()

	select {
	case out := <-done:
		return out
	case <-ctx.Done():
		msg := ctx.Err().Error()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			msg = "timeout"
		}
		return extraction.Outcome{Status: extraction.StatusError, Error: msg}
	}
}

func (s *Service) pipeline(ctx context.Context, doc extraction.Document, hash string, force bool) extraction.Outcome {
	text, fresh := s.text(ctx, doc, hash, force)

	if text.Provenance == extraction.ProvenanceEmbeddedPDF {
		if n := utf8.RuneCountInString(text.Text); n > s.cfg.MaxReceiptChars {
			if s.looksLikeStatement(text.Text) {
				slog.Warn("Bank statement detected, skipping", "id", doc.ID, "chars", n)
				return extraction.Outcome{Status: extraction.StatusSkipped, Reason: ReasonStatement, Provenance: text.Provenance}
			}
			text.Text = s.truncateMiddle(text.Text)
			slog.Info("Large document truncated", "id", doc.ID, "chars", n, "kept", utf8.RuneCountInString(text.Text))
		}
	}

	if strings.TrimSpace(text.Text) == "" {
		return extraction.Outcome{Status: extraction.StatusSkipped, Reason: ReasonNoText, Provenance: text.Provenance}
	}
	if fresh && hash != "" {
		if err := s.db.SaveText(hash, text.Text); err != nil {
			slog.Warn("Failed to cache text", "id", doc.ID, "error", err)
		}
	}

	hints := doc.VendorHints
	if len(hints) == 0 {
		hints = s.knownVendors()
	}
	result := s.parser.Parse(ctx, text, hints)
	return extraction.Outcome{Status: extraction.StatusDone, Provenance: text.Provenance, Result: &result}
}

// text returns the document text and whether it came from a recognizer run
// rather than the cache. Cached text is reused unless force is set, and is
// preferred over the pre-extracted fallback when recognition fails.
func (s *Service) text(ctx context.Context, doc extraction.Document, hash string, force bool) (extraction.Text, bool) {
	var cached string
	if hash != "" {
		t, err := s.db.GetText(hash)
		switch {
		case err == nil:
			cached = t
		case !errors.Is(err, ErrNotFound):
			slog.Warn("Failed to read text cache", "id", doc.ID, "error", err)
		}
	}
	if cached != "" && !force {
		return extraction.Text{Text: cached, Provenance: extraction.ProvenanceCached}, false
	}

	text := s.extractor.Extract(ctx, doc)
	switch text.Provenance {
	case extraction.ProvenanceFailed, extraction.ProvenanceFallback:
		if cached != "" {
			slog.Info("Recognition failed, using cached text", "id", doc.ID)
			return extraction.Text{Text: cached, Provenance: extraction.ProvenanceCached}, false
		}
		return text, false
	}
	return text, true
}

func (s *Service) looksLikeStatement(text string) bool {
	if utf8.RuneCountInString(text) <= s.cfg.StatementChars {
		return false
	}
	lower := strings.ToLower(text)
	matches := 0
	for _, kw := range statementKeywords {
		if strings.Contains(lower, kw) {
			matches++
		}
	}
	return matches >= s.cfg.StatementKeywords
}

// truncateMiddle keeps the head, where the summary page is, and the tail.
func (s *Service) truncateMiddle(text string) string {
	runes := []rune(text)
	if len(runes) <= s.cfg.HeadChars {
		return text
	}
	head := string(runes[:s.cfg.HeadChars])
	tailStart := len(runes) - s.cfg.TailChars
	if tailStart < s.cfg.HeadChars {
		tailStart = s.cfg.HeadChars
	}
	return head + omissionMarker + string(runes[tailStart:])
}

// knownVendors lists distinct vendors of stored receipts.
func (s *Service) knownVendors() []string {
	records, err := s.db.ListRecords()
	if err != nil {
		slog.Warn("Failed to list known vendors", "error", err)
		return nil
	}
	seen := make(map[string]bool)
	var vendors []string
	for _, r := range records {
		res := r.Outcome.Result
		if res == nil || !res.IsReceipt || res.Vendor == "" || seen[res.Vendor] {
			continue
		}
		seen[res.Vendor] = true
		vendors = append(vendors, res.Vendor)
	}
	sort.Strings(vendors)
	if len(vendors) > s.cfg.MaxVendorHints {
		vendors = vendors[:s.cfg.MaxVendorHints]
	}
	return vendors
}

// ReviewReasons lists why a receipt should be checked by a person.
func ReviewReasons(r extraction.Result, below float64) []string {
	var reasons []string
	if r.Confidence < below {
		reasons = append(reasons, "low_confidence")
	}
	if r.Total <= 0 {
		reasons = append(reasons, "missing_total")
	}
	if r.Date == "" {
		reasons = append(reasons, "missing_date")
	}
	if r.Vendor == "" {
		reasons = append(reasons, "missing_vendor")
	}
	return reasons
}

// GetRecord retrieves a stored outcome by document ID
func (s *Service) GetRecord(id string) (*Record, error) {
	record, err := s.db.GetRecord(id)
	if err != nil {
		return nil, fmt.Errorf("getting record: %w", err)
	}
	return record, nil
}

// ListRecords returns all stored outcomes
func (s *Service) ListRecords() ([]*Record, error) {
	records, err := s.db.ListRecords()
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	return records, nil
}

// Health reports the readiness of each registered engine.
func (s *Service) Health(ctx context.Context) map[string]bool {
	out := make(map[string]bool, len(s.engines))
	for _, e := range s.engines {
		out[e.Name()] = e.Ready(ctx)
	}
	return out
}

func contentHash(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

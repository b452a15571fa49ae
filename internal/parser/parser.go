// Package parser turns OCR text into a validated receipt, using the
// deterministic anchors first and a language model for what they miss.
package parser

import (
	"context"
	"log/slog"
	"math"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/PStewardYUL/receipt-ai/internal/anchors"
	"github.com/PStewardYUL/receipt-ai/internal/extraction"
	"github.com/PStewardYUL/receipt-ai/internal/llm"
	"github.com/PStewardYUL/receipt-ai/internal/logo"
	"github.com/PStewardYUL/receipt-ai/internal/validate"
)

// Config holds the parser constants.
type Config struct {
	// MinTextLength is the shortest text treated as a possible receipt.
	MinTextLength int
	// PromptTextLimit and SecondPassTextLimit bound the text sent to the
	// model, in characters.
	PromptTextLimit     int
	SecondPassTextLimit int
	MaxVendorHints      int
	MaxTokens           int
	// TotalTolerance is the largest gap between the model total and the
	// anchored total that keeps the model's value.
	TotalTolerance float64
	// SecondPassBelow triggers a follow-up prompt for missing fields when
	// the validated confidence is under it.
	SecondPassBelow float64
	// DegradedConfidence is the base confidence of anchor-only results after
	// the model failed twice.
	DegradedConfidence float64
	// Base confidence when the anchors found vendor, date and total.
	CompleteWithTax    float64
	CompleteWithoutTax float64
}

func DefaultConfig() Config {
	return Config{
		MinTextLength:       40,
		PromptTextLimit:     8000,
		SecondPassTextLimit: 5000,
		MaxVendorHints:      20,
		MaxTokens:           768,
		TotalTolerance:      1.00,
		SecondPassBelow:     0.65,
		DegradedConfidence:  0.4,
		CompleteWithTax:     0.85,
		CompleteWithoutTax:  0.75,
	}
}

// Parser extracts receipt fields from text.
type Parser struct {
	gen       llm.Generator
	anchors   *anchors.Extractor
	validator *validate.Validator
	cfg       Config

	receiptSchema *jsonschema.Schema
	missingSchema *jsonschema.Schema
}

// New returns a Parser. gen may be nil, in which case only the anchors are
// used.
func New(gen llm.Generator, validator *validate.Validator, cfg Config) (*Parser, error) {
	receiptSchema, err := compileSchema("receipt.json")
	if err != nil {
		return nil, err
	}
	missingSchema, err := compileSchema("missing.json")
	if err != nil {
		return nil, err
	}
	return &Parser{
		gen:           gen,
		anchors:       anchors.New(),
		validator:     validator,
		cfg:           cfg,
		receiptSchema: receiptSchema,
		missingSchema: missingSchema,
	}, nil
}

// modelAnswer is the JSON the extraction prompt asks for.
type modelAnswer struct {
	IsReceipt  bool               `json:"is_receipt"`
	Vendor     *string            `json:"vendor"`
	Date       *string            `json:"date"`
	Total      extraction.Amount  `json:"total"`
	PreTax     extraction.Amount  `json:"pre_tax"`
	GST        extraction.Amount  `json:"gst"`
	QST        extraction.Amount  `json:"qst"`
	PST        extraction.Amount  `json:"pst"`
	HST        extraction.Amount  `json:"hst"`
	Currency   *string            `json:"currency"`
	Confidence *extraction.Amount `json:"confidence"`
}

// missingAnswer is the JSON of the follow-up prompt.
type missingAnswer struct {
	Vendor *string           `json:"vendor"`
	Date   *string           `json:"date"`
	Total  extraction.Amount `json:"total"`
}

type attempt int

const (
	attemptFirst attempt = iota
	attemptRetry
	attemptDegraded
)

func (a attempt) String() string {
	switch a {
	case attemptFirst:
		return "first"
	case attemptRetry:
		return "retry"
	default:
		return "degraded"
	}
}

// Parse returns the validated receipt for text. It never fails: model
// errors fall back to the anchors.
func (p *Parser) Parse(ctx context.Context, text extraction.Text, vendorHints []string) extraction.Result {
	if len(strings.TrimSpace(text.Text)) < p.cfg.MinTextLength {
		slog.Info("text too short to parse", "chars", len(strings.TrimSpace(text.Text)))
		return extraction.Result{Currency: "CAD", Warnings: []string{}, MathValid: true}
	}

	det := p.anchors.Extract(text.Text)
	detContext := det.PromptContext()
	if det.Vendor == "" && logo.Usable(text.LogoHint) {
		det.Vendor = text.LogoHint
		slog.Info("vendor taken from logo", "vendor", det.Vendor)
	}

	if det.Complete() {
		base := p.cfg.CompleteWithoutTax
		if det.HasTax() {
			base = p.cfg.CompleteWithTax
		}
		slog.Info("anchors found vendor, date and total, skipping model", "vendor", det.Vendor, "confidence", base)
		return p.validator.Validate(FromAnchors(det, base), text.Text)
	}
	if p.gen == nil {
		return p.validator.Validate(FromAnchors(det, p.cfg.DegradedConfidence), text.Text)
	}

	answer, state := p.ask(ctx, text.Text, vendorHints, detContext)
	if state == attemptDegraded {
		slog.Warn("model output unusable, using anchors only")
		return p.validator.Validate(FromAnchors(det, p.cfg.DegradedConfidence), text.Text)
	}

	merged := Merge(sanitize(answer), det, p.cfg.TotalTolerance)
	result := p.validator.Validate(merged, text.Text)

	if result.Confidence < p.cfg.SecondPassBelow {
		if missing := missingFields(result); len(missing) > 0 {
			slog.Info("low confidence, asking for missing fields", "confidence", result.Confidence, "missing", missing)
			result = p.secondPass(ctx, text.Text, merged, result, missing)
		}
	}
	return result
}

// ask runs the extraction prompt through the retry states and returns the
// decoded answer, or attemptDegraded when none could be read.
func (p *Parser) ask(ctx context.Context, text string, vendorHints []string, detContext string) (modelAnswer, attempt) {
	if len(vendorHints) > p.cfg.MaxVendorHints {
		vendorHints = vendorHints[:p.cfg.MaxVendorHints]
	}
	prompt := extractionPrompt(truncate(text, p.cfg.PromptTextLimit), vendorHints, detContext)

	var last string
	for state := attemptFirst; state != attemptDegraded; state++ {
		var answer modelAnswer
		req := llm.Request{Prompt: prompt, MaxTokens: p.cfg.MaxTokens}
		if state == attemptRetry {
			req.Prompt = retryPrompt(prompt, last)
		}

		out, err := p.gen.Generate(ctx, req)
		if err != nil {
			slog.Warn("model call failed", "attempt", state, "error", err)
			last = ""
		} else if err := decode(out, p.receiptSchema, &answer); err != nil {
			slog.Warn("model answer unusable", "attempt", state, "error", err, "answer", truncate(out, 300))
			last = out
		} else {
			return answer, state
		}
		if ctx.Err() != nil {
			break
		}
	}
	return modelAnswer{}, attemptDegraded
}

func (p *Parser) secondPass(ctx context.Context, text string, merged extraction.Draft, first extraction.Result, missing []string) extraction.Result {
	out, err := p.gen.Generate(ctx, llm.Request{
		Prompt:    secondPassPrompt(truncate(text, p.cfg.SecondPassTextLimit), missing),
		MaxTokens: p.cfg.MaxTokens,
	})
	if err != nil {
		slog.Warn("second pass failed", "error", err)
		return first
	}
	var patch missingAnswer
	if err := decode(out, p.missingSchema, &patch); err != nil {
		slog.Warn("second pass answer unusable", "error", err)
		return first
	}

	filled := false
	for _, f := range missing {
		switch f {
		case string(extraction.FieldVendor):
			if patch.Vendor != nil && strings.TrimSpace(*patch.Vendor) != "" {
				merged.Vendor = strings.TrimSpace(*patch.Vendor)
				filled = true
			}
		case string(extraction.FieldDate):
			if patch.Date != nil && strings.TrimSpace(*patch.Date) != "" {
				merged.Date = strings.TrimSpace(*patch.Date)
				filled = true
			}
		case string(extraction.FieldTotal):
			if !patch.Total.Empty() {
				merged.Total = sanitizeAmount(patch.Total)
				filled = true
			}
		}
	}
	if !filled {
		return first
	}
	slog.Info("second pass filled fields", "missing", missing)
	return p.validator.Validate(merged, text)
}

// missingFields lists vendor, date and total when the result lacks them.
func missingFields(r extraction.Result) []string {
	var missing []string
	if r.Vendor == "" {
		missing = append(missing, string(extraction.FieldVendor))
	}
	if r.Date == "" {
		missing = append(missing, string(extraction.FieldDate))
	}
	if r.Total <= 0 {
		missing = append(missing, string(extraction.FieldTotal))
	}
	return missing
}

// FromAnchors builds a draft from the anchors alone.
func FromAnchors(det anchors.Result, confidence float64) extraction.Draft {
	d := extraction.Draft{
		IsReceipt:  true,
		Vendor:     det.Vendor,
		Date:       det.Date,
		Currency:   "CAD",
		Confidence: confidence,
	}
	for f, v := range det.Amounts {
		if a := d.Amount(f); a != nil {
			*a = extraction.Of(v)
		}
	}
	return d
}

// Merge combines a sanitized model draft with the anchors. Anchored taxes
// and pre_tax fill empty model values, an anchored total replaces a model
// total that is missing or off by more than tolerance, and anchored vendor
// and date take precedence.
func Merge(model extraction.Draft, det anchors.Result, tolerance float64) extraction.Draft {
	merged := model

	for _, f := range []extraction.Field{extraction.FieldGST, extraction.FieldQST, extraction.FieldPST, extraction.FieldHST, extraction.FieldPreTax} {
		v, ok := det.Amount(f)
		if a := merged.Amount(f); ok && a.Empty() {
			*a = extraction.Of(v)
			slog.Debug("anchor fills empty field", "field", f, "value", v)
		}
	}

	if detTotal, ok := det.Amount(extraction.FieldTotal); ok {
		switch {
		case merged.Total.Empty() || !merged.Total.Parsed():
			merged.Total = extraction.Of(detTotal)
		case math.Abs(detTotal-merged.Total.Value) > tolerance:
			slog.Info("model total disagrees with anchor, using anchor", "model", merged.Total.Value, "anchor", detTotal)
			merged.Total = extraction.Of(detTotal)
		}
	}

	if det.Vendor != "" {
		merged.Vendor = det.Vendor
	}
	if det.Date != "" {
		merged.Date = det.Date
	}
	return merged
}

// sanitize clamps and rounds the model's numbers and fills defaults.
func sanitize(m modelAnswer) extraction.Draft {
	d := extraction.Draft{
		IsReceipt:  m.IsReceipt,
		Total:      sanitizeAmount(m.Total),
		PreTax:     sanitizeAmount(m.PreTax),
		GST:        sanitizeAmount(m.GST),
		QST:        sanitizeAmount(m.QST),
		PST:        sanitizeAmount(m.PST),
		HST:        sanitizeAmount(m.HST),
		Currency:   "CAD",
		Confidence: 0.5,
	}
	if m.Vendor != nil {
		d.Vendor = strings.TrimSpace(*m.Vendor)
	}
	if m.Date != nil {
		d.Date = strings.TrimSpace(*m.Date)
	}
	if m.Currency != nil {
		if c := strings.ToUpper(strings.TrimSpace(*m.Currency)); c != "" {
			if len(c) > 3 {
				c = c[:3]
			}
			d.Currency = c
		}
	}
	if m.Confidence != nil && m.Confidence.Parsed() {
		d.Confidence = math.Max(0, math.Min(1, extraction.Round2(m.Confidence.Value)))
	}
	return d
}

// sanitizeAmount keeps unparsed tokens for the validator to repair.
func sanitizeAmount(a extraction.Amount) extraction.Amount {
	if !a.Parsed() {
		return a
	}
	if !extraction.Finite(a.Value) {
		return extraction.Amount{}
	}
	return extraction.Of(math.Max(0, extraction.Round2(a.Value)))
}

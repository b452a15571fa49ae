// Package anchors finds receipt fields with regular expressions and
// positional heuristics. It never calls a model, and the same text always
// yields the same result.
package anchors

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/PStewardYUL/receipt-ai/internal/extraction"
)

// Anchor is one labelled amount found on a line.
type Anchor struct {
	Field    extraction.Field
	Value    float64
	Priority int
	Line     int
}

// Extractor holds the tables driving a scan. The zero value is not usable;
// call New.
type Extractor struct {
	Rules         []Rule
	DomainVendors []Alias
	KnownVendors  []Alias

	// KnownVendorLines is how many leading lines are searched for a known
	// vendor name.
	KnownVendorLines int
	// HeaderLines is how many leading lines the first-line heuristic reads.
	HeaderLines int
	// TopFraction is the share of lines that counts as the receipt header
	// when scoring dates.
	TopFraction float64
	MinYear     int
	MaxYear     int
}

// New returns an Extractor with the default tables.
func New() *Extractor {
	return &Extractor{
		Rules:            DefaultRules,
		DomainVendors:    DomainVendors,
		KnownVendors:     KnownVendors,
		KnownVendorLines: 10,
		HeaderLines:      8,
		TopFraction:      0.4,
		MinYear:          2000,
		MaxYear:          2035,
	}
}

// Result is the resolved value per field. Absent fields are empty or missing
// from Amounts.
type Result struct {
	Vendor  string
	Date    string
	Amounts map[extraction.Field]float64
}

// Amount returns the resolved amount for f.
func (r Result) Amount(f extraction.Field) (float64, bool) {
	v, ok := r.Amounts[f]
	return v, ok
}

// HasTax reports whether any tax field resolved.
func (r Result) HasTax() bool {
	for _, f := range extraction.TaxFields {
		if _, ok := r.Amounts[f]; ok {
			return true
		}
	}
	return false
}

// Complete reports whether vendor, date and total were all found.
func (r Result) Complete() bool {
	_, ok := r.Amounts[extraction.FieldTotal]
	return ok && r.Vendor != "" && r.Date != ""
}

var promptLabels = []struct {
	field extraction.Field
	label string
}{
	{extraction.FieldVendor, "Vendor"},
	{extraction.FieldDate, "Date"},
	{extraction.FieldTotal, "Total"},
	{extraction.FieldPreTax, "Pre-tax"},
	{extraction.FieldGST, "GST/TPS"},
	{extraction.FieldQST, "QST/TVQ"},
	{extraction.FieldPST, "PST"},
	{extraction.FieldHST, "HST"},
}

// PromptContext formats the findings as a section of a model prompt.
func (r Result) PromptContext() string {
	lines := []string{"=== DETERMINISTIC PRE-SCAN (high confidence, prefer these values) ==="}
	found := false
	for _, pl := range promptLabels {
		var val string
		switch pl.field {
		case extraction.FieldVendor:
			val = r.Vendor
		case extraction.FieldDate:
			val = r.Date
		default:
			if v, ok := r.Amounts[pl.field]; ok {
				val = fmt.Sprintf("%.2f", v)
			}
		}
		if val == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("  %s: %s", pl.label, val))
		found = true
	}
	if !found {
		lines = append(lines, "  (no high-confidence values found; rely on full text analysis)")
	}
	lines = append(lines, "Trust these values unless the full text clearly contradicts them. "+
		"If a field above conflicts with your reading of the text, use the text value "+
		"and lower your confidence score.")
	return strings.Join(lines, "\n")
}

// Anchors returns every labelled amount in text, in line order.
func (e *Extractor) Anchors(text string) []Anchor {
	var out []Anchor
	for idx, line := range Lines(text) {
		clean := fold(line)
		for _, r := range e.Rules {
			if !r.Pattern.MatchString(clean) {
				continue
			}
			v, ok := ParseAmount(line)
			if !ok || v <= 0 {
				continue
			}
			out = append(out, Anchor{Field: r.Field, Value: v, Priority: r.Priority, Line: idx})
		}
	}
	return out
}

// Extract resolves vendor, date and amounts from text.
func (e *Extractor) Extract(text string) Result {
	lines := Lines(text)
	res := Result{
		Vendor:  e.vendor(lines, text),
		Date:    e.date(lines),
		Amounts: resolve(e.Anchors(text)),
	}

	if total, ok := res.Amounts[extraction.FieldTotal]; ok {
		for _, f := range extraction.TaxFields {
			if v, ok := res.Amounts[f]; ok && v >= total {
				slog.Debug("dropping tax anchor not below total", "field", f, "value", v, "total", total)
				delete(res.Amounts, f)
			}
		}
	}

	slog.Info("deterministic scan",
		"vendor", res.Vendor,
		"date", res.Date,
		"total", res.Amounts[extraction.FieldTotal],
		"pre_tax", res.Amounts[extraction.FieldPreTax],
		"gst", res.Amounts[extraction.FieldGST],
		"qst", res.Amounts[extraction.FieldQST],
		"pst", res.Amounts[extraction.FieldPST],
		"hst", res.Amounts[extraction.FieldHST],
	)
	return res
}

// resolve picks one anchor per field. Totals take the bottom-most match at
// the highest priority; other fields take the highest priority, earliest
// line first.
func resolve(found []Anchor) map[extraction.Field]float64 {
	best := map[extraction.Field]Anchor{}
	for _, a := range found {
		cur, ok := best[a.Field]
		if !ok {
			best[a.Field] = a
			continue
		}
		switch {
		case a.Priority > cur.Priority:
			best[a.Field] = a
		case a.Priority < cur.Priority:
		case a.Field == extraction.FieldTotal && a.Line > cur.Line:
			best[a.Field] = a
		}
	}

	out := make(map[extraction.Field]float64, len(best))
	for f, a := range best {
		out[f] = a.Value
	}
	return out
}

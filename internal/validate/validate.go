// Package validate repairs and scores a merged receipt before it is handed
// to the persistence layer.
package validate

import (
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PStewardYUL/receipt-ai/internal/anchors"
	"github.com/PStewardYUL/receipt-ai/internal/extraction"
)

// Warning code prefixes.
const (
	WarnOCRFix           = "OCR_FIX"
	WarnOCRUnparseable   = "OCR_UNPARSEABLE"
	WarnTaxZeroed        = "TAX_SANITY_ZEROED"
	WarnTaxCapped        = "TAX_SANITY_CAPPED"
	WarnDateParseFailed  = "DATE_PARSE_FAILED"
	WarnDateFromOCR      = "DATE_FROM_OCR"
	WarnDateMissing      = "DATE_MISSING"
	WarnMathAdjusted     = "MATH_ADJUSTED_PRETAX"
	WarnMathMismatch     = "MATH_MISMATCH"
	WarnMathInferredPre  = "MATH_INFERRED_PRETAX"
	WarnMathInferredTot  = "MATH_INFERRED_TOTAL"
	WarnMathMissingTotal = "MATH_MISSING_TOTAL"
)

// Penalty is subtracted from the confidence once if any warning starts with
// Prefix.
type Penalty struct {
	Prefix string
	Amount float64
}

// DefaultPenalties are hand tuned. Both tax sanity codes share one category.
var DefaultPenalties = []Penalty{
	{WarnDateMissing, 0.15},
	{WarnDateParseFailed, 0.10},
	{WarnMathMismatch, 0.20},
	{WarnMathMissingTotal, 0.25},
	{WarnOCRUnparseable, 0.15},
	{"TAX_SANITY", 0.10},
}

// Config holds the validation constants.
type Config struct {
	// MathTolerance is the difference between pre_tax+taxes and total that
	// is accepted as rounding.
	MathTolerance float64
	// AdjustLimit is the largest difference repaired by rewriting pre_tax.
	AdjustLimit float64
	// MaxTaxRatio is the largest share of the total a single tax may be.
	MaxTaxRatio float64
	Penalties   []Penalty
	// Bonus is added for each of: vendor, date, total and a tax present.
	Bonus float64
	// Dates outside [MinDate, end of the year after now] are rejected.
	MinDate time.Time
	Now     func() time.Time
}

func DefaultConfig() Config {
	return Config{
		MathTolerance: 0.15,
		AdjustLimit:   2.00,
		MaxTaxRatio:   0.50,
		Penalties:     DefaultPenalties,
		Bonus:         0.05,
		MinDate:       time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:           time.Now,
	}
}

// Validator applies the repair steps in a fixed order: digit repair, tax
// sanity, date, vendor, arithmetic, confidence.
type Validator struct {
	cfg     Config
	domains []anchors.Alias
}

func New(cfg Config) *Validator {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	domains := make([]anchors.Alias, len(DomainVendors))
	copy(domains, DomainVendors)
	sort.SliceStable(domains, func(i, j int) bool {
		return len(domains[i].Key) > len(domains[j].Key)
	})
	return &Validator{cfg: cfg, domains: domains}
}

// Validate turns a merged draft into a final result. text is the OCR text
// the draft was read from; it is used to recover a missing date or vendor.
func (v *Validator) Validate(d extraction.Draft, text string) extraction.Result {
	currency := strings.ToUpper(strings.TrimSpace(d.Currency))
	if len(currency) > 3 {
		currency = currency[:3]
	}
	if currency == "" {
		currency = "CAD"
	}

	if !d.IsReceipt {
		return extraction.Result{
			Vendor:     d.Vendor,
			Date:       d.Date,
			Currency:   currency,
			Confidence: clamp01(d.Confidence),
			Warnings:   []string{},
			MathValid:  true,
		}
	}

	var warnings []string
	amounts := v.repairDigits(&d, &warnings)
	v.taxSanity(amounts, &warnings)
	date := v.date(d.Date, text, &warnings)
	vendor := CleanVendor(d.Vendor)
	if vendor == "" && text != "" {
		vendor = v.vendorFromDomain(text)
	}
	v.math(amounts, &warnings)

	r := extraction.Result{
		IsReceipt: true,
		Vendor:    vendor,
		Date:      date,
		Total:     amounts[extraction.FieldTotal],
		PreTax:    amounts[extraction.FieldPreTax],
		GST:       amounts[extraction.FieldGST],
		QST:       amounts[extraction.FieldQST],
		PST:       amounts[extraction.FieldPST],
		HST:       amounts[extraction.FieldHST],
		Currency:  currency,
		Warnings:  warnings,
		MathValid: !hasPrefix(warnings, WarnMathMismatch),
	}
	if r.Warnings == nil {
		r.Warnings = []string{}
	}
	r.Confidence = v.confidence(d.Confidence, r)

	if len(warnings) > 0 {
		slog.Info("post-processing warnings", "vendor", vendor, "warnings", warnings)
	}
	return r
}

var amountFields = []extraction.Field{
	extraction.FieldTotal, extraction.FieldGST, extraction.FieldPST,
	extraction.FieldHST, extraction.FieldQST, extraction.FieldPreTax,
}

var (
	digitFixes = strings.NewReplacer(
		"O", "0", "o", "0", "l", "1", "I", "1",
		"S", "5", "B", "8", "G", "6", "Z", "2", "§", "5",
	)
	moneyNoiseRe = regexp.MustCompile(`[$€£¥\s,]`)
	nonNumericRe = regexp.MustCompile(`[^\d.\-]`)
)

// RepairDigits reads an amount token damaged by OCR, such as "$4O.5O".
func RepairDigits(s string) (float64, bool) {
	cleaned := digitFixes.Replace(moneyNoiseRe.ReplaceAllString(s, ""))
	cleaned = nonNumericRe.ReplaceAllString(cleaned, "")
	if parts := strings.Split(cleaned, "."); len(parts) > 2 {
		cleaned = parts[0] + "." + parts[len(parts)-1]
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return extraction.Round2(f), true
}

func (v *Validator) repairDigits(d *extraction.Draft, warnings *[]string) map[extraction.Field]float64 {
	out := make(map[extraction.Field]float64, len(amountFields))
	for _, f := range amountFields {
		a := d.Amount(f)
		if a.Parsed() {
			out[f] = nonNegative(a.Value)
			continue
		}
		if fixed, ok := RepairDigits(a.Raw); ok {
			*warnings = append(*warnings, fmt.Sprintf("%s:%s:%s→%.2f", WarnOCRFix, f, a.Raw, fixed))
			out[f] = nonNegative(fixed)
			continue
		}
		*warnings = append(*warnings, fmt.Sprintf("%s:%s:%s", WarnOCRUnparseable, f, a.Raw))
		out[f] = 0
	}
	return out
}

func (v *Validator) taxSanity(amounts map[extraction.Field]float64, warnings *[]string) {
	total := amounts[extraction.FieldTotal]
	if total <= 0 {
		return
	}
	for _, f := range []extraction.Field{extraction.FieldGST, extraction.FieldPST, extraction.FieldHST, extraction.FieldQST} {
		val := amounts[f]
		switch {
		case val <= 0:
		case val >= total:
			*warnings = append(*warnings, fmt.Sprintf("%s:%s=%.2f≥total=%.2f", WarnTaxZeroed, f, val, total))
			amounts[f] = 0
		case val > v.cfg.MaxTaxRatio*total:
			*warnings = append(*warnings, fmt.Sprintf("%s:%s=%.2f>%.0f%%_of_%.2f", WarnTaxCapped, f, val, v.cfg.MaxTaxRatio*100, total))
			amounts[f] = 0
		}
	}
}

func (v *Validator) math(amounts map[extraction.Field]float64, warnings *[]string) {
	total := amounts[extraction.FieldTotal]
	preTax := amounts[extraction.FieldPreTax]
	taxSum := 0.0
	for _, f := range extraction.TaxFields {
		taxSum += amounts[f]
	}
	taxSum = extraction.Round2(taxSum)

	switch {
	case total > 0 && preTax > 0:
		diff := math.Abs(extraction.Round2(preTax+taxSum) - total)
		// compare in cents so that 0.15 is inside the tolerance
		diffCents := math.Round(diff * 100)
		switch {
		case diffCents <= math.Round(v.cfg.MathTolerance*100):
		case diffCents <= math.Round(v.cfg.AdjustLimit*100):
			adjusted := extraction.Round2(total - taxSum)
			amounts[extraction.FieldPreTax] = adjusted
			*warnings = append(*warnings, fmt.Sprintf("%s:%.2f→%.2f", WarnMathAdjusted, preTax, adjusted))
		default:
			*warnings = append(*warnings, fmt.Sprintf("%s:pre_tax=%.2f+tax=%.2f≠total=%.2f (diff=%.2f)", WarnMathMismatch, preTax, taxSum, total, diff))
		}
	case total > 0 && preTax == 0 && taxSum > 0:
		if inferred := extraction.Round2(total - taxSum); inferred > 0 && inferred < total {
			amounts[extraction.FieldPreTax] = inferred
			*warnings = append(*warnings, fmt.Sprintf("%s:%.2f", WarnMathInferredPre, inferred))
		}
	case preTax > 0 && total == 0:
		amounts[extraction.FieldTotal] = extraction.Round2(preTax + taxSum)
		*warnings = append(*warnings, fmt.Sprintf("%s:%.2f", WarnMathInferredTot, amounts[extraction.FieldTotal]))
	}

	if amounts[extraction.FieldTotal] <= 0 {
		*warnings = append(*warnings, WarnMathMissingTotal)
	}
}

func (v *Validator) confidence(base float64, r extraction.Result) float64 {
	for _, p := range v.cfg.Penalties {
		if hasPrefix(r.Warnings, p.Prefix) {
			base -= p.Amount
		}
	}
	if r.Vendor != "" {
		base += v.cfg.Bonus
	}
	if r.Date != "" {
		base += v.cfg.Bonus
	}
	if r.Total > 0 {
		base += v.cfg.Bonus
	}
	if r.GST > 0 || r.QST > 0 || r.PST > 0 || r.HST > 0 {
		base += v.cfg.Bonus
	}
	return math.Round(clamp01(base)*1000) / 1000
}

var placeholderVendorRe = regexp.MustCompile(`(?i)^\s*(receipt|reçu|facture|tax invoice|\d+|unknown|n/?a|none)\s*$`)
var spacesRe = regexp.MustCompile(`\s+`)

// CleanVendor rejects placeholder names, collapses whitespace, title cases
// shouting names and strips accents. It returns "" for unusable input.
func CleanVendor(vendor string) string {
	v := strings.TrimSpace(vendor)
	if v == "" || placeholderVendorRe.MatchString(v) {
		return ""
	}
	v = spacesRe.ReplaceAllString(v, " ")
	if anchors.IsUpper(v) && utf8.RuneCountInString(v) > 3 {
		v = anchors.TitleCase(v)
	}
	v = anchors.StripAccents(v)
	if utf8.RuneCountInString(v) > 200 {
		v = string([]rune(v)[:200])
	}
	return v
}

func (v *Validator) vendorFromDomain(text string) string {
	lower := strings.ToLower(text)
	for _, d := range v.domains {
		if strings.Contains(lower, d.Key) {
			slog.Info("vendor inferred from domain", "domain", d.Key, "vendor", d.Vendor)
			return d.Vendor
		}
	}
	return ""
}

func hasPrefix(warnings []string, prefix string) bool {
	for _, w := range warnings {
		if strings.HasPrefix(w, prefix) {
			return true
		}
	}
	return false
}

func nonNegative(v float64) float64 {
	if !extraction.Finite(v) {
		return 0
	}
	return math.Max(0, v)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

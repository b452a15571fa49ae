package extraction

import (
	"bytes"
	"strings"
)

// Kind hints at the container format of a document.
type Kind int

const (
	KindUnknown Kind = iota
	KindImage
	KindPDF
)

// KindFromContentType maps a MIME type to a Kind.
func KindFromContentType(contentType string) Kind {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	switch {
	case ct == "application/pdf":
		return KindPDF
	case strings.HasPrefix(ct, "image/"):
		return KindImage
	default:
		return KindUnknown
	}
}

// Document is one pipeline input. Data is never modified.
type Document struct {
	ID string
	// Name is the original file name, if any.
	Name        string
	Data        []byte
	Kind        Kind
	ContentType string
	// Text is text already extracted by the document system, if any.
	Text string
	// VendorHints are known vendor names used for spelling correction.
	VendorHints []string
}

// IsPDF reports whether the document should be treated as a PDF.
func (d Document) IsPDF() bool {
	if d.Kind == KindPDF {
		return true
	}
	return d.Kind == KindUnknown && IsPDF(d.Data)
}

// IsPDF sniffs the PDF magic bytes.
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF"))
}

// Provenance records which recognition path produced a text.
type Provenance string

const (
	ProvenanceEmbeddedPDF Provenance = "embedded-pdf"
	ProvenanceLocalOCR    Provenance = "local-ocr"
	ProvenanceVisionModel Provenance = "vision-model"
	ProvenanceCached      Provenance = "cached"
	ProvenanceFallback    Provenance = "fallback"
	ProvenanceFailed      Provenance = "failed"
)

// Text is the output of the OCR stage.
type Text struct {
	Text       string
	Provenance Provenance
	// LogoHint is a brand guessed from the image header, or empty.
	LogoHint string
}

// Field names a receipt field.
type Field string

const (
	FieldVendor Field = "vendor"
	FieldDate   Field = "date"
	FieldTotal  Field = "total"
	FieldPreTax Field = "pre_tax"
	FieldGST    Field = "gst"
	FieldQST    Field = "qst"
	FieldPST    Field = "pst"
	FieldHST    Field = "hst"
)

// TaxFields lists the tax fields in the order they are summed and reported.
var TaxFields = []Field{FieldGST, FieldQST, FieldPST, FieldHST}

// Draft holds fields chosen by the merge step, before validation.
type Draft struct {
	IsReceipt  bool
	Vendor     string
	Date       string
	Total      Amount
	PreTax     Amount
	GST        Amount
	QST        Amount
	PST        Amount
	HST        Amount
	Currency   string
	Confidence float64
}

// Amount returns a pointer to the named amount field, or nil for
// non-amount fields.
func (d *Draft) Amount(f Field) *Amount {
	switch f {
	case FieldTotal:
		return &d.Total
	case FieldPreTax:
		return &d.PreTax
	case FieldGST:
		return &d.GST
	case FieldQST:
		return &d.QST
	case FieldPST:
		return &d.PST
	case FieldHST:
		return &d.HST
	}
	return nil
}

// Result is the validated receipt handed to the persistence layer.
// Vendor and Date are empty when not found.
type Result struct {
	IsReceipt  bool     `json:"is_receipt"`
	Vendor     string   `json:"vendor"`
	Date       string   `json:"date"`
	Total      float64  `json:"total"`
	PreTax     float64  `json:"pre_tax"`
	GST        float64  `json:"gst"`
	QST        float64  `json:"qst"`
	PST        float64  `json:"pst"`
	HST        float64  `json:"hst"`
	Currency   string   `json:"currency"`
	Confidence float64  `json:"confidence"`
	Warnings   []string `json:"_warnings"`
	MathValid  bool     `json:"_math_valid"`
}

// Status is the outcome class of processing one document.
type Status string

const (
	StatusDone    Status = "done"
	StatusSkipped Status = "skipped"
	// StatusError is reserved for timeouts and unhandled failures.
	StatusError Status = "error"
)

// Outcome is what the pipeline service returns for a document.
type Outcome struct {
	DocumentID string     `json:"document_id"`
	Status     Status     `json:"status"`
	Reason     string     `json:"reason,omitempty"`
	Error      string     `json:"error,omitempty"`
	Provenance Provenance `json:"ocr_method,omitempty"`
	Result     *Result    `json:"result,omitempty"`
}

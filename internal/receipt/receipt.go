package receipt

import (
	"time"

	"github.com/PStewardYUL/receipt-ai/internal/extraction"
)

// Record is the stored outcome of processing one document.
type Record struct {
	ID          string             `json:"id"`
	Filename    string             `json:"filename,omitempty"`
	ContentType string             `json:"content_type,omitempty"`
	SHA256      string             `json:"sha256"`
	Outcome     extraction.Outcome `json:"outcome"`
	Review      []string           `json:"review,omitempty"` // reasons a person should check the result
	CreatedAt   time.Time          `json:"created_at"`
}

// Stats counts batch outcomes. Flagged receipts are receipts with warnings.
type Stats struct {
	Processed int `json:"processed"`
	Receipts  int `json:"receipts"`
	Errors    int `json:"errors"`
	Skipped   int `json:"skipped"`
	Flagged   int `json:"flagged"`
}

// BatchRun is the status of one pass over the inbox.
type BatchRun struct {
	ID       string    `json:"id"`
	Running  bool      `json:"running"`
	Force    bool      `json:"force"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished,omitempty"`
	Stats    Stats     `json:"stats"`
	Error    string    `json:"error,omitempty"`
}

// Package logo guesses the merchant from the header of a receipt image.
package logo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PStewardYUL/receipt-ai/internal/imageprep"
	"github.com/PStewardYUL/receipt-ai/internal/llm"
)

const unknownLabel = "an unknown receipt or document"

const describePrompt = `This is the header of a receipt. Name the store, brand or company whose logo, wordmark or sign appears in it.

Visual cues that help:
- Home Depot: orange "The Home Depot" wordmark or orange apron, often on an orange strip
- Canadian Tire: red triangle with a maple leaf
- eBay: red e, blue b, yellow a, green y
- Costco: red and blue "Costco Wholesale"
- Walmart: blue wordmark with a yellow spark
- Amazon: "amazon" with an orange smile arrow
- IGA: red and white "IGA"
- Metro: multicoloured stylized M
- Jean Coutu: red and white pharmacy cross
- Pharmaprix or Shoppers Drug Mart: Rx symbol
- SAQ: blue and white "SAQ"
- Tim Hortons: red script "Tim Hortons"
- McDonald's: golden arches
- IKEA: yellow "IKEA" on a blue rectangle
- Rona, Best Buy, Dollarama, Loblaws, Provigo, Staples: their name in their house colours

Answer with the brand name and nothing else. For eBay answer "eBay" even if a seller name is shown. Names of people and shipping addresses are never the brand. If you cannot tell, answer "unknown".`

// Config holds the identifier settings.
type Config struct {
	// TopFraction of the page, at least MinHeight pixels, is sent to the
	// model.
	TopFraction float64
	MinHeight   int
	// Threshold is the lowest classification score accepted.
	Threshold float64
	Timeout   time.Duration
}

func DefaultConfig() Config {
	return Config{TopFraction: 0.22, MinHeight: 80, Threshold: 0.15, Timeout: 60 * time.Second}
}

// Identifier names the brand in a receipt header using a multimodal model:
// first by classifying the header against Brands, then by asking for the
// name outright.
type Identifier struct {
	gen llm.Generator
	cfg Config
}

func NewIdentifier(gen llm.Generator, cfg Config) *Identifier {
	return &Identifier{gen: gen, cfg: cfg}
}

type classification struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Identify returns a vendor name or Unknown. It never fails.
func (i *Identifier) Identify(ctx context.Context, img []byte) string {
	ctx, cancel := context.WithTimeout(ctx, i.cfg.Timeout)
	defer cancel()

	strip := imageprep.CropTop(img, i.cfg.TopFraction, i.cfg.MinHeight)
	if strip == nil {
		strip = img
	}

	brand, err := i.classify(ctx, strip)
	if err != nil {
		slog.Warn("logo classification failed", "error", err)
	}
	if brand != "" {
		return brand
	}

	answer, err := i.gen.Generate(ctx, llm.Request{Prompt: describePrompt, Images: [][]byte{strip}, MaxTokens: 60})
	if err != nil {
		slog.Warn("logo identification failed", "error", err)
		return Unknown
	}
	name := Canonical(answer)
	slog.Debug("logo identified", "answer", answer, "vendor", name)
	return name
}

// classify returns the matching brand, or "" when the best label is the
// unknown one or scores below the threshold.
func (i *Identifier) classify(ctx context.Context, strip []byte) (string, error) {
	answer, err := i.gen.Generate(ctx, llm.Request{Prompt: classifyPrompt(), Images: [][]byte{strip}, MaxTokens: 80})
	if err != nil {
		return "", fmt.Errorf("classifying header: %w", err)
	}
	raw, err := llm.ExtractJSON(answer)
	if err != nil {
		return "", fmt.Errorf("reading classification: %w", err)
	}
	var c classification
	if err := json.Unmarshal(raw, &c); err != nil {
		return "", fmt.Errorf("decoding classification: %w", err)
	}

	brand, ok := brandFor(c.Label)
	if !ok || c.Score < i.cfg.Threshold {
		slog.Debug("logo not classified", "label", c.Label, "score", c.Score)
		return "", nil
	}
	slog.Info("logo classified", "vendor", brand, "score", c.Score)
	return brand, nil
}

func classifyPrompt() string {
	var b strings.Builder
	b.WriteString("Pick the one label below that best describes this receipt header, judging by its logo and branding.\n\nLabels:\n")
	for _, brand := range Brands {
		fmt.Fprintf(&b, "- a receipt from %s\n", brand)
	}
	fmt.Fprintf(&b, "- %s\n\n", unknownLabel)
	b.WriteString(`Reply with JSON only: {"label": "<label exactly as listed>", "score": <your confidence between 0 and 1>}`)
	return b.String()
}

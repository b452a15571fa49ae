package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/PStewardYUL/receipt-ai/internal/llm"
)

const transcribePrompt = `Transcribe all of the text printed on this receipt or invoice image.

The document can be in English, French or both; bilingual receipts from Quebec are common.

Pay particular attention to:
- the merchant name at the top, usually the largest text. If there is only a logo and no written name, write "[LOGO ONLY]"
- every date on the page, each on its own line together with its label
- item lines and their prices
- the subtotal (Sous-total)
- each tax line: GST/TPS, QST/TVQ, PST, HST
- the amount to pay: Total, Montant dû, Solde, Balance, Total à payer
- the currency, the GST/HST registration number and the payment method

Glossary: TPS means GST, TVQ means QST, SOUS-TOTAL means subtotal, MONTANT DÛ means amount due, REÇU means receipt, FACTURE means invoice.

Output rules:
- reproduce the text as printed without summarising or interpreting it
- copy every digit exactly; a French comma decimal like 20,50 stays as written
- keep accented letters
- if a line is hard to read, give your best reading followed by [?]
- output the transcription only`

const rereadPrompt = `Read this receipt image once more, slowly.

It may be French or bilingual. Concentrate on:
1. the lower part of the receipt and every amount there: totals, taxes, balances
2. lines mentioning GST, TPS, QST, TVQ, HST, PST, TOTAL, MONTANT, SOLDE, SOUS-TOTAL, SUBTOTAL or BALANCE
3. every date, each with its label
4. the merchant name or logo at the very top
5. a comma can be the decimal point: 20,50 is 20.50

Output only the text you read.`

// Vision reads text with a multimodal model.
type Vision struct {
	gen       llm.Generator
	maxTokens int
	minLength int
}

// NewVision returns a Vision recognizer backed by gen. A first answer shorter
// than minLength characters triggers a second, more focused read.
func NewVision(gen llm.Generator, minLength int) *Vision {
	return &Vision{gen: gen, maxTokens: 2048, minLength: minLength}
}

func (v *Vision) Name() string { return "vision" }

func (v *Vision) Ready(ctx context.Context) bool {
	return v.gen.Ready(ctx)
}

// Recognize asks the model for a transcription and, if the answer is short
// or the call failed, asks again with the focused prompt. The longer answer
// wins. An error is returned only when both calls fail.
func (v *Vision) Recognize(ctx context.Context, img []byte) (string, error) {
	text, firstErr := v.ask(ctx, transcribePrompt, img)
	if firstErr == nil && len(strings.TrimSpace(text)) >= v.minLength {
		return text, nil
	}
	if firstErr != nil {
		slog.Warn("vision transcription failed, asking again", "error", firstErr)
	} else {
		slog.Info("vision transcription short, asking again", "chars", len(text))
	}

	second, err := v.ask(ctx, rereadPrompt, img)
	if err != nil {
		if firstErr != nil {
			return "", errors.Join(firstErr, err)
		}
		slog.Warn("vision reread failed", "error", err)
		return text, nil
	}
	if len(second) > len(text) {
		return second, nil
	}
	return text, nil
}

func (v *Vision) ask(ctx context.Context, prompt string, img []byte) (string, error) {
	text, err := v.gen.Generate(ctx, llm.Request{
		Prompt:    prompt,
		Images:    [][]byte{img},
		MaxTokens: v.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("vision transcription: %w", err)
	}
	return text, nil
}

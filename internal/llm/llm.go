// Package llm talks to the language and vision models used for OCR
// fallback, logo identification and structured parsing.
package llm

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when a model answered with no text.
var ErrEmptyResponse = errors.New("empty model response")

// Request is one generation call. Images are raw image or PDF bytes; each
// client converts them to a format its model accepts.
type Request struct {
	Prompt    string
	Images    [][]byte
	MaxTokens int
}

// Generator is a model endpoint.
type Generator interface {
	// Generate returns the model's text answer.
	Generate(ctx context.Context, req Request) (string, error)
	// Ready reports whether the endpoint is reachable.
	Ready(ctx context.Context) bool
	// Close releases any connection held by the client.
	Close() error
}

package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"
)

// Gemini implements Generator using Google Gemini.
type Gemini struct {
	client    *genai.Client
	modelName string
	timeout   time.Duration
	limiter   *rate.Limiter
}

// NewGemini creates a new Gemini client.
func NewGemini(apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Gemini{
		client:    client,
		modelName: modelName,
		timeout:   300 * time.Second,
		limiter:   rate.NewLimiter(2, 2),
	}, nil
}

// Generate sends the prompt and images and collects the text parts of the
// first candidate.
func (g *Gemini) Generate(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("waiting for rate limiter: %w", err)
	}

	model := g.client.GenerativeModel(g.modelName)
	model.SetTemperature(0)
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}

	parts := make([]genai.Part, 0, len(req.Images)+1)
	for _, img := range req.Images {
		data, format, err := prepareImage(img)
		if err != nil {
			return "", err
		}
		// genai.ImageData expects the format suffix, not the full MIME type
		parts = append(parts, genai.ImageData(format, data))
	}
	parts = append(parts, genai.Text(req.Prompt))

	start := time.Now()
	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini: %w", ErrEmptyResponse)
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	slog.Debug("gemini response", "model", g.modelName, "chars", responseText.Len(), "elapsed", time.Since(start))
	return strings.TrimSpace(responseText.String()), nil
}

// Ready asks the API for the model's metadata.
func (g *Gemini) Ready(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := g.client.GenerativeModel(g.modelName).Info(ctx)
	return err == nil
}

// Close closes the Gemini client.
func (g *Gemini) Close() error {
	return g.client.Close()
}

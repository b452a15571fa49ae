package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Ollama implements Generator using Ollama's /api/generate endpoint.
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
	limiter *rate.Limiter
}

// NewOllama creates a new Ollama client. Vision calls use a multimodal model
// such as llava or minicpm-v; text parsing works with any instruction model.
func NewOllama(baseURL string, modelName string) *Ollama {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if modelName == "" {
		modelName = "llava"
	}

	return &Ollama{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   modelName,
		client: &http.Client{
			Timeout: 300 * time.Second, // vision models on CPU are slow
		},
		limiter: rate.NewLimiter(rate.Inf, 1),
	}
}

// WithRateLimit caps the request rate.
func (o *Ollama) WithRateLimit(perSecond float64, burst int) *Ollama {
	o.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	return o
}

type ollamaGenerateRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Images  []string      `json:"images,omitempty"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	Seed        int     `json:"seed"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Generate runs one deterministic, non-streaming generation.
func (o *Ollama) Generate(ctx context.Context, req Request) (string, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("waiting for rate limiter: %w", err)
	}

	reqBody := ollamaGenerateRequest{
		Model:  o.model,
		Prompt: req.Prompt,
		Stream: false,
		Options: ollamaOptions{
			Temperature: 0,
			Seed:        42,
			NumPredict:  req.MaxTokens,
		},
	}
	for _, img := range req.Images {
		data, _, err := prepareImage(img)
		if err != nil {
			return "", err
		}
		reqBody.Images = append(reqBody.Images, base64.StdEncoding.EncodeToString(data))
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/api/generate", o.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := o.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("calling ollama API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama API error (status %d): %s", resp.StatusCode, string(body))
	}

	var genResp ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	slog.Debug("ollama response", "model", o.model, "chars", len(genResp.Response), "elapsed", time.Since(start))
	return strings.TrimSpace(genResp.Response), nil
}

// Ready checks that the server answers /api/tags.
func (o *Ollama) Ready(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Close is a no-op for the HTTP client.
func (o *Ollama) Close() error {
	return nil
}

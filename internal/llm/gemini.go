package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"defectintel/internal/logging"
	"defectintel/internal/types"

	"golang.org/x/sync/semaphore"
	"google.golang.org/genai"
)

// =============================================================================
// GOOGLE GENAI CLIENT
// =============================================================================

// GeminiConfig holds configuration for the Gemini client.
type GeminiConfig struct {
	APIKey      string
	Model       string
	Temperature float32
	Timeout     time.Duration
	// MaxConcurrent caps in-flight calls across all requests. Zero means 4.
	MaxConcurrent int64
}

// DefaultGeminiConfig returns sensible defaults.
func DefaultGeminiConfig(apiKey string) GeminiConfig {
	return GeminiConfig{
		APIKey:        apiKey,
		Model:         "gemini-2.5-flash",
		Temperature:   0.3,
		Timeout:       2 * time.Minute,
		MaxConcurrent: 4,
	}
}

// GeminiClient implements Client on top of google.golang.org/genai.
type GeminiClient struct {
	client      *genai.Client
	model       string
	temperature float32
	timeout     time.Duration
	sem         *semaphore.Weighted
}

// NewGeminiClient creates a Gemini client. A missing API key is reported as
// a ConfigurationError before any network call is made.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, &types.ConfigurationError{Setting: "llm.api_key", Msg: "GEMINI_API_KEY missing"}
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-2.5-flash"
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GeminiClient{
		client:      client,
		model:       model,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		sem:         semaphore.NewWeighted(maxConcurrent),
	}, nil
}

// Model returns the configured model name.
func (c *GeminiClient) Model() string { return c.model }

// Generate sends one prompt (plus optional image) and returns the response text.
func (c *GeminiClient) Generate(ctx context.Context, req Request) (string, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return "", &types.TransportError{Op: "generate content", Err: err}
	}
	defer c.sem.Release(1)

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	parts := []*genai.Part{genai.NewPartFromText(req.Prompt)}
	if req.Image != nil {
		mime := req.Image.MIMEType
		if mime == "" {
			mime = "image/jpeg"
		}
		parts = append(parts, genai.NewPartFromBytes(req.Image.Data, mime))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	temp := c.temperature
	cfg := &genai.GenerateContentConfig{Temperature: &temp}
	if req.Schema != nil {
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseSchema = req.Schema
	}

	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		logging.Get(logging.CategoryAPI).Warn("GenerateContent failed after %s: %v", time.Since(start), err)
		return "", &types.TransportError{Op: "generate content", Err: err}
	}
	logging.Get(logging.CategoryAPI).Debug("GenerateContent model=%s took %s", c.model, time.Since(start))

	return resp.Text(), nil
}

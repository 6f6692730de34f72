// Package llm wraps the generative-language collaborator: a Gemini-backed
// client, a bounded-retry controller, and response-to-HTML parsing.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/genai"
)

// Completion is one raw model response.
type Completion struct {
	Text       string
	TokensUsed int
	Model      string
}

// Client is the generative collaborator contract. Both calls must honour
// ctx cancellation and deadlines; timeouts surface as transient errors.
type Client interface {
	// Complete sends a text prompt and returns the model's text response.
	Complete(ctx context.Context, prompt string, maxOutputTokens int) (*Completion, error)
	// CompareImages sends two images plus an instruction and returns the
	// model's textual comparison (a bounded list of visual discrepancies).
	CompareImages(ctx context.Context, imageA, imageB []byte, instruction string) (*Completion, error)
}

// ProviderError carries the provider name and the last underlying cause
// after the retry controller gives up (or refuses to retry).
type ProviderError struct {
	Provider string
	Terminal bool
	Attempts int
	Err      error
}

func (e *ProviderError) Error() string {
	kind := "transient"
	if e.Terminal {
		kind = "terminal"
	}
	return fmt.Sprintf("llm: %s provider error (%s, %d attempts): %v", e.Provider, kind, e.Attempts, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// GeminiConfig configures the Gemini client.
type GeminiConfig struct {
	APIKey      string
	Model       string        // default: gemini-2.5-flash
	Timeout     time.Duration // per-call ceiling, default 120s
	Temperature float32       // default 0.1 — replication wants determinism
}

func (c *GeminiConfig) defaults() {
	if c.Model == "" {
		c.Model = "gemini-2.5-flash"
	}
	if c.Timeout <= 0 {
		c.Timeout = 120 * time.Second
	}
	if c.Temperature <= 0 {
		c.Temperature = 0.1
	}
}

// Gemini is the production Client on google.golang.org/genai.
type Gemini struct {
	cfg    GeminiConfig
	client *genai.Client
}

// NewGemini creates a Gemini client. A missing API key is a configuration
// error (terminal — the retry controller will not retry it).
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, &ProviderError{Provider: "gemini", Terminal: true,
			Err: errors.New("llm: GEMINI_API_KEY not configured")}
	}
	cfg.defaults()

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("llm: create client: %w", err)
	}
	return &Gemini{cfg: cfg, client: client}, nil
}

// Complete implements Client.
func (g *Gemini) Complete(ctx context.Context, prompt string, maxOutputTokens int) (*Completion, error) {
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	return g.generate(ctx, contents, maxOutputTokens)
}

// CompareImages implements Client. Images are sent inline as PNG parts.
func (g *Gemini) CompareImages(ctx context.Context, imageA, imageB []byte, instruction string) (*Completion, error) {
	parts := []*genai.Part{
		genai.NewPartFromText(instruction),
		genai.NewPartFromBytes(imageA, "image/png"),
		genai.NewPartFromBytes(imageB, "image/png"),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	return g.generate(ctx, contents, 2048)
}

func (g *Gemini) generate(ctx context.Context, contents []*genai.Content, maxOutputTokens int) (*Completion, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(g.cfg.Temperature),
	}
	if maxOutputTokens > 0 {
		cfg.MaxOutputTokens = int32(maxOutputTokens)
	}

	resp, err := g.client.Models.GenerateContent(callCtx, g.cfg.Model, contents, cfg)
	if err != nil {
		return nil, classify("gemini", err)
	}

	text := resp.Text()
	if text == "" {
		return nil, classify("gemini", errors.New("empty response"))
	}

	tokens := 0
	if resp.UsageMetadata != nil {
		tokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	return &Completion{Text: text, TokensUsed: tokens, Model: g.cfg.Model}, nil
}

// classify maps provider failures onto the transient/terminal taxonomy.
// Auth and bad-request failures are terminal; rate limits, timeouts, and
// server errors are transient.
func classify(provider string, err error) error {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}

	terminal := false
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 400, 401, 403, 404:
			terminal = true
		}
	}
	return &ProviderError{Provider: provider, Terminal: terminal, Err: err}
}

// IsTerminal reports whether err is a terminal provider failure.
func IsTerminal(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Terminal
}

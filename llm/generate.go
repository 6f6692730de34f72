package llm

import (
	"context"
	"log/slog"
	"time"
)

// Artifact is one generated HTML document. Immutable: refinement supersedes
// an artifact with a new one rather than mutating it.
type Artifact struct {
	HTML       string        `json:"html"`
	CSS        string        `json:"css,omitempty"`
	Assets     []string      `json:"assets,omitempty"`
	Similarity float64       `json:"similarity_score"` // [0,100], set by the caller's scorer
	Duration   time.Duration `json:"generation_time"`
	TokensUsed int           `json:"tokens_used"`
}

// Generator applies the retry policy to the client and post-processes
// responses into well-formed artifacts.
type Generator struct {
	client Client
	policy RetryPolicy
	logger *slog.Logger
}

// NewGenerator creates a Generator. A nil logger uses slog.Default.
func NewGenerator(client Client, policy RetryPolicy, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{client: client, policy: policy, logger: logger}
}

// Generate sends the prompt through the retry controller and returns a
// well-formed HTML artifact, or a *ProviderError after the attempt budget.
func (g *Generator) Generate(ctx context.Context, prompt string, maxOutputTokens int) (*Artifact, error) {
	start := time.Now()

	comp, err := Retry(ctx, g.policy, func(ctx context.Context) (*Completion, error) {
		return g.client.Complete(ctx, prompt, maxOutputTokens)
	})
	if err != nil {
		return nil, err
	}

	art := &Artifact{
		HTML:       EnsureDocument(ExtractHTML(comp.Text)),
		CSS:        ExtractCSS(comp.Text),
		Duration:   time.Since(start),
		TokensUsed: comp.TokensUsed,
	}
	g.logger.Debug("llm: artifact generated",
		"html_bytes", len(art.HTML), "tokens", art.TokensUsed, "took", art.Duration)
	return art, nil
}

// Compare sends two screenshots through the retry controller and returns
// the model's discrepancy analysis text.
func (g *Generator) Compare(ctx context.Context, imageA, imageB []byte, instruction string) (string, error) {
	comp, err := Retry(ctx, g.policy, func(ctx context.Context) (*Completion, error) {
		return g.client.CompareImages(ctx, imageA, imageB, instruction)
	})
	if err != nil {
		return "", err
	}
	return comp.Text, nil
}

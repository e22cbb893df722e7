// Package llm wraps genkit model access behind a small client: one-shot
// completions and pull-based token streams, with a shared rate limiter ahead
// of every model call.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"

	"github.com/tidegraph/tidegraph/internal/config"
)

// Client issues model calls through genkit.
//
// Client is safe for concurrent use by multiple goroutines.
type Client struct {
	g       *genkit.Genkit
	cfg     *config.Config
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a Client. The rate limiter settings come from cfg.
func New(g *genkit.Genkit, cfg *config.Config, logger *slog.Logger) (*Client, error) {
	if g == nil {
		return nil, fmt.Errorf("genkit instance is required")
	}
	if cfg == nil {
		return nil, config.ErrConfigNil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		g:       g,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), cfg.RateLimitBurst),
		logger:  logger,
	}, nil
}

// Model returns the provider-qualified name of the configured answer model.
func (c *Client) Model() string { return c.cfg.FullModelName(c.cfg.ModelName) }

// FastModel returns the provider-qualified name of the model used for cheap
// internal calls (refinement, intent decomposition, reranking, titles).
func (c *Client) FastModel() string { return c.cfg.FullModelName(c.cfg.FastModel()) }

// Complete runs one non-streaming generation and returns the trimmed text.
// An empty model falls back to the configured fast model; engine rows only
// name models they override.
func (c *Client) Complete(ctx context.Context, model, prompt string) (string, error) {
	if model == "" {
		model = c.cfg.FastModel()
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("waiting for rate limiter: %w", err)
	}

	resp, err := genkit.Generate(ctx, c.g,
		ai.WithModelName(c.cfg.FullModelName(model)),
		ai.WithPrompt("%s", prompt),
	)
	if err != nil {
		return "", fmt.Errorf("generating completion: %w", err)
	}
	return strings.TrimSpace(resp.Text()), nil
}

// Stream starts a streaming generation and returns a pull-based token
// stream. The caller must drain the stream or Close it. An empty model falls
// back to the configured answer model.
func (c *Client) Stream(ctx context.Context, model, prompt string) (Stream, error) {
	if model == "" {
		model = c.cfg.ModelName
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	ts := newTokenStream(ctx)
	go func() {
		_, err := genkit.Generate(ts.ctx, c.g,
			ai.WithModelName(c.cfg.FullModelName(model)),
			ai.WithPrompt("%s", prompt),
			ai.WithStreaming(func(_ context.Context, chunk *ai.ModelResponseChunk) error {
				return ts.emit(chunk.Text())
			}),
		)
		ts.finish(err)
	}()
	return ts, nil
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Resolver loads named engine configurations from the chat_engines table.
//
// Resolver is safe for concurrent use by multiple goroutines.
type Resolver struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(pool *pgxpool.Pool, logger *slog.Logger) (*Resolver, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{pool: pool, logger: logger}, nil
}

// Resolve returns the configuration for name: the engine row's JSONB options
// merged over the built-in defaults. An empty name resolves the default
// engine; a missing default row is not an error, the defaults stand alone.
func (r *Resolver) Resolve(ctx context.Context, name string) (*Config, error) {
	if name == "" {
		name = DefaultEngineName
	}

	var options []byte
	err := r.pool.QueryRow(ctx,
		`SELECT options FROM chat_engines WHERE name = $1`,
		name,
	).Scan(&options)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if name == DefaultEngineName {
			return Default(), nil
		}
		return nil, fmt.Errorf("%w: %q", ErrEngineNotFound, name)
	case err != nil:
		return nil, fmt.Errorf("querying chat engine %q: %w", name, err)
	}

	cfg, err := merge(Default(), options)
	if err != nil {
		return nil, fmt.Errorf("merging options for engine %q: %w", name, err)
	}
	cfg.Name = name
	return cfg, nil
}

// FromScreenshot rebuilds a configuration from the snapshot stored on a
// chat, so later reads (message subgraphs) use the settings the chat was
// created with rather than the engine's current ones.
func FromScreenshot(screenshot []byte) (*Config, error) {
	if len(screenshot) == 0 {
		return Default(), nil
	}
	cfg, err := merge(Default(), screenshot)
	if err != nil {
		return nil, fmt.Errorf("decoding engine screenshot: %w", err)
	}
	return cfg, nil
}

package engine

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// RequiredConfig reports whether the deployment can answer questions at all.
type RequiredConfig struct {
	HasLLM            bool `json:"has_default_llm"`
	HasEmbeddingModel bool `json:"has_default_embedding_model"`
	HasDataSource     bool `json:"has_datasource"`
}

// Ready reports whether every required capability is present.
func (r RequiredConfig) Ready() bool {
	return r.HasLLM && r.HasEmbeddingModel && r.HasDataSource
}

// OptionalConfig reports capabilities that improve answers but are not
// required to serve.
type OptionalConfig struct {
	TracingConfigured bool `json:"langfuse"`
	RerankerAvailable bool `json:"default_reranker"`
}

// Checker runs the capability predicates against the registry tables. The
// checks are pure reads; running them repeatedly observes state without
// changing it.
type Checker struct {
	pool              *pgxpool.Pool
	tracingConfigured bool
}

// NewChecker creates a Checker. tracingConfigured is decided at startup from
// the tracing settings, not from the database.
func NewChecker(pool *pgxpool.Pool, tracingConfigured bool) (*Checker, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Checker{pool: pool, tracingConfigured: tracingConfigured}, nil
}

// CheckRequiredConfig counts the registry rows the answering path depends on.
func (c *Checker) CheckRequiredConfig(ctx context.Context) (RequiredConfig, error) {
	var llms, embedders, sources int
	err := c.pool.QueryRow(ctx,
		`SELECT
		   (SELECT COUNT(*) FROM llms),
		   (SELECT COUNT(*) FROM embedding_models),
		   (SELECT COUNT(*) FROM data_sources)`,
	).Scan(&llms, &embedders, &sources)
	if err != nil {
		return RequiredConfig{}, fmt.Errorf("counting required capabilities: %w", err)
	}
	return RequiredConfig{
		HasLLM:            llms > 0,
		HasEmbeddingModel: embedders > 0,
		HasDataSource:     sources > 0,
	}, nil
}

// CheckOptionalConfig reports the optional capabilities.
func (c *Checker) CheckOptionalConfig(ctx context.Context) (OptionalConfig, error) {
	var rerankers int
	err := c.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM reranker_models`,
	).Scan(&rerankers)
	if err != nil {
		return OptionalConfig{}, fmt.Errorf("counting optional capabilities: %w", err)
	}
	return OptionalConfig{
		TracingConfigured: c.tracingConfigured,
		RerankerAvailable: rerankers > 0,
	}, nil
}

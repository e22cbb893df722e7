// Package engine resolves per-chat engine configuration: retrieval settings,
// prompt templates, and model choices, stored as JSONB overrides merged over
// built-in defaults.
package engine

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrEngineNotFound is returned when a named engine has no registry row.
var ErrEngineNotFound = errors.New("chat engine not found")

// DefaultEngineName is the engine used when a chat names none.
const DefaultEngineName = "default"

// KnowledgeGraphConfig controls the graph retrieval stage.
type KnowledgeGraphConfig struct {
	Enabled                 bool           `json:"enabled"`
	Depth                   int            `json:"depth"`
	IncludeMeta             bool           `json:"include_meta"`
	WithDegree              bool           `json:"with_degree"`
	UsingIntentSearch       bool           `json:"using_intent_search"`
	RelationshipMetaFilters map[string]any `json:"relationship_meta_filters,omitempty"`
}

// VectorSearchConfig controls the corpus retrieval stage.
type VectorSearchConfig struct {
	// MetadataFilters drops retrieved chunks whose metadata does not carry
	// every listed key/value pair.
	MetadataFilters map[string]any `json:"metadata_filters,omitempty"`
}

// Prompts holds the phase-one templates of one engine.
type Prompts struct {
	CondenseQuestion     string `json:"condense_question"`
	TextQA               string `json:"text_qa"`
	Refine               string `json:"refine"`
	IntentGraphKnowledge string `json:"intent_graph_knowledge"`
	NormalGraphKnowledge string `json:"normal_graph_knowledge"`
}

// Config is one resolved engine configuration. Values are treated as
// immutable after Resolve; a chat stores a Screenshot of the config it was
// created with.
type Config struct {
	Name           string               `json:"name"`
	KnowledgeGraph KnowledgeGraphConfig `json:"knowledge_graph"`
	VectorSearch   VectorSearchConfig   `json:"vector_search"`
	Prompts        Prompts              `json:"prompts"`

	ModelName     string `json:"model_name,omitempty"`
	FastModelName string `json:"fast_model_name,omitempty"`
	EmbedderModel string `json:"embedder_model,omitempty"`

	RerankerEnabled bool   `json:"reranker_enabled"`
	RerankerModel   string `json:"reranker_model,omitempty"`
	RerankerTopN    int    `json:"reranker_top_n"`
}

// Screenshot returns the JSON snapshot stored on a chat at creation.
func (c *Config) Screenshot() (json.RawMessage, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encoding engine screenshot: %w", err)
	}
	return data, nil
}

// Package graph retrieves knowledge graph context for a question: entities
// matched by embedding similarity, relationships expanded breadth-first from
// them, and optionally the chunks that back those relationships.
package graph

import "github.com/google/uuid"

// Entity is a knowledge graph node.
type Entity struct {
	ID          int64          `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"meta,omitempty"`
	Degree      int            `json:"degree,omitempty"`
}

// Relationship is a directed edge between two entities. ChunkID points at
// the corpus chunk the relationship was extracted from, when known.
type Relationship struct {
	ID             int64          `json:"id"`
	SourceEntityID int64          `json:"source_entity_id"`
	TargetEntityID int64          `json:"target_entity_id"`
	Description    string         `json:"description"`
	Metadata       map[string]any `json:"meta,omitempty"`
	Weight         int            `json:"weight"`
	ChunkID        *uuid.UUID     `json:"chunk_id,omitempty"`
}

// Chunk is a corpus fragment referenced by a relationship.
type Chunk struct {
	ID         uuid.UUID `json:"id"`
	DocumentID uuid.UUID `json:"document_id"`
	Text       string    `json:"text"`
}

// RetrieveOptions controls weighted retrieval.
type RetrieveOptions struct {
	Depth                   int
	IncludeMeta             bool
	WithDegree              bool
	RelationshipMetaFilters map[string]any
	WithChunks              bool
}

// IntentOptions controls intent-based retrieval. FastModel names the model
// used for sub-query decomposition.
type IntentOptions struct {
	IncludeMeta             bool
	RelationshipMetaFilters map[string]any
	FastModel               string
}

// SubQueryResult groups retrieved graph context under the sub-query that
// produced it.
type SubQueryResult struct {
	Query         string         `json:"query"`
	Entities      []Entity       `json:"entities"`
	Relationships []Relationship `json:"relationships"`
}

// IntentResult is the outcome of intent-based retrieval: per-sub-query
// groupings plus the deduplicated union across all of them.
type IntentResult struct {
	Queries       []SubQueryResult `json:"queries"`
	Entities      []Entity         `json:"entities"`
	Relationships []Relationship   `json:"relationships"`
}

package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tidegraph/tidegraph/internal/llm"
)

// entityTopK is how many entities the similarity match seeds the expansion
// with.
const entityTopK = 10

// maxDepth caps breadth-first expansion regardless of engine settings.
const maxDepth = 5

// Completer is the single model call the intent decomposition needs.
type Completer interface {
	Complete(ctx context.Context, model, prompt string) (string, error)
}

// Store retrieves graph context from PostgreSQL + pgvector.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool      *pgxpool.Pool
	embedder  ai.Embedder
	completer Completer
	logger    *slog.Logger
}

// NewStore creates a graph Store. completer may be nil when intent search is
// never used.
func NewStore(pool *pgxpool.Pool, embedder ai.Embedder, completer Completer, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, embedder: embedder, completer: completer, logger: logger}, nil
}

// RetrieveWeighted matches the question's nearest entities and expands their
// relationships breadth-first to opts.Depth. Chunks are resolved only when
// opts.WithChunks is set.
func (s *Store) RetrieveWeighted(ctx context.Context, question string, opts RetrieveOptions) ([]Entity, []Relationship, []Chunk, error) {
	vec, err := llm.Embed(ctx, s.embedder, question)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("embedding question: %w", err)
	}

	seeds, err := s.matchEntities(ctx, vec, entityTopK, opts.IncludeMeta)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(seeds) == 0 {
		return []Entity{}, []Relationship{}, []Chunk{}, nil
	}

	entities, relationships, err := s.expand(ctx, seeds, opts)
	if err != nil {
		return nil, nil, nil, err
	}

	if opts.WithDegree {
		if err := s.attachDegrees(ctx, entities); err != nil {
			return nil, nil, nil, err
		}
	}

	var chunks []Chunk
	if opts.WithChunks {
		chunks, err = s.resolveChunks(ctx, relationships)
		if err != nil {
			return nil, nil, nil, err
		}
	} else {
		chunks = []Chunk{}
	}

	return entities, relationships, chunks, nil
}

// matchEntities returns the nearest entities by cosine distance.
func (s *Store) matchEntities(ctx context.Context, vec any, limit int, includeMeta bool) ([]Entity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, description, metadata
		 FROM entities
		 ORDER BY embedding <=> $1
		 LIMIT $2`,
		vec, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("matching entities: %w", err)
	}
	defer rows.Close()

	return scanEntities(rows, includeMeta)
}

// expand walks relationships breadth-first from the seed entities up to
// opts.Depth, collecting every visited entity and edge once.
func (s *Store) expand(ctx context.Context, seeds []Entity, opts RetrieveOptions) ([]Entity, []Relationship, error) {
	depth := opts.Depth
	if depth <= 0 {
		depth = 1
	}
	if depth > maxDepth {
		depth = maxDepth
	}

	seenEntities := make(map[int64]bool, len(seeds))
	seenRelationships := make(map[int64]bool)
	entities := make([]Entity, 0, len(seeds))
	var relationships []Relationship

	frontier := make([]int64, 0, len(seeds))
	for _, e := range seeds {
		seenEntities[e.ID] = true
		entities = append(entities, e)
		frontier = append(frontier, e.ID)
	}

	filterJSON, err := encodeFilters(opts.RelationshipMetaFilters)
	if err != nil {
		return nil, nil, err
	}

	for level := 0; level < depth && len(frontier) > 0; level++ {
		edges, err := s.outgoing(ctx, frontier, filterJSON, opts.IncludeMeta)
		if err != nil {
			return nil, nil, err
		}

		var next []int64
		for _, rel := range edges {
			if seenRelationships[rel.ID] {
				continue
			}
			seenRelationships[rel.ID] = true
			relationships = append(relationships, rel)
			if !seenEntities[rel.TargetEntityID] {
				seenEntities[rel.TargetEntityID] = true
				next = append(next, rel.TargetEntityID)
			}
		}

		if len(next) > 0 {
			found, err := s.entitiesByID(ctx, next, opts.IncludeMeta)
			if err != nil {
				return nil, nil, err
			}
			entities = append(entities, found...)
		}
		frontier = next
	}

	if relationships == nil {
		relationships = []Relationship{}
	}
	return entities, relationships, nil
}

// outgoing returns relationships leaving the given entities, weight first.
func (s *Store) outgoing(ctx context.Context, sourceIDs []int64, filterJSON []byte, includeMeta bool) ([]Relationship, error) {
	query := `SELECT id, source_entity_id, target_entity_id, description, metadata, weight, chunk_id
		 FROM relationships
		 WHERE source_entity_id = ANY($1)`
	args := []any{sourceIDs}
	if filterJSON != nil {
		query += ` AND metadata @> $2::jsonb`
		args = append(args, filterJSON)
	}
	query += ` ORDER BY weight DESC, id ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("expanding relationships: %w", err)
	}
	defer rows.Close()

	return scanRelationships(rows, includeMeta)
}

// entitiesByID loads the named entities.
func (s *Store) entitiesByID(ctx context.Context, ids []int64, includeMeta bool) ([]Entity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, description, metadata
		 FROM entities WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("loading entities: %w", err)
	}
	defer rows.Close()

	return scanEntities(rows, includeMeta)
}

// attachDegrees fills Entity.Degree with the total relationship count.
func (s *Store) attachDegrees(ctx context.Context, entities []Entity) error {
	if len(entities) == 0 {
		return nil
	}
	ids := make([]int64, len(entities))
	for i, e := range entities {
		ids[i] = e.ID
	}

	rows, err := s.pool.Query(ctx,
		`SELECT e.id, COUNT(r.id)
		 FROM entities e
		 LEFT JOIN relationships r
		   ON r.source_entity_id = e.id OR r.target_entity_id = e.id
		 WHERE e.id = ANY($1)
		 GROUP BY e.id`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("counting entity degrees: %w", err)
	}
	defer rows.Close()

	degrees := make(map[int64]int, len(entities))
	for rows.Next() {
		var id int64
		var degree int
		if err := rows.Scan(&id, &degree); err != nil {
			return fmt.Errorf("scanning degree: %w", err)
		}
		degrees[id] = degree
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating degrees: %w", err)
	}

	for i := range entities {
		entities[i].Degree = degrees[entities[i].ID]
	}
	return nil
}

// resolveChunks loads the chunks referenced by the relationships, each once.
func (s *Store) resolveChunks(ctx context.Context, relationships []Relationship) ([]Chunk, error) {
	seen := make(map[string]bool)
	var ids []any
	for _, rel := range relationships {
		if rel.ChunkID == nil || seen[rel.ChunkID.String()] {
			continue
		}
		seen[rel.ChunkID.String()] = true
		ids = append(ids, *rel.ChunkID)
	}
	if len(ids) == 0 {
		return []Chunk{}, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, document_id, text FROM chunks WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("resolving chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Text); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks: %w", err)
	}
	return chunks, nil
}

// encodeFilters marshals relationship metadata filters for JSONB containment.
func encodeFilters(filters map[string]any) ([]byte, error) {
	if len(filters) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(filters)
	if err != nil {
		return nil, fmt.Errorf("encoding relationship filters: %w", err)
	}
	return data, nil
}

// scanEntities reads entities with the standard column set. Metadata is
// dropped unless includeMeta is set.
func scanEntities(rows pgx.Rows, includeMeta bool) ([]Entity, error) {
	var entities []Entity
	for rows.Next() {
		var e Entity
		var meta []byte
		if err := rows.Scan(&e.ID, &e.Name, &e.Description, &meta); err != nil {
			return nil, fmt.Errorf("scanning entity: %w", err)
		}
		if includeMeta && len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, fmt.Errorf("decoding entity metadata: %w", err)
			}
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entities: %w", err)
	}
	return entities, nil
}

// scanRelationships reads relationships with the standard column set.
func scanRelationships(rows pgx.Rows, includeMeta bool) ([]Relationship, error) {
	var relationships []Relationship
	for rows.Next() {
		var r Relationship
		var meta []byte
		if err := rows.Scan(&r.ID, &r.SourceEntityID, &r.TargetEntityID,
			&r.Description, &meta, &r.Weight, &r.ChunkID); err != nil {
			return nil, fmt.Errorf("scanning relationship: %w", err)
		}
		if includeMeta && len(meta) > 0 {
			if err := json.Unmarshal(meta, &r.Metadata); err != nil {
				return nil, fmt.Errorf("decoding relationship metadata: %w", err)
			}
		}
		relationships = append(relationships, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating relationships: %w", err)
	}
	return relationships, nil
}

package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// chatCols is the standard SELECT column list for scanChat.
const chatCols = `id, title, engine_name, engine_options, user_id, browser_id,
	created_at, updated_at, deleted_at`

// messageCols is the standard SELECT column list for scanMessage.
const messageCols = `id, chat_id, role, ordinal, content, trace_url, sources,
	created_at, updated_at, finished_at`

// insertMessageSQL assigns the next ordinal atomically; the subselect and the
// insert run in the same statement so concurrent inserts into one chat cannot
// both observe the same MAX.
const insertMessageSQL = `INSERT INTO chat_messages (id, chat_id, role, ordinal, content, trace_url)
	SELECT $1, $2, $3, COALESCE(MAX(ordinal), 0) + 1, $4, $5
	FROM chat_messages WHERE chat_id = $2
	RETURNING ordinal, created_at, updated_at`

// Store persists chats and messages in PostgreSQL.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a chat Store.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Create inserts a new chat. The title is derived from the first user
// question when empty.
func (s *Store) Create(ctx context.Context, c *Chat) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.EngineName == "" {
		return fmt.Errorf("engine name is required")
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO chats (id, title, engine_name, engine_options, user_id, browser_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at, updated_at`,
		c.ID, c.Title, c.EngineName, c.EngineOptions, c.UserID, c.BrowserID,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting chat: %w", err)
	}
	return nil
}

// Get returns a chat by id. Soft-deleted chats are treated as missing.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Chat, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+chatCols+` FROM chats WHERE id = $1 AND deleted_at IS NULL`,
		id,
	)
	c, err := scanChat(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying chat %s: %w", id, err)
	}
	return c, nil
}

// List returns the viewer's chats, newest first. Superusers see every chat;
// anonymous viewers see chats created under the same browser id.
func (s *Store) List(ctx context.Context, viewer *Viewer, browserID string, limit, offset int) ([]*Chat, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	var rows pgx.Rows
	var err error
	switch {
	case viewer != nil && viewer.IsSuperuser:
		rows, err = s.pool.Query(ctx,
			`SELECT `+chatCols+` FROM chats
			 WHERE deleted_at IS NULL
			 ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
			limit, offset,
		)
	case viewer != nil:
		rows, err = s.pool.Query(ctx,
			`SELECT `+chatCols+` FROM chats
			 WHERE deleted_at IS NULL AND user_id = $1
			 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
			viewer.ID, limit, offset,
		)
	default:
		if browserID == "" {
			return []*Chat{}, nil
		}
		rows, err = s.pool.Query(ctx,
			`SELECT `+chatCols+` FROM chats
			 WHERE deleted_at IS NULL AND user_id IS NULL AND browser_id = $1
			 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
			browserID, limit, offset,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("listing chats: %w", err)
	}
	defer rows.Close()

	return scanChats(rows)
}

// Delete soft-deletes a chat. Only the owner or a superuser may delete;
// anonymous chats require a matching browser id.
func (s *Store) Delete(ctx context.Context, id uuid.UUID, viewer *Viewer, browserID string) error {
	c, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	switch {
	case viewer != nil && viewer.IsSuperuser:
	case viewer != nil && c.UserID != nil && *c.UserID == viewer.ID:
	case c.UserID == nil && browserID != "" && c.BrowserID == browserID:
	default:
		return ErrForbidden
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE chats SET deleted_at = now(), updated_at = now()
		 WHERE id = $1 AND deleted_at IS NULL`,
		id,
	)
	if err != nil {
		return fmt.Errorf("soft-deleting chat %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateMessage appends a message to a chat, assigning the next ordinal.
func (s *Store) CreateMessage(ctx context.Context, m *Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.ChatID == uuid.Nil {
		return fmt.Errorf("chat ID is required")
	}
	if m.Role == "" {
		return fmt.Errorf("role is required")
	}

	err := s.pool.QueryRow(ctx, insertMessageSQL,
		m.ID, m.ChatID, m.Role, m.Content, m.TraceURL,
	).Scan(&m.Ordinal, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	// Touch the parent so chat listings sort by recent activity.
	if _, touchErr := s.pool.Exec(ctx,
		`UPDATE chats SET updated_at = now() WHERE id = $1`, m.ChatID,
	); touchErr != nil {
		s.logger.Warn("touching chat updated_at", "chat_id", m.ChatID, "error", touchErr)
	}
	return nil
}

// GetMessage returns a single message by id.
func (s *Store) GetMessage(ctx context.Context, id uuid.UUID) (*Message, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+messageCols+` FROM chat_messages WHERE id = $1`,
		id,
	)
	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message %s: %w", id, err)
	}
	return m, nil
}

// Messages returns all messages of a chat ordered by ordinal ascending.
func (s *Store) Messages(ctx context.Context, chatID uuid.UUID) ([]*Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageCols+` FROM chat_messages
		 WHERE chat_id = $1 ORDER BY ordinal ASC`,
		chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		m, scanErr := scanMessage(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning message: %w", scanErr)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return messages, nil
}

// UpdateTraceURL records the observability trace link on a message.
func (s *Store) UpdateTraceURL(ctx context.Context, id uuid.UUID, traceURL string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE chat_messages SET trace_url = $2, updated_at = now() WHERE id = $1`,
		id, traceURL,
	)
	if err != nil {
		return fmt.Errorf("updating trace URL: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FinishMessage writes the final content, sources, and finished_at of an
// assistant message in one statement. This is the single commit point for a
// turn; a turn that fails before it leaves the message unfinished.
func (s *Store) FinishMessage(ctx context.Context, m *Message) error {
	if m.ID == uuid.Nil {
		return fmt.Errorf("message ID is required")
	}

	sources, err := json.Marshal(m.Sources)
	if err != nil {
		return fmt.Errorf("encoding sources: %w", err)
	}

	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE chat_messages
		 SET content = $2, sources = $3, updated_at = $4, finished_at = $4
		 WHERE id = $1`,
		m.ID, m.Content, sources, now,
	)
	if err != nil {
		return fmt.Errorf("finishing message %s: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	m.UpdatedAt = now
	m.FinishedAt = &now
	return nil
}

// scanChat reads one Chat from a row with the chatCols column set.
func scanChat(row pgx.Row) (*Chat, error) {
	c := &Chat{}
	var browserID *string
	if err := row.Scan(
		&c.ID, &c.Title, &c.EngineName, &c.EngineOptions,
		&c.UserID, &browserID,
		&c.CreatedAt, &c.UpdatedAt, &c.DeletedAt,
	); err != nil {
		return nil, err
	}
	if browserID != nil {
		c.BrowserID = *browserID
	}
	return c, nil
}

// scanChats reads Chat structs from pgx.Rows (standard column set).
func scanChats(rows pgx.Rows) ([]*Chat, error) {
	var chats []*Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning chat: %w", err)
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chats: %w", err)
	}
	return chats, nil
}

// scanMessage reads one Message from a row with the messageCols column set.
func scanMessage(row pgx.Row) (*Message, error) {
	m := &Message{}
	var traceURL *string
	var sources []byte
	if err := row.Scan(
		&m.ID, &m.ChatID, &m.Role, &m.Ordinal, &m.Content,
		&traceURL, &sources,
		&m.CreatedAt, &m.UpdatedAt, &m.FinishedAt,
	); err != nil {
		return nil, err
	}
	if traceURL != nil {
		m.TraceURL = *traceURL
	}
	if len(sources) > 0 {
		if err := json.Unmarshal(sources, &m.Sources); err != nil {
			return nil, fmt.Errorf("decoding sources: %w", err)
		}
	}
	return m, nil
}

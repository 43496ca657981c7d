// Package conversation orchestrates one chat turn: retrieve knowledge,
// prompt the model, interpret the reply, and drive session state.
package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one append-only conversation turn.
type Message struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Confidence     float32   `json:"confidence"`
	Escalated      bool      `json:"escalated"`
	CreatedAt      time.Time `json:"created_at"`
}

// History is the message persistence the orchestrator needs.
type History interface {
	// Append stores messages in order.
	Append(ctx context.Context, schema string, msgs ...Message) error

	// Recent returns the newest messages for the conversation in
	// chronological order, at most limit.
	Recent(ctx context.Context, schema string, conversationID uuid.UUID, limit int) ([]Message, error)
}

// PgHistory is the PostgreSQL-backed message log.
type PgHistory struct {
	pool *pgxpool.Pool
}

// NewPgHistory creates a message log on the given pool.
func NewPgHistory(pool *pgxpool.Pool) *PgHistory {
	return &PgHistory{pool: pool}
}

func (h *PgHistory) table(schema string) string {
	return pgx.Identifier{schema, "messages"}.Sanitize()
}

// Append stores messages in a single batch.
func (h *PgHistory) Append(ctx context.Context, schema string, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	sql := fmt.Sprintf(`
		INSERT INTO %s (id, conversation_id, role, content, confidence, escalated)
		VALUES ($1, $2, $3, $4, $5, $6)`, h.table(schema))

	batch := &pgx.Batch{}
	for _, m := range msgs {
		id := m.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		batch.Queue(sql, id, m.ConversationID, m.Role, m.Content, m.Confidence, m.Escalated)
	}

	results := h.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range msgs {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("appending messages: %w", err)
		}
	}
	return nil
}

// Recent returns the newest limit messages in chronological order.
func (h *PgHistory) Recent(ctx context.Context, schema string, conversationID uuid.UUID, limit int) ([]Message, error) {
	sql := fmt.Sprintf(`
		SELECT id, conversation_id, role, content, confidence, escalated, created_at
		FROM (
			SELECT id, conversation_id, role, content, confidence, escalated, created_at
			FROM %s
			WHERE conversation_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC`, h.table(schema))

	rows, err := h.pool.Query(ctx, sql, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("loading history for conversation %s: %w", conversationID, err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content,
			&m.Confidence, &m.Escalated, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading message rows: %w", err)
	}
	return msgs, nil
}

package escalation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the PostgreSQL-backed escalation record store.
// Safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates an escalation store on the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) table(schema string) string {
	return pgx.Identifier{schema, "escalations"}.Sanitize()
}

const recordColumns = `id, conversation_id, employee_id, question, reason, status,
	COALESCE(contact_info, ''), COALESCE(resolved_answer, ''), created_at, updated_at`

// Open creates an open record for the conversation, or refreshes the
// existing open one with the latest question and reason. The partial unique
// index on (conversation_id) WHERE status = 'open' guarantees at most one
// open episode per conversation even under concurrent messages.
func (s *Store) Open(ctx context.Context, schema string, conversationID uuid.UUID, employeeID, question, reason string) (*Record, error) {
	sql := fmt.Sprintf(`
		INSERT INTO %s (id, conversation_id, employee_id, question, reason, status)
		VALUES ($1, $2, $3, $4, $5, 'open')
		ON CONFLICT (conversation_id) WHERE status = 'open'
		DO UPDATE SET question = EXCLUDED.question,
		              reason = EXCLUDED.reason,
		              updated_at = now()
		RETURNING `+recordColumns, s.table(schema))

	return s.scanOne(s.pool.QueryRow(ctx, sql, uuid.New(), conversationID, employeeID, question, reason))
}

// RecordContact attaches contact details to the conversation's open record.
func (s *Store) RecordContact(ctx context.Context, schema string, conversationID uuid.UUID, contact string) (*Record, error) {
	sql := fmt.Sprintf(`
		UPDATE %s
		SET contact_info = $2, updated_at = now()
		WHERE conversation_id = $1 AND status = 'open'
		RETURNING `+recordColumns, s.table(schema))

	rec, err := s.scanOne(s.pool.QueryRow(ctx, sql, conversationID, contact))
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: no open escalation for conversation %s", ErrNotOpen, conversationID)
	}
	return rec, err
}

// Abandon closes the conversation's open record without a resolution.
// Idempotent: a conversation with no open record is a no-op.
func (s *Store) Abandon(ctx context.Context, schema string, conversationID uuid.UUID) error {
	sql := fmt.Sprintf(`
		UPDATE %s
		SET status = 'abandoned', updated_at = now()
		WHERE conversation_id = $1 AND status = 'open'`, s.table(schema))

	if _, err := s.pool.Exec(ctx, sql, conversationID); err != nil {
		return fmt.Errorf("abandoning escalation for conversation %s: %w", conversationID, err)
	}
	return nil
}

// AbandonStale closes every open record whose last update is older than
// the cutoff. Covers conversations whose session expired without contact
// info ever arriving. Returns the number of records closed.
func (s *Store) AbandonStale(ctx context.Context, schema string, olderThan time.Time) (int64, error) {
	sql := fmt.Sprintf(`
		UPDATE %s
		SET status = 'abandoned', updated_at = now()
		WHERE status = 'open' AND updated_at < $1`, s.table(schema))

	ct, err := s.pool.Exec(ctx, sql, olderThan)
	if err != nil {
		return 0, fmt.Errorf("abandoning stale escalations in %s: %w", schema, err)
	}
	return ct.RowsAffected(), nil
}

// Resolve marks the record resolved with the human-provided answer.
// Returns ErrNotFound for unknown IDs and ErrNotOpen for already-closed ones.
func (s *Store) Resolve(ctx context.Context, schema string, id uuid.UUID, answer string) (*Record, error) {
	sql := fmt.Sprintf(`
		UPDATE %s
		SET status = 'resolved', resolved_answer = $2, updated_at = now()
		WHERE id = $1 AND status = 'open'
		RETURNING `+recordColumns, s.table(schema))

	rec, err := s.scanOne(s.pool.QueryRow(ctx, sql, id, answer))
	if !errors.Is(err, ErrNotFound) {
		return rec, err
	}

	// Distinguish missing from closed for a usable error.
	var status Status
	probe := fmt.Sprintf(`SELECT status FROM %s WHERE id = $1`, s.table(schema))
	switch probeErr := s.pool.QueryRow(ctx, probe, id).Scan(&status); {
	case errors.Is(probeErr, pgx.ErrNoRows):
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	case probeErr != nil:
		return nil, fmt.Errorf("loading escalation %s: %w", id, probeErr)
	default:
		return nil, fmt.Errorf("%w: %s is %s", ErrNotOpen, id, status)
	}
}

// ListOpen returns open records for the tenant, newest first.
func (s *Store) ListOpen(ctx context.Context, schema string) ([]Record, error) {
	sql := fmt.Sprintf(`
		SELECT `+recordColumns+`
		FROM %s
		WHERE status = 'open'
		ORDER BY created_at DESC`, s.table(schema))

	rows, err := s.pool.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("listing open escalations in %s: %w", schema, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := s.scanOne(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading escalation rows: %w", err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanOne(row rowScanner) (*Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID, &rec.ConversationID, &rec.EmployeeID, &rec.Question,
		&rec.Reason, &rec.Status, &rec.ContactInfo, &rec.ResolvedAnswer,
		&rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning escalation: %w", err)
	}
	return &rec, nil
}

package knowledge

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PgQuerier is the PostgreSQL + pgvector implementation of Querier.
// Queries are schema-qualified per tenant; similarity uses the cosine
// distance operator (similarity = 1 - distance).
type PgQuerier struct {
	pool *pgxpool.Pool
}

// NewPgQuerier creates a querier on the given pool. The pool must have
// pgvector types registered (see app setup).
func NewPgQuerier(pool *pgxpool.Pool) *PgQuerier {
	return &PgQuerier{pool: pool}
}

func (q *PgQuerier) table(schema string) string {
	return pgx.Identifier{schema, "knowledge_entries"}.Sanitize()
}

// SearchEntries returns entries with cosine similarity >= threshold,
// ordered by similarity descending.
func (q *PgQuerier) SearchEntries(ctx context.Context, schema string, query pgvector.Vector, threshold float32, limit int) ([]Result, error) {
	sql := fmt.Sprintf(`
		SELECT id, title, content, category, COALESCE(subcategory, ''),
		       usage_count, last_used_at,
		       1 - (embedding <=> $1) AS similarity
		FROM %s
		WHERE 1 - (embedding <=> $1) >= $2
		ORDER BY embedding <=> $1
		LIMIT $3`, q.table(schema))

	rows, err := q.pool.Query(ctx, sql, query, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", schema, err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			r        Result
			lastUsed pgtype.Timestamptz
		)
		if err := rows.Scan(
			&r.Entry.ID, &r.Entry.Title, &r.Entry.Content,
			&r.Entry.Category, &r.Entry.Subcategory,
			&r.Entry.UsageCount, &lastUsed, &r.Similarity,
		); err != nil {
			return nil, fmt.Errorf("scanning search row: %w", err)
		}
		if lastUsed.Valid {
			r.Entry.LastUsedAt = lastUsed.Time
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading search rows: %w", err)
	}
	return results, nil
}

// InsertEntry stores a new entry with its embedding.
func (q *PgQuerier) InsertEntry(ctx context.Context, schema string, e Entry, embedding pgvector.Vector) error {
	sql := fmt.Sprintf(`
		INSERT INTO %s (id, title, content, category, subcategory, embedding)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)`, q.table(schema))

	if _, err := q.pool.Exec(ctx, sql,
		e.ID, e.Title, e.Content, e.Category, e.Subcategory, embedding,
	); err != nil {
		return fmt.Errorf("inserting into %s: %w", schema, err)
	}
	return nil
}

// TouchEntries bumps usage counters for retrieved entries.
func (q *PgQuerier) TouchEntries(ctx context.Context, schema string, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	sql := fmt.Sprintf(`
		UPDATE %s
		SET usage_count = usage_count + 1, last_used_at = now()
		WHERE id = ANY($1)`, q.table(schema))

	if _, err := q.pool.Exec(ctx, sql, ids); err != nil {
		return fmt.Errorf("touching entries in %s: %w", schema, err)
	}
	return nil
}

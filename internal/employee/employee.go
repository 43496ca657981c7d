// Package employee provides schema-scoped employee lookups.
package employee

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates the employee does not exist in the tenant schema.
// Deactivated employees return the same error: callers must not be able to
// distinguish inactive from nonexistent.
var ErrNotFound = errors.New("employee not found")

// Employee is one tenant's employee record.
type Employee struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email,omitempty"`
	Department string    `json:"department,omitempty"`
	PolicyType string    `json:"policy_type"`
	CreatedAt  time.Time `json:"-"`
}

// Directory looks up employees in a tenant schema.
// Defined here for the convenience of mocks; consumers may also declare
// their own narrower interface.
type Directory interface {
	Get(ctx context.Context, schema, employeeID string) (*Employee, error)
}

// Store is the PostgreSQL-backed employee directory.
// Safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates an employee store on the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Get fetches an active employee from the tenant schema.
func (s *Store) Get(ctx context.Context, schema, employeeID string) (*Employee, error) {
	q := fmt.Sprintf(`
		SELECT employee_id, name, COALESCE(email, ''), COALESCE(department, ''), policy_type, created_at
		FROM %s
		WHERE employee_id = $1 AND is_active`,
		pgx.Identifier{schema, "employees"}.Sanitize())

	var e Employee
	err := s.pool.QueryRow(ctx, q, employeeID).Scan(
		&e.ID, &e.Name, &e.Email, &e.Department, &e.PolicyType, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, employeeID)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching employee %q: %w", employeeID, err)
	}
	return &e, nil
}

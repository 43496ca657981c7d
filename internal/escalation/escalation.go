// Package escalation persists human-handoff records and closes the learning
// loop: resolved answers are written back into the knowledge store so the
// same question stops escalating.
package escalation

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors, checked with errors.Is().
var (
	// ErrNotFound indicates no matching escalation record.
	ErrNotFound = errors.New("escalation not found")

	// ErrNotOpen indicates the record exists but is no longer open.
	ErrNotOpen = errors.New("escalation not open")
)

// Status of an escalation record.
type Status string

const (
	// StatusOpen means a human has not yet resolved the escalation.
	StatusOpen Status = "open"

	// StatusResolved means a human provided an answer.
	StatusResolved Status = "resolved"

	// StatusAbandoned means the employee never provided contact info and
	// the session moved on or expired.
	StatusAbandoned Status = "abandoned"
)

// Record is one escalation episode. A conversation has at most one open
// record at a time; contact info and resolution update the record in place,
// never duplicate it.
type Record struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	EmployeeID     string    `json:"employee_id"`
	Question       string    `json:"question"`
	Reason         string    `json:"reason"`
	Status         Status    `json:"status"`
	ContactInfo    string    `json:"contact_info,omitempty"`
	ResolvedAnswer string    `json:"resolved_answer,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Package session manages conversation sessions and conversation state.
//
// Sessions live in a shared Redis store under a sliding TTL. Conversation
// state is a tagged variant (Normal | Escalated | ContactReceived) with a
// versioned serialization; the only permitted mutation path is the state
// machine in state.go, applied atomically by Store.Transition.
package session

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for session operations, checked with errors.Is().
var (
	// ErrExpired indicates the session is missing or its TTL elapsed.
	ErrExpired = errors.New("session expired")

	// ErrPayloadVersion indicates a stored payload with an unknown schema
	// version. Treated as corruption, never silently reinterpreted.
	ErrPayloadVersion = errors.New("unsupported session payload version")
)

// DefaultTTL is the sliding session lifetime, refreshed on every access.
const DefaultTTL = 30 * time.Minute

// StateKind discriminates the conversation state variant.
type StateKind string

const (
	// StateNormal is the default conversational state.
	StateNormal StateKind = "normal"

	// StateEscalated means the conversation was handed to a human and the
	// assistant is collecting contact details.
	StateEscalated StateKind = "escalated"

	// StateContactReceived means contact details arrived for the open
	// escalation; the next message returns the conversation to Normal.
	StateContactReceived StateKind = "contact_received"
)

// ConversationState is the tagged conversation-state variant.
// Reason/Since are populated for Escalated; Contact/At for ContactReceived.
type ConversationState struct {
	Kind    StateKind `json:"kind"`
	Reason  string    `json:"reason,omitempty"`
	Since   time.Time `json:"since,omitzero"`
	Contact string    `json:"contact,omitempty"`
	At      time.Time `json:"at,omitzero"`
}

// Normal returns the zero conversational state.
func Normal() ConversationState {
	return ConversationState{Kind: StateNormal}
}

// Session is one employee's active conversation.
type Session struct {
	ID             uuid.UUID         `json:"id"`
	TenantSchema   string            `json:"tenant_schema"`
	EmployeeID     string            `json:"employee_id"`
	ConversationID uuid.UUID         `json:"conversation_id"`
	State          ConversationState `json:"state"`
	CreatedAt      time.Time         `json:"created_at"`
	LastActivityAt time.Time         `json:"last_activity_at"`
}

// payloadVersion is bumped whenever the serialized shape changes.
// envelope.V guards against silently corrupting in-flight sessions.
const payloadVersion = 1

type envelope struct {
	V       int     `json:"v"`
	Session Session `json:"session"`
}

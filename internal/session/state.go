package session

import "time"

// EventKind identifies a state-machine event.
type EventKind string

const (
	// EventEscalationTriggered fires when the orchestrator decides the
	// conversation needs a human.
	EventEscalationTriggered EventKind = "escalation_triggered"

	// EventContactInfoDetected fires when a message matches the contact
	// heuristic while an escalation is open.
	EventContactInfoDetected EventKind = "contact_info_detected"

	// EventMessageReceived fires for every inbound message; only relevant
	// to leave ContactReceived.
	EventMessageReceived EventKind = "message_received"

	// EventReset returns any state to Normal.
	EventReset EventKind = "reset"

	// EventTimeout abandons an open escalation that never got contact info.
	EventTimeout EventKind = "timeout"
)

// Event carries a state-machine event and its payload.
type Event struct {
	Kind    EventKind
	Reason  string // EscalationTriggered
	Contact string // ContactInfoDetected
}

// EscalationTriggered builds the event opening an escalation.
func EscalationTriggered(reason string) Event {
	return Event{Kind: EventEscalationTriggered, Reason: reason}
}

// ContactInfoDetected builds the event recording contact details.
func ContactInfoDetected(value string) Event {
	return Event{Kind: EventContactInfoDetected, Contact: value}
}

// MessageReceived builds the per-message event.
func MessageReceived() Event { return Event{Kind: EventMessageReceived} }

// Reset builds the unconditional return-to-Normal event.
func Reset() Event { return Event{Kind: EventReset} }

// Timeout builds the escalation-abandonment event.
func Timeout() Event { return Event{Kind: EventTimeout} }

// Effect names the side effect the caller must perform after a transition.
// The store never talks to the escalation tables itself; it reports what
// the accepted transition implies.
type Effect int

const (
	// EffectNone means no side effect.
	EffectNone Effect = iota

	// EffectOpenEscalation means an escalation record must be opened.
	EffectOpenEscalation

	// EffectRecordContact means the open escalation record gains contact info.
	EffectRecordContact

	// EffectAbandonEscalation means the open escalation record is closed
	// as abandoned.
	EffectAbandonEscalation
)

// Apply computes the transition for the given state and event at time now.
//
// Returns the next state, the side effect the caller owes, and whether the
// state actually changed. Invalid combinations (e.g. ContactInfoDetected
// while Normal) are no-ops: same state, no effect, changed == false.
func Apply(state ConversationState, ev Event, now time.Time) (ConversationState, Effect, bool) {
	switch ev.Kind {
	case EventReset:
		if state.Kind == StateNormal {
			return state, EffectNone, false
		}
		return Normal(), EffectNone, true

	case EventEscalationTriggered:
		if state.Kind != StateNormal {
			return state, EffectNone, false
		}
		return ConversationState{
			Kind:   StateEscalated,
			Reason: ev.Reason,
			Since:  now,
		}, EffectOpenEscalation, true

	case EventContactInfoDetected:
		if state.Kind != StateEscalated {
			return state, EffectNone, false
		}
		return ConversationState{
			Kind:    StateContactReceived,
			Contact: ev.Contact,
			At:      now,
		}, EffectRecordContact, true

	case EventTimeout:
		if state.Kind != StateEscalated {
			return state, EffectNone, false
		}
		return Normal(), EffectAbandonEscalation, true

	case EventMessageReceived:
		if state.Kind != StateContactReceived {
			return state, EffectNone, false
		}
		return Normal(), EffectNone, true

	default:
		return state, EffectNone, false
	}
}

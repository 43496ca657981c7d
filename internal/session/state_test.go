package session

import (
	"errors"
	"testing"
	"time"
)

func TestApply_TransitionTable(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	escalated := ConversationState{Kind: StateEscalated, Reason: "no relevant context", Since: now}
	received := ConversationState{Kind: StateContactReceived, Contact: "ext 4521", At: now}

	tests := []struct {
		name        string
		state       ConversationState
		ev          Event
		wantKind    StateKind
		wantEffect  Effect
		wantChanged bool
	}{
		{"normal + escalation opens", Normal(), EscalationTriggered("no relevant context"), StateEscalated, EffectOpenEscalation, true},
		{"normal + contact is a no-op", Normal(), ContactInfoDetected("x@y.example"), StateNormal, EffectNone, false},
		{"normal + message is a no-op", Normal(), MessageReceived(), StateNormal, EffectNone, false},
		{"normal + timeout is a no-op", Normal(), Timeout(), StateNormal, EffectNone, false},
		{"normal + reset is a no-op", Normal(), Reset(), StateNormal, EffectNone, false},

		{"escalated + contact records", escalated, ContactInfoDetected("ext 4521"), StateContactReceived, EffectRecordContact, true},
		{"escalated + escalation is a no-op", escalated, EscalationTriggered("again"), StateEscalated, EffectNone, false},
		{"escalated + message is a no-op", escalated, MessageReceived(), StateEscalated, EffectNone, false},
		{"escalated + timeout abandons", escalated, Timeout(), StateNormal, EffectAbandonEscalation, true},
		{"escalated + reset returns to normal", escalated, Reset(), StateNormal, EffectNone, true},

		{"received + message returns to normal", received, MessageReceived(), StateNormal, EffectNone, true},
		{"received + contact is a no-op", received, ContactInfoDetected("other@y.example"), StateContactReceived, EffectNone, false},
		{"received + escalation is a no-op", received, EscalationTriggered("more"), StateContactReceived, EffectNone, false},
		{"received + timeout is a no-op", received, Timeout(), StateContactReceived, EffectNone, false},
		{"received + reset returns to normal", received, Reset(), StateNormal, EffectNone, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, eff, changed := Apply(tt.state, tt.ev, now)
			if next.Kind != tt.wantKind {
				t.Errorf("next.Kind = %q, want %q", next.Kind, tt.wantKind)
			}
			if eff != tt.wantEffect {
				t.Errorf("effect = %d, want %d", eff, tt.wantEffect)
			}
			if changed != tt.wantChanged {
				t.Errorf("changed = %v, want %v", changed, tt.wantChanged)
			}
		})
	}
}

func TestApply_PopulatesEscalationFields(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	next, _, _ := Apply(Normal(), EscalationTriggered("llm unavailable"), now)
	if next.Reason != "llm unavailable" {
		t.Errorf("Reason = %q, want %q", next.Reason, "llm unavailable")
	}
	if !next.Since.Equal(now) {
		t.Errorf("Since = %v, want %v", next.Since, now)
	}

	later := now.Add(time.Minute)
	next, _, _ = Apply(next, ContactInfoDetected("jane@company-a.local"), later)
	if next.Contact != "jane@company-a.local" {
		t.Errorf("Contact = %q, want jane@company-a.local", next.Contact)
	}
	if !next.At.Equal(later) {
		t.Errorf("At = %v, want %v", next.At, later)
	}
	// Escalation bookkeeping does not leak into the new variant.
	if next.Reason != "" || !next.Since.IsZero() {
		t.Errorf("stale escalation fields survived: %+v", next)
	}
}

// A duplicate contact-info event after one was recorded must not produce a
// second RecordContact effect.
func TestApply_ContactRecordedOnce(t *testing.T) {
	now := time.Now().UTC()

	state, _, _ := Apply(Normal(), EscalationTriggered("no relevant context"), now)
	state, eff, _ := Apply(state, ContactInfoDetected("ext 100"), now)
	if eff != EffectRecordContact {
		t.Fatalf("first contact effect = %d, want EffectRecordContact", eff)
	}

	_, eff, changed := Apply(state, ContactInfoDetected("ext 200"), now)
	if eff != EffectNone || changed {
		t.Errorf("second contact: effect = %d, changed = %v; want no-op", eff, changed)
	}
	if state.Contact != "ext 100" {
		t.Errorf("Contact = %q, want the first value", state.Contact)
	}
}

func TestApply_UnknownEventIsNoOp(t *testing.T) {
	state, eff, changed := Apply(Normal(), Event{Kind: "bogus"}, time.Now())
	if state.Kind != StateNormal || eff != EffectNone || changed {
		t.Errorf("unknown event: state=%q effect=%d changed=%v", state.Kind, eff, changed)
	}
}

func TestSessionEnvelope_RoundTripAndVersionGuard(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sess := &Session{
		TenantSchema:   "company_a",
		EmployeeID:     "E-1001",
		State:          ConversationState{Kind: StateEscalated, Reason: "no relevant context", Since: now},
		CreatedAt:      now,
		LastActivityAt: now,
	}

	data, err := marshalSession(sess)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := unmarshalSession(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.State != sess.State {
		t.Errorf("State = %+v, want %+v", got.State, sess.State)
	}

	if _, err := unmarshalSession([]byte(`{"v":99,"session":{}}`)); !errors.Is(err, ErrPayloadVersion) {
		t.Errorf("unmarshal v=99 = %v, want ErrPayloadVersion", err)
	}
}

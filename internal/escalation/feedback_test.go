package escalation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/bennet0/bennet/internal/employee"
	"github.com/bennet0/bennet/internal/knowledge"
)

// mockRecorder serves canned records and counts Open calls.
type mockRecorder struct {
	mu         sync.Mutex
	open       map[uuid.UUID]*Record // keyed by conversation ID
	openCalls  int
	resolveErr error
}

func newMockRecorder() *mockRecorder {
	return &mockRecorder{open: make(map[uuid.UUID]*Record)}
}

func (m *mockRecorder) Open(_ context.Context, _ string, conversationID uuid.UUID, employeeID, question, reason string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openCalls++
	if rec, ok := m.open[conversationID]; ok {
		rec.Question = question
		rec.Reason = reason
		cp := *rec
		return &cp, nil
	}
	rec := &Record{
		ID:             uuid.New(),
		ConversationID: conversationID,
		EmployeeID:     employeeID,
		Question:       question,
		Reason:         reason,
		Status:         StatusOpen,
	}
	m.open[conversationID] = rec
	cp := *rec
	return &cp, nil
}

func (m *mockRecorder) RecordContact(_ context.Context, _ string, conversationID uuid.UUID, contact string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.open[conversationID]
	if !ok {
		return nil, ErrNotOpen
	}
	rec.ContactInfo = contact
	cp := *rec
	return &cp, nil
}

func (m *mockRecorder) Abandon(_ context.Context, _ string, conversationID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.open[conversationID]; ok {
		rec.Status = StatusAbandoned
		delete(m.open, conversationID)
	}
	return nil
}

func (m *mockRecorder) Resolve(_ context.Context, _ string, id uuid.UUID, answer string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.resolveErr != nil {
		return nil, m.resolveErr
	}
	for convID, rec := range m.open {
		if rec.ID == id {
			rec.Status = StatusResolved
			rec.ResolvedAnswer = answer
			delete(m.open, convID)
			cp := *rec
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRecorder) ListOpen(_ context.Context, _ string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, rec := range m.open {
		out = append(out, *rec)
	}
	return out, nil
}

type mockKB struct {
	mu      sync.Mutex
	added   []knowledge.Entry
	addErr  error
	schemas []string
}

func (m *mockKB) Add(_ context.Context, schema string, e knowledge.Entry) (knowledge.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.addErr != nil {
		return knowledge.Entry{}, m.addErr
	}
	e.ID = uuid.New()
	m.added = append(m.added, e)
	m.schemas = append(m.schemas, schema)
	return e, nil
}

type mockDirectory struct {
	employees map[string]*employee.Employee
}

func (m *mockDirectory) Get(_ context.Context, _ string, employeeID string) (*employee.Employee, error) {
	emp, ok := m.employees[employeeID]
	if !ok {
		return nil, employee.ErrNotFound
	}
	return emp, nil
}

type mockNotifier struct {
	mu       sync.Mutex
	notified []Record
	err      error
	done     chan struct{}
}

func (m *mockNotifier) Notify(_ context.Context, _ string, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notified = append(m.notified, rec)
	if m.done != nil {
		close(m.done)
		m.done = nil
	}
	return m.err
}

func premiumAlice() *mockDirectory {
	return &mockDirectory{employees: map[string]*employee.Employee{
		"EMP001": {ID: "EMP001", Name: "Alice", PolicyType: "Premium"},
	}}
}

func TestOpen_NotifiesAsynchronously(t *testing.T) {
	rec := newMockRecorder()
	notifier := &mockNotifier{done: make(chan struct{})}
	f := NewFeedback(rec, &mockKB{}, premiumAlice(), notifier, nil)

	convID := uuid.New()
	got, err := f.Open(context.Background(), "company_a", convID, "EMP001", "what's my dental limit", "no relevant context")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if got.Status != StatusOpen {
		t.Errorf("Status = %q, want open", got.Status)
	}

	<-notifier.done
	f.Close()

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.notified) != 1 || notifier.notified[0].ConversationID != convID {
		t.Errorf("notified = %+v, want the opened record", notifier.notified)
	}
}

func TestOpen_ReusesOpenRecord(t *testing.T) {
	rec := newMockRecorder()
	f := NewFeedback(rec, &mockKB{}, premiumAlice(), nil, nil)
	defer f.Close()

	ctx := context.Background()
	convID := uuid.New()
	first, err := f.Open(ctx, "company_a", convID, "EMP001", "question one", "no relevant context")
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	second, err := f.Open(ctx, "company_a", convID, "EMP001", "question two", "llm unavailable")
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("second open created a new record: %s vs %s", first.ID, second.ID)
	}
	if second.Question != "question two" {
		t.Errorf("Question = %q, want the refreshed one", second.Question)
	}
}

func TestOpen_NotificationFailureDoesNotFailOpen(t *testing.T) {
	notifier := &mockNotifier{err: errors.New("broker down"), done: make(chan struct{})}
	f := NewFeedback(newMockRecorder(), &mockKB{}, premiumAlice(), notifier, nil)

	if _, err := f.Open(context.Background(), "company_a", uuid.New(), "EMP001", "q", "r"); err != nil {
		t.Fatalf("open: %v", err)
	}
	<-notifier.done
	f.Close()
}

func TestResolve_WritesBackScopedToPolicyType(t *testing.T) {
	rec := newMockRecorder()
	kb := &mockKB{}
	f := NewFeedback(rec, kb, premiumAlice(), nil, nil)
	defer f.Close()

	ctx := context.Background()
	opened, err := f.Open(ctx, "company_a", uuid.New(), "EMP001", "what's my dental limit", "no relevant context")
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	resolved, err := f.Resolve(ctx, "company_a", opened.ID, "Your annual dental limit is $1,500.", false)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != StatusResolved {
		t.Errorf("Status = %q, want resolved", resolved.Status)
	}

	if len(kb.added) != 1 {
		t.Fatalf("knowledge entries added = %d, want 1", len(kb.added))
	}
	entry := kb.added[0]
	if entry.Category != knowledge.CategoryHITL {
		t.Errorf("Category = %q, want %q", entry.Category, knowledge.CategoryHITL)
	}
	if entry.Subcategory != "Premium" {
		t.Errorf("Subcategory = %q, want Premium (employee's policy type)", entry.Subcategory)
	}
	if !strings.Contains(entry.Content, "what's my dental limit") ||
		!strings.Contains(entry.Content, "$1,500") {
		t.Errorf("Content = %q, want question and answer", entry.Content)
	}
	if kb.schemas[0] != "company_a" {
		t.Errorf("entry written to schema %q, want company_a", kb.schemas[0])
	}
}

func TestResolve_BroadlyApplicableIsGeneral(t *testing.T) {
	kb := &mockKB{}
	f := NewFeedback(newMockRecorder(), kb, premiumAlice(), nil, nil)
	defer f.Close()

	ctx := context.Background()
	opened, _ := f.Open(ctx, "company_a", uuid.New(), "EMP001", "how do I submit a claim", "no relevant context")

	if _, err := f.Resolve(ctx, "company_a", opened.ID, "Use the claims portal.", true); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if kb.added[0].Subcategory != "general" {
		t.Errorf("Subcategory = %q, want general", kb.added[0].Subcategory)
	}
}

func TestResolve_DeactivatedEmployeeFallsBackToGeneral(t *testing.T) {
	kb := &mockKB{}
	dir := &mockDirectory{employees: map[string]*employee.Employee{}}
	f := NewFeedback(newMockRecorder(), kb, dir, nil, nil)
	defer f.Close()

	ctx := context.Background()
	opened, _ := f.Open(ctx, "company_a", uuid.New(), "EMP-GONE", "q", "r")

	if _, err := f.Resolve(ctx, "company_a", opened.ID, "answer", false); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if kb.added[0].Subcategory != "general" {
		t.Errorf("Subcategory = %q, want general fallback", kb.added[0].Subcategory)
	}
}

func TestResolve_UnknownID(t *testing.T) {
	f := NewFeedback(newMockRecorder(), &mockKB{}, premiumAlice(), nil, nil)
	defer f.Close()

	_, err := f.Resolve(context.Background(), "company_a", uuid.New(), "answer", false)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("resolve = %v, want ErrNotFound", err)
	}
}

package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bennet0/bennet/internal/employee"
	"github.com/bennet0/bennet/internal/knowledge"
)

// Recorder is the record persistence Feedback needs. Store implements it.
type Recorder interface {
	Open(ctx context.Context, schema string, conversationID uuid.UUID, employeeID, question, reason string) (*Record, error)
	RecordContact(ctx context.Context, schema string, conversationID uuid.UUID, contact string) (*Record, error)
	Abandon(ctx context.Context, schema string, conversationID uuid.UUID) error
	Resolve(ctx context.Context, schema string, id uuid.UUID, answer string) (*Record, error)
	ListOpen(ctx context.Context, schema string) ([]Record, error)
}

// KnowledgeWriter writes resolved answers back into the knowledge store.
type KnowledgeWriter interface {
	Add(ctx context.Context, schema string, e knowledge.Entry) (knowledge.Entry, error)
}

// Notifier dispatches escalation notifications to HR staff. Best-effort:
// failures are logged, never propagated.
type Notifier interface {
	Notify(ctx context.Context, schema string, rec Record) error
}

// Feedback drives the escalation lifecycle and the learning write-back.
type Feedback struct {
	records   Recorder
	kb        KnowledgeWriter
	employees employee.Directory
	notifier  Notifier // nil = notifications disabled
	logger    *slog.Logger

	bgCtx  context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewFeedback creates the escalation feedback service.
// notifier may be nil; nil logger uses slog.Default().
func NewFeedback(records Recorder, kb KnowledgeWriter, employees employee.Directory, notifier Notifier, logger *slog.Logger) *Feedback {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Feedback{
		records:   records,
		kb:        kb,
		employees: employees,
		notifier:  notifier,
		logger:    logger,
		bgCtx:     ctx,
		cancel:    cancel,
	}
}

// Open creates or refreshes the conversation's open escalation and
// dispatches a best-effort notification off the request path.
func (f *Feedback) Open(ctx context.Context, schema string, conversationID uuid.UUID, employeeID, question, reason string) (*Record, error) {
	rec, err := f.records.Open(ctx, schema, conversationID, employeeID, question, reason)
	if err != nil {
		return nil, fmt.Errorf("opening escalation: %w", err)
	}

	f.notifyAsync(schema, *rec)
	return rec, nil
}

// RecordContact attaches employee contact details to the open escalation.
func (f *Feedback) RecordContact(ctx context.Context, schema string, conversationID uuid.UUID, contact string) (*Record, error) {
	return f.records.RecordContact(ctx, schema, conversationID, contact)
}

// Abandon closes the open escalation without resolution.
func (f *Feedback) Abandon(ctx context.Context, schema string, conversationID uuid.UUID) error {
	return f.records.Abandon(ctx, schema, conversationID)
}

// ListOpen returns the tenant's open escalations for the HR queue.
func (f *Feedback) ListOpen(ctx context.Context, schema string) ([]Record, error) {
	return f.records.ListOpen(ctx, schema)
}

// Resolve records the human-provided answer and writes it back into the
// knowledge store so the same question stops escalating. The new entry is
// scoped to the employee's policy type unless the resolver marks the answer
// broadly applicable, in which case it is tagged "general".
func (f *Feedback) Resolve(ctx context.Context, schema string, id uuid.UUID, answer string, broadlyApplicable bool) (*Record, error) {
	rec, err := f.records.Resolve(ctx, schema, id, answer)
	if err != nil {
		return nil, err
	}

	subcategory := "general"
	if !broadlyApplicable {
		emp, err := f.employees.Get(ctx, schema, rec.EmployeeID)
		if err != nil {
			// The employee may have been deactivated since escalating.
			// The answer is still worth keeping; fall back to general scope.
			f.logger.Warn("employee lookup failed during resolution, scoping answer as general",
				"schema", schema,
				"employee_id", rec.EmployeeID,
				"error", err)
		} else {
			subcategory = emp.PolicyType
		}
	}

	entry := knowledge.Entry{
		Title:       rec.Question,
		Content:     fmt.Sprintf("Q: %s\nA: %s", rec.Question, answer),
		Category:    knowledge.CategoryHITL,
		Subcategory: subcategory,
	}
	if _, err := f.kb.Add(ctx, schema, entry); err != nil {
		return nil, fmt.Errorf("writing resolved answer to knowledge store: %w", err)
	}

	f.logger.Info("escalation resolved",
		"schema", schema,
		"escalation_id", rec.ID,
		"subcategory", subcategory)
	return rec, nil
}

// Close stops background notification dispatch and waits for in-flight ones.
func (f *Feedback) Close() error {
	f.cancel()
	f.wg.Wait()
	return nil
}

// notifyAsync dispatches off the request path. Failures are logged only:
// the escalation record persists regardless.
func (f *Feedback) notifyAsync(schema string, rec Record) {
	if f.notifier == nil {
		return
	}
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()

		ctx, cancel := context.WithTimeout(f.bgCtx, 10*time.Second)
		defer cancel()

		if err := f.notifier.Notify(ctx, schema, rec); err != nil {
			f.logger.Warn("escalation notification failed",
				"schema", schema,
				"escalation_id", rec.ID,
				"error", err)
		}
	}()
}

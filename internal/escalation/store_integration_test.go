package escalation_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bennet0/bennet/internal/escalation"
	"github.com/bennet0/bennet/internal/testutil"
)

// Exercises the store against a real PostgreSQL instance: the one-open-
// record-per-conversation guarantee rests on a partial unique index that
// mocks cannot reproduce.
func TestStore_OpenRefreshesExistingRecord(t *testing.T) {
	db := testutil.SetupTestDB(t)
	db.ProvisionTenant(t, "itest.local", "itest")
	store := escalation.NewStore(db.Pool)
	ctx := context.Background()

	convID := uuid.New()

	first, err := store.Open(ctx, "itest", convID, "EMP001", "What is the dental cap?", "no_relevant_context")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	second, err := store.Open(ctx, "itest", convID, "EMP001", "And for my spouse?", "model_signal")
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("second Open created a new record: %s != %s", second.ID, first.ID)
	}
	if second.Question != "And for my spouse?" {
		t.Errorf("question not refreshed: %q", second.Question)
	}

	open, err := store.ListOpen(ctx, "itest")
	if err != nil {
		t.Fatalf("ListOpen: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("open records = %d, want 1", len(open))
	}
}

func TestStore_ResolveLifecycle(t *testing.T) {
	db := testutil.SetupTestDB(t)
	db.ProvisionTenant(t, "itest.local", "itest")
	store := escalation.NewStore(db.Pool)
	ctx := context.Background()

	convID := uuid.New()
	rec, err := store.Open(ctx, "itest", convID, "EMP001", "Is optical covered?", "no_relevant_context")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, err := store.RecordContact(ctx, "itest", convID, "88399967"); err != nil {
		t.Fatalf("RecordContact: %v", err)
	}

	resolved, err := store.Resolve(ctx, "itest", rec.ID, "Optical is covered up to $300/year.")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.Status != escalation.StatusResolved {
		t.Errorf("status = %s, want resolved", resolved.Status)
	}
	if resolved.ContactInfo != "88399967" {
		t.Errorf("contact info lost on resolve: %q", resolved.ContactInfo)
	}

	// Closed records reject further transitions.
	if _, err := store.Resolve(ctx, "itest", rec.ID, "again"); !errors.Is(err, escalation.ErrNotOpen) {
		t.Errorf("second Resolve err = %v, want ErrNotOpen", err)
	}
	if _, err := store.RecordContact(ctx, "itest", convID, "other"); !errors.Is(err, escalation.ErrNotOpen) {
		t.Errorf("RecordContact after resolve err = %v, want ErrNotOpen", err)
	}

	if _, err := store.Resolve(ctx, "itest", uuid.New(), "x"); !errors.Is(err, escalation.ErrNotFound) {
		t.Errorf("Resolve unknown ID err = %v, want ErrNotFound", err)
	}
}

func TestStore_AbandonStaleClosesOnlyOldRecords(t *testing.T) {
	db := testutil.SetupTestDB(t)
	db.ProvisionTenant(t, "itest.local", "itest")
	store := escalation.NewStore(db.Pool)
	ctx := context.Background()

	staleConv, freshConv := uuid.New(), uuid.New()
	if _, err := store.Open(ctx, "itest", staleConv, "EMP001", "Old question, no contact", "no_relevant_context"); err != nil {
		t.Fatalf("Open stale: %v", err)
	}
	fresh, err := store.Open(ctx, "itest", freshConv, "EMP002", "Recent question", "no_relevant_context")
	if err != nil {
		t.Fatalf("Open fresh: %v", err)
	}

	// Age the first record past the cutoff.
	if _, err := db.Pool.Exec(ctx,
		`UPDATE itest.escalations SET updated_at = now() - interval '1 hour' WHERE conversation_id = $1`,
		staleConv); err != nil {
		t.Fatalf("backdating record: %v", err)
	}

	n, err := store.AbandonStale(ctx, "itest", time.Now().Add(-30*time.Minute))
	if err != nil {
		t.Fatalf("AbandonStale: %v", err)
	}
	if n != 1 {
		t.Fatalf("abandoned = %d, want 1", n)
	}

	open, err := store.ListOpen(ctx, "itest")
	if err != nil {
		t.Fatalf("ListOpen: %v", err)
	}
	if len(open) != 1 || open[0].ID != fresh.ID {
		t.Errorf("open after sweep = %+v, want only the fresh record", open)
	}

	// A second sweep finds nothing left to close.
	n, err = store.AbandonStale(ctx, "itest", time.Now().Add(-30*time.Minute))
	if err != nil {
		t.Fatalf("second AbandonStale: %v", err)
	}
	if n != 0 {
		t.Errorf("second sweep abandoned = %d, want 0", n)
	}
}

func TestStore_AbandonIsIdempotent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	db.ProvisionTenant(t, "itest.local", "itest")
	store := escalation.NewStore(db.Pool)
	ctx := context.Background()

	convID := uuid.New()
	if _, err := store.Open(ctx, "itest", convID, "EMP002", "Maternity leave length?", "no_relevant_context"); err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := store.Abandon(ctx, "itest", convID); err != nil {
		t.Fatalf("Abandon: %v", err)
	}
	if err := store.Abandon(ctx, "itest", convID); err != nil {
		t.Fatalf("second Abandon: %v", err)
	}

	open, err := store.ListOpen(ctx, "itest")
	if err != nil {
		t.Fatalf("ListOpen: %v", err)
	}
	if len(open) != 0 {
		t.Errorf("open records after abandon = %d, want 0", len(open))
	}

	// A fresh escalation for the same conversation opens a new episode.
	rec, err := store.Open(ctx, "itest", convID, "EMP002", "Maternity leave length?", "no_relevant_context")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if rec.Status != escalation.StatusOpen {
		t.Errorf("reopened status = %s, want open", rec.Status)
	}
}

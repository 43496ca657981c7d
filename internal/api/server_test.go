package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bennet0/bennet/internal/conversation"
	"github.com/bennet0/bennet/internal/employee"
	"github.com/bennet0/bennet/internal/escalation"
	"github.com/bennet0/bennet/internal/session"
	"github.com/bennet0/bennet/internal/tenant"
)

type fakeResolver struct {
	tenants map[string]*tenant.Tenant
}

func (f *fakeResolver) Resolve(_ context.Context, domain string) (*tenant.Tenant, error) {
	t, ok := f.tenants[tenant.NormalizeDomain(domain)]
	if !ok {
		return nil, tenant.ErrNotFound
	}
	return t, nil
}

type fakeSessions struct {
	sessions map[uuid.UUID]*session.Session
	created  []string
}

func (f *fakeSessions) Create(_ context.Context, tenantSchema, employeeID string) (*session.Session, error) {
	if employeeID != "EMP001" {
		return nil, employee.ErrNotFound
	}
	sess := &session.Session{
		ID:             uuid.New(),
		TenantSchema:   tenantSchema,
		EmployeeID:     employeeID,
		ConversationID: uuid.New(),
		State:          session.Normal(),
	}
	f.sessions[sess.ID] = sess
	f.created = append(f.created, tenantSchema)
	return sess, nil
}

func (f *fakeSessions) Get(_ context.Context, id uuid.UUID) (*session.Session, error) {
	sess, ok := f.sessions[id]
	if !ok {
		return nil, session.ErrExpired
	}
	return sess, nil
}

func (f *fakeSessions) Transition(_ context.Context, id uuid.UUID, ev session.Event) (*session.Session, session.Effect, error) {
	sess, ok := f.sessions[id]
	if !ok {
		return nil, session.EffectNone, session.ErrExpired
	}
	next, eff, _ := session.Apply(sess.State, ev, time.Now())
	sess.State = next
	return sess, eff, nil
}

func (f *fakeSessions) Delete(_ context.Context, id uuid.UUID) error {
	delete(f.sessions, id)
	return nil
}

type fakeResponder struct {
	reply *conversation.Reply
	err   error
}

func (f *fakeResponder) Respond(_ context.Context, _ *session.Session, _ string) (*conversation.Reply, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.reply, nil
}

type fakeDirectory struct{}

func (fakeDirectory) Get(_ context.Context, _, employeeID string) (*employee.Employee, error) {
	if employeeID != "EMP001" {
		return nil, employee.ErrNotFound
	}
	return &employee.Employee{ID: "EMP001", Name: "Alice", PolicyType: "Premium"}, nil
}

type fakeEscalations struct {
	records   map[uuid.UUID]*escalation.Record
	resolved  []uuid.UUID
	abandoned []uuid.UUID
}

func (f *fakeEscalations) ListOpen(_ context.Context, _ string) ([]escalation.Record, error) {
	var out []escalation.Record
	for _, rec := range f.records {
		out = append(out, *rec)
	}
	return out, nil
}

func (f *fakeEscalations) Resolve(_ context.Context, _ string, id uuid.UUID, answer string, _ bool) (*escalation.Record, error) {
	rec, ok := f.records[id]
	if !ok {
		return nil, escalation.ErrNotFound
	}
	if rec.Status != escalation.StatusOpen {
		return nil, escalation.ErrNotOpen
	}
	rec.Status = escalation.StatusResolved
	rec.ResolvedAnswer = answer
	f.resolved = append(f.resolved, id)
	return rec, nil
}

func (f *fakeEscalations) Abandon(_ context.Context, _ string, conversationID uuid.UUID) error {
	for _, rec := range f.records {
		if rec.ConversationID == conversationID && rec.Status == escalation.StatusOpen {
			rec.Status = escalation.StatusAbandoned
		}
	}
	f.abandoned = append(f.abandoned, conversationID)
	return nil
}

type fakeMessages struct {
	msgs []conversation.Message
}

func (f *fakeMessages) Recent(_ context.Context, _ string, _ uuid.UUID, _ int) ([]conversation.Message, error) {
	return f.msgs, nil
}

type harness struct {
	server      *Server
	sessions    *fakeSessions
	escalations *fakeEscalations
}

func newHarness(t *testing.T, responder Responder) *harness {
	t.Helper()
	h := &harness{
		sessions:    &fakeSessions{sessions: make(map[uuid.UUID]*session.Session)},
		escalations: &fakeEscalations{records: make(map[uuid.UUID]*escalation.Record)},
	}
	srv, err := NewServer(ServerConfig{
		Resolver: &fakeResolver{tenants: map[string]*tenant.Tenant{
			"company-a.local": {Domain: "company-a.local", Schema: "company_a", Name: "Company A"},
			"company-b.local": {Domain: "company-b.local", Schema: "company_b", Name: "Company B"},
		}},
		Sessions:     h.sessions,
		Orchestrator: responder,
		Employees:    fakeDirectory{},
		Escalations:  h.escalations,
		Messages:     &fakeMessages{},
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	h.server = srv
	return h
}

func (h *harness) do(t *testing.T, method, path, domain string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if domain != "" {
		req.Header.Set(TenantHeader, domain)
	}
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var e errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&e); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	return e
}

func TestMissingTenantHeader(t *testing.T) {
	h := newHarness(t, &fakeResponder{})
	rec := h.do(t, http.MethodPost, "/api/v1/session", "", map[string]string{"employee_id": "EMP001"})

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if e := decodeError(t, rec); e.Error != "tenant_not_found" || e.Success {
		t.Errorf("error = %+v, want tenant_not_found", e)
	}
}

func TestUnmappedDomain(t *testing.T) {
	h := newHarness(t, &fakeResponder{})
	rec := h.do(t, http.MethodPost, "/api/v1/session", "unknown.example", map[string]string{"employee_id": "EMP001"})

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if e := decodeError(t, rec); e.Error != "tenant_not_found" {
		t.Errorf("error = %q, want tenant_not_found", e.Error)
	}
}

func TestCreateSession(t *testing.T) {
	h := newHarness(t, &fakeResponder{})
	rec := h.do(t, http.MethodPost, "/api/v1/session", "company-a.local", map[string]string{"employee_id": "EMP001"})

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body)
	}
	var resp createSessionResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.SessionID == uuid.Nil {
		t.Error("missing session_id")
	}
	if resp.Employee.Name != "Alice" || resp.Employee.PolicyType != "Premium" {
		t.Errorf("employee = %+v, want Alice/Premium", resp.Employee)
	}
	if len(h.sessions.created) != 1 || h.sessions.created[0] != "company_a" {
		t.Errorf("session created in %v, want [company_a]", h.sessions.created)
	}
}

func TestCreateSession_UnknownEmployee(t *testing.T) {
	h := newHarness(t, &fakeResponder{})
	rec := h.do(t, http.MethodPost, "/api/v1/session", "company-a.local", map[string]string{"employee_id": "NOBODY"})

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if e := decodeError(t, rec); e.Error != "employee_not_found" {
		t.Errorf("error = %q, want employee_not_found", e.Error)
	}
}

func TestSendMessage(t *testing.T) {
	reply := &conversation.Reply{
		Answer:     "Your annual dental limit is $1,500.",
		Confidence: 0.93,
		Sources:    []conversation.Source{{Title: "Dental Benefits - Premium", Similarity: 0.93}},
	}
	h := newHarness(t, &fakeResponder{reply: reply})

	sess, _ := h.sessions.Create(context.Background(), "company_a", "EMP001")
	rec := h.do(t, http.MethodPost, "/api/v1/message", "company-a.local", map[string]any{
		"session_id": sess.ID,
		"message":    "what's my dental limit",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}
	var got conversation.Reply
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decoding reply: %v", err)
	}
	if got.Answer != reply.Answer || got.Escalated {
		t.Errorf("reply = %+v", got)
	}
}

func TestSendMessage_ExpiredSession(t *testing.T) {
	h := newHarness(t, &fakeResponder{})
	rec := h.do(t, http.MethodPost, "/api/v1/message", "company-a.local", map[string]any{
		"session_id": uuid.New(),
		"message":    "hello",
	})

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if e := decodeError(t, rec); e.Error != "session_expired" {
		t.Errorf("error = %q, want session_expired", e.Error)
	}
}

// A session created under tenant A must not be usable with tenant B's
// domain header, and the rejection must be indistinguishable from expiry.
func TestSendMessage_CrossTenantSessionRejected(t *testing.T) {
	h := newHarness(t, &fakeResponder{reply: &conversation.Reply{Answer: "hi"}})

	sess, _ := h.sessions.Create(context.Background(), "company_a", "EMP001")
	rec := h.do(t, http.MethodPost, "/api/v1/message", "company-b.local", map[string]any{
		"session_id": sess.ID,
		"message":    "what's my dental limit",
	})

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if e := decodeError(t, rec); e.Error != "session_expired" {
		t.Errorf("error = %q, want session_expired (not a tenant hint)", e.Error)
	}
}

func TestDeleteSession(t *testing.T) {
	h := newHarness(t, &fakeResponder{})
	sess, _ := h.sessions.Create(context.Background(), "company_a", "EMP001")

	rec := h.do(t, http.MethodDelete, "/api/v1/session/"+sess.ID.String(), "company-a.local", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if _, ok := h.sessions.sessions[sess.ID]; ok {
		t.Error("session still present after delete")
	}
}

// Logging out of an escalated session must close the open escalation as
// abandoned; nobody will ever send the contact info it is waiting for.
func TestDeleteSession_AbandonsOpenEscalation(t *testing.T) {
	h := newHarness(t, &fakeResponder{})
	sess, _ := h.sessions.Create(context.Background(), "company_a", "EMP001")
	sess.State = session.ConversationState{Kind: session.StateEscalated, Reason: "no context", Since: time.Now()}

	open := &escalation.Record{
		ID:             uuid.New(),
		ConversationID: sess.ConversationID,
		EmployeeID:     "EMP001",
		Question:       "what about gym memberships",
		Status:         escalation.StatusOpen,
	}
	h.escalations.records[open.ID] = open

	rec := h.do(t, http.MethodDelete, "/api/v1/session/"+sess.ID.String(), "company-a.local", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if _, ok := h.sessions.sessions[sess.ID]; ok {
		t.Error("session still present after delete")
	}
	if open.Status != escalation.StatusAbandoned {
		t.Errorf("escalation status = %q, want abandoned", open.Status)
	}
	if len(h.escalations.abandoned) != 1 || h.escalations.abandoned[0] != sess.ConversationID {
		t.Errorf("abandoned = %v, want [%s]", h.escalations.abandoned, sess.ConversationID)
	}
}

func TestResolveEscalation(t *testing.T) {
	h := newHarness(t, &fakeResponder{})
	rec1 := &escalation.Record{
		ID:             uuid.New(),
		ConversationID: uuid.New(),
		EmployeeID:     "EMP001",
		Question:       "what about gym memberships",
		Status:         escalation.StatusOpen,
	}
	h.escalations.records[rec1.ID] = rec1

	rec := h.do(t, http.MethodPost, "/api/v1/escalations/"+rec1.ID.String()+"/resolve", "company-a.local",
		map[string]any{"answer": "Gym memberships are not covered.", "broadly_applicable": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}

	// Resolving again conflicts.
	rec = h.do(t, http.MethodPost, "/api/v1/escalations/"+rec1.ID.String()+"/resolve", "company-a.local",
		map[string]any{"answer": "again"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("second resolve status = %d, want 409", rec.Code)
	}
}

func TestListEscalations_EmptyIsArray(t *testing.T) {
	h := newHarness(t, &fakeResponder{})
	rec := h.do(t, http.MethodGet, "/api/v1/escalations", "company-a.local", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Escalations []escalation.Record `json:"escalations"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if resp.Escalations == nil {
		t.Error("escalations is null, want []")
	}
}

func TestHealthBypassesTenantMiddleware(t *testing.T) {
	h := newHarness(t, &fakeResponder{})
	rec := h.do(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

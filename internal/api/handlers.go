package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/bennet0/bennet/internal/conversation"
	"github.com/bennet0/bennet/internal/employee"
	"github.com/bennet0/bennet/internal/escalation"
	"github.com/bennet0/bennet/internal/session"
	"github.com/bennet0/bennet/internal/tenant"
)

// TenantResolver resolves a domain into a tenant context.
type TenantResolver interface {
	Resolve(ctx context.Context, domain string) (*tenant.Tenant, error)
}

// SessionService is the session lifecycle the handlers need.
type SessionService interface {
	Create(ctx context.Context, tenantSchema, employeeID string) (*session.Session, error)
	Get(ctx context.Context, id uuid.UUID) (*session.Session, error)
	Transition(ctx context.Context, id uuid.UUID, ev session.Event) (*session.Session, session.Effect, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Responder handles one conversation turn.
type Responder interface {
	Respond(ctx context.Context, sess *session.Session, userMessage string) (*conversation.Reply, error)
}

// EscalationQueue is the HR-facing escalation surface.
type EscalationQueue interface {
	ListOpen(ctx context.Context, schema string) ([]escalation.Record, error)
	Resolve(ctx context.Context, schema string, id uuid.UUID, answer string, broadlyApplicable bool) (*escalation.Record, error)
	Abandon(ctx context.Context, schema string, conversationID uuid.UUID) error
}

// MessageLog reads conversation history.
type MessageLog interface {
	Recent(ctx context.Context, schema string, conversationID uuid.UUID, limit int) ([]conversation.Message, error)
}

type chatHandler struct {
	sessions     SessionService
	orchestrator Responder
	employees    employee.Directory
	escalations  EscalationQueue
	logger       *slog.Logger
}

type createSessionRequest struct {
	EmployeeID string `json:"employee_id"`
}

type employeeProfile struct {
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
	Department string `json:"department,omitempty"`
	PolicyType string `json:"policy_type"`
}

type createSessionResponse struct {
	SessionID uuid.UUID       `json:"session_id"`
	Employee  employeeProfile `json:"employee"`
}

// createSession handles POST /api/v1/session.
func (h *chatHandler) createSession(w http.ResponseWriter, r *http.Request) {
	t, ok := tenantFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusNotFound, "tenant_not_found", "no tenant in request")
		return
	}

	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.EmployeeID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "employee_id is required")
		return
	}

	sess, err := h.sessions.Create(r.Context(), t.Schema, req.EmployeeID)
	if errors.Is(err, employee.ErrNotFound) {
		writeError(w, http.StatusNotFound, "employee_not_found", "no such employee")
		return
	}
	if err != nil {
		h.logger.Error("creating session", "tenant", t.Schema, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not create session")
		return
	}

	emp, err := h.employees.Get(r.Context(), t.Schema, req.EmployeeID)
	if err != nil {
		// Create just verified the employee; a race here is unlikely but
		// not worth failing the session for.
		h.logger.Warn("employee profile lookup failed", "employee_id", req.EmployeeID, "error", err)
		emp = &employee.Employee{ID: req.EmployeeID}
	}

	writeJSON(w, http.StatusCreated, createSessionResponse{
		SessionID: sess.ID,
		Employee: employeeProfile{
			Name:       emp.Name,
			Email:      emp.Email,
			Department: emp.Department,
			PolicyType: emp.PolicyType,
		},
	})
}

// deleteSession handles DELETE /api/v1/session/{id} (explicit logout).
// A logout while an escalation is still waiting for contact info counts as
// the session's timeout: the open record is closed as abandoned so it does
// not sit in the HR queue after the employee is gone.
func (h *chatHandler) deleteSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.loadTenantSession(w, r, r.PathValue("id"))
	if !ok {
		return
	}
	if sess.State.Kind == session.StateEscalated {
		_, eff, err := h.sessions.Transition(r.Context(), sess.ID, session.Timeout())
		if err != nil {
			// The session is being deleted either way; the sweep will
			// abandon the record if this attempt is lost.
			h.logger.Warn("timing out escalated session on logout",
				"session_id", sess.ID, "error", err)
		} else if eff == session.EffectAbandonEscalation {
			if err := h.escalations.Abandon(r.Context(), sess.TenantSchema, sess.ConversationID); err != nil {
				h.logger.Warn("abandoning escalation on logout",
					"conversation_id", sess.ConversationID, "error", err)
			}
		}
	}
	if err := h.sessions.Delete(r.Context(), sess.ID); err != nil {
		h.logger.Error("deleting session", "session_id", sess.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not delete session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type messageRequest struct {
	SessionID uuid.UUID `json:"session_id"`
	Message   string    `json:"message"`
}

// sendMessage handles POST /api/v1/message.
func (h *chatHandler) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == uuid.Nil || req.Message == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "session_id and message are required")
		return
	}

	sess, ok := h.loadTenantSession(w, r, req.SessionID.String())
	if !ok {
		return
	}

	reply, err := h.orchestrator.Respond(r.Context(), sess, req.Message)
	if errors.Is(err, session.ErrExpired) {
		writeError(w, http.StatusNotFound, "session_expired", "session expired mid-conversation")
		return
	}
	if err != nil {
		h.logger.Error("responding to message", "session_id", sess.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not process message")
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

// loadTenantSession parses the session ID, loads the session, and enforces
// that it belongs to the request's tenant. A session from another tenant is
// reported as expired so session IDs cannot be probed across tenants.
func (h *chatHandler) loadTenantSession(w http.ResponseWriter, r *http.Request, rawID string) (*session.Session, bool) {
	t, ok := tenantFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusNotFound, "tenant_not_found", "no tenant in request")
		return nil, false
	}

	id, err := uuid.Parse(rawID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed session id")
		return nil, false
	}

	sess, err := h.sessions.Get(r.Context(), id)
	if errors.Is(err, session.ErrExpired) {
		writeError(w, http.StatusNotFound, "session_expired", "session expired or unknown")
		return nil, false
	}
	if err != nil {
		h.logger.Error("loading session", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not load session")
		return nil, false
	}
	if sess.TenantSchema != t.Schema {
		writeError(w, http.StatusNotFound, "session_expired", "session expired or unknown")
		return nil, false
	}
	return sess, true
}

type escalationHandler struct {
	escalations EscalationQueue
	logger      *slog.Logger
}

// list handles GET /api/v1/escalations.
func (h *escalationHandler) list(w http.ResponseWriter, r *http.Request) {
	t, ok := tenantFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusNotFound, "tenant_not_found", "no tenant in request")
		return
	}

	records, err := h.escalations.ListOpen(r.Context(), t.Schema)
	if err != nil {
		h.logger.Error("listing escalations", "tenant", t.Schema, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not list escalations")
		return
	}
	if records == nil {
		records = []escalation.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"escalations": records})
}

type resolveRequest struct {
	Answer            string `json:"answer"`
	BroadlyApplicable bool   `json:"broadly_applicable"`
}

// resolve handles POST /api/v1/escalations/{id}/resolve.
func (h *escalationHandler) resolve(w http.ResponseWriter, r *http.Request) {
	t, ok := tenantFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusNotFound, "tenant_not_found", "no tenant in request")
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed escalation id")
		return
	}

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Answer == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "answer is required")
		return
	}

	rec, err := h.escalations.Resolve(r.Context(), t.Schema, id, req.Answer, req.BroadlyApplicable)
	switch {
	case errors.Is(err, escalation.ErrNotFound):
		writeError(w, http.StatusNotFound, "escalation_not_found", "no such escalation")
		return
	case errors.Is(err, escalation.ErrNotOpen):
		writeError(w, http.StatusConflict, "escalation_not_open", "escalation already closed")
		return
	case err != nil:
		h.logger.Error("resolving escalation", "escalation_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not resolve escalation")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type historyHandler struct {
	messages MessageLog
	logger   *slog.Logger
}

const historyPageSize = 50

// list handles GET /api/v1/conversations/{id}/messages.
func (h *historyHandler) list(w http.ResponseWriter, r *http.Request) {
	t, ok := tenantFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusNotFound, "tenant_not_found", "no tenant in request")
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed conversation id")
		return
	}

	msgs, err := h.messages.Recent(r.Context(), t.Schema, id, historyPageSize)
	if err != nil {
		h.logger.Error("loading conversation messages", "conversation_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not load messages")
		return
	}
	if msgs == nil {
		msgs = []conversation.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

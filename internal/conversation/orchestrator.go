package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/bennet0/bennet/internal/employee"
	"github.com/bennet0/bennet/internal/escalation"
	"github.com/bennet0/bennet/internal/knowledge"
	"github.com/bennet0/bennet/internal/session"
)

// Escalation reasons recorded on the session and the escalation record.
const (
	reasonNoContext   = "no relevant knowledge context"
	reasonLLMFailure  = "llm unavailable"
	reasonModelSignal = "model requested escalation"
)

// genericEscalationMessage is returned when the model itself is unavailable.
const genericEscalationMessage = "I'm sorry, I couldn't find an answer to your question. " +
	"I've forwarded it to our HR staff. Please share a phone number or email " +
	"address so they can reach you."

// contactAckMessage replaces the generic fallback when the failing turn is
// the one that delivered contact details: re-asking for a phone number the
// employee just provided would be worse than a canned acknowledgment.
const contactAckMessage = "Thank you, your contact details have been passed " +
	"to our HR staff. They will reach out to you shortly."

// SessionManager drives conversation-state transitions.
type SessionManager interface {
	Transition(ctx context.Context, id uuid.UUID, ev session.Event) (*session.Session, session.Effect, error)
}

// Retriever performs knowledge search. knowledge.Store implements it.
type Retriever interface {
	Search(ctx context.Context, schema, query string, opts ...knowledge.SearchOption) ([]knowledge.Result, error)
}

// EscalationService manages escalation records. escalation.Feedback
// implements it.
type EscalationService interface {
	Open(ctx context.Context, schema string, conversationID uuid.UUID, employeeID, question, reason string) (*escalation.Record, error)
	RecordContact(ctx context.Context, schema string, conversationID uuid.UUID, contact string) (*escalation.Record, error)
}

// Source identifies one knowledge entry an answer was grounded on.
type Source struct {
	Title      string  `json:"title"`
	Similarity float32 `json:"similarity"`
}

// Reply is the structured result of one conversation turn.
type Reply struct {
	Answer     string   `json:"answer"`
	Confidence float32  `json:"confidence"`
	Sources    []Source `json:"sources"`
	Escalated  bool     `json:"escalated"`
}

// Config contains all required parameters for the orchestrator.
type Config struct {
	Sessions    SessionManager
	Retriever   Retriever
	Escalations EscalationService
	Employees   employee.Directory
	History     History
	Completer   Completer
	Logger      *slog.Logger

	// Retrieval tuning.
	TopK      int
	Threshold float32

	// HistoryWindow is how many recent messages go into the prompt.
	HistoryWindow int

	// LLMTimeout bounds one completion call including retries.
	LLMTimeout time.Duration

	RetryConfig RetryConfig
	RateLimiter *rate.Limiter // nil = use default
}

func (cfg Config) validate() error {
	if cfg.Sessions == nil {
		return errors.New("session manager is required")
	}
	if cfg.Retriever == nil {
		return errors.New("retriever is required")
	}
	if cfg.Escalations == nil {
		return errors.New("escalation service is required")
	}
	if cfg.Employees == nil {
		return errors.New("employee directory is required")
	}
	if cfg.History == nil {
		return errors.New("history is required")
	}
	if cfg.Completer == nil {
		return errors.New("completer is required")
	}
	return nil
}

// Orchestrator composes one conversation turn end to end. Stateless per
// request; safe for concurrent use.
type Orchestrator struct {
	sessions    SessionManager
	retriever   Retriever
	escalations EscalationService
	employees   employee.Directory
	history     History
	completer   Completer
	logger      *slog.Logger

	topK          int
	threshold     float32
	historyWindow int
	llmTimeout    time.Duration
	retryConfig   RetryConfig
	limiter       *rate.Limiter
}

// New creates an orchestrator from the config, applying defaults for
// unset tuning values.
func New(cfg Config) (*Orchestrator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = 5
	}
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = 0.7
	}
	window := cfg.HistoryWindow
	if window <= 0 {
		window = 10
	}
	timeout := cfg.LLMTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retryConfig := cfg.RetryConfig
	if retryConfig.MaxRetries == 0 {
		retryConfig = DefaultRetryConfig()
	}
	limiter := cfg.RateLimiter
	if limiter == nil {
		limiter = rate.NewLimiter(10, 30)
	}

	return &Orchestrator{
		sessions:      cfg.Sessions,
		retriever:     cfg.Retriever,
		escalations:   cfg.Escalations,
		employees:     cfg.Employees,
		history:       cfg.History,
		completer:     cfg.Completer,
		logger:        logger,
		topK:          topK,
		threshold:     threshold,
		historyWindow: window,
		llmTimeout:    timeout,
		retryConfig:   retryConfig,
		limiter:       limiter,
	}, nil
}

// Respond handles one user message: resolve contact info against an open
// escalation, retrieve knowledge scoped to the employee's policy type,
// prompt the model, interpret its reply, drive the session state machine,
// and persist the message pair.
//
// Retrieval and model failures degrade to an escalation answer; they are
// never surfaced as errors. Session errors (expiry) are returned as-is.
func (o *Orchestrator) Respond(ctx context.Context, sess *session.Session, userMessage string) (*Reply, error) {
	// Step 1: settle pending state before the model sees the message.
	contactHint := false
	switch sess.State.Kind {
	case session.StateEscalated:
		if value, ok := DetectContact(userMessage); ok {
			updated, eff, err := o.sessions.Transition(ctx, sess.ID, session.ContactInfoDetected(value))
			if err != nil {
				return nil, fmt.Errorf("recording contact info: %w", err)
			}
			sess = updated
			contactHint = true
			if eff == session.EffectRecordContact {
				if _, err := o.escalations.RecordContact(ctx, sess.TenantSchema, sess.ConversationID, value); err != nil {
					o.logger.Warn("updating escalation contact info",
						"conversation_id", sess.ConversationID,
						"error", err)
				}
			}
		}
	case session.StateContactReceived:
		updated, _, err := o.sessions.Transition(ctx, sess.ID, session.MessageReceived())
		if err != nil {
			return nil, fmt.Errorf("leaving contact-received state: %w", err)
		}
		sess = updated
	}

	// Step 2: retrieve knowledge scoped to the employee's policy type.
	emp, err := o.employees.Get(ctx, sess.TenantSchema, sess.EmployeeID)
	if err != nil {
		// The employee may have been deactivated mid-session. Continue with
		// an unscoped profile; session expiry will end this soon enough.
		o.logger.Warn("employee lookup failed mid-conversation",
			"employee_id", sess.EmployeeID,
			"error", err)
		emp = nil
	}

	searchOpts := []knowledge.SearchOption{
		knowledge.WithTopK(o.topK),
		knowledge.WithThreshold(o.threshold),
	}
	if emp != nil && emp.PolicyType != "" {
		searchOpts = append(searchOpts, knowledge.WithPolicyType(emp.PolicyType))
	}
	contexts, err := o.retriever.Search(ctx, sess.TenantSchema, userMessage, searchOpts...)
	if err != nil {
		o.logger.Warn("knowledge retrieval failed, proceeding with empty context",
			"conversation_id", sess.ConversationID,
			"error", err)
		contexts = nil
	}

	hist, err := o.history.Recent(ctx, sess.TenantSchema, sess.ConversationID, o.historyWindow)
	if err != nil {
		o.logger.Warn("loading conversation history", "error", err)
		hist = nil
	}

	// Step 3-4: prompt the model.
	prompt := buildPrompt(emp, contexts, hist, userMessage, contactHint)

	llmCtx, cancel := context.WithTimeout(ctx, o.llmTimeout)
	raw, llmErr := o.completeWithRetry(llmCtx, prompt)
	cancel()

	// Step 5: interpret the reply and drive state.
	var (
		answer   string
		escalate bool
		reason   string
	)
	if llmErr != nil {
		o.logger.Warn("completion failed, degrading to fallback answer",
			"conversation_id", sess.ConversationID,
			"error", llmErr)
		escalate, reason = true, reasonLLMFailure
	} else {
		answer, escalate = parseReply(raw)
		if escalate {
			reason = reasonModelSignal
		}
	}
	if answer == "" {
		if contactHint {
			// Contact details were recorded this turn; acknowledge them
			// instead of asking again.
			answer, escalate, reason = contactAckMessage, false, ""
		} else {
			answer = genericEscalationMessage
			if !escalate {
				escalate, reason = true, reasonModelSignal
			}
		}
	}
	if len(contexts) == 0 && !contactHint && !escalate {
		// No grounding above threshold means the answer cannot be trusted.
		escalate = true
		reason = reasonNoContext
	}

	if escalate {
		updated, _, err := o.sessions.Transition(ctx, sess.ID, session.EscalationTriggered(reason))
		if err != nil {
			return nil, fmt.Errorf("escalating session: %w", err)
		}
		sess = updated
		if sess.State.Kind == session.StateEscalated {
			// Create or refresh the open record with the triggering query.
			if _, err := o.escalations.Open(ctx, sess.TenantSchema, sess.ConversationID, sess.EmployeeID, userMessage, reason); err != nil {
				o.logger.Error("opening escalation record",
					"conversation_id", sess.ConversationID,
					"error", err)
			}
		}
	}

	confidence := float32(0)
	sources := make([]Source, 0, len(contexts))
	for _, r := range contexts {
		sources = append(sources, Source{Title: r.Entry.Title, Similarity: r.Similarity})
	}
	if len(contexts) > 0 {
		confidence = contexts[0].Similarity
	}

	// Step 6: persist the pair. Best-effort: the reply is already decided.
	pair := []Message{
		{ConversationID: sess.ConversationID, Role: RoleUser, Content: userMessage},
		{ConversationID: sess.ConversationID, Role: RoleAssistant, Content: answer, Confidence: confidence, Escalated: escalate},
	}
	if err := o.history.Append(ctx, sess.TenantSchema, pair...); err != nil {
		o.logger.Warn("persisting message pair",
			"conversation_id", sess.ConversationID,
			"error", err)
	}

	return &Reply{
		Answer:     answer,
		Confidence: confidence,
		Sources:    sources,
		Escalated:  escalate,
	}, nil
}

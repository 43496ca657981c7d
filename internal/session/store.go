package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/bennet0/bennet/internal/employee"
)

const (
	keyPrefix = "bennet:session:"

	// casRetries bounds the optimistic-concurrency retry loop in Transition.
	casRetries = 5
)

// Store persists sessions in Redis under a sliding TTL.
//
// Transitions for a given session are serialized with WATCH/MULTI optimistic
// concurrency so concurrent messages on one conversation cannot race and
// drop a state change. Store is safe for concurrent use.
type Store struct {
	client    *redis.Client
	employees employee.Directory
	ttl       time.Duration
	logger    *slog.Logger

	now func() time.Time // injectable clock for tests
}

// NewStore creates a session store.
// ttl <= 0 falls back to DefaultTTL; nil logger uses slog.Default().
func NewStore(client *redis.Client, employees employee.Directory, ttl time.Duration, logger *slog.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		client:    client,
		employees: employees,
		ttl:       ttl,
		logger:    logger,
		now:       time.Now,
	}
}

func key(id uuid.UUID) string { return keyPrefix + id.String() }

// Create verifies the employee exists and is active in the tenant schema,
// then persists a fresh session in state Normal.
// Returns employee.ErrNotFound for missing or deactivated employees.
func (s *Store) Create(ctx context.Context, tenantSchema, employeeID string) (*Session, error) {
	if _, err := s.employees.Get(ctx, tenantSchema, employeeID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	sess := &Session{
		ID:             uuid.New(),
		TenantSchema:   tenantSchema,
		EmployeeID:     employeeID,
		ConversationID: uuid.New(),
		State:          Normal(),
		CreatedAt:      now,
		LastActivityAt: now,
	}

	data, err := marshalSession(sess)
	if err != nil {
		return nil, err
	}
	if err := s.client.Set(ctx, key(sess.ID), data, s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("persisting session: %w", err)
	}

	s.logger.Debug("created session",
		"session_id", sess.ID,
		"tenant", tenantSchema,
		"employee_id", employeeID)
	return sess, nil
}

// Get loads a session and refreshes its sliding TTL.
// Returns ErrExpired when the key is missing.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Session, error) {
	data, err := s.client.GetEx(ctx, key(id), s.ttl).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrExpired, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}
	return unmarshalSession(data)
}

// Delete destroys a session (explicit logout). Idempotent.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.client.Del(ctx, key(id)).Err(); err != nil {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	return nil
}

// Transition applies the state machine to the session atomically and
// refreshes the sliding TTL. Invalid transitions are no-ops that still
// update LastActivityAt.
//
// Returns the session as stored after the call and the side effect the
// caller owes (see Effect). Returns ErrExpired when the session is gone.
func (s *Store) Transition(ctx context.Context, id uuid.UUID, ev Event) (*Session, Effect, error) {
	k := key(id)

	var (
		result *Session
		effect Effect
	)

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, k).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %s", ErrExpired, id)
		}
		if err != nil {
			return fmt.Errorf("loading session %s: %w", id, err)
		}

		sess, err := unmarshalSession(data)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		next, eff, changed := Apply(sess.State, ev, now)
		sess.State = next
		sess.LastActivityAt = now

		out, err := marshalSession(sess)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, out, s.ttl)
			return nil
		})
		if err != nil {
			return err
		}

		result = sess
		effect = eff
		if changed {
			s.logger.Debug("session transition",
				"session_id", id,
				"event", ev.Kind,
				"state", next.Kind)
		}
		return nil
	}

	for attempt := 0; attempt < casRetries; attempt++ {
		err := s.client.Watch(ctx, txn, k)
		if err == nil {
			return result, effect, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue // another writer won; reload and retry
		}
		return nil, EffectNone, err
	}
	return nil, EffectNone, fmt.Errorf("transition for session %s: too many concurrent writers", id)
}

func marshalSession(sess *Session) ([]byte, error) {
	data, err := json.Marshal(envelope{V: payloadVersion, Session: *sess})
	if err != nil {
		return nil, fmt.Errorf("marshaling session: %w", err)
	}
	return data, nil
}

func unmarshalSession(data []byte) (*Session, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshaling session: %w", err)
	}
	if env.V != payloadVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrPayloadVersion, env.V, payloadVersion)
	}
	return &env.Session, nil
}

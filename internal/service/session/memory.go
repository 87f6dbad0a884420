package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loandesk/backend/internal/model/loan"
)

// Option tunes a store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source used for timestamps and expiry.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*loan.Session
	ttl      time.Duration
	now      func() time.Time
	locks    *keyedLocker
}

// NewMemoryStore bootstraps an in-memory store suitable for a single instance.
func NewMemoryStore(ttl time.Duration, opts ...Option) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	o := buildOptions(opts)
	return &MemoryStore{
		sessions: make(map[string]*loan.Session),
		ttl:      ttl,
		now:      o.now,
		locks:    newKeyedLocker(),
	}
}

// Create provisions a new session in the collecting phase.
func (s *MemoryStore) Create(_ context.Context, id string) (loan.Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = uuid.NewString()
	}

	now := s.now().UTC()
	session := &loan.Session{
		ID:         id,
		Phase:      loan.PhaseCollecting,
		Transcript: make([]loan.Turn, 0, 16),
		Fields:     make(map[string]string),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; ok {
		return loan.Session{}, ErrSessionExists
	}
	s.sessions[id] = session
	return session.Clone(), nil
}

// Get retrieves a copy of the session.
func (s *MemoryStore) Get(_ context.Context, id string) (loan.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return loan.Session{}, ErrSessionNotFound
	}
	return session.Clone(), nil
}

// AppendTurn appends turns to the transcript.
func (s *MemoryStore) AppendTurn(_ context.Context, id string, turns ...loan.Turn) error {
	return s.update(id, func(session *loan.Session, now time.Time) error {
		for _, turn := range turns {
			if turn.CreatedAt.IsZero() {
				turn.CreatedAt = now
			}
			session.Transcript = append(session.Transcript, turn)
		}
		return nil
	})
}

// SetPhase moves the session forward; regressions are rejected.
func (s *MemoryStore) SetPhase(_ context.Context, id string, phase loan.Phase) error {
	return s.update(id, func(session *loan.Session, _ time.Time) error {
		if !session.Phase.CanMoveTo(phase) {
			return fmt.Errorf("%w: %s -> %s", ErrPhaseRegression, session.Phase, phase)
		}
		session.Phase = phase
		return nil
	})
}

// SetField stores one collected application field.
func (s *MemoryStore) SetField(_ context.Context, id, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("field key is required")
	}
	return s.update(id, func(session *loan.Session, _ time.Time) error {
		session.Fields[key] = value
		return nil
	})
}

// Commit applies a whole turn; nothing is visible unless every part succeeds.
func (s *MemoryStore) Commit(_ context.Context, id string, update TurnUpdate) error {
	fields, err := update.fields()
	if err != nil {
		return err
	}
	return s.update(id, func(session *loan.Session, now time.Time) error {
		for key, value := range fields {
			session.Fields[key] = value
		}
		for _, turn := range update.Turns {
			if turn.CreatedAt.IsZero() {
				turn.CreatedAt = now
			}
			session.Transcript = append(session.Transcript, turn)
		}
		if update.Phase != "" {
			if !session.Phase.CanMoveTo(update.Phase) {
				return fmt.Errorf("%w: %s -> %s", ErrPhaseRegression, session.Phase, update.Phase)
			}
			session.Phase = update.Phase
		}
		return nil
	})
}

// RecordFinding stores a specialist finding once per role.
func (s *MemoryStore) RecordFinding(_ context.Context, id string, finding loan.Finding) error {
	return s.update(id, func(session *loan.Session, now time.Time) error {
		if _, ok := session.Finding(finding.Role); ok {
			return fmt.Errorf("%w: %s", ErrFindingExists, finding.Role)
		}
		if finding.CreatedAt.IsZero() {
			finding.CreatedAt = now
		}
		session.Findings = append(session.Findings, finding)
		return nil
	})
}

// SetDecision stores the final decision and completes the session.
func (s *MemoryStore) SetDecision(_ context.Context, id string, decision loan.Decision) error {
	return s.update(id, func(session *loan.Session, now time.Time) error {
		if session.Decision != nil {
			return ErrDecisionExists
		}
		if !session.Phase.CanMoveTo(loan.PhaseComplete) {
			return fmt.Errorf("%w: %s -> %s", ErrPhaseRegression, session.Phase, loan.PhaseComplete)
		}
		if decision.DecidedAt.IsZero() {
			decision.DecidedAt = now
		}
		stored := decision.Clone()
		session.Decision = &stored
		session.Phase = loan.PhaseComplete
		return nil
	})
}

// update applies fn to a copy and swaps it in only when fn succeeds.
func (s *MemoryStore) update(id string, fn func(*loan.Session, time.Time) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}

	now := s.now().UTC()
	next := current.Clone()
	if err := fn(&next, now); err != nil {
		return err
	}
	next.UpdatedAt = now
	s.sessions[id] = &next
	return nil
}

// EvictExpired removes idle sessions that nobody is working on.
func (s *MemoryStore) EvictExpired(_ context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-s.ttl)

	s.mu.RLock()
	candidates := make([]string, 0)
	for id, session := range s.sessions {
		if session.UpdatedAt.Before(cutoff) {
			candidates = append(candidates, id)
		}
	}
	s.mu.RUnlock()

	evicted := 0
	for _, id := range candidates {
		unlock, ok := s.locks.TryLock(id)
		if !ok {
			continue
		}
		s.mu.Lock()
		if session, exists := s.sessions[id]; exists && session.UpdatedAt.Before(cutoff) {
			delete(s.sessions, id)
			evicted++
		}
		s.mu.Unlock()
		unlock()
	}
	return evicted, nil
}

// Lock serializes work on one session.
func (s *MemoryStore) Lock(ctx context.Context, id string) (func(), error) {
	return s.locks.Lock(ctx, id)
}

// Ping always succeeds for the in-memory store.
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

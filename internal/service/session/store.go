// Package session persists loan conversations and serializes work per session.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/loandesk/backend/internal/model/loan"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
	ErrPhaseRegression = errors.New("phase transition would regress")
	ErrFindingExists   = errors.New("finding already recorded for role")
	ErrDecisionExists  = errors.New("decision already recorded")
)

// Store is the keyed state of every in-progress conversation.
//
// Every mutation is atomic for its session: either all of it is visible or none of it.
// Get returns a deep copy. Callers serialize work on one session through Lock.
type Store interface {
	// Create provisions a session; an empty id asks the store to generate one.
	Create(ctx context.Context, id string) (loan.Session, error)
	Get(ctx context.Context, id string) (loan.Session, error)
	// AppendTurn appends turns in order, all or nothing.
	AppendTurn(ctx context.Context, id string, turns ...loan.Turn) error
	SetPhase(ctx context.Context, id string, phase loan.Phase) error
	SetField(ctx context.Context, id, key, value string) error
	// Commit writes the fields, turns and optional phase change of one turn together.
	Commit(ctx context.Context, id string, update TurnUpdate) error
	RecordFinding(ctx context.Context, id string, finding loan.Finding) error
	// SetDecision stores the final decision and moves the session to complete.
	SetDecision(ctx context.Context, id string, decision loan.Decision) error
	// EvictExpired drops sessions idle for longer than the TTL, skipping locked ones.
	EvictExpired(ctx context.Context, now time.Time) (int, error)
	// Lock acquires the per-session mutex. The returned func releases it.
	Lock(ctx context.Context, id string) (func(), error)
	Ping(ctx context.Context) error
	Close() error
}

// TurnUpdate is everything one conversation turn persists.
type TurnUpdate struct {
	Fields map[string]string
	Turns  []loan.Turn
	// Phase is left unchanged when empty.
	Phase loan.Phase
}

func (u TurnUpdate) fields() (map[string]string, error) {
	out := make(map[string]string, len(u.Fields))
	for key, value := range u.Fields {
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("field key is required")
		}
		out[key] = value
	}
	return out, nil
}

// DefaultTTL is applied when a store is created without a positive TTL.
const DefaultTTL = 60 * time.Minute

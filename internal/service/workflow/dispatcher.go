// Package workflow routes every incoming turn to the controller that owns the session's phase.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/loandesk/backend/internal/model/loan"
	"github.com/loandesk/backend/internal/model/participant"
	"github.com/loandesk/backend/internal/service/collection"
	"github.com/loandesk/backend/internal/service/session"
)

var (
	// ErrInvalidApplication 表示直接提交的申请缺少字段或字段格式错误。
	ErrInvalidApplication = errors.New("invalid application")
	ErrMessageRequired    = errors.New("message is required")
)

// Turn modes.
const (
	ModeChat = "chat"
	ModeForm = "form"
)

// Status values reported by Submit.
const (
	StatusComplete  = "complete"
	StatusCollected = "collected"
)

// TurnRequest is one inbound user turn.
type TurnRequest struct {
	SessionID string
	Message   string
	Mode      string
	Form      map[string]string
}

// TurnResult is what the caller shows the applicant.
type TurnResult struct {
	SessionID string         `json:"sessionId"`
	Reply     string         `json:"reply"`
	Phase     loan.Phase     `json:"phase"`
	Decision  *loan.Decision `json:"decision,omitempty"`
}

// SubmitResult is returned for a structured application submission.
type SubmitResult struct {
	SessionID string         `json:"sessionId"`
	Status    string         `json:"status"`
	Decision  *loan.Decision `json:"decision,omitempty"`
}

// Collector is the data-collection side of the workflow.
type Collector interface {
	Step(ctx context.Context, sessionID, message string) (collection.StepResult, error)
	SubmitForm(ctx context.Context, sessionID, message string, form map[string]string) (collection.StepResult, error)
}

// Evaluator is the evaluation side of the workflow.
type Evaluator interface {
	Evaluate(ctx context.Context, sessionID string) (loan.Decision, bool, error)
}

// Dispatcher serializes turns per session and hands them to the right phase controller.
type Dispatcher struct {
	store     session.Store
	collector Collector
	evaluator Evaluator
}

// NewDispatcher wires the two phase controllers around a shared store.
func NewDispatcher(store session.Store, collector Collector, evaluator Evaluator) *Dispatcher {
	return &Dispatcher{store: store, collector: collector, evaluator: evaluator}
}

// HandleTurn processes one user turn. An empty SessionID starts a new session; an
// unknown one is created under the caller's id.
func (d *Dispatcher) HandleTurn(ctx context.Context, req TurnRequest) (TurnResult, error) {
	id := strings.TrimSpace(req.SessionID)
	if id == "" {
		id = uuid.NewString()
	}
	result := TurnResult{SessionID: id}

	message := strings.TrimSpace(req.Message)
	formMode := strings.EqualFold(req.Mode, ModeForm)
	if message == "" && !formMode {
		return result, ErrMessageRequired
	}

	unlock, err := d.store.Lock(ctx, id)
	if err != nil {
		return result, fmt.Errorf("lock session %s: %w", id, err)
	}
	defer unlock()

	sess, err := d.loadOrCreate(ctx, id)
	if err != nil {
		return result, err
	}
	result.Phase = sess.Phase

	switch sess.Phase {
	case loan.PhaseCollecting:
		var step collection.StepResult
		if formMode {
			step, err = d.collector.SubmitForm(ctx, id, message, req.Form)
		} else {
			step, err = d.collector.Step(ctx, id, message)
		}
		if err != nil {
			return result, err
		}
		if step.State != collection.StateCollected {
			result.Reply = step.Reply
			return result, nil
		}
		result.Phase = loan.PhaseCollected
		return d.evaluate(ctx, result)
	case loan.PhaseCollected, loan.PhaseEvaluating:
		return d.evaluate(ctx, result)
	case loan.PhaseComplete:
		if sess.Decision == nil {
			return result, fmt.Errorf("session %s is complete without a decision", id)
		}
		result.Reply = sess.Decision.Summary
		result.Decision = sess.Decision
		return result, nil
	default:
		return result, fmt.Errorf("session %s has unknown phase %q", id, sess.Phase)
	}
}

// Submit evaluates a fully structured application in a new session.
func (d *Dispatcher) Submit(ctx context.Context, record loan.ApplicationRecord) (SubmitResult, error) {
	if err := record.Validate(); err != nil {
		return SubmitResult{}, fmt.Errorf("%w: %w", ErrInvalidApplication, err)
	}

	id := uuid.NewString()
	unlock, err := d.store.Lock(ctx, id)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("lock session %s: %w", id, err)
	}
	defer unlock()

	if _, err := d.store.Create(ctx, id); err != nil {
		return SubmitResult{}, fmt.Errorf("create session: %w", err)
	}
	for key, value := range record.Fields() {
		if err := d.store.SetField(ctx, id, key, value); err != nil {
			return SubmitResult{SessionID: id}, fmt.Errorf("store field %s: %w", key, err)
		}
	}
	if err := d.store.AppendTurn(ctx, id, loan.Turn{
		Speaker: loan.SpeakerUser,
		Text:    "Submitted application:\n" + record.Summary(),
	}); err != nil {
		return SubmitResult{SessionID: id}, fmt.Errorf("append turn: %w", err)
	}
	if err := d.store.SetPhase(ctx, id, loan.PhaseCollected); err != nil {
		return SubmitResult{SessionID: id}, fmt.Errorf("mark collected: %w", err)
	}

	res, err := d.evaluate(ctx, TurnResult{SessionID: id, Phase: loan.PhaseCollected})
	if err != nil {
		return SubmitResult{SessionID: id, Status: StatusCollected}, err
	}
	return SubmitResult{SessionID: id, Status: StatusComplete, Decision: res.Decision}, nil
}

// State returns a snapshot of the session.
func (d *Dispatcher) State(ctx context.Context, sessionID string) (loan.Session, error) {
	return d.store.Get(ctx, sessionID)
}

// History returns the session transcript in order.
func (d *Dispatcher) History(ctx context.Context, sessionID string) ([]loan.Turn, error) {
	sess, err := d.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return sess.Transcript, nil
}

// Ping checks the backing store.
func (d *Dispatcher) Ping(ctx context.Context) error {
	return d.store.Ping(ctx)
}

func (d *Dispatcher) loadOrCreate(ctx context.Context, id string) (loan.Session, error) {
	sess, err := d.store.Get(ctx, id)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, session.ErrSessionNotFound) {
		return loan.Session{}, err
	}

	sess, err = d.store.Create(ctx, id)
	if err != nil {
		return loan.Session{}, fmt.Errorf("create session: %w", err)
	}
	log.Printf("[workflow] created session=%s", id)
	return sess, nil
}

// evaluate runs the evaluator; a newly produced decision is appended to the transcript.
func (d *Dispatcher) evaluate(ctx context.Context, result TurnResult) (TurnResult, error) {
	decision, fresh, err := d.evaluator.Evaluate(ctx, result.SessionID)
	if err != nil {
		result.Phase = loan.PhaseCollected
		return result, err
	}

	if fresh {
		if err := d.store.AppendTurn(ctx, result.SessionID, loan.Turn{
			Speaker: string(participant.Decision),
			Text:    decision.Summary,
		}); err != nil {
			return result, fmt.Errorf("append decision turn: %w", err)
		}
	}

	result.Phase = loan.PhaseComplete
	result.Reply = decision.Summary
	result.Decision = &decision
	return result, nil
}

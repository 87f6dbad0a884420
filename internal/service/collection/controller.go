// Package collection drives the conversational intake of a loan application.
package collection

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/loandesk/backend/internal/analysis/summary"
	"github.com/loandesk/backend/internal/model/loan"
	"github.com/loandesk/backend/internal/model/participant"
	"github.com/loandesk/backend/internal/service/session"
)

// State is the controller's view of a session.
type State string

const (
	StateAwaitingInput State = "awaiting_input"
	StateCollected     State = "collected"
)

var (
	// ErrDataCollection marks a completion signal that arrived before every field was usable.
	ErrDataCollection = errors.New("data collection incomplete")
	// ErrAlreadyCollected is returned when a session has already left the collecting phase.
	ErrAlreadyCollected = errors.New("application already collected")
)

// DataCollectionError names the fields that blocked completion.
type DataCollectionError struct {
	Missing []string
	Invalid []string
}

func (e *DataCollectionError) Error() string {
	return fmt.Sprintf("%v: missing=%v invalid=%v", ErrDataCollection, e.Missing, e.Invalid)
}

func (e *DataCollectionError) Unwrap() error {
	return ErrDataCollection
}

// TurnExecutor sends one turn to a participant.
type TurnExecutor interface {
	Execute(ctx context.Context, role participant.Role, history []loan.Turn, message string) (string, error)
}

// StepResult is the outcome of one collection turn.
type StepResult struct {
	State  State
	Reply  string
	Record *loan.ApplicationRecord
	// Incomplete is set when completion was declared too early.
	Incomplete *DataCollectionError
}

// Controller runs the data-collection state machine on top of a session store.
type Controller struct {
	store  session.Store
	exec   TurnExecutor
	signal CompletionSignal
}

// NewController 创建数据收集控制器，signal 为空时使用默认标记。
func NewController(store session.Store, exec TurnExecutor, signal CompletionSignal) *Controller {
	if signal == nil {
		signal = NewMarkerSignal(DefaultMarker)
	}
	return &Controller{store: store, exec: exec, signal: signal}
}

// Step forwards message to the collector and records the exchange.
// Nothing is persisted when the collector call fails.
func (c *Controller) Step(ctx context.Context, sessionID, message string) (StepResult, error) {
	sess, err := c.collecting(ctx, sessionID)
	if err != nil {
		return StepResult{}, err
	}

	reply, err := c.exec.Execute(ctx, participant.Collector, sess.Transcript, message)
	if err != nil {
		return StepResult{}, fmt.Errorf("collector turn: %w", err)
	}

	extracted := summary.Extract(reply)
	merged := summary.Merge(sess.Fields, extracted)
	visible := c.signal.Strip(reply)

	result := StepResult{State: StateAwaitingInput}
	var advance bool
	if c.signal.Complete(reply) {
		record, buildErr := loan.BuildRecord(merged)
		if buildErr == nil {
			advance = true
			result.State = StateCollected
			result.Record = &record
			if visible == "" {
				visible = "Thank you, your application is complete and has been passed to our review panel."
			}
		} else {
			result.Incomplete = dataCollectionError(buildErr)
			visible = joinParagraphs(visible, followUp(result.Incomplete))
			log.Printf("[collection] session=%s premature completion: %v", sessionID, result.Incomplete)
		}
	}
	result.Reply = visible

	update := session.TurnUpdate{
		Fields: extracted,
		Turns: []loan.Turn{
			{Speaker: loan.SpeakerUser, Text: message},
			{Speaker: string(participant.Collector), Text: visible},
		},
	}
	if advance {
		update.Phase = loan.PhaseCollected
	}
	if err := c.store.Commit(ctx, sessionID, update); err != nil {
		return StepResult{}, fmt.Errorf("commit turn: %w", err)
	}
	if advance {
		log.Printf("[collection] session=%s collected application for %s", sessionID, result.Record.Name)
	}
	return result, nil
}

// SubmitForm merges structured form values instead of calling the collector.
// Keys may be field keys or any accepted label.
func (c *Controller) SubmitForm(ctx context.Context, sessionID, message string, form map[string]string) (StepResult, error) {
	sess, err := c.collecting(ctx, sessionID)
	if err != nil {
		return StepResult{}, err
	}

	values := make(map[string]string, len(form))
	for label, value := range form {
		key, ok := summary.ResolveLabel(label)
		value = strings.TrimSpace(value)
		if !ok || value == "" {
			continue
		}
		values[key] = value
	}

	if strings.TrimSpace(message) == "" {
		message = "Submitted the application form."
	}

	result := StepResult{State: StateAwaitingInput}
	record, buildErr := loan.BuildRecord(summary.Merge(sess.Fields, values))
	if buildErr == nil {
		result.State = StateCollected
		result.Record = &record
		result.Reply = "Thank you, your application form is complete and has been passed to our review panel."
	} else {
		result.Incomplete = dataCollectionError(buildErr)
		result.Reply = followUp(result.Incomplete)
	}

	update := session.TurnUpdate{
		Fields: values,
		Turns: []loan.Turn{
			{Speaker: loan.SpeakerUser, Text: message},
			{Speaker: loan.SpeakerSystem, Text: result.Reply},
		},
	}
	if result.State == StateCollected {
		update.Phase = loan.PhaseCollected
	}
	if err := c.store.Commit(ctx, sessionID, update); err != nil {
		return StepResult{}, fmt.Errorf("commit form: %w", err)
	}
	return result, nil
}

func (c *Controller) collecting(ctx context.Context, sessionID string) (loan.Session, error) {
	sess, err := c.store.Get(ctx, sessionID)
	if err != nil {
		return loan.Session{}, err
	}
	if sess.Phase != loan.PhaseCollecting {
		return loan.Session{}, fmt.Errorf("%w: session %s is %s", ErrAlreadyCollected, sessionID, sess.Phase)
	}
	return sess, nil
}

func dataCollectionError(err error) *DataCollectionError {
	var verr *loan.ValidationError
	if errors.As(err, &verr) {
		return &DataCollectionError{Missing: verr.Missing, Invalid: verr.Invalid}
	}
	return &DataCollectionError{}
}

// followUp asks the applicant for whatever is still unusable.
func followUp(e *DataCollectionError) string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "Before I can submit your application I still need: "+strings.Join(labels(e.Missing), ", ")+".")
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "Please double-check these details: "+strings.Join(labels(e.Invalid), ", ")+".")
	}
	if len(parts) == 0 {
		return "Some application details are still incomplete. Could you review them?"
	}
	return strings.Join(parts, " ")
}

func labels(keys []string) []string {
	out := make([]string, len(keys))
	for i, key := range keys {
		out[i] = loan.FieldLabel(key)
	}
	return out
}

func joinParagraphs(parts ...string) string {
	kept := parts[:0:0]
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			kept = append(kept, part)
		}
	}
	return strings.Join(kept, "\n\n")
}

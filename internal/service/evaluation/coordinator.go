// Package evaluation runs the specialist panel and the final decision for a collected application.
package evaluation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/loandesk/backend/internal/model/loan"
	"github.com/loandesk/backend/internal/model/participant"
	"github.com/loandesk/backend/internal/service/document"
	"github.com/loandesk/backend/internal/service/session"
)

var (
	// ErrEvaluation is matched by every *EvaluationError.
	ErrEvaluation = errors.New("evaluation failed")
	// ErrNotReady 表示会话仍在收集资料，不能进入评估。
	ErrNotReady = errors.New("application is not ready for evaluation")
)

// EvaluationError reports which participant broke the evaluation.
type EvaluationError struct {
	Role participant.Role
	Err  error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluation failed at %s: %v", e.Role, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrEvaluation) match.
func (e *EvaluationError) Is(target error) bool {
	return target == ErrEvaluation
}

// TurnExecutor sends one turn to a participant.
type TurnExecutor interface {
	Execute(ctx context.Context, role participant.Role, history []loan.Turn, message string) (string, error)
}

// DocumentLister returns the supporting documents uploaded for a session.
type DocumentLister interface {
	List(ctx context.Context, sessionID string) ([]document.Document, error)
}

// Coordinator fans the application out to the specialist panel, then asks the
// decision participant for the final verdict.
type Coordinator struct {
	store session.Store
	exec  TurnExecutor
	docs  DocumentLister
	panel []participant.Role
}

// NewCoordinator 创建评估协调器，专家顺序固定为 participant.Specialists()。
func NewCoordinator(store session.Store, exec TurnExecutor) *Coordinator {
	return &Coordinator{store: store, exec: exec, panel: participant.Specialists()}
}

// WithDocuments lists the session's uploads in every specialist request.
func (c *Coordinator) WithDocuments(docs DocumentLister) *Coordinator {
	c.docs = docs
	return c
}

// Evaluate produces the session's decision. fresh is false when the decision already existed.
//
// On failure the session is returned to the collected phase with no decision;
// findings recorded before the failure are kept and not requested again.
func (c *Coordinator) Evaluate(ctx context.Context, sessionID string) (loan.Decision, bool, error) {
	sess, err := c.store.Get(ctx, sessionID)
	if err != nil {
		return loan.Decision{}, false, err
	}
	if sess.Decision != nil {
		return sess.Decision.Clone(), false, nil
	}
	if sess.Phase == loan.PhaseCollecting {
		return loan.Decision{}, false, fmt.Errorf("%w: session %s is still collecting", ErrNotReady, sessionID)
	}

	record, err := loan.BuildRecord(sess.Fields)
	if err != nil {
		return loan.Decision{}, false, fmt.Errorf("%w: %w", ErrNotReady, err)
	}

	if err := c.store.SetPhase(ctx, sessionID, loan.PhaseEvaluating); err != nil {
		return loan.Decision{}, false, fmt.Errorf("mark evaluating: %w", err)
	}
	log.Printf("[evaluation] session=%s evaluating application for %s", sessionID, record.Name)

	request := specialistRequest(record, c.documents(ctx, sessionID))
	if err := c.runPanel(ctx, sess, request); err != nil {
		c.restore(ctx, sessionID)
		return loan.Decision{}, false, err
	}

	sess, err = c.store.Get(ctx, sessionID)
	if err != nil {
		c.restore(ctx, sessionID)
		return loan.Decision{}, false, err
	}
	findings := make([]loan.Finding, 0, len(c.panel))
	for _, role := range c.panel {
		finding, ok := sess.Finding(string(role))
		if !ok {
			c.restore(ctx, sessionID)
			return loan.Decision{}, false, &EvaluationError{Role: role, Err: errors.New("finding missing after panel")}
		}
		findings = append(findings, finding)
	}

	reply, err := c.exec.Execute(ctx, participant.Decision, nil, decisionRequest(record, findings))
	if err != nil {
		c.restore(ctx, sessionID)
		return loan.Decision{}, false, &EvaluationError{Role: participant.Decision, Err: err}
	}

	decision := loan.Decision{
		Verdict:  ParseDecisionVerdict(reply),
		Summary:  strings.TrimSpace(reply),
		Findings: findings,
	}
	if err := c.store.SetDecision(ctx, sessionID, decision); err != nil {
		c.restore(ctx, sessionID)
		return loan.Decision{}, false, fmt.Errorf("store decision: %w", err)
	}

	stored, err := c.store.Get(ctx, sessionID)
	if err != nil || stored.Decision == nil {
		return decision, true, err
	}
	log.Printf("[evaluation] session=%s decided verdict=%s", sessionID, stored.Decision.Verdict)
	return stored.Decision.Clone(), true, nil
}

// runPanel asks every specialist without a finding in parallel and records each
// finding as soon as it arrives.
func (c *Coordinator) runPanel(ctx context.Context, sess loan.Session, request string) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, role := range c.panel {
		if _, ok := sess.Finding(string(role)); ok {
			continue
		}
		role := role
		g.Go(func() error {
			reply, err := c.exec.Execute(gctx, role, nil, request)
			if err != nil {
				return &EvaluationError{Role: role, Err: err}
			}
			finding := ParseFinding(role, reply)
			if err := c.store.RecordFinding(ctx, sess.ID, finding); err != nil && !errors.Is(err, session.ErrFindingExists) {
				return &EvaluationError{Role: role, Err: err}
			}
			log.Printf("[evaluation] session=%s %s verdict=%s score=%d", sess.ID, role, finding.Verdict, finding.Score)
			return nil
		})
	}
	return g.Wait()
}

func (c *Coordinator) restore(ctx context.Context, sessionID string) {
	if err := c.store.SetPhase(context.WithoutCancel(ctx), sessionID, loan.PhaseCollected); err != nil {
		log.Printf("[evaluation] session=%s failed to restore collected phase: %v", sessionID, err)
	}
}

// documents returns nil when no lister is configured or listing fails.
func (c *Coordinator) documents(ctx context.Context, sessionID string) []document.Document {
	if c.docs == nil {
		return nil
	}
	docs, err := c.docs.List(ctx, sessionID)
	if err != nil {
		log.Printf("[evaluation] session=%s failed to list documents: %v", sessionID, err)
		return nil
	}
	return docs
}

func specialistRequest(record loan.ApplicationRecord, docs []document.Document) string {
	var builder strings.Builder
	builder.WriteString("Please evaluate the following loan application:\n")
	builder.WriteString(record.Summary())
	if len(docs) == 0 {
		builder.WriteString("\n\nSupporting documents: none provided")
		return builder.String()
	}
	builder.WriteString("\n\nSupporting documents:")
	for _, doc := range docs {
		fmt.Fprintf(&builder, "\n- %s: %s (%d bytes)", doc.Kind, doc.Filename, doc.Size)
	}
	return builder.String()
}

func decisionRequest(record loan.ApplicationRecord, findings []loan.Finding) string {
	var builder strings.Builder
	builder.WriteString("Loan application:\n")
	builder.WriteString(record.Summary())
	builder.WriteString("\nExpert findings:\n")
	for _, f := range findings {
		fmt.Fprintf(&builder, "\n[%s] verdict=%s score=%d\n%s\n", f.Role, f.Verdict, f.Score, f.Rationale)
	}
	builder.WriteString("\nCombine these findings into your final recommendation.")
	return builder.String()
}

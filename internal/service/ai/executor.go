package ai

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/loandesk/backend/internal/model/loan"
	"github.com/loandesk/backend/internal/model/participant"
)

// DefaultTimeout bounds a single participant call when none is configured.
const DefaultTimeout = 60 * time.Second

// Executor sends one turn to a participant with a bounded wait.
// It never touches session state and never retries.
type Executor struct {
	registry Registry
	timeout  time.Duration
}

// NewExecutor 创建执行器，timeout 非正数时使用 DefaultTimeout。
func NewExecutor(registry Registry, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Executor{registry: registry, timeout: timeout}
}

type executeResult struct {
	reply string
	err   error
}

// Execute asks role for a reply to message given history.
//
// Failures are classified as ErrBackendTimeout, ErrBackendUnavailable or
// ErrUnknownParticipant. Cancellation of ctx by the caller is returned as ctx.Err().
func (e *Executor) Execute(ctx context.Context, role participant.Role, history []loan.Turn, message string) (string, error) {
	p, ok := e.registry[role]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownParticipant, role)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	started := time.Now()
	snapshot := append([]loan.Turn(nil), history...)
	done := make(chan executeResult, 1)
	// 单独的 goroutine 保证忽略 ctx 的实现也无法拖住请求
	go func() {
		reply, err := p.Respond(callCtx, snapshot, message)
		done <- executeResult{reply: reply, err: err}
	}()

	var res executeResult
	select {
	case res = <-done:
	case <-callCtx.Done():
		res = executeResult{err: callCtx.Err()}
	}

	if res.err != nil {
		err := e.classify(ctx, role, res.err)
		log.Printf("[ai] participant=%s failed after %s: %v", role, time.Since(started).Round(time.Millisecond), err)
		return "", err
	}
	if strings.TrimSpace(res.reply) == "" {
		log.Printf("[ai] participant=%s returned an empty reply", role)
		return "", fmt.Errorf("%w: %s returned an empty reply", ErrBackendUnavailable, role)
	}

	log.Printf("[ai] participant=%s replied in %s, length=%d", role, time.Since(started).Round(time.Millisecond), len(res.reply))
	return res.reply, nil
}

func (e *Executor) classify(ctx context.Context, role participant.Role, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s exceeded %s", ErrBackendTimeout, role, e.timeout)
	}
	return fmt.Errorf("%w: %s: %w", ErrBackendUnavailable, role, err)
}

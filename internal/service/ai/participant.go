package ai

import (
	"context"
	"errors"

	"github.com/loandesk/backend/internal/model/loan"
	"github.com/loandesk/backend/internal/model/participant"
)

var (
	// ErrBackendUnavailable 表示模型服务调用失败或返回了空回复。
	ErrBackendUnavailable = errors.New("language model backend unavailable")
	// ErrBackendTimeout 表示模型服务在限定时间内没有返回。
	ErrBackendTimeout = errors.New("language model backend timed out")
	// ErrUnknownParticipant 表示注册表中没有对应角色。
	ErrUnknownParticipant = errors.New("unknown participant")
)

// Participant produces one reply given the conversation so far.
type Participant interface {
	Respond(ctx context.Context, history []loan.Turn, message string) (string, error)
}

// ParticipantFunc adapts a plain function to Participant.
type ParticipantFunc func(ctx context.Context, history []loan.Turn, message string) (string, error)

// Respond calls f.
func (f ParticipantFunc) Respond(ctx context.Context, history []loan.Turn, message string) (string, error) {
	return f(ctx, history, message)
}

// Registry maps a role to the participant that plays it.
type Registry map[participant.Role]Participant

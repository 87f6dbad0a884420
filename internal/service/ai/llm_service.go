package ai

import (
	"context"
	"fmt"
	"log"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/loandesk/backend/internal/config"
	"github.com/loandesk/backend/internal/model/loan"
	"github.com/loandesk/backend/internal/model/participant"
)

// Service encapsulates the chat chain shared by every participant
type Service struct {
	chatModel    model.ChatModel
	chain        compose.Runnable[map[string]any, *schema.Message]
	historyLimit int
}

// NewService creates a new AI service instance backed by the configured Ark model
func NewService(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewServiceWithModel(ctx, chatModel, cfg.HistoryLimit)
}

// NewServiceWithModel compiles the chain around an existing chat model.
// historyLimit caps the forwarded transcript; 0 forwards all of it.
func NewServiceWithModel(ctx context.Context, chatModel model.ChatModel, historyLimit int) (*Service, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	if historyLimit < 0 {
		historyLimit = 0
	}

	return &Service{
		chatModel:    chatModel,
		chain:        runnable,
		historyLimit: historyLimit,
	}, nil
}

// Registry builds one chain-backed participant for every role defined in defs.
func (s *Service) Registry(defs participant.Store, marker string) Registry {
	registry := make(Registry)
	for _, role := range participant.Roles() {
		def, ok := defs.FindByRole(role)
		if !ok {
			log.Printf("[ai] no definition for role %s, calls to it will fail", role)
			continue
		}
		registry[def.Role] = &chainParticipant{
			service: s,
			role:    def.Role,
			system:  def.Prompt(marker),
		}
	}
	return registry
}

type chainParticipant struct {
	service *Service
	role    participant.Role
	system  string
}

// Respond runs the chain with the participant's system prompt
func (p *chainParticipant) Respond(ctx context.Context, history []loan.Turn, message string) (string, error) {
	input := map[string]any{
		"system":  p.system,
		"history": p.service.buildHistoryMessages(history),
		"query":   message,
	}

	response, err := p.service.chain.Invoke(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}
	if response == nil {
		return "", nil
	}

	log.Printf("[ai] generated response for participant=%s, history=%d, length=%d", p.role, len(history), len(response.Content))
	return response.Content, nil
}

func (s *Service) buildHistoryMessages(turns []loan.Turn) []*schema.Message {
	if len(turns) == 0 {
		return nil
	}

	startIdx := 0
	if s.historyLimit > 0 && len(turns) > s.historyLimit {
		startIdx = len(turns) - s.historyLimit
	}

	history := make([]*schema.Message, 0, len(turns)-startIdx)
	for _, turn := range turns[startIdx:] {
		if turn.Speaker == loan.SpeakerUser {
			history = append(history, schema.UserMessage(turn.Text))
			continue
		}
		history = append(history, schema.AssistantMessage(turn.Text, nil))
	}

	return history
}

// Package bootstrap assembles the loan workflow from configuration.
package bootstrap

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/loandesk/backend/internal/config"
	"github.com/loandesk/backend/internal/model/participant"
	"github.com/loandesk/backend/internal/service/ai"
	"github.com/loandesk/backend/internal/service/collection"
	"github.com/loandesk/backend/internal/service/evaluation"
	"github.com/loandesk/backend/internal/service/session"
	"github.com/loandesk/backend/internal/service/workflow"
)

// OpenStore 根据配置选择内存或 SQLite 会话存储
func OpenStore(cfg config.SessionConfig) (session.Store, error) {
	switch cfg.Store {
	case config.StoreSQLite:
		if dir := filepath.Dir(cfg.DBPath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create session db dir: %w", err)
			}
		}
		store, err := session.NewSQLiteStore(cfg.DBPath, cfg.TTL)
		if err != nil {
			return nil, err
		}
		log.Printf("[bootstrap] using sqlite session store at %s", cfg.DBPath)
		return store, nil
	case config.StoreMemory, "":
		log.Println("[bootstrap] using in-memory session store")
		return session.NewMemoryStore(cfg.TTL), nil
	default:
		return nil, fmt.Errorf("unknown session store %q", cfg.Store)
	}
}

// Participants loads the panel definitions, applying the optional override file.
func Participants(cfg config.AIConfig) (participant.Store, error) {
	if cfg.ParticipantsFile == "" {
		return participant.NewMemoryStore(participant.Seed()), nil
	}
	defs, err := participant.LoadFile(cfg.ParticipantsFile)
	if err != nil {
		return nil, err
	}
	log.Printf("[bootstrap] loaded participant overrides from %s", cfg.ParticipantsFile)
	return participant.NewMemoryStore(defs), nil
}

// Signal 优先使用正则完成信号，否则回退到固定标记
func Signal(cfg config.WorkflowConfig) (collection.CompletionSignal, error) {
	if cfg.CompletionPattern != "" {
		signal, err := collection.NewRegexSignal(cfg.CompletionPattern)
		if err != nil {
			return nil, err
		}
		return signal, nil
	}
	return collection.NewMarkerSignal(cfg.CompletionMarker), nil
}

// Registry builds the chain-backed participants. Without Ark credentials it
// returns an empty registry, so every turn fails as backend_unavailable.
func Registry(ctx context.Context, cfg *config.Config) (ai.Registry, error) {
	defs, err := Participants(cfg.AI)
	if err != nil {
		return nil, err
	}
	if !cfg.AI.Enabled() {
		log.Println("Ark 凭证未配置，跳过 AI 功能初始化")
		return ai.Registry{}, nil
	}

	svc, err := ai.NewService(ctx, cfg.AI)
	if err != nil {
		return nil, err
	}
	log.Println("AI service initialized successfully")
	return svc.Registry(defs, cfg.Workflow.CompletionMarker), nil
}

// NewDispatcher wires collection and evaluation around store. docs may be nil
// when uploads are not available.
func NewDispatcher(cfg *config.Config, store session.Store, registry ai.Registry, docs evaluation.DocumentLister) (*workflow.Dispatcher, error) {
	signal, err := Signal(cfg.Workflow)
	if err != nil {
		return nil, fmt.Errorf("completion signal: %w", err)
	}

	exec := ai.NewExecutor(registry, cfg.AI.Timeout)
	return workflow.NewDispatcher(store,
		collection.NewController(store, exec, signal),
		evaluation.NewCoordinator(store, exec).WithDocuments(docs),
	), nil
}

package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/loandesk/backend/internal/config"
	documentHandler "github.com/loandesk/backend/internal/handler/document"
	loanHandler "github.com/loandesk/backend/internal/handler/loan"
	"github.com/loandesk/backend/internal/handler/stream"
	"github.com/loandesk/backend/internal/handler/ws"
	middlewarePkg "github.com/loandesk/backend/internal/middleware"
	"github.com/loandesk/backend/internal/service/workflow"
)

// Workflow is the dispatcher surface the HTTP layer needs.
type Workflow interface {
	loanHandler.Workflow
	Ping(ctx context.Context) error
}

var _ Workflow = (*workflow.Dispatcher)(nil)

// NewRouter wires HTTP routes to core services.
func NewRouter(serverCfg config.ServerConfig, wf Workflow, documents documentHandler.Storage) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(serverCfg.AllowedOrigins))

	r.Get("/healthz", healthHandler(wf))

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", healthHandler(wf))

		loanHandler.New(wf).RegisterRoutes(api)
		stream.New(wf).RegisterRoutes(api)
		ws.New(wf, serverCfg.AllowedOrigins).RegisterRoutes(api)

		// 未配置上传目录时不注册材料接口
		if documents != nil {
			documentHandler.New(wf, documents).RegisterRoutes(api)
		}
	})

	return r
}

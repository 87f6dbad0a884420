package stream

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/loandesk/backend/internal/handler/apierr"
	"github.com/loandesk/backend/internal/model/loan"
	"github.com/loandesk/backend/internal/service/workflow"
	"github.com/loandesk/backend/pkg/utils"
)

// TurnHandler processes one turn of a loan conversation.
type TurnHandler interface {
	HandleTurn(ctx context.Context, req workflow.TurnRequest) (workflow.TurnResult, error)
}

// Handler delivers turn results via Server-Sent Events
type Handler struct {
	workflow TurnHandler
}

// New creates a new stream handler
func New(wf TurnHandler) *Handler {
	return &Handler{workflow: wf}
}

// RegisterRoutes 注册 SSE 路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/stream/{sessionID}", h.handleStream)
}

// StreamResponse represents one SSE payload
type StreamResponse struct {
	Event     string         `json:"event"`
	Content   string         `json:"content,omitempty"`
	SessionID string         `json:"sessionId,omitempty"`
	Phase     loan.Phase     `json:"phase,omitempty"`
	Decision  *loan.Decision `json:"decision,omitempty"`
	Finished  bool           `json:"finished,omitempty"`
	Error     string         `json:"error,omitempty"`
	Kind      string         `json:"kind,omitempty"`
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	userMessage := strings.TrimSpace(r.URL.Query().Get("message"))
	if userMessage == "" {
		utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
		return
	}

	if err := h.HandleStreamRequest(r.Context(), w, sessionID, userMessage); err != nil {
		log.Printf("[stream] error handling request: %v", err)
	}
}

// HandleStreamRequest runs one turn and reports it as start, message, decision and end events.
func (h *Handler) HandleStreamRequest(ctx context.Context, w http.ResponseWriter, sessionID string, userMessage string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return fmt.Errorf("streaming unsupported")
	}

	utils.SetupSSEHeaders(w)

	h.sendSSE(w, flusher, StreamResponse{
		Event:     "start",
		SessionID: sessionID,
	})

	result, err := h.workflow.HandleTurn(ctx, workflow.TurnRequest{
		SessionID: sessionID,
		Message:   userMessage,
	})
	if err != nil {
		h.sendSSEError(w, flusher, result.SessionID, err)
		return err
	}

	h.sendSSE(w, flusher, StreamResponse{
		Event:     "message",
		SessionID: result.SessionID,
		Content:   result.Reply,
		Phase:     result.Phase,
	})

	if result.Decision != nil {
		h.sendSSE(w, flusher, StreamResponse{
			Event:     "decision",
			SessionID: result.SessionID,
			Phase:     result.Phase,
			Decision:  result.Decision,
		})
	}

	h.sendSSE(w, flusher, StreamResponse{
		Event:     "end",
		SessionID: result.SessionID,
		Phase:     result.Phase,
		Finished:  true,
	})

	log.Printf("[stream] completed turn for session=%s, phase=%s", result.SessionID, result.Phase)
	return nil
}

func (h *Handler) sendSSE(w http.ResponseWriter, flusher http.Flusher, response StreamResponse) {
	utils.SendSSEEvent(w, flusher, response.Event, response)
}

func (h *Handler) sendSSEError(w http.ResponseWriter, flusher http.Flusher, sessionID string, err error) {
	_, body := apierr.Body(err, sessionID)
	h.sendSSE(w, flusher, StreamResponse{
		Event:     "error",
		SessionID: sessionID,
		Error:     body.Error,
		Kind:      body.Kind,
		Finished:  true,
	})
}

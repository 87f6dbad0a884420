package loan

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/loandesk/backend/internal/handler/apierr"
	loanmodel "github.com/loandesk/backend/internal/model/loan"
	"github.com/loandesk/backend/internal/service/workflow"
	"github.com/loandesk/backend/pkg/utils"
)

// Workflow is the subset of the dispatcher the HTTP layer needs.
type Workflow interface {
	HandleTurn(ctx context.Context, req workflow.TurnRequest) (workflow.TurnResult, error)
	Submit(ctx context.Context, record loanmodel.ApplicationRecord) (workflow.SubmitResult, error)
	State(ctx context.Context, sessionID string) (loanmodel.Session, error)
	History(ctx context.Context, sessionID string) ([]loanmodel.Turn, error)
}

// Handler 贷款对话的HTTP处理器
type Handler struct {
	workflow Workflow
}

// New 创建贷款处理器
func New(wf Workflow) *Handler {
	return &Handler{workflow: wf}
}

// RegisterRoutes 注册贷款相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/loan/chat", h.handleChat)
	r.Get("/loan/chat-history/{sessionID}", h.handleHistory)
	r.Get("/loan/session/{sessionID}", h.handleSession)
	r.Post("/loan/evaluate", h.handleEvaluate)
}

// ChatRequest is the body of POST /loan/chat.
type ChatRequest struct {
	SessionID string         `json:"sessionId"`
	Message   string         `json:"message"`
	Mode      string         `json:"mode"`
	FormData  map[string]any `json:"formData"`
}

// SessionResponse describes a session's current state.
type SessionResponse struct {
	SessionID       string              `json:"sessionId"`
	Phase           loanmodel.Phase     `json:"phase"`
	CollectedFields map[string]string   `json:"collectedFields"`
	Findings        []loanmodel.Finding `json:"findings,omitempty"`
	Decision        *loanmodel.Decision `json:"decision,omitempty"`
	CreatedAt       time.Time           `json:"createdAt"`
	UpdatedAt       time.Time           `json:"updatedAt"`
}

// handleChat 处理一轮对话
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var payload ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondErrorBody(w, http.StatusBadRequest, utils.ErrorBody{Error: "invalid request body", Kind: apierr.KindBadRequest})
		return
	}

	result, err := h.workflow.HandleTurn(r.Context(), workflow.TurnRequest{
		SessionID: payload.SessionID,
		Message:   payload.Message,
		Mode:      payload.Mode,
		Form:      stringifyForm(payload.FormData),
	})
	if err != nil {
		apierr.Respond(w, err, result.SessionID)
		return
	}

	utils.RespondJSON(w, http.StatusOK, result)
}

// handleHistory 返回会话的对话记录
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	turns, err := h.workflow.History(r.Context(), sessionID)
	if err != nil {
		apierr.Respond(w, err, sessionID)
		return
	}
	if turns == nil {
		turns = []loanmodel.Turn{}
	}
	utils.RespondJSON(w, http.StatusOK, turns)
}

// handleSession 返回会话状态
func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	sess, err := h.workflow.State(r.Context(), sessionID)
	if err != nil {
		apierr.Respond(w, err, sessionID)
		return
	}

	utils.RespondJSON(w, http.StatusOK, SessionResponse{
		SessionID:       sess.ID,
		Phase:           sess.Phase,
		CollectedFields: sess.Fields,
		Findings:        sess.Findings,
		Decision:        sess.Decision,
		CreatedAt:       sess.CreatedAt,
		UpdatedAt:       sess.UpdatedAt,
	})
}

// handleEvaluate 直接提交结构化申请并返回评估结果
func (h *Handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var record loanmodel.ApplicationRecord
	if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
		utils.RespondErrorBody(w, http.StatusBadRequest, utils.ErrorBody{Error: "invalid request body", Kind: apierr.KindBadRequest})
		return
	}

	result, err := h.workflow.Submit(r.Context(), record)
	if err != nil {
		apierr.Respond(w, err, result.SessionID)
		return
	}

	utils.RespondJSON(w, http.StatusOK, result)
}

// stringifyForm 将前端表单值统一转换为字符串
func stringifyForm(form map[string]any) map[string]string {
	if len(form) == 0 {
		return nil
	}

	out := make(map[string]string, len(form))
	for key, value := range form {
		switch v := value.(type) {
		case nil:
			continue
		case string:
			out[key] = strings.TrimSpace(v)
		case float64:
			out[key] = strconv.FormatFloat(v, 'f', -1, 64)
		default:
			out[key] = fmt.Sprint(v)
		}
	}
	return out
}

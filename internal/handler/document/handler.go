package document

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/loandesk/backend/internal/handler/apierr"
	loanmodel "github.com/loandesk/backend/internal/model/loan"
	docstore "github.com/loandesk/backend/internal/service/document"
	"github.com/loandesk/backend/pkg/utils"
)

// SessionLookup 校验上传目标会话是否存在
type SessionLookup interface {
	State(ctx context.Context, sessionID string) (loanmodel.Session, error)
}

// Storage persists uploaded files.
type Storage interface {
	Save(ctx context.Context, sessionID, kind, filename string, r io.Reader) (docstore.Document, error)
	List(ctx context.Context, sessionID string) ([]docstore.Document, error)
	MaxBytes() int64
}

// Handler 材料上传处理器
type Handler struct {
	sessions SessionLookup
	storage  Storage
}

// New 创建材料上传处理器
func New(sessions SessionLookup, storage Storage) *Handler {
	return &Handler{sessions: sessions, storage: storage}
}

// RegisterRoutes 注册上传相关路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/loan/upload/{sessionID}", h.handleUpload)
	r.Get("/loan/documents/{sessionID}", h.handleList)
}

// handleUpload 接收 multipart 表单：file 为文件，kind 为材料类型
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := h.sessions.State(r.Context(), sessionID); err != nil {
		apierr.Respond(w, err, sessionID)
		return
	}

	// 预留 1MB 给表单其它字段与 multipart 边界
	r.Body = http.MaxBytesReader(w, r.Body, h.storage.MaxBytes()+1<<20)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			utils.RespondError(w, http.StatusRequestEntityTooLarge, docstore.ErrFileTooLarge.Error())
			return
		}
		utils.RespondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	doc, err := h.storage.Save(r.Context(), sessionID, r.FormValue("kind"), header.Filename, file)
	if err != nil {
		switch {
		case errors.Is(err, docstore.ErrFileTooLarge):
			utils.RespondError(w, http.StatusRequestEntityTooLarge, err.Error())
		case errors.Is(err, docstore.ErrEmptyFile),
			errors.Is(err, docstore.ErrInvalidKind),
			errors.Is(err, docstore.ErrInvalidTarget):
			utils.RespondError(w, http.StatusBadRequest, err.Error())
		default:
			log.Printf("[document] save failed for session=%s: %v", sessionID, err)
			utils.RespondError(w, http.StatusInternalServerError, "failed to store document")
		}
		return
	}

	utils.RespondJSON(w, http.StatusCreated, doc)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := h.sessions.State(r.Context(), sessionID); err != nil {
		apierr.Respond(w, err, sessionID)
		return
	}

	docs, err := h.storage.List(r.Context(), sessionID)
	if err != nil {
		log.Printf("[document] list failed for session=%s: %v", sessionID, err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to list documents")
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

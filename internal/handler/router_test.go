package handler

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/loandesk/backend/internal/config"
	loanmodel "github.com/loandesk/backend/internal/model/loan"
	"github.com/loandesk/backend/internal/model/participant"
	"github.com/loandesk/backend/internal/service/ai"
	"github.com/loandesk/backend/internal/service/collection"
	"github.com/loandesk/backend/internal/service/document"
	"github.com/loandesk/backend/internal/service/evaluation"
	"github.com/loandesk/backend/internal/service/session"
	"github.com/loandesk/backend/internal/service/workflow"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	store := session.NewMemoryStore(time.Hour)
	registry := ai.Registry{
		participant.Collector: ai.ParticipantFunc(func(context.Context, []loanmodel.Turn, string) (string, error) {
			return "What is your name?", nil
		}),
	}
	exec := ai.NewExecutor(registry, time.Second)
	dispatcher := workflow.NewDispatcher(store,
		collection.NewController(store, exec, nil),
		evaluation.NewCoordinator(store, exec),
	)
	docs, err := document.NewStore(t.TempDir(), 1024)
	if err != nil {
		t.Fatalf("NewStore err: %v", err)
	}
	return NewRouter(config.ServerConfig{AllowedOrigins: []string{"http://localhost:5173"}}, dispatcher, docs)
}

func TestRouterMountsLoanRoutes(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/loan/chat", bytes.NewBufferString(`{"sessionId":"s1","message":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Fatalf("unexpected CORS origin %q", got)
	}

	for _, path := range []string{"/api/loan/session/s1", "/api/loan/chat-history/s1", "/api/loan/documents/s1"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}

func TestRouterHealth(t *testing.T) {
	router := newTestRouter(t)

	for _, path := range []string{"/healthz", "/api/health"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"ok"`) {
			t.Fatalf("%s: unexpected response %d %s", path, rec.Code, rec.Body.String())
		}
	}
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("disk gone") }

func TestHealthReportsUnavailable(t *testing.T) {
	rec := httptest.NewRecorder()
	healthHandler(failingPinger{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/loandesk/backend/internal/model/loan"
	"github.com/loandesk/backend/internal/service/ai"
	"github.com/loandesk/backend/internal/service/workflow"
)

type stubWorkflow struct {
	result workflow.TurnResult
	err    error
	got    workflow.TurnRequest
}

func (s *stubWorkflow) HandleTurn(_ context.Context, req workflow.TurnRequest) (workflow.TurnResult, error) {
	s.got = req
	s.result.SessionID = req.SessionID
	return s.result, s.err
}

func setupRouter(wf TurnHandler) *chi.Mux {
	r := chi.NewRouter()
	New(wf).RegisterRoutes(r)
	return r
}

func events(body string) []string {
	var names []string
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "event: ") {
			names = append(names, strings.TrimPrefix(line, "event: "))
		}
	}
	return names
}

func TestStreamEmitsDecision(t *testing.T) {
	wf := &stubWorkflow{result: workflow.TurnResult{
		Reply:    "Final recommendation: approve",
		Phase:    loan.PhaseComplete,
		Decision: &loan.Decision{Verdict: loan.VerdictApprove, Summary: "Final recommendation: approve"},
	}}
	r := setupRouter(wf)

	req := httptest.NewRequest(http.MethodGet, "/stream/s1?message="+url.QueryEscape("all done"), nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if got := resp.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("unexpected content type %q", got)
	}
	want := []string{"start", "message", "decision", "end"}
	if got := events(resp.Body.String()); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("unexpected events %v", got)
	}
	if wf.got.SessionID != "s1" || wf.got.Message != "all done" {
		t.Fatalf("unexpected request %+v", wf.got)
	}
}

func TestStreamReportsErrorKind(t *testing.T) {
	wf := &stubWorkflow{err: fmt.Errorf("collector turn: %w", ai.ErrBackendTimeout)}
	r := setupRouter(wf)

	req := httptest.NewRequest(http.MethodGet, "/stream/s1?message=hi", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	want := []string{"start", "error"}
	if got := events(resp.Body.String()); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("unexpected events %v", got)
	}
	if !strings.Contains(resp.Body.String(), `"kind":"backend_timeout"`) {
		t.Fatalf("error kind missing: %s", resp.Body.String())
	}
}

func TestStreamRequiresMessage(t *testing.T) {
	wf := &stubWorkflow{err: errors.New("should not be called")}
	r := setupRouter(wf)

	req := httptest.NewRequest(http.MethodGet, "/stream/s1", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

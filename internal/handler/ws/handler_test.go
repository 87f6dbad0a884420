package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/loandesk/backend/internal/model/loan"
	"github.com/loandesk/backend/internal/service/session"
	"github.com/loandesk/backend/internal/service/workflow"
)

const slowTurn = 600 * time.Millisecond

type echoWorkflow struct{}

func (echoWorkflow) HandleTurn(_ context.Context, req workflow.TurnRequest) (workflow.TurnResult, error) {
	if req.Message == "slow" {
		time.Sleep(slowTurn)
	}
	if req.Message == "missing" {
		return workflow.TurnResult{SessionID: req.SessionID}, session.ErrSessionNotFound
	}
	return workflow.TurnResult{SessionID: req.SessionID, Reply: "echo: " + req.Message, Phase: loan.PhaseCollecting}, nil
}

type reply struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
}

func dial(t *testing.T, allowed []string, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	return dialHandler(t, New(echoWorkflow{}, allowed), header)
}

func dialHandler(t *testing.T, h *Handler, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/s1"
	return websocket.DefaultDialer.Dial(url, header)
}

func readReply(t *testing.T, conn *websocket.Conn) reply {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg reply
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON err: %v", err)
	}
	return msg
}

func TestWebSocketTurnRoundTrip(t *testing.T) {
	conn, _, err := dial(t, nil, nil)
	if err != nil {
		t.Fatalf("dial err: %v", err)
	}
	defer conn.Close()

	if msg := readReply(t, conn); msg.Type != "connected" || msg.SessionID != "s1" {
		t.Fatalf("unexpected greeting %+v", msg)
	}

	if err := conn.WriteJSON(map[string]any{"type": "turn", "data": map[string]string{"message": "hello"}}); err != nil {
		t.Fatalf("WriteJSON err: %v", err)
	}
	msg := readReply(t, conn)
	if msg.Type != "reply" {
		t.Fatalf("expected reply, got %+v", msg)
	}
	var result workflow.TurnResult
	if err := json.Unmarshal(msg.Data, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Reply != "echo: hello" || result.Phase != loan.PhaseCollecting {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestWebSocketErrors(t *testing.T) {
	conn, _, err := dial(t, nil, nil)
	if err != nil {
		t.Fatalf("dial err: %v", err)
	}
	defer conn.Close()
	readReply(t, conn)

	_ = conn.WriteJSON(map[string]any{"type": "turn", "data": map[string]string{"message": "missing"}})
	msg := readReply(t, conn)
	if msg.Type != "error" || !strings.Contains(string(msg.Data), "not_found") {
		t.Fatalf("expected not_found error, got %+v %s", msg, msg.Data)
	}

	_ = conn.WriteJSON(map[string]any{"type": "dance"})
	if msg := readReply(t, conn); msg.Type != "error" {
		t.Fatalf("expected error for unknown type, got %+v", msg)
	}

	_ = conn.WriteJSON(map[string]any{"type": "turn", "sessionId": "other", "data": map[string]string{"message": "x"}})
	if msg := readReply(t, conn); msg.Type != "error" || !strings.Contains(string(msg.Data), "session mismatch") {
		t.Fatalf("expected session mismatch, got %+v", msg)
	}
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	header := http.Header{}
	header.Set("Origin", "https://evil.example")
	_, resp, err := dial(t, []string{"http://localhost:5173"}, header)
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %+v", resp)
	}
}

func TestWebSocketSurvivesTurnLongerThanPongWait(t *testing.T) {
	h := New(echoWorkflow{}, nil)
	h.pongWait = 200 * time.Millisecond
	h.pingPeriod = 100 * time.Millisecond

	conn, _, err := dialHandler(t, h, nil)
	if err != nil {
		t.Fatalf("dial err: %v", err)
	}
	defer conn.Close()
	readReply(t, conn)

	for _, message := range []string{"slow", "after"} {
		if err := conn.WriteJSON(map[string]any{"type": "turn", "data": map[string]string{"message": message}}); err != nil {
			t.Fatalf("WriteJSON %q err: %v", message, err)
		}
		msg := readReply(t, conn)
		if msg.Type != "reply" || !strings.Contains(string(msg.Data), "echo: "+message) {
			t.Fatalf("turn %q: unexpected message %+v %s", message, msg, msg.Data)
		}
	}
}

package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/loandesk/backend/internal/handler/apierr"
	"github.com/loandesk/backend/internal/service/workflow"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

// TurnHandler processes one turn of a loan conversation.
type TurnHandler interface {
	HandleTurn(ctx context.Context, req workflow.TurnRequest) (workflow.TurnResult, error)
}

// Handler WebSocket对话处理器
type Handler struct {
	workflow   TurnHandler
	upgrader   websocket.Upgrader
	pongWait   time.Duration
	pingPeriod time.Duration
}

// New 创建WebSocket处理器，allowedOrigins 为空或包含 "*" 时不校验来源
func New(wf TurnHandler, allowedOrigins []string) *Handler {
	return &Handler{
		workflow:   wf,
		pongWait:   pongWait,
		pingPeriod: pingPeriod,
		upgrader: websocket.Upgrader{
			CheckOrigin:     originChecker(allowedOrigins),
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
}

// TurnMessage 一轮对话输入
type TurnMessage struct {
	Message  string            `json:"message"`
	Mode     string            `json:"mode"`
	FormData map[string]string `json:"formData"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// connection 串行化同一连接上的写操作
type connection struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *connection) send(msg outgoingMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(msg); err != nil {
		log.Printf("[websocket] write %s failed: %v", msg.Type, err)
	}
}

// handleWebSocket 处理WebSocket连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		http.Error(w, "sessionID is required", http.StatusBadRequest)
		return
	}

	raw, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}
	defer raw.Close()
	conn := &connection{conn: raw}

	log.Printf("[websocket] new connection for session: %s", sessionID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	raw.SetReadDeadline(time.Now().Add(h.pongWait))
	raw.SetPongHandler(func(string) error {
		raw.SetReadDeadline(time.Now().Add(h.pongWait))
		return nil
	})

	go h.pingLoop(ctx, raw)

	conn.send(outgoingMessage{Type: "connected", SessionID: sessionID, Timestamp: time.Now().Unix()})

	for {
		var msg inboundMessage
		if err := raw.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[websocket] read error: %v", err)
			}
			return
		}

		if msg.SessionID != "" && msg.SessionID != sessionID {
			h.sendError(conn, sessionID, "session mismatch", apierr.KindBadRequest)
		} else {
			h.handleMessage(ctx, conn, sessionID, &msg)
		}

		// 一轮评估可能超过 pongWait，期间不会读取 pong，处理完再续期
		raw.SetReadDeadline(time.Now().Add(h.pongWait))
	}
}

func (h *Handler) handleMessage(ctx context.Context, conn *connection, sessionID string, msg *inboundMessage) {
	switch msg.Type {
	case "turn":
		h.handleTurn(ctx, conn, sessionID, msg.Data)
	case "ping":
		conn.send(outgoingMessage{Type: "pong", SessionID: sessionID, Timestamp: time.Now().Unix()})
	default:
		h.sendError(conn, sessionID, "unsupported message type: "+msg.Type, apierr.KindBadRequest)
	}
}

func (h *Handler) handleTurn(ctx context.Context, conn *connection, sessionID string, raw json.RawMessage) {
	var turn TurnMessage
	if err := json.Unmarshal(raw, &turn); err != nil {
		h.sendError(conn, sessionID, "invalid turn payload", apierr.KindBadRequest)
		return
	}

	result, err := h.workflow.HandleTurn(ctx, workflow.TurnRequest{
		SessionID: sessionID,
		Message:   turn.Message,
		Mode:      turn.Mode,
		Form:      turn.FormData,
	})
	if err != nil {
		_, body := apierr.Body(err, sessionID)
		h.sendError(conn, sessionID, body.Error, body.Kind)
		return
	}

	conn.send(outgoingMessage{
		Type:      "reply",
		SessionID: sessionID,
		Data:      result,
		Timestamp: time.Now().Unix(),
	})
}

func (h *Handler) sendError(conn *connection, sessionID, message, kind string) {
	conn.send(outgoingMessage{
		Type:      "error",
		SessionID: sessionID,
		Data:      map[string]string{"message": message, "kind": kind},
		Timestamp: time.Now().Unix(),
	})
}

// pingLoop 定期发送ping消息
func (h *Handler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(h.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func originChecker(allowedOrigins []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowedOrigins) == 0 {
			return true
		}
		for _, o := range allowedOrigins {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rlorbach/business-ai-agent/internal/api/server/client"
	"github.com/rlorbach/business-ai-agent/internal/logger"
	"github.com/rlorbach/business-ai-agent/internal/stream"
)

const writeWait = 10 * time.Second

// socketSession serializes writes to one connection. Once ctx is done nothing
// more is written.
type socketSession struct {
	ctx  context.Context
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *socketSession) send(msg client.SocketMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ctx.Err(); err != nil {
		return err
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(msg)
}

// SocketHandler relays prompts sent over a WebSocket. Every reply frame carries
// the id of the request it belongs to, so concurrent requests on one socket
// can be told apart.
func (h *Handler) SocketHandler(w http.ResponseWriter, r *http.Request) {
	localLogger := logger.NewLogger("ws handler")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		localLogger.Warn("WebSocket upgrade failed: ", err)
		return
	}
	defer conn.Close()

	if h.cfg.ProxyToken == "" {
		reject(conn, websocket.CloseInternalServerErr, "PROXY_TOKEN not configured on server")
		return
	}
	if !tokenMatches(r.URL.Query().Get("token"), h.cfg.ProxyToken) {
		reject(conn, websocket.ClosePolicyViolation, "Unauthorized")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	session := &socketSession{ctx: ctx, conn: conn}
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				localLogger.Warn("WebSocket read failed: ", err)
			}
			return
		}

		var req client.ProxyRequest
		if err := json.Unmarshal(msg, &req); err != nil || strings.TrimSpace(req.Prompt) == "" {
			_ = session.send(client.SocketMessage{Type: client.MessageError, ID: req.ID, Error: "Missing prompt"})
			continue
		}
		if req.ID == "" {
			req.ID = uuid.NewString()
		}

		wg.Add(1)
		go func(req client.ProxyRequest) {
			defer wg.Done()
			h.relaySocket(session, req)
		}(req)
	}
}

func (h *Handler) relaySocket(s *socketSession, req client.ProxyRequest) {
	localLogger := logger.NewLogger("ws relay").With("request_id", req.ID)

	if h.cfg.OpenAIKey == "" {
		_ = s.send(client.SocketMessage{Type: client.MessageError, ID: req.ID, Error: "OPENAI_API_KEY not configured on server"})
		return
	}

	rf := stream.NewReframer(func(text string) error {
		return s.send(client.SocketMessage{Type: client.MessageDelta, ID: req.ID, Text: text})
	}, func() {
		_ = s.send(client.SocketMessage{Type: client.MessageDone, ID: req.ID})
	})

	err := h.upstream.StreamResponses(s.ctx, h.responsesRequest(req), rf)
	if err == nil {
		err = rf.Close()
	}
	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		localLogger.Error("Upstream responses stream error: ", err)
		_ = s.send(client.SocketMessage{Type: client.MessageError, ID: req.ID, Error: upstreamMessage(err)})
	}
}

func reject(conn *websocket.Conn, code int, reason string) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteJSON(client.SocketMessage{Type: client.MessageError, Error: reason})
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}

// WebSocket chat streaming: one
// connection per session, auth via api_key query parameter, a keepalive
// ping loop, a per-session lock around each inbound message, and forwarding
// of every chatengine.StreamEvent as its own JSON frame.
package transport

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Najia-afk/Aria-moltbot-sub001/internal/chatengine"
	"github.com/Najia-afk/Aria-moltbot-sub001/pkg/models"
)

const (
	wsPingInterval    = 30 * time.Second
	wsPongWait        = 60 * time.Second
	wsWriteWait       = 10 * time.Second
	wsCloseAuthFailed = 4401
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  8192,
	WriteBufferSize: 8192,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsFrame is one event sent to or received from a chat WebSocket, mirroring
// chatengine.StreamEvent plus an inbound "message" frame for the client's
// turn.
type wsFrame struct {
	Type           string               `json:"type"`
	Content        string               `json:"content,omitempty"`
	EnableThinking bool                 `json:"enable_thinking,omitempty"`
	EnableTools    bool                 `json:"enable_tools,omitempty"`
	ContentDelta   string               `json:"content_delta,omitempty"`
	ThinkingDelta  string               `json:"thinking_delta,omitempty"`
	ToolCall       *models.ToolCall     `json:"tool_call,omitempty"`
	ToolResult     *models.ToolResult   `json:"tool_result,omitempty"`
	MessageID      string               `json:"message_id,omitempty"`
	Model          string               `json:"model,omitempty"`
	TokensIn       int                  `json:"tokens_in,omitempty"`
	TokensOut      int                  `json:"tokens_out,omitempty"`
	Error          string               `json:"error,omitempty"`
}

func requestAPIKey(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("X-API-Key")); v != "" {
		return v
	}
	return strings.TrimSpace(r.URL.Query().Get("api_key"))
}

// handleChatWS serves /ws/chat/{session_id}. Path parsing is manual since
// this handler is registered on the "/ws/chat/" prefix rather than a typed
// ServeMux pattern, matching gorilla/websocket's usual raw-handler wiring.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimPrefix(r.URL.Path, "/ws/chat/")
	if sessionID == "" {
		http.Error(w, "session id required", http.StatusBadRequest)
		return
	}

	if _, err := s.auth.Authenticate(requestAPIKey(r), false); err != nil {
		conn, upErr := wsUpgrader.Upgrade(w, r, nil)
		if upErr != nil {
			return
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(wsCloseAuthFailed, "invalid api key"),
			time.Now().Add(wsWriteWait))
		conn.Close()
		return
	}

	sess, err := s.rt.Store.GetSession(r.Context(), sessionID)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	if sess.Status == models.SessionEnded {
		sess.Status = models.SessionActive
		sess.EndedAt = nil
		sess.UpdatedAt = time.Now()
		_ = s.rt.Store.UpdateSession(r.Context(), sess)
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	var writeMu chatWriteMutex
	done := make(chan struct{})
	go keepalive(conn, &writeMu, done)
	defer close(done)

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		var in wsFrame
		if err := conn.ReadJSON(&in); err != nil {
			return
		}
		switch in.Type {
		case "ping":
			writeMu.writeJSON(conn, wsFrame{Type: "pong"})
			continue
		case "message":
		default:
			writeMu.writeJSON(conn, wsFrame{Type: "error", Error: "unknown message type " + in.Type})
			continue
		}
		if in.Content == "" {
			writeMu.writeJSON(conn, wsFrame{Type: "error", Error: "content is required"})
			continue
		}

		emit := func(e chatengine.StreamEvent) {
			frame := wsFrame{
				Type:          string(e.Type),
				ContentDelta:  e.ContentDelta,
				ThinkingDelta: e.ThinkingDelta,
				ToolCall:      e.ToolCall,
				ToolResult:    e.ToolResult,
				MessageID:     e.MessageID,
				Model:         e.Model,
				TokensIn:      e.TokensIn,
				TokensOut:     e.TokensOut,
				Error:         e.Error,
			}
			writeMu.writeJSON(conn, frame)
		}

		_, err := s.rt.Chat.StreamMessage(r.Context(), sessionID, in.Content, in.EnableThinking, in.EnableTools, emit)
		if err != nil {
			writeMu.writeJSON(conn, wsFrame{Type: "error", Error: err.Error()})
		}
	}
}

// chatWriteMutex serializes writes to one connection: the keepalive
// goroutine and the read loop's emit callback both write concurrently,
// and gorilla/websocket forbids concurrent writers on one Conn.
type chatWriteMutex struct {
	mu sync.Mutex
}

func (m *chatWriteMutex) writeJSON(conn *websocket.Conn, v any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	_ = conn.WriteJSON(v)
}

func (m *chatWriteMutex) writeControl(conn *websocket.Conn, messageType int, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_ = conn.WriteControl(messageType, data, time.Now().Add(wsWriteWait))
}

func keepalive(conn *websocket.Conn, writeMu *chatWriteMutex, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			writeMu.writeControl(conn, websocket.PingMessage, nil)
		}
	}
}

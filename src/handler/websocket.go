package handler

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Antony-Jia/codex-terminal-manage/src/handler/session"
)

// closeCodeSessionNotFound is emitted when the requested session is unknown
// at attach time.
const closeCodeSessionNotFound = 4404

// SocketMessage is the JSON envelope on the session WebSocket. Inbound
// types are "input" and "ping"; outbound are "output" and "pong". Unknown
// types are ignored.
type SocketMessage struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
}

// SocketHandler upgrades session WebSocket connections and bridges them to
// the session manager.
type SocketHandler struct {
	manager  *session.Manager
	upgrader websocket.Upgrader
}

// NewSocketHandler creates a new WebSocket handler.
func NewSocketHandler(manager *session.Manager) *SocketHandler {
	return &SocketHandler{
		manager: manager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// socketSink adapts a WebSocket connection to the session sink contract.
// Writes are serialized: gorilla connections allow only one concurrent
// writer.
type socketSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *socketSink) SendOutput(data string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(SocketMessage{Type: "output", Data: data})
}

func (s *socketSink) sendPong() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(SocketMessage{Type: "pong"})
}

// HandleSessionWS attaches a client to a session: the first attach spawns
// the child, later ones join the fan-out.
func (h *SocketHandler) HandleSessionWS(c *gin.Context) {
	sessionID := c.Param("id")

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.Errorf("Failed to upgrade WebSocket: %v", err)
		return
	}
	defer conn.Close()

	sink := &socketSink{conn: conn}
	if _, err := h.manager.Attach(sessionID, sink); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			closeMsg := websocket.FormatCloseMessage(closeCodeSessionNotFound, "session not found")
			_ = conn.WriteMessage(websocket.CloseMessage, closeMsg)
			return
		}
		// Spawn failure: report on the output channel and close.
		_ = sink.SendOutput(fmt.Sprintf("\r\n错误: %v\r\n", err))
		return
	}
	defer h.manager.Detach(sessionID, sink)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg SocketMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			logrus.Warnf("Invalid session message: %v", err)
			continue
		}
		switch msg.Type {
		case "input":
			if err := h.manager.SendInput(sessionID, msg.Data); err != nil {
				_ = sink.SendOutput(fmt.Sprintf("\r\n错误: %v\r\n", err))
				return
			}
		case "ping":
			_ = sink.sendPong()
		}
	}
}

package playground

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"rlvr/internal/monitoring"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 64 * 1024
	eventBuffer    = 64
)

// WebSocket upgrader configuration
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSConnection streams monitor events to one client.
type WSConnection struct {
	conn   *websocket.Conn
	send   chan []byte
	events <-chan monitoring.Event
	cancel func()
	done   chan struct{}
	server *PlaygroundServer
}

// wsRequest is what clients may send. Only "snapshot" is understood.
type wsRequest struct {
	Type string `json:"type"`
}

// handleWebSocket subscribes before upgrading so no event published after
// the handshake is missed.
func (s *PlaygroundServer) handleWebSocket(c *gin.Context) {
	events, cancel := s.opts.Monitor.Subscribe(eventBuffer)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		cancel()
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	ws := &WSConnection{
		conn:   conn,
		send:   make(chan []byte, eventBuffer),
		events: events,
		cancel: cancel,
		done:   make(chan struct{}),
		server: s,
	}
	go ws.writePump()
	go ws.readPump()
}

// readPump pumps messages from the WebSocket connection to the handler
func (c *WSConnection) readPump() {
	defer func() {
		close(c.done)
		c.cancel()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.server.log.Warn("websocket read failed", "error", err)
			}
			return
		}
		c.handleMessage(message)
	}
}

// writePump owns all writes to the connection.
func (c *WSConnection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		var message []byte
		select {
		case <-c.done:
			return
		case ev, ok := <-c.events:
			if !ok {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				c.server.log.Error("encode event failed", "error", err)
				continue
			}
			message = data
		case message = <-c.send:
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			continue
		}

		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}

// handleMessage processes incoming messages
func (c *WSConnection) handleMessage(message []byte) {
	var req wsRequest
	if err := json.Unmarshal(message, &req); err != nil {
		c.sendJSON(gin.H{"error": "invalid message"})
		return
	}
	switch req.Type {
	case "snapshot":
		c.sendJSON(monitoring.Event{
			Type:      "snapshot",
			Data:      c.server.opts.Monitor.GetMetrics(),
			Timestamp: time.Now(),
		})
	default:
		c.sendJSON(gin.H{"error": "unknown message type: " + req.Type})
	}
}

func (c *WSConnection) sendJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.server.log.Error("encode message failed", "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		c.server.log.Warn("websocket buffer full, dropping message")
	}
}

// Package ws implements the WebSocket transport described in spec.md
// §4.L and §6: {message_id, type, data} envelopes, type in
// {evaluate, health, subscribe, ping}, server pushes responses keyed
// by the same message_id plus unsolicited subscribe-stream events.
// Modeled on the teacher's WebSocketTransport (ui/transports/websocket/
// websocket.go): a gorilla/websocket Upgrader, one wsClient per
// connection with a buffered send channel and readPump/writePump
// goroutines, a 54s ping ticker against a 60s read deadline reset on
// pong.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/superego-sh/superego/internal/logging"
	"github.com/superego-sh/superego/internal/model"
	"github.com/superego-sh/superego/internal/transport"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second // must be < pongWait
	maxMessageSize = 1 << 20
)

// message is the shared envelope for both directions.
type message struct {
	MessageID string          `json:"message_id"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

type evaluateData struct {
	ToolName   string      `json:"tool_name"`
	Parameters interface{} `json:"parameters"`
	Cwd        string      `json:"cwd"`
	SessionID  string      `json:"session_id"`
	AgentID    string      `json:"agent_id"`
}

// Transport upgrades HTTP connections to WebSocket and serves the
// evaluate/health/subscribe/ping protocol over them.
type Transport struct {
	svc      *transport.Service
	logger   logging.Logger
	clock    func() time.Time
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewTransport constructs a Transport. allowedOrigins is forwarded to
// the upgrader's CheckOrigin; an empty slice allows any origin (local
// development default, matching the teacher's permissive fallback).
func NewTransport(svc *transport.Service, logger logging.Logger, allowedOrigins []string) *Transport {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	t := &Transport{
		svc:     svc,
		logger:  logger,
		clock:   time.Now,
		clients: make(map[*client]struct{}),
	}
	t.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, o := range allowedOrigins {
				if o == origin {
					return true
				}
			}
			return false
		},
	}
	return t
}

// Publish implements transport.Subscriber: it fans an EvaluateEvent out
// to every client that has issued a "subscribe" message.
func (t *Transport) Publish(event transport.EvaluateEvent) {
	payload, err := json.Marshal(event.Entry)
	if err != nil {
		return
	}
	msg := message{Type: "audit-append", Data: payload}

	t.mu.RLock()
	defer t.mu.RUnlock()
	for c := range t.clients {
		if !c.subscribed() {
			continue
		}
		select {
		case c.send <- msg:
		default:
			t.logger.Warn("ws client send buffer full, dropping event", map[string]interface{}{})
		}
	}
}

// ServeHTTP upgrades the connection and spins up the per-client pumps.
func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Warn("ws upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}

	c := &client{
		conn: conn,
		send: make(chan message, 32),
	}

	t.mu.Lock()
	t.clients[c] = struct{}{}
	t.mu.Unlock()

	go t.writePump(c)
	t.readPump(c)

	t.mu.Lock()
	delete(t.clients, c)
	t.mu.Unlock()
	close(c.send)
}

type client struct {
	conn *websocket.Conn
	send chan message

	mu   sync.RWMutex
	subs bool
}

func (c *client) setSubscribed(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = v
}

func (c *client) subscribed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs
}

// writePump relays queued messages and periodic pings to the
// connection; it owns all writes, per gorilla/websocket's one-writer
// rule.
func (t *Transport) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads client messages and dispatches them; it owns all
// reads, per gorilla/websocket's one-reader rule.
func (t *Transport) readPump(c *client) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				t.logger.Warn("ws client closed unexpectedly", map[string]interface{}{"error": err.Error()})
			}
			return
		}
		t.dispatch(c, msg)
	}
}

func (t *Transport) dispatch(c *client, msg message) {
	ctx, cancel := transport.WithTimeout(context.Background())
	defer cancel()

	switch msg.Type {
	case "ping":
		c.send <- message{MessageID: msg.MessageID, Type: "pong"}
	case "subscribe":
		c.setSubscribed(true)
		c.send <- message{MessageID: msg.MessageID, Type: "subscribed"}
	case "health":
		status := t.svc.HealthStatus(ctx)
		payload, _ := json.Marshal(status)
		c.send <- message{MessageID: msg.MessageID, Type: "health", Data: payload}
	case "evaluate":
		t.dispatchEvaluate(ctx, c, msg)
	default:
		c.send <- message{MessageID: msg.MessageID, Type: "error", Error: "unknown message type: " + msg.Type}
	}
}

func (t *Transport) dispatchEvaluate(ctx context.Context, c *client, msg message) {
	var data evaluateData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		c.send <- message{MessageID: msg.MessageID, Type: "error", Error: "malformed evaluate data"}
		return
	}

	req, err := model.NewToolRequest(data.ToolName, data.Parameters, data.Cwd, data.SessionID, data.AgentID, t.clock())
	if err != nil {
		c.send <- message{MessageID: msg.MessageID, Type: "error", Error: "invalid request"}
		return
	}

	decision := t.svc.Evaluate(ctx, req)
	payload, err := json.Marshal(decision)
	if err != nil {
		c.send <- message{MessageID: msg.MessageID, Type: "error", Error: "failed to encode decision"}
		return
	}
	c.send <- message{MessageID: msg.MessageID, Type: "evaluate", Data: payload}
}

package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superego-sh/superego/internal/model"
	"github.com/superego-sh/superego/internal/transport"
)

type stubEngine struct {
	decision model.Decision
}

func (s *stubEngine) Evaluate(ctx context.Context, req model.ToolRequest) (model.Decision, []string) {
	return s.decision, nil
}

func (s *stubEngine) CurrentVersion() int64 { return 1 }

type stubAudit struct{ entries []model.AuditEntry }

func (s *stubAudit) Append(req model.ToolRequest, decision model.Decision, matched []string) model.AuditEntry {
	e := model.AuditEntry{ID: "e1", Decision: decision}
	s.entries = append(s.entries, e)
	return e
}

func (s *stubAudit) Recent(limit int) []model.AuditEntry { return s.entries }

type stubHealth struct{}

func (stubHealth) Status(ctx context.Context) model.HealthStatus {
	return model.HealthStatus{Overall: model.StateHealthy}
}

func newTestTransport(decision model.Decision) *Transport {
	svc := &transport.Service{
		Engine: &stubEngine{decision: decision},
		Audit:  &stubAudit{},
		Health: stubHealth{},
	}
	return NewTransport(svc, nil, nil)
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestTransport_EvaluateRoundTrip(t *testing.T) {
	tr := newTestTransport(model.Decision{Action: model.DecisionAllow, Reason: "ok", Confidence: 1})
	srv := httptest.NewServer(tr)
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	data, _ := json.Marshal(evaluateData{ToolName: "bash", Parameters: map[string]interface{}{"command": "ls"}, Cwd: "/tmp"})
	require.NoError(t, conn.WriteJSON(message{MessageID: "m1", Type: "evaluate", Data: data}))

	var resp message
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&resp))

	assert.Equal(t, "m1", resp.MessageID)
	assert.Equal(t, "evaluate", resp.Type)

	var decision model.Decision
	require.NoError(t, json.Unmarshal(resp.Data, &decision))
	assert.Equal(t, model.DecisionAllow, decision.Action)
}

func TestTransport_PingPongMessage(t *testing.T) {
	tr := newTestTransport(model.Decision{})
	srv := httptest.NewServer(tr)
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(message{MessageID: "p1", Type: "ping"}))

	var resp message
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, "pong", resp.Type)
	assert.Equal(t, "p1", resp.MessageID)
}

func TestTransport_SubscribeThenReceivesPublishedEvent(t *testing.T) {
	tr := newTestTransport(model.Decision{})
	srv := httptest.NewServer(tr)
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(message{MessageID: "s1", Type: "subscribe"}))

	var ack message
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "subscribed", ack.Type)

	tr.Publish(transport.EvaluateEvent{Entry: model.AuditEntry{ID: "audit-1"}})

	var pushed message
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&pushed))
	assert.Equal(t, "audit-append", pushed.Type)
	assert.Contains(t, string(pushed.Data), "audit-1")
}

func TestTransport_UnknownMessageTypeReturnsError(t *testing.T) {
	tr := newTestTransport(model.Decision{})
	srv := httptest.NewServer(tr)
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(message{MessageID: "u1", Type: "bogus"}))

	var resp message
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, "error", resp.Type)
	assert.NotEmpty(t, resp.Error)
}

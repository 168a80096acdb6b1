package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superego-sh/superego/internal/hook"
	"github.com/superego-sh/superego/internal/model"
	"github.com/superego-sh/superego/internal/transport"
	"github.com/superego-sh/superego/internal/transport/ratelimit"
)

type stubEngine struct {
	decision model.Decision
}

func (s *stubEngine) Evaluate(ctx context.Context, req model.ToolRequest) (model.Decision, []string) {
	return s.decision, nil
}

func (s *stubEngine) CurrentVersion() int64 { return 7 }

func (s *stubEngine) CurrentRules() []model.SecurityRule {
	return []model.SecurityRule{{ID: "r1", Priority: 10, Action: model.ActionAllow}}
}

type stubAudit struct {
	entries []model.AuditEntry
}

func (s *stubAudit) Append(req model.ToolRequest, decision model.Decision, matched []string) model.AuditEntry {
	e := model.AuditEntry{ID: "e1", Decision: decision}
	s.entries = append(s.entries, e)
	return e
}

func (s *stubAudit) Recent(limit int) []model.AuditEntry {
	if limit > len(s.entries) {
		limit = len(s.entries)
	}
	return s.entries[:limit]
}

type stubHealth struct{ state model.ComponentState }

func (s stubHealth) Status(ctx context.Context) model.HealthStatus {
	return model.HealthStatus{Overall: s.state}
}

func newTestHandler(decision model.Decision, healthState model.ComponentState) (*Handler, *stubAudit) {
	engine := &stubEngine{decision: decision}
	auditLog := &stubAudit{}
	svc := &transport.Service{
		Engine: engine,
		Audit:  auditLog,
		Health: stubHealth{state: healthState},
		Rules:  engine,
		Hook:   hook.NewHandler(engine),
	}
	return NewHandler(svc, nil, nil), auditLog
}

func TestHandleHook_ReturnsBlockOutputForDeny(t *testing.T) {
	h, _ := newTestHandler(model.Decision{Action: model.DecisionDeny, Reason: "nope", Confidence: 1}, model.StateHealthy)

	body := []byte(`{"hook_event_name":"PreToolUse","tool_name":"bash","tool_input":{"command":"rm -rf /"},"cwd":"/tmp"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/hooks", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"block"`)
}

func TestHandleEvaluate_ReturnsDecision(t *testing.T) {
	h, _ := newTestHandler(model.Decision{Action: model.DecisionAllow, Reason: "ok", Confidence: 1}, model.StateHealthy)

	body, _ := json.Marshal(map[string]interface{}{
		"tool_name":  "bash",
		"parameters": map[string]interface{}{"command": "ls"},
		"cwd":        "/tmp",
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/evaluate", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var decision model.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decision))
	assert.Equal(t, model.DecisionAllow, decision.Action)
}

func TestHandleEvaluate_InvalidJSONReturnsBadRequest(t *testing.T) {
	h, _ := newTestHandler(model.Decision{}, model.StateHealthy)

	req := httptest.NewRequest(http.MethodPost, "/v1/evaluate", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleHealth_UnhealthyReturns503(t *testing.T) {
	h, _ := newTestHandler(model.Decision{}, model.StateUnhealthy)

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleRules_ReturnsCurrentRules(t *testing.T) {
	h, _ := newTestHandler(model.Decision{}, model.StateHealthy)

	req := httptest.NewRequest(http.MethodGet, "/v1/config/rules", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"r1"`)
}

func TestHandleAuditRecent_ReturnsAppendedEntries(t *testing.T) {
	h, auditLog := newTestHandler(model.Decision{Action: model.DecisionAllow, Confidence: 1}, model.StateHealthy)
	auditLog.entries = append(auditLog.entries, model.AuditEntry{ID: "prior"})

	req := httptest.NewRequest(http.MethodGet, "/v1/audit/recent?limit=5", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "prior")
}

func TestHandleEvaluate_RateLimitedReturns429(t *testing.T) {
	engine := &stubEngine{decision: model.Decision{Action: model.DecisionAllow, Confidence: 1}}
	svc := &transport.Service{
		Engine: engine,
		Audit:  &stubAudit{},
		Health: stubHealth{state: model.StateHealthy},
		Rules:  engine,
		Hook:   hook.NewHandler(engine),
	}
	h := NewHandler(svc, nil, ratelimit.NewInMemory(ratelimit.Config{RequestsPerMinute: 1}))

	body, _ := json.Marshal(map[string]interface{}{"tool_name": "bash", "parameters": map[string]interface{}{}, "cwd": "/tmp"})

	req1 := httptest.NewRequest(http.MethodPost, "/v1/evaluate", bytes.NewReader(body))
	req1.RemoteAddr = "10.0.0.1:1234"
	rec1 := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec1, req1)
	require.Equal(t, http.StatusOK, rec1.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/v1/evaluate", bytes.NewReader(body))
	req2.RemoteAddr = "10.0.0.1:1234"
	rec2 := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec2, req2)
	assert.Equal(t, http.StatusTooManyRequests, rec2.Code)
	assert.NotEmpty(t, rec2.Header().Get("Retry-After"))
}

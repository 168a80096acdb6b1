// Package http implements the HTTP REST transport surface described in
// spec.md §4.L and §6: POST /v1/evaluate, POST /v1/hooks,
// GET /v1/health, GET /v1/config/rules, GET /v1/audit/recent. All five
// endpoints front the same transport.Service so every surface sees
// identical evaluation semantics. Modeled on the teacher's
// ui/transports HTTP-handler idiom (plain net/http, no framework).
package http

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/superego-sh/superego/internal/logging"
	"github.com/superego-sh/superego/internal/model"
	"github.com/superego-sh/superego/internal/transport"
	"github.com/superego-sh/superego/internal/transport/ratelimit"
)

// maxRequestBody bounds the size of any request body this transport
// will read, independent of the parameter-tree size budget enforced
// deeper in model.NewToolRequest.
const maxRequestBody = 1 << 20 // 1 MiB

// Handler serves the HTTP REST transport over a shared transport.Service.
type Handler struct {
	svc     *transport.Service
	logger  logging.Logger
	clock   func() time.Time
	limiter ratelimit.Limiter
}

// NewHandler constructs a Handler. logger may be nil. limiter may be
// nil, in which case the evaluate/hooks endpoints are not rate
// limited — callers typically pass ratelimit.NewInMemory or
// ratelimit.NewRedis.
func NewHandler(svc *transport.Service, logger logging.Logger, limiter ratelimit.Limiter) *Handler {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Handler{svc: svc, logger: logger, clock: time.Now, limiter: limiter}
}

// Routes returns an http.Handler with all five endpoints registered.
// POST /v1/evaluate and POST /v1/hooks are rate limited per remote
// address when a limiter is configured (spec.md's supplemented
// "abuse protection" feature, grounded on the teacher's
// RateLimitTransport wrapper).
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/evaluate", h.withRateLimit(h.handleEvaluate))
	mux.HandleFunc("POST /v1/hooks", h.withRateLimit(h.handleHook))
	mux.HandleFunc("GET /v1/health", h.handleHealth)
	mux.HandleFunc("GET /v1/config/rules", h.handleRules)
	mux.HandleFunc("GET /v1/audit/recent", h.handleAuditRecent)
	return mux
}

func (h *Handler) withRateLimit(next http.HandlerFunc) http.HandlerFunc {
	if h.limiter == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)
		allowed, retryAfter := h.limiter.Allow(r.Context(), key)
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}

func clientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}

type evaluateRequest struct {
	ToolName   string      `json:"tool_name"`
	Parameters interface{} `json:"parameters"`
	Cwd        string      `json:"cwd"`
	SessionID  string      `json:"session_id"`
	AgentID    string      `json:"agent_id"`
}

func (h *Handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil || len(body) > maxRequestBody {
		writeJSONError(w, http.StatusBadRequest, "request body too large or unreadable")
		return
	}

	var er evaluateRequest
	if err := json.Unmarshal(body, &er); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	req, err := model.NewToolRequest(er.ToolName, er.Parameters, er.Cwd, er.SessionID, er.AgentID, h.clock())
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request")
		return
	}

	ctx, cancel := transport.WithTimeout(r.Context())
	defer cancel()

	decision := h.svc.Evaluate(ctx, req)
	writeJSON(w, http.StatusOK, decision)
}

func (h *Handler) handleHook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil || len(body) > maxRequestBody {
		writeJSONError(w, http.StatusBadRequest, "request body too large or unreadable")
		return
	}

	ctx, cancel := transport.WithTimeout(r.Context())
	defer cancel()

	out, _ := h.svc.EvaluateHook(ctx, body)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := h.svc.HealthStatus(r.Context())
	code := http.StatusOK
	if status.Overall == model.StateUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (h *Handler) handleRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": h.svc.CurrentRules(),
	})
}

func (h *Handler) handleAuditRecent(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": h.svc.AuditRecent(limit),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

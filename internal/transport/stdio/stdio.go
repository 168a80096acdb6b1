// Package stdio implements the stdio JSON-RPC transport described in
// spec.md §4.L: line-delimited JSON requests on stdin, one response per
// request id on stdout, all logging routed to stderr so it never
// pollutes the protocol stream. This is the transport used by the
// one-shot hook advisor (cmd/superego-advisor) as well as any
// long-lived agent host that prefers a pipe over a socket.
package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/superego-sh/superego/internal/logging"
	"github.com/superego-sh/superego/internal/model"
	"github.com/superego-sh/superego/internal/transport"
)

// request is a single line of stdin input.
type request struct {
	ID     interface{}     `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type response struct {
	ID     interface{} `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  *rpcError   `json:"error,omitempty"`
}

type rpcError struct {
	Message string `json:"message"`
}

type evaluateParams struct {
	ToolName   string      `json:"tool_name"`
	Parameters interface{} `json:"parameters"`
	Cwd        string      `json:"cwd"`
	SessionID  string      `json:"session_id"`
	AgentID    string      `json:"agent_id"`
}

// Server reads one JSON request per line from r and writes one JSON
// response per line to w. Each request is fully evaluated — the caller
// is suspended until its response is written, per spec.md §4.L.
type Server struct {
	svc    *transport.Service
	logger logging.Logger
	clock  func() time.Time
}

// NewServer constructs a Server. logger may be nil; it must log to
// stderr only (the caller wires logging output, not this package).
func NewServer(svc *transport.Service, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Server{svc: svc, logger: logger, clock: time.Now}
}

// Serve runs the read-evaluate-respond loop until r is exhausted, ctx
// is canceled, or a non-EOF read error occurs. It returns nil on a
// clean EOF (graceful shutdown).
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)

	enc := json.NewEncoder(w)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		resp := s.handleLine(ctx, append([]byte(nil), line...))
		if err := enc.Encode(resp); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (s *Server) handleLine(ctx context.Context, line []byte) response {
	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		s.logger.Warn("stdio: malformed request line", map[string]interface{}{"error": err.Error()})
		return response{Error: &rpcError{Message: "malformed JSON request"}}
	}

	callCtx, cancel := transport.WithTimeout(ctx)
	defer cancel()

	switch req.Method {
	case "evaluate":
		return s.handleEvaluate(callCtx, req)
	case "hook":
		return s.handleHook(callCtx, req)
	case "health":
		return response{ID: req.ID, Result: s.svc.HealthStatus(callCtx)}
	default:
		return response{ID: req.ID, Error: &rpcError{Message: "unknown method: " + req.Method}}
	}
}

func (s *Server) handleEvaluate(ctx context.Context, req request) response {
	var p evaluateParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return response{ID: req.ID, Error: &rpcError{Message: "malformed evaluate params"}}
	}

	toolReq, err := model.NewToolRequest(p.ToolName, p.Parameters, p.Cwd, p.SessionID, p.AgentID, s.clock())
	if err != nil {
		return response{ID: req.ID, Error: &rpcError{Message: "invalid request"}}
	}

	decision := s.svc.Evaluate(ctx, toolReq)
	return response{ID: req.ID, Result: decision}
}

func (s *Server) handleHook(ctx context.Context, req request) response {
	out, _ := s.svc.EvaluateHook(ctx, req.Params)
	var raw json.RawMessage = out
	return response{ID: req.ID, Result: raw}
}

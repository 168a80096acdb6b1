// Package sse implements the SSE transport described in spec.md §4.L
// and §6: read-only streams of health, audit-append, and config-change
// events. Modeled on the teacher's SSETransport (ui/transports/sse/
// sse.go): http.Flusher-based sendEvent/sendError helpers, standard SSE
// headers, one goroutine per connection pushing events until the
// client disconnects or the request context is canceled.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/superego-sh/superego/internal/logging"
	"github.com/superego-sh/superego/internal/transport"
)

// healthPollInterval is how often a connected client receives a fresh
// health snapshot, independent of any audit/config activity.
const healthPollInterval = 15 * time.Second

// Transport serves Server-Sent Events for health, audit-append, and
// config-change streams.
type Transport struct {
	svc    *transport.Service
	logger logging.Logger

	mu          sync.RWMutex
	subscribers map[chan sseEvent]struct{}
}

type sseEvent struct {
	name string
	data interface{}
}

// NewTransport constructs a Transport.
func NewTransport(svc *transport.Service, logger logging.Logger) *Transport {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Transport{
		svc:         svc,
		logger:      logger,
		subscribers: make(map[chan sseEvent]struct{}),
	}
}

// Publish implements transport.Subscriber: it fans an audit-append
// event out to every connected SSE client.
func (t *Transport) Publish(event transport.EvaluateEvent) {
	t.broadcast(sseEvent{name: "audit-append", data: event.Entry})
}

// PublishConfigChange notifies connected clients that the ruleset was
// reloaded; wired from the Config Watcher's reload callback.
func (t *Transport) PublishConfigChange(version int64) {
	t.broadcast(sseEvent{name: "config-change", data: map[string]int64{"version": version}})
}

func (t *Transport) broadcast(ev sseEvent) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for ch := range t.subscribers {
		select {
		case ch <- ev:
		default:
			t.logger.Warn("sse subscriber buffer full, dropping event", map[string]interface{}{"event": ev.name})
		}
	}
}

// ServeHTTP streams health, audit-append, and config-change events
// until the client disconnects.
func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := make(chan sseEvent, 32)
	t.mu.Lock()
	t.subscribers[ch] = struct{}{}
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.subscribers, ch)
		t.mu.Unlock()
		close(ch)
	}()

	ticker := time.NewTicker(healthPollInterval)
	defer ticker.Stop()

	ctx := r.Context()
	sendEvent(w, flusher, "health", t.svc.HealthStatus(ctx))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sendEvent(w, flusher, "health", t.svc.HealthStatus(ctx))
		case ev := <-ch:
			sendEvent(w, flusher, ev.name, ev.data)
		}
	}
}

func sendEvent(w http.ResponseWriter, flusher http.Flusher, name string, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		sendError(w, flusher, fmt.Sprintf("failed to encode %s event", name))
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, payload)
	flusher.Flush()
}

func sendError(w http.ResponseWriter, flusher http.Flusher, msg string) {
	payload, _ := json.Marshal(map[string]string{"error": msg})
	fmt.Fprintf(w, "event: error\ndata: %s\n\n", payload)
	flusher.Flush()
}

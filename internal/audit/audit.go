// Package audit implements the in-memory Audit Logger described in
// spec.md §4.I: a bounded ring buffer of AuditEntry values with
// TTL-based eviction, redacting sensitive parameter keys before
// storage. Modeled on the teacher's bounded in-memory store idiom
// (core/memory_store.go) adapted from a TTL key-value cache to a
// fixed-capacity append-only ring.
package audit

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/superego-sh/superego/internal/model"
	"github.com/superego-sh/superego/internal/sanitize"
)

const (
	// DefaultCapacity bounds the ring buffer (spec.md §4.I "e.g. 10000").
	DefaultCapacity = 10000
	// DefaultTTL is how long an entry remains before purge_expired may
	// evict it.
	DefaultTTL = 24 * time.Hour
)

// Logger is the bounded in-memory Audit Logger. Safe for concurrent
// appends and reads; readers observe a consistent snapshot (spec.md
// §4.I "Safe under concurrent appends").
type Logger struct {
	mu              sync.RWMutex
	entries         []model.AuditEntry // ring buffer, oldest at index `start`
	start           int
	count           int
	capacity        int
	ttl             time.Duration
	sensitivePattern *regexp.Regexp
	clock           func() time.Time
	newID           func() string
}

// Option configures a Logger.
type Option func(*Logger)

// WithCapacity overrides the ring buffer capacity.
func WithCapacity(n int) Option {
	return func(l *Logger) {
		if n > 0 {
			l.capacity = n
		}
	}
}

// WithTTL overrides the default eviction TTL.
func WithTTL(ttl time.Duration) Option {
	return func(l *Logger) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithSensitivePattern overrides the regex used to detect sensitive
// parameter keys (default: `(?i)(password|secret|token|api[_-]?key)`).
func WithSensitivePattern(pattern *regexp.Regexp) Option {
	return func(l *Logger) {
		if pattern != nil {
			l.sensitivePattern = pattern
		}
	}
}

// New constructs an audit Logger with sensible defaults.
func New(opts ...Option) *Logger {
	l := &Logger{
		capacity:         DefaultCapacity,
		ttl:              DefaultTTL,
		sensitivePattern: sanitize.DefaultSensitiveKeyPattern(),
		clock:            time.Now,
		newID:            uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.entries = make([]model.AuditEntry, 0, l.capacity)
	return l
}

// Append redacts req's parameters and stores a new AuditEntry alongside
// decision and the list of rule ids considered matching. Appends are
// O(1) amortized; once capacity is reached the oldest entry is
// overwritten.
func (l *Logger) Append(req model.ToolRequest, decision model.Decision, matchedRuleIDs []string) model.AuditEntry {
	now := l.clock()
	entry := model.AuditEntry{
		ID:        l.newID(),
		Timestamp: now,
		Request: model.RedactedReq{
			ToolName:   req.ToolName,
			Parameters: sanitize.RedactSensitive(req.Parameters.ToAny(), l.sensitivePattern),
			Cwd:        req.Cwd,
			SessionID:  req.SessionID,
			AgentID:    req.AgentID,
			Timestamp:  req.Timestamp,
		},
		Decision:       decision,
		MatchedRuleIDs: append([]string(nil), matchedRuleIDs...),
		TTLDeadline:    now.Add(l.ttl),
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.count < l.capacity {
		l.entries = append(l.entries, entry)
		l.count++
		return entry
	}

	l.entries[l.start] = entry
	l.start = (l.start + 1) % l.capacity
	return entry
}

// Recent returns up to limit of the most recently appended entries,
// newest first. The returned slice is a copy; mutating it does not
// affect the Logger's internal state.
func (l *Logger) Recent(limit int) []model.AuditEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if limit <= 0 || limit > l.count {
		limit = l.count
	}

	out := make([]model.AuditEntry, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (l.start + l.count - 1 - i + l.capacity) % l.capacity
		if l.count < l.capacity {
			idx = l.count - 1 - i
		}
		out = append(out, l.entries[idx])
	}
	return out
}

// Len reports the current number of stored entries.
func (l *Logger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}

// PurgeExpired drops every entry whose TTLDeadline has passed,
// preserving relative order of the survivors. Returns the number of
// entries removed.
func (l *Logger) PurgeExpired(ctx context.Context) int {
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.count == 0 {
		return 0
	}

	survivors := make([]model.AuditEntry, 0, l.count)
	for i := 0; i < l.count; i++ {
		idx := (l.start + i) % l.capacity
		entry := l.entries[idx]
		if entry.TTLDeadline.After(now) {
			survivors = append(survivors, entry)
		}
	}

	removed := l.count - len(survivors)
	l.entries = make([]model.AuditEntry, len(survivors), l.capacity)
	copy(l.entries, survivors)
	l.start = 0
	l.count = len(survivors)
	return removed
}

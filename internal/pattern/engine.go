// Package pattern implements the multi-dialect pattern matcher described
// in spec.md §4.B: string, regex, glob, and jsonpath matching with a
// bounded LRU cache for compiled patterns and recent match results.
package pattern

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"time"

	"github.com/superego-sh/superego/internal/model"
)

const (
	// MaxRegexPatternLen caps regex pattern length (spec.md §4.B).
	MaxRegexPatternLen = 4096
	// DefaultMatchBudget bounds a single match invocation.
	DefaultMatchBudget = 5 * time.Millisecond
	defaultCacheSize   = 2048
)

// Engine is the Pattern Engine. It is safe for concurrent use; all
// caches are internally synchronized. Cache entries are keyed by
// dialect and pattern text (plus the value, for results), not by
// ruleset: the app builds one Engine at startup and every ruleset load
// reuses it, and nothing flushes its caches on reload.
type Engine struct {
	compiled     *lru
	results      *lru
	matchBudget  time.Duration
	onDegraded   func(reason string)
}

// Option configures an Engine.
type Option func(*Engine)

// WithMatchBudget overrides the per-match wall-clock budget.
func WithMatchBudget(d time.Duration) Option {
	return func(e *Engine) { e.matchBudget = d }
}

// WithCacheSizes overrides the compiled-pattern and result cache sizes.
func WithCacheSizes(compiledSize, resultSize int) Option {
	return func(e *Engine) {
		e.compiled = newLRU(compiledSize)
		e.results = newLRU(resultSize)
	}
}

// WithDegradedHook registers a callback invoked when a match exceeds its
// time budget, so the Health Monitor can be informed without the Pattern
// Engine depending on it directly.
func WithDegradedHook(fn func(reason string)) Option {
	return func(e *Engine) { e.onDegraded = fn }
}

// NewEngine constructs a Pattern Engine with sensible defaults.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		compiled:    newLRU(defaultCacheSize),
		results:     newLRU(defaultCacheSize),
		matchBudget: DefaultMatchBudget,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// compiledPattern holds whatever form of a pattern a dialect needs after
// compilation: a *regexp.Regexp for regex/glob, or segments for jsonpath.
type compiledPattern struct {
	regex    *regexp.Regexp
	segments []string
}

// Compile validates and compiles a Leaf at rule-load time. A malformed
// pattern here must fail the whole ruleset swap (spec.md §4.B "Failure
// semantics"), so callers should treat a non-nil error as fatal to load.
func (e *Engine) Compile(leaf model.Leaf) error {
	_, err := e.compile(leaf.Type, leaf.Value)
	if err != nil {
		return model.NewError("pattern.Compile", model.KindPatternCompilation, "policy configuration error", err)
	}
	if leaf.Match != nil {
		return e.Compile(*leaf.Match)
	}
	return nil
}

func (e *Engine) compile(dialect model.Dialect, text string) (*compiledPattern, error) {
	cacheKey := string(dialect) + "\x00" + text
	if cached, ok := e.compiled.get(cacheKey); ok {
		return cached.(*compiledPattern), nil
	}

	var cp *compiledPattern
	var err error

	switch dialect {
	case model.DialectString, "":
		cp = &compiledPattern{}
	case model.DialectRegex:
		if len(text) > MaxRegexPatternLen {
			return nil, fmt.Errorf("regex pattern exceeds %d byte cap", MaxRegexPatternLen)
		}
		re, compErr := regexp.Compile(text)
		if compErr != nil {
			return nil, fmt.Errorf("invalid regex: %w", compErr)
		}
		cp = &compiledPattern{regex: re}
	case model.DialectGlob:
		re, compErr := compileGlob(text)
		if compErr != nil {
			return nil, fmt.Errorf("invalid glob: %w", compErr)
		}
		cp = &compiledPattern{regex: re}
	case model.DialectJSONPath:
		cp = &compiledPattern{segments: jsonPathSegments(text)}
	default:
		return nil, fmt.Errorf("unknown pattern dialect %q", dialect)
	}

	if err == nil {
		e.compiled.put(cacheKey, cp)
	}
	return cp, err
}

// Match tests value (a plain string) against a string/regex/glob leaf.
// jsonpath leaves must go through MatchConditions (as a parameters
// condition) instead, since
// they need the full parameter tree rather than a single string.
func (e *Engine) Match(leaf model.Leaf, value string) bool {
	if leaf.Type == model.DialectJSONPath {
		return false
	}
	return e.matchLeaf(leaf, value)
}

func (e *Engine) matchLeaf(leaf model.Leaf, value string) bool {
	resultKey := resultCacheKey(leaf.Type, leaf.Value, value)
	if cached, ok := e.results.get(resultKey); ok {
		return cached.(bool)
	}

	matched := e.runBudgeted(func() bool {
		return e.matchDialect(leaf.Type, leaf.Value, value)
	})

	e.results.put(resultKey, matched)
	return matched
}

func (e *Engine) matchDialect(dialect model.Dialect, pattern, value string) bool {
	switch dialect {
	case model.DialectString, "":
		if pattern == "" {
			return value == ""
		}
		return containsSubstring(value, pattern)
	case model.DialectRegex, model.DialectGlob:
		cp, err := e.compile(dialect, pattern)
		if err != nil || cp.regex == nil {
			return false
		}
		return cp.regex.MatchString(value)
	default:
		return false
	}
}

// runBudgeted executes fn with a wall-clock budget, returning false and
// signaling degraded health if fn doesn't finish in time. Go's regexp
// engine is RE2-based and cannot backtrack catastrophically, so this is
// defense in depth against unexpectedly large inputs rather than a
// response to a known hang, per the guidance in spec.md §9.
func (e *Engine) runBudgeted(fn func() bool) bool {
	done := make(chan bool, 1)
	go func() {
		done <- fn()
	}()

	select {
	case result := <-done:
		return result
	case <-time.After(e.matchBudget):
		if e.onDegraded != nil {
			e.onDegraded("pattern match exceeded time budget")
		}
		return false
	}
}

func containsSubstring(value, pattern string) bool {
	if len(pattern) > len(value) {
		return false
	}
	return indexOf(value, pattern) >= 0
}

func indexOf(value, pattern string) int {
	n, m := len(value), len(pattern)
	if m == 0 {
		return 0
	}
	for i := 0; i+m <= n; i++ {
		if value[i:i+m] == pattern {
			return i
		}
	}
	return -1
}

func resultCacheKey(dialect model.Dialect, pattern, value string) string {
	h := fnv.New64a()
	h.Write([]byte(dialect))
	h.Write([]byte{0})
	h.Write([]byte(pattern))
	h.Write([]byte{0})
	h.Write([]byte(value))
	return fmt.Sprintf("%x", h.Sum64())
}

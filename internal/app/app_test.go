package app

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superego-sh/superego/internal/model"
)

func newTestApp(t *testing.T) *App {
	t.Helper()

	dir := t.TempDir()
	rulesPath := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(rulesPath, []byte("version: 1\nrules: []\n"), 0o644))

	configPath := filepath.Join(dir, "config.yaml")
	configBody := "rules_file: " + rulesPath + "\nhot_reload: false\ntransport:\n  http:\n    port: 0\n"
	require.NoError(t, os.WriteFile(configPath, []byte(configBody), 0o644))

	a, err := New(context.Background(), configPath)
	require.NoError(t, err)
	t.Cleanup(func() { a.Shutdown(context.Background()) })
	return a
}

func TestNew_WiresWorkingEvaluatePath(t *testing.T) {
	a := newTestApp(t)

	req, err := model.NewToolRequest("Read", map[string]interface{}{"path": "README.md"}, "/tmp", "session-1", "agent-1", time.Now())
	require.NoError(t, err)

	decision := a.Service.Evaluate(context.Background(), req)
	assert.NotEmpty(t, decision.Action)
}

// TestNew_LoadsRulesFileEvenWhenHotReloadDisabled guards against the
// initial rules load being skipped when hot_reload is false: the
// Policy Engine must still see the configured rules on startup, not
// fall through to the empty-ruleset default-deny path.
func TestNew_LoadsRulesFileEvenWhenHotReloadDisabled(t *testing.T) {
	dir := t.TempDir()
	rulesPath := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(rulesPath, []byte(""+
		"version: 1\n"+
		"rules:\n"+
		"  - id: allow_read\n"+
		"    priority: 1\n"+
		"    action: allow\n"+
		"    reason: reads are safe\n"+
		"    conditions:\n"+
		"      tool_name: { type: string, value: Read }\n"), 0o644))

	configPath := filepath.Join(dir, "config.yaml")
	configBody := "rules_file: " + rulesPath + "\nhot_reload: false\ntransport:\n  http:\n    port: 0\n"
	require.NoError(t, os.WriteFile(configPath, []byte(configBody), 0o644))

	a, err := New(context.Background(), configPath)
	require.NoError(t, err)
	t.Cleanup(func() { a.Shutdown(context.Background()) })

	req, err := model.NewToolRequest("Read", map[string]interface{}{"path": "README.md"}, "/tmp", "session-1", "agent-1", time.Now())
	require.NoError(t, err)

	decision := a.Service.Evaluate(context.Background(), req)
	assert.Equal(t, model.DecisionAllow, decision.Action)
	assert.Equal(t, "allow_read", decision.RuleID)
}

func TestNew_DefaultsToMockProviderWhenNoneConfigured(t *testing.T) {
	a := newTestApp(t)
	require.Len(t, a.providers, 1)
	assert.Equal(t, "mock", a.providers[0].name)
}

func TestNew_HealthReportsRegisteredComponents(t *testing.T) {
	a := newTestApp(t)

	report := a.Health.Status(context.Background())
	assert.Contains(t, report.PerComponent, "policy_engine")
	assert.Contains(t, report.PerComponent, "breaker:inference")
	assert.Contains(t, report.PerComponent, "provider:mock")
}

func TestApp_ShutdownIsIdempotentAndCleansUpProviders(t *testing.T) {
	a := newTestApp(t)
	a.Shutdown(context.Background())
	a.Shutdown(context.Background())
}

// TestApp_OnConfigChangeFiresOnWatchedReload guards the SSE config-change
// stream's wiring: a subscriber registered via App.OnConfigChange must be
// notified when the rules-file watcher picks up a change, not just left
// pointing at dead code.
func TestApp_OnConfigChangeFiresOnWatchedReload(t *testing.T) {
	dir := t.TempDir()
	rulesPath := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(rulesPath, []byte("version: 1\nrules: []\n"), 0o644))

	configPath := filepath.Join(dir, "config.yaml")
	configBody := "rules_file: " + rulesPath + "\nhot_reload: true\ntransport:\n  http:\n    port: 0\n"
	require.NoError(t, os.WriteFile(configPath, []byte(configBody), 0o644))

	a, err := New(context.Background(), configPath)
	require.NoError(t, err)
	t.Cleanup(func() { a.Shutdown(context.Background()) })

	var mu sync.Mutex
	var versions []int64
	a.OnConfigChange(func(version int64) {
		mu.Lock()
		versions = append(versions, version)
		mu.Unlock()
	})

	require.NoError(t, os.WriteFile(rulesPath, []byte("version: 2\nrules: []\n"), 0o644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(versions) == 1 && versions[0] == 2
	}, 2*time.Second, 20*time.Millisecond)
}

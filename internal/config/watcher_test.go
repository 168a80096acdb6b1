package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superego-sh/superego/internal/model"
)

type fakeValidator struct {
	loaded  []model.SecurityRule
	version int64
	err     error
	calls   int
}

func (f *fakeValidator) LoadRuleset(rules []model.SecurityRule, version int64) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.loaded = rules
	f.version = version
	return nil
}

func writeRules(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestWatcher_InitialLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	writeRules(t, path, "version: 1\nrules:\n  - id: r1\n    priority: 10\n    action: allow\n")

	v := &fakeValidator{}
	w := NewWatcher(path, 250*time.Millisecond, v, nil)
	require.NoError(t, w.Start())
	defer w.Stop()

	assert.Equal(t, 1, v.calls)
	assert.Equal(t, int64(1), v.version)
	require.NoError(t, w.LastError())
}

func TestWatcher_InvalidReloadRetainsSnapshotAndSetsHealthSignal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	writeRules(t, path, "not: [valid, yaml, for, rules")

	v := &fakeValidator{}
	w := NewWatcher(path, 250*time.Millisecond, v, nil)
	require.NoError(t, w.Start())
	defer w.Stop()

	assert.Error(t, w.LastError())
}

func TestWatcher_LoadRunsIndependentlyOfWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	writeRules(t, path, "version: 7\nrules:\n  - id: r1\n    priority: 10\n    action: allow\n")

	v := &fakeValidator{}
	w := NewWatcher(path, 250*time.Millisecond, v, nil)

	require.NoError(t, w.Load())
	assert.Equal(t, 1, v.calls)
	assert.Equal(t, int64(7), v.version)

	writeRules(t, path, "version: 8\nrules: []\n")
	time.Sleep(400 * time.Millisecond)

	assert.Equal(t, 1, v.calls, "Watch was never started, so no further reload should fire")
}

func TestWatcher_OnReloadFiresAfterInitialLoadAndAfterWatchedChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	writeRules(t, path, "version: 1\nrules: []\n")

	v := &fakeValidator{}
	var mu sync.Mutex
	var versions []int64
	w := NewWatcher(path, 250*time.Millisecond, v, nil, WithOnReload(func(version int64) {
		mu.Lock()
		versions = append(versions, version)
		mu.Unlock()
	}))
	require.NoError(t, w.Load())
	require.NoError(t, w.Watch())
	defer w.Stop()

	writeRules(t, path, "version: 2\nrules: []\n")
	time.Sleep(400 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int64{1, 2}, versions)
}

func TestWatcher_DebouncesRapidWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	writeRules(t, path, "version: 1\nrules: []\n")

	v := &fakeValidator{}
	w := NewWatcher(path, 250*time.Millisecond, v, nil)
	require.NoError(t, w.Start())
	defer w.Stop()

	initialCalls := v.calls

	for i := 0; i < 3; i++ {
		writeRules(t, path, "version: 2\nrules: []\n")
		time.Sleep(20 * time.Millisecond)
	}

	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, initialCalls+1, v.calls)
}

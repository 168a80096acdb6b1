package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	assert.Equal(t, "rules.yaml", c.RulesFile)
	assert.Equal(t, 5, c.BreakerFailureThreshold)
	assert.Equal(t, 250*time.Millisecond, c.ReloadDebounce.Duration())
	assert.Equal(t, 8443, c.Transport.HTTP.Port)
	assert.True(t, c.HotReload)
	require.NoError(t, c.Validate())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules_file: custom-rules.yaml\nbreaker_failure_threshold: 9\n"), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "custom-rules.yaml", c.RulesFile)
	assert.Equal(t, 9, c.BreakerFailureThreshold)
}

func TestLoad_SpecShapedFileConfiguresNestedFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "" +
		"rules_file: custom-rules.yaml\n" +
		"hot_reload: false\n" +
		"transport:\n" +
		"  http:\n" +
		"    enabled: true\n" +
		"    host: 127.0.0.1\n" +
		"    port: 9090\n" +
		"inference:\n" +
		"  timeout_seconds: 5\n" +
		"  provider_preference: [cli, mock]\n" +
		"  providers:\n" +
		"    - name: cli\n" +
		"      kind: cli\n" +
		"      command: /usr/bin/true\n" +
		"audit:\n" +
		"  max_entries: 500\n" +
		"  ttl_seconds: 3600\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "custom-rules.yaml", c.RulesFile)
	assert.False(t, c.HotReload)
	assert.Equal(t, "127.0.0.1:9090", c.Addr())
	assert.Equal(t, 5*time.Second, c.Inference.TimeoutSeconds.Duration())
	assert.Equal(t, []string{"cli", "mock"}, c.Inference.ProviderPreference)
	require.Len(t, c.Inference.Providers, 1)
	assert.Equal(t, "cli", c.Inference.Providers[0].Name)
	assert.Equal(t, 500, c.Audit.MaxEntries)
	assert.Equal(t, time.Hour, c.Audit.TTLSeconds.Duration())
}

func TestLoad_UnknownTopLevelKeyRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules_file: custom-rules.yaml\nwatch_rules_file: false\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules_file: custom-rules.yaml\n"), 0o644))

	t.Setenv("SUPEREGO_RULES_FILE", "env-rules.yaml")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-rules.yaml", c.RulesFile)
}

func TestLoad_OptionsOverrideEverything(t *testing.T) {
	t.Setenv("SUPEREGO_RULES_FILE", "env-rules.yaml")

	c, err := Load("", WithRulesFile("flag-rules.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "flag-rules.yaml", c.RulesFile)
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	c, err := Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().RulesFile, c.RulesFile)
}

func TestLoad_InvalidSchemaRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("breaker_failure_threshold: 0\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestWithHTTPAddr_SplitsHostAndPort(t *testing.T) {
	c, err := Load("", WithHTTPAddr(":9999"))
	require.NoError(t, err)
	assert.Equal(t, 9999, c.Transport.HTTP.Port)
	assert.Equal(t, ":9999", c.Addr())
}

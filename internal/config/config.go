// Package config implements the Config Loader described in spec.md
// §4.K: built-in defaults < YAML file < environment variables <
// process arguments, schema-validated at load, with the current
// snapshot retained on an invalid reload. Modeled on the teacher's
// Config/LoadFromEnv/LoadFromFile/Validate shape (core/config.go),
// generalized from the teacher's reflection-free explicit-field style
// to Superego's settings. The YAML schema mirrors spec.md §6's
// documented "Config file layout" nesting (`transport`, `inference`,
// `audit`, `hot_reload`) exactly, rather than a flattened shape, so a
// config file written straight from the spec configures the process.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/superego-sh/superego/internal/model"
)

// Duration decodes a YAML duration either as a Go duration string
// ("10s") or a bare number (interpreted as whole seconds, matching
// spec.md §6's `timeout_seconds: <int>` convention).
type Duration time.Duration

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var asString string
	if err := value.Decode(&asString); err == nil {
		parsed, err := time.ParseDuration(asString)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", asString, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var seconds float64
	if err := value.Decode(&seconds); err != nil {
		return fmt.Errorf("duration must be a string (\"10s\") or a number of seconds: %w", err)
	}
	*d = Duration(time.Duration(seconds * float64(time.Second)))
	return nil
}

// Config holds every tunable Superego setting. Field comments name the
// env var and YAML key that can override the built-in default, in
// increasing precedence order per spec.md §4.K. The nested fields
// (Transport, Inference, Audit) and HotReload match spec.md §6's
// documented YAML layout key-for-key.
type Config struct {
	// RulesFile is the path to the YAML ruleset hot-reloaded by the
	// Config Watcher.
	RulesFile string `yaml:"rules_file" env:"SUPEREGO_RULES_FILE"`

	// LogLevel is one of DEBUG/INFO/WARN/ERROR.
	LogLevel string `yaml:"log_level" env:"SUPEREGO_LOG_LEVEL"`
	// LogFormat is "json" or "text"; empty auto-detects (internal/logging).
	LogFormat string `yaml:"log_format" env:"SUPEREGO_LOG_FORMAT"`

	// Transport configures the HTTP/WS/SSE server surfaces, per
	// spec.md §6's `transport: {http:{...}, ws:{...}, sse:{...}}`.
	Transport TransportConfig `yaml:"transport"`

	// Inference configures the Strategy Manager and its providers, per
	// spec.md §6's `inference: {timeout_seconds, provider_preference,
	// providers}`.
	Inference InferenceConfig `yaml:"inference"`

	// Audit configures the in-memory Audit Logger, per spec.md §6's
	// `audit: {max_entries, ttl_seconds}`.
	Audit AuditConfig `yaml:"audit"`

	// HotReload, when true, installs a background Watcher over
	// RulesFile that reloads on change. The initial rules load always
	// happens regardless of this flag (spec.md §6's `hot_reload: <bool>`
	// only toggles the reload/watch behavior, not the initial load).
	HotReload bool `yaml:"hot_reload" env:"SUPEREGO_HOT_RELOAD"`

	// BreakerFailureThreshold / BreakerRecoveryTimeout configure the
	// circuit breaker guarding inference calls.
	BreakerFailureThreshold int      `yaml:"breaker_failure_threshold" env:"SUPEREGO_BREAKER_FAILURE_THRESHOLD"`
	BreakerRecoveryTimeout  Duration `yaml:"breaker_recovery_timeout" env:"SUPEREGO_BREAKER_RECOVERY_TIMEOUT"`

	// ReloadDebounce bounds how often the rules-file watcher may fire a
	// reload; spec.md §4.K requires at least 250ms.
	ReloadDebounce Duration `yaml:"reload_debounce" env:"SUPEREGO_RELOAD_DEBOUNCE"`

	// RateLimitPerMinute bounds requests per client on the rate-limited
	// HTTP endpoints (spec.md's supplemented abuse-protection feature).
	RateLimitPerMinute int `yaml:"rate_limit_per_minute" env:"SUPEREGO_RATE_LIMIT_PER_MINUTE"`
	// RateLimitRedisAddr, when set, backs the rate limiter with Redis
	// instead of the in-memory default — for multi-replica deployments
	// sharing one limit namespace.
	RateLimitRedisAddr string `yaml:"rate_limit_redis_addr" env:"SUPEREGO_RATE_LIMIT_REDIS_ADDR"`
}

// TransportConfig is spec.md §6's `transport` block.
type TransportConfig struct {
	HTTP HTTPTransportConfig `yaml:"http"`
	WS   WSTransportConfig   `yaml:"ws"`
	SSE  SSETransportConfig  `yaml:"sse"`
}

// HTTPTransportConfig is spec.md §6's `transport.http` block.
type HTTPTransportConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// WSTransportConfig is spec.md §6's `transport.ws` block.
type WSTransportConfig struct {
	Enabled bool `yaml:"enabled"`
}

// SSETransportConfig is spec.md §6's `transport.sse` block.
type SSETransportConfig struct {
	Enabled bool `yaml:"enabled"`
}

// InferenceConfig is spec.md §6's `inference` block.
type InferenceConfig struct {
	TimeoutSeconds     Duration         `yaml:"timeout_seconds"`
	ProviderPreference []string         `yaml:"provider_preference"`
	Providers          []ProviderConfig `yaml:"providers"`
}

// AuditConfig is spec.md §6's `audit` block.
type AuditConfig struct {
	MaxEntries int      `yaml:"max_entries"`
	TTLSeconds Duration `yaml:"ttl_seconds"`
}

// ProviderConfig is one entry of the YAML `inference.providers` list
// (spec.md §6). Only the fields relevant to Kind need be set.
type ProviderConfig struct {
	Name           string   `yaml:"name"`
	Kind           string   `yaml:"kind"` // mock | cli | host_sampling
	Command        string   `yaml:"command,omitempty"`
	Args           []string `yaml:"args,omitempty"`
	EnvPassthrough []string `yaml:"env_passthrough,omitempty"`
	APIKeyEnvVar   string   `yaml:"api_key_env_var,omitempty"`
	Model          string   `yaml:"model,omitempty"`
	TimeoutSeconds Duration `yaml:"timeout_seconds,omitempty"`
}

// Addr returns the HTTP transport's bind address as a "host:port"
// string, combining Transport.HTTP.Host and .Port.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Transport.HTTP.Host, c.Transport.HTTP.Port)
}

// DefaultConfig returns a Config with every built-in default applied —
// the lowest of the four precedence layers (spec.md §4.K).
func DefaultConfig() *Config {
	return &Config{
		RulesFile: "rules.yaml",
		LogLevel:  "INFO",
		LogFormat: "",
		Transport: TransportConfig{
			HTTP: HTTPTransportConfig{Enabled: true, Host: "", Port: 8443},
			WS:   WSTransportConfig{Enabled: true},
			SSE:  SSETransportConfig{Enabled: true},
		},
		Inference: InferenceConfig{
			TimeoutSeconds:     Duration(10 * time.Second),
			ProviderPreference: []string{"mock"},
		},
		Audit: AuditConfig{
			MaxEntries: 10000,
			TTLSeconds: Duration(24 * time.Hour),
		},
		HotReload:               true,
		BreakerFailureThreshold: 5,
		BreakerRecoveryTimeout:  Duration(30 * time.Second),
		ReloadDebounce:          Duration(250 * time.Millisecond),
		RateLimitPerMinute:      120,
	}
}

// Option applies a process-argument override, the highest-precedence
// layer (spec.md §4.K).
type Option func(*Config)

// WithRulesFile overrides RulesFile.
func WithRulesFile(path string) Option {
	return func(c *Config) { c.RulesFile = path }
}

// WithHTTPAddr overrides the HTTP transport's bind address, splitting
// a "host:port" string across Transport.HTTP.Host/.Port.
func WithHTTPAddr(addr string) Option {
	return func(c *Config) {
		host, port := splitAddr(addr)
		c.Transport.HTTP.Host = host
		if port != "" {
			if p, err := strconv.Atoi(port); err == nil {
				c.Transport.HTTP.Port = p
			}
		}
	}
}

// WithLogLevel overrides LogLevel.
func WithLogLevel(level string) Option {
	return func(c *Config) { c.LogLevel = level }
}

// Load builds a Config by applying all four precedence layers in
// order: defaults, then the YAML file at path (if non-empty and
// present), then environment variables, then opts.
func Load(path string, opts ...Option) (*Config, error) {
	c := DefaultConfig()

	if path != "" {
		if err := c.mergeFile(path); err != nil {
			return nil, err
		}
	}

	c.mergeEnv()

	for _, opt := range opts {
		opt(c)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// mergeFile overlays YAML file contents onto c. A missing file is not
// an error (the defaults-only path is valid); a malformed file is, and
// so is a file carrying a key that matches no field in Config —
// decoding with KnownFields(true) makes a spec-shaped file that
// doesn't match Config's schema fail loudly at load time instead of
// silently configuring nothing.
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return model.NewError("config.Load", model.KindConfigInvalid, "", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return model.NewError("config.Load", model.KindConfigInvalid, "", fmt.Errorf("parsing %s: %w", path, err))
	}
	return nil
}

// mergeEnv overlays explicit environment variables onto c, the third
// precedence layer. Grounded on the teacher's explicit-per-field
// os.Getenv style (core/config.go LoadFromEnv) rather than reflection.
func (c *Config) mergeEnv() {
	// SUPEREGO_RULES_FILE is Superego's own internal name for this
	// setting; SUPEREGO_RULES is the name spec.md §6 recognizes.
	// Whichever is set last here wins if both are present.
	if v := os.Getenv("SUPEREGO_RULES_FILE"); v != "" {
		c.RulesFile = v
	}
	if v := os.Getenv("SUPEREGO_RULES"); v != "" {
		c.RulesFile = v
	}
	if v := os.Getenv("SUPEREGO_HTTP_ADDR"); v != "" {
		host, port := splitAddr(v)
		c.Transport.HTTP.Host = host
		if port != "" {
			if p, err := strconv.Atoi(port); err == nil {
				c.Transport.HTTP.Port = p
			}
		}
	}
	// SUPEREGO_HTTP_PORT overrides just the port of the HTTP transport
	// address, per spec.md §6 ("overrides transport port").
	if v := os.Getenv("SUPEREGO_HTTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Transport.HTTP.Port = p
		}
	}
	if v := os.Getenv("SUPEREGO_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("SUPEREGO_LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	if v := os.Getenv("SUPEREGO_INFERENCE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Inference.TimeoutSeconds = Duration(d)
		}
	}
	if v := os.Getenv("SUPEREGO_BREAKER_FAILURE_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.BreakerFailureThreshold = n
		}
	}
	if v := os.Getenv("SUPEREGO_BREAKER_RECOVERY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.BreakerRecoveryTimeout = Duration(d)
		}
	}
	if v := os.Getenv("SUPEREGO_AUDIT_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Audit.MaxEntries = n
		}
	}
	if v := os.Getenv("SUPEREGO_AUDIT_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Audit.TTLSeconds = Duration(d)
		}
	}
	if v := os.Getenv("SUPEREGO_RELOAD_DEBOUNCE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.ReloadDebounce = Duration(d)
		}
	}
	if v := os.Getenv("SUPEREGO_HOT_RELOAD"); v != "" {
		c.HotReload = v == "true" || v == "1"
	}
	if v := os.Getenv("SUPEREGO_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RateLimitPerMinute = n
		}
	}
	if v := os.Getenv("SUPEREGO_RATE_LIMIT_REDIS_ADDR"); v != "" {
		c.RateLimitRedisAddr = v
	}
}

// splitAddr splits a "host:port" bind address (or bare ":port") into
// its host and port components.
func splitAddr(addr string) (host, port string) {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return addr, ""
	}
	return addr[:idx], addr[idx+1:]
}

// ResolveConfigPath returns the config file path to load: explicit if
// non-empty, otherwise the value of SUPEREGO_CONFIG (spec.md §6), or
// "" if neither is set (defaults-only startup is valid).
func ResolveConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	return os.Getenv("SUPEREGO_CONFIG")
}

// Validate checks the schema invariants spec.md §4.K requires at load
// time.
func (c *Config) Validate() error {
	if c.RulesFile == "" {
		return model.NewError("Config.Validate", model.KindConfigInvalid, "", fmt.Errorf("rules_file must be set"))
	}
	if c.BreakerFailureThreshold < 1 {
		return model.NewError("Config.Validate", model.KindConfigInvalid, "", fmt.Errorf("breaker_failure_threshold must be >= 1"))
	}
	if c.Audit.MaxEntries < 1 {
		return model.NewError("Config.Validate", model.KindConfigInvalid, "", fmt.Errorf("audit.max_entries must be >= 1"))
	}
	if c.ReloadDebounce.Duration() < 250*time.Millisecond {
		return model.NewError("Config.Validate", model.KindConfigInvalid, "", fmt.Errorf("reload_debounce must be >= 250ms"))
	}
	if c.Transport.HTTP.Port < 0 {
		return model.NewError("Config.Validate", model.KindConfigInvalid, "", fmt.Errorf("transport.http.port must be >= 0"))
	}
	return nil
}

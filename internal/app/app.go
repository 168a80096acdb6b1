// Package app wires every Superego component into one explicit
// application context, per SPEC_FULL.md's design note against global
// state: all services are owned by a single top-level structure and
// threaded through handlers rather than reached via package-level
// mutable state. cmd/superego-advisor and cmd/superego-server are thin
// wrappers over this package.
package app

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/superego-sh/superego/internal/audit"
	"github.com/superego-sh/superego/internal/breaker"
	"github.com/superego-sh/superego/internal/config"
	"github.com/superego-sh/superego/internal/health"
	"github.com/superego-sh/superego/internal/hook"
	"github.com/superego-sh/superego/internal/inference"
	"github.com/superego-sh/superego/internal/logging"
	"github.com/superego-sh/superego/internal/model"
	"github.com/superego-sh/superego/internal/pattern"
	"github.com/superego-sh/superego/internal/policy"
	"github.com/superego-sh/superego/internal/strategy"
	"github.com/superego-sh/superego/internal/transport"
)

// App holds every long-lived Superego service. Nothing here is a
// package-level variable; a caller constructs one App per process.
type App struct {
	Config   *config.Config
	Logger   logging.Logger
	Patterns *pattern.Engine
	Strategy *strategy.Manager
	Breaker  *breaker.Breaker
	Policy   *policy.Engine
	Audit    *audit.Logger
	Health   *health.Monitor
	Hook     *hook.Handler
	Watcher  *config.Watcher
	Service  *transport.Service

	providers        []namedProvider
	cancelBackground context.CancelFunc

	configChangeMu   sync.Mutex
	configChangeSubs []func(version int64)
}

// namedProvider pairs a registered inference provider with the name it
// was registered under, so providerHealthCheckers can wire each
// provider's own HealthCheck into the Health Monitor without the
// Strategy Manager needing to expose its internal provider table.
type namedProvider struct {
	name     string
	provider inference.Provider
}

// New loads configuration, constructs every component, registers the
// configured inference providers, starts the rules-file watcher (if
// enabled), and assembles the shared transport.Service. The returned
// App is ready for any transport to serve against.
func New(ctx context.Context, configPath string) (*App, error) {
	cfg, err := config.Load(config.ResolveConfigPath(configPath))
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := logging.New("superego", cfg.LogLevel, cfg.LogFormat, os.Stderr)

	a := &App{Config: cfg, Logger: logger}

	a.Patterns = pattern.NewEngine(
		pattern.WithDegradedHook(func(reason string) {
			logger.Warn("pattern engine degraded", map[string]interface{}{"reason": reason})
		}),
	)

	a.Strategy = strategy.NewManager(componentLogger(logger, "strategy"))
	if err := a.registerProviders(ctx); err != nil {
		return nil, fmt.Errorf("registering inference providers: %w", err)
	}
	a.Strategy.SetPreferenceOrder(cfg.Inference.ProviderPreference)
	a.Strategy.RefreshHealth(ctx)

	a.Breaker = breaker.New(breaker.Config{
		Name:             "inference",
		FailureThreshold: cfg.BreakerFailureThreshold,
		RecoveryTimeout:  cfg.BreakerRecoveryTimeout.Duration(),
		TimeoutSeconds:   cfg.Inference.TimeoutSeconds.Duration(),
		Logger:           componentLogger(logger, "breaker"),
	})

	a.Policy = policy.New(policy.Config{
		Patterns:         a.Patterns,
		Strategy:         a.Strategy,
		InferenceBreaker: a.Breaker,
		Logger:           componentLogger(logger, "policy"),
		PerCallTimeout:   cfg.Inference.TimeoutSeconds.Duration(),
	})

	a.Audit = audit.New(audit.WithCapacity(cfg.Audit.MaxEntries), audit.WithTTL(cfg.Audit.TTLSeconds.Duration()))
	a.Health = health.NewMonitor()

	if cfg.RulesFile != "" {
		a.Watcher = config.NewWatcher(cfg.RulesFile, cfg.ReloadDebounce.Duration(), a.Policy, componentLogger(logger, "config_watcher"), config.WithOnReload(a.notifyConfigChange))
		// The initial load always runs, independent of HotReload: that
		// flag is documented (spec.md §6) purely as a reload/watch
		// toggle, not a "skip loading the rules file" switch — the
		// Policy Engine must see the configured rules on startup either
		// way.
		if err := a.Watcher.Load(); err != nil {
			logger.Warn("initial rules load failed, starting with an empty ruleset", map[string]interface{}{"path": cfg.RulesFile, "error": err.Error()})
		}
		if cfg.HotReload {
			if err := a.Watcher.Watch(); err != nil {
				return nil, fmt.Errorf("starting rules watcher: %w", err)
			}
		}
		a.Health.Register("config_watcher", health.CheckerFunc(func(ctx context.Context) model.ComponentHealth {
			if err := a.Watcher.LastError(); err != nil {
				return model.ComponentHealth{State: model.StateDegraded, Message: err.Error(), LastCheck: time.Now().UTC()}
			}
			return model.ComponentHealth{State: model.StateHealthy, LastCheck: time.Now().UTC()}
		}))
	}

	a.Health.Register("policy_engine", health.CheckerFunc(func(ctx context.Context) model.ComponentHealth {
		return model.ComponentHealth{State: model.StateHealthy, LastCheck: time.Now().UTC()}
	}))
	a.Health.Register("breaker:inference", health.CheckerFunc(func(ctx context.Context) model.ComponentHealth {
		if a.Breaker.State() == breaker.StateOpen {
			return model.ComponentHealth{State: model.StateDegraded, Message: "inference circuit open", LastCheck: time.Now().UTC()}
		}
		return model.ComponentHealth{State: model.StateHealthy, LastCheck: time.Now().UTC()}
	}))
	for name, checker := range a.providerHealthCheckers() {
		a.Health.Register("provider:"+name, checker)
	}

	a.Hook = hook.NewHandler(a.Policy)

	a.Service = &transport.Service{
		Engine: a.Policy,
		Audit:  a.Audit,
		Health: a.Health,
		Rules:  a.Policy,
		Hook:   a.Hook,
	}

	bgCtx, cancel := context.WithCancel(ctx)
	a.cancelBackground = cancel
	go a.purgeLoop(bgCtx)
	go a.healthRefreshLoop(bgCtx)

	return a, nil
}

func (a *App) providerHealthCheckers() map[string]health.Checker {
	out := make(map[string]health.Checker, len(a.providers))
	for _, np := range a.providers {
		p := np.provider
		out[np.name] = health.CheckerFunc(func(ctx context.Context) model.ComponentHealth {
			return p.HealthCheck(ctx)
		})
	}
	return out
}

// registerProviders builds and registers every provider in
// cfg.Inference.Providers, falling back to a single mock provider when
// none are configured — the zero-dependency default spec.md §4.E.1
// describes.
func (a *App) registerProviders(ctx context.Context) error {
	if len(a.Config.Inference.Providers) == 0 {
		p := inference.NewMockProvider()
		a.providers = append(a.providers, namedProvider{name: "mock", provider: p})
		return a.Strategy.Register(ctx, "mock", p)
	}

	for _, pc := range a.Config.Inference.Providers {
		name := pc.Name
		if name == "" {
			name = pc.Kind
		}
		var provider inference.Provider
		switch pc.Kind {
		case inference.KindMock, "":
			provider = inference.NewMockProvider()
		case inference.KindCLI:
			provider = inference.NewCLIProvider(inference.CLIConfig{
				Name:           name,
				Command:        pc.Command,
				Args:           pc.Args,
				EnvPassthrough: pc.EnvPassthrough,
				APIKeyEnvVar:   pc.APIKeyEnvVar,
				Model:          pc.Model,
				Timeout:        pc.TimeoutSeconds.Duration(),
				Logger:         componentLogger(a.Logger, "inference."+name),
			})
		case inference.KindHostSampling:
			// Host-sampling has no standalone subprocess or HTTP client to
			// construct here. No transport in this repository implements
			// inference.Sampler or binds one to this provider, so it is
			// registered with a nil Sampler: it shows up in health/describe
			// output as unhealthy and fails closed on every Evaluate.
			provider = inference.NewHostSamplingProvider(name, nil, pc.TimeoutSeconds.Duration())
		default:
			return fmt.Errorf("unknown provider kind %q for provider %q", pc.Kind, name)
		}
		a.providers = append(a.providers, namedProvider{name: name, provider: provider})
		if err := a.Strategy.Register(ctx, name, provider); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) purgeLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := a.Audit.PurgeExpired(ctx); removed > 0 {
				a.Logger.Debug("purged expired audit entries", map[string]interface{}{"removed": removed})
			}
		}
	}
}

// healthRefreshLoop keeps the Strategy Manager's per-provider health
// cache current, so Evaluate's candidate-skip logic (spec.md §4.F)
// doesn't need a live HealthCheck call on every request.
func (a *App) healthRefreshLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Strategy.RefreshHealth(ctx)
		}
	}
}

// OnConfigChange registers fn to be called whenever the rules file is
// successfully (re)loaded, with the new ruleset version. Transports
// that stream config-change events (the SSE transport's "config"
// event, spec.md §6) subscribe here once they've been constructed,
// since they're built after App.New returns.
func (a *App) OnConfigChange(fn func(version int64)) {
	a.configChangeMu.Lock()
	defer a.configChangeMu.Unlock()
	a.configChangeSubs = append(a.configChangeSubs, fn)
}

// notifyConfigChange is passed to config.NewWatcher as the onReload
// callback; it fans a successful reload out to every OnConfigChange
// subscriber.
func (a *App) notifyConfigChange(version int64) {
	a.configChangeMu.Lock()
	subs := append([]func(int64){}, a.configChangeSubs...)
	a.configChangeMu.Unlock()
	for _, fn := range subs {
		fn(version)
	}
}

func componentLogger(l logging.Logger, component string) logging.Logger {
	if cl, ok := l.(logging.ComponentLogger); ok {
		return cl.WithComponent(component)
	}
	return l
}

// Shutdown stops the rules watcher, the background refresh/purge
// loops, and every inference provider's Cleanup, per spec.md §5's
// shutdown sequence. Transports are stopped by their own callers
// before Shutdown runs.
func (a *App) Shutdown(ctx context.Context) {
	if a.cancelBackground != nil {
		a.cancelBackground()
	}
	if a.Watcher != nil {
		a.Watcher.Stop()
	}
	a.Strategy.Cleanup(ctx)
}

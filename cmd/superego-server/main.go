// Command superego-server is the long-running multi-transport server
// described in spec.md §4.L and §6: HTTP REST, WebSocket, and SSE all
// fronting the same transport.Service. Modeled on the teacher's plain
// signal.Notify shutdown idiom (examples/basic-agent/main.go) rather
// than a CLI framework.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/superego-sh/superego/internal/app"
	"github.com/superego-sh/superego/internal/transport"
	httptransport "github.com/superego-sh/superego/internal/transport/http"
	"github.com/superego-sh/superego/internal/transport/ratelimit"
	"github.com/superego-sh/superego/internal/transport/sse"
	"github.com/superego-sh/superego/internal/transport/stdio"
	"github.com/superego-sh/superego/internal/transport/ws"
)

// shutdownGrace bounds how long in-flight evaluations get to finish
// once a termination signal arrives (spec.md §5).
const shutdownGrace = 5 * time.Second

func main() {
	configPath := flag.String("config", "", "path to config file (overrides SUPEREGO_CONFIG)")
	enableStdio := flag.Bool("stdio", false, "also serve the JSON-RPC stdio transport on stdin/stdout")
	flag.Parse()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	a, err := app.New(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "superego-server: %v\n", err)
		os.Exit(2)
	}

	wsTransport := ws.NewTransport(a.Service, a.Logger, nil)
	sseTransport := sse.NewTransport(a.Service, a.Logger)
	a.Service.Pub = &fanOutSubscriber{sse: sseTransport, ws: wsTransport}
	a.OnConfigChange(sseTransport.PublishConfigChange)

	limiter := buildLimiter(a.Config.RateLimitPerMinute, a.Config.RateLimitRedisAddr)

	mux := http.NewServeMux()
	mux.Handle("/", httptransport.NewHandler(a.Service, a.Logger, limiter).Routes())
	mux.Handle("/v1/ws", wsTransport)
	mux.Handle("/v1/events", sseTransport)

	srv := &http.Server{Addr: a.Config.Addr(), Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("starting server", map[string]interface{}{"addr": a.Config.Addr()})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	if *enableStdio {
		stdioSrv := stdio.NewServer(a.Service, a.Logger)
		go func() {
			if err := stdioSrv.Serve(ctx, os.Stdin, os.Stdout); err != nil {
				a.Logger.Warn("stdio transport stopped", map[string]interface{}{"error": err.Error()})
			}
		}()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "superego-server: %v\n", err)
		os.Exit(2)
	case <-sigCh:
		a.Logger.Info("received shutdown signal", nil)
	}

	// A second signal within shutdownGrace forces an immediate exit
	// rather than waiting out the grace window.
	go func() {
		<-sigCh
		a.Logger.Warn("received second shutdown signal, forcing exit", nil)
		os.Exit(1)
	}()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.Logger.Warn("server shutdown did not complete cleanly", map[string]interface{}{"error": err.Error()})
	}

	stop()
	a.Shutdown(shutdownCtx)
}

// buildLimiter constructs the HTTP transport's rate limiter: Redis
// backed when redisAddr is configured (for multi-replica deployments),
// in-memory otherwise.
func buildLimiter(perMinute int, redisAddr string) ratelimit.Limiter {
	cfg := ratelimit.Config{RequestsPerMinute: perMinute}
	if redisAddr != "" {
		return ratelimit.NewRedis(cfg, ratelimit.NewGoRedisAdapter(redisAddr, 0))
	}
	return ratelimit.NewInMemory(cfg)
}

// fanOutSubscriber lets both the WebSocket and SSE transports receive
// every published EvaluateEvent, since transport.Service.Pub is a
// single field.
type fanOutSubscriber struct {
	sse *sse.Transport
	ws  *ws.Transport
}

func (f *fanOutSubscriber) Publish(event transport.EvaluateEvent) {
	f.sse.Publish(event)
	f.ws.Publish(event)
}

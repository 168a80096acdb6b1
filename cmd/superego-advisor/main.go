// Command superego-advisor is the one-shot stdin→stdout advisor mode
// described in spec.md §6: it reads a single JSON object matching the
// hook input shape from stdin, evaluates it against the current
// ruleset, and writes exactly one JSON object matching the hook output
// shape to stdout. Modeled on the teacher's plain-main style (see
// core/cmd/example/main.go) rather than a CLI framework.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/superego-sh/superego/internal/app"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code: 0 whenever a JSON decision was
// emitted (including denies — spec.md §6's advisor contract never
// silently allows on error), 2 only for a fatal internal error that
// prevented any output at all.
func run() int {
	configPath := flag.String("config", "", "path to config file (overrides SUPEREGO_CONFIG)")
	flag.Parse()

	ctx := context.Background()

	a, err := app.New(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "superego-advisor: %v\n", err)
		return 2
	}
	defer a.Shutdown(ctx)

	raw, err := io.ReadAll(os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "superego-advisor: reading stdin: %v\n", err)
		return 2
	}

	out, _ := a.Service.EvaluateHook(ctx, raw)
	if _, err := os.Stdout.Write(out); err != nil {
		fmt.Fprintf(os.Stderr, "superego-advisor: writing stdout: %v\n", err)
		return 2
	}
	fmt.Fprintln(os.Stdout)

	return 0
}

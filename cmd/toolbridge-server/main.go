// Command toolbridge-server serves the illustrative tools over stdio.
//
// It speaks newline-delimited JSON-RPC on stdin and stdout, so logs go to
// stderr.
//
// Usage:
//
//	toolbridge-server [flags]
//
// Flags:
//
//	-request-timeout duration: Per-call timeout (default 30s)
//	-page-size int: Tools per tools/list page, 0 for all (default 0)
//	-debug: Log at debug level
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wagiedev/toolbridge-go"
	"github.com/wagiedev/toolbridge-go/internal/demo"
)

func main() {
	requestTimeout := flag.Duration("request-timeout", 30*time.Second, "per-call timeout")
	pageSize := flag.Int("page-size", 0, "tools per tools/list page, 0 for all")
	debug := flag.Bool("debug", false, "log at debug level")

	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(log, *requestTimeout, *pageSize); err != nil {
		log.Error("Server error", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger, requestTimeout time.Duration, pageSize int) error {
	reg, err := demo.NewRegistry()
	if err != nil {
		return fmt.Errorf("build registry: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("Serving tools on stdio", "server", reg.Name(), "tools", reg.Len())

	return toolbridge.Serve(ctx, reg,
		toolbridge.WithServerLogger(log),
		toolbridge.WithRequestTimeout(requestTimeout),
		toolbridge.WithPageSize(pageSize),
	)
}

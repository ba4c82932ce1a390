// Command toolbridge connects to a tool server, lists its tools and calls
// them, or exposes them over HTTP.
//
// Usage:
//
//	toolbridge [flags] [-- command args...]
//
// The server is launched from -config (YAML, see below) or from the command
// after "--". Examples:
//
//	toolbridge -- python mcp_server.py
//	toolbridge -call get_weather -args '{"location":"Paris"}' -- toolbridge-server
//	toolbridge -demo -- toolbridge-server
//	toolbridge -config toolbridge.yaml -http :8080 -token secret
//
// Config file:
//
//	command: python
//	args: [mcp_server.py]
//	env_file: .env
//	call_timeout: 10s
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wagiedev/toolbridge-go"
	"github.com/wagiedev/toolbridge-go/internal/binding/httpapi"
	"github.com/wagiedev/toolbridge-go/internal/demo"
)

type cliConfig struct {
	configPath string
	call       string
	args       string
	demo       bool
	httpAddr   string
	token      string
	timeout    time.Duration
	debug      bool
	command    []string
}

func main() {
	var cfg cliConfig

	flag.StringVar(&cfg.configPath, "config", "", "YAML launch configuration")
	flag.StringVar(&cfg.call, "call", "", "tool to call")
	flag.StringVar(&cfg.args, "args", "{}", "JSON object of arguments for -call")
	flag.BoolVar(&cfg.demo, "demo", false, "call the demo tools concurrently")
	flag.StringVar(&cfg.httpAddr, "http", "", "serve the tools over HTTP on this address")
	flag.StringVar(&cfg.token, "token", os.Getenv("TOOLBRIDGE_TOKEN"), "bearer token for -http")
	flag.DurationVar(&cfg.timeout, "timeout", 0, "per-call timeout (default 30s)")
	flag.BoolVar(&cfg.debug, "debug", false, "log at debug level")

	flag.Parse()

	cfg.command = flag.Args()

	level := slog.LevelWarn
	if cfg.debug {
		level = slog.LevelDebug
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(log, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger, cfg cliConfig) error {
	opts, err := launchOptions(log, cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, err := toolbridge.Connect(ctx, opts...)
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			log.Warn("Failed to close session", "error", closeErr)
		}
	}()

	caps, err := session.Capabilities(ctx)
	if err != nil {
		return err
	}

	switch {
	case cfg.httpAddr != "":
		return serveHTTP(ctx, log, caps, cfg)
	case cfg.call != "":
		return callOne(ctx, caps, cfg)
	case cfg.demo:
		return runDemo(ctx, caps)
	default:
		listTools(session, caps)

		return nil
	}
}

func launchOptions(log *slog.Logger, cfg cliConfig) ([]toolbridge.Option, error) {
	opts := make([]toolbridge.Option, 0, 4)

	switch {
	case cfg.configPath != "":
		fileOpt, err := toolbridge.LoadConfig(cfg.configPath)
		if err != nil {
			return nil, err
		}

		opts = append(opts, fileOpt)
	case len(cfg.command) > 0:
		opts = append(opts, toolbridge.WithCommand(cfg.command[0], cfg.command[1:]...))
	default:
		return nil, errors.New("no tool server: pass -config or a command after --")
	}

	opts = append(opts,
		toolbridge.WithLogger(log),
		toolbridge.WithClientInfo("toolbridge", "0.1.0"),
		toolbridge.WithStderr(func(line string) { log.Debug("Tool server stderr", "line", line) }),
	)

	if cfg.timeout > 0 {
		opts = append(opts, toolbridge.WithCallTimeout(cfg.timeout))
	}

	return opts, nil
}

func listTools(session *toolbridge.Session, caps []*toolbridge.Capability) {
	if info := session.ServerInfo(); info != nil && info.ServerInfo != nil {
		fmt.Printf("Server: %s %s (protocol %s)\n", info.ServerInfo.Name, info.ServerInfo.Version, info.ProtocolVersion)
	}

	fmt.Printf("Tools (%d):\n", len(caps))

	for _, c := range caps {
		fmt.Printf("  %s - %s\n", c.Name(), c.Description())

		if required := c.Required(); len(required) > 0 {
			fmt.Printf("    required: %v\n", required)
		}
	}
}

func callOne(ctx context.Context, caps []*toolbridge.Capability, cfg cliConfig) error {
	var args map[string]any
	if err := json.Unmarshal([]byte(cfg.args), &args); err != nil {
		return fmt.Errorf("parse -args: %w", err)
	}

	text, err := toolbridge.NewCapabilitySet(caps).Invoke(ctx, cfg.call, args)
	if err != nil {
		return err
	}

	fmt.Println(text)

	return nil
}

// runDemo calls both demo tools several times at once and prints the
// results in request order.
func runDemo(ctx context.Context, caps []*toolbridge.Capability) error {
	calls := []toolbridge.Invocation{
		{Name: demo.SearchDocuments, Args: map[string]any{"query": "golang"}},
		{Name: demo.SearchDocuments, Args: map[string]any{"query": "json-rpc", "limit": 3}},
		{Name: demo.GetWeather, Args: map[string]any{"location": "San Francisco"}},
		{Name: demo.GetWeather, Args: map[string]any{"location": "Tokyo"}},
	}

	start := time.Now()
	outcomes := toolbridge.NewCapabilitySet(caps).InvokeAll(ctx, calls)

	var failed int

	for _, o := range outcomes {
		if o.Err != nil {
			failed++

			fmt.Printf("%-18s error: %v\n", o.Name, o.Err)

			continue
		}

		fmt.Printf("%-18s %s\n", o.Name, o.Text)
	}

	fmt.Printf("\n%d calls in %s\n", len(outcomes), time.Since(start).Round(time.Millisecond))

	if failed > 0 {
		return fmt.Errorf("%d of %d calls failed", failed, len(outcomes))
	}

	return nil
}

func serveHTTP(ctx context.Context, log *slog.Logger, caps []*toolbridge.Capability, cfg cliConfig) error {
	api := httpapi.New(log, caps, httpapi.Config{Token: cfg.token})

	srv := &http.Server{
		Addr:              cfg.httpAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.token == "" {
		log.Warn("No token set; /tools endpoints are open")
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		fmt.Printf("Serving %d tools on http://%s/tools\n", len(caps), cfg.httpAddr)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

package toolbridge

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/wagiedev/toolbridge-go/internal/server"
)

// Server answers the tool protocol for one registry.
type Server = server.Server

// ServerOption configures a Server.
type ServerOption func(*serverOptions)

type serverOptions struct {
	log  *slog.Logger
	opts server.Options
}

// WithServerLogger sets the server's logger. A server writing protocol
// messages to stdout must log elsewhere, typically stderr.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(o *serverOptions) {
		o.log = logger
	}
}

// WithRequestTimeout bounds each tools/call handled by the server.
func WithRequestTimeout(timeout time.Duration) ServerOption {
	return func(o *serverOptions) {
		o.opts.RequestTimeout = timeout
	}
}

// WithPageSize splits tools/list responses into pages of n tools.
func WithPageSize(n int) ServerOption {
	return func(o *serverOptions) {
		o.opts.PageSize = n
	}
}

// WithInstructions sets the instructions returned in the handshake.
func WithInstructions(instructions string) ServerOption {
	return func(o *serverOptions) {
		o.opts.Instructions = instructions
	}
}

// NewServer creates a server for reg.
func NewServer(reg *Registry, opts ...ServerOption) *Server {
	o := &serverOptions{}
	for _, opt := range opts {
		opt(o)
	}

	log := o.log
	if log == nil {
		log = NopLogger()
	}

	return server.New(log, reg, &o.opts)
}

// Serve answers the protocol on stdin and stdout until stdin ends or ctx is
// cancelled.
func Serve(ctx context.Context, reg *Registry, opts ...ServerOption) error {
	return ServeStreams(ctx, reg, os.Stdin, os.Stdout, opts...)
}

// ServeStreams is Serve over arbitrary streams.
func ServeStreams(ctx context.Context, reg *Registry, r io.Reader, w io.Writer, opts ...ServerOption) error {
	return NewServer(reg, opts...).Serve(ctx, r, w)
}

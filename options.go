package toolbridge

import (
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wagiedev/toolbridge-go/internal/config"
)

// Options configures a tool server session. Most callers use the With*
// functions instead of filling it directly.
type Options = config.Options

// Option configures Options using the functional options pattern.
type Option func(*Options)

// applyOptions applies functional options to a fresh Options struct.
func applyOptions(opts []Option) *Options {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}

	return options
}

// ===== Basic Configuration =====

// WithLogger sets the logger for debug output.
// If not set, logging is disabled (silent operation).
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithOptions copies every field of base into the options. Options listed
// after it override individual fields; base itself is never modified.
func WithOptions(base *Options) Option {
	return func(o *Options) {
		if base != nil {
			*o = *base
			o.Args = slices.Clone(base.Args)
			o.Env = maps.Clone(base.Env)
		}
	}
}

// ===== Launch =====

// WithCommand sets the tool server executable and its arguments.
// A bare name is looked up in PATH.
func WithCommand(command string, args ...string) Option {
	return func(o *Options) {
		o.Command = command
		o.Args = slices.Clone(args)
	}
}

// WithEnv adds environment variables for the tool server process.
// Later calls merge into earlier ones.
func WithEnv(env map[string]string) Option {
	return func(o *Options) {
		if o.Env == nil {
			o.Env = make(map[string]string, len(env))
		}

		maps.Copy(o.Env, env)
	}
}

// WithCwd sets the working directory for the tool server process.
func WithCwd(cwd string) Option {
	return func(o *Options) {
		o.Cwd = cwd
	}
}

// WithStderr sets a callback invoked with each stderr line of the process.
func WithStderr(handler func(string)) Option {
	return func(o *Options) {
		o.Stderr = handler
	}
}

// WithMaxBufferSize sets the maximum bytes of a single message line.
func WithMaxBufferSize(size int) Option {
	return func(o *Options) {
		o.MaxBufferSize = &size
	}
}

// WithTransport injects a custom transport implementation.
// The command options are ignored when a transport is set.
func WithTransport(transport Transport) Option {
	return func(o *Options) {
		o.Transport = transport
	}
}

// ===== Protocol =====

// WithInitializeTimeout bounds the initialize handshake.
func WithInitializeTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		o.InitializeTimeout = &timeout
	}
}

// WithCallTimeout bounds each request after the handshake.
func WithCallTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		o.CallTimeout = timeout
	}
}

// WithCloseGracePeriod sets how long Close waits for the process to exit
// before killing it.
func WithCloseGracePeriod(grace time.Duration) Option {
	return func(o *Options) {
		o.CloseGracePeriod = grace
	}
}

// WithToolCache keeps the first tool list until the server reports a change.
func WithToolCache(enabled bool) Option {
	return func(o *Options) {
		o.CacheTools = enabled
	}
}

// WithOnToolsChanged sets a callback for notifications/tools/list_changed.
func WithOnToolsChanged(callback func()) Option {
	return func(o *Options) {
		o.OnToolsChanged = callback
	}
}

// WithClientInfo sets the implementation name and version sent in the
// handshake.
func WithClientInfo(name, version string) Option {
	return func(o *Options) {
		o.ClientInfo = &mcp.Implementation{Name: name, Version: version}
	}
}

// WithProtocolVersion sets the protocol revision requested in the handshake.
func WithProtocolVersion(version string) Option {
	return func(o *Options) {
		o.ProtocolVersion = version
	}
}

// LoadConfig reads a YAML launch configuration and returns it as an Option.
func LoadConfig(path string) (Option, error) {
	f, err := config.LoadFile(path)
	if err != nil {
		return nil, err
	}

	base, err := f.Options()
	if err != nil {
		return nil, err
	}

	return WithOptions(base), nil
}

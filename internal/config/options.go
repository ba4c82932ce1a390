package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	// DefaultInitializeTimeout bounds the handshake when nothing else is configured.
	DefaultInitializeTimeout = 60 * time.Second

	// DefaultCallTimeout bounds a single tools/call or tools/list request.
	DefaultCallTimeout = 30 * time.Second

	// DefaultCloseGracePeriod is how long Close waits for the child to exit
	// after SIGTERM before killing it.
	DefaultCloseGracePeriod = 2 * time.Second

	// InitializeTimeoutEnv overrides the handshake timeout, in seconds.
	InitializeTimeoutEnv = "TOOLBRIDGE_INITIALIZE_TIMEOUT"
)

// Options configures a tool server session.
type Options struct {
	// Logger is the slog logger for debug output.
	// If nil, logging is disabled (silent operation).
	Logger *slog.Logger

	// Command is the tool server executable. A bare name is looked up in PATH.
	Command string

	// Args are passed to Command verbatim.
	Args []string

	// Env provides additional environment variables for the child process.
	// They override inherited variables of the same name.
	Env map[string]string

	// Cwd sets the working directory for the child process.
	Cwd string

	// Stderr is a callback invoked with each line the child writes to stderr.
	Stderr func(string)

	// MaxBufferSize sets the maximum bytes of a single stdout line.
	// If nil, uses the transport default.
	MaxBufferSize *int

	// InitializeTimeout bounds the initialize handshake.
	// If nil, falls back to TOOLBRIDGE_INITIALIZE_TIMEOUT, then 60 seconds.
	InitializeTimeout *time.Duration

	// CallTimeout bounds each request after the handshake. Zero means 30 seconds.
	CallTimeout time.Duration

	// CloseGracePeriod is the wait between SIGTERM and kill on Close.
	// Zero means 2 seconds.
	CloseGracePeriod time.Duration

	// CacheTools keeps the first tools/list result until the server sends
	// notifications/tools/list_changed.
	CacheTools bool

	// OnToolsChanged is called when the server reports a changed tool list.
	// It runs on its own goroutine and may close the session.
	OnToolsChanged func()

	// ClientInfo identifies this client in the handshake.
	// If nil, a default implementation name is sent.
	ClientInfo *mcp.Implementation

	// ProtocolVersion is the version requested in the handshake.
	// If empty, the latest supported version is requested.
	ProtocolVersion string

	// Transport allows injecting a custom transport implementation.
	// If nil, a subprocess transport is created from Command.
	Transport Transport `json:"-" yaml:"-"`
}

// GetInitializeTimeout resolves the handshake timeout from the option, the
// environment and the default, in that order.
func (o *Options) GetInitializeTimeout() time.Duration {
	if o != nil && o.InitializeTimeout != nil {
		return *o.InitializeTimeout
	}

	if raw := os.Getenv(InitializeTimeoutEnv); raw != "" {
		if secs, err := strconv.ParseFloat(raw, 64); err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}

	return DefaultInitializeTimeout
}

// GetCallTimeout returns CallTimeout or its default.
func (o *Options) GetCallTimeout() time.Duration {
	if o == nil || o.CallTimeout <= 0 {
		return DefaultCallTimeout
	}

	return o.CallTimeout
}

// GetCloseGracePeriod returns CloseGracePeriod or its default.
func (o *Options) GetCloseGracePeriod() time.Duration {
	if o == nil || o.CloseGracePeriod <= 0 {
		return DefaultCloseGracePeriod
	}

	return o.CloseGracePeriod
}

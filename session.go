package toolbridge

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wagiedev/toolbridge-go/internal/adapter"
	"github.com/wagiedev/toolbridge-go/internal/client"
	"github.com/wagiedev/toolbridge-go/internal/protocol"
)

// Result is a successful tool invocation.
type Result = protocol.Result

// Tool describes one tool as advertised by a server.
type Tool = mcp.Tool

// InitializeResult is the server's answer to the handshake.
type InitializeResult = mcp.InitializeResult

// State is the lifecycle state of a session.
type State = protocol.State

// Session states.
const (
	StateUninitialized = protocol.StateUninitialized
	StateHandshaking   = protocol.StateHandshaking
	StateReady         = protocol.StateReady
	StateClosed        = protocol.StateClosed
	StateFailed        = protocol.StateFailed
)

// Session is a ready connection to one tool server. It is safe for
// concurrent use; calls are correlated by request id.
type Session struct {
	client  *client.Client
	session *protocol.Session
}

// Connect launches the configured tool server, performs the handshake and
// returns a ready session. ctx bounds the launch and handshake only.
//
// Returns *LaunchError if the command cannot be started and
// *IncompatibleVersionError if the server negotiates an unsupported
// protocol version.
func Connect(ctx context.Context, opts ...Option) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	options := applyOptions(opts)

	c := client.New()
	if err := c.Start(ctx, options); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	return &Session{client: c, session: c.Session()}, nil
}

// ListTools returns the server's tools in server order.
func (s *Session) ListTools(ctx context.Context) ([]*Tool, error) {
	return s.session.ListTools(ctx)
}

// CallTool invokes a tool by name. A nil args map is sent as an empty
// object. Failures are *ToolError values.
func (s *Session) CallTool(ctx context.Context, name string, args map[string]any) (*Result, error) {
	return s.session.CallTool(ctx, name, args)
}

// Ping checks that the server is responsive.
func (s *Session) Ping(ctx context.Context) error {
	return s.session.Ping(ctx)
}

// Capabilities discovers the server's tools and wraps each as a Capability.
func (s *Session) Capabilities(ctx context.Context, opts ...CapabilityOption) ([]*Capability, error) {
	return adapter.FromSession(ctx, s.session, opts...)
}

// ServerInfo returns the handshake result.
func (s *Session) ServerInfo() *InitializeResult {
	return s.session.ServerInfo()
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return s.session.State()
}

// Err returns the error that failed the session, if any.
func (s *Session) Err() error {
	return s.session.Err()
}

// Close ends the session and terminates the tool server. Pending calls fail
// with ErrSessionClosed. It is safe to call multiple times.
func (s *Session) Close() error {
	return s.client.Close()
}

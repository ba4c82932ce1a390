package protocol

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/wagiedev/toolbridge-go/internal/config"
	"github.com/wagiedev/toolbridge-go/internal/errors"
	"github.com/wagiedev/toolbridge-go/internal/jsonrpc"
)

// DefaultClientName is sent in the handshake when no ClientInfo is configured.
const DefaultClientName = "toolbridge-go"

// State is the lifecycle state of a Session.
type State int32

const (
	StateUninitialized State = iota
	StateHandshaking
	StateReady
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Session is one logical connection to a tool server.
//
// It owns the controller and, through options.Transport, the transport:
// closing the session closes both. Operations other than Initialize require
// the ready state and fail immediately otherwise.
type Session struct {
	log        *slog.Logger
	controller *Controller
	options    *config.Options

	// initMu serializes Initialize so concurrent first calls share one handshake.
	initMu sync.Mutex

	mu         sync.RWMutex
	state      State
	failErr    error
	initResult *mcp.InitializeResult

	toolsMu sync.Mutex
	tools   []*mcp.Tool

	closeOnce sync.Once
	closeErr  error
}

// NewSession creates a session over a controller that has been or will be
// started. Handlers for server-initiated messages are registered here.
func NewSession(
	log *slog.Logger,
	controller *Controller,
	options *config.Options,
) *Session {
	if options == nil {
		options = &config.Options{}
	}

	s := &Session{
		log:        log.With("component", "session"),
		controller: controller,
		options:    options,
	}

	s.RegisterHandlers()

	go s.watch()

	return s
}

// RegisterHandlers registers handlers for ping and tool list changes.
func (s *Session) RegisterHandlers() {
	s.controller.RegisterHandler(jsonrpc.MethodPing, s.handlePing)
	s.controller.RegisterHandler(jsonrpc.MethodToolsListChanged, s.handleToolsListChanged)
}

func (s *Session) handlePing(context.Context, *jsonrpc.Message) (any, error) {
	return struct{}{}, nil
}

func (s *Session) handleToolsListChanged(context.Context, *jsonrpc.Message) (any, error) {
	s.log.Debug("Tool list changed on server")

	s.toolsMu.Lock()
	s.tools = nil
	s.toolsMu.Unlock()

	// Not tracked by the controller; the callback may close the session.
	if s.options.OnToolsChanged != nil {
		go s.options.OnToolsChanged()
	}

	return nil, nil
}

// watch moves the session to failed when the controller reports a fatal error.
func (s *Session) watch() {
	<-s.controller.Done()

	if err := s.controller.FatalError(); err != nil {
		s.fail(err)
	}
}

// fail records a fatal error, moves to failed and releases the transport.
func (s *Session) fail(err error) {
	s.mu.Lock()

	if s.state == StateClosed || s.state == StateFailed {
		s.mu.Unlock()

		return
	}

	s.state = StateFailed
	s.failErr = err
	s.mu.Unlock()

	s.log.Error("Session failed", "error", err)

	s.controller.SetFatalError(err)

	if t := s.options.Transport; t != nil {
		if closeErr := t.Close(); closeErr != nil {
			s.log.Debug("Transport close after failure", "error", closeErr)
		}
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state
}

// Err returns the error that failed the session, if any.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.failErr
}

// ServerInfo returns the server's handshake result, or nil before ready.
func (s *Session) ServerInfo() *mcp.InitializeResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.initResult
}

// checkReady returns nil in the ready state and the matching error otherwise.
func (s *Session) checkReady() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.stateErrLocked()
}

func (s *Session) stateErrLocked() error {
	switch s.state {
	case StateReady:
		return nil
	case StateClosed:
		return errors.ErrSessionClosed
	case StateFailed:
		return fmt.Errorf("%w: %w", errors.ErrSessionFailed, s.failErr)
	default:
		return errors.ErrNotInitialized
	}
}

// Initialize performs the handshake. It sends one initialize request, checks
// the negotiated protocol version and confirms with
// notifications/initialized.
//
// Calls after success return the cached result without wire traffic;
// concurrent first calls share one round trip. Any failure leaves the
// session failed.
func (s *Session) Initialize(ctx context.Context) (*mcp.InitializeResult, error) {
	s.initMu.Lock()
	defer s.initMu.Unlock()

	s.mu.Lock()

	switch s.state {
	case StateReady:
		result := s.initResult
		s.mu.Unlock()

		return result, nil
	case StateUninitialized:
		s.state = StateHandshaking
		s.mu.Unlock()
	default:
		err := s.stateErrLocked()
		s.mu.Unlock()

		return nil, err
	}

	requested := s.options.ProtocolVersion
	if requested == "" {
		requested = jsonrpc.LatestProtocolVersion
	}

	clientInfo := s.options.ClientInfo
	if clientInfo == nil {
		clientInfo = &mcp.Implementation{Name: DefaultClientName, Version: "0.1.0"}
	}

	params := &mcp.InitializeParams{
		ProtocolVersion: requested,
		Capabilities:    &mcp.ClientCapabilities{},
		ClientInfo:      clientInfo,
	}

	timeout := s.options.GetInitializeTimeout()

	s.log.Debug("Sending initialize request", "protocol_version", requested, "timeout", timeout)

	raw, err := s.controller.SendRequest(ctx, jsonrpc.MethodInitialize, params, timeout)
	if err != nil {
		err = fmt.Errorf("initialize: %w", err)
		s.fail(err)

		return nil, err
	}

	var result mcp.InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		err = fmt.Errorf("initialize: decode result: %w", err)
		s.fail(err)

		return nil, err
	}

	if !jsonrpc.IsSupportedProtocolVersion(result.ProtocolVersion) {
		err := &errors.IncompatibleVersionError{
			Requested: requested,
			Got:       result.ProtocolVersion,
			Supported: slices.Clone(jsonrpc.SupportedProtocolVersions),
		}
		s.fail(err)

		return nil, err
	}

	if err := s.controller.Notify(ctx, jsonrpc.MethodInitialized, nil); err != nil {
		err = fmt.Errorf("initialize: confirm: %w", err)
		s.fail(err)

		return nil, err
	}

	s.mu.Lock()

	if s.state != StateHandshaking {
		// Closed or failed while the handshake was in flight.
		err := s.stateErrLocked()
		s.mu.Unlock()

		return nil, err
	}

	s.state = StateReady
	s.initResult = &result
	s.mu.Unlock()

	serverName := ""
	if result.ServerInfo != nil {
		serverName = result.ServerInfo.Name
	}

	s.log.Info("Session ready", "server", serverName, "protocol_version", result.ProtocolVersion)

	return &result, nil
}

// ListTools returns the server's tools in server order. Paginated results are
// followed to the end. With CacheTools set, the first list is reused until
// the server reports a change.
func (s *Session) ListTools(ctx context.Context) ([]*mcp.Tool, error) {
	if err := s.checkReady(); err != nil {
		return nil, err
	}

	if s.options.CacheTools {
		s.toolsMu.Lock()
		cached := s.tools
		s.toolsMu.Unlock()

		if cached != nil {
			return slices.Clone(cached), nil
		}
	}

	var (
		tools  []*mcp.Tool
		cursor string
	)

	for {
		params := &mcp.ListToolsParams{Cursor: cursor}

		raw, err := s.controller.SendRequest(ctx, jsonrpc.MethodToolsList, params, s.options.GetCallTimeout())
		if err != nil {
			return nil, s.classify("", err)
		}

		var page mcp.ListToolsResult
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, fmt.Errorf("tools/list: decode result: %w", err)
		}

		tools = append(tools, page.Tools...)

		if page.NextCursor == "" || page.NextCursor == cursor {
			break
		}

		cursor = page.NextCursor
	}

	if tools == nil {
		tools = []*mcp.Tool{}
	}

	s.log.Debug("Discovered tools", "count", len(tools))

	if s.options.CacheTools {
		s.toolsMu.Lock()
		s.tools = tools
		s.toolsMu.Unlock()
	}

	return slices.Clone(tools), nil
}

// CallTool invokes a tool. Failures are *errors.ToolError values classified
// by kind; context cancellation is returned as ctx.Err().
func (s *Session) CallTool(ctx context.Context, name string, args map[string]any) (*Result, error) {
	if err := s.checkReady(); err != nil {
		return nil, err
	}

	if args == nil {
		args = map[string]any{}
	}

	params := &mcp.CallToolParams{Name: name, Arguments: args}

	requestID, raw, err := s.controller.sendRequest(ctx, jsonrpc.MethodToolsCall, params, s.options.GetCallTimeout())
	if err != nil {
		return nil, s.classify(name, err)
	}

	var result mcp.CallToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &errors.ToolError{
			Kind:    errors.KindToolExecutionError,
			Tool:    name,
			Message: "malformed tool result",
			Err:     err,
		}
	}

	if result.IsError {
		text := contentText(result.Content)

		kind := errors.KindToolExecutionError
		if mentionsUnknownTool(text) {
			kind = errors.KindUnknownTool
		}

		s.log.Debug("Tool reported error", "tool", name, "request_id", requestID, "kind", kind)

		return nil, &errors.ToolError{Kind: kind, Tool: name, Message: text}
	}

	return &Result{
		RequestID:         requestID,
		Content:           result.Content,
		StructuredContent: result.StructuredContent,
	}, nil
}

// Ping checks the server is responsive.
func (s *Session) Ping(ctx context.Context) error {
	if err := s.checkReady(); err != nil {
		return err
	}

	_, err := s.controller.SendRequest(ctx, jsonrpc.MethodPing, nil, s.options.GetCallTimeout())
	if err != nil {
		return s.classify("", err)
	}

	return nil
}

// classify maps a controller error onto the failure taxonomy.
func (s *Session) classify(tool string, err error) error {
	if rpcErr, ok := stderrors.AsType[*jsonrpc.Error](err); ok {
		return fromRPCError(tool, rpcErr)
	}

	if te, ok := stderrors.AsType[*errors.ToolError](err); ok {
		classified := *te
		classified.Tool = tool

		return &classified
	}

	if stderrors.Is(err, context.Canceled) {
		return err
	}

	// Sends fail only when the stream is unusable.
	return &errors.ToolError{Kind: errors.KindTransportLost, Tool: tool, Err: err}
}

func fromRPCError(tool string, rpcErr *jsonrpc.Error) *errors.ToolError {
	kind := errors.Kind(rpcErr.Kind())

	if !kind.Valid() {
		switch {
		case rpcErr.Code == jsonrpc.CodeInvalidParams && mentionsUnknownTool(rpcErr.Message):
			kind = errors.KindUnknownTool
		case rpcErr.Code == jsonrpc.CodeInvalidParams:
			kind = errors.KindInvalidArguments
		default:
			kind = errors.KindToolExecutionError
		}
	}

	return &errors.ToolError{Kind: kind, Tool: tool, Message: rpcErr.Message, Err: rpcErr}
}

// mentionsUnknownTool recognizes the unknown-tool wording used by common
// servers, which report it as text rather than a structured kind.
func mentionsUnknownTool(text string) bool {
	lower := strings.ToLower(text)

	return strings.Contains(lower, "unknown tool") ||
		strings.Contains(lower, "tool not found") ||
		strings.Contains(lower, "no such tool")
}

// Close ends the session: pending calls fail with SessionClosed, the
// controller stops and the transport is closed. It is idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()

		s.log.Debug("Closing session")

		s.controller.Stop()

		if t := s.options.Transport; t != nil {
			s.closeErr = t.Close()
		}
	})

	return s.closeErr
}

package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ToolbridgeError is the base interface for all errors produced by this module.
type ToolbridgeError interface {
	error
	IsToolbridgeError() bool
}

// Compile-time verification that all error types implement ToolbridgeError.
var (
	_ ToolbridgeError = (*LaunchError)(nil)
	_ ToolbridgeError = (*ProcessError)(nil)
	_ ToolbridgeError = (*IncompatibleVersionError)(nil)
	_ ToolbridgeError = (*ToolError)(nil)
)

// Sentinel errors for commonly checked conditions.
var (
	// ErrTransportNotConnected indicates the transport has not been started.
	ErrTransportNotConnected = errors.New("transport not connected")

	// ErrTransportClosed indicates a send on a transport that was closed.
	ErrTransportClosed = errors.New("transport closed")

	// ErrNotInitialized indicates an operation issued before the handshake completed.
	ErrNotInitialized = errors.New("session not initialized")

	// ErrSessionClosed indicates the session was closed by its owner.
	ErrSessionClosed = errors.New("session closed")

	// ErrSessionFailed indicates the session hit a fatal error and cannot be reused.
	ErrSessionFailed = errors.New("session failed")

	// ErrDuplicateTool indicates a tool name was registered twice.
	ErrDuplicateTool = errors.New("duplicate tool")

	// ErrRequestTimeout indicates a request got no response within its deadline.
	ErrRequestTimeout = errors.New("request timeout")

	// ErrUnknownTool indicates the callee has no tool with the requested name.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrInvalidArguments indicates the arguments do not satisfy the tool's schema.
	ErrInvalidArguments = errors.New("invalid arguments")

	// ErrToolExecution indicates the tool handler itself failed.
	ErrToolExecution = errors.New("tool execution error")

	// ErrTransportLost indicates the underlying stream failed mid-session.
	ErrTransportLost = errors.New("transport lost")

	// ErrAlreadyConnected indicates Start was called on a connected client.
	ErrAlreadyConnected = errors.New("client already connected")

	// ErrClientClosed indicates the client was closed and cannot be restarted.
	ErrClientClosed = errors.New("client closed")
)

// Kind classifies a tool-level failure. The string form travels on the wire
// in the data member of JSON-RPC errors.
type Kind string

const (
	KindUnknownTool        Kind = "UnknownTool"
	KindInvalidArguments   Kind = "InvalidArguments"
	KindToolExecutionError Kind = "ToolExecutionError"
	KindTimeout            Kind = "Timeout"
	KindSessionClosed      Kind = "SessionClosed"
	KindTransportLost      Kind = "TransportLost"
)

// Sentinel returns the sentinel error the kind unwraps to, or nil for an
// unrecognized kind.
func (k Kind) Sentinel() error {
	switch k {
	case KindUnknownTool:
		return ErrUnknownTool
	case KindInvalidArguments:
		return ErrInvalidArguments
	case KindToolExecutionError:
		return ErrToolExecution
	case KindTimeout:
		return ErrRequestTimeout
	case KindSessionClosed:
		return ErrSessionClosed
	case KindTransportLost:
		return ErrTransportLost
	default:
		return nil
	}
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool { return k.Sentinel() != nil }

// LaunchError indicates the tool server process could not be started.
type LaunchError struct {
	Command       string
	SearchedPaths []string
	Err           error
}

func (e *LaunchError) Error() string {
	if len(e.SearchedPaths) > 0 {
		return fmt.Sprintf("launch %q: not found in: %v", e.Command, e.SearchedPaths)
	}

	return fmt.Sprintf("launch %q: %v", e.Command, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// IsToolbridgeError implements ToolbridgeError.
func (e *LaunchError) IsToolbridgeError() bool { return true }

// ProcessError indicates the tool server process exited abnormally.
type ProcessError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ProcessError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("tool server exited (exit %d): %s", e.ExitCode, e.Stderr)
	}

	return fmt.Sprintf("tool server exited (exit %d): %v", e.ExitCode, e.Err)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// IsToolbridgeError implements ToolbridgeError.
func (e *ProcessError) IsToolbridgeError() bool { return true }

// IncompatibleVersionError indicates the server answered the handshake with a
// protocol version the client does not speak.
type IncompatibleVersionError struct {
	Requested string
	Got       string
	Supported []string
}

func (e *IncompatibleVersionError) Error() string {
	return fmt.Sprintf("incompatible protocol version %q (requested %q, supported: %s)",
		e.Got, e.Requested, strings.Join(e.Supported, ", "))
}

// IsToolbridgeError implements ToolbridgeError.
func (e *IncompatibleVersionError) IsToolbridgeError() bool { return true }

// ToolError is a failure attached to a single call. Tool is empty for
// failures not tied to a tool, such as a handshake timeout.
type ToolError struct {
	Kind    Kind
	Tool    string
	Message string
	Err     error
}

func (e *ToolError) Error() string {
	var sb strings.Builder

	sb.WriteString(string(e.Kind))

	if e.Tool != "" {
		sb.WriteString(" (")
		sb.WriteString(e.Tool)
		sb.WriteString(")")
	}

	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	} else if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}

	return sb.String()
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *ToolError) Unwrap() []error {
	errs := make([]error, 0, 2)

	if s := e.Kind.Sentinel(); s != nil {
		errs = append(errs, s)
	}

	if e.Err != nil {
		errs = append(errs, e.Err)
	}

	return errs
}

// IsToolbridgeError implements ToolbridgeError.
func (e *ToolError) IsToolbridgeError() bool { return true }

// NewToolError builds a ToolError with a formatted message.
func NewToolError(kind Kind, tool string, format string, args ...any) *ToolError {
	return &ToolError{Kind: kind, Tool: tool, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first ToolError in err's chain.
func KindOf(err error) (Kind, bool) {
	if te, ok := errors.AsType[*ToolError](err); ok {
		return te.Kind, true
	}

	return "", false
}

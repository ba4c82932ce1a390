package toolbridge

import "github.com/wagiedev/toolbridge-go/internal/errors"

// Re-export error types from internal package

// Error is the marker interface implemented by every error type of this module.
type Error = errors.ToolbridgeError

// LaunchError indicates the tool server process could not be started.
type LaunchError = errors.LaunchError

// ProcessError indicates the tool server process exited abnormally.
type ProcessError = errors.ProcessError

// IncompatibleVersionError indicates the server negotiated an unsupported
// protocol version.
type IncompatibleVersionError = errors.IncompatibleVersionError

// ToolError is a failure attached to a single call.
type ToolError = errors.ToolError

// ErrorKind classifies a ToolError.
type ErrorKind = errors.Kind

// Tool error kinds.
const (
	KindUnknownTool        = errors.KindUnknownTool
	KindInvalidArguments   = errors.KindInvalidArguments
	KindToolExecutionError = errors.KindToolExecutionError
	KindTimeout            = errors.KindTimeout
	KindSessionClosed      = errors.KindSessionClosed
	KindTransportLost      = errors.KindTransportLost
)

// Re-export sentinel errors from internal package.
var (
	// ErrTransportNotConnected indicates the transport has not been started.
	ErrTransportNotConnected = errors.ErrTransportNotConnected

	// ErrTransportClosed indicates a send on a closed transport.
	ErrTransportClosed = errors.ErrTransportClosed

	// ErrNotInitialized indicates an operation before the handshake completed.
	ErrNotInitialized = errors.ErrNotInitialized

	// ErrSessionClosed indicates the session has been closed.
	ErrSessionClosed = errors.ErrSessionClosed

	// ErrSessionFailed indicates the session hit a fatal error.
	ErrSessionFailed = errors.ErrSessionFailed

	// ErrDuplicateTool indicates a tool name was registered twice.
	ErrDuplicateTool = errors.ErrDuplicateTool

	// ErrRequestTimeout indicates a request timed out.
	ErrRequestTimeout = errors.ErrRequestTimeout

	// ErrUnknownTool indicates the server has no tool with the given name.
	ErrUnknownTool = errors.ErrUnknownTool

	// ErrInvalidArguments indicates arguments rejected by the tool's schema.
	ErrInvalidArguments = errors.ErrInvalidArguments

	// ErrToolExecution indicates the tool itself failed.
	ErrToolExecution = errors.ErrToolExecution

	// ErrTransportLost indicates the connection to the server broke.
	ErrTransportLost = errors.ErrTransportLost
)

// KindOf returns the kind of the first ToolError in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	return errors.KindOf(err)
}

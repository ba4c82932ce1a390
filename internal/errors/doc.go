// Package errors defines the error taxonomy shared by the transport, the
// protocol session, the tool registry and the adapters.
//
// Tool-level failures are reported as *ToolError values carrying a Kind.
// Every kind unwraps to a sentinel so callers can branch with errors.Is
// without inspecting the struct. All types support errors.Is, errors.As and
// errors.AsType.
package errors

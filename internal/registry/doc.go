// Package registry holds the tools a tool server exposes.
//
// Tools are registered with an input schema and an mcp.ToolHandler. The
// registry resolves each schema once at registration and, on dispatch,
// checks required arguments, fills in schema defaults and validates the
// result before the handler runs. Failures are returned as
// *errors.ToolError values so the server can report them by kind.
package registry

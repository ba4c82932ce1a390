package toolbridge

import (
	"context"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wagiedev/toolbridge-go/internal/registry"
)

// Re-export MCP SDK types for public API.
// These are the official MCP protocol types.
type (
	// CallToolResult is a tool handler's response.
	// Use TextResult or ErrorResult helpers to create results.
	CallToolResult = mcp.CallToolResult

	// CallToolRequest is the request passed to tool handlers.
	CallToolRequest = mcp.CallToolRequest

	// Content is the interface for content types in tool results.
	Content = mcp.Content

	// TextContent represents text content in a tool result.
	TextContent = mcp.TextContent

	// ToolHandler is the function signature for low-level tool handlers.
	ToolHandler = mcp.ToolHandler

	// ToolAnnotations describes optional hints about tool behavior.
	ToolAnnotations = mcp.ToolAnnotations

	// Schema is a JSON Schema object for tool input validation.
	Schema = jsonschema.Schema
)

// Registry holds the tools a server exposes. It is safe for concurrent use.
type Registry = registry.Registry

// ServerToolOption configures a ServerTool during construction.
type ServerToolOption func(*ServerTool)

// WithAnnotations sets tool annotations (hints about tool behavior).
// Annotations describe properties like whether a tool is read-only,
// destructive, idempotent, or operates in an open world.
func WithAnnotations(annotations *ToolAnnotations) ServerToolOption {
	return func(t *ServerTool) {
		t.ToolAnnotations = annotations
	}
}

// ServerTool is a tool definition paired with its handler, ready to be
// registered with NewRegistry.
type ServerTool struct {
	ToolName        string
	ToolDescription string
	ToolSchema      *Schema
	ToolHandler     ToolHandler
	ToolAnnotations *ToolAnnotations
}

// Name returns the tool name.
func (t *ServerTool) Name() string {
	return t.ToolName
}

// Description returns the tool description.
func (t *ServerTool) Description() string {
	return t.ToolDescription
}

// InputSchema returns the JSON Schema for the tool input.
func (t *ServerTool) InputSchema() *Schema {
	return t.ToolSchema
}

// Handler returns the tool handler function.
func (t *ServerTool) Handler() ToolHandler {
	return t.ToolHandler
}

// Annotations returns the tool annotations, or nil if not set.
func (t *ServerTool) Annotations() *ToolAnnotations {
	return t.ToolAnnotations
}

// NewServerTool creates a ServerTool with optional configuration.
//
// Example with SimpleSchema:
//
//	addTool := toolbridge.NewServerTool("add", "Add two numbers",
//	    toolbridge.SimpleSchema(map[string]string{"a": "float64", "b": "float64"}),
//	    func(ctx context.Context, req *toolbridge.CallToolRequest) (*toolbridge.CallToolResult, error) {
//	        args, _ := toolbridge.ParseArguments(req)
//	        a, b := args["a"].(float64), args["b"].(float64)
//	        return toolbridge.TextResult(fmt.Sprintf("Result: %v", a+b)), nil
//	    },
//	    toolbridge.WithAnnotations(&toolbridge.ToolAnnotations{ReadOnlyHint: true}),
//	)
func NewServerTool(
	name, description string,
	inputSchema *Schema,
	handler ToolHandler,
	opts ...ServerToolOption,
) *ServerTool {
	t := &ServerTool{
		ToolName:        name,
		ToolDescription: description,
		ToolSchema:      inputSchema,
		ToolHandler:     handler,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// NewRegistry creates a registry identified by name and version in the
// handshake and registers tools in order. A duplicate or unnamed tool is an
// error.
func NewRegistry(name, version string, tools ...*ServerTool) (*Registry, error) {
	reg := registry.New(name, version)

	for _, tool := range tools {
		mcpTool := registry.NewTool(tool.ToolName, tool.ToolDescription, tool.ToolSchema)
		mcpTool.Annotations = tool.ToolAnnotations

		if err := reg.Register(mcpTool, tool.ToolHandler); err != nil {
			return nil, fmt.Errorf("register %q: %w", tool.ToolName, err)
		}
	}

	return reg, nil
}

// NewTool creates a bare tool descriptor for Registry.Register.
func NewTool(name, description string, inputSchema *Schema) *Tool {
	return registry.NewTool(name, description, inputSchema)
}

// SimpleSchema creates a Schema from a simple type map. Every property is
// required.
//
// Input format: {"a": "float64", "b": "string"}
//
// Type mappings:
//   - "string"           → {"type": "string"}
//   - "int", "int64"     → {"type": "integer"}
//   - "float64", "float" → {"type": "number"}
//   - "bool"             → {"type": "boolean"}
//   - "[]string"         → {"type": "array", "items": {"type": "string"}}
//   - "any", "object"    → {"type": "object"}
func SimpleSchema(props map[string]string) *Schema {
	return registry.SimpleSchema(props)
}

// Reflect derives a Schema from the exported fields of struct T, honoring
// json and jsonschema tags:
//
//	type SearchArgs struct {
//	    Query string `json:"query" jsonschema:"required,description=Search query"`
//	    Limit int    `json:"limit,omitempty" jsonschema:"default=10"`
//	}
func Reflect[T any]() (*Schema, error) {
	return registry.Reflect[T]()
}

// Bind adapts a typed function to a ToolHandler. Arguments are decoded into
// T after defaults have been applied and the schema validated.
func Bind[T any](fn func(ctx context.Context, args T) (*CallToolResult, error)) ToolHandler {
	return registry.Bind(fn)
}

// TextResult creates a CallToolResult with text content.
func TextResult(text string) *CallToolResult {
	return registry.TextResult(text)
}

// ErrorResult creates a CallToolResult indicating an error.
func ErrorResult(message string) *CallToolResult {
	return registry.ErrorResult(message)
}

// ParseArguments unmarshals CallToolRequest arguments into a map.
// This is a convenience function for extracting tool input.
func ParseArguments(req *CallToolRequest) (map[string]any, error) {
	return registry.ParseArguments(req)
}

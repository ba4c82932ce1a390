package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/wagiedev/toolbridge-go/internal/errors"
)

// Registry is a concurrency-safe, ordered set of tools.
type Registry struct {
	name    string
	version string

	mu    sync.RWMutex
	order []string
	tools map[string]*entry
}

// entry holds a tool, its handler and the resolved input schema.
type entry struct {
	tool     *mcp.Tool
	handler  mcp.ToolHandler
	schema   *jsonschema.Schema
	resolved *jsonschema.Resolved
}

// New creates an empty registry for a server with the given identity.
func New(name, version string) *Registry {
	return &Registry{
		name:    name,
		version: version,
		tools:   make(map[string]*entry, 8),
	}
}

// Name returns the server name.
func (r *Registry) Name() string {
	return r.name
}

// Version returns the server version.
func (r *Registry) Version() string {
	return r.version
}

// ServerInfo returns the identity reported in the initialize response.
func (r *Registry) ServerInfo() *mcp.Implementation {
	return &mcp.Implementation{Name: r.name, Version: r.version}
}

// Capabilities returns the capabilities reported in the initialize response.
func (r *Registry) Capabilities() *mcp.ServerCapabilities {
	return &mcp.ServerCapabilities{
		Tools: &mcp.ToolCapabilities{ListChanged: true},
	}
}

// Register adds a tool. Names must be non-empty and unique; a tool without
// an input schema accepts any object.
func (r *Registry) Register(tool *mcp.Tool, handler mcp.ToolHandler) error {
	if tool == nil || tool.Name == "" {
		return fmt.Errorf("register tool: name is required")
	}

	if handler == nil {
		return fmt.Errorf("register tool %q: handler is required", tool.Name)
	}

	schema, err := toSchema(tool.InputSchema)
	if err != nil {
		return fmt.Errorf("register tool %q: %w", tool.Name, err)
	}

	resolved, err := schema.Resolve(nil)
	if err != nil {
		return fmt.Errorf("register tool %q: resolve input schema: %w", tool.Name, err)
	}

	// The registry owns its copy; callers may reuse the descriptor.
	registered := *tool
	registered.InputSchema = schema

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("%w: %s", errors.ErrDuplicateTool, tool.Name)
	}

	r.tools[tool.Name] = &entry{
		tool:     &registered,
		handler:  handler,
		schema:   schema,
		resolved: resolved,
	}
	r.order = append(r.order, tool.Name)

	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(tool *mcp.Tool, handler mcp.ToolHandler) {
	if err := r.Register(tool, handler); err != nil {
		panic(err)
	}
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.order)
}

// List returns the registered tool descriptors in registration order.
func (r *Registry) List() []*mcp.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]*mcp.Tool, 0, len(r.order))
	for _, name := range r.order {
		tools = append(tools, r.tools[name].tool)
	}

	return tools
}

// Lookup returns the descriptor of a registered tool.
func (r *Registry) Lookup(name string) (*mcp.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.tools[name]
	if !ok {
		return nil, false
	}

	return e.tool, true
}

// Dispatch runs the named tool.
//
// Required arguments are checked first and schema defaults are applied to
// absent fields; the completed arguments are then validated. The handler runs
// only when all of that succeeds. A handler error, an IsError result or a
// panic is reported as a ToolExecutionError.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]any) (result *mcp.CallToolResult, err error) {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()

	if !ok {
		return nil, errors.NewToolError(errors.KindUnknownTool, name, "Unknown tool: %s", name)
	}

	args, err = e.prepare(args)
	if err != nil {
		return nil, &errors.ToolError{
			Kind:    errors.KindInvalidArguments,
			Tool:    name,
			Message: err.Error(),
			Err:     err,
		}
	}

	raw, err := json.Marshal(args)
	if err != nil {
		return nil, errors.NewToolError(errors.KindInvalidArguments, name, "encode arguments: %v", err)
	}

	req := &mcp.CallToolRequest{
		Params: &mcp.CallToolParamsRaw{Name: name, Arguments: raw},
	}

	defer func() {
		if p := recover(); p != nil {
			result = nil
			err = errors.NewToolError(errors.KindToolExecutionError, name, "tool panicked: %v", p)
		}
	}()

	result, err = e.handler(ctx, req)
	if err != nil {
		return nil, &errors.ToolError{
			Kind:    errors.KindToolExecutionError,
			Tool:    name,
			Message: err.Error(),
			Err:     err,
		}
	}

	if result == nil {
		return &mcp.CallToolResult{Content: []mcp.Content{}}, nil
	}

	if result.IsError {
		message := FirstText(result)
		if message == "" {
			message = "tool reported an error"
		}

		return nil, &errors.ToolError{Kind: errors.KindToolExecutionError, Tool: name, Message: message}
	}

	return result, nil
}

// prepare returns a completed copy of args or the first argument problem.
func (e *entry) prepare(args map[string]any) (map[string]any, error) {
	completed := make(map[string]any, len(args)+len(e.schema.Properties))
	for k, v := range args {
		completed[k] = v
	}

	for _, field := range e.schema.Required {
		if _, ok := completed[field]; !ok {
			return nil, fmt.Errorf("missing required argument: %s", field)
		}
	}

	if err := e.resolved.ApplyDefaults(&completed); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}

	if err := e.resolved.Validate(completed); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	return completed, nil
}

// toSchema converts a descriptor's input schema into a jsonschema.Schema.
func toSchema(inputSchema any) (*jsonschema.Schema, error) {
	switch s := inputSchema.(type) {
	case nil:
		return &jsonschema.Schema{Type: "object"}, nil
	case *jsonschema.Schema:
		if s == nil {
			return &jsonschema.Schema{Type: "object"}, nil
		}

		if s.Type == "" && len(s.Types) == 0 {
			withType := *s
			withType.Type = "object"

			return &withType, nil
		}

		return s, nil
	}

	data, err := json.Marshal(inputSchema)
	if err != nil {
		return nil, fmt.Errorf("encode input schema: %w", err)
	}

	var schema jsonschema.Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("decode input schema: %w", err)
	}

	if schema.Type == "" && len(schema.Types) == 0 {
		schema.Type = "object"
	}

	return &schema, nil
}

package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/wagiedev/toolbridge-go/internal/protocol"
)

// Caller is the part of a session capabilities need.
type Caller interface {
	ListTools(ctx context.Context) ([]*mcp.Tool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*protocol.Result, error)
}

// Compile-time verification that Session satisfies Caller.
var _ Caller = (*protocol.Session)(nil)

// TextPolicy flattens a successful result to the string a framework sees.
type TextPolicy func(*protocol.Result) string

// FirstText returns the first text block, or "" when there is none.
func FirstText(r *protocol.Result) string {
	return r.Text()
}

// Concatenate joins every text block with newlines.
func Concatenate(r *protocol.Result) string {
	return strings.Join(r.Texts(), "\n")
}

type options struct {
	policy TextPolicy
}

// Option configures the capabilities built by FromSession.
type Option func(*options)

// WithTextPolicy overrides how results are flattened. The default is
// FirstText.
func WithTextPolicy(policy TextPolicy) Option {
	return func(o *options) {
		if policy != nil {
			o.policy = policy
		}
	}
}

func applyOptions(opts []Option) *options {
	o := &options{policy: FirstText}
	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Capability is one remote tool in framework-neutral form.
type Capability struct {
	caller Caller
	tool   *mcp.Tool
	schema map[string]any
	policy TextPolicy
}

// FromSession discovers the session's tools with a single ListTools and
// returns one capability per tool, in server order.
func FromSession(ctx context.Context, caller Caller, opts ...Option) ([]*Capability, error) {
	tools, err := caller.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover tools: %w", err)
	}

	o := applyOptions(opts)

	caps := make([]*Capability, 0, len(tools))
	for _, tool := range tools {
		caps = append(caps, newCapability(caller, tool, o))
	}

	return caps, nil
}

// New wraps a single known tool.
func New(caller Caller, tool *mcp.Tool, opts ...Option) *Capability {
	return newCapability(caller, tool, applyOptions(opts))
}

func newCapability(caller Caller, tool *mcp.Tool, o *options) *Capability {
	return &Capability{
		caller: caller,
		tool:   tool,
		schema: decodeSchema(tool.InputSchema),
		policy: o.policy,
	}
}

// decodeSchema returns the schema as a JSON object. Anything that is not an
// object becomes an empty object schema.
func decodeSchema(schema any) map[string]any {
	if m, ok := schema.(map[string]any); ok {
		return m
	}

	if schema != nil {
		if data, err := json.Marshal(schema); err == nil {
			var m map[string]any
			if json.Unmarshal(data, &m) == nil && m != nil {
				return m
			}
		}
	}

	return map[string]any{"type": "object"}
}

// Name returns the tool name.
func (c *Capability) Name() string { return c.tool.Name }

// Description returns the tool description.
func (c *Capability) Description() string { return c.tool.Description }

// Tool returns the underlying descriptor.
func (c *Capability) Tool() *mcp.Tool { return c.tool }

// InputSchema returns the decoded input schema. Callers must not modify it.
func (c *Capability) InputSchema() map[string]any { return c.schema }

// Required returns the names of the required arguments.
func (c *Capability) Required() []string {
	raw, _ := c.schema["required"].([]any)

	required := make([]string, 0, len(raw))
	for _, r := range raw {
		if name, ok := r.(string); ok {
			required = append(required, name)
		}
	}

	return required
}

// Invoke calls the tool and flattens the result with the text policy.
// Failures are returned unchanged, typically as *errors.ToolError.
func (c *Capability) Invoke(ctx context.Context, args map[string]any) (string, error) {
	res, err := c.Call(ctx, args)
	if err != nil {
		return "", err
	}

	return c.policy(res), nil
}

// Call invokes the tool and returns the full result.
func (c *Capability) Call(ctx context.Context, args map[string]any) (*protocol.Result, error) {
	return c.caller.CallTool(ctx, c.tool.Name, args)
}

// InvokeJSON invokes the tool with arguments given as a JSON object.
func (c *Capability) InvokeJSON(ctx context.Context, raw json.RawMessage) (string, error) {
	args := map[string]any{}

	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &args); err != nil {
			return "", fmt.Errorf("decode %s arguments: %w", c.tool.Name, err)
		}
	}

	return c.Invoke(ctx, args)
}

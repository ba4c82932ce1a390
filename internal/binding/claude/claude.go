// Package claude exposes capabilities to the Anthropic Messages API.
//
// ToolParams turns capabilities into tool definitions for a
// MessageNewParams, and a Dispatcher answers the tool_use blocks of a
// response with tool_result blocks.
package claude

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/wagiedev/toolbridge-go/internal/adapter"
)

// ToolParam converts one capability into a tool definition.
func ToolParam(c *adapter.Capability) anthropic.ToolParam {
	return anthropic.ToolParam{
		Name:        anthropic.F(c.Name()),
		Description: anthropic.F(c.Description()),
		InputSchema: anthropic.F[any](c.InputSchema()),
	}
}

// ToolParams converts capabilities into the Tools field of a request.
func ToolParams(caps []*adapter.Capability) []anthropic.ToolUnionUnionParam {
	tools := make([]anthropic.ToolUnionUnionParam, 0, len(caps))
	for _, c := range caps {
		tools = append(tools, ToolParam(c))
	}

	return tools
}

// Dispatcher runs the tools a model asks for.
type Dispatcher struct {
	set *adapter.Set
}

// NewDispatcher creates a dispatcher over caps.
func NewDispatcher(caps []*adapter.Capability) *Dispatcher {
	return &Dispatcher{set: adapter.NewSet(caps)}
}

// HandleToolUse runs one tool_use block. A failed call is reported to the
// model as an error result carrying the failure text.
func (d *Dispatcher) HandleToolUse(ctx context.Context, block anthropic.ToolUseBlock) anthropic.ToolResultBlockParam {
	args, err := decodeInput(block.Input)
	if err != nil {
		return anthropic.NewToolResultBlock(block.ID, err.Error(), true)
	}

	text, err := d.set.Invoke(ctx, block.Name, args)
	if err != nil {
		return anthropic.NewToolResultBlock(block.ID, err.Error(), true)
	}

	return anthropic.NewToolResultBlock(block.ID, text, false)
}

// HandleMessage runs every tool_use block of msg concurrently and returns
// the user message carrying the results in block order. It returns false
// when msg requested no tools.
func (d *Dispatcher) HandleMessage(ctx context.Context, msg *anthropic.Message) (anthropic.MessageParam, bool) {
	var uses []anthropic.ToolUseBlock

	for _, block := range msg.Content {
		if use, ok := block.AsUnion().(anthropic.ToolUseBlock); ok {
			uses = append(uses, use)
		}
	}

	if len(uses) == 0 {
		return anthropic.MessageParam{}, false
	}

	blocks := make([]anthropic.ContentBlockParamUnion, len(uses))

	var (
		calls   []adapter.Invocation
		indexes []int
	)

	for i, use := range uses {
		args, err := decodeInput(use.Input)
		if err != nil {
			blocks[i] = anthropic.NewToolResultBlock(use.ID, err.Error(), true)

			continue
		}

		calls = append(calls, adapter.Invocation{Name: use.Name, Args: args})
		indexes = append(indexes, i)
	}

	for j, outcome := range d.set.InvokeAll(ctx, calls) {
		i := indexes[j]

		if outcome.Err != nil {
			blocks[i] = anthropic.NewToolResultBlock(uses[i].ID, outcome.Err.Error(), true)
		} else {
			blocks[i] = anthropic.NewToolResultBlock(uses[i].ID, outcome.Text, false)
		}
	}

	return anthropic.MessageParam{
		Role:    anthropic.F(anthropic.MessageParamRoleUser),
		Content: anthropic.F(blocks),
	}, true
}

func decodeInput(raw json.RawMessage) (map[string]any, error) {
	args := map[string]any{}

	if len(raw) == 0 || string(raw) == "null" {
		return args, nil
	}

	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("tool input must be a JSON object: %w", err)
	}

	return args, nil
}

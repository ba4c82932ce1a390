// Package graph wraps capabilities as nodes of a state graph, the calling
// convention of graph-style orchestrators. A node reads its arguments from
// the state, invokes the tool and writes the text result back.
package graph

import (
	"context"
	"fmt"
	"maps"

	"github.com/wagiedev/toolbridge-go/internal/adapter"
)

// Default state keys.
const (
	ArgsKey   = "args"
	ResultKey = "result"
)

// State is the value passed between nodes.
type State map[string]any

// Node transforms a state. Nodes never modify their input.
type Node func(ctx context.Context, state State) (State, error)

type nodeOptions struct {
	argsKey   string
	resultKey string
}

// NodeOption configures NewNode.
type NodeOption func(*nodeOptions)

// WithArgsKey reads the tool arguments from key instead of ArgsKey.
func WithArgsKey(key string) NodeOption {
	return func(o *nodeOptions) { o.argsKey = key }
}

// WithResultKey writes the tool result to key instead of ResultKey.
func WithResultKey(key string) NodeOption {
	return func(o *nodeOptions) { o.resultKey = key }
}

// NewNode wraps c as a node. The arguments are the map stored under the
// args key; a missing entry means no arguments.
func NewNode(c *adapter.Capability, opts ...NodeOption) Node {
	o := &nodeOptions{argsKey: ArgsKey, resultKey: ResultKey}
	for _, opt := range opts {
		opt(o)
	}

	return func(ctx context.Context, state State) (State, error) {
		var args map[string]any

		if raw, ok := state[o.argsKey]; ok && raw != nil {
			m, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("node %s: state[%q] is %T, want map[string]any", c.Name(), o.argsKey, raw)
			}

			args = m
		}

		text, err := c.Invoke(ctx, args)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", c.Name(), err)
		}

		next := maps.Clone(state)
		if next == nil {
			next = State{}
		}

		next[o.resultKey] = text

		return next, nil
	}
}

// Chain runs nodes in order, feeding each the previous output. It stops at
// the first error or when ctx is done.
func Chain(nodes ...Node) Node {
	return func(ctx context.Context, state State) (State, error) {
		for _, node := range nodes {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			next, err := node(ctx, state)
			if err != nil {
				return nil, err
			}

			state = next
		}

		return state, nil
	}
}

// Nodes wraps every capability, keyed by tool name.
func Nodes(caps []*adapter.Capability, opts ...NodeOption) map[string]Node {
	nodes := make(map[string]Node, len(caps))
	for _, c := range caps {
		nodes[c.Name()] = NewNode(c, opts...)
	}

	return nodes
}

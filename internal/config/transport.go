// Package config provides configuration types for tool server sessions.
package config

import (
	"context"
	"encoding/json"
)

// Transport defines the byte-stream connection to a tool server.
// Implement this to provide custom transports for testing, mocking,
// or alternative communication methods.
//
// The default implementation spawns a child process and speaks
// newline-delimited JSON over its stdin and stdout.
// Custom transports can be injected via Options.Transport.
type Transport interface {
	// Start opens the connection. It is called before any message is sent
	// or received.
	Start(ctx context.Context) error

	// ReadMessages returns channels for receiving messages and errors.
	// Each message is one complete JSON value, yielded in arrival order.
	// Both channels are closed when the stream ends.
	ReadMessages(ctx context.Context) (<-chan json.RawMessage, <-chan error)

	// SendMessage sends one JSON message. A trailing newline is appended if
	// missing. This method must be safe for concurrent use.
	SendMessage(ctx context.Context, data []byte) error

	// Close terminates the transport and releases resources.
	// It's safe to call Close multiple times.
	Close() error

	// IsReady returns true if the transport is ready for communication.
	IsReady() bool

	// EndInput signals that no more input will be sent.
	// For process-based transports, this closes stdin.
	EndInput() error
}

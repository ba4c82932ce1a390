package toolbridge

import (
	"context"
	"fmt"
)

// WithSession manages session lifecycle with automatic cleanup.
//
// This helper connects with the provided options, executes the callback
// function, and ensures proper cleanup via Close() when done.
//
// The callback receives a ready Session.
// If the callback returns an error, it is returned to the caller.
// If Close() fails, a warning is logged but does not override the callback's error.
//
// Example usage:
//
//	err := toolbridge.WithSession(ctx, func(s *toolbridge.Session) error {
//	    result, err := s.CallTool(ctx, "get_weather", map[string]any{"location": "Paris"})
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Println(result.Text())
//	    return nil
//	},
//	    toolbridge.WithCommand("python", "mcp_server.py"),
//	    toolbridge.WithLogger(log),
//	)
func WithSession(ctx context.Context, fn func(*Session) error, opts ...Option) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	options := applyOptions(opts)

	log := options.Logger
	if log == nil {
		log = NopLogger()
	}

	session, err := Connect(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}

	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			log.Warn("failed to close session", "error", closeErr)
		}
	}()

	return fn(session)
}

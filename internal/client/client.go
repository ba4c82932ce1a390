package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wagiedev/toolbridge-go/internal/config"
	"github.com/wagiedev/toolbridge-go/internal/errors"
	"github.com/wagiedev/toolbridge-go/internal/protocol"
	"github.com/wagiedev/toolbridge-go/internal/subprocess"
)

// Client connects to one tool server.
type Client struct {
	log        *slog.Logger
	transport  config.Transport
	controller *protocol.Controller
	session    *protocol.Session

	mu        sync.Mutex
	connected bool
	closed    bool
	closeOnce sync.Once
	closeErr  error
}

// New creates a client. It is not connected until Start succeeds.
func New() *Client {
	return &Client{}
}

// Start spawns the tool server (or adopts options.Transport), starts the
// protocol controller and performs the handshake. On failure everything
// started so far is torn down and the client cannot be restarted.
//
// The controller runs on a background context: ctx only bounds the startup
// and handshake, not the lifetime of the session.
func (c *Client) Start(ctx context.Context, options *config.Options) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.ErrClientClosed
	}

	if c.connected {
		return errors.ErrAlreadyConnected
	}

	// Work on a copy so the caller's options keep their Transport field.
	opts := &config.Options{}
	if options != nil {
		copied := *options
		opts = &copied
	}

	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	c.log = log.With("component", "client")

	if opts.Transport != nil {
		c.log.Debug("Using injected custom transport")
	} else {
		opts.Transport = subprocess.NewTransport(log, opts)
	}

	c.transport = opts.Transport

	if err := c.transport.Start(ctx); err != nil {
		c.closed = true

		return fmt.Errorf("start transport: %w", err)
	}

	c.controller = protocol.NewController(log, c.transport)
	if err := c.controller.Start(context.Background()); err != nil {
		c.closed = true
		_ = c.transport.Close()

		return fmt.Errorf("start protocol controller: %w", err)
	}

	c.session = protocol.NewSession(log, c.controller, opts)

	if _, err := c.session.Initialize(ctx); err != nil {
		c.closed = true
		_ = c.session.Close()

		return fmt.Errorf("initialize session: %w", err)
	}

	c.connected = true
	c.log.Info("Client connected")

	return nil
}

// Session returns the ready session, or nil before a successful Start.
func (c *Client) Session() *protocol.Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil
	}

	return c.session
}

// Close ends the session, stops the controller and terminates the tool
// server. It is safe to call multiple times.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		wasConnected := c.connected
		c.connected = false
		c.closed = true
		session := c.session
		c.mu.Unlock()

		if !wasConnected || session == nil {
			return
		}

		c.log.Info("Closing client")

		c.closeErr = session.Close()
	})

	return c.closeErr
}

package protocol

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/wagiedev/toolbridge-go/internal/errors"
	"github.com/wagiedev/toolbridge-go/internal/jsonrpc"
)

// Transport defines the minimal interface needed for protocol operations.
//
// This interface is satisfied by the subprocess transport but allows for
// testing with mock transports.
type Transport interface {
	ReadMessages(ctx context.Context) (<-chan json.RawMessage, <-chan error)
	SendMessage(ctx context.Context, data []byte) error
}

// Controller correlates JSON-RPC requests with their responses over one
// transport.
//
// The Controller handles:
//   - Sending requests with unique ULID ids
//   - Routing responses to the waiting caller by id, in any order
//   - Per-request timeout and cancellation
//   - Handlers for requests and notifications initiated by the server
//   - Failing every pending request when the transport is lost
//
// The Controller must be started with Start() before use and manages a single
// goroutine for reading and routing messages.
type Controller struct {
	log       *slog.Logger
	transport Transport

	// Every id inserted into pending is removed exactly once under pendingMu,
	// and whoever removes it delivers one outcome to its channel.
	pendingMu     sync.Mutex
	pending       map[string]*pendingRequest
	pendingClosed error

	handlersMu sync.RWMutex
	handlers   map[string]RequestHandler

	// Fatal error handling - stores error and broadcasts via done channel
	errMu    sync.RWMutex
	fatalErr error

	// Lifecycle management
	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewController creates a new protocol controller.
//
// The transport must be connected before calling Start().
func NewController(log *slog.Logger, transport Transport) *Controller {
	return &Controller{
		log:       log.With("component", "protocol"),
		transport: transport,
		pending:   make(map[string]*pendingRequest, 10),
		handlers:  make(map[string]RequestHandler, 4),
		cancel:    func() {},
		done:      make(chan struct{}),
	}
}

// closeDone safely closes the done channel exactly once.
func (c *Controller) closeDone() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// SetFatalError stores a fatal error, fails every pending request with
// TransportLost and broadcasts to all waiters by closing done.
func (c *Controller) SetFatalError(err error) {
	c.errMu.Lock()

	first := c.fatalErr == nil
	if first {
		c.fatalErr = err
	}

	c.errMu.Unlock()

	if first {
		c.log.Error("Transport lost", "error", err)
		c.failPending(&errors.ToolError{Kind: errors.KindTransportLost, Err: err})
	}

	c.closeDone()
}

// FatalError returns the fatal error if one occurred.
func (c *Controller) FatalError() error {
	c.errMu.RLock()
	defer c.errMu.RUnlock()

	return c.fatalErr
}

// Done returns a channel that is closed when the controller stops.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Pending returns the number of requests awaiting a response.
func (c *Controller) Pending() int {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	return len(c.pending)
}

// Start begins reading messages from the transport and routing them.
//
// Start must be called before SendRequest or any handlers will work.
// Handlers run with a context derived from ctx that is cancelled by Stop.
func (c *Controller) Start(ctx context.Context) error {
	c.log.Debug("Starting protocol controller")

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	messages, errs := c.transport.ReadMessages(ctx)

	c.wg.Go(func() {
		c.readLoop(ctx, messages, errs)
	})

	c.log.Info("Protocol controller started")

	return nil
}

// Stop shuts down the controller. Every pending request fails with
// SessionClosed. It's safe to call Stop multiple times.
func (c *Controller) Stop() {
	c.log.Debug("Stopping protocol controller")

	c.closeDone()
	c.failPending(&errors.ToolError{Kind: errors.KindSessionClosed, Message: "session closed"})
	c.cancel()
	c.wg.Wait()

	c.log.Info("Protocol controller stopped")
}

// failPending removes every pending request and delivers err to each.
// Later SendRequest calls fail immediately with the same error.
func (c *Controller) failPending(err error) {
	c.pendingMu.Lock()

	if c.pendingClosed == nil {
		c.pendingClosed = err
	}

	failed := c.pending
	c.pending = make(map[string]*pendingRequest)

	c.pendingMu.Unlock()

	for id, p := range failed {
		c.log.Debug("Failing pending request", "request_id", id, "method", p.method)

		p.response <- outcome{err: err}
	}
}

// claim removes id from the pending table. It reports false if someone else
// already removed it, in which case an outcome is on its way.
func (c *Controller) claim(id string) bool {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	if _, ok := c.pending[id]; !ok {
		return false
	}

	delete(c.pending, id)

	return true
}

// SendRequest sends a request and waits for its response.
//
// The result member is returned on success. An error response is returned as
// *jsonrpc.Error. When timeout elapses first the error is a *errors.ToolError
// of kind Timeout; a ctx deadline is reported the same way, plain
// cancellation returns ctx.Err(). A timeout of zero or less waits for ctx
// alone.
func (c *Controller) SendRequest(
	ctx context.Context,
	method string,
	params any,
	timeout time.Duration,
) (json.RawMessage, error) {
	_, result, err := c.sendRequest(ctx, method, params, timeout)

	return result, err
}

func (c *Controller) sendRequest(
	ctx context.Context,
	method string,
	params any,
	timeout time.Duration,
) (string, json.RawMessage, error) {
	requestID := c.generateRequestID()

	req, err := jsonrpc.NewRequest(requestID, method, params)
	if err != nil {
		return requestID, nil, err
	}

	data, err := json.Marshal(req)
	if err != nil {
		return requestID, nil, fmt.Errorf("marshal request: %w", err)
	}

	pending := &pendingRequest{
		method:   method,
		response: make(chan outcome, 1),
	}

	if timeout > 0 {
		pending.deadline = time.Now().Add(timeout)
	}

	c.pendingMu.Lock()

	if closedErr := c.pendingClosed; closedErr != nil {
		c.pendingMu.Unlock()

		return requestID, nil, closedErr
	}

	c.pending[requestID] = pending
	c.pendingMu.Unlock()

	c.log.Debug("Sending request", "request_id", requestID, "method", method)

	if err := c.transport.SendMessage(ctx, data); err != nil {
		if !c.claim(requestID) {
			// Failed by Stop or a transport loss while sending.
			out := <-pending.response

			return requestID, nil, out.err
		}

		c.log.Error("Failed to send request", "request_id", requestID, "error", err)

		return requestID, nil, fmt.Errorf("send %s: %w", method, err)
	}

	var timer <-chan time.Time

	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()

		timer = t.C
	}

	select {
	case out := <-pending.response:
		res, err := c.unwrapOutcome(requestID, out)

		return requestID, res, err

	case <-timer:
		if !c.claim(requestID) {
			res, err := c.unwrapOutcome(requestID, <-pending.response)

			return requestID, res, err
		}

		c.log.Warn("Request timed out", "request_id", requestID, "method", method, "timeout", timeout)
		c.notifyCancelled(requestID, "timeout")

		return requestID, nil, &errors.ToolError{
			Kind:    errors.KindTimeout,
			Message: fmt.Sprintf("%s: no response after %s", method, timeout),
		}

	case <-ctx.Done():
		if !c.claim(requestID) {
			res, err := c.unwrapOutcome(requestID, <-pending.response)

			return requestID, res, err
		}

		c.log.Debug("Request abandoned", "request_id", requestID, "method", method, "error", ctx.Err())
		c.notifyCancelled(requestID, ctx.Err().Error())

		if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
			return requestID, nil, &errors.ToolError{
				Kind:    errors.KindTimeout,
				Message: fmt.Sprintf("%s: deadline exceeded", method),
				Err:     ctx.Err(),
			}
		}

		return requestID, nil, ctx.Err()
	}
}

func (c *Controller) unwrapOutcome(requestID string, out outcome) (json.RawMessage, error) {
	if out.err != nil {
		return nil, out.err
	}

	if out.resp.Error != nil {
		c.log.Debug("Request returned error", "request_id", requestID, "code", out.resp.Error.Code)

		return nil, out.resp.Error
	}

	return out.resp.Result, nil
}

// notifyCancelled tells the server an abandoned request's result is no
// longer wanted. Best effort.
func (c *Controller) notifyCancelled(requestID, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := c.Notify(ctx, jsonrpc.MethodCancelled, cancelledParams{RequestID: requestID, Reason: reason})
	if err != nil {
		c.log.Debug("Could not send cancellation", "request_id", requestID, "error", err)
	}
}

// Notify sends a notification. No response is expected.
func (c *Controller) Notify(ctx context.Context, method string, params any) error {
	msg, err := jsonrpc.NewNotification(method, params)
	if err != nil {
		return err
	}

	return c.send(ctx, msg)
}

func (c *Controller) send(ctx context.Context, msg *jsonrpc.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return c.transport.SendMessage(ctx, data)
}

// RegisterHandler registers a handler for server-initiated requests or
// notifications with the given method.
//
// Registering a handler for the same method twice overrides the previous one.
func (c *Controller) RegisterHandler(method string, handler RequestHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()

	c.log.Debug("Registering handler", "method", method)
	c.handlers[method] = handler
}

// readLoop reads messages from the transport and routes them.
func (c *Controller) readLoop(
	ctx context.Context,
	messages <-chan json.RawMessage,
	errs <-chan error,
) {
	defer c.log.Debug("Protocol read loop stopped")

	for {
		select {
		case raw, ok := <-messages:
			if !ok {
				c.streamEnded(errs)

				return
			}

			c.handleMessage(ctx, raw)

		case err, ok := <-errs:
			if !ok {
				errs = nil

				continue
			}

			if err != nil {
				c.log.Debug("Transport error in protocol", "error", err)
				c.SetFatalError(err)

				return
			}

		case <-c.done:
			c.log.Debug("Protocol controller stop signal received")

			return

		case <-ctx.Done():
			c.log.Debug("Context cancelled in protocol read loop")

			return
		}
	}
}

// streamEnded handles the end of the inbound stream. Unless the controller
// was stopped on purpose this is fatal; a buffered transport error is
// preferred as the cause.
func (c *Controller) streamEnded(errs <-chan error) {
	select {
	case <-c.done:
		return
	default:
	}

	cause := error(io.ErrUnexpectedEOF)

	if errs != nil {
		select {
		case err, ok := <-errs:
			if ok && err != nil {
				cause = err
			}
		default:
		}
	}

	c.log.Debug("Message channel closed", "cause", cause)
	c.SetFatalError(cause)
}

// handleMessage routes one inbound message.
func (c *Controller) handleMessage(ctx context.Context, raw json.RawMessage) {
	var msg jsonrpc.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.log.Warn("Dropping malformed message", "error", err)

		return
	}

	switch {
	case msg.IsResponse():
		c.handleResponse(&msg)
	case msg.IsRequest():
		c.handleRequest(ctx, &msg)
	case msg.IsNotification():
		c.handleNotification(ctx, &msg)
	default:
		c.log.Warn("Dropping unrecognized message")
	}
}

// handleResponse routes a response to the waiting request.
func (c *Controller) handleResponse(msg *jsonrpc.Message) {
	requestID := msg.IDString()

	c.pendingMu.Lock()

	pending, exists := c.pending[requestID]
	if exists {
		delete(c.pending, requestID)
	}

	c.pendingMu.Unlock()

	if !exists {
		// Late responses to timed-out requests land here.
		c.log.Debug("No pending request for response", "request_id", requestID)

		return
	}

	c.log.Debug("Received response", "request_id", requestID, "method", pending.method)

	pending.response <- outcome{resp: msg}
}

func (c *Controller) lookupHandler(method string) (RequestHandler, bool) {
	c.handlersMu.RLock()
	defer c.handlersMu.RUnlock()

	handler, ok := c.handlers[method]

	return handler, ok
}

// handleRequest answers a server-initiated request.
func (c *Controller) handleRequest(ctx context.Context, msg *jsonrpc.Message) {
	handler, exists := c.lookupHandler(msg.Method)
	if !exists {
		c.log.Warn("No handler registered for request", "method", msg.Method)
		c.reply(ctx, jsonrpc.NewError(msg.ID, jsonrpc.CodeMethodNotFound, "Method not found: "+msg.Method, ""))

		return
	}

	// Handlers run off the read loop so responses keep flowing.
	c.wg.Go(func() {
		result, err := handler(ctx, msg)
		if err != nil {
			c.log.Warn("Handler returned error", "method", msg.Method, "error", err)

			rpcErr, ok := stderrors.AsType[*jsonrpc.Error](err)
			if !ok {
				rpcErr = &jsonrpc.Error{Code: jsonrpc.CodeInternalError, Message: err.Error()}
			}

			c.reply(ctx, &jsonrpc.Message{JSONRPC: jsonrpc.Version, ID: msg.ID, Error: rpcErr})

			return
		}

		resp, err := jsonrpc.NewResult(msg.ID, result)
		if err != nil {
			c.log.Error("Failed to marshal handler result", "method", msg.Method, "error", err)
			resp = jsonrpc.NewError(msg.ID, jsonrpc.CodeInternalError, err.Error(), "")
		}

		c.reply(ctx, resp)
	})
}

func (c *Controller) handleNotification(ctx context.Context, msg *jsonrpc.Message) {
	handler, exists := c.lookupHandler(msg.Method)
	if !exists {
		c.log.Debug("Ignoring notification", "method", msg.Method)

		return
	}

	c.wg.Go(func() {
		if _, err := handler(ctx, msg); err != nil {
			c.log.Warn("Notification handler returned error", "method", msg.Method, "error", err)
		}
	})
}

func (c *Controller) reply(ctx context.Context, msg *jsonrpc.Message) {
	if err := c.send(ctx, msg); err != nil {
		// Expected during shutdown.
		if ctx.Err() != nil {
			c.log.Debug("Could not send response during shutdown", "error", err)

			return
		}

		c.log.Error("Failed to send response", "error", err)
	}
}

// generateRequestID creates a unique request ID using ULID.
func (c *Controller) generateRequestID() string {
	return ulid.Make().String()
}

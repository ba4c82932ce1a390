package server

import (
	"bufio"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/wagiedev/toolbridge-go/internal/errors"
	"github.com/wagiedev/toolbridge-go/internal/jsonrpc"
	"github.com/wagiedev/toolbridge-go/internal/registry"
)

const (
	// DefaultRequestTimeout bounds a single tools/call.
	DefaultRequestTimeout = 30 * time.Second

	// DefaultMaxLineSize is the longest accepted input line.
	DefaultMaxLineSize = 1024 * 1024
)

// Options configures a Server. The zero value is usable.
type Options struct {
	// RequestTimeout bounds each tools/call. Zero means DefaultRequestTimeout.
	RequestTimeout time.Duration

	// MaxLineSize bounds one input message. Zero means DefaultMaxLineSize.
	MaxLineSize int

	// PageSize splits tools/list into pages. Zero lists everything at once.
	PageSize int

	// Instructions is returned in the initialize result.
	Instructions string
}

// Server serves one registry over one stream at a time.
type Server struct {
	log      *slog.Logger
	registry *registry.Registry
	opts     Options

	writeMu sync.Mutex
	w       io.Writer

	mu          sync.Mutex
	serving     bool
	initialized bool

	inFlightMu sync.Mutex
	inFlight   map[string]context.CancelFunc

	wg sync.WaitGroup
}

// cancelledParams is the payload of notifications/cancelled.
type cancelledParams struct {
	RequestID any    `json:"requestId"`
	Reason    string `json:"reason,omitempty"`
}

// New creates a server for reg. A nil opts uses defaults.
func New(log *slog.Logger, reg *registry.Registry, opts *Options) *Server {
	s := &Server{
		log:      log.With("component", "server"),
		registry: reg,
		inFlight: make(map[string]context.CancelFunc, 10),
	}

	if opts != nil {
		s.opts = *opts
	}

	if s.opts.RequestTimeout <= 0 {
		s.opts.RequestTimeout = DefaultRequestTimeout
	}

	if s.opts.MaxLineSize <= 0 {
		s.opts.MaxLineSize = DefaultMaxLineSize
	}

	return s
}

// Serve reads requests from r and writes responses to w until r ends or ctx
// is cancelled. It returns after every in-flight call has been answered.
//
// A reader that blocks without honoring ctx (os.Stdin) keeps its reading
// goroutine alive until the next line or EOF.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	s.mu.Lock()
	if s.serving {
		s.mu.Unlock()

		return fmt.Errorf("server: already serving")
	}

	s.serving = true
	s.initialized = false
	s.mu.Unlock()

	s.writeMu.Lock()
	s.w = w
	s.writeMu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Runs before cancel: calls in flight when input ends are still answered.
	defer func() {
		s.wg.Wait()

		s.mu.Lock()
		s.serving = false
		s.mu.Unlock()

		s.writeMu.Lock()
		s.w = nil
		s.writeMu.Unlock()
	}()

	s.log.Info("Serving tools", "server", s.registry.Name(), "tools", s.registry.Len())

	lines := make(chan []byte)
	errCh := make(chan error, 1)

	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), s.opts.MaxLineSize)

		for scanner.Scan() {
			line := make([]byte, len(scanner.Bytes()))
			copy(line, scanner.Bytes())

			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}

		if err := scanner.Err(); err != nil {
			errCh <- err
		}
	}()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Server shutting down", "reason", ctx.Err())

			return nil

		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-errCh:
					s.log.Error("Error reading input", "error", err)

					return fmt.Errorf("server: read input: %w", err)
				default:
				}

				s.log.Info("Input closed")

				return nil
			}

			if len(line) == 0 {
				continue
			}

			s.handleLine(ctx, line)
		}
	}
}

// Initialized reports whether the client confirmed the handshake.
func (s *Server) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.initialized
}

// NotifyToolsChanged tells the connected client the tool list changed.
func (s *Server) NotifyToolsChanged(ctx context.Context) error {
	s.mu.Lock()
	serving := s.serving
	s.mu.Unlock()

	if !serving {
		return errors.ErrTransportNotConnected
	}

	msg, err := jsonrpc.NewNotification(jsonrpc.MethodToolsListChanged, nil)
	if err != nil {
		return err
	}

	return s.write(ctx, msg)
}

func (s *Server) handleLine(ctx context.Context, line []byte) {
	var msg jsonrpc.Message
	if err := json.Unmarshal(line, &msg); err != nil {
		s.log.Warn("Unparsable message", "error", err)
		s.reply(ctx, jsonrpc.NewError(nil, jsonrpc.CodeParseError, "Parse error", ""))

		return
	}

	if msg.JSONRPC != jsonrpc.Version {
		s.log.Warn("Invalid JSON-RPC version", "version", msg.JSONRPC)

		if msg.ID != nil {
			s.reply(ctx, jsonrpc.NewError(msg.ID, jsonrpc.CodeInvalidRequest, "Invalid Request", ""))
		}

		return
	}

	switch {
	case msg.IsRequest():
		s.handleRequest(ctx, &msg)
	case msg.IsNotification():
		s.handleNotification(&msg)
	default:
		s.log.Debug("Ignoring response from client", "id", msg.IDString())
	}
}

func (s *Server) handleRequest(ctx context.Context, msg *jsonrpc.Message) {
	s.log.Debug("Received request", "method", msg.Method, "id", msg.IDString())

	if msg.Method != jsonrpc.MethodInitialize && msg.Method != jsonrpc.MethodPing && !s.Initialized() {
		// Served anyway; some clients skip the confirmation.
		s.log.Debug("Request before initialized notification", "method", msg.Method)
	}

	switch msg.Method {
	case jsonrpc.MethodInitialize:
		s.reply(ctx, s.handleInitialize(msg))
	case jsonrpc.MethodPing:
		s.reply(ctx, result(msg.ID, nil))
	case jsonrpc.MethodToolsList:
		s.reply(ctx, s.handleToolsList(msg))
	case jsonrpc.MethodToolsCall:
		s.startCall(ctx, msg)
	default:
		s.reply(ctx, jsonrpc.NewError(msg.ID, jsonrpc.CodeMethodNotFound, "Method not found: "+msg.Method, ""))
	}
}

func (s *Server) handleNotification(msg *jsonrpc.Message) {
	switch msg.Method {
	case jsonrpc.MethodInitialized:
		s.mu.Lock()
		s.initialized = true
		s.mu.Unlock()

		s.log.Debug("Client initialized")

	case jsonrpc.MethodCancelled:
		var params cancelledParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			s.log.Warn("Malformed cancellation", "error", err)

			return
		}

		id := idKey(params.RequestID)

		s.inFlightMu.Lock()
		cancel, ok := s.inFlight[id]
		s.inFlightMu.Unlock()

		if ok {
			s.log.Debug("Cancelling request", "id", id, "reason", params.Reason)
			cancel()
		}

	default:
		s.log.Debug("Ignoring notification", "method", msg.Method)
	}
}

func (s *Server) handleInitialize(msg *jsonrpc.Message) *jsonrpc.Message {
	var params mcp.InitializeParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return jsonrpc.NewError(msg.ID, jsonrpc.CodeInvalidParams, "Invalid initialize params: "+err.Error(), "")
		}
	}

	version := jsonrpc.LatestProtocolVersion
	if jsonrpc.IsSupportedProtocolVersion(params.ProtocolVersion) {
		version = params.ProtocolVersion
	}

	client := ""
	if params.ClientInfo != nil {
		client = params.ClientInfo.Name
	}

	s.log.Info("Client connected", "client", client, "requested_version", params.ProtocolVersion, "protocol_version", version)

	return result(msg.ID, &mcp.InitializeResult{
		ProtocolVersion: version,
		Capabilities:    s.registry.Capabilities(),
		ServerInfo:      s.registry.ServerInfo(),
		Instructions:    s.opts.Instructions,
	})
}

func (s *Server) handleToolsList(msg *jsonrpc.Message) *jsonrpc.Message {
	var params mcp.ListToolsParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return jsonrpc.NewError(msg.ID, jsonrpc.CodeInvalidParams, "Invalid tools/list params: "+err.Error(), "")
		}
	}

	tools := s.registry.List()

	if s.opts.PageSize <= 0 {
		return result(msg.ID, &mcp.ListToolsResult{Tools: tools})
	}

	start := 0

	if params.Cursor != "" {
		n, err := strconv.Atoi(params.Cursor)
		if err != nil || n < 0 || n > len(tools) {
			return jsonrpc.NewError(msg.ID, jsonrpc.CodeInvalidParams, "Invalid cursor: "+params.Cursor, "")
		}

		start = n
	}

	end := min(start+s.opts.PageSize, len(tools))

	page := &mcp.ListToolsResult{Tools: tools[start:end]}
	if end < len(tools) {
		page.NextCursor = strconv.Itoa(end)
	}

	return result(msg.ID, page)
}

// startCall runs a tools/call in its own goroutine so the read loop keeps
// serving other requests and cancellations.
func (s *Server) startCall(ctx context.Context, msg *jsonrpc.Message) {
	id := msg.IDString()

	callCtx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)

	s.inFlightMu.Lock()
	s.inFlight[id] = cancel
	s.inFlightMu.Unlock()

	s.wg.Go(func() {
		defer func() {
			s.inFlightMu.Lock()
			delete(s.inFlight, id)
			s.inFlightMu.Unlock()

			cancel()
		}()

		reply := s.handleToolsCall(callCtx, msg)

		if stderrors.Is(context.Cause(callCtx), context.Canceled) && ctx.Err() == nil {
			// Cancelled by the client; it no longer expects an answer.
			s.log.Debug("Request cancelled by client", "id", id)

			return
		}

		s.reply(ctx, reply)
	})
}

type callOutcome struct {
	result *mcp.CallToolResult
	err    error
}

func (s *Server) handleToolsCall(ctx context.Context, msg *jsonrpc.Message) *jsonrpc.Message {
	var params mcp.CallToolParamsRaw
	if err := json.Unmarshal(msg.Params, &params); err != nil || params.Name == "" {
		detail := "missing tool name"
		if err != nil {
			detail = err.Error()
		}

		return jsonrpc.NewError(msg.ID, jsonrpc.CodeInvalidParams, "Invalid tools/call params: "+detail, string(errors.KindInvalidArguments))
	}

	args := map[string]any{}

	if len(params.Arguments) > 0 && string(params.Arguments) != "null" {
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			return toolError(msg.ID, errors.NewToolError(errors.KindInvalidArguments, params.Name, "arguments must be an object"))
		}
	}

	s.log.Debug("Calling tool", "tool", params.Name, "id", msg.IDString())

	start := time.Now()
	done := make(chan callOutcome, 1)

	go func() {
		res, err := s.registry.Dispatch(ctx, params.Name, args)
		done <- callOutcome{result: res, err: err}
	}()

	var out callOutcome

	select {
	case out = <-done:
	case <-ctx.Done():
		// The handler may still be running; its result is dropped.
	}

	if ctx.Err() != nil && (out.err != nil || out.result == nil) {
		out = callOutcome{err: s.cancelledCall(ctx, params.Name)}
	}

	if out.err != nil {
		s.log.Warn("Tool call failed", "tool", params.Name, "id", msg.IDString(), "error", out.err)

		return toolError(msg.ID, out.err)
	}

	s.log.Debug("Tool call succeeded", "tool", params.Name, "id", msg.IDString(), "duration", time.Since(start))

	if out.result.Content == nil {
		out.result.Content = []mcp.Content{}
	}

	return result(msg.ID, out.result)
}

// cancelledCall reports a call whose context ended before it finished.
func (s *Server) cancelledCall(ctx context.Context, tool string) *errors.ToolError {
	if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &errors.ToolError{
			Kind:    errors.KindTimeout,
			Tool:    tool,
			Message: fmt.Sprintf("tool did not finish within %s", s.opts.RequestTimeout),
			Err:     ctx.Err(),
		}
	}

	return &errors.ToolError{
		Kind:    errors.KindToolExecutionError,
		Tool:    tool,
		Message: "tool call cancelled",
		Err:     ctx.Err(),
	}
}

// toolError maps a dispatch failure to a JSON-RPC error with data.kind.
func toolError(id any, err error) *jsonrpc.Message {
	toolErr, ok := stderrors.AsType[*errors.ToolError](err)
	if !ok {
		return jsonrpc.NewError(id, jsonrpc.CodeInternalError, err.Error(), string(errors.KindToolExecutionError))
	}

	code := jsonrpc.CodeInternalError

	switch toolErr.Kind {
	case errors.KindUnknownTool, errors.KindInvalidArguments:
		code = jsonrpc.CodeInvalidParams
	}

	message := toolErr.Message
	if message == "" {
		message = toolErr.Error()
	}

	return jsonrpc.NewError(id, code, message, string(toolErr.Kind))
}

func result(id any, v any) *jsonrpc.Message {
	msg, err := jsonrpc.NewResult(id, v)
	if err != nil {
		return jsonrpc.NewError(id, jsonrpc.CodeInternalError, err.Error(), "")
	}

	return msg
}

func (s *Server) reply(ctx context.Context, msg *jsonrpc.Message) {
	if err := s.write(ctx, msg); err != nil {
		s.log.Error("Failed to write response", "id", msg.IDString(), "error", err)
	}
}

// write encodes msg as one line. Writes are serialized.
func (s *Server) write(_ context.Context, msg *jsonrpc.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	data = append(data, '\n')

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.w == nil {
		return errors.ErrTransportClosed
	}

	if _, err := s.w.Write(data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}

	return nil
}

// idKey renders a request id the way jsonrpc.Message.IDString does.
func idKey(id any) string {
	return (&jsonrpc.Message{ID: id}).IDString()
}

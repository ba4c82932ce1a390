package protocol

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wagiedev/toolbridge-go/internal/errors"
	"github.com/wagiedev/toolbridge-go/internal/jsonrpc"
)

func startController(t *testing.T, transport *mockTransport) *Controller {
	t.Helper()

	controller := NewController(slog.New(slog.DiscardHandler), transport)
	require.NoError(t, controller.Start(context.Background()))

	t.Cleanup(controller.Stop)

	return controller
}

func TestController_SendRequest_RoundTrip(t *testing.T) {
	transport := newMockTransport()
	transport.setRespond(func(req *jsonrpc.Message) *jsonrpc.Message {
		return mustResult(req, map[string]string{"echo": req.Method})
	})

	controller := startController(t, transport)

	raw, err := controller.SendRequest(context.Background(), "tools/list", map[string]any{}, time.Second)
	require.NoError(t, err)
	require.JSONEq(t, `{"echo":"tools/list"}`, string(raw))
	require.Zero(t, controller.Pending())

	sent := transport.nextSent(t)
	require.Equal(t, jsonrpc.Version, sent.JSONRPC)
	require.Len(t, sent.IDString(), 26, "ids are ULIDs")
}

func TestController_SendRequest_UniqueIDs(t *testing.T) {
	transport := newMockTransport()
	transport.setRespond(func(req *jsonrpc.Message) *jsonrpc.Message { return mustResult(req, nil) })

	controller := startController(t, transport)

	seen := make(map[string]bool)

	for range 50 {
		_, err := controller.SendRequest(context.Background(), "ping", nil, time.Second)
		require.NoError(t, err)

		id := transport.nextSent(t).IDString()
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

// TestController_OutOfOrderResponses tests that responses are matched by id,
// not by arrival order.
func TestController_OutOfOrderResponses(t *testing.T) {
	transport := newMockTransport()
	controller := startController(t, transport)

	const calls = 3

	type reply struct {
		method string
		raw    json.RawMessage
		err    error
	}

	replies := make(chan reply, calls)
	methods := []string{"first", "second", "third"}

	for _, method := range methods {
		go func() {
			raw, err := controller.SendRequest(context.Background(), method, nil, 2*time.Second)
			replies <- reply{method: method, raw: raw, err: err}
		}()
	}

	requests := make([]*jsonrpc.Message, 0, calls)
	for range calls {
		requests = append(requests, transport.nextSent(t))
	}

	eventually(t, func() bool { return controller.Pending() == calls })

	// Answer in reverse order of sending.
	for i := len(requests) - 1; i >= 0; i-- {
		transport.deliver(mustResult(requests[i], map[string]string{"method": requests[i].Method}))
	}

	for range calls {
		r := <-replies
		require.NoError(t, r.err)

		var body map[string]string
		require.NoError(t, json.Unmarshal(r.raw, &body))
		require.Equal(t, r.method, body["method"], "each caller gets its own response")
	}

	require.Zero(t, controller.Pending())
}

func TestController_SendRequest_ErrorResponse(t *testing.T) {
	transport := newMockTransport()
	transport.setRespond(func(req *jsonrpc.Message) *jsonrpc.Message {
		return jsonrpc.NewError(req.ID, jsonrpc.CodeInvalidParams, "Unknown tool: translate", "UnknownTool")
	})

	controller := startController(t, transport)

	_, err := controller.SendRequest(context.Background(), "tools/call", nil, time.Second)

	rpcErr, ok := stderrors.AsType[*jsonrpc.Error](err)
	require.True(t, ok)
	require.Equal(t, jsonrpc.CodeInvalidParams, rpcErr.Code)
	require.Equal(t, "UnknownTool", rpcErr.Kind())
}

// TestController_Timeout_LateResponseDiscarded tests that a timed-out request
// leaves the table and its late response is dropped without affecting others.
func TestController_Timeout_LateResponseDiscarded(t *testing.T) {
	transport := newMockTransport()
	controller := startController(t, transport)

	_, err := controller.SendRequest(context.Background(), "tools/call", nil, 20*time.Millisecond)

	require.ErrorIs(t, err, errors.ErrRequestTimeout)

	kind, ok := errors.KindOf(err)
	require.True(t, ok)
	require.Equal(t, errors.KindTimeout, kind)
	require.Zero(t, controller.Pending())

	timedOut := transport.nextSentMethod(t, "tools/call")

	cancelled := transport.nextSentMethod(t, jsonrpc.MethodCancelled)

	var params cancelledParams
	require.NoError(t, json.Unmarshal(cancelled.Params, &params))
	require.Equal(t, timedOut.IDString(), params.RequestID)

	// The late response must not be delivered anywhere.
	transport.deliver(mustResult(timedOut, map[string]string{"late": "yes"}))

	transport.setRespond(func(req *jsonrpc.Message) *jsonrpc.Message {
		return mustResult(req, map[string]string{"fresh": "yes"})
	})

	raw, err := controller.SendRequest(context.Background(), "ping", nil, time.Second)
	require.NoError(t, err)
	require.JSONEq(t, `{"fresh":"yes"}`, string(raw))
}

func TestController_SendRequest_ZeroTimeoutWaitsForContext(t *testing.T) {
	transport := newMockTransport()
	controller := startController(t, transport)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := controller.SendRequest(ctx, "tools/call", nil, 0)

	require.ErrorIs(t, err, errors.ErrRequestTimeout)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestController_SendRequest_ContextCancelled(t *testing.T) {
	transport := newMockTransport()
	controller := startController(t, transport)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)

	go func() {
		_, err := controller.SendRequest(ctx, "tools/call", nil, time.Minute)
		errCh <- err
	}()

	transport.nextSent(t)
	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
		_, isToolErr := errors.KindOf(err)
		require.False(t, isToolErr)
	case <-time.After(2 * time.Second):
		t.Fatal("SendRequest ignored cancellation")
	}

	require.Zero(t, controller.Pending())
}

func TestController_SendFailure_RemovesPending(t *testing.T) {
	transport := newMockTransport()
	transport.setSendErr(errors.ErrTransportClosed)

	controller := startController(t, transport)

	_, err := controller.SendRequest(context.Background(), "tools/call", nil, time.Second)

	require.ErrorIs(t, err, errors.ErrTransportClosed)
	require.ErrorContains(t, err, "send tools/call")
	require.Zero(t, controller.Pending())
}

// TestController_Stop_FailsAllPending tests that closing with K pending calls
// resolves each exactly once with SessionClosed.
func TestController_Stop_FailsAllPending(t *testing.T) {
	transport := newMockTransport()
	controller := NewController(slog.New(slog.DiscardHandler), transport)
	require.NoError(t, controller.Start(context.Background()))

	const calls = 5

	errCh := make(chan error, calls)

	for range calls {
		go func() {
			_, err := controller.SendRequest(context.Background(), "tools/call", nil, time.Minute)
			errCh <- err
		}()
	}

	eventually(t, func() bool { return controller.Pending() == calls })

	controller.Stop()

	for range calls {
		select {
		case err := <-errCh:
			require.ErrorIs(t, err, errors.ErrSessionClosed)
		case <-time.After(2 * time.Second):
			t.Fatal("pending call was not resolved")
		}
	}

	require.Zero(t, controller.Pending())

	_, err := controller.SendRequest(context.Background(), "ping", nil, time.Second)
	require.ErrorIs(t, err, errors.ErrSessionClosed)
}

func TestController_TransportError_FailsPendingWithCause(t *testing.T) {
	transport := newMockTransport()
	controller := startController(t, transport)

	errCh := make(chan error, 1)

	go func() {
		_, err := controller.SendRequest(context.Background(), "tools/call", nil, time.Minute)
		errCh <- err
	}()

	eventually(t, func() bool { return controller.Pending() == 1 })

	transport.errs <- io.EOF

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, errors.ErrTransportLost)
		require.ErrorIs(t, err, io.EOF)
	case <-time.After(2 * time.Second):
		t.Fatal("pending call was not failed")
	}

	<-controller.Done()
	require.ErrorIs(t, controller.FatalError(), io.EOF)

	_, err := controller.SendRequest(context.Background(), "ping", nil, time.Second)
	require.ErrorIs(t, err, errors.ErrTransportLost)
}

func TestController_StreamEnd_IsFatal(t *testing.T) {
	transport := newMockTransport()
	controller := startController(t, transport)

	require.NoError(t, transport.Close())

	select {
	case <-controller.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stream end did not stop the controller")
	}

	require.ErrorIs(t, controller.FatalError(), io.ErrUnexpectedEOF)
}

func TestController_StreamEnd_PrefersBufferedTransportError(t *testing.T) {
	transport := newMockTransport()

	procErr := &errors.ProcessError{ExitCode: 1, Stderr: "crash"}
	transport.errs <- procErr

	// Both channels are ready; whichever the loop sees first, the cause is
	// the process error.
	controller := startController(t, transport)
	require.NoError(t, transport.Close())

	<-controller.Done()

	var got *errors.ProcessError
	require.ErrorAs(t, controller.FatalError(), &got)
}

func TestController_ServerRequests(t *testing.T) {
	transport := newMockTransport()
	controller := startController(t, transport)

	controller.RegisterHandler("ping", func(context.Context, *jsonrpc.Message) (any, error) {
		return struct{}{}, nil
	})
	controller.RegisterHandler("sampling/fail", func(context.Context, *jsonrpc.Message) (any, error) {
		return nil, &jsonrpc.Error{Code: jsonrpc.CodeInvalidParams, Message: "bad"}
	})

	t.Run("ping answered", func(t *testing.T) {
		transport.deliverRaw([]byte(`{"jsonrpc":"2.0","id":7,"method":"ping"}`))

		resp := transport.nextSent(t)
		require.Equal(t, "7", resp.IDString())
		require.Nil(t, resp.Error)
		require.JSONEq(t, `{}`, string(resp.Result))
	})

	t.Run("unknown method", func(t *testing.T) {
		transport.deliverRaw([]byte(`{"jsonrpc":"2.0","id":"s1","method":"roots/list"}`))

		resp := transport.nextSent(t)
		require.Equal(t, "s1", resp.IDString())
		require.NotNil(t, resp.Error)
		require.Equal(t, jsonrpc.CodeMethodNotFound, resp.Error.Code)
	})

	t.Run("handler error", func(t *testing.T) {
		transport.deliverRaw([]byte(`{"jsonrpc":"2.0","id":"s2","method":"sampling/fail"}`))

		resp := transport.nextSent(t)
		require.NotNil(t, resp.Error)
		require.Equal(t, jsonrpc.CodeInvalidParams, resp.Error.Code)
	})
}

func TestController_Notifications(t *testing.T) {
	transport := newMockTransport()
	controller := startController(t, transport)

	got := make(chan string, 1)

	controller.RegisterHandler(jsonrpc.MethodToolsListChanged, func(_ context.Context, msg *jsonrpc.Message) (any, error) {
		got <- msg.Method

		return nil, nil
	})

	// Garbage and unhandled notifications are dropped without side effects.
	transport.deliverRaw([]byte(`{"jsonrpc":"2.0","method":"notifications/message"}`))
	transport.deliverRaw([]byte(`{"jsonrpc":`))
	transport.deliverRaw([]byte(`{"jsonrpc":"2.0","method":"notifications/tools/list_changed"}`))

	select {
	case method := <-got:
		require.Equal(t, jsonrpc.MethodToolsListChanged, method)
	case <-time.After(2 * time.Second):
		t.Fatal("notification handler not invoked")
	}

	require.Zero(t, transport.countSent(""), "notifications are never answered")
}

func TestController_SetFatalError_ConcurrentWithStop(t *testing.T) {
	// Run with: go test -race -count=100
	for range 100 {
		transport := newMockTransport()
		controller := NewController(slog.New(slog.DiscardHandler), transport)
		require.NoError(t, controller.Start(context.Background()))

		var wg sync.WaitGroup

		wg.Go(func() { controller.SetFatalError(stderrors.New("transport error")) })
		wg.Go(controller.Stop)

		wg.Wait()

		select {
		case <-controller.Done():
		default:
			t.Fatal("done channel should be closed")
		}
	}
}

func TestController_SetFatalError_MultipleCalls(t *testing.T) {
	transport := newMockTransport()
	controller := startController(t, transport)

	controller.SetFatalError(stderrors.New("first error"))
	require.EqualError(t, controller.FatalError(), "first error")

	controller.SetFatalError(stderrors.New("second error"))
	require.EqualError(t, controller.FatalError(), "first error")
}

func TestController_Stop_MultipleCalls(t *testing.T) {
	transport := newMockTransport()
	controller := NewController(slog.New(slog.DiscardHandler), transport)
	require.NoError(t, controller.Start(context.Background()))

	controller.Stop()
	controller.Stop()
	controller.Stop()

	select {
	case <-controller.Done():
	default:
		t.Fatal("done channel should be closed")
	}
}

// TestController_SendRequest_ResponseAfterTimeout_Race tests the window where
// a response arrives while its waiter times out. Every call must resolve
// exactly once and the table must end empty.
//
// Run with: go test -race -count=10 -run TestController_SendRequest_ResponseAfterTimeout_Race
func TestController_SendRequest_ResponseAfterTimeout_Race(t *testing.T) {
	for range 100 {
		transport := newMockTransport()
		transport.setRespond(func(req *jsonrpc.Message) *jsonrpc.Message { return mustResult(req, nil) })

		controller := NewController(slog.New(slog.DiscardHandler), transport)
		require.NoError(t, controller.Start(context.Background()))

		var wg sync.WaitGroup

		for range 5 {
			wg.Go(func() {
				_, err := controller.SendRequest(context.Background(), "ping", nil, time.Millisecond)
				if err != nil {
					assert.ErrorIs(t, err, errors.ErrRequestTimeout)
				}
			})
		}

		wg.Wait()

		assert.Zero(t, controller.Pending())
		controller.Stop()
	}
}

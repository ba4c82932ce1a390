package protocol

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wagiedev/toolbridge-go/internal/config"
	"github.com/wagiedev/toolbridge-go/internal/errors"
	"github.com/wagiedev/toolbridge-go/internal/jsonrpc"
)

// responder answers a request sent by the client. Returning nil leaves the
// request unanswered.
type responder func(req *jsonrpc.Message) *jsonrpc.Message

// mockTransport implements config.Transport for testing. Every message the
// client sends is recorded; requests are passed to respond when set.
type mockTransport struct {
	mu         sync.Mutex
	closed     bool
	closeCalls int
	sendErr    error
	respond    responder

	inbound chan json.RawMessage
	errs    chan error
	sent    chan *jsonrpc.Message
}

var _ config.Transport = (*mockTransport)(nil)

func newMockTransport() *mockTransport {
	return &mockTransport{
		inbound: make(chan json.RawMessage, 100),
		errs:    make(chan error, 10),
		sent:    make(chan *jsonrpc.Message, 100),
	}
}

func (m *mockTransport) Start(context.Context) error { return nil }

func (m *mockTransport) ReadMessages(context.Context) (<-chan json.RawMessage, <-chan error) {
	return m.inbound, m.errs
}

func (m *mockTransport) SendMessage(_ context.Context, data []byte) error {
	m.mu.Lock()
	sendErr, respond, closed := m.sendErr, m.respond, m.closed
	m.mu.Unlock()

	if closed {
		return errors.ErrTransportClosed
	}

	if sendErr != nil {
		return sendErr
	}

	var msg jsonrpc.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}

	m.sent <- &msg

	if respond != nil && msg.IsRequest() {
		if reply := respond(&msg); reply != nil {
			// Delivered asynchronously like a real peer.
			go m.deliver(reply)
		}
	}

	return nil
}

// deliver pushes a message to the client as if the server wrote it.
func (m *mockTransport) deliver(msg *jsonrpc.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		panic(err)
	}

	m.deliverRaw(data)
}

func (m *mockTransport) deliverRaw(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	m.inbound <- data
}

func (m *mockTransport) setRespond(r responder) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.respond = r
}

func (m *mockTransport) setSendErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sendErr = err
}

func (m *mockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeCalls++

	if !m.closed {
		m.closed = true
		close(m.inbound)
	}

	return nil
}

func (m *mockTransport) closeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.closeCalls
}

func (m *mockTransport) IsReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return !m.closed
}

func (m *mockTransport) EndInput() error { return nil }

// nextSent waits for the next message the client sends.
func (m *mockTransport) nextSent(t *testing.T) *jsonrpc.Message {
	t.Helper()

	select {
	case msg := <-m.sent:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a sent message")

		return nil
	}
}

// nextSentMethod skips messages until one with the given method arrives.
func (m *mockTransport) nextSentMethod(t *testing.T, method string) *jsonrpc.Message {
	t.Helper()

	for {
		if msg := m.nextSent(t); msg.Method == method {
			return msg
		}
	}
}

// countSent drains what has been sent so far and counts one method.
func (m *mockTransport) countSent(method string) int {
	count := 0

	for {
		select {
		case msg := <-m.sent:
			if msg.Method == method {
				count++
			}
		default:
			return count
		}
	}
}

func mustResult(req *jsonrpc.Message, v any) *jsonrpc.Message {
	msg, err := jsonrpc.NewResult(req.ID, v)
	if err != nil {
		panic(err)
	}

	return msg
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()

	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

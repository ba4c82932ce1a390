package client

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wagiedev/toolbridge-go/internal/config"
	"github.com/wagiedev/toolbridge-go/internal/errors"
	"github.com/wagiedev/toolbridge-go/internal/jsonrpc"
	"github.com/wagiedev/toolbridge-go/internal/protocol"
)

// mockTransport implements config.Transport for testing.
// It answers initialize with the configured version; other requests go
// unanswered.
type mockTransport struct {
	mu         sync.Mutex
	started    bool
	closed     bool
	closeCalls int
	startErr   error
	version    string

	messages chan json.RawMessage
	errs     chan error
}

var _ config.Transport = (*mockTransport)(nil)

func newMockTransport() *mockTransport {
	return &mockTransport{
		version:  jsonrpc.LatestProtocolVersion,
		messages: make(chan json.RawMessage, 100),
		errs:     make(chan error, 10),
	}
}

func (m *mockTransport) Start(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.startErr != nil {
		return m.startErr
	}

	m.started = true

	return nil
}

func (m *mockTransport) ReadMessages(context.Context) (<-chan json.RawMessage, <-chan error) {
	return m.messages, m.errs
}

func (m *mockTransport) SendMessage(_ context.Context, data []byte) error {
	var msg jsonrpc.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}

	if !msg.IsRequest() || msg.Method != jsonrpc.MethodInitialize {
		return nil
	}

	reply, err := jsonrpc.NewResult(msg.ID, &mcp.InitializeResult{
		ProtocolVersion: m.version,
		ServerInfo:      &mcp.Implementation{Name: "mock", Version: "1.0.0"},
		Capabilities:    &mcp.ServerCapabilities{Tools: &mcp.ToolCapabilities{}},
	})
	if err != nil {
		return err
	}

	raw, err := json.Marshal(reply)
	if err != nil {
		return err
	}

	// Send the response asynchronously to avoid deadlock
	go func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		if !m.closed {
			m.messages <- raw
		}
	}()

	return nil
}

func (m *mockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeCalls++

	if !m.closed {
		m.closed = true
		close(m.messages)
		close(m.errs)
	}

	return nil
}

func (m *mockTransport) IsReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.started && !m.closed
}

func (m *mockTransport) EndInput() error { return nil }

func (m *mockTransport) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.closed
}

func TestClient_Start(t *testing.T) {
	transport := newMockTransport()
	c := New()

	options := &config.Options{Transport: transport}
	require.NoError(t, c.Start(context.Background(), options))

	t.Cleanup(func() { _ = c.Close() })

	session := c.Session()
	require.NotNil(t, session)
	require.Equal(t, protocol.StateReady, session.State())
	require.Equal(t, "mock", session.ServerInfo().ServerInfo.Name)
	require.Same(t, transport, options.Transport, "caller options untouched")
}

func TestClient_SessionNilBeforeStart(t *testing.T) {
	require.Nil(t, New().Session())
}

func TestClient_StartTwice(t *testing.T) {
	c := New()
	require.NoError(t, c.Start(context.Background(), &config.Options{Transport: newMockTransport()}))

	t.Cleanup(func() { _ = c.Close() })

	err := c.Start(context.Background(), &config.Options{Transport: newMockTransport()})
	require.ErrorIs(t, err, errors.ErrAlreadyConnected)
}

func TestClient_StartTransportError(t *testing.T) {
	transport := newMockTransport()
	transport.startErr = stderrors.New("boom")

	c := New()
	err := c.Start(context.Background(), &config.Options{Transport: transport})
	require.ErrorContains(t, err, "start transport")
	require.Nil(t, c.Session())

	err = c.Start(context.Background(), &config.Options{Transport: newMockTransport()})
	require.ErrorIs(t, err, errors.ErrClientClosed)
}

func TestClient_StartIncompatibleVersion(t *testing.T) {
	transport := newMockTransport()
	transport.version = "1999-01-01"

	c := New()
	err := c.Start(context.Background(), &config.Options{Transport: transport})

	_, ok := stderrors.AsType[*errors.IncompatibleVersionError](err)
	require.True(t, ok, "got %v", err)
	require.True(t, transport.isClosed(), "transport released after failed handshake")
}

func TestClient_StartContextCancellation(t *testing.T) {
	transport := newMockTransport()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	c := New()
	require.NoError(t, c.Start(ctx, &config.Options{Transport: transport}))

	t.Cleanup(func() { _ = c.Close() })

	// The session outlives the startup context.
	<-ctx.Done()
	time.Sleep(50 * time.Millisecond)

	session := c.Session()
	require.NotNil(t, session)
	assert.Equal(t, protocol.StateReady, session.State())
	assert.False(t, transport.isClosed())
}

func TestClient_Close(t *testing.T) {
	transport := newMockTransport()
	c := New()
	require.NoError(t, c.Start(context.Background(), &config.Options{Transport: transport}))

	session := c.Session()

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	require.True(t, transport.isClosed())
	require.Equal(t, protocol.StateClosed, session.State())
	require.Nil(t, c.Session())

	err := c.Start(context.Background(), &config.Options{Transport: newMockTransport()})
	require.ErrorIs(t, err, errors.ErrClientClosed)
}

func TestClient_CloseBeforeStart(t *testing.T) {
	require.NoError(t, New().Close())
}

package toolbridge_test

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wagiedev/toolbridge-go"
	"github.com/wagiedev/toolbridge-go/internal/demo"
)

// helperEnv makes the test binary act as a tool server instead of running
// tests.
const helperEnv = "TOOLBRIDGE_TEST_SERVER"

func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "1" {
		os.Exit(runHelperServer())
	}

	os.Exit(m.Run())
}

type sleepArgs struct {
	Millis int `json:"millis" jsonschema:"required"`
}

// runHelperServer serves the demo tools plus "sleep" and "crash" on stdio.
func runHelperServer() int {
	reg, err := demo.NewRegistry()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)

		return 2
	}

	sleepSchema, err := toolbridge.Reflect[sleepArgs]()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)

		return 2
	}

	reg.MustRegister(toolbridge.NewTool("sleep", "Sleep for a while", sleepSchema),
		toolbridge.Bind(func(ctx context.Context, args sleepArgs) (*toolbridge.CallToolResult, error) {
			select {
			case <-time.After(time.Duration(args.Millis) * time.Millisecond):
				return toolbridge.TextResult("slept " + strconv.Itoa(args.Millis)), nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}))

	reg.MustRegister(toolbridge.NewTool("crash", "Exit the server", nil),
		func(context.Context, *toolbridge.CallToolRequest) (*toolbridge.CallToolResult, error) {
			fmt.Fprintln(os.Stderr, "crashing on request")
			os.Exit(3)

			return nil, nil
		})

	if err := toolbridge.Serve(context.Background(), reg); err != nil {
		fmt.Fprintln(os.Stderr, err)

		return 1
	}

	return 0
}

func helperOptions(extra ...toolbridge.Option) []toolbridge.Option {
	opts := []toolbridge.Option{
		toolbridge.WithCommand(os.Args[0]),
		toolbridge.WithEnv(map[string]string{helperEnv: "1"}),
		toolbridge.WithInitializeTimeout(10 * time.Second),
		toolbridge.WithCloseGracePeriod(500 * time.Millisecond),
	}

	return append(opts, extra...)
}

func connect(t *testing.T, extra ...toolbridge.Option) *toolbridge.Session {
	t.Helper()

	session, err := toolbridge.Connect(context.Background(), helperOptions(extra...)...)
	require.NoError(t, err)

	t.Cleanup(func() { _ = session.Close() })

	return session
}

func TestConnect(t *testing.T) {
	session := connect(t)

	require.Equal(t, toolbridge.StateReady, session.State())

	info := session.ServerInfo()
	require.NotNil(t, info)
	require.Equal(t, demo.ServerName, info.ServerInfo.Name)
	require.NotEmpty(t, info.ProtocolVersion)

	require.NoError(t, session.Ping(context.Background()))
}

func TestConnect_LaunchError(t *testing.T) {
	_, err := toolbridge.Connect(context.Background(),
		toolbridge.WithCommand("toolbridge-definitely-not-installed"),
	)
	require.Error(t, err)

	_, ok := errors.AsType[*toolbridge.LaunchError](err)
	require.True(t, ok, "got %v", err)
}

func TestConnect_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := toolbridge.Connect(ctx, helperOptions()...)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSession_ListTools(t *testing.T) {
	session := connect(t)

	tools, err := session.ListTools(context.Background())
	require.NoError(t, err)

	names := make([]string, len(tools))
	for i, tool := range tools {
		names[i] = tool.Name
	}

	require.Equal(t, []string{demo.SearchDocuments, demo.GetWeather, "sleep", "crash"}, names)
}

func TestSession_CallTool(t *testing.T) {
	session := connect(t)
	ctx := context.Background()

	result, err := session.CallTool(ctx, demo.SearchDocuments, map[string]any{"query": "go"})
	require.NoError(t, err)
	require.Equal(t, "Found 10 documents matching 'go'", result.Text())
	require.NotEmpty(t, result.RequestID)

	result, err = session.CallTool(ctx, demo.SearchDocuments, map[string]any{"query": "go", "limit": 3})
	require.NoError(t, err)
	require.Equal(t, "Found 3 documents matching 'go'", result.Text())

	result, err = session.CallTool(ctx, demo.GetWeather, map[string]any{"location": "Paris"})
	require.NoError(t, err)
	require.Equal(t, "Weather in Paris: 72°F, sunny", result.Text())
}

func TestSession_CallToolErrors(t *testing.T) {
	session := connect(t)
	ctx := context.Background()

	tests := []struct {
		name string
		tool string
		args map[string]any
		want error
	}{
		{"unknown tool", "nonexistent", nil, toolbridge.ErrUnknownTool},
		{"missing required", demo.GetWeather, map[string]any{}, toolbridge.ErrInvalidArguments},
		{"wrong type", demo.SearchDocuments, map[string]any{"query": 7}, toolbridge.ErrInvalidArguments},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := session.CallTool(ctx, tt.tool, tt.args)
			require.ErrorIs(t, err, tt.want)
		})
	}

	// Per-call failures leave the session usable.
	result, err := session.CallTool(ctx, demo.GetWeather, map[string]any{"location": "Oslo"})
	require.NoError(t, err)
	require.Equal(t, "Weather in Oslo: 72°F, sunny", result.Text())
}

func TestSession_ConcurrentCalls(t *testing.T) {
	session := connect(t)

	const n = 20

	var wg sync.WaitGroup

	results := make([]string, n)
	errs := make([]error, n)

	for i := range n {
		wg.Go(func() {
			// Shorter sleeps for later calls so responses arrive out of order.
			millis := (n - i) * 5

			if i%2 == 0 {
				r, err := session.CallTool(context.Background(), "sleep", map[string]any{"millis": millis})
				results[i], errs[i] = r.Text(), err

				return
			}

			r, err := session.CallTool(context.Background(), demo.GetWeather,
				map[string]any{"location": "city-" + strconv.Itoa(i)})
			results[i], errs[i] = r.Text(), err
		})
	}

	wg.Wait()

	for i := range n {
		require.NoError(t, errs[i])

		if i%2 == 0 {
			assert.Equal(t, "slept "+strconv.Itoa((n-i)*5), results[i])
		} else {
			assert.Equal(t, "Weather in city-"+strconv.Itoa(i)+": 72°F, sunny", results[i])
		}
	}
}

func TestSession_CallTimeout(t *testing.T) {
	session := connect(t, toolbridge.WithCallTimeout(100*time.Millisecond))

	start := time.Now()
	_, err := session.CallTool(context.Background(), "sleep", map[string]any{"millis": 5000})
	require.ErrorIs(t, err, toolbridge.ErrRequestTimeout)
	require.Less(t, time.Since(start), 3*time.Second)

	result, err := session.CallTool(context.Background(), demo.GetWeather, map[string]any{"location": "Rome"})
	require.NoError(t, err)
	require.Equal(t, "Weather in Rome: 72°F, sunny", result.Text())
}

func TestSession_ContextCancelled(t *testing.T) {
	session := connect(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := session.CallTool(ctx, "sleep", map[string]any{"millis": 5000})
	require.Error(t, err)

	require.Equal(t, toolbridge.StateReady, session.State())
}

func TestSession_Close(t *testing.T) {
	session := connect(t)

	errCh := make(chan error, 1)

	go func() {
		_, err := session.CallTool(context.Background(), "sleep", map[string]any{"millis": 10000})
		errCh <- err
	}()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, session.Close())
	require.NoError(t, session.Close())

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, toolbridge.ErrSessionClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("pending call not released by Close")
	}

	_, err := session.CallTool(context.Background(), demo.GetWeather, map[string]any{"location": "x"})
	require.ErrorIs(t, err, toolbridge.ErrSessionClosed)
	require.Equal(t, toolbridge.StateClosed, session.State())
}

func TestSession_ServerCrash(t *testing.T) {
	session := connect(t)

	_, err := session.CallTool(context.Background(), "crash", nil)
	require.ErrorIs(t, err, toolbridge.ErrTransportLost)

	require.Eventually(t, func() bool {
		return session.State() == toolbridge.StateFailed
	}, 5*time.Second, 10*time.Millisecond)

	_, err = session.ListTools(context.Background())
	require.ErrorIs(t, err, toolbridge.ErrSessionFailed)
	require.Error(t, session.Err())
}

func TestSession_OversizedResponse(t *testing.T) {
	session := connect(t, toolbridge.WithMaxBufferSize(16*1024), toolbridge.WithCallTimeout(30*time.Second))

	start := time.Now()

	_, err := session.CallTool(context.Background(), demo.SearchDocuments, map[string]any{
		"query": strings.Repeat("q", 64*1024),
	})
	require.ErrorIs(t, err, toolbridge.ErrTransportLost)
	require.ErrorIs(t, err, bufio.ErrTooLong)
	require.Less(t, time.Since(start), 10*time.Second)

	require.Eventually(t, func() bool {
		return session.State() == toolbridge.StateFailed
	}, 5*time.Second, 10*time.Millisecond)

	_, err = session.ListTools(context.Background())
	require.ErrorIs(t, err, toolbridge.ErrSessionFailed)
}

func TestSession_Capabilities(t *testing.T) {
	session := connect(t)
	ctx := context.Background()

	caps, err := session.Capabilities(ctx)
	require.NoError(t, err)
	require.Len(t, caps, 4)

	weather := caps[1]
	require.Equal(t, demo.GetWeather, weather.Name())
	require.Equal(t, "Get weather information", weather.Description())
	require.Equal(t, []string{"location"}, weather.Required())

	text, err := weather.Invoke(ctx, map[string]any{"location": "Lima"})
	require.NoError(t, err)
	require.Equal(t, "Weather in Lima: 72°F, sunny", text)

	set := toolbridge.NewCapabilitySet(caps)
	outcomes := set.InvokeAll(ctx, []toolbridge.Invocation{
		{Name: demo.SearchDocuments, Args: map[string]any{"query": "a"}},
		{Name: "missing"},
		{Name: demo.GetWeather, Args: map[string]any{"location": "b"}},
	})

	require.Len(t, outcomes, 3)
	require.NoError(t, outcomes[0].Err)
	require.Equal(t, "Found 10 documents matching 'a'", outcomes[0].Text)
	require.ErrorIs(t, outcomes[1].Err, toolbridge.ErrUnknownTool)
	require.Equal(t, "Weather in b: 72°F, sunny", outcomes[2].Text)
}

func TestWithSession(t *testing.T) {
	var text string

	err := toolbridge.WithSession(context.Background(), func(s *toolbridge.Session) error {
		r, err := s.CallTool(context.Background(), demo.GetWeather, map[string]any{"location": "Kyiv"})
		if err != nil {
			return err
		}

		text = r.Text()

		return nil
	}, helperOptions()...)

	require.NoError(t, err)
	require.Equal(t, "Weather in Kyiv: 72°F, sunny", text)
}

func TestWithSession_CallbackError(t *testing.T) {
	sentinel := errors.New("callback failed")

	err := toolbridge.WithSession(context.Background(), func(*toolbridge.Session) error {
		return sentinel
	}, helperOptions()...)

	require.ErrorIs(t, err, sentinel)
}

func TestWithSession_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := toolbridge.WithSession(ctx, func(*toolbridge.Session) error {
		t.Error("callback should not be called with cancelled context")

		return nil
	})

	require.ErrorIs(t, err, context.Canceled)
}

package subprocess

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/wagiedev/toolbridge-go/internal/cli"
	"github.com/wagiedev/toolbridge-go/internal/config"
	"github.com/wagiedev/toolbridge-go/internal/errors"
)

const (
	// defaultMaxLineSize is the maximum size of one stdout line.
	defaultMaxLineSize = 1024 * 1024 // 1MB
	// maxStderrBufferSize caps the stderr kept for error reports.
	// The callback still receives every line.
	maxStderrBufferSize = 1024 * 1024 // 1MB
	// stderrTailLines is how much of stderr a ProcessError carries.
	stderrTailLines = 20
	// killWaitTimeout bounds the wait for exit after a kill.
	killWaitTimeout = 5 * time.Second
)

// Transport implements config.Transport by spawning a tool server process.
type Transport struct {
	log            *slog.Logger
	options        *config.Options
	command        *cli.Command
	cmd            *exec.Cmd
	stdin          io.WriteCloser
	stdout         io.ReadCloser
	stderr         io.ReadCloser
	stderrCallback func(string)

	writeMu sync.Mutex // Serializes stdin writes
	mu      sync.Mutex // Protects the fields below
	closing bool       // Close() has been called
	// stdinClosed is set by EndInput, Close or a cancelled write.
	stdinClosed bool

	stderrWg  sync.WaitGroup
	stderrMu  sync.Mutex
	stderrBuf strings.Builder

	readOnce sync.Once
	messages chan json.RawMessage
	errs     chan error

	waitOnce sync.Once
	exited   chan struct{}
	waitErr  error

	closeOnce sync.Once
	closeErr  error
}

// Compile-time verification that Transport implements the config.Transport interface.
var _ config.Transport = (*Transport)(nil)

// NewTransport creates a transport for the executable described by options.
//
// Executable discovery is deferred to Start(), which returns
// *errors.LaunchError when the command cannot be resolved or spawned.
func NewTransport(log *slog.Logger, options *config.Options) *Transport {
	return &Transport{
		log:            log.With("component", "subprocess_transport"),
		options:        options,
		stderrCallback: options.Stderr,
		exited:         make(chan struct{}),
	}
}

// Start resolves the executable and spawns the process with stdin, stdout
// and stderr pipes.
//
// The process lifetime is not bound to ctx; ctx only bounds discovery.
// The process runs until Close.
func (t *Transport) Start(ctx context.Context) error {
	t.log.Info("Starting tool server subprocess", "command", t.options.Command)

	discoverer := cli.NewDiscoverer(&cli.Config{
		Command: t.options.Command,
		Cwd:     t.options.Cwd,
		Logger:  t.log,
	})

	path, err := discoverer.Discover(ctx)
	if err != nil {
		return err
	}

	t.command = cli.BuildCommand(path, t.options)
	t.log.Debug("Built command", "path", path, "args", t.command.Args)

	//nolint:gosec // G204: launching a configured tool server is the purpose of this transport
	cmd := exec.Command(t.command.Path, t.command.Args...)
	cmd.Dir = t.command.Dir
	cmd.Env = t.command.Env
	setProcessGroup(cmd)

	launchErr := func(stage string, err error) error {
		t.log.Error("Failed to launch tool server", "stage", stage, "error", err)

		return &errors.LaunchError{Command: t.options.Command, Err: fmt.Errorf("%s: %w", stage, err)}
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return launchErr("stdin pipe", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return launchErr("stdout pipe", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return launchErr("stderr pipe", err)
	}

	if err := cmd.Start(); err != nil {
		return launchErr("start process", err)
	}

	t.mu.Lock()
	t.cmd = cmd
	t.stdin = stdin
	t.stdout = stdout
	t.stderr = stderr
	t.mu.Unlock()

	// Stderr is drained from the start so a chatty server never blocks on it.
	t.stderrWg.Go(t.readStderr)

	t.log.Info("Tool server subprocess started", "pid", cmd.Process.Pid)

	return nil
}

func (t *Transport) readStderr() {
	scanner := bufio.NewScanner(t.stderr)
	for scanner.Scan() {
		line := scanner.Text()

		t.stderrMu.Lock()

		if t.stderrBuf.Len() < maxStderrBufferSize {
			if t.stderrBuf.Len() > 0 {
				t.stderrBuf.WriteString("\n")
			}

			t.stderrBuf.WriteString(line)
		}

		t.stderrMu.Unlock()

		if t.stderrCallback != nil {
			t.stderrCallback(line)
		}
	}

	if err := scanner.Err(); err != nil {
		t.log.Debug("Stderr scanner error", "error", err)
	}
}

// Stderr returns the captured stderr output so far.
func (t *Transport) Stderr() string {
	t.stderrMu.Lock()
	defer t.stderrMu.Unlock()

	return t.stderrBuf.String()
}

// ReadMessages reads newline-delimited JSON from the process stdout.
//
// A single goroutine yields each message in arrival order. Lines that are
// not valid JSON, such as banners printed by some servers, are logged and
// skipped. When stdout ends the goroutine waits for the process; an
// unexpected non-zero exit is delivered on the error channel as
// *errors.ProcessError. A read error, such as a line longer than
// MaxBufferSize, is delivered at once while the process keeps running. Both channels are closed when the goroutine exits.
// Calling ReadMessages again returns the same channels.
func (t *Transport) ReadMessages(ctx context.Context) (<-chan json.RawMessage, <-chan error) {
	t.readOnce.Do(func() {
		t.messages = make(chan json.RawMessage)
		t.errs = make(chan error, 1)

		t.mu.Lock()
		started := t.cmd != nil
		t.mu.Unlock()

		if !started {
			t.errs <- errors.ErrTransportNotConnected

			close(t.errs)
			close(t.messages)

			return
		}

		go t.readLoop(ctx)
	})

	return t.messages, t.errs
}

func (t *Transport) readLoop(ctx context.Context) {
	defer close(t.messages)
	defer close(t.errs)
	defer t.log.Debug("ReadMessages goroutine stopped")

	maxLine := defaultMaxLineSize
	if t.options.MaxBufferSize != nil && *t.options.MaxBufferSize > 0 {
		maxLine = *t.options.MaxBufferSize
	}

	scanner := bufio.NewScanner(t.stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)

	messageCount := 0

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		if !json.Valid(line) {
			t.log.Warn("Skipping non-JSON line from tool server", "line", truncate(string(line), 200))

			continue
		}

		// The scanner reuses its buffer.
		msg := make(json.RawMessage, len(line))
		copy(msg, line)

		messageCount++

		select {
		case t.messages <- msg:
		case <-ctx.Done():
			t.log.Debug("Context cancelled during message send", "error", ctx.Err())

			t.sendErr(ctx.Err())

			return
		}
	}

	// A read error leaves the process running; Close reaps it.
	if err := scanner.Err(); err != nil {
		if t.isClosing() {
			return
		}

		t.log.Error("Scanner error while reading tool server output", "error", err)

		t.sendErr(fmt.Errorf("read stdout: %w", err))

		return
	}

	t.log.Debug("Tool server stdout closed", "message_count", messageCount)
	t.wait()

	if t.isClosing() {
		t.log.Debug("Tool server terminated during shutdown")

		return
	}

	if t.waitErr != nil {
		exitCode := -1
		if exitErr, ok := stderrors.AsType[*exec.ExitError](t.waitErr); ok {
			exitCode = exitErr.ExitCode()
		}

		stderrTail := tail(t.Stderr(), stderrTailLines)

		t.log.Error("Tool server exited with error", "exit_code", exitCode, "stderr", stderrTail)

		t.sendErr(&errors.ProcessError{ExitCode: exitCode, Stderr: stderrTail, Err: t.waitErr})

		return
	}

	t.log.Info("Tool server exited")
}

// sendErr delivers the terminal error; only the first one is kept.
func (t *Transport) sendErr(err error) {
	select {
	case t.errs <- err:
	default:
	}
}

// wait reaps the process once, after stderr has been drained.
func (t *Transport) wait() {
	t.waitOnce.Do(func() {
		t.stderrWg.Wait()
		t.waitErr = t.cmd.Wait()
		close(t.exited)
	})
}

func (t *Transport) isClosing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.closing
}

// SendMessage writes one message to the process stdin.
//
// A newline frame is appended when missing. Writes are serialized, and a
// blocked write is abandoned when ctx is done; stdin is then closed because
// a partial frame cannot be recovered.
func (t *Transport) SendMessage(ctx context.Context, data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.mu.Lock()
	stdin, closed := t.stdin, t.stdinClosed || t.closing
	t.mu.Unlock()

	if closed {
		return errors.ErrTransportClosed
	}

	if stdin == nil {
		return errors.ErrTransportNotConnected
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	// Copy so a caller's spare capacity is never written to.
	if len(data) == 0 || data[len(data)-1] != '\n' {
		framed := make([]byte, len(data)+1)
		copy(framed, data)
		framed[len(data)] = '\n'
		data = framed
	}

	done := make(chan error, 1)

	go func() {
		_, err := stdin.Write(data)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			if t.isClosing() {
				return errors.ErrTransportClosed
			}

			t.log.Error("Failed to write message to tool server", "error", err)

			return fmt.Errorf("write to stdin: %w", err)
		}

		return nil

	case <-ctx.Done():
		t.log.Debug("Context cancelled during write, closing stdin")

		t.mu.Lock()
		_ = stdin.Close()
		t.stdinClosed = true
		t.mu.Unlock()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.log.Warn("Write goroutine did not exit after stdin close")
		}

		return ctx.Err()
	}
}

// IsReady reports whether the process is running and stdin is open.
func (t *Transport) IsReady() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.cmd != nil && t.stdin != nil && !t.stdinClosed && !t.closing
}

// EndInput closes stdin. Servers treat this as a request to exit.
func (t *Transport) EndInput() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stdin == nil || t.stdinClosed {
		return nil
	}

	t.log.Debug("Closing stdin pipe")
	t.stdinClosed = true

	return t.stdin.Close()
}

// Close shuts the process down: stdin is closed, SIGTERM is sent, and the
// process is killed if it has not exited after the grace period.
// It is safe to call Close multiple times and from any goroutine.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.shutdown()
	})

	return t.closeErr
}

func (t *Transport) shutdown() error {
	t.mu.Lock()
	t.closing = true

	if t.stdin != nil && !t.stdinClosed {
		_ = t.stdin.Close()
	}

	t.stdinClosed = true
	cmd := t.cmd
	t.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}

	pid := cmd.Process.Pid

	// Reaping is idempotent; the reader may already be waiting.
	go t.wait()

	if err := terminate(cmd.Process); err != nil && !stderrors.Is(err, os.ErrProcessDone) {
		t.log.Debug("Terminate signal failed", "pid", pid, "error", err)
	}

	grace := t.options.GetCloseGracePeriod()

	select {
	case <-t.exited:
		t.log.Debug("Tool server exited after terminate", "pid", pid)

		return nil
	case <-time.After(grace):
	}

	t.log.Warn("Tool server ignored terminate, killing", "pid", pid, "grace_period", grace)

	if err := kill(cmd.Process); err != nil && !stderrors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill tool server (pid %d): %w", pid, err)
	}

	select {
	case <-t.exited:
		return nil
	case <-time.After(killWaitTimeout):
		return fmt.Errorf("tool server (pid %d) did not exit after kill", pid)
	}
}

// tail returns the last n non-empty lines of s.
func tail(s string, n int) string {
	lines := make([]string, 0, n)

	for line := range strings.SplitSeq(s, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}

		lines = append(lines, line)
		if len(lines) > n {
			lines = lines[1:]
		}
	}

	return strings.Join(lines, "\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n] + "..."
}

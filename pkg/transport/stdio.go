package transport

import (
	"bufio"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/wardgate/mcp-gateway-go/pkg/errors"
	"github.com/wardgate/mcp-gateway-go/pkg/protocol"
)

// StdioConfig configures a child process spoken to over newline-delimited
// JSON-RPC 2.0 on its stdin/stdout.
type StdioConfig struct {
	// Command is the executable to spawn.
	Command string `yaml:"command" validate:"required"`
	// Args are passed to the executable.
	Args []string `yaml:"args"`
	// Env entries (KEY=VALUE) are appended to the inherited environment.
	Env []string `yaml:"env"`
	// Dir is the child's working directory; empty inherits ours.
	Dir string `yaml:"dir"`
}

// StdioTransport owns one child process. The process and its pipes belong
// exclusively to this handle; once the process dies the handle is dead and a
// replacement must be created.
//
// Requests are correlated to responses by JSON-RPC id, so out-of-order
// responses resolve the right caller.
type StdioTransport struct {
	config StdioConfig
	logger zerolog.Logger

	mu      sync.Mutex
	writeMu sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	pending map[string]chan *protocol.Response
	started bool
	dead    bool
	exitErr error

	done     chan struct{}
	stopOnce sync.Once
	group    *errgroup.Group
}

// NewStdioTransport builds the transport; the process is spawned by Connect.
func NewStdioTransport(config StdioConfig, logger zerolog.Logger) (*StdioTransport, error) {
	if config.Command == "" {
		return nil, errors.Validation("stdio transport requires a command")
	}
	return &StdioTransport{
		config:  config,
		logger:  logger.With().Str("transport", "stdio").Str("command", config.Command).Logger(),
		pending: make(map[string]chan *protocol.Response),
		done:    make(chan struct{}),
	}, nil
}

// Kind implements Transport.
func (t *StdioTransport) Kind() Kind { return KindStdio }

// Connect spawns the child process and starts the read loop. A handle can be
// connected once; after the process exits, create a new handle.
func (t *StdioTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dead {
		return errors.ProcessExited(t.config.Command, t.exitErr)
	}
	if t.started {
		return nil
	}

	cmd := exec.Command(t.config.Command, t.config.Args...)
	cmd.Dir = t.config.Dir
	if len(t.config.Env) > 0 {
		cmd.Env = append(os.Environ(), t.config.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return errors.ConnectionFailed("stdio", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return errors.ConnectionFailed("stdio", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		return errors.ConnectionFailed("stdio", err)
	}

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		_ = stderr.Close()
		return errors.ConnectionFailed("stdio", err)
	}

	t.cmd = cmd
	t.stdin = stdin
	t.started = true
	t.logger.Info().Int("pid", cmd.Process.Pid).Msg("child process started")

	// Readers must finish before Wait: Wait closes the pipes, and we want
	// every line the child wrote before dying.
	readers := &errgroup.Group{}
	readers.Go(func() error { return t.readLoop(stdout) })
	readers.Go(func() error { t.drainStderr(stderr); return nil })

	g := &errgroup.Group{}
	t.group = g
	g.Go(func() error {
		_ = readers.Wait()
		t.reap(cmd)
		return nil
	})
	return nil
}

// HealthCheck reports whether the child process is still alive.
func (t *StdioTransport) HealthCheck(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return errors.ConnectionFailed("stdio", stderrors.New("not connected"))
	}
	if t.dead {
		return errors.ProcessExited(t.config.Command, t.exitErr)
	}
	return nil
}

// PID returns the child's process id, or 0 when not running.
func (t *StdioTransport) PID() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cmd == nil || t.cmd.Process == nil || t.dead {
		return 0
	}
	return t.cmd.Process.Pid
}

// Alive reports whether the handle can still carry requests.
func (t *StdioTransport) Alive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started && !t.dead
}

// SendRequest writes one JSON-RPC request and blocks until its response
// arrives, ctx ends, or the process dies. This is the hard-cancel transport:
// a dead context or Disconnect kills the process outright.
func (t *StdioTransport) SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	id := uuid.NewString()
	req, err := protocol.NewRequest(id, method, params)
	if err != nil {
		return nil, errors.Validation(fmt.Sprintf("build request: %v", err))
	}

	ch := make(chan *protocol.Response, 1)
	t.mu.Lock()
	if !t.started || t.dead {
		exitErr := t.exitErr
		started := t.started
		t.mu.Unlock()
		if !started {
			return nil, errors.ConnectionFailed("stdio", stderrors.New("not connected"))
		}
		return nil, errors.ProcessExited(t.config.Command, exitErr)
	}
	t.pending[id] = ch
	t.mu.Unlock()

	if err := t.writeMessage(req); err != nil {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
		return nil, err
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, errors.Transport("stdio", resp.Error)
		}
		return resp.Result, nil
	case <-t.done:
		t.mu.Lock()
		exitErr := t.exitErr
		t.mu.Unlock()
		return nil, errors.ProcessExited(t.config.Command, exitErr)
	case <-ctx.Done():
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
		return nil, ctx.Err()
	}
}

// SendNotification writes one JSON-RPC notification; no response is expected.
func (t *StdioTransport) SendNotification(ctx context.Context, method string, params interface{}) error {
	notif, err := protocol.NewNotification(method, params)
	if err != nil {
		return errors.Validation(fmt.Sprintf("build notification: %v", err))
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.writeMessage(notif)
}

func (t *StdioTransport) writeMessage(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Validation(fmt.Sprintf("encode message: %v", err))
	}

	t.mu.Lock()
	stdin := t.stdin
	dead := t.dead
	exitErr := t.exitErr
	t.mu.Unlock()
	if dead || stdin == nil {
		return errors.ProcessExited(t.config.Command, exitErr)
	}

	// A pipe write can block when the child is slow to read; keep the
	// state lock out of it so the read loop stays live.
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := stdin.Write(append(data, '\n')); err != nil {
		return errors.Transport("stdio", err)
	}
	return nil
}

// readLoop pumps stdout lines and resolves pending requests. Runs until the
// pipe closes, i.e. until the process exits.
func (t *StdioTransport) readLoop(stdout io.Reader) error {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if !protocol.IsResponse(line) {
			switch {
			case protocol.IsNotification(line):
				t.logger.Debug().Str("line", string(line)).Msg("discarding server notification")
			case protocol.IsRequest(line):
				t.logger.Warn().Str("line", string(line)).Msg("server-initiated requests are not supported")
			default:
				t.logger.Warn().Str("line", string(line)).Msg("discarding unparseable stdout line")
			}
			continue
		}
		var resp protocol.Response
		if err := json.Unmarshal(line, &resp); err != nil {
			t.logger.Warn().Str("line", string(line)).Msg("discarding unparseable stdout line")
			continue
		}

		id := fmt.Sprintf("%v", normalizeID(resp.ID))
		t.mu.Lock()
		ch, ok := t.pending[id]
		if ok {
			delete(t.pending, id)
		}
		t.mu.Unlock()
		if ok {
			ch <- &resp
		} else {
			t.logger.Debug().Str("id", id).Msg("response with no pending request")
		}
	}
	return scanner.Err()
}

func (t *StdioTransport) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		t.logger.Debug().Str("stderr", scanner.Text()).Msg("child process output")
	}
}

// reap waits for process exit, marks the handle dead and fails every pending
// request so no caller blocks on a process that will never answer.
func (t *StdioTransport) reap(cmd *exec.Cmd) {
	err := cmd.Wait()

	t.mu.Lock()
	t.dead = true
	t.exitErr = err
	// Drop pending entries; blocked callers resolve through the done
	// channel below.
	t.pending = make(map[string]chan *protocol.Response)
	t.mu.Unlock()

	t.stopOnce.Do(func() { close(t.done) })

	if err != nil {
		t.logger.Warn().Err(err).Msg("child process exited")
	} else {
		t.logger.Info().Msg("child process exited cleanly")
	}
}

// Disconnect closes stdin to signal EOF, kills the process if it is still
// running and releases the pipes. Safe to call repeatedly.
func (t *StdioTransport) Disconnect() error {
	t.mu.Lock()
	cmd := t.cmd
	stdin := t.stdin
	t.stdin = nil
	started := t.started
	t.mu.Unlock()

	if !started {
		return nil
	}

	var errs []error
	if stdin != nil {
		if err := stdin.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close stdin: %w", err))
		}
	}

	if cmd != nil && cmd.Process != nil {
		// Give the child a moment to exit on EOF before killing it.
		select {
		case <-t.done:
		case <-time.After(2 * time.Second):
			if err := cmd.Process.Kill(); err != nil && !stderrors.Is(err, os.ErrProcessDone) {
				errs = append(errs, fmt.Errorf("kill process: %w", err))
			}
			<-t.done
		}
	}

	if t.group != nil {
		_ = t.group.Wait()
	}
	return stderrors.Join(errs...)
}

// normalizeID folds json number/string ids to a stable key. We always send
// string ids, but servers echo numbers back as float64 after decoding.
func normalizeID(id interface{}) interface{} {
	if f, ok := id.(float64); ok && f == float64(int64(f)) {
		return int64(f)
	}
	return id
}

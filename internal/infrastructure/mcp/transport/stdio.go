package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"jan-server/services/mcp-gateway/internal/domain/mcp"
	"jan-server/services/mcp-gateway/internal/infrastructure/mcp/jsonrpc"

	"github.com/rs/zerolog"
)

// StdioDriver speaks line-delimited JSON-RPC over a spawned child process's
// stdin/stdout, classifying stderr for operator logs only (spec §4.B.1).
type StdioDriver struct {
	*handshakeCore
	spec    mcp.ServerSpec
	framer  *jsonrpc.Framer
	timeout time.Duration

	writeMu sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.ReadCloser
	stderr  io.ReadCloser

	closeOnce sync.Once
	done      chan struct{}
}

// NewStdioDriver constructs an unopened driver for a STDIO ServerSpec.
func NewStdioDriver(spec mcp.ServerSpec, log zerolog.Logger, listener Listener) *StdioDriver {
	return &StdioDriver{
		handshakeCore: newHandshakeCore(spec.ID, log, listener),
		spec:          spec,
		framer:        jsonrpc.NewFramer(),
		timeout:       spec.Timeout(),
		done:          make(chan struct{}),
	}
}

// Open spawns the configured command and starts the stdout/stderr readers.
// The child's lifetime is not bound to ctx; it runs until Close or until it
// exits on its own.
func (d *StdioDriver) Open(ctx context.Context) error {
	cmd := exec.Command(d.spec.Command, d.spec.Args...)
	for k, v := range d.spec.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return mcp.NewTransportError(d.spec.ID, "open stdin pipe", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return mcp.NewTransportError(d.spec.ID, "open stdout pipe", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return mcp.NewTransportError(d.spec.ID, "open stderr pipe", err)
	}

	if err := cmd.Start(); err != nil {
		return mcp.NewTransportError(d.spec.ID, "spawn command", err)
	}

	d.cmd, d.stdin, d.stdout, d.stderr = cmd, stdin, stdout, stderr

	go d.readStdout()
	go d.readStderr()
	go d.waitExit()

	return nil
}

// Initialize runs the common handshake over stdin/stdout.
func (d *StdioDriver) Initialize(ctx context.Context) error {
	return runHandshake(ctx, d.handshakeCore, d.framer, d.call, d.notify)
}

func (d *StdioDriver) call(ctx context.Context, req jsonrpc.Request, wait chan jsonrpc.Envelope) (json.RawMessage, error) {
	if err := d.writeLine(req); err != nil {
		d.framer.Cancel(req.ID)
		return nil, err
	}
	return waitForResponse(ctx, d.framer, req.ID, wait, d.timeout)
}

func (d *StdioDriver) notify(ctx context.Context, notif jsonrpc.Notification) error {
	return d.writeLine(notif)
}

// Call sends a tools/* style request and waits for its routed response.
func (d *StdioDriver) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	req, wait, err := d.framer.BuildRequest(method, params)
	if err != nil {
		return nil, mcp.NewProtocolError(d.spec.ID, "build request", err)
	}
	return d.call(ctx, req, wait)
}

// Notify sends a fire-and-forget JSON-RPC notification.
func (d *StdioDriver) Notify(ctx context.Context, method string, params any) error {
	notif, err := d.framer.BuildNotification(method, params)
	if err != nil {
		return mcp.NewProtocolError(d.spec.ID, "build notification", err)
	}
	return d.notify(ctx, notif)
}

// writeLine serializes msg as a single newline-terminated JSON line, holding
// the write mutex so concurrent calls never interleave bytes mid-message
// (spec §5 ordering guarantee).
func (d *StdioDriver) writeLine(msg any) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return mcp.NewProtocolError(d.spec.ID, "marshal outgoing message", err)
	}
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	if d.stdin == nil {
		return mcp.NewTransportError(d.spec.ID, "stdin closed", nil)
	}
	if _, err := d.stdin.Write(append(raw, '\n')); err != nil {
		return mcp.NewTransportError(d.spec.ID, "write to stdin", err)
	}
	return nil
}

func (d *StdioDriver) readStdout() {
	scanner := bufio.NewScanner(d.stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		env, err := jsonrpc.Decode(line)
		if err != nil {
			d.log.Warn().Err(err).Msg("discarding malformed stdout line")
			continue
		}
		if env.IsResponse() {
			if !d.framer.Route(env) {
				d.log.Warn().Int64("id", *env.ID).Msg("response for unknown id, discarding")
			}
			continue
		}
		if env.Method != "" {
			d.log.Info().Str("method", env.Method).Msg("server notification")
		}
	}
}

func (d *StdioDriver) readStderr() {
	scanner := bufio.NewScanner(d.stderr)
	for scanner.Scan() {
		line := scanner.Text()
		switch ClassifyStderrLine(line) {
		case LevelError:
			d.log.Error().Msg(line)
		case LevelWarn:
			d.log.Warn().Msg(line)
		case LevelInfo:
			d.log.Info().Msg(line)
		default:
			d.log.Debug().Msg(line)
		}
	}
}

func (d *StdioDriver) waitExit() {
	err := d.cmd.Wait()
	select {
	case <-d.done:
		return
	default:
	}
	if err != nil {
		d.setState(mcp.StateDisconnected, fmt.Errorf("process exited: %w", err))
	} else {
		d.setState(mcp.StateDisconnected, fmt.Errorf("process exited"))
	}
}

// Close sends EOF on stdin, waits up to 2 seconds for graceful exit, then
// kills the child process with Process.Kill. Only the child itself is
// killed; processes it spawned are not signalled.
func (d *StdioDriver) Close() error {
	var closeErr error
	d.closeOnce.Do(func() {
		close(d.done)
		if d.stdin != nil {
			_ = d.stdin.Close()
		}
		if d.cmd != nil && d.cmd.Process != nil {
			exited := make(chan error, 1)
			go func() { exited <- d.cmd.Wait() }()
			select {
			case <-exited:
			case <-time.After(2 * time.Second):
				closeErr = d.cmd.Process.Kill()
			}
		}
		d.setState(mcp.StateClosed, nil)
	})
	return closeErr
}

package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// StdioConfig describes an MCP server run as a subprocess.
type StdioConfig struct {
	Command string
	Args    []string

	// Env entries ("KEY=VALUE") are appended to this process's
	// environment.
	Env []string

	Logger *slog.Logger
}

// StdioTransport exchanges newline-delimited JSON-RPC with a
// subprocess. The process is started lazily on first use and restarted
// after a failed exchange.
type StdioTransport struct {
	cfg    StdioConfig
	logger *slog.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	reader *bufio.Reader
}

// NewStdioTransport creates a stdio transport. Nothing is started
// until the first Send or Notify.
func NewStdioTransport(cfg StdioConfig) *StdioTransport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StdioTransport{cfg: cfg, logger: logger}
}

// ensureStarted launches the subprocess if it is not running. The
// process is not tied to any request context. Caller must hold t.mu.
func (t *StdioTransport) ensureStarted() error {
	if t.cmd != nil && t.cmd.ProcessState == nil {
		return nil
	}

	cmd := exec.Command(t.cfg.Command, t.cfg.Args...)
	cmd.Env = append(os.Environ(), t.cfg.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	// Stderr is diagnostic only; the protocol runs on stdin/stdout.
	stderr, err := cmd.StderrPipe()
	if err == nil {
		err = cmd.Start()
	}
	if err != nil {
		for _, c := range []io.Closer{stdin, stdout, stderr} {
			if c != nil {
				c.Close()
			}
		}
		return fmt.Errorf("start subprocess %s: %w", t.cfg.Command, err)
	}

	t.cmd = cmd
	t.stdin = stdin
	t.reader = bufio.NewReaderSize(stdout, 1<<20)
	go t.logStderr(stderr)

	t.logger.Info("MCP subprocess started",
		"command", t.cfg.Command,
		"args", t.cfg.Args,
		"pid", cmd.Process.Pid,
	)
	return nil
}

func (t *StdioTransport) logStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		t.logger.Debug("MCP subprocess stderr", "line", scanner.Text())
	}
}

// writeLine encodes msg as one line on the subprocess's stdin. Caller
// must hold t.mu.
func (t *StdioTransport) writeLine(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		t.reset()
		return fmt.Errorf("write to subprocess stdin: %w", err)
	}
	return nil
}

type lineResult struct {
	line []byte
	err  error
}

// Send writes req and waits for the response with the same ID,
// skipping notifications and unrelated lines. Exchanges are serialized.
// If ctx ends first the subprocess is killed so the pending read
// returns.
func (t *StdioTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ensureStarted(); err != nil {
		return nil, err
	}
	if err := t.writeLine(req); err != nil {
		return nil, err
	}

	reader := t.reader
	for {
		ch := make(chan lineResult, 1)
		go func() {
			line, err := reader.ReadBytes('\n')
			ch <- lineResult{line, err}
		}()

		select {
		case <-ctx.Done():
			t.reset()
			return nil, ctx.Err()
		case res := <-ch:
			if res.err != nil {
				t.reset()
				return nil, fmt.Errorf("read from subprocess stdout: %w", res.err)
			}
			var resp Response
			if err := json.Unmarshal(res.line, &resp); err != nil {
				t.logger.Debug("skipping non-JSON line from MCP subprocess", "line", string(res.line))
				continue
			}
			if resp.ID == req.ID {
				return &resp, nil
			}
			t.logger.Debug("skipping unmatched MCP message", "id", resp.ID)
		}
	}
}

// Notify writes a notification; no response is read.
func (t *StdioTransport) Notify(_ context.Context, notif *Notification) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ensureStarted(); err != nil {
		return err
	}
	return t.writeLine(notif)
}

// Close closes stdin and waits up to five seconds for the subprocess
// to exit before killing it.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cmd == nil || t.cmd.Process == nil {
		return nil
	}
	cmd := t.cmd
	t.logger.Info("stopping MCP subprocess", "pid", cmd.Process.Pid)
	if t.stdin != nil {
		t.stdin.Close()
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var err error
	select {
	case err = <-done:
	case <-time.After(5 * time.Second):
		t.logger.Warn("MCP subprocess did not exit, killing", "pid", cmd.Process.Pid)
		_ = cmd.Process.Kill()
		<-done
	}
	t.cmd, t.stdin, t.reader = nil, nil, nil
	return err
}

// reset kills the subprocess after a failed exchange so the next call
// starts a fresh one. Caller must hold t.mu.
func (t *StdioTransport) reset() {
	if t.stdin != nil {
		t.stdin.Close()
	}
	if t.cmd != nil && t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
		_ = t.cmd.Wait()
	}
	t.cmd, t.stdin, t.reader = nil, nil, nil
}

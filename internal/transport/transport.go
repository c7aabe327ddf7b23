// Package transport runs the external curl process for one request, either
// buffering its whole output or exposing stdout as a live stream.
package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/Aslarex/go-curl2/internal/command"
	"github.com/Aslarex/go-curl2/internal/fetcherr"
)

// DefaultBinary is used when no binary path is configured.
const DefaultBinary = "curl"

// stderrTail bounds how much diagnostic output a streaming process retains.
const stderrTail = 64 << 10

// waitDelay bounds how long Wait blocks on pipes held open by grandchildren
// after the process itself has been killed.
const waitDelay = 2 * time.Second

// Result is the outcome of a buffered invocation.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Elapsed  time.Duration
}

// Invoker runs transport commands. Implementations never retry.
type Invoker interface {
	Run(ctx context.Context, cmd command.Command) (*Result, error)
	Start(ctx context.Context, cmd command.Command) (Stream, error)
}

// Stream is a running invocation whose output is consumed incrementally.
// Read reports a failed exit or cancellation as its error once output ends.
type Stream interface {
	io.Reader
	// Close kills the process if still running and reaps it.
	Close() error
	// Stderr returns the retained tail of diagnostic output.
	Stderr() []byte
}

// Exec invokes a curl binary with os/exec.
type Exec struct {
	Binary string
}

// NewExec returns an Exec for binary, falling back to DefaultBinary.
func NewExec(binary string) *Exec {
	if binary == "" {
		binary = DefaultBinary
	}
	return &Exec{Binary: binary}
}

func (e *Exec) binary() string {
	if e == nil || e.Binary == "" {
		return DefaultBinary
	}
	return e.Binary
}

func (e *Exec) command(ctx context.Context, cmd command.Command) *exec.Cmd {
	c := exec.CommandContext(ctx, e.binary(), cmd.Args...)
	c.WaitDelay = waitDelay
	if cmd.Stdin != nil {
		c.Stdin = bytes.NewReader(cmd.Stdin)
	}
	return c
}

// Run executes cmd and buffers its output. An already-cancelled context
// returns KindAborted without starting a process, and cancellation observed at
// any later point wins over the process outcome.
func (e *Exec) Run(ctx context.Context, cmd command.Command) (*Result, error) {
	if ctx.Err() != nil {
		return nil, fetcherr.Aborted(ctx)
	}

	var stdout, stderr bytes.Buffer
	c := e.command(ctx, cmd)
	c.Stdout = &stdout
	c.Stderr = &stderr

	start := time.Now()
	err := c.Run()
	elapsed := time.Since(start)

	if ctx.Err() != nil {
		return nil, fetcherr.Aborted(ctx)
	}
	if err != nil {
		return nil, exitError(err, stderr.Bytes())
	}
	return &Result{
		Stdout:  stdout.Bytes(),
		Stderr:  stderr.Bytes(),
		Elapsed: elapsed,
	}, nil
}

// Start launches cmd and returns once the process is running. The caller must
// Close the returned Process.
func (e *Exec) Start(ctx context.Context, cmd command.Command) (Stream, error) {
	if ctx.Err() != nil {
		return nil, fetcherr.Aborted(ctx)
	}

	c := e.command(ctx, cmd)
	tail := newTailBuffer(stderrTail)
	c.Stderr = tail
	pipe, err := c.StdoutPipe()
	if err != nil {
		return nil, fetcherr.Wrap(fetcherr.KindTransport, err, "open stdout pipe")
	}
	if err = c.Start(); err != nil {
		if ctx.Err() != nil {
			return nil, fetcherr.Aborted(ctx)
		}
		return nil, exitError(err, nil)
	}

	p := &Process{ctx: ctx, cmd: c, pipe: pipe, stderr: tail}
	p.Stdout = &processReader{p: p}
	return p, nil
}

// Process is a running streaming invocation.
type Process struct {
	// Stdout yields the raw response bytes. On EOF the process is awaited and a
	// failed exit or cancellation is reported as the read error.
	Stdout io.ReadCloser

	ctx    context.Context
	cmd    *exec.Cmd
	pipe   io.ReadCloser
	stderr *tailBuffer

	waitOnce sync.Once
	waitErr  error
}

func (p *Process) wait() error {
	p.waitOnce.Do(func() {
		err := p.cmd.Wait()
		switch {
		case p.ctx.Err() != nil:
			p.waitErr = fetcherr.Aborted(p.ctx)
		case err != nil:
			p.waitErr = exitError(err, p.stderr.Bytes())
		}
	})
	return p.waitErr
}

// Read implements Stream.
func (p *Process) Read(b []byte) (int, error) { return p.Stdout.Read(b) }

// Stderr returns the retained tail of the process's diagnostic output.
func (p *Process) Stderr() []byte { return p.stderr.Bytes() }

// Close kills the process if it is still running and reaps it.
func (p *Process) Close() error {
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	_ = p.wait()
	return nil
}

type processReader struct {
	p *Process
}

func (r *processReader) Read(b []byte) (int, error) {
	n, err := r.p.pipe.Read(b)
	if err == nil {
		return n, nil
	}
	if werr := r.p.wait(); werr != nil {
		return n, werr
	}
	if r.p.ctx.Err() != nil {
		return n, fetcherr.Aborted(r.p.ctx)
	}
	if errors.Is(err, io.EOF) {
		return n, io.EOF
	}
	return n, fetcherr.Wrap(fetcherr.KindTransport, err, "read transport output")
}

func (r *processReader) Close() error { return r.p.Close() }

var curlPrefix = regexp.MustCompile(`(?m)^curl: \(\d+\) `)

// exitError converts a process failure into a KindTransport error.
func exitError(err error, stderr []byte) error {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return &fetcherr.Error{
			Kind:     fetcherr.KindTransport,
			Message:  "start transport: " + err.Error(),
			ExitCode: -1,
			Err:      err,
		}
	}
	raw := string(stderr)
	msg := strings.TrimSpace(curlPrefix.ReplaceAllString(raw, ""))
	if msg == "" {
		msg = "transport " + exitErr.String()
	}
	return &fetcherr.Error{
		Kind:     fetcherr.KindTransport,
		Message:  msg,
		ExitCode: exitErr.ExitCode(),
		Raw:      raw,
		Err:      err,
	}
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(p)
	if n >= t.max {
		t.buf = append(t.buf[:0], p[n-t.max:]...)
		return n, nil
	}
	if over := len(t.buf) + n - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	t.buf = append(t.buf, p...)
	return n, nil
}

func (t *tailBuffer) Bytes() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.buf...)
}

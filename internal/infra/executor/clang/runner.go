package clang

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	domain "github.com/bryanwahyu/fp16-analyzer/internal/domain/analysis"
)

const (
	DefaultPluginName     = "fp16-demotion"
	DefaultTimeout        = 30 * time.Second
	DefaultMaxOutputBytes = 10 << 20

	// waitDelay bounds how long Wait blocks on pipes held open by children
	// of a killed tool.
	waitDelay = 2 * time.Second
)

// DefaultFlags are the analysis flags forwarded to the plugin.
var DefaultFlags = []string{"-fprecision-demote=fp16"}

// Options configures the compiler invocation.
type Options struct {
	Binary         string
	PluginPath     string
	PluginName     string
	Flags          []string
	Timeout        time.Duration
	MaxOutputBytes int
}

// Runner invokes clang with the demotion plugin loaded.
type Runner struct {
	opts Options
	log  *zap.Logger
}

func NewRunner(opts Options, log *zap.Logger) *Runner {
	if opts.PluginName == "" {
		opts.PluginName = DefaultPluginName
	}
	if opts.Flags == nil {
		opts.Flags = DefaultFlags
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = DefaultMaxOutputBytes
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{opts: opts, log: log}
}

// Args builds the fixed command line (without the binary) for a source file:
//
//	-fplugin=<plugin> <source> -Xclang -plugin-arg-<name> -Xclang <flag>... -c
func (r *Runner) Args(sourceFile string) []string {
	args := []string{"-fplugin=" + r.opts.PluginPath, sourceFile}
	for _, f := range r.opts.Flags {
		args = append(args, "-Xclang", "-plugin-arg-"+r.opts.PluginName, "-Xclang", f)
	}
	return append(args, "-c")
}

// Invoke runs the tool once inside ws.Dir. A non-zero exit is reported in the
// result only. Spawn failure, timeout and cancellation also return an error.
func (r *Runner) Invoke(ctx context.Context, ws *domain.Workspace) (domain.InvocationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	args := r.Args(ws.SourceFile)
	cmd := exec.CommandContext(ctx, r.opts.Binary, args...)
	cmd.Dir = ws.Dir
	cmd.WaitDelay = waitDelay
	setupProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }

	stdout := newCappedBuffer(r.opts.MaxOutputBytes)
	stderr := newCappedBuffer(r.opts.MaxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	r.log.Debug("invoking tool",
		zap.String("analysis_id", string(ws.ID)),
		zap.String("binary", r.opts.Binary),
		zap.Strings("args", args),
	)

	start := time.Now()
	runErr := cmd.Run()
	// the driver is gone; reap any compiler job it left behind so nothing
	// writes into the workspace after Invoke returns
	if cmd.Process != nil {
		if err := killProcessGroup(cmd); err == nil {
			r.log.Debug("killed leftover tool processes", zap.String("analysis_id", string(ws.ID)))
		}
	}
	res := domain.InvocationResult{
		Success:   runErr == nil,
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: stdout.Truncated() || stderr.Truncated(),
		Duration:  time.Since(start),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	if runErr == nil {
		return res, nil
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.FailureReason = fmt.Sprintf("tool timed out after %s", r.opts.Timeout)
		return res, fmt.Errorf("%w after %s", domain.ErrToolTimeout, r.opts.Timeout)
	case ctx.Err() != nil:
		res.FailureReason = "tool cancelled: " + ctx.Err().Error()
		return res, fmt.Errorf("%w: %v", domain.ErrInfrastructure, ctx.Err())
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		res.FailureReason = fmt.Sprintf("tool exited with status %d", exitErr.ExitCode())
		return res, nil
	}
	if errors.Is(runErr, exec.ErrWaitDelay) {
		// the tool itself exited cleanly; only a straggling child held the pipes
		res.Success = true
		return res, nil
	}

	res.ExitCode = -1
	res.FailureReason = "spawn failed: " + runErr.Error()
	return res, fmt.Errorf("%w: spawn %s: %v", domain.ErrInfrastructure, r.opts.Binary, runErr)
}

// cappedBuffer keeps the first max bytes written and silently drops the rest.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	max       int
	truncated bool
}

func newCappedBuffer(max int) *cappedBuffer {
	return &cappedBuffer{max: max}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	room := b.max - b.buf.Len()
	if room <= 0 {
		b.truncated = b.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *cappedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}

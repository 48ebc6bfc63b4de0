// Package agent launches the external AI agent CLI as a subprocess and
// exposes its stream-json output as a channel of typed events.
package agent

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/harun/tessa/internal/tracing"
	"github.com/rs/zerolog"
)

const (
	// DefaultGracePeriod is how long a stopped run gets to exit after
	// SIGTERM before it is killed.
	DefaultGracePeriod = 5 * time.Second

	// maxLineSize bounds a single stream-json line. Assistant turns with
	// large embedded content can produce lines well past the bufio default.
	maxLineSize = 10 * 1024 * 1024

	// maxStderrBytes bounds the stderr capture used in error reports.
	maxStderrBytes = 4096
)

// Config holds the runner's settings.
type Config struct {
	// Command is the agent binary for standard mode.
	Command string
	// AlternateCommand is the agent binary for alternate mode.
	AlternateCommand string
	// GracePeriod is the SIGTERM-to-SIGKILL window on Stop.
	GracePeriod time.Duration
	// Logger is the base logger; each run derives a child from it.
	Logger zerolog.Logger
}

// RunParams describes one agent invocation.
type RunParams struct {
	// Prompt is the full prompt text passed as the final argument.
	Prompt string
	// SessionID resumes an existing backend session when non-empty.
	SessionID string
	// Alternate selects the alternate binary.
	Alternate bool
}

// Runner starts agent subprocess runs.
type Runner struct {
	cfg Config
}

// NewRunner creates a runner. Zero-valued config fields get defaults.
func NewRunner(cfg Config) *Runner {
	if cfg.Command == "" {
		cfg.Command = "claude"
	}
	if cfg.AlternateCommand == "" {
		cfg.AlternateCommand = cfg.Command
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	return &Runner{cfg: cfg}
}

// buildArgs assembles the CLI argument list for params.
func buildArgs(params RunParams) []string {
	args := []string{"--dangerously-skip-permissions"}
	if params.SessionID != "" {
		args = append(args, "--resume", params.SessionID)
	}
	args = append(args, "--verbose", "--output-format", "stream-json", params.Prompt)
	return args
}

// Start launches the subprocess and begins streaming events. The returned
// run's event channel closes after the terminal EventDone or EventError.
// Cancelling ctx stops the run with the same grace escalation as Stop.
func (r *Runner) Start(ctx context.Context, params RunParams) (*Run, error) {
	name := r.cfg.Command
	if params.Alternate {
		name = r.cfg.AlternateCommand
	}

	binary, err := LookupCLI(name)
	if err != nil {
		return nil, err
	}

	logger := tracing.LoggerFromContext(ctx, r.cfg.Logger).With().
		Str("component", "agent").
		Str("binary", binary).
		Logger()

	cmd := exec.Command(binary, buildArgs(params)...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}

	var stderr boundedBuffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start agent process: %w", err)
	}

	logger.Info().
		Int("pid", cmd.Process.Pid).
		Bool("resume", params.SessionID != "").
		Msg("Agent process started")

	run := &Run{
		cmd:    cmd,
		grace:  r.cfg.GracePeriod,
		logger: logger,
		events: make(chan Event, 64),
		done:   make(chan struct{}),
	}

	go run.readLoop(stdout, &stderr)
	go run.watchContext(ctx)

	return run, nil
}

// Run is one live agent subprocess.
type Run struct {
	cmd    *exec.Cmd
	grace  time.Duration
	logger zerolog.Logger

	events chan Event
	done   chan struct{}

	stopOnce sync.Once
	stopped  atomic.Bool

	mu      sync.Mutex
	waitErr error
}

// Events returns the run's event stream. The channel closes after the
// terminal event.
func (r *Run) Events() <-chan Event {
	return r.events
}

// Stop terminates the subprocess: SIGTERM to the process group, then
// SIGKILL after the grace period if it has not exited. Safe to call
// multiple times and after the run has finished.
func (r *Run) Stop() {
	r.stopOnce.Do(func() {
		r.stopped.Store(true)

		pgid := -r.cmd.Process.Pid
		if err := syscall.Kill(pgid, syscall.SIGTERM); err != nil {
			r.logger.Debug().Err(err).Msg("SIGTERM failed, process likely gone")
			return
		}
		r.logger.Info().Msg("Sent SIGTERM to agent process")

		select {
		case <-r.done:
		case <-time.After(r.grace):
			r.logger.Warn().Dur("grace", r.grace).Msg("Agent did not exit in grace period, killing")
			_ = syscall.Kill(pgid, syscall.SIGKILL)
		}
	})
}

// Err returns the process exit error, if any. Valid after the event
// channel closes.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.waitErr
}

func (r *Run) watchContext(ctx context.Context) {
	select {
	case <-ctx.Done():
		r.Stop()
	case <-r.done:
	}
}

func (r *Run) readLoop(stdout io.Reader, stderr *boundedBuffer) {
	defer close(r.events)

	parser := &streamParser{}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		for _, ev := range parser.parseLine(scanner.Text()) {
			r.events <- ev
		}
	}
	scanErr := scanner.Err()

	waitErr := r.cmd.Wait()
	r.mu.Lock()
	r.waitErr = waitErr
	r.mu.Unlock()
	close(r.done)

	switch {
	case r.stopped.Load():
		// Terminal event suppressed; the caller initiated the stop and
		// reports its own outcome.
		r.logger.Info().Msg("Agent process stopped")
	case waitErr != nil:
		detail := strings.TrimSpace(stderr.String())
		if detail == "" && scanErr != nil {
			detail = scanErr.Error()
		}
		r.logger.Error().Err(waitErr).Str("stderr", detail).Msg("Agent process failed")
		r.events <- Event{Type: EventError, Err: formatExitError(waitErr, detail)}
	default:
		r.logger.Info().Msg("Agent process finished")
		r.events <- Event{Type: EventDone, Text: parser.FinalText()}
	}
}

func formatExitError(err error, stderr string) string {
	if stderr != "" {
		return fmt.Sprintf("agent process failed: %v: %s", err, stderr)
	}
	return fmt.Sprintf("agent process failed: %v", err)
}

// boundedBuffer keeps at most maxStderrBytes of what is written to it.
type boundedBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if remaining := maxStderrBytes - len(b.buf); remaining > 0 {
		if len(p) > remaining {
			b.buf = append(b.buf, p[:remaining]...)
		} else {
			b.buf = append(b.buf, p...)
		}
	}
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

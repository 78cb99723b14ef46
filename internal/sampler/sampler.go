// Package sampler runs the GPU monitoring tool and collects a Session from its output.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/skobkin/nvsmiplot/internal/config"
	"github.com/skobkin/nvsmiplot/internal/extract"
)

// ErrToolNotFound is returned when the monitoring tool cannot be located.
var ErrToolNotFound = errors.New("monitoring tool not found")

const (
	defaultStopGrace = 2 * time.Second
	interruptSettle  = 50 * time.Millisecond
)

// Options configures a Sampler.
type Options struct {
	Tool      string
	Args      []string
	Timeout   time.Duration
	StopGrace time.Duration
	ReadMode  config.ReadMode
	KeepEmpty bool
}

// OptionsFromConfig maps the runtime configuration onto sampler options.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Tool:      cfg.Tool,
		Args:      append([]string(nil), cfg.ToolArgs...),
		Timeout:   cfg.Timeout,
		StopGrace: cfg.StopGrace,
		ReadMode:  cfg.ReadMode,
		KeepEmpty: cfg.KeepEmpty,
	}
}

// Sampler spawns one child process per Run and reads its output until the
// timeout elapses, the child exits or the context is canceled.
type Sampler struct {
	opts      Options
	extractor *extract.Extractor
	logger    *slog.Logger
}

// New validates options and builds a Sampler.
func New(opts Options, extractor *extract.Extractor, logger *slog.Logger) (*Sampler, error) {
	if opts.Tool == "" {
		return nil, fmt.Errorf("tool must not be empty")
	}
	if opts.Timeout < 0 {
		return nil, fmt.Errorf("timeout must be >= 0")
	}
	if opts.ReadMode == "" {
		opts.ReadMode = config.ReadModeLine
	}
	if !opts.ReadMode.Valid() {
		return nil, fmt.Errorf("unsupported read mode %q", opts.ReadMode)
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = defaultStopGrace
	}
	if extractor == nil {
		return nil, fmt.Errorf("extractor must not be nil")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Sampler{
		opts:      opts,
		extractor: extractor,
		logger:    logger.With("component", "sampler"),
	}, nil
}

type chunk struct {
	text string
	at   time.Time
}

// Run launches the tool and collects samples. A zero timeout runs until ctx is
// canceled or the tool exits. Cancellation is not an error: the samples
// collected so far are returned with StopInterrupted. The child process has
// been signaled and reaped by the time Run returns.
func (s *Sampler) Run(ctx context.Context) (Session, error) {
	path, err := exec.LookPath(s.opts.Tool)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %s: %v", ErrToolNotFound, s.opts.Tool, err)
	}

	runCtx := ctx
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	cmd := exec.Command(path, s.opts.Args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Session{}, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Session{}, fmt.Errorf("start %s: %w", path, err)
	}

	logger := s.logger.With("tool", path, "pid", cmd.Process.Pid)
	logger.Info("sampler started", "timeout", s.opts.Timeout, "read_mode", s.opts.ReadMode)

	agg := NewAggregator(s.extractor, s.opts.KeepEmpty, start, logger)
	chunks := make(chan chunk)
	done := make(chan struct{})
	readErr := make(chan error, 1)

	finished := false
	defer func() {
		if !finished {
			close(done)
			s.terminate(cmd, chunks, logger)
		}
	}()

	go s.readChunks(stdout, chunks, done, readErr)

	reason := s.collect(ctx, runCtx, agg, chunks, readErr, logger)

	finished = true
	close(done)
	exitCode := s.terminate(cmd, chunks, logger)

	session := agg.Finish(reason, time.Now())
	session.Tool = ToolInfo{
		Path:     path,
		PID:      cmd.Process.Pid,
		ExitCode: exitCode,
	}

	logger.Info("sampler stopped",
		"reason", reason,
		"samples", len(session.Samples),
		"chunks", session.Stats.Chunks,
		"rejected", session.Stats.Rejected,
		"duration", session.Duration,
	)

	return session, nil
}

func (s *Sampler) collect(parent, runCtx context.Context, agg *Aggregator, chunks <-chan chunk, readErr <-chan error, logger *slog.Logger) StopReason {
	for {
		select {
		case c, ok := <-chunks:
			if !ok {
				select {
				case err := <-readErr:
					logger.Warn("reading tool output failed", "err", err)
				default:
				}
				return exitReason(parent)
			}
			if addChunk(agg, s.opts.ReadMode, c.text, c.at) {
				logger.Debug("sample collected", "count", agg.Len())
			}
		case <-runCtx.Done():
			if parent.Err() != nil {
				return StopInterrupted
			}
			return StopTimeout
		}
	}
}

// exitReason classifies the end of the tool's output. A terminal Ctrl+C reaches
// the tool as well, which may close its output before parent observes the signal.
func exitReason(parent context.Context) StopReason {
	if parent.Err() != nil {
		return StopInterrupted
	}
	timer := time.NewTimer(interruptSettle)
	defer timer.Stop()
	select {
	case <-parent.Done():
		return StopInterrupted
	case <-timer.C:
		return StopExited
	}
}

func addChunk(agg *Aggregator, mode config.ReadMode, text string, at time.Time) bool {
	if mode == config.ReadModeReport {
		return agg.AddReport(text, at)
	}
	return agg.Add(text, at)
}

func (s *Sampler) readChunks(r io.Reader, out chan<- chunk, done <-chan struct{}, errCh chan<- error) {
	defer close(out)

	scanner := NewChunkScanner(r, s.opts.ReadMode)
	for scanner.Scan() {
		text := scanner.Text()
		if isBlank(text) {
			continue
		}
		select {
		case out <- chunk{text: text, at: time.Now()}:
		case <-done:
			return
		}
	}
	// os.ErrClosed shows up when Wait closed the pipe under a reader that was
	// still blocked, e.g. when a grandchild kept the tool's stdout open.
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		errCh <- err
	}
}

// terminate asks the child to stop with SIGTERM, escalating to SIGKILL after the
// grace period, and reaps it. The reader must be done with the pipe before
// cmd.Wait closes it, so chunks is drained first. It returns the child's exit
// code (-1 when it was ended by a signal).
func (s *Sampler) terminate(cmd *exec.Cmd, chunks <-chan chunk, logger *slog.Logger) int {
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		logger.Debug("terminate signal failed", "err", err)
	}

	grace := time.NewTimer(s.opts.StopGrace)
	defer grace.Stop()

	killed := false
	kill := func() {
		logger.Warn("tool ignored terminate signal, killing", "grace", s.opts.StopGrace)
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			logger.Debug("kill failed", "err", err)
		}
		killed = true
	}

	if !drain(chunks, grace.C) {
		kill()
		if !drain(chunks, time.After(s.opts.StopGrace)) {
			logger.Warn("tool output still open after kill")
		}
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	var err error
	if killed {
		err = <-waitErr
	} else {
		select {
		case err = <-waitErr:
		case <-grace.C:
			kill()
			err = <-waitErr
		}
	}

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		logger.Debug("wait for tool failed", "err", err)
	}

	if cmd.ProcessState == nil {
		return -1
	}
	code := cmd.ProcessState.ExitCode()
	if code > 0 {
		logger.Warn("tool exited with error", "exit_code", code)
	}
	return code
}

// drain discards chunks until the reader closes the channel. It reports false
// when timeout fires first.
func drain(chunks <-chan chunk, timeout <-chan time.Time) bool {
	for {
		select {
		case _, ok := <-chunks:
			if !ok {
				return true
			}
		case <-timeout:
			return false
		}
	}
}

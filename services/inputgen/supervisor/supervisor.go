// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package supervisor launches external tools under a timeout.
//
// Every process started here runs in its own process group. When the
// timeout fires the whole group receives SIGTERM, and if anything in the
// group is still alive after the grace period it receives SIGKILL. Launch
// never returns while a process it started is still running, and it never
// leaves stray members of the group behind. On Linux a child is also
// killed when the process that launched it dies.
//
// Compiler drivers, generated input generators and profile tools all go
// through this package, which makes it the single place where hung or
// crashing tools are contained.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sys/unix"
)

// DefaultGracePeriod is the time between SIGTERM and SIGKILL.
const DefaultGracePeriod = time.Second

var meter = otel.Meter("aleutian.inputgen.supervisor")

// =============================================================================
// Types
// =============================================================================

// Command describes one supervised invocation.
type Command struct {
	// Path is the executable to run.
	Path string

	// Args are the arguments, not including Path.
	Args []string

	// Env holds extra KEY=VALUE entries layered over the current
	// environment. Later entries win.
	Env []string

	// Dir is the working directory. Empty means the current directory.
	Dir string

	// Timeout bounds the process lifetime. Zero means no timeout.
	Timeout time.Duration

	// Stdout receives standard output. Nil discards it unless the
	// supervisor is verbose.
	Stdout io.Writer

	// Stderr receives standard error. Nil discards it unless the
	// supervisor is verbose.
	Stderr io.Writer
}

// String renders the command line for logs.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Path)
	parts = append(parts, c.Args...)
	return strings.Join(parts, " ")
}

// Exit describes how a process terminated.
type Exit struct {
	// Code is the exit status, or -1 when the process died from a signal.
	Code int

	// Signaled is true when the process was terminated by a signal it did
	// not handle.
	Signaled bool

	// Signal is the terminating signal when Signaled is true.
	Signal syscall.Signal

	// Elapsed is the wall-clock time from just before the process was
	// started until it was reaped.
	Elapsed time.Duration
}

// Success reports whether the process exited normally with status zero.
func (e *Exit) Success() bool {
	return e != nil && !e.Signaled && e.Code == 0
}

// Supervisor launches commands and waits for them to finish.
//
// # Description
//
// Launch runs one command to completion. A timed out command is never
// reported as an Exit; the caller gets an error matching ErrTimedOut.
//
// # Outputs
//
//   - *Exit: Termination details when the process ran to completion,
//     including non-zero exits and deaths by signal.
//   - error: ErrLaunch when the process could not start, ErrTimedOut when
//     it was terminated by the supervisor, or the context error when ctx
//     was cancelled.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Supervisor interface {
	Launch(ctx context.Context, cmd Command) (*Exit, error)
}

// Options configures a Default supervisor.
type Options struct {
	// GracePeriod is the time between SIGTERM and SIGKILL.
	// Zero means DefaultGracePeriod.
	GracePeriod time.Duration

	// Verbose echoes each command line and inherits stdout/stderr for
	// commands that did not set their own writers.
	Verbose bool

	// Logger receives command echoes and escalation notices.
	Logger *slog.Logger
}

// Default is the process-group based Supervisor.
type Default struct {
	grace   time.Duration
	verbose bool
	logger  *slog.Logger

	metricsOnce sync.Once
	launches    metric.Int64Counter
	timeouts    metric.Int64Counter
	kills       metric.Int64Counter
	duration    metric.Float64Histogram
}

var _ Supervisor = (*Default)(nil)

// New creates a Default supervisor.
func New(opts Options) *Default {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Default{
		grace:   opts.GracePeriod,
		verbose: opts.Verbose,
		logger:  opts.Logger,
	}
}

func (s *Default) initMetrics() {
	s.metricsOnce.Do(func() {
		var err error
		s.launches, err = meter.Int64Counter("inputgen_supervisor_launches_total",
			metric.WithDescription("Processes started by the supervisor"))
		if err != nil {
			s.logger.Warn("failed to create launches counter", slog.String("error", err.Error()))
		}
		s.timeouts, err = meter.Int64Counter("inputgen_supervisor_timeouts_total",
			metric.WithDescription("Processes terminated after exceeding their timeout"))
		if err != nil {
			s.logger.Warn("failed to create timeouts counter", slog.String("error", err.Error()))
		}
		s.kills, err = meter.Int64Counter("inputgen_supervisor_forced_kills_total",
			metric.WithDescription("Process groups that needed SIGKILL"))
		if err != nil {
			s.logger.Warn("failed to create kills counter", slog.String("error", err.Error()))
		}
		s.duration, err = meter.Float64Histogram("inputgen_supervisor_duration_seconds",
			metric.WithDescription("Wall-clock lifetime of supervised processes"),
			metric.WithUnit("s"))
		if err != nil {
			s.logger.Warn("failed to create duration histogram", slog.String("error", err.Error()))
		}
	})
}

// =============================================================================
// Launch
// =============================================================================

// Launch starts cmd in a new process group and waits for it.
//
// # Description
//
// The process is started with Setpgid so that it and all of its
// descendants can be signalled together, and on Linux with a parent-death
// signal. On timeout or cancellation the
// group receives SIGTERM, then SIGKILL after the grace period. After a
// normal exit any remaining group members are killed so nothing outlives
// the call.
//
// # Inputs
//
//   - ctx: Cancellation aborts the process the same way a timeout does.
//   - cmd: The command to run.
//
// # Outputs
//
//   - *Exit: Set when the process ran to completion.
//   - error: See Supervisor.
func (s *Default) Launch(ctx context.Context, c Command) (*Exit, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if c.Path == "" {
		return nil, ErrEmptyCommand
	}
	s.initMetrics()

	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	cmd.Stdout, cmd.Stderr = s.outputs(c)
	cmd.SysProcAttr = procAttr()
	// Bounds how long Wait blocks on pipes held open by grandchildren.
	cmd.WaitDelay = s.grace

	if s.verbose {
		s.logger.Info("launching", slog.String("cmd", c.String()), slog.Any("env", c.Env))
	}

	tool := attribute.String("tool", toolName(c.Path))
	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Path: c.Path, Err: err}
	}
	s.add(ctx, s.launches, tool)
	pgid := cmd.Process.Pid

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var deadline <-chan time.Time
	if c.Timeout > 0 {
		timer := time.NewTimer(c.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case err := <-done:
		elapsed := time.Since(start)
		sweep(pgid)
		s.record(ctx, elapsed, tool)
		return exitFrom(err, elapsed, c.Path)

	case <-deadline:
		forced := s.escalate(pgid, done)
		s.add(ctx, s.timeouts, tool)
		if forced {
			s.add(ctx, s.kills, tool)
		}
		s.record(ctx, time.Since(start), tool)
		s.logger.Warn("process timed out",
			slog.String("cmd", c.String()),
			slog.Duration("timeout", c.Timeout),
			slog.Bool("forced", forced))
		return nil, &TimeoutError{Path: c.Path, Timeout: c.Timeout, Forced: forced}

	case <-ctx.Done():
		forced := s.escalate(pgid, done)
		if forced {
			s.add(ctx, s.kills, tool)
		}
		return nil, ctx.Err()
	}
}

// escalate terminates the process group and waits for the leader to be
// reaped. Returns true when SIGKILL was needed.
func (s *Default) escalate(pgid int, done <-chan error) bool {
	_ = unix.Kill(-pgid, unix.SIGTERM)

	grace := time.NewTimer(s.grace)
	defer grace.Stop()

	select {
	case <-done:
		// The leader is gone but members may have ignored SIGTERM.
		sweep(pgid)
		return false
	case <-grace.C:
	}

	_ = unix.Kill(-pgid, unix.SIGKILL)
	<-done
	return true
}

// sweep kills whatever is left of the group. ESRCH means it is empty.
func sweep(pgid int) {
	_ = unix.Kill(-pgid, unix.SIGKILL)
}

func (s *Default) outputs(c Command) (io.Writer, io.Writer) {
	stdout, stderr := c.Stdout, c.Stderr
	if s.verbose {
		if stdout == nil {
			stdout = os.Stderr
		}
		if stderr == nil {
			stderr = os.Stderr
		}
	}
	return stdout, stderr
}

func (s *Default) add(ctx context.Context, c metric.Int64Counter, attrs ...attribute.KeyValue) {
	if c != nil {
		c.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(attrs...))
	}
}

func (s *Default) record(ctx context.Context, d time.Duration, attrs ...attribute.KeyValue) {
	if s.duration != nil {
		s.duration.Record(context.WithoutCancel(ctx), d.Seconds(), metric.WithAttributes(attrs...))
	}
}

// exitFrom converts the result of Wait into an Exit.
func exitFrom(err error, elapsed time.Duration, path string) (*Exit, error) {
	if err == nil {
		return &Exit{Code: 0, Elapsed: elapsed}, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exit := &Exit{Code: exitErr.ExitCode(), Elapsed: elapsed}
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			exit.Code = -1
			exit.Signaled = true
			exit.Signal = ws.Signal()
		}
		return exit, nil
	}

	// exec.ErrWaitDelay: the process exited but left its pipes open.
	if errors.Is(err, exec.ErrWaitDelay) {
		return &Exit{Code: 0, Elapsed: elapsed}, nil
	}
	return nil, fmt.Errorf("wait %s: %w", path, err)
}

func toolName(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

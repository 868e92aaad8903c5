// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package process runs external commands with a hard time bound.
//
// Every command is started in its own process group so that a timeout or an
// interrupt terminates the command together with anything it spawned. A command
// that exits non-zero is reported through Result.ExitCode, not as an error; errors
// are reserved for commands that could not be started, timed out, or were
// interrupted.
package process

//go:generate mockgen -destination=mocks/executor_mock.go -package=mocks . Executor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultTimeout bounds commands that do not set their own timeout.
	DefaultTimeout = 300 * time.Second

	// waitDelay is how long Wait keeps reading output after the group was killed.
	waitDelay = 5 * time.Second
)

var (
	// ErrTimeout is returned when the command exceeded its timeout and was killed.
	ErrTimeout = errors.New("command timed out")
	// ErrInterrupted is returned when the caller's context ended before the command.
	ErrInterrupted = errors.New("command interrupted")
)

// Command describes one external invocation.
type Command struct {
	Name    string
	Args    []string
	Dir     string
	Env     []string
	Stdin   io.Reader
	Timeout time.Duration
}

// String renders the command line for logs and messages.
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result is what the command produced.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Success reports a zero exit status.
func (r *Result) Success() bool {
	return r != nil && r.ExitCode == 0
}

// Combined returns stdout followed by stderr.
func (r *Result) Combined() string {
	if r == nil {
		return ""
	}
	if r.Stderr == "" {
		return r.Stdout
	}
	return r.Stdout + r.Stderr
}

// Executor runs commands. Check units and the extractor depend on this
// interface so tests can substitute canned output.
type Executor interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// Supervisor is the production Executor.
type Supervisor struct {
	defaultTimeout time.Duration

	mu     sync.Mutex
	groups map[int]string
}

// SupervisorOption customizes a Supervisor.
type SupervisorOption func(*Supervisor)

// WithDefaultTimeout sets the timeout used when Command.Timeout is zero.
func WithDefaultTimeout(d time.Duration) SupervisorOption {
	return func(s *Supervisor) {
		if d > 0 {
			s.defaultTimeout = d
		}
	}
}

// NewSupervisor creates a Supervisor.
func NewSupervisor(opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		defaultTimeout: DefaultTimeout,
		groups:         map[int]string{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run starts cmd and waits for it, killing its process group if the timeout
// expires or ctx is cancelled first.
func (s *Supervisor) Run(ctx context.Context, c Command) (*Result, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = s.defaultTimeout
	}

	cmd := exec.Command(c.Name, c.Args...) //nolint:gosec // commands come from configuration
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	cmd.Stdin = c.Stdin
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = waitDelay

	logger := log.Ctx(ctx).With().Str("command", c.String()).Logger()

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to start %s", c.Name)
	}

	pgid := cmd.Process.Pid
	s.track(pgid, c.String())
	defer s.untrack(pgid)

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var waitErr, runErr error
	select {
	case waitErr = <-done:
	case <-timer.C:
		logger.Warn().Dur("timeout", timeout).Msg("command timed out, killing process group")
		killGroup(pgid)
		waitErr = <-done
		runErr = pkgerrors.Wrapf(ErrTimeout, "%s exceeded %s", c.Name, timeout)
	case <-ctx.Done():
		logger.Warn().Msg("command interrupted, killing process group")
		killGroup(pgid)
		waitErr = <-done
		runErr = pkgerrors.Wrapf(ErrInterrupted, "%s: %v", c.Name, ctx.Err())
	}

	res := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode(cmd, waitErr),
		Duration: time.Since(start),
	}

	if runErr == nil && waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) && !errors.Is(waitErr, exec.ErrWaitDelay) {
			runErr = pkgerrors.Wrapf(waitErr, "failed waiting for %s", c.Name)
		}
	}

	logger.Debug().
		Int("exit_code", res.ExitCode).
		Dur("duration", res.Duration).
		Msg("command finished")

	return res, runErr
}

// Active returns the process groups currently running.
func (s *Supervisor) Active() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, 0, len(s.groups))
	for pgid := range s.groups {
		out = append(out, pgid)
	}
	return out
}

// KillAll sends SIGKILL to every process group still running. It is safe to
// call from the interrupt path.
func (s *Supervisor) KillAll() int {
	groups := s.Active()
	for _, pgid := range groups {
		killGroup(pgid)
	}
	return len(groups)
}

func (s *Supervisor) track(pgid int, desc string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[pgid] = desc
}

func (s *Supervisor) untrack(pgid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.groups, pgid)
}

func killGroup(pgid int) {
	if pgid <= 0 {
		return
	}
	_ = syscall.Kill(-pgid, syscall.SIGKILL)
}

func exitCode(cmd *exec.Cmd, waitErr error) int {
	if cmd.ProcessState != nil {
		if code := cmd.ProcessState.ExitCode(); code >= 0 {
			return code
		}
		// killed by a signal
		return -1
	}
	if waitErr != nil {
		return -1
	}
	return 0
}

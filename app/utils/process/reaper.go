// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultReapGrace is how long a process gets between SIGTERM and SIGKILL.
	DefaultReapGrace = 2 * time.Second

	reapParallelism = 8
	reapPoll        = 100 * time.Millisecond
)

// DefaultReapNames are the extraction tools that can outlive the run when it is
// interrupted mid-extraction.
var DefaultReapNames = []string{"tar", "gzip", "pigz"}

// Reaper terminates processes left behind by a run. It looks for
//
//   - descendants of the current process, and
//   - extraction tools whose command line references the extraction root.
//
// Reaping is best-effort: it never panics and never returns an error to the
// exit path; failures are logged.
type Reaper struct {
	names []string
	grace time.Duration
	self  int32
}

// ReaperOption customizes a Reaper.
type ReaperOption func(*Reaper)

// WithReapNames replaces the list of tool names to look for.
func WithReapNames(names ...string) ReaperOption {
	return func(r *Reaper) {
		r.names = names
	}
}

// WithReapGrace sets the SIGTERM to SIGKILL delay.
func WithReapGrace(d time.Duration) ReaperOption {
	return func(r *Reaper) {
		r.grace = d
	}
}

// NewReaper creates a Reaper for the current process.
func NewReaper(opts ...ReaperOption) *Reaper {
	r := &Reaper{
		names: DefaultReapNames,
		grace: DefaultReapGrace,
		self:  int32(os.Getpid()), //nolint:gosec // pids fit in int32
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reap finds and terminates leftover processes. root is the extraction
// directory; when empty only descendants are considered. It returns the number
// of processes it signalled.
func (r *Reaper) Reap(ctx context.Context, root string) (count int) {
	logger := log.Ctx(ctx)
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error().Interface("panic", rec).Msg("process cleanup panicked")
		}
	}()

	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to list processes for cleanup")
		return 0
	}

	targets := r.targets(ctx, procs, root)
	if len(targets) == 0 {
		return 0
	}

	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	g.SetLimit(reapParallelism)
	for _, p := range targets {
		g.Go(func() error {
			if err := r.terminate(gctx, p); err != nil {
				logger.Debug().Err(err).Int32("pid", p.Pid).Msg("failed to terminate process")
			}
			return nil
		})
	}
	_ = g.Wait()

	logger.Info().Int("count", len(targets)).Msg("terminated leftover processes")
	return len(targets)
}

func (r *Reaper) targets(ctx context.Context, procs []*process.Process, root string) []*process.Process {
	parents := make(map[int32]int32, len(procs))
	for _, p := range procs {
		if ppid, err := p.PpidWithContext(ctx); err == nil {
			parents[p.Pid] = ppid
		}
	}

	var out []*process.Process
	for _, p := range procs {
		if p.Pid == r.self {
			continue
		}
		if descendantOf(parents, p.Pid, r.self) {
			out = append(out, p)
			continue
		}
		if root == "" {
			continue
		}
		name, err := p.NameWithContext(ctx)
		if err != nil || !slices.Contains(r.names, name) {
			continue
		}
		cmdline, err := p.CmdlineWithContext(ctx)
		if err != nil || !strings.Contains(cmdline, root) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// descendantOf walks the parent chain of pid looking for ancestor.
func descendantOf(parents map[int32]int32, pid, ancestor int32) bool {
	seen := map[int32]bool{}
	for cur := pid; cur > 1 && !seen[cur]; {
		seen[cur] = true
		ppid, ok := parents[cur]
		if !ok {
			return false
		}
		if ppid == ancestor {
			return true
		}
		cur = ppid
	}
	return false
}

func (r *Reaper) terminate(ctx context.Context, p *process.Process) error {
	if err := p.TerminateWithContext(ctx); err != nil {
		return fmt.Errorf("sigterm %d: %w", p.Pid, err)
	}

	deadline := time.Now().Add(r.grace)
	for time.Now().Before(deadline) {
		running, err := p.IsRunningWithContext(ctx)
		if err != nil || !running {
			return nil
		}
		time.Sleep(reapPoll)
	}

	if err := p.KillWithContext(ctx); err != nil {
		return fmt.Errorf("sigkill %d: %w", p.Pid, err)
	}
	return nil
}

// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/cloudzero/preupgrade-validator/app/domain/diagnostic/common"
	"github.com/cloudzero/preupgrade-validator/app/types/status"
	"github.com/cloudzero/preupgrade-validator/app/utils/process"
	"github.com/cloudzero/preupgrade-validator/app/utils/wait"
)

// dateLayout is how the appliance stamps archive names.
const dateLayout = "2006-01-02"

// CollectCommand picks the collection command for the running release:
// 4.x and later collect everything by default, older releases need the
// system scope spelled out. Without a usable hint the legacy form is used.
func (a *Archiver) CollectCommand(versionHint string) string {
	if major, err := common.Major(versionHint); err == nil && major >= 4 {
		return a.cfg.Commands.Collect
	}
	return a.cfg.Commands.CollectLegacy
}

// Generate runs the collection command and waits for the archive it writes
// to appear and stop growing.
func (a *Archiver) Generate(ctx context.Context, versionHint string) (string, error) {
	logger := log.Ctx(ctx)

	before := map[string]bool{}
	if existing, err := a.candidates(); err == nil {
		for _, c := range existing {
			before[c.path] = true
		}
	}

	line := a.CollectCommand(versionHint)
	fields := strings.Fields(line)
	logger.Info().Str("command", line).Msg("generating tech support")
	a.report(0, "Generating tech support")

	res, err := a.exec.Run(ctx, process.Command{Name: fields[0], Args: fields[1:], Timeout: a.cfg.Collection.Timeout})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", newSetupError(ReasonNotGenerated, err)
	}
	if !res.Success() {
		reason := classify(res)
		logger.Error().Int("exit", res.ExitCode).Str("reason", reason).Msg("tech support collection failed")
		return "", newSetupError(reason, pkgerrors.Errorf("%s exited with status %d", line, res.ExitCode))
	}
	if !strings.Contains(res.Combined(), a.cfg.Collection.ExpectedOutput) {
		logger.Warn().Str("output", strings.TrimSpace(res.Combined())).Msg("unexpected collection output")
		return "", &SetupError{Reason: ReasonUnexpectedOutput, Status: status.StatusWarning}
	}
	a.report(0.5, "Waiting for tech support file")

	path, err := a.awaitStable(ctx, before)
	switch {
	case err == nil:
		logger.Info().Str("archive", path).Msg("tech support file is complete")
		a.report(1, "Tech support file ready")
		return path, nil
	case ctx.Err() != nil:
		return "", ctx.Err()
	case !errors.Is(err, wait.ErrTimeout):
		return "", newSetupError(ReasonNotGenerated, err)
	}

	// a slow writer still leaves a usable archive more often than not
	logger.Warn().Dur("timeout", a.cfg.Collection.StabilizeTimeout).Msg("archive did not stabilize, using newest")
	found, ferr := a.candidates()
	if ferr != nil || len(found) == 0 {
		return "", newSetupError(ReasonNotGenerated, ferr)
	}
	a.report(1, "Tech support file ready")
	return found[0].path, nil
}

// classify turns a failed collection into the operator facing reason.
func classify(res *process.Result) string {
	out := res.Combined()
	lower := strings.ToLower(out)
	switch {
	case strings.Contains(lower, "unrecognized arguments"):
		return ReasonInvalidArguments
	case strings.Contains(lower, "usage:"):
		return ReasonUsage
	}
	if msg := strings.TrimSpace(res.Stderr); msg != "" {
		return msg
	}
	if msg := strings.TrimSpace(res.Stdout); msg != "" {
		return msg
	}
	return ReasonNotGenerated
}

// awaitStable polls for a new archive stamped with today's date and returns it
// once its size has not changed for the stability window.
func (a *Archiver) awaitStable(ctx context.Context, before map[string]bool) (string, error) {
	logger := log.Ctx(ctx)
	col := a.cfg.Collection

	var (
		current    string
		lastSize   int64 = -1
		lastChange time.Time
		started    = a.clock.GetCurrentTime()
	)

	cond := func(context.Context) (bool, error) {
		now := a.clock.GetCurrentTime()
		elapsed := now.Sub(started)
		a.report(0.5+0.5*float64(elapsed)/float64(col.StabilizeTimeout), "Waiting for tech support file")

		found, err := a.candidates()
		if err != nil {
			return false, err
		}
		today := now.Format(dateLayout)
		var pick *candidate
		for i := range found {
			c := &found[i]
			if before[c.path] || !strings.Contains(filepath.Base(c.path), today) {
				continue
			}
			pick = c
			break
		}
		if pick == nil {
			return false, nil
		}

		if pick.path != current || pick.info.Size() != lastSize {
			logger.Debug().Str("archive", pick.path).Int64("size", pick.info.Size()).Msg("archive growing")
			current, lastSize, lastChange = pick.path, pick.info.Size(), now
			return false, nil
		}
		return now.Sub(lastChange) >= col.StabilityWindow, nil
	}

	var opts []wait.Option
	if !col.DisableWatch {
		if wake, stop := a.watch(ctx); wake != nil {
			defer stop()
			opts = append(opts, wait.WithWake(wake))
		}
	}

	if err := wait.Until(ctx, col.StabilizeTimeout, col.PollInterval, cond, opts...); err != nil {
		return "", err
	}
	return current, nil
}

// watch wakes the poll loop whenever the archive directory changes. A nil
// channel means notifications are unavailable and plain polling applies.
func (a *Archiver) watch(ctx context.Context) (<-chan struct{}, func()) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Ctx(ctx).Debug().Err(err).Msg("filesystem notifications unavailable")
		return nil, nil
	}
	if err := w.Add(a.cfg.Paths.ArchiveDir); err != nil {
		log.Ctx(ctx).Debug().Err(err).Msg("cannot watch archive directory")
		w.Close()
		return nil, nil
	}

	wake := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
					continue
				}
				select {
				case wake <- struct{}{}:
				default:
				}
			}
		}
	}()
	return wake, func() {
		close(done)
		w.Close()
	}
}

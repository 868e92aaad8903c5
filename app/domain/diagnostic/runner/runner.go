// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package runner executes registered checks one after another against a
// shared environment, isolating each check from the faults of the others.
package runner

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cloudzero/preupgrade-validator/app/domain/diagnostic"
	"github.com/cloudzero/preupgrade-validator/app/domain/diagnostic/catalog"
	"github.com/cloudzero/preupgrade-validator/app/types/status"
)

// FaultPrefix starts the detail of a check that faulted.
const FaultPrefix = "Check failed: "

// Fault is a check that returned an error or panicked.
type Fault struct {
	Check string
	Err   error
	Panic bool
}

func (f *Fault) Error() string {
	if f.Panic {
		return fmt.Sprintf("check %s panicked: %v", f.Check, f.Err)
	}
	return fmt.Sprintf("check %s: %v", f.Check, f.Err)
}

// Unwrap lets errors.Is match both diagnostic.ErrCheckFault and the cause.
func (f *Fault) Unwrap() []error {
	return []error{diagnostic.ErrCheckFault, f.Err}
}

// RunIsolated calls fn and turns a returned error or a panic into a *Fault.
func RunIsolated(ctx context.Context, name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Ctx(ctx).Error().
				Str("check", name).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("check panicked")
			err = &Fault{Check: name, Err: fmt.Errorf("%v", r), Panic: true}
		}
	}()

	if ferr := fn(ctx); ferr != nil {
		return &Fault{Check: name, Err: ferr}
	}
	return nil
}

// Progress is told which check is about to run; index is zero based.
type Progress func(name string, index, total int)

// Observer is told the stored verdict of each check and how long it took.
type Observer func(result *status.CheckResult, took time.Duration)

// Option configures a Runner.
type Option func(*Runner)

// WithProgress registers a callback invoked before each check.
func WithProgress(fn Progress) Option {
	return func(r *Runner) { r.progress = fn }
}

// WithObserver registers a callback invoked after each verdict is stored.
func WithObserver(fn Observer) Option {
	return func(r *Runner) { r.observer = fn }
}

// WithChecks restricts the run to the named checks.
func WithChecks(names ...string) Option {
	return func(r *Runner) { r.only = names }
}

// Runner runs the entries of a registry in order.
type Runner struct {
	registry catalog.Registry
	accessor status.Accessor
	progress Progress
	observer Observer
	only     []string
}

// NewRunner creates a runner that records verdicts through accessor.
func NewRunner(registry catalog.Registry, accessor status.Accessor, opts ...Option) *Runner {
	r := &Runner{registry: registry, accessor: accessor}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes every selected check. A check that faults is recorded as ERROR
// and the next check runs regardless. Run stops early only when ctx is done,
// returning ctx.Err() and leaving the remaining entries untouched.
func (r *Runner) Run(ctx context.Context, env *diagnostic.Environment) error {
	entries := r.registry.Get(r.only...)
	logger := log.Ctx(ctx)

	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			logger.Warn().Str("check", entry.Name).Msg("run cancelled before check")
			return err
		}
		if r.progress != nil {
			r.progress(entry.Name, i, len(entries))
		}

		result := status.NewCheckResult(entry.Name)

		if entry.Requirement == catalog.EvidenceRequired && !env.HasEvidence() {
			result.Error(status.DidNotRunPrefix + env.SetupReason())
			r.store(result, 0)
			logger.Info().Str("check", entry.Name).Msg("skipped, no evidence")
			continue
		}

		logger.Debug().Str("check", entry.Name).Msg("running check")
		start := time.Now()
		err := RunIsolated(ctx, entry.Name, func(ctx context.Context) error {
			return entry.Provider.Check(ctx, env, result)
		})

		// a check cut short by cancellation has no trustworthy verdict
		if ctx.Err() != nil {
			logger.Warn().Str("check", entry.Name).Msg("check interrupted")
			return ctx.Err()
		}

		if err != nil {
			logger.Error().Err(err).Str("check", entry.Name).Msg("check fault")
			cause := err
			if f, ok := err.(*Fault); ok {
				cause = f.Err
			}
			result = status.NewCheckResult(entry.Name)
			result.Error(FaultPrefix + cause.Error())
		}

		took := time.Since(start)
		r.store(result, took)
		if v := diagnostic.Violation(result); v != nil {
			logger.Warn().Err(v).
				Str("check", entry.Name).
				Bool("remediation", result.Recommendation != "").
				Msg("check found a defect")
		}
		logger.Info().Str("check", entry.Name).Str("status", result.Status.String()).Dur("took", took).Msg("check complete")
	}
	return nil
}

func (r *Runner) store(result *status.CheckResult, took time.Duration) {
	var stored *status.CheckResult
	r.accessor.WriteToReport(func(rep *status.Report) {
		rep.Put(result)
		stored = rep.Get(result.Name).Clone()
	})
	if r.observer != nil {
		r.observer(stored, took)
	}
}

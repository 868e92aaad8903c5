// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package preflight drives one validation run of a node from start to exit
// code.
//
// A run takes the node lock, obtains and extracts the evidence archive,
// indexes it, runs the registered checks and persists the results, the
// heartbeat and the textfile metrics. Cancelling the context passed to Run is
// the interrupt: whatever the run is doing, the partial results are finalized
// and persisted and Run returns ExitInterrupted.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	config "github.com/cloudzero/preupgrade-validator/app/config/preflight"
	"github.com/cloudzero/preupgrade-validator/app/domain/archive"
	"github.com/cloudzero/preupgrade-validator/app/domain/diagnostic"
	"github.com/cloudzero/preupgrade-validator/app/domain/diagnostic/catalog"
	"github.com/cloudzero/preupgrade-validator/app/domain/diagnostic/runner"
	"github.com/cloudzero/preupgrade-validator/app/domain/fileindex"
	"github.com/cloudzero/preupgrade-validator/app/domain/k8s"
	"github.com/cloudzero/preupgrade-validator/app/storage/report"
	"github.com/cloudzero/preupgrade-validator/app/types"
	"github.com/cloudzero/preupgrade-validator/app/types/status"
	"github.com/cloudzero/preupgrade-validator/app/utils"
	"github.com/cloudzero/preupgrade-validator/app/utils/lock"
	"github.com/cloudzero/preupgrade-validator/app/utils/process"
	"github.com/cloudzero/preupgrade-validator/app/utils/telemetry"
)

// Process exit codes.
const (
	ExitOK           = 0
	ExitSetupFailure = 1
	ExitInterrupted  = 130
)

// Reasons recorded for entries that never received a verdict.
const (
	ReasonInterrupted = "interrupted"
	ReasonNotSelected = "not selected"
	ReasonRunEnded    = "run ended before the check was reached"
)

// ReasonEmptyExtraction is the setup failure of an archive that unpacked to nothing.
const ReasonEmptyExtraction = "No directories found after extraction"

// Heartbeat progress bands.
const (
	progressAcquireStart = 5
	progressExtractStart = 30
	progressChecksStart  = 50
	progressChecksEnd    = 95
)

// drainTimeout bounds how long an interrupted run waits for the work in
// flight to notice the cancellation.
const drainTimeout = 2 * time.Second

// killer is implemented by executors that track their children.
type killer interface {
	KillAll() int
}

// Engine runs the validation of one node.
type Engine struct {
	cfg      *config.Settings
	registry catalog.Registry
	exec     process.Executor
	pods     diagnostic.PodLister
	clock    types.TimeProvider
	store    *report.Store
	recorder *telemetry.Recorder
	reaper   *process.Reaper
	lockOpts []lock.FileLockOption
	stderr   io.Writer
	runID    string

	accessor status.Accessor
	env      *diagnostic.Environment

	// code is the exit code of the completion path. It is only touched while
	// holding the report accessor, which serializes completion and interrupt.
	code int

	interruptOnce sync.Once
	interruptCode int
	cleanupOnce   sync.Once
}

// Option customizes an Engine.
type Option func(*Engine)

// WithRegistry replaces the production check catalog.
func WithRegistry(r catalog.Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithExecutor replaces the process supervisor.
func WithExecutor(exec process.Executor) Option {
	return func(e *Engine) { e.exec = exec }
}

// WithPodLister replaces the Kubernetes pod lister.
func WithPodLister(p diagnostic.PodLister) Option {
	return func(e *Engine) { e.pods = p }
}

// WithClock replaces the wall clock.
func WithClock(c types.TimeProvider) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithReaper replaces the leftover process reaper.
func WithReaper(r *process.Reaper) Option {
	return func(e *Engine) { e.reaper = r }
}

// WithLockOptions tunes the node lock.
func WithLockOptions(opts ...lock.FileLockOption) Option {
	return func(e *Engine) { e.lockOpts = append(e.lockOpts, opts...) }
}

// WithStderr receives the messages of failures that could not be persisted.
func WithStderr(w io.Writer) Option {
	return func(e *Engine) { e.stderr = w }
}

// WithRunID fixes the run id.
func WithRunID(id string) Option {
	return func(e *Engine) { e.runID = id }
}

// NewEngine prepares a run for the node in cfg. cfg must be validated.
func NewEngine(ctx context.Context, cfg *config.Settings, opts ...Option) *Engine {
	e := &Engine{
		cfg:    cfg,
		clock:  &utils.Clock{},
		stderr: os.Stderr,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.registry == nil {
		e.registry = catalog.NewCatalog(ctx, cfg)
	}
	if e.exec == nil {
		e.exec = process.NewSupervisor(process.WithDefaultTimeout(cfg.Commands.QueryTimeout))
	}
	if e.store == nil {
		e.store = report.NewStore(cfg, report.WithClock(e.clock), report.WithRunID(e.runID))
	}
	if e.reaper == nil {
		e.reaper = process.NewReaper(
			process.WithReapNames(cfg.Cleanup.Processes...),
			process.WithReapGrace(cfg.Cleanup.Grace),
		)
	}
	if !cfg.Metrics.Disabled {
		e.recorder = telemetry.NewRecorder(cfg.Node.Name)
	}
	if e.pods == nil && !cfg.Kubernetes.Disabled {
		if client, err := k8s.GetClient(cfg.Kubernetes.Kubeconfig); err == nil {
			e.pods = k8s.NewPodLister(client)
		} else {
			log.Ctx(ctx).Debug().Err(err).Msg("kubernetes api unavailable, pod status falls back to kubectl")
		}
	}

	names := append([]string{diagnostic.Techsupport}, e.registry.List()...)
	e.accessor = status.NewAccessor(status.NewReport(cfg.Node.Name, names...))

	e.env = diagnostic.NewEnvironment(cfg, e.exec, e.clock)
	e.env.Pods = e.pods
	return e
}

// RunID identifies the run.
func (e *Engine) RunID() string {
	return e.store.RunID()
}

// Accessor exposes the report of the run.
func (e *Engine) Accessor() status.Accessor {
	return e.accessor
}

// Run executes the validation and returns the process exit code. It returns
// promptly once ctx is cancelled, even while a check or command is running.
func (e *Engine) Run(ctx context.Context) int {
	logger := log.Ctx(ctx).With().Str("node", e.cfg.Node.Name).Str("run_id", e.RunID()).Logger()
	ctx = logger.WithContext(ctx)

	if err := os.MkdirAll(e.cfg.Paths.BaseDir, 0o755); err != nil {
		e.reportFatal(ctx, "failed to create "+e.cfg.Paths.BaseDir, err)
		return ExitSetupFailure
	}

	fl := lock.NewFileLock(ctx, e.cfg.LockFile(),
		append([]lock.FileLockOption{lock.WithOwner(e.cfg.Node.Name, e.RunID())}, e.lockOpts...)...)
	if err := fl.Acquire(); err != nil {
		if holder, herr := fl.Holder(); herr == nil && holder != nil {
			logger.Error().Str("holder", holder.String()).Msg("node is being validated by another run")
		}
		e.reportFatal(ctx, "cannot lock node "+e.cfg.Node.Name, err)
		return ExitSetupFailure
	}
	defer func() {
		if err := fl.Release(); err != nil {
			logger.Warn().Err(err).Msg("failed to release node lock")
		}
	}()
	defer e.cleanup(ctx)

	done := make(chan int, 1)
	go func() {
		done <- e.execute(ctx)
	}()

	select {
	case code := <-done:
		return code
	case <-ctx.Done():
		code := e.interrupt(ctx)
		e.cleanup(ctx)
		select {
		case <-done:
		case <-time.After(drainTimeout):
			logger.Warn().Msg("work in flight did not stop in time")
		}
		return code
	}
}

func (e *Engine) execute(ctx context.Context) int {
	logger := log.Ctx(ctx)
	logger.Info().Str("mode", e.cfg.Collection.Mode).Msg("starting pre-upgrade validation")
	e.beat(ctx, status.PhaseStarting, "Starting pre-upgrade validation", 0)

	b := &band{lo: progressAcquireStart, hi: progressExtractStart}
	archiver := archive.NewArchiver(e.cfg, e.exec,
		archive.WithClock(e.clock),
		archive.WithProgress(func(f float64, op string) {
			e.beat(ctx, status.PhaseRunning, op, b.at(f))
		}),
	)
	archiver.CheckTmpSpace(ctx)

	setupErr := e.setup(ctx, archiver, b)
	if ctx.Err() != nil {
		return e.interrupt(ctx)
	}

	r := runner.NewRunner(e.registry, e.accessor,
		runner.WithChecks(e.cfg.Checks.Enabled...),
		runner.WithProgress(func(name string, i, total int) {
			p := progressChecksStart + (progressChecksEnd-progressChecksStart)*i/max(total, 1)
			e.beat(ctx, status.PhaseRunning, "Checking "+name, p)
		}),
		runner.WithObserver(func(res *status.CheckResult, took time.Duration) {
			if e.recorder != nil {
				e.recorder.ObserveCheck(res, took)
			}
		}),
	)
	if err := r.Run(ctx, e.env); err != nil || ctx.Err() != nil {
		return e.interrupt(ctx)
	}

	return e.complete(ctx, setupErr)
}

// setup obtains, extracts and indexes the evidence. On failure the
// techsupport entry carries the reason and the environment runs without
// evidence.
func (e *Engine) setup(ctx context.Context, archiver *archive.Archiver, b *band) error {
	task := archive.NewTask(e.cfg)

	e.beat(ctx, status.PhaseRunning, "Obtaining tech support", progressAcquireStart)
	if err := archiver.Acquire(ctx, task); err != nil {
		return e.setupFailed(ctx, err)
	}
	log.Ctx(ctx).Info().Str("archive", task.Archive).Msg("tech support obtained")

	b.lo, b.hi = progressExtractStart, progressChecksStart
	e.beat(ctx, status.PhaseRunning, "Extracting tech support", progressExtractStart)
	if err := archiver.Extract(ctx, task.Archive, task.Dest); err != nil {
		return e.setupFailed(ctx, err)
	}

	idx, err := fileindex.Build(task.Dest)
	if err != nil {
		return e.setupFailed(ctx, &archive.SetupError{Reason: "Failed to index tech support", Status: status.StatusError, Err: err})
	}
	if idx.Len() == 0 {
		return e.setupFailed(ctx, &archive.SetupError{Reason: ReasonEmptyExtraction, Status: status.StatusError})
	}
	e.env.AttachEvidence(idx)
	log.Ctx(ctx).Info().Int("files", idx.Len()).Str("dir", task.Dest).Msg("evidence indexed")

	res := status.NewCheckResult(diagnostic.Techsupport)
	if task.Mode == archive.ModeGenerate {
		res.Pass("Tech support generated and extracted successfully")
	} else {
		res.Pass("Tech support extracted successfully")
	}
	e.put(res)
	e.beat(ctx, status.PhaseRunning, "Tech support extraction complete", progressChecksStart)
	return nil
}

func (e *Engine) setupFailed(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return err
	}

	var se *archive.SetupError
	if !errors.As(err, &se) {
		se = &archive.SetupError{Reason: err.Error(), Status: status.StatusError, Err: err}
	}
	log.Ctx(ctx).Error().Err(err).Str("reason", se.Reason).Msg("no evidence available, evidence based checks will not run")

	res := status.NewCheckResult(diagnostic.Techsupport)
	res.Set(se.Status, se.Reason)
	e.put(res)
	e.env.MarkSetupFailure(se.Reason)

	// the heartbeat stays non-terminal while the live checks still run
	e.beat(ctx, status.PhaseRunning, "Tech support unavailable: "+se.Reason, progressChecksStart)
	return se
}

// complete finalizes and persists a run that went through every selected
// check.
func (e *Engine) complete(ctx context.Context, setupErr error) int {
	phase, operation, code := status.PhaseComplete, "All operations completed", ExitOK

	var se *archive.SetupError
	if errors.As(setupErr, &se) {
		code = ExitSetupFailure
		phase, operation = status.PhaseError, "Setup failed: "+se.Reason
		if se.Status == status.StatusWarning {
			phase = status.PhaseWarning
		}
	}

	reason := ReasonRunEnded
	if len(e.cfg.Checks.Enabled) > 0 {
		reason = ReasonNotSelected
	}

	e.accessor.WriteToReport(func(r *status.Report) {
		e.code = code
		r.Finalize(reason)
		e.stampVersion(r)
		err := e.store.Conclude(ctx, phase, operation, r)
		switch {
		case errors.Is(err, report.ErrSealed):
			// the interrupt path persisted first
			code = ExitInterrupted
			return
		case err != nil:
			e.reportFatal(ctx, "failed to persist results", err)
			e.code = ExitSetupFailure
		default:
			log.Ctx(ctx).Info().Str("summary", r.String()).Str("overall", r.Overall().String()).Msg("validation complete")
		}
		e.writeMetrics(ctx, r, e.code)
		code = e.code
	})
	return code
}

// interrupt finalizes every entry without a verdict and persists the report.
// It runs once; later calls return the same code.
func (e *Engine) interrupt(ctx context.Context) int {
	e.interruptOnce.Do(func() {
		ctx := context.WithoutCancel(ctx)
		logger := log.Ctx(ctx)
		logger.Warn().Msg("interrupted, persisting partial results")

		code := ExitInterrupted
		e.accessor.WriteToReport(func(r *status.Report) {
			touched := r.Finalize(ReasonInterrupted)
			e.stampVersion(r)
			err := e.store.Conclude(ctx, status.PhaseInterrupted, "Script interrupted by user", r)
			switch {
			case errors.Is(err, report.ErrSealed):
				code = e.code
				return
			case err != nil:
				e.reportFatal(ctx, "failed to persist results", err)
				code = ExitSetupFailure
			}
			logger.Info().Strs("unfinished", touched).Msg("partial results persisted")
			e.writeMetrics(ctx, r, code)
		})
		e.interruptCode = code
	})
	return e.interruptCode
}

// cleanup is the finalizer of every exit path. It never panics.
func (e *Engine) cleanup(ctx context.Context) {
	e.cleanupOnce.Do(func() {
		ctx := context.WithoutCancel(ctx)
		logger := log.Ctx(ctx)
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error().Interface("panic", rec).Msg("cleanup panicked")
			}
		}()
		if e.cfg.Cleanup.Disabled {
			return
		}
		killed := 0
		if k, ok := e.exec.(killer); ok {
			killed = k.KillAll()
		}
		reaped := e.reaper.Reap(ctx, e.cfg.ExtractDir())
		if killed+reaped > 0 {
			logger.Info().Int("killed", killed).Int("reaped", reaped).Msg("cleaned up leftover processes")
		}
	})
}

func (e *Engine) put(res *status.CheckResult) {
	e.accessor.WriteToReport(func(r *status.Report) {
		r.Put(res)
	})
}

func (e *Engine) stampVersion(r *status.Report) {
	if v, ok := e.env.Fact(diagnostic.FactVersion); ok {
		r.Version = v
	}
}

func (e *Engine) beat(ctx context.Context, phase status.Phase, operation string, progress int) {
	if err := e.store.Heartbeat(ctx, phase, operation, progress); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("failed to write heartbeat")
	}
}

func (e *Engine) writeMetrics(ctx context.Context, r *status.Report, code int) {
	if e.recorder == nil {
		return
	}
	e.recorder.ObserveReport(r, e.clock.GetCurrentTime())
	e.recorder.ObserveExit(code)
	if err := e.recorder.WriteTextfile(ctx, e.cfg.MetricsFile()); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("failed to write metrics")
	}
}

func (e *Engine) reportFatal(ctx context.Context, msg string, err error) {
	log.Ctx(ctx).Error().Err(err).Msg(msg)
	fmt.Fprintf(e.stderr, "preupgrade-validator: %s: %v\n", msg, err)
}

// band maps the completed fraction of a phase onto its slice of the overall
// progress.
type band struct {
	lo, hi int
}

func (b *band) at(fraction float64) int {
	return b.lo + int(fraction*float64(b.hi-b.lo))
}

// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package archive obtains the node's evidence archive and unpacks it.
//
// An archive is either generated by the appliance's collection command or
// selected among the archives already on disk. Extraction tries external tar
// first and falls back to an in-process gzip and tar pipeline.
package archive

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"

	config "github.com/cloudzero/preupgrade-validator/app/config/preflight"
	"github.com/cloudzero/preupgrade-validator/app/types"
	"github.com/cloudzero/preupgrade-validator/app/utils"
	"github.com/cloudzero/preupgrade-validator/app/utils/process"
)

// Mode says how the archive is obtained.
type Mode string

const (
	ModeGenerate Mode = "generate"
	ModeSelect   Mode = "select"
)

// Task is created once per run and consumed once.
type Task struct {
	Mode Mode
	// Source is an explicit archive for ModeSelect.
	Source string
	// VersionHint picks the collection command in ModeGenerate.
	VersionHint string
	Dest        string
	// Archive is the archive that was acquired.
	Archive string
}

// NewTask derives the task from the settings.
func NewTask(cfg *config.Settings) *Task {
	return &Task{
		Mode:        Mode(cfg.Collection.Mode),
		Source:      cfg.Collection.Archive,
		VersionHint: cfg.Node.Version,
		Dest:        cfg.ExtractDir(),
	}
}

// Progress receives the completed fraction (0..1) of the current phase.
type Progress func(fraction float64, operation string)

// Archiver acquires and extracts evidence archives.
type Archiver struct {
	cfg      *config.Settings
	exec     process.Executor
	clock    types.TimeProvider
	progress Progress
}

// Option customizes an Archiver.
type Option func(*Archiver)

// WithClock replaces the wall clock.
func WithClock(clock types.TimeProvider) Option {
	return func(a *Archiver) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// WithProgress reports progress of acquisition and extraction.
func WithProgress(p Progress) Option {
	return func(a *Archiver) {
		a.progress = p
	}
}

// NewArchiver creates an Archiver running external commands on exec.
func NewArchiver(cfg *config.Settings, exec process.Executor, opts ...Option) *Archiver {
	a := &Archiver{
		cfg:   cfg,
		exec:  exec,
		clock: &utils.Clock{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Archiver) report(fraction float64, operation string) {
	if a.progress == nil {
		return
	}
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	a.progress(fraction, operation)
}

// Acquire fills task.Archive according to task.Mode.
func (a *Archiver) Acquire(ctx context.Context, task *Task) error {
	var (
		path string
		err  error
	)
	switch task.Mode {
	case ModeSelect:
		path, err = a.Select(task.Source)
	default:
		path, err = a.Generate(ctx, task.VersionHint)
	}
	if err != nil {
		return err
	}
	task.Archive = path
	return nil
}

type candidate struct {
	path string
	info os.FileInfo
}

// candidates lists this node's archives, newest first.
func (a *Archiver) candidates() ([]candidate, error) {
	matches, err := filepath.Glob(filepath.Join(a.cfg.Paths.ArchiveDir, a.cfg.ArchivePattern()))
	if err != nil {
		return nil, errors.Wrap(err, "invalid archive pattern")
	}
	out := make([]candidate, 0, len(matches))
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		out = append(out, candidate{path: m, info: info})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].info.ModTime().After(out[j].info.ModTime())
	})
	return out, nil
}

// Select returns explicit when it exists, otherwise the newest archive of the
// node in the archive directory.
func (a *Archiver) Select(explicit string) (string, error) {
	if explicit != "" {
		info, err := os.Stat(explicit)
		if err != nil || !info.Mode().IsRegular() {
			return "", newSetupError("Tech support file not found: "+explicit, err)
		}
		return explicit, nil
	}

	found, err := a.candidates()
	if err != nil {
		return "", newSetupError(ReasonNoArchive, err)
	}
	if len(found) == 0 {
		return "", newSetupError(ReasonNoArchive, nil)
	}
	return found[0].path, nil
}

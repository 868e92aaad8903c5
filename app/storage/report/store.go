// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package report persists the results document and the heartbeat of a run.
//
// Both documents are replaced atomically so that a coordinator polling them
// never reads a partial file. Once a store is concluded it is sealed and every
// later write is dropped, which lets the interrupt path and the normal
// completion path race without one overwriting the other.
package report

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	config "github.com/cloudzero/preupgrade-validator/app/config/preflight"
	"github.com/cloudzero/preupgrade-validator/app/types"
	"github.com/cloudzero/preupgrade-validator/app/types/status"
	"github.com/cloudzero/preupgrade-validator/app/utils"
)

// ErrSealed is returned by Conclude when the store was already concluded.
var ErrSealed = errors.New("report store is sealed")

// Store writes the documents of one node.
type Store struct {
	nodeName    string
	resultsPath string
	statusPath  string
	runID       string
	clock       types.TimeProvider

	mu       sync.Mutex
	sealed   bool
	progress int
	phase    status.Phase
}

// Option customizes a Store.
type Option func(*Store)

// WithClock replaces the wall clock used for timestamps.
func WithClock(clock types.TimeProvider) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithRunID fixes the run id instead of generating one.
func WithRunID(id string) Option {
	return func(s *Store) {
		if id != "" {
			s.runID = id
		}
	}
}

// NewStore creates a store for the node configured in cfg.
func NewStore(cfg *config.Settings, opts ...Option) *Store {
	s := &Store{
		nodeName:    cfg.Node.Name,
		resultsPath: cfg.ResultsFile(),
		statusPath:  cfg.StatusFile(),
		runID:       uuid.NewString(),
		clock:       &utils.Clock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunID identifies this run in the results document and the lock.
func (s *Store) RunID() string {
	return s.runID
}

// Progress returns the last published progress.
func (s *Store) Progress() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// Sealed reports whether the store dropped its writes for good.
func (s *Store) Sealed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sealed
}

// Heartbeat publishes the current phase. Progress never moves backwards; a
// lower value keeps the previous one.
func (s *Store) Heartbeat(ctx context.Context, phase status.Phase, operation string, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed {
		log.Ctx(ctx).Debug().Str("phase", string(phase)).Msg("heartbeat dropped, store is sealed")
		return nil
	}
	return s.heartbeat(phase, operation, progress)
}

func (s *Store) heartbeat(phase status.Phase, operation string, progress int) error {
	if p := status.ClampProgress(progress); p > s.progress {
		s.progress = p
	}
	s.phase = phase
	hb := &status.Heartbeat{
		NodeName:         s.nodeName,
		Status:           phase,
		CurrentOperation: operation,
		Progress:         s.progress,
		LastUpdated:      s.clock.GetCurrentTime().Format(status.TimeFormat),
	}
	return WriteJSON(s.statusPath, hb)
}

// Save writes the results document. The timestamp and run id are stamped on
// the report before it is written.
func (s *Store) Save(ctx context.Context, r *status.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed {
		log.Ctx(ctx).Debug().Msg("results dropped, store is sealed")
		return nil
	}
	return s.save(r)
}

func (s *Store) save(r *status.Report) error {
	if r.NodeName == "" {
		r.NodeName = s.nodeName
	}
	r.RunID = s.runID
	r.Timestamp = s.clock.GetCurrentTime().Format(status.TimeFormat)
	return WriteJSON(s.resultsPath, r)
}

// Conclude writes the final heartbeat and the results, then seals the store.
// Only the first caller writes; later callers get ErrSealed. Both documents
// are attempted even if the first write fails.
func (s *Store) Conclude(ctx context.Context, phase status.Phase, operation string, r *status.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed {
		return ErrSealed
	}
	s.sealed = true

	progress := s.progress
	if phase == status.PhaseComplete {
		progress = 100
	}
	hbErr := s.heartbeat(phase, operation, progress)
	saveErr := s.save(r)

	logger := log.Ctx(ctx)
	if saveErr != nil {
		logger.Error().Err(saveErr).Str("file", s.resultsPath).Msg("failed to persist results")
		return saveErr
	}
	if hbErr != nil {
		logger.Error().Err(hbErr).Str("file", s.statusPath).Msg("failed to persist heartbeat")
		return hbErr
	}
	logger.Info().Str("phase", string(phase)).Str("file", s.resultsPath).Msg("results persisted")
	return nil
}

// WriteJSON replaces path with the indented encoding of v. The document is
// written to a temporary file in the same directory and renamed into place.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return errors.Wrapf(err, "failed to encode %s", path)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create %s", dir)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrapf(err, "failed to create temporary file for %s", path)
	}
	defer os.Remove(tmp.Name()) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "failed to write %s", tmp.Name())
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "failed to sync %s", tmp.Name())
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "failed to close %s", tmp.Name())
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return errors.Wrapf(err, "failed to set mode of %s", tmp.Name())
	}
	return errors.Wrapf(os.Rename(tmp.Name(), path), "failed to replace %s", path)
}

// LoadReport reads a results document.
func LoadReport(path string) (*status.Report, error) {
	var r status.Report
	if err := readJSON(path, &r); err != nil {
		return nil, err
	}
	for name, c := range r.Checks {
		if c != nil {
			c.Name = name
		}
	}
	return &r, nil
}

// LoadHeartbeat reads a heartbeat document.
func LoadHeartbeat(path string) (*status.Heartbeat, error) {
	var hb status.Heartbeat
	if err := readJSON(path, &hb); err != nil {
		return nil, err
	}
	return &hb, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", path)
	}
	return errors.Wrapf(json.Unmarshal(data, v), "failed to decode %s", path)
}

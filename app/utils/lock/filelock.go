// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package lock guarantees a single validation run per node.
//
// The lock is a small JSON file created with O_EXCL next to the results it
// protects. While held, a background goroutine rewrites its timestamp; a lock
// whose timestamp is older than the stale timeout belongs to a run that died
// without cleaning up and is taken over.
//
//	{"node":"nd-1","run_id":"...","hostname":"nd-1","pid":4242,"timestamp":"..."}
package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const lockFilePermissions = 0o644

var (
	ErrLockExists           = errors.New("another validation run holds the lock")
	ErrLockLost             = errors.New("lock lost")
	ErrLockAcquire          = errors.New("failed to acquire lock")
	ErrLockContextCancelled = errors.New("context was cancelled while obtaining the lock")
	ErrLockCorrupt          = errors.New("corrupt lock file")
	ErrMaxRetryExceeded     = errors.New("failed to acquire lock, max retries exceeded")

	// A run refreshes every DefaultRefreshInterval; three missed refreshes
	// make the lock stale.
	DefaultStaleTimeout    = 90 * time.Second
	DefaultRefreshInterval = 30 * time.Second
	DefaultRetryInterval   = 1 * time.Second
	DefaultMaxRetry        = 0
)

// FileLock is a run lock backed by a file.
type FileLock struct {
	filepath        string
	staleTimeout    time.Duration
	refreshInterval time.Duration
	retryInterval   time.Duration
	maxRetry        int

	owner Owner

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	wg     sync.WaitGroup
}

// Owner identifies the run holding a lock.
type Owner struct {
	Node      string    `json:"node,omitempty"`
	RunID     string    `json:"run_id,omitempty"`
	Hostname  string    `json:"hostname"`
	PID       int       `json:"pid"`
	Timestamp time.Time `json:"timestamp"`
}

func (o Owner) String() string {
	return fmt.Sprintf("run %s (pid %d on %s, last seen %s)", o.RunID, o.PID, o.Hostname, o.Timestamp.Format(time.RFC3339))
}

// FileLockOption customizes a FileLock.
type FileLockOption func(fl *FileLock)

func WithStaleTimeout(timeout time.Duration) FileLockOption {
	return func(fl *FileLock) {
		fl.staleTimeout = timeout
	}
}

func WithRetryInterval(interval time.Duration) FileLockOption {
	return func(fl *FileLock) {
		fl.retryInterval = interval
	}
}

func WithRefreshInterval(interval time.Duration) FileLockOption {
	return func(fl *FileLock) {
		fl.refreshInterval = interval
	}
}

// WithMaxRetry sets how many times a held lock is re-checked before giving up.
// Zero fails on the first conflict.
func WithMaxRetry(retry int) FileLockOption {
	return func(fl *FileLock) {
		fl.maxRetry = retry
	}
}

// WithNoMaxRetry waits until the lock is free or the context ends.
func WithNoMaxRetry() FileLockOption {
	return func(fl *FileLock) {
		fl.maxRetry = math.MaxInt
	}
}

// WithOwner records the node and run id in the lock file.
func WithOwner(node, runID string) FileLockOption {
	return func(fl *FileLock) {
		fl.owner.Node = node
		fl.owner.RunID = runID
	}
}

// NewFileLock creates a lock at path. Nothing touches the disk until Acquire.
func NewFileLock(ctx context.Context, path string, opts ...FileLockOption) *FileLock {
	hostname, _ := os.Hostname()

	fl := &FileLock{
		filepath:        path,
		staleTimeout:    DefaultStaleTimeout,
		refreshInterval: DefaultRefreshInterval,
		retryInterval:   DefaultRetryInterval,
		maxRetry:        DefaultMaxRetry,
		owner: Owner{
			Hostname: hostname,
			PID:      os.Getpid(),
		},
		ctx: ctx,
	}
	for _, opt := range opts {
		opt(fl)
	}
	return fl
}

// Path returns the lock file location.
func (fl *FileLock) Path() string {
	return fl.filepath
}

// Acquire takes the lock. A live lock held by another run yields an error
// wrapping ErrLockExists (or ErrMaxRetryExceeded after retries); a stale one is
// removed and taken over.
func (fl *FileLock) Acquire() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if _, err := os.Stat(filepath.Dir(fl.filepath)); err != nil {
		return fmt.Errorf("%w: %w", ErrLockAcquire, err)
	}

	retry := 0
	for {
		select {
		case <-fl.ctx.Done():
			return fmt.Errorf("%w: %w", ErrLockContextCancelled, fl.ctx.Err())
		default:
		}

		file, err := os.OpenFile(fl.filepath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, lockFilePermissions)
		if err == nil {
			if err2 := fl.writeLock(file); err2 != nil {
				file.Close()
				os.Remove(fl.filepath)
				return err2
			}
			file.Close()

			ctx, cancel := context.WithCancel(fl.ctx)
			fl.cancel = cancel
			fl.wg.Add(1)
			go func() {
				defer fl.wg.Done()
				fl.refreshLock(ctx)
			}()
			return nil
		}

		current, err := fl.readLockContent()
		switch {
		case err != nil && os.IsNotExist(err):
			// released between our create and read
			continue
		case err != nil && errors.Is(err, ErrLockCorrupt):
			// possibly mid-write by the holder; held until its mtime goes stale
			if info, serr := os.Stat(fl.filepath); serr == nil && time.Since(info.ModTime()) >= fl.staleTimeout {
				if err := os.Remove(fl.filepath); err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("%w: failed to remove corrupt lock: %w", ErrLockAcquire, err)
				}
				continue
			}
		case err != nil:
			return fmt.Errorf("%w: %w", ErrLockAcquire, err)
		case time.Since(current.Timestamp) >= fl.staleTimeout:
			if err := os.Remove(fl.filepath); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("%w: failed to remove stale lock: %w", ErrLockAcquire, err)
			}
			continue
		}

		if retry >= fl.maxRetry {
			if fl.maxRetry == 0 {
				if current != nil {
					return fmt.Errorf("%w: %s", ErrLockExists, current)
				}
				return ErrLockExists
			}
			return ErrMaxRetryExceeded
		}
		retry++

		select {
		case <-fl.ctx.Done():
			return fmt.Errorf("%w: %w", ErrLockContextCancelled, fl.ctx.Err())
		case <-time.After(fl.retryInterval):
		}
	}
}

// Release stops the refresher and removes the lock file. Safe to call twice.
func (fl *FileLock) Release() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.cancel == nil {
		return nil
	}
	fl.cancel()
	fl.cancel = nil
	fl.wg.Wait()

	return fl.releaseFile()
}

// Holder returns the current owner recorded in the lock file.
func (fl *FileLock) Holder() (*Owner, error) {
	return fl.readLockContent()
}

func (fl *FileLock) releaseFile() error {
	if err := os.Remove(fl.filepath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

func (fl *FileLock) refreshLock(ctx context.Context) {
	ticker := time.NewTicker(fl.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := fl.updateLock(); err != nil {
				_ = fl.releaseFile()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// updateLock rewrites the timestamp through a temp file and rename so readers
// never see a partial document.
func (fl *FileLock) updateLock() error {
	tempFile, err := os.CreateTemp(filepath.Dir(fl.filepath), "lock-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tempFile.Name())

	if err = fl.writeLock(tempFile); err != nil {
		tempFile.Close()
		return fmt.Errorf("failed to write temp lock: %w", err)
	}
	tempFile.Close()

	current, err := fl.readLockContent()
	if err != nil || current.Hostname != fl.owner.Hostname || current.PID != fl.owner.PID {
		return ErrLockLost
	}

	if err := os.Rename(tempFile.Name(), fl.filepath); err != nil {
		return fmt.Errorf("failed to atomically update lock: %w", err)
	}
	return nil
}

func (fl *FileLock) readLockContent() (*Owner, error) {
	data, err := os.ReadFile(fl.filepath)
	if err != nil {
		return nil, err
	}

	var o Owner
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLockCorrupt, err)
	}
	return &o, nil
}

func (fl *FileLock) writeLock(f *os.File) error {
	o := fl.owner
	o.Timestamp = time.Now()
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to encode lock content to json: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write lock file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync lock file: %w", err)
	}
	return nil
}

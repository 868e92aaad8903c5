// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package parallel runs a bounded number of tasks concurrently.
//
// It is used inside checks that fan out over cluster peers. Each task writes
// only to its own slot, so callers collect results without locking.
package parallel

import (
	"context"
	"runtime"
	"sync"
)

const minNumWorkers = 2

// Task is a unit of work run by a Manager.
type Task func(ctx context.Context) error

// Manager limits how many tasks run at once.
type Manager struct {
	wg        sync.WaitGroup
	semaphore chan struct{}
}

// New creates a Manager. A negative count means that many workers per CPU.
func New(workercount int) *Manager {
	if workercount < 0 {
		workercount = runtime.NumCPU() * -workercount
	}
	if workercount < minNumWorkers {
		workercount = minNumWorkers
	}
	return &Manager{
		semaphore: make(chan struct{}, workercount),
	}
}

// Run blocks until a worker slot is free, then runs fn in a goroutine. Tasks
// submitted after ctx ended are not started; ctx.Err() is reported instead.
func (p *Manager) Run(ctx context.Context, fn Task, waiter *Waiter) {
	waiter.wg.Add(1)
	if err := ctx.Err(); err != nil {
		waiter.add(err)
		waiter.wg.Done()
		return
	}
	select {
	case p.semaphore <- struct{}{}:
	case <-ctx.Done():
		waiter.add(ctx.Err())
		waiter.wg.Done()
		return
	}
	p.wg.Add(1)

	go func() {
		defer waiter.wg.Done()
		defer func() {
			p.wg.Done()
			<-p.semaphore
		}()
		waiter.add(fn(ctx))
	}()
}

// Close waits for every task to finish.
func (p *Manager) Close() {
	p.wg.Wait()
}

// Waiter gathers the errors of a group of tasks.
type Waiter struct {
	wg   sync.WaitGroup
	mu   sync.Mutex
	errs []error
}

func NewWaiter() *Waiter {
	return &Waiter{}
}

func (w *Waiter) add(err error) {
	if err == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.errs = append(w.errs, err)
}

// Wait blocks until the tasks finished and returns their errors.
func (w *Waiter) Wait() []error {
	w.wg.Wait()
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]error{}, w.errs...)
}

// Map applies fn to every item with at most workers goroutines and returns the
// results in input order.
func Map[T, R any](ctx context.Context, workers int, items []T, fn func(context.Context, T) R) []R {
	out := make([]R, len(items))
	if len(items) == 0 {
		return out
	}

	mgr := New(workers)
	waiter := NewWaiter()
	for i, item := range items {
		mgr.Run(ctx, func(ctx context.Context) error {
			out[i] = fn(ctx, item)
			return nil
		}, waiter)
	}
	waiter.Wait()
	mgr.Close()
	return out
}

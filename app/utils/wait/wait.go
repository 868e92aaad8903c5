// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package wait provides a bounded polling loop.
package wait

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned by Until when the ceiling elapsed before the condition held.
var ErrTimeout = errors.New("timed out waiting for condition")

// Condition is polled by Until. Returning an error stops the wait.
type Condition func(ctx context.Context) (bool, error)

type options struct {
	wake      <-chan struct{}
	immediate bool
}

// Option customizes Until.
type Option func(*options)

// WithWake polls early whenever a value arrives on ch.
func WithWake(ch <-chan struct{}) Option {
	return func(o *options) {
		o.wake = ch
	}
}

// WithoutImmediate skips the poll that normally happens before the first interval.
func WithoutImmediate() Option {
	return func(o *options) {
		o.immediate = false
	}
}

// Until polls cond every interval until it reports true, returns an error, the
// timeout elapses, or ctx ends.
func Until(ctx context.Context, timeout, interval time.Duration, cond Condition, opts ...Option) error {
	o := options{immediate: true}
	for _, opt := range opts {
		opt(&o)
	}

	if timeout <= 0 {
		return ErrTimeout
	}
	if interval <= 0 {
		interval = timeout
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if o.immediate {
		if ok, err := cond(ctx); err != nil || ok {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return ErrTimeout
		case <-ticker.C:
		case <-o.wake:
		}

		ok, err := cond(ctx)
		if err != nil || ok {
			return err
		}
	}
}

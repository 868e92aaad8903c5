// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package logging builds the zerolog logger used by the engine and the CLIs.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/cloudzero/preupgrade-validator/app/build"
)

type loggerConfig struct {
	level   zerolog.Level
	sinks   []io.Writer
	console bool
	attrs   []func(zerolog.Context) zerolog.Context
}

// LoggerOpt customizes NewLogger.
type LoggerOpt func(*loggerConfig) error

// WithLevel parses and sets the minimum level. An empty level keeps the default.
func WithLevel(level string) LoggerOpt {
	return func(c *loggerConfig) error {
		if strings.TrimSpace(level) == "" {
			return nil
		}
		lvl, err := zerolog.ParseLevel(strings.ToLower(level))
		if err != nil {
			return errors.Wrapf(err, "invalid log level %q", level)
		}
		c.level = lvl
		return nil
	}
}

// WithSink adds an output. Without any sink the logger writes to stderr so
// stdout stays free for command output.
func WithSink(w io.Writer) LoggerOpt {
	return func(c *loggerConfig) error {
		if w != nil {
			c.sinks = append(c.sinks, w)
		}
		return nil
	}
}

// WithConsole renders human readable lines instead of JSON.
func WithConsole(enabled bool) LoggerOpt {
	return func(c *loggerConfig) error {
		c.console = enabled
		return nil
	}
}

// WithAttrs adds fields to every entry.
func WithAttrs(fn func(zerolog.Context) zerolog.Context) LoggerOpt {
	return func(c *loggerConfig) error {
		if fn != nil {
			c.attrs = append(c.attrs, fn)
		}
		return nil
	}
}

// NewLogger creates a logger carrying the build version.
func NewLogger(opts ...LoggerOpt) (*zerolog.Logger, error) {
	cfg := &loggerConfig{level: zerolog.InfoLevel}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	sinks := cfg.sinks
	if len(sinks) == 0 {
		sinks = []io.Writer{os.Stderr}
	}
	if cfg.console {
		for i, s := range sinks {
			sinks[i] = zerolog.ConsoleWriter{Out: s, TimeFormat: time.DateTime}
		}
	}

	var out io.Writer = sinks[0]
	if len(sinks) > 1 {
		out = zerolog.MultiLevelWriter(sinks...)
	}

	ctx := zerolog.New(out).Level(cfg.level).With().
		Timestamp().
		Str("version", build.GetVersion())
	for _, fn := range cfg.attrs {
		ctx = fn(ctx)
	}

	logger := ctx.Logger()
	return &logger, nil
}

// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package logging configures the logrus logger used inside check units. Every
// entry carries a monotonically increasing sequence number so interleaved lines
// from a log file can be put back in order.
package logging

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// OpField names the check that produced the entry.
	OpField = "op"
	// LogSequence is the field holding the sequence number.
	LogSequence = "seq"

	LogFormatText = "text"
	LogFormatJSON = "json"
)

type sequenceHook struct {
	seq uint64
}

func (h *sequenceHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *sequenceHook) Fire(e *logrus.Entry) error {
	e.Data[LogSequence] = strconv.FormatUint(atomic.AddUint64(&h.seq, 1), 10)
	return nil
}

// SetUpLogging configures the standard logger. Calling it again restarts the
// sequence.
func SetUpLogging(level, format string) {
	logger := logrus.StandardLogger()

	lvl, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)

	switch format {
	case LogFormatJSON:
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})
	}

	logger.ReplaceHooks(logrus.LevelHooks{})
	logger.AddHook(&sequenceHook{})
}

// NewLogger returns the configured standard logger.
func NewLogger() *logrus.Logger {
	return logrus.StandardLogger()
}

// LogToFile sends check logs to path instead of stderr.
func LogToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "failed to create log directory")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrapf(err, "failed to open log file %s", path)
	}
	logrus.StandardLogger().SetOutput(f)
	return nil
}

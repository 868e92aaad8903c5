// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package status contains the result model produced by a validation run: the
// per-check verdicts, the aggregate report written for the coordinator, and the
// heartbeat describing what the run is currently doing.
package status

import "strings"

// Status is the verdict of a single check.
type Status string

const (
	StatusPass    Status = "PASS"
	StatusWarning Status = "WARNING"
	StatusFail    Status = "FAIL"
	StatusError   Status = "ERROR"
)

// TimeFormat is the timestamp layout used in every persisted document.
const TimeFormat = "2006-01-02 15:04:05"

// Severity orders statuses so a verdict can only be raised, never lowered.
func (s Status) Severity() int {
	switch s {
	case StatusPass:
		return 0
	case StatusWarning:
		return 1
	case StatusFail:
		return 2
	case StatusError:
		return 3
	default:
		return -1
	}
}

// Valid reports whether s is one of the known verdicts.
func (s Status) Valid() bool {
	return s.Severity() >= 0
}

func (s Status) String() string {
	return string(s)
}

// ParseStatus converts a string (case insensitive) into a Status.
func ParseStatus(v string) (Status, bool) {
	s := Status(strings.ToUpper(strings.TrimSpace(v)))
	return s, s.Valid()
}

// Worst returns the most severe of the given statuses, PASS when empty.
func Worst(statuses ...Status) Status {
	worst := StatusPass
	for _, s := range statuses {
		if s.Severity() > worst.Severity() {
			worst = s
		}
	}
	return worst
}

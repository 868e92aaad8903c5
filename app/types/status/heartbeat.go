// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package status

// Phase is the coarse state published in the heartbeat.
type Phase string

const (
	PhaseStarting    Phase = "starting"
	PhaseRunning     Phase = "running"
	PhaseWarning     Phase = "warning"
	PhaseComplete    Phase = "complete"
	PhaseError       Phase = "error"
	PhaseInterrupted Phase = "interrupted"
)

// Terminal reports whether no further heartbeat is expected after p.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseComplete, PhaseError, PhaseInterrupted:
		return true
	}
	return false
}

// Heartbeat is written to {node}_status.json whenever the run changes phase or
// starts a check. It is overwritten on every update and never read back.
type Heartbeat struct {
	NodeName         string `json:"node_name"`
	Status           Phase  `json:"status"`
	CurrentOperation string `json:"current_operation"`
	Progress         int    `json:"progress"`
	LastUpdated      string `json:"last_updated"`
}

// ClampProgress keeps p within 0..100.
func ClampProgress(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

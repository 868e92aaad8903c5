// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package diagnostic defines the contract between the check runner and the
// individual pre-upgrade checks.
//
// A check is a Provider. The runner hands each provider the shared Environment
// (extracted evidence, the file index, a command executor) and a fresh
// CheckResult owned by that check alone. The provider records its verdict in
// the result; the runner merges it into the report afterwards. A returned
// error, or a panic, is a fault of that check only.
//
// Checks prefer evidence from the extracted archive, fall back to a live query
// when the evidence is absent, and report WARNING when neither is usable. FAIL
// is reserved for a violation that the evidence or the live query demonstrates.
package diagnostic

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudzero/preupgrade-validator/app/types/status"
)

// Error taxonomy of a run.
var (
	// ErrSetupFailure means no evidence archive could be obtained or extracted.
	ErrSetupFailure = errors.New("setup failure")
	// ErrCheckFault is an unexpected failure inside one check.
	ErrCheckFault = errors.New("check fault")
	// ErrDataAbsent means the data a check needs is missing or unparseable.
	ErrDataAbsent = errors.New("data absent")
	// ErrPolicyViolation means a check found a confirmed defect.
	ErrPolicyViolation = errors.New("policy violation")
)

// Violation wraps ErrPolicyViolation for a FAIL verdict and returns nil for
// every other status.
func Violation(res *status.CheckResult) error {
	if res == nil || res.Status != status.StatusFail {
		return nil
	}
	return fmt.Errorf("%s: %w", res.Name, ErrPolicyViolation)
}

// Check names, in execution order.
const (
	Techsupport          = "techsupport"
	VersionCheck         = "version_check"
	NodeStatus           = "node_status"
	SubnetCheck          = "subnet_check"
	PingCheck            = "ping_check"
	DiskSpace            = "disk_space"
	PodStatus            = "pod_status"
	SystemHealth         = "system_health"
	NxosDiscoveryService = "nxos_discovery_service"
	CertificateCheck     = "certificate_check"
	IsoCheck             = "iso_check"
	LvmPvsCheck          = "lvm_pvs_check"
	PersistentIPCheck    = "persistent_ip_check"
	Atom0NvmeCheck       = "atom0_nvme_check"
	Atom0VgCheck         = "atom0_vg_check"
)

// Provider is implemented by every check.
type Provider interface {
	// Check records a verdict in result. Inconclusive data is a WARNING verdict,
	// not an error; errors are reserved for faults in the check itself.
	Check(ctx context.Context, env *Environment, result *status.CheckResult) error
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, env *Environment, result *status.CheckResult) error

func (f ProviderFunc) Check(ctx context.Context, env *Environment, result *status.CheckResult) error {
	return f(ctx, env, result)
}

// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package status

import "fmt"

// GenericDetail is attached to a non-passing result that carries no detail of its own.
const GenericDetail = "Check did not report any details"

// CheckResult is the verdict of one check unit.
//
// A check receives its own CheckResult and never sees another check's. The setters
// that take details replace the previous details outright; AddDetail appends and is
// meant to be used while building up a single verdict.
type CheckResult struct {
	Name           string   `json:"-"`
	Status         Status   `json:"status"`
	Details        []string `json:"details"`
	Explanation    string   `json:"explanation,omitempty"`
	Recommendation string   `json:"recommendation,omitempty"`
	Reference      string   `json:"reference,omitempty"`
}

// NewCheckResult creates the default PASS entry for name.
func NewCheckResult(name string) *CheckResult {
	return &CheckResult{
		Name:    name,
		Status:  StatusPass,
		Details: []string{},
	}
}

// Set replaces the status and details.
func (r *CheckResult) Set(s Status, details ...string) {
	r.Status = s
	r.Details = append([]string{}, details...)
}

func (r *CheckResult) Pass(details ...string) { r.Set(StatusPass, details...) }

func (r *CheckResult) Warn(details ...string) { r.Set(StatusWarning, details...) }

func (r *CheckResult) Fail(details ...string) { r.Set(StatusFail, details...) }

func (r *CheckResult) Error(details ...string) { r.Set(StatusError, details...) }

// Raise moves the status up to s if s is more severe; it never lowers it.
func (r *CheckResult) Raise(s Status) {
	if s.Severity() > r.Status.Severity() {
		r.Status = s
	}
}

// AddDetail appends a single line to the details.
func (r *CheckResult) AddDetail(detail string) {
	r.Details = append(r.Details, detail)
}

// AddDetailf is AddDetail with formatting.
func (r *CheckResult) AddDetailf(format string, args ...any) {
	r.AddDetail(fmt.Sprintf(format, args...))
}

// Remediate attaches the operator guidance that accompanies a non-passing verdict.
func (r *CheckResult) Remediate(explanation, recommendation, reference string) {
	r.Explanation = explanation
	r.Recommendation = recommendation
	r.Reference = reference
}

// Normalize enforces the shape invariants of a verdict before it is stored.
func (r *CheckResult) Normalize() {
	if !r.Status.Valid() {
		r.Status = StatusError
	}
	if r.Details == nil {
		r.Details = []string{}
	}
	if r.Status == StatusPass {
		r.Explanation, r.Recommendation, r.Reference = "", "", ""
		return
	}
	if len(r.Details) == 0 {
		r.Details = []string{GenericDetail}
	}
}

// Clone returns a deep copy.
func (r *CheckResult) Clone() *CheckResult {
	if r == nil {
		return nil
	}
	c := *r
	c.Details = append([]string{}, r.Details...)
	return &c
}

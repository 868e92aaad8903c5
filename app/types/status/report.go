// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package status

import (
	"fmt"
	"sync"
)

// DidNotRunPrefix starts the detail of every entry that was never executed.
const DidNotRunPrefix = "Check did not run: "

// Report is the aggregate written to {node}_results.json.
type Report struct {
	NodeName  string                  `json:"node_name"`
	Timestamp string                  `json:"timestamp"`
	RunID     string                  `json:"run_id,omitempty"`
	Version   string                  `json:"version,omitempty"`
	Checks    map[string]*CheckResult `json:"checks"`

	order     []string
	completed map[string]bool
}

// NewReport pre-registers a PASS entry for every name so that every registered
// check appears exactly once in the output.
func NewReport(nodeName string, names ...string) *Report {
	r := &Report{
		NodeName:  nodeName,
		Checks:    make(map[string]*CheckResult, len(names)),
		completed: make(map[string]bool, len(names)),
	}
	for _, n := range names {
		r.Register(n)
	}
	return r
}

// Register adds a default entry for name if it is not already present.
func (r *Report) Register(name string) {
	if r.Checks == nil {
		r.Checks = map[string]*CheckResult{}
	}
	if r.completed == nil {
		r.completed = map[string]bool{}
	}
	if _, ok := r.Checks[name]; ok {
		return
	}
	r.Checks[name] = NewCheckResult(name)
	r.order = append(r.order, name)
}

// Names returns the registered entries in registration order.
func (r *Report) Names() []string {
	return append([]string{}, r.order...)
}

// Put stores res as the final verdict of its check, replacing whatever was there.
func (r *Report) Put(res *CheckResult) {
	if res == nil || res.Name == "" {
		return
	}
	r.Register(res.Name)
	c := res.Clone()
	c.Normalize()
	r.Checks[res.Name] = c
	r.completed[res.Name] = true
}

// Get returns the entry for name, nil when unknown.
func (r *Report) Get(name string) *CheckResult {
	return r.Checks[name]
}

// Completed reports whether name received a verdict during this run.
func (r *Report) Completed(name string) bool {
	return r.completed[name]
}

// Finalize marks every entry that never received a verdict as ERROR with the
// given reason. It returns the names it touched.
func (r *Report) Finalize(reason string) []string {
	var touched []string
	for _, name := range r.order {
		if r.completed[name] {
			continue
		}
		res := NewCheckResult(name)
		res.Error(DidNotRunPrefix + reason)
		r.Checks[name] = res
		r.completed[name] = true
		touched = append(touched, name)
	}
	return touched
}

// Overall returns the most severe verdict in the report.
func (r *Report) Overall() Status {
	all := make([]Status, 0, len(r.Checks))
	for _, c := range r.Checks {
		all = append(all, c.Status)
	}
	return Worst(all...)
}

// Counts returns the number of entries per status.
func (r *Report) Counts() map[Status]int {
	out := map[Status]int{}
	for _, c := range r.Checks {
		out[c.Status]++
	}
	return out
}

func (r *Report) String() string {
	c := r.Counts()
	return fmt.Sprintf("%s: %d checks (pass=%d warning=%d fail=%d error=%d)",
		r.NodeName, len(r.Checks), c[StatusPass], c[StatusWarning], c[StatusFail], c[StatusError])
}

// Accessor serializes access to a Report shared between the run and the
// interrupt handler.
type Accessor interface {
	WriteToReport(func(*Report))
	ReadFromReport(func(*Report))
}

type accessor struct {
	mu     sync.Mutex
	report *Report
}

// NewAccessor wraps r.
func NewAccessor(r *Report) Accessor {
	if r == nil {
		r = NewReport("")
	}
	return &accessor{report: r}
}

func (a *accessor) WriteToReport(fn func(*Report)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(a.report)
}

func (a *accessor) ReadFromReport(fn func(*Report)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(a.report)
}

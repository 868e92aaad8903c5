// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package diagnostic

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"

	config "github.com/cloudzero/preupgrade-validator/app/config/preflight"
	"github.com/cloudzero/preupgrade-validator/app/domain/fileindex"
	"github.com/cloudzero/preupgrade-validator/app/types"
	"github.com/cloudzero/preupgrade-validator/app/utils/process"
)

// FactVersion is the running ND version as discovered by version_check.
const FactVersion = "nd_version"

// PodInfo is a pod that is not in the Running phase.
type PodInfo struct {
	Namespace string
	Name      string
	Phase     string
	Reason    string
}

// PodLister lists pods that are not Running. It backs the live fallback of the
// pod check.
type PodLister interface {
	ListNotRunning(ctx context.Context) ([]PodInfo, error)
}

// Environment is what a check can see: the evidence tree, the ways to query
// the live system, and the run configuration.
type Environment struct {
	Settings *config.Settings
	NodeName string
	Exec     process.Executor
	Pods     PodLister
	Clock    types.TimeProvider

	mu          sync.RWMutex
	index       *fileindex.Index
	evidence    bool
	setupReason string
	facts       map[string]string
}

// NewEnvironment creates an environment without evidence.
func NewEnvironment(settings *config.Settings, exec process.Executor, clock types.TimeProvider) *Environment {
	env := &Environment{
		Settings: settings,
		Exec:     exec,
		Clock:    clock,
		index:    fileindex.Empty(),
		facts:    map[string]string{},
	}
	if settings != nil {
		env.NodeName = settings.Node.Name
	}
	return env
}

// AttachEvidence makes an indexed evidence tree available to checks.
func (e *Environment) AttachEvidence(idx *fileindex.Index) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if idx == nil {
		idx = fileindex.Empty()
	}
	e.index = idx
	e.evidence = true
	e.setupReason = ""
}

// MarkSetupFailure records why no evidence is available.
func (e *Environment) MarkSetupFailure(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.evidence = false
	e.setupReason = reason
	e.index = fileindex.Empty()
}

// HasEvidence reports whether an archive was extracted and indexed.
func (e *Environment) HasEvidence() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.evidence
}

// SetupReason explains why HasEvidence is false.
func (e *Environment) SetupReason() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.setupReason == "" && !e.evidence {
		return "no evidence archive available"
	}
	return e.setupReason
}

// Index returns the evidence index; it is empty, never nil, without evidence.
func (e *Environment) Index() *fileindex.Index {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.index
}

// SetFact publishes a run level value such as the discovered version.
func (e *Environment) SetFact(key, value string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.facts == nil {
		e.facts = map[string]string{}
	}
	e.facts[key] = value
}

// Fact returns a value published with SetFact.
func (e *Environment) Fact(key string) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.facts[key]
	return v, ok
}

// Query runs a configured command line, with extra arguments appended, bounded
// by the query timeout. A non-zero exit is returned as a result, not an error.
func (e *Environment) Query(ctx context.Context, commandLine string, extra ...string) (*process.Result, error) {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return nil, errors.New("empty command")
	}
	if e.Exec == nil {
		return nil, errors.New("no command executor configured")
	}

	cmd := process.Command{
		Name: fields[0],
		Args: append(fields[1:], extra...),
	}
	if e.Settings != nil {
		cmd.Timeout = e.Settings.Commands.QueryTimeout
	}
	return e.Exec.Run(ctx, cmd)
}

// QueryOutput is Query reduced to "stdout of a successful run". ok is false
// when the command failed, timed out, or printed nothing.
func (e *Environment) QueryOutput(ctx context.Context, commandLine string, extra ...string) (string, bool) {
	res, err := e.Query(ctx, commandLine, extra...)
	if err != nil || !res.Success() || strings.TrimSpace(res.Stdout) == "" {
		return "", false
	}
	return res.Stdout, true
}

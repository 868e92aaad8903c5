// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package runner_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "github.com/cloudzero/preupgrade-validator/app/config/preflight"
	"github.com/cloudzero/preupgrade-validator/app/domain/diagnostic"
	"github.com/cloudzero/preupgrade-validator/app/domain/diagnostic/catalog"
	"github.com/cloudzero/preupgrade-validator/app/domain/diagnostic/runner"
	"github.com/cloudzero/preupgrade-validator/app/domain/fileindex"
	"github.com/cloudzero/preupgrade-validator/app/types/mocks"
	"github.com/cloudzero/preupgrade-validator/app/types/status"
)

func newEnv() *diagnostic.Environment {
	return diagnostic.NewEnvironment(&config.Settings{}, nil, mocks.NewMockClock(time.Now()))
}

func pass(detail string) diagnostic.Provider {
	return diagnostic.ProviderFunc(func(_ context.Context, _ *diagnostic.Environment, r *status.CheckResult) error {
		r.Pass(detail)
		return nil
	})
}

func TestUnit_Runner_RunIsolated(t *testing.T) {
	err := runner.RunIsolated(t.Context(), "boom", func(context.Context) error {
		panic("nil map")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, diagnostic.ErrCheckFault)
	var f *runner.Fault
	require.ErrorAs(t, err, &f)
	assert.True(t, f.Panic)
	assert.Equal(t, "boom", f.Check)

	cause := errors.New("parse failure")
	err = runner.RunIsolated(t.Context(), "bad", func(context.Context) error { return cause })
	assert.ErrorIs(t, err, diagnostic.ErrCheckFault)
	assert.ErrorIs(t, err, cause)

	assert.NoError(t, runner.RunIsolated(t.Context(), "ok", func(context.Context) error { return nil }))
}

func TestUnit_Runner_FaultIsolation(t *testing.T) {
	reg := catalog.New(
		catalog.Entry{Name: "first", Provider: pass("fine")},
		catalog.Entry{Name: "panics", Provider: diagnostic.ProviderFunc(
			func(_ context.Context, _ *diagnostic.Environment, r *status.CheckResult) error {
				r.Warn("partial")
				var m map[string]int
				m["x"] = 1
				return nil
			})},
		catalog.Entry{Name: "errors", Provider: diagnostic.ProviderFunc(
			func(context.Context, *diagnostic.Environment, *status.CheckResult) error {
				return errors.New("unexpected token")
			})},
		catalog.Entry{Name: "last", Provider: pass("still runs")},
	)

	report := status.NewReport("nd1", reg.List()...)
	accessor := status.NewAccessor(report)
	var seen []string
	r := runner.NewRunner(reg, accessor, runner.WithProgress(func(name string, i, total int) {
		assert.Equal(t, 4, total)
		assert.Equal(t, len(seen), i)
		seen = append(seen, name)
	}))

	require.NoError(t, r.Run(t.Context(), newEnv()))
	assert.Equal(t, []string{"first", "panics", "errors", "last"}, seen)

	accessor.ReadFromReport(func(rep *status.Report) {
		assert.Equal(t, status.StatusPass, rep.Get("first").Status)

		p := rep.Get("panics")
		assert.Equal(t, status.StatusError, p.Status)
		require.Len(t, p.Details, 1)
		assert.Contains(t, p.Details[0], runner.FaultPrefix)
		assert.NotContains(t, p.Details, "partial")

		e := rep.Get("errors")
		assert.Equal(t, status.StatusError, e.Status)
		assert.Equal(t, []string{"Check failed: unexpected token"}, e.Details)

		assert.Equal(t, []string{"still runs"}, rep.Get("last").Details)
	})
}

func TestUnit_Runner_EvidenceRequirement(t *testing.T) {
	ran := map[string]bool{}
	track := func(name string) diagnostic.Provider {
		return diagnostic.ProviderFunc(func(_ context.Context, env *diagnostic.Environment, r *status.CheckResult) error {
			ran[name] = true
			assert.Equal(t, 0, env.Index().Len())
			r.Warn("No data")
			return nil
		})
	}
	reg := catalog.New(
		catalog.Entry{Name: "live", Requirement: catalog.LiveOnly, Provider: track("live")},
		catalog.Entry{Name: "preferred", Requirement: catalog.EvidencePreferred, Provider: track("preferred")},
		catalog.Entry{Name: "required", Requirement: catalog.EvidenceRequired, Provider: track("required")},
	)

	env := newEnv()
	env.MarkSetupFailure("No tech support files found")

	accessor := status.NewAccessor(status.NewReport("nd1", reg.List()...))
	require.NoError(t, runner.NewRunner(reg, accessor).Run(t.Context(), env))

	assert.True(t, ran["live"])
	assert.True(t, ran["preferred"])
	assert.False(t, ran["required"])

	accessor.ReadFromReport(func(rep *status.Report) {
		req := rep.Get("required")
		assert.Equal(t, status.StatusError, req.Status)
		assert.Equal(t, []string{"Check did not run: No tech support files found"}, req.Details)
		assert.Equal(t, status.StatusWarning, rep.Get("preferred").Status)
	})
}

func TestUnit_Runner_EvidenceAttached(t *testing.T) {
	root := t.TempDir()
	idx, err := fileindex.Build(root)
	require.NoError(t, err)

	ran := false
	reg := catalog.New(catalog.Entry{Name: "required", Requirement: catalog.EvidenceRequired, Provider: diagnostic.ProviderFunc(
		func(_ context.Context, env *diagnostic.Environment, r *status.CheckResult) error {
			ran = true
			assert.True(t, env.HasEvidence())
			return nil
		})})

	env := newEnv()
	env.AttachEvidence(idx)
	accessor := status.NewAccessor(status.NewReport("nd1", reg.List()...))
	require.NoError(t, runner.NewRunner(reg, accessor).Run(t.Context(), env))
	assert.True(t, ran)
}

func TestUnit_Runner_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())

	reg := catalog.New(
		catalog.Entry{Name: "a", Provider: pass("done")},
		catalog.Entry{Name: "b", Provider: diagnostic.ProviderFunc(
			func(_ context.Context, _ *diagnostic.Environment, r *status.CheckResult) error {
				cancel()
				r.Warn("Could not retrieve node information")
				return nil
			})},
		catalog.Entry{Name: "c", Provider: pass("never")},
	)
	report := status.NewReport("nd1", reg.List()...)
	accessor := status.NewAccessor(report)

	err := runner.NewRunner(reg, accessor).Run(ctx, newEnv())
	assert.ErrorIs(t, err, context.Canceled)

	accessor.WriteToReport(func(rep *status.Report) {
		assert.True(t, rep.Completed("a"))
		assert.False(t, rep.Completed("b"))
		assert.False(t, rep.Completed("c"))
		assert.Equal(t, []string{"b", "c"}, rep.Finalize("interrupted"))
		assert.Equal(t, status.StatusError, rep.Get("c").Status)
	})
}

func TestUnit_Runner_WithChecks(t *testing.T) {
	reg := catalog.New(
		catalog.Entry{Name: "a", Provider: pass("a")},
		catalog.Entry{Name: "b", Provider: pass("b")},
	)
	accessor := status.NewAccessor(status.NewReport("nd1", reg.List()...))
	require.NoError(t, runner.NewRunner(reg, accessor, runner.WithChecks("b")).Run(t.Context(), newEnv()))

	accessor.ReadFromReport(func(rep *status.Report) {
		assert.False(t, rep.Completed("a"))
		assert.True(t, rep.Completed("b"))
	})
}

func TestUnit_Runner_Observer(t *testing.T) {
	reg := catalog.New(
		catalog.Entry{Name: "a", Provider: pass("a")},
		catalog.Entry{Name: "b", Requirement: catalog.EvidenceRequired, Provider: pass("b")},
		catalog.Entry{Name: "c", Provider: diagnostic.ProviderFunc(
			func(_ context.Context, _ *diagnostic.Environment, r *status.CheckResult) error {
				r.Fail()
				return nil
			})},
	)
	env := newEnv()
	env.MarkSetupFailure("Failed to extract tech support")

	got := map[string]*status.CheckResult{}
	accessor := status.NewAccessor(status.NewReport("nd1", reg.List()...))
	r := runner.NewRunner(reg, accessor, runner.WithObserver(func(res *status.CheckResult, took time.Duration) {
		assert.GreaterOrEqual(t, took, time.Duration(0))
		got[res.Name] = res
	}))
	require.NoError(t, r.Run(t.Context(), env))

	require.Len(t, got, 3)
	assert.Equal(t, status.StatusPass, got["a"].Status)
	assert.Equal(t, status.StatusError, got["b"].Status)
	// the observer sees the normalized entry, not the raw one
	assert.Equal(t, []string{status.GenericDetail}, got["c"].Details)
}

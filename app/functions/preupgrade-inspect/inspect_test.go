// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/cloudzero/preupgrade-validator/app/storage/report"
	"github.com/cloudzero/preupgrade-validator/app/types/status"
)

func writeRun(t *testing.T, dir, runID string, mutate func(*status.Report)) Config {
	t.Helper()

	cfg := Config{BaseDir: dir, Node: "nd1"}

	rep := status.NewReport("nd1", "techsupport", "disk_space", "iso_check", "pod_status")
	rep.RunID = runID
	rep.Timestamp = "2025-03-14 09:26:53"
	rep.Version = "3.2.1e"

	disk := status.NewCheckResult("disk_space")
	disk.Fail("/data is 91% full")
	disk.Remediate("", "Free up space on /data before upgrading", "")
	rep.Put(disk)

	pods := status.NewCheckResult("pod_status")
	pods.Warn("2 pods restarting")
	rep.Put(pods)

	if mutate != nil {
		mutate(rep)
	}
	require.NoError(t, report.WriteJSON(cfg.ResultsFile(), rep))
	require.NoError(t, report.WriteJSON(cfg.StatusFile(), &status.Heartbeat{
		NodeName:         "nd1",
		Status:           status.PhaseComplete,
		CurrentOperation: "All operations completed",
		Progress:         100,
	}))
	return cfg
}

func TestUnit_Inspect_Query(t *testing.T) {
	cfg := writeRun(t, t.TempDir(), "run-1", nil)

	tests := []struct {
		name string
		expr string
		raw  bool
		want string
	}{
		{name: "identity field", expr: ".node_name", want: "\"nd1\"\n"},
		{name: "raw string", expr: ".node_name", raw: true, want: "nd1\n"},
		{
			name: "failing checks",
			expr: `.checks | to_entries[] | select(.value.status != "PASS") | .key`,
			raw:  true,
			want: "disk_space\npod_status\n",
		},
		{name: "no output", expr: "empty", want: ""},
		{name: "halt", expr: "1, halt, 2", want: "1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			require.NoError(t, runQuery(t.Context(), &out, cfg.ResultsFile(), tt.expr, tt.raw))
			assert.Equal(t, tt.want, out.String())
		})
	}
}

func TestUnit_Inspect_QueryErrors(t *testing.T) {
	cfg := writeRun(t, t.TempDir(), "run-1", nil)
	var out bytes.Buffer

	err := runQuery(t.Context(), &out, cfg.ResultsFile(), ".checks[", false)
	assert.ErrorContains(t, err, "invalid query")

	err = runQuery(t.Context(), &out, cfg.ResultsFile(), `error("boom")`, false)
	assert.ErrorContains(t, err, "boom")

	err = runQuery(t.Context(), &out, filepath.Join(t.TempDir(), "missing.json"), ".", false)
	assert.Error(t, err)
}

func TestUnit_Inspect_Summary(t *testing.T) {
	cfg := writeRun(t, t.TempDir(), "run-1", nil)

	sum, err := summarize(cfg)
	require.NoError(t, err)

	assert.Equal(t, "run-1", sum.RunID)
	assert.Equal(t, status.PhaseComplete, sum.Phase)
	assert.Equal(t, 100, sum.Progress)
	assert.Equal(t, status.StatusFail, sum.Overall)
	assert.Equal(t, 2, sum.Counts[status.StatusPass])
	require.Len(t, sum.Problems, 2)
	assert.Equal(t, "disk_space", sum.Problems[0].Check)
	assert.Equal(t, "Free up space on /data before upgrading", sum.Problems[0].Recommendation)
	assert.Equal(t, "pod_status", sum.Problems[1].Check)

	var buf bytes.Buffer
	require.NoError(t, writeYAML(&buf, sum))
	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "nd1", decoded["node"])
	assert.Equal(t, "FAIL", decoded["overall"])
}

func TestUnit_Inspect_SummaryMissing(t *testing.T) {
	_, err := summarize(Config{BaseDir: t.TempDir(), Node: "nd1"})
	assert.ErrorContains(t, err, "no validation documents")
}

func TestUnit_Inspect_SummaryInProgress(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{BaseDir: dir, Node: "nd1"}
	require.NoError(t, report.WriteJSON(cfg.StatusFile(), &status.Heartbeat{
		NodeName: "nd1", Status: status.PhaseRunning, CurrentOperation: "Extracting", Progress: 12,
	}))

	sum, err := summarize(cfg)
	require.NoError(t, err)
	assert.Equal(t, status.PhaseRunning, sum.Phase)
	assert.Empty(t, sum.Problems)
}

func TestUnit_Inspect_Diff(t *testing.T) {
	before := writeRun(t, t.TempDir(), "run-1", nil)
	same := writeRun(t, t.TempDir(), "run-2", nil)
	after := writeRun(t, t.TempDir(), "run-3", func(r *status.Report) {
		disk := status.NewCheckResult("disk_space")
		disk.Pass()
		r.Put(disk)
	})

	var out bytes.Buffer
	changed, err := diffReports(&out, before.ResultsFile(), same.ResultsFile())
	require.NoError(t, err)
	assert.False(t, changed, "run ids and timestamps are ignored")
	assert.Equal(t, "no differences\n", out.String())

	out.Reset()
	changed, err = diffReports(&out, before.ResultsFile(), after.ResultsFile())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Contains(t, out.String(), "FAIL -> WARNING")
	assert.Contains(t, out.String(), "disk_space")
}

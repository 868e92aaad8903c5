// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package telemetry_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudzero/preupgrade-validator/app/types/status"
	"github.com/cloudzero/preupgrade-validator/app/utils/telemetry"
)

func TestUnit_Telemetry_WriteTextfile(t *testing.T) {
	rep := status.NewReport("nd1", "version_check", "disk_space", "iso_check")
	disk := status.NewCheckResult("disk_space")
	disk.Fail("/data is 91% full")
	rep.Put(disk)
	rep.Finalize("interrupted")
	rep.RunID = "run-1"
	rep.Version = "3.2.1e"

	rec := telemetry.NewRecorder("nd1")
	rec.ObserveCheck(rep.Get("disk_space"), 1500*time.Millisecond)
	rec.ObserveReport(rep, time.Unix(1700000000, 0))
	rec.ObserveExit(130)

	path := filepath.Join(t.TempDir(), "metrics", "nd1_checks.prom")
	require.NoError(t, rec.WriteTextfile(t.Context(), path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(raw)

	for _, line := range []string{
		`nd_preupgrade_check_status{check="disk_space",node="nd1",status="FAIL"} 1`,
		`nd_preupgrade_check_status{check="disk_space",node="nd1",status="PASS"} 0`,
		`nd_preupgrade_check_status{check="iso_check",node="nd1",status="ERROR"} 1`,
		`nd_preupgrade_check_duration_seconds{check="disk_space",node="nd1"} 1.5`,
		`nd_preupgrade_checks{node="nd1",status="ERROR"} 2`,
		`nd_preupgrade_checks{node="nd1",status="FAIL"} 1`,
		`nd_preupgrade_checks{node="nd1",status="PASS"} 0`,
		`nd_preupgrade_exit_code{node="nd1"} 130`,
		`nd_preupgrade_run_info{node="nd1",run_id="run-1",version="3.2.1e"} 1`,
		`nd_preupgrade_last_run_timestamp_seconds{node="nd1"} 1.7e+09`,
	} {
		assert.Contains(t, text, line)
	}
}

func TestUnit_Telemetry_StatusFlips(t *testing.T) {
	rec := telemetry.NewRecorder("nd1")

	rep := status.NewReport("nd1", "pod_status")
	res := status.NewCheckResult("pod_status")
	res.Warn("Could not retrieve pod information")
	rep.Put(res)
	rec.ObserveReport(rep, time.Now())

	res.Pass()
	rep.Put(res)
	rec.ObserveReport(rep, time.Now())

	mfs, err := rec.Gatherer().Gather()
	require.NoError(t, err)

	got := map[string]float64{}
	for _, mf := range mfs {
		if mf.GetName() != "nd_preupgrade_check_status" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "status" {
					got[l.GetValue()] = m.GetGauge().GetValue()
				}
			}
		}
	}
	assert.Equal(t, map[string]float64{"PASS": 1, "WARNING": 0, "FAIL": 0, "ERROR": 0}, got)
}

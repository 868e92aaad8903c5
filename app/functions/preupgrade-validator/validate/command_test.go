// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package validate_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/cloudzero/preupgrade-validator/app/functions/preupgrade-validator/validate"
	"github.com/cloudzero/preupgrade-validator/app/storage/report"
	"github.com/cloudzero/preupgrade-validator/app/types/status"
)

func newApp(t *testing.T) (*cli.App, *bytes.Buffer, *int) {
	t.Helper()

	exitCode := -1
	prev := cli.OsExiter
	cli.OsExiter = func(code int) { exitCode = code }
	t.Cleanup(func() { cli.OsExiter = prev })

	var out bytes.Buffer
	app := &cli.App{
		Name:      "preupgrade-validator",
		Writer:    &out,
		ErrWriter: &bytes.Buffer{},
		Commands:  validate.NewCommands(),
	}
	return app, &out, &exitCode
}

func TestUnit_Validate_GetAvailable(t *testing.T) {
	app, out, _ := newApp(t)

	require.NoError(t, app.RunContext(t.Context(), []string{"preupgrade-validator", "get-available"}))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Contains(t, lines, "- version_check")
	assert.Contains(t, lines, "- iso_check")
	assert.Contains(t, lines, "- atom0_vg_check")
	assert.NotContains(t, lines, "- techsupport")
}

func TestUnit_Validate_UnknownCheck(t *testing.T) {
	app, _, code := newApp(t)
	base := t.TempDir()

	err := app.RunContext(t.Context(), []string{
		"preupgrade-validator", "run",
		"--node", "nd1", "--base-dir", base,
		"--check", "bogus_check",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus_check")
	assert.Equal(t, 1, *code)

	_, statErr := os.Stat(filepath.Join(base, "nd1_results.json"))
	assert.True(t, os.IsNotExist(statErr), "nothing is written for a rejected run")
}

func TestUnit_Validate_InvalidMode(t *testing.T) {
	app, _, code := newApp(t)

	err := app.RunContext(t.Context(), []string{
		"preupgrade-validator", "run", "--node", "nd1", "--base-dir", t.TempDir(), "--mode", "collect",
	})
	require.Error(t, err)
	assert.Equal(t, 1, *code)
}

func TestUnit_Validate_SelectWithoutArchive(t *testing.T) {
	app, out, code := newApp(t)
	base := t.TempDir()

	// positional form: mode, archive, version
	err := app.RunContext(t.Context(), []string{
		"preupgrade-validator", "run",
		"--node", "nd1",
		"--base-dir", base,
		"--archive-dir", t.TempDir(),
		"--check", "iso_check,lvm_pvs_check",
		"--no-kubernetes", "--no-metrics", "--no-cleanup",
		"select",
	})
	require.Error(t, err)
	assert.Equal(t, 1, *code)

	rep, err := report.LoadReport(filepath.Join(base, "nd1_results.json"))
	require.NoError(t, err)
	assert.Equal(t, "nd1", rep.NodeName)
	assert.Equal(t, status.StatusError, rep.Get("techsupport").Status)
	assert.Equal(t, status.StatusError, rep.Get("iso_check").Status)
	assert.Equal(t, status.StatusError, rep.Get("version_check").Status, "unselected checks are finalized")

	hb, err := report.LoadHeartbeat(filepath.Join(base, "nd1_status.json"))
	require.NoError(t, err)
	assert.True(t, hb.Status.Terminal())

	assert.Contains(t, out.String(), "Node nd1:")
	assert.Contains(t, out.String(), "iso_check")
	assert.Contains(t, out.String(), "Overall: ERROR")
}

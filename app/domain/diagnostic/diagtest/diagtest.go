// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package diagtest builds check environments for tests.
package diagtest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	config "github.com/cloudzero/preupgrade-validator/app/config/preflight"
	"github.com/cloudzero/preupgrade-validator/app/domain/diagnostic"
	"github.com/cloudzero/preupgrade-validator/app/domain/fileindex"
	"github.com/cloudzero/preupgrade-validator/app/types/mocks"
	"github.com/cloudzero/preupgrade-validator/app/utils/process"
)

// NodeName is the node every test environment pretends to run on.
const NodeName = "nd1"

// Settings returns default settings for NodeName rooted in a temp dir.
func Settings(t *testing.T) *config.Settings {
	t.Helper()
	cfg, err := config.NewSettings()
	require.NoError(t, err)
	cfg.Node.Name = NodeName
	cfg.Paths.BaseDir = t.TempDir()
	require.NoError(t, cfg.Validate())
	return cfg
}

// Env returns an environment without evidence that runs commands on exec.
func Env(t *testing.T, exec process.Executor) *diagnostic.Environment {
	t.Helper()
	return diagnostic.NewEnvironment(Settings(t), exec, mocks.NewMockClock(time.Now()))
}

// Evidence writes files (relative path -> content) below the extraction root
// and attaches the resulting index to env.
func Evidence(t *testing.T, env *diagnostic.Environment, files map[string]string) string {
	t.Helper()
	root := env.Settings.ExtractDir()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	require.NoError(t, os.MkdirAll(root, 0o755))
	idx, err := fileindex.Build(root)
	require.NoError(t, err)
	env.AttachEvidence(idx)
	return root
}

// Node renders one row of the `acs show nodes` table. A leading "*" on name
// marks the local node.
func Node(name, version, data, mgmt, state string) string {
	return fmt.Sprintf("│ %-13s│ FDO0000     │ %-8s│ Master │ %-15s│ %-16s│ %-7s│", name, version, data, mgmt, state)
}

// NodeTable renders a complete `acs show nodes` output around rows.
func NodeTable(rows ...string) string {
	var b strings.Builder
	b.WriteString("╭──────────────┬─────────────┬─────────┬────────┬────────────────┬─────────────────┬────────╮\n")
	b.WriteString("│ NAME (*=SELF)│ SERIAL      │ VERSION │ ROLE   │ DATA NETWORK   │ MGMT NETWORK    │ STATE  │\n")
	b.WriteString("├──────────────┼─────────────┼─────────┼────────┼────────────────┼─────────────────┼────────┤\n")
	for _, r := range rows {
		b.WriteString(r)
		b.WriteString("\n")
	}
	b.WriteString("╰──────────────┴─────────────┴─────────┴────────┴────────────────┴─────────────────┴────────╯\n")
	return b.String()
}

// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	config "github.com/cloudzero/preupgrade-validator/app/config/preflight"
)

func TestSettings_LoadFile(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)

	cfg, err := config.NewSettings(filepath.Join(wd, "testdata", "preflight.yml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "nd-node1", cfg.Node.Name)
	assert.Equal(t, "3.2.1e", cfg.Node.Version)
	assert.Equal(t, config.ModeSelect, cfg.Collection.Mode)
	assert.Equal(t, 2*time.Second, cfg.Collection.PollInterval)
	assert.Equal(t, []string{"disk_space", "pod_status"}, cfg.Checks.Enabled)
	assert.Equal(t, 80, cfg.Checks.DiskThreshold)
	assert.True(t, cfg.Metrics.Disabled)
	assert.Equal(t, "text", cfg.Logging.Format)

	// defaults still apply to what the file leaves out
	assert.Equal(t, 900*time.Second, cfg.Collection.Timeout)
	assert.Equal(t, 1800*time.Second, cfg.Extraction.Timeout)
	assert.Equal(t, "acs show nodes", cfg.Commands.ShowNodes)
	assert.Equal(t, 5, cfg.Checks.MinPersistentIPs)

	assert.Equal(t, "/var/tmp/preupgrade/nd-node1_results.json", cfg.ResultsFile())
	assert.Equal(t, "/var/tmp/preupgrade/nd-node1_status.json", cfg.StatusFile())
	assert.Equal(t, "/var/tmp/preupgrade/nd-node1", cfg.ExtractDir())
	assert.Equal(t, "*nd-node1.tgz", cfg.ArchivePattern())
}

func TestSettings_DefaultsWithoutFiles(t *testing.T) {
	t.Setenv("ND_NODE_NAME", "nd-env")

	cfg, err := config.NewSettings()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "nd-env", cfg.Node.Name)
	assert.Equal(t, config.DefaultBaseDir, cfg.Paths.BaseDir)
	assert.Equal(t, config.ModeGenerate, cfg.Collection.Mode)
	assert.Equal(t, 60*time.Second, cfg.Collection.StabilityWindow)
	assert.Equal(t, uint64(8000), cfg.Collection.MinTmpFreeMB)
	assert.Equal(t, []string{"tar", "gzip", "pigz"}, cfg.Cleanup.Processes)
	assert.Equal(t, "/tmp/ndpreupgradecheck/nd-env_checks.prom", cfg.MetricsFile())
}

func TestSettings_MissingFile(t *testing.T) {
	_, err := config.NewSettings("/does/not/exist.yml")
	assert.Error(t, err)
}

func TestSettings_Validate(t *testing.T) {
	base := func() *config.Settings {
		cfg, err := config.NewSettings()
		require.NoError(t, err)
		cfg.Node.Name = "nd1"
		return cfg
	}

	tcases := []struct {
		name    string
		mutate  func(*config.Settings)
		wantErr bool
	}{
		{name: "valid", mutate: func(*config.Settings) {}},
		{name: "no node", mutate: func(s *config.Settings) { s.Node.Name = " " }, wantErr: true},
		{name: "node with slash", mutate: func(s *config.Settings) { s.Node.Name = "../x" }, wantErr: true},
		{name: "node is parent dir", mutate: func(s *config.Settings) { s.Node.Name = ".." }, wantErr: true},
		{name: "node is current dir", mutate: func(s *config.Settings) { s.Node.Name = " . " }, wantErr: true},
		{name: "node with dots", mutate: func(s *config.Settings) { s.Node.Name = "nd1.example" }},
		{name: "bad mode", mutate: func(s *config.Settings) { s.Collection.Mode = "download" }, wantErr: true},
		{name: "mode case", mutate: func(s *config.Settings) { s.Collection.Mode = "SELECT" }},
		{name: "zero timeout", mutate: func(s *config.Settings) { s.Extraction.Timeout = 0 }, wantErr: true},
		{name: "empty command", mutate: func(s *config.Settings) { s.Commands.Health = "" }, wantErr: true},
		{name: "bad threshold", mutate: func(s *config.Settings) { s.Checks.DiskThreshold = 101 }, wantErr: true},
		{name: "bad log format", mutate: func(s *config.Settings) { s.Logging.Format = "xml" }, wantErr: true},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSettings_ToYAML(t *testing.T) {
	cfg, err := config.NewSettings()
	require.NoError(t, err)
	cfg.Node.Name = "nd1"

	raw, err := cfg.ToBytes()
	require.NoError(t, err)

	var back map[string]any
	require.NoError(t, yaml.Unmarshal(raw, &back))
	node := back["node"].(map[string]any)
	assert.Equal(t, "nd1", node["name"])
}

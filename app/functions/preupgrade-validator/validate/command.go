// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package validate contains the commands that run a pre-upgrade validation.
package validate

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	config "github.com/cloudzero/preupgrade-validator/app/config/preflight"
	"github.com/cloudzero/preupgrade-validator/app/domain/diagnostic/catalog"
	"github.com/cloudzero/preupgrade-validator/app/domain/preflight"
	logging "github.com/cloudzero/preupgrade-validator/app/logging/validator"
	"github.com/cloudzero/preupgrade-validator/app/types/status"
)

const (
	configFileDesc = "input " + config.FlagDescConfFile

	flagCheck      = "check"
	flagNode       = "node"
	flagMode       = "mode"
	flagArchive    = "archive"
	flagNDVersion  = "nd-version"
	flagBaseDir    = "base-dir"
	flagArchiveDir = "archive-dir"
	flagKubeconfig = "kubeconfig"
	flagNoK8s      = "no-kubernetes"
	flagNoMetrics  = "no-metrics"
	flagNoCleanup  = "no-cleanup"
	flagLogFile    = "check-log-file"
)

var configAlias = []string{"f"}

// NewCommands returns the run and get-available commands.
func NewCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "get-available",
			Usage: "lists the available checks",
			Action: func(c *cli.Context) error {
				registry := catalog.NewCatalog(c.Context, &config.Settings{})
				for _, check := range registry.List() {
					fmt.Fprintln(c.App.Writer, "- "+check)
				}
				return nil
			},
		},
		{
			Name:      "run",
			Usage:     "validate this node before an upgrade",
			ArgsUsage: "[generate|select] [archive] [nd-version]",
			Flags: []cli.Flag{
				&cli.StringSliceFlag{Name: config.FlagConfigFile, Aliases: configAlias, Usage: configFileDesc},
				&cli.StringSliceFlag{Name: flagCheck, Usage: "comma separated or multi-value list of check(s) to run, all when omitted"},
				&cli.StringFlag{Name: flagNode, Usage: "name of the node being validated", EnvVars: []string{"ND_NODE_NAME"}},
				&cli.StringFlag{Name: flagMode, Usage: "generate a new tech support or select an existing one"},
				&cli.StringFlag{Name: flagArchive, Usage: "tech support archive to use in select mode"},
				&cli.StringFlag{Name: flagNDVersion, Usage: "running Nexus Dashboard version, picks the collection command"},
				&cli.StringFlag{Name: flagBaseDir, Usage: "directory receiving results, heartbeat and extracted evidence"},
				&cli.StringFlag{Name: flagArchiveDir, Usage: "directory holding tech support archives"},
				&cli.StringFlag{Name: flagKubeconfig, Usage: "kubeconfig used for live pod status"},
				&cli.BoolFlag{Name: flagNoK8s, Usage: "use kubectl instead of the Kubernetes API for live pod status"},
				&cli.BoolFlag{Name: flagNoMetrics, Usage: "skip the textfile metrics"},
				&cli.BoolFlag{Name: flagNoCleanup, Usage: "leave leftover extraction processes alone"},
				&cli.StringFlag{Name: flagLogFile, Usage: "file receiving check logs"},
			},
			Action: runValidation,
		},
	}
}

func runValidation(c *cli.Context) error {
	ctx := c.Context

	cfg, err := loadSettings(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid configuration: %v", err), preflight.ExitSetupFailure)
	}

	logging.SetUpLogging(cfg.Logging.Level, cfg.Logging.Format)
	if cfg.Logging.Location != "" {
		if err := logging.LogToFile(cfg.Logging.Location); err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("check logs stay on stderr")
		}
	}

	registry := catalog.NewCatalog(ctx, cfg)
	for _, name := range cfg.Checks.Enabled {
		if !registry.Has(name) {
			return cli.Exit(fmt.Sprintf("unknown check %q, see get-available", name), preflight.ExitSetupFailure)
		}
	}

	engine := preflight.NewEngine(ctx, cfg, preflight.WithRegistry(registry), preflight.WithStderr(c.App.ErrWriter))
	code := engine.Run(ctx)

	engine.Accessor().ReadFromReport(func(r *status.Report) {
		printReport(c.App.Writer, r)
	})

	if code != preflight.ExitOK {
		return cli.Exit("", code)
	}
	return nil
}

// loadSettings reads the configuration and applies the flags and the
// positional arguments on top of it.
func loadSettings(c *cli.Context) (*config.Settings, error) {
	cfg, err := config.NewSettings(c.StringSlice(config.FlagConfigFile)...)
	if err != nil {
		return nil, err
	}

	// positional arguments follow the appliance's historical calling convention
	if mode := c.Args().Get(0); mode != "" {
		cfg.Collection.Mode = mode
	}
	if archive := c.Args().Get(1); archive != "" {
		cfg.Collection.Archive = archive
	}
	if v := c.Args().Get(2); v != "" {
		cfg.Node.Version = v
	}

	if c.IsSet(flagNode) {
		cfg.Node.Name = c.String(flagNode)
	}
	if c.IsSet(flagMode) {
		cfg.Collection.Mode = c.String(flagMode)
	}
	if c.IsSet(flagArchive) {
		cfg.Collection.Archive = c.String(flagArchive)
	}
	if c.IsSet(flagNDVersion) {
		cfg.Node.Version = c.String(flagNDVersion)
	}
	if c.IsSet(flagBaseDir) {
		cfg.Paths.BaseDir = c.String(flagBaseDir)
	}
	if c.IsSet(flagArchiveDir) {
		cfg.Paths.ArchiveDir = c.String(flagArchiveDir)
	}
	if c.IsSet(flagKubeconfig) {
		cfg.Kubernetes.Kubeconfig = c.String(flagKubeconfig)
	}
	if c.Bool(flagNoK8s) {
		cfg.Kubernetes.Disabled = true
	}
	if c.Bool(flagNoMetrics) {
		cfg.Metrics.Disabled = true
	}
	if c.Bool(flagNoCleanup) {
		cfg.Cleanup.Disabled = true
	}
	if c.IsSet(flagLogFile) {
		cfg.Logging.Location = c.String(flagLogFile)
	}
	if checks := c.StringSlice(flagCheck); len(checks) > 0 {
		cfg.Checks.Enabled = splitChecks(checks)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func splitChecks(values []string) []string {
	var out []string
	for _, v := range values {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" && !slices.Contains(out, name) {
				out = append(out, name)
			}
		}
	}
	return out
}

func printReport(w io.Writer, r *status.Report) {
	if r == nil || len(r.Checks) == 0 {
		return
	}

	fmt.Fprintf(w, "Node %s:\n", r.NodeName)
	fmt.Fprintf(w, "%-25s %-8s %-60s\n", "Check", "Status", "Details")
	//revive:disable-next-line
	fmt.Fprintf(w, "%-25s %-8s %-60s\n", strings.Repeat("-", 25), strings.Repeat("-", 8), strings.Repeat("-", 60))
	for _, name := range r.Names() {
		res := r.Get(name)
		detail := ""
		if len(res.Details) > 0 {
			detail = strings.ReplaceAll(strings.TrimSpace(res.Details[0]), "\n", " ")
		}
		fmt.Fprintf(w, "%-25s %-8s %-60s\n", name, res.Status, detail)
	}
	fmt.Fprintf(w, "Overall: %s\n", r.Overall())
}

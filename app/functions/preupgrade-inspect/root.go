// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package main implements a read-only viewer for the documents a validator run
// leaves behind: the results document, the heartbeat and the textfile metrics.
// It never writes into the base directory, so it is safe to run while a
// validation is still in progress.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	config "github.com/cloudzero/preupgrade-validator/app/config/preflight"
)

// Config holds what every subcommand needs to locate the documents.
type Config struct {
	// BaseDir is the validator's base directory.
	BaseDir string
	// Node selects the per-node documents.
	Node string
	// Out receives the rendered output.
	Out io.Writer
}

// ResultsFile mirrors the validator's naming.
func (c Config) ResultsFile() string {
	return c.settings().ResultsFile()
}

// StatusFile mirrors the validator's naming.
func (c Config) StatusFile() string {
	return c.settings().StatusFile()
}

func (c Config) settings() *config.Settings {
	s := &config.Settings{}
	s.Paths.BaseDir = c.BaseDir
	s.Node.Name = c.Node
	return s
}

// rootCmd runs a jq query over the results document.
var rootCmd = &cobra.Command{
	Use:   "preupgrade-inspect",
	Short: "Inspect the results of a pre-upgrade validation",
	Long: `Reads the results or heartbeat document of a validator run and filters it
through a jq expression, e.g.

  preupgrade-inspect --node nd1 -q '.checks | to_entries[] | select(.value.status != "PASS") | .key'`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := configFrom(cmd)
		if err != nil {
			return err
		}
		query, err := cmd.Flags().GetString("query")
		if err != nil {
			return err
		}
		heartbeat, err := cmd.Flags().GetBool("status")
		if err != nil {
			return err
		}
		raw, err := cmd.Flags().GetBool("raw")
		if err != nil {
			return err
		}

		path := cfg.ResultsFile()
		if heartbeat {
			path = cfg.StatusFile()
		}
		return runQuery(cmd.Context(), cfg.Out, path, query, raw)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("base-dir", config.DefaultBaseDir, "validator base directory")
	rootCmd.PersistentFlags().String("node", "", "node whose documents are read (defaults to the host name)")

	rootCmd.Flags().StringP("query", "q", ".", "jq expression applied to the document")
	rootCmd.Flags().Bool("status", false, "read the heartbeat instead of the results")
	rootCmd.Flags().BoolP("raw", "r", false, "print strings without quotes")

	rootCmd.AddCommand(summaryCmd, diffCmd)
}

func configFrom(cmd *cobra.Command) (Config, error) {
	baseDir, err := cmd.Flags().GetString("base-dir")
	if err != nil {
		return Config{}, err
	}
	node, err := cmd.Flags().GetString("node")
	if err != nil {
		return Config{}, err
	}
	if node == "" {
		if node, err = os.Hostname(); err != nil {
			return Config{}, fmt.Errorf("no --node given and the host name is unknown: %w", err)
		}
	}
	return Config{BaseDir: filepath.Clean(baseDir), Node: node, Out: cmd.OutOrStdout()}, nil
}

func main() {
	Execute()
}

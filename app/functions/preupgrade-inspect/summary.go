// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"maps"
	"slices"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cloudzero/preupgrade-validator/app/storage/report"
	"github.com/cloudzero/preupgrade-validator/app/types/status"
)

// Summary is the condensed view of a node's run.
type Summary struct {
	Node      string                `yaml:"node"`
	RunID     string                `yaml:"run_id,omitempty"`
	Version   string                `yaml:"version,omitempty"`
	Phase     status.Phase          `yaml:"phase,omitempty"`
	Operation string                `yaml:"operation,omitempty"`
	Progress  int                   `yaml:"progress"`
	Overall   status.Status         `yaml:"overall,omitempty"`
	Counts    map[status.Status]int `yaml:"counts,omitempty"`
	Problems  []Problem             `yaml:"problems,omitempty"`
}

// Problem is a check that did not pass.
type Problem struct {
	Check          string        `yaml:"check"`
	Status         status.Status `yaml:"status"`
	Details        []string      `yaml:"details,omitempty"`
	Recommendation string        `yaml:"recommendation,omitempty"`
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Print the heartbeat and the non-passing checks as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := configFrom(cmd)
		if err != nil {
			return err
		}
		sum, err := summarize(cfg)
		if err != nil {
			return err
		}
		return writeYAML(cfg.Out, sum)
	},
}

// summarize tolerates a missing results document since the heartbeat exists
// first while a run is in progress.
func summarize(cfg Config) (*Summary, error) {
	sum := &Summary{Node: cfg.Node}

	hb, err := report.LoadHeartbeat(cfg.StatusFile())
	switch {
	case err == nil:
		sum.Phase = hb.Status
		sum.Operation = hb.CurrentOperation
		sum.Progress = hb.Progress
	case !errors.Is(err, fs.ErrNotExist):
		return nil, err
	}

	rep, err := report.LoadReport(cfg.ResultsFile())
	if errors.Is(err, fs.ErrNotExist) {
		if hb == nil {
			return nil, fmt.Errorf("no validation documents for node %s in %s", cfg.Node, cfg.BaseDir)
		}
		return sum, nil
	}
	if err != nil {
		return nil, err
	}

	sum.RunID = rep.RunID
	sum.Version = rep.Version
	sum.Overall = rep.Overall()
	sum.Counts = rep.Counts()
	for _, name := range slices.Sorted(maps.Keys(rep.Checks)) {
		res := rep.Checks[name]
		if res == nil || res.Status == status.StatusPass {
			continue
		}
		sum.Problems = append(sum.Problems, Problem{
			Check:          name,
			Status:         res.Status,
			Details:        res.Details,
			Recommendation: res.Recommendation,
		})
	}
	// most severe first, name order within a severity
	slices.SortStableFunc(sum.Problems, func(a, b Problem) int {
		return b.Status.Severity() - a.Status.Severity()
	})
	return sum, nil
}

func writeYAML(out io.Writer, data any) error {
	encoder := yaml.NewEncoder(out)
	defer encoder.Close()

	encoder.SetIndent(2)
	return encoder.Encode(data)
}

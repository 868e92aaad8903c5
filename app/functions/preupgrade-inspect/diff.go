// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/spf13/cobra"

	"github.com/cloudzero/preupgrade-validator/app/storage/report"
	"github.com/cloudzero/preupgrade-validator/app/types/status"
)

var diffCmd = &cobra.Command{
	Use:   "diff BEFORE AFTER",
	Short: "Compare the verdicts of two results documents",
	Long: `Compares two results documents, typically the same node before and after a
remediation. Timestamps and run ids are ignored.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		changed, err := diffReports(cmd.OutOrStdout(), args[0], args[1])
		if err != nil {
			return err
		}
		if changed {
			// non-zero like diff(1) so it can be scripted
			return errChanged
		}
		return nil
	},
}

var errChanged = errors.New("results differ")

var reportOpts = cmp.Options{
	cmpopts.IgnoreUnexported(status.Report{}),
	cmpopts.IgnoreFields(status.Report{}, "Timestamp", "RunID"),
	cmpopts.EquateEmpty(),
}

// diffReports prints a cmp diff of the two documents and reports whether
// they differ.
func diffReports(out io.Writer, beforePath, afterPath string) (bool, error) {
	before, err := report.LoadReport(beforePath)
	if err != nil {
		return false, err
	}
	after, err := report.LoadReport(afterPath)
	if err != nil {
		return false, err
	}

	d := cmp.Diff(before, after, reportOpts)
	if d == "" {
		fmt.Fprintln(out, "no differences")
		return false, nil
	}
	fmt.Fprintf(out, "%s -> %s (-before +after):\n%s", before.Overall(), after.Overall(), d)
	return true, nil
}

// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package common

import (
	"errors"
	"strings"

	"github.com/cloudzero/preupgrade-validator/app/domain/diagnostic"
)

// TechsupportDirs are top level directories every complete archive carries.
var TechsupportDirs = []string{"systeminfo", "logs", "k8-diag", "storage-diag"}

// FindAll returns the deduplicated matches of all patterns, in pattern order.
func FindAll(env *diagnostic.Environment, patterns ...string) []string {
	seen := map[string]bool{}
	var out []string
	for _, p := range patterns {
		for _, hit := range env.Index().Find(p) {
			if !seen[hit] {
				seen[hit] = true
				out = append(out, hit)
			}
		}
	}
	return out
}

// HasAnyDir reports whether the evidence contains any of the named directories.
func HasAnyDir(env *diagnostic.Environment, names ...string) bool {
	for _, n := range names {
		if env.Index().HasDir(n) {
			return true
		}
	}
	return false
}

// Grep returns the trimmed lines of files containing needle, reading gzip
// rotated logs transparently. Unreadable files are skipped; their errors are
// returned alongside whatever matched elsewhere.
func Grep(files []string, needle string) ([]string, error) {
	var (
		matches []string
		errs    []error
	)
	for _, f := range files {
		err := diagnostic.ScanEvidence(f, func(line string) bool {
			if strings.Contains(line, needle) {
				matches = append(matches, strings.TrimSpace(line))
			}
			return true
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return matches, errors.Join(errs...)
}

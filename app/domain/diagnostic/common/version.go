// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package common holds parsers shared by several checks.
package common

import (
	"regexp"
	"strings"

	"github.com/hashicorp/go-version"
	"github.com/pkg/errors"
)

const productPrefix = "Nexus Dashboard"

var numericCore = regexp.MustCompile(`^\d+(\.\d+)*`)

// ExtractNDVersion pulls the version token out of `acs version` style output:
// "Nexus Dashboard 3.1.1g" gives "3.1.1g". Without the product prefix the
// trimmed first line is returned.
func ExtractNDVersion(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.Index(text, productPrefix); i >= 0 {
		rest := strings.TrimSpace(text[i+len(productPrefix):])
		if fields := strings.Fields(rest); len(fields) > 0 {
			return fields[0]
		}
		return ""
	}
	if line, _, ok := strings.Cut(text, "\n"); ok {
		return strings.TrimSpace(line)
	}
	return text
}

// ParseNDVersion parses the numeric core of an ND version. The letter suffix
// of builds like "3.1.1g" is ignored, so "3.1.1g" equals "3.1.1".
func ParseNDVersion(raw string) (*version.Version, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "v")
	core := numericCore.FindString(raw)
	if core == "" {
		return nil, errors.Errorf("unrecognized version %q", raw)
	}
	v, err := version.NewVersion(core)
	if err != nil {
		return nil, errors.Wrapf(err, "unrecognized version %q", raw)
	}
	return v, nil
}

// AtLeast reports whether raw is at or above minimum.
func AtLeast(raw, minimum string) (bool, error) {
	v, err := ParseNDVersion(raw)
	if err != nil {
		return false, err
	}
	m, err := ParseNDVersion(minimum)
	if err != nil {
		return false, err
	}
	return v.GreaterThanOrEqual(m), nil
}

// Major returns the first version segment.
func Major(raw string) (int, error) {
	v, err := ParseNDVersion(raw)
	if err != nil {
		return 0, err
	}
	return v.Segments()[0], nil
}

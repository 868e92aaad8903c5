// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package build holds build-time identification injected through -ldflags.
package build

import "fmt"

// These are set with -ldflags "-X github.com/cloudzero/preupgrade-validator/app/build.Rev=..."
var (
	Rev     = "unknown"
	Tag     = "dev"
	Time    = "unknown"
	AppName = "preupgrade-validator"
)

// GetVersion returns the release tag, falling back to the revision.
func GetVersion() string {
	if Tag != "" && Tag != "dev" {
		return Tag
	}
	return Rev
}

// Version returns a human readable identification string.
func Version() string {
	return fmt.Sprintf("%s %s (rev %s, built %s)", AppName, Tag, Rev, Time)
}

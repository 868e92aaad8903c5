// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package common

import (
	"github.com/cloudzero/preupgrade-validator/app/domain/diagnostic"
)

// VersionEvidence is where an archive records `acs version`.
var VersionEvidence = []string{
	"*/acs-checks/acs_version",
	"acs_version",
}

// ArchiveVersion returns the ND version recorded in the evidence archive.
func ArchiveVersion(env *diagnostic.Environment) (string, bool) {
	_, content, ok := env.FirstEvidence(VersionEvidence...)
	if !ok {
		return "", false
	}
	v := ExtractNDVersion(content)
	return v, v != ""
}

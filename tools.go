// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

//go:build tools

// tools.go pins the versions of the Go tools used while developing the
// validator; go.mod records them like any other dependency.
//
//   - mockgen regenerates app/utils/process/mocks.
//   - gojq is handy for poking at {node}_results.json by hand; the same
//     library backs preupgrade-inspect --query.
//
// Usage: go install go.uber.org/mock/mockgen github.com/itchyny/gojq/cmd/gojq
package tools

import (
	_ "github.com/itchyny/gojq/cmd/gojq"
	_ "go.uber.org/mock/mockgen"
)

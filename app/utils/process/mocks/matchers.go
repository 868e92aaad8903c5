// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package mocks

import (
	"fmt"
	"strings"

	"github.com/cloudzero/preupgrade-validator/app/utils/process"
	"go.uber.org/mock/gomock"
)

type commandLine struct {
	prefix string
}

// CommandLine matches a process.Command whose rendered command line starts with prefix.
func CommandLine(prefix string) gomock.Matcher {
	return commandLine{prefix: prefix}
}

func (m commandLine) Matches(x any) bool {
	cmd, ok := x.(process.Command)
	if !ok {
		return false
	}
	return strings.HasPrefix(cmd.String(), m.prefix)
}

func (m commandLine) String() string {
	return fmt.Sprintf("command line starting with %q", m.prefix)
}

// Output is a shorthand for a finished command.
func Output(stdout string, exitCode int) *process.Result {
	return &process.Result{Stdout: stdout, ExitCode: exitCode}
}

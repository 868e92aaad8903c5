// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"github.com/cloudzero/preupgrade-validator/app/domain/diagnostic"
	"github.com/cloudzero/preupgrade-validator/app/types/status"
)

// Setup failure reasons recorded in the techsupport entry.
const (
	ReasonInvalidArguments = "Invalid arguments"
	ReasonUsage            = "Command usage error"
	ReasonUnexpectedOutput = "Unexpected output from tech support command"
	ReasonNotGenerated     = "Failed to generate or find tech support files"
	ReasonNoArchive        = "No tech support files found"
)

// SetupError is returned when no usable evidence archive could be obtained or
// extracted. It matches diagnostic.ErrSetupFailure.
type SetupError struct {
	Reason string
	// Status is the verdict of the techsupport entry, ERROR unless the
	// failure is only suspicious.
	Status status.Status
	Err    error
}

func newSetupError(reason string, err error) *SetupError {
	return &SetupError{Reason: reason, Status: status.StatusError, Err: err}
}

func (e *SetupError) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *SetupError) Unwrap() []error {
	if e.Err != nil {
		return []error{diagnostic.ErrSetupFailure, e.Err}
	}
	return []error{diagnostic.ErrSetupFailure}
}

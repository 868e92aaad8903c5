// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package utils contains small helpers shared across the validator.
package utils

import "time"

// Clock is the production types.TimeProvider.
type Clock struct{}

// GetCurrentTime returns the local time.
func (c *Clock) GetCurrentTime() time.Time {
	return time.Now()
}

// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package types

import "time"

// TimeProvider abstracts the wall clock so persistence and heartbeat code can be tested.
type TimeProvider interface {
	GetCurrentTime() time.Time
}

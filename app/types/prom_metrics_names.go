// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package types

import "strings"

// MetricPrefix starts the name of every metric the validator exports.
const MetricPrefix = "nd_preupgrade_"

// ValidatorMetric returns metricName prefixed with "nd_preupgrade_". The
// result lands in the node_exporter textfile next to other collectors, so the
// prefix keeps the validator's series apart.
//
// The input must not be empty and must not already start with "nd" or
// "preupgrade"; either would produce a stuttering name. A violation is a
// programming error and panics.
//
// Example usage:
//
//	metric := ValidatorMetric("check_status") // Returns "nd_preupgrade_check_status"
func ValidatorMetric(metricName string) string {
	prefix, _, _ := strings.Cut(metricName, "_")
	if prefix == "" || prefix == "nd" || prefix == "preupgrade" {
		panic("metricName contains a forbidden prefix or is empty")
	}
	return MetricPrefix + metricName
}

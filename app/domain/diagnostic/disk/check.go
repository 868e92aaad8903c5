// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package disk checks filesystem usage against the upgrade threshold.
package disk

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	config "github.com/cloudzero/preupgrade-validator/app/config/preflight"
	"github.com/cloudzero/preupgrade-validator/app/domain/diagnostic"
	logging "github.com/cloudzero/preupgrade-validator/app/logging/validator"
	"github.com/cloudzero/preupgrade-validator/app/types/status"
)

const (
	explanation    = "Directories with high usage can potentially cause upgrade issues or failures."
	recommendation = "Contact Cisco TAC for assistance to reduce disk space utilization before proceeding\n  with the upgrade."
)

// Evidence holds the df listings captured in the archive, in preference order.
var Evidence = []string{
	"*/k8-diag/df-m",
	"*/storage-diag/df-m",
	"k8-diag/df-m",
	"storage-diag/df-m",
}

// Usage is one filesystem line of df output.
type Usage struct {
	Mount   string
	Percent int
}

// ParseDF reads df output. The header line and lines without a usage column
// are skipped.
func ParseDF(output string) []Usage {
	var out []Usage
	sc := bufio.NewScanner(strings.NewReader(output))
	header := true
	for sc.Scan() {
		if header {
			header = false
			continue
		}
		parts := strings.Fields(sc.Text())
		if len(parts) < 5 {
			continue
		}
		for i, part := range parts {
			if !strings.Contains(part, "%") {
				continue
			}
			if i+1 >= len(parts) {
				break
			}
			pct, err := strconv.Atoi(strings.Trim(part, "%"))
			if err != nil {
				break
			}
			out = append(out, Usage{Mount: strings.Join(parts[i+1:], " "), Percent: pct})
			break
		}
	}
	return out
}

type checker struct {
	cfg    *config.Settings
	logger *logrus.Entry
}

func NewProvider(ctx context.Context, cfg *config.Settings) diagnostic.Provider {
	return &checker{
		cfg: cfg,
		logger: logging.NewLogger().
			WithContext(ctx).WithField(logging.OpField, diagnostic.DiskSpace),
	}
}

func (c *checker) Check(ctx context.Context, env *diagnostic.Environment, result *status.CheckResult) error {
	var usage []Usage
	if path, content, ok := env.FirstEvidence(Evidence...); ok {
		usage = ParseDF(content)
		c.logger.Infof("read %d filesystems from %s", len(usage), path)
	}

	if len(usage) == 0 {
		c.logger.Info("no usable disk evidence, querying the live system")
		if out, ok := env.QueryOutput(ctx, c.cfg.Commands.DiskFree); ok {
			usage = ParseDF(out)
		}
	}

	if len(usage) == 0 {
		result.Warn("No filesystem usage data could be parsed")
		return nil
	}

	threshold := c.cfg.Checks.DiskThreshold
	var high []string
	for _, u := range usage {
		if u.Percent >= threshold {
			high = append(high, fmt.Sprintf("%s is %d%% full", u.Mount, u.Percent))
		}
	}
	if len(high) > 0 {
		c.logger.Errorf("%d filesystems at or above %d%%", len(high), threshold)
		result.Fail(high...)
		result.Remediate(explanation, recommendation, "")
		return nil
	}
	result.Pass(fmt.Sprintf("All directories are under %d%% usage", threshold))
	return nil
}

// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package iso looks for more than one firmware ISO in the boot hook logs.
package iso

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	config "github.com/cloudzero/preupgrade-validator/app/config/preflight"
	"github.com/cloudzero/preupgrade-validator/app/domain/diagnostic"
	"github.com/cloudzero/preupgrade-validator/app/domain/diagnostic/common"
	logging "github.com/cloudzero/preupgrade-validator/app/logging/validator"
	"github.com/cloudzero/preupgrade-validator/app/types/status"
)

const (
	signature = "invalid number of ISO"
	listKey   = "iso list"
	reference = "https://bst.cloudapps.cisco.com/bugsearch/bug/CSCwn94394"
)

var (
	// Evidence are the boot hook logs.
	Evidence = []string{"boot-hook*"}

	isoList = regexp.MustCompile(`"iso list":\[(.*?)\]`)
)

type checker struct {
	cfg    *config.Settings
	logger *logrus.Entry
}

func NewProvider(ctx context.Context, cfg *config.Settings) diagnostic.Provider {
	return &checker{
		cfg: cfg,
		logger: logging.NewLogger().
			WithContext(ctx).WithField(logging.OpField, diagnostic.IsoCheck),
	}
}

func (c *checker) Check(_ context.Context, env *diagnostic.Environment, result *status.CheckResult) error {
	logs := common.FindAll(env, Evidence...)
	if len(logs) == 0 {
		// a conf-diag directory without hooks means the node never logged the defect
		if env.Index().HasDir("conf-diag") || common.HasAnyDir(env, common.TechsupportDirs...) {
			c.logger.Info("no boot-hook logs in an otherwise complete archive")
			result.Pass("No multiple ISO issues found")
			return nil
		}
		result.Warn("Unable to find boot-hook logs for multiple ISO check")
		return nil
	}

	matches, err := common.Grep(logs, signature)
	if err != nil {
		c.logger.WithError(err).Warn("some boot-hook logs could not be read")
	}
	if len(matches) == 0 {
		result.Pass("No multiple ISO issues found")
		return nil
	}

	c.logger.Errorf("found %d multiple ISO errors", len(matches))
	detail := "Multiple ISOs in boot-hook detected: \n\n    " + strings.Join(strings.Split(matches[0], "\n"), "\n    ")

	listed, _ := common.Grep(logs, listKey)
	if isos := ISOList(listed); len(isos) > 0 {
		lines := make([]string, 0, len(isos))
		for i, name := range isos {
			lines = append(lines, fmt.Sprintf("[%d] %s", i+1, name))
		}
		detail += "\n\n    Multiple ISOs found:\n    " + strings.Join(lines, "\n    ")
	}

	result.Fail(detail)
	result.Remediate(
		"Only one ISO can be in the firmware directory on the running ND version.",
		"Contact TAC for assistance in removing the unneeded ISO images.",
		reference,
	)
	return nil
}

// ISOList extracts the image names of the first `"iso list":[...]` found.
func ISOList(lines []string) []string {
	for _, line := range lines {
		m := isoList.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		var out []string
		for _, item := range strings.Split(m[1], ",") {
			if item = strings.Trim(item, ` "'`); item != "" {
				out = append(out, item)
			}
		}
		return out
	}
	return nil
}

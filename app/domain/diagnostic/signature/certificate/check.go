// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package certificate looks for the CA certificate naming defect in the
// security manager logs.
package certificate

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	config "github.com/cloudzero/preupgrade-validator/app/config/preflight"
	"github.com/cloudzero/preupgrade-validator/app/domain/diagnostic"
	"github.com/cloudzero/preupgrade-validator/app/domain/diagnostic/common"
	logging "github.com/cloudzero/preupgrade-validator/app/logging/validator"
	"github.com/cloudzero/preupgrade-validator/app/types/status"
)

const (
	signature = "a valid config key must consist of alphanumeric characters"
	reference = "https://bst.cloudapps.cisco.com/bugsearch/bug/CSCwm35992"
)

// Evidence are the security manager logs, rotated ones included.
var Evidence = []string{"sm.log*", "*/sm/sm.log*"}

type checker struct {
	cfg    *config.Settings
	logger *logrus.Entry
}

func NewProvider(ctx context.Context, cfg *config.Settings) diagnostic.Provider {
	return &checker{
		cfg: cfg,
		logger: logging.NewLogger().
			WithContext(ctx).WithField(logging.OpField, diagnostic.CertificateCheck),
	}
}

func (c *checker) Check(_ context.Context, env *diagnostic.Environment, result *status.CheckResult) error {
	logs := common.FindAll(env, Evidence...)
	if len(logs) == 0 {
		switch {
		case env.Index().HasDir("sm"):
			result.Warn("Found SM directories but no log files to analyze")
		case env.Index().HasDir("logs"):
			result.Warn("Found logs directory but no SM log files")
		case common.HasAnyDir(env, common.TechsupportDirs...):
			result.Warn("Tech support is missing logs/k8_infra directory")
		default:
			result.Warn("Unable to find SM log files for certificate bug check")
		}
		return nil
	}

	c.logger.Infof("searching %d SM log files", len(logs))
	matches, err := common.Grep(logs, signature)
	if err != nil {
		c.logger.WithError(err).Warn("some SM logs could not be read")
	}
	if len(matches) == 0 {
		if err != nil && len(logs) == 1 {
			// the only log was unreadable, nothing was actually examined
			result.Warn("Unable to find SM log files for certificate bug check")
			return nil
		}
		result.Pass("No certificate issues found in SM logs")
		return nil
	}

	c.logger.Errorf("found %d instances of the certificate naming defect", len(matches))
	result.Fail("Certificate name validation error detected: \n\n    " + indent(matches[0]))
	result.Remediate(
		"Certificate names with spaces are not supported.",
		"Prior to upgrading, remove this CA certificate and re-add it with a name\n  without spaces.",
		reference,
	)
	return nil
}

func indent(s string) string {
	return strings.Join(strings.Split(strings.TrimSpace(s), "\n"), "\n    ")
}

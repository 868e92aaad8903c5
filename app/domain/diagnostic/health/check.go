// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package health checks the appliance's own health summary.
package health

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	config "github.com/cloudzero/preupgrade-validator/app/config/preflight"
	"github.com/cloudzero/preupgrade-validator/app/domain/diagnostic"
	logging "github.com/cloudzero/preupgrade-validator/app/logging/validator"
	"github.com/cloudzero/preupgrade-validator/app/types/status"
)

const (
	evidenceName   = "acs_health"
	healthyMarker  = "All components are healthy"
	explanation    = "The system is not in a healthy state. Services might be failing or resource usage might be high."
	recommendation = "Contact Cisco TAC for assistance in remediation of system health."
)

// Evidence holds the captured `acs health` output, in preference order. Only
// files named exactly acs_health count; acs_health_debug is a pod dump.
var Evidence = []string{
	"*/acs-checks/" + evidenceName,
	evidenceName,
}

type checker struct {
	cfg    *config.Settings
	logger *logrus.Entry
}

func NewProvider(ctx context.Context, cfg *config.Settings) diagnostic.Provider {
	return &checker{
		cfg: cfg,
		logger: logging.NewLogger().
			WithContext(ctx).WithField(logging.OpField, diagnostic.SystemHealth),
	}
}

func (c *checker) Check(ctx context.Context, env *diagnostic.Environment, result *status.CheckResult) error {
	info := ""
	if path, content, ok := healthEvidence(env); ok {
		c.logger.Infof("health information from %s", path)
		info = strings.TrimSpace(content)
	}
	if info == "" {
		c.logger.Info("getting live system health status")
		// an unhealthy system exits non-zero but still explains itself on stdout
		if res, err := env.Query(ctx, c.cfg.Commands.Health); err == nil {
			info = strings.TrimSpace(res.Stdout)
		}
	}

	switch {
	case info == "":
		result.Warn("Could not determine system health")
	case strings.Contains(info, healthyMarker):
		result.Pass("acs health indicates Node is healthy")
		return nil
	default:
		lines := issues(info)
		if len(lines) == 0 {
			lines = []string{"System health check failed"}
		}
		c.logger.Errorf("system health reports %d issues", len(lines))
		result.Fail(lines...)
	}
	result.Remediate(explanation, recommendation, "")
	return nil
}

func healthEvidence(env *diagnostic.Environment) (path, content string, ok bool) {
	for _, pattern := range Evidence {
		for _, hit := range env.Index().Find(pattern) {
			if filepath.Base(hit) != evidenceName {
				continue
			}
			if content, err := diagnostic.ReadEvidence(hit); err == nil {
				return hit, content, true
			}
		}
	}
	return "", "", false
}

// issues drops blank lines and table decoration from health output.
func issues(info string) []string {
	var out []string
	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == "Status" || strings.Contains(line, "===") {
			continue
		}
		out = append(out, line)
	}
	return out
}

// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package nodestatus checks that every cluster member reports the Active state.
package nodestatus

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
	activeState    = "Active"
	explanation    = "Every node of the cluster must be Active for the upgrade to proceed."
	recommendation = "Bring the listed nodes back to Active state, or contact Cisco TAC if they do not recover."
)

type checker struct {
	cfg    *config.Settings
	logger *logrus.Entry
}

func NewProvider(ctx context.Context, cfg *config.Settings) diagnostic.Provider {
	return &checker{
		cfg: cfg,
		logger: logging.NewLogger().
			WithContext(ctx).WithField(logging.OpField, diagnostic.NodeStatus),
	}
}

func (c *checker) Check(ctx context.Context, env *diagnostic.Environment, result *status.CheckResult) error {
	out, ok := env.QueryOutput(ctx, c.cfg.Commands.ShowNodes)
	if !ok {
		result.Warn("Could not get node status information")
		return nil
	}
	rows := common.ParseNodes(out)
	if len(rows) == 0 {
		result.Warn("Could not get node status information")
		return nil
	}

	var (
		found     bool
		inactive  []string
		selfState string
	)
	for _, row := range rows {
		active := strings.Contains(row.State, activeState)
		if !active {
			inactive = append(inactive, row.Name+": "+row.State)
		}
		if row.Self || row.Name == env.NodeName {
			found = true
			if !active {
				selfState = row.State
			}
		}
	}

	switch {
	case len(inactive) > 0:
		c.logger.Errorf("%d nodes not in Active state", len(inactive))
		result.Fail()
		if selfState != "" {
			result.AddDetailf("Current node status is not Active: %s", selfState)
		}
		for _, n := range inactive {
			result.AddDetailf("Node not Active: %s", n)
		}
		if !found {
			result.AddDetail("Could not find this node in cluster information")
		}
		result.Remediate(explanation, recommendation, "")
	case !found:
		result.Warn("Could not find this node in cluster information")
	default:
		result.Pass("All nodes in the cluster are in Active state")
	}
	return nil
}

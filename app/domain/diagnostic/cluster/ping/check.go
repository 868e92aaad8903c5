// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package ping checks that this node reaches the data and management addresses
// of every other cluster member.
package ping

import (
	"context"
	"fmt"
	"regexp"

	"github.com/sirupsen/logrus"

	config "github.com/cloudzero/preupgrade-validator/app/config/preflight"
	"github.com/cloudzero/preupgrade-validator/app/domain/diagnostic"
	"github.com/cloudzero/preupgrade-validator/app/domain/diagnostic/common"
	logging "github.com/cloudzero/preupgrade-validator/app/logging/validator"
	"github.com/cloudzero/preupgrade-validator/app/types/status"
	"github.com/cloudzero/preupgrade-validator/app/utils/parallel"
)

const (
	explanation    = "Network reachability must be in place between Nexus Dashboard nodes to ensure a successful upgrade."
	recommendation = "Debug connectivity issues between any affected nodes and contact Cisco TAC for\n  assistance if needed."
)

var noLoss = regexp.MustCompile(`(^|[^0-9.])0(\.0+)?% packet loss`)

type target struct {
	node string
	kind string
	addr string
}

type checker struct {
	cfg    *config.Settings
	logger *logrus.Entry
}

func NewProvider(ctx context.Context, cfg *config.Settings) diagnostic.Provider {
	return &checker{
		cfg: cfg,
		logger: logging.NewLogger().
			WithContext(ctx).WithField(logging.OpField, diagnostic.PingCheck),
	}
}

func (c *checker) Check(ctx context.Context, env *diagnostic.Environment, result *status.CheckResult) error {
	out, ok := env.QueryOutput(ctx, c.cfg.Commands.ShowNodes)
	if !ok {
		result.Warn("Could not retrieve node information")
		return nil
	}

	var targets []target
	for _, row := range common.ParseNodes(out) {
		if row.Self || row.Name == env.NodeName {
			continue
		}
		if common.UsableAddress(row.DataNetwork) {
			targets = append(targets, target{row.Name, "data", common.HostAddress(row.DataNetwork)})
		}
		if common.UsableAddress(row.MgmtNetwork) {
			targets = append(targets, target{row.Name, "mgmt", common.HostAddress(row.MgmtNetwork)})
		}
	}

	// each probe writes only its own slot, the verdict is merged afterwards
	reachable := parallel.Map(ctx, c.cfg.Commands.PingWorkers, targets, func(ctx context.Context, t target) bool {
		ok := c.probe(ctx, env, t.addr)
		c.logger.WithField("target", t.addr).Debugf("%s (%s) reachable=%t", t.node, t.kind, ok)
		return ok
	})

	var failed []string
	for i, t := range targets {
		if !reachable[i] {
			failed = append(failed, fmt.Sprintf("Cannot ping %s (%s): %s", t.node, t.kind, t.addr))
		}
	}

	if len(failed) > 0 {
		result.Fail(failed...)
		result.Remediate(explanation, recommendation, "")
		return nil
	}
	result.Pass("Node can ping all mgmt and data ips in the cluster")
	return nil
}

func (c *checker) probe(ctx context.Context, env *diagnostic.Environment, addr string) bool {
	res, err := env.Query(ctx, c.cfg.Commands.Ping, addr)
	if err != nil || !res.Success() {
		return false
	}
	return noLoss.MatchString(res.Combined())
}

// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package subnet checks that the data and management networks of every node
// do not overlap.
package subnet

import (
	"context"
	"net/netip"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	config "github.com/cloudzero/preupgrade-validator/app/config/preflight"
	"github.com/cloudzero/preupgrade-validator/app/domain/diagnostic"
	"github.com/cloudzero/preupgrade-validator/app/domain/diagnostic/common"
	logging "github.com/cloudzero/preupgrade-validator/app/logging/validator"
	"github.com/cloudzero/preupgrade-validator/app/types/status"
)

const (
	placeholder    = "::/0"
	explanation    = "The Management network and Data network must be on different subnets."
	recommendation = "Change the subnet schema of the Management network or Data network so there is\n  no overlap."
)

type checker struct {
	cfg    *config.Settings
	logger *logrus.Entry
}

func NewProvider(ctx context.Context, cfg *config.Settings) diagnostic.Provider {
	return &checker{
		cfg: cfg,
		logger: logging.NewLogger().
			WithContext(ctx).WithField(logging.OpField, diagnostic.SubnetCheck),
	}
}

func (c *checker) Check(ctx context.Context, env *diagnostic.Environment, result *status.CheckResult) error {
	out, ok := env.QueryOutput(ctx, c.cfg.Commands.ShowNodes)
	if !ok {
		result.Warn("Could not retrieve node information")
		return nil
	}

	var rows []common.NodeRow
	for _, row := range common.ParseNodes(out) {
		if row.DataNetwork == "" && row.MgmtNetwork == "" {
			continue
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		result.Warn("Could not parse node network information")
		return nil
	}

	result.Details = []string{}
	for _, row := range rows {
		if row.DataNetwork == placeholder || row.MgmtNetwork == placeholder {
			c.logger.Debugf("skipping IPv6 placeholder for %s", row.Name)
			continue
		}
		if row.DataNetwork == "" || row.MgmtNetwork == "" {
			result.Raise(status.StatusWarning)
			result.AddDetailf("Missing network information for node %s", row.Name)
			continue
		}

		data, err := prefix(row.DataNetwork)
		if err == nil {
			var mgmt netip.Prefix
			if mgmt, err = prefix(row.MgmtNetwork); err == nil {
				if data.Overlaps(mgmt) {
					c.logger.Errorf("node %s: %s overlaps %s", row.Name, data, mgmt)
					result.Raise(status.StatusFail)
					result.AddDetailf("Node %s has data network %s and management network %s in the same subnet",
						row.Name, withMask(row.DataNetwork), withMask(row.MgmtNetwork))
				}
				continue
			}
		}
		result.Raise(status.StatusWarning)
		result.AddDetailf("Error checking subnet isolation for %s: %v", row.Name, err)
	}

	switch result.Status {
	case status.StatusPass:
		result.Pass("Mgmt and Data interfaces are in different subnets")
	case status.StatusFail:
		result.Remediate(explanation, recommendation, "")
	}
	return nil
}

// withMask appends a host mask to a bare address.
func withMask(cell string) string {
	if strings.Contains(cell, "/") {
		return cell
	}
	addr, err := netip.ParseAddr(cell)
	if err == nil && addr.Is6() {
		return cell + "/128"
	}
	return cell + "/32"
}

func prefix(cell string) (netip.Prefix, error) {
	p, err := netip.ParsePrefix(withMask(cell))
	if err != nil {
		return netip.Prefix{}, errors.Wrapf(err, "invalid network %q", cell)
	}
	return p.Masked(), nil
}

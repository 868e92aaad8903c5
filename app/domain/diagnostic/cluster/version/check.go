// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package version checks that every node of the cluster runs the same release.
package version

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"

	config "github.com/cloudzero/preupgrade-validator/app/config/preflight"
	"github.com/cloudzero/preupgrade-validator/app/domain/diagnostic"
	"github.com/cloudzero/preupgrade-validator/app/domain/diagnostic/common"
	logging "github.com/cloudzero/preupgrade-validator/app/logging/validator"
	"github.com/cloudzero/preupgrade-validator/app/types/status"
)

const (
	explanation    = "All nodes in the cluster must be on the same ND version for upgrade."
	recommendation = "Ensure all nodes are upgraded to the same version before proceeding."
)

type checker struct {
	cfg    *config.Settings
	logger *logrus.Entry
}

func NewProvider(ctx context.Context, cfg *config.Settings) diagnostic.Provider {
	return &checker{
		cfg: cfg,
		logger: logging.NewLogger().
			WithContext(ctx).WithField(logging.OpField, diagnostic.VersionCheck),
	}
}

func (c *checker) Check(ctx context.Context, env *diagnostic.Environment, result *status.CheckResult) error {
	local := ""
	if out, ok := env.QueryOutput(ctx, c.cfg.Commands.Version); ok {
		local = common.ExtractNDVersion(out)
		c.logger.Infof("Nexus Dashboard version: %s", local)
	} else {
		c.logger.Warn("could not determine the local version")
	}

	out, ok := env.QueryOutput(ctx, c.cfg.Commands.ShowNodes)
	if !ok {
		c.publish(env, local)
		if local == "" {
			result.Warn("Could not determine version")
			return nil
		}
		result.Warn("Could not determine version consistency")
		return nil
	}

	// version -> nodes, in table order
	byVersion := map[string][]string{}
	var versions []string
	for _, row := range common.ParseNodes(out) {
		if row.Version == "" {
			continue
		}
		if _, seen := byVersion[row.Version]; !seen {
			versions = append(versions, row.Version)
		}
		byVersion[row.Version] = append(byVersion[row.Version], row.Name)
		if row.Self && local == "" {
			local = row.Version
		}
	}
	c.publish(env, local)

	switch {
	case len(versions) > 1:
		c.logger.Errorf("cluster has %d versions", len(versions))
		result.Fail("Cluster has inconsistent versions across nodes")
		slices.Sort(versions)
		for _, v := range versions {
			result.AddDetailf("Version %s: %s", v, strings.Join(byVersion[v], ", "))
		}
		result.Remediate(explanation, recommendation, "")
	case len(versions) == 0:
		result.Warn("Could not determine version consistency")
	case local == "":
		result.Warn("Could not determine version")
	default:
		result.Pass(fmt.Sprintf("All cluster nodes are on the same version: %s", versions[0]))
	}
	return nil
}

func (c *checker) publish(env *diagnostic.Environment, v string) {
	if v != "" {
		env.SetFact(diagnostic.FactVersion, v)
	}
}

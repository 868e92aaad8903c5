// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package nvme confirms a physical node still sees its NVME drive.
package nvme

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
	volume      = "atom0_nvme"
	nodeTypeKey = "nodeType:"
	virtual     = "Virtual"
)

var (
	SystemConfigEvidence = []string{"*/acs-checks/acs_system_config", "acs_system_config"}
	// PVSEvidence prefers the pvdisplay dump of newer releases.
	PVSEvidence = []string{"coreos-diag/storage/pvdisplay", "storage-diag/pvs"}
)

type checker struct {
	cfg    *config.Settings
	logger *logrus.Entry
}

func NewProvider(ctx context.Context, cfg *config.Settings) diagnostic.Provider {
	return &checker{
		cfg: cfg,
		logger: logging.NewLogger().
			WithContext(ctx).WithField(logging.OpField, diagnostic.Atom0NvmeCheck),
	}
}

func (c *checker) Check(_ context.Context, env *diagnostic.Environment, result *status.CheckResult) error {
	nodeType, ok := c.nodeType(env)
	if !ok {
		result.Warn("Unable to determine if nodeType is Physical or Virtual to proceed with check.")
		result.Remediate(
			"nodeType is required to determine whether atom0_nvme should be present in PVS file or not.",
			"If the ND is Virtual, you can safely ignore this check.\n"+
				"If the ND is Physical, verify the NVME drive health of all ND nodes via CIMC, or contact Cisco TAC for assistance.",
			"",
		)
		return nil
	}
	if nodeType == virtual {
		result.Pass("Virtual ND (check not applicable)")
		return nil
	}

	// an archive without acs_version is incomplete, its PVS dump cannot be trusted
	v, hasVersion := common.ArchiveVersion(env)
	path, content, hasPVS := env.FirstEvidence(PVSEvidence...)
	if !hasVersion || !hasPVS {
		c.pvsMissing(result)
		return nil
	}
	c.logger.Infof("%s node on %s, checking %s", nodeType, v, path)

	if strings.Contains(content, volume) {
		result.Pass("NVME drive seen by ND in PVS file")
		return nil
	}
	c.logger.Errorf("%s missing from %s", volume, path)
	result.Fail("atom0_nvme doesn't exist in PVS file")
	result.Remediate(
		"NVME drive on the node may be inoperable which will result in upgrade failure.",
		"Contact TAC for further investigation and potential disk or appliance replacement prior to upgrade.",
		"",
	)
	return nil
}

func (c *checker) pvsMissing(result *status.CheckResult) {
	result.Warn("PVS file not found in the tech support to confirm atom0_nvme presence")
	result.Remediate(
		"NVME drive operability needs to be confirmed to ensure successful upgrade.",
		"Verify NVME drive health in CIMC or contact Cisco TAC for assistance.",
		"",
	)
}

// nodeType reads the nodeType line of the system config dump.
func (c *checker) nodeType(env *diagnostic.Environment) (string, bool) {
	path, content, ok := env.FirstEvidence(SystemConfigEvidence...)
	if !ok {
		return "", false
	}
	for _, line := range strings.Split(content, "\n") {
		if _, value, found := strings.Cut(line, nodeTypeKey); found {
			value = strings.TrimSpace(value)
			c.logger.Debugf("nodeType %q from %s", value, path)
			return value, value != ""
		}
	}
	return "", false
}

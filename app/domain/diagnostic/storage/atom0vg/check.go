// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package atom0vg checks the free space of the atom0 volume group.
package atom0vg

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	config "github.com/cloudzero/preupgrade-validator/app/config/preflight"
	"github.com/cloudzero/preupgrade-validator/app/domain/diagnostic"
	"github.com/cloudzero/preupgrade-validator/app/domain/diagnostic/common"
	logging "github.com/cloudzero/preupgrade-validator/app/logging/validator"
	"github.com/cloudzero/preupgrade-validator/app/types/status"
)

const (
	reference = "https://bst.cisco.com/quickview/bug/CSCwr43515"
	// fixedIn no longer needs the headroom.
	fixedIn = "4.1.1"
	group   = "atom0"
)

// Evidence is the `vgs` listing, in preference order.
var Evidence = []string{"lvm-vgs", "storage-diag/vgs", "*/lvm-vgs", "*/storage-diag/vgs"}

var sizePattern = regexp.MustCompile(`^([0-9.]+)([gmtGMT])`)

// FreeGB returns the VFree column of the atom0 row of a `vgs` listing in GiB.
// ok is false when the row is missing or its size unreadable.
func FreeGB(vgs string) (float64, bool) {
	for _, line := range strings.Split(vgs, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "VG") || strings.HasPrefix(line, "#") {
			continue
		}
		// VG #PV #LV #SN Attr VSize VFree
		parts := strings.Fields(line)
		if len(parts) < 7 || parts[0] != group {
			continue
		}
		return ParseSize(parts[6])
	}
	return 0, false
}

// ParseSize converts an LVM size such as "<1.02t" or "512.00m" to GiB.
func ParseSize(raw string) (float64, bool) {
	raw = strings.NewReplacer("<", "", ">", "").Replace(raw)
	m := sizePattern.FindStringSubmatch(raw)
	if m == nil {
		return 0, false
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	switch strings.ToLower(m[2]) {
	case "t":
		value *= 1024
	case "m":
		value /= 1024
	}
	return value, true
}

type checker struct {
	cfg    *config.Settings
	logger *logrus.Entry
}

func NewProvider(ctx context.Context, cfg *config.Settings) diagnostic.Provider {
	return &checker{
		cfg: cfg,
		logger: logging.NewLogger().
			WithContext(ctx).WithField(logging.OpField, diagnostic.Atom0VgCheck),
	}
}

func (c *checker) Check(_ context.Context, env *diagnostic.Environment, result *status.CheckResult) error {
	if v, ok := common.ArchiveVersion(env); ok {
		if fixed, err := common.AtLeast(v, fixedIn); err == nil && fixed {
			result.Pass("atom0 vg check bypassed for ND nodes on 4.1.1 and later")
			return nil
		}
	}

	minimum := c.cfg.Checks.MinAtom0FreeGB
	unverified := fmt.Sprintf("Unable to verify if atom0 vg has >%gG free space", minimum)

	path, content, ok := env.FirstEvidence(Evidence...)
	if !ok {
		result.Warn(unverified)
		return nil
	}
	free, ok := FreeGB(content)
	if !ok {
		c.logger.Warnf("no usable atom0 row in %s", path)
		result.Warn(unverified)
		return nil
	}

	c.logger.Infof("atom0 has %.2fG free", free)
	if free < minimum {
		result.Fail(fmt.Sprintf("atom0 vg has less than %gG free space", minimum))
		result.Remediate(
			fmt.Sprintf("The atom0 virtual group requires %gG free space when performing an upgrade.\n  "+
				"Otherwise, upgrade may fail at 'Deploy Kubernetes Stack' stage.", minimum),
			"Contact Cisco TAC to help resize the atom0 virtual group before upgrade.",
			reference,
		)
		return nil
	}
	result.Pass(fmt.Sprintf("atom0 vg has more than %gG free space", minimum))
	return nil
}

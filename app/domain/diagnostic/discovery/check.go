// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package discovery checks the NXOS Discovery Service app on fabric deployments.
package discovery

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
	reference = "https://bst.cisco.com/bugsearch/bug/CSCwm97680"

	// minVersion is the first release affected.
	minVersion = "3.1.1"
	fabricMode = "ndfc-fabric-ndi"
	appName    = "cisco-ndfc"
	modeKey    = "desiredDeploymentMode"

	unverified = "Unable to verify NXOS Discovery Service status"
)

var (
	ReleasesEvidence = []string{"*/k8-diag/kubectl/k8-releases.yaml", "k8-releases.yaml"}
	AppsEvidence     = []string{"*/k8-diag/kubectl/k8-app", "k8-app"}
)

type checker struct {
	cfg    *config.Settings
	logger *logrus.Entry
}

func NewProvider(ctx context.Context, cfg *config.Settings) diagnostic.Provider {
	return &checker{
		cfg: cfg,
		logger: logging.NewLogger().
			WithContext(ctx).WithField(logging.OpField, diagnostic.NxosDiscoveryService),
	}
}

func (c *checker) Check(_ context.Context, env *diagnostic.Environment, result *status.CheckResult) error {
	if v, ok := common.ArchiveVersion(env); ok {
		affected, err := common.AtLeast(v, minVersion)
		switch {
		case err != nil:
			c.logger.WithError(err).Warn("could not compare version, continuing")
		case !affected:
			result.Pass("Version below 3.1.1, check not applicable")
			return nil
		}
	}

	_, releases, ok := env.FirstEvidence(ReleasesEvidence...)
	if !ok {
		c.unverified(result)
		return nil
	}
	mode, ok := DeploymentMode(releases)
	if !ok {
		c.logger.Warnf("no %s in releases", modeKey)
		c.unverified(result)
		return nil
	}
	if !strings.EqualFold(mode, fabricMode) {
		result.Pass("Deployment Mode is not ndfc-fabric-ndi")
		return nil
	}

	_, apps, ok := env.FirstEvidence(AppsEvidence...)
	if !ok {
		c.unverified(result)
		return nil
	}
	app, err := FindApp(apps, appName)
	if err != nil {
		c.logger.WithError(err).Warn("app listing is unusable")
		c.unverified(result)
		return nil
	}
	if app == nil {
		c.logger.Warnf("%s not listed", appName)
		c.unverified(result)
		return nil
	}

	admin, oper := strings.ToLower(app.Admin), strings.ToLower(app.Oper)
	if admin == "disable" || oper == "processing" {
		result.Fail("NXOS Discovery Service in Disable/Processing state")
		result.Remediate(
			"During upgrade to 3.1.1 and later, NXOS Discovery Service can enter problematic \n  state under certain conditions and result in subsequent upgrade failures.",
			"Contact Cisco TAC for assistance in remediation.",
			reference,
		)
		return nil
	}
	result.Pass("cisco-ndfc k8 App in Enabled state")
	return nil
}

func (c *checker) unverified(result *status.CheckResult) {
	result.Warn(unverified)
	result.Remediate("", "Contact Cisco TAC for further verification.", reference)
}

// DeploymentMode returns the first desiredDeploymentMode value of a releases
// dump.
func DeploymentMode(releases string) (string, bool) {
	for _, line := range strings.Split(releases, "\n") {
		if !strings.Contains(line, modeKey) {
			continue
		}
		_, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if value != "" {
			return value, true
		}
	}
	return "", false
}

// App is one row of the k8 app listing.
type App struct {
	Name  string
	Admin string
	Oper  string
}

// FindApp looks name up in `acs k8 app` style output. An errored listing is
// reported as an error; an absent app as nil.
func FindApp(listing, name string) (*App, error) {
	for _, line := range strings.Split(listing, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "NAME") {
			continue
		}
		if strings.Contains(line, "command not found") || strings.Contains(line, "Error") {
			return nil, diagnostic.ErrDataAbsent
		}
		if !strings.Contains(strings.ToLower(line), name) {
			continue
		}
		// NAME ADMIN-STATE ... ... OPER-STATE
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		return &App{Name: fields[0], Admin: fields[1], Oper: fields[4]}, nil
	}
	return nil, nil
}

// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package persistentip checks that data services have enough persistent IP
// addresses configured.
package persistentip

import (
	"context"
	"fmt"
	"net/netip"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	config "github.com/cloudzero/preupgrade-validator/app/config/preflight"
	"github.com/cloudzero/preupgrade-validator/app/domain/diagnostic"
	logging "github.com/cloudzero/preupgrade-validator/app/logging/validator"
	"github.com/cloudzero/preupgrade-validator/app/types/status"
)

const (
	reference = "https://www.cisco.com/c/en/us/td/docs/dcn/nd/4x/deployment/" +
		"cisco-nexus-dashboard-deployment-guide-41x/nd-prerequisites-41x.html#concept_zkj_3hj_cgc"

	// DataServices is the ExternalIpConfig the requirement applies to.
	DataServices = "data-external-services"
)

// Evidence lists the ExternalIpConfig dumps: the kubectl one of newer
// releases first, then the older falcon one.
var Evidence = []string{
	"k8-diag/kubectl/k8-externalipconfigs.yaml",
	"falcon-diag/externalipconfigs.yaml",
	"*/k8-diag/kubectl/k8-externalipconfigs.yaml",
	"*/falcon-diag/externalipconfigs.yaml",
	"externalipconfigs.yaml",
}

// ErrNoItems means the dump is not an ExternalIpConfig list, typically an
// error message captured in place of the command output.
var ErrNoItems = errors.New("no items in external IP config")

type externalIPConfigList struct {
	Items []externalIPConfig `yaml:"items"`
}

type externalIPConfig struct {
	Metadata struct {
		Name string `yaml:"name"`
	} `yaml:"metadata"`
	Spec struct {
		ExternalIP []string `yaml:"externalIP"`
	} `yaml:"spec"`
}

// Addresses parses an ExternalIpConfig list and returns the valid IPv4
// addresses of each config by name.
func Addresses(content string) (map[string][]string, error) {
	if !strings.Contains(content, "items") {
		return nil, ErrNoItems
	}
	var list externalIPConfigList
	if err := yaml.Unmarshal([]byte(content), &list); err != nil {
		return nil, errors.Wrap(err, "failed to parse external IP config")
	}
	out := make(map[string][]string, len(list.Items))
	for _, item := range list.Items {
		var ips []string
		for _, raw := range item.Spec.ExternalIP {
			raw = strings.TrimSpace(raw)
			if addr, err := netip.ParseAddr(raw); err == nil && addr.Is4() {
				ips = append(ips, raw)
			}
		}
		out[item.Metadata.Name] = append(out[item.Metadata.Name], ips...)
	}
	return out, nil
}

type checker struct {
	cfg    *config.Settings
	logger *logrus.Entry
}

func NewProvider(ctx context.Context, cfg *config.Settings) diagnostic.Provider {
	return &checker{
		cfg: cfg,
		logger: logging.NewLogger().
			WithContext(ctx).WithField(logging.OpField, diagnostic.PersistentIPCheck),
	}
}

func (c *checker) Check(_ context.Context, env *diagnostic.Environment, result *status.CheckResult) error {
	path, content, ok := env.FirstEvidence(Evidence...)
	if !ok {
		result.Warn(
			"Could not locate externalipconfigs.yaml file in tech support",
			"Checked paths: falcon-diag/externalipconfigs.yaml, k8-diag/kubectl/k8-externalipconfigs.yaml",
		)
		result.Remediate(
			"Unable to determine persistent IP configuration - external IP config file not found.\n  "+
				"This could indicate no persistent IPs are configured, or the tech support is incomplete.",
			"Verify that persistent IP addresses are properly configured before proceeding with upgrade.",
			reference,
		)
		return nil
	}

	configs, err := Addresses(content)
	if err != nil {
		c.logger.WithError(err).Warnf("could not validate %s", path)
		result.Warn("Persistent IP config could not be validated.")
		result.Remediate(
			"The Persistent IP configuration file exists but does not contain the expected YAML structure.",
			"Verify that persistent IP addresses are properly configured and generate a new tech support.\n  "+
				"Check the Nexus Dashboard configuration for external IP settings.",
			reference,
		)
		return nil
	}

	minimum := c.cfg.Checks.MinPersistentIPs
	ips := configs[DataServices]
	c.logger.Infof("%d persistent IPs configured for %s", len(ips), DataServices)

	switch {
	case len(ips) == 0:
		result.Fail("Found 0 persistent IP addresses in data-external-services configuration")
		result.Remediate(
			"The Nexus Dashboard data-external-services configuration has ZERO Persistent IP addresses.\n  "+
				"This will likely result in upgrade failure as persistent IPs are required for data services.",
			fmt.Sprintf("Configure at least %d persistent IP addresses for data-external-services before attempting upgrade.\n  "+
				"Consult the Nexus Dashboard deployment guide for proper persistent IP configuration.", minimum),
			reference,
		)
	case len(ips) < minimum:
		result.Fail(
			fmt.Sprintf("Found %d persistent IP addresses in data-external-services (less than the required minimum of %d)", len(ips), minimum),
			"data-external-services IPs: "+strings.Join(ips, ", "),
		)
		result.Remediate(
			fmt.Sprintf("The Nexus Dashboard data-external-services is configured with %d Persistent IP addresses,\n  "+
				"which is less than the required minimum of %d. This will likely result in upgrade failure.", len(ips), minimum),
			fmt.Sprintf("Add additional persistent IP addresses to data-external-services configuration to reach\n  "+
				"the minimum requirement of %d IPs before attempting upgrade.", minimum),
			reference,
		)
	default:
		result.Pass(fmt.Sprintf("Found %d persistent IP addresses (meets minimum requirement of %d)", len(ips), minimum))
	}
	return nil
}

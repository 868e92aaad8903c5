// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package lvmpvs detects empty Elasticsearch physical volumes left behind by a
// deleted Insights installation.
package lvmpvs

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	config "github.com/cloudzero/preupgrade-validator/app/config/preflight"
	"github.com/cloudzero/preupgrade-validator/app/domain/diagnostic"
	logging "github.com/cloudzero/preupgrade-validator/app/logging/validator"
	"github.com/cloudzero/preupgrade-validator/app/types/status"
)

const (
	reference = "https://bst.cloudapps.cisco.com/bugsearch/bug/CSCwe91228"
	passed    = "No empty Elasticsearch PVs found"

	header = "PV             VG"
	// emptySize is the PSize and PFree of an untouched Elasticsearch volume.
	emptySize = "2.18t"
)

// Evidence is the `pvs` listing of the archive.
var Evidence = []string{"lvm-pvs"}

// Volumes holds the Elasticsearch rows of a `pvs` listing.
type Volumes struct {
	Header string
	NIR    string
	Main   string
}

// Empty reports whether both Elasticsearch volumes are present and unused.
func (v Volumes) Empty() bool {
	return unused(v.NIR) && unused(v.Main)
}

// Lines returns the header and the rows that were found.
func (v Volumes) Lines() []string {
	var out []string
	for _, l := range []string{v.Header, v.NIR, v.Main} {
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

func unused(row string) bool {
	// PV VG Fmt Attr PSize PFree
	f := strings.Fields(row)
	return len(f) >= 2 && f[len(f)-2] == emptySize && f[len(f)-1] == emptySize
}

// ParsePVS picks the Elasticsearch volumes out of a `pvs` listing. Rows before
// the column header are ignored.
func ParsePVS(content string) Volumes {
	var v Volumes
	for _, line := range strings.Split(content, "\n") {
		if strings.Contains(line, header) {
			v.Header = line
			continue
		}
		if v.Header == "" {
			continue
		}
		switch {
		case strings.Contains(line, "/dev/sda1") && strings.Contains(line, "elasticsearch.nir"):
			v.NIR = line
		case strings.Contains(line, "/dev/sdb1") && strings.Contains(line, "elasticsearch") &&
			!strings.Contains(line, "cisco.nir.main.elasticsearch"):
			v.Main = line
		}
	}
	return v
}

type checker struct {
	cfg    *config.Settings
	logger *logrus.Entry
}

func NewProvider(ctx context.Context, cfg *config.Settings) diagnostic.Provider {
	return &checker{
		cfg: cfg,
		logger: logging.NewLogger().
			WithContext(ctx).WithField(logging.OpField, diagnostic.LvmPvsCheck),
	}
}

func (c *checker) Check(_ context.Context, env *diagnostic.Environment, result *status.CheckResult) error {
	path, content, ok := env.FirstEvidence(Evidence...)
	if !ok {
		// only nodes that ever hosted Insights carry the listing
		c.logger.Info("lvm-pvs not present, skipping")
		result.Pass(passed)
		return nil
	}

	vols := ParsePVS(content)
	if !vols.Empty() {
		c.logger.Infof("no empty elasticsearch volumes in %s", path)
		result.Pass(passed)
		return nil
	}

	c.logger.Warn("both elasticsearch volumes are empty")
	result.Warn("LVM Physical Volume Details:")
	for _, l := range vols.Lines() {
		result.AddDetail(l)
	}
	result.Remediate(
		"Due to CSCwe91228, if NDI is deleted before upgrade, enablement of new NDI\n  post-upgrade can fail.",
		"Contact TAC to apply the workaround if enablement of NDI fails post-upgrade.",
		reference,
	)
	return nil
}

// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package catalog is the registry of pre-upgrade checks in execution order.
package catalog

import (
	"context"
	"slices"

	config "github.com/cloudzero/preupgrade-validator/app/config/preflight"
	"github.com/cloudzero/preupgrade-validator/app/domain/diagnostic"
	"github.com/cloudzero/preupgrade-validator/app/domain/diagnostic/cluster/nodestatus"
	"github.com/cloudzero/preupgrade-validator/app/domain/diagnostic/cluster/ping"
	"github.com/cloudzero/preupgrade-validator/app/domain/diagnostic/cluster/subnet"
	"github.com/cloudzero/preupgrade-validator/app/domain/diagnostic/cluster/version"
	"github.com/cloudzero/preupgrade-validator/app/domain/diagnostic/discovery"
	"github.com/cloudzero/preupgrade-validator/app/domain/diagnostic/disk"
	"github.com/cloudzero/preupgrade-validator/app/domain/diagnostic/health"
	"github.com/cloudzero/preupgrade-validator/app/domain/diagnostic/persistentip"
	"github.com/cloudzero/preupgrade-validator/app/domain/diagnostic/pods"
	"github.com/cloudzero/preupgrade-validator/app/domain/diagnostic/signature/certificate"
	"github.com/cloudzero/preupgrade-validator/app/domain/diagnostic/signature/iso"
	"github.com/cloudzero/preupgrade-validator/app/domain/diagnostic/storage/atom0vg"
	"github.com/cloudzero/preupgrade-validator/app/domain/diagnostic/storage/lvmpvs"
	"github.com/cloudzero/preupgrade-validator/app/domain/diagnostic/storage/nvme"
)

// Requirement states what a check needs from the evidence archive.
type Requirement int

const (
	// LiveOnly checks query the running system and ignore the archive.
	LiveOnly Requirement = iota
	// EvidencePreferred checks read the archive and fall back to a live query.
	EvidencePreferred
	// EvidenceRequired checks cannot run without an extracted archive.
	EvidenceRequired
)

func (r Requirement) String() string {
	switch r {
	case LiveOnly:
		return "live"
	case EvidencePreferred:
		return "evidence-preferred"
	case EvidenceRequired:
		return "evidence-required"
	}
	return "unknown"
}

// Entry is one registered check.
type Entry struct {
	Name        string
	Requirement Requirement
	Provider    diagnostic.Provider
}

// Registry lists checks and resolves them by name.
type Registry interface {
	// List returns the check names in execution order.
	List() []string
	// Has reports whether name is registered.
	Has(name string) bool
	// Get returns the entries for names in execution order. Without names it
	// returns every entry; unknown names are ignored.
	Get(names ...string) []Entry
}

type registry struct {
	entries []Entry
}

// New builds a registry from explicit entries, keeping their order.
func New(entries ...Entry) Registry {
	return &registry{entries: slices.Clone(entries)}
}

// NewCatalog builds the production registry.
func NewCatalog(ctx context.Context, cfg *config.Settings) Registry {
	if cfg == nil {
		cfg = &config.Settings{}
	}
	return New(
		Entry{diagnostic.VersionCheck, LiveOnly, version.NewProvider(ctx, cfg)},
		Entry{diagnostic.NodeStatus, LiveOnly, nodestatus.NewProvider(ctx, cfg)},
		Entry{diagnostic.SubnetCheck, LiveOnly, subnet.NewProvider(ctx, cfg)},
		Entry{diagnostic.PingCheck, LiveOnly, ping.NewProvider(ctx, cfg)},
		Entry{diagnostic.DiskSpace, EvidencePreferred, disk.NewProvider(ctx, cfg)},
		Entry{diagnostic.PodStatus, EvidencePreferred, pods.NewProvider(ctx, cfg)},
		Entry{diagnostic.SystemHealth, EvidencePreferred, health.NewProvider(ctx, cfg)},
		Entry{diagnostic.NxosDiscoveryService, EvidenceRequired, discovery.NewProvider(ctx, cfg)},
		Entry{diagnostic.CertificateCheck, EvidenceRequired, certificate.NewProvider(ctx, cfg)},
		Entry{diagnostic.IsoCheck, EvidenceRequired, iso.NewProvider(ctx, cfg)},
		Entry{diagnostic.LvmPvsCheck, EvidenceRequired, lvmpvs.NewProvider(ctx, cfg)},
		Entry{diagnostic.PersistentIPCheck, EvidenceRequired, persistentip.NewProvider(ctx, cfg)},
		Entry{diagnostic.Atom0NvmeCheck, EvidenceRequired, nvme.NewProvider(ctx, cfg)},
		Entry{diagnostic.Atom0VgCheck, EvidenceRequired, atom0vg.NewProvider(ctx, cfg)},
	)
}

func (r *registry) List() []string {
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Name)
	}
	return out
}

func (r *registry) Has(name string) bool {
	return slices.ContainsFunc(r.entries, func(e Entry) bool { return e.Name == name })
}

func (r *registry) Get(names ...string) []Entry {
	if len(names) == 0 {
		return slices.Clone(r.entries)
	}
	out := make([]Entry, 0, len(names))
	for _, e := range r.entries {
		if slices.Contains(names, e.Name) {
			out = append(out, e)
		}
	}
	return out
}

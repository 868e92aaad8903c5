// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v4/disk"
)

const mb = 1024 * 1024

// FreeMB returns the free space of the filesystem holding path. A path that
// does not exist yet is measured through its nearest existing parent.
func FreeMB(ctx context.Context, path string) (uint64, error) {
	p := filepath.Clean(path)
	for {
		if _, err := os.Stat(p); err == nil {
			break
		}
		parent := filepath.Dir(p)
		if parent == p {
			break
		}
		p = parent
	}
	usage, err := disk.UsageWithContext(ctx, p)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read filesystem usage of %s", p)
	}
	return usage.Free / mb, nil
}

// CheckTmpSpace warns when the base directory has less free space than the
// configured minimum. It reports whether the space is sufficient; an
// unreadable filesystem counts as sufficient.
func (a *Archiver) CheckTmpSpace(ctx context.Context) bool {
	free, err := FreeMB(ctx, a.cfg.Paths.BaseDir)
	if err != nil {
		log.Ctx(ctx).Debug().Err(err).Msg("could not check free space")
		return true
	}
	if free < a.cfg.Collection.MinTmpFreeMB {
		log.Ctx(ctx).Warn().
			Uint64("free_mb", free).
			Uint64("wanted_mb", a.cfg.Collection.MinTmpFreeMB).
			Str("dir", a.cfg.Paths.BaseDir).
			Msg("low free space, extraction may fail")
		return false
	}
	return true
}

// checkDestSpace warns when dest cannot hold SpaceFactor times the archive.
func (a *Archiver) checkDestSpace(ctx context.Context, dest string, archiveSize int64) {
	free, err := FreeMB(ctx, dest)
	if err != nil || archiveSize <= 0 {
		return
	}
	wanted := a.cfg.Extraction.SpaceFactor * float64(archiveSize) / mb
	if float64(free) < wanted {
		log.Ctx(ctx).Warn().
			Uint64("free_mb", free).
			Float64("wanted_mb", wanted).
			Msg("destination may be too small for the extracted archive")
	}
}

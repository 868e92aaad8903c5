// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"archive/tar"
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ccoveille/go-safecast"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/cloudzero/preupgrade-validator/app/utils/process"
)

// strategy unpacks archive into an empty dest within timeout.
type strategy struct {
	name string
	run  func(ctx context.Context, archive, dest string, timeout time.Duration) error
}

func (a *Archiver) strategies() []strategy {
	return []strategy{
		{name: "tar -xzf", run: a.externalTar("-xzf")},
		{name: "tar -xf", run: a.externalTar("-xf")},
		{name: "stream", run: streamExtract},
	}
}

// Extract unpacks archivePath into destDir, replacing whatever was there, and
// then unpacks the nested logs archive in place when present.
func (a *Archiver) Extract(ctx context.Context, archivePath, destDir string) error {
	logger := log.Ctx(ctx)

	info, err := os.Stat(archivePath)
	if err != nil {
		return newSetupError("Tech support file not found: "+archivePath, err)
	}
	a.checkDestSpace(ctx, destDir, info.Size())

	strategies := a.strategies()
	var lastErr error
	extracted := false
	for i, s := range strategies {
		if err := ctx.Err(); err != nil {
			return err
		}
		a.report(float64(i)/float64(len(strategies)+1), "Extracting tech support")
		if err := reset(destDir); err != nil {
			return newSetupError("Failed to prepare extraction directory", err)
		}

		start := time.Now()
		lastErr = s.run(ctx, archivePath, destDir, a.cfg.Extraction.Timeout)
		if lastErr == nil {
			logger.Info().Str("strategy", s.name).Dur("took", time.Since(start)).Msg("tech support extracted")
			extracted = true
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn().Err(lastErr).Str("strategy", s.name).Msg("extraction strategy failed")
	}
	if !extracted {
		return newSetupError("Failed to extract tech support", lastErr)
	}

	a.report(float64(len(strategies))/float64(len(strategies)+1), "Extracting nested logs")
	a.extractNested(ctx, destDir)
	a.report(1, "Extraction complete")
	return nil
}

// extractNested unpacks the nested logs archive into destDir. Failure only
// costs the evidence inside it.
func (a *Archiver) extractNested(ctx context.Context, destDir string) {
	logger := log.Ctx(ctx)
	nested := filepath.Join(destDir, a.cfg.Extraction.NestedArchive)
	if _, err := os.Stat(nested); err != nil {
		return
	}

	for _, s := range a.strategies() {
		err := s.run(ctx, nested, destDir, a.cfg.Extraction.NestedTimeout)
		if err == nil {
			logger.Info().Str("strategy", s.name).Msg("nested logs extracted")
			return
		}
		if ctx.Err() != nil {
			return
		}
		logger.Debug().Err(err).Str("strategy", s.name).Msg("nested extraction strategy failed")
	}
	logger.Warn().Str("archive", nested).Msg("could not extract nested logs, continuing without them")
}

func reset(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return errors.Wrapf(err, "failed to clear %s", dir)
	}
	return errors.Wrapf(os.MkdirAll(dir, 0o755), "failed to create %s", dir)
}

func (a *Archiver) externalTar(flag string) func(context.Context, string, string, time.Duration) error {
	return func(ctx context.Context, archive, dest string, timeout time.Duration) error {
		res, err := a.exec.Run(ctx, process.Command{
			Name:    a.cfg.Commands.Tar,
			Args:    []string{flag, archive, "-C", dest},
			Timeout: timeout,
		})
		if err != nil {
			return err
		}
		if !res.Success() {
			return errors.Errorf("%s %s exited with status %d: %s",
				a.cfg.Commands.Tar, flag, res.ExitCode, strings.TrimSpace(res.Stderr))
		}
		return nil
	}
}

// streamExtract unpacks a tar stream in process, decompressing it first when
// it carries the gzip magic.
func streamExtract(ctx context.Context, archive, dest string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	f, err := os.Open(archive)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", archive)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	var r io.Reader = br
	if magic, _ := br.Peek(2); len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return errors.Wrap(err, "failed to open gzip stream")
		}
		defer zr.Close()
		r = zr
	}

	tr := tar.NewReader(r)
	entries := 0
	for {
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return process.ErrTimeout
			}
			return err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrap(err, "failed to read tar stream")
		}
		if err := writeEntry(tr, hdr, dest); err != nil {
			return err
		}
		entries++
	}
	if entries == 0 {
		return errors.New("archive is empty")
	}
	return nil
}

// writeEntry materializes one tar entry below dest. Entries escaping dest are
// skipped.
func writeEntry(tr *tar.Reader, hdr *tar.Header, dest string) error {
	target, ok := within(dest, hdr.Name)
	if !ok {
		return nil
	}

	perm, err := safecast.ToUint32(hdr.Mode)
	if err != nil {
		perm = 0o644
	}
	mode := os.FileMode(perm).Perm()

	switch hdr.Typeflag {
	case tar.TypeDir:
		return errors.Wrapf(os.MkdirAll(target, mode|0o700), "failed to create %s", target)
	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return errors.Wrapf(err, "failed to create %s", filepath.Dir(target))
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode|0o600)
		if err != nil {
			return errors.Wrapf(err, "failed to create %s", target)
		}
		_, cerr := io.Copy(out, io.LimitReader(tr, hdr.Size))
		if err := out.Close(); cerr == nil {
			cerr = err
		}
		return errors.Wrapf(cerr, "failed to write %s", target)
	case tar.TypeSymlink:
		if filepath.IsAbs(hdr.Linkname) {
			return nil
		}
		if _, ok := within(dest, filepath.Join(filepath.Dir(hdr.Name), hdr.Linkname)); !ok {
			return nil
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return errors.Wrapf(err, "failed to create %s", filepath.Dir(target))
		}
		_ = os.Remove(target)
		return errors.Wrapf(os.Symlink(hdr.Linkname, target), "failed to link %s", target)
	default:
		// devices, fifos and hard links carry no evidence
		return nil
	}
}

// within resolves name below dest, refusing paths that climb out of it.
func within(dest, name string) (string, bool) {
	if filepath.IsAbs(name) {
		name = strings.TrimLeft(name, "/")
	}
	target := filepath.Join(dest, name)
	rel, err := filepath.Rel(dest, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return target, true
}

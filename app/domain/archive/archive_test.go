// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package archive_test

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	config "github.com/cloudzero/preupgrade-validator/app/config/preflight"
	"github.com/cloudzero/preupgrade-validator/app/domain/archive"
	"github.com/cloudzero/preupgrade-validator/app/domain/diagnostic"
	"github.com/cloudzero/preupgrade-validator/app/domain/diagnostic/diagtest"
	"github.com/cloudzero/preupgrade-validator/app/types/status"
	"github.com/cloudzero/preupgrade-validator/app/utils/process"
	"github.com/cloudzero/preupgrade-validator/app/utils/process/mocks"
)

func settings(t *testing.T) *config.Settings {
	t.Helper()
	cfg := diagtest.Settings(t)
	cfg.Paths.ArchiveDir = t.TempDir()
	cfg.Collection.PollInterval = 10 * time.Millisecond
	cfg.Collection.StabilizeTimeout = 3 * time.Second
	cfg.Collection.StabilityWindow = 30 * time.Millisecond
	return cfg
}

type entry struct {
	name string
	body []byte
	dir  bool
}

func tarball(t *testing.T, compress bool, entries ...entry) []byte {
	t.Helper()
	var (
		buf bytes.Buffer
		zw  *gzip.Writer
		w   io.Writer = &buf
	)
	if compress {
		zw = gzip.NewWriter(&buf)
		w = zw
	}
	tw := tar.NewWriter(w)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0o644, Size: int64(len(e.body)), Typeflag: tar.TypeReg}
		if e.dir {
			hdr = &tar.Header{Name: e.name, Mode: 0o755, Typeflag: tar.TypeDir}
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if !e.dir {
			_, err := tw.Write(e.body)
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	if zw != nil {
		require.NoError(t, zw.Close())
	}
	return buf.Bytes()
}

func listing(t *testing.T, root string) []string {
	t.Helper()
	var out []string
	require.NoError(t, filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			rel, _ := filepath.Rel(root, p)
			out = append(out, filepath.ToSlash(rel))
		}
		return nil
	}))
	sort.Strings(out)
	return out
}

func writeFile(t *testing.T, path string, body []byte, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, body, 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestUnit_Archive_Select(t *testing.T) {
	cfg := settings(t)
	a := archive.NewArchiver(cfg, nil)

	_, err := a.Select("")
	var setupErr *archive.SetupError
	require.ErrorAs(t, err, &setupErr)
	assert.Equal(t, archive.ReasonNoArchive, setupErr.Reason)
	assert.ErrorIs(t, err, diagnostic.ErrSetupFailure)

	now := time.Now()
	older := filepath.Join(cfg.Paths.ArchiveDir, "ts_2024-01-01_nd1.tgz")
	newer := filepath.Join(cfg.Paths.ArchiveDir, "ts_2024-02-01_nd1.tgz")
	writeFile(t, older, []byte("a"), now.Add(-2*time.Hour))
	writeFile(t, newer, []byte("b"), now.Add(-time.Hour))
	writeFile(t, filepath.Join(cfg.Paths.ArchiveDir, "ts_2024-03-01_nd2.tgz"), []byte("c"), now)

	got, err := a.Select("")
	require.NoError(t, err)
	assert.Equal(t, newer, got)

	got, err = a.Select(older)
	require.NoError(t, err)
	assert.Equal(t, older, got)

	_, err = a.Select(filepath.Join(cfg.Paths.ArchiveDir, "absent.tgz"))
	assert.ErrorIs(t, err, diagnostic.ErrSetupFailure)
}

func TestUnit_Archive_CollectCommand(t *testing.T) {
	a := archive.NewArchiver(settings(t), nil)
	tcases := []struct {
		hint string
		want string
	}{
		{hint: "4.1.1g", want: "acs techsupport collect"},
		{hint: "5.0", want: "acs techsupport collect"},
		{hint: "3.2.1e", want: "acs techsupport collect -s system"},
		{hint: "", want: "acs techsupport collect -s system"},
		{hint: "unknown", want: "acs techsupport collect -s system"},
	}
	for _, tc := range tcases {
		assert.Equal(t, tc.want, a.CollectCommand(tc.hint), tc.hint)
	}
}

func TestUnit_Archive_Generate(t *testing.T) {
	cfg := settings(t)
	ctrl := gomock.NewController(t)
	exec := mocks.NewMockExecutor(ctrl)

	// an archive from an earlier run must not be mistaken for the new one
	stale := filepath.Join(cfg.Paths.ArchiveDir, "ts_"+time.Now().Format("2006-01-02")+"T01_nd1.tgz")
	writeFile(t, stale, []byte("old"), time.Now().Add(time.Hour))

	fresh := filepath.Join(cfg.Paths.ArchiveDir, "ts_"+time.Now().Format("2006-01-02")+"T02_nd1.tgz")
	exec.EXPECT().Run(gomock.Any(), mocks.CommandLine("acs techsupport collect")).
		DoAndReturn(func(_ context.Context, cmd process.Command) (*process.Result, error) {
			assert.Equal(t, cfg.Collection.Timeout, cmd.Timeout)
			writeFile(t, fresh, []byte("archive"), time.Now())
			return mocks.Output("TS collection started\n", 0), nil
		})

	var fractions []float64
	a := archive.NewArchiver(cfg, exec, archive.WithProgress(func(f float64, _ string) {
		fractions = append(fractions, f)
	}))
	got, err := a.Generate(t.Context(), "4.1.1g")
	require.NoError(t, err)
	assert.Equal(t, fresh, got)
	require.NotEmpty(t, fractions)
	assert.Equal(t, 1.0, fractions[len(fractions)-1])
}

func TestUnit_Archive_Generate_FallsBackToNewest(t *testing.T) {
	cfg := settings(t)
	cfg.Collection.StabilizeTimeout = 100 * time.Millisecond
	cfg.Collection.DisableWatch = true
	ctrl := gomock.NewController(t)
	exec := mocks.NewMockExecutor(ctrl)

	undated := filepath.Join(cfg.Paths.ArchiveDir, "ts_nd1.tgz")
	exec.EXPECT().Run(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, process.Command) (*process.Result, error) {
			writeFile(t, undated, []byte("archive"), time.Now())
			return mocks.Output("TS collection started\n", 0), nil
		})

	got, err := archive.NewArchiver(cfg, exec).Generate(t.Context(), "")
	require.NoError(t, err)
	assert.Equal(t, undated, got)
}

func TestUnit_Archive_Generate_Failures(t *testing.T) {
	tcases := []struct {
		name       string
		res        *process.Result
		err        error
		wantReason string
		wantStatus status.Status
	}{
		{
			name:       "unrecognized arguments",
			res:        &process.Result{Stderr: "acs: error: unrecognized arguments: -s system", ExitCode: 2},
			wantReason: archive.ReasonInvalidArguments,
			wantStatus: status.StatusError,
		},
		{
			name:       "usage",
			res:        &process.Result{Stdout: "usage: acs techsupport collect [-h]", ExitCode: 2},
			wantReason: archive.ReasonUsage,
			wantStatus: status.StatusError,
		},
		{
			name:       "other failure",
			res:        &process.Result{Stderr: "collection already in progress\n", ExitCode: 1},
			wantReason: "collection already in progress",
			wantStatus: status.StatusError,
		},
		{
			name:       "unexpected output",
			res:        mocks.Output("nothing to do\n", 0),
			wantReason: archive.ReasonUnexpectedOutput,
			wantStatus: status.StatusWarning,
		},
		{
			name:       "timeout",
			err:        process.ErrTimeout,
			wantReason: archive.ReasonNotGenerated,
			wantStatus: status.StatusError,
		},
		{
			name:       "nothing written",
			res:        mocks.Output("TS collection started\n", 0),
			wantReason: archive.ReasonNotGenerated,
			wantStatus: status.StatusError,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := settings(t)
			cfg.Collection.StabilizeTimeout = 50 * time.Millisecond
			ctrl := gomock.NewController(t)
			exec := mocks.NewMockExecutor(ctrl)
			exec.EXPECT().Run(gomock.Any(), gomock.Any()).Return(tc.res, tc.err)

			_, err := archive.NewArchiver(cfg, exec).Generate(t.Context(), "3.1.1g")
			var setupErr *archive.SetupError
			require.ErrorAs(t, err, &setupErr)
			assert.Equal(t, tc.wantReason, setupErr.Reason)
			assert.Equal(t, tc.wantStatus, setupErr.Status)
			assert.ErrorIs(t, err, diagnostic.ErrSetupFailure)
		})
	}
}

func TestUnit_Archive_Generate_Interrupted(t *testing.T) {
	cfg := settings(t)
	ctrl := gomock.NewController(t)
	exec := mocks.NewMockExecutor(ctrl)

	ctx, cancel := context.WithCancel(t.Context())
	exec.EXPECT().Run(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, process.Command) (*process.Result, error) {
			cancel()
			return nil, process.ErrInterrupted
		})

	_, err := archive.NewArchiver(cfg, exec).Generate(ctx, "")
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, diagnostic.ErrSetupFailure))
}

func failingTar(t *testing.T) *mocks.MockExecutor {
	t.Helper()
	ctrl := gomock.NewController(t)
	exec := mocks.NewMockExecutor(ctrl)
	exec.EXPECT().Run(gomock.Any(), mocks.CommandLine("tar")).
		Return(&process.Result{Stderr: "tar: command not found", ExitCode: 127}, nil).AnyTimes()
	return exec
}

func TestUnit_Archive_Extract_StreamFallback(t *testing.T) {
	cfg := settings(t)
	nested := tarball(t, true, entry{name: "logs/k8_infra/sm/sm.log", body: []byte("INFO ready\n")})
	data := tarball(t, true,
		entry{name: "ts_nd1/", dir: true},
		entry{name: "ts_nd1/acs-checks/acs_version", body: []byte("Nexus Dashboard 3.2.1e\n")},
		entry{name: "ts_nd1/k8-diag/df-m", body: []byte("Filesystem 1M-blocks Used Available Use% Mounted on\n")},
		entry{name: "logs.tgz", body: nested},
		entry{name: "../escape.txt", body: []byte("nope")},
	)
	src := filepath.Join(cfg.Paths.ArchiveDir, "ts_nd1.tgz")
	writeFile(t, src, data, time.Now())

	dest := cfg.ExtractDir()
	writeFile(t, filepath.Join(dest, "leftover"), []byte("x"), time.Now())

	a := archive.NewArchiver(cfg, failingTar(t))
	require.NoError(t, a.Extract(t.Context(), src, dest))

	want := []string{
		"logs.tgz",
		"logs/k8_infra/sm/sm.log",
		"ts_nd1/acs-checks/acs_version",
		"ts_nd1/k8-diag/df-m",
	}
	if diff := cmp.Diff(want, listing(t, dest)); diff != "" {
		t.Errorf("extracted listing mismatch (-want +got):\n%s", diff)
	}
	assert.NoFileExists(t, filepath.Join(filepath.Dir(dest), "escape.txt"))

	// same inputs, same tree
	require.NoError(t, a.Extract(t.Context(), src, dest))
	assert.Equal(t, want, listing(t, dest))
}

func TestUnit_Archive_Extract_PlainTar(t *testing.T) {
	cfg := settings(t)
	src := filepath.Join(cfg.Paths.ArchiveDir, "ts_nd1.tar")
	writeFile(t, src, tarball(t, false, entry{name: "ts_nd1/lvm-pvs", body: []byte("PV VG\n")}), time.Now())

	require.NoError(t, archive.NewArchiver(cfg, failingTar(t)).Extract(t.Context(), src, cfg.ExtractDir()))
	assert.Equal(t, []string{"ts_nd1/lvm-pvs"}, listing(t, cfg.ExtractDir()))
}

func TestUnit_Archive_Extract_ExternalTarWins(t *testing.T) {
	cfg := settings(t)
	src := filepath.Join(cfg.Paths.ArchiveDir, "ts_nd1.tgz")
	writeFile(t, src, []byte("not inspected"), time.Now())

	ctrl := gomock.NewController(t)
	exec := mocks.NewMockExecutor(ctrl)
	exec.EXPECT().Run(gomock.Any(), mocks.CommandLine("tar -xzf "+src+" -C "+cfg.ExtractDir())).
		DoAndReturn(func(_ context.Context, cmd process.Command) (*process.Result, error) {
			assert.Equal(t, cfg.Extraction.Timeout, cmd.Timeout)
			return mocks.Output("", 0), nil
		})

	require.NoError(t, archive.NewArchiver(cfg, exec).Extract(t.Context(), src, cfg.ExtractDir()))
	assert.DirExists(t, cfg.ExtractDir())
}

func TestUnit_Archive_Extract_Failures(t *testing.T) {
	cfg := settings(t)
	a := archive.NewArchiver(cfg, failingTar(t))

	err := a.Extract(t.Context(), filepath.Join(cfg.Paths.ArchiveDir, "absent.tgz"), cfg.ExtractDir())
	assert.ErrorIs(t, err, diagnostic.ErrSetupFailure)

	corrupt := filepath.Join(cfg.Paths.ArchiveDir, "corrupt.tgz")
	writeFile(t, corrupt, []byte{0x1f, 0x8b, 0x00, 0x01, 0x02}, time.Now())
	err = a.Extract(t.Context(), corrupt, cfg.ExtractDir())
	var setupErr *archive.SetupError
	require.ErrorAs(t, err, &setupErr)
	assert.Equal(t, "Failed to extract tech support", setupErr.Reason)
}

func TestUnit_Archive_Acquire(t *testing.T) {
	cfg := settings(t)
	cfg.Collection.Mode = string(archive.ModeSelect)
	src := filepath.Join(cfg.Paths.ArchiveDir, "ts_nd1.tgz")
	writeFile(t, src, []byte("x"), time.Now())

	task := archive.NewTask(cfg)
	assert.Equal(t, cfg.ExtractDir(), task.Dest)
	require.NoError(t, archive.NewArchiver(cfg, nil).Acquire(t.Context(), task))
	assert.Equal(t, src, task.Archive)
}

func TestUnit_Archive_FreeSpace(t *testing.T) {
	free, err := archive.FreeMB(t.Context(), filepath.Join(t.TempDir(), "not", "yet", "created"))
	require.NoError(t, err)
	assert.Positive(t, free)

	cfg := settings(t)
	cfg.Collection.MinTmpFreeMB = 0
	assert.True(t, archive.NewArchiver(cfg, nil).CheckTmpSpace(t.Context()))
	cfg.Collection.MinTmpFreeMB = ^uint64(0)
	assert.False(t, archive.NewArchiver(cfg, nil).CheckTmpSpace(t.Context()))
}

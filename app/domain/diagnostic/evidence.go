// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package diagnostic

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// maxEvidenceLine bounds a single line when scanning log evidence.
const maxEvidenceLine = 4 * 1024 * 1024

// OpenEvidence opens path, transparently decompressing ".gz" files.
func OpenEvidence(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	if !strings.HasSuffix(path, ".gz") {
		return f, nil
	}
	zr, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "failed to decompress %s", path)
	}
	return &gzipFile{Reader: zr, file: f}, nil
}

type gzipFile struct {
	*gzip.Reader
	file *os.File
}

func (g *gzipFile) Close() error {
	zerr := g.Reader.Close()
	ferr := g.file.Close()
	if zerr != nil {
		return zerr
	}
	return ferr
}

// ReadEvidence returns the whole content of path as text.
func ReadEvidence(path string) (string, error) {
	rc, err := OpenEvidence(path)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read %s", path)
	}
	return string(b), nil
}

// ScanEvidence calls fn for every line of path until fn returns false.
func ScanEvidence(path string, fn func(line string) bool) error {
	rc, err := OpenEvidence(path)
	if err != nil {
		return err
	}
	defer rc.Close()

	sc := bufio.NewScanner(rc)
	sc.Buffer(make([]byte, 64*1024), maxEvidenceLine)
	for sc.Scan() {
		if !fn(sc.Text()) {
			return nil
		}
	}
	return errors.Wrapf(sc.Err(), "failed to scan %s", path)
}

// FirstEvidence reads the first indexed file matching any of the patterns.
func (e *Environment) FirstEvidence(patterns ...string) (path, content string, ok bool) {
	path, found := e.Index().First(patterns...)
	if !found {
		return "", "", false
	}
	content, err := ReadEvidence(path)
	if err != nil {
		return path, "", false
	}
	return path, content, true
}

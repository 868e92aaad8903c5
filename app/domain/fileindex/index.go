// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package fileindex indexes an extracted evidence tree once so checks can look
// files up by name or pattern without walking the tree again.
//
// Patterns follow shell fnmatch rules where '*' also matches '/', so
// "*/k8-diag/df-m" finds the file at any depth.
package fileindex

import (
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/gobwas/glob"
	"github.com/pkg/errors"
)

// Index maps bare file names and relative paths to absolute paths.
type Index struct {
	baseDir string

	mu     sync.RWMutex
	names  map[string][]string
	paths  map[string]string
	sorted struct {
		names []string
		paths []string
	}
	globs map[string]glob.Glob
}

// Build walks baseDir once. A missing baseDir gives an empty index.
func Build(baseDir string) (*Index, error) {
	idx := &Index{baseDir: filepath.Clean(baseDir)}
	if err := idx.Refresh(); err != nil {
		return nil, err
	}
	return idx, nil
}

// Empty returns an index with no entries, used when no evidence was extracted.
func Empty() *Index {
	return &Index{
		names: map[string][]string{},
		paths: map[string]string{},
		globs: map[string]glob.Glob{},
	}
}

// BaseDir returns the indexed root.
func (i *Index) BaseDir() string {
	if i == nil {
		return ""
	}
	return i.baseDir
}

// Len returns the number of indexed files.
func (i *Index) Len() int {
	if i == nil {
		return 0
	}
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.paths)
}

// Refresh discards the index and rebuilds it from disk.
func (i *Index) Refresh() error {
	names := map[string][]string{}
	paths := map[string]string{}

	if i.baseDir != "" {
		err := filepath.WalkDir(i.baseDir, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) && p == i.baseDir {
					return filepath.SkipDir
				}
				// unreadable subtrees are skipped, not fatal
				if d != nil && d.IsDir() && p != i.baseDir {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			rel, err := filepath.Rel(i.baseDir, p)
			if err != nil {
				return errors.Wrapf(err, "failed to relativize %s", p)
			}
			names[d.Name()] = append(names[d.Name()], p)
			paths[filepath.ToSlash(rel)] = p
			return nil
		})
		if err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "failed to index %s", i.baseDir)
		}
	}

	sortedNames := make([]string, 0, len(names))
	for n := range names {
		sortedNames = append(sortedNames, n)
	}
	sort.Strings(sortedNames)
	sortedPaths := make([]string, 0, len(paths))
	for p := range paths {
		sortedPaths = append(sortedPaths, p)
	}
	sort.Strings(sortedPaths)

	i.mu.Lock()
	defer i.mu.Unlock()
	i.names = names
	i.paths = paths
	i.sorted.names = sortedNames
	i.sorted.paths = sortedPaths
	i.globs = map[string]glob.Glob{}
	return nil
}

// Find returns the absolute paths matching pattern:
//
//  1. an exact bare name returns the files recorded under it;
//  2. otherwise names matching the pattern, followed by relative paths that
//     match it or contain it, deduplicated in first-seen order.
//
// No match yields an empty slice, never an error.
func (i *Index) Find(pattern string) []string {
	if i == nil || pattern == "" {
		return []string{}
	}

	i.mu.RLock()
	if hits, ok := i.names[pattern]; ok {
		out := slices.Clone(hits)
		i.mu.RUnlock()
		return out
	}
	i.mu.RUnlock()

	g := i.compile(pattern)

	i.mu.RLock()
	defer i.mu.RUnlock()

	seen := map[string]bool{}
	out := []string{}
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}

	if g != nil {
		for _, name := range i.sorted.names {
			if g.Match(name) {
				for _, p := range i.names[name] {
					add(p)
				}
			}
		}
	}
	for _, rel := range i.sorted.paths {
		if (g != nil && g.Match(rel)) || strings.Contains(rel, pattern) {
			add(i.paths[rel])
		}
	}
	return out
}

// First returns the first match of the first pattern that matches anything.
func (i *Index) First(patterns ...string) (string, bool) {
	for _, p := range patterns {
		if hits := i.Find(p); len(hits) > 0 {
			return hits[0], true
		}
	}
	return "", false
}

// HasDir reports whether any indexed file lives below a directory named name.
func (i *Index) HasDir(name string) bool {
	if i == nil || name == "" {
		return false
	}
	i.mu.RLock()
	defer i.mu.RUnlock()
	for _, rel := range i.sorted.paths {
		segs := strings.Split(rel, "/")
		if slices.Contains(segs[:len(segs)-1], name) {
			return true
		}
	}
	return false
}

// compile caches compiled patterns; an invalid pattern only takes part in
// substring matching.
func (i *Index) compile(pattern string) glob.Glob {
	i.mu.RLock()
	g, ok := i.globs[pattern]
	i.mu.RUnlock()
	if ok {
		return g
	}

	compiled, err := glob.Compile(pattern)
	if err != nil {
		compiled = nil
	}

	i.mu.Lock()
	if i.globs == nil {
		i.globs = map[string]glob.Glob{}
	}
	i.globs[pattern] = compiled
	i.mu.Unlock()
	return compiled
}

// Copyright (C) 2016 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package fswatcher

import "path/filepath"

// aggregator accumulates changed sub-paths for one retention window,
// promoting a directory's individual children to the directory itself once
// more than maxFilesPerDir of them have changed, and collapsing the whole
// batch to "." once more than maxFiles distinct root-level entries have
// changed (spec.md §4.5's scanner budget then re-walks from there).
type aggregator struct {
	overflowed bool
	byDir      map[string]map[string]struct{}
}

func newAggregator() *aggregator {
	return &aggregator{byDir: map[string]map[string]struct{}{}}
}

func (a *aggregator) add(rel string) {
	if a.overflowed {
		return
	}
	dir := filepath.Dir(rel)
	children := a.byDir[dir]
	if children == nil {
		children = map[string]struct{}{}
		a.byDir[dir] = children
	}
	children[rel] = struct{}{}

	if len(children) > maxFilesPerDir {
		// Too many individual children changed in dir; report dir itself
		// instead, folded up into its own parent the same way.
		delete(a.byDir, dir)
		if dir == "." {
			a.overflowed = true
			return
		}
		a.add(dir)
		return
	}

	if a.totalRoots() > maxFiles {
		a.overflowed = true
	}
}

// totalRoots counts distinct top-level names across all tracked
// directories, the same metric the original backend overflows on.
func (a *aggregator) totalRoots() int {
	roots := map[string]struct{}{}
	for dir, children := range a.byDir {
		if dir == "." {
			for c := range children {
				roots[c] = struct{}{}
			}
			continue
		}
		top := dir
		for {
			parent := filepath.Dir(top)
			if parent == "." || parent == top {
				break
			}
			top = parent
		}
		roots[top] = struct{}{}
	}
	return len(roots)
}

// flush returns the accumulated batch and resets the aggregator for the
// next retention window.
func (a *aggregator) flush() []string {
	if a.overflowed {
		a.overflowed = false
		a.byDir = map[string]map[string]struct{}{}
		return []string{"."}
	}

	var batch []string
	for dir, children := range a.byDir {
		if dir == "." {
			for c := range children {
				batch = append(batch, c)
			}
			continue
		}
		batch = append(batch, dir)
	}
	a.byDir = map[string]map[string]struct{}{}
	return batch
}

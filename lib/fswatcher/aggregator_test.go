// Copyright (C) 2016 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package fswatcher

import (
	"path/filepath"
	"sort"
	"strconv"
	"testing"
)

func TestAggregatorFlushesIndividualPaths(t *testing.T) {
	a := newAggregator()
	a.add("file1")
	a.add(filepath.Join("dir1", "file2"))

	batch := a.flush()
	sort.Strings(batch)
	want := []string{"dir1", "file1"}
	if len(batch) != len(want) {
		t.Fatalf("got %v, want %v", batch, want)
	}
	for i := range want {
		if batch[i] != want[i] {
			t.Fatalf("got %v, want %v", batch, want)
		}
	}
}

func TestAggregatorPromotesBusyDirectory(t *testing.T) {
	a := newAggregator()
	dir := "parent"
	for i := 0; i < maxFilesPerDir+1; i++ {
		a.add(filepath.Join(dir, strconv.Itoa(i)))
	}
	batch := a.flush()
	if len(batch) != 1 || batch[0] != dir {
		t.Fatalf("expected the busy directory to be promoted, got %v", batch)
	}
}

func TestAggregatorOverflowsToRoot(t *testing.T) {
	a := newAggregator()
	for i := 0; i < maxFiles+1; i++ {
		a.add(strconv.Itoa(i))
	}
	batch := a.flush()
	if len(batch) != 1 || batch[0] != "." {
		t.Fatalf("expected overflow to collapse to \".\", got %v", batch)
	}
}

func TestAggregatorFlushResets(t *testing.T) {
	a := newAggregator()
	a.add("file1")
	a.flush()
	if len(a.byDir) != 0 {
		t.Fatal("expected flush to reset state")
	}
	batch := a.flush()
	if len(batch) != 0 {
		t.Fatalf("expected empty batch after reset, got %v", batch)
	}
}

// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package db

import (
	"testing"

	"github.com/syncspirit/syncspirit-go/lib/model"
)

func applyAll(t *testing.T, c *model.Cluster, ctrl model.ApplyController, diffs []model.Diff) {
	t.Helper()
	for _, d := range diffs {
		if err := model.ApplyDiff(c, ctrl, d); err != nil {
			t.Fatalf("apply %s: %v", d.Name(), err)
		}
	}
}

// TestCorruptedFileIsDroppedAndJournaledForDeletion exercises the
// corrupted-file-at-load recovery path: a file-info row that references a
// block never stored is dropped from the load set, and the dropped row
// must be journaled for deletion so it is not rediscovered on every
// subsequent restart.
func TestCorruptedFileIsDroppedAndJournaledForDeletion(t *testing.T) {
	dir := t.TempDir()

	store, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	fi := model.NewFolderInfo("docs", model.DeviceKey{1})
	if err := store.PutFolderInfo(fi); err != nil {
		t.Fatalf("put folder-info: %v", err)
	}

	corrupt := &model.FileInfo{
		ID:     model.FileInfoID{1},
		Name:   "missing-block.bin",
		Blocks: []model.BlockRef{{Hash: model.BlockKey{0xAA}, Size: 128}},
	}
	if err := store.PutFileInfo(fi.ID, corrupt); err != nil {
		t.Fatalf("put file-info: %v", err)
	}
	// Deliberately no corresponding PutBlocks call: the block row is
	// missing, which is what makes this file-info corrupt.

	c := model.NewCluster(16)
	store.SetCluster(c)
	actor := NewActor(store)

	diffs, err := actor.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	applyAll(t, c, actor, diffs)

	loadedFI, ok := c.FolderInfoByID(fi.ID)
	if !ok {
		t.Fatal("folder-info should have loaded")
	}
	if _, ok := loadedFI.FileByID(corrupt.ID); ok {
		t.Fatal("corrupted file-info should have been excluded from the load set")
	}

	corruptedDiffs := actor.CorruptedFileDiffs()
	if len(corruptedDiffs) != 1 {
		t.Fatalf("expected exactly one RemoveCorruptedFiles diff, got %d", len(corruptedDiffs))
	}
	applyAll(t, c, actor, corruptedDiffs)

	if err := actor.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Reopen: the stale row must be gone, not silently re-dropped forever.
	store2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store2.Close()

	c2 := model.NewCluster(16)
	store2.SetCluster(c2)
	actor2 := NewActor(store2)
	diffs2, err := actor2.Load()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	applyAll(t, c2, actor2, diffs2)

	if got := actor2.CorruptedFileDiffs(); len(got) != 0 {
		t.Fatalf("expected no corrupted files on reload, got %d", len(got))
	}
}

// TestMarkUnreachablePersistsAcrossRestart guards against the flag being
// applied in memory and then silently dropped on reload because the
// journaling or row encoding it depends on was never wired up.
func TestMarkUnreachablePersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()

	store, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	fi := model.NewFolderInfo("docs", model.DeviceKey{1})
	if err := store.PutFolderInfo(fi); err != nil {
		t.Fatalf("put folder-info: %v", err)
	}

	f := &model.FileInfo{
		ID:     model.FileInfoID{1},
		Name:   "a.txt",
		Size:   4,
		Blocks: []model.BlockRef{{Hash: model.BlockKey{0xAA}, Size: 4}},
	}
	if err := store.PutFileInfo(fi.ID, f); err != nil {
		t.Fatalf("put file-info: %v", err)
	}
	if err := store.PutBlockInfo(model.BlockKey{0xAA}, 4, 0); err != nil {
		t.Fatalf("put block info: %v", err)
	}

	c := model.NewCluster(16)
	store.SetCluster(c)
	actor := NewActor(store)

	diffs, err := actor.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	applyAll(t, c, actor, diffs)

	if _, ok := c.FolderInfoByID(fi.ID); !ok {
		t.Fatal("folder-info should have loaded")
	}

	applyAll(t, c, actor, []model.Diff{model.NewMarkUnreachable(fi.ID, f.ID)})

	if err := actor.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	store2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store2.Close()

	c2 := model.NewCluster(16)
	store2.SetCluster(c2)
	actor2 := NewActor(store2)
	diffs2, err := actor2.Load()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	applyAll(t, c2, actor2, diffs2)

	loadedFI2, ok := c2.FolderInfoByID(fi.ID)
	if !ok {
		t.Fatal("folder-info should have reloaded")
	}
	reloaded, ok := loadedFI2.FileByID(f.ID)
	if !ok {
		t.Fatal("file-info should have reloaded")
	}
	if !reloaded.Unreachable {
		t.Fatal("expected Unreachable to survive a restart")
	}
}

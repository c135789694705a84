// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package model

import (
	"testing"

	"github.com/syncspirit/syncspirit-go/lib/protocol"
)

func TestAdvanceRemoteCopyInstallsFileAndBumpsSequence(t *testing.T) {
	c := newTestCluster()
	dev := NewDevice(DeviceKey{1}, "peer")
	c.putDevice(dev)
	fi := NewFolderInfo("docs", dev.ID)
	c.putFolderInfo(fi)

	hash := BlockKeyFromBytes([]byte{1})
	f := &FileInfo{Name: "a.txt", Size: 4, Blocks: []BlockRef{{Size: 4, Hash: hash}}, Version: vec(1, 1)}

	d := NewAdvance(c, fi.ID, ActionRemoteCopy, f, NilFileInfoID, nil)
	if err := ApplyDiff(c, NopApplyController{}, d); err != nil {
		t.Fatalf("advance: %v", err)
	}

	got, ok := fi.FileByName("a.txt")
	if !ok {
		t.Fatal("file not installed")
	}
	if !got.LocallyAvailable {
		t.Fatal("expected LocallyAvailable to be set")
	}
	if got.Sequence != 1 {
		t.Fatalf("got sequence %d, want 1", got.Sequence)
	}
	if fi.MaxSequence != 1 {
		t.Fatalf("got max_sequence %d, want 1", fi.MaxSequence)
	}
	if !c.HasBlockAnywhere(hash) {
		t.Fatal("expected block to be registered")
	}
}

func TestAdvanceReleasesOrphanedBlocks(t *testing.T) {
	c := newTestCluster()
	dev := NewDevice(DeviceKey{1}, "peer")
	c.putDevice(dev)
	fi := NewFolderInfo("docs", dev.ID)
	c.putFolderInfo(fi)

	oldHash := BlockKeyFromBytes([]byte{1})
	old := &FileInfo{ID: NewFileInfoID(), Name: "a.txt", Size: 4, Blocks: []BlockRef{{Size: 4, Hash: oldHash}}, Version: vec(1, 1)}
	if err := ApplyDiff(c, NopApplyController{}, NewAddBlocks([]BlockRef{{Size: 4, Hash: oldHash}})); err != nil {
		t.Fatalf("add_blocks: %v", err)
	}
	fi.putFile(old)

	newHash := BlockKeyFromBytes([]byte{2})
	newFile := &FileInfo{Name: "a.txt", Size: 4, Blocks: []BlockRef{{Size: 4, Hash: newHash}}, Version: vec(1, 2)}

	d := NewAdvance(c, fi.ID, ActionRemoteCopy, newFile, old.ID, nil)
	if err := ApplyDiff(c, NopApplyController{}, d); err != nil {
		t.Fatalf("advance: %v", err)
	}

	if c.HasBlockAnywhere(oldHash) {
		t.Fatal("old block should have been released")
	}
	if !c.HasBlockAnywhere(newHash) {
		t.Fatal("new block should be registered")
	}
}

func TestUpdateFolderRejectsStaleSequence(t *testing.T) {
	c := newTestCluster()
	dev := NewDevice(DeviceKey{1}, "peer")
	c.putDevice(dev)
	fi := NewFolderInfo("docs", dev.ID)
	fi.MaxSequence = 5
	c.putFolderInfo(fi)

	wire := []protocol.FileInfo{{Name: "a.txt", Sequence: 3, Version: vec(1, 1)}}
	if _, err := NewUpdateFolder(c, fi.ID, wire); err == nil {
		t.Fatal("expected stale sequence to be rejected")
	}
}

func TestUpdateFolderAcceptsIdempotentResend(t *testing.T) {
	c := newTestCluster()
	dev := NewDevice(DeviceKey{1}, "peer")
	c.putDevice(dev)
	fi := NewFolderInfo("docs", dev.ID)
	c.putFolderInfo(fi)

	wire := []protocol.FileInfo{{Name: "a.txt", Size: 0, Sequence: 1, Version: vec(1, 1)}}
	d, err := NewUpdateFolder(c, fi.ID, wire)
	if err != nil {
		t.Fatalf("update_folder: %v", err)
	}
	if err := ApplyDiff(c, NopApplyController{}, d); err != nil {
		t.Fatalf("apply: %v", err)
	}

	// Resend the identical row at the same sequence: must not error.
	d2, err := NewUpdateFolder(c, fi.ID, wire)
	if err != nil {
		t.Fatalf("expected idempotent resend to be accepted, got error: %v", err)
	}
	if err := ApplyDiff(c, NopApplyController{}, d2); err != nil {
		t.Fatalf("apply resend: %v", err)
	}
}

func TestUpdateFolderDedupsByNameKeepingLast(t *testing.T) {
	c := newTestCluster()
	dev := NewDevice(DeviceKey{1}, "peer")
	c.putDevice(dev)
	fi := NewFolderInfo("docs", dev.ID)
	c.putFolderInfo(fi)

	wire := []protocol.FileInfo{
		{Name: "a.txt", Size: 0, Sequence: 1, Version: vec(1, 1)},
		{Name: "a.txt", Size: 0, Sequence: 2, Version: vec(1, 2)},
	}
	d, err := NewUpdateFolder(c, fi.ID, wire)
	if err != nil {
		t.Fatalf("update_folder: %v", err)
	}
	if len(d.Files) != 1 {
		t.Fatalf("got %d files, want 1 (dedup by name)", len(d.Files))
	}
	if d.Files[0].Sequence != 2 {
		t.Fatalf("got sequence %d, want 2 (last occurrence wins)", d.Files[0].Sequence)
	}
}

func TestMarkUnreachableFlagsFile(t *testing.T) {
	c := newTestCluster()
	dev := NewDevice(DeviceKey{1}, "peer")
	c.putDevice(dev)
	fi := NewFolderInfo("docs", dev.ID)
	c.putFolderInfo(fi)

	f := &FileInfo{ID: NewFileInfoID(), Name: "a.txt", Size: 4, Blocks: []BlockRef{{Size: 4, Hash: BlockKeyFromBytes([]byte{1})}}, Version: vec(1, 1)}
	fi.putFile(f)

	d := NewMarkUnreachable(fi.ID, f.ID)
	if err := ApplyDiff(c, NopApplyController{}, d); err != nil {
		t.Fatalf("mark_unreachable: %v", err)
	}

	got, ok := fi.FileByID(f.ID)
	if !ok {
		t.Fatal("file missing after mark_unreachable")
	}
	if !got.Unreachable {
		t.Fatal("expected Unreachable to be set")
	}
}

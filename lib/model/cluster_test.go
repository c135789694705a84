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

func newTestCluster() *Cluster { return NewCluster(16) }

func TestAddRemoveDevice(t *testing.T) {
	c := newTestCluster()
	dev := NewDevice(protocol.DeviceID{1, 2, 3}, "laptop")

	if err := ApplyDiff(c, NopApplyController{}, NewAddDevice(dev)); err != nil {
		t.Fatalf("add_device: %v", err)
	}
	if _, ok := c.Device(dev.ID); !ok {
		t.Fatal("device not present after add_device")
	}

	if err := ApplyDiff(c, NopApplyController{}, NewRemoveDevice(c, dev.ID)); err != nil {
		t.Fatalf("remove_device: %v", err)
	}
	if _, ok := c.Device(dev.ID); ok {
		t.Fatal("device still present after remove_device")
	}
}

func TestRemoveDeviceCascadesFolderInfo(t *testing.T) {
	c := newTestCluster()
	dev := NewDevice(protocol.DeviceID{1}, "peer")
	c.putDevice(dev)

	fi := NewFolderInfo("photos", dev.ID)
	if err := ApplyDiff(c, NopApplyController{}, NewUpsertFolderInfo(fi)); err != nil {
		t.Fatalf("upsert_folder_info: %v", err)
	}
	if _, ok := c.FolderInfo("photos", dev.ID); !ok {
		t.Fatal("folder-info missing after upsert")
	}

	if err := ApplyDiff(c, NopApplyController{}, NewRemoveDevice(c, dev.ID)); err != nil {
		t.Fatalf("remove_device: %v", err)
	}
	if _, ok := c.FolderInfo("photos", dev.ID); ok {
		t.Fatal("folder-info survived device removal")
	}
	if _, ok := c.FolderInfoByID(fi.ID); ok {
		t.Fatal("folder-info survived device removal (by id)")
	}
}

func TestRemoveFolderInfoGarbageCollectsBlocks(t *testing.T) {
	c := newTestCluster()
	dev := NewDevice(protocol.DeviceID{1}, "peer")
	c.putDevice(dev)
	fi := NewFolderInfo("docs", dev.ID)
	c.putFolderInfo(fi)

	hash := BlockKey{0xAA}
	f := &FileInfo{ID: NewFileInfoID(), Name: "a.txt", Size: 4, Blocks: []BlockRef{{Size: 4, Hash: hash}}}
	if err := ApplyDiff(c, NopApplyController{}, NewAddBlocks([]BlockRef{{Size: 4, Hash: hash}})); err != nil {
		t.Fatalf("add_blocks: %v", err)
	}
	fi.putFile(f)

	if !c.HasBlockAnywhere(hash) {
		t.Fatal("block should be present after add_blocks")
	}

	if err := ApplyDiff(c, NopApplyController{}, NewRemoveFolderInfo(fi.ID)); err != nil {
		t.Fatalf("remove_folder_info: %v", err)
	}
	if c.HasBlockAnywhere(hash) {
		t.Fatal("block should have been garbage collected")
	}
}

func TestTaintedClusterRejectsFurtherApply(t *testing.T) {
	c := newTestCluster()
	// RemoveFolderInfo against an id that was never inserted is a no-op in
	// our Apply (it just journals), so force a failure via UpdateFolder
	// against an unknown folder-info instead.
	bad := &UpdateFolder{FolderInfoID: NewFolderInfoID()}
	if err := ApplyDiff(c, NopApplyController{}, bad); err == nil {
		t.Fatal("expected apply against unknown folder-info to fail")
	}
	if !c.Tainted() {
		t.Fatal("cluster should be tainted after a failed apply")
	}

	err := ApplyDiff(c, NopApplyController{}, NewAddDevice(NewDevice(protocol.DeviceID{9}, "x")))
	if err == nil {
		t.Fatal("tainted cluster must reject further applies")
	}
	if _, ok := c.Device(protocol.DeviceID{9}); ok {
		t.Fatal("tainted cluster must not have applied the second diff")
	}
}

func TestWriteRequestBudget(t *testing.T) {
	c := NewCluster(2)
	if !c.TryAcquireWrite() {
		t.Fatal("expected first acquire to succeed")
	}
	if !c.TryAcquireWrite() {
		t.Fatal("expected second acquire to succeed")
	}
	if c.TryAcquireWrite() {
		t.Fatal("expected third acquire to fail, budget exhausted")
	}
	c.ReleaseWrite()
	if !c.TryAcquireWrite() {
		t.Fatal("expected acquire to succeed after release")
	}
}

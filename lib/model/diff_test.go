// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package model

import (
	"context"
	"testing"
)

type orderVisitor struct {
	NopVisitor
	order []string
}

func (v *orderVisitor) VisitAddDevice(d *AddDevice, ctx context.Context) error {
	v.order = append(v.order, "add_device:"+d.Device.Name)
	return nil
}

func (v *orderVisitor) VisitAddBlocks(d *AddBlocks, ctx context.Context) error {
	v.order = append(v.order, "add_blocks")
	return nil
}

func TestChainVisitsChildBeforeSibling(t *testing.T) {
	a := NewAddDevice(NewDevice(DeviceKey{1}, "a"))
	a.SetChild(NewAddBlocks(nil))
	b := NewAddDevice(NewDevice(DeviceKey{2}, "b"))
	head := chain(a, b)

	v := &orderVisitor{}
	if err := head.Visit(v, context.Background()); err != nil {
		t.Fatalf("visit: %v", err)
	}

	want := []string{"add_device:a", "add_blocks", "add_device:b"}
	if len(v.order) != len(want) {
		t.Fatalf("got %v, want %v", v.order, want)
	}
	for i := range want {
		if v.order[i] != want[i] {
			t.Fatalf("got %v, want %v", v.order, want)
		}
	}
}

func TestChainSkipsNils(t *testing.T) {
	a := NewAddDevice(NewDevice(DeviceKey{1}, "a"))
	head := chain(nil, a, nil)
	if head != Diff(a) {
		t.Fatalf("chain should skip nils and return the sole non-nil diff")
	}
	if head.Sibling() != nil {
		t.Fatal("a lone diff after nil-filtering should have no sibling")
	}
}

func TestChainAllNilsReturnsNil(t *testing.T) {
	if chain(nil, nil) != nil {
		t.Fatal("chain of only nils must return nil")
	}
}

func TestPeerClusterUpdateOrdering(t *testing.T) {
	c := newTestCluster()
	dev := NewDevice(DeviceKey{1}, "peer")
	c.putDevice(dev)

	// peer shares "docs" but we've lost the folder-info -> reshare; peer
	// also advertises "extra" which we don't share at all -> pending.
	adverts := []PeerFolderAdvert{
		{FolderID: "docs", IndexID: 7, WeShare: true},
		{FolderID: "extra", Label: "Extra", WeShare: false},
	}
	d := NewPeerClusterUpdate(c, dev.ID, adverts)

	if err := ApplyDiff(c, NopApplyController{}, d); err != nil {
		t.Fatalf("apply peer_cluster_update: %v", err)
	}
	if _, ok := c.FolderInfo("docs", dev.ID); !ok {
		t.Fatal("expected docs folder-info to be reshared")
	}
	if _, ok := c.PendingFolder("extra"); !ok {
		t.Fatal("expected extra to show up as a pending folder")
	}
}

func TestPeerClusterUpdateResetsOnIndexIDChange(t *testing.T) {
	c := newTestCluster()
	dev := NewDevice(DeviceKey{1}, "peer")
	c.putDevice(dev)
	fi := NewFolderInfo("docs", dev.ID)
	fi.IndexID = 1
	c.putFolderInfo(fi)

	adverts := []PeerFolderAdvert{{FolderID: "docs", IndexID: 2, WeShare: true}}
	d := NewPeerClusterUpdate(c, dev.ID, adverts)
	if err := ApplyDiff(c, NopApplyController{}, d); err != nil {
		t.Fatalf("apply: %v", err)
	}

	got, ok := c.FolderInfo("docs", dev.ID)
	if !ok {
		t.Fatal("folder-info should still exist after reset")
	}
	if got.ID == fi.ID {
		t.Fatal("reset should replace the folder-info with a fresh one")
	}
	if got.IndexID != 2 {
		t.Fatalf("got index id %d, want 2", got.IndexID)
	}
}

func TestPeerClusterUpdateRemovesStaleFolderInfoNotReconfirmed(t *testing.T) {
	c := newTestCluster()
	dev := NewDevice(DeviceKey{1}, "peer")
	c.putDevice(dev)

	docs := NewFolderInfo("docs", dev.ID)
	c.putFolderInfo(docs)
	photos := NewFolderInfo("photos", dev.ID)
	photos.putFile(&FileInfo{ID: FileInfoID{1}, Name: "a.jpg", Blocks: []BlockRef{{Hash: BlockKey{9}}}})
	c.putFolderInfo(photos)
	c.addBlockRef(BlockKey{9}, 1024, 0)

	// The peer's new ClusterConfig only mentions "docs"; "photos" has
	// dropped off entirely, meaning the peer stopped sharing it with us.
	adverts := []PeerFolderAdvert{{FolderID: "docs", IndexID: 0, WeShare: true}}
	d := NewPeerClusterUpdate(c, dev.ID, adverts)
	if err := ApplyDiff(c, NopApplyController{}, d); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if _, ok := c.FolderInfo("docs", dev.ID); !ok {
		t.Fatal("docs folder-info should be unaffected")
	}
	if _, ok := c.FolderInfoByID(photos.ID); ok {
		t.Fatal("photos folder-info should have been removed as stale")
	}
	if _, ok := c.Block(BlockKey{9}); ok {
		t.Fatal("photos' sole block should have been garbage collected")
	}
}

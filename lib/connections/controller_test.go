// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package connections

import (
	"net"
	"testing"

	"github.com/syncspirit/syncspirit-go/lib/fs"
	"github.com/syncspirit/syncspirit-go/lib/hasher"
	"github.com/syncspirit/syncspirit-go/lib/model"
	"github.com/syncspirit/syncspirit-go/lib/protocol"
)

func testDeviceID(b byte) model.DeviceKey {
	var id model.DeviceKey
	id[0] = b
	return id
}

func newTestController(t *testing.T, maxWrites int) *Controller {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() { a.Close(); b.Close() })

	cluster := model.NewCluster(maxWrites)
	pool := hasher.NewPool(1)
	t.Cleanup(pool.Stop)

	deps := Deps{
		Cluster:       cluster,
		Apply:         func(d model.Diff) error { return model.ApplyDiff(cluster, model.NopApplyController{}, d) },
		FS:            fs.NewService(false),
		Hasher:        pool,
		LocalDeviceID: testDeviceID(1),
	}
	return New(deps, a, testDeviceID(2), true, model.TransportTCP)
}

func TestMaxInboundReadsScalesWithDefaults(t *testing.T) {
	c := newTestController(t, 4)
	if got, want := c.maxInboundReads(), int(maxBlocksRequestedDefault*txFactorDefault); got != want {
		t.Fatalf("maxInboundReads() = %d, want %d", got, want)
	}
}

func TestMaxInboundReadsNeverZero(t *testing.T) {
	c := newTestController(t, 4)
	c.MaxBlocksRequested = 0
	c.TxFactor = 0
	if got := c.maxInboundReads(); got < 1 {
		t.Fatalf("maxInboundReads() = %d, want >= 1", got)
	}
}

func TestConflictNameKeepsExtension(t *testing.T) {
	got := conflictName("report.txt", "ABCDEF")
	if !hasPrefixAndSuffix(got, "report.sync-conflict-", "-ABCDEF.txt") {
		t.Fatalf("conflictName(%q) = %q, want sync-conflict wrapper around the base name", "report.txt", got)
	}
}

func TestConflictNameWithoutExtension(t *testing.T) {
	got := conflictName("README", "ABCDEF")
	if !hasPrefixAndSuffix(got, "README.sync-conflict-", "-ABCDEF") {
		t.Fatalf("conflictName(%q) = %q, want sync-conflict wrapper with no trailing extension", "README", got)
	}
}

func hasPrefixAndSuffix(s, prefix, suffix string) bool {
	if len(s) < len(prefix)+len(suffix) {
		return false
	}
	return s[:len(prefix)] == prefix && s[len(s)-len(suffix):] == suffix
}

func TestPerformWriteRunsImmediatelyWhenSlotAvailable(t *testing.T) {
	c := newTestController(t, 1)
	ran := false
	if err := c.performWrite(func() error { ran = true; return nil }); err != nil {
		t.Fatalf("performWrite: %v", err)
	}
	if !ran {
		t.Fatal("op should have run synchronously when a write slot was free")
	}
	if !c.Cluster.TryAcquireWrite() {
		t.Fatal("slot should have been released back after a successful write")
	}
	c.Cluster.ReleaseWrite()
}

func TestPerformWriteQueuesWhenNoSlotAvailable(t *testing.T) {
	c := newTestController(t, 1)
	if !c.Cluster.TryAcquireWrite() {
		t.Fatal("expected to acquire the only slot")
	}

	ran := false
	err := c.performWrite(func() error { ran = true; return nil })
	if err != errWriteQueued {
		t.Fatalf("performWrite error = %v, want errWriteQueued", err)
	}
	if ran {
		t.Fatal("op must not run while no write slot is available")
	}
	if len(c.writeQueue) != 1 {
		t.Fatalf("writeQueue len = %d, want 1", len(c.writeQueue))
	}

	c.Cluster.ReleaseWrite()
	c.drainWriteQueue()
	if !ran {
		t.Fatal("drainWriteQueue should have run the queued op once a slot freed up")
	}
	if len(c.writeQueue) != 0 {
		t.Fatalf("writeQueue len after drain = %d, want 0", len(c.writeQueue))
	}
}

func TestDrainWriteQueueStopsAtFirstStillBlockedEntry(t *testing.T) {
	c := newTestController(t, 1)
	if !c.Cluster.TryAcquireWrite() {
		t.Fatal("expected to acquire the only slot")
	}

	var order []int
	_ = c.performWrite(func() error { order = append(order, 1); return nil })
	_ = c.performWrite(func() error { order = append(order, 2); return nil })

	c.Cluster.ReleaseWrite()
	c.drainWriteQueue()

	if len(order) != 1 || order[0] != 1 {
		t.Fatalf("order = %v, want exactly the first queued op to run", order)
	}
	if len(c.writeQueue) != 1 {
		t.Fatalf("writeQueue len = %d, want 1 still-queued entry", len(c.writeQueue))
	}
}

func TestFindLocalBlockSourceFindsVerifiedContent(t *testing.T) {
	c := newTestController(t, 4)

	folder := model.NewFolder("f", "f", "/data/f")
	if err := model.ApplyDiff(c.Cluster, model.NopApplyController{}, model.NewUpsertFolder(folder)); err != nil {
		t.Fatalf("upsert folder: %v", err)
	}
	localFI := model.NewFolderInfo("f", c.LocalDeviceID)
	if err := model.ApplyDiff(c.Cluster, model.NopApplyController{}, model.NewUpsertFolderInfo(localFI)); err != nil {
		t.Fatalf("upsert folder-info: %v", err)
	}

	hash := model.BlockKeyFromBytes([]byte{1, 2, 3})
	nf := &model.FileInfo{
		Name:      "existing.bin",
		Type:      protocol.FileInfoTypeFile,
		Size:      4,
		BlockSize: 4,
		Blocks:    []model.BlockRef{{Offset: 0, Size: 4, Hash: hash}},
	}
	diff := model.NewAdvance(c.Cluster, localFI.ID, model.ActionRemoteCopy, nf, model.NilFileInfoID, nil)
	if err := model.ApplyDiff(c.Cluster, model.NopApplyController{}, diff); err != nil {
		t.Fatalf("advance: %v", err)
	}

	path, ok := c.findLocalBlockSource(hash)
	if !ok {
		t.Fatal("expected a local source for a block the local device already carries")
	}
	if want := "/data/f/existing.bin"; path != want {
		t.Fatalf("findLocalBlockSource path = %q, want %q", path, want)
	}

	if _, ok := c.findLocalBlockSource(model.BlockKeyFromBytes([]byte{9, 9, 9})); ok {
		t.Fatal("expected no local source for a hash never seen")
	}
}

func TestRequestRingCapacityAndDrain(t *testing.T) {
	r := newRequestRing(2)
	pr1 := &pendingRequest{fileName: "a"}
	pr2 := &pendingRequest{fileName: "b"}

	id1 := r.Add(pr1)
	if r.Full() {
		t.Fatal("ring should not be full after one of two slots used")
	}
	id2 := r.Add(pr2)
	if !r.Full() {
		t.Fatal("ring should be full once both slots are used")
	}
	if id1 == id2 {
		t.Fatalf("expected distinct ids, got %d twice", id1)
	}

	got, ok := r.Take(id1)
	if !ok || got != pr1 {
		t.Fatalf("Take(%d) = %v, %v, want pr1, true", id1, got, ok)
	}
	if r.Full() {
		t.Fatal("ring should have a free slot after Take")
	}
	if _, ok := r.Take(id1); ok {
		t.Fatal("Take should not find the same id twice")
	}

	remaining := r.Drain()
	if len(remaining) != 1 || remaining[0] != pr2 {
		t.Fatalf("Drain() = %v, want [pr2]", remaining)
	}
	if r.Len() != 0 {
		t.Fatalf("Len() after Drain = %d, want 0", r.Len())
	}
}

func TestManagerAdmitKeepsActiveOverPassiveSameTransport(t *testing.T) {
	m := NewManager()
	id := testDeviceID(3)

	passive := newTestController(t, 1)
	passive.passive = true
	active := newTestController(t, 1)
	active.passive = false

	if !m.Admit(id, passive.connState(), passive) {
		t.Fatal("first connection should always be admitted")
	}
	if !m.Admit(id, active.connState(), active) {
		t.Fatal("an active connection should supersede a passive one of the same transport")
	}
	if m.conns[id] != active {
		t.Fatal("manager should now track the active connection as current")
	}
}

func TestManagerAdmitRejectsWeakerChallenger(t *testing.T) {
	m := NewManager()
	id := testDeviceID(4)

	active := newTestController(t, 1)
	active.passive = false
	passive := newTestController(t, 1)
	passive.passive = true

	if !m.Admit(id, active.connState(), active) {
		t.Fatal("first connection should always be admitted")
	}
	if m.Admit(id, passive.connState(), passive) {
		t.Fatal("a passive challenger should not unseat an active incumbent")
	}
	if m.conns[id] != active {
		t.Fatal("incumbent should remain current after losing challenger is rejected")
	}
}

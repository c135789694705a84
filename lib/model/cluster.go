// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package model

import (
	"encoding/binary"
	"fmt"

	"github.com/greatroar/blobloom"

	"github.com/syncspirit/syncspirit-go/lib/logger"
)

// blockFilterCapacity and blockFilterFPRate size the dedup pre-filter
// below; chosen the same way the teacher's own indirect-GC bloom filter
// is (a round capacity good for a first pass, 1% false positives).
const (
	blockFilterCapacity = 100000
	blockFilterFPRate   = 0.01
	blockFilterMaxBytes = 1 << 20
)

var l = logger.New("model")

// TaintedError is returned by ApplyDiff once a prior diff application
// has failed; the cluster rejects all further mutation until restart
// (spec.md §4.1 "Failure discipline").
type TaintedError struct {
	Diff string
}

func (e *TaintedError) Error() string {
	return fmt.Sprintf("cluster tainted by failed diff %q; restart required", e.Diff)
}

// Cluster is the single in-process authoritative model of devices, folders,
// files and blocks (spec.md §2, §4.2). All mutation flows through
// Diff.Apply; Cluster itself never mutates outside of that call path.
type Cluster struct {
	devicesByKey map[DeviceKey]*Device

	foldersByID map[string]*Folder

	// folderInfosByKey maps (folderID, deviceID) -> FolderInfo, enforcing
	// the at-most-one invariant from spec.md §3.
	folderInfosByKey map[folderDeviceKey]*FolderInfo
	folderInfosByID  map[FolderInfoID]*FolderInfo

	blocksByHash map[BlockKey]*Block
	// blockFilter is a cheap probabilistic pre-check in front of
	// blocksByHash for "does any file already have block H" (spec.md §8
	// dedup scenario 4): every hash ever added is also added here, so a
	// filter miss is a guaranteed absence and a hit falls through to the
	// exact map lookup. Never cleared on removal, so it only ever grows
	// more conservative, which is fine for a fast-negative filter.
	blockFilter *blobloom.Filter

	ignoredDevices map[DeviceKey]*IgnoredDevice
	pendingDevices map[DeviceKey]*PendingDevice
	ignoredFolders map[string]*IgnoredFolder
	pendingFolders map[string]*PendingFolder

	// writeRequests is the write-request counter from spec.md §4.2: it
	// caps concurrent block writes in flight across all peer controllers.
	writeRequests int

	tainted    bool
	taintedErr *TaintedError
}

type folderDeviceKey struct {
	folderID string
	deviceID DeviceKey
}

// PendingFolder is a folder a peer announced but we are not sharing
// (spec.md §3 "Pending folder").
type PendingFolder struct {
	ID       string
	Label    string
	DeviceID DeviceKey
}

// NewCluster constructs an empty cluster with a given write-request budget
// (spec.md §4.2, §4.4 "Write budget").
func NewCluster(maxWriteRequests int) *Cluster {
	return &Cluster{
		devicesByKey:     make(map[DeviceKey]*Device),
		foldersByID:      make(map[string]*Folder),
		folderInfosByKey: make(map[folderDeviceKey]*FolderInfo),
		folderInfosByID:  make(map[FolderInfoID]*FolderInfo),
		blocksByHash:     make(map[BlockKey]*Block),
		blockFilter: blobloom.NewOptimized(blobloom.Config{
			Capacity: blockFilterCapacity,
			FPRate:   blockFilterFPRate,
			MaxBits:  8 * blockFilterMaxBytes,
		}),
		ignoredDevices:   make(map[DeviceKey]*IgnoredDevice),
		pendingDevices:   make(map[DeviceKey]*PendingDevice),
		ignoredFolders:   make(map[string]*IgnoredFolder),
		pendingFolders:   make(map[string]*PendingFolder),
		writeRequests:    maxWriteRequests,
	}
}

func (c *Cluster) Tainted() bool { return c.tainted }

func (c *Cluster) taint(diffName string) {
	c.tainted = true
	c.taintedErr = &TaintedError{Diff: diffName}
}

// --- devices ---

func (c *Cluster) Device(id DeviceKey) (*Device, bool) {
	d, ok := c.devicesByKey[id]
	return d, ok
}

func (c *Cluster) Devices() []*Device {
	out := make([]*Device, 0, len(c.devicesByKey))
	for _, d := range c.devicesByKey {
		out = append(out, d)
	}
	return out
}

func (c *Cluster) putDevice(d *Device) { c.devicesByKey[d.ID] = d }

func (c *Cluster) removeDevice(id DeviceKey) {
	delete(c.devicesByKey, id)
}

// --- folders ---

func (c *Cluster) Folder(id string) (*Folder, bool) {
	f, ok := c.foldersByID[id]
	return f, ok
}

func (c *Cluster) Folders() []*Folder {
	out := make([]*Folder, 0, len(c.foldersByID))
	for _, f := range c.foldersByID {
		out = append(out, f)
	}
	return out
}

func (c *Cluster) putFolder(f *Folder) { c.foldersByID[f.ID] = f }

func (c *Cluster) removeFolder(id string) { delete(c.foldersByID, id) }

// --- folder-infos ---

func (c *Cluster) FolderInfo(folderID string, deviceID DeviceKey) (*FolderInfo, bool) {
	fi, ok := c.folderInfosByKey[folderDeviceKey{folderID, deviceID}]
	return fi, ok
}

func (c *Cluster) FolderInfoByID(id FolderInfoID) (*FolderInfo, bool) {
	fi, ok := c.folderInfosByID[id]
	return fi, ok
}

func (c *Cluster) FolderInfosForFolder(folderID string) []*FolderInfo {
	var out []*FolderInfo
	for _, fi := range c.folderInfosByID {
		if fi.FolderID == folderID {
			out = append(out, fi)
		}
	}
	return out
}

func (c *Cluster) FolderInfosForDevice(deviceID DeviceKey) []*FolderInfo {
	var out []*FolderInfo
	if d, ok := c.devicesByKey[deviceID]; ok {
		for id := range d.RemoteFolderInfos {
			if fi, ok := c.folderInfosByID[id]; ok {
				out = append(out, fi)
			}
		}
	}
	return out
}

func (c *Cluster) putFolderInfo(fi *FolderInfo) {
	c.folderInfosByKey[folderDeviceKey{fi.FolderID, fi.DeviceID}] = fi
	c.folderInfosByID[fi.ID] = fi
	if d, ok := c.devicesByKey[fi.DeviceID]; ok {
		d.RemoteFolderInfos[fi.ID] = struct{}{}
	}
}

func (c *Cluster) removeFolderInfo(id FolderInfoID) (*FolderInfo, bool) {
	fi, ok := c.folderInfosByID[id]
	if !ok {
		return nil, false
	}
	delete(c.folderInfosByID, id)
	delete(c.folderInfosByKey, folderDeviceKey{fi.FolderID, fi.DeviceID})
	if d, ok := c.devicesByKey[fi.DeviceID]; ok {
		delete(d.RemoteFolderInfos, id)
	}
	return fi, true
}

// --- blocks ---

func (c *Cluster) Block(hash BlockKey) (*Block, bool) {
	b, ok := c.blocksByHash[hash]
	return b, ok
}

// HasBlockAnywhere reports whether any file-info in the cluster already
// references this block, the dedup check behind spec.md §8 scenario 4. The
// bloom filter rules out the common case (block never seen) without a map
// lookup; a filter hit still falls through to the exact refCount check.
func (c *Cluster) HasBlockAnywhere(hash BlockKey) bool {
	if !c.blockFilter.Has(blockFilterHash(hash)) {
		return false
	}
	b, ok := c.blocksByHash[hash]
	return ok && b.refCount > 0
}

func (c *Cluster) addBlockRef(hash BlockKey, size int32, weak uint32) {
	b, ok := c.blocksByHash[hash]
	if !ok {
		b = &Block{Hash: hash, Size: size, WeakHash: weak}
		c.blocksByHash[hash] = b
		c.blockFilter.Add(blockFilterHash(hash))
	}
	b.refCount++
}

// blockFilterHash folds a block's sha256 digest down to the uint64 blobloom
// wants, the same first-eight-bytes convention the teacher's indirect-GC
// bloom filter uses for its own sha256-keyed entries.
func blockFilterHash(hash BlockKey) uint64 {
	return binary.BigEndian.Uint64(hash[:8])
}

func (c *Cluster) removeBlockRef(hash BlockKey) {
	b, ok := c.blocksByHash[hash]
	if !ok {
		return
	}
	b.refCount--
	if b.refCount <= 0 {
		delete(c.blocksByHash, hash)
	}
}

// --- ignored/pending devices and folders ---

func (c *Cluster) IgnoredDevice(id DeviceKey) (*IgnoredDevice, bool) {
	d, ok := c.ignoredDevices[id]
	return d, ok
}

func (c *Cluster) PendingDevice(id DeviceKey) (*PendingDevice, bool) {
	d, ok := c.pendingDevices[id]
	return d, ok
}

func (c *Cluster) PendingFolder(id string) (*PendingFolder, bool) {
	f, ok := c.pendingFolders[id]
	return f, ok
}

func (c *Cluster) IgnoredFolder(id string) (*IgnoredFolder, bool) {
	f, ok := c.ignoredFolders[id]
	return f, ok
}

func (c *Cluster) putIgnoredDevice(d *IgnoredDevice) { c.ignoredDevices[d.ID] = d }
func (c *Cluster) putPendingDevice(d *PendingDevice) { c.pendingDevices[d.ID] = d }
func (c *Cluster) putPendingFolder(f *PendingFolder) { c.pendingFolders[f.ID] = f }
func (c *Cluster) putIgnoredFolder(f *IgnoredFolder) { c.ignoredFolders[f.ID] = f }
func (c *Cluster) removePendingFolder(id string)     { delete(c.pendingFolders, id) }
func (c *Cluster) removePendingDevice(id DeviceKey)  { delete(c.pendingDevices, id) }
func (c *Cluster) removeIgnoredDevice(id DeviceKey)  { delete(c.ignoredDevices, id) }
func (c *Cluster) removeIgnoredFolder(id string)     { delete(c.ignoredFolders, id) }

// --- write-request back-pressure (spec.md §4.2, §4.4) ---

// TryAcquireWrite decrements the write-request counter and reports whether
// a slot was available. Must only be called from the coordinator.
func (c *Cluster) TryAcquireWrite() bool {
	if c.writeRequests <= 0 {
		return false
	}
	c.writeRequests--
	return true
}

// ReleaseWrite increments the write-request counter back, called on block
// acknowledgement.
func (c *Cluster) ReleaseWrite() {
	c.writeRequests++
}

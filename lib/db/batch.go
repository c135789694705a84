// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package db

import (
	"github.com/syncspirit/syncspirit-go/lib/model"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// leveldbBatch accumulates the KV writes implied by a run of journaled
// diffs and flushes them as one goleveldb batch write (spec.md §4.3:
// "writes group by original model-update message").
type leveldbBatch struct {
	store *Store
	b     *leveldb.Batch
}

func newLeveldbBatch(store *Store) *leveldbBatch {
	return &leveldbBatch{store: store, b: new(leveldb.Batch)}
}

func (lb *leveldbBatch) flush() error {
	if err := lb.store.ldb.Write(lb.b, nil); err != nil {
		return err
	}
	lb.b.Reset()
	return nil
}

// stage dispatches on the diff's concrete type and appends the rows it
// implies to the pending batch. Diffs with no direct storage
// representation (composites, Interrupt, LoadCommit, the bootstrap load_*
// rows already on disk) are no-ops here.
func (lb *leveldbBatch) stage(d model.Diff) error {
	switch v := d.(type) {
	case *model.UpsertFolder:
		return lb.putFolder(v.Folder)
	case *model.RemoveFolder:
		lb.b.Delete(folderKey(v.FolderID))
		return nil
	case *model.UpsertFolderInfo:
		return lb.putFolderInfo(v.FolderInfo)
	case *model.ReshareFolderInfo:
		return lb.putFolderInfo(v.FolderInfo)
	case *model.RemoveFolderInfo:
		if err := lb.removeFolderInfo(v.FolderInfoID); err != nil {
			return err
		}
		return lb.maybeRemoveBlocks(v.ReleasedHashes)
	case *model.AddPendingFolder:
		return lb.putPendingFolder(v.Folder)
	case *model.RemovePendingFolder:
		lb.b.Delete(pendingFolderKey(v.FolderID))
		return nil
	case *model.AddBlocks:
		return lb.putBlocks(v.Blocks)
	case *model.RemoveBlocks:
		return lb.maybeRemoveBlocks(v.Hashes)
	case *model.Advance:
		return lb.applyAdvance(v)
	case *model.UpdateFolder:
		return lb.applyUpdateFolder(v)
	case *model.BlockAck:
		return lb.rewriteFile(v.FolderInfoID, v.FileID)
	case *model.MarkUnreachable:
		return lb.rewriteFile(v.FolderInfoID, v.FileID)
	case *model.AddDevice:
		return lb.putDevice(v.Device.ID)
	case *model.RemoveDevice:
		lb.b.Delete(deviceKey(v.DeviceID))
		return nil
	case *model.PeerState:
		return lb.putDevice(v.DeviceID)
	case *model.UpdateDeviceContact:
		return lb.putDevice(v.DeviceID)
	case *model.AddPendingDevice:
		return lb.putPendingDevice(v.Device)
	case *model.RemoveCorruptedFiles:
		for _, id := range v.FileIDs {
			lb.b.Delete(fileInfoKey(v.FolderInfoID, id))
		}
		return nil
	case *model.ScanFinished:
		return lb.putFolderByID(v.FolderID)
	default:
		// IOFailure, LoadCommit, Interrupt, PeerClusterUpdate, and the
		// unexported load_* rows emitted by BuildLoadSequence all carry
		// no direct row of their own (IOFailure is surfaced to the UI,
		// not stored).
		return nil
	}
}

func (lb *leveldbBatch) putFolder(f *model.Folder) error {
	row, err := encodeFolderRow(f)
	if err != nil {
		return err
	}
	lb.b.Put(folderKey(f.ID), row)
	return nil
}

func (lb *leveldbBatch) putFolderByID(id string) error {
	f, ok := lb.store.cluster.Folder(id)
	if !ok {
		return nil
	}
	return lb.putFolder(f)
}

func (lb *leveldbBatch) putFolderInfo(fi *model.FolderInfo) error {
	row, err := encodeFolderInfoRow(fi)
	if err != nil {
		return err
	}
	row, err = prependFolderInfoHeader(fi, row)
	if err != nil {
		return err
	}
	lb.b.Put(folderInfoKey(fi.ID), row)
	return nil
}

func (lb *leveldbBatch) putFolderInfoByID(id model.FolderInfoID) error {
	fi, ok := lb.store.cluster.FolderInfoByID(id)
	if !ok {
		return nil
	}
	return lb.putFolderInfo(fi)
}

func (lb *leveldbBatch) removeFolderInfo(id model.FolderInfoID) error {
	lb.b.Delete(folderInfoKey(id))
	it := lb.store.ldb.NewIterator(util.BytesPrefix(fileInfoPrefix(id)), nil)
	defer it.Release()
	for it.Next() {
		lb.b.Delete(append([]byte(nil), it.Key()...))
	}
	return it.Error()
}

func (lb *leveldbBatch) putPendingFolder(f *model.PendingFolder) error {
	row, err := encodePendingFolderRow(f)
	if err != nil {
		return err
	}
	lb.b.Put(pendingFolderKey(f.ID), row)
	return nil
}

func (lb *leveldbBatch) putBlocks(blocks []model.BlockRef) error {
	for _, br := range blocks {
		row, err := encodeBlockInfoRow(br.Size, br.WeakHash)
		if err != nil {
			return err
		}
		lb.b.Put(blockInfoKey(br.Hash), row)
	}
	return nil
}

// maybeRemoveBlocks deletes a block row only if the cluster (whose refcount
// decrement already happened in the diff's own Apply, before Journal
// runs) reports no remaining owner, per spec.md §3 "Block" lifecycle.
func (lb *leveldbBatch) maybeRemoveBlocks(hashes []model.BlockKey) error {
	for _, h := range hashes {
		if !lb.store.cluster.HasBlockAnywhere(h) {
			lb.b.Delete(blockInfoKey(h))
		}
	}
	return nil
}

func (lb *leveldbBatch) putFile(folderInfoID model.FolderInfoID, f *model.FileInfo) error {
	row, err := encodeFileInfoRow(f)
	if err != nil {
		return err
	}
	lb.b.Put(fileInfoKey(folderInfoID, f.ID), row)
	return nil
}

func (lb *leveldbBatch) rewriteFile(folderInfoID model.FolderInfoID, fileID model.FileInfoID) error {
	fi, ok := lb.store.cluster.FolderInfoByID(folderInfoID)
	if !ok {
		return nil
	}
	f, ok := fi.FileByID(fileID)
	if !ok {
		return nil
	}
	return lb.putFile(folderInfoID, f)
}

func (lb *leveldbBatch) applyAdvance(v *model.Advance) error {
	if v.PriorID != model.NilFileInfoID && v.PriorID != v.File.ID {
		lb.b.Delete(fileInfoKey(v.FolderInfoID, v.PriorID))
	}
	if err := lb.putFile(v.FolderInfoID, v.File); err != nil {
		return err
	}
	return lb.putFolderInfoByID(v.FolderInfoID)
}

func (lb *leveldbBatch) applyUpdateFolder(v *model.UpdateFolder) error {
	for _, f := range v.Files {
		if err := lb.putFile(v.FolderInfoID, f); err != nil {
			return err
		}
	}
	return lb.putFolderInfoByID(v.FolderInfoID)
}

func (lb *leveldbBatch) putPendingDevice(d *model.PendingDevice) error {
	row, err := encodePendingDeviceRow(d)
	if err != nil {
		return err
	}
	lb.b.Put(pendingDeviceKey(d.ID), row)
	return nil
}

func (lb *leveldbBatch) putDevice(id model.DeviceKey) error {
	d, ok := lb.store.cluster.Device(id)
	if !ok {
		return nil
	}
	row, err := encodeDeviceRow(d)
	if err != nil {
		return err
	}
	lb.b.Put(deviceKey(d.ID), row)
	return nil
}

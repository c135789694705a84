// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package db

import (
	"fmt"

	"github.com/syncspirit/syncspirit-go/lib/model"
)

// uncommittedThreshold bounds how many journaled operations accumulate
// before the actor commits its write batch (spec.md §4.3: "the transaction
// commits when an uncommitted-operation threshold is reached or the actor
// shuts down").
const uncommittedThreshold = 256

// Actor subscribes to model updates, translates each diff into KV writes,
// and loads the cluster on startup in bounded chunks (spec.md §2, §4.3).
// It implements model.ApplyController so that applying a diff also
// journals the change within the actor's current write transaction.
type Actor struct {
	store *Store
	batch *leveldbBatch

	uncommitted int
	corrupted   map[model.FolderInfoID][]model.FileInfoID

	loading bool
	// buffered holds model-update messages received while loading is in
	// progress; they are replayed once LoadCommit has been visited
	// (spec.md §4.3: "While loading, model-update messages from other
	// sources are buffered and replayed after commit").
	buffered []model.Diff
}

// NewActor wraps an already-opened Store.
func NewActor(store *Store) *Actor {
	return &Actor{store: store, batch: newLeveldbBatch(store)}
}

// Load reads every row in a single pass and returns the synthetic diff
// chain describing it (spec.md §4.3 bootstrap sequence). The caller
// applies each diff via model.ApplyDiff against a fresh Cluster; between
// Interrupt diffs it should yield to its event loop before resuming.
func (a *Actor) Load() ([]model.Diff, error) {
	ls, err := a.readLoadSet()
	if err != nil {
		return nil, fmt.Errorf("read load set: %w", err)
	}
	a.loading = true
	return model.BuildLoadSequence(ls), nil
}

func (a *Actor) readLoadSet() (*model.LoadSet, error) {
	devices, err := a.store.LoadDevices()
	if err != nil {
		return nil, err
	}
	ignoredDevices, err := a.store.LoadIgnoredDevices()
	if err != nil {
		return nil, err
	}
	ignoredFolders, err := a.store.LoadIgnoredFolders()
	if err != nil {
		return nil, err
	}
	folders, err := a.store.LoadFolders()
	if err != nil {
		return nil, err
	}
	folderInfos, err := a.store.LoadFolderInfos()
	if err != nil {
		return nil, err
	}
	pendingDevices, err := a.store.LoadPendingDevices()
	if err != nil {
		return nil, err
	}
	pendingFolders, err := a.store.LoadPendingFolders()
	if err != nil {
		return nil, err
	}
	blocks, err := a.store.LoadBlocks()
	if err != nil {
		return nil, err
	}
	files, err := a.store.LoadFiles()
	if err != nil {
		return nil, err
	}

	blocksByHash := make(map[model.BlockKey]bool, len(blocks))
	for _, b := range blocks {
		blocksByHash[b.Hash] = true
	}

	// Corruption recovery (spec.md §4.3): a file-info referencing a
	// missing block row is dropped from the load set and recorded so the
	// caller can emit a RemoveCorruptedFiles diff right after LoadCommit.
	corrupted := map[model.FolderInfoID][]model.FileInfoID{}
	var clean []model.LoadedFile
	for _, lf := range files {
		missing := false
		for _, b := range lf.File.Blocks {
			if !blocksByHash[b.Hash] {
				missing = true
				break
			}
		}
		if missing {
			corrupted[lf.FolderInfoID] = append(corrupted[lf.FolderInfoID], lf.File.ID)
			corruptRowsTotal.Inc()
			continue
		}
		clean = append(clean, lf)
	}
	a.corrupted = corrupted

	return &model.LoadSet{
		Devices:        devices,
		IgnoredDevices: ignoredDevices,
		IgnoredFolders: ignoredFolders,
		Folders:        folders,
		FolderInfos:    folderInfos,
		PendingDevices: pendingDevices,
		PendingFolders: pendingFolders,
		Blocks:         blocks,
		Files:          clean,
	}, nil
}

// CorruptedFileDiffs returns one RemoveCorruptedFiles diff per
// folder-info that had rows dropped during Load, to be applied (via
// model.ApplyDiff) immediately after the load sequence's LoadCommit and
// before replaying buffered messages, per spec.md §4.3.
func (a *Actor) CorruptedFileDiffs() []model.Diff {
	var out []model.Diff
	for fid, ids := range a.corrupted {
		out = append(out, model.NewRemoveCorruptedFiles(fid, ids))
	}
	a.corrupted = nil
	return out
}

// BufferOrApply is how the coordinator routes a newly-arrived diff while a
// load may be in progress: during loading it's queued; afterwards it's
// handed directly to model.ApplyDiff. Call SetLoaded once LoadCommit has
// been visited to drain the buffer.
func (a *Actor) BufferOrApply(c *model.Cluster, d model.Diff) error {
	if a.loading {
		a.buffered = append(a.buffered, d)
		return nil
	}
	return model.ApplyDiff(c, a, d)
}

// SetLoaded flips the actor out of loading mode and returns every
// buffered diff in arrival order for the caller to apply.
func (a *Actor) SetLoaded() []model.Diff {
	a.loading = false
	buf := a.buffered
	a.buffered = nil
	return buf
}

// Journal implements model.ApplyController: translate the just-applied
// diff into the KV writes it implies, stage them in the current batch, and
// flush when the threshold is reached.
func (a *Actor) Journal(d model.Diff) error {
	if err := a.batch.stage(d); err != nil {
		return fmt.Errorf("journal %s: %w", d.Name(), err)
	}
	a.uncommitted++
	if a.uncommitted >= uncommittedThreshold {
		return a.Commit()
	}
	return nil
}

// Commit flushes the pending batch to the store. Called on threshold
// overflow and on shutdown.
func (a *Actor) Commit() error {
	if a.uncommitted == 0 {
		return nil
	}
	if err := a.batch.flush(); err != nil {
		return err
	}
	a.uncommitted = 0
	return nil
}

func (a *Actor) Close() error {
	if err := a.Commit(); err != nil {
		return err
	}
	return a.store.Close()
}

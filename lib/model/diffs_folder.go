// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package model

import "context"

// UpsertFolder creates or replaces a folder row.
type UpsertFolder struct {
	Base
	Folder *Folder
}

func NewUpsertFolder(f *Folder) *UpsertFolder { return &UpsertFolder{Folder: f} }

func (d *UpsertFolder) Name() string { return "upsert_folder" }

func (d *UpsertFolder) Apply(c *Cluster, ctrl ApplyController) error {
	return applyNode(&d.Base, c, ctrl, func() error {
		c.putFolder(d.Folder)
		return ctrl.Journal(d)
	})
}

func (d *UpsertFolder) Visit(v Visitor, ctx context.Context) error {
	return visitNode(&d.Base, v, ctx, func() error { return v.VisitUpsertFolder(d, ctx) })
}

// RemoveFolder removes a folder and cascades to all of its folder-infos.
type RemoveFolder struct {
	Base
	FolderID string
}

func NewRemoveFolder(c *Cluster, id string) *RemoveFolder {
	d := &RemoveFolder{FolderID: id}
	var cascades []Diff
	for _, fi := range c.FolderInfosForFolder(id) {
		cascades = append(cascades, NewRemoveFolderInfo(fi.ID))
	}
	d.SetChild(chain(cascades...))
	return d
}

func (d *RemoveFolder) Name() string { return "remove_folder" }

func (d *RemoveFolder) Apply(c *Cluster, ctrl ApplyController) error {
	return applyNode(&d.Base, c, ctrl, func() error {
		c.removeFolder(d.FolderID)
		return ctrl.Journal(d)
	})
}

func (d *RemoveFolder) Visit(v Visitor, ctx context.Context) error {
	return visitNode(&d.Base, v, ctx, func() error { return v.VisitRemoveFolder(d, ctx) })
}

// UpsertFolderInfo creates a folder-info when a device is shared into a
// folder, or updates one in place (e.g. a bumped index_id).
type UpsertFolderInfo struct {
	Base
	FolderInfo *FolderInfo
}

func NewUpsertFolderInfo(fi *FolderInfo) *UpsertFolderInfo {
	return &UpsertFolderInfo{FolderInfo: fi}
}

func (d *UpsertFolderInfo) Name() string { return "upsert_folder_info" }

func (d *UpsertFolderInfo) Apply(c *Cluster, ctrl ApplyController) error {
	return applyNode(&d.Base, c, ctrl, func() error {
		c.putFolderInfo(d.FolderInfo)
		return ctrl.Journal(d)
	})
}

func (d *UpsertFolderInfo) Visit(v Visitor, ctx context.Context) error {
	return visitNode(&d.Base, v, ctx, func() error { return v.VisitUpsertFolderInfo(d, ctx) })
}

// RemoveFolderInfo destroys a folder-info on unshare, folder removal, or
// device removal. Apply itself releases one reference to every distinct
// block this folder-info's files used, garbage collecting any block that
// drops to zero; no child RemoveBlocks diff is built.
type RemoveFolderInfo struct {
	Base
	FolderInfoID FolderInfoID

	// ReleasedHashes is populated during Apply with the distinct block
	// hashes this folder-info's files referenced, so the database actor
	// can mirror the same garbage-collection decision for the on-disk
	// block_info rows (spec.md §3 "Block" lifecycle).
	ReleasedHashes []BlockKey
}

func NewRemoveFolderInfo(id FolderInfoID) *RemoveFolderInfo {
	return &RemoveFolderInfo{FolderInfoID: id}
}

func (d *RemoveFolderInfo) Name() string { return "remove_folder_info" }

func (d *RemoveFolderInfo) Apply(c *Cluster, ctrl ApplyController) error {
	return applyNode(&d.Base, c, ctrl, func() error {
		fi, ok := c.removeFolderInfo(d.FolderInfoID)
		if !ok {
			return ctrl.Journal(d)
		}
		// Every block this folder-info's files referenced loses one
		// owner; garbage collect any that drop to zero.
		seen := map[BlockKey]struct{}{}
		for _, f := range fi.Files() {
			for _, b := range f.Blocks {
				if _, ok := seen[b.Hash]; ok {
					continue
				}
				seen[b.Hash] = struct{}{}
				c.removeBlockRef(b.Hash)
				d.ReleasedHashes = append(d.ReleasedHashes, b.Hash)
			}
		}
		return ctrl.Journal(d)
	})
}

func (d *RemoveFolderInfo) Visit(v Visitor, ctx context.Context) error {
	return visitNode(&d.Base, v, ctx, func() error { return v.VisitRemoveFolderInfo(d, ctx) })
}

// ReshareFolderInfo re-establishes a folder-info we had lost track of for a
// folder the peer still advertises as shared with us (spec.md §4.1 "Peer
// cluster update").
type ReshareFolderInfo struct {
	Base
	FolderInfo *FolderInfo
}

func NewReshareFolderInfo(fi *FolderInfo) *ReshareFolderInfo {
	return &ReshareFolderInfo{FolderInfo: fi}
}

func (d *ReshareFolderInfo) Name() string { return "reshare_folder_info" }

func (d *ReshareFolderInfo) Apply(c *Cluster, ctrl ApplyController) error {
	return applyNode(&d.Base, c, ctrl, func() error {
		c.putFolderInfo(d.FolderInfo)
		return ctrl.Journal(d)
	})
}

func (d *ReshareFolderInfo) Visit(v Visitor, ctx context.Context) error {
	return visitNode(&d.Base, v, ctx, func() error { return v.VisitReshareFolderInfo(d, ctx) })
}

// AddPendingFolder records a folder a peer announced that we are not
// sharing.
type AddPendingFolder struct {
	Base
	Folder *PendingFolder
}

func NewAddPendingFolder(f *PendingFolder) *AddPendingFolder {
	return &AddPendingFolder{Folder: f}
}

func (d *AddPendingFolder) Name() string { return "add_pending_folder" }

func (d *AddPendingFolder) Apply(c *Cluster, ctrl ApplyController) error {
	return applyNode(&d.Base, c, ctrl, func() error {
		c.putPendingFolder(d.Folder)
		return ctrl.Journal(d)
	})
}

func (d *AddPendingFolder) Visit(v Visitor, ctx context.Context) error {
	return visitNode(&d.Base, v, ctx, func() error { return v.VisitAddPendingFolder(d, ctx) })
}

// RemovePendingFolder drops a pending folder, e.g. because it has since
// been confirmed and promoted to a real folder-info.
type RemovePendingFolder struct {
	Base
	FolderID string
}

func NewRemovePendingFolder(id string) *RemovePendingFolder {
	return &RemovePendingFolder{FolderID: id}
}

func (d *RemovePendingFolder) Name() string { return "remove_pending_folder" }

func (d *RemovePendingFolder) Apply(c *Cluster, ctrl ApplyController) error {
	return applyNode(&d.Base, c, ctrl, func() error {
		c.removePendingFolder(d.FolderID)
		return ctrl.Journal(d)
	})
}

func (d *RemovePendingFolder) Visit(v Visitor, ctx context.Context) error {
	return visitNode(&d.Base, v, ctx, func() error { return v.VisitRemovePendingFolder(d, ctx) })
}

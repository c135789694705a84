// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package model

import (
	"context"
	"fmt"

	"github.com/syncspirit/syncspirit-go/lib/protocol"
)

// ConflictRename describes the rename side effect of a resolve_remote_win
// advance (spec.md §8 scenario 3): the local file is kept under a
// conflict-suffixed name so the peer's version can take the original name.
type ConflictRename struct {
	OldName string
	NewName string
}

// Advance is the composite diff for the remote_copy / resolve_remote_win /
// local_update actions (spec.md §4.1 "Advance"): it creates or updates a
// local file-info from source content, bumps the owning folder-info's
// max_sequence, and marks every block locally available.
type Advance struct {
	Base
	FolderInfoID   FolderInfoID
	Action         AdvanceAction
	File           *FileInfo
	PriorID        FileInfoID
	ConflictRename *ConflictRename
}

// NewAdvance builds the Advance diff together with its add-blocks /
// remove-blocks children: add-blocks for blocks new to the cluster, then
// remove-blocks for blocks orphaned by overwriting a pre-existing
// file-info, matching the ordering from spec.md §4.1.
func NewAdvance(c *Cluster, folderInfoID FolderInfoID, action AdvanceAction, newFile *FileInfo, priorID FileInfoID, conflict *ConflictRename) *Advance {
	d := &Advance{
		FolderInfoID:   folderInfoID,
		Action:         action,
		File:           newFile,
		PriorID:        priorID,
		ConflictRename: conflict,
	}

	newHashes := map[BlockKey]struct{}{}
	var addBlocks []BlockRef
	for _, b := range newFile.Blocks {
		if _, ok := newHashes[b.Hash]; ok {
			continue
		}
		newHashes[b.Hash] = struct{}{}
		addBlocks = append(addBlocks, b)
	}

	var children []Diff
	if len(addBlocks) > 0 {
		children = append(children, NewAddBlocks(addBlocks))
	}
	if priorID != NilFileInfoID {
		if fi, ok := c.FolderInfoByID(folderInfoID); ok {
			if old, ok := fi.FileByID(priorID); ok {
				oldSeen := map[BlockKey]struct{}{}
				var orphaned []BlockKey
				for _, b := range old.Blocks {
					if _, ok := oldSeen[b.Hash]; ok {
						continue
					}
					oldSeen[b.Hash] = struct{}{}
					if _, stillUsed := newHashes[b.Hash]; !stillUsed {
						orphaned = append(orphaned, b.Hash)
					}
				}
				if len(orphaned) > 0 {
					children = append(children, NewRemoveBlocks(orphaned))
				}
			}
		}
	}
	d.SetChild(chain(children...))
	return d
}

func (d *Advance) Name() string { return "advance" }

func (d *Advance) Apply(c *Cluster, ctrl ApplyController) error {
	return applyNode(&d.Base, c, ctrl, func() error {
		fi, ok := c.FolderInfoByID(d.FolderInfoID)
		if !ok {
			return fmt.Errorf("advance: unknown folder-info %v", d.FolderInfoID)
		}
		if d.PriorID != NilFileInfoID {
			fi.removeFile(d.PriorID)
		}
		fi.MaxSequence++
		d.File.Sequence = fi.MaxSequence
		d.File.LocallyAvailable = true
		if d.File.ID == NilFileInfoID {
			d.File.ID = NewFileInfoID()
		}
		fi.putFile(d.File)
		folder, ok := c.Folder(fi.FolderID)
		if ok {
			folder.BeginSynchronizing()
			folder.EndSynchronizing()
		}
		return ctrl.Journal(d)
	})
}

func (d *Advance) Visit(v Visitor, ctx context.Context) error {
	return visitNode(&d.Base, v, ctx, func() error { return v.VisitAdvance(d, ctx) })
}

// UpdateFolder applies a validated, deduplicated batch of peer FileInfos
// (from an Index or IndexUpdate message) to the peer's own folder-info
// mirror (spec.md §4.1 "Update folder").
type UpdateFolder struct {
	Base
	FolderInfoID FolderInfoID
	Files        []*FileInfo
	MaxSequence  int64
}

// NewUpdateFolder validates and deduplicates wireFiles (keeping the last
// occurrence of each name, per spec.md §4.1) against the peer folder-info's
// current max_sequence, then builds the add-blocks/remove-blocks children
// for whatever content changed.
func NewUpdateFolder(c *Cluster, folderInfoID FolderInfoID, wireFiles []protocol.FileInfo) (*UpdateFolder, error) {
	fi, ok := c.FolderInfoByID(folderInfoID)
	if !ok {
		return nil, fmt.Errorf("update_folder: unknown folder-info %v", folderInfoID)
	}

	byName := make(map[string]protocol.FileInfo, len(wireFiles))
	order := make([]string, 0, len(wireFiles))
	for _, wf := range wireFiles {
		if _, seen := byName[wf.Name]; !seen {
			order = append(order, wf.Name)
		}
		byName[wf.Name] = wf // last occurrence wins
	}

	maxSeq := fi.MaxSequence
	var files []*FileInfo
	var addBlocks []BlockRef
	var removeHashes []BlockKey
	addSeen := map[BlockKey]struct{}{}
	removeSeen := map[BlockKey]struct{}{}

	for _, name := range order {
		wf := byName[name]
		existing, _ := fi.FileByName(name)

		if wf.Sequence <= fi.MaxSequence {
			if IdempotentReplay(existing, wf) {
				continue
			}
			return nil, fmt.Errorf("update_folder: sequence %d did not advance past stored max %d for %q", wf.Sequence, fi.MaxSequence, name)
		}
		if len(wf.Version.Counters) == 0 {
			return nil, ErrMissingVersion
		}
		nf := FileInfoFromProto(wf)
		if existing != nil {
			nf.ID = existing.ID
		} else {
			nf.ID = NewFileInfoID()
		}
		if !nf.SizeMatchesBlocks() {
			return nil, ErrMismatchFileSize
		}
		files = append(files, nf)
		if wf.Sequence > maxSeq {
			maxSeq = wf.Sequence
		}

		for _, b := range nf.Blocks {
			if _, ok := addSeen[b.Hash]; !ok {
				addSeen[b.Hash] = struct{}{}
				addBlocks = append(addBlocks, b)
			}
		}
		if existing != nil {
			for _, b := range existing.Blocks {
				if _, stillUsed := addSeen[b.Hash]; stillUsed {
					continue
				}
				if _, ok := removeSeen[b.Hash]; !ok {
					removeSeen[b.Hash] = struct{}{}
					removeHashes = append(removeHashes, b.Hash)
				}
			}
		}
	}

	d := &UpdateFolder{FolderInfoID: folderInfoID, Files: files, MaxSequence: maxSeq}
	var children []Diff
	if len(addBlocks) > 0 {
		children = append(children, NewAddBlocks(addBlocks))
	}
	if len(removeHashes) > 0 {
		children = append(children, NewRemoveBlocks(removeHashes))
	}
	d.SetChild(chain(children...))
	return d, nil
}

func (d *UpdateFolder) Name() string { return "update_folder" }

func (d *UpdateFolder) Apply(c *Cluster, ctrl ApplyController) error {
	return applyNode(&d.Base, c, ctrl, func() error {
		fi, ok := c.FolderInfoByID(d.FolderInfoID)
		if !ok {
			return fmt.Errorf("update_folder: unknown folder-info %v", d.FolderInfoID)
		}
		for _, f := range d.Files {
			fi.putFile(f)
		}
		fi.MaxSequence = d.MaxSequence
		return ctrl.Journal(d)
	})
}

func (d *UpdateFolder) Visit(v Visitor, ctx context.Context) error {
	return visitNode(&d.Base, v, ctx, func() error { return v.VisitUpdateFolder(d, ctx) })
}

// BlockAck records that one block of an in-flight file has been written
// and verified locally (spec.md §4.1 "Block acknowledgement").
type BlockAck struct {
	Base
	FolderInfoID FolderInfoID
	FileID       FileInfoID
	BlockIndex   int
}

func NewBlockAck(folderInfoID FolderInfoID, fileID FileInfoID, blockIndex int) *BlockAck {
	return &BlockAck{FolderInfoID: folderInfoID, FileID: fileID, BlockIndex: blockIndex}
}

func (d *BlockAck) Name() string { return "block_ack" }

func (d *BlockAck) Apply(c *Cluster, ctrl ApplyController) error {
	return applyNode(&d.Base, c, ctrl, func() error {
		fi, ok := c.FolderInfoByID(d.FolderInfoID)
		if !ok {
			return nil
		}
		f, ok := fi.FileByID(d.FileID)
		if !ok {
			return nil
		}
		if d.BlockIndex == len(f.Blocks)-1 {
			f.LocallyAvailable = true
		}
		return ctrl.Journal(d)
	})
}

func (d *BlockAck) Visit(v Visitor, ctx context.Context) error {
	return visitNode(&d.Base, v, ctx, func() error { return v.VisitBlockAck(d, ctx) })
}

// MarkUnreachable flags a peer's file-info as unreachable after a digest
// mismatch on one of its blocks (spec.md §4.4 "Per-block pipeline" step 3,
// §7 "Integrity errors": "mark the source file unreachable, drop the block
// slot, continue"). The pull loop skips unreachable files rather than
// retrying them.
type MarkUnreachable struct {
	Base
	FolderInfoID FolderInfoID
	FileID       FileInfoID
}

func NewMarkUnreachable(folderInfoID FolderInfoID, fileID FileInfoID) *MarkUnreachable {
	return &MarkUnreachable{FolderInfoID: folderInfoID, FileID: fileID}
}

func (d *MarkUnreachable) Name() string { return "mark_unreachable" }

func (d *MarkUnreachable) Apply(c *Cluster, ctrl ApplyController) error {
	return applyNode(&d.Base, c, ctrl, func() error {
		fi, ok := c.FolderInfoByID(d.FolderInfoID)
		if !ok {
			return nil
		}
		f, ok := fi.FileByID(d.FileID)
		if !ok {
			return nil
		}
		f.Unreachable = true
		return ctrl.Journal(d)
	})
}

func (d *MarkUnreachable) Visit(v Visitor, ctx context.Context) error {
	return visitNode(&d.Base, v, ctx, func() error { return v.VisitMarkUnreachable(d, ctx) })
}

// RemoveCorruptedFiles is emitted by the database actor's load path when a
// stored file-info references a block row that no longer exists
// (spec.md §4.3 "Corruption recovery").
type RemoveCorruptedFiles struct {
	Base
	FolderInfoID FolderInfoID
	FileIDs      []FileInfoID
}

func NewRemoveCorruptedFiles(folderInfoID FolderInfoID, ids []FileInfoID) *RemoveCorruptedFiles {
	return &RemoveCorruptedFiles{FolderInfoID: folderInfoID, FileIDs: ids}
}

func (d *RemoveCorruptedFiles) Name() string { return "remove_corrupted_files" }

func (d *RemoveCorruptedFiles) Apply(c *Cluster, ctrl ApplyController) error {
	return applyNode(&d.Base, c, ctrl, func() error {
		fi, ok := c.FolderInfoByID(d.FolderInfoID)
		if !ok {
			return nil
		}
		for _, id := range d.FileIDs {
			fi.removeFile(id)
		}
		return ctrl.Journal(d)
	})
}

func (d *RemoveCorruptedFiles) Visit(v Visitor, ctx context.Context) error {
	return visitNode(&d.Base, v, ctx, func() error { return v.VisitRemoveCorruptedFiles(d, ctx) })
}

// IOFailure records a filesystem operation failure for the UI surface
// (spec.md §7): no error is silently discarded.
type IOFailure struct {
	Base
	FolderID string
	Path     string
	OSCode   string
	Op       string
}

func NewIOFailure(folderID, path, op, osCode string) *IOFailure {
	return &IOFailure{FolderID: folderID, Path: path, Op: op, OSCode: osCode}
}

func (d *IOFailure) Name() string { return "io_failure" }

func (d *IOFailure) Apply(c *Cluster, ctrl ApplyController) error {
	return applyNode(&d.Base, c, ctrl, func() error { return ctrl.Journal(d) })
}

func (d *IOFailure) Visit(v Visitor, ctx context.Context) error {
	return visitNode(&d.Base, v, ctx, func() error { return v.VisitIOFailure(d, ctx) })
}

// ScanFinished marks a folder's scan as complete, advancing LastScan and
// letting the scheduler pick its next candidate (spec.md §4.6).
type ScanFinished struct {
	Base
	FolderID string
	ScanTime int64
}

func NewScanFinished(folderID string, scanTime int64) *ScanFinished {
	return &ScanFinished{FolderID: folderID, ScanTime: scanTime}
}

func (d *ScanFinished) Name() string { return "scan_finished" }

func (d *ScanFinished) Apply(c *Cluster, ctrl ApplyController) error {
	return applyNode(&d.Base, c, ctrl, func() error {
		return ctrl.Journal(d)
	})
}

func (d *ScanFinished) Visit(v Visitor, ctx context.Context) error {
	return visitNode(&d.Base, v, ctx, func() error { return v.VisitScanFinished(d, ctx) })
}

// Interrupt yields the runtime between bounded load chunks (spec.md §4.3)
// and carries no state of its own.
type Interrupt struct {
	Base
}

func NewInterrupt() *Interrupt { return &Interrupt{} }

func (d *Interrupt) Name() string { return "interrupt" }

func (d *Interrupt) Apply(c *Cluster, ctrl ApplyController) error {
	return applyNode(&d.Base, c, ctrl, func() error { return nil })
}

func (d *Interrupt) Visit(v Visitor, ctx context.Context) error {
	return visitNode(&d.Base, v, ctx, func() error { return v.VisitInterrupt(d, ctx) })
}

// LoadCommit marks the end of the database actor's startup load sequence;
// buffered model-update messages are replayed once it has been visited.
type LoadCommit struct {
	Base
}

func NewLoadCommit() *LoadCommit { return &LoadCommit{} }

func (d *LoadCommit) Name() string { return "load_commit" }

func (d *LoadCommit) Apply(c *Cluster, ctrl ApplyController) error {
	return applyNode(&d.Base, c, ctrl, func() error { return ctrl.Journal(d) })
}

func (d *LoadCommit) Visit(v Visitor, ctx context.Context) error {
	return visitNode(&d.Base, v, ctx, func() error { return v.VisitLoadCommit(d, ctx) })
}

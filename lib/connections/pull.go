// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package connections

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/syncspirit/syncspirit-go/lib/fs"
	"github.com/syncspirit/syncspirit-go/lib/model"
	"github.com/syncspirit/syncspirit-go/lib/protocol"
)

// fetchState tracks one in-flight block-by-block file transfer (spec.md
// §4.4 "Pull loop"): the temporary file it is filling, which blocks are
// still outstanding, and the decision that started it.
type fetchState struct {
	folder      *model.Folder
	folderInfo  *model.FolderInfo
	peerFile    *model.FileInfo
	remoteID    model.FileInfoID
	priorID     model.FileInfoID
	conflict    *model.ConflictRename
	action      model.AdvanceAction
	tmpPath     string
	finalPath   string
	nextBlock   int
	outstanding int
	finishing   bool
}

// pullNext looks for at most one unit of new work per tick: a peer file we
// don't have (or have stale), not already in flight, and issues it either
// as an immediate zero-content advance or as the first fetch request of a
// block-by-block transfer (spec.md §4.4 "Pull loop").
func (c *Controller) pullNext() {
	for _, ft := range c.fetches {
		c.issueFetchBlocks(ft)
	}
	if c.ring.Full() {
		return
	}

	for _, folderInfo := range c.Cluster.FolderInfosForDevice(c.peerID) {
		folder, ok := c.Cluster.Folder(folderInfo.FolderID)
		if !ok || folder.Paused {
			continue
		}
		localFI, ok := c.Cluster.FolderInfo(folder.ID, c.LocalDeviceID)
		if !ok {
			continue
		}
		for _, peerFile := range folderInfo.Files() {
			if _, inFlight := c.synchronizing[peerFile.ID]; inFlight {
				continue
			}
			if peerFile.Unreachable {
				continue
			}
			local, _ := localFI.FileByName(peerFile.Name)
			action := model.ResolveAdvance(local, peerFile.ToProto(peerFile.Name))
			switch action {
			case model.ActionIgnore:
				continue
			case model.ActionRemoteCopy, model.ActionResolveRemoteWin:
				c.startAdvance(folder, localFI, local, peerFile, action)
				return
			}
		}
	}
}

// startAdvance begins pulling peerFile, either finishing synchronously (for
// zero-content files) or registering a fetchState that issueFetchBlocks
// will drive block by block (spec.md §4.4).
func (c *Controller) startAdvance(folder *model.Folder, localFI *model.FolderInfo, local *model.FileInfo, peerFile *model.FileInfo, action model.AdvanceAction) {
	priorID := model.NilFileInfoID
	var conflict *model.ConflictRename
	if local != nil {
		priorID = local.ID
		if action == model.ActionResolveRemoteWin {
			conflict = &model.ConflictRename{OldName: local.Name, NewName: conflictName(local.Name, c.peerID.Short())}
		}
	}

	remoteID := peerFile.ID
	nf := model.FileInfoFromProto(peerFile.ToProto(peerFile.Name))
	c.synchronizing[remoteID] = struct{}{}
	folder.BeginSynchronizing()

	if !nf.HasContent() {
		c.finishZeroContent(folder, localFI, nf, remoteID, priorID, conflict, action)
		return
	}

	finalPath := filepath.Join(folder.Path, nf.Name)
	tmpPath := fs.TempName(finalPath)

	ft := &fetchState{
		folder:     folder,
		folderInfo: localFI,
		peerFile:   nf,
		remoteID:   remoteID,
		priorID:    priorID,
		conflict:   conflict,
		action:     action,
		tmpPath:    tmpPath,
		finalPath:  finalPath,
		nextBlock:  c.resumeOffset(tmpPath, nf),
	}

	if conflict != nil {
		oldPath := filepath.Join(folder.Path, conflict.OldName)
		newPath := filepath.Join(folder.Path, conflict.NewName)
		if err := renameConflict(oldPath, newPath); err != nil {
			c.ioFailure(folder.ID, oldPath, "conflict_rename", err)
		}
	}

	c.performWrite(func() error {
		if err := c.fsCtx.CreateSparse(tmpPath, nf.Size, os.FileMode(nf.Permissions)); err != nil {
			c.ioFailure(folder.ID, tmpPath, "create_sparse", err)
			c.abortFetch(ft)
			return err
		}
		c.fetches[remoteID] = ft
		c.issueFetchBlocks(ft)
		return nil
	})
}

// finishZeroContent handles directories, symlinks and deletions, which
// have no blocks to transfer and are advanced directly (spec.md §4.4 "If
// the file has zero content ... emit the advance diff directly").
func (c *Controller) finishZeroContent(folder *model.Folder, folderInfo *model.FolderInfo, nf *model.FileInfo, remoteID, priorID model.FileInfoID, conflict *model.ConflictRename, action model.AdvanceAction) {
	defer func() {
		delete(c.synchronizing, remoteID)
		folder.EndSynchronizing()
	}()

	path := filepath.Join(folder.Path, nf.Name)
	var err error
	switch {
	case nf.Deleted:
		err = c.FS.Remove(path)
	case nf.IsDirectory():
		err = c.FS.CreateDir(path, os.FileMode(nf.Permissions), !folder.IgnorePermissions)
	case nf.IsSymlink():
		err = c.FS.CreateSymlink(path, nf.SymlinkTarget)
	default:
		err = c.FS.RemoteCopy(path, os.FileMode(nf.Permissions), !folder.IgnorePermissions, nf.ModifiedS, nf.ModifiedNs)
	}
	if err != nil {
		c.ioFailure(folder.ID, path, "remote_copy", err)
		return
	}

	diff := model.NewAdvance(c.Cluster, folderInfo.ID, action, nf, priorID, conflict)
	if err := c.Apply(diff); err != nil {
		l.Warnf("applying zero-content advance for %q: %v", nf.Name, err)
	}
}

// issueFetchBlocks keeps the ring as full as allowed for ft's remaining
// blocks, cloning from a local source when one is available and otherwise
// issuing a BEP Request (spec.md §4.4 "schedule a clone I/O" / "issue a BEP
// Request").
func (c *Controller) issueFetchBlocks(ft *fetchState) {
	for ft.nextBlock < len(ft.peerFile.Blocks) && !c.ring.Full() {
		idx := ft.nextBlock
		block := ft.peerFile.Blocks[idx]

		if srcPath, ok := c.findLocalBlockSource(block.Hash); ok {
			ft.nextBlock++
			ft.outstanding++
			folderID, tmpPath, size, offset := ft.folder.ID, ft.tmpPath, block.Size, block.Offset
			c.performWrite(func() error {
				defer func() { ft.outstanding--; c.maybeFinish(ft) }()
				if err := c.fsCtx.CloneBlock(srcPath, offset, tmpPath, offset, size); err != nil {
					c.ioFailure(folderID, tmpPath, "clone_block", err)
					return err
				}
				return nil
			})
			continue
		}

		// A block that must cross the network is paced by requestLimiter
		// on top of the ring's hard capacity, so a sudden backlog of many
		// small files doesn't saturate the connection in one burst; a
		// refusal here just waits for the next pull tick.
		if !c.requestLimiter.Allow() {
			break
		}

		ft.nextBlock++
		ft.outstanding++
		pr := &pendingRequest{
			folderID:     ft.folder.ID,
			folderInfoID: ft.folderInfo.ID,
			fileID:       ft.remoteID,
			fileName:     ft.peerFile.Name,
			blockIndex:   idx,
			hash:         block.Hash,
			offset:       block.Offset,
			size:         block.Size,
		}
		id := c.ring.Add(pr)
		blocksRequestedTotal.WithLabelValues(c.peerID.Short()).Inc()
		inFlightBlocks.WithLabelValues(c.peerID.Short()).Set(float64(c.ring.Len()))
		c.send(protocol.Request{
			ID:     id,
			Folder: ft.folder.ID,
			Name:   ft.peerFile.Name,
			Offset: block.Offset,
			Size:   block.Size,
			Hash:   append([]byte(nil), block.Hash[:]...),
		})
	}

	c.maybeFinish(ft)
}

// maybeFinish completes the transfer once every block has either been
// cloned in place or its response has arrived (spec.md §4.4, §4.7
// "finish_file").
func (c *Controller) maybeFinish(ft *fetchState) {
	if ft.nextBlock >= len(ft.peerFile.Blocks) && ft.outstanding == 0 {
		c.finishFetch(ft)
	}
}

// finishFetch renames the temporary file into place and applies the final
// Advance diff, completing the transfer. The rename itself waits for a
// cluster write-request slot like any other write, and finishFetch may be
// called more than once while that wait is outstanding -- ft.finishing
// guards against queuing the same rename twice.
func (c *Controller) finishFetch(ft *fetchState) {
	if _, stillOpen := c.fetches[ft.remoteID]; !stillOpen || ft.finishing {
		return
	}
	ft.finishing = true

	c.performWrite(func() error {
		if err := c.fsCtx.FinishFile(ft.tmpPath, ft.finalPath, ft.peerFile.ModifiedS, ft.peerFile.ModifiedNs, os.FileMode(ft.peerFile.Permissions), !ft.folder.IgnorePermissions); err != nil {
			c.ioFailure(ft.folder.ID, ft.finalPath, "finish_file", err)
			delete(c.fetches, ft.remoteID)
			delete(c.synchronizing, ft.remoteID)
			ft.folder.EndSynchronizing()
			return err
		}

		delete(c.fetches, ft.remoteID)
		delete(c.synchronizing, ft.remoteID)
		ft.folder.EndSynchronizing()

		diff := model.NewAdvance(c.Cluster, ft.folderInfo.ID, ft.action, ft.peerFile, ft.priorID, ft.conflict)
		if err := c.Apply(diff); err != nil {
			l.Warnf("applying advance for %q: %v", ft.peerFile.Name, err)
		}
		return nil
	})
}

// abortFetch drops a fetch -- after a failed temp-file creation, a digest
// mismatch, or on shutdown -- releasing its synchronizing slot.
func (c *Controller) abortFetch(ft *fetchState) {
	delete(c.fetches, ft.remoteID)
	delete(c.synchronizing, ft.remoteID)
	ft.folder.EndSynchronizing()
}

// markUnreachable handles a digest mismatch on one of ft's blocks (spec.md
// §4.4 "On digest: if mismatch, mark the peer file unreachable and release
// the block slot", §7 "Integrity errors"): the whole file's transfer is
// abandoned, not just the one block, matching the original's
// controller_actor_t::cancel_sync alongside mark_unreachable.
func (c *Controller) markUnreachable(ft *fetchState, pr *pendingRequest) {
	if err := c.Apply(model.NewMarkUnreachable(pr.folderInfoID, pr.fileID)); err != nil {
		l.Warnf("applying mark_unreachable for %q: %v", pr.fileName, err)
	}
	c.abortFetch(ft)
}

// resumeOffset inspects an existing .syncspirit-tmp file and returns how
// many of nf's leading blocks are already present and verified on disk,
// so a reconnect resumes the transfer instead of restarting it (spec.md
// §4.5 "Incomplete-temporary resume", §8 scenario 2: a disconnect mid-
// transfer of a 10 MB file with blocks 0-4 already filled resumes fetching
// at block 5 on reconnect). A temp file of the wrong size can't be trusted
// at all -- CreateSparse will recreate it from scratch.
func (c *Controller) resumeOffset(tmpPath string, nf *model.FileInfo) int {
	info, err := c.FS.Stat(tmpPath)
	if err != nil || info.Size() != nf.Size {
		return 0
	}
	n := 0
	for _, b := range nf.Blocks {
		if !c.fsCtx.VerifyBlock(tmpPath, b.Offset, b.Size, [32]byte(b.Hash)) {
			break
		}
		n++
	}
	return n
}

// findLocalBlockSource looks for a file-info of our own device that
// already carries the given block with verified content on disk, letting
// issueFetchBlocks clone instead of re-downloading (spec.md §4.4 "a needed
// block is already available locally in some other file").
func (c *Controller) findLocalBlockSource(hash model.BlockKey) (string, bool) {
	if !c.Cluster.HasBlockAnywhere(hash) {
		return "", false
	}
	for _, fi := range c.Cluster.FolderInfosForDevice(c.LocalDeviceID) {
		folder, ok := c.Cluster.Folder(fi.FolderID)
		if !ok {
			continue
		}
		for _, f := range fi.Files() {
			if !f.LocallyAvailable || !f.HasContent() {
				continue
			}
			for _, b := range f.Blocks {
				if b.Hash == hash {
					return filepath.Join(folder.Path, f.Name), true
				}
			}
		}
	}
	return "", false
}

// conflictName builds the sync-conflict filename for a resolve_remote_win
// advance (spec.md §8 scenario 3): "<base>.sync-conflict-<timestamp>-
// <shortID><ext>".
func conflictName(name, shortID string) string {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	stamp := time.Now().UTC().Format("20060102-150405")
	return fmt.Sprintf("%s.sync-conflict-%s-%s%s", base, stamp, shortID, ext)
}

// renameConflict moves the locally-superseded file aside before the
// incoming remote version takes its name; a missing source (nothing to
// preserve) is not an error.
func renameConflict(oldPath, newPath string) error {
	if _, err := os.Stat(oldPath); os.IsNotExist(err) {
		return nil
	}
	return fs.Rename(oldPath, newPath)
}

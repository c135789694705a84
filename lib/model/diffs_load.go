// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package model

import "context"

// LoadSet is everything the database actor reads back from storage at
// startup (spec.md §4.3 "Bootstrap"), already decoded into in-memory rows.
// LoadedFile pairs a file-info with the folder-info it belongs to, since
// the bootstrap sequence loads every folder's files as one flat, chunked
// stream rather than per folder-info.
type LoadSet struct {
	Devices        []*Device
	IgnoredDevices []*IgnoredDevice
	IgnoredFolders []*IgnoredFolder
	Folders        []*Folder
	FolderInfos    []*FolderInfo
	PendingDevices []*PendingDevice
	PendingFolders []*PendingFolder
	Blocks         []BlockRef
	Files          []LoadedFile
}

// LoadedFile is one file-info row read back from the file_info table,
// tagged with the folder-info it belongs to.
type LoadedFile struct {
	FolderInfoID FolderInfoID
	File         *FileInfo
}

// LoadChunkSize bounds how many block/file rows a single applied diff
// installs before an Interrupt gives the runtime a chance to service other
// actors (spec.md §4.3: "between chunks, an interrupt diff yields the
// runtime so other work can proceed").
const LoadChunkSize = 500

// loadRows is the shared shape behind every bootstrap stage, chunked or
// not: it installs a batch of rows via install and then journals itself.
type loadRows struct {
	Base
	name    string
	install func(c *Cluster)
}

func (d *loadRows) Name() string { return d.name }

func (d *loadRows) Apply(c *Cluster, ctrl ApplyController) error {
	return applyNode(&d.Base, c, ctrl, func() error {
		d.install(c)
		return ctrl.Journal(d)
	})
}

func (d *loadRows) Visit(v Visitor, ctx context.Context) error {
	return visitNode(&d.Base, v, ctx, func() error { return nil })
}

func newLoadDevices(rows []*Device) Diff {
	return &loadRows{name: "load_devices", install: func(c *Cluster) {
		for _, r := range rows {
			c.putDevice(r)
		}
	}}
}

func newLoadIgnoredDevices(rows []*IgnoredDevice) Diff {
	return &loadRows{name: "load_ignored_devices", install: func(c *Cluster) {
		for _, r := range rows {
			c.putIgnoredDevice(r)
		}
	}}
}

func newLoadIgnoredFolders(rows []*IgnoredFolder) Diff {
	return &loadRows{name: "load_ignored_folders", install: func(c *Cluster) {
		for _, r := range rows {
			c.putIgnoredFolder(r)
		}
	}}
}

func newLoadFolders(rows []*Folder) Diff {
	return &loadRows{name: "load_folders", install: func(c *Cluster) {
		for _, r := range rows {
			c.putFolder(r)
		}
	}}
}

func newLoadFolderInfos(rows []*FolderInfo) Diff {
	return &loadRows{name: "load_folder_infos", install: func(c *Cluster) {
		for _, r := range rows {
			c.putFolderInfo(r)
		}
	}}
}

func newLoadPendingDevices(rows []*PendingDevice) Diff {
	return &loadRows{name: "load_pending_devices", install: func(c *Cluster) {
		for _, r := range rows {
			c.putPendingDevice(r)
		}
	}}
}

func newLoadPendingFolders(rows []*PendingFolder) Diff {
	return &loadRows{name: "load_pending_folders", install: func(c *Cluster) {
		for _, r := range rows {
			c.putPendingFolder(r)
		}
	}}
}

func newLoadBlocksChunk(rows []BlockRef) Diff {
	return &loadRows{name: "load_blocks_chunk", install: func(c *Cluster) {
		for _, b := range rows {
			c.addBlockRef(b.Hash, b.Size, b.WeakHash)
		}
	}}
}

func newLoadFilesChunk(rows []LoadedFile) Diff {
	return &loadRows{name: "load_files_chunk", install: func(c *Cluster) {
		for _, r := range rows {
			if fi, ok := c.FolderInfoByID(r.FolderInfoID); ok {
				fi.putFile(r.File)
			}
		}
	}}
}

// BuildLoadSequence assembles the database actor's startup diff chain in
// the exact order from spec.md §4.3: load-devices -> load-ignored-devices
// -> load-ignored-folders -> load-folders -> load-folder-infos ->
// load-pending-devices -> load-pending-folders -> blocks (chunked) ->
// files (chunked) -> commit, with an Interrupt between every chunk. The
// caller applies each diff in turn via ApplyDiff on a fresh, empty
// Cluster; a tainted cluster mid-bootstrap means the database is corrupt
// and needs operator intervention.
func BuildLoadSequence(ls *LoadSet) []Diff {
	seq := []Diff{
		newLoadDevices(ls.Devices),
		newLoadIgnoredDevices(ls.IgnoredDevices),
		newLoadIgnoredFolders(ls.IgnoredFolders),
		newLoadFolders(ls.Folders),
		newLoadFolderInfos(ls.FolderInfos),
		newLoadPendingDevices(ls.PendingDevices),
		newLoadPendingFolders(ls.PendingFolders),
	}

	blocks := ls.Blocks
	for len(blocks) > 0 {
		var chunk []BlockRef
		chunk, blocks = splitBlocks(blocks, LoadChunkSize)
		seq = append(seq, newLoadBlocksChunk(chunk))
		if len(blocks) > 0 {
			seq = append(seq, NewInterrupt())
		}
	}

	files := ls.Files
	for len(files) > 0 {
		var chunk []LoadedFile
		chunk, files = splitLoadedFiles(files, LoadChunkSize)
		seq = append(seq, newLoadFilesChunk(chunk))
		if len(files) > 0 {
			seq = append(seq, NewInterrupt())
		}
	}

	seq = append(seq, NewLoadCommit())
	return seq
}

func splitBlocks(blocks []BlockRef, n int) (head, tail []BlockRef) {
	if len(blocks) <= n {
		return blocks, nil
	}
	return blocks[:n], blocks[n:]
}

func splitLoadedFiles(files []LoadedFile, n int) (head, tail []LoadedFile) {
	if len(files) <= n {
		return files, nil
	}
	return files[:n], files[n:]
}

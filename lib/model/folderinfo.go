// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package model

// FolderInfo is the per-(folder, device) row capturing that device's view
// of that folder (spec.md §3 "Folder-Info"). Invariant: at most one
// FolderInfo exists per (FolderID, DeviceID) pair.
type FolderInfo struct {
	ID       FolderInfoID
	FolderID string
	DeviceID DeviceKey

	IndexID     uint64
	MaxSequence int64

	IntroducerDeviceKey *DeviceKey

	// fileInfosByID and fileInfosByName are the strong-owned file-infos of
	// this folder-info, keyed two ways for O(1) lookup.
	fileInfosByID   map[FileInfoID]*FileInfo
	fileInfosByName map[string]*FileInfo
}

func NewFolderInfo(folderID string, deviceID DeviceKey) *FolderInfo {
	return &FolderInfo{
		ID:              NewFolderInfoID(),
		FolderID:        folderID,
		DeviceID:        deviceID,
		fileInfosByID:   make(map[FileInfoID]*FileInfo),
		fileInfosByName: make(map[string]*FileInfo),
	}
}

func (fi *FolderInfo) FileByID(id FileInfoID) (*FileInfo, bool) {
	f, ok := fi.fileInfosByID[id]
	return f, ok
}

func (fi *FolderInfo) FileByName(name string) (*FileInfo, bool) {
	f, ok := fi.fileInfosByName[name]
	return f, ok
}

func (fi *FolderInfo) Files() []*FileInfo {
	out := make([]*FileInfo, 0, len(fi.fileInfosByID))
	for _, f := range fi.fileInfosByID {
		out = append(out, f)
	}
	return out
}

// putFile inserts or replaces a file-info, keeping both indices
// consistent. If a file with the same name already exists under a
// different id, the caller is responsible for having removed it first
// (diffs do this explicitly so the old uuid's blocks can be GC'd).
func (fi *FolderInfo) putFile(f *FileInfo) {
	fi.fileInfosByID[f.ID] = f
	fi.fileInfosByName[f.Name] = f
}

func (fi *FolderInfo) removeFile(id FileInfoID) (*FileInfo, bool) {
	f, ok := fi.fileInfosByID[id]
	if !ok {
		return nil, false
	}
	delete(fi.fileInfosByID, id)
	if cur, ok := fi.fileInfosByName[f.Name]; ok && cur.ID == id {
		delete(fi.fileInfosByName, f.Name)
	}
	return f, true
}

func (fi *FolderInfo) Copy() *FolderInfo {
	nfi := *fi
	nfi.fileInfosByID = make(map[FileInfoID]*FileInfo, len(fi.fileInfosByID))
	nfi.fileInfosByName = make(map[string]*FileInfo, len(fi.fileInfosByName))
	for id, f := range fi.fileInfosByID {
		nfi.fileInfosByID[id] = f
		nfi.fileInfosByName[f.Name] = f
	}
	return &nfi
}

// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package model

import (
	"github.com/syncspirit/syncspirit-go/lib/protocol"
)

// FileInfo is a file-info row (spec.md §3 "File-Info"), identified by a
// 16-byte UUID within its owning folder-info.
type FileInfo struct {
	ID   FileInfoID
	Name string
	Type protocol.FileInfoType

	Size          int64
	Permissions   uint32
	ModifiedS     int64
	ModifiedNs    int32
	ModifiedBy    protocol.ShortID
	Deleted       bool
	Invalid       bool
	NoPermissions bool
	SymlinkTarget string

	BlockSize int32
	Blocks    []BlockRef
	Sequence  int64
	Version   protocol.Vector

	// LocallyAvailable is set once every block in Blocks has been verified
	// present on disk for this folder-info's device (spec.md §4.4 "Block
	// acknowledgement").
	LocallyAvailable bool

	// Unreachable is set by a MarkUnreachable diff when a block claimed by
	// this file-info failed digest verification (spec.md §4.4, §7
	// "Integrity errors"). The pull loop will not select an unreachable
	// peer file again until a fresh index update replaces it.
	Unreachable bool
}

// BlockRef is an ordered reference from a file-info to a block by hash; it
// is not itself the owner of the block (spec.md §3 "Ownership": blocks
// outlive the files that use them).
type BlockRef struct {
	Offset   int64
	Size     int32
	Hash     BlockKey
	WeakHash uint32
}

// SizeMatchesBlocks reports whether Size equals the sum of all block sizes
// and the blocks are contiguous from offset 0 (spec.md §8 invariant).
func (f *FileInfo) SizeMatchesBlocks() bool {
	var total int64
	var offset int64
	for _, b := range f.Blocks {
		if b.Offset != offset {
			return false
		}
		total += int64(b.Size)
		offset += int64(b.Size)
	}
	return total == f.Size
}

func (f *FileInfo) IsDirectory() bool { return f.Type == protocol.FileInfoTypeDirectory }
func (f *FileInfo) IsSymlink() bool   { return f.Type == protocol.FileInfoTypeSymlink }
func (f *FileInfo) IsRegular() bool   { return f.Type == protocol.FileInfoTypeFile }

// HasContent reports whether this file-info carries any blocks at all
// (directories, symlinks and deletions never do).
func (f *FileInfo) HasContent() bool {
	return f.IsRegular() && !f.Deleted && f.Size > 0
}

func (f *FileInfo) Copy() *FileInfo {
	nf := *f
	nf.Blocks = append([]BlockRef(nil), f.Blocks...)
	nf.Version = f.Version.Copy()
	return &nf
}

// ToProto converts to the wire representation sent in Index/IndexUpdate
// messages.
func (f *FileInfo) ToProto(name string) protocol.FileInfo {
	blocks := make([]protocol.BlockInfo, len(f.Blocks))
	for i, b := range f.Blocks {
		blocks[i] = protocol.BlockInfo{Offset: b.Offset, Size: b.Size, Hash: append([]byte(nil), b.Hash[:]...), WeakHash: b.WeakHash}
	}
	return protocol.FileInfo{
		Name:          name,
		Type:          f.Type,
		Size:          f.Size,
		Permissions:   f.Permissions,
		ModifiedS:     f.ModifiedS,
		ModifiedNs:    f.ModifiedNs,
		ModifiedBy:    f.ModifiedBy,
		Deleted:       f.Deleted,
		Invalid:       f.Invalid,
		NoPermissions: f.NoPermissions,
		Version:       f.Version,
		Sequence:      f.Sequence,
		BlockSize:     f.BlockSize,
		Blocks:        blocks,
		SymlinkTarget: f.SymlinkTarget,
	}
}

// FileInfoFromProto builds a local FileInfo (without an ID -- the caller
// assigns one, per spec.md §4.1 "Advance") from a message received over
// the wire.
func FileInfoFromProto(p protocol.FileInfo) *FileInfo {
	blocks := make([]BlockRef, len(p.Blocks))
	for i, b := range p.Blocks {
		blocks[i] = BlockRef{Offset: b.Offset, Size: b.Size, Hash: BlockKeyFromBytes(b.Hash), WeakHash: b.WeakHash}
	}
	return &FileInfo{
		Name:          p.Name,
		Type:          p.Type,
		Size:          p.Size,
		Permissions:   p.Permissions,
		ModifiedS:     p.ModifiedS,
		ModifiedNs:    p.ModifiedNs,
		ModifiedBy:    p.ModifiedBy,
		Deleted:       p.Deleted,
		Invalid:       p.Invalid,
		NoPermissions: p.NoPermissions,
		Version:       p.Version,
		Sequence:      p.Sequence,
		BlockSize:     p.BlockSize,
		Blocks:        blocks,
		SymlinkTarget: p.SymlinkTarget,
	}
}

// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package model

// Block is a content-addressed, deduplicated chunk of a file (spec.md §3
// "Block"). It is created when first referenced by a new file-info and
// garbage-collected (by an explicit remove-blocks diff) when no file-info
// references it any longer.
type Block struct {
	Hash     BlockKey
	Size     int32
	WeakHash uint32

	// refCount is maintained by the AddBlocks, RemoveBlocks and
	// RemoveFolderInfo diffs and by the bootstrap block-load stage.
	refCount int
}

func (b *Block) RefCount() int { return b.refCount }

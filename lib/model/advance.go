// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package model

import (
	"errors"

	"github.com/syncspirit/syncspirit-go/lib/protocol"
)

// AdvanceAction is the resolver's decision for one (peer file, local file)
// pair (spec.md §3 "Advance action").
type AdvanceAction int

const (
	ActionIgnore AdvanceAction = iota
	ActionRemoteCopy
	ActionResolveRemoteWin
	ActionLocalUpdate
)

var (
	ErrMismatchFileSize = errors.New("mismatch_file_size: block sizes do not sum to declared size")
	ErrMissingVersion   = errors.New("missing_version: file-info has an empty version vector")
)

// ValidateFileInfo checks the two boundary invariants from spec.md §8: the
// block list must sum to the declared size, and the version vector must
// not be empty (deletions still carry the deleting device's bumped
// vector).
func ValidateFileInfo(f *FileInfo) error {
	if !f.SizeMatchesBlocks() {
		return ErrMismatchFileSize
	}
	if f.Version.IsEmpty() {
		return ErrMissingVersion
	}
	return nil
}

// ResolveAdvance decides what to do with a peer's file p given our local
// file l for the same name (spec.md §3). local may be nil if we have no
// file-info under that name yet.
func ResolveAdvance(local *FileInfo, peer protocol.FileInfo) AdvanceAction {
	if local == nil {
		return ActionRemoteCopy
	}
	switch peer.Version.Compare(local.Version) {
	case protocol.Equal, protocol.Lesser:
		return ActionIgnore
	case protocol.Greater:
		return ActionRemoteCopy
	default: // ConcurrentGreater / ConcurrentLesser
		return ActionResolveRemoteWin
	}
}

// IdempotentReplay reports whether an incoming FileInfo whose sequence is
// <= the peer's stored max is nonetheless byte-identical to what we
// already have, and should therefore be accepted with no change and no
// error (spec.md §8 boundary behavior).
func IdempotentReplay(existing *FileInfo, incoming protocol.FileInfo) bool {
	if existing == nil {
		return false
	}
	if existing.Name != incoming.Name || existing.Size != incoming.Size || existing.Deleted != incoming.Deleted {
		return false
	}
	if len(existing.Blocks) != len(incoming.Blocks) {
		return false
	}
	for i, b := range existing.Blocks {
		if b.Hash != BlockKeyFromBytes(incoming.Blocks[i].Hash) {
			return false
		}
	}
	return existing.Version.Compare(incoming.Version) == protocol.Equal
}

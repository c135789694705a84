// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package model

import (
	"testing"

	"github.com/syncspirit/syncspirit-go/lib/protocol"
)

func vec(pairs ...uint64) protocol.Vector {
	var v protocol.Vector
	for i := 0; i+1 < len(pairs); i += 2 {
		v.Counters = append(v.Counters, protocol.Counter{ID: protocol.ShortID(pairs[i]), Value: pairs[i+1]})
	}
	return v
}

func TestResolveAdvanceNoLocalFile(t *testing.T) {
	peer := protocol.FileInfo{Version: vec(1, 1)}
	if got := ResolveAdvance(nil, peer); got != ActionRemoteCopy {
		t.Fatalf("got %v, want ActionRemoteCopy", got)
	}
}

func TestResolveAdvanceLocalNewerIsIgnored(t *testing.T) {
	local := &FileInfo{Version: vec(1, 2)}
	peer := protocol.FileInfo{Version: vec(1, 1)}
	if got := ResolveAdvance(local, peer); got != ActionIgnore {
		t.Fatalf("got %v, want ActionIgnore", got)
	}
}

func TestResolveAdvancePeerNewerIsRemoteCopy(t *testing.T) {
	local := &FileInfo{Version: vec(1, 1)}
	peer := protocol.FileInfo{Version: vec(1, 2)}
	if got := ResolveAdvance(local, peer); got != ActionRemoteCopy {
		t.Fatalf("got %v, want ActionRemoteCopy", got)
	}
}

func TestResolveAdvanceConcurrentResolves(t *testing.T) {
	local := &FileInfo{Version: vec(1, 1)}
	peer := protocol.FileInfo{Version: vec(2, 1)}
	if got := ResolveAdvance(local, peer); got != ActionResolveRemoteWin {
		t.Fatalf("got %v, want ActionResolveRemoteWin", got)
	}
}

func TestValidateFileInfoRejectsMismatchedSize(t *testing.T) {
	f := &FileInfo{Size: 10, Version: vec(1, 1), Blocks: []BlockRef{{Offset: 0, Size: 4}}}
	if err := ValidateFileInfo(f); err != ErrMismatchFileSize {
		t.Fatalf("got %v, want ErrMismatchFileSize", err)
	}
}

func TestValidateFileInfoRejectsEmptyVersion(t *testing.T) {
	f := &FileInfo{Size: 4, Blocks: []BlockRef{{Offset: 0, Size: 4}}}
	if err := ValidateFileInfo(f); err != ErrMissingVersion {
		t.Fatalf("got %v, want ErrMissingVersion", err)
	}
}

func TestValidateFileInfoAccepts(t *testing.T) {
	f := &FileInfo{Size: 4, Version: vec(1, 1), Blocks: []BlockRef{{Offset: 0, Size: 4}}}
	if err := ValidateFileInfo(f); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestIdempotentReplayDetectsIdenticalResend(t *testing.T) {
	hash := BlockKeyFromBytes([]byte{1, 2, 3})
	existing := &FileInfo{
		Name: "a.txt", Size: 3,
		Blocks:  []BlockRef{{Offset: 0, Size: 3, Hash: hash}},
		Version: vec(1, 1),
	}
	incoming := protocol.FileInfo{
		Name: "a.txt", Size: 3,
		Blocks:  []protocol.BlockInfo{{Offset: 0, Size: 3, Hash: hash[:]}},
		Version: vec(1, 1),
	}
	if !IdempotentReplay(existing, incoming) {
		t.Fatal("expected identical resend to be detected as idempotent")
	}
}

func TestIdempotentReplayRejectsChangedContent(t *testing.T) {
	existing := &FileInfo{Name: "a.txt", Size: 3, Version: vec(1, 1)}
	incoming := protocol.FileInfo{Name: "a.txt", Size: 4, Version: vec(1, 1)}
	if IdempotentReplay(existing, incoming) {
		t.Fatal("expected size change to break idempotent-replay detection")
	}
}

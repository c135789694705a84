// Copyright (C) 2016 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package fswatcher

import (
	"path/filepath"
	"testing"
)

func TestRelativizeWithinFolder(t *testing.T) {
	w := New("f", filepath.Clean("/home/user/Sync"), 0)

	rel, ok := w.relativize(filepath.Clean("/home/user/Sync/dir/file"))
	if !ok {
		t.Fatal("expected path inside the folder to relativize")
	}
	if rel != filepath.Join("dir", "file") {
		t.Fatalf("got %q", rel)
	}
}

func TestRelativizeOutsideFolder(t *testing.T) {
	w := New("f", filepath.Clean("/home/user/Sync"), 0)

	if _, ok := w.relativize(filepath.Clean("/home/user/Elsewhere/file")); ok {
		t.Fatal("expected a path outside the folder to be rejected")
	}
}

func TestRelativizeFolderRootItself(t *testing.T) {
	w := New("f", filepath.Clean("/home/user/Sync"), 0)

	rel, ok := w.relativize(filepath.Clean("/home/user/Sync"))
	if !ok || rel != "." {
		t.Fatalf("got rel=%q ok=%v, want \".\" true", rel, ok)
	}
}

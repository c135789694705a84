// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/text/unicode/norm"

	syncfs "github.com/syncspirit/syncspirit-go/lib/fs"
	"github.com/syncspirit/syncspirit-go/lib/hasher"
	"github.com/syncspirit/syncspirit-go/lib/model"
	"github.com/syncspirit/syncspirit-go/lib/protocol"
)

func newTestFixture(t *testing.T) (*model.Cluster, *model.Folder, *model.FolderInfo, model.DeviceKey) {
	t.Helper()
	c := model.NewCluster(16)
	dev := model.NewDevice(model.DeviceKey{1, 2, 3}, "local")
	if err := model.ApplyDiff(c, model.NopApplyController{}, model.NewAddDevice(dev)); err != nil {
		t.Fatalf("add device: %v", err)
	}

	dir := t.TempDir()
	folder := model.NewFolder("docs", "Documents", dir)
	if err := model.ApplyDiff(c, model.NopApplyController{}, model.NewUpsertFolder(folder)); err != nil {
		t.Fatalf("upsert folder: %v", err)
	}

	fi := model.NewFolderInfo(folder.ID, dev.ID)
	if err := model.ApplyDiff(c, model.NopApplyController{}, model.NewUpsertFolderInfo(fi)); err != nil {
		t.Fatalf("upsert folder-info: %v", err)
	}
	return c, folder, fi, dev.ID
}

func newTestScanner(c *model.Cluster, dev model.DeviceKey) *Scanner {
	io := syncfs.NewService(false)
	pool := hasher.NewPool(2)
	return New(c, io, pool, dev)
}

func TestScanNewFileProducesAdvance(t *testing.T) {
	c, folder, fi, dev := newTestFixture(t)
	s := newTestScanner(c, dev)

	if err := os.WriteFile(filepath.Join(folder.Path, "hello.txt"), []byte("hello world"), 0644); err != nil {
		t.Fatal(err)
	}

	result, err := s.Scan(context.Background(), folder, "", Budget{})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if !result.Completed {
		t.Fatal("expected scan to complete")
	}

	var advances int
	for _, d := range result.Diffs {
		if err := model.ApplyDiff(c, model.NopApplyController{}, d); err != nil {
			t.Fatalf("apply diff: %v", err)
		}
		if a, ok := d.(*model.Advance); ok {
			advances++
			if a.Action != model.ActionLocalUpdate {
				t.Fatalf("expected local_update action, got %v", a.Action)
			}
		}
	}
	if advances != 1 {
		t.Fatalf("expected exactly one advance diff, got %d (of %d total)", advances, len(result.Diffs))
	}

	f, ok := fi.FileByName("hello.txt")
	if !ok {
		t.Fatal("expected hello.txt to be recorded")
	}
	if f.Size != int64(len("hello world")) {
		t.Fatalf("unexpected size %d", f.Size)
	}
	if !f.SizeMatchesBlocks() {
		t.Fatal("block list does not sum to declared size")
	}
}

func TestScanUnchangedFileProducesNoDiff(t *testing.T) {
	c, folder, _, dev := newTestFixture(t)
	s := newTestScanner(c, dev)

	path := filepath.Join(folder.Path, "hello.txt")
	if err := os.WriteFile(path, []byte("hello world"), 0644); err != nil {
		t.Fatal(err)
	}

	result, err := s.Scan(context.Background(), folder, "", Budget{})
	if err != nil {
		t.Fatalf("first scan: %v", err)
	}
	for _, d := range result.Diffs {
		if err := model.ApplyDiff(c, model.NopApplyController{}, d); err != nil {
			t.Fatalf("apply diff: %v", err)
		}
	}

	result2, err := s.Scan(context.Background(), folder, "", Budget{})
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if len(result2.Diffs) != 0 {
		t.Fatalf("expected no diffs on unchanged re-scan, got %d", len(result2.Diffs))
	}
}

func TestScanDetectsLocalDeletion(t *testing.T) {
	c, folder, _, dev := newTestFixture(t)
	s := newTestScanner(c, dev)

	path := filepath.Join(folder.Path, "hello.txt")
	if err := os.WriteFile(path, []byte("hello world"), 0644); err != nil {
		t.Fatal(err)
	}

	result, err := s.Scan(context.Background(), folder, "", Budget{})
	if err != nil {
		t.Fatalf("first scan: %v", err)
	}
	for _, d := range result.Diffs {
		if err := model.ApplyDiff(c, model.NopApplyController{}, d); err != nil {
			t.Fatalf("apply diff: %v", err)
		}
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	result2, err := s.Scan(context.Background(), folder, "", Budget{})
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	var foundDeletion bool
	for _, d := range result2.Diffs {
		if a, ok := d.(*model.Advance); ok && a.File.Deleted {
			foundDeletion = true
		}
		if err := model.ApplyDiff(c, model.NopApplyController{}, d); err != nil {
			t.Fatalf("apply diff: %v", err)
		}
	}
	if !foundDeletion {
		t.Fatal("expected a deletion advance for the removed file")
	}
}

func TestScanIgnoresTempFiles(t *testing.T) {
	c, folder, _, dev := newTestFixture(t)
	s := newTestScanner(c, dev)
	s.TemporalTimeout = 0 // force the stale path so the temp file is cleaned up deterministically

	tmp := filepath.Join(folder.Path, syncfs.TempName("partial.bin"))
	if err := os.WriteFile(tmp, []byte("partial"), 0644); err != nil {
		t.Fatal(err)
	}

	protocol.ShortIDFromDevice(dev) // sanity: device id is hashable into a short id

	result, err := s.Scan(context.Background(), folder, "", Budget{})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	for _, d := range result.Diffs {
		if _, ok := d.(*model.Advance); ok {
			t.Fatal("temp file must never produce an advance diff")
		}
	}
}

func TestScanNormalizesNFDNameToNFC(t *testing.T) {
	c, folder, fi, dev := newTestFixture(t)
	s := newTestScanner(c, dev)

	nfd := norm.NFD.String("café.txt") // decomposed "e" + combining acute
	if norm.NFC.String(nfd) == nfd {
		t.Fatal("fixture name is not actually decomposed")
	}
	if err := os.WriteFile(filepath.Join(folder.Path, nfd), []byte("hi"), 0644); err != nil {
		t.Fatal(err)
	}

	result, err := s.Scan(context.Background(), folder, "", Budget{})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	for _, d := range result.Diffs {
		if err := model.ApplyDiff(c, model.NopApplyController{}, d); err != nil {
			t.Fatalf("apply diff: %v", err)
		}
	}

	nfc := norm.NFC.String(nfd)
	if _, err := os.Stat(filepath.Join(folder.Path, nfc)); err != nil {
		t.Fatalf("expected file renamed to NFC form on disk: %v", err)
	}
	if _, err := os.Stat(filepath.Join(folder.Path, nfd)); !os.IsNotExist(err) {
		t.Fatal("expected decomposed-name file to no longer exist")
	}
	got, ok := fi.FileByName(nfc)
	if !ok {
		t.Fatal("expected NFC name to be recorded in the folder-info")
	}
	if got.Name != nfc {
		t.Fatalf("got recorded name %q, want %q", got.Name, nfc)
	}
}

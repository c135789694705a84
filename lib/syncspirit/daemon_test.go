// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package syncspirit

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/syncspirit/syncspirit-go/lib/config"
	"github.com/syncspirit/syncspirit-go/lib/db"
	"github.com/syncspirit/syncspirit-go/lib/model"
)

func testDeviceID(b byte) model.DeviceKey {
	var id model.DeviceKey
	id[0] = b
	return id
}

func newTestDaemon(t *testing.T) *Daemon {
	t.Helper()
	store, err := db.Open(t.TempDir())
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := config.NewWrapper(testDeviceID(1))
	cfg.SetFolder(config.FolderConfiguration{ID: "f1", Label: "f1", Path: t.TempDir()})

	d, err := New(cfg, store, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

func TestBootstrapCreatesFolderAndLocalFolderInfo(t *testing.T) {
	d := newTestDaemon(t)

	folder, ok := d.Cluster.Folder("f1")
	if !ok {
		t.Fatal("bootstrap should have created folder f1")
	}
	if folder.Label != "f1" {
		t.Fatalf("folder label = %q, want f1", folder.Label)
	}
	if _, ok := d.Cluster.FolderInfo("f1", d.Cfg.MyID()); !ok {
		t.Fatal("bootstrap should have created the local folder-info")
	}
	if _, ok := d.watchers["f1"]; !ok {
		t.Fatal("bootstrap should have created a watcher for f1")
	}
}

func TestBootstrapDoesNotDuplicateAcrossRestart(t *testing.T) {
	dbDir := filepath.Join(t.TempDir(), "db")
	folderDir := t.TempDir()
	myID := testDeviceID(1)

	store1, err := db.Open(dbDir)
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	cfg := config.NewWrapper(myID)
	cfg.SetFolder(config.FolderConfiguration{ID: "f1", Path: folderDir})

	d1, err := New(cfg, store1, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	store2, err := db.Open(dbDir)
	if err != nil {
		t.Fatalf("db.Open (reopen): %v", err)
	}
	d2, err := New(cfg, store2, nil)
	if err != nil {
		t.Fatalf("New (reopen): %v", err)
	}
	defer d2.Close()

	if n := len(d2.Cluster.Folders()); n != 1 {
		t.Fatalf("expected exactly one folder after restart, got %d", n)
	}
	if n := len(d2.Cluster.Devices()); n != 0 {
		t.Fatalf("expected no configured devices, got %d", n)
	}
}

func TestRunScanAppliesDiffsAndMarksCompletion(t *testing.T) {
	d := newTestDaemon(t)
	folder, _ := d.Cluster.Folder("f1")

	if err := os.WriteFile(filepath.Join(folder.Path, "hello.txt"), []byte("12345"), 0o644); err != nil {
		t.Fatalf("writing test file: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d.runScan(ctx, "f1", "")

	fi, ok := d.Cluster.FolderInfo("f1", d.Cfg.MyID())
	if !ok {
		t.Fatal("expected local folder-info to exist")
	}
	if _, ok := fi.FileByName("hello.txt"); !ok {
		t.Fatal("scan should have indexed hello.txt")
	}
}

func TestRunScanOnUnknownFolderIsANoop(t *testing.T) {
	d := newTestDaemon(t)
	// Should not panic despite "nope" not existing; Finished is still
	// called via defer so the scheduler doesn't wedge waiting for it.
	d.runScan(context.Background(), "nope", "")
}

func TestListenHostPort(t *testing.T) {
	host, err := listenHostPort("tcp://0.0.0.0:22000")
	if err != nil {
		t.Fatalf("listenHostPort: %v", err)
	}
	if host != "0.0.0.0:22000" {
		t.Fatalf("listenHostPort = %q, want 0.0.0.0:22000", host)
	}
	if _, err := listenHostPort("not a url"); err == nil {
		t.Fatal("expected an error for a listen address with no host")
	}
}

func TestControlServerAddPeerAndStatus(t *testing.T) {
	d := newTestDaemon(t)
	socket := filepath.Join(t.TempDir(), "control.sock")
	d.EnableControl(socket)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.sup.Serve(ctx)

	var resp ControlResponse
	var err error
	for i := 0; i < 50; i++ {
		resp, err = SendControl(socket, ControlRequest{
			Command: "add-peer", DeviceID: testDeviceID(2).String(), Name: "laptop",
		})
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("add-peer: %v", err)
	}
	if !resp.OK {
		t.Fatal("add-peer response should report OK")
	}

	if _, ok := d.Cluster.Device(testDeviceID(2)); !ok {
		t.Fatal("add-peer should have added the device to the live cluster")
	}

	resp, err = SendControl(socket, ControlRequest{Command: "status"})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if resp.Status == "" {
		t.Fatal("status response should include a non-empty status string")
	}
}

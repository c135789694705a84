// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package config

import (
	"testing"

	"github.com/syncspirit/syncspirit-go/lib/model"
)

func testDeviceID(b byte) model.DeviceKey {
	var id model.DeviceKey
	id[0] = b
	return id
}

func TestDefaultOptions(t *testing.T) {
	cfg := New(testDeviceID(1))
	if cfg.Options.ListenAddress == "" {
		t.Fatal("expected a non-empty default listen address")
	}
	if len(cfg.Devices) != 0 || len(cfg.Folders) != 0 {
		t.Fatalf("New should start with no devices/folders, got %+v", cfg)
	}
}

func TestSetAndRemoveDevice(t *testing.T) {
	w := NewWrapper(testDeviceID(1))
	dev := DeviceConfiguration{ID: testDeviceID(2), Name: "laptop"}

	if existed := w.SetDevice(dev); existed {
		t.Fatal("first SetDevice should report no prior entry")
	}
	if _, ok := w.Device(dev.ID); !ok {
		t.Fatal("device should be retrievable after SetDevice")
	}

	dev.Name = "laptop-renamed"
	if existed := w.SetDevice(dev); !existed {
		t.Fatal("second SetDevice with the same id should report an existing entry")
	}
	got, _ := w.Device(dev.ID)
	if got.Name != "laptop-renamed" {
		t.Fatalf("Device().Name = %q, want %q", got.Name, "laptop-renamed")
	}

	if !w.RemoveDevice(dev.ID) {
		t.Fatal("RemoveDevice should report the device existed")
	}
	if _, ok := w.Device(dev.ID); ok {
		t.Fatal("device should be gone after RemoveDevice")
	}
}

func TestRemoveDeviceCascadesOutOfFolders(t *testing.T) {
	w := NewWrapper(testDeviceID(1))
	dev := testDeviceID(2)
	w.SetDevice(DeviceConfiguration{ID: dev})
	w.SetFolder(FolderConfiguration{ID: "f1", Devices: []FolderDeviceConfiguration{{DeviceID: dev}}})

	w.RemoveDevice(dev)

	f, ok := w.Folder("f1")
	if !ok {
		t.Fatal("folder should survive device removal")
	}
	if f.SharedWith(dev) {
		t.Fatal("folder should no longer be shared with the removed device")
	}
}

func TestShareAndUnshareFolder(t *testing.T) {
	w := NewWrapper(testDeviceID(1))
	dev := testDeviceID(2)
	w.SetDevice(DeviceConfiguration{ID: dev})
	w.SetFolder(FolderConfiguration{ID: "f1"})

	if err := w.ShareFolder("f1", dev); err != nil {
		t.Fatalf("ShareFolder: %v", err)
	}
	f, _ := w.Folder("f1")
	if !f.SharedWith(dev) {
		t.Fatal("folder should be shared with dev after ShareFolder")
	}

	// Sharing again is a no-op, not a duplicate entry.
	if err := w.ShareFolder("f1", dev); err != nil {
		t.Fatalf("ShareFolder (repeat): %v", err)
	}
	f, _ = w.Folder("f1")
	if len(f.Devices) != 1 {
		t.Fatalf("Devices = %v, want exactly one entry after sharing twice", f.Devices)
	}

	if err := w.UnshareFolder("f1", dev); err != nil {
		t.Fatalf("UnshareFolder: %v", err)
	}
	f, _ = w.Folder("f1")
	if f.SharedWith(dev) {
		t.Fatal("folder should not be shared with dev after UnshareFolder")
	}
}

func TestShareFolderRejectsUnknownDevice(t *testing.T) {
	w := NewWrapper(testDeviceID(1))
	w.SetFolder(FolderConfiguration{ID: "f1"})

	if err := w.ShareFolder("f1", testDeviceID(9)); err == nil {
		t.Fatal("expected an error sharing with an unconfigured device")
	}
}

func TestShareFolderRejectsUnknownFolder(t *testing.T) {
	w := NewWrapper(testDeviceID(1))
	dev := testDeviceID(2)
	w.SetDevice(DeviceConfiguration{ID: dev})

	if err := w.ShareFolder("nope", dev); err == nil {
		t.Fatal("expected an error sharing an unconfigured folder")
	}
}

func TestRawCopyIsIndependentOfWrapperState(t *testing.T) {
	w := NewWrapper(testDeviceID(1))
	w.SetFolder(FolderConfiguration{ID: "f1", Label: "original"})

	snap := w.RawCopy()
	snap.Folders[0].Label = "mutated"

	f, _ := w.Folder("f1")
	if f.Label != "original" {
		t.Fatalf("mutating a RawCopy leaked into the wrapper: Label = %q", f.Label)
	}
}

// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package config

import (
	"fmt"
	"sync"

	"github.com/syncspirit/syncspirit-go/lib/model"
)

// Wrapper guards a Configuration behind a mutex, the way the teacher's own
// config.Wrapper does, except there is no backing file to load from or
// save to: it is built directly by daemon wiring code or by the control
// surface's commands (spec.md's AMBIENT STACK "Configuration" section).
type Wrapper struct {
	mu  sync.RWMutex
	cfg Configuration
	myID model.DeviceKey
}

// Wrap constructs a Wrapper around an already-built Configuration, for the
// daemon's startup path (e.g. seeded from a prior run's in-memory state).
func Wrap(myID model.DeviceKey, cfg Configuration) *Wrapper {
	return &Wrapper{cfg: cfg.Copy(), myID: myID}
}

// NewWrapper returns a Wrapper around an empty Configuration for the local
// device myID, the no-file-on-disk equivalent of the teacher's Load.
func NewWrapper(myID model.DeviceKey) *Wrapper {
	return Wrap(myID, New(myID))
}

// MyID returns the local device key this Wrapper was built for.
func (w *Wrapper) MyID() model.DeviceKey { return w.myID }

// RawCopy returns a deep copy of the whole configuration tree.
func (w *Wrapper) RawCopy() Configuration {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg.Copy()
}

// Devices returns the configured devices keyed by device id.
func (w *Wrapper) Devices() map[model.DeviceKey]DeviceConfiguration {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make(map[model.DeviceKey]DeviceConfiguration, len(w.cfg.Devices))
	for _, d := range w.cfg.Devices {
		out[d.ID] = d.Copy()
	}
	return out
}

// Folders returns the configured folders keyed by folder id.
func (w *Wrapper) Folders() map[string]FolderConfiguration {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make(map[string]FolderConfiguration, len(w.cfg.Folders))
	for _, f := range w.cfg.Folders {
		out[f.ID] = f.Copy()
	}
	return out
}

// Options returns the current daemon-wide options.
func (w *Wrapper) Options() OptionsConfiguration {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg.Options.Copy()
}

// SetOptions replaces the daemon-wide options wholesale, the way a "run"
// invocation seeds the listen address and inactivity timeout from flags
// before the daemon starts (spec.md §6.4).
func (w *Wrapper) SetOptions(opts OptionsConfiguration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cfg.Options = opts.Copy()
}

// Folder returns one folder by id.
func (w *Wrapper) Folder(id string) (FolderConfiguration, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, f := range w.cfg.Folders {
		if f.ID == id {
			return f.Copy(), true
		}
	}
	return FolderConfiguration{}, false
}

// Device returns one device by id.
func (w *Wrapper) Device(id model.DeviceKey) (DeviceConfiguration, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, d := range w.cfg.Devices {
		if d.ID == id {
			return d.Copy(), true
		}
	}
	return DeviceConfiguration{}, false
}

// SetDevice adds dev or replaces the existing entry with the same id,
// reporting whether an existing entry was replaced (spec.md §6.4
// "add peer").
func (w *Wrapper) SetDevice(dev DeviceConfiguration) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, d := range w.cfg.Devices {
		if d.ID == dev.ID {
			w.cfg.Devices[i] = dev.Copy()
			return true
		}
	}
	w.cfg.Devices = append(w.cfg.Devices, dev.Copy())
	return false
}

// RemoveDevice removes the device with the given id, and unshares it from
// every folder that listed it, mirroring spec.md §3 Device's cascading
// removal ("Destroyed by an explicit remove-peer diff, which cascades to
// all folder-infos of that device"). It reports whether the device existed.
func (w *Wrapper) RemoveDevice(id model.DeviceKey) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	found := false
	devices := w.cfg.Devices[:0:0]
	for _, d := range w.cfg.Devices {
		if d.ID == id {
			found = true
			continue
		}
		devices = append(devices, d)
	}
	w.cfg.Devices = devices

	for i, f := range w.cfg.Folders {
		devs := f.Devices[:0:0]
		for _, fd := range f.Devices {
			if fd.DeviceID != id {
				devs = append(devs, fd)
			}
		}
		w.cfg.Folders[i].Devices = devs
	}
	return found
}

// SetFolder adds folder or replaces the existing entry with the same id,
// reporting whether an existing entry was replaced.
func (w *Wrapper) SetFolder(folder FolderConfiguration) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, f := range w.cfg.Folders {
		if f.ID == folder.ID {
			w.cfg.Folders[i] = folder.Copy()
			return true
		}
	}
	w.cfg.Folders = append(w.cfg.Folders, folder.Copy())
	return false
}

// RemoveFolder removes the folder with the given id, reporting whether it
// existed.
func (w *Wrapper) RemoveFolder(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	folders := w.cfg.Folders[:0:0]
	found := false
	for _, f := range w.cfg.Folders {
		if f.ID == id {
			found = true
			continue
		}
		folders = append(folders, f)
	}
	w.cfg.Folders = folders
	return found
}

// ShareFolder adds deviceID to folderID's device list if it is not already
// shared there (spec.md §6.4 "share folder"). It errors if either side is
// unknown, the way a control-surface command should report a clean
// exit-nonzero message rather than silently no-op.
func (w *Wrapper) ShareFolder(folderID string, deviceID model.DeviceKey) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.hasDeviceLocked(deviceID) {
		return fmt.Errorf("share folder %q: unknown device %s", folderID, deviceID)
	}
	for i, f := range w.cfg.Folders {
		if f.ID != folderID {
			continue
		}
		if f.SharedWith(deviceID) {
			return nil
		}
		w.cfg.Folders[i].Devices = append(w.cfg.Folders[i].Devices, FolderDeviceConfiguration{DeviceID: deviceID})
		return nil
	}
	return fmt.Errorf("share folder: unknown folder %q", folderID)
}

// UnshareFolder removes deviceID from folderID's device list (spec.md
// §6.4 "unshare folder").
func (w *Wrapper) UnshareFolder(folderID string, deviceID model.DeviceKey) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i, f := range w.cfg.Folders {
		if f.ID != folderID {
			continue
		}
		devs := f.Devices[:0:0]
		for _, fd := range f.Devices {
			if fd.DeviceID != deviceID {
				devs = append(devs, fd)
			}
		}
		w.cfg.Folders[i].Devices = devs
		return nil
	}
	return fmt.Errorf("unshare folder: unknown folder %q", folderID)
}

// SetPaused pauses or resumes a folder (spec.md §6.4 control surface has
// no dedicated pause command, but rescan/status both need to read and
// this mutator keeps it in one place for the daemon wiring that does
// expose it).
func (w *Wrapper) SetPaused(folderID string, paused bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, f := range w.cfg.Folders {
		if f.ID == folderID {
			w.cfg.Folders[i].Paused = paused
			return nil
		}
	}
	return fmt.Errorf("set paused: unknown folder %q", folderID)
}

func (w *Wrapper) hasDeviceLocked(id model.DeviceKey) bool {
	for _, d := range w.cfg.Devices {
		if d.ID == id {
			return true
		}
	}
	return false
}

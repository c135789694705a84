// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package config holds the declarative, user-facing configuration tree:
// which devices and folders the operator has told this instance about, and
// under what options. It never touches a file on disk -- reading/writing a
// config file format is out of scope (spec.md §1) -- it exists purely as
// the in-memory tree a control surface mutates and the daemon's wiring
// code reconciles into `lib/model`'s runtime Cluster via diffs.
package config

import "github.com/syncspirit/syncspirit-go/lib/model"

// DeviceConfiguration is the declarative counterpart of model.Device: what
// the operator asked for, not what the cluster currently observes (compare
// model.Device.State, which is runtime-only and lives in the Cluster).
type DeviceConfiguration struct {
	ID         model.DeviceKey
	Name       string
	Addresses  []string
	Introducer bool
}

func (d DeviceConfiguration) Copy() DeviceConfiguration {
	nd := d
	nd.Addresses = append([]string(nil), d.Addresses...)
	return nd
}

// FolderDeviceConfiguration records that a folder is shared with a device;
// it is the configuration-side twin of a model.FolderInfo, minus anything
// the runtime cluster computes for itself (index_id, max_sequence).
type FolderDeviceConfiguration struct {
	DeviceID model.DeviceKey
}

// FolderConfiguration is the declarative counterpart of model.Folder.
type FolderConfiguration struct {
	ID                string
	Label             string
	Path              string
	Type              model.FolderType
	PullOrder         model.PullOrder
	RescanIntervalS   int
	IgnorePermissions bool
	IgnoreDeletes     bool
	Paused            bool
	Devices           []FolderDeviceConfiguration
}

func (f FolderConfiguration) Copy() FolderConfiguration {
	nf := f
	nf.Devices = append([]FolderDeviceConfiguration(nil), f.Devices...)
	return nf
}

// DeviceIDs returns the device keys this folder is shared with, the
// configuration-side equivalent of model.FolderInfosForDevice's lookup in
// the other direction.
func (f FolderConfiguration) DeviceIDs() []model.DeviceKey {
	ids := make([]model.DeviceKey, len(f.Devices))
	for i, d := range f.Devices {
		ids[i] = d.DeviceID
	}
	return ids
}

// SharedWith reports whether id appears in this folder's device list.
func (f FolderConfiguration) SharedWith(id model.DeviceKey) bool {
	for _, d := range f.Devices {
		if d.DeviceID == id {
			return true
		}
	}
	return false
}

// OptionsConfiguration holds the handful of daemon-wide knobs this rewrite
// carries (spec.md §6.4's inactivity-timeout flag; reconnect/listen
// settings are ambient daemon wiring, not protocol behavior).
type OptionsConfiguration struct {
	ListenAddress      string
	ReconnectIntervalS int
	InactivityTimeoutS int
	MaxSendKbps        int
	MaxRecvKbps        int
}

func (o OptionsConfiguration) Copy() OptionsConfiguration { return o }

// Configuration is the full declarative tree: every device and folder the
// operator has configured, plus daemon-wide options (spec.md's AMBIENT
// STACK "Configuration" section -- devices, folders, options, no on-disk
// format).
type Configuration struct {
	Devices []DeviceConfiguration
	Folders []FolderConfiguration
	Options OptionsConfiguration
}

// Copy returns a deep copy so callers can mutate the result without
// racing the Wrapper's own internal state.
func (c Configuration) Copy() Configuration {
	nc := c
	nc.Devices = make([]DeviceConfiguration, len(c.Devices))
	for i, d := range c.Devices {
		nc.Devices[i] = d.Copy()
	}
	nc.Folders = make([]FolderConfiguration, len(c.Folders))
	for i, f := range c.Folders {
		nc.Folders[i] = f.Copy()
	}
	nc.Options = c.Options.Copy()
	return nc
}

func defaultOptions() OptionsConfiguration {
	return OptionsConfiguration{
		ListenAddress:      "tcp://0.0.0.0:22000",
		ReconnectIntervalS: 60,
	}
}

// New returns an empty configuration for the local device myID, seeded
// with the same option defaults the teacher's config.New ships (scaled
// down to the knobs this rewrite actually carries).
func New(myID model.DeviceKey) Configuration {
	return Configuration{Options: defaultOptions()}
}

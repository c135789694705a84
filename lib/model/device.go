// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package model

import "github.com/syncspirit/syncspirit-go/lib/protocol"

// ConnectionKind is the device connection-state lattice from spec.md §4.4
// ("duplicate connection"), supplemented per original_source/'s
// device_state.h (see DESIGN.md).
type ConnectionKind int

const (
	ConnectionOffline ConnectionKind = iota
	ConnectionUnknown
	ConnectionDiscovering
	ConnectionConnecting
	ConnectionConnected
	ConnectionOnline
)

// Transport is the transport preference used to break ties between two
// simultaneous sessions to the same device. spec.md §9 leaves the ordering
// between relay and tcp undefined; we resolve it deterministically here:
// tcp is always preferred over relay.
type Transport int

const (
	TransportRelay Transport = iota
	TransportTCP
)

// DeviceState captures everything needed to decide which of two
// simultaneous connections to a peer should survive (spec.md §4.4).
type DeviceState struct {
	Kind      ConnectionKind
	Transport Transport
	Passive   bool
	Port      int
}

// Compare returns -1, 0, or 1 as a < b, a == b, a > b in the lattice order:
// connection kind first, then transport preference (tcp > relay), then an
// active (dialed) connection over a passive one, then lower port wins as
// the final, arbitrary-but-deterministic tie-break.
func (a DeviceState) Compare(b DeviceState) int {
	if a.Kind != b.Kind {
		if a.Kind < b.Kind {
			return -1
		}
		return 1
	}
	if a.Transport != b.Transport {
		if a.Transport < b.Transport {
			return -1
		}
		return 1
	}
	if a.Passive != b.Passive {
		// An active (dialed) connection beats a passive (accepted) one of
		// the same transport.
		if a.Passive {
			return -1
		}
		return 1
	}
	if a.Port != b.Port {
		if a.Port < b.Port {
			return 1
		}
		return -1
	}
	return 0
}

// CanRollbackTo reports whether a state transition from b to a is a
// regression in the connection lattice. Equal states count as a rollback
// in both directions; Compare is a total order, so no two states are
// incomparable.
func (a DeviceState) CanRollbackTo(b DeviceState) bool {
	return a.Compare(b) <= 0
}

// Device is a known peer (spec.md §3 "Device"). Created on first
// configuration, destroyed by an explicit remove-peer diff.
type Device struct {
	ID          DeviceKey
	Name        string
	Addresses   []string
	Compression protocol.Compression
	Introducer  bool
	State       DeviceState

	// LastSeen is updated whenever a beacon announce or successful
	// connection attributes fresh contact info to this device (spec.md
	// §6.3 "device" row, §6.2 "Local discovery").
	LastSeen int64

	// RemoteFolderInfos is a weak back-index, computed/maintained by the
	// diffs that create or remove folder-infos, never an ownership edge
	// (spec.md §3 "Ownership").
	RemoteFolderInfos map[FolderInfoID]struct{}
}

func NewDevice(id DeviceKey, name string) *Device {
	return &Device{
		ID:                id,
		Name:              name,
		RemoteFolderInfos: make(map[FolderInfoID]struct{}),
	}
}

func (d *Device) Copy() *Device {
	nd := *d
	nd.Addresses = append([]string(nil), d.Addresses...)
	nd.RemoteFolderInfos = make(map[FolderInfoID]struct{}, len(d.RemoteFolderInfos))
	for k := range d.RemoteFolderInfos {
		nd.RemoteFolderInfos[k] = struct{}{}
	}
	return &nd
}

// IgnoredDevice and PendingDevice are the lightweight rows from spec.md §3
// used to queue "someone tried to connect" decisions without a full
// Device row.
type IgnoredDevice struct {
	ID       DeviceKey
	Name     string
	Contact  string
	LastSeen int64
}

type PendingDevice struct {
	ID       DeviceKey
	Name     string
	Contact  string
	LastSeen int64
}

// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package model

import "context"

// AddDevice creates a device row on first configuration.
type AddDevice struct {
	Base
	Device *Device
}

func NewAddDevice(d *Device) *AddDevice { return &AddDevice{Device: d} }

func (d *AddDevice) Name() string { return "add_device" }

func (d *AddDevice) Apply(c *Cluster, ctrl ApplyController) error {
	return applyNode(&d.Base, c, ctrl, func() error {
		c.putDevice(d.Device)
		return ctrl.Journal(d)
	})
}

func (d *AddDevice) Visit(v Visitor, ctx context.Context) error {
	return visitNode(&d.Base, v, ctx, func() error { return v.VisitAddDevice(d, ctx) })
}

// RemoveDevice removes a device and, per spec.md §3, cascades to every
// folder-info belonging to that device. The cascade is expressed as child
// RemoveFolderInfo diffs, built by NewRemoveDevice from the folder-infos the
// cluster holds for the device at construction time.
type RemoveDevice struct {
	Base
	DeviceID DeviceKey
}

func NewRemoveDevice(c *Cluster, id DeviceKey) *RemoveDevice {
	d := &RemoveDevice{DeviceID: id}
	var cascades []Diff
	for _, fi := range c.FolderInfosForDevice(id) {
		cascades = append(cascades, NewRemoveFolderInfo(fi.ID))
	}
	d.SetChild(chain(cascades...))
	return d
}

func (d *RemoveDevice) Name() string { return "remove_device" }

func (d *RemoveDevice) Apply(c *Cluster, ctrl ApplyController) error {
	return applyNode(&d.Base, c, ctrl, func() error {
		// The device row is removed first; the child remove-folder-info
		// cascades run afterwards and, finding no device, skip the
		// back-index cleanup on it.
		c.removeDevice(d.DeviceID)
		return ctrl.Journal(d)
	})
}

func (d *RemoveDevice) Visit(v Visitor, ctx context.Context) error {
	return visitNode(&d.Base, v, ctx, func() error { return v.VisitRemoveDevice(d, ctx) })
}

// PeerState updates a device's runtime connection state, e.g. to online
// once hello/cluster-config have been exchanged, or back to offline on
// disconnect (spec.md §4.4).
type PeerState struct {
	Base
	DeviceID DeviceKey
	State    DeviceState
}

func NewPeerState(id DeviceKey, state DeviceState) *PeerState {
	return &PeerState{DeviceID: id, State: state}
}

func (d *PeerState) Name() string { return "peer_state" }

func (d *PeerState) Apply(c *Cluster, ctrl ApplyController) error {
	return applyNode(&d.Base, c, ctrl, func() error {
		dev, ok := c.Device(d.DeviceID)
		if !ok {
			return nil
		}
		dev.State = d.State
		return ctrl.Journal(d)
	})
}

func (d *PeerState) Visit(v Visitor, ctx context.Context) error {
	return visitNode(&d.Base, v, ctx, func() error { return v.VisitPeerState(d, ctx) })
}

// UpdateDeviceContact records fresh contact info for an already-known
// device, e.g. from a beacon announce or a successful dial (spec.md §6.2
// "update_contact (known peer)").
type UpdateDeviceContact struct {
	Base
	DeviceID  DeviceKey
	Addresses []string
	LastSeen  int64
}

func NewUpdateDeviceContact(id DeviceKey, addresses []string, lastSeen int64) *UpdateDeviceContact {
	return &UpdateDeviceContact{DeviceID: id, Addresses: addresses, LastSeen: lastSeen}
}

func (d *UpdateDeviceContact) Name() string { return "update_device_contact" }

func (d *UpdateDeviceContact) Apply(c *Cluster, ctrl ApplyController) error {
	return applyNode(&d.Base, c, ctrl, func() error {
		dev, ok := c.Device(d.DeviceID)
		if !ok {
			return nil
		}
		dev.Addresses = d.Addresses
		dev.LastSeen = d.LastSeen
		return ctrl.Journal(d)
	})
}

func (d *UpdateDeviceContact) Visit(v Visitor, ctx context.Context) error {
	return visitNode(&d.Base, v, ctx, func() error { return v.VisitUpdateDeviceContact(d, ctx) })
}

// AddPendingDevice records that an unknown device announced itself, so the
// UI can offer to add it (spec.md §6.2 "new add_pending_device diff").
type AddPendingDevice struct {
	Base
	Device *PendingDevice
}

func NewAddPendingDevice(d *PendingDevice) *AddPendingDevice { return &AddPendingDevice{Device: d} }

func (d *AddPendingDevice) Name() string { return "add_pending_device" }

func (d *AddPendingDevice) Apply(c *Cluster, ctrl ApplyController) error {
	return applyNode(&d.Base, c, ctrl, func() error {
		c.putPendingDevice(d.Device)
		return ctrl.Journal(d)
	})
}

func (d *AddPendingDevice) Visit(v Visitor, ctx context.Context) error {
	return visitNode(&d.Base, v, ctx, func() error { return v.VisitAddPendingDevice(d, ctx) })
}

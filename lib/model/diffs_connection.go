// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package model

import "context"

// ConnectionRequest is emitted by the acceptor/dialer the moment a new
// transport-level connection is established, before any BEP bytes have
// been exchanged (spec.md §2 "Acceptor / dialer ... emits a
// connection-request diff into the model"). It carries no cluster
// mutation of its own; visitors use it to let the model pick between two
// simultaneous sessions to the same device via DeviceState.Compare
// (spec.md §4.4 "Duplicate connection").
type ConnectionRequest struct {
	Base
	DeviceID DeviceKey
	State    DeviceState
	Passive  bool
}

func NewConnectionRequest(id DeviceKey, state DeviceState, passive bool) *ConnectionRequest {
	return &ConnectionRequest{DeviceID: id, State: state, Passive: passive}
}

func (d *ConnectionRequest) Name() string { return "connection_request" }

func (d *ConnectionRequest) Apply(c *Cluster, ctrl ApplyController) error {
	return applyNode(&d.Base, c, ctrl, func() error { return ctrl.Journal(d) })
}

func (d *ConnectionRequest) Visit(v Visitor, ctx context.Context) error {
	return visitNode(&d.Base, v, ctx, func() error { return v.VisitConnectionRequest(d, ctx) })
}

// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package model

import "testing"

func TestDeviceStateTCPBeatsRelay(t *testing.T) {
	tcp := DeviceState{Kind: ConnectionOnline, Transport: TransportTCP, Port: 22000}
	relay := DeviceState{Kind: ConnectionOnline, Transport: TransportRelay, Port: 1}
	if tcp.Compare(relay) <= 0 {
		t.Fatal("tcp should beat relay regardless of port")
	}
}

func TestDeviceStateActiveBeatsPassiveSameTransport(t *testing.T) {
	active := DeviceState{Kind: ConnectionOnline, Transport: TransportTCP, Passive: false}
	passive := DeviceState{Kind: ConnectionOnline, Transport: TransportTCP, Passive: true}
	if active.Compare(passive) <= 0 {
		t.Fatal("active connection should beat passive at equal transport")
	}
}

func TestDeviceStateLowerPortWinsFinalTiebreak(t *testing.T) {
	a := DeviceState{Kind: ConnectionOnline, Transport: TransportTCP, Port: 100}
	b := DeviceState{Kind: ConnectionOnline, Transport: TransportTCP, Port: 200}
	if a.Compare(b) <= 0 {
		t.Fatal("lower port should win once kind/transport/passive are equal")
	}
}

func TestDeviceStateCanRollbackTo(t *testing.T) {
	better := DeviceState{Kind: ConnectionOnline, Transport: TransportTCP}
	worse := DeviceState{Kind: ConnectionConnecting, Transport: TransportTCP}
	if !worse.CanRollbackTo(better) {
		t.Fatal("a strictly worse state must be allowed to roll back from a better one")
	}
	if better.CanRollbackTo(worse) {
		t.Fatal("a strictly better state must not roll back to a worse one")
	}
}

func TestFolderSynchronizingGatesScan(t *testing.T) {
	f := NewFolder("docs", "Documents", "/tmp/docs")
	if !f.CanScan() {
		t.Fatal("idle folder should be scannable")
	}
	f.BeginSynchronizing()
	if f.CanScan() {
		t.Fatal("folder mid-advance should not be scannable")
	}
	f.EndSynchronizing()
	if !f.CanScan() {
		t.Fatal("folder should be scannable again once synchronization ends")
	}
}

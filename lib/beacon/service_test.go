// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package beacon

import (
	"testing"

	"github.com/syncspirit/syncspirit-go/lib/model"
)

func newTestCluster(t *testing.T) *model.Cluster {
	t.Helper()
	return model.NewCluster(16)
}

func applyAll(t *testing.T, c *model.Cluster, diffs ...model.Diff) {
	t.Helper()
	for _, d := range diffs {
		if err := model.ApplyDiff(c, model.NopApplyController{}, d); err != nil {
			t.Fatalf("apply %s: %v", d.Name(), err)
		}
	}
}

func newTestService(c *model.Cluster, localID model.DeviceKey) *Service {
	return &Service{
		cluster: c,
		localID: localID,
		now:     func() int64 { return 1000 },
	}
}

func TestClassifySelfAnnounceIgnored(t *testing.T) {
	c := newTestCluster(t)
	local := model.DeviceKey{1}
	s := newTestService(c, local)

	if d := s.classify(Announce{ID: local}, nil); d != nil {
		t.Fatalf("expected nil diff for self-announce, got %T", d)
	}
}

func TestClassifyKnownDeviceUpdatesContact(t *testing.T) {
	c := newTestCluster(t)
	local := model.DeviceKey{1}
	peer := model.DeviceKey{2}
	applyAll(t, c, model.NewAddDevice(model.NewDevice(peer, "peer")))
	s := newTestService(c, local)

	d := s.classify(Announce{ID: peer, Addresses: []string{"tcp://10.0.0.5:22000"}}, nil)
	uc, ok := d.(*model.UpdateDeviceContact)
	if !ok {
		t.Fatalf("expected *model.UpdateDeviceContact, got %T", d)
	}
	if uc.DeviceID != peer || uc.LastSeen != 1000 || len(uc.Addresses) != 1 {
		t.Fatalf("unexpected diff contents: %+v", uc)
	}
}

func TestClassifyIgnoredDeviceProducesNoDiff(t *testing.T) {
	c := newTestCluster(t)
	local := model.DeviceKey{1}
	ignored := model.DeviceKey{3}
	applyAll(t, c, model.BuildLoadSequence(&model.LoadSet{
		IgnoredDevices: []*model.IgnoredDevice{{ID: ignored, Name: "nope"}},
	})...)
	s := newTestService(c, local)

	if d := s.classify(Announce{ID: ignored}, nil); d != nil {
		t.Fatalf("expected nil diff for ignored device, got %T", d)
	}
}

func TestClassifyAlreadyPendingProducesNoDiff(t *testing.T) {
	c := newTestCluster(t)
	local := model.DeviceKey{1}
	pending := model.DeviceKey{4}
	applyAll(t, c, model.NewAddPendingDevice(&model.PendingDevice{ID: pending}))
	s := newTestService(c, local)

	if d := s.classify(Announce{ID: pending}, nil); d != nil {
		t.Fatalf("expected nil diff for already-pending device, got %T", d)
	}
}

func TestClassifyUnknownDeviceAddsPending(t *testing.T) {
	c := newTestCluster(t)
	local := model.DeviceKey{1}
	unknown := model.DeviceKey{5}
	s := newTestService(c, local)

	d := s.classify(Announce{ID: unknown, Addresses: []string{"tcp://10.0.0.9:22000"}}, nil)
	add, ok := d.(*model.AddPendingDevice)
	if !ok {
		t.Fatalf("expected *model.AddPendingDevice, got %T", d)
	}
	if add.Device.ID != unknown || add.Device.Contact != "tcp://10.0.0.9:22000" || add.Device.LastSeen != 1000 {
		t.Fatalf("unexpected pending device: %+v", add.Device)
	}
}

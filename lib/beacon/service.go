// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package beacon

import (
	"context"
	"net"
	"time"

	"github.com/syncspirit/syncspirit-go/lib/model"
)

// Service broadcasts local-discovery announcements for this instance and
// turns received announcements from other instances into cluster diffs
// (spec.md §6.2). The caller applies diffs read from Diffs(); Service never
// touches the cluster directly.
type Service struct {
	transport  *transport
	cluster    *model.Cluster
	localID    model.DeviceKey
	instanceID uint64
	frequency  time.Duration
	addresses  func() []string
	diffs      chan model.Diff
	now        func() int64
}

// NewService opens a UDP broadcast socket on port and returns a Service
// that announces localID every frequency and classifies incoming
// announcements against cluster. addresses is called fresh for every
// outgoing announce so advertised listen addresses can change at runtime.
func NewService(port int, cluster *model.Cluster, localID model.DeviceKey, instanceID uint64, frequency time.Duration, addresses func() []string) (*Service, error) {
	t, err := newTransport(port)
	if err != nil {
		return nil, err
	}
	return &Service{
		transport:  t,
		cluster:    cluster,
		localID:    localID,
		instanceID: instanceID,
		frequency:  frequency,
		addresses:  addresses,
		diffs:      make(chan model.Diff, 16),
		now:        func() int64 { return time.Now().Unix() },
	}, nil
}

// Diffs delivers one UpdateDeviceContact or AddPendingDevice per
// classified announcement (spec.md §6.2); ignored and already-pending
// devices produce no diff.
func (s *Service) Diffs() <-chan model.Diff { return s.diffs }

// Serve runs the send and receive loops until ctx is cancelled.
func (s *Service) Serve(ctx context.Context) error {
	go s.sendLoop(ctx)
	return s.recvLoop(ctx)
}

func (s *Service) sendLoop(ctx context.Context) {
	ticker := time.NewTicker(s.frequency)
	defer ticker.Stop()
	s.announce()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.announce()
		}
	}
}

func (s *Service) announce() {
	ann := Announce{ID: s.localID, Addresses: s.addresses(), InstanceID: s.instanceID}
	data, err := Marshal(ann)
	if err != nil {
		l.Warnln("marshal announce:", err)
		return
	}
	s.transport.Send(data)
}

func (s *Service) recvLoop(ctx context.Context) error {
	incoming := make(chan recv)
	go func() {
		for {
			data, src := s.transport.Recv()
			select {
			case incoming <- recv{data, src}:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			s.transport.Stop()
			close(s.diffs)
			return ctx.Err()
		case r := <-incoming:
			s.handle(r.data, r.src)
		}
	}
}

func (s *Service) handle(data []byte, src net.Addr) {
	ann, err := Unmarshal(data)
	if err != nil {
		l.Debugln("discarding malformed announce from", src, ":", err)
		return
	}
	if d := s.classify(ann, src); d != nil {
		s.diffs <- d
	}
}

// classify implements spec.md §6.2's four outcomes for an incoming
// announce: self-announcements are dropped silently, a known device's
// contact info is refreshed, an ignored device is logged and otherwise
// skipped, a device already queued as pending is left alone, and a wholly
// new device is queued as pending.
func (s *Service) classify(ann Announce, src net.Addr) model.Diff {
	if ann.ID == s.localID {
		return nil
	}
	if _, ok := s.cluster.IgnoredDevice(ann.ID); ok {
		l.Debugln("ignored_connected", ann.ID)
		return nil
	}
	if _, ok := s.cluster.Device(ann.ID); ok {
		return model.NewUpdateDeviceContact(ann.ID, ann.Addresses, s.now())
	}
	if _, ok := s.cluster.PendingDevice(ann.ID); ok {
		l.Debugln("unknown_connected", ann.ID)
		return nil
	}
	return model.NewAddPendingDevice(&model.PendingDevice{
		ID:       ann.ID,
		Contact:  contactOf(ann.Addresses, src),
		LastSeen: s.now(),
	})
}

func contactOf(addresses []string, src net.Addr) string {
	if len(addresses) > 0 {
		return addresses[0]
	}
	if src != nil {
		return src.String()
	}
	return ""
}

// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package connections

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"

	"github.com/syncspirit/syncspirit-go/lib/model"
	"github.com/syncspirit/syncspirit-go/lib/protocol"
)

// peerDeviceID derives the device id from the certificate a peer presented
// during the TLS handshake (spec.md §6.2 "Device identity is the SHA-256
// of the peer's TLS certificate").
func peerDeviceID(conn *tls.Conn) (model.DeviceKey, error) {
	state := conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return model.DeviceKey{}, fmt.Errorf("peer presented no certificate")
	}
	return protocol.DeviceIDFromCert(state.PeerCertificates[0].Raw), nil
}

// Manager resolves the duplicate-connection case: two sessions racing to
// the same device (spec.md §4.4 "Duplicate connection"). Exactly one
// Controller per device survives, chosen by DeviceState.Compare.
type Manager struct {
	mu    sync.Mutex
	conns map[model.DeviceKey]*Controller
}

// NewManager constructs an empty connection manager.
func NewManager() *Manager {
	return &Manager{conns: make(map[model.DeviceKey]*Controller)}
}

// Admit registers ctrl as the active connection to id, tearing down
// whichever of the old and new connections DeviceState.Compare ranks
// lower. It reports whether ctrl survived and should proceed to Serve.
func (m *Manager) Admit(id model.DeviceKey, state model.DeviceState, ctrl *Controller) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.conns[id]
	if !ok {
		m.conns[id] = ctrl
		return true
	}
	if existing == ctrl {
		return true
	}
	if state.Compare(existing.connState()) >= 0 {
		m.conns[id] = ctrl
		go existing.Close()
		return true
	}
	return false
}

// Remove drops ctrl as the active connection for id, if it is still the
// one registered (a newer connection may already have replaced it).
func (m *Manager) Remove(id model.DeviceKey, ctrl *Controller) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conns[id] == ctrl {
		delete(m.conns, id)
	}
}

// ConnectionCount reports how many peers currently have a live Controller,
// used by the daemon's inactivity-timeout watchdog (spec.md §6.4).
func (m *Manager) ConnectionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// connState reports the connection-state tuple used for tie-break
// comparisons (spec.md §4.4 "Duplicate connection").
func (c *Controller) connState() model.DeviceState {
	return model.DeviceState{Kind: model.ConnectionConnected, Transport: c.transport, Passive: c.passive, Port: localPort(c.conn)}
}

// Listener accepts inbound TLS connections and hands each, after the
// duplicate-connection check, to a new Controller (spec.md §2 "Acceptor /
// dialer").
type Listener struct {
	Deps
	TLSConfig *tls.Config
	Manager   *Manager
}

// Serve accepts connections on ln until ctx is cancelled or Accept fails.
func (s *Listener) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				return err
			}
		}
		go s.handle(ctx, conn)
	}
}

func (s *Listener) handle(ctx context.Context, conn net.Conn) {
	tlsConn := tls.Server(conn, s.TLSConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		l.Warnf("tls handshake with %s failed: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}
	id, err := peerDeviceID(tlsConn)
	if err != nil {
		l.Warnf("identifying peer %s: %v", conn.RemoteAddr(), err)
		tlsConn.Close()
		return
	}

	ctrl := New(s.Deps, tlsConn, id, true, model.TransportTCP)
	if !s.Manager.Admit(id, ctrl.connState(), ctrl) {
		l.Infof("rejecting duplicate accepted connection from %s", id)
		tlsConn.Close()
		return
	}
	defer s.Manager.Remove(id, ctrl)

	if err := ctrl.Serve(ctx); err != nil {
		l.Infof("connection from %s ended: %v", id, err)
	}
}

// Dialer opens outbound TLS connections to known peer addresses (spec.md
// §2 "Acceptor / dialer").
type Dialer struct {
	Deps
	TLSConfig *tls.Config
	Manager   *Manager
}

// Dial connects to addr, verifies the peer presents wantID, and runs its
// Controller to completion. It blocks for the lifetime of the connection.
func (d *Dialer) Dial(ctx context.Context, addr string, wantID model.DeviceKey) error {
	var nd net.Dialer
	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	tlsConn := tls.Client(conn, d.TLSConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return fmt.Errorf("tls handshake with %s: %w", addr, err)
	}
	id, err := peerDeviceID(tlsConn)
	if err != nil {
		tlsConn.Close()
		return fmt.Errorf("identifying %s: %w", addr, err)
	}
	if id != wantID {
		tlsConn.Close()
		return fmt.Errorf("dialed %s but got device id %s, wanted %s", addr, id, wantID)
	}

	ctrl := New(d.Deps, tlsConn, id, false, model.TransportTCP)
	if !d.Manager.Admit(id, ctrl.connState(), ctrl) {
		tlsConn.Close()
		return fmt.Errorf("duplicate connection to %s rejected", id)
	}
	defer d.Manager.Remove(id, ctrl)

	return ctrl.Serve(ctx)
}

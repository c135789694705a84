// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package beacon implements local discovery: devices on the same broadcast
// domain announce themselves over UDP so peers can be found without a
// global discovery server (spec.md §6.2).
package beacon

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/calmh/xdr"
	"github.com/syncspirit/syncspirit-go/lib/logger"
	"github.com/syncspirit/syncspirit-go/lib/model"
)

var l = logger.New("beacon")

// Magic is the 4-byte value that opens every beacon frame, distinguishing
// it from the unrelated BEP hello magic (spec.md §6.2).
const Magic uint32 = 0x2EA7D90C

var ErrUnknownMagic = errors.New("beacon: unknown magic")

// Announce is the payload broadcast by each instance: its device id, the
// addresses it can be reached on, and an instance id that changes across
// restarts so a receiver can tell a fresh process from a stale one.
type Announce struct {
	ID         model.DeviceKey
	Addresses  []string
	InstanceID uint64
}

// Marshal frames an Announce with the magic and an XDR-encoded body.
func Marshal(a Announce) ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, Magic); err != nil {
		return nil, err
	}
	xw := xdr.NewWriter(&buf)
	fw := &fieldWriter{xw: xw}
	fw.bytes(a.ID[:])
	fw.u32(uint32(len(a.Addresses)))
	for _, addr := range a.Addresses {
		fw.str(addr)
	}
	fw.u64(a.InstanceID)
	if fw.err != nil {
		return nil, fw.err
	}
	return buf.Bytes(), nil
}

// Unmarshal validates the magic and decodes the Announce that follows it.
func Unmarshal(data []byte) (Announce, error) {
	var a Announce
	if len(data) < 4 {
		return a, ErrUnknownMagic
	}
	if binary.BigEndian.Uint32(data[:4]) != Magic {
		return a, ErrUnknownMagic
	}
	xr := xdr.NewReader(bytes.NewReader(data[4:]))
	id := xr.ReadBytesMax(32)
	copy(a.ID[:], id)
	n := xr.ReadUint32()
	a.Addresses = make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		a.Addresses = append(a.Addresses, xr.ReadStringMax(256))
	}
	a.InstanceID = xr.ReadUint64()
	return a, xr.Error()
}

// fieldWriter mirrors lib/protocol/codec.go's helper of the same name,
// scoped to this package since that one is unexported.
type fieldWriter struct {
	xw  *xdr.Writer
	err error
}

func (w *fieldWriter) str(s string) {
	if w.err != nil {
		return
	}
	_, w.err = w.xw.WriteString(s)
}

func (w *fieldWriter) bytes(b []byte) {
	if w.err != nil {
		return
	}
	_, w.err = w.xw.WriteBytes(b)
}

func (w *fieldWriter) u32(v uint32) {
	if w.err != nil {
		return
	}
	_, w.err = w.xw.WriteUint32(v)
}

func (w *fieldWriter) u64(v uint64) {
	if w.err != nil {
		return
	}
	_, w.err = w.xw.WriteUint64(v)
}

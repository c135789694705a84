// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package db

import (
	"bytes"
	"time"

	"github.com/calmh/xdr"
	"github.com/syncspirit/syncspirit-go/lib/model"
	"github.com/syncspirit/syncspirit-go/lib/protocol"
)

// fieldWriter mirrors lib/protocol's codec helper: remember the first
// error so a long run of field writes reads linearly.
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

func (w *fieldWriter) i64(v int64) { w.u64(uint64(v)) }
func (w *fieldWriter) i32(v int32) { w.u32(uint32(v)) }

func (w *fieldWriter) boolean(b bool) {
	if w.err != nil {
		return
	}
	_, w.err = w.xw.WriteBool(b)
}

func marshalXDR(fn func(*fieldWriter)) ([]byte, error) {
	var buf bytes.Buffer
	fw := &fieldWriter{xw: xdr.NewWriter(&buf)}
	fn(fw)
	if fw.err != nil {
		return nil, fw.err
	}
	return buf.Bytes(), nil
}

func newFieldReader(data []byte) *xdr.Reader {
	return xdr.NewReader(bytes.NewReader(data))
}

func encodeVector(w *fieldWriter, v protocol.Vector) {
	w.u32(uint32(len(v.Counters)))
	for _, c := range v.Counters {
		w.u64(uint64(c.ID))
		w.u64(c.Value)
	}
}

func decodeVector(xr *xdr.Reader) protocol.Vector {
	n := xr.ReadUint32()
	v := protocol.Vector{Counters: make([]protocol.Counter, 0, n)}
	for i := uint32(0); i < n; i++ {
		id := protocol.ShortID(xr.ReadUint64())
		val := xr.ReadUint64()
		v.Counters = append(v.Counters, protocol.Counter{ID: id, Value: val})
	}
	return v
}

func encodeDeviceRow(d *model.Device) ([]byte, error) {
	return marshalXDR(func(w *fieldWriter) {
		w.str(d.Name)
		w.u32(uint32(len(d.Addresses)))
		for _, a := range d.Addresses {
			w.str(a)
		}
		w.u32(uint32(d.Compression))
		w.boolean(d.Introducer)
		w.u32(uint32(d.State.Kind))
		w.u32(uint32(d.State.Transport))
		w.boolean(d.State.Passive)
		w.i32(int32(d.State.Port))
	})
}

func decodeDeviceRow(id protocol.DeviceID, data []byte) (*model.Device, error) {
	xr := newFieldReader(data)
	d := model.NewDevice(id, xr.ReadStringMax(64))
	n := xr.ReadUint32()
	d.Addresses = make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		d.Addresses = append(d.Addresses, xr.ReadStringMax(256))
	}
	d.Compression = protocol.Compression(xr.ReadUint32())
	d.Introducer = xr.ReadBool()
	d.State.Kind = model.ConnectionKind(xr.ReadUint32())
	d.State.Transport = model.Transport(xr.ReadUint32())
	d.State.Passive = xr.ReadBool()
	d.State.Port = int(int32(xr.ReadUint32()))
	return d, xr.Error()
}

func encodeFolderRow(f *model.Folder) ([]byte, error) {
	return marshalXDR(func(w *fieldWriter) {
		w.str(f.Label)
		w.str(f.Path)
		w.u32(uint32(f.Type))
		w.boolean(f.IgnorePermissions)
		w.boolean(f.IgnoreDeletes)
		w.boolean(f.TempIndexesDisabled)
		w.boolean(f.Paused)
		w.u32(uint32(f.PullOrder))
		w.i64(int64(f.RescanInterval))
		w.i64(f.LastScan.Unix())
	})
}

func decodeFolderRow(id string, data []byte) (*model.Folder, error) {
	xr := newFieldReader(data)
	label := xr.ReadStringMax(64)
	path := xr.ReadStringMax(4096)
	f := model.NewFolder(id, label, path)
	f.Type = model.FolderType(xr.ReadUint32())
	f.IgnorePermissions = xr.ReadBool()
	f.IgnoreDeletes = xr.ReadBool()
	f.TempIndexesDisabled = xr.ReadBool()
	f.Paused = xr.ReadBool()
	f.PullOrder = model.PullOrder(xr.ReadUint32())
	f.RescanInterval = time.Duration(int64(xr.ReadUint64()))
	f.LastScan = time.Unix(int64(xr.ReadUint64()), 0)
	return f, xr.Error()
}

func encodeFolderInfoRow(fi *model.FolderInfo) ([]byte, error) {
	return marshalXDR(func(w *fieldWriter) {
		w.u64(fi.IndexID)
		w.i64(fi.MaxSequence)
	})
}

func decodeFolderInfoRow(folderID string, deviceID protocol.DeviceID, id model.FolderInfoID, data []byte) (*model.FolderInfo, error) {
	xr := newFieldReader(data)
	fi := model.NewFolderInfo(folderID, deviceID)
	fi.ID = id
	fi.IndexID = xr.ReadUint64()
	fi.MaxSequence = int64(xr.ReadUint64())
	return fi, xr.Error()
}

func encodeBlockRefs(w *fieldWriter, blocks []model.BlockRef) {
	w.u32(uint32(len(blocks)))
	for _, b := range blocks {
		w.i64(b.Offset)
		w.i32(b.Size)
		w.bytes(b.Hash[:])
		w.u32(b.WeakHash)
	}
}

func decodeBlockRefs(xr *xdr.Reader) []model.BlockRef {
	n := xr.ReadUint32()
	blocks := make([]model.BlockRef, 0, n)
	for i := uint32(0); i < n; i++ {
		blocks = append(blocks, model.BlockRef{
			Offset:   int64(xr.ReadUint64()),
			Size:     int32(xr.ReadUint32()),
			Hash:     model.BlockKeyFromBytes(xr.ReadBytesMax(64)),
			WeakHash: xr.ReadUint32(),
		})
	}
	return blocks
}

func encodeFileInfoRow(f *model.FileInfo) ([]byte, error) {
	return marshalXDR(func(w *fieldWriter) {
		w.str(f.Name)
		w.u32(uint32(f.Type))
		w.i64(f.Size)
		w.u32(f.Permissions)
		w.i64(f.ModifiedS)
		w.i32(f.ModifiedNs)
		w.u64(uint64(f.ModifiedBy))
		w.boolean(f.Deleted)
		w.boolean(f.Invalid)
		w.boolean(f.NoPermissions)
		w.str(f.SymlinkTarget)
		w.i32(f.BlockSize)
		encodeBlockRefs(w, f.Blocks)
		w.i64(f.Sequence)
		encodeVector(w, f.Version)
		w.boolean(f.LocallyAvailable)
		w.boolean(f.Unreachable)
	})
}

func decodeFileInfoRow(id model.FileInfoID, data []byte) (*model.FileInfo, error) {
	xr := newFieldReader(data)
	f := &model.FileInfo{ID: id}
	f.Name = xr.ReadStringMax(8192)
	f.Type = protocol.FileInfoType(xr.ReadUint32())
	f.Size = int64(xr.ReadUint64())
	f.Permissions = xr.ReadUint32()
	f.ModifiedS = int64(xr.ReadUint64())
	f.ModifiedNs = int32(xr.ReadUint32())
	f.ModifiedBy = protocol.ShortID(xr.ReadUint64())
	f.Deleted = xr.ReadBool()
	f.Invalid = xr.ReadBool()
	f.NoPermissions = xr.ReadBool()
	f.SymlinkTarget = xr.ReadStringMax(8192)
	f.BlockSize = int32(xr.ReadUint32())
	f.Blocks = decodeBlockRefs(xr)
	f.Sequence = int64(xr.ReadUint64())
	f.Version = decodeVector(xr)
	f.LocallyAvailable = xr.ReadBool()
	f.Unreachable = xr.ReadBool()
	return f, xr.Error()
}

func encodeBlockInfoRow(size int32, weak uint32) ([]byte, error) {
	return marshalXDR(func(w *fieldWriter) {
		w.i32(size)
		w.u32(weak)
	})
}

func decodeBlockInfoRow(hash model.BlockKey, data []byte) (model.BlockRef, error) {
	xr := newFieldReader(data)
	br := model.BlockRef{Hash: hash}
	br.Size = int32(xr.ReadUint32())
	br.WeakHash = xr.ReadUint32()
	return br, xr.Error()
}

func encodeIgnoredDeviceRow(d *model.IgnoredDevice) ([]byte, error) {
	return marshalXDR(func(w *fieldWriter) {
		w.str(d.Name)
		w.str(d.Contact)
		w.i64(d.LastSeen)
	})
}

func decodeIgnoredDeviceRow(id protocol.DeviceID, data []byte) (*model.IgnoredDevice, error) {
	xr := newFieldReader(data)
	d := &model.IgnoredDevice{ID: id}
	d.Name = xr.ReadStringMax(64)
	d.Contact = xr.ReadStringMax(256)
	d.LastSeen = int64(xr.ReadUint64())
	return d, xr.Error()
}

func encodePendingDeviceRow(d *model.PendingDevice) ([]byte, error) {
	return marshalXDR(func(w *fieldWriter) {
		w.str(d.Name)
		w.str(d.Contact)
		w.i64(d.LastSeen)
	})
}

func decodePendingDeviceRow(id protocol.DeviceID, data []byte) (*model.PendingDevice, error) {
	xr := newFieldReader(data)
	d := &model.PendingDevice{ID: id}
	d.Name = xr.ReadStringMax(64)
	d.Contact = xr.ReadStringMax(256)
	d.LastSeen = int64(xr.ReadUint64())
	return d, xr.Error()
}

func encodeIgnoredFolderRow(f *model.IgnoredFolder) ([]byte, error) {
	return marshalXDR(func(w *fieldWriter) { w.str(f.Label) })
}

func decodeIgnoredFolderRow(id string, data []byte) (*model.IgnoredFolder, error) {
	xr := newFieldReader(data)
	f := &model.IgnoredFolder{ID: id, Label: xr.ReadStringMax(64)}
	return f, xr.Error()
}

func encodePendingFolderRow(f *model.PendingFolder) ([]byte, error) {
	return marshalXDR(func(w *fieldWriter) {
		w.str(f.Label)
		w.bytes(f.DeviceID[:])
	})
}

func decodePendingFolderRow(id string, data []byte) (*model.PendingFolder, error) {
	xr := newFieldReader(data)
	f := &model.PendingFolder{ID: id}
	f.Label = xr.ReadStringMax(64)
	var devID protocol.DeviceID
	copy(devID[:], xr.ReadBytesMax(32))
	f.DeviceID = devID
	return f, xr.Error()
}

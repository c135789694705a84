// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package protocol

import (
	"bytes"

	"github.com/calmh/xdr"
)

// fieldWriter wraps an xdr.Writer and remembers the first error so that a
// long run of field writes doesn't need an if-err-return after every call,
// the way calmh/xdr's own generated code checks errors per field.
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

func encodeVector(w *fieldWriter, v Vector) {
	w.u32(uint32(len(v.Counters)))
	for _, c := range v.Counters {
		w.u64(uint64(c.ID))
		w.u64(c.Value)
	}
}

func decodeVector(xr *xdr.Reader) Vector {
	n := xr.ReadUint32()
	v := Vector{Counters: make([]Counter, 0, n)}
	for i := uint32(0); i < n; i++ {
		id := ShortID(xr.ReadUint64())
		val := xr.ReadUint64()
		v.Counters = append(v.Counters, Counter{ID: id, Value: val})
	}
	return v
}

func encodeBlock(w *fieldWriter, b BlockInfo) {
	w.i64(b.Offset)
	w.i32(b.Size)
	w.bytes(b.Hash)
	w.u32(b.WeakHash)
}

func decodeBlock(xr *xdr.Reader) BlockInfo {
	return BlockInfo{
		Offset:   int64(xr.ReadUint64()),
		Size:     int32(xr.ReadUint32()),
		Hash:     xr.ReadBytesMax(64),
		WeakHash: xr.ReadUint32(),
	}
}

func encodeFileInfo(w *fieldWriter, f FileInfo) {
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
	encodeVector(w, f.Version)
	w.i64(f.Sequence)
	w.i32(f.BlockSize)
	w.u32(uint32(len(f.Blocks)))
	for _, b := range f.Blocks {
		encodeBlock(w, b)
	}
	w.str(f.SymlinkTarget)
}

func decodeFileInfo(xr *xdr.Reader) FileInfo {
	var f FileInfo
	f.Name = xr.ReadStringMax(8192)
	f.Type = FileInfoType(xr.ReadUint32())
	f.Size = int64(xr.ReadUint64())
	f.Permissions = xr.ReadUint32()
	f.ModifiedS = int64(xr.ReadUint64())
	f.ModifiedNs = int32(xr.ReadUint32())
	f.ModifiedBy = ShortID(xr.ReadUint64())
	f.Deleted = xr.ReadBool()
	f.Invalid = xr.ReadBool()
	f.NoPermissions = xr.ReadBool()
	f.Version = decodeVector(xr)
	f.Sequence = int64(xr.ReadUint64())
	f.BlockSize = int32(xr.ReadUint32())
	n := xr.ReadUint32()
	f.Blocks = make([]BlockInfo, 0, n)
	for i := uint32(0); i < n; i++ {
		f.Blocks = append(f.Blocks, decodeBlock(xr))
	}
	f.SymlinkTarget = xr.ReadStringMax(8192)
	return f
}

func encodeDevice(w *fieldWriter, d Device) {
	w.bytes(d.ID)
	w.str(d.Name)
	w.u32(uint32(len(d.Addresses)))
	for _, a := range d.Addresses {
		w.str(a)
	}
	w.u32(uint32(d.Compression))
	w.str(d.CertName)
	w.i64(d.MaxSequence)
	w.boolean(d.Introducer)
	w.u64(d.IndexID)
	w.boolean(d.SkipIntroductionRemovals)
}

func decodeDevice(xr *xdr.Reader) Device {
	var d Device
	d.ID = xr.ReadBytesMax(32)
	d.Name = xr.ReadStringMax(64)
	n := xr.ReadUint32()
	d.Addresses = make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		d.Addresses = append(d.Addresses, xr.ReadStringMax(256))
	}
	d.Compression = Compression(xr.ReadUint32())
	d.CertName = xr.ReadStringMax(64)
	d.MaxSequence = int64(xr.ReadUint64())
	d.Introducer = xr.ReadBool()
	d.IndexID = xr.ReadUint64()
	d.SkipIntroductionRemovals = xr.ReadBool()
	return d
}

func encodeFolder(w *fieldWriter, f Folder) {
	w.str(f.ID)
	w.str(f.Label)
	w.u32(uint32(len(f.Devices)))
	for _, d := range f.Devices {
		encodeDevice(w, d)
	}
}

func decodeFolder(xr *xdr.Reader) Folder {
	var f Folder
	f.ID = xr.ReadStringMax(64)
	f.Label = xr.ReadStringMax(64)
	n := xr.ReadUint32()
	f.Devices = make([]Device, 0, n)
	for i := uint32(0); i < n; i++ {
		f.Devices = append(f.Devices, decodeDevice(xr))
	}
	return f
}

// MarshalHello encodes a Hello payload (used only after the 4-byte magic
// and 2-byte length prefix, both handled by the caller).
func MarshalHello(h Hello) ([]byte, error) {
	return marshalXDR(func(w *fieldWriter) {
		w.str(h.DeviceName)
		w.str(h.ClientName)
		w.str(h.ClientVersion)
	})
}

func UnmarshalHello(data []byte) (Hello, error) {
	xr := newFieldReader(data)
	h := Hello{
		DeviceName:    xr.ReadStringMax(64),
		ClientName:    xr.ReadStringMax(64),
		ClientVersion: xr.ReadStringMax(64),
	}
	return h, xr.Error()
}

func MarshalClusterConfig(c ClusterConfig) ([]byte, error) {
	return marshalXDR(func(w *fieldWriter) {
		w.u32(uint32(len(c.Folders)))
		for _, f := range c.Folders {
			encodeFolder(w, f)
		}
	})
}

func UnmarshalClusterConfig(data []byte) (ClusterConfig, error) {
	xr := newFieldReader(data)
	n := xr.ReadUint32()
	c := ClusterConfig{Folders: make([]Folder, 0, n)}
	for i := uint32(0); i < n; i++ {
		c.Folders = append(c.Folders, decodeFolder(xr))
	}
	return c, xr.Error()
}

func marshalFileList(w *fieldWriter, folder string, files []FileInfo) {
	w.str(folder)
	w.u32(uint32(len(files)))
	for _, f := range files {
		encodeFileInfo(w, f)
	}
}

func unmarshalFileList(xr *xdr.Reader) (string, []FileInfo) {
	folder := xr.ReadStringMax(64)
	n := xr.ReadUint32()
	files := make([]FileInfo, 0, n)
	for i := uint32(0); i < n; i++ {
		files = append(files, decodeFileInfo(xr))
	}
	return folder, files
}

func MarshalIndex(m Index) ([]byte, error) {
	return marshalXDR(func(w *fieldWriter) { marshalFileList(w, m.Folder, m.Files) })
}

func UnmarshalIndex(data []byte) (Index, error) {
	xr := newFieldReader(data)
	folder, files := unmarshalFileList(xr)
	return Index{Folder: folder, Files: files}, xr.Error()
}

func MarshalIndexUpdate(m IndexUpdate) ([]byte, error) {
	return marshalXDR(func(w *fieldWriter) { marshalFileList(w, m.Folder, m.Files) })
}

func UnmarshalIndexUpdate(data []byte) (IndexUpdate, error) {
	xr := newFieldReader(data)
	folder, files := unmarshalFileList(xr)
	return IndexUpdate{Folder: folder, Files: files}, xr.Error()
}

func MarshalRequest(r Request) ([]byte, error) {
	return marshalXDR(func(w *fieldWriter) {
		w.i32(r.ID)
		w.str(r.Folder)
		w.str(r.Name)
		w.i64(r.Offset)
		w.i32(r.Size)
		w.bytes(r.Hash)
		w.boolean(r.FromTemporary)
		w.u32(r.WeakHash)
	})
}

func UnmarshalRequest(data []byte) (Request, error) {
	xr := newFieldReader(data)
	r := Request{
		ID:            int32(xr.ReadUint32()),
		Folder:        xr.ReadStringMax(64),
		Name:          xr.ReadStringMax(8192),
		Offset:        int64(xr.ReadUint64()),
		Size:          int32(xr.ReadUint32()),
		Hash:          xr.ReadBytesMax(64),
		FromTemporary: xr.ReadBool(),
		WeakHash:      xr.ReadUint32(),
	}
	return r, xr.Error()
}

func MarshalResponse(r Response) ([]byte, error) {
	return marshalXDR(func(w *fieldWriter) {
		w.i32(r.ID)
		w.bytes(r.Data)
		w.u32(uint32(r.Code))
	})
}

func UnmarshalResponse(data []byte) (Response, error) {
	xr := newFieldReader(data)
	r := Response{
		ID:   int32(xr.ReadUint32()),
		Data: xr.ReadBytesMax(MaxMessageLen),
		Code: ErrorCode(xr.ReadUint32()),
	}
	return r, xr.Error()
}

func MarshalClose(c Close) ([]byte, error) {
	return marshalXDR(func(w *fieldWriter) { w.str(c.Reason) })
}

func UnmarshalClose(data []byte) (Close, error) {
	xr := newFieldReader(data)
	c := Close{Reason: xr.ReadStringMax(1024)}
	return c, xr.Error()
}

func MarshalDownloadProgress(p DownloadProgress) ([]byte, error) {
	return marshalXDR(func(w *fieldWriter) {
		w.str(p.Folder)
		w.u32(uint32(len(p.Updates)))
		for _, u := range p.Updates {
			w.str(u.Name)
			encodeVector(w, u.Version)
			w.u32(uint32(len(u.BlockIndexes)))
			for _, bi := range u.BlockIndexes {
				w.i32(bi)
			}
		}
	})
}

func UnmarshalDownloadProgress(data []byte) (DownloadProgress, error) {
	xr := newFieldReader(data)
	p := DownloadProgress{Folder: xr.ReadStringMax(64)}
	n := xr.ReadUint32()
	p.Updates = make([]FileDownloadProgressUpdate, 0, n)
	for i := uint32(0); i < n; i++ {
		u := FileDownloadProgressUpdate{Name: xr.ReadStringMax(8192)}
		u.Version = decodeVector(xr)
		m := xr.ReadUint32()
		u.BlockIndexes = make([]int32, 0, m)
		for j := uint32(0); j < m; j++ {
			u.BlockIndexes = append(u.BlockIndexes, int32(xr.ReadUint32()))
		}
		p.Updates = append(p.Updates, u)
	}
	return p, xr.Error()
}

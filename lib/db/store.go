// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package db

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/syncspirit/syncspirit-go/lib/logger"
	"github.com/syncspirit/syncspirit-go/lib/model"
	"github.com/syncspirit/syncspirit-go/lib/protocol"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var l = logger.New("db")

var corruptRowsTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "syncspirit",
	Subsystem: "db",
	Name:      "corrupt_rows_total",
	Help:      "File-info rows discarded at load time for referencing a missing block.",
})

func init() {
	prometheus.MustRegister(corruptRowsTotal)
}

// Store is the goleveldb-backed persistent store (spec.md §6.3). All
// methods are safe for the single-writer use the database actor makes of
// them; concurrent readers should take a leveldb snapshot via Open's
// underlying *leveldb.DB if ever needed, which this type does not expose
// today because nothing in the system reads concurrently with the actor.
type Store struct {
	ldb *leveldb.DB

	// cluster is the in-memory model this store mirrors. It is set once
	// by the daemon's wiring code after both have been constructed, and
	// consulted only by the batching layer (lib/db/batch.go) to decide
	// whether a diff's self-effect left a row still referenced (e.g. a
	// block's ref count) before writing it out.
	cluster *model.Cluster
}

// SetCluster wires the store to the in-memory cluster it mirrors. Must be
// called once before any diff is journaled through an Actor built on top
// of this store.
func (s *Store) SetCluster(c *model.Cluster) { s.cluster = c }

// Open opens or creates the database at path and runs any pending schema
// migrations (spec.md §6.3 "a version row ... migrations run in order").
func Open(path string) (*Store, error) {
	ldb, err := leveldb.OpenFile(path, &opt.Options{OpenFilesCacheCapacity: 100})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s := &Store{ldb: ldb}
	if err := s.migrate(); err != nil {
		ldb.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.ldb.Close() }

func (s *Store) migrate() error {
	data, err := s.ldb.Get(versionKey, nil)
	var current uint32
	if err == nil {
		current = binary.BigEndian.Uint32(data)
	} else if err != leveldb.ErrNotFound {
		return fmt.Errorf("read schema version: %w", err)
	}
	for current < schemaVersion {
		l.Infof("migrating database from schema version %d to %d", current, current+1)
		// No migrations defined yet; schemaVersion starts at 1 and this
		// loop exists so the next breaking change has somewhere to land.
		current++
	}
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, schemaVersion)
	return s.ldb.Put(versionKey, buf, nil)
}

// --- devices ---

func (s *Store) PutDevice(d *model.Device) error {
	row, err := encodeDeviceRow(d)
	if err != nil {
		return err
	}
	return s.ldb.Put(deviceKey(d.ID), row, nil)
}

func (s *Store) RemoveDevice(id protocol.DeviceID) error {
	return s.ldb.Delete(deviceKey(id), nil)
}

func (s *Store) LoadDevices() ([]*model.Device, error) {
	it := s.ldb.NewIterator(util.BytesPrefix([]byte{prefixDevice}), nil)
	defer it.Release()
	var out []*model.Device
	for it.Next() {
		var id protocol.DeviceID
		copy(id[:], it.Key()[1:])
		d, err := decodeDeviceRow(id, it.Value())
		if err != nil {
			return nil, fmt.Errorf("decode device %s: %w", id.Short(), err)
		}
		out = append(out, d)
	}
	return out, it.Error()
}

// --- folders ---

func (s *Store) PutFolder(f *model.Folder) error {
	row, err := encodeFolderRow(f)
	if err != nil {
		return err
	}
	return s.ldb.Put(folderKey(f.ID), row, nil)
}

func (s *Store) RemoveFolder(id string) error {
	return s.ldb.Delete(folderKey(id), nil)
}

func (s *Store) LoadFolders() ([]*model.Folder, error) {
	it := s.ldb.NewIterator(util.BytesPrefix([]byte{prefixFolder}), nil)
	defer it.Release()
	var out []*model.Folder
	for it.Next() {
		id := string(it.Key()[1:])
		f, err := decodeFolderRow(id, it.Value())
		if err != nil {
			return nil, fmt.Errorf("decode folder %s: %w", id, err)
		}
		out = append(out, f)
	}
	return out, it.Error()
}

// --- folder-infos ---

// PutFolderInfo stores folder_id/device_id alongside the folder-info's
// own uuid, since the KV key only carries the uuid half (spec.md §6.3);
// both are taken from fi and stashed in a header at the front of the row
// on encode.
func (s *Store) PutFolderInfo(fi *model.FolderInfo) error {
	row, err := encodeFolderInfoRow(fi)
	if err != nil {
		return err
	}
	row, err = prependFolderInfoHeader(fi, row)
	if err != nil {
		return err
	}
	return s.ldb.Put(folderInfoKey(fi.ID), row, nil)
}

func (s *Store) RemoveFolderInfo(id model.FolderInfoID) error {
	batch := new(leveldb.Batch)
	batch.Delete(folderInfoKey(id))
	it := s.ldb.NewIterator(util.BytesPrefix(fileInfoPrefix(id)), nil)
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return err
	}
	return s.ldb.Write(batch, nil)
}

func (s *Store) LoadFolderInfos() ([]*model.FolderInfo, error) {
	it := s.ldb.NewIterator(util.BytesPrefix([]byte{prefixFolderInfo}), nil)
	defer it.Release()
	var out []*model.FolderInfo
	for it.Next() {
		var id model.FolderInfoID
		u, err := uuid.FromBytes(it.Key()[1:])
		if err != nil {
			return nil, fmt.Errorf("decode folder-info key: %w", err)
		}
		id = model.FolderInfoID(u)
		folderID, deviceID, row, err := splitFolderInfoHeader(it.Value())
		if err != nil {
			return nil, fmt.Errorf("decode folder-info %s header: %w", id, err)
		}
		fi, err := decodeFolderInfoRow(folderID, deviceID, id, row)
		if err != nil {
			return nil, fmt.Errorf("decode folder-info %s: %w", id, err)
		}
		out = append(out, fi)
	}
	return out, it.Error()
}

// prependFolderInfoHeader/splitFolderInfoHeader store (folder_id,
// device_id) ahead of the folder-info's own encoded fields, since the
// uuid-only key can't carry them (spec.md §6.3's folder_info value is
// "{index_id, max_sequence, introducer_device_key}" -- we extend it with
// the two identifying fields needed to reconstruct the in-memory row).
func prependFolderInfoHeader(fi *model.FolderInfo, body []byte) ([]byte, error) {
	return marshalXDR(func(w *fieldWriter) {
		w.str(fi.FolderID)
		w.bytes(fi.DeviceID[:])
		w.bytes(body)
	})
}

func splitFolderInfoHeader(data []byte) (folderID string, deviceID protocol.DeviceID, body []byte, err error) {
	xr := newFieldReader(data)
	folderID = xr.ReadStringMax(64)
	copy(deviceID[:], xr.ReadBytesMax(32))
	body = xr.ReadBytesMax(1 << 20)
	return folderID, deviceID, body, xr.Error()
}

// --- file-infos ---

func (s *Store) PutFileInfo(folderInfoID model.FolderInfoID, f *model.FileInfo) error {
	row, err := encodeFileInfoRow(f)
	if err != nil {
		return err
	}
	return s.ldb.Put(fileInfoKey(folderInfoID, f.ID), row, nil)
}

func (s *Store) RemoveFileInfo(folderInfoID model.FolderInfoID, fileID model.FileInfoID) error {
	return s.ldb.Delete(fileInfoKey(folderInfoID, fileID), nil)
}

// LoadFiles streams every file-info row, tagged with its owning
// folder-info id, for BuildLoadSequence's flat chunked load.
func (s *Store) LoadFiles() ([]model.LoadedFile, error) {
	it := s.ldb.NewIterator(util.BytesPrefix([]byte{prefixFileInfo}), nil)
	defer it.Release()
	var out []model.LoadedFile
	for it.Next() {
		key := it.Key()[1:]
		if len(key) != 32 {
			continue
		}
		fiUUID, err := uuid.FromBytes(key[:16])
		if err != nil {
			return nil, fmt.Errorf("decode file-info key: %w", err)
		}
		fileUUID, err := uuid.FromBytes(key[16:])
		if err != nil {
			return nil, fmt.Errorf("decode file-info key: %w", err)
		}
		f, err := decodeFileInfoRow(model.FileInfoID(fileUUID), it.Value())
		if err != nil {
			return nil, fmt.Errorf("decode file-info: %w", err)
		}
		out = append(out, model.LoadedFile{FolderInfoID: model.FolderInfoID(fiUUID), File: f})
	}
	return out, it.Error()
}

// --- blocks ---

func (s *Store) PutBlockInfo(hash model.BlockKey, size int32, weak uint32) error {
	row, err := encodeBlockInfoRow(size, weak)
	if err != nil {
		return err
	}
	return s.ldb.Put(blockInfoKey(hash), row, nil)
}

func (s *Store) RemoveBlockInfo(hash model.BlockKey) error {
	return s.ldb.Delete(blockInfoKey(hash), nil)
}

func (s *Store) LoadBlocks() ([]model.BlockRef, error) {
	it := s.ldb.NewIterator(util.BytesPrefix([]byte{prefixBlockInfo}), nil)
	defer it.Release()
	var out []model.BlockRef
	for it.Next() {
		var hash model.BlockKey
		copy(hash[:], it.Key()[1:])
		b, err := decodeBlockInfoRow(hash, it.Value())
		if err != nil {
			return nil, fmt.Errorf("decode block_info: %w", err)
		}
		out = append(out, b)
	}
	return out, it.Error()
}

// --- ignored/pending devices and folders ---

func (s *Store) PutIgnoredDevice(d *model.IgnoredDevice) error {
	row, err := encodeIgnoredDeviceRow(d)
	if err != nil {
		return err
	}
	return s.ldb.Put(ignoredDeviceKey(d.ID), row, nil)
}

func (s *Store) LoadIgnoredDevices() ([]*model.IgnoredDevice, error) {
	it := s.ldb.NewIterator(util.BytesPrefix([]byte{prefixIgnoredDevice}), nil)
	defer it.Release()
	var out []*model.IgnoredDevice
	for it.Next() {
		var id protocol.DeviceID
		copy(id[:], it.Key()[1:])
		d, err := decodeIgnoredDeviceRow(id, it.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, it.Error()
}

func (s *Store) PutPendingDevice(d *model.PendingDevice) error {
	row, err := encodePendingDeviceRow(d)
	if err != nil {
		return err
	}
	return s.ldb.Put(pendingDeviceKey(d.ID), row, nil)
}

func (s *Store) RemovePendingDevice(id protocol.DeviceID) error {
	return s.ldb.Delete(pendingDeviceKey(id), nil)
}

func (s *Store) LoadPendingDevices() ([]*model.PendingDevice, error) {
	it := s.ldb.NewIterator(util.BytesPrefix([]byte{prefixPendingDevice}), nil)
	defer it.Release()
	var out []*model.PendingDevice
	for it.Next() {
		var id protocol.DeviceID
		copy(id[:], it.Key()[1:])
		d, err := decodePendingDeviceRow(id, it.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, it.Error()
}

func (s *Store) PutIgnoredFolder(f *model.IgnoredFolder) error {
	row, err := encodeIgnoredFolderRow(f)
	if err != nil {
		return err
	}
	return s.ldb.Put(ignoredFolderKey(f.ID), row, nil)
}

func (s *Store) LoadIgnoredFolders() ([]*model.IgnoredFolder, error) {
	it := s.ldb.NewIterator(util.BytesPrefix([]byte{prefixIgnoredFolder}), nil)
	defer it.Release()
	var out []*model.IgnoredFolder
	for it.Next() {
		id := string(it.Key()[1:])
		f, err := decodeIgnoredFolderRow(id, it.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, it.Error()
}

func (s *Store) PutPendingFolder(f *model.PendingFolder) error {
	row, err := encodePendingFolderRow(f)
	if err != nil {
		return err
	}
	return s.ldb.Put(pendingFolderKey(f.ID), row, nil)
}

func (s *Store) RemovePendingFolder(id string) error {
	return s.ldb.Delete(pendingFolderKey(id), nil)
}

func (s *Store) LoadPendingFolders() ([]*model.PendingFolder, error) {
	it := s.ldb.NewIterator(util.BytesPrefix([]byte{prefixPendingFolder}), nil)
	defer it.Release()
	var out []*model.PendingFolder
	for it.Next() {
		id := string(it.Key()[1:])
		f, err := decodePendingFolderRow(id, it.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, it.Error()
}

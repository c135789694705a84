// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package db is the persistent store for the cluster model: a single
// goleveldb database with 1-byte type-prefixed keys (spec.md §6.3). The
// Store type owns the KV mapping; Actor drives it from the model's diff
// stream (spec.md §4.3 "Database Actor").
package db

import (
	"github.com/google/uuid"
	"github.com/syncspirit/syncspirit-go/lib/model"
	"github.com/syncspirit/syncspirit-go/lib/protocol"
)

// Key type prefixes, one byte each (spec.md §6.3).
const (
	prefixDevice         byte = 1
	prefixFolder         byte = 2
	prefixFolderInfo     byte = 3
	prefixFileInfo       byte = 4
	prefixBlockInfo      byte = 5
	prefixIgnoredDevice  byte = 6
	prefixPendingDevice  byte = 7
	prefixIgnoredFolder  byte = 8
	prefixPendingFolder  byte = 9
	prefixVersion        byte = 10
)

// schemaVersion is bumped whenever the key or row encoding changes;
// migrations run in order from the stored version up to this one.
const schemaVersion = 1

func deviceKey(id protocol.DeviceID) []byte {
	k := make([]byte, 0, 33)
	k = append(k, prefixDevice)
	return append(k, id[:]...)
}

func folderKey(id string) []byte {
	k := make([]byte, 0, 1+len(id))
	k = append(k, prefixFolder)
	return append(k, []byte(id)...)
}

func folderInfoKey(folderInfoID model.FolderInfoID) []byte {
	k := make([]byte, 0, 17)
	k = append(k, prefixFolderInfo)
	u := uuid.UUID(folderInfoID)
	return append(k, u[:]...)
}

// fileInfoKey is folder_info uuid (16 bytes) ‖ file uuid (16 bytes), per
// spec.md §6.3, so that a prefix scan on the folder-info half lists every
// file belonging to it.
func fileInfoKey(folderInfoID model.FolderInfoID, fileID model.FileInfoID) []byte {
	k := make([]byte, 0, 33)
	k = append(k, prefixFileInfo)
	fi := uuid.UUID(folderInfoID)
	f := uuid.UUID(fileID)
	k = append(k, fi[:]...)
	return append(k, f[:]...)
}

func fileInfoPrefix(folderInfoID model.FolderInfoID) []byte {
	k := make([]byte, 0, 17)
	k = append(k, prefixFileInfo)
	fi := uuid.UUID(folderInfoID)
	return append(k, fi[:]...)
}

func blockInfoKey(hash model.BlockKey) []byte {
	k := make([]byte, 0, 33)
	k = append(k, prefixBlockInfo)
	return append(k, hash[:]...)
}

func ignoredDeviceKey(id protocol.DeviceID) []byte {
	k := make([]byte, 0, 33)
	k = append(k, prefixIgnoredDevice)
	return append(k, id[:]...)
}

func pendingDeviceKey(id protocol.DeviceID) []byte {
	k := make([]byte, 0, 33)
	k = append(k, prefixPendingDevice)
	return append(k, id[:]...)
}

func ignoredFolderKey(id string) []byte {
	k := make([]byte, 0, 1+len(id))
	k = append(k, prefixIgnoredFolder)
	return append(k, []byte(id)...)
}

func pendingFolderKey(id string) []byte {
	k := make([]byte, 0, 1+len(id))
	k = append(k, prefixPendingFolder)
	return append(k, []byte(id)...)
}

var versionKey = []byte{prefixVersion}

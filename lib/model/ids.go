// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package model implements the in-process authoritative cluster state
// engine described in spec.md §3 and §4.1-§4.2: devices, folders,
// folder-infos, file-infos and blocks, mutated exclusively through a tree
// of typed diffs.
package model

import (
	"github.com/google/uuid"
	"github.com/syncspirit/syncspirit-go/lib/protocol"
)

// DeviceKey is a device's identity: the SHA-256 of its certificate's public
// key (spec.md §3 "Device").
type DeviceKey = protocol.DeviceID

// BlockKey is a block's identity: the SHA-256 of its bytes (spec.md §3
// "Block").
type BlockKey [32]byte

func BlockKeyFromBytes(b []byte) BlockKey {
	var k BlockKey
	copy(k[:], b)
	return k
}

// FolderInfoID is the 16-byte UUID identifying one (folder, device) row.
type FolderInfoID uuid.UUID

func NewFolderInfoID() FolderInfoID { return FolderInfoID(uuid.New()) }

func (id FolderInfoID) String() string { return uuid.UUID(id).String() }

// FileInfoID is the 16-byte UUID identifying one file-info within its
// owning folder-info.
type FileInfoID uuid.UUID

func NewFileInfoID() FileInfoID { return FileInfoID(uuid.New()) }

func (id FileInfoID) String() string { return uuid.UUID(id).String() }

var NilFileInfoID FileInfoID

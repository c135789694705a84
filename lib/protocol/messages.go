// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package protocol implements the Block Exchange Protocol wire format:
// frame layout, message types and the hello handshake described in
// spec.md §6.1.
package protocol

import "fmt"

// FileInfoType mirrors spec.md §6.1 FileInfo.type.
type FileInfoType int

const (
	FileInfoTypeFile FileInfoType = iota
	FileInfoTypeDirectory
	FileInfoTypeSymlink
)

func (t FileInfoType) String() string {
	switch t {
	case FileInfoTypeFile:
		return "FILE"
	case FileInfoTypeDirectory:
		return "DIRECTORY"
	case FileInfoTypeSymlink:
		return "SYMLINK"
	default:
		return "UNKNOWN"
	}
}

// ErrorCode is the Response.code field.
type ErrorCode int

const (
	ErrorCodeNoError ErrorCode = iota
	ErrorCodeGeneric
	ErrorCodeNoSuchFile
	ErrorCodeInvalidFile
)

// Compression is the per-peer compression preference advertised in
// ClusterConfig.
type Compression int

const (
	CompressionMetadata Compression = iota
	CompressionNever
	CompressionAlways
)

// Hello is the very first message exchanged on a new connection.
type Hello struct {
	DeviceName    string
	ClientName    string
	ClientVersion string
}

// Device is one device's membership row inside a Folder inside a
// ClusterConfig.
type Device struct {
	ID                      []byte // 32-byte sha256 device id
	Name                    string
	Addresses               []string
	Compression             Compression
	CertName                string
	MaxSequence             int64
	Introducer              bool
	IndexID                 uint64
	SkipIntroductionRemovals bool
}

// Folder is one folder's row inside a ClusterConfig.
type Folder struct {
	ID      string
	Label   string
	Devices []Device
}

// ClusterConfig enumerates every folder shared with the peer and, for each,
// every device (including ourselves) known to participate in it.
type ClusterConfig struct {
	Folders []Folder
}

// BlockInfo describes one content-addressed chunk of a file.
type BlockInfo struct {
	Offset   int64
	Size     int32
	Hash     []byte // 32-byte sha256
	WeakHash uint32
}

// FileInfo is the wire form of a model.FileInfo (spec.md §3, §6.1).
type FileInfo struct {
	Name          string
	Type          FileInfoType
	Size          int64
	Permissions   uint32
	ModifiedS     int64
	ModifiedNs    int32
	ModifiedBy    ShortID
	Deleted       bool
	Invalid       bool
	NoPermissions bool
	Version       Vector
	Sequence      int64
	BlockSize     int32
	Blocks        []BlockInfo
	SymlinkTarget string
}

func (f FileInfo) String() string {
	return fmt.Sprintf("File{Name:%q, Type:%v, Size:%d, Sequence:%d, Deleted:%v, Blocks:%d}",
		f.Name, f.Type, f.Size, f.Sequence, f.Deleted, len(f.Blocks))
}

func (f FileInfo) IsDirectory() bool {
	return f.Type == FileInfoTypeDirectory
}

func (f FileInfo) IsSymlink() bool {
	return f.Type == FileInfoTypeSymlink
}

// Index carries a full file listing for one folder from one device.
type Index struct {
	Folder string
	Files  []FileInfo
}

// IndexUpdate carries an incremental set of changed FileInfos.
type IndexUpdate struct {
	Folder string
	Files  []FileInfo
}

// Request asks the peer for the bytes of one block.
type Request struct {
	ID             int32
	Folder         string
	Name           string
	Offset         int64
	Size           int32
	Hash           []byte
	FromTemporary  bool
	WeakHash       uint32
}

// Response answers a Request.
type Response struct {
	ID   int32
	Data []byte
	Code ErrorCode
}

// Ping keeps an otherwise-idle connection alive.
type Ping struct{}

// Close announces a voluntary shutdown with a human-readable reason.
type Close struct {
	Reason string
}

// DownloadProgress reports partially-downloaded blocks for in-flight files,
// allowing a peer to avoid re-requesting blocks we already hold from a
// temporary file.
type DownloadProgress struct {
	Folder  string
	Updates []FileDownloadProgressUpdate
}

type FileDownloadProgressUpdate struct {
	Name         string
	Version      Vector
	BlockIndexes []int32
}

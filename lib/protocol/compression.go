// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package protocol

import (
	"bytes"
	"io"

	"github.com/pierrec/lz4/v4"
)

// compressionThreshold is the minimum payload size, in bytes, below which
// we never bother framing an LZ4 block (spec.md §6.1).
const compressionThreshold = 128

// ShouldCompress decides, given the peer's stated preference and the
// message type, whether a payload of the given size should be LZ4-framed
// (spec.md §6.1 "Compression"). Exported for lib/connections, which picks
// the compress argument to WriteMessage per outgoing message.
func ShouldCompress(pref Compression, typ MessageType, size int) bool {
	return shouldCompress(pref, typ, size)
}

func shouldCompress(pref Compression, typ MessageType, size int) bool {
	if size < compressionThreshold {
		return false
	}
	switch pref {
	case CompressionNever:
		return false
	case CompressionAlways:
		return true
	default: // CompressionMetadata
		return typ == MessageTypeIndex || typ == MessageTypeIndexUpdate || typ == MessageTypeClusterConfig
	}
}

func lz4Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func lz4Decompress(data []byte) ([]byte, error) {
	zr := lz4.NewReader(bytes.NewReader(data))
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, err
	}
	return out, nil
}

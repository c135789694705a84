// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/calmh/xdr"
)

// HelloMessageMagic is the 4-byte magic that opens every BEP connection,
// before any length-prefixed frame (spec.md §6.1).
const HelloMessageMagic uint32 = 0x2EA7D90B

// MessageType selects the payload carried by a frame header.
type MessageType int

const (
	MessageTypeClusterConfig MessageType = iota
	MessageTypeIndex
	MessageTypeIndexUpdate
	MessageTypeRequest
	MessageTypeResponse
	MessageTypeDownloadProgress
	MessageTypePing
	MessageTypeClose
)

var (
	ErrUnknownMagic    = errors.New("unknown hello magic")
	ErrClosed          = errors.New("connection closed")
	ErrMessageTooLarge = errors.New("message too large")
)

// MaxMessageLen bounds a single frame's payload, guarding against a
// malicious or buggy peer declaring an unbounded length.
const MaxMessageLen = 256 * 1024 * 1024

// Header is the small typed envelope preceding every non-hello frame.
type Header struct {
	Type        MessageType
	Compression bool
}

func (h Header) encodeXDR(xw *xdr.Writer) error {
	var flags uint32
	if h.Compression {
		flags |= 1
	}
	u := uint32(h.Type)<<8 | flags
	_, err := xw.WriteUint32(u)
	return err
}

func (h *Header) decodeXDR(xr *xdr.Reader) error {
	u := xr.ReadUint32()
	h.Type = MessageType(u >> 8)
	h.Compression = u&1 == 1
	return xr.Error()
}

// ReadHelloMagic reads and validates the 4-byte magic that must open every
// connection.
func ReadHelloMagic(r io.Reader) error {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return err
	}
	if binary.BigEndian.Uint32(buf[:]) != HelloMessageMagic {
		return ErrUnknownMagic
	}
	return nil
}

// WriteHelloMagic writes the 4-byte magic that must open every connection.
func WriteHelloMagic(w io.Writer) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], HelloMessageMagic)
	_, err := w.Write(buf[:])
	return err
}

// readFrame reads one length-prefixed chunk of at most MaxMessageLen bytes.
func readFrame(r io.Reader, lenBytes int) ([]byte, error) {
	lenBuf := make([]byte, lenBytes)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return nil, err
	}
	var n uint32
	switch lenBytes {
	case 2:
		n = uint32(binary.BigEndian.Uint16(lenBuf))
	case 4:
		n = binary.BigEndian.Uint32(lenBuf)
	default:
		return nil, fmt.Errorf("unsupported length prefix size %d", lenBytes)
	}
	if n > MaxMessageLen {
		return nil, ErrMessageTooLarge
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func writeFrame(w io.Writer, lenBytes int, payload []byte) error {
	lenBuf := make([]byte, lenBytes)
	switch lenBytes {
	case 2:
		binary.BigEndian.PutUint16(lenBuf, uint16(len(payload)))
	case 4:
		binary.BigEndian.PutUint32(lenBuf, uint32(len(payload)))
	default:
		return fmt.Errorf("unsupported length prefix size %d", lenBytes)
	}
	if _, err := w.Write(lenBuf); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadMessage reads one complete frame (header + payload) from r, decodes
// the header, LZ4-decompresses the payload if flagged, and returns the
// message type plus the raw (decompressed) payload bytes for further
// decoding by the caller.
func ReadMessage(r io.Reader) (MessageType, []byte, error) {
	hdrBuf, err := readFrame(r, 4)
	if err != nil {
		return 0, nil, err
	}
	var hdr Header
	if err := hdr.decodeXDR(xdr.NewReader(bytes.NewReader(hdrBuf))); err != nil {
		return 0, nil, err
	}

	payload, err := readFrame(r, 4)
	if err != nil {
		return 0, nil, err
	}
	if hdr.Compression {
		payload, err = lz4Decompress(payload)
		if err != nil {
			return 0, nil, err
		}
	}
	return hdr.Type, payload, nil
}

// WriteMessage frames and writes payload, compressing it first when
// compress is true.
func WriteMessage(w io.Writer, typ MessageType, payload []byte, compress bool) error {
	hdr := Header{Type: typ, Compression: compress}
	var hdrBuf bytes.Buffer
	xw := xdr.NewWriter(&hdrBuf)
	if err := hdr.encodeXDR(xw); err != nil {
		return err
	}
	if err := writeFrame(w, 4, hdrBuf.Bytes()); err != nil {
		return err
	}

	out := payload
	if compress {
		var err error
		out, err = lz4Compress(payload)
		if err != nil {
			return err
		}
	}
	return writeFrame(w, 4, out)
}

// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package protocol

import (
	"bytes"
	"crypto/sha256"
	"encoding/base32"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// DeviceID is the SHA-256 digest of a device's TLS certificate public key,
// as described in spec.md §3 "Device".
type DeviceID [32]byte

var EmptyDeviceID = DeviceID{}

var chunkMatcher = regexp.MustCompile("(.{7})")

// DeviceIDFromCert hashes a raw certificate into a device ID.
func DeviceIDFromCert(rawCert []byte) DeviceID {
	return DeviceID(sha256.Sum256(rawCert))
}

func DeviceIDFromBytes(bs []byte) (DeviceID, error) {
	var n DeviceID
	if len(bs) != len(n) {
		return n, errors.New("device ID must be 32 bytes")
	}
	copy(n[:], bs)
	return n, nil
}

func DeviceIDFromString(s string) (DeviceID, error) {
	var n DeviceID
	err := n.UnmarshalText([]byte(s))
	return n, err
}

// String renders the canonical, human-typeable, check-digited form of the
// device ID: four luhn-checked base32 groups of 13 digits, chunked into
// 7-character blocks separated by hyphens.
func (n DeviceID) String() string {
	if n == EmptyDeviceID {
		return ""
	}
	id := base32.StdEncoding.EncodeToString(n[:])
	id = strings.TrimRight(id, "=")
	id, err := luhnify(id)
	if err != nil {
		panic("bug: incorrect length device ID")
	}
	return chunkify(id)
}

func (n DeviceID) Short() string {
	return n.String()[:7]
}

func (n DeviceID) Compare(other DeviceID) int {
	return bytes.Compare(n[:], other[:])
}

func (n DeviceID) Equals(other DeviceID) bool {
	return n == other
}

func (n DeviceID) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

func (n *DeviceID) UnmarshalText(bs []byte) error {
	id := strings.ToUpper(string(bs))
	id = untypeoify(id)
	id = unchunkify(id)

	var err error
	switch len(id) {
	case 56:
		id, err = unluhnify(id)
		if err != nil {
			return err
		}
		fallthrough
	case 52:
		dec, err := base32.StdEncoding.DecodeString(id + "====")
		if err != nil {
			return err
		}
		copy(n[:], dec)
		return nil
	default:
		return errors.New("device ID invalid: incorrect length")
	}
}

func luhnify(s string) (string, error) {
	if len(s) != 52 {
		return "", fmt.Errorf("unsupported string length %d", len(s))
	}

	var b strings.Builder
	for i := 0; i < 4; i++ {
		p := s[i*13 : (i+1)*13]
		l, err := luhn32Generate(p)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "%s%c", p, l)
	}
	return b.String(), nil
}

func unluhnify(s string) (string, error) {
	if len(s) != 56 {
		return "", fmt.Errorf("unsupported string length %d", len(s))
	}

	var b strings.Builder
	for i := 0; i < 4; i++ {
		p := s[i*14 : (i+1)*14-1]
		l, err := luhn32Generate(p)
		if err != nil {
			return "", err
		}
		if g := fmt.Sprintf("%s%c", p, l); g != s[i*14:(i+1)*14] {
			return "", errors.New("device ID check digit incorrect")
		}
		b.WriteString(p)
	}
	return b.String(), nil
}

func chunkify(s string) string {
	s = chunkMatcher.ReplaceAllString(s, "$1-")
	return strings.Trim(s, "-")
}

func unchunkify(s string) string {
	s = strings.ReplaceAll(s, "-", "")
	return strings.ReplaceAll(s, " ", "")
}

func untypeoify(s string) string {
	s = strings.ReplaceAll(s, "0", "O")
	s = strings.ReplaceAll(s, "1", "I")
	return strings.ReplaceAll(s, "8", "B")
}

// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package protocol

import (
	"errors"
	"io"
)

var (
	ErrTooOldVersion = errors.New("peer speaks an unsupported, too old BEP version")
)

// ExchangeHello writes our Hello frame and reads the peer's in return. Per
// spec.md §6.1 the hello frame is the only one without a type/compression
// header: magic, 2-byte length, payload.
func ExchangeHello(rw io.ReadWriter, h Hello) (Hello, error) {
	if err := WriteHelloMagic(rw); err != nil {
		return Hello{}, err
	}
	payload, err := MarshalHello(h)
	if err != nil {
		return Hello{}, err
	}
	if err := writeFrame(rw, 2, payload); err != nil {
		return Hello{}, err
	}

	if err := ReadHelloMagic(rw); err != nil {
		return Hello{}, err
	}
	theirs, err := readFrame(rw, 2)
	if err != nil {
		return Hello{}, err
	}
	return UnmarshalHello(theirs)
}

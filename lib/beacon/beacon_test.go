// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package beacon

import (
	"reflect"
	"testing"

	"github.com/syncspirit/syncspirit-go/lib/model"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	ann := Announce{
		ID:         model.DeviceKey{1, 2, 3, 4},
		Addresses:  []string{"tcp://192.168.1.5:22000", "tcp://[fe80::1]:22000"},
		InstanceID: 0xdeadbeef,
	}

	data, err := Marshal(ann)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(ann, got) {
		t.Fatalf("roundtrip mismatch:\n got  %+v\n want %+v", got, ann)
	}
}

func TestUnmarshalRejectsWrongMagic(t *testing.T) {
	data := []byte{0, 0, 0, 0, 1, 2, 3}
	if _, err := Unmarshal(data); err != ErrUnknownMagic {
		t.Fatalf("expected ErrUnknownMagic, got %v", err)
	}
}

func TestUnmarshalRejectsShortData(t *testing.T) {
	if _, err := Unmarshal([]byte{1, 2}); err != ErrUnknownMagic {
		t.Fatalf("expected ErrUnknownMagic for short data, got %v", err)
	}
}

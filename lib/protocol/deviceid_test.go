// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package protocol

import "testing"

var formatted = "P56IOI7-MZJNU2Y-IQGDREY-DM2MGTI-MGL3BXN-PQ6W5BM-TBBZ4TJ-XZWICQ2"

var formatCases = []string{
	"P56IOI7-MZJNU2Y-IQGDREY-DM2MGTI-MGL3BXN-PQ6W5BM-TBBZ4TJ-XZWICQ2",
	"P56IOI7MZJNU2IQGDREYDM2MGTMGL3BXNPQ6W5BTBBZ4TJXZWICQ",
	"p56ioi7mzjnu2iqgdreydm2mgtmgl3bxnpq6w5btbbz4tjxzwicq",
	"P56IOI7MZJNU2YIQGDREYDM2MGTIMGL3BXNPQ6W5BMTBBZ4TJXZWICQ2",
	"p56ioi7mzjnu2yiqgdreydm2mgtimgl3bxnpq6w5bmtbbz4tjxzwicq2",
}

func TestFormatDeviceID(t *testing.T) {
	for i, tc := range formatCases {
		var id DeviceID
		if err := id.UnmarshalText([]byte(tc)); err != nil {
			t.Errorf("#%d UnmarshalText(%q): %v", i, tc, err)
			continue
		}
		if f := id.String(); f != formatted {
			t.Errorf("#%d String() = %q, want %q", i, f, formatted)
		}
	}
}

var validateCases = []struct {
	s  string
	ok bool
}{
	{"", false},
	{"P56IOI7-MZJNU2Y-IQGDREY-DM2MGTI-MGL3BXN-PQ6W5BM-TBBZ4TJ-XZWICQ2", true},
	{"P56IOI7MZJNU2IQGDREYDM2MGTMGL3BXNPQ6W5BTBBZ4TJXZWICQ", true},
	{"P56IOI7MZJNU2IQGDREYDM2MGTMGL3BXNPQ6W5BTBBZ4TJXZWICQCCCC", false},
}

func TestValidateDeviceID(t *testing.T) {
	for _, tc := range validateCases {
		var id DeviceID
		err := id.UnmarshalText([]byte(tc.s))
		if (err == nil) != tc.ok {
			t.Errorf("UnmarshalText(%q); err=%v, want ok=%v", tc.s, err, tc.ok)
		}
	}
}

func TestDeviceIDFromCert(t *testing.T) {
	id := DeviceIDFromCert([]byte("pretend-certificate-bytes"))
	if id == EmptyDeviceID {
		t.Fatal("DeviceIDFromCert should not produce an empty ID")
	}
	round, err := DeviceIDFromString(id.String())
	if err != nil {
		t.Fatal(err)
	}
	if round != id {
		t.Errorf("round trip through String()/DeviceIDFromString() changed the ID")
	}
}

// Copyright (C) 2015 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package protocol

import "testing"

func TestVectorCompareEqual(t *testing.T) {
	a := Vector{}.Update(1).Update(2)
	b := a.Copy()
	if o := a.Compare(b); o != Equal {
		t.Errorf("Compare() = %v, want Equal", o)
	}
}

func TestVectorCompareGreaterLesser(t *testing.T) {
	a := Vector{}.Update(1)
	b := a.Update(1)
	if o := b.Compare(a); o != Greater {
		t.Errorf("Compare() = %v, want Greater", o)
	}
	if o := a.Compare(b); o != Lesser {
		t.Errorf("Compare() = %v, want Lesser", o)
	}
}

func TestVectorCompareConcurrent(t *testing.T) {
	a := Vector{}.Update(1)
	b := Vector{}.Update(2)
	oa := a.Compare(b)
	ob := b.Compare(a)
	if oa != ConcurrentGreater && oa != ConcurrentLesser {
		t.Errorf("a.Compare(b) = %v, want a Concurrent* ordering", oa)
	}
	if ob != ConcurrentGreater && ob != ConcurrentLesser {
		t.Errorf("b.Compare(a) = %v, want a Concurrent* ordering", ob)
	}
	if oa == ConcurrentGreater && ob != ConcurrentLesser {
		t.Errorf("concurrent comparisons must disagree symmetrically: oa=%v ob=%v", oa, ob)
	}
}

func TestVectorUpdateIsImmutable(t *testing.T) {
	a := Vector{}.Update(1)
	b := a.Update(1)
	if a.Counter(1) != 1 {
		t.Errorf("Update must not mutate the receiver: a.Counter(1) = %d, want 1", a.Counter(1))
	}
	if b.Counter(1) != 2 {
		t.Errorf("b.Counter(1) = %d, want 2", b.Counter(1))
	}
}

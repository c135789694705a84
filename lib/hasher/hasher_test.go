// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package hasher

import (
	"crypto/sha256"
	"testing"
)

func TestPoolMatchesDirectHash(t *testing.T) {
	p := NewPool(4)
	defer p.Stop()

	data := []byte("the quick brown fox jumps over the lazy dog")
	want := sha256.Sum256(data)

	reply := make(chan Result, 1)
	if !p.Submit(Job{Data: data, Reply: reply, Context: "ctx"}) {
		t.Fatal("submit failed")
	}
	res := <-reply
	if res.Hash != want {
		t.Fatalf("hash mismatch: got %x want %x", res.Hash, want)
	}
	if res.Context != "ctx" {
		t.Fatalf("context not round-tripped: got %v", res.Context)
	}
	if res.WeakHash == 0 {
		t.Fatal("expected nonzero weak hash for non-empty input")
	}
}

func TestPoolManyJobs(t *testing.T) {
	p := NewPool(8)
	defer p.Stop()

	const n = 200
	reply := make(chan Result, n)
	for i := 0; i < n; i++ {
		p.Submit(Job{Data: []byte{byte(i)}, Reply: reply, Context: i})
	}
	seen := make(map[int]bool, n)
	for i := 0; i < n; i++ {
		res := <-reply
		seen[res.Context.(int)] = true
	}
	if len(seen) != n {
		t.Fatalf("got %d distinct results, want %d", len(seen), n)
	}
}

func TestHashBytesDeterministic(t *testing.T) {
	h1, w1 := HashBytes([]byte("hello"))
	h2, w2 := HashBytes([]byte("hello"))
	if h1 != h2 || w1 != w2 {
		t.Fatal("HashBytes is not deterministic")
	}
}

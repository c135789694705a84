// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package connections

import (
	"sync"

	"github.com/syncspirit/syncspirit-go/lib/model"
)

// pendingRequest is one outstanding BEP Request, remembered in the ring so
// the matching Response can be correlated back to the file/block it
// belongs to (spec.md §4.4 "issue a BEP Request and remember it in a ring
// indexed by request id").
type pendingRequest struct {
	id           int32
	folderID     string
	folderInfoID model.FolderInfoID
	fileID       model.FileInfoID
	fileName     string
	blockIndex   int
	hash         model.BlockKey
	offset       int64
	size         int32
}

// requestRing pool-allocates request ids per connection (spec.md §5
// "Block-request ids are pool-allocated per connection") and caps the
// number outstanding at once, the mechanical half of the
// blocks_max_requested invariant from spec.md §8.
type requestRing struct {
	mu    sync.Mutex
	next  int32
	slots map[int32]*pendingRequest
	max   int
}

func newRequestRing(max int) *requestRing {
	return &requestRing{slots: make(map[int32]*pendingRequest), max: max}
}

// Len reports the number of currently outstanding requests.
func (r *requestRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}

// Full reports whether the ring is at capacity; the pull loop must not
// issue another Request until it is not.
func (r *requestRing) Full() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots) >= r.max
}

// Add assigns pr a fresh id and stores it, returning the id. Callers must
// have already checked !Full().
func (r *requestRing) Add(pr *pendingRequest) int32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		r.next++
		if r.next < 0 {
			r.next = 1
		}
		if _, taken := r.slots[r.next]; !taken {
			break
		}
	}
	pr.id = r.next
	r.slots[pr.id] = pr
	return pr.id
}

// Take removes and returns the pending request for id, reporting whether
// one was found -- a Response whose id matches nothing outstanding is a
// protocol error (spec.md §7 "response without request").
func (r *requestRing) Take(id int32) (*pendingRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pr, ok := r.slots[id]
	if ok {
		delete(r.slots, id)
	}
	return pr, ok
}

// Drain empties the ring and returns every entry that was outstanding,
// used on shutdown to fail pending block requests with a cancellation
// error (spec.md §5 "Cancellation and timeouts").
func (r *requestRing) Drain() []*pendingRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*pendingRequest, 0, len(r.slots))
	for _, pr := range r.slots {
		out = append(out, pr)
	}
	r.slots = make(map[int32]*pendingRequest)
	return out
}

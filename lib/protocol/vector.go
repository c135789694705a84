// Copyright (C) 2015 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package protocol

// ShortID is the first 64 bits of a DeviceID, used as the key in a Vector.
type ShortID uint64

// ShortIDFromDevice derives the short ID used inside version vectors from a
// full device ID (the first 8 bytes, big-endian).
func ShortIDFromDevice(id DeviceID) ShortID {
	var s ShortID
	for i := 0; i < 8; i++ {
		s <<= 8
		s |= ShortID(id[i])
	}
	return s
}

// Counter is one (device, counter) pair within a Vector.
type Counter struct {
	ID    ShortID
	Value uint64
}

// Vector is an ordered list of Counters, one per device that has ever
// touched the entity it is attached to. See spec.md §3 "Version vector".
type Vector struct {
	Counters []Counter
}

type Ordering int

const (
	Equal Ordering = iota
	Lesser
	Greater
	ConcurrentLesser
	ConcurrentGreater
)

// Update returns a copy of v with id's counter incremented by one (or set to
// one and appended at the end if absent).
func (v Vector) Update(id ShortID) Vector {
	for i, c := range v.Counters {
		if c.ID == id {
			nv := v.Copy()
			nv.Counters[i].Value++
			return nv
		}
	}
	nv := v.Copy()
	nv.Counters = append(nv.Counters, Counter{ID: id, Value: 1})
	return nv
}

// Copy returns a deep copy of v.
func (v Vector) Copy() Vector {
	nv := Vector{Counters: make([]Counter, len(v.Counters))}
	copy(nv.Counters, v.Counters)
	return nv
}

func (v Vector) Counter(id ShortID) uint64 {
	for _, c := range v.Counters {
		if c.ID == id {
			return c.Value
		}
	}
	return 0
}

func (v Vector) IsEmpty() bool {
	return len(v.Counters) == 0
}

// Compare implements the ordering described in spec.md §3: a ≤ b iff for
// every pair in a there is a pair in b with the same id and ≥ counter;
// otherwise a and b are concurrent.
func (v Vector) Compare(other Vector) Ordering {
	comp := 0
	for _, c1 := range v.Counters {
		c2 := other.Counter(c1.ID)
		switch {
		case c1.Value > c2:
			comp |= 1
		case c1.Value < c2:
			comp |= 2
		}
	}
	for _, c2 := range other.Counters {
		if v.Counter(c2.ID) != 0 {
			continue // already compared above
		}
		if c2.Value > 0 {
			comp |= 2
		}
	}

	switch comp {
	case 0:
		return Equal
	case 1:
		return Greater
	case 2:
		return Lesser
	default:
		// Concurrent: break the tie deterministically so replicas converge
		// on the same "winner" without further negotiation, favouring the
		// vector with the lexicographically larger short ID/value pair.
		if v.concurrentWins(other) {
			return ConcurrentGreater
		}
		return ConcurrentLesser
	}
}

// GreaterEqual reports whether v >= other (other's edits are all reflected
// in v).
func (v Vector) GreaterEqual(other Vector) bool {
	o := v.Compare(other)
	return o == Equal || o == Greater
}

// concurrentWins picks a deterministic winner between two concurrent
// vectors by comparing the highest (ID, Value) pair lexicographically.
func (v Vector) concurrentWins(other Vector) bool {
	var va, vb Counter
	for _, c := range v.Counters {
		if c.ID > va.ID || (c.ID == va.ID && c.Value > va.Value) {
			va = c
		}
	}
	for _, c := range other.Counters {
		if c.ID > vb.ID || (c.ID == vb.ID && c.Value > vb.Value) {
			vb = c
		}
	}
	if va.ID != vb.ID {
		return va.ID > vb.ID
	}
	return va.Value > vb.Value
}

// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package model

import "time"

type PullOrder int

const (
	PullOrderRandom PullOrder = iota
	PullOrderAlphabetic
	PullOrderSmallestFirst
	PullOrderLargestFirst
	PullOrderOldestFirst
	PullOrderNewestFirst
)

// FolderType distinguishes a read-write replica from a read-only (send
// only) or receive-only replica.
type FolderType int

const (
	FolderTypeSendReceive FolderType = iota
	FolderTypeSendOnly
	FolderTypeReceiveOnly
)

// Folder is a named share (spec.md §3 "Folder"). Its identity is a short,
// peer-visible string id.
type Folder struct {
	ID              string
	Label           string
	Path            string
	Type            FolderType
	IgnorePermissions bool
	IgnoreDeletes   bool
	TempIndexesDisabled bool
	Paused          bool
	Suspended       bool
	Scheduled       bool
	PullOrder       PullOrder
	RescanInterval  time.Duration
	LastScan        time.Time

	// synchronizingCount is nonzero while at least one advance is in
	// flight for this folder; the scheduler refuses to re-scan while it is
	// nonzero (spec.md §4.4 invariants).
	synchronizingCount int
}

func NewFolder(id, label, path string) *Folder {
	return &Folder{
		ID:             id,
		Label:          label,
		Path:           path,
		RescanInterval: 60 * time.Second,
	}
}

func (f *Folder) Copy() *Folder {
	nf := *f
	return &nf
}

// IsSynchronizing reports whether any advance is currently outstanding
// against this folder.
func (f *Folder) IsSynchronizing() bool { return f.synchronizingCount > 0 }

// BeginSynchronizing increments the in-flight advance counter, taken at the
// first block of a file transfer.
func (f *Folder) BeginSynchronizing() { f.synchronizingCount++ }

// EndSynchronizing decrements the in-flight advance counter, taken at the
// last block of a file transfer.
func (f *Folder) EndSynchronizing() {
	if f.synchronizingCount > 0 {
		f.synchronizingCount--
	}
}

func (f *Folder) CanScan() bool {
	return !f.Paused && !f.Suspended && !f.IsSynchronizing()
}

// IgnoredFolder records that the user has explicitly told us never to turn
// a given pending folder announcement into a real share (spec.md §6.3
// "ignored_folder").
type IgnoredFolder struct {
	ID    string
	Label string
}

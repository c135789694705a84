// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package model

import "context"

// PeerFolderAdvert is one folder row out of a peer's ClusterConfig, already
// stripped of wire-format detail.
type PeerFolderAdvert struct {
	FolderID    string
	Label       string
	IndexID     uint64
	MaxSequence int64
	WeShare     bool // we already share this folder with this peer
}

// PeerClusterUpdate is the composite diff built from an incoming
// ClusterConfig (spec.md §4.1 "Peer cluster update"). For each folder the
// peer advertises it decides one of {new pending, confirmed existing,
// reset (peer's index changed), reshared (we lost their folder-info)}, and
// for every folder-info we already hold for this peer that the new
// ClusterConfig no longer lists at all it decides {removed (the peer
// stopped sharing it)}. It emits children in the fixed order:
// reset-folder-infos → upsert-folder-infos → remove-folder-infos →
// remove-pending-folders → reshare-folder-infos → add-pending-folders.
// RemoveFolderInfo releases a folder-info's block refs itself, so there is
// no separate remove-blocks step.
type PeerClusterUpdate struct {
	Base
	PeerID DeviceKey
}

// NewPeerClusterUpdate classifies each advert against the current cluster
// state and builds the ordered child tree described above. A folder-info we
// hold for peerID that no advert confirms this round means the peer stopped
// sharing that folder with us (it simply dropped off their ClusterConfig),
// per original_source/src/model/diff/peer/cluster_update.cpp: the stale
// folder-info is removed the same way an index-id reset removes one.
func NewPeerClusterUpdate(c *Cluster, peerID DeviceKey, adverts []PeerFolderAdvert) *PeerClusterUpdate {
	d := &PeerClusterUpdate{PeerID: peerID}

	var (
		resetFolderInfos     []Diff
		upsertFolderInfos    []Diff
		removeFolderInfos    []Diff
		removePendingFolders []Diff
		reshareFolderInfos   []Diff
		addPendingFolders    []Diff
	)

	confirmed := make(map[string]struct{}, len(adverts))

	for _, a := range adverts {
		confirmed[a.FolderID] = struct{}{}

		if !a.WeShare {
			if _, ok := c.PendingFolder(a.FolderID); !ok {
				addPendingFolders = append(addPendingFolders, NewAddPendingFolder(&PendingFolder{
					ID:       a.FolderID,
					Label:    a.Label,
					DeviceID: peerID,
				}))
			}
			continue
		}

		if _, ok := c.PendingFolder(a.FolderID); ok {
			removePendingFolders = append(removePendingFolders, NewRemovePendingFolder(a.FolderID))
		}

		existing, ok := c.FolderInfo(a.FolderID, peerID)
		switch {
		case !ok:
			// We lost track of their folder-info (or never had one):
			// reshare it from scratch.
			nfi := NewFolderInfo(a.FolderID, peerID)
			nfi.IndexID = a.IndexID
			reshareFolderInfos = append(reshareFolderInfos, NewReshareFolderInfo(nfi))

		case existing.IndexID != a.IndexID:
			// The peer's index id changed: their whole view for this
			// folder must be discarded and rebuilt, forcing a full
			// re-fetch.
			resetFolderInfos = append(resetFolderInfos, NewRemoveFolderInfo(existing.ID))
			nfi := NewFolderInfo(a.FolderID, peerID)
			nfi.IndexID = a.IndexID
			upsertFolderInfos = append(upsertFolderInfos, NewUpsertFolderInfo(nfi))

		default:
			// Confirmed existing: nothing structural changes here; the
			// peer controller's outbound/pull loops will compare
			// max_sequence on their own.
		}
	}

	// Anything we still hold for this peer that the new ClusterConfig
	// didn't even mention means the peer stopped sharing it: drop it.
	for _, fi := range c.FolderInfosForDevice(peerID) {
		if _, ok := confirmed[fi.FolderID]; ok {
			continue
		}
		removeFolderInfos = append(removeFolderInfos, NewRemoveFolderInfo(fi.ID))
	}

	d.SetChild(chain(append(append(append(append(append(
		append([]Diff{}, resetFolderInfos...),
		upsertFolderInfos...),
		removeFolderInfos...),
		removePendingFolders...),
		reshareFolderInfos...),
		addPendingFolders...)...))
	return d
}

func (d *PeerClusterUpdate) Name() string { return "peer_cluster_update" }

func (d *PeerClusterUpdate) Apply(c *Cluster, ctrl ApplyController) error {
	return applyNode(&d.Base, c, ctrl, func() error { return ctrl.Journal(d) })
}

func (d *PeerClusterUpdate) Visit(v Visitor, ctx context.Context) error {
	return visitNode(&d.Base, v, ctx, func() error { return nil })
}

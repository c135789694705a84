// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package connections

import (
	"context"

	"github.com/syncspirit/syncspirit-go/lib/model"
	"github.com/syncspirit/syncspirit-go/lib/protocol"
)

// sendInitialIndexes pushes a full Index for every folder we share with
// this peer once the cluster-config exchange has settled who shares what
// (spec.md §4.4 "updates streamer ... an initial full Index per shared
// folder").
func (c *Controller) sendInitialIndexes() {
	for _, peerFI := range c.Cluster.FolderInfosForDevice(c.peerID) {
		localFI, ok := c.Cluster.FolderInfo(peerFI.FolderID, c.LocalDeviceID)
		if !ok {
			continue
		}
		files := localFI.Files()
		wire := make([]protocol.FileInfo, len(files))
		for i, f := range files {
			wire[i] = f.ToProto(f.Name)
		}
		c.send(protocol.Index{Folder: peerFI.FolderID, Files: wire})
	}
}

// shareFolderID resolves a folder-info id to the folder id it belongs to,
// used to test whether this connection's peer is a member.
func (c *Controller) shareFolderID(folderInfoID model.FolderInfoID) (string, bool) {
	fi, ok := c.Cluster.FolderInfoByID(folderInfoID)
	if !ok {
		return "", false
	}
	if fi.DeviceID != c.LocalDeviceID {
		return "", false
	}
	if _, shared := c.Cluster.FolderInfo(fi.FolderID, c.peerID); !shared {
		return "", false
	}
	return fi.FolderID, true
}

// VisitAdvance streams a locally-advanced file to this peer as an
// IndexUpdate, if the folder it belongs to is shared with them (spec.md
// §4.4 "updates streamer ... forward every local Advance as an
// IndexUpdate").
func (c *Controller) VisitAdvance(d *model.Advance, _ context.Context) error {
	folderID, ok := c.shareFolderID(d.FolderInfoID)
	if !ok {
		return nil
	}
	c.send(protocol.IndexUpdate{Folder: folderID, Files: []protocol.FileInfo{d.File.ToProto(d.File.Name)}})
	return nil
}

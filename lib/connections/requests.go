// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package connections

import (
	"path/filepath"

	"github.com/syncspirit/syncspirit-go/lib/protocol"
)

// readResult is what a background ReadBlock call hands back to the event
// loop once it completes.
type readResult struct {
	id       int32
	folderID string
	path     string
	data     []byte
	err      error
}

// serveRequest answers an inbound BEP Request (spec.md §4.4 "Inbound
// request service"). Reads run off the event-loop goroutine so a slow disk
// never stalls the pull side of the same connection; back-pressure caps
// how many can be outstanding at once rather than blocking the reader.
func (c *Controller) serveRequest(m protocol.Request) {
	if c.inFlightReads >= c.maxInboundReads() {
		c.send(protocol.Response{ID: m.ID, Code: protocol.ErrorCodeGeneric})
		return
	}

	fi, ok := c.Cluster.FolderInfo(m.Folder, c.LocalDeviceID)
	if !ok {
		c.send(protocol.Response{ID: m.ID, Code: protocol.ErrorCodeNoSuchFile})
		return
	}
	folder, ok := c.Cluster.Folder(m.Folder)
	if !ok {
		c.send(protocol.Response{ID: m.ID, Code: protocol.ErrorCodeNoSuchFile})
		return
	}
	file, ok := fi.FileByName(m.Name)
	if !ok || file.Deleted || file.Invalid {
		c.send(protocol.Response{ID: m.ID, Code: protocol.ErrorCodeNoSuchFile})
		return
	}

	path := filepath.Join(folder.Path, m.Name)
	c.inFlightReads++
	id, offset, size, folderID := m.ID, m.Offset, m.Size, m.Folder
	go func() {
		data, err := c.fsCtx.ReadBlock(path, offset, size)
		select {
		case c.readResults <- readResult{id: id, folderID: folderID, path: path, data: data, err: err}:
		case <-c.done:
		}
	}()
}

// deliverReadResult turns a completed background read into a BEP Response,
// reporting an I/O failure for the UI surface on error (spec.md §4.4, §7
// "No error is silently discarded").
func (c *Controller) deliverReadResult(rr readResult) {
	if rr.err != nil {
		c.ioFailure(rr.folderID, rr.path, "read_block", rr.err)
		c.send(protocol.Response{ID: rr.id, Code: protocol.ErrorCodeGeneric})
		return
	}
	c.send(protocol.Response{ID: rr.id, Data: rr.data, Code: protocol.ErrorCodeNoError})
}

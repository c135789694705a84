// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package connections

import (
	"fmt"

	"github.com/syncspirit/syncspirit-go/lib/hasher"
	"github.com/syncspirit/syncspirit-go/lib/protocol"
)

// digestJob is the Context round-tripped through the hasher pool for one
// block response: the hasher only ever returns a hash, so the bytes being
// verified and the pending request they answer travel alongside it
// (spec.md §4.4 "On digest").
type digestJob struct {
	pr   *pendingRequest
	data []byte
}

// onResponse correlates an inbound Response with the Request that caused
// it and, on success, submits its payload for digest verification (spec.md
// §4.4 "On a Response: look up the pending request by id"). A response
// whose id matches nothing outstanding is a protocol error.
func (c *Controller) onResponse(m protocol.Response) error {
	pr, ok := c.ring.Take(m.ID)
	if !ok {
		return fmt.Errorf("%w: id=%d", errResponseMismatch, m.ID)
	}
	inFlightBlocks.WithLabelValues(c.peerID.Short()).Set(float64(c.ring.Len()))

	ft, open := c.fetches[pr.fileID]
	if !open {
		// The fetch was aborted (e.g. shutdown) while this response was
		// in flight; nothing left to do with it.
		return nil
	}

	if m.Code != protocol.ErrorCodeNoError {
		l.Warnf("peer %s declined block %d of %q: %v", c.peerID, pr.blockIndex, pr.fileName, m.Code)
		ft.outstanding--
		c.retryBlock(ft, pr)
		return nil
	}

	job := hasher.Job{
		Data:    m.Data,
		Reply:   c.digestResults,
		Context: &digestJob{pr: pr, data: m.Data},
	}
	if !c.Hasher.Submit(job) {
		ft.outstanding--
		c.retryBlock(ft, pr)
	}
	return nil
}

// handleDigest is fed by the hasher pool once a Response's payload has
// been hashed (spec.md §4.4 "On digest: if mismatch, mark the peer file
// unreachable and release the block slot. If match, issue an append-block
// I/O").
func (c *Controller) handleDigest(res hasher.Result) {
	dj, ok := res.Context.(*digestJob)
	if !ok {
		return
	}
	pr := dj.pr

	ft, open := c.fetches[pr.fileID]
	if !open {
		return
	}

	if res.Hash != pr.hash {
		digestMismatchTotal.WithLabelValues(c.peerID.Short()).Inc()
		l.Warnf("digest mismatch for block %d of %q from %s; marking unreachable", pr.blockIndex, pr.fileName, c.peerID)
		ft.outstanding--
		c.markUnreachable(ft, pr)
		return
	}

	folderID, tmpPath, offset, data := ft.folder.ID, ft.tmpPath, pr.offset, dj.data
	c.performWrite(func() error {
		defer func() { ft.outstanding--; c.maybeFinish(ft) }()
		if err := c.fsCtx.AppendBlock(tmpPath, offset, data); err != nil {
			c.ioFailure(folderID, tmpPath, "append_block", err)
			return err
		}
		return nil
	})
}

// retryBlock re-issues a Request for the same block after a peer-declined
// response or a hasher-submission failure, subject to the same ring
// capacity as any other fetch work. A digest mismatch is never retried --
// see markUnreachable.
func (c *Controller) retryBlock(ft *fetchState, pr *pendingRequest) {
	if c.ring.Full() || !c.requestLimiter.Allow() {
		ft.nextBlock = min(ft.nextBlock, pr.blockIndex)
		return
	}
	ft.outstanding++
	id := c.ring.Add(pr)
	blocksRequestedTotal.WithLabelValues(c.peerID.Short()).Inc()
	inFlightBlocks.WithLabelValues(c.peerID.Short()).Set(float64(c.ring.Len()))
	c.send(protocol.Request{
		ID:     id,
		Folder: pr.folderID,
		Name:   pr.fileName,
		Offset: pr.offset,
		Size:   pr.size,
		Hash:   append([]byte(nil), pr.hash[:]...),
	})
}

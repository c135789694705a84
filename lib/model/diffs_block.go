// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package model

import "context"

// AddBlocks registers blocks new to the cluster (spec.md §3 "Block"
// lifecycle). Blocks already present only get their ref count bumped.
type AddBlocks struct {
	Base
	Blocks []BlockRef
}

func NewAddBlocks(blocks []BlockRef) *AddBlocks { return &AddBlocks{Blocks: blocks} }

func (d *AddBlocks) Name() string { return "add_blocks" }

func (d *AddBlocks) Apply(c *Cluster, ctrl ApplyController) error {
	return applyNode(&d.Base, c, ctrl, func() error {
		for _, b := range d.Blocks {
			c.addBlockRef(b.Hash, b.Size, b.WeakHash)
		}
		return ctrl.Journal(d)
	})
}

func (d *AddBlocks) Visit(v Visitor, ctx context.Context) error {
	return visitNode(&d.Base, v, ctx, func() error { return v.VisitAddBlocks(d, ctx) })
}

// RemoveBlocks releases one reference per listed hash, garbage collecting
// any block whose ref count reaches zero.
type RemoveBlocks struct {
	Base
	Hashes []BlockKey
}

func NewRemoveBlocks(hashes []BlockKey) *RemoveBlocks { return &RemoveBlocks{Hashes: hashes} }

func (d *RemoveBlocks) Name() string { return "remove_blocks" }

func (d *RemoveBlocks) Apply(c *Cluster, ctrl ApplyController) error {
	return applyNode(&d.Base, c, ctrl, func() error {
		for _, h := range d.Hashes {
			c.removeBlockRef(h)
		}
		return ctrl.Journal(d)
	})
}

func (d *RemoveBlocks) Visit(v Visitor, ctx context.Context) error {
	return visitNode(&d.Base, v, ctx, func() error { return v.VisitRemoveBlocks(d, ctx) })
}

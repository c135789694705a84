// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package model

import "context"

// Diff is an immutable description of a state transition (spec.md §4.1).
// Every diff has two optional links, Child (applied/visited before) and
// Sibling (applied/visited after); composite diffs build this tree eagerly
// in their constructor.
type Diff interface {
	// Apply mutates the in-memory cluster: apply own effect, then child,
	// then sibling.
	Apply(c *Cluster, ctrl ApplyController) error
	// Visit is a pure notification traversal: visit self, then child,
	// then sibling. It never mutates the cluster.
	Visit(v Visitor, ctx context.Context) error
	// Name identifies the diff type for tainting/logging.
	Name() string
	Child() Diff
	Sibling() Diff

	setSibling(Diff)
}

// Base is embedded by every concrete diff type; it stores the child/sibling
// links and the shared traversal helpers.
type Base struct {
	child   Diff
	sibling Diff
}

func (b *Base) Child() Diff       { return b.child }
func (b *Base) Sibling() Diff     { return b.sibling }
func (b *Base) setSibling(d Diff) { b.sibling = d }
func (b *Base) SetChild(d Diff)   { b.child = d }

// chain links a sequence of diffs as successive siblings in the order
// given, skipping any nils (composite diffs frequently only emit a subset
// of their possible children), and returns the head or nil if every entry
// was nil.
func chain(diffs ...Diff) Diff {
	var filtered []Diff
	for _, d := range diffs {
		if d != nil {
			filtered = append(filtered, d)
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	for i := 0; i < len(filtered)-1; i++ {
		filtered[i].setSibling(filtered[i+1])
	}
	return filtered[0]
}

// ApplyController is the indirection point a diff's Apply goes through to
// mutate persistent state alongside the in-memory cluster; the database
// actor provides an implementation that journals the change within a
// single write transaction (spec.md §4.1, §4.3).
type ApplyController interface {
	Journal(d Diff) error
}

// NopApplyController discards journal requests; used by tests that only
// need the in-memory effect.
type NopApplyController struct{}

func (NopApplyController) Journal(Diff) error { return nil }

// ApplyDiff is the coordinator's single entry point for mutating the
// cluster. It enforces the tainted-cluster failure discipline from
// spec.md §4.1: once any apply has failed, every subsequent call is a
// no-op that returns a *TaintedError naming the diff that failed.
func ApplyDiff(c *Cluster, ctrl ApplyController, d Diff) error {
	if c.tainted {
		return c.taintedErr
	}
	if err := d.Apply(c, ctrl); err != nil {
		c.taint(d.Name())
		return err
	}
	return nil
}

// applyNode runs applySelf, then recurses into child and sibling. Shared by
// every concrete diff's Apply method.
func applyNode(base *Base, c *Cluster, ctrl ApplyController, applySelf func() error) error {
	if err := applySelf(); err != nil {
		return err
	}
	if base.child != nil {
		if err := base.child.Apply(c, ctrl); err != nil {
			return err
		}
	}
	if base.sibling != nil {
		if err := base.sibling.Apply(c, ctrl); err != nil {
			return err
		}
	}
	return nil
}

// visitNode mirrors applyNode for the pure-notification traversal.
func visitNode(base *Base, v Visitor, ctx context.Context, visitSelf func() error) error {
	if err := visitSelf(); err != nil {
		return err
	}
	if base.child != nil {
		if err := base.child.Visit(v, ctx); err != nil {
			return err
		}
	}
	if base.sibling != nil {
		if err := base.sibling.Visit(v, ctx); err != nil {
			return err
		}
	}
	return nil
}

// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package scheduler implements the scan scheduler (spec.md §4.6): a FIFO of
// pending (folder, sub-path) scan requests, deduplicated by prefix
// containment, plus a timer for the earliest upcoming rescan deadline
// across folders that aren't otherwise queued.
package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/syncspirit/syncspirit-go/lib/logger"
	"github.com/syncspirit/syncspirit-go/lib/model"
)

var l = logger.New("scheduler")

// request is one queued (folder, sub-path) scan. An empty SubPath means
// "the whole folder" and contains every other sub-path of that folder.
type request struct {
	FolderID string
	SubPath  string
}

// contains reports whether a already covers b -- same folder, and either a
// has no sub-path restriction or b's sub-path is a's sub-path or a
// descendant of it (spec.md §4.6, scenario 6).
func (a request) contains(b request) bool {
	if a.FolderID != b.FolderID {
		return false
	}
	if a.SubPath == "" {
		return true
	}
	return b.SubPath == a.SubPath || strings.HasPrefix(b.SubPath, a.SubPath+"/")
}

// Scheduler decides when to scan which folder, deduplicating and merging
// pending scan requests (spec.md §2 "Scheduler", §4.6).
type Scheduler struct {
	cluster *model.Cluster

	// ScanFunc is invoked with the chosen (folder, sub-path) once the
	// scheduler decides to start a scan; the caller runs the actual
	// scanner.Scan and feeds completion back via Finished.
	ScanFunc func(ctx context.Context, folderID, subPath string)

	requests chan request
	finished chan string
	now      func() time.Time

	queue      []request
	inProgress bool
}

// New constructs a Scheduler bound to cluster. Its now field defaults to
// time.Now; tests in this package overwrite it to control rescan-deadline
// arithmetic.
func New(cluster *model.Cluster, scanFunc func(ctx context.Context, folderID, subPath string)) *Scheduler {
	return &Scheduler{
		cluster:  cluster,
		ScanFunc: scanFunc,
		requests: make(chan request, 64),
		finished: make(chan string, 64),
		now:      time.Now,
	}
}

// Request enqueues a scan request for folderID, optionally restricted to
// subPath ("" scans the whole folder). Safe to call from any goroutine.
func (s *Scheduler) Request(folderID, subPath string) {
	s.requests <- request{FolderID: folderID, SubPath: subPath}
}

// Finished reports that a previously started scan of folderID has
// completed, letting the scheduler consider its next candidate.
func (s *Scheduler) Finished(folderID string) {
	s.finished <- folderID
}

// Serve runs the scheduler loop until ctx is cancelled, matching the
// suture.Service convention used by the rest of this module's long-lived
// components (spec.md §9 "any task/channel ... is acceptable").
func (s *Scheduler) Serve(ctx context.Context) error {
	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	armTimer := func() {
		d, ok := s.nextDeadlineDuration()
		if !ok {
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(d)
	}

	s.rescheduleIfIdle(armTimer)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case req := <-s.requests:
			s.enqueue(req)
			s.rescheduleIfIdle(armTimer)

		case folderID := <-s.finished:
			s.inProgress = false
			l.Debugf("scan finished for folder %q", folderID)
			s.rescheduleIfIdle(armTimer)

		case <-timer.C:
			s.rescheduleIfIdle(armTimer)
		}
	}
}

// enqueue merges req into the pending queue: any queued request req
// already covers is dropped, and if some queued request already covers
// req, req itself is dropped (spec.md §4.6).
func (s *Scheduler) enqueue(req request) {
	for _, q := range s.queue {
		if q.contains(req) {
			return
		}
	}
	kept := s.queue[:0]
	for _, q := range s.queue {
		if !req.contains(q) {
			kept = append(kept, q)
		}
	}
	s.queue = append(kept, req)
}

// rescheduleIfIdle starts the next scan immediately if one is due, or
// re-arms the timer for the earliest future deadline (spec.md §4.6).
func (s *Scheduler) rescheduleIfIdle(armTimer func()) {
	if s.inProgress {
		return
	}
	if s.startNextQueued() {
		return
	}
	if s.startDueFolder() {
		return
	}
	armTimer()
}

func (s *Scheduler) startNextQueued() bool {
	for len(s.queue) > 0 {
		req := s.queue[0]
		s.queue = s.queue[1:]
		folder, ok := s.cluster.Folder(req.FolderID)
		if !ok || !folder.CanScan() {
			continue
		}
		s.startScan(req.FolderID, req.SubPath)
		return true
	}
	return false
}

func (s *Scheduler) startDueFolder() bool {
	folderID, ok := s.dueFolder(s.now())
	if !ok {
		return false
	}
	s.startScan(folderID, "")
	return true
}

// dueFolder finds the folder whose rescan deadline has already passed,
// preferring the earliest deadline and, on a tie, the longer interval
// (spec.md §4.6; ported from the original's folder-selection loop).
func (s *Scheduler) dueFolder(now time.Time) (string, bool) {
	var best *model.Folder
	var bestDeadline time.Time
	for _, f := range s.cluster.Folders() {
		if f.RescanInterval <= 0 || !f.CanScan() {
			continue
		}
		deadline := f.LastScan.Add(f.RescanInterval)
		if f.LastScan.IsZero() {
			deadline = now
		}
		if best == nil || deadline.Before(bestDeadline) ||
			(deadline.Equal(bestDeadline) && f.RescanInterval > best.RescanInterval) {
			best = f
			bestDeadline = deadline
		}
	}
	if best == nil || bestDeadline.After(now) {
		return "", false
	}
	return best.ID, true
}

// nextDeadlineDuration reports how long until the earliest due folder
// becomes due, for arming the idle timer.
func (s *Scheduler) nextDeadlineDuration() (time.Duration, bool) {
	now := s.now()
	var best time.Duration
	found := false
	for _, f := range s.cluster.Folders() {
		if f.RescanInterval <= 0 || !f.CanScan() {
			continue
		}
		deadline := f.LastScan.Add(f.RescanInterval)
		if f.LastScan.IsZero() {
			deadline = now
		}
		d := deadline.Sub(now)
		if d < 0 {
			d = 0
		}
		if !found || d < best {
			best = d
			found = true
		}
	}
	return best, found
}

func (s *Scheduler) startScan(folderID, subPath string) {
	l.Debugf("initiating scan of folder %q sub-path %q", folderID, subPath)
	s.inProgress = true
	if s.ScanFunc != nil {
		go s.ScanFunc(context.Background(), folderID, subPath)
	}
}

// Copyright (C) 2016 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package fswatcher implements the filesystem watcher (spec.md §2): it
// subscribes to OS-native change notifications for a folder and coalesces
// them within a retention window into batches of changed sub-paths, so the
// scheduler can request a targeted rescan instead of a full walk.
package fswatcher

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/syncspirit/syncspirit-go/lib/logger"
	"github.com/syncthing/notify"
)

var l = logger.New("fswatcher")

// maxFiles bounds how many distinct root-level paths are tracked before the
// whole folder is reported as changed instead (spec.md §4.5's scanner then
// does a full walk). maxFilesPerDir is the equivalent bound per directory,
// above which the directory itself is reported rather than each child.
var (
	maxFiles       = 512
	maxFilesPerDir = 128
)

// watchedEvents is the set of notify.Event bits this watcher subscribes to:
// anything that can change a file's content, existence or location.
const watchedEvents = notify.Create | notify.Remove | notify.Write | notify.Rename

// Watcher coalesces filesystem change notifications for one folder into
// periodic batches of changed, folder-relative sub-paths.
type Watcher struct {
	folderID   string
	folderPath string
	delay      time.Duration

	backendChan chan notify.EventInfo
	notifyChan  chan []string
	stop        chan struct{}
	stopped     chan struct{}
}

// New creates a Watcher for folderPath, coalescing events within delay
// (spec.md §2 "coalesces events within a retention window").
func New(folderID, folderPath string, delay time.Duration) *Watcher {
	if delay <= 0 {
		delay = time.Second
	}
	return &Watcher{
		folderID:    folderID,
		folderPath:  folderPath,
		delay:       delay,
		backendChan: make(chan notify.EventInfo, maxFiles),
		notifyChan:  make(chan []string),
		stop:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}
}

// C returns the channel of coalesced, folder-relative changed sub-paths.
// "." means the whole folder should be rescanned.
func (w *Watcher) C() <-chan []string { return w.notifyChan }

// Serve subscribes to the OS backend and runs the aggregation loop until
// Stop is called.
func (w *Watcher) Serve() error {
	defer close(w.stopped)

	root := filepath.Join(w.folderPath, "...")
	if err := notify.Watch(root, w.backendChan, watchedEvents); err != nil {
		return err
	}
	defer notify.Stop(w.backendChan)

	w.mainLoop()
	return nil
}

// Stop halts the watcher and blocks until its goroutine has exited.
func (w *Watcher) Stop() {
	close(w.stop)
	<-w.stopped
}

func (w *Watcher) mainLoop() {
	agg := newAggregator()
	timer := time.NewTimer(w.delay)
	if !timer.Stop() {
		<-timer.C
	}
	timerRunning := false

	for {
		select {
		case <-w.stop:
			return

		case ev := <-w.backendChan:
			rel, ok := w.relativize(ev.Path())
			if !ok {
				continue // change outside the watched folder (e.g. a stale event after rename)
			}
			agg.add(rel)
			if !timerRunning {
				timer.Reset(w.delay)
				timerRunning = true
			}

		case <-timer.C:
			timerRunning = false
			if batch := agg.flush(); len(batch) > 0 {
				select {
				case w.notifyChan <- batch:
				case <-w.stop:
					return
				}
			}
		}
	}
}

// relativize converts an absolute backend path into one relative to the
// watched folder, rejecting paths that have escaped it (spec.md scenario
// "no changes from outside the folder make it in").
func (w *Watcher) relativize(absPath string) (string, bool) {
	rel, err := filepath.Rel(w.folderPath, absPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.Clean(rel), true
}

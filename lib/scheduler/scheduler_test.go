// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/syncspirit/syncspirit-go/lib/model"
)

func newTestCluster(t *testing.T, folderID string) *model.Cluster {
	t.Helper()
	c := model.NewCluster(16)
	folder := model.NewFolder(folderID, folderID, "/tmp/"+folderID)
	folder.RescanInterval = 0 // disable deadline-driven scans unless a test wants them
	if err := model.ApplyDiff(c, model.NopApplyController{}, model.NewUpsertFolder(folder)); err != nil {
		t.Fatalf("upsert folder: %v", err)
	}
	return c
}

func TestEnqueueMergesNarrowerIntoBroader(t *testing.T) {
	s := New(newTestCluster(t, "f"), nil)

	s.enqueue(request{FolderID: "f", SubPath: "a/b"})
	s.enqueue(request{FolderID: "f", SubPath: "a/b/c"})
	s.enqueue(request{FolderID: "f", SubPath: "a"})

	if len(s.queue) != 1 {
		t.Fatalf("expected exactly one merged request, got %d: %+v", len(s.queue), s.queue)
	}
	if s.queue[0].SubPath != "a" {
		t.Fatalf("expected the broad request %q to win, got %q", "a", s.queue[0].SubPath)
	}
}

func TestEnqueueBroaderFirstDropsNarrower(t *testing.T) {
	s := New(newTestCluster(t, "f"), nil)

	s.enqueue(request{FolderID: "f", SubPath: "a"})
	s.enqueue(request{FolderID: "f", SubPath: "a/b"})

	if len(s.queue) != 1 || s.queue[0].SubPath != "a" {
		t.Fatalf("expected the already-queued broad request to absorb the narrower one, got %+v", s.queue)
	}
}

func TestEnqueueDifferentFoldersKeepsBoth(t *testing.T) {
	s := New(newTestCluster(t, "f"), nil)
	s.enqueue(request{FolderID: "f", SubPath: "a"})
	s.enqueue(request{FolderID: "g", SubPath: "a"})

	if len(s.queue) != 2 {
		t.Fatalf("expected two independent requests, got %d", len(s.queue))
	}
}

func TestServeStartsQueuedScan(t *testing.T) {
	c := newTestCluster(t, "f")

	var mu sync.Mutex
	var started []string
	done := make(chan struct{}, 1)

	var s *Scheduler
	s = New(c, func(_ context.Context, folderID, subPath string) {
		mu.Lock()
		started = append(started, folderID+":"+subPath)
		mu.Unlock()
		s.Finished(folderID)
		done <- struct{}{}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Serve(ctx)

	s.Request("f", "")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for scan to start")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(started) != 1 || started[0] != "f:" {
		t.Fatalf("unexpected scans started: %v", started)
	}
}

func TestDueFolderPrefersEarliestDeadline(t *testing.T) {
	c := model.NewCluster(16)
	now := time.Now()

	slow := model.NewFolder("slow", "slow", "/tmp/slow")
	slow.RescanInterval = time.Hour
	slow.LastScan = now.Add(-2 * time.Hour)
	fast := model.NewFolder("fast", "fast", "/tmp/fast")
	fast.RescanInterval = time.Minute
	fast.LastScan = now.Add(-2 * time.Minute)

	for _, f := range []*model.Folder{slow, fast} {
		if err := model.ApplyDiff(c, model.NopApplyController{}, model.NewUpsertFolder(f)); err != nil {
			t.Fatalf("upsert folder: %v", err)
		}
	}

	s := New(c, nil)
	s.now = func() time.Time { return now }

	id, ok := s.dueFolder(now)
	if !ok {
		t.Fatal("expected a due folder")
	}
	if id != "slow" {
		t.Fatalf("expected the most overdue folder %q, got %q", "slow", id)
	}
}

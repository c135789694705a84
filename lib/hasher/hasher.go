// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package hasher implements the hasher pool (spec.md §2 "Hasher pool"): N
// parallel workers computing the SHA-256 (and, alongside it, the weak
// Adler-like hash from spec.md §3 "Block") of byte slices, routing each
// result to the reply address the caller supplied with the job.
package hasher

import (
	"crypto/sha256"

	"github.com/chmduquesne/rollinghash/adler32"
	"github.com/syncspirit/syncspirit-go/lib/logger"
)

var l = logger.New("hasher")

// Job is one unit of work submitted to the pool: hash Data and deliver the
// Result to Reply. Context is opaque to the pool and round-tripped back on
// Result so the caller (scanner, peer controller) can correlate the
// response without a separate lookup table.
type Job struct {
	Data    []byte
	Reply   chan<- Result
	Context interface{}
}

// Result is what a worker sends back once Data has been hashed.
type Result struct {
	Hash     [32]byte
	WeakHash uint32
	Context  interface{}
}

// Pool is N goroutines pulling from a shared job queue. There is no
// per-worker addressing: any worker may service any job, and ordering
// across jobs submitted from different sources is not guaranteed -- only
// the reply channel correlates a result with its request (spec.md §2
// "Hasher pool").
type Pool struct {
	jobs chan Job
	done chan struct{}
}

// NewPool starts workers goroutines and returns the pool. Submit blocks
// once the internal queue (sized 2*workers) is full, providing natural
// back-pressure on callers such as the scanner's hash-job budget.
func NewPool(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{
		jobs: make(chan Job, workers*2),
		done: make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	for {
		select {
		case <-p.done:
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			p.process(job)
		}
	}
}

func (p *Pool) process(job Job) {
	h := sha256.Sum256(job.Data)

	wh := adler32.New()
	wh.Write(job.Data) //nolint:errcheck // hash.Hash.Write never errors

	res := Result{Hash: h, WeakHash: wh.Sum32(), Context: job.Context}
	select {
	case job.Reply <- res:
	case <-p.done:
	}
}

// Submit enqueues a job, blocking until a worker slot is free or the pool
// has been stopped (in which case it returns false and the job is
// dropped).
func (p *Pool) Submit(job Job) bool {
	select {
	case p.jobs <- job:
		return true
	case <-p.done:
		return false
	}
}

// HashBytes is a synchronous convenience wrapper for callers (tests, small
// one-off hashes) that don't want to round-trip through the job queue.
func HashBytes(data []byte) ([32]byte, uint32) {
	h := sha256.Sum256(data)
	wh := adler32.New()
	wh.Write(data) //nolint:errcheck
	return h, wh.Sum32()
}

// Stop shuts down every worker. Submit calls racing with Stop either
// complete or are abandoned cleanly; Results in flight are not flushed.
func (p *Pool) Stop() {
	close(p.done)
}

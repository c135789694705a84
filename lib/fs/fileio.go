// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package fs implements the file I/O service (spec.md §2, §4.7): a
// request-reply service that performs every blocking filesystem operation
// the rest of the system needs, so that no other component ever touches
// disk directly.
package fs

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/syncspirit/syncspirit-go/lib/logger"
)

var l = logger.New("fs")

// TempSuffix is appended to the final path to name a file being received
// (spec.md §9: "keep that policy (same suffix) for wire compatibility with
// other BEP implementations sharing the filesystem").
const TempSuffix = ".syncspirit-tmp"

// TempName returns the temporary name for a final path.
func TempName(path string) string { return path + TempSuffix }

// IsTempName reports whether path is a temporary name.
func IsTempName(path string) bool {
	return filepath.Ext(path) == TempSuffix
}

var (
	ErrHandleCacheFull = errors.New("file handle cache exhausted")
)

// handleCacheSize bounds the per-context memoized file handles (spec.md
// §4.7: "opens of the same path within one context are memoized in a
// per-context file handle cache").
const handleCacheSize = 64

// Service performs every blocking filesystem operation used by the rest of
// the system: block read/write/clone, create/remove/rename, stat,
// permissions, mtime (spec.md §4.7). One Service instance is safe for
// concurrent use by many peer controllers; each caller should construct
// its own *Context to get an isolated, automatically-flushed handle cache.
type Service struct {
	ignorePermissions bool
	supportsSymlinks  bool
}

// NewService constructs a file I/O service. ignorePermissions mirrors a
// folder's ignore-permissions flag; symlink creation is disabled when
// running on Windows (spec.md §4.7:
// "Symlinks are created only if the platform supports them").
func NewService(ignorePermissions bool) *Service {
	return &Service{
		ignorePermissions: ignorePermissions,
		supportsSymlinks:  runtime.GOOS != "windows",
	}
}

// Context is a per-peer-controller handle cache, keyed by absolute path,
// flushed entirely on Close (spec.md §5 "File handle cache is per-peer-
// controller context").
type Context struct {
	svc     *Service
	handles *lru.Cache[string, *os.File]
}

// NewContext opens a fresh handle cache bound to svc.
func (svc *Service) NewContext() *Context {
	cache, err := lru.NewWithEvict[string, *os.File](handleCacheSize, func(_ string, f *os.File) {
		f.Close()
	})
	if err != nil {
		// Only returns an error for a non-positive size, which
		// handleCacheSize never is.
		panic(err)
	}
	return &Context{svc: svc, handles: cache}
}

// Close flushes every cached handle.
func (ctx *Context) Close() {
	ctx.handles.Purge()
}

func (ctx *Context) openForWrite(path string) (*os.File, error) {
	if f, ok := ctx.handles.Get(path); ok {
		return f, nil
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	ctx.handles.Add(path, f)
	return f, nil
}

// CreateSparse creates path (or its .syncspirit-tmp shadow, chosen by the
// caller) truncated to size, ready for out-of-order AppendBlock/CloneBlock
// writes (spec.md §4.7: "file is created sparse at expected size then
// filled by append/clone").
func (ctx *Context) CreateSparse(path string, size int64, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, perm)
	if err != nil {
		return fmt.Errorf("create sparse file: %w", err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return fmt.Errorf("truncate sparse file: %w", err)
	}
	ctx.handles.Add(path, f)
	return nil
}

// ReadBlock services an inbound Request: reads size bytes at offset from
// path (spec.md §4.4 "Inbound request service").
func (ctx *Context) ReadBlock(path string, offset int64, size int32) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, size)
	if _, err := f.ReadAt(buf, offset); err != nil && err != io.EOF {
		return nil, err
	}
	return buf, nil
}

// VerifyBlock reports whether the size bytes at offset in path hash to
// want, used to find how much of a partial temporary file a resumed
// transfer can trust rather than re-downloading (spec.md §4.5 "Incomplete
// resume", §8 scenario 2: "pull loop resumes at block 5").
func (ctx *Context) VerifyBlock(path string, offset int64, size int32, want [32]byte) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	buf := make([]byte, size)
	if _, err := io.ReadFull(io.NewSectionReader(f, offset, int64(size)), buf); err != nil {
		return false
	}
	return sha256.Sum256(buf) == want
}

// AppendBlock writes data at offset into the (already sparse-created)
// temporary file at path, after the caller has already verified its
// digest (spec.md §4.4 "On digest: if match, issue an append-block I/O").
func (ctx *Context) AppendBlock(path string, offset int64, data []byte) error {
	f, err := ctx.openForWrite(path)
	if err != nil {
		return fmt.Errorf("append block: %w", err)
	}
	_, err = f.WriteAt(data, offset)
	return err
}

// CloneBlock copies size bytes from srcPath at srcOffset into dstPath at
// dstOffset, used when a needed block is already available locally in
// some other file (spec.md §4.4 "schedule a clone I/O").
func (ctx *Context) CloneBlock(srcPath string, srcOffset int64, dstPath string, dstOffset int64, size int32) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("clone block source: %w", err)
	}
	defer src.Close()
	buf := make([]byte, size)
	if _, err := src.ReadAt(buf, srcOffset); err != nil && err != io.EOF {
		return fmt.Errorf("clone block read: %w", err)
	}
	return ctx.AppendBlock(dstPath, dstOffset, buf)
}

// FinishFile renames the temporary file to its final path, sets its mtime
// and permissions, and evicts it from the handle cache so the rename isn't
// blocked by an open descriptor (spec.md §4.7 "finish_file").
func (ctx *Context) FinishFile(tmpPath, finalPath string, modS int64, modNs int32, perm os.FileMode, setPerm bool) error {
	ctx.handles.Remove(tmpPath)
	if err := Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("finish file rename: %w", err)
	}
	mtime := time.Unix(modS, int64(modNs))
	if err := os.Chtimes(finalPath, mtime, mtime); err != nil {
		return fmt.Errorf("finish file set mtime: %w", err)
	}
	if setPerm && !ctx.svc.ignorePermissions {
		if err := os.Chmod(finalPath, perm); err != nil {
			return fmt.Errorf("finish file set permissions: %w", err)
		}
	}
	return nil
}

// RemoteCopy creates or touches a local file with metadata only, used for
// zero-content regular files where there is nothing to
// transfer block-by-block (spec.md §4.4 "If the file has zero content ...
// emit the advance diff directly").
func (svc *Service) RemoteCopy(path string, perm os.FileMode, setPerm bool, modS int64, modNs int32) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		if os.IsExist(err) {
			// Already exists; still normalize mtime/permissions below.
		} else {
			return err
		}
	} else {
		f.Close()
	}
	if setPerm && !svc.ignorePermissions {
		if err := os.Chmod(path, perm); err != nil {
			return err
		}
	}
	mtime := time.Unix(modS, int64(modNs))
	return os.Chtimes(path, mtime, mtime)
}

// CreateDir creates a directory (and its parents) with the given
// permission bits.
func (svc *Service) CreateDir(path string, perm os.FileMode, setPerm bool) error {
	if !setPerm || svc.ignorePermissions {
		perm = 0777
	}
	return os.MkdirAll(path, perm)
}

// CreateSymlink creates a symlink at path pointing at target, if the
// platform supports it (spec.md §4.7).
func (svc *Service) CreateSymlink(path, target string) error {
	if !svc.supportsSymlinks {
		return fmt.Errorf("symlinks are not supported on %s", runtime.GOOS)
	}
	os.Remove(path)
	return os.Symlink(target, path)
}

// ReadSymlink reads the target of a symlink.
func (svc *Service) ReadSymlink(path string) (string, error) {
	return os.Readlink(path)
}

// Remove deletes a file or empty directory.
func (svc *Service) Remove(path string) error {
	err := os.Remove(path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// Stat wraps os.Lstat, not following a final symlink component so the
// scanner can classify the entry itself (spec.md §4.5).
func (svc *Service) Stat(path string) (os.FileInfo, error) {
	return os.Lstat(path)
}

// SupportsPermissions probes whether the filesystem underlying path
// honors chmod, e.g. false for FAT volumes (spec.md §4.7: "Permissions are
// set only if the underlying filesystem supports them"). The actual
// platform probe lives in fileio_unix.go / fileio_windows.go.
func (svc *Service) SupportsPermissions(path string) bool {
	if svc.ignorePermissions {
		return false
	}
	return platformSupportsPermissions(path)
}

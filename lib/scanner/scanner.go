// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package scanner implements the local scanner (spec.md §2, §4.5): it
// walks a folder tree, stats children, hashes regular files, and produces
// diffs describing creations, changes, deletions and incomplete
// temporaries.
package scanner

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	syncfs "github.com/syncspirit/syncspirit-go/lib/fs"
	"github.com/syncspirit/syncspirit-go/lib/hasher"
	"github.com/syncspirit/syncspirit-go/lib/logger"
	"github.com/syncspirit/syncspirit-go/lib/model"
	"github.com/syncspirit/syncspirit-go/lib/protocol"
)

var l = logger.New("scanner")

// DefaultBlockSize is the block size used when hashing new or changed
// files, absent a per-folder override.
const DefaultBlockSize = 128 * 1024

// Budget bounds one Scan call's work, matching spec.md §4.5 "per-iteration
// budgets (max files, max bytes hashed)". A zero field means unbounded.
type Budget struct {
	MaxFiles int
	MaxBytes int64
}

func (b Budget) filesExhausted(n int) bool {
	return b.MaxFiles > 0 && n >= b.MaxFiles
}

func (b Budget) bytesExhausted(n int64) bool {
	return b.MaxBytes > 0 && n >= b.MaxBytes
}

// Scanner walks one folder's filesystem tree against the cluster's
// recorded view of it and returns the diffs describing what changed
// (spec.md §4.5).
type Scanner struct {
	cluster     *model.Cluster
	io          *syncfs.Service
	hashers     *hasher.Pool
	localDevice model.DeviceKey
	localShort  protocol.ShortID

	// TemporalTimeout bounds how stale an in-progress .syncspirit-tmp may
	// be before it is discarded rather than resumed (spec.md §4.5).
	TemporalTimeout time.Duration
}

// New constructs a Scanner. localDevice identifies the device whose
// folder-info this scanner updates; its version vector edits are
// attributed to localDevice's short id.
func New(cluster *model.Cluster, io *syncfs.Service, hashers *hasher.Pool, localDevice model.DeviceKey) *Scanner {
	return &Scanner{
		cluster:         cluster,
		io:              io,
		hashers:         hashers,
		localDevice:     localDevice,
		localShort:      protocol.ShortIDFromDevice(localDevice),
		TemporalTimeout: 24 * time.Hour,
	}
}

// Result is everything one Scan call produced.
type Result struct {
	Diffs     []model.Diff
	Completed bool // false if Budget cut the walk short
}

// Scan walks folder.Path (optionally restricted to subPath) and returns the
// diffs describing local changes (spec.md §4.5). The caller is responsible
// for applying each diff via model.ApplyDiff and, once Completed is true,
// emitting a ScanFinished diff (spec.md §4.6).
func (s *Scanner) Scan(ctx context.Context, folder *model.Folder, subPath string, budget Budget) (Result, error) {
	fi, ok := s.cluster.FolderInfo(folder.ID, s.localDevice)
	if !ok {
		return Result{}, fmt.Errorf("scan %s: no local folder-info", folder.ID)
	}

	root := folder.Path
	if subPath != "" {
		root = filepath.Join(root, subPath)
	}

	seen := map[string]bool{}
	var result Result
	var filesDone int
	var bytesHashed int64

	walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return filepath.SkipAll
		default:
		}
		if err != nil {
			l.Warnf("scan %s: walk error at %s: %v", folder.ID, p, err)
			return nil
		}
		rel, relErr := filepath.Rel(folder.Path, p)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if budget.filesExhausted(filesDone) || budget.bytesExhausted(bytesHashed) {
			result.Completed = false
			return filepath.SkipAll
		}

		info, statErr := d.Info()
		if statErr != nil {
			l.Warnf("scan %s: stat error at %s: %v", folder.ID, rel, statErr)
			return nil
		}

		if syncfs.IsTempName(rel) {
			diff, handled, tmpErr := s.handleIncomplete(folder, fi, rel, info)
			if tmpErr != nil {
				l.Warnf("scan %s: incomplete handling failed for %s: %v", folder.ID, rel, tmpErr)
			} else if handled && diff != nil {
				result.Diffs = append(result.Diffs, diff)
			}
			return nil
		}

		rel, skip, normErr := s.normalizeName(folder, rel, d.IsDir(), seen)
		if normErr != nil {
			l.Warnf("scan %s: normalizing %s failed: %v", folder.ID, rel, normErr)
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if skip {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		seen[rel] = true
		filesDone++

		existing, _ := fi.FileByName(rel)

		switch {
		case info.IsDir():
			if d, ok := s.scanDirectory(fi, rel, existing, info, folder.IgnorePermissions); ok {
				result.Diffs = append(result.Diffs, d)
			}
			return nil

		case info.Mode()&os.ModeSymlink != 0:
			if d, ok := s.scanSymlink(folder, fi, rel, existing); ok {
				result.Diffs = append(result.Diffs, d)
			}
			return nil

		case info.Mode().IsRegular():
			d, hashedBytes, changed, err := s.scanRegularFile(folder, fi, rel, existing, info)
			if err != nil {
				l.Warnf("scan %s: hashing %s failed (retrying next scan): %v", folder.ID, rel, err)
				return nil
			}
			bytesHashed += hashedBytes
			if changed && d != nil {
				result.Diffs = append(result.Diffs, d)
			}
			return nil

		default:
			// Device files, sockets, etc: ignore (spec.md §4.5 "other -> ignore").
			return nil
		}
	})
	if walkErr != nil {
		return result, fmt.Errorf("walk %s: %w", root, walkErr)
	}

	// Completed stays true unless a budget check inside the WalkDir
	// callback tripped SkipAll partway through the tree.
	if budget.filesExhausted(filesDone) || budget.bytesExhausted(bytesHashed) {
		result.Completed = false
	} else {
		result.Completed = true
	}

	// Anything previously recorded under this sub-tree but absent from
	// the walk is a local deletion (spec.md §4.5 "Local file-info present
	// but entry missing on disk").
	if result.Completed {
		for _, f := range fi.Files() {
			if subPath != "" && !underSubPath(f.Name, subPath) {
				continue
			}
			if f.Deleted || seen[f.Name] {
				continue
			}
			result.Diffs = append(result.Diffs, s.removalDiff(fi, f))
		}
	}

	return result, nil
}

// normalizeName brings rel into NFC form so that the same logical name
// compares equal across platforms whose filesystems natively store
// decomposed Unicode (spec.md §1 Non-goals: "POSIX-only or Windows-only
// semantics (both must work)"). Grounded on the teacher's own
// lib/scanner/walk_test.go TestNormalization fixtures: a name already in
// NFC form (or that decomposes with no collision) is accepted -- renamed
// on disk if it wasn't already NFC -- while invalid UTF-8 and names that
// would collide with an already-scanned NFC entry are ignored outright.
//
// A renamed directory is reported as skip=true: filepath.WalkDir is
// already committed to reading the old path's children next, which no
// longer exists, so descending is deferred to the following scan.
func (s *Scanner) normalizeName(folder *model.Folder, rel string, isDir bool, seen map[string]bool) (string, bool, error) {
	if !utf8.ValidString(rel) {
		l.Warnf("scan %s: %q is not valid UTF-8, ignoring", folder.ID, rel)
		return rel, true, nil
	}
	normalized := norm.NFC.String(rel)
	if normalized == rel {
		return rel, false, nil
	}
	if seen[normalized] {
		l.Warnf("scan %s: %q conflicts with an already-scanned name %q, ignoring", folder.ID, rel, normalized)
		return rel, true, nil
	}
	fromPath := filepath.Join(folder.Path, rel)
	toPath := filepath.Join(folder.Path, normalized)
	if _, err := os.Lstat(toPath); err == nil {
		l.Warnf("scan %s: %q conflicts with existing name %q, ignoring", folder.ID, rel, normalized)
		return rel, true, nil
	}
	if err := syncfs.Rename(fromPath, toPath); err != nil {
		return rel, false, err
	}
	return normalized, isDir, nil
}

func underSubPath(name, subPath string) bool {
	sp := filepath.ToSlash(subPath)
	return name == sp || len(name) > len(sp) && name[:len(sp)+1] == sp+"/"
}

func (s *Scanner) scanDirectory(fi *model.FolderInfo, rel string, existing *model.FileInfo, info os.FileInfo, ignorePerms bool) (model.Diff, bool) {
	permUnchanged := ignorePerms || existing == nil || existing.NoPermissions || existing.Permissions == permBits(info)
	if existing != nil && !existing.Deleted && existing.IsDirectory() && permUnchanged {
		return nil, false
	}
	nf := s.buildFileInfo(existing, rel, protocol.FileInfoTypeDirectory, 0, nil, 0, info, ignorePerms)
	return s.localUpdateDiff(fi, existing, nf), true
}

func (s *Scanner) scanSymlink(folder *model.Folder, fi *model.FolderInfo, rel string, existing *model.FileInfo) (model.Diff, bool) {
	target, err := s.io.ReadSymlink(filepath.Join(folder.Path, rel))
	if err != nil {
		return nil, false
	}
	if existing != nil && !existing.Deleted && existing.IsSymlink() && existing.SymlinkTarget == target {
		return nil, false
	}
	nf := s.buildFileInfo(existing, rel, protocol.FileInfoTypeSymlink, 0, nil, 0, nil, true)
	nf.NoPermissions = true
	nf.SymlinkTarget = target
	return s.localUpdateDiff(fi, existing, nf), true
}

// scanRegularFile hashes rel if its size, mtime, or permissions changed
// since the stored file-info (spec.md §4.5). It returns the bytes hashed
// so the caller can track the per-scan byte budget even when the file
// turned out unchanged after a cheap stat-only comparison.
func (s *Scanner) scanRegularFile(folder *model.Folder, fi *model.FolderInfo, rel string, existing *model.FileInfo, info os.FileInfo) (model.Diff, int64, bool, error) {
	modS, modNs := modTime(info)
	if existing != nil && !existing.Deleted && existing.IsRegular() &&
		existing.Size == info.Size() && existing.ModifiedS == modS &&
		(folder.IgnorePermissions || existing.NoPermissions || existing.Permissions == permBits(info)) {
		return nil, 0, false, nil
	}

	blockSize := DefaultBlockSize
	blocks, err := s.hashFile(filepath.Join(folder.Path, rel), info.Size(), blockSize)
	if err != nil {
		// A single failed read marks the whole file unchanged for this
		// scan; it will be retried on the next pass (spec.md §4.5
		// "Hashing").
		return nil, info.Size(), false, err
	}

	nf := s.buildFileInfo(existing, rel, protocol.FileInfoTypeFile, info.Size(), blocks, int32(blockSize), info, folder.IgnorePermissions)
	return s.localUpdateDiff(fi, existing, nf), info.Size(), true, nil
}

// hashFile reads path in blockSize chunks and hashes each one via the
// hasher pool, fanning the blocks out across workers and collecting
// results in order (spec.md §2 "Hasher pool", §4.5 "Hashing").
func (s *Scanner) hashFile(path string, size int64, blockSize int) ([]model.BlockRef, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	nBlocks := int((size + int64(blockSize) - 1) / int64(blockSize))
	if nBlocks == 0 {
		nBlocks = 1 // an empty file still hashes to one zero-length block
	}
	reply := make(chan hasher.Result, nBlocks)
	submitted := 0
	var offset int64
	for {
		buf := make([]byte, blockSize)
		n, rerr := io.ReadFull(f, buf)
		if n > 0 {
			buf = buf[:n]
			s.hashers.Submit(hasher.Job{Data: buf, Reply: reply, Context: offset})
			submitted++
			offset += int64(n)
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return nil, rerr
		}
	}
	if submitted == 0 {
		h, wh := hasher.HashBytes(nil)
		return []model.BlockRef{{Offset: 0, Size: 0, Hash: h, WeakHash: wh}}, nil
	}

	byOffset := make(map[int64]hasher.Result, submitted)
	for i := 0; i < submitted; i++ {
		res := <-reply
		byOffset[res.Context.(int64)] = res
	}

	blocks := make([]model.BlockRef, 0, submitted)
	var off int64
	for off < offset {
		res, ok := byOffset[off]
		if !ok {
			return nil, fmt.Errorf("missing hash result for offset %d", off)
		}
		bs := blockSize
		if remaining := offset - off; remaining < int64(blockSize) {
			bs = int(remaining)
		}
		blocks = append(blocks, model.BlockRef{Offset: off, Size: int32(bs), Hash: res.Hash, WeakHash: res.WeakHash})
		off += int64(bs)
	}
	return blocks, nil
}

func (s *Scanner) buildFileInfo(existing *model.FileInfo, name string, typ protocol.FileInfoType, size int64, blocks []model.BlockRef, blockSize int32, info os.FileInfo, ignorePerms bool) *model.FileInfo {
	nf := &model.FileInfo{
		Name:      name,
		Type:      typ,
		Size:      size,
		Blocks:    blocks,
		BlockSize: blockSize,
	}
	if info != nil {
		secs, ns := modTime(info)
		nf.ModifiedS, nf.ModifiedNs = secs, ns
		if ignorePerms {
			nf.NoPermissions = true
		} else {
			nf.Permissions = permBits(info)
		}
	}
	nf.ModifiedBy = s.localShort
	if existing != nil {
		nf.Version = existing.Version.Update(s.localShort)
	} else {
		nf.Version = protocol.Vector{}.Update(s.localShort)
	}
	return nf
}

func (s *Scanner) removalDiff(fi *model.FolderInfo, existing *model.FileInfo) model.Diff {
	nf := &model.FileInfo{
		Name:       existing.Name,
		Type:       existing.Type,
		Deleted:    true,
		ModifiedBy: s.localShort,
		Version:    existing.Version.Update(s.localShort),
	}
	return model.NewAdvance(s.cluster, fi.ID, model.ActionLocalUpdate, nf, existing.ID, nil)
}

func (s *Scanner) localUpdateDiff(fi *model.FolderInfo, existing *model.FileInfo, nf *model.FileInfo) model.Diff {
	priorID := model.NilFileInfoID
	if existing != nil {
		priorID = existing.ID
	}
	return model.NewAdvance(s.cluster, fi.ID, model.ActionLocalUpdate, nf, priorID, nil)
}

func modTime(info os.FileInfo) (int64, int32) {
	mt := info.ModTime()
	return mt.Unix(), int32(mt.Nanosecond())
}

func permBits(info os.FileInfo) uint32 {
	return uint32(info.Mode().Perm())
}

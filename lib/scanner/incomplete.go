// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package scanner

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	syncfs "github.com/syncspirit/syncspirit-go/lib/fs"
	"github.com/syncspirit/syncspirit-go/lib/model"
)

// handleIncomplete decides the fate of one .syncspirit-tmp entry found
// during a walk (spec.md §4.5 "Incomplete-temporary resume", SPEC_FULL.md
// supplemented feature). A temp file younger than TemporalTimeout is left
// alone: for the pull loop to resume when its final name still has a local
// file-info record, or otherwise because it may belong to a transfer that
// has not registered a file-info yet. An older one -- orphaned by a
// cancelled transfer, or simply too stale -- is removed so it doesn't
// linger forever.
//
// It returns (diff, handled, err). diff is always nil today: the resume
// path only needs the file to still be on disk when the pull loop looks
// for it -- the pull loop itself re-verifies the already-written prefix
// block by block (Controller.resumeOffset) before picking up where the
// transfer left off -- and the deletion path touches only the filesystem,
// not the cluster. handled reports whether the entry was recognized as a
// managed temp file at all (always true for names ending in the temp
// suffix).
func (s *Scanner) handleIncomplete(folder *model.Folder, fi *model.FolderInfo, rel string, info os.FileInfo) (model.Diff, bool, error) {
	finalRel := strings.TrimSuffix(rel, syncfs.TempSuffix)

	existing, hasFinal := fi.FileByName(finalRel)
	if hasFinal && !existing.Deleted && existing.IsRegular() && s.resumable(existing, info) {
		// A transfer is plausibly still in progress for this name; leave
		// the partial file in place for the pull loop to pick back up.
		return nil, true, nil
	}

	if time.Since(info.ModTime()) < s.TemporalTimeout {
		// Recent enough that it might belong to a transfer that hasn't
		// registered a file-info yet (e.g. a remote_copy in flight);
		// don't race it.
		return nil, true, nil
	}

	path := filepath.Join(folder.Path, rel)
	if err := s.io.Remove(path); err != nil {
		return nil, true, err
	}
	return nil, true, nil
}

// resumable reports whether a partial temp file is still a plausible match
// for the file-info it would complete: no larger than the final size, and
// last modified less than TemporalTimeout ago.
func (s *Scanner) resumable(want *model.FileInfo, partial os.FileInfo) bool {
	if partial.Size() > want.Size {
		return false
	}
	age := time.Since(partial.ModTime())
	return age < s.TemporalTimeout
}

// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

//go:build !windows

package fs

import "golang.org/x/sys/unix"

// platformSupportsPermissions reports whether chmod has any effect on the
// filesystem underlying path. Best-effort: treat a missing path (not yet
// created) as permission-capable, since the real answer only matters once
// the file exists.
func platformSupportsPermissions(path string) bool {
	err := unix.Access(path, unix.W_OK)
	return err == nil || err == unix.ENOENT
}

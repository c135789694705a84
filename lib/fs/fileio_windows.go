// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

//go:build windows

package fs

// platformSupportsPermissions is always false on Windows: Go's os.Chmod
// only toggles the read-only attribute there, not POSIX permission bits
// (spec.md §4.7 "Permissions are set only if the underlying filesystem
// supports them").
func platformSupportsPermissions(path string) bool {
	return false
}

// Copyright (C) 2014 Jakob Borg and Contributors (see the CONTRIBUTORS file).
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package fs

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

// renameLock serializes the directory-permission dance below; renames
// aren't frequent enough for this to matter for throughput.
var renameLock sync.Mutex

// Rename renames a file, temporarily loosening directory (and, on
// Windows, destination file) permissions when necessary so a finish_file
// commit doesn't fail on a read-only parent directory.
func Rename(from, to string) error {
	renameLock.Lock()
	defer renameLock.Unlock()

	toDir := filepath.Dir(to)
	if info, err := os.Stat(toDir); err == nil {
		os.Chmod(toDir, 0777)
		defer os.Chmod(toDir, info.Mode())
	}

	if runtime.GOOS == "windows" {
		os.Chmod(to, 0666)
		if err := os.Remove(to); err != nil && !os.IsNotExist(err) {
			return err
		}
	}

	if err := os.Rename(from, to); err != nil {
		os.Remove(from)
		return err
	}
	return nil
}

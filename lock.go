// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/archvfs

package archvfs

import (
	"fmt"

	"github.com/gofrs/flock"
)

// containerLockSuffix is appended to container path for the advisory lock file.
const containerLockSuffix = ".lock"

// acquireContainerLock takes an exclusive non-blocking lock next to path.
func acquireContainerLock(path string) (*flock.Flock, error) {
	lock := flock.New(path + containerLockSuffix)

	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock container %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("lock container %s: %w", path, ErrContainerBusy)
	}

	return lock, nil
}

// releaseContainerLock unlocks and removes the lock file; nil lock is a no-op.
func releaseContainerLock(lock *flock.Flock) error {
	if lock == nil {
		return nil
	}

	if err := lock.Unlock(); err != nil {
		return fmt.Errorf("unlock container: %w", err)
	}

	return removeIfExists(lock.Path())
}

// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/archvfs

package archvfs

import (
	"archive/zip"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLockContainerExclusive(t *testing.T) {
	t.Parallel()

	path := writeZIPFixture(t, buildZIP(t, "",
		zipFixtureEntry{name: "a.txt", body: "a", method: zip.Store},
	))

	opts := testArchiveOptions(t)
	opts.LockContainer = true

	first, err := OpenZIP(path, opts)
	require.NoError(t, err)
	require.FileExists(t, path+containerLockSuffix)

	_, err = OpenZIP(path, opts)
	require.ErrorIs(t, err, ErrContainerBusy)

	require.NoError(t, first.Close())
	require.NoFileExists(t, path+containerLockSuffix)

	second, err := OpenZIP(path, opts)
	require.NoError(t, err)
	require.Equal(t, "a", readEntry(t, second, "a.txt"))
	require.NoError(t, second.Close())
}

func TestReleaseContainerLockNil(t *testing.T) {
	t.Parallel()

	require.NoError(t, releaseContainerLock(nil))
}

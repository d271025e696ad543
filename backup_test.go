// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/archvfs

package archvfs

import (
	"archive/zip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSaveRotatesBackups(t *testing.T) {
	t.Parallel()

	path := writeZIPFixture(t, buildZIP(t, "",
		zipFixtureEntry{name: "v.txt", body: "v0", method: zip.Store},
	))

	opts := testArchiveOptions(t)
	opts.Save.BackupKeep = 2
	z := openTestZIP(t, path, opts)

	for _, version := range []string{"v1", "v2", "v3"} {
		s, err := z.OpenFile("v.txt", os.O_RDWR|os.O_TRUNC)
		require.NoError(t, err)
		_, err = s.Write([]byte(version))
		require.NoError(t, err)
		require.NoError(t, s.Close())
		require.NoError(t, z.Save(t.Context()))
	}

	current, _ := readWithStdlib(t, path)
	require.Equal(t, "v3", current["v.txt"])

	newest, _ := readWithStdlib(t, path+backupSuffix)
	require.Equal(t, "v2", newest["v.txt"])

	older, _ := readWithStdlib(t, path+backupSuffix+".1")
	require.Equal(t, "v1", older["v.txt"])

	require.NoFileExists(t, path+backupSuffix+".2")
}

func TestRotateBackupsSingleGeneration(t *testing.T) {
	t.Parallel()

	backupPath := filepath.Join(t.TempDir(), "a.zip.bak")
	require.NoError(t, os.WriteFile(backupPath, []byte("old"), 0o600))

	require.NoError(t, rotateBackups(backupPath, 1))
	require.NoFileExists(t, backupPath)
	require.NoFileExists(t, backupPath+".1")

	require.NoError(t, rotateBackups(backupPath, 3))
}

func TestReplaceFileContentCutsTail(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "target.bin")
	require.NoError(t, os.WriteFile(path, []byte("long original content"), 0o600))

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	written, err := replaceFileContent(f, strings.NewReader("short"))
	require.NoError(t, err)
	require.EqualValues(t, 5, written)

	backupPath := path + backupSuffix
	require.NoError(t, os.WriteFile(backupPath, []byte("restored"), 0o600))
	require.NoError(t, rollbackFromBackup(f, backupPath))
	require.Error(t, rollbackFromBackup(f, ""))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "restored", string(data))
}

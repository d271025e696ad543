// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/archvfs

package archvfs

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryRegister(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	require.ErrorIs(t, reg.Register(ArchiveFormat{Name: " "}), ErrInvalidPath)

	exts := []string{"PAK", ".Bin"}
	require.NoError(t, reg.Register(ArchiveFormat{
		Name:       "Custom",
		Extensions: exts,
		Open: func(string, ArchiveOptions) (ArchiveTranslator, error) {
			return nil, ErrUnsupported
		},
	}))
	require.Equal(t, []string{"PAK", ".Bin"}, exts)

	format, ok := reg.Lookup("CUSTOM")
	require.True(t, ok)
	require.Equal(t, "custom", format.Name)
	require.Equal(t, []string{".pak", ".bin"}, format.Extensions)

	require.NoError(t, RegisterZIP(reg))
	require.ErrorIs(t, RegisterZIP(reg), ErrExist)
	require.Equal(t, []string{"custom", FormatZIP}, reg.Formats())

	_, ok = reg.ForPath("data/file.BIN")
	require.True(t, ok)
	_, ok = reg.ForPath("data/file.tar")
	require.False(t, ok)
}

func TestRegistryOpenAndCreate(t *testing.T) {
	t.Parallel()

	reg := DefaultRegistry()
	require.Equal(t, []string{FormatZIP, FormatIMG}, reg.Formats())

	format, ok := reg.ForPath("maps/X.IMG")
	require.True(t, ok)
	require.Equal(t, FormatIMG, format.Name)

	dir := t.TempDir()

	// Signature detection ignores the extension.
	zipPath := filepath.Join(dir, "bundle.dat")
	require.NoError(t, os.WriteFile(zipPath, buildZIP(t, "", zipFixtureEntry{name: "a.txt", body: "zip", method: zip.Store}), 0o600))
	z, err := reg.Open(zipPath, testArchiveOptions(t))
	require.NoError(t, err)
	require.Equal(t, FormatZIP, z.Format())
	require.Equal(t, "zip", readEntry(t, z, "a.txt"))
	require.NoError(t, z.Close())

	imgPath := filepath.Join(dir, "pack.img")
	created, err := reg.Create(imgPath, testArchiveOptions(t))
	require.NoError(t, err)
	require.Equal(t, FormatIMG, created.Format())
	writeEntry(t, created, "e.txt", "img")
	require.NoError(t, created.Save(t.Context()))
	require.NoError(t, created.Close())

	renamed := filepath.Join(dir, "pack.bin")
	require.NoError(t, os.Rename(imgPath, renamed))
	m, err := reg.Open(renamed, testArchiveOptions(t))
	require.NoError(t, err)
	require.Equal(t, FormatIMG, m.Format())
	require.Equal(t, "img", readEntry(t, m, "e.txt"))
	require.NoError(t, m.Close())

	// v1 tables carry no signature; the ".dir" extension selects IMG.
	_, dirPath := writeIMGv1Fixture(t, imgFixtureRecord{name: "v1.txt", data: "old", blocks: 1})
	v1, err := reg.Open(dirPath, testArchiveOptions(t))
	require.NoError(t, err)
	require.Equal(t, "old", readEntry(t, v1, "v1.txt"))
	require.NoError(t, v1.Close())

	emptyZIP := filepath.Join(dir, "empty.zip")
	ez, err := reg.Create(emptyZIP, testArchiveOptions(t))
	require.NoError(t, err)
	require.NoError(t, ez.Save(t.Context()))
	require.NoError(t, ez.Close())

	reopened, err := reg.Open(emptyZIP, testArchiveOptions(t))
	require.NoError(t, err)
	require.Equal(t, FormatZIP, reopened.Format())
	require.NoError(t, reopened.Close())

	unknown := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(unknown, []byte("plain text"), 0o600))
	_, err = reg.Open(unknown, testArchiveOptions(t))
	require.ErrorIs(t, err, ErrUnknownFormat)

	_, err = reg.Create(filepath.Join(dir, "x.tar"), testArchiveOptions(t))
	require.ErrorIs(t, err, ErrUnknownFormat)

	_, err = reg.Open(filepath.Join(dir, "missing.zip"), testArchiveOptions(t))
	require.ErrorIs(t, err, ErrNotFound)
}

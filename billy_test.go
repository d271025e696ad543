// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/archvfs

package archvfs

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/require"
)

// readBilly returns full content of a billy file.
func readBilly(t *testing.T, fsys billy.Filesystem, name string) string {
	t.Helper()

	f, err := fsys.Open(name)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	require.NoError(t, err)

	return string(data)
}

func TestBillyFSOverDir(t *testing.T) {
	t.Parallel()

	d := openTestDir(t, DirOptions{})
	fsys := NewBillyFS(d)
	require.Same(t, d, fsys.Translator())

	require.NoError(t, util.WriteFile(fsys, "docs/readme.txt", []byte("hello"), 0o644))
	require.Equal(t, "hello", readBilly(t, fsys, "docs/readme.txt"))

	f, err := fsys.OpenFile("docs/readme.txt", os.O_RDWR, 0)
	require.NoError(t, err)
	require.Equal(t, "docs/readme.txt", f.Name())

	p := make([]byte, 3)
	n, err := f.ReadAt(p, 1)
	require.NoError(t, err)
	require.Equal(t, "ell", string(p[:n]))

	require.NoError(t, f.Truncate(2))
	pos, err := f.Seek(0, io.SeekCurrent)
	require.NoError(t, err)
	require.Zero(t, pos)
	require.NoError(t, f.Lock())
	require.NoError(t, f.Unlock())
	require.NoError(t, f.Close())
	require.Equal(t, "he", readBilly(t, fsys, "docs/readme.txt"))

	info, err := fsys.Stat("docs")
	require.NoError(t, err)
	require.True(t, info.IsDir())

	infos, err := fsys.ReadDir("docs")
	require.NoError(t, err)
	require.Len(t, infos, 1)

	require.NoError(t, fsys.MkdirAll("empty/deep", 0o755))
	require.NoError(t, fsys.Remove("empty/deep"))

	err = fsys.Remove("docs")
	require.ErrorIs(t, err, fs.ErrExist)

	_, err = fsys.Stat("missing.txt")
	require.ErrorIs(t, err, fs.ErrNotExist)
	require.ErrorIs(t, err, ErrNotFound)

	var pathErr *fs.PathError
	require.ErrorAs(t, err, &pathErr)
	require.Equal(t, "stat", pathErr.Op)

	require.NoError(t, fsys.Rename("docs/readme.txt", "docs/renamed.txt"))
	_, err = fsys.Lstat("docs/renamed.txt")
	require.NoError(t, err)

	tmp, err := fsys.TempFile("tmp", "part-")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(tmp.Name(), "tmp/part-"))
	require.NoError(t, tmp.Close())

	require.ErrorIs(t, fsys.Symlink("a", "b"), billy.ErrNotSupported)
	_, err = fsys.Readlink("b")
	require.ErrorIs(t, err, billy.ErrNotSupported)

	require.True(t, billy.CapabilityCheck(fsys, billy.WriteCapability|billy.SeekCapability))
	require.Equal(t, "a/b", fsys.Join("a", "", "b"))
}

func TestBillyFSChroot(t *testing.T) {
	t.Parallel()

	d := openTestDir(t, DirOptions{})
	fsys := NewBillyFS(d)
	require.NoError(t, fsys.MkdirAll("jail", 0o755))

	jail, err := fsys.Chroot("jail")
	require.NoError(t, err)
	require.NoError(t, util.WriteFile(jail, "inside.txt", []byte("jailed"), 0o644))

	_, err = os.Stat(filepath.Join(d.Root(), "jail", "inside.txt"))
	require.NoError(t, err)
	require.Equal(t, "jailed", readEntry(t, d, "jail/inside.txt"))
}

func TestBillyFSOverZIP(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "billy.zip")
	z, err := CreateZIP(path, testArchiveOptions(t))
	require.NoError(t, err)

	fsys := NewBillyFS(z)
	require.NoError(t, util.WriteFile(fsys, "objects/ab/cdef", []byte("blob"), 0o644))
	require.NoError(t, fsys.MkdirAll("refs/heads", 0o755))

	f, err := fsys.Open("objects/ab/cdef")
	require.NoError(t, err)
	_, err = f.Write([]byte("x"))
	require.ErrorIs(t, err, ErrNotWriteable)
	require.NoError(t, f.Close())

	require.NoError(t, z.Save(t.Context()))
	require.NoError(t, z.Close())

	files, _ := readWithStdlib(t, path)
	require.Equal(t, "blob", files["objects/ab/cdef"])
	require.Contains(t, files, "refs/heads/")
}

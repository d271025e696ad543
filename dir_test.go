// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/archvfs

package archvfs

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// quietLogger returns a logger that drops everything below error.
func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	log.SetLevel(logrus.ErrorLevel)

	return log
}

// writeEntry writes content to path through a translator.
func writeEntry(t *testing.T, tr Translator, path string, content string) {
	t.Helper()

	s, err := tr.Create(path)
	require.NoError(t, err)
	_, err = s.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

// readEntry returns full content of path through a translator.
func readEntry(t *testing.T, tr Translator, path string) string {
	t.Helper()

	s, err := tr.Open(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	data, err := io.ReadAll(s)
	require.NoError(t, err)

	return string(data)
}

// scanAll returns every path reported by a recursive scan.
func scanAll(t *testing.T, tr Translator, dir string, pattern string) []string {
	t.Helper()

	var out []string
	collect := func(path string) error {
		out = append(out, path)
		return nil
	}

	require.NoError(t, tr.Scan(dir, pattern, true, collect, collect))
	return out
}

func openTestDir(t *testing.T, opts DirOptions) *DirTranslator {
	t.Helper()

	opts.Logger = quietLogger()
	d, err := OpenDir(t.TempDir(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	return d
}

func TestDirTranslatorReadWrite(t *testing.T) {
	t.Parallel()

	d := openTestDir(t, DirOptions{})
	writeEntry(t, d, "sub/deep/a.txt", "hello")

	require.Equal(t, "hello", readEntry(t, d, `sub\deep\a.txt`))
	require.True(t, d.Exists("sub/"))
	require.True(t, d.Exists("sub/deep/a.txt"))
	require.False(t, d.Exists("sub/deep/a.txt/"))
	require.False(t, d.Exists("missing"))

	size, err := d.Size("sub/deep/a.txt")
	require.NoError(t, err)
	require.EqualValues(t, 5, size)

	_, err = d.Size("sub/")
	require.ErrorIs(t, err, ErrIsDirectory)

	_, err = d.Open("missing.txt")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = d.Open("sub/")
	require.ErrorIs(t, err, ErrIsDirectory)

	_, err = d.OpenFile("sub/deep/a.txt", os.O_RDWR|os.O_CREATE|os.O_EXCL)
	require.ErrorIs(t, err, ErrExist)

	_, err = d.Open("../escape.txt")
	require.ErrorIs(t, err, ErrPathEscape)

	osPath, err := d.OSPath("sub/deep/a.txt")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(d.Root(), "sub", "deep", "a.txt"), osPath)
}

func TestDirTranslatorTreeOps(t *testing.T) {
	t.Parallel()

	d := openTestDir(t, DirOptions{})
	writeEntry(t, d, "src/a.txt", "a")
	writeEntry(t, d, "src/sub/b.txt", "b")

	require.NoError(t, d.Copy("src/", "copy/"))
	require.Equal(t, "b", readEntry(t, d, "copy/sub/b.txt"))
	require.ErrorIs(t, d.Copy("src/", "src/inner/"), ErrCycle)

	require.NoError(t, d.Rename("copy/sub/b.txt", "copy/c.txt"))
	require.False(t, d.Exists("copy/sub/b.txt"))
	require.Equal(t, "b", readEntry(t, d, "copy/c.txt"))

	require.NoError(t, d.Copy("src/a.txt", "copy/a2.txt"))
	require.Equal(t, "a", readEntry(t, d, "copy/a2.txt"))

	require.ErrorIs(t, d.Delete("/"), ErrInvalidPath)
	require.NoError(t, d.Delete("copy/"))
	require.False(t, d.Exists("copy/"))

	require.ErrorIs(t, d.Delete("copy/"), ErrNotFound)
	require.ErrorIs(t, d.Rename("/", "x/"), ErrInvalidPath)

	infos, err := d.ReadDir("src/")
	require.NoError(t, err)
	require.Len(t, infos, 2)
	require.Equal(t, "a.txt", infos[0].Name())
	require.Equal(t, "sub", infos[1].Name())
	require.True(t, infos[1].IsDir())
}

func TestCopyOSFileLargerThanBuffer(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "dst.bin")

	payload := bytes.Repeat([]byte("0123456789abcdef"), 3*copyBufferSize/16+7)
	require.NoError(t, os.WriteFile(src, payload, 0o600))
	require.NoError(t, os.WriteFile(dst, []byte("stale content longer than nothing"), 0o600))

	require.NoError(t, copyOSFile(src, dst, 0o600))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, payload, got)

	require.ErrorIs(t, copyOSFile(filepath.Join(dir, "missing"), dst, 0o600), ErrNotFound)
}

func TestDirTranslatorScanAndChangeDir(t *testing.T) {
	t.Parallel()

	d := openTestDir(t, DirOptions{Pattern: PatternEnv{CaseInsensitive: true}})
	writeEntry(t, d, "a.TXT", "")
	writeEntry(t, d, "b.bin", "")
	writeEntry(t, d, "x/c.txt", "")
	writeEntry(t, d, "x/y/d.txt", "")

	require.Equal(t, []string{"x/", "x/y/", "x/y/d.txt", "x/c.txt", "a.TXT", "b.bin"}, scanAll(t, d, "", ""))
	require.Equal(t, []string{"a.TXT"}, scanAll(t, d, "/", "*.txt"))

	require.NoError(t, d.ChangeDir("x"))
	require.Equal(t, "x/", d.CurrentDir())
	require.Equal(t, []string{"x/y/", "x/y/d.txt", "x/c.txt"}, scanAll(t, d, "", "*"))

	writeEntry(t, d, "y/e.txt", "rel")
	require.Equal(t, "rel", readEntry(t, d, "/x/y/e.txt"))

	require.ErrorIs(t, d.ChangeDir("c.txt"), ErrNotDirectory)
	require.ErrorIs(t, d.ChangeDir("missing"), ErrNotFound)

	require.NoError(t, d.ChangeDir(".."))
	require.Equal(t, "", d.CurrentDir())
}

func TestDirTranslatorBuffered(t *testing.T) {
	t.Parallel()

	d := openTestDir(t, DirOptions{Buffered: true, Buffer: BufferOptions{WindowSize: 32, Alignment: 8}})

	s, err := d.OpenFile("w.bin", os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	require.NoError(t, err)
	_, ok := s.(*BufferedStream)
	require.True(t, ok)

	_, err = s.Write([]byte("0123456789"))
	require.NoError(t, err)
	_, err = s.Seek(2, io.SeekStart)
	require.NoError(t, err)
	_, err = s.Write([]byte("ab"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	require.Equal(t, "01ab456789", readEntry(t, d, "w.bin"))
}

func TestDirTranslatorBufferedAppend(t *testing.T) {
	t.Parallel()

	d := openTestDir(t, DirOptions{Buffered: true, Buffer: BufferOptions{WindowSize: 16, Alignment: 16}})
	writeEntry(t, d, "log.txt", "head:")

	s, err := d.OpenFile("log.txt", os.O_WRONLY|os.O_APPEND)
	require.NoError(t, err)
	_, err = s.Write([]byte("0123456789abcdefGHIJKLMNOP"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	require.Equal(t, "head:0123456789abcdefGHIJKLMNOP", readEntry(t, d, "log.txt"))
}

func TestDirTranslatorReadOnlyAndClose(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0o600))

	d, err := OpenDir(root, DirOptions{ReadOnly: true, Logger: quietLogger()})
	require.NoError(t, err)

	require.Equal(t, "a", readEntry(t, d, "a.txt"))
	require.ErrorIs(t, d.CreateDir("x"), ErrNotWriteable)
	require.ErrorIs(t, d.Delete("a.txt"), ErrNotWriteable)

	_, err = d.Create("b.txt")
	require.ErrorIs(t, err, ErrNotWriteable)

	require.NoError(t, d.Close())
	require.ErrorIs(t, d.Close(), ErrClosed)

	_, err = d.Open("a.txt")
	require.ErrorIs(t, err, ErrClosed)

	_, err = OpenDir(filepath.Join(root, "a.txt"), DirOptions{})
	require.ErrorIs(t, err, ErrNotDirectory)

	_, err = OpenDir(filepath.Join(root, "missing"), DirOptions{})
	require.ErrorIs(t, err, ErrNotFound)

	created, err := OpenDir(filepath.Join(root, "made", "here"), DirOptions{CreateRoot: true})
	require.NoError(t, err)
	require.DirExists(t, created.Root())
}

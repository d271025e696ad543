// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/archvfs

package archvfs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// memMeta is in-memory file payload for tree tests.
type memMeta struct {
	data       []byte
	renames    []string
	deleted    bool
	failRename bool
	failDelete bool
}

func (m *memMeta) Reset() {
	m.data = nil
}

func (m *memMeta) OnCopy(dst *memMeta) error {
	dst.data = append([]byte(nil), m.data...)
	return nil
}

func (m *memMeta) OnRename(newPath Path) error {
	if m.failRename {
		return errors.New("rename refused")
	}

	m.renames = append(m.renames, newPath.String())
	return nil
}

func (m *memMeta) OnDelete() error {
	if m.failDelete {
		return errors.New("delete refused")
	}

	m.deleted = true
	return nil
}

func (m *memMeta) Size() (int64, error) {
	return int64(len(m.data)), nil
}

// newMemTree returns an empty tree with memMeta payloads.
func newMemTree() *Tree[struct{}, *memMeta] {
	return NewTree[struct{}, *memMeta](nil, func() *memMeta { return &memMeta{} })
}

// mustFile creates file p with content.
func mustFile(t *testing.T, tree *Tree[struct{}, *memMeta], p string, content string) *File[struct{}, *memMeta] {
	t.Helper()

	f, err := tree.MakeFile(MustParsePath(p))
	require.NoError(t, err)
	f.Meta.data = []byte(content)

	return f
}

// walkPaths returns every node path in walk order.
func walkPaths(t *testing.T, tree *Tree[struct{}, *memMeta]) []string {
	t.Helper()

	var out []string
	err := tree.Walk(
		func(d *Dir[struct{}, *memMeta]) error {
			out = append(out, d.Path().String())
			return nil
		},
		func(f *File[struct{}, *memMeta]) error {
			out = append(out, f.Path().String())
			return nil
		},
	)
	require.NoError(t, err)

	return out
}

func TestTreeMakeDirAndFile(t *testing.T) {
	t.Parallel()

	tree := newMemTree()

	d1, err := tree.MakeDir(MustParsePath("a/b/"))
	require.NoError(t, err)
	d2, err := tree.MakeDir(MustParsePath("a/b/"))
	require.NoError(t, err)
	require.Same(t, d1, d2)

	f := mustFile(t, tree, "x/y/z.txt", "data")
	require.Equal(t, "x/y/z.txt", f.Path().String())

	got, ok := tree.File(MustParsePath("x/y/z.txt"))
	require.True(t, ok)
	require.Same(t, f, got)

	_, err = tree.MakeDir(MustParsePath("x/y/z.txt/sub/"))
	require.ErrorIs(t, err, ErrNotDirectory)

	_, err = tree.MakeFile(MustParsePath("a/b"))
	require.ErrorIs(t, err, ErrIsDirectory)

	_, err = tree.MakeFile(RootPath())
	require.ErrorIs(t, err, ErrInvalidPath)

	require.Equal(t, 1, tree.FileCount())
}

func TestTreeMakeFileResetsExisting(t *testing.T) {
	t.Parallel()

	tree := newMemTree()
	f := mustFile(t, tree, "a.txt", "old")

	again, err := tree.MakeFile(MustParsePath("a.txt"))
	require.NoError(t, err)
	require.Same(t, f, again)
	require.Empty(t, again.Meta.data)

	f.Acquire()
	_, err = tree.MakeFile(MustParsePath("a.txt"))
	require.ErrorIs(t, err, ErrLocked)

	f.Release()
	f.Release()
	require.False(t, f.IsLocked())
}

func TestTreeDelete(t *testing.T) {
	t.Parallel()

	tree := newMemTree()
	f := mustFile(t, tree, "a/b/c.txt", "c")
	g := mustFile(t, tree, "a/d.txt", "d")

	f.Acquire()
	require.ErrorIs(t, tree.DeleteFile(f), ErrLocked)

	a, ok := tree.Dir(MustParsePath("a/"))
	require.True(t, ok)
	require.True(t, a.IsLocked())
	require.ErrorIs(t, tree.DeleteDir(a), ErrLocked)
	f.Release()

	require.ErrorIs(t, tree.DeleteDir(tree.Root()), ErrInvalidPath)
	require.NoError(t, tree.DeleteDir(a))
	require.True(t, f.Meta.deleted)
	require.True(t, g.Meta.deleted)
	require.True(t, tree.Root().IsEmpty())

	require.ErrorIs(t, tree.DeleteFile(g), ErrNotFound)
}

func TestTreeClear(t *testing.T) {
	t.Parallel()

	tree := newMemTree()
	f := mustFile(t, tree, "a/b.txt", "b")
	g := mustFile(t, tree, "c.txt", "c")

	g.Acquire()
	require.ErrorIs(t, tree.Clear(), ErrLocked)
	require.Equal(t, 2, tree.FileCount())
	g.Release()

	require.NoError(t, tree.Clear())
	require.True(t, tree.Root().IsEmpty())
	require.True(t, f.Meta.deleted)
	require.True(t, g.Meta.deleted)
	require.Zero(t, tree.FileCount())
}

func TestTreeRenameFile(t *testing.T) {
	t.Parallel()

	tree := newMemTree()
	f := mustFile(t, tree, "a/src.txt", "payload")
	old := mustFile(t, tree, "b/dst.txt", "old")

	require.NoError(t, tree.RenameFile(f, MustParsePath("b/dst.txt")))
	require.Equal(t, "b/dst.txt", f.Path().String())
	require.Equal(t, []string{"b/dst.txt"}, f.Meta.renames)
	require.True(t, old.Meta.deleted)

	_, ok := tree.File(MustParsePath("a/src.txt"))
	require.False(t, ok)

	got, ok := tree.File(MustParsePath("b/dst.txt"))
	require.True(t, ok)
	require.Equal(t, "payload", string(got.Meta.data))

	require.ErrorIs(t, tree.RenameFile(f, MustParsePath("missing/x.txt")), ErrNotFound)

	_, err := tree.MakeDir(MustParsePath("c/"))
	require.NoError(t, err)
	require.ErrorIs(t, tree.RenameFile(f, MustParsePath("c")), ErrIsDirectory)

	require.NoError(t, tree.RenameFile(f, MustParsePath("b/dst.txt")))
}

func TestTreeReplaceDeleteFailureKeepsTree(t *testing.T) {
	t.Parallel()

	tree := newMemTree()
	src := mustFile(t, tree, "src.txt", "new")
	dst := mustFile(t, tree, "dst.txt", "old")
	dst.Meta.failDelete = true

	require.Error(t, tree.RenameFile(src, MustParsePath("dst.txt")))
	require.Equal(t, "src.txt", src.Path().String())

	got, ok := tree.File(MustParsePath("dst.txt"))
	require.True(t, ok)
	require.Same(t, dst, got)

	_, err := tree.CopyFile(src, MustParsePath("dst.txt"))
	require.Error(t, err)

	got, ok = tree.File(MustParsePath("dst.txt"))
	require.True(t, ok)
	require.Same(t, dst, got)
	require.Equal(t, []string{"dst.txt", "src.txt"}, walkPaths(t, tree))

	dst.Meta.failDelete = false
	require.NoError(t, tree.RenameFile(src, MustParsePath("dst.txt")))
	require.True(t, dst.Meta.deleted)
	require.Equal(t, []string{"dst.txt"}, walkPaths(t, tree))
}

func TestTreeCopyFile(t *testing.T) {
	t.Parallel()

	tree := newMemTree()
	f := mustFile(t, tree, "a.txt", "one")

	copied, err := tree.CopyFile(f, MustParsePath("b.txt"))
	require.NoError(t, err)
	copied.Meta.data[0] = 'X'
	require.Equal(t, "one", string(f.Meta.data))
	require.Equal(t, 2, tree.FileCount())

	_, err = tree.CopyFile(f, MustParsePath("a.txt"))
	require.ErrorIs(t, err, ErrExist)
}

func TestTreeRenameDir(t *testing.T) {
	t.Parallel()

	tree := newMemTree()
	f := mustFile(t, tree, "a/b/c.txt", "c")
	mustFile(t, tree, "x/keep.txt", "k")

	a, _ := tree.Dir(MustParsePath("a/"))
	b, _ := tree.Dir(MustParsePath("a/b/"))

	require.ErrorIs(t, tree.RenameDir(a, MustParsePath("a/b/inner/")), ErrCycle)
	require.ErrorIs(t, tree.RenameDir(a, MustParsePath("x/")), ErrExist)
	require.ErrorIs(t, tree.RenameDir(tree.Root(), MustParsePath("z/")), ErrInvalidPath)

	require.NoError(t, tree.RenameDir(b, MustParsePath("x/moved/")))
	require.Equal(t, "x/moved/c.txt", f.Path().String())
	require.Equal(t, "x/moved/", b.Path().String())

	got, ok := tree.File(MustParsePath("x/moved/c.txt"))
	require.True(t, ok)
	require.Same(t, f, got)

	f.Acquire()
	require.ErrorIs(t, tree.RenameDir(b, MustParsePath("a/b/")), ErrLocked)
	f.Release()
}

func TestTreeRenameDirRollback(t *testing.T) {
	t.Parallel()

	tree := newMemTree()
	first := mustFile(t, tree, "d/1.txt", "1")
	second := mustFile(t, tree, "d/2.txt", "2")
	second.Meta.failRename = true

	d, _ := tree.Dir(MustParsePath("d/"))
	require.Error(t, tree.RenameDir(d, MustParsePath("e/")))

	require.Equal(t, []string{"e/1.txt", "d/1.txt"}, first.Meta.renames)
	require.Equal(t, "d/1.txt", first.Path().String())

	_, ok := tree.Dir(MustParsePath("e/"))
	require.False(t, ok)
}

func TestTreeCopyDir(t *testing.T) {
	t.Parallel()

	tree := newMemTree()
	mustFile(t, tree, "src/a.txt", "a")
	mustFile(t, tree, "src/sub/b.txt", "b")
	_, err := tree.MakeDir(MustParsePath("src/empty/"))
	require.NoError(t, err)

	src, _ := tree.Dir(MustParsePath("src/"))
	_, err = tree.CopyDir(src, MustParsePath("src/inner/"))
	require.ErrorIs(t, err, ErrCycle)

	_, err = tree.CopyDir(src, MustParsePath("dst/"))
	require.NoError(t, err)

	require.Equal(t, []string{
		"dst/",
		"dst/empty/",
		"dst/sub/",
		"dst/sub/b.txt",
		"dst/a.txt",
		"src/",
		"src/empty/",
		"src/sub/",
		"src/sub/b.txt",
		"src/a.txt",
	}, walkPaths(t, tree))

	b, ok := tree.File(MustParsePath("dst/sub/b.txt"))
	require.True(t, ok)
	require.Equal(t, "b", string(b.Meta.data))
}

func TestTreeScan(t *testing.T) {
	t.Parallel()

	tree := newMemTree()
	mustFile(t, tree, "a.txt", "")
	mustFile(t, tree, "b.bin", "")
	mustFile(t, tree, "docs/c.txt", "")
	mustFile(t, tree, "docs.txt/d.txt", "")

	var got []string
	collectDir := func(d *Dir[struct{}, *memMeta]) error {
		got = append(got, d.Path().String())
		return nil
	}
	collectFile := func(f *File[struct{}, *memMeta]) error {
		got = append(got, f.Path().String())
		return nil
	}

	err := tree.Scan(tree.Root(), PatternEnv{}.Compile("*.txt"), true, collectDir, collectFile)
	require.NoError(t, err)
	require.Equal(t, []string{"docs.txt/", "docs.txt/d.txt", "a.txt"}, got)

	got = nil
	err = tree.Scan(tree.Root(), PatternEnv{}.Compile(""), false, collectDir, collectFile)
	require.NoError(t, err)
	require.Equal(t, []string{"docs/", "docs.txt/", "a.txt", "b.bin"}, got)

	stop := errors.New("stop")
	err = tree.Scan(tree.Root(), PatternEnv{}.Compile(""), true, nil, func(*File[struct{}, *memMeta]) error { return stop })
	require.ErrorIs(t, err, stop)
}

// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/archvfs

package archvfs

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// FileMeta is the backend payload attached to every file node.
// Hooks run before the tree is mutated; a hook error leaves the tree unchanged.
type FileMeta[F any] interface {
	// Reset returns metadata to the freshly created state (file reuse on overwrite).
	Reset()
	// OnCopy fills dst, a fresh payload, with a copy of this file's content.
	OnCopy(dst F) error
	// OnRename relocates backend data before the node moves to newPath.
	OnRename(newPath Path) error
	// OnDelete releases backend data (scratch copies) before the node is unlinked.
	OnDelete() error
	// Size returns current content size.
	Size() (int64, error)
}

// Tree is an in-memory directory/file graph with backend payloads D and F.
// Name lookups are exact byte matches. It is not safe for concurrent use.
type Tree[D any, F FileMeta[F]] struct {
	root    *Dir[D, F]
	newDir  func() D
	newFile func() F
}

// Dir is a directory node.
type Dir[D any, F FileMeta[F]] struct {
	// Meta is backend directory payload.
	Meta D

	parent *Dir[D, F]
	dirs   map[string]*Dir[D, F]
	files  map[string]*File[D, F]
	name   string
}

// File is a file node.
type File[D any, F FileMeta[F]] struct {
	// Meta is backend file payload.
	Meta F

	parent *Dir[D, F]
	path   Path
	name   string
	locks  int
}

// NewTree creates an empty tree; factories build payloads for new nodes.
func NewTree[D any, F FileMeta[F]](newDir func() D, newFile func() F) *Tree[D, F] {
	t := &Tree[D, F]{newDir: newDir, newFile: newFile}
	t.root = t.makeDirNode(nil, "")

	return t
}

// Root returns root directory.
func (t *Tree[D, F]) Root() *Dir[D, F] {
	return t.root
}

// Dir walks p from root treating every component as a directory.
func (t *Tree[D, F]) Dir(p Path) (*Dir[D, F], bool) {
	d := t.root
	for _, name := range p.parts {
		next, ok := d.dirs[name]
		if !ok {
			return nil, false
		}
		d = next
	}

	return d, true
}

// File resolves file path p.
func (t *Tree[D, F]) File(p Path) (*File[D, F], bool) {
	if p.IsRoot() {
		return nil, false
	}

	d, ok := t.Dir(p.Parent())
	if !ok {
		return nil, false
	}

	f, ok := d.files[p.Name()]
	return f, ok
}

// MakeDir creates p and missing intermediate directories. It is idempotent and
// fails with ErrNotDirectory when a segment exists as a file.
func (t *Tree[D, F]) MakeDir(p Path) (*Dir[D, F], error) {
	d := t.root
	for _, name := range p.parts {
		if next, ok := d.dirs[name]; ok {
			d = next
			continue
		}

		if _, isFile := d.files[name]; isFile {
			return nil, fmt.Errorf("%w: %s", ErrNotDirectory, d.Path().Child(name))
		}

		next := t.makeDirNode(d, name)
		d.dirs[name] = next
		d = next
	}

	return d, nil
}

// MakeFile returns a file node at p. An existing unlocked file is reset in place
// and returned; a locked one fails with ErrLocked.
func (t *Tree[D, F]) MakeFile(p Path) (*File[D, F], error) {
	if p.IsRoot() {
		return nil, fmt.Errorf("%w: empty file name", ErrInvalidPath)
	}

	parent, err := t.MakeDir(p.Parent())
	if err != nil {
		return nil, err
	}

	name := p.Name()
	if _, isDir := parent.dirs[name]; isDir {
		return nil, fmt.Errorf("%w: %s", ErrIsDirectory, p.AsDir())
	}

	if existing, ok := parent.files[name]; ok {
		if existing.IsLocked() {
			return nil, fmt.Errorf("%w: %s", ErrLocked, existing.path)
		}

		existing.Meta.Reset()
		return existing, nil
	}

	f := &File[D, F]{
		Meta:   t.newFile(),
		parent: parent,
		name:   name,
		path:   parent.Path().File(name),
	}
	parent.files[name] = f

	return f, nil
}

// DeleteFile unlinks an unlocked file after its OnDelete hook succeeds.
func (t *Tree[D, F]) DeleteFile(f *File[D, F]) error {
	if f.parent == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, f.path)
	}
	if f.IsLocked() {
		return fmt.Errorf("%w: %s", ErrLocked, f.path)
	}

	if err := f.Meta.OnDelete(); err != nil {
		return fmt.Errorf("delete %s: %w", f.path, err)
	}

	delete(f.parent.files, f.name)
	f.parent = nil

	return nil
}

// DeleteDir removes d and its subtree. It fails with ErrLocked when any descendant
// file is locked. Root cannot be removed.
func (t *Tree[D, F]) DeleteDir(d *Dir[D, F]) error {
	if d == t.root {
		return fmt.Errorf("%w: cannot delete root", ErrInvalidPath)
	}
	if d.parent == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, d.name)
	}
	if d.IsLocked() {
		return fmt.Errorf("%w: %s", ErrLocked, d.Path())
	}

	if err := t.clearDir(d); err != nil {
		return err
	}

	delete(d.parent.dirs, d.name)
	d.parent = nil

	return nil
}

// Clear removes every node below root, running OnDelete for each file.
func (t *Tree[D, F]) Clear() error {
	if t.root.IsLocked() {
		return fmt.Errorf("%w: root", ErrLocked)
	}

	return t.clearDir(t.root)
}

// clearDir deletes every file of d depth-first; each removal keeps the tree consistent.
func (t *Tree[D, F]) clearDir(d *Dir[D, F]) error {
	for _, sub := range d.Dirs() {
		if err := t.clearDir(sub); err != nil {
			return err
		}

		delete(d.dirs, sub.name)
		sub.parent = nil
	}

	for _, f := range d.Files() {
		if err := t.DeleteFile(f); err != nil {
			return err
		}
	}

	return nil
}

// RenameFile moves f to file path dst. The destination parent must exist;
// an unlocked file at dst is replaced. The tree is unchanged when a hook fails.
func (t *Tree[D, F]) RenameFile(f *File[D, F], dst Path) error {
	if f.parent == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, f.path)
	}
	if f.IsLocked() {
		return fmt.Errorf("%w: %s", ErrLocked, f.path)
	}

	dst = dst.Parent().File(dst.Name())
	if dst.Equal(f.path) {
		return nil
	}

	parent, existing, err := t.fileTarget(dst)
	if err != nil {
		return err
	}

	if err := f.Meta.OnRename(dst); err != nil {
		return fmt.Errorf("rename %s to %s: %w", f.path, dst, err)
	}

	if existing != nil {
		if err := t.DeleteFile(existing); err != nil {
			return fmt.Errorf("rename %s to %s: %w", f.path, dst, err)
		}
	}

	delete(f.parent.files, f.name)
	f.parent = parent
	f.name = dst.Name()
	f.path = dst
	parent.files[f.name] = f

	return nil
}

// CopyFile copies f to file path dst through the OnCopy hook and returns the new node.
func (t *Tree[D, F]) CopyFile(f *File[D, F], dst Path) (*File[D, F], error) {
	if f.parent == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, f.path)
	}

	dst = dst.Parent().File(dst.Name())
	if dst.Equal(f.path) {
		return nil, fmt.Errorf("%w: copy onto itself %s", ErrExist, dst)
	}

	parent, existing, err := t.fileTarget(dst)
	if err != nil {
		return nil, err
	}

	meta := t.newFile()
	if err := f.Meta.OnCopy(meta); err != nil {
		return nil, fmt.Errorf("copy %s to %s: %w", f.path, dst, err)
	}

	if existing != nil {
		if err := t.DeleteFile(existing); err != nil {
			_ = meta.OnDelete()
			return nil, fmt.Errorf("copy %s to %s: %w", f.path, dst, err)
		}
	}

	copied := &File[D, F]{
		Meta:   meta,
		parent: parent,
		name:   dst.Name(),
		path:   dst,
	}
	parent.files[copied.name] = copied

	return copied, nil
}

// fileTarget validates a rename/copy destination and returns its parent and
// any replaceable file already stored there.
func (t *Tree[D, F]) fileTarget(dst Path) (*Dir[D, F], *File[D, F], error) {
	if dst.IsRoot() {
		return nil, nil, fmt.Errorf("%w: empty destination", ErrInvalidPath)
	}

	parent, ok := t.Dir(dst.Parent())
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, dst.Parent())
	}

	if _, isDir := parent.dirs[dst.Name()]; isDir {
		return nil, nil, fmt.Errorf("%w: %s", ErrIsDirectory, dst.AsDir())
	}

	existing := parent.files[dst.Name()]
	if existing != nil && existing.IsLocked() {
		return nil, nil, fmt.Errorf("%w: %s", ErrLocked, dst)
	}

	return parent, existing, nil
}

// RenameDir moves d to directory path dst. dst must not exist and its parent must.
// Moving a directory under itself fails with ErrCycle.
func (t *Tree[D, F]) RenameDir(d *Dir[D, F], dst Path) error {
	src := d.Path()
	dst = dst.AsDir()

	parent, err := t.dirTarget(d, dst)
	if err != nil {
		return err
	}
	if parent == nil {
		return nil
	}

	if d.IsLocked() {
		return fmt.Errorf("%w: %s", ErrLocked, src)
	}

	files := d.allFiles()
	for i, f := range files {
		if err := f.Meta.OnRename(f.path.Rebase(src, dst)); err != nil {
			// Put already relocated payloads back where the tree still expects them.
			var rollbackErr error
			for _, done := range files[:i] {
				rollbackErr = errors.Join(rollbackErr, done.Meta.OnRename(done.path))
			}

			return errors.Join(fmt.Errorf("rename %s to %s: %w", src, dst, err), rollbackErr)
		}
	}

	delete(d.parent.dirs, d.name)
	d.parent = parent
	d.name = dst.Name()
	parent.dirs[d.name] = d

	for _, f := range files {
		f.path = f.path.Rebase(src, dst)
	}

	return nil
}

// CopyDir copies d with its subtree to directory path dst.
func (t *Tree[D, F]) CopyDir(d *Dir[D, F], dst Path) (*Dir[D, F], error) {
	src := d.Path()
	dst = dst.AsDir()

	parent, err := t.dirTarget(d, dst)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, fmt.Errorf("%w: copy onto itself %s", ErrExist, dst)
	}

	// Snapshot first so nodes created below are never revisited.
	dirs := d.allDirs()
	files := d.allFiles()

	root, err := t.MakeDir(dst)
	if err != nil {
		return nil, err
	}

	for _, sub := range dirs {
		if _, err := t.MakeDir(sub.Path().Rebase(src, dst)); err != nil {
			return root, err
		}
	}

	for _, f := range files {
		if _, err := t.CopyFile(f, f.path.Rebase(src, dst)); err != nil {
			return root, err
		}
	}

	return root, nil
}

// dirTarget validates a directory rename/copy destination and returns its parent.
// A nil parent with nil error means dst equals d.
func (t *Tree[D, F]) dirTarget(d *Dir[D, F], dst Path) (*Dir[D, F], error) {
	if d == t.root {
		return nil, fmt.Errorf("%w: cannot move root", ErrInvalidPath)
	}
	if d.parent == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, d.name)
	}
	if dst.IsRoot() {
		return nil, fmt.Errorf("%w: root destination", ErrExist)
	}
	if dst.Equal(d.Path()) {
		return nil, nil
	}

	parent, ok := t.Dir(dst.Parent())
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, dst.Parent())
	}

	for anc := parent; anc != nil; anc = anc.parent {
		if anc == d {
			return nil, fmt.Errorf("%w: %s into %s", ErrCycle, d.Path(), dst)
		}
	}

	if _, ok := parent.dirs[dst.Name()]; ok {
		return nil, fmt.Errorf("%w: %s", ErrExist, dst)
	}
	if _, ok := parent.files[dst.Name()]; ok {
		return nil, fmt.Errorf("%w: %s", ErrExist, dst)
	}

	return parent, nil
}

// Walk visits every directory and file depth-first in sorted order.
// Directories are reported before their content; either callback may be nil.
func (t *Tree[D, F]) Walk(onDir func(*Dir[D, F]) error, onFile func(*File[D, F]) error) error {
	return t.root.walk(onDir, onFile)
}

// FileCount returns number of file nodes.
func (t *Tree[D, F]) FileCount() int {
	return len(t.root.allFiles())
}

// makeDirNode allocates one directory node.
func (t *Tree[D, F]) makeDirNode(parent *Dir[D, F], name string) *Dir[D, F] {
	var meta D
	if t.newDir != nil {
		meta = t.newDir()
	}

	return &Dir[D, F]{
		Meta:   meta,
		parent: parent,
		name:   name,
		dirs:   make(map[string]*Dir[D, F]),
		files:  make(map[string]*File[D, F]),
	}
}

// Name returns directory name ("" for root).
func (d *Dir[D, F]) Name() string {
	return d.name
}

// Parent returns parent directory or nil for root.
func (d *Dir[D, F]) Parent() *Dir[D, F] {
	return d.parent
}

// Path computes directory path by walking parents.
func (d *Dir[D, F]) Path() Path {
	var parts []string
	for cur := d; cur != nil && cur.parent != nil; cur = cur.parent {
		parts = append(parts, cur.name)
	}
	slices.Reverse(parts)

	return Path{parts: parts}
}

// Dir returns child directory by exact name.
func (d *Dir[D, F]) Dir(name string) (*Dir[D, F], bool) {
	sub, ok := d.dirs[name]
	return sub, ok
}

// File returns child file by exact name.
func (d *Dir[D, F]) File(name string) (*File[D, F], bool) {
	f, ok := d.files[name]
	return f, ok
}

// Dirs returns child directories sorted by name.
func (d *Dir[D, F]) Dirs() []*Dir[D, F] {
	out := make([]*Dir[D, F], 0, len(d.dirs))
	for _, name := range slices.Sorted(maps.Keys(d.dirs)) {
		out = append(out, d.dirs[name])
	}

	return out
}

// Files returns child files sorted by name.
func (d *Dir[D, F]) Files() []*File[D, F] {
	out := make([]*File[D, F], 0, len(d.files))
	for _, name := range slices.Sorted(maps.Keys(d.files)) {
		out = append(out, d.files[name])
	}

	return out
}

// IsEmpty reports whether d has no children.
func (d *Dir[D, F]) IsEmpty() bool {
	return len(d.dirs) == 0 && len(d.files) == 0
}

// IsLocked reports whether any descendant file is locked.
func (d *Dir[D, F]) IsLocked() bool {
	for _, f := range d.files {
		if f.IsLocked() {
			return true
		}
	}

	for _, sub := range d.dirs {
		if sub.IsLocked() {
			return true
		}
	}

	return false
}

// walk implements Tree.Walk for one subtree.
func (d *Dir[D, F]) walk(onDir func(*Dir[D, F]) error, onFile func(*File[D, F]) error) error {
	for _, sub := range d.Dirs() {
		if onDir != nil {
			if err := onDir(sub); err != nil {
				return err
			}
		}

		if err := sub.walk(onDir, onFile); err != nil {
			return err
		}
	}

	if onFile == nil {
		return nil
	}

	for _, f := range d.Files() {
		if err := onFile(f); err != nil {
			return err
		}
	}

	return nil
}

// allFiles returns every descendant file in walk order.
func (d *Dir[D, F]) allFiles() []*File[D, F] {
	var out []*File[D, F]
	_ = d.walk(nil, func(f *File[D, F]) error {
		out = append(out, f)
		return nil
	})

	return out
}

// allDirs returns every descendant directory in walk order.
func (d *Dir[D, F]) allDirs() []*Dir[D, F] {
	var out []*Dir[D, F]
	_ = d.walk(func(sub *Dir[D, F]) error {
		out = append(out, sub)
		return nil
	}, nil)

	return out
}

// Name returns file name.
func (f *File[D, F]) Name() string {
	return f.name
}

// Path returns file path derived from its tree position.
func (f *File[D, F]) Path() Path {
	return f.path
}

// Parent returns containing directory, nil once the file is unlinked.
func (f *File[D, F]) Parent() *Dir[D, F] {
	return f.parent
}

// Acquire increments lock count; call once per opened stream.
func (f *File[D, F]) Acquire() {
	f.locks++
}

// Release decrements lock count.
func (f *File[D, F]) Release() {
	if f.locks > 0 {
		f.locks--
	}
}

// IsLocked reports whether streams are open on f.
func (f *File[D, F]) IsLocked() bool {
	return f.locks > 0
}

// Size returns payload size.
func (f *File[D, F]) Size() (int64, error) {
	return f.Meta.Size()
}

// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/archvfs

package archvfs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/helper/chroot"
	"github.com/google/uuid"
)

// BillyFS adapts a Translator to billy.Filesystem so go-billy consumers
// (go-git, NFS servers) can work on directories and archives alike.
// Symlinks are not supported.
type BillyFS struct {
	t Translator
}

var (
	_ billy.Filesystem = (*BillyFS)(nil)
	_ billy.Capable    = (*BillyFS)(nil)
	_ billy.File       = (*billyFile)(nil)
)

// NewBillyFS wraps t. The adapter does not own t; closing t is up to the caller.
func NewBillyFS(t Translator) *BillyFS {
	return &BillyFS{t: t}
}

// Translator returns wrapped translator.
func (b *BillyFS) Translator() Translator {
	return b.t
}

// Create creates or truncates a file.
func (b *BillyFS) Create(filename string) (billy.File, error) {
	return b.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_TRUNC, DefaultFilePerm)
}

// Open opens a file for reading.
func (b *BillyFS) Open(filename string) (billy.File, error) {
	return b.OpenFile(filename, os.O_RDONLY, 0)
}

// OpenFile opens a file with os.OpenFile flags; perm is ignored.
func (b *BillyFS) OpenFile(filename string, flag int, _ os.FileMode) (billy.File, error) {
	s, err := b.t.OpenFile(filename, flag)
	if err != nil {
		return nil, billyError("open", filename, err)
	}

	return &billyFile{name: filename, s: s}, nil
}

// Stat returns entry information.
func (b *BillyFS) Stat(filename string) (os.FileInfo, error) {
	info, err := b.t.Stat(filename)
	if err != nil {
		return nil, billyError("stat", filename, err)
	}

	return info, nil
}

// Lstat is Stat: translators have no symlinks.
func (b *BillyFS) Lstat(filename string) (os.FileInfo, error) {
	return b.Stat(filename)
}

// Rename moves a file or directory.
func (b *BillyFS) Rename(oldpath string, newpath string) error {
	if err := b.t.Rename(oldpath, newpath); err != nil {
		return billyError("rename", oldpath, err)
	}

	return nil
}

// Remove deletes a file or an empty directory.
func (b *BillyFS) Remove(filename string) error {
	info, err := b.t.Stat(filename)
	if err != nil {
		return billyError("remove", filename, err)
	}

	if info.IsDir() {
		children, err := b.t.ReadDir(filename)
		if err != nil {
			return billyError("remove", filename, err)
		}
		if len(children) > 0 {
			return billyError("remove", filename, fmt.Errorf("%w: directory not empty", ErrExist))
		}
	}

	if err := b.t.Delete(filename); err != nil {
		return billyError("remove", filename, err)
	}

	return nil
}

// Join joins path elements with forward slashes.
func (b *BillyFS) Join(elem ...string) string {
	return path.Join(elem...)
}

// TempFile creates a new uniquely named file in dir.
func (b *BillyFS) TempFile(dir string, prefix string) (billy.File, error) {
	name := b.Join(dir, prefix+uuid.NewString())
	return b.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, DefaultFilePerm)
}

// ReadDir lists directory children sorted by name.
func (b *BillyFS) ReadDir(dirname string) ([]os.FileInfo, error) {
	infos, err := b.t.ReadDir(dirname)
	if err != nil {
		return nil, billyError("readdir", dirname, err)
	}

	return infos, nil
}

// MkdirAll creates a directory and missing parents; perm is ignored.
func (b *BillyFS) MkdirAll(filename string, _ os.FileMode) error {
	if err := b.t.CreateDir(filename); err != nil {
		return billyError("mkdir", filename, err)
	}

	return nil
}

// Symlink is not supported.
func (b *BillyFS) Symlink(_ string, link string) error {
	return billyError("symlink", link, billy.ErrNotSupported)
}

// Readlink is not supported.
func (b *BillyFS) Readlink(link string) (string, error) {
	return "", billyError("readlink", link, billy.ErrNotSupported)
}

// Chroot returns a filesystem rooted at p.
func (b *BillyFS) Chroot(p string) (billy.Filesystem, error) {
	return chroot.New(b, b.Join(b.Root(), p)), nil
}

// Root returns "/".
func (b *BillyFS) Root() string {
	return "/"
}

// Capabilities reports supported billy features.
func (b *BillyFS) Capabilities() billy.Capability {
	return billy.WriteCapability | billy.ReadCapability |
		billy.ReadAndWriteCapability | billy.SeekCapability | billy.TruncateCapability
}

// billyError wraps err as *fs.PathError and adds os sentinels for package sentinels.
func billyError(op string, name string, err error) error {
	switch {
	case errors.Is(err, ErrNotFound) && !errors.Is(err, fs.ErrNotExist):
		err = fmt.Errorf("%w: %w", fs.ErrNotExist, err)
	case errors.Is(err, ErrExist) && !errors.Is(err, fs.ErrExist):
		err = fmt.Errorf("%w: %w", fs.ErrExist, err)
	}

	return &fs.PathError{Op: op, Path: name, Err: err}
}

// billyFile adapts Stream to billy.File.
type billyFile struct {
	s    Stream
	name string
}

// Name returns name passed to open.
func (f *billyFile) Name() string {
	return f.name
}

// Read reads from stream.
func (f *billyFile) Read(p []byte) (int, error) {
	return f.s.Read(p)
}

// Write writes to stream.
func (f *billyFile) Write(p []byte) (int, error) {
	return f.s.Write(p)
}

// Seek moves stream offset.
func (f *billyFile) Seek(offset int64, whence int) (int64, error) {
	return f.s.Seek(offset, whence)
}

// ReadAt reads at absolute offset and restores stream offset.
func (f *billyFile) ReadAt(p []byte, off int64) (int, error) {
	if ra, ok := f.s.(io.ReaderAt); ok {
		return ra.ReadAt(p, off)
	}

	pos, err := f.s.Tell()
	if err != nil {
		return 0, err
	}

	if _, err := f.s.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}

	n, readErr := io.ReadFull(f.s, p)
	if errors.Is(readErr, io.ErrUnexpectedEOF) {
		readErr = io.EOF
	}

	if _, err := f.s.Seek(pos, io.SeekStart); err != nil {
		return n, err
	}

	return n, readErr
}

// Close closes stream.
func (f *billyFile) Close() error {
	return f.s.Close()
}

// Lock does nothing; entry locks are taken by open streams.
func (f *billyFile) Lock() error {
	return nil
}

// Unlock does nothing.
func (f *billyFile) Unlock() error {
	return nil
}

// Truncate cuts or extends stream to size and restores stream offset.
func (f *billyFile) Truncate(size int64) error {
	pos, err := f.s.Tell()
	if err != nil {
		return err
	}

	if _, err := f.s.Seek(size, io.SeekStart); err != nil {
		return err
	}

	if err := f.s.TruncateAtSeek(); err != nil {
		return err
	}

	_, err = f.s.Seek(pos, io.SeekStart)
	return err
}

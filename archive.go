// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/archvfs

package archvfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
)

// archiveFile is file payload of container-backed translators.
type archiveFile[F any] interface {
	FileMeta[F]
	// ModTime returns stored modification time or zero time.
	ModTime() time.Time
}

// archiveBase implements Translator operations shared by container formats
// over a Tree. Formats embed it and supply entry open and name checks.
type archiveBase[D any, F archiveFile[F]] struct {
	log       logrus.FieldLogger
	tree      *Tree[D, F]
	resolver  *Resolver
	scratch   *scratchArea
	container *os.File
	lock      *flock.Flock
	// openEntry opens payload of an existing node with os.OpenFile flags.
	openEntry func(f *File[D, F], flag int) (Stream, error)
	// checkName validates a new file or directory path for the format.
	checkName func(p Path) error
	path      string
	format    string
	cwd       Path
	opts      ArchiveOptions
	flat      bool
	closed    bool
}

// newArchiveBase prepares shared translator state.
func newArchiveBase[D any, F archiveFile[F]](
	format string,
	path string,
	container *os.File,
	lock *flock.Flock,
	opts ArchiveOptions,
) *archiveBase[D, F] {
	log := opts.Logger.WithFields(logrus.Fields{"format": format, "archive": path})

	return &archiveBase[D, F]{
		log:       log,
		resolver:  NewResolver(opts.Path),
		scratch:   newScratchArea(opts.ScratchDir, format+"-scratch", log),
		container: container,
		lock:      lock,
		path:      path,
		format:    format,
		opts:      opts,
	}
}

// openContainer opens (or creates) a path-backed container and takes the
// optional advisory lock. Partial acquisitions are released on error.
func openContainer(path string, opts ArchiveOptions, create bool) (*os.File, *flock.Flock, error) {
	var lock *flock.Flock
	if opts.LockContainer {
		l, err := acquireContainerLock(path)
		if err != nil {
			return nil, nil, err
		}
		lock = l
	}

	flag := os.O_RDWR
	switch {
	case create:
		flag |= os.O_CREATE | os.O_TRUNC
	case opts.ReadOnly:
		flag = os.O_RDONLY
	}

	f, err := os.OpenFile(path, flag, DefaultFilePerm)
	if err != nil {
		_ = releaseContainerLock(lock)
		return nil, nil, fmt.Errorf("open container %s: %w", path, mapOSError(err))
	}

	return f, lock, nil
}

// Format returns archive format name.
func (a *archiveBase[D, F]) Format() string {
	return a.format
}

// Path returns container path.
func (a *archiveBase[D, F]) Path() string {
	return a.path
}

// Open opens a file for reading.
func (a *archiveBase[D, F]) Open(path string) (Stream, error) {
	return a.OpenFile(path, os.O_RDONLY)
}

// Create creates or truncates a file for reading and writing.
func (a *archiveBase[D, F]) Create(path string) (Stream, error) {
	return a.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC)
}

// OpenFile opens an entry with os.OpenFile flags. The entry stays locked
// until the returned stream is closed. Write streams are buffered unless
// ArchiveOptions.Unbuffered is set.
func (a *archiveBase[D, F]) OpenFile(path string, flag int) (Stream, error) {
	write := isWriteFlag(flag) || flag&(os.O_CREATE|os.O_TRUNC) != 0
	if err := a.checkOpen(write); err != nil {
		return nil, err
	}

	p, err := a.resolveFile(path)
	if err != nil {
		return nil, err
	}

	f, created, err := a.prepareEntry(p, flag)
	if err != nil {
		return nil, err
	}

	stream, err := a.openEntry(f, flag)
	if err != nil {
		if created {
			_ = a.tree.DeleteFile(f)
		}

		return nil, fmt.Errorf("open %s: %w", p, err)
	}

	if flag&os.O_APPEND != 0 {
		if _, err := stream.Seek(0, io.SeekEnd); err != nil {
			_ = stream.Close()
			return nil, fmt.Errorf("open %s: %w", p, err)
		}
	}

	if write && !a.opts.Unbuffered {
		bs, err := NewBufferedStream(stream, a.opts.Buffer)
		if err != nil {
			_ = stream.Close()
			return nil, fmt.Errorf("open %s: %w", p, err)
		}

		stream = bs
	}

	f.Acquire()
	a.log.WithFields(logrus.Fields{"entry": p.String(), "write": write}).Debug("entry opened")

	return &lockedStream{Stream: stream, release: f.Release}, nil
}

// prepareEntry finds or creates the node for an open call and applies O_TRUNC.
func (a *archiveBase[D, F]) prepareEntry(p Path, flag int) (*File[D, F], bool, error) {
	f, ok := a.tree.File(p)
	if ok {
		if flag&os.O_CREATE != 0 && flag&os.O_EXCL != 0 {
			return nil, false, fmt.Errorf("open %s: %w", p, ErrExist)
		}

		if flag&os.O_TRUNC != 0 {
			if f.IsLocked() {
				return nil, false, fmt.Errorf("truncate %s: %w", p, ErrLocked)
			}

			f.Meta.Reset()
		}

		return f, false, nil
	}

	if flag&os.O_CREATE == 0 {
		if _, isDir := a.tree.Dir(p.AsDir()); isDir {
			return nil, false, fmt.Errorf("open %s: %w", p, ErrIsDirectory)
		}

		return nil, false, fmt.Errorf("open %s: %w", p, ErrNotFound)
	}

	if err := a.checkTarget(p); err != nil {
		return nil, false, err
	}

	f, err := a.tree.MakeFile(p)
	if err != nil {
		return nil, false, fmt.Errorf("create %s: %w", p, err)
	}

	return f, true, nil
}

// Exists reports whether path names an entry; a trailing separator requires a directory.
func (a *archiveBase[D, F]) Exists(path string) bool {
	if a.closed {
		return false
	}

	p, err := a.resolve(path)
	if err != nil {
		return false
	}

	f, d := a.lookup(p)
	return f != nil || d != nil
}

// Stat returns entry information.
func (a *archiveBase[D, F]) Stat(path string) (fs.FileInfo, error) {
	if err := a.checkOpen(false); err != nil {
		return nil, err
	}

	p, err := a.resolve(path)
	if err != nil {
		return nil, err
	}

	f, d := a.lookup(p)
	switch {
	case f != nil:
		return fileNodeInfo(f)
	case d != nil:
		return fileInfo{name: d.Name(), dir: true}, nil
	default:
		return nil, fmt.Errorf("stat %s: %w", p, ErrNotFound)
	}
}

// Size returns entry content size.
func (a *archiveBase[D, F]) Size(path string) (int64, error) {
	if err := a.checkOpen(false); err != nil {
		return 0, err
	}

	p, err := a.resolve(path)
	if err != nil {
		return 0, err
	}

	f, d := a.lookup(p)
	switch {
	case f != nil:
		return f.Size()
	case d != nil:
		return 0, fmt.Errorf("size %s: %w", p.AsDir(), ErrIsDirectory)
	default:
		return 0, fmt.Errorf("size %s: %w", p, ErrNotFound)
	}
}

// CreateDir creates a directory and missing parents.
func (a *archiveBase[D, F]) CreateDir(path string) error {
	if err := a.checkOpen(true); err != nil {
		return err
	}

	p, err := a.resolve(path)
	if err != nil {
		return err
	}

	p = p.AsDir()
	if p.IsRoot() {
		return nil
	}
	if err := a.checkTarget(p); err != nil {
		return err
	}

	if _, err := a.tree.MakeDir(p); err != nil {
		return fmt.Errorf("create dir %s: %w", p, err)
	}

	return nil
}

// Delete removes a file or a directory subtree. Locked entries fail with ErrLocked.
func (a *archiveBase[D, F]) Delete(path string) error {
	if err := a.checkOpen(true); err != nil {
		return err
	}

	p, err := a.resolve(path)
	if err != nil {
		return err
	}
	if p.IsRoot() {
		return fmt.Errorf("delete: %w: cannot delete root", ErrInvalidPath)
	}

	f, d := a.lookup(p)
	switch {
	case f != nil:
		err = a.tree.DeleteFile(f)
	case d != nil:
		err = a.tree.DeleteDir(d)
	default:
		err = fmt.Errorf("delete %s: %w", p, ErrNotFound)
	}
	if err != nil {
		return err
	}

	a.log.WithField("entry", p.String()).Debug("entry deleted")
	return nil
}

// Rename moves a file or directory; the destination parent must exist.
func (a *archiveBase[D, F]) Rename(src string, dst string) error {
	if err := a.checkOpen(true); err != nil {
		return err
	}

	from, to, err := a.resolvePair(src, dst)
	if err != nil {
		return err
	}

	f, d := a.lookup(from)
	switch {
	case f != nil:
		to = to.Parent().File(to.Name())
		if err := a.checkTarget(to); err != nil {
			return err
		}

		return a.tree.RenameFile(f, to)
	case d != nil:
		to = to.AsDir()
		if err := a.checkTarget(to); err != nil {
			return err
		}

		return a.tree.RenameDir(d, to)
	default:
		return fmt.Errorf("rename %s: %w", from, ErrNotFound)
	}
}

// Copy duplicates a file or directory.
func (a *archiveBase[D, F]) Copy(src string, dst string) error {
	if err := a.checkOpen(true); err != nil {
		return err
	}

	from, to, err := a.resolvePair(src, dst)
	if err != nil {
		return err
	}

	f, d := a.lookup(from)
	switch {
	case f != nil:
		to = to.Parent().File(to.Name())
		if err := a.checkTarget(to); err != nil {
			return err
		}

		_, err = a.tree.CopyFile(f, to)
	case d != nil:
		to = to.AsDir()
		if err := a.checkTarget(to); err != nil {
			return err
		}

		_, err = a.tree.CopyDir(d, to)
	default:
		err = fmt.Errorf("copy %s: %w", from, ErrNotFound)
	}

	return err
}

// Scan enumerates dir with Tree.Scan semantics.
func (a *archiveBase[D, F]) Scan(
	dir string,
	pattern string,
	recurse bool,
	onDir func(path string) error,
	onFile func(path string) error,
) error {
	if err := a.checkOpen(false); err != nil {
		return err
	}

	p, err := a.resolve(dir)
	if err != nil {
		return err
	}

	d, ok := a.tree.Dir(p.AsDir())
	if !ok {
		return fmt.Errorf("scan %s: %w", p.AsDir(), ErrNotFound)
	}

	var dirFn func(*Dir[D, F]) error
	if onDir != nil {
		dirFn = func(sub *Dir[D, F]) error { return onDir(sub.Path().String()) }
	}

	var fileFn func(*File[D, F]) error
	if onFile != nil {
		fileFn = func(f *File[D, F]) error { return onFile(f.Path().String()) }
	}

	return a.tree.Scan(d, a.opts.Pattern.Compile(pattern), recurse, dirFn, fileFn)
}

// ReadDir lists direct children of a directory sorted by name.
func (a *archiveBase[D, F]) ReadDir(path string) ([]fs.FileInfo, error) {
	if err := a.checkOpen(false); err != nil {
		return nil, err
	}

	p, err := a.resolve(path)
	if err != nil {
		return nil, err
	}

	d, ok := a.tree.Dir(p.AsDir())
	if !ok {
		if _, isFile := a.tree.File(p); isFile {
			return nil, fmt.Errorf("read dir %s: %w", p, ErrNotDirectory)
		}

		return nil, fmt.Errorf("read dir %s: %w", p.AsDir(), ErrNotFound)
	}

	out := make([]fs.FileInfo, 0, len(d.dirs)+len(d.files))
	for _, sub := range d.Dirs() {
		out = append(out, fileInfo{name: sub.Name(), dir: true})
	}

	for _, f := range d.Files() {
		info, err := fileNodeInfo(f)
		if err != nil {
			return nil, err
		}

		out = append(out, info)
	}

	slices.SortFunc(out, func(x, y fs.FileInfo) int { return strings.Compare(x.Name(), y.Name()) })
	return out, nil
}

// ChangeDir sets current directory.
func (a *archiveBase[D, F]) ChangeDir(path string) error {
	if err := a.checkOpen(false); err != nil {
		return err
	}

	p, err := a.resolve(path)
	if err != nil {
		return err
	}

	if _, ok := a.tree.Dir(p.AsDir()); !ok {
		if _, isFile := a.tree.File(p); isFile {
			return fmt.Errorf("change dir %s: %w", p, ErrNotDirectory)
		}

		return fmt.Errorf("change dir %s: %w", p.AsDir(), ErrNotFound)
	}

	a.cwd = p.AsDir()
	return nil
}

// CurrentDir returns current directory path.
func (a *archiveBase[D, F]) CurrentDir() string {
	return a.cwd.String()
}

// FileCount returns number of file entries.
func (a *archiveBase[D, F]) FileCount() int {
	return a.tree.FileCount()
}

// Close removes the scratch area, closes the container and releases the lock.
// Unsaved changes are discarded.
func (a *archiveBase[D, F]) Close() error {
	if a.closed {
		return ErrClosed
	}

	a.closed = true

	var errs []error
	if err := a.scratch.Close(); err != nil {
		errs = append(errs, err)
	}

	if a.container != nil {
		if err := a.container.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close container: %w", err))
		}
	}

	if err := releaseContainerLock(a.lock); err != nil {
		a.log.WithError(err).Warn("release container lock")
		errs = append(errs, err)
	}

	a.log.Debug("archive closed")
	return errors.Join(errs...)
}

// checkOpen rejects calls on closed or read-only translators.
func (a *archiveBase[D, F]) checkOpen(write bool) error {
	if a.closed {
		return ErrClosed
	}
	if write && a.opts.ReadOnly {
		return ErrNotWriteable
	}

	return nil
}

// checkSave rejects in-place saves while any entry has open streams.
func (a *archiveBase[D, F]) checkSave(ctx context.Context) error {
	if err := a.checkOpen(true); err != nil {
		return err
	}
	if a.container == nil {
		return fmt.Errorf("save: %w: no container file", ErrUnsupported)
	}
	if a.tree.Root().IsLocked() {
		return fmt.Errorf("save: %w", ErrLocked)
	}

	return ctx.Err()
}

// checkTarget validates a path that is about to be created by name.
func (a *archiveBase[D, F]) checkTarget(p Path) error {
	if a.flat && (p.Len() > 1 || !p.IsFile()) {
		return fmt.Errorf("%w: %s archives have no directories: %s", ErrUnsupported, a.format, p)
	}

	if a.checkName != nil {
		return a.checkName(p)
	}

	return nil
}

// resolve parses path text relative to the current directory.
func (a *archiveBase[D, F]) resolve(path string) (Path, error) {
	return a.resolver.Resolve(a.cwd, path)
}

// resolveFile parses path text that must name a file.
func (a *archiveBase[D, F]) resolveFile(path string) (Path, error) {
	p, err := a.resolve(path)
	if err != nil {
		return Path{}, err
	}
	if !p.IsFile() {
		return Path{}, fmt.Errorf("%w: %q", ErrIsDirectory, path)
	}

	return p, nil
}

// resolvePair resolves rename/copy endpoints; neither may be root.
func (a *archiveBase[D, F]) resolvePair(src string, dst string) (Path, Path, error) {
	from, err := a.resolve(src)
	if err != nil {
		return Path{}, Path{}, err
	}

	to, err := a.resolve(dst)
	if err != nil {
		return Path{}, Path{}, err
	}

	if from.IsRoot() || to.IsRoot() {
		return Path{}, Path{}, fmt.Errorf("%w: root cannot be moved or replaced", ErrInvalidPath)
	}

	return from, to, nil
}

// lookup finds a file (file-flagged paths only) or a directory at p.
func (a *archiveBase[D, F]) lookup(p Path) (*File[D, F], *Dir[D, F]) {
	if p.IsFile() {
		if f, ok := a.tree.File(p); ok {
			return f, nil
		}
	}

	if d, ok := a.tree.Dir(p.AsDir()); ok {
		return nil, d
	}

	return nil, nil
}

// fileNodeInfo builds fs.FileInfo for a file node.
func fileNodeInfo[D any, F archiveFile[F]](f *File[D, F]) (fs.FileInfo, error) {
	size, err := f.Size()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", f.Path(), err)
	}

	return fileInfo{name: f.Name(), size: size, modTime: f.Meta.ModTime()}, nil
}

// saveTarget is one container file replaced by an in-place save.
type saveTarget struct {
	file *os.File
	src  io.Reader
	path string
}

// commitTargets backs up and overwrites container files with staged content.
// A failed replace restores already replaced files from their backups.
func commitTargets(log logrus.FieldLogger, keep int, targets []saveTarget) error {
	backups := make([]string, len(targets))
	for i, t := range targets {
		backupPath, err := backupContainer(t.path, keep)
		if err != nil {
			return err
		}

		backups[i] = backupPath
	}

	for i, t := range targets {
		written, err := replaceFileContent(t.file, t.src)
		if err == nil {
			log.WithFields(logrus.Fields{"container": t.path, "size": written}).Debug("container replaced")
			continue
		}

		for j := i; j >= 0; j-- {
			if backups[j] == "" {
				continue
			}

			if rbErr := rollbackFromBackup(targets[j].file, backups[j]); rbErr != nil {
				log.WithError(rbErr).WithField("container", targets[j].path).Warn("restore container from backup")
				err = errors.Join(err, rbErr)
			}
		}

		return err
	}

	return nil
}

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
	"path/filepath"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"
)

// DirTranslator exposes a native OS directory through Translator.
// ".." never leaves the configured root.
type DirTranslator struct {
	log      logrus.FieldLogger
	resolver *Resolver
	root     string
	cwd      Path
	opts     DirOptions
	closed   bool
}

var _ Translator = (*DirTranslator)(nil)

// OpenDir creates a translator rooted at directory root.
func OpenDir(root string, opts DirOptions) (*DirTranslator, error) {
	opts.applyDefaults()

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", root, err)
	}

	if opts.CreateRoot {
		if err := os.MkdirAll(abs, opts.DirPerm); err != nil {
			return nil, fmt.Errorf("create root %s: %w", abs, err)
		}
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("open root %s: %w", abs, mapOSError(err))
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("open root %s: %w", abs, ErrNotDirectory)
	}

	return &DirTranslator{
		log:      opts.Logger.WithField("root", abs),
		resolver: NewResolver(opts.Path),
		root:     abs,
		opts:     opts,
	}, nil
}

// Root returns absolute OS path of the translator root.
func (d *DirTranslator) Root() string {
	return d.root
}

// OSPath returns OS path for translator path text.
func (d *DirTranslator) OSPath(path string) (string, error) {
	p, err := d.resolve(path)
	if err != nil {
		return "", err
	}

	return d.osPath(p), nil
}

// Open opens a file for reading.
func (d *DirTranslator) Open(path string) (Stream, error) {
	return d.OpenFile(path, os.O_RDONLY)
}

// Create creates or truncates a file.
func (d *DirTranslator) Create(path string) (Stream, error) {
	return d.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC)
}

// OpenFile opens a file with os.OpenFile flags. Parent directories are created
// for O_CREATE. Buffered translators return BufferedStream.
func (d *DirTranslator) OpenFile(path string, flag int) (Stream, error) {
	if err := d.checkOpen(isWriteFlag(flag) || flag&os.O_CREATE != 0); err != nil {
		return nil, err
	}

	p, err := d.resolveFile(path)
	if err != nil {
		return nil, err
	}

	osPath := d.osPath(p)
	if flag&os.O_CREATE != 0 {
		if err := os.MkdirAll(filepath.Dir(osPath), d.opts.DirPerm); err != nil {
			return nil, fmt.Errorf("create parent of %s: %w", p, mapOSError(err))
		}
	}

	nativeFlag := flag
	if d.opts.Buffered {
		// Window completion reads back existing bytes; the window positions
		// its own writes, so appends start at end instead of using O_APPEND.
		nativeFlag &^= os.O_APPEND
		if flag&os.O_WRONLY != 0 {
			nativeFlag = nativeFlag&^os.O_WRONLY | os.O_RDWR
		}
	}

	stream, err := OpenFileStream(osPath, nativeFlag, d.opts.FilePerm)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", p, mapOSError(err))
	}

	if !d.opts.Buffered {
		return stream, nil
	}

	if flag&os.O_APPEND != 0 {
		if _, err := stream.Seek(0, io.SeekEnd); err != nil {
			_ = stream.Close()
			return nil, fmt.Errorf("open %s: %w", p, err)
		}
	}

	bs, err := NewBufferedStream(stream, d.opts.Buffer)
	if err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("open %s: %w", p, err)
	}

	return bs, nil
}

// Exists reports whether path exists; a trailing separator requires a directory.
func (d *DirTranslator) Exists(path string) bool {
	info, err := d.Stat(path)
	if err != nil {
		return false
	}

	p, err := d.resolve(path)
	if err != nil {
		return false
	}

	return p.IsFile() || info.IsDir()
}

// Stat returns OS file information.
func (d *DirTranslator) Stat(path string) (fs.FileInfo, error) {
	if err := d.checkOpen(false); err != nil {
		return nil, err
	}

	p, err := d.resolve(path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(d.osPath(p))
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", p, mapOSError(err))
	}

	return info, nil
}

// Size returns file size.
func (d *DirTranslator) Size(path string) (int64, error) {
	info, err := d.Stat(path)
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return 0, fmt.Errorf("size %s: %w", path, ErrIsDirectory)
	}

	return info.Size(), nil
}

// CreateDir creates a directory and missing parents.
func (d *DirTranslator) CreateDir(path string) error {
	if err := d.checkOpen(true); err != nil {
		return err
	}

	p, err := d.resolve(path)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(d.osPath(p), d.opts.DirPerm); err != nil {
		return fmt.Errorf("create dir %s: %w", p.AsDir(), mapOSError(err))
	}

	return nil
}

// Delete removes a file or directory subtree. Root cannot be deleted.
func (d *DirTranslator) Delete(path string) error {
	if err := d.checkOpen(true); err != nil {
		return err
	}

	p, err := d.resolve(path)
	if err != nil {
		return err
	}
	if p.IsRoot() {
		return fmt.Errorf("delete: %w: cannot delete root", ErrInvalidPath)
	}

	osPath := d.osPath(p)
	info, err := os.Lstat(osPath)
	if err != nil {
		return fmt.Errorf("delete %s: %w", p, mapOSError(err))
	}

	if info.IsDir() {
		err = os.RemoveAll(osPath)
	} else {
		err = os.Remove(osPath)
	}
	if err != nil {
		return fmt.Errorf("delete %s: %w", p, mapOSError(err))
	}

	d.log.WithField("path", p.String()).Debug("deleted")
	return nil
}

// Rename moves a file or directory; the destination parent must exist.
func (d *DirTranslator) Rename(src string, dst string) error {
	if err := d.checkOpen(true); err != nil {
		return err
	}

	from, to, err := d.resolvePair(src, dst)
	if err != nil {
		return err
	}

	if err := os.Rename(d.osPath(from), d.osPath(to)); err != nil {
		return fmt.Errorf("rename %s to %s: %w", from, to, mapOSError(err))
	}

	return nil
}

// Copy duplicates a file or a directory subtree.
func (d *DirTranslator) Copy(src string, dst string) error {
	if err := d.checkOpen(true); err != nil {
		return err
	}

	from, to, err := d.resolvePair(src, dst)
	if err != nil {
		return err
	}

	fromOS := d.osPath(from)
	toOS := d.osPath(to)

	info, err := os.Stat(fromOS)
	if err != nil {
		return fmt.Errorf("copy %s: %w", from, mapOSError(err))
	}

	if !info.IsDir() {
		return copyOSFile(fromOS, toOS, d.opts.FilePerm)
	}

	if to.HasPrefix(from) {
		return fmt.Errorf("copy %s to %s: %w", from, to, ErrCycle)
	}

	return filepath.WalkDir(fromOS, func(cur string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		rel, err := filepath.Rel(fromOS, cur)
		if err != nil {
			return err
		}

		target := filepath.Join(toOS, rel)
		if entry.IsDir() {
			return os.MkdirAll(target, d.opts.DirPerm)
		}

		return copyOSFile(cur, target, d.opts.FilePerm)
	})
}

// Scan enumerates dir with Tree.Scan semantics over the OS directory.
func (d *DirTranslator) Scan(
	dir string,
	pattern string,
	recurse bool,
	onDir func(path string) error,
	onFile func(path string) error,
) error {
	if err := d.checkOpen(false); err != nil {
		return err
	}

	p, err := d.resolve(dir)
	if err != nil {
		return err
	}

	compiled := d.opts.Pattern.Compile(pattern)
	return d.scanDir(p.AsDir(), compiled, recurse, onDir, onFile)
}

// scanDir scans one OS directory level.
func (d *DirTranslator) scanDir(
	p Path,
	pattern Pattern,
	recurse bool,
	onDir func(path string) error,
	onFile func(path string) error,
) error {
	entries, err := os.ReadDir(d.osPath(p))
	if err != nil {
		return fmt.Errorf("scan %s: %w", p, mapOSError(err))
	}

	var files []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() {
			files = append(files, name)
			continue
		}

		if !pattern.Match(name) {
			continue
		}

		sub := p.Child(name)
		if onDir != nil {
			if err := onDir(sub.String()); err != nil {
				return err
			}
		}

		if recurse {
			if err := d.scanDir(sub, pattern, recurse, onDir, onFile); err != nil {
				return err
			}
		}
	}

	if onFile == nil {
		return nil
	}

	for _, name := range files {
		if !pattern.Match(name) {
			continue
		}

		if err := onFile(p.File(name).String()); err != nil {
			return err
		}
	}

	return nil
}

// ReadDir lists directory children sorted by name.
func (d *DirTranslator) ReadDir(path string) ([]fs.FileInfo, error) {
	if err := d.checkOpen(false); err != nil {
		return nil, err
	}

	p, err := d.resolve(path)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(d.osPath(p))
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", p.AsDir(), mapOSError(err))
	}

	out := make([]fs.FileInfo, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("read dir %s: %w", p.AsDir(), mapOSError(err))
		}

		out = append(out, info)
	}

	slices.SortFunc(out, func(a, b fs.FileInfo) int { return strings.Compare(a.Name(), b.Name()) })
	return out, nil
}

// ChangeDir sets current directory.
func (d *DirTranslator) ChangeDir(path string) error {
	if err := d.checkOpen(false); err != nil {
		return err
	}

	p, err := d.resolve(path)
	if err != nil {
		return err
	}

	info, err := os.Stat(d.osPath(p))
	if err != nil {
		return fmt.Errorf("change dir %s: %w", p.AsDir(), mapOSError(err))
	}
	if !info.IsDir() {
		return fmt.Errorf("change dir %s: %w", p, ErrNotDirectory)
	}

	d.cwd = p.AsDir()
	return nil
}

// CurrentDir returns current directory path.
func (d *DirTranslator) CurrentDir() string {
	return d.cwd.String()
}

// Close marks translator closed; the OS directory is left untouched.
func (d *DirTranslator) Close() error {
	if d.closed {
		return ErrClosed
	}

	d.closed = true
	return nil
}

// checkOpen rejects calls on closed or read-only translators.
func (d *DirTranslator) checkOpen(write bool) error {
	if d.closed {
		return ErrClosed
	}
	if write && d.opts.ReadOnly {
		return ErrNotWriteable
	}

	return nil
}

// resolve parses path text relative to the current directory.
func (d *DirTranslator) resolve(path string) (Path, error) {
	return d.resolver.Resolve(d.cwd, path)
}

// resolveFile parses path text that must name a file.
func (d *DirTranslator) resolveFile(path string) (Path, error) {
	p, err := d.resolve(path)
	if err != nil {
		return Path{}, err
	}
	if !p.IsFile() {
		return Path{}, fmt.Errorf("%w: %q", ErrIsDirectory, path)
	}

	return p, nil
}

// resolvePair resolves rename/copy endpoints; neither may be root.
func (d *DirTranslator) resolvePair(src string, dst string) (Path, Path, error) {
	from, err := d.resolve(src)
	if err != nil {
		return Path{}, Path{}, err
	}

	to, err := d.resolve(dst)
	if err != nil {
		return Path{}, Path{}, err
	}

	if from.IsRoot() || to.IsRoot() {
		return Path{}, Path{}, fmt.Errorf("%w: root cannot be moved or replaced", ErrInvalidPath)
	}

	return from, to, nil
}

// osPath maps a resolved path under root.
func (d *DirTranslator) osPath(p Path) string {
	if p.IsRoot() {
		return d.root
	}

	return filepath.Join(d.root, filepath.Join(p.parts...))
}

// copyOSFile copies regular file content from src to dst, truncating dst.
func copyOSFile(src string, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, mapOSError(err))
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, mapOSError(err))
	}

	buf, release := acquireCopyBuffer()
	defer release()

	if _, err := io.CopyBuffer(onlyWriter{out}, onlyReader{in}, buf); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dst, err)
	}

	return nil
}

// mapOSError adds package sentinels to common OS errors.
func mapOSError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, fs.ErrExist):
		return fmt.Errorf("%w: %w", ErrExist, err)
	default:
		return err
	}
}

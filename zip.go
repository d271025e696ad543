// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/archvfs

package archvfs

import (
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"time"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
)

// FormatZIP is ZIP format name.
const FormatZIP = "zip"

// ZIPTranslator exposes a ZIP container through Translator. Entry content is
// read from the container in place until the first write; writes go to a
// scratch copy and reach the container on Save.
type ZIPTranslator struct {
	*archiveBase[zipDirMeta, *zipEntry]

	store   *zipStore
	comment []byte
}

var _ ArchiveTranslator = (*ZIPTranslator)(nil)

// zipStore is state shared by every entry of one ZIP translator.
type zipStore struct {
	scratch   *scratchArea
	container io.ReaderAt
	codecs    *CodecSet
	log       logrus.FieldLogger
	// base is absolute offset of archive start inside the container.
	base int64
	// dataEnd is offset relative to base where entry data must end.
	dataEnd int64
}

// zipDirMeta keeps the directory record loaded from the container, if any.
type zipDirMeta struct {
	rec *zipRecord
}

// zipEntry is file payload of a ZIP translator.
type zipEntry struct {
	store *zipStore
	rec   zipRecord
	// scratch is scratch file name holding current content, empty when none.
	scratch string
	// dataOffset is absolute data offset in container, negative until read.
	dataOffset int64
	// archived reports whether container bytes are the current content.
	archived bool
}

// OpenZIP opens an existing ZIP container.
func OpenZIP(path string, opts ArchiveOptions) (*ZIPTranslator, error) {
	opts.applyDefaults()

	f, lock, err := openContainer(path, opts, false)
	if err != nil {
		return nil, err
	}

	z := newZIPTranslator(path, f, lock, opts)

	info, err := f.Stat()
	if err != nil {
		_ = z.Close()
		return nil, fmt.Errorf("open ZIP %s: %w", path, err)
	}

	dir, err := readZIPDirectory(f, info.Size())
	if err != nil {
		_ = z.Close()
		return nil, fmt.Errorf("open ZIP %s: %w", path, err)
	}

	if err := z.load(dir); err != nil {
		_ = z.Close()
		return nil, fmt.Errorf("open ZIP %s: %w", path, err)
	}

	z.log.WithFields(logrus.Fields{
		"entries": len(dir.records),
		"offset":  dir.base,
		"size":    info.Size(),
	}).Debug("ZIP opened")

	return z, nil
}

// CreateZIP creates (or truncates) a ZIP container with no entries.
// The file holds a valid archive only after Save.
func CreateZIP(path string, opts ArchiveOptions) (*ZIPTranslator, error) {
	opts.applyDefaults()
	if opts.ReadOnly {
		return nil, fmt.Errorf("create ZIP %s: %w", path, ErrNotWriteable)
	}

	f, lock, err := openContainer(path, opts, true)
	if err != nil {
		return nil, err
	}

	z := newZIPTranslator(path, f, lock, opts)
	z.log.Debug("ZIP created")

	return z, nil
}

// newZIPTranslator wires base translator, tree and entry store.
func newZIPTranslator(path string, f *os.File, lock *flock.Flock, opts ArchiveOptions) *ZIPTranslator {
	base := newArchiveBase[zipDirMeta, *zipEntry](FormatZIP, path, f, lock, opts)
	store := &zipStore{
		scratch:   base.scratch,
		container: f,
		codecs:    opts.Codecs,
		log:       base.log,
	}

	base.tree = NewTree(
		func() zipDirMeta { return zipDirMeta{} },
		func() *zipEntry { return newZIPEntry(store) },
	)

	z := &ZIPTranslator{archiveBase: base, store: store}
	base.openEntry = z.openEntry
	base.checkName = checkZIPName

	return z
}

// load builds the tree from central directory records; later duplicates win.
func (z *ZIPTranslator) load(dir *zipDirectory) error {
	z.store.base = dir.base
	z.store.dataEnd = dir.dataEnd
	z.comment = dir.comment

	for i := range dir.records {
		rec := dir.records[i]

		p, err := z.resolver.Resolve(RootPath(), rec.name)
		if err != nil {
			return fmt.Errorf("%w: entry name %q: %w", ErrInvalidFormat, rec.name, err)
		}
		if p.IsRoot() {
			continue
		}

		if !p.IsFile() {
			d, err := z.tree.MakeDir(p)
			if err != nil {
				return fmt.Errorf("%w: entry %q: %w", ErrInvalidFormat, rec.name, err)
			}

			d.Meta.rec = &rec
			continue
		}

		f, err := z.tree.MakeFile(p)
		if err != nil {
			return fmt.Errorf("%w: entry %q: %w", ErrInvalidFormat, rec.name, err)
		}

		f.Meta.rec = rec
		f.Meta.archived = true
	}

	return nil
}

// Comment returns archive comment.
func (z *ZIPTranslator) Comment() string {
	return string(z.comment)
}

// SetComment replaces archive comment written by the next save.
func (z *ZIPTranslator) SetComment(comment string) error {
	if err := z.checkOpen(true); err != nil {
		return err
	}
	if len(comment) > zipMaxCommentLen {
		return fmt.Errorf("%w: archive comment is %d bytes", ErrUnsupported, len(comment))
	}

	z.comment = []byte(comment)
	return nil
}

// openEntry opens entry payload; writes always go through a scratch copy.
func (z *ZIPTranslator) openEntry(f *File[zipDirMeta, *zipEntry], flag int) (Stream, error) {
	e := f.Meta
	if isWriteFlag(flag) {
		return e.openWrite()
	}

	return e.openRead()
}

// checkZIPName rejects names that do not fit ZIP 16-bit name length.
func checkZIPName(p Path) error {
	if len(p.String()) > 0xffff {
		return fmt.Errorf("%w: %s", ErrNameTooLong, p)
	}

	return nil
}

// newZIPEntry returns payload of a new empty entry stamped with current time.
func newZIPEntry(store *zipStore) *zipEntry {
	e := &zipEntry{store: store, dataOffset: -1}
	e.rec = newZIPRecord(false)

	return e
}

// newZIPRecord returns record template for new entries.
func newZIPRecord(dir bool) zipRecord {
	date, clock := dosDateTime(time.Now())
	rec := zipRecord{
		versionMade:  zipVersionMadeBy,
		versionNeed:  zipVersionNeeded,
		modDate:      date,
		modTime:      clock,
		externalAttr: 0o100644 << 16,
	}

	if dir {
		rec.externalAttr = 0o040755<<16 | zipDirAttr
	}

	return rec
}

// Reset drops content and returns payload to new-entry state.
func (e *zipEntry) Reset() {
	if err := e.store.scratch.remove(e.scratch); err != nil {
		e.store.log.WithError(err).Warn("remove scratch copy")
	}

	*e = *newZIPEntry(e.store)
}

// OnCopy fills dst with the same content; container data is shared, scratch data is cloned.
func (e *zipEntry) OnCopy(dst *zipEntry) error {
	rec := e.rec
	rec.extra = append([]byte(nil), e.rec.extra...)
	rec.comment = append([]byte(nil), e.rec.comment...)

	dst.rec = rec
	dst.archived = e.archived
	dst.dataOffset = e.dataOffset
	dst.scratch = ""

	if e.archived || e.scratch == "" {
		return nil
	}

	cloned, err := e.store.scratch.clone(e.scratch)
	if err != nil {
		return err
	}

	dst.scratch = cloned
	return nil
}

// OnRename does nothing: scratch names do not follow entry paths.
func (e *zipEntry) OnRename(Path) error {
	return nil
}

// OnDelete removes the scratch copy.
func (e *zipEntry) OnDelete() error {
	if err := e.store.scratch.remove(e.scratch); err != nil {
		return err
	}

	e.scratch = ""
	return nil
}

// Size returns current content size.
func (e *zipEntry) Size() (int64, error) {
	switch {
	case e.archived:
		return int64(e.rec.size), nil
	case e.scratch != "":
		return e.store.scratch.size(e.scratch)
	default:
		return 0, nil
	}
}

// ModTime returns entry modification time.
func (e *zipEntry) ModTime() time.Time {
	return dosTime(e.rec.modDate, e.rec.modTime)
}

// openRead returns read stream: scratch copy, container section or lazy extractor.
func (e *zipEntry) openRead() (Stream, error) {
	if e.scratch != "" || !e.archived {
		if err := e.extract(); err != nil {
			return nil, err
		}

		return e.store.scratch.open(e.scratch, os.O_RDONLY)
	}

	if e.rec.flags&zipFlagEncrypted != 0 {
		return nil, fmt.Errorf("%w: encrypted entry", ErrUnsupported)
	}

	if e.rec.method == MethodStore {
		off, err := e.dataStart()
		if err != nil {
			return nil, err
		}

		return NewSectionStream(e.store.container, off, int64(e.rec.compSize)), nil
	}

	if _, err := e.store.codecs.Lookup(e.rec.method); err != nil {
		return nil, err
	}

	return &lazyStream{entry: e}, nil
}

// openWrite extracts content when needed and opens the scratch copy read-write.
func (e *zipEntry) openWrite() (Stream, error) {
	if err := e.extract(); err != nil {
		return nil, err
	}

	s, err := e.store.scratch.open(e.scratch, os.O_RDWR)
	if err != nil {
		return nil, err
	}

	e.archived = false
	e.rec.modDate, e.rec.modTime = dosDateTime(time.Now())

	return s, nil
}

// dataStart returns absolute data offset, reading the local header once.
func (e *zipEntry) dataStart() (int64, error) {
	if e.dataOffset >= 0 {
		return e.dataOffset, nil
	}

	off, err := readZIPLocalDataOffset(e.store.container, e.store.base+int64(e.rec.headerOffset))
	if err != nil {
		return 0, err
	}
	if off+int64(e.rec.compSize) > e.store.base+e.store.dataEnd {
		return 0, fmt.Errorf("%w: entry %q data at %d declares %d bytes", ErrTruncated, e.rec.name, off, e.rec.compSize)
	}

	e.dataOffset = off
	return off, nil
}

// extract materializes current content into a scratch copy. Container data is
// decoded with the entry codec and verified against stored size and CRC32.
func (e *zipEntry) extract() error {
	if e.scratch != "" {
		return nil
	}

	name, out, err := e.store.scratch.create()
	if err != nil {
		return err
	}

	if !e.archived {
		if err := out.Close(); err != nil {
			_ = e.store.scratch.remove(name)
			return err
		}

		e.scratch = name
		return nil
	}

	if err := e.decodeTo(out); err != nil {
		_ = out.Close()
		_ = e.store.scratch.remove(name)
		return err
	}

	if err := out.Close(); err != nil {
		_ = e.store.scratch.remove(name)
		return fmt.Errorf("close scratch copy: %w", err)
	}

	e.scratch = name
	e.store.log.WithFields(logrus.Fields{"entry": e.rec.name, "size": e.rec.size}).Debug("entry extracted")

	return nil
}

// decodeTo writes decoded container data to dst and verifies it.
func (e *zipEntry) decodeTo(dst io.Writer) error {
	if e.rec.flags&zipFlagEncrypted != 0 {
		return fmt.Errorf("%w: encrypted entry", ErrUnsupported)
	}

	codec, err := e.store.codecs.Lookup(e.rec.method)
	if err != nil {
		return err
	}

	off, err := e.dataStart()
	if err != nil {
		return err
	}

	section := io.NewSectionReader(e.store.container, off, int64(e.rec.compSize))
	rc, err := codec.NewReader(section, int64(e.rec.size))
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()

	buf, release := acquireCopyBuffer()
	defer release()

	hash := crc32.NewIEEE()
	n, err := copyPayloadBounded(io.MultiWriter(dst, hash), rc, int64(e.rec.size), buf)
	switch {
	case errors.Is(err, errPayloadOverflow):
		return fmt.Errorf("%w: entry %q: %w", ErrInvalidFormat, e.rec.name, err)
	case err != nil:
		return fmt.Errorf("decode entry %q: %w", e.rec.name, err)
	case n != int64(e.rec.size):
		return fmt.Errorf("%w: entry %q decoded %d of %d bytes", ErrTruncated, e.rec.name, n, e.rec.size)
	case hash.Sum32() != e.rec.crc:
		return fmt.Errorf("%w: entry %q", ErrChecksumMismatch, e.rec.name)
	}

	return nil
}

// lazyStream is a read stream over a compressed entry that extracts it on first access.
type lazyStream struct {
	entry  *zipEntry
	s      Stream
	closed bool
}

var _ Stream = (*lazyStream)(nil)

// materialize extracts the entry and opens its scratch copy once.
func (l *lazyStream) materialize() (Stream, error) {
	if l.closed {
		return nil, ErrClosed
	}
	if l.s != nil {
		return l.s, nil
	}

	if err := l.entry.extract(); err != nil {
		return nil, err
	}

	s, err := l.entry.store.scratch.open(l.entry.scratch, os.O_RDONLY)
	if err != nil {
		return nil, err
	}

	l.s = s
	return s, nil
}

// Read extracts on first call and reads the scratch copy.
func (l *lazyStream) Read(p []byte) (int, error) {
	s, err := l.materialize()
	if err != nil {
		return 0, err
	}

	return s.Read(p)
}

// Write always fails.
func (l *lazyStream) Write([]byte) (int, error) {
	return 0, ErrNotWriteable
}

// Seek extracts on first call and seeks the scratch copy.
func (l *lazyStream) Seek(offset int64, whence int) (int64, error) {
	s, err := l.materialize()
	if err != nil {
		return 0, err
	}

	return s.Seek(offset, whence)
}

// Tell returns current offset; zero before extraction.
func (l *lazyStream) Tell() (int64, error) {
	if l.s == nil {
		return 0, nil
	}

	return l.s.Tell()
}

// Size returns declared uncompressed size without extracting.
func (l *lazyStream) Size() (int64, error) {
	return int64(l.entry.rec.size), nil
}

// TruncateAtSeek always fails.
func (l *lazyStream) TruncateAtSeek() error {
	return ErrNotWriteable
}

// Flush is a no-op.
func (l *lazyStream) Flush() error {
	return nil
}

// Close closes the scratch copy when it was opened.
func (l *lazyStream) Close() error {
	if l.closed {
		return ErrClosed
	}

	l.closed = true
	if l.s == nil {
		return nil
	}

	return l.s.Close()
}

// IsReadable returns true.
func (l *lazyStream) IsReadable() bool {
	return true
}

// IsWriteable returns false.
func (l *lazyStream) IsWriteable() bool {
	return false
}

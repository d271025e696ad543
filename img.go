// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/archvfs

package archvfs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
)

// FormatIMG is IMG format name.
const FormatIMG = "img"

// IMGTranslator exposes an IMG resource container through Translator.
// IMG has a flat namespace: entries live in the root and names are limited
// to 24 bytes. Entry size is derived from block count, so content of every
// entry except the last reads back padded to a 2048-byte boundary after reopen.
type IMGTranslator struct {
	*archiveBase[struct{}, *imgEntry]

	store   *imgStore
	dirFile *os.File
	dirPath string
	version IMGVersion
}

var _ ArchiveTranslator = (*IMGTranslator)(nil)

// imgStore is state shared by every entry of one IMG translator.
type imgStore struct {
	scratch   *scratchArea
	container io.ReaderAt
	log       logrus.FieldLogger
}

// imgEntry is file payload of an IMG translator.
type imgEntry struct {
	store   *imgStore
	modTime time.Time
	scratch string
	// offset is data offset in bytes.
	offset int64
	size   int64
	// archived reports whether container bytes are the current content.
	archived bool
}

// imgLayout is one planned entry of a rebuild.
type imgLayout struct {
	entry *imgEntry
	rec   imgRecord
	size  int64
}

// OpenIMG opens an IMG container. path may name a v2 ".img", a v1 ".img"
// with sibling ".dir", or the v1 ".dir" itself.
func OpenIMG(path string, opts ArchiveOptions) (*IMGTranslator, error) {
	opts.applyDefaults()

	imgPath, dirPath, version, err := resolveIMGPaths(path)
	if err != nil {
		return nil, fmt.Errorf("open IMG %s: %w", path, err)
	}

	f, lock, err := openContainer(imgPath, opts, false)
	if err != nil {
		return nil, err
	}

	m := newIMGTranslator(imgPath, f, lock, version, opts)
	if err := m.loadFromContainer(dirPath); err != nil {
		_ = m.Close()
		return nil, fmt.Errorf("open IMG %s: %w", path, err)
	}

	m.log.WithFields(logrus.Fields{
		"entries": m.tree.FileCount(),
		"version": version.String(),
	}).Debug("IMG opened")

	return m, nil
}

// CreateIMG creates (or truncates) an IMG container with ArchiveOptions.IMGVersion
// layout. Version 1 creates both ".img" and ".dir" next to path.
func CreateIMG(path string, opts ArchiveOptions) (*IMGTranslator, error) {
	opts.applyDefaults()
	if opts.ReadOnly {
		return nil, fmt.Errorf("create IMG %s: %w", path, ErrNotWriteable)
	}

	version := opts.IMGVersion
	imgPath := path
	var dirPath string

	switch version {
	case IMGVersion1:
		base := strings.TrimSuffix(path, filepath.Ext(path))
		imgPath = base + ".img"
		dirPath = base + ".dir"
	case IMGVersion2:
	default:
		return nil, fmt.Errorf("create IMG %s: %w: version %s", path, ErrUnsupported, version)
	}

	f, lock, err := openContainer(imgPath, opts, true)
	if err != nil {
		return nil, err
	}

	m := newIMGTranslator(imgPath, f, lock, version, opts)
	if dirPath != "" {
		dirFile, err := os.OpenFile(dirPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, DefaultFilePerm)
		if err != nil {
			_ = m.Close()
			return nil, fmt.Errorf("create IMG %s: %w", dirPath, mapOSError(err))
		}

		m.dirFile = dirFile
		m.dirPath = dirPath
	}

	m.log.WithField("version", version.String()).Debug("IMG created")
	return m, nil
}

// newIMGTranslator wires base translator, flat tree and entry store.
func newIMGTranslator(path string, f *os.File, lock *flock.Flock, version IMGVersion, opts ArchiveOptions) *IMGTranslator {
	base := newArchiveBase[struct{}, *imgEntry](FormatIMG, path, f, lock, opts)
	store := &imgStore{scratch: base.scratch, container: f, log: base.log}

	base.tree = NewTree[struct{}, *imgEntry](nil, func() *imgEntry { return newIMGEntry(store) })
	base.flat = true
	base.checkName = checkIMGName

	m := &IMGTranslator{archiveBase: base, store: store, version: version}
	base.openEntry = m.openEntry

	return m
}

// resolveIMGPaths finds data file, optional dir file and layout version for path.
func resolveIMGPaths(path string) (string, string, IMGVersion, error) {
	base := strings.TrimSuffix(path, filepath.Ext(path))
	if strings.EqualFold(filepath.Ext(path), ".dir") {
		imgPath, ok := findSibling(base, ".img")
		if !ok {
			return "", "", 0, fmt.Errorf("%w: data file for %s", ErrNotFound, path)
		}

		return imgPath, path, IMGVersion1, nil
	}

	header, err := readFileHeader(path, imgHeaderSize)
	if err != nil {
		return "", "", 0, err
	}
	if isIMGv2(header) {
		return path, "", IMGVersion2, nil
	}

	if dirPath, ok := findSibling(base, ".dir"); ok {
		return path, dirPath, IMGVersion1, nil
	}

	return "", "", 0, fmt.Errorf("%w: no %s magic and no dir file", ErrInvalidFormat, imgMagicV2)
}

// findSibling returns base+ext in lower or upper case when such file exists.
func findSibling(base string, ext string) (string, bool) {
	for _, candidate := range []string{base + ext, base + strings.ToUpper(ext)} {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}
	}

	return "", false
}

// readFileHeader reads up to n leading bytes of a file.
func readFileHeader(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, mapOSError(err)
	}
	defer func() { _ = f.Close() }()

	header := make([]byte, n)
	read, err := io.ReadFull(f, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}

	return header[:read], nil
}

// loadFromContainer reads the entry table and fills the flat tree.
func (m *IMGTranslator) loadFromContainer(dirPath string) error {
	info, err := m.container.Stat()
	if err != nil {
		return err
	}
	size := info.Size()

	var records []imgRecord
	switch m.version {
	case IMGVersion1:
		flag := os.O_RDWR
		if m.opts.ReadOnly {
			flag = os.O_RDONLY
		}

		dirFile, err := os.OpenFile(dirPath, flag, DefaultFilePerm)
		if err != nil {
			return mapOSError(err)
		}

		m.dirFile = dirFile
		m.dirPath = dirPath

		records, err = readIMGv1Table(dirFile)
		if err != nil {
			return err
		}
	default:
		records, err = readIMGv2Table(m.container, size)
		if err != nil {
			return err
		}
	}

	modTime := info.ModTime()
	for i, rec := range records {
		if rec.name == "" {
			return fmt.Errorf("%w: record %d has empty name", ErrInvalidFormat, i)
		}

		p, err := m.resolver.Resolve(RootPath(), rec.name)
		if err != nil || p.Len() != 1 || !p.IsFile() {
			return fmt.Errorf("%w: record %d name %q", ErrInvalidFormat, i, rec.name)
		}

		offset := int64(rec.offset) * imgBlockSize
		if offset > size {
			return fmt.Errorf("%w: entry %q offset %d beyond container size %d", ErrTruncated, rec.name, offset, size)
		}

		f, err := m.tree.MakeFile(p)
		if err != nil {
			return fmt.Errorf("%w: entry %q: %w", ErrInvalidFormat, rec.name, err)
		}

		// Only the final block of an entry may be cut short.
		declared := int64(rec.blocks) * imgBlockSize
		if rec.blocks > 0 && size-offset <= declared-imgBlockSize {
			return fmt.Errorf("%w: entry %q declares %d blocks, container holds %d bytes", ErrTruncated, rec.name, rec.blocks, size-offset)
		}

		f.Meta.offset = offset
		f.Meta.size = min(declared, size-offset)
		f.Meta.modTime = modTime
		f.Meta.archived = true
	}

	return nil
}

// Version returns container layout version.
func (m *IMGTranslator) Version() IMGVersion {
	return m.version
}

// Close closes the translator and the v1 dir file.
func (m *IMGTranslator) Close() error {
	err := m.archiveBase.Close()
	if errors.Is(err, ErrClosed) {
		return err
	}

	if m.dirFile != nil {
		if cerr := m.dirFile.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close dir file: %w", cerr))
		}
		m.dirFile = nil
	}

	return err
}

// openEntry opens entry payload; writes always go through a scratch copy.
func (m *IMGTranslator) openEntry(f *File[struct{}, *imgEntry], flag int) (Stream, error) {
	e := f.Meta
	if !isWriteFlag(flag) && e.archived && e.scratch == "" {
		return NewSectionStream(e.store.container, e.offset, e.size), nil
	}

	if err := e.extract(); err != nil {
		return nil, err
	}

	if !isWriteFlag(flag) {
		return e.store.scratch.open(e.scratch, os.O_RDONLY)
	}

	s, err := e.store.scratch.open(e.scratch, os.O_RDWR)
	if err != nil {
		return nil, err
	}

	e.archived = false
	e.modTime = time.Now()

	return s, nil
}

// checkIMGName rejects names that do not fit the 24-byte name field.
func checkIMGName(p Path) error {
	if len(p.Name()) > imgNameLen {
		return fmt.Errorf("%w: %q is longer than %d bytes", ErrNameTooLong, p.Name(), imgNameLen)
	}

	return nil
}

// Save rebuilds the container in place through a staging scratch area.
// Save fails with ErrLocked while any entry has open streams.
func (m *IMGTranslator) Save(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := m.checkSave(ctx); err != nil {
		return err
	}

	startedAt := time.Now()

	layout, err := m.plan(m.version)
	if err != nil {
		return fmt.Errorf("save IMG: %w", err)
	}

	staging := newScratchArea(m.opts.ScratchDir, "img-save", m.log)
	defer func() { _ = staging.Close() }()

	_, data, err := staging.create()
	if err != nil {
		return fmt.Errorf("save IMG: %w", err)
	}
	defer func() { _ = data.Close() }()

	targets := []saveTarget{{file: m.container, src: data, path: m.path}}

	switch m.version {
	case IMGVersion1:
		_, table, err := staging.create()
		if err != nil {
			return fmt.Errorf("save IMG: %w", err)
		}
		defer func() { _ = table.Close() }()

		if err := m.writeTable(table, layout, IMGVersion1); err != nil {
			return fmt.Errorf("save IMG: %w", err)
		}
		if err := m.writeData(ctx, data, layout, 0); err != nil {
			return fmt.Errorf("save IMG: %w", err)
		}
		if _, err := table.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("save IMG: rewind staging: %w", err)
		}

		targets = append(targets, saveTarget{file: m.dirFile, src: table, path: m.dirPath})
	default:
		if err := m.writeV2(ctx, data, layout); err != nil {
			return fmt.Errorf("save IMG: %w", err)
		}
	}

	if _, err := data.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("save IMG: rewind staging: %w", err)
	}

	if err := commitTargets(m.log, m.opts.Save.BackupKeep, targets); err != nil {
		return fmt.Errorf("save IMG: %w", err)
	}

	m.commit(layout)

	m.log.WithFields(logrus.Fields{
		"entries":  len(layout),
		"duration": time.Since(startedAt).String(),
	}).Debug("IMG saved")

	return nil
}

// SaveTo writes a rebuilt single-file v2 container to out starting at its
// current position, whatever the source layout version.
func (m *IMGTranslator) SaveTo(ctx context.Context, out io.WriteSeeker) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := m.checkOpen(false); err != nil {
		return err
	}
	if out == nil {
		return fmt.Errorf("save IMG: %w: nil writer", ErrInvalidPath)
	}

	layout, err := m.plan(IMGVersion2)
	if err != nil {
		return fmt.Errorf("save IMG: %w", err)
	}

	if err := m.writeV2(ctx, out, layout); err != nil {
		return fmt.Errorf("save IMG: %w", err)
	}

	return nil
}

// plan assigns block offsets in name order for a container of version v.
// Offsets are relative to the first data block.
func (m *IMGTranslator) plan(v IMGVersion) ([]imgLayout, error) {
	var layout []imgLayout
	var next int64

	err := m.tree.Walk(nil, func(f *File[struct{}, *imgEntry]) error {
		size, err := f.Size()
		if err != nil {
			return err
		}

		blocks := imgBlocks(size)
		if blocks > imgMaxBlocksV2 && v == IMGVersion2 {
			return fmt.Errorf("%w: entry %s has %d blocks", ErrUnsupported, f.Name(), blocks)
		}
		if next+blocks > int64(zip32Max) {
			return fmt.Errorf("%w: container exceeds 32-bit block offsets", ErrUnsupported)
		}

		layout = append(layout, imgLayout{
			entry: f.Meta,
			size:  size,
			rec:   imgRecord{name: f.Name(), offset: uint32(next), blocks: uint32(blocks)},
		})
		next += blocks

		return nil
	})

	return layout, err
}

// writeV2 writes header, table and data of a v2 container. Layout offsets are
// shifted past the table blocks in place.
func (m *IMGTranslator) writeV2(ctx context.Context, out io.WriteSeeker, layout []imgLayout) error {
	tableBlocks := imgBlocks(imgHeaderSize + int64(len(layout))*imgRecordSize)

	for i := range layout {
		layout[i].rec.offset += uint32(tableBlocks)
	}

	w := bufio.NewWriterSize(out, m.opts.Save.WriterBufferSize)
	if _, err := w.Write(encodeIMGv2Header(len(layout))); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush header: %w", err)
	}

	if err := m.writeTable(out, layout, IMGVersion2); err != nil {
		return err
	}

	headerLen := imgHeaderSize + int64(len(layout))*imgRecordSize
	return m.writeData(ctx, out, layout, tableBlocks*imgBlockSize-headerLen)
}

// writeTable writes entry table records.
func (m *IMGTranslator) writeTable(out io.Writer, layout []imgLayout, v IMGVersion) error {
	w := bufio.NewWriterSize(out, m.opts.Save.WriterBufferSize)
	for _, item := range layout {
		if _, err := w.Write(item.rec.encode(v)); err != nil {
			return fmt.Errorf("write record %s: %w", item.rec.name, err)
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush entry table: %w", err)
	}

	return nil
}

// writeData writes lead padding, then every entry padded to the next block.
// The last entry is not padded.
func (m *IMGTranslator) writeData(ctx context.Context, out io.Writer, layout []imgLayout, lead int64) error {
	w := bufio.NewWriterSize(out, m.opts.Save.WriterBufferSize)

	buf, release := acquireCopyBuffer()
	defer release()

	if err := writeZeros(w, lead); err != nil {
		return fmt.Errorf("write table padding: %w", err)
	}

	for i, item := range layout {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := m.copyEntry(w, item, buf); err != nil {
			return fmt.Errorf("write entry %s: %w", item.rec.name, err)
		}

		if i < len(layout)-1 {
			if err := writeZeros(w, int64(item.rec.blocks)*imgBlockSize-item.size); err != nil {
				return fmt.Errorf("pad entry %s: %w", item.rec.name, err)
			}
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush data: %w", err)
	}

	return nil
}

// copyEntry streams exactly item.size bytes of current entry content.
func (m *IMGTranslator) copyEntry(w io.Writer, item imgLayout, buf []byte) error {
	e := item.entry

	var src io.Reader
	switch {
	case e.scratch != "":
		s, err := e.store.scratch.open(e.scratch, os.O_RDONLY)
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()
		src = s
	case e.archived:
		src = io.NewSectionReader(e.store.container, e.offset, e.size)
	default:
		return nil
	}

	n, err := copyPayloadBounded(w, src, item.size, buf)
	if err != nil {
		return err
	}
	if n != item.size {
		return fmt.Errorf("%w: copied %d of %d bytes", ErrTruncated, n, item.size)
	}

	return nil
}

// commit points entries at the freshly written container and drops scratch copies.
func (m *IMGTranslator) commit(layout []imgLayout) {
	for _, item := range layout {
		e := item.entry
		if err := e.store.scratch.remove(e.scratch); err != nil {
			m.log.WithError(err).WithField("entry", item.rec.name).Warn("remove scratch copy")
		}

		e.scratch = ""
		e.offset = int64(item.rec.offset) * imgBlockSize
		e.size = item.size
		e.archived = true
	}
}

// writeZeros writes n zero bytes.
func writeZeros(w io.Writer, n int64) error {
	var zeros [imgBlockSize]byte
	for n > 0 {
		chunk := min(n, int64(len(zeros)))
		if _, err := w.Write(zeros[:chunk]); err != nil {
			return err
		}

		n -= chunk
	}

	return nil
}

// newIMGEntry returns payload of a new empty entry.
func newIMGEntry(store *imgStore) *imgEntry {
	return &imgEntry{store: store, modTime: time.Now()}
}

// Reset drops content and returns payload to new-entry state.
func (e *imgEntry) Reset() {
	if err := e.store.scratch.remove(e.scratch); err != nil {
		e.store.log.WithError(err).Warn("remove scratch copy")
	}

	*e = *newIMGEntry(e.store)
}

// OnCopy fills dst with the same content; container data is shared, scratch data is cloned.
func (e *imgEntry) OnCopy(dst *imgEntry) error {
	dst.offset = e.offset
	dst.size = e.size
	dst.modTime = e.modTime
	dst.archived = e.archived
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

// OnRename validates new name against the name field size.
func (e *imgEntry) OnRename(newPath Path) error {
	return checkIMGName(newPath)
}

// OnDelete removes the scratch copy.
func (e *imgEntry) OnDelete() error {
	if err := e.store.scratch.remove(e.scratch); err != nil {
		return err
	}

	e.scratch = ""
	return nil
}

// Size returns current content size.
func (e *imgEntry) Size() (int64, error) {
	switch {
	case e.archived:
		return e.size, nil
	case e.scratch != "":
		return e.store.scratch.size(e.scratch)
	default:
		return 0, nil
	}
}

// ModTime returns container modification time for loaded entries.
func (e *imgEntry) ModTime() time.Time {
	return e.modTime
}

// extract copies current content into a scratch file once.
func (e *imgEntry) extract() error {
	if e.scratch != "" {
		return nil
	}

	name, out, err := e.store.scratch.create()
	if err != nil {
		return err
	}

	if e.archived {
		buf, release := acquireCopyBuffer()
		_, err = copyPayloadBounded(out, io.NewSectionReader(e.store.container, e.offset, e.size), e.size, buf)
		release()
	}

	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = e.store.scratch.remove(name)
		return fmt.Errorf("extract entry: %w", err)
	}

	e.scratch = name
	return nil
}

// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/archvfs

package archvfs

import (
	"bufio"
	"context"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
)

// zipWritten is one record emitted by a rebuild.
type zipWritten struct {
	entry *zipEntry
	dir   *Dir[zipDirMeta, *zipEntry]
	rec   zipRecord
	// dataOffset is data offset relative to archive start.
	dataOffset int64
}

// zipRebuild writes a fresh ZIP image from the translator tree.
type zipRebuild struct {
	out      io.WriteSeeker
	w        *bufio.Writer
	matcher  *compressMatcher
	truncate func(size int64) error
	opts     SaveOptions
	buf      []byte
	written  []zipWritten
	// origin is absolute position of archive start in out.
	origin int64
	// pos is absolute logical position including unflushed bytes.
	pos int64
	// maxEnd is furthest absolute position ever written.
	maxEnd int64
	// cdOffset is central directory offset relative to origin, set by finish.
	cdOffset int64
}

// Save rebuilds the container in place. The new image is staged in a separate
// scratch area, the container is optionally backed up, then overwritten.
// Save fails with ErrLocked while any entry has open streams. Data prepended
// before the archive is not preserved.
func (z *ZIPTranslator) Save(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := z.checkSave(ctx); err != nil {
		return err
	}

	startedAt := time.Now()

	staging := newScratchArea(z.opts.ScratchDir, "zip-save", z.log)
	defer func() { _ = staging.Close() }()

	_, out, err := staging.create()
	if err != nil {
		return fmt.Errorf("save ZIP: %w", err)
	}
	defer func() { _ = out.Close() }()

	written, cdOffset, err := z.rebuild(ctx, out)
	if err != nil {
		return fmt.Errorf("save ZIP: %w", err)
	}

	if _, err := out.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("save ZIP: rewind staging: %w", err)
	}

	target := saveTarget{file: z.container, src: out, path: z.path}
	if err := commitTargets(z.log, z.opts.Save.BackupKeep, []saveTarget{target}); err != nil {
		return fmt.Errorf("save ZIP: %w", err)
	}

	z.commit(written, cdOffset)

	size, _ := out.Size()
	z.log.WithFields(logrus.Fields{
		"entries":  len(written),
		"size":     size,
		"duration": time.Since(startedAt).String(),
	}).Debug("ZIP saved")

	return nil
}

// SaveTo writes a rebuilt archive to out starting at its current position.
// The translator and its container are left unchanged; open streams
// contribute bytes flushed so far.
func (z *ZIPTranslator) SaveTo(ctx context.Context, out io.WriteSeeker) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := z.checkOpen(false); err != nil {
		return err
	}
	if out == nil {
		return fmt.Errorf("save ZIP: %w: nil writer", ErrInvalidPath)
	}

	if _, _, err := z.rebuild(ctx, out); err != nil {
		return fmt.Errorf("save ZIP: %w", err)
	}

	return nil
}

// commit points entries at the freshly written container and drops scratch copies.
func (z *ZIPTranslator) commit(written []zipWritten, cdOffset int64) {
	z.store.base = 0
	z.store.dataEnd = cdOffset

	for _, item := range written {
		if item.dir != nil {
			rec := item.rec
			item.dir.Meta.rec = &rec
			continue
		}

		e := item.entry
		if err := e.store.scratch.remove(e.scratch); err != nil {
			z.log.WithError(err).WithField("entry", item.rec.name).Warn("remove scratch copy")
		}

		e.rec = item.rec
		e.dataOffset = item.dataOffset
		e.scratch = ""
		e.archived = true
	}
}

// rebuild writes directories, entries, central directory and end record to out.
// It returns emitted records and the central directory offset relative to
// the starting position of out.
func (z *ZIPTranslator) rebuild(ctx context.Context, out io.WriteSeeker) ([]zipWritten, int64, error) {
	matcher, err := newCompressMatcher(z.opts.Save.Compress, z.opts.Save.CompressMatcherOptions)
	if err != nil {
		return nil, 0, err
	}

	origin, err := out.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, 0, fmt.Errorf("seek output: %w", err)
	}

	buf, release := acquireCopyBuffer()
	defer release()

	rb := &zipRebuild{
		out:      out,
		w:        bufio.NewWriterSize(out, z.opts.Save.WriterBufferSize),
		matcher:  matcher,
		truncate: truncateFunc(out),
		opts:     z.opts.Save,
		buf:      buf,
		origin:   origin,
		pos:      origin,
		maxEnd:   origin,
	}

	err = z.tree.Walk(
		func(d *Dir[zipDirMeta, *zipEntry]) error {
			if err := ctx.Err(); err != nil {
				return err
			}

			return rb.writeDir(d)
		},
		func(f *File[zipDirMeta, *zipEntry]) error {
			if err := ctx.Err(); err != nil {
				return err
			}

			if f.Meta.archived {
				return rb.copyArchived(f.Path().String(), f.Meta)
			}

			return rb.writeStreamed(f.Path().String(), f.Meta, z.store.codecs)
		},
	)
	if err != nil {
		return nil, 0, err
	}

	if err := rb.finish(z.comment); err != nil {
		return nil, 0, err
	}

	return rb.written, rb.cdOffset, nil
}

// writeDir emits a directory record, keeping loaded attributes when present.
func (rb *zipRebuild) writeDir(d *Dir[zipDirMeta, *zipEntry]) error {
	rec := newZIPRecord(true)
	if d.Meta.rec != nil {
		rec = *d.Meta.rec
	}

	rec.name = d.Path().String()
	rec.flags = zipNameFlags(rec.flags&^(zipFlagDescriptor|zipFlagEncrypted), rec.name)
	rec.method = MethodStore
	rec.crc, rec.compSize, rec.size = 0, 0, 0

	headerPos := rb.pos
	if err := rb.setHeaderOffset(&rec, headerPos); err != nil {
		return err
	}

	if err := rb.write(rec.encodeLocal()); err != nil {
		return fmt.Errorf("write dir %s: %w", rec.name, err)
	}

	rb.written = append(rb.written, zipWritten{dir: d, rec: rec, dataOffset: rb.pos - rb.origin})
	return nil
}

// copyArchived copies container bytes of an untouched entry without recompression.
func (rb *zipRebuild) copyArchived(name string, e *zipEntry) error {
	rec := e.rec
	rec.name = name
	if rec.flags&zipFlagEncrypted == 0 {
		rec.flags &^= zipFlagDescriptor
	}
	rec.flags = zipNameFlags(rec.flags, name)

	src, err := e.dataStart()
	if err != nil {
		return fmt.Errorf("entry %s: %w", name, err)
	}

	if err := rb.setHeaderOffset(&rec, rb.pos); err != nil {
		return err
	}

	if err := rb.write(rec.encodeLocal()); err != nil {
		return fmt.Errorf("write header %s: %w", name, err)
	}

	dataOffset := rb.pos - rb.origin
	section := io.NewSectionReader(e.store.container, src, int64(rec.compSize))
	n, err := copyPayloadBounded(rb.w, section, int64(rec.compSize), rb.buf)
	rb.pos += n
	if err != nil {
		return fmt.Errorf("copy entry %s: %w", name, err)
	}
	if n != int64(rec.compSize) {
		return fmt.Errorf("%w: entry %s copied %d of %d bytes", ErrTruncated, name, n, rec.compSize)
	}

	if rec.flags&zipFlagDescriptor != 0 {
		if err := rb.write(rec.encodeDescriptor()); err != nil {
			return fmt.Errorf("write descriptor %s: %w", name, err)
		}
	}

	rb.written = append(rb.written, zipWritten{entry: e, rec: rec, dataOffset: dataOffset})
	return nil
}

// writeStreamed encodes a scratch copy (or empty content) with the method chosen
// by save rules and backpatches the local header. Output that does not shrink
// is rewritten stored when out can be truncated.
func (rb *zipRebuild) writeStreamed(name string, e *zipEntry, codecs *CodecSet) error {
	src, size, err := rb.openSource(e)
	if err != nil {
		return fmt.Errorf("entry %s: %w", name, err)
	}
	defer func() { _ = src.Close() }()

	if size > int64(zip32Max-1) {
		return fmt.Errorf("%w: entry %s needs ZIP64", ErrUnsupported, name)
	}

	method := chooseMethod(rb.opts, rb.matcher, name, size)
	codec, err := codecs.Lookup(method)
	if err != nil {
		return fmt.Errorf("entry %s: %w", name, err)
	}

	rec := e.rec
	rec.name = name
	rec.method = method
	rec.flags = zipNameFlags(rec.flags&^(zipFlagDescriptor|zipFlagEncrypted), name)
	rec.crc, rec.compSize, rec.size = 0, 0, 0
	rec.versionNeed = max(rec.versionNeed, zipVersionNeeded)

	headerPos := rb.pos
	if err := rb.setHeaderOffset(&rec, headerPos); err != nil {
		return err
	}

	// Placeholder; real CRC and sizes are patched after the payload.
	if err := rb.write(rec.encodeLocal()); err != nil {
		return fmt.Errorf("write header %s: %w", name, err)
	}

	dataStart := rb.pos
	crc, compSize, err := rb.encode(codec, src, size)
	if err != nil {
		return fmt.Errorf("encode entry %s: %w", name, err)
	}

	if method != MethodStore && compSize >= size && rb.truncate != nil {
		if _, err := src.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("rewind entry %s: %w", name, err)
		}
		if err := rb.seekTo(dataStart); err != nil {
			return err
		}

		rec.method = MethodStore
		if crc, compSize, err = rb.encode(storeCodec{}, src, size); err != nil {
			return fmt.Errorf("store entry %s: %w", name, err)
		}
	}

	if compSize > int64(zip32Max-1) {
		return fmt.Errorf("%w: entry %s needs ZIP64", ErrUnsupported, name)
	}

	rec.crc = crc
	rec.compSize = uint32(compSize)
	rec.size = uint32(size)

	dataEnd := rb.pos
	if err := rb.seekTo(headerPos); err != nil {
		return err
	}
	if err := rb.write(rec.encodeLocal()); err != nil {
		return fmt.Errorf("patch header %s: %w", name, err)
	}
	if err := rb.seekTo(dataEnd); err != nil {
		return err
	}

	rb.written = append(rb.written, zipWritten{entry: e, rec: rec, dataOffset: dataStart - rb.origin})
	return nil
}

// openSource opens scratch copy of e for reading, or an empty stream for new entries.
func (rb *zipRebuild) openSource(e *zipEntry) (Stream, int64, error) {
	if e.scratch == "" {
		return NewSectionStream(strings.NewReader(""), 0, 0), 0, nil
	}

	s, err := e.store.scratch.open(e.scratch, os.O_RDONLY)
	if err != nil {
		return nil, 0, err
	}

	size, err := s.Size()
	if err != nil {
		_ = s.Close()
		return nil, 0, err
	}

	return s, size, nil
}

// encode streams size bytes of src through codec and returns CRC32 of plain
// bytes and encoded length.
func (rb *zipRebuild) encode(codec Codec, src io.Reader, size int64) (uint32, int64, error) {
	cw := &countingWriter{w: rb.w}
	enc, err := codec.NewWriter(cw)
	if err != nil {
		return 0, 0, err
	}

	hash := crc32.NewIEEE()
	n, err := copyPayloadBounded(io.MultiWriter(enc, hash), src, size, rb.buf)
	if err != nil {
		_ = enc.Close()
		rb.pos += cw.n
		return 0, 0, err
	}
	if n != size {
		_ = enc.Close()
		rb.pos += cw.n
		return 0, 0, fmt.Errorf("%w: read %d of %d bytes", ErrTruncated, n, size)
	}

	if err := enc.Close(); err != nil {
		rb.pos += cw.n
		return 0, 0, err
	}

	rb.pos += cw.n
	rb.maxEnd = max(rb.maxEnd, rb.pos)

	return hash.Sum32(), cw.n, nil
}

// finish writes central directory and end record, then flushes and trims out.
func (rb *zipRebuild) finish(comment []byte) error {
	if len(rb.written) >= int(zip16Max) {
		return fmt.Errorf("%w: %d entries need ZIP64", ErrUnsupported, len(rb.written))
	}

	cdStart := rb.pos
	for i := range rb.written {
		if err := rb.write(rb.written[i].rec.encodeCentral()); err != nil {
			return fmt.Errorf("write central directory: %w", err)
		}
	}

	cdSize := rb.pos - cdStart
	cdOffset := cdStart - rb.origin
	if cdOffset > int64(zip32Max-1) || cdSize > int64(zip32Max-1) {
		return fmt.Errorf("%w: central directory needs ZIP64", ErrUnsupported)
	}

	rb.cdOffset = cdOffset
	if err := rb.write(encodeZIPEOCD(len(rb.written), uint32(cdSize), uint32(cdOffset), comment)); err != nil {
		return fmt.Errorf("write end record: %w", err)
	}

	if err := rb.w.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}

	if rb.truncate != nil && rb.maxEnd > rb.pos {
		if err := rb.truncate(rb.pos); err != nil {
			return fmt.Errorf("truncate output: %w", err)
		}
	}

	return nil
}

// write appends b at current position.
func (rb *zipRebuild) write(b []byte) error {
	n, err := rb.w.Write(b)
	rb.pos += int64(n)
	rb.maxEnd = max(rb.maxEnd, rb.pos)

	return err
}

// seekTo flushes pending bytes and moves output to absolute position.
func (rb *zipRebuild) seekTo(pos int64) error {
	if err := rb.w.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}

	if _, err := rb.out.Seek(pos, io.SeekStart); err != nil {
		return fmt.Errorf("seek output: %w", err)
	}

	rb.pos = pos
	return nil
}

// setHeaderOffset stores header offset relative to archive start.
func (rb *zipRebuild) setHeaderOffset(rec *zipRecord, headerPos int64) error {
	off := headerPos - rb.origin
	if off > int64(zip32Max-1) {
		return fmt.Errorf("%w: entry %s offset needs ZIP64", ErrUnsupported, rec.name)
	}

	rec.headerOffset = uint32(off)
	return nil
}

// zipNameFlags sets UTF-8 flag for non-ASCII names.
func zipNameFlags(flags uint16, name string) uint16 {
	for i := 0; i < len(name); i++ {
		if name[i] >= utf8.RuneSelf {
			return flags | zipFlagUTF8
		}
	}

	return flags
}

// truncateFunc returns output truncation callback or nil when out cannot be truncated.
func truncateFunc(out io.WriteSeeker) func(size int64) error {
	switch w := out.(type) {
	case Stream:
		return func(size int64) error {
			if _, err := w.Seek(size, io.SeekStart); err != nil {
				return err
			}

			return w.TruncateAtSeek()
		}
	case interface{ Truncate(size int64) error }:
		return w.Truncate
	default:
		return nil
	}
}

// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/archvfs

package archvfs

import (
	"errors"
	"fmt"
	"io"
)

// maxSliceIterations bounds the slice dispatch loop of one Read or Write.
// Every iteration either transfers bytes or relocates the window, so a
// legitimate request settles in a handful of steps.
const maxSliceIterations = 64

// sliceIntersection classifies a request range against the buffer window.
type sliceIntersection uint8

const (
	// sliceUnknown means there is no usable window yet.
	sliceUnknown sliceIntersection = iota
	// sliceEqual means request and window cover the same range.
	sliceEqual
	// sliceInside means request lies fully inside the window.
	sliceInside
	// sliceBorderStart means request starts before the window and ends inside it.
	sliceBorderStart
	// sliceBorderEnd means request starts inside the window and ends after it.
	sliceBorderEnd
	// sliceEnclosing means request fully contains the window.
	sliceEnclosing
	// sliceFloating means request does not touch the window.
	sliceFloating
)

// String returns intersection name for diagnostics.
func (s sliceIntersection) String() string {
	switch s {
	case sliceEqual:
		return "equal"
	case sliceInside:
		return "inside"
	case sliceBorderStart:
		return "border_start"
	case sliceBorderEnd:
		return "border_end"
	case sliceEnclosing:
		return "enclosing"
	case sliceFloating:
		return "floating"
	default:
		return "unknown"
	}
}

// classifySlice intersects request [pos, pos+n) with window [wOff, wOff+wCap).
func classifySlice(pos int64, n int, wOff int64, wCap int, hasWindow bool) sliceIntersection {
	if !hasWindow || wCap <= 0 || n <= 0 {
		return sliceUnknown
	}

	reqEnd := pos + int64(n)
	wEnd := wOff + int64(wCap)

	switch {
	case pos == wOff && reqEnd == wEnd:
		return sliceEqual
	case pos >= wOff && reqEnd <= wEnd:
		return sliceInside
	case pos < wOff && reqEnd > wOff && reqEnd <= wEnd:
		return sliceBorderStart
	case pos >= wOff && pos < wEnd && reqEnd > wEnd:
		return sliceBorderEnd
	case pos < wOff && reqEnd > wEnd:
		return sliceEnclosing
	default:
		return sliceFloating
	}
}

// BufferedStream decorates a Stream with one aligned memory window.
// Observable content is identical to direct operations on the wrapped stream.
// It is not safe for concurrent use.
type BufferedStream struct {
	// s is the wrapped stream; it must be readable.
	s Stream
	// buf is window storage; len(buf) is window capacity.
	buf []byte
	// windowOff is aligned offset of buf[0] in the stream.
	windowOff int64
	// seek is logical position served to callers.
	seek int64
	// nativePos is predicted position of the wrapped stream.
	nativePos int64
	// nativeSize is cached length of the wrapped stream.
	nativeSize int64
	// align is window offset granularity.
	align int64
	// fill is number of valid bytes in buf.
	fill int
	// hasWindow reports whether windowOff and fill describe a window.
	hasWindow bool
	// changed reports whether buf holds bytes not yet written back.
	changed bool
	// nativeKnown reports whether nativePos can be trusted.
	nativeKnown bool
	// closed reports whether Close was called.
	closed bool
}

var _ Stream = (*BufferedStream)(nil)

// NewBufferedStream wraps s. The logical seek starts at the current position of s.
func NewBufferedStream(s Stream, opts BufferOptions) (*BufferedStream, error) {
	if s == nil {
		return nil, fmt.Errorf("buffered stream: %w", ErrInvalidPath)
	}
	if !s.IsReadable() {
		return nil, fmt.Errorf("buffered stream: %w", ErrNotReadable)
	}

	opts.applyDefaults()

	size, err := s.Size()
	if err != nil {
		return nil, fmt.Errorf("buffered stream size: %w", err)
	}

	pos, err := s.Tell()
	if err != nil {
		return nil, fmt.Errorf("buffered stream tell: %w", err)
	}

	return &BufferedStream{
		s:           s,
		buf:         make([]byte, opts.WindowSize),
		align:       int64(opts.Alignment),
		nativeSize:  size,
		seek:        pos,
		nativePos:   pos,
		nativeKnown: true,
	}, nil
}

// Read reads from the logical position; returns io.EOF at logical end.
func (b *BufferedStream) Read(p []byte) (int, error) {
	if b.closed {
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}

	size := b.logicalSize()
	if b.seek >= size {
		return 0, io.EOF
	}

	if remaining := size - b.seek; int64(len(p)) > remaining {
		p = p[:remaining]
	}

	n, err := b.transfer(p, false)
	b.seek += int64(n)

	return n, err
}

// Write writes at the logical position, extending the stream when needed.
func (b *BufferedStream) Write(p []byte) (int, error) {
	if b.closed {
		return 0, ErrClosed
	}
	if !b.s.IsWriteable() {
		return 0, ErrNotWriteable
	}
	if len(p) == 0 {
		return 0, nil
	}

	n, err := b.transfer(p, true)
	b.seek += int64(n)

	return n, err
}

// Seek moves the logical position without touching the wrapped stream.
func (b *BufferedStream) Seek(offset int64, whence int) (int64, error) {
	if b.closed {
		return 0, ErrClosed
	}

	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = b.seek
	case io.SeekEnd:
		base = b.logicalSize()
	default:
		return b.seek, fmt.Errorf("buffered stream: invalid whence %d", whence)
	}

	next := base + offset
	if next < 0 {
		return b.seek, ErrNegativeSeek
	}

	b.seek = next
	return next, nil
}

// Tell returns the logical position.
func (b *BufferedStream) Tell() (int64, error) {
	if b.closed {
		return 0, ErrClosed
	}

	return b.seek, nil
}

// Size returns logical length including unflushed window bytes.
func (b *BufferedStream) Size() (int64, error) {
	if b.closed {
		return 0, ErrClosed
	}

	return b.logicalSize(), nil
}

// TruncateAtSeek flushes, truncates the wrapped stream at the logical position
// and clips the window.
func (b *BufferedStream) TruncateAtSeek() error {
	if b.closed {
		return ErrClosed
	}
	if !b.s.IsWriteable() {
		return ErrNotWriteable
	}

	if err := b.flushWindow(); err != nil {
		return err
	}

	if err := b.nativeSeek(b.seek); err != nil {
		return err
	}

	if err := b.s.TruncateAtSeek(); err != nil {
		b.nativeKnown = false
		return err
	}

	b.nativeSize = b.seek
	if b.hasWindow {
		switch {
		case b.windowOff >= b.seek:
			b.hasWindow = false
			b.fill = 0
		case b.windowOff+int64(b.fill) > b.seek:
			b.fill = int(b.seek - b.windowOff)
		}
	}

	return nil
}

// Flush writes a changed window back at its own offset, then restores the
// wrapped stream position to the logical seek.
func (b *BufferedStream) Flush() error {
	if b.closed {
		return ErrClosed
	}

	if err := b.flushWindow(); err != nil {
		return err
	}

	if err := b.nativeSeek(b.seek); err != nil {
		return err
	}

	return b.s.Flush()
}

// Close flushes and closes the wrapped stream; the first error wins.
func (b *BufferedStream) Close() error {
	if b.closed {
		return ErrClosed
	}

	flushErr := b.Flush()
	b.closed = true
	closeErr := b.s.Close()
	b.buf = nil

	if flushErr != nil {
		return flushErr
	}

	return closeErr
}

// IsReadable delegates to the wrapped stream.
func (b *BufferedStream) IsReadable() bool {
	return b.s.IsReadable()
}

// IsWriteable delegates to the wrapped stream.
func (b *BufferedStream) IsWriteable() bool {
	return b.s.IsWriteable()
}

// logicalSize returns max of wrapped length and window fill end.
func (b *BufferedStream) logicalSize() int64 {
	size := b.nativeSize
	if b.hasWindow {
		size = max(size, b.windowOff+int64(b.fill))
	}

	return size
}

// transfer runs the slice dispatch loop for p at the logical position.
func (b *BufferedStream) transfer(p []byte, write bool) (int, error) {
	done := 0
	for iter := 0; done < len(p); iter++ {
		if iter > maxSliceIterations {
			panic(fmt.Sprintf(
				"archvfs: buffered stream integrity violation: slice loop exceeded %d iterations (pos=%d len=%d window=%d)",
				maxSliceIterations, b.seek+int64(done), len(p)-done, b.windowOff,
			))
		}

		pos := b.seek + int64(done)
		req := p[done:]
		wCap := len(b.buf)
		wEnd := b.windowOff + int64(wCap)

		switch classifySlice(pos, len(req), b.windowOff, wCap, b.hasWindow) {
		case sliceEqual, sliceInside:
			if err := b.windowIO(pos, req, write); err != nil {
				return done, err
			}
			done += len(req)

		case sliceBorderStart:
			pre := int(b.windowOff - pos)
			n, err := b.nativeIO(pos, req[:pre], write)
			done += n
			if err != nil {
				return done, err
			}

		case sliceBorderEnd:
			in := int(wEnd - pos)
			if err := b.windowIO(pos, req[:in], write); err != nil {
				return done, err
			}
			done += in

			n, err := b.nativeIO(wEnd, req[in:], write)
			done += n
			if err != nil {
				return done, err
			}

		case sliceEnclosing:
			pre := int(b.windowOff - pos)
			n, err := b.nativeIO(pos, req[:pre], write)
			done += n
			if err != nil {
				return done, err
			}

			if err := b.windowIO(b.windowOff, req[pre:pre+wCap], write); err != nil {
				return done, err
			}
			done += wCap

		case sliceFloating, sliceUnknown:
			if err := b.relocate(pos, write); err != nil {
				return done, err
			}
		}
	}

	return done, nil
}

// windowIO copies between p and the window; pos..pos+len(p) must lie in the window.
// The window is left untouched when its gap cannot be completed.
func (b *BufferedStream) windowIO(pos int64, p []byte, write bool) error {
	start := int(pos - b.windowOff)
	end := start + len(p)

	if write {
		if err := b.completeWindow(start); err != nil {
			return err
		}

		copy(b.buf[start:end], p)
		if end > b.fill {
			b.fill = end
		}
		b.changed = true

		return nil
	}

	if err := b.completeWindow(end); err != nil {
		return err
	}

	copy(p, b.buf[start:end])
	return nil
}

// completeWindow makes buf[:end] valid: bytes past fill come from the wrapped
// stream where it has data, zeros beyond its end. A failed read keeps fill.
func (b *BufferedStream) completeWindow(end int) error {
	if end <= b.fill {
		return nil
	}

	gapStart := b.windowOff + int64(b.fill)
	avail := b.nativeSize - gapStart
	want := end - b.fill

	read := 0
	if avail > 0 {
		chunk := b.buf[b.fill : b.fill+int(min(int64(want), avail))]
		n, err := b.readNativeAt(gapStart, chunk)
		if err != nil {
			return fmt.Errorf("buffered stream fill: %w", err)
		}
		read = n
	}

	clear(b.buf[b.fill+read : end])
	b.fill = end

	return nil
}

// relocate flushes and moves the window to the aligned offset containing pos.
// Reads refill eagerly; writes start with an empty window completed on demand.
func (b *BufferedStream) relocate(pos int64, write bool) error {
	if err := b.flushWindow(); err != nil {
		return err
	}

	b.windowOff = pos - pos%b.align
	b.hasWindow = true
	b.fill = 0

	if write {
		return nil
	}

	avail := b.nativeSize - b.windowOff
	if avail <= 0 {
		return nil
	}

	n, err := b.readNativeAt(b.windowOff, b.buf[:min(int64(len(b.buf)), avail)])
	b.fill = n
	if err != nil {
		return fmt.Errorf("buffered stream fill: %w", err)
	}

	return nil
}

// flushWindow writes a changed window back at windowOff.
func (b *BufferedStream) flushWindow() error {
	if !b.hasWindow || !b.changed {
		return nil
	}

	n, err := b.nativeWriteAt(b.windowOff, b.buf[:b.fill])
	if err != nil {
		return fmt.Errorf("buffered stream flush: %w", err)
	}
	if n != b.fill {
		return fmt.Errorf("buffered stream flush: %w", io.ErrShortWrite)
	}

	b.changed = false
	return nil
}

// nativeIO transfers p directly against the wrapped stream at pos.
// Reads inside logical size but past the wrapped end yield zeros.
func (b *BufferedStream) nativeIO(pos int64, p []byte, write bool) (int, error) {
	if write {
		n, err := b.nativeWriteAt(pos, p)
		if err == nil && n != len(p) {
			err = io.ErrShortWrite
		}

		return n, err
	}

	n, err := b.readNativeAt(pos, p)
	if err != nil {
		return n, err
	}

	clear(p[n:])
	return len(p), nil
}

// readNativeAt reads up to len(p) bytes at pos; stops silently at wrapped end.
func (b *BufferedStream) readNativeAt(pos int64, p []byte) (int, error) {
	if err := b.nativeSeek(pos); err != nil {
		return 0, err
	}

	n, err := io.ReadFull(b.s, p)
	b.nativePos += int64(n)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return n, nil
	}
	if err != nil {
		b.nativeKnown = false
	}

	return n, err
}

// nativeWriteAt writes p at pos; short or failed writes invalidate native position.
func (b *BufferedStream) nativeWriteAt(pos int64, p []byte) (int, error) {
	if err := b.nativeSeek(pos); err != nil {
		return 0, err
	}

	n, err := b.s.Write(p)
	if err != nil || n != len(p) {
		b.nativeKnown = false
	} else {
		b.nativePos += int64(n)
	}

	if end := pos + int64(n); end > b.nativeSize {
		b.nativeSize = end
	}

	return n, err
}

// nativeSeek moves the wrapped stream only when predicted position differs.
func (b *BufferedStream) nativeSeek(pos int64) error {
	if b.nativeKnown && b.nativePos == pos {
		return nil
	}

	if _, err := b.s.Seek(pos, io.SeekStart); err != nil {
		b.nativeKnown = false
		return err
	}

	b.nativePos = pos
	b.nativeKnown = true

	return nil
}

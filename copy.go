// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/archvfs

package archvfs

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// copyBufferSize is per-operation temporary buffer used by streaming payload copy.
const copyBufferSize = 64 * 1024

var (
	// copyBufferPool reuses payload copy buffers between rebuild and export calls.
	copyBufferPool = sync.Pool{
		New: func() any {
			return new([copyBufferSize]byte)
		},
	}

	// errPayloadOverflow means source produced more bytes than declared.
	errPayloadOverflow = errors.New("payload longer than declared size")
)

// acquireCopyBuffer returns reusable payload copy buffer and release callback.
func acquireCopyBuffer() ([]byte, func()) {
	arr := copyBufferPool.Get().(*[copyBufferSize]byte) //nolint:forcetypeassert // pool contains only fixed-size buffers
	buf := arr[:]

	return buf, func() {
		copyBufferPool.Put(arr)
	}
}

// copyPayloadBounded copies at most limit bytes from src to dst. A short
// source shows up only in the returned count; a source holding more than
// limit bytes fails with errPayloadOverflow.
func copyPayloadBounded(dst io.Writer, src io.Reader, limit int64, buf []byte) (int64, error) {
	if limit < 0 {
		return 0, fmt.Errorf("%w: negative payload size %d", ErrInvalidFormat, limit)
	}
	if len(buf) == 0 {
		buf = nil
	}

	written, err := io.CopyBuffer(onlyWriter{dst}, onlyReader{io.LimitReader(src, limit)}, buf)
	if err != nil || written < limit {
		return written, err
	}

	var probe [1]byte
	switch n, err := io.ReadFull(src, probe[:]); {
	case n > 0:
		return written, errPayloadOverflow
	case err != nil && !errors.Is(err, io.EOF):
		return written, err
	}

	return written, nil
}

// countingWriter tracks bytes written through it.
type countingWriter struct {
	w io.Writer
	n int64
}

// Write forwards p and counts accepted bytes.
func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)

	return n, err
}

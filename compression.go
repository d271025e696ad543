// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/archvfs

package archvfs

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/woozymasta/lzss"
	"github.com/woozymasta/pathrules"
)

// ZIP compression method identifiers.
const (
	// MethodStore stores bytes as-is.
	MethodStore uint16 = 0
	// MethodDeflate is raw deflate (RFC 1951).
	MethodDeflate uint16 = 8
	// MethodLZSS is a private method id for LZSS payloads.
	MethodLZSS uint16 = 0x4c53
)

// Codec converts between stored and plain entry bytes for one method.
type Codec interface {
	// Method returns method id written to entry headers.
	Method() uint16
	// NewReader decodes src; size is the declared uncompressed size.
	NewReader(src io.Reader, size int64) (io.ReadCloser, error)
	// NewWriter encodes into dst; Close flushes the encoder but never closes dst.
	NewWriter(dst io.Writer) (io.WriteCloser, error)
}

// CodecSet resolves codecs by method id. Build one per application and pass
// it through ArchiveOptions.
type CodecSet struct {
	codecs map[uint16]Codec
}

// NewCodecSet returns an empty codec set.
func NewCodecSet() *CodecSet {
	return &CodecSet{codecs: make(map[uint16]Codec)}
}

// DefaultCodecs returns a set with store, deflate and LZSS codecs.
func DefaultCodecs() *CodecSet {
	s := NewCodecSet()
	s.Register(storeCodec{})
	s.Register(deflateCodec{level: flate.DefaultCompression})
	s.Register(lzssCodec{})

	return s
}

// Register adds or replaces codec for its method.
func (s *CodecSet) Register(c Codec) {
	s.codecs[c.Method()] = c
}

// Lookup returns codec for method or ErrUnknownMethod.
func (s *CodecSet) Lookup(method uint16) (Codec, error) {
	c, ok := s.codecs[method]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMethod, method)
	}

	return c, nil
}

// storeCodec passes bytes through.
type storeCodec struct{}

// Method returns MethodStore.
func (storeCodec) Method() uint16 { return MethodStore }

// NewReader returns src as-is.
func (storeCodec) NewReader(src io.Reader, _ int64) (io.ReadCloser, error) {
	return io.NopCloser(src), nil
}

// NewWriter returns dst as-is.
func (storeCodec) NewWriter(dst io.Writer) (io.WriteCloser, error) {
	return nopWriteCloser{Writer: dst}, nil
}

// deflateCodec uses klauspost deflate.
type deflateCodec struct {
	level int
}

// Method returns MethodDeflate.
func (deflateCodec) Method() uint16 { return MethodDeflate }

// NewReader returns inflating reader.
func (deflateCodec) NewReader(src io.Reader, _ int64) (io.ReadCloser, error) {
	return flate.NewReader(src), nil
}

// NewWriter returns deflating writer.
func (c deflateCodec) NewWriter(dst io.Writer) (io.WriteCloser, error) {
	w, err := flate.NewWriter(dst, c.level)
	if err != nil {
		return nil, fmt.Errorf("deflate writer: %w", err)
	}

	return w, nil
}

// lzssCodec uses woozymasta LZSS; decoding needs the declared output size.
type lzssCodec struct{}

// Method returns MethodLZSS.
func (lzssCodec) Method() uint16 { return MethodLZSS }

// NewReader decodes in a goroutine feeding a pipe.
func (lzssCodec) NewReader(src io.Reader, size int64) (io.ReadCloser, error) {
	if size < 0 || size > math.MaxInt {
		return nil, fmt.Errorf("lzss: output size %d out of range", size)
	}

	pr, pw := io.Pipe()
	go streamDecompressLZSS(pw, src, int(size))

	return pr, nil
}

// NewWriter buffers plain bytes and compresses them on Close.
func (lzssCodec) NewWriter(dst io.Writer) (io.WriteCloser, error) {
	return &lzssWriter{dst: dst}, nil
}

// lzssWriter collects plain bytes for one-shot LZSS compression.
type lzssWriter struct {
	dst io.Writer
	buf bytes.Buffer
}

// Write buffers p.
func (w *lzssWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

// Close compresses buffered bytes into dst.
func (w *lzssWriter) Close() error {
	compressed, err := lzss.Compress(w.buf.Bytes(), lzss.DefaultCompressOptions())
	if err != nil {
		return fmt.Errorf("lzss compress: %w", err)
	}

	if _, err := w.dst.Write(compressed); err != nil {
		return fmt.Errorf("lzss write: %w", err)
	}

	w.buf.Reset()
	return nil
}

// streamDecompressLZSS decodes src into pipe writer.
func streamDecompressLZSS(dst *io.PipeWriter, src io.Reader, outLen int) {
	if _, err := lzss.DecompressToWriter(dst, src, outLen, nil); err != nil {
		_ = dst.CloseWithError(fmt.Errorf("lzss decompress: %w", err))
		return
	}

	_ = dst.Close()
}

// nopWriteCloser adds a no-op Close to a writer.
type nopWriteCloser struct {
	io.Writer
}

// Close does nothing.
func (nopWriteCloser) Close() error {
	return nil
}

// compressMatcher holds compiled allow-list rules for compression.
type compressMatcher struct {
	matcher *pathrules.Matcher
}

// newCompressMatcher compiles compression path rules; nil means "compress nothing".
func newCompressMatcher(rules []pathrules.Rule, opts pathrules.MatcherOptions) (*compressMatcher, error) {
	rules = normalizeRules(rules)
	if len(rules) == 0 {
		return nil, nil
	}

	matcher, err := pathrules.NewMatcher(rules, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: compile rules: %w", ErrInvalidCompressPattern, err)
	}

	return &compressMatcher{matcher: matcher}, nil
}

// Match reports whether archive path is included by compress rules.
func (m *compressMatcher) Match(path string) bool {
	if m == nil || m.matcher == nil {
		return false
	}

	candidate := strings.Trim(path, "/")
	if candidate == "" {
		return false
	}

	return m.matcher.Included(candidate, false)
}

// chooseMethod returns method for a new or changed entry under save policy.
func chooseMethod(opts SaveOptions, matcher *compressMatcher, path string, size int64) uint16 {
	if size < opts.MinCompressSize || !matcher.Match(path) {
		return MethodStore
	}

	return opts.CompressMethod
}

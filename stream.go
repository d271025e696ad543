// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/archvfs

package archvfs

import (
	"fmt"
	"io"
	"os"
)

// Stream is a seekable byte channel returned by translators.
// Offsets are 64-bit; Seek accepts io.SeekStart, io.SeekCurrent and io.SeekEnd.
type Stream interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer

	// Tell returns current seek offset.
	Tell() (int64, error)
	// Size returns current stream length.
	Size() (int64, error)
	// TruncateAtSeek cuts or extends stream length to current seek offset.
	TruncateAtSeek() error
	// Flush pushes pending writes to the underlying medium.
	Flush() error
	// IsReadable reports whether Read is permitted.
	IsReadable() bool
	// IsWriteable reports whether Write is permitted.
	IsWriteable() bool
}

// FileStream is Stream over an *os.File.
type FileStream struct {
	file *os.File
	flag int
}

var _ Stream = (*FileStream)(nil)

// OpenFileStream opens path with os.OpenFile flags and wraps it.
func OpenFileStream(path string, flag int, perm os.FileMode) (*FileStream, error) {
	f, err := os.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}

	return NewFileStream(f, flag), nil
}

// NewFileStream wraps an already opened file; flag is the os.OpenFile flag used to open it.
func NewFileStream(f *os.File, flag int) *FileStream {
	return &FileStream{file: f, flag: flag}
}

// File returns wrapped file.
func (s *FileStream) File() *os.File {
	return s.file
}

// Name returns wrapped file name.
func (s *FileStream) Name() string {
	return s.file.Name()
}

// Read reads from file.
func (s *FileStream) Read(p []byte) (int, error) {
	if !s.IsReadable() {
		return 0, ErrNotReadable
	}

	return s.file.Read(p)
}

// ReadAt reads from file at absolute offset without moving seek.
func (s *FileStream) ReadAt(p []byte, off int64) (int, error) {
	if !s.IsReadable() {
		return 0, ErrNotReadable
	}

	return s.file.ReadAt(p, off)
}

// Write writes to file.
func (s *FileStream) Write(p []byte) (int, error) {
	if !s.IsWriteable() {
		return 0, ErrNotWriteable
	}

	return s.file.Write(p)
}

// Seek moves file offset.
func (s *FileStream) Seek(offset int64, whence int) (int64, error) {
	return s.file.Seek(offset, whence)
}

// Tell returns current file offset.
func (s *FileStream) Tell() (int64, error) {
	return s.file.Seek(0, io.SeekCurrent)
}

// Size returns file size from stat.
func (s *FileStream) Size() (int64, error) {
	info, err := s.file.Stat()
	if err != nil {
		return 0, err
	}

	return info.Size(), nil
}

// TruncateAtSeek truncates file at current offset.
func (s *FileStream) TruncateAtSeek() error {
	if !s.IsWriteable() {
		return ErrNotWriteable
	}

	pos, err := s.Tell()
	if err != nil {
		return err
	}

	return s.file.Truncate(pos)
}

// Flush is a no-op: writes go straight to the OS.
func (s *FileStream) Flush() error {
	return nil
}

// Close closes file.
func (s *FileStream) Close() error {
	return s.file.Close()
}

// IsReadable reports whether file was opened for reading.
func (s *FileStream) IsReadable() bool {
	mode := s.flag & (os.O_RDONLY | os.O_WRONLY | os.O_RDWR)
	return mode == os.O_RDONLY || mode == os.O_RDWR
}

// IsWriteable reports whether file was opened for writing.
func (s *FileStream) IsWriteable() bool {
	mode := s.flag & (os.O_RDONLY | os.O_WRONLY | os.O_RDWR)
	return mode == os.O_WRONLY || mode == os.O_RDWR
}

// SectionStream is a read-only Stream over [off, off+n) of an io.ReaderAt.
type SectionStream struct {
	sr *io.SectionReader
}

var _ Stream = (*SectionStream)(nil)

// NewSectionStream returns read-only stream over one container region.
func NewSectionStream(ra io.ReaderAt, off int64, n int64) *SectionStream {
	return &SectionStream{sr: io.NewSectionReader(ra, off, n)}
}

// Read reads from section.
func (s *SectionStream) Read(p []byte) (int, error) {
	return s.sr.Read(p)
}

// ReadAt reads from section at relative offset.
func (s *SectionStream) ReadAt(p []byte, off int64) (int, error) {
	return s.sr.ReadAt(p, off)
}

// Write always fails.
func (s *SectionStream) Write([]byte) (int, error) {
	return 0, ErrNotWriteable
}

// Seek moves section offset.
func (s *SectionStream) Seek(offset int64, whence int) (int64, error) {
	pos, err := s.sr.Seek(offset, whence)
	if err != nil {
		return pos, fmt.Errorf("%w: %w", ErrNegativeSeek, err)
	}

	return pos, nil
}

// Tell returns current section offset.
func (s *SectionStream) Tell() (int64, error) {
	return s.sr.Seek(0, io.SeekCurrent)
}

// Size returns section length.
func (s *SectionStream) Size() (int64, error) {
	return s.sr.Size(), nil
}

// TruncateAtSeek always fails.
func (s *SectionStream) TruncateAtSeek() error {
	return ErrNotWriteable
}

// Flush is a no-op.
func (s *SectionStream) Flush() error {
	return nil
}

// Close is a no-op; the container is owned by its translator.
func (s *SectionStream) Close() error {
	return nil
}

// IsReadable returns true.
func (s *SectionStream) IsReadable() bool {
	return true
}

// IsWriteable returns false.
func (s *SectionStream) IsWriteable() bool {
	return false
}

// lockedStream releases a file node lock once the wrapped stream is closed.
type lockedStream struct {
	Stream
	release func()
}

// Close closes the wrapped stream and releases the node lock once.
func (s *lockedStream) Close() error {
	err := s.Stream.Close()
	if s.release != nil {
		s.release()
		s.release = nil
	}

	return err
}

// isWriteFlag reports whether os.OpenFile flag requests write access.
func isWriteFlag(flag int) bool {
	return flag&(os.O_WRONLY|os.O_RDWR) != 0
}

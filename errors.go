// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/archvfs

package archvfs

import "errors"

// Sentinel errors for filesystem and archive operations. Use errors.Is in callers.
var (
	// ErrInvalidPath means the path text is malformed or contains forbidden characters.
	ErrInvalidPath = errors.New("invalid path")
	// ErrPathEscape means ".." tried to leave the translator root.
	ErrPathEscape = errors.New("path escapes translator root")
	// ErrNotFound means the file or directory does not exist.
	ErrNotFound = errors.New("file or directory not found")
	// ErrIsDirectory means a file operation was applied to a directory.
	ErrIsDirectory = errors.New("path is a directory")
	// ErrNotDirectory means a directory operation hit a file segment.
	ErrNotDirectory = errors.New("path is not a directory")
	// ErrExist means the destination already exists.
	ErrExist = errors.New("file or directory already exists")
	// ErrNameTooLong means an entry name does not fit the container name field.
	ErrNameTooLong = errors.New("entry name too long")

	// ErrInvalidFormat means the container signature or record layout is invalid.
	ErrInvalidFormat = errors.New("invalid container format")
	// ErrTruncated means a declared record or payload exceeds the container length.
	ErrTruncated = errors.New("container truncated")
	// ErrUnsupported means the container feature or operation is not supported.
	ErrUnsupported = errors.New("unsupported container feature")
	// ErrUnknownMethod means no codec is registered for the compression method.
	ErrUnknownMethod = errors.New("unknown compression method")
	// ErrChecksumMismatch means extracted content does not match the stored CRC32.
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// ErrUnknownFormat means no registered archive format accepted the container.
	ErrUnknownFormat = errors.New("unknown archive format")

	// ErrClosed means the translator or stream is already closed.
	ErrClosed = errors.New("translator or stream already closed")
	// ErrNotReadable means the stream was not opened for reading.
	ErrNotReadable = errors.New("stream is not readable")
	// ErrNotWriteable means the stream or translator was not opened for writing.
	ErrNotWriteable = errors.New("stream is not writeable")
	// ErrContainerBusy means another owner holds the container lock.
	ErrContainerBusy = errors.New("container is locked by another owner")

	// ErrLocked means a file (or a descendant file) has open streams.
	ErrLocked = errors.New("file is locked by an open stream")
	// ErrCycle means a directory would be moved or copied under itself.
	ErrCycle = errors.New("directory cannot be moved under itself")
	// ErrNegativeSeek means a seek resolved to a negative offset.
	ErrNegativeSeek = errors.New("negative seek offset")
	// ErrInvalidCompressPattern means one or more compression rules are invalid.
	ErrInvalidCompressPattern = errors.New("invalid compress rules")
)

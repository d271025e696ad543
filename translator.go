// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/archvfs

package archvfs

import (
	"context"
	"io"
	"io/fs"
)

// Translator binds path-based file operations to one storage backend.
// Paths are resolved relative to CurrentDir unless they start with a separator.
// A translator and the streams it returns are owned by one goroutine at a time.
type Translator interface {
	// Open opens a file for reading.
	Open(path string) (Stream, error)
	// Create creates or truncates a file for reading and writing.
	Create(path string) (Stream, error)
	// OpenFile opens a file with os.OpenFile flags (O_RDONLY, O_RDWR, O_CREATE, O_TRUNC, O_EXCL).
	OpenFile(path string, flag int) (Stream, error)
	// Exists reports whether path names an existing file or directory.
	Exists(path string) bool
	// Stat returns entry information.
	Stat(path string) (fs.FileInfo, error)
	// Size returns file content size.
	Size(path string) (int64, error)
	// CreateDir creates a directory and missing parents.
	CreateDir(path string) error
	// Delete removes a file or a directory subtree.
	Delete(path string) error
	// Rename moves a file or directory.
	Rename(src string, dst string) error
	// Copy duplicates a file or directory.
	Copy(src string, dst string) error
	// Scan enumerates dir; see Tree.Scan for pattern semantics. Callbacks get
	// full translator paths; directories end with "/".
	Scan(dir string, pattern string, recurse bool, onDir func(path string) error, onFile func(path string) error) error
	// ReadDir lists direct children of a directory sorted by name.
	ReadDir(path string) ([]fs.FileInfo, error)
	// ChangeDir sets the directory relative paths are resolved against.
	ChangeDir(path string) error
	// CurrentDir returns the current directory path ("" for root).
	CurrentDir() string
	// Close releases the translator and its scratch areas.
	Close() error
}

// ArchiveTranslator is a Translator backed by a container file.
type ArchiveTranslator interface {
	Translator

	// Save rebuilds the container in place.
	Save(ctx context.Context) error
	// SaveTo writes a rebuilt container to out without touching the source.
	SaveTo(ctx context.Context, out io.WriteSeeker) error
	// Format returns archive format name.
	Format() string
}

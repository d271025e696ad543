// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/archvfs

package archvfs

import (
	"bytes"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

// detectHeaderSize is number of leading container bytes passed to Detect.
const detectHeaderSize = 64

// ArchiveFormat describes one container format known to a Registry.
type ArchiveFormat struct {
	// Open opens an existing container.
	Open func(path string, opts ArchiveOptions) (ArchiveTranslator, error)
	// Create creates an empty container.
	Create func(path string, opts ArchiveOptions) (ArchiveTranslator, error)
	// Detect reports whether leading container bytes belong to the format; may be nil.
	Detect func(header []byte) bool
	// Name is unique lowercase format name.
	Name string
	// Extensions are lowercase file extensions with leading dot.
	Extensions []string
}

// Registry maps format names and file extensions to archive formats.
// Build one explicitly and register the formats an application needs.
type Registry struct {
	formats map[string]ArchiveFormat
	order   []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{formats: make(map[string]ArchiveFormat)}
}

// DefaultRegistry returns a registry with ZIP and IMG formats.
func DefaultRegistry() *Registry {
	reg := NewRegistry()
	_ = RegisterZIP(reg)
	_ = RegisterIMG(reg)

	return reg
}

// Register adds a format; duplicate names fail with ErrExist.
func (r *Registry) Register(format ArchiveFormat) error {
	name := strings.ToLower(strings.TrimSpace(format.Name))
	if name == "" || format.Open == nil {
		return fmt.Errorf("register format: %w: name and Open are required", ErrInvalidPath)
	}
	if _, ok := r.formats[name]; ok {
		return fmt.Errorf("register format %s: %w", name, ErrExist)
	}

	format.Name = name
	format.Extensions = slices.Clone(format.Extensions)
	for i, ext := range format.Extensions {
		format.Extensions[i] = normalizeExt(ext)
	}

	r.formats[name] = format
	r.order = append(r.order, name)

	return nil
}

// Lookup returns a format by name.
func (r *Registry) Lookup(name string) (ArchiveFormat, bool) {
	f, ok := r.formats[strings.ToLower(name)]
	return f, ok
}

// Formats returns registered format names in registration order.
func (r *Registry) Formats() []string {
	return slices.Clone(r.order)
}

// ForPath returns the first format claiming the extension of path.
func (r *Registry) ForPath(path string) (ArchiveFormat, bool) {
	ext := normalizeExt(filepath.Ext(path))
	for _, name := range r.order {
		if slices.Contains(r.formats[name].Extensions, ext) {
			return r.formats[name], true
		}
	}

	return ArchiveFormat{}, false
}

// Open opens path with the first format whose Detect accepts its leading bytes,
// falling back to the extension. Unknown containers fail with ErrUnknownFormat.
func (r *Registry) Open(path string, opts ArchiveOptions) (ArchiveTranslator, error) {
	header, err := readFileHeader(path, detectHeaderSize)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	for _, name := range r.order {
		format := r.formats[name]
		if format.Detect != nil && format.Detect(header) {
			return format.Open(path, opts)
		}
	}

	if format, ok := r.ForPath(path); ok {
		return format.Open(path, opts)
	}

	return nil, fmt.Errorf("open %s: %w", path, ErrUnknownFormat)
}

// Create creates a container with the format claiming the extension of path.
func (r *Registry) Create(path string, opts ArchiveOptions) (ArchiveTranslator, error) {
	format, ok := r.ForPath(path)
	if !ok || format.Create == nil {
		return nil, fmt.Errorf("create %s: %w", path, ErrUnknownFormat)
	}

	return format.Create(path, opts)
}

// RegisterZIP adds ZIP format to reg.
func RegisterZIP(reg *Registry) error {
	return reg.Register(ArchiveFormat{
		Name:       FormatZIP,
		Extensions: []string{".zip"},
		Detect:     detectZIP,
		Open: func(path string, opts ArchiveOptions) (ArchiveTranslator, error) {
			return OpenZIP(path, opts)
		},
		Create: func(path string, opts ArchiveOptions) (ArchiveTranslator, error) {
			return CreateZIP(path, opts)
		},
	})
}

// RegisterIMG adds IMG format to reg.
func RegisterIMG(reg *Registry) error {
	return reg.Register(ArchiveFormat{
		Name:       FormatIMG,
		Extensions: []string{".img", ".dir"},
		Detect:     isIMGv2,
		Open: func(path string, opts ArchiveOptions) (ArchiveTranslator, error) {
			return OpenIMG(path, opts)
		},
		Create: func(path string, opts ArchiveOptions) (ArchiveTranslator, error) {
			return CreateIMG(path, opts)
		},
	})
}

// detectZIP accepts local header or empty-archive end record signatures.
func detectZIP(header []byte) bool {
	return bytes.HasPrefix(header, []byte("PK\x03\x04")) || bytes.HasPrefix(header, []byte("PK\x05\x06"))
}

// normalizeExt returns lowercase extension with leading dot.
func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	return ext
}

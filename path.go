// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/archvfs

package archvfs

import (
	"fmt"
	"slices"
	"strings"
)

// Path is an immutable resolved path: ordered name components plus a file flag.
// No component is empty, "." or "..". The zero value is the root directory.
type Path struct {
	// parts holds resolved components; never mutated after construction.
	parts []string
	// file reports whether the last component names a file.
	file bool
}

// RootPath returns the root directory path.
func RootPath() Path {
	return Path{}
}

// ParsePath resolves text against the root with default path options.
func ParsePath(text string) (Path, error) {
	return NewResolver(PathOptions{}).Resolve(RootPath(), text)
}

// MustParsePath is like ParsePath but panics on error. Intended for tests and constants.
func MustParsePath(text string) Path {
	p, err := ParsePath(text)
	if err != nil {
		panic(err)
	}

	return p
}

// Components returns a copy of path components.
func (p Path) Components() []string {
	return slices.Clone(p.parts)
}

// Len returns number of components.
func (p Path) Len() int {
	return len(p.parts)
}

// IsFile reports whether the last component names a file.
func (p Path) IsFile() bool {
	return p.file
}

// IsRoot reports whether p is the root directory.
func (p Path) IsRoot() bool {
	return len(p.parts) == 0
}

// Name returns the last component, or "" for root.
func (p Path) Name() string {
	if len(p.parts) == 0 {
		return ""
	}

	return p.parts[len(p.parts)-1]
}

// Parent returns the containing directory path.
func (p Path) Parent() Path {
	if len(p.parts) == 0 {
		return p
	}

	return Path{parts: p.parts[:len(p.parts)-1:len(p.parts)-1]}
}

// Dir returns p itself for directories and the parent directory for files.
func (p Path) Dir() Path {
	if p.file {
		return p.Parent()
	}

	return p
}

// Child returns directory path p/name.
func (p Path) Child(name string) Path {
	return p.join(name, false)
}

// File returns file path p/name.
func (p Path) File(name string) Path {
	return p.join(name, true)
}

// AsDir returns the same components flagged as a directory.
func (p Path) AsDir() Path {
	return Path{parts: p.parts}
}

// Rebase replaces prefix "from" of p with "to". p must have prefix from.
func (p Path) Rebase(from Path, to Path) Path {
	parts := make([]string, 0, len(to.parts)+len(p.parts)-len(from.parts))
	parts = append(parts, to.parts...)
	parts = append(parts, p.parts[len(from.parts):]...)

	return Path{parts: parts, file: p.file}
}

// join appends one already validated component.
func (p Path) join(name string, file bool) Path {
	parts := make([]string, len(p.parts), len(p.parts)+1)
	copy(parts, p.parts)
	parts = append(parts, name)

	return Path{parts: parts, file: file}
}

// HasPrefix reports whether dir components are a prefix of p.
func (p Path) HasPrefix(dir Path) bool {
	if len(dir.parts) > len(p.parts) {
		return false
	}

	for i := range dir.parts {
		if p.parts[i] != dir.parts[i] {
			return false
		}
	}

	return true
}

// Equal reports whether p and q have the same components and kind.
func (p Path) Equal(q Path) bool {
	return p.file == q.file && slices.Equal(p.parts, q.parts)
}

// String returns slash-separated form; directories end with "/", root is "".
func (p Path) String() string {
	if len(p.parts) == 0 {
		return ""
	}

	s := strings.Join(p.parts, "/")
	if !p.file {
		s += "/"
	}

	return s
}

// Resolver turns path text into Path values relative to a base directory.
type Resolver struct {
	opts PathOptions
}

// NewResolver creates a resolver with given options.
func NewResolver(opts PathOptions) *Resolver {
	opts.applyDefaults()

	return &Resolver{opts: opts}
}

// Resolve parses text relative to base. A leading separator anchors at root.
// "." collapses in place, ".." pops one component and fails with ErrPathEscape
// when nothing is left to pop. Trailing separator or empty text means directory.
func (r *Resolver) Resolve(base Path, text string) (Path, error) {
	if strings.ContainsRune(text, 0) {
		return Path{}, fmt.Errorf("%w: NUL in %q", ErrInvalidPath, text)
	}
	if strings.ContainsRune(text, ':') {
		return Path{}, fmt.Errorf("%w: drive or stream separator in %q", ErrInvalidPath, text)
	}

	var parts []string
	if !isPathSeparator(firstByte(text)) {
		parts = slices.Clone(base.Dir().parts)
	}

	isFile := text != "" && !isPathSeparator(text[len(text)-1])
	for segment := range strings.FieldsFuncSeq(text, func(r rune) bool { return r == '/' || r == '\\' }) {
		switch segment {
		case ".":
			isFile = false
			continue
		case "..":
			if len(parts) == 0 {
				return Path{}, fmt.Errorf("%w: %q", ErrPathEscape, text)
			}

			parts = parts[:len(parts)-1]
			isFile = false
			continue
		}

		if err := r.validateComponent(segment); err != nil {
			return Path{}, fmt.Errorf("%w: %q", err, text)
		}

		parts = append(parts, segment)
		isFile = !isPathSeparator(text[len(text)-1])
	}

	if len(parts) == 0 {
		isFile = false
	}

	return Path{parts: parts, file: isFile}, nil
}

// validateComponent checks one name against resolver options.
func (r *Resolver) validateComponent(name string) error {
	if r.opts.MaxComponentLen > 0 && len(name) > r.opts.MaxComponentLen {
		return ErrNameTooLong
	}

	if r.opts.StrictNames {
		return validateStrictName(name)
	}

	return nil
}

// isPathSeparator reports whether b is one of accepted separators.
func isPathSeparator(b byte) bool {
	return b == '/' || b == '\\'
}

// firstByte returns first byte of s or zero for empty string.
func firstByte(s string) byte {
	if s == "" {
		return 0
	}

	return s[0]
}

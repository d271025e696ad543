// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/archvfs

package archvfs

import (
	"io/fs"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/woozymasta/pathrules"
)

// Default tuning values.
const (
	DefaultBufferWindow    = 64 * 1024
	DefaultBufferAlignment = 4096
	DefaultMinCompressSize = 64
	DefaultWriteBuffer     = 1024 * 1024
	DefaultFilePerm        = 0o644
	DefaultDirPerm         = 0o755
)

// PathOptions configures path text resolution.
type PathOptions struct {
	// StrictNames rejects reserved characters, control runes, trailing dots
	// and reserved device names in every component.
	StrictNames bool `json:"strict_names,omitempty" yaml:"strict_names,omitempty"`
	// MaxComponentLen rejects longer components with ErrNameTooLong (zero means unlimited).
	MaxComponentLen int `json:"max_component_len,omitempty" yaml:"max_component_len,omitempty"`
}

// BufferOptions configures BufferedStream window geometry.
type BufferOptions struct {
	// WindowSize is window capacity in bytes, rounded up to Alignment.
	// Default is 64 KiB.
	WindowSize int `json:"window_size,omitempty" yaml:"window_size,omitempty"`
	// Alignment is window offset granularity in bytes. Default is 4 KiB.
	Alignment int `json:"alignment,omitempty" yaml:"alignment,omitempty"`
}

// DirOptions configures DirTranslator.
type DirOptions struct {
	// Logger receives debug events; nil means logrus standard logger.
	Logger logrus.FieldLogger `json:"-" yaml:"-"`
	// Path controls path text resolution.
	Path PathOptions `json:"path,omitzero" yaml:"path,omitzero"`
	// Pattern controls Scan wildcard matching.
	Pattern PatternEnv `json:"pattern,omitzero" yaml:"pattern,omitzero"`
	// Buffer configures buffered streams when Buffered is set.
	Buffer BufferOptions `json:"buffer,omitzero" yaml:"buffer,omitzero"`
	// FilePerm is mode for created files. Default is 0644.
	FilePerm fs.FileMode `json:"file_perm,omitempty" yaml:"file_perm,omitempty"`
	// DirPerm is mode for created directories. Default is 0755.
	DirPerm fs.FileMode `json:"dir_perm,omitempty" yaml:"dir_perm,omitempty"`
	// Buffered wraps every opened stream with BufferedStream.
	Buffered bool `json:"buffered,omitempty" yaml:"buffered,omitempty"`
	// CreateRoot creates the root directory when missing.
	CreateRoot bool `json:"create_root,omitempty" yaml:"create_root,omitempty"`
	// ReadOnly rejects every mutating operation with ErrNotWriteable.
	ReadOnly bool `json:"read_only,omitempty" yaml:"read_only,omitempty"`
}

// SaveOptions configures archive rebuild.
type SaveOptions struct {
	// Compress defines ordered path rules selecting new or changed entries for compression.
	// Entries loaded from the container keep their stored method.
	Compress []pathrules.Rule `json:"compress,omitempty" yaml:"compress,omitempty"`
	// CompressMatcherOptions control compression path rule matching.
	CompressMatcherOptions pathrules.MatcherOptions `json:"compress_matcher_options,omitzero" yaml:"compress_matcher_options,omitzero"`
	// CompressMethod is method used for selected entries. Default is MethodDeflate.
	CompressMethod uint16 `json:"compress_method,omitempty" yaml:"compress_method,omitempty"`
	// MinCompressSize disables compression for smaller entries. Default is 64 bytes.
	MinCompressSize int64 `json:"min_compress_size,omitempty" yaml:"min_compress_size,omitempty"`
	// WriterBufferSize is buffered writer size in bytes.
	WriterBufferSize int `json:"writer_buffer_size,omitempty" yaml:"writer_buffer_size,omitempty"`
	// BackupKeep controls how many backup generations are kept for path-backed containers.
	// 0 keeps none, 1 keeps `<archive>.bak`, N keeps `.bak` + `.bak.1..N-1`.
	BackupKeep int `json:"backup_keep,omitempty" yaml:"backup_keep,omitempty"`
}

// ArchiveOptions configures ZIP and IMG translators.
type ArchiveOptions struct {
	// Logger receives debug events; nil means logrus standard logger.
	Logger logrus.FieldLogger `json:"-" yaml:"-"`
	// Codecs resolves ZIP compression methods; nil means DefaultCodecs().
	Codecs *CodecSet `json:"-" yaml:"-"`
	// Path controls path text resolution.
	Path PathOptions `json:"path,omitzero" yaml:"path,omitzero"`
	// Pattern controls Scan wildcard matching.
	Pattern PatternEnv `json:"pattern,omitzero" yaml:"pattern,omitzero"`
	// Buffer configures buffered write streams.
	Buffer BufferOptions `json:"buffer,omitzero" yaml:"buffer,omitzero"`
	// Save configures Save and SaveTo.
	Save SaveOptions `json:"save,omitzero" yaml:"save,omitzero"`
	// ScratchDir is parent directory for scratch areas; empty means os.TempDir().
	ScratchDir string `json:"scratch_dir,omitempty" yaml:"scratch_dir,omitempty"`
	// IMGVersion selects layout for newly created IMG containers. Default is IMGVersion2.
	IMGVersion IMGVersion `json:"img_version,omitempty" yaml:"img_version,omitempty"`
	// ReadOnly opens the container read-only; Save and write opens fail.
	ReadOnly bool `json:"read_only,omitempty" yaml:"read_only,omitempty"`
	// LockContainer takes an exclusive advisory lock on "<container>.lock".
	LockContainer bool `json:"lock_container,omitempty" yaml:"lock_container,omitempty"`
	// Unbuffered disables BufferedStream wrapping for write streams.
	Unbuffered bool `json:"unbuffered,omitempty" yaml:"unbuffered,omitempty"`
}

// ExportOptions configures ExportTree.
type ExportOptions struct {
	// OnFileDone is called after one file is fully copied.
	OnFileDone func(path string, written int64) `json:"-" yaml:"-"`
	// Pattern filters copied file names (wildcards); empty copies everything.
	Pattern string `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	// Rules optionally filter source paths with ordered include/exclude rules.
	Rules []pathrules.Rule `json:"rules,omitempty" yaml:"rules,omitempty"`
	// RulesMatcherOptions control Rules matching.
	RulesMatcherOptions pathrules.MatcherOptions `json:"rules_matcher_options,omitzero" yaml:"rules_matcher_options,omitzero"`
	// SanitizeNames rewrites destination names to filesystem-safe form.
	SanitizeNames bool `json:"sanitize_names,omitempty" yaml:"sanitize_names,omitempty"`
	// Overwrite replaces existing destination files instead of failing with ErrExist.
	Overwrite bool `json:"overwrite,omitempty" yaml:"overwrite,omitempty"`
}

// fileInfo is fs.FileInfo for translator entries.
type fileInfo struct {
	modTime time.Time
	name    string
	size    int64
	dir     bool
}

// Name returns base name.
func (fi fileInfo) Name() string { return fi.name }

// Size returns content size.
func (fi fileInfo) Size() int64 { return fi.size }

// Mode returns synthetic permission bits.
func (fi fileInfo) Mode() fs.FileMode {
	if fi.dir {
		return fs.ModeDir | DefaultDirPerm
	}

	return DefaultFilePerm
}

// ModTime returns modification time or zero time when unknown.
func (fi fileInfo) ModTime() time.Time { return fi.modTime }

// IsDir reports directory kind.
func (fi fileInfo) IsDir() bool { return fi.dir }

// Sys returns nil.
func (fi fileInfo) Sys() any { return nil }

// applyDefaults fills zero-valued path options.
func (opts *PathOptions) applyDefaults() {
	if opts.MaxComponentLen < 0 {
		opts.MaxComponentLen = 0
	}
}

// applyDefaults fills zero-valued buffer options and rounds window to alignment.
func (opts *BufferOptions) applyDefaults() {
	if opts.Alignment <= 0 {
		opts.Alignment = DefaultBufferAlignment
	}

	if opts.WindowSize <= 0 {
		opts.WindowSize = DefaultBufferWindow
	}

	if rem := opts.WindowSize % opts.Alignment; rem != 0 {
		opts.WindowSize += opts.Alignment - rem
	}
}

// applyDefaults fills zero-valued directory translator options.
func (opts *DirOptions) applyDefaults() {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	if opts.FilePerm == 0 {
		opts.FilePerm = DefaultFilePerm
	}

	if opts.DirPerm == 0 {
		opts.DirPerm = DefaultDirPerm
	}

	opts.Path.applyDefaults()
	opts.Buffer.applyDefaults()
}

// applyDefaults fills zero-valued save options.
func (opts *SaveOptions) applyDefaults() {
	if opts.CompressMethod == MethodStore {
		opts.CompressMethod = MethodDeflate
	}

	if opts.MinCompressSize <= 0 {
		opts.MinCompressSize = DefaultMinCompressSize
	}

	if opts.WriterBufferSize < 4096 {
		opts.WriterBufferSize = DefaultWriteBuffer
	}

	if opts.BackupKeep < 0 {
		opts.BackupKeep = 0
	}

	if opts.CompressMatcherOptions == (pathrules.MatcherOptions{}) {
		opts.CompressMatcherOptions = pathrules.MatcherOptions{
			CaseInsensitive: true,
			DefaultAction:   pathrules.ActionExclude,
		}
	}

	if opts.CompressMatcherOptions.DefaultAction == pathrules.ActionUnknown {
		opts.CompressMatcherOptions.DefaultAction = pathrules.ActionExclude
	}
}

// applyDefaults fills zero-valued archive options.
func (opts *ArchiveOptions) applyDefaults() {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	if opts.Codecs == nil {
		opts.Codecs = DefaultCodecs()
	}

	if opts.IMGVersion == 0 {
		opts.IMGVersion = IMGVersion2
	}

	opts.Path.applyDefaults()
	opts.Buffer.applyDefaults()
	opts.Save.applyDefaults()
}

// applyDefaults fills zero-valued export options.
func (opts *ExportOptions) applyDefaults() {
	if opts.RulesMatcherOptions == (pathrules.MatcherOptions{}) {
		opts.RulesMatcherOptions = pathrules.MatcherOptions{
			DefaultAction: pathrules.ActionInclude,
		}
	}

	if opts.RulesMatcherOptions.DefaultAction == pathrules.ActionUnknown {
		opts.RulesMatcherOptions.DefaultAction = pathrules.ActionInclude
	}
}

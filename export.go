// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/archvfs

package archvfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"
)

// ExportResult summarizes one ExportTree call.
type ExportResult struct {
	// Files is number of copied files.
	Files int `json:"files" yaml:"files"`
	// Dirs is number of created directories.
	Dirs int `json:"dirs" yaml:"dirs"`
	// Bytes is total copied payload size.
	Bytes int64 `json:"bytes" yaml:"bytes"`
	// Duration is total export time.
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// exportItem stores one selected source path with its destination path.
type exportItem struct {
	src string
	dst string
	dir bool
}

// ExportTree copies the srcDir subtree of src into dstDir of dst. Source and
// destination may be any translators, including the same one when the
// subtrees do not overlap. The source is listed before anything is written.
func ExportTree(
	ctx context.Context,
	src Translator,
	srcDir string,
	dst Translator,
	dstDir string,
	opts ExportOptions,
) (*ExportResult, error) {
	startedAt := time.Now()

	if ctx == nil {
		ctx = context.Background()
	}

	opts.applyDefaults()

	filter, err := NewScanFilter(opts.Rules, opts.RulesMatcherOptions)
	if err != nil {
		return nil, err
	}

	items, err := prepareExportItems(src, srcDir, dstDir, filter, opts)
	if err != nil {
		return nil, err
	}

	res := &ExportResult{}
	if err := dst.CreateDir(dstDir); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	buf, release := acquireCopyBuffer()
	defer release()

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if item.dir {
			if err := dst.CreateDir(item.dst); err != nil {
				return res, fmt.Errorf("create dir %s: %w", item.dst, err)
			}

			res.Dirs++
			continue
		}

		written, err := exportFile(src, item, dst, opts.Overwrite, buf)
		if err != nil {
			return res, err
		}

		res.Files++
		res.Bytes += written

		if opts.OnFileDone != nil {
			opts.OnFileDone(item.dst, written)
		}
	}

	res.Duration = time.Since(startedAt)
	return res, nil
}

// prepareExportItems lists selected directories and files with destination paths.
func prepareExportItems(
	src Translator,
	srcDir string,
	dstDir string,
	filter *ScanFilter,
	opts ExportOptions,
) ([]exportItem, error) {
	prefix, err := scanPrefix(src, srcDir)
	if err != nil {
		return nil, err
	}

	pattern := PatternEnv{}.Compile(opts.Pattern)
	base := strings.TrimSuffix(strings.ReplaceAll(dstDir, `\`, "/"), "/")

	target := func(full string) string {
		rel := strings.TrimPrefix(full, prefix)
		if opts.SanitizeNames {
			rel = sanitizeRelPath(rel)
		}

		if base == "" {
			return rel
		}

		return base + "/" + rel
	}

	var items []exportItem
	err = src.Scan(srcDir, "", true,
		func(dir string) error {
			rel := strings.TrimPrefix(dir, prefix)
			if !filter.Included(rel, true) {
				return nil
			}

			items = append(items, exportItem{src: dir, dst: target(dir), dir: true})
			return nil
		},
		func(file string) error {
			rel := strings.TrimPrefix(file, prefix)
			if !filter.Included(rel, false) || !pattern.Match(path.Base(file)) {
				return nil
			}

			items = append(items, exportItem{src: file, dst: target(file)})
			return nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", srcDir, err)
	}

	return items, nil
}

// scanPrefix returns the full-path prefix Scan reports for children of dir.
func scanPrefix(t Translator, dir string) (string, error) {
	cwd, err := ParsePath(t.CurrentDir())
	if err != nil {
		return "", err
	}

	p, err := NewResolver(PathOptions{}).Resolve(cwd, dir)
	if err != nil {
		return "", err
	}

	return p.AsDir().String(), nil
}

// exportFile copies one file and returns written size.
func exportFile(src Translator, item exportItem, dst Translator, overwrite bool, buf []byte) (int64, error) {
	in, err := src.Open(item.src)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", item.src, err)
	}
	defer func() { _ = in.Close() }()

	flag := os.O_RDWR | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flag |= os.O_EXCL
	}

	out, err := dst.OpenFile(item.dst, flag)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", item.dst, err)
	}

	written, copyErr := io.CopyBuffer(onlyWriter{out}, onlyReader{in}, buf)
	closeErr := out.Close()
	if copyErr != nil {
		return written, fmt.Errorf("write %s: %w", item.dst, copyErr)
	}
	if closeErr != nil {
		return written, fmt.Errorf("close %s: %w", item.dst, closeErr)
	}

	return written, nil
}

// sanitizeRelPath sanitizes every component of a slash-separated relative path.
func sanitizeRelPath(rel string) string {
	dir := strings.HasSuffix(rel, "/")
	parts := strings.Split(strings.TrimSuffix(rel, "/"), "/")
	for i, part := range parts {
		parts[i] = SanitizeName(part)
	}

	out := strings.Join(parts, "/")
	if dir {
		out += "/"
	}

	return out
}

// onlyReader hides optional interfaces so io.CopyBuffer uses the given buffer.
type onlyReader struct {
	io.Reader
}

// onlyWriter hides optional interfaces so io.CopyBuffer uses the given buffer.
type onlyWriter struct {
	io.Writer
}

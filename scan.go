// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/archvfs

package archvfs

import (
	"fmt"
	"strings"

	"github.com/woozymasta/pathrules"
)

// Scan enumerates dir in sorted order. A child directory is reported and, when
// recurse is set, descended into only if its name matches pattern; files are
// reported when their name matches. Callback errors abort the scan.
func (t *Tree[D, F]) Scan(
	dir *Dir[D, F],
	pattern Pattern,
	recurse bool,
	onDir func(*Dir[D, F]) error,
	onFile func(*File[D, F]) error,
) error {
	for _, sub := range dir.Dirs() {
		if !pattern.Match(sub.name) {
			continue
		}

		if onDir != nil {
			if err := onDir(sub); err != nil {
				return err
			}
		}

		if recurse {
			if err := t.Scan(sub, pattern, recurse, onDir, onFile); err != nil {
				return err
			}
		}
	}

	if onFile == nil {
		return nil
	}

	for _, f := range dir.Files() {
		if !pattern.Match(f.name) {
			continue
		}

		if err := onFile(f); err != nil {
			return err
		}
	}

	return nil
}

// ScanFilter selects translator paths with ordered include/exclude rules.
type ScanFilter struct {
	matcher *pathrules.Matcher
}

// NewScanFilter compiles rules. Empty rules produce a filter that includes everything.
func NewScanFilter(rules []pathrules.Rule, opts pathrules.MatcherOptions) (*ScanFilter, error) {
	rules = normalizeRules(rules)
	if len(rules) == 0 {
		return &ScanFilter{}, nil
	}

	if opts.DefaultAction == pathrules.ActionUnknown {
		opts.DefaultAction = pathrules.ActionInclude
	}

	matcher, err := pathrules.NewMatcher(rules, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: compile rules: %w", ErrInvalidCompressPattern, err)
	}

	return &ScanFilter{matcher: matcher}, nil
}

// Included reports whether translator path passes the filter.
func (f *ScanFilter) Included(path string, isDir bool) bool {
	if f == nil || f.matcher == nil {
		return true
	}

	candidate := strings.TrimSuffix(path, "/")
	if candidate == "" {
		return true
	}

	return f.matcher.Included(candidate, isDir)
}

// ScanFiltered recursively lists every file under dir that passes filter.
func ScanFiltered(t Translator, dir string, filter *ScanFilter, onFile func(path string) error) error {
	return t.Scan(dir, "", true, nil, func(path string) error {
		if !filter.Included(path, false) {
			return nil
		}

		return onFile(path)
	})
}

// normalizeRules normalizes rule patterns to slash form and drops empty patterns.
func normalizeRules(rules []pathrules.Rule) []pathrules.Rule {
	normalized := make([]pathrules.Rule, 0, len(rules))
	for _, rule := range rules {
		pattern := strings.TrimSpace(rule.Pattern)
		pattern = strings.ReplaceAll(pattern, `\`, `/`)
		pattern = strings.TrimPrefix(pattern, "./")
		if pattern == "" {
			continue
		}

		normalized = append(normalized, pathrules.Rule{
			Action:  rule.Action,
			Pattern: pattern,
		})
	}

	return normalized
}

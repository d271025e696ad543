// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/archvfs

package archvfs

import (
	"strings"
	"unicode/utf8"
)

// PatternEnv holds matching settings shared by all patterns compiled from it.
type PatternEnv struct {
	// CaseInsensitive folds both pattern and candidate names to lower case.
	CaseInsensitive bool `json:"case_insensitive,omitempty" yaml:"case_insensitive,omitempty"`
}

// patternOpKind identifies one compiled wildcard instruction.
type patternOpKind uint8

const (
	// patternLiteral compares literal text at the current position.
	patternLiteral patternOpKind = iota + 1
	// patternSkipTo skips any text up to an occurrence of literal ("*lit").
	patternSkipTo
	// patternSingle skips exactly one character ("?").
	patternSingle
)

// patternOp is one compiled wildcard instruction.
type patternOp struct {
	literal string
	kind    patternOpKind
}

// Pattern is a compiled "*" / "?" wildcard pattern.
type Pattern struct {
	ops      []patternOp
	fold     bool
	matchAll bool
}

// Compile compiles pattern once for repeated matching.
// Empty pattern and "*" match every name.
func (env PatternEnv) Compile(pattern string) Pattern {
	if env.CaseInsensitive {
		pattern = strings.ToLower(pattern)
	}

	p := Pattern{fold: env.CaseInsensitive}
	if strings.Trim(pattern, "*") == "" {
		p.matchAll = true
		return p
	}

	var (
		literal strings.Builder
		star    bool
	)
	emit := func() {
		if literal.Len() == 0 && !star {
			return
		}

		kind := patternLiteral
		if star {
			kind = patternSkipTo
		}

		p.ops = append(p.ops, patternOp{kind: kind, literal: literal.String()})
		literal.Reset()
		star = false
	}

	for _, r := range pattern {
		switch r {
		case '*':
			if literal.Len() > 0 {
				emit()
			}
			star = true
		case '?':
			emit()
			p.ops = append(p.ops, patternOp{kind: patternSingle})
		default:
			literal.WriteRune(r)
		}
	}
	emit()

	return p
}

// Match reports whether name matches the whole pattern.
func (p Pattern) Match(name string) bool {
	if p.matchAll {
		return true
	}

	if p.fold {
		name = strings.ToLower(name)
	}

	return matchPatternOps(p.ops, name)
}

// matchPatternOps evaluates ops against name with backtracking on skip ops.
func matchPatternOps(ops []patternOp, name string) bool {
	for i, op := range ops {
		switch op.kind {
		case patternLiteral:
			if !strings.HasPrefix(name, op.literal) {
				return false
			}
			name = name[len(op.literal):]
		case patternSingle:
			if name == "" {
				return false
			}
			_, size := utf8.DecodeRuneInString(name)
			name = name[size:]
		case patternSkipTo:
			return matchSkipTo(op.literal, ops[i+1:], name)
		}
	}

	return name == ""
}

// matchSkipTo tries every position where literal occurs, then matches the rest.
func matchSkipTo(literal string, rest []patternOp, name string) bool {
	if literal == "" {
		if len(rest) == 0 {
			return true
		}

		for idx := range name {
			if matchPatternOps(rest, name[idx:]) {
				return true
			}
		}

		return matchPatternOps(rest, "")
	}

	for start := 0; start <= len(name); {
		idx := strings.Index(name[start:], literal)
		if idx < 0 {
			return false
		}

		pos := start + idx
		if matchPatternOps(rest, name[pos+len(literal):]) {
			return true
		}

		_, size := utf8.DecodeRuneInString(name[pos:])
		start = pos + size
	}

	return false
}

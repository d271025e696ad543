// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/archvfs

package archvfs

import (
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"
)

const (
	// maxSanitizedNameLen limits one sanitized name to common filesystem-safe length.
	maxSanitizedNameLen = 240
	// strictForbiddenChars are rejected by strict name validation.
	strictForbiddenChars = `<>"|?*`
)

// reservedDeviceNames contains case-insensitive reserved DOS/Windows device names.
var reservedDeviceNames = map[string]struct{}{
	"aux": {}, "con": {}, "nul": {}, "prn": {}, "clock$": {}, "conin$": {}, "conout$": {},
	"com1": {}, "com2": {}, "com3": {}, "com4": {}, "com5": {}, "com6": {}, "com7": {}, "com8": {}, "com9": {},
	"lpt1": {}, "lpt2": {}, "lpt3": {}, "lpt4": {}, "lpt5": {}, "lpt6": {}, "lpt7": {}, "lpt8": {}, "lpt9": {},
}

// validateStrictName rejects names that are unsafe on restrictive host filesystems.
func validateStrictName(name string) error {
	for _, r := range name {
		if isUnsafeControlRune(r) || strings.ContainsRune(strictForbiddenChars, r) {
			return fmt.Errorf("%w: forbidden character %q", ErrInvalidPath, r)
		}
	}

	if strings.TrimRight(name, ". ") != name {
		return fmt.Errorf("%w: trailing dot or space", ErrInvalidPath)
	}

	if isReservedDeviceName(name) {
		return fmt.Errorf("%w: reserved device name", ErrInvalidPath)
	}

	return nil
}

// SanitizeName rewrites one name component to a deterministic filesystem-safe form.
// It never returns an empty name, "." or "..".
func SanitizeName(name string) string {
	name = strings.TrimSpace(name)

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if isUnsafeControlRune(r) || strings.ContainsRune(`<>:"/\|?*`, r) {
			b.WriteRune('_')
			continue
		}

		b.WriteRune(r)
	}

	sanitized := strings.TrimRight(b.String(), ". ")
	if sanitized == "" {
		return "_"
	}

	if isReservedDeviceName(sanitized) {
		sanitized = "_" + sanitized
	}

	if len(sanitized) > maxSanitizedNameLen {
		sanitized = shortenNameDeterministic(sanitized, maxSanitizedNameLen)
	}

	return sanitized
}

// isUnsafeControlRune reports whether rune is a control or format character.
func isUnsafeControlRune(r rune) bool {
	if unicode.IsControl(r) || unicode.In(r, unicode.Cf) {
		return true
	}

	// U+FFFD comes from invalid byte sequences in legacy names.
	return r == '\uFFFD'
}

// isReservedDeviceName reports whether name (without extension) is a reserved device.
func isReservedDeviceName(name string) bool {
	candidate := strings.ToLower(strings.TrimSpace(name))
	if dot := strings.IndexByte(candidate, '.'); dot >= 0 {
		candidate = candidate[:dot]
	}

	candidate = strings.TrimRight(candidate, ". ")
	if candidate == "" {
		return false
	}

	_, ok := reservedDeviceNames[candidate]
	return ok
}

// shortenNameDeterministic shortens a long name and keeps a stable hash suffix.
func shortenNameDeterministic(value string, maxLen int) string {
	if len(value) <= maxLen {
		return value
	}
	if maxLen <= 10 {
		return value[:maxLen]
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(value))
	hashPart := fmt.Sprintf("~%08x", h.Sum32())
	prefixLen := max(maxLen-len(hashPart), 1)

	return value[:prefixLen] + hashPart
}

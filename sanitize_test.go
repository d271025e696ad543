// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/archvfs

package archvfs

import (
	"errors"
	"strings"
	"testing"
)

func TestSanitizeName(t *testing.T) {
	t.Parallel()

	longName := strings.Repeat("a", 400)
	gotLong := SanitizeName(longName)
	if len(gotLong) > maxSanitizedNameLen {
		t.Fatalf("len(long)=%d, want <= %d", len(gotLong), maxSanitizedNameLen)
	}
	if gotLong == longName {
		t.Fatal("long name was not shortened")
	}
	if SanitizeName(longName) != gotLong {
		t.Fatal("shortening is not deterministic")
	}

	testCases := []struct {
		in   string
		want string
	}{
		{in: "CON.txt", want: "_CON.txt"},
		{in: "  COM8.c  ", want: "_COM8.c"},
		{in: "a:b?.txt", want: "a_b_.txt"},
		{in: `a\b/c`, want: "a_b_c"},
		{in: "name. ", want: "name"},
		{in: "CLOCK$.cfg", want: "_CLOCK$.cfg"},
		{in: "a\x1b[31m.txt", want: "a_[31m.txt"},
		{in: "name\u009b0m.txt", want: "name_0m.txt"},
		{in: "a\x7fb.txt", want: "a_b.txt"},
		{in: "a\u200fb.txt", want: "a_b.txt"},
		{in: "bad\xffname", want: "bad_name"},
		{in: "", want: "_"},
		{in: ".", want: "_"},
		{in: "..", want: "_"},
		{in: "ok.txt", want: "ok.txt"},
	}

	for _, tc := range testCases {
		if got := SanitizeName(tc.in); got != tc.want {
			t.Fatalf("SanitizeName(%q)=%q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestIsReservedDeviceName(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		in   string
		want bool
	}{
		{in: "con", want: true},
		{in: "Con.txt", want: true},
		{in: "lpt9.log", want: true},
		{in: "conin$", want: true},
		{in: "console", want: false},
		{in: "com10", want: false},
		{in: "", want: false},
	}

	for _, tc := range testCases {
		if got := isReservedDeviceName(tc.in); got != tc.want {
			t.Fatalf("isReservedDeviceName(%q)=%v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestValidateStrictName(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"readme.txt", "a b", "data.bin"} {
		if err := validateStrictName(name); err != nil {
			t.Fatalf("validateStrictName(%q): %v", name, err)
		}
	}

	for _, name := range []string{"a|b", "x*", "tab\tname", "dots...", "NUL", "aux.dat"} {
		if err := validateStrictName(name); !errors.Is(err, ErrInvalidPath) {
			t.Fatalf("validateStrictName(%q)=%v, want ErrInvalidPath", name, err)
		}
	}
}

func TestSanitizeRelPath(t *testing.T) {
	t.Parallel()

	if got := sanitizeRelPath("con/a:b.txt"); got != "_con/a_b.txt" {
		t.Fatalf("sanitizeRelPath=%q, want _con/a_b.txt", got)
	}
	if got := sanitizeRelPath("dir./"); got != "dir/" {
		t.Fatalf("sanitizeRelPath=%q, want dir/", got)
	}
}

// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/archvfs

package archvfs

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"
)

const (
	benchDefaultEntries = 128
	benchStreamSize     = 4 << 20
)

var (
	// benchScanSink prevents compiler elimination in scan benchmark loops.
	benchScanSink int
)

// createBenchZIP writes a ZIP with entries spread over a few directories.
func createBenchZIP(b *testing.B, entries int) string {
	b.Helper()

	payload := bytes.Repeat([]byte("bench payload "), 64)
	fixture := make([]zipFixtureEntry, entries)
	for i := range fixture {
		method := uint16(zip.Store)
		if i%2 == 0 {
			method = zip.Deflate
		}

		fixture[i] = zipFixtureEntry{
			name:   fmt.Sprintf("d%d/f%d.txt", i%8, i),
			body:   string(payload),
			method: method,
		}
	}

	return writeZIPFixture(b, buildZIP(b, "", fixture...))
}

func BenchmarkBufferedRandomWrite(b *testing.B) {
	benchmarkRandomIO(b, true, false)
}

func BenchmarkBufferedRandomRead(b *testing.B) {
	benchmarkRandomIO(b, true, true)
}

func BenchmarkFileStreamRandomWrite(b *testing.B) {
	benchmarkRandomIO(b, false, false)
}

// benchmarkRandomIO issues small transfers at random offsets, with or
// without the buffered window.
func benchmarkRandomIO(b *testing.B, buffered bool, read bool) {
	file := openTempStream(b, "bench.bin", make([]byte, benchStreamSize))

	var s Stream = file
	if buffered {
		bs, err := NewBufferedStream(file, BufferOptions{})
		if err != nil {
			b.Fatal(err)
		}
		s = bs
	}

	rng := rand.New(rand.NewPCG(1, 2))
	chunk := make([]byte, 512)

	b.SetBytes(int64(len(chunk)))
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pos := int64(rng.IntN(benchStreamSize - len(chunk)))
		if _, err := s.Seek(pos, io.SeekStart); err != nil {
			b.Fatal(err)
		}

		var err error
		if read {
			_, err = io.ReadFull(s, chunk)
		} else {
			_, err = s.Write(chunk)
		}
		if err != nil {
			b.Fatal(err)
		}
	}
	b.StopTimer()

	if err := s.Flush(); err != nil {
		b.Fatal(err)
	}
}

func BenchmarkOpenZIP(b *testing.B) {
	path := createBenchZIP(b, benchDefaultEntries)
	opts := testArchiveOptions(b)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		z, err := OpenZIP(path, opts)
		if err != nil {
			b.Fatal(err)
		}

		if z.FileCount() != benchDefaultEntries {
			b.Fatalf("file count=%d", z.FileCount())
		}

		_ = z.Close()
	}
}

func BenchmarkScanZIP(b *testing.B) {
	path := createBenchZIP(b, benchDefaultEntries)
	z, err := OpenZIP(path, testArchiveOptions(b))
	if err != nil {
		b.Fatal(err)
	}
	defer func() { _ = z.Close() }()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		total := 0
		err := z.Scan("", "", true, nil, func(path string) error {
			total += len(path)
			return nil
		})
		if err != nil {
			b.Fatal(err)
		}

		benchScanSink = total
	}
}

func BenchmarkSaveZIPReplace(b *testing.B) {
	template := createBenchZIP(b, benchDefaultEntries)
	dir := b.TempDir()
	replacePayload := bytes.Repeat([]byte("replace"), 2048)

	opts := testArchiveOptions(b)
	opts.Save.Compress = includeRules("*.txt")

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		out := filepath.Join(dir, fmt.Sprintf("save-%d.zip", i))
		if err := copyOSFile(template, out, 0o600); err != nil {
			b.Fatal(err)
		}

		z, err := OpenZIP(out, opts)
		if err != nil {
			b.Fatal(err)
		}

		s, err := z.OpenFile("d0/f0.txt", os.O_RDWR|os.O_TRUNC)
		if err != nil {
			b.Fatal(err)
		}
		if _, err := s.Write(replacePayload); err != nil {
			b.Fatal(err)
		}
		_ = s.Close()

		if err := z.Save(b.Context()); err != nil {
			b.Fatal(err)
		}

		_ = z.Close()
	}
}

func BenchmarkExportZIPToDir(b *testing.B) {
	path := createBenchZIP(b, benchDefaultEntries)
	z, err := OpenZIP(path, testArchiveOptions(b))
	if err != nil {
		b.Fatal(err)
	}
	defer func() { _ = z.Close() }()

	d, err := OpenDir(b.TempDir(), DirOptions{Logger: quietLogger()})
	if err != nil {
		b.Fatal(err)
	}
	defer func() { _ = d.Close() }()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ExportTree(b.Context(), z, "", d, fmt.Sprintf("run%d", i), ExportOptions{}); err != nil {
			b.Fatal(err)
		}
	}
}

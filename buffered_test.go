// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/archvfs

package archvfs

import (
	"bytes"
	"errors"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// openTempStream creates a read-write file stream with initial content.
func openTempStream(t testing.TB, name string, content []byte) *FileStream {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}

	s, err := OpenFileStream(path, os.O_RDWR, 0o600)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestClassifySlice(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name      string
		pos       int64
		n         int
		hasWindow bool
		want      sliceIntersection
	}{
		{name: "no window", pos: 100, n: 10, want: sliceUnknown},
		{name: "empty request", pos: 100, n: 0, hasWindow: true, want: sliceUnknown},
		{name: "equal", pos: 100, n: 50, hasWindow: true, want: sliceEqual},
		{name: "inside", pos: 110, n: 10, hasWindow: true, want: sliceInside},
		{name: "inside at end", pos: 140, n: 10, hasWindow: true, want: sliceInside},
		{name: "border start", pos: 90, n: 20, hasWindow: true, want: sliceBorderStart},
		{name: "border end", pos: 140, n: 20, hasWindow: true, want: sliceBorderEnd},
		{name: "enclosing", pos: 90, n: 70, hasWindow: true, want: sliceEnclosing},
		{name: "floating before", pos: 10, n: 90, hasWindow: true, want: sliceFloating},
		{name: "floating after", pos: 150, n: 10, hasWindow: true, want: sliceFloating},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := classifySlice(tc.pos, tc.n, 100, 50, tc.hasWindow)
			if got != tc.want {
				t.Fatalf("classifySlice(%d, %d)=%s, want %s", tc.pos, tc.n, got, tc.want)
			}
		})
	}
}

func TestBufferedStreamMatchesDirectAccess(t *testing.T) {
	t.Parallel()

	seeds := []uint64{1, 7, 42, 2026}
	for _, seed := range seeds {
		rng := rand.New(rand.NewPCG(seed, seed*31))

		initial := make([]byte, 700)
		for i := range initial {
			initial[i] = byte(rng.IntN(256))
		}

		ref := openTempStream(t, "ref.bin", initial)
		raw := openTempStream(t, "buf.bin", initial)

		bs, err := NewBufferedStream(raw, BufferOptions{WindowSize: 64, Alignment: 16})
		require.NoError(t, err)

		for step := range 4000 {
			size, err := ref.Size()
			require.NoError(t, err)

			switch op := rng.IntN(10); {
			case op < 3:
				pos := rng.Int64N(size + 100)
				_, err := ref.Seek(pos, io.SeekStart)
				require.NoError(t, err)
				_, err = bs.Seek(pos, io.SeekStart)
				require.NoError(t, err)

			case op < 6:
				n := rng.IntN(200)
				want := make([]byte, n)
				got := make([]byte, n)
				wantN, wantErr := io.ReadFull(ref, want)
				gotN, gotErr := io.ReadFull(bs, got)
				require.Equal(t, wantN, gotN, "seed %d step %d read length", seed, step)
				require.Equal(t, want[:wantN], got[:gotN], "seed %d step %d read content", seed, step)
				require.Equal(t, wantErr == nil, gotErr == nil, "seed %d step %d read error %v vs %v", seed, step, wantErr, gotErr)

			case op < 9:
				p := make([]byte, rng.IntN(200))
				for i := range p {
					p[i] = byte(rng.IntN(256))
				}

				wantN, err := ref.Write(p)
				require.NoError(t, err)
				gotN, err := bs.Write(p)
				require.NoError(t, err)
				require.Equal(t, wantN, gotN)

			default:
				if rng.IntN(2) == 0 {
					require.NoError(t, ref.TruncateAtSeek())
					require.NoError(t, bs.TruncateAtSeek())
				} else {
					require.NoError(t, bs.Flush())
				}
			}

			wantPos, err := ref.Tell()
			require.NoError(t, err)
			gotPos, err := bs.Tell()
			require.NoError(t, err)
			require.Equal(t, wantPos, gotPos, "seed %d step %d position", seed, step)

			wantSize, err := ref.Size()
			require.NoError(t, err)
			gotSize, err := bs.Size()
			require.NoError(t, err)
			require.Equal(t, wantSize, gotSize, "seed %d step %d size", seed, step)
		}

		require.NoError(t, bs.Close())

		want, err := os.ReadFile(ref.Name())
		require.NoError(t, err)
		got, err := os.ReadFile(raw.Name())
		require.NoError(t, err)
		require.True(t, bytes.Equal(want, got), "seed %d final content differs", seed)
	}
}

func TestBufferedStreamWritePastEnd(t *testing.T) {
	t.Parallel()

	raw := openTempStream(t, "gap.bin", []byte("head"))
	bs, err := NewBufferedStream(raw, BufferOptions{WindowSize: 32, Alignment: 8})
	require.NoError(t, err)

	_, err = bs.Seek(50, io.SeekStart)
	require.NoError(t, err)
	_, err = bs.Write([]byte("tail"))
	require.NoError(t, err)

	size, err := bs.Size()
	require.NoError(t, err)
	require.EqualValues(t, 54, size)

	_, err = bs.Seek(0, io.SeekStart)
	require.NoError(t, err)
	got, err := io.ReadAll(bs)
	require.NoError(t, err)

	want := append([]byte("head"), make([]byte, 46)...)
	want = append(want, "tail"...)
	require.Equal(t, want, got)

	require.NoError(t, bs.Close())

	onDisk, err := os.ReadFile(raw.Name())
	require.NoError(t, err)
	require.Equal(t, want, onDisk)
}

func TestBufferedStreamLargeTransfers(t *testing.T) {
	t.Parallel()

	content := []byte(strings.Repeat("0123456789abcdef", 64))
	raw := openTempStream(t, "large.bin", content)
	bs, err := NewBufferedStream(raw, BufferOptions{WindowSize: 64, Alignment: 16})
	require.NoError(t, err)

	_, err = bs.Seek(10, io.SeekStart)
	require.NoError(t, err)
	head := make([]byte, 20)
	_, err = io.ReadFull(bs, head)
	require.NoError(t, err)

	// Enclosing write around the current window.
	_, err = bs.Seek(0, io.SeekStart)
	require.NoError(t, err)
	block := bytes.Repeat([]byte{'z'}, 300)
	_, err = bs.Write(block)
	require.NoError(t, err)

	_, err = bs.Seek(0, io.SeekStart)
	require.NoError(t, err)
	all, err := io.ReadAll(bs)
	require.NoError(t, err)

	want := append(append([]byte(nil), block...), content[300:]...)
	require.Equal(t, want, all)
}

func TestBufferedStreamErrors(t *testing.T) {
	t.Parallel()

	_, err := NewBufferedStream(nil, BufferOptions{})
	require.ErrorIs(t, err, ErrInvalidPath)

	path := filepath.Join(t.TempDir(), "w.bin")
	wo, err := OpenFileStream(path, os.O_WRONLY|os.O_CREATE, 0o600)
	require.NoError(t, err)
	defer func() { _ = wo.Close() }()

	_, err = NewBufferedStream(wo, BufferOptions{})
	require.ErrorIs(t, err, ErrNotReadable)

	ro, err := NewBufferedStream(NewSectionStream(strings.NewReader("abc"), 0, 3), BufferOptions{})
	require.NoError(t, err)

	_, err = ro.Write([]byte("x"))
	require.ErrorIs(t, err, ErrNotWriteable)
	require.ErrorIs(t, ro.TruncateAtSeek(), ErrNotWriteable)

	_, err = ro.Seek(-1, io.SeekStart)
	require.ErrorIs(t, err, ErrNegativeSeek)

	got, err := io.ReadAll(ro)
	require.NoError(t, err)
	require.Equal(t, "abc", string(got))

	require.NoError(t, ro.Close())
	require.ErrorIs(t, ro.Close(), ErrClosed)

	_, err = ro.Read(make([]byte, 1))
	require.ErrorIs(t, err, ErrClosed)
}

// failingReadStream is a file stream whose reads fail once failReads is set.
type failingReadStream struct {
	*FileStream
	failReads bool
}

func (s *failingReadStream) Read(p []byte) (int, error) {
	if s.failReads {
		return 0, errors.New("device read error")
	}

	return s.FileStream.Read(p)
}

func TestBufferedStreamFillErrorKeepsData(t *testing.T) {
	t.Parallel()

	const content = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	s := &failingReadStream{FileStream: openTempStream(t, "fill.bin", []byte(content))}

	b, err := NewBufferedStream(s, BufferOptions{WindowSize: 16, Alignment: 16})
	require.NoError(t, err)

	s.failReads = true
	_, err = b.Seek(20, io.SeekStart)
	require.NoError(t, err)

	_, err = b.Write([]byte("x"))
	require.Error(t, err)
	require.NoError(t, b.Flush())

	s.failReads = false
	got, err := os.ReadFile(s.Name())
	require.NoError(t, err)
	require.Equal(t, content, string(got))

	_, err = b.Seek(20, io.SeekStart)
	require.NoError(t, err)
	_, err = b.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, b.Close())

	got, err = os.ReadFile(s.Name())
	require.NoError(t, err)
	require.Equal(t, "ABCDEFGHIJKLMNOPQRSTxVWXYZ", string(got))
}

func TestBufferOptionsDefaults(t *testing.T) {
	t.Parallel()

	opts := BufferOptions{WindowSize: 100, Alignment: 16}
	opts.applyDefaults()
	if opts.WindowSize != 112 {
		t.Fatalf("WindowSize=%d, want 112", opts.WindowSize)
	}

	opts = BufferOptions{}
	opts.applyDefaults()
	if opts.WindowSize != DefaultBufferWindow || opts.Alignment != DefaultBufferAlignment {
		t.Fatalf("defaults=%+v", opts)
	}
}

// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/archvfs

package archvfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
)

// IMGVersion selects IMG container layout.
type IMGVersion int

const (
	// IMGVersion1 keeps the entry table in a sibling ".dir" file.
	IMGVersion1 IMGVersion = 1
	// IMGVersion2 keeps "VER2" header, entry table and data in one file.
	IMGVersion2 IMGVersion = 2
)

// IMG layout constants.
const (
	imgBlockSize   = 2048
	imgNameLen     = 24
	imgRecordSize  = 32
	imgHeaderSize  = 8
	imgMagicV2     = "VER2"
	imgMaxBlocksV2 = 0xffff
)

// String returns version name.
func (v IMGVersion) String() string {
	switch v {
	case IMGVersion1:
		return "v1"
	case IMGVersion2:
		return "v2"
	default:
		return "IMGVersion(" + strconv.Itoa(int(v)) + ")"
	}
}

// imgRecord is one entry table record.
type imgRecord struct {
	name string
	// offset and blocks are in 2048-byte blocks.
	offset uint32
	blocks uint32
}

// imgBlocks returns number of blocks covering size bytes.
func imgBlocks(size int64) int64 {
	return (size + imgBlockSize - 1) / imgBlockSize
}

// isIMGv2 reports whether header starts with v2 magic.
func isIMGv2(header []byte) bool {
	return len(header) >= 4 && string(header[:4]) == imgMagicV2
}

// readIMGv2Table parses v2 header and entry table.
func readIMGv2Table(r io.ReaderAt, size int64) ([]imgRecord, error) {
	var header [imgHeaderSize]byte
	if _, err := r.ReadAt(header[:], 0); err != nil {
		return nil, fmt.Errorf("%w: read header: %w", ErrTruncated, err)
	}
	if !isIMGv2(header[:]) {
		return nil, fmt.Errorf("%w: missing %s magic", ErrInvalidFormat, imgMagicV2)
	}

	count := int64(binary.LittleEndian.Uint32(header[4:]))
	tableSize := count * imgRecordSize
	if imgHeaderSize+tableSize > size {
		return nil, fmt.Errorf("%w: %d records exceed container size %d", ErrTruncated, count, size)
	}

	table := make([]byte, tableSize)
	if _, err := r.ReadAt(table, imgHeaderSize); err != nil && err != io.EOF {
		return nil, fmt.Errorf("read entry table: %w", err)
	}

	records := make([]imgRecord, 0, count)
	for i := range count {
		b := table[i*imgRecordSize : (i+1)*imgRecordSize]

		blocks := uint32(binary.LittleEndian.Uint16(b[4:]))
		if blocks == 0 {
			blocks = uint32(binary.LittleEndian.Uint16(b[6:]))
		}

		rec := imgRecord{
			offset: binary.LittleEndian.Uint32(b[0:]),
			blocks: blocks,
			name:   decodeIMGName(b[8:]),
		}
		records = append(records, rec)
	}

	return records, nil
}

// readIMGv1Table parses a v1 ".dir" entry table.
func readIMGv1Table(r io.Reader) ([]imgRecord, error) {
	table, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read dir file: %w", err)
	}
	if len(table)%imgRecordSize != 0 {
		return nil, fmt.Errorf("%w: dir file size %d is not a multiple of %d", ErrTruncated, len(table), imgRecordSize)
	}

	records := make([]imgRecord, 0, len(table)/imgRecordSize)
	for off := 0; off < len(table); off += imgRecordSize {
		b := table[off : off+imgRecordSize]
		records = append(records, imgRecord{
			offset: binary.LittleEndian.Uint32(b[0:]),
			blocks: binary.LittleEndian.Uint32(b[4:]),
			name:   decodeIMGName(b[8:]),
		})
	}

	return records, nil
}

// encode returns 32-byte table record for version v.
func (rec imgRecord) encode(v IMGVersion) []byte {
	b := make([]byte, imgRecordSize)
	binary.LittleEndian.PutUint32(b[0:], rec.offset)
	if v == IMGVersion1 {
		binary.LittleEndian.PutUint32(b[4:], rec.blocks)
	} else {
		binary.LittleEndian.PutUint16(b[4:], uint16(rec.blocks))
	}
	copy(b[8:], rec.name)

	return b
}

// encodeIMGv2Header returns v2 header for count records.
func encodeIMGv2Header(count int) []byte {
	b := make([]byte, imgHeaderSize)
	copy(b, imgMagicV2)
	binary.LittleEndian.PutUint32(b[4:], uint32(count))

	return b
}

// decodeIMGName returns NUL-padded name; 24 bytes without terminator are allowed.
func decodeIMGName(b []byte) string {
	b = b[:imgNameLen]
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}

	return string(b)
}

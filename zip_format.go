// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/archvfs

package archvfs

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

// ZIP record signatures and fixed sizes.
const (
	zipLocalSig       uint32 = 0x04034b50
	zipCentralSig     uint32 = 0x02014b50
	zipEOCDSig        uint32 = 0x06054b50
	zipDescriptorSig  uint32 = 0x08074b50
	zipLocalSize             = 30
	zipCentralSize           = 46
	zipEOCDSize              = 22
	zipDescriptorSize        = 16
	zipMaxCommentLen         = 0xffff
)

// ZIP general purpose flag bits.
const (
	zipFlagEncrypted  uint16 = 1 << 0
	zipFlagDescriptor uint16 = 1 << 3
	zipFlagUTF8       uint16 = 1 << 11
)

const (
	// zipVersionNeeded is "version needed to extract" written for new entries (2.0).
	zipVersionNeeded uint16 = 20
	// zipVersionMadeBy is "version made by" for new entries (Unix, 2.0).
	zipVersionMadeBy uint16 = 3<<8 | 20
	// zipDirAttr is MS-DOS directory attribute in external attributes.
	zipDirAttr uint32 = 0x10
	// zip32Max marks a field redirected to ZIP64 extra data.
	zip32Max uint32 = 0xffffffff
	// zip16Max marks an entry count redirected to ZIP64 records.
	zip16Max uint16 = 0xffff
)

// zipRecord holds central directory fields of one entry.
type zipRecord struct {
	name         string
	extra        []byte
	comment      []byte
	crc          uint32
	compSize     uint32
	size         uint32
	headerOffset uint32
	externalAttr uint32
	versionMade  uint16
	versionNeed  uint16
	flags        uint16
	method       uint16
	modTime      uint16
	modDate      uint16
	internalAttr uint16
}

// zipDirectory is parsed central directory with archive placement.
type zipDirectory struct {
	records []zipRecord
	comment []byte
	// base is absolute offset of archive start (non-zero with prepended data).
	base int64
	// dataEnd is central directory offset relative to base; entry data ends there.
	dataEnd int64
}

// findZIPEOCD scans container tail backward for end-of-central-directory record.
// It returns absolute EOCD offset and the record bytes including comment.
func findZIPEOCD(r io.ReaderAt, size int64) (int64, []byte, error) {
	if size < zipEOCDSize {
		return 0, nil, fmt.Errorf("%w: %d bytes is shorter than end record", ErrInvalidFormat, size)
	}

	tailLen := min(size, int64(zipEOCDSize+zipMaxCommentLen))
	tail := make([]byte, tailLen)
	if _, err := r.ReadAt(tail, size-tailLen); err != nil && err != io.EOF {
		return 0, nil, fmt.Errorf("read end record: %w", err)
	}

	// A signature inside the archive comment or payload can shadow the real record.
	for i := len(tail) - zipEOCDSize; i >= 0; i-- {
		if binary.LittleEndian.Uint32(tail[i:]) != zipEOCDSig {
			continue
		}

		commentLen := int(binary.LittleEndian.Uint16(tail[i+20:]))
		if i+zipEOCDSize+commentLen > len(tail) {
			continue
		}

		return size - tailLen + int64(i), tail[i : i+zipEOCDSize+commentLen], nil
	}

	return 0, nil, fmt.Errorf("%w: end of central directory not found", ErrInvalidFormat)
}

// readZIPDirectory parses end record and central directory of a ZIP container.
func readZIPDirectory(r io.ReaderAt, size int64) (*zipDirectory, error) {
	eocdPos, eocd, err := findZIPEOCD(r, size)
	if err != nil {
		return nil, err
	}

	diskNum := binary.LittleEndian.Uint16(eocd[4:])
	cdDisk := binary.LittleEndian.Uint16(eocd[6:])
	diskEntries := binary.LittleEndian.Uint16(eocd[8:])
	totalEntries := binary.LittleEndian.Uint16(eocd[10:])
	cdSize := binary.LittleEndian.Uint32(eocd[12:])
	cdOffset := binary.LittleEndian.Uint32(eocd[16:])

	if diskNum != 0 || cdDisk != 0 || diskEntries != totalEntries {
		return nil, fmt.Errorf("%w: multi-disk archive", ErrUnsupported)
	}
	if totalEntries == zip16Max || cdSize == zip32Max || cdOffset == zip32Max {
		return nil, fmt.Errorf("%w: ZIP64 archive", ErrUnsupported)
	}

	cdStart := eocdPos - int64(cdSize)
	base := cdStart - int64(cdOffset)
	if cdStart < 0 || base < 0 {
		return nil, fmt.Errorf("%w: central directory offset %d size %d", ErrTruncated, cdOffset, cdSize)
	}

	cd := make([]byte, cdSize)
	if _, err := r.ReadAt(cd, cdStart); err != nil && err != io.EOF {
		return nil, fmt.Errorf("read central directory: %w", err)
	}

	dir := &zipDirectory{
		records: make([]zipRecord, 0, totalEntries),
		comment: append([]byte(nil), eocd[zipEOCDSize:]...),
		base:    base,
		dataEnd: int64(cdOffset),
	}

	for pos := 0; len(dir.records) < int(totalEntries); {
		rec, n, err := parseZIPCentralRecord(cd[pos:])
		if err != nil {
			return nil, fmt.Errorf("central record %d: %w", len(dir.records), err)
		}

		if int64(rec.headerOffset)+zipLocalSize+int64(rec.compSize) > dir.dataEnd {
			return nil, fmt.Errorf("%w: entry %q at %d declares %d bytes", ErrTruncated, rec.name, rec.headerOffset, rec.compSize)
		}

		dir.records = append(dir.records, rec)
		pos += n
	}

	return dir, nil
}

// parseZIPCentralRecord decodes one central directory record and returns its length.
func parseZIPCentralRecord(b []byte) (zipRecord, int, error) {
	if len(b) < zipCentralSize {
		return zipRecord{}, 0, ErrTruncated
	}
	if binary.LittleEndian.Uint32(b) != zipCentralSig {
		return zipRecord{}, 0, fmt.Errorf("%w: bad central record signature", ErrInvalidFormat)
	}

	nameLen := int(binary.LittleEndian.Uint16(b[28:]))
	extraLen := int(binary.LittleEndian.Uint16(b[30:]))
	commentLen := int(binary.LittleEndian.Uint16(b[32:]))
	total := zipCentralSize + nameLen + extraLen + commentLen
	if len(b) < total {
		return zipRecord{}, 0, ErrTruncated
	}

	rec := zipRecord{
		versionMade:  binary.LittleEndian.Uint16(b[4:]),
		versionNeed:  binary.LittleEndian.Uint16(b[6:]),
		flags:        binary.LittleEndian.Uint16(b[8:]),
		method:       binary.LittleEndian.Uint16(b[10:]),
		modTime:      binary.LittleEndian.Uint16(b[12:]),
		modDate:      binary.LittleEndian.Uint16(b[14:]),
		crc:          binary.LittleEndian.Uint32(b[16:]),
		compSize:     binary.LittleEndian.Uint32(b[20:]),
		size:         binary.LittleEndian.Uint32(b[24:]),
		internalAttr: binary.LittleEndian.Uint16(b[36:]),
		externalAttr: binary.LittleEndian.Uint32(b[38:]),
		headerOffset: binary.LittleEndian.Uint32(b[42:]),
	}

	off := zipCentralSize
	rec.name = string(b[off : off+nameLen])
	off += nameLen
	rec.extra = append([]byte(nil), b[off:off+extraLen]...)
	off += extraLen
	rec.comment = append([]byte(nil), b[off:off+commentLen]...)

	if rec.compSize == zip32Max || rec.size == zip32Max || rec.headerOffset == zip32Max {
		return zipRecord{}, 0, fmt.Errorf("%w: ZIP64 entry %q", ErrUnsupported, rec.name)
	}

	return rec, total, nil
}

// readZIPLocalDataOffset reads local header at absolute offset and returns
// absolute offset of entry data.
func readZIPLocalDataOffset(r io.ReaderAt, headerPos int64) (int64, error) {
	var hdr [zipLocalSize]byte
	if _, err := r.ReadAt(hdr[:], headerPos); err != nil {
		return 0, fmt.Errorf("%w: local header at %d: %w", ErrTruncated, headerPos, err)
	}

	if binary.LittleEndian.Uint32(hdr[:]) != zipLocalSig {
		return 0, fmt.Errorf("%w: bad local header signature at %d", ErrInvalidFormat, headerPos)
	}

	nameLen := int64(binary.LittleEndian.Uint16(hdr[26:]))
	extraLen := int64(binary.LittleEndian.Uint16(hdr[28:]))

	return headerPos + zipLocalSize + nameLen + extraLen, nil
}

// encodeLocal returns local file header for rec with empty extra field.
// Data descriptor entries carry zero CRC and sizes in the local header.
func (rec *zipRecord) encodeLocal() []byte {
	b := make([]byte, zipLocalSize+len(rec.name))
	binary.LittleEndian.PutUint32(b[0:], zipLocalSig)
	binary.LittleEndian.PutUint16(b[4:], rec.versionNeed)
	binary.LittleEndian.PutUint16(b[6:], rec.flags)
	binary.LittleEndian.PutUint16(b[8:], rec.method)
	binary.LittleEndian.PutUint16(b[10:], rec.modTime)
	binary.LittleEndian.PutUint16(b[12:], rec.modDate)
	if rec.flags&zipFlagDescriptor == 0 {
		binary.LittleEndian.PutUint32(b[14:], rec.crc)
		binary.LittleEndian.PutUint32(b[18:], rec.compSize)
		binary.LittleEndian.PutUint32(b[22:], rec.size)
	}
	binary.LittleEndian.PutUint16(b[26:], uint16(len(rec.name)))
	binary.LittleEndian.PutUint16(b[28:], 0)
	copy(b[zipLocalSize:], rec.name)

	return b
}

// encodeDescriptor returns data descriptor with signature.
func (rec *zipRecord) encodeDescriptor() []byte {
	b := make([]byte, zipDescriptorSize)
	binary.LittleEndian.PutUint32(b[0:], zipDescriptorSig)
	binary.LittleEndian.PutUint32(b[4:], rec.crc)
	binary.LittleEndian.PutUint32(b[8:], rec.compSize)
	binary.LittleEndian.PutUint32(b[12:], rec.size)

	return b
}

// encodeCentral returns central directory record for rec.
func (rec *zipRecord) encodeCentral() []byte {
	b := make([]byte, zipCentralSize+len(rec.name)+len(rec.extra)+len(rec.comment))
	binary.LittleEndian.PutUint32(b[0:], zipCentralSig)
	binary.LittleEndian.PutUint16(b[4:], rec.versionMade)
	binary.LittleEndian.PutUint16(b[6:], rec.versionNeed)
	binary.LittleEndian.PutUint16(b[8:], rec.flags)
	binary.LittleEndian.PutUint16(b[10:], rec.method)
	binary.LittleEndian.PutUint16(b[12:], rec.modTime)
	binary.LittleEndian.PutUint16(b[14:], rec.modDate)
	binary.LittleEndian.PutUint32(b[16:], rec.crc)
	binary.LittleEndian.PutUint32(b[20:], rec.compSize)
	binary.LittleEndian.PutUint32(b[24:], rec.size)
	binary.LittleEndian.PutUint16(b[28:], uint16(len(rec.name)))
	binary.LittleEndian.PutUint16(b[30:], uint16(len(rec.extra)))
	binary.LittleEndian.PutUint16(b[32:], uint16(len(rec.comment)))
	binary.LittleEndian.PutUint16(b[34:], 0)
	binary.LittleEndian.PutUint16(b[36:], rec.internalAttr)
	binary.LittleEndian.PutUint32(b[38:], rec.externalAttr)
	binary.LittleEndian.PutUint32(b[42:], rec.headerOffset)

	off := zipCentralSize
	off += copy(b[off:], rec.name)
	off += copy(b[off:], rec.extra)
	copy(b[off:], rec.comment)

	return b
}

// encodeZIPEOCD returns end-of-central-directory record.
func encodeZIPEOCD(entries int, cdSize uint32, cdOffset uint32, comment []byte) []byte {
	b := make([]byte, zipEOCDSize+len(comment))
	binary.LittleEndian.PutUint32(b[0:], zipEOCDSig)
	binary.LittleEndian.PutUint16(b[8:], uint16(entries))
	binary.LittleEndian.PutUint16(b[10:], uint16(entries))
	binary.LittleEndian.PutUint32(b[12:], cdSize)
	binary.LittleEndian.PutUint32(b[16:], cdOffset)
	binary.LittleEndian.PutUint16(b[20:], uint16(len(comment)))
	copy(b[zipEOCDSize:], comment)

	return b
}

// dosDateTime converts t to MS-DOS date and time fields in UTC (2s precision).
func dosDateTime(t time.Time) (uint16, uint16) {
	t = t.UTC()
	if t.Year() < 1980 {
		t = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)
	}

	date := uint16(t.Day() + int(t.Month())<<5 + (t.Year()-1980)<<9)
	clock := uint16(t.Second()/2 + t.Minute()<<5 + t.Hour()<<11)

	return date, clock
}

// dosTime converts MS-DOS date and time fields to time in UTC.
func dosTime(date uint16, clock uint16) time.Time {
	if date == 0 && clock == 0 {
		return time.Time{}
	}

	return time.Date(
		int(date>>9)+1980,
		time.Month(date>>5&0xf),
		int(date&0x1f),
		int(clock>>11),
		int(clock>>5&0x3f),
		int(clock&0x1f)*2,
		0,
		time.UTC,
	)
}

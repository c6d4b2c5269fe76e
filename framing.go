package bseq

import (
	"fmt"

	"github.com/rseqtools/bseq/internal/cursor"
)

// Signature is the fixed 4-byte ASCII tag at the start of every BSEQ file
// (spec §4.2).
const Signature = "RSEQ"

// DefaultBOM is the byte order mark every BSEQ file carries; the format is
// defined big-endian only (spec §1 Non-goals, §9 "Global state").
const DefaultBOM = 0xFEFF

// Version is the (major, minor) pair encoded as a single big-endian 16-bit
// word, major in the high byte (spec §3).
type Version struct {
	Major uint8
	Minor uint8
}

// Word encodes v as the 16-bit word stored in the file header.
func (v Version) Word() uint16 {
	return uint16(v.Major)<<8 | uint16(v.Minor)
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// versionFromWord decodes a 16-bit version word.
func versionFromWord(w uint16) Version {
	return Version{Major: uint8(w >> 8), Minor: uint8(w)}
}

// SupportedVersions is the closed set of versions this codec accepts (spec
// §6).
var SupportedVersions = []Version{
	{1, 0}, {1, 1}, {1, 2}, {1, 3}, {1, 4},
}

// DefaultVersion is written by the encoder when the caller does not specify
// one; (1,4) per spec §6.
var DefaultVersion = Version{1, 4}

func isSupportedVersion(v Version) bool {
	for _, s := range SupportedVersions {
		if s == v {
			return true
		}
	}
	return false
}

// fileHeader is the parsed fixed-size file header of spec §4.2 (32 bytes per
// the field table; see writeFileHeader for the "20 bytes" prose discrepancy).
type fileHeader struct {
	Version      Version
	TotalSize    uint32
	HeaderSize   uint16
	SectionCount uint16
	DataOffset   uint32
	DataSize     uint32
	LabelOffset  uint32
	LabelSize    uint32
}

const fileHeaderSize = 0x20

func parseFileHeader(c *cursor.Reader) (*fileHeader, error) {
	if c.Len() < fileHeaderSize {
		return nil, &TruncatedHeaderError{At: 0}
	}
	c.Seek(0)

	sig, err := c.ReadTag(4)
	if err != nil {
		return nil, &TruncatedHeaderError{At: c.Position()}
	}
	if string(sig) != Signature {
		return nil, &BadSignatureError{Expected: Signature, Read: string(sig), At: 0}
	}

	bom, err := c.ReadU16()
	if err != nil {
		return nil, &TruncatedHeaderError{At: c.Position()}
	}
	if bom != DefaultBOM {
		return nil, &UnsupportedBOMError{Read: bom}
	}

	versionWord, err := c.ReadU16()
	if err != nil {
		return nil, &TruncatedHeaderError{At: c.Position()}
	}
	version := versionFromWord(versionWord)
	if !isSupportedVersion(version) {
		return nil, &UnknownVersionError{Read: versionWord}
	}

	h := &fileHeader{Version: version}
	if h.TotalSize, err = c.ReadU32(); err != nil {
		return nil, &TruncatedHeaderError{At: c.Position()}
	}
	headerSize, err := c.ReadU16()
	if err != nil {
		return nil, &TruncatedHeaderError{At: c.Position()}
	}
	if headerSize < 16 {
		return nil, fmt.Errorf("bseq: invalid header size %d; expected >= 16", headerSize)
	}
	h.HeaderSize = headerSize

	sectionCount, err := c.ReadU16()
	if err != nil {
		return nil, &TruncatedHeaderError{At: c.Position()}
	}
	if sectionCount < 1 {
		return nil, fmt.Errorf("bseq: invalid section count %d; expected >= 1", sectionCount)
	}
	h.SectionCount = sectionCount

	if h.DataOffset, err = c.ReadU32(); err != nil {
		return nil, &TruncatedHeaderError{At: c.Position()}
	}
	if h.DataSize, err = c.ReadU32(); err != nil {
		return nil, &TruncatedHeaderError{At: c.Position()}
	}
	if h.LabelOffset, err = c.ReadU32(); err != nil {
		return nil, &TruncatedHeaderError{At: c.Position()}
	}
	if h.LabelSize, err = c.ReadU32(); err != nil {
		return nil, &TruncatedHeaderError{At: c.Position()}
	}
	return h, nil
}

// parseDataSectionHeader returns the absolute offset of the DATA payload (DATA-section
// start + 0x0C, past its 12-byte header), after validating the "DATA" tag.
func parseDataSectionHeader(c *cursor.Reader, dataOffset int) (base int, err error) {
	c.Seek(dataOffset)
	tag, err := c.ReadTag(4)
	if err != nil {
		return 0, &TruncatedSectionError{Section: "DATA", At: dataOffset}
	}
	if string(tag) != "DATA" {
		return 0, fmt.Errorf("bseq: invalid section tag at offset 0x%X; expected \"DATA\", got %q", dataOffset, tag)
	}
	if _, err := c.ReadU32(); err != nil { // size
		return 0, &TruncatedSectionError{Section: "DATA", At: c.Position()}
	}
	if _, err := c.ReadU32(); err != nil { // reserved base offset field
		return 0, &TruncatedSectionError{Section: "DATA", At: c.Position()}
	}
	return dataOffset + 0x0C, nil
}

// writeFileHeader serializes h into the fixed 32-byte big-endian header
// (spec §4.2's field table runs through offset 0x1C+4 = 0x20, though its
// prose calls the header "20 bytes" -- this module follows the table, which
// is the only place the full field list, including DATA/LABL offsets and
// sizes, appears).
func writeFileHeader(h *fileHeader) []byte {
	buf := make([]byte, fileHeaderSize)
	copy(buf[0:4], Signature)
	be16(buf[4:6], DefaultBOM)
	be16(buf[6:8], h.Version.Word())
	be32(buf[8:12], h.TotalSize)
	be16(buf[12:14], h.HeaderSize)
	be16(buf[14:16], h.SectionCount)
	be32(buf[16:20], h.DataOffset)
	be32(buf[20:24], h.DataSize)
	be32(buf[24:28], h.LabelOffset)
	be32(buf[28:32], h.LabelSize)
	return buf
}

func be16(b []byte, v uint16) {
	b[0] = byte(v >> 8)
	b[1] = byte(v)
}

func be32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

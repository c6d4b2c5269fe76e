package bseq

import (
	"fmt"

	"github.com/rseqtools/bseq/decode"
	"github.com/rseqtools/bseq/encode"
	"github.com/rseqtools/bseq/text"
)

// Error kinds surfaced by the decode path (framing, label table, opcode
// decode). Constructed with plain fmt.Errorf-style messages, matching the
// register of the teacher's own cursor-based decode path (flac.go,
// meta/meta.go) rather than the errutil-wrapped encode path below.

// BadSignatureError is returned when the file signature does not match
// "RSEQ".
type BadSignatureError struct {
	Expected string
	Read     string
	At       int
}

func (e *BadSignatureError) Error() string {
	return fmt.Sprintf("bseq: invalid signature at offset 0x%X; expected %q, got %q", e.At, e.Expected, e.Read)
}

// UnsupportedBOMError is returned when the byte order mark is not 0xFEFF.
type UnsupportedBOMError struct {
	Read uint16
}

func (e *UnsupportedBOMError) Error() string {
	return fmt.Sprintf("bseq: unsupported byte order mark 0x%04X; expected 0x%04X", e.Read, DefaultBOM)
}

// UnknownVersionError is returned when the version word does not fall in the
// supported range.
type UnknownVersionError struct {
	Read uint16
}

func (e *UnknownVersionError) Error() string {
	return fmt.Sprintf("bseq: unknown or unsupported version 0x%04X", e.Read)
}

// TruncatedHeaderError is returned when the file is too short to contain a
// complete file header.
type TruncatedHeaderError struct {
	At int
}

func (e *TruncatedHeaderError) Error() string {
	return fmt.Sprintf("bseq: truncated file header at offset 0x%X", e.At)
}

// TruncatedSectionError is returned when a DATA or LABL section header or
// body runs past the end of the file.
type TruncatedSectionError struct {
	Section string
	At      int
}

func (e *TruncatedSectionError) Error() string {
	return fmt.Sprintf("bseq: truncated %s section at offset 0x%X", e.Section, e.At)
}

// TruncatedInstructionError is returned when an instruction's operands run
// past the end of the DATA region. Defined in package decode, which is the
// layer that actually detects it; aliased here so callers can type-switch
// against the bseq package alone.
type TruncatedInstructionError = decode.TruncatedInstructionError

// UnknownOpcodeError is returned when a byte does not match any row of the
// opcode grammar. See TruncatedInstructionError for why this is an alias.
type UnknownOpcodeError = decode.UnknownOpcodeError

// VarlenTooLongError is returned when a varlen field spans more than 4 bytes.
type VarlenTooLongError = decode.VarlenTooLongError

// Error kinds surfaced by the encode path. Wrapped with
// github.com/mewkiz/pkg/errutil at the call site, matching enc.go/encode.go.
// Defined in package encode, which is where they are detected; aliased here
// for the same reason as the decode-path errors above.

// U24OverflowError is returned when a resolved jump/call/opentrack delta
// does not fit in an unsigned 24-bit field.
type U24OverflowError = encode.U24OverflowError

// UndefinedLabelError is returned when an instruction references a label
// with no corresponding definition in the listing.
type UndefinedLabelError = encode.UndefinedLabelError

// Error kinds surfaced while parsing a TSEQ listing (package text).

// DuplicateLabelError is returned when two label declarations share a name.
type DuplicateLabelError = text.DuplicateLabelError

// TextParseError reports a syntax error in a TSEQ listing.
type TextParseError = text.TextParseError

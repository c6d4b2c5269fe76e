// Package encode implements the Encoder of spec §4.6: a two-pass assembler
// from named instruction tracks to DATA section bytes plus the resolved
// label list, the inverse of package decode.
//
// Pass 1 sizes every instruction and assigns each track a data offset by
// summing instruction lengths in the given track order; no address needs
// resolving yet, since a FieldU24Addr operand always occupies exactly three
// bytes regardless of its target. Pass 2 walks the same order again,
// emitting bytes and resolving each U24 field against the now-complete
// offset table -- no literal seek-and-backpatch step is needed.
//
// Errors are wrapped with github.com/mewkiz/pkg/errutil, matching the
// register of the teacher's bitio-based encode path (encode.go,
// encode_subframe.go) rather than the plain fmt.Errorf style of package
// decode.
package encode

import (
	"bytes"
	"fmt"

	"github.com/icza/bitio"
	"github.com/mewkiz/pkg/errutil"

	"github.com/rseqtools/bseq/instr"
	"github.com/rseqtools/bseq/label"
	"github.com/rseqtools/bseq/opgrammar"
)

// U24OverflowError is returned when a resolved branch delta does not fit in
// an unsigned 24-bit field.
type U24OverflowError struct {
	Delta int
}

func (e *U24OverflowError) Error() string {
	return fmt.Sprintf("encode: branch delta %d does not fit in 24 bits", e.Delta)
}

// UndefinedLabelError is returned when an instruction references a label
// with no corresponding entry in the track order passed to Encode.
type UndefinedLabelError struct {
	Name string
}

func (e *UndefinedLabelError) Error() string {
	return fmt.Sprintf("encode: undefined label %q", e.Name)
}

// VarlenTooLongError is returned when a value needs more than 4 varlen bytes
// to encode (that is, it does not fit in 28 bits).
type VarlenTooLongError struct {
	Value uint32
}

func (e *VarlenTooLongError) Error() string {
	return fmt.Sprintf("encode: value %d does not fit in a 4-byte varlen field", e.Value)
}

// Result is the output of Encode: the packed DATA payload and the labels in
// the order they were laid out, each carrying its resolved data offset --
// ready for label.Encode to pack into a LABL section.
type Result struct {
	Data   []byte
	Labels []label.Label
}

// Encode lays out tracks in the given order and assembles the DATA section
// bytes (spec §4.6). order must list every key of tracks exactly once;
// Encode does not sort or deduplicate it, so the caller controls on-disk
// track order and label aliasing explicitly.
func Encode(tracks map[string][]*instr.Instruction, order []string) (*Result, error) {
	e := &encoder{tracks: tracks, offsets: make(map[string]int, len(order))}
	if err := e.layout(order); err != nil {
		return nil, errutil.Err(err)
	}
	data, err := e.emit(order)
	if err != nil {
		return nil, errutil.Err(err)
	}
	labels := make([]label.Label, len(order))
	for i, name := range order {
		labels[i] = label.Label{Name: name, DataOffset: e.offsets[name]}
	}
	return &Result{Data: data, Labels: labels}, nil
}

type encoder struct {
	tracks  map[string][]*instr.Instruction
	offsets map[string]int
}

// layout is Pass 1: it assigns each track's data offset without resolving
// any label reference.
func (e *encoder) layout(order []string) error {
	pos := 0
	for _, name := range order {
		e.offsets[name] = pos
		chunk, ok := e.tracks[name]
		if !ok {
			return errutil.Newf("encode: no instructions recorded for label %q", name)
		}
		for _, in := range chunk {
			n, err := instrSize(in)
			if err != nil {
				return err
			}
			pos += n
		}
	}
	return nil
}

// emit is Pass 2: it re-walks the same order, writing bytes and resolving
// each FieldU24Addr operand against the offsets layout recorded.
func (e *encoder) emit(order []string) ([]byte, error) {
	var buf bytes.Buffer
	bw := bitio.NewWriter(&buf)
	for _, name := range order {
		trackBase := e.offsets[name]
		for _, in := range e.tracks[name] {
			if err := e.writeInstruction(bw, in, trackBase); err != nil {
				return nil, err
			}
		}
	}
	if _, err := bw.Align(); err != nil {
		return nil, errutil.Err(err)
	}
	return buf.Bytes(), nil
}

func writeU8(bw *bitio.Writer, v uint8) error {
	return bw.WriteBits(uint64(v), 8)
}

func writeS16(bw *bitio.Writer, v int16) error {
	return bw.WriteBits(uint64(uint16(v)), 16)
}

func writeU24(bw *bitio.Writer, v uint32) error {
	return bw.WriteBits(uint64(v&0xFFFFFF), 24)
}

func writeVarlen(bw *bitio.Writer, v uint32) error {
	groups, err := varlenGroups(v)
	if err != nil {
		return err
	}
	for i, g := range groups {
		b := g
		if i != len(groups)-1 {
			b |= 0x80
		}
		if err := writeU8(bw, b); err != nil {
			return err
		}
	}
	return nil
}

// varlenGroups splits v into 7-bit big-endian groups, most significant
// first, the minimal count needed (1-4 groups). v must fit in 28 bits.
func varlenGroups(v uint32) ([]byte, error) {
	if v >= 1<<28 {
		return nil, &VarlenTooLongError{Value: v}
	}
	var rev []byte
	rev = append(rev, byte(v&0x7F))
	v >>= 7
	for v > 0 {
		rev = append(rev, byte(v&0x7F))
		v >>= 7
	}
	groups := make([]byte, len(rev))
	for i, b := range rev {
		groups[len(rev)-1-i] = b
	}
	return groups, nil
}

func varlenSize(v uint32) (int, error) {
	groups, err := varlenGroups(v)
	if err != nil {
		return 0, err
	}
	return len(groups), nil
}

// instrSize returns the on-disk byte length of in, independent of any label
// resolution (spec §4.6 Pass 1).
func instrSize(in *instr.Instruction) (int, error) {
	if in.Kind == instr.KindNote {
		gateSize, err := varlenSize(in.Gate)
		if err != nil {
			return 0, err
		}
		return 2 + gateSize, nil // opcode + velocity + gate
	}

	row, ok := lookupRow(in)
	if !ok {
		return 0, errutil.Newf("encode: unknown mnemonic %q", in.Mnemonic)
	}
	size := 1
	if in.Kind == instr.KindMmlEx {
		size++ // ex_command selector byte
	}
	operands := in.Operands
	for i, f := range row.Fields {
		n, err := fieldSize(f, operands, i)
		if err != nil {
			return 0, err
		}
		size += n
	}
	if opgrammar.IsPrefix(row.Byte) {
		nested := operands[len(operands)-1].Nested
		if nested == nil {
			return 0, errutil.Newf("encode: prefix opcode %q has no nested instruction", in.Mnemonic)
		}
		n, err := instrSize(nested)
		if err != nil {
			return 0, err
		}
		size += n
	}
	return size, nil
}

// fieldSize returns the byte width contributed by field kind f. FieldRandom
// covers two operand slots (lo, hi) in one 4-byte field.
func fieldSize(f opgrammar.FieldKind, operands []instr.Operand, i int) (int, error) {
	switch f {
	case opgrammar.FieldU8, opgrammar.FieldVariable:
		return 1, nil
	case opgrammar.FieldS16:
		return 2, nil
	case opgrammar.FieldU24Addr:
		return 3, nil
	case opgrammar.FieldRandom:
		return 4, nil
	case opgrammar.FieldVarlen, opgrammar.FieldVMidi:
		if i >= len(operands) {
			return 0, errutil.Newf("encode: missing varlen operand at index %d", i)
		}
		return varlenSize(operands[i].Varlen)
	default:
		return 0, errutil.Newf("encode: unsupported field kind %v", f)
	}
}

func lookupRow(in *instr.Instruction) (opgrammar.Row, bool) {
	if in.Kind == instr.KindMmlEx {
		return opgrammar.LookupExMnemonic(in.Mnemonic)
	}
	return opgrammar.LookupMnemonic(in.Mnemonic)
}

func (e *encoder) writeInstruction(bw *bitio.Writer, in *instr.Instruction, trackBase int) error {
	if in.Kind == instr.KindNote {
		return e.writeNote(bw, in)
	}

	row, ok := lookupRow(in)
	if !ok {
		return errutil.Newf("encode: unknown mnemonic %q", in.Mnemonic)
	}
	if in.Kind == instr.KindMmlEx {
		if err := writeU8(bw, opgrammar.OpExCommand); err != nil {
			return errutil.Err(err)
		}
	}
	if err := writeU8(bw, row.Byte); err != nil {
		return errutil.Err(err)
	}

	operands := in.Operands
	for i, f := range row.Fields {
		if err := e.writeField(bw, f, operands, i, trackBase); err != nil {
			return err
		}
		if f == opgrammar.FieldRandom {
			break
		}
	}
	if opgrammar.IsPrefix(row.Byte) {
		nested := operands[len(operands)-1].Nested
		if nested == nil {
			return errutil.Newf("encode: prefix opcode %q has no nested instruction", in.Mnemonic)
		}
		return e.writeInstruction(bw, nested, trackBase)
	}
	return nil
}

func (e *encoder) writeNote(bw *bitio.Writer, in *instr.Instruction) error {
	op, ok := opgrammar.NoteOpcode(in.Mnemonic)
	if !ok {
		return errutil.Newf("encode: unknown note mnemonic %q", in.Mnemonic)
	}
	if err := writeU8(bw, op); err != nil {
		return errutil.Err(err)
	}
	if err := writeU8(bw, in.Velocity); err != nil {
		return errutil.Err(err)
	}
	if err := writeVarlen(bw, in.Gate); err != nil {
		return errutil.Err(err)
	}
	return nil
}

func (e *encoder) writeField(bw *bitio.Writer, f opgrammar.FieldKind, operands []instr.Operand, i, trackBase int) error {
	switch f {
	case opgrammar.FieldU8, opgrammar.FieldVariable:
		if err := writeU8(bw, operands[i].U8); err != nil {
			return errutil.Err(err)
		}
	case opgrammar.FieldS16:
		if err := writeS16(bw, operands[i].S16); err != nil {
			return errutil.Err(err)
		}
	case opgrammar.FieldRandom:
		if err := writeS16(bw, operands[i].S16); err != nil {
			return errutil.Err(err)
		}
		if err := writeS16(bw, operands[i+1].S16); err != nil {
			return errutil.Err(err)
		}
	case opgrammar.FieldVarlen, opgrammar.FieldVMidi:
		if err := writeVarlen(bw, operands[i].Varlen); err != nil {
			return errutil.Err(err)
		}
	case opgrammar.FieldU24Addr:
		abs, ok := e.offsets[operands[i].Label]
		if !ok {
			return &UndefinedLabelError{Name: operands[i].Label}
		}
		// FieldU24Addr has no signed variant (spec §3's OperandType closed
		// set): ReadU24/resolveAddr on the decode side always treat the
		// field as an unsigned magnitude added to trackBase, so a target
		// laid out before trackBase cannot be represented at all.
		delta := abs - trackBase
		if delta < 0 || delta >= 1<<24 {
			return &U24OverflowError{Delta: delta}
		}
		if err := writeU24(bw, uint32(delta)); err != nil {
			return errutil.Err(err)
		}
	default:
		return errutil.Newf("encode: unsupported field kind %v", f)
	}
	return nil
}

// Package decode implements the Decoder of spec §4.5: walking the DATA
// section chunk by chunk, one chunk per label, dispatching opcode bytes
// through the opgrammar tables and resolving U24 control-flow operands to
// label references (minting synthetic labels where the file defines none).
//
// Errors here use plain fmt.Errorf-style typed values, matching the
// register of the teacher's cursor-based decode path (flac.go, meta/meta.go)
// rather than the errutil-wrapped style of package encode.
package decode

import (
	"errors"
	"fmt"

	"github.com/rseqtools/bseq/instr"
	"github.com/rseqtools/bseq/internal/cursor"
	"github.com/rseqtools/bseq/label"
	"github.com/rseqtools/bseq/opgrammar"
)

// TruncatedInstructionError is returned when an instruction's opcode or
// operands run past the end of the DATA region.
type TruncatedInstructionError struct {
	At int
}

func (e *TruncatedInstructionError) Error() string {
	return fmt.Sprintf("decode: truncated instruction at offset 0x%X", e.At)
}

// UnknownOpcodeError is returned when a byte does not match any row of the
// opcode grammar (including the reserved note range 0x7E-0x7F).
type UnknownOpcodeError struct {
	Byte byte
	At   int
}

func (e *UnknownOpcodeError) Error() string {
	return fmt.Sprintf("decode: unknown opcode 0x%02X at offset 0x%X", e.Byte, e.At)
}

// VarlenTooLongError is returned when a varlen field spans more than 4 bytes.
type VarlenTooLongError struct {
	At int
}

func (e *VarlenTooLongError) Error() string {
	return fmt.Sprintf("decode: varlen value too long at offset 0x%X", e.At)
}

// Result is the fully decoded BSEQ program: every track named by a label
// (file-defined or synthesized during decode), plus the (possibly enlarged)
// label table.
type Result struct {
	Labels *label.Table
	Tracks map[string][]*instr.Instruction
}

// Decode walks the DATA section located at dataBase (the absolute offset of
// the first instruction byte, past the 12-byte DATA section header) and
// decodes one chunk per label in labels, in ascending data-offset order
// (spec §4.5, step 1). c must already contain the whole file image; dataBase
// is relative to that image.
//
// A branch target with no named label mints a synthetic one (spec §4.5,
// "synthetic label set"); that offset is itself decoded as its own chunk, so
// the result names a track for it too, the way S3 of spec §8 expects a
// trailing synthetic label to carry its own instruction line.
func Decode(c *cursor.Reader, dataBase int, labels *label.Table) (*Result, error) {
	d := &decoder{
		c:        c,
		dataBase: dataBase,
		labels:   labels,
		chunks:   make(map[int][]*instr.Instruction),
		minted:   make(map[int]string),
	}

	var pending []int
	for _, l := range labels.SortedByOffset() {
		pending = append(pending, l.DataOffset)
	}
	seen := make(map[int]bool, len(pending))
	for len(pending) > 0 {
		offset := pending[0]
		pending = pending[1:]
		if seen[offset] {
			continue
		}
		seen[offset] = true
		before := len(d.minted)
		if _, err := d.chunkAt(offset); err != nil {
			return nil, err
		}
		if len(d.minted) > before {
			for abs := range d.minted {
				if !seen[abs] {
					pending = append(pending, abs)
				}
			}
		}
	}

	tracks := make(map[string][]*instr.Instruction, len(d.labels.Labels))
	for _, l := range d.labels.Labels {
		tracks[l.Name] = d.chunks[l.DataOffset]
	}
	return &Result{Labels: d.labels, Tracks: tracks}, nil
}

type decoder struct {
	c        *cursor.Reader
	dataBase int
	labels   *label.Table
	chunks   map[int][]*instr.Instruction
	minted   map[int]string
}

// chunkAt decodes the instruction run starting at the given data offset,
// stopping at the first chunk terminator (fin, ret, unconditional jump).
// Two labels may alias the same offset (spec §4.5 edge case); the second
// request for an offset already decoded returns the cached chunk rather than
// re-walking the bytes.
func (d *decoder) chunkAt(offset int) ([]*instr.Instruction, error) {
	if cached, ok := d.chunks[offset]; ok {
		return cached, nil
	}
	d.c.Seek(d.dataBase + offset)
	var chunk []*instr.Instruction
	for {
		in, err := d.decodeInstruction(offset)
		if err != nil {
			return nil, err
		}
		chunk = append(chunk, in)
		if in.IsChunkTerminator() {
			break
		}
	}
	d.chunks[offset] = chunk
	return chunk, nil
}

// decodeInstruction reads one instruction (possibly a prefix chain, which
// recurses) from the cursor's current position. trackBase is the data
// offset of the label that entered the enclosing chunk, used to resolve
// FieldU24Addr operands (spec §9, Open Question 3).
func (d *decoder) decodeInstruction(trackBase int) (*instr.Instruction, error) {
	at := d.c.Position()
	b, err := d.c.ReadU8()
	if err != nil {
		return nil, &TruncatedInstructionError{At: at}
	}

	if b <= 0x7D {
		return d.decodeNote(b, at)
	}
	if b == 0x7E || b == 0x7F {
		return nil, &UnknownOpcodeError{Byte: b, At: at}
	}
	if opgrammar.IsPrefix(b) {
		return d.decodePrefix(b, trackBase)
	}
	if b == opgrammar.OpExCommand {
		return d.decodeMmlEx(at)
	}
	row, ok := opgrammar.Lookup(b)
	if !ok {
		return nil, &UnknownOpcodeError{Byte: b, At: at}
	}
	operands, err := d.readOperands(row.Fields, trackBase)
	if err != nil {
		return nil, err
	}
	return instr.Mml(row.Mnemonic, operands...), nil
}

func (d *decoder) decodeNote(b byte, at int) (*instr.Instruction, error) {
	name, err := opgrammar.NoteName(b)
	if err != nil {
		return nil, &UnknownOpcodeError{Byte: b, At: at}
	}
	velocity, err := d.c.ReadU8()
	if err != nil {
		return nil, &TruncatedInstructionError{At: at}
	}
	gate, err := d.readVarlen(at)
	if err != nil {
		return nil, err
	}
	return instr.Note(name, velocity, gate), nil
}

// decodePrefix reads a prefix opcode's own inline operand(s) and then
// recursively decodes the instruction it defers to, nesting it as the final
// operand (spec §3, PrefixChain; §4.5 step 4).
func (d *decoder) decodePrefix(b byte, trackBase int) (*instr.Instruction, error) {
	row, _ := opgrammar.Lookup(b)
	operands, err := d.readOperands(row.Fields, trackBase)
	if err != nil {
		return nil, err
	}
	nested, err := d.decodeInstruction(trackBase)
	if err != nil {
		return nil, err
	}
	operands = append(operands, instr.NestedOperand(nested))
	return instr.Mml(row.Mnemonic, operands...), nil
}

func (d *decoder) decodeMmlEx(at int) (*instr.Instruction, error) {
	b, err := d.c.ReadU8()
	if err != nil {
		return nil, &TruncatedInstructionError{At: at}
	}
	row, ok := opgrammar.LookupEx(b)
	if !ok {
		return nil, &UnknownOpcodeError{Byte: b, At: at}
	}
	operands, err := d.readOperands(row.Fields, 0)
	if err != nil {
		return nil, err
	}
	return instr.MmlEx(row.Mnemonic, operands...), nil
}

func (d *decoder) readOperands(fields []opgrammar.FieldKind, trackBase int) ([]instr.Operand, error) {
	operands := make([]instr.Operand, 0, len(fields))
	for _, f := range fields {
		at := d.c.Position()
		switch f {
		case opgrammar.FieldU8:
			v, err := d.c.ReadU8()
			if err != nil {
				return nil, &TruncatedInstructionError{At: at}
			}
			operands = append(operands, instr.U8Operand(v))
		case opgrammar.FieldVariable:
			v, err := d.c.ReadU8()
			if err != nil {
				return nil, &TruncatedInstructionError{At: at}
			}
			operands = append(operands, instr.U8Operand(v))
		case opgrammar.FieldS16:
			v, err := d.c.ReadI16()
			if err != nil {
				return nil, &TruncatedInstructionError{At: at}
			}
			operands = append(operands, instr.S16Operand(v))
		case opgrammar.FieldRandom:
			lo, err := d.c.ReadI16()
			if err != nil {
				return nil, &TruncatedInstructionError{At: at}
			}
			hi, err := d.c.ReadI16()
			if err != nil {
				return nil, &TruncatedInstructionError{At: at}
			}
			operands = append(operands, instr.S16Operand(lo), instr.S16Operand(hi))
		case opgrammar.FieldVarlen, opgrammar.FieldVMidi:
			v, err := d.readVarlen(at)
			if err != nil {
				return nil, err
			}
			operands = append(operands, instr.VarlenOperand(v))
		case opgrammar.FieldU24Addr:
			raw, err := d.c.ReadU24()
			if err != nil {
				return nil, &TruncatedInstructionError{At: at}
			}
			operands = append(operands, d.resolveAddr(trackBase, int(raw)))
		default:
			return nil, fmt.Errorf("decode: unsupported field kind %v at offset 0x%X", f, at)
		}
	}
	return operands, nil
}

func (d *decoder) readVarlen(at int) (uint32, error) {
	v, err := d.c.ReadVarlen()
	if err != nil {
		if errors.Is(err, cursor.ErrVarlenTooLong) {
			return 0, &VarlenTooLongError{At: at}
		}
		return 0, &TruncatedInstructionError{At: at}
	}
	return v, nil
}

// resolveAddr turns a raw U24 field into a label reference: the absolute
// data offset is trackBase + raw (spec §9, Open Question 3's resolution).
// If no label in the table already names that offset, a synthetic
// "symb_0x<hex>" label is minted and added to the table so the text layer
// can print a real reference.
func (d *decoder) resolveAddr(trackBase, raw int) instr.Operand {
	abs := trackBase + raw
	name := d.labelNameAt(abs)
	return instr.Operand{
		Kind:     instr.OperandLabelRef,
		Label:    name,
		Backward: abs <= trackBase,
		Delta:    abs - trackBase,
	}
}

func (d *decoder) labelNameAt(abs int) string {
	if l, ok := d.labels.ByOffset(abs); ok {
		return l.Name
	}
	if name, ok := d.minted[abs]; ok {
		return name
	}
	name := fmt.Sprintf("symb_0x%x", abs)
	d.minted[abs] = name
	d.labels.Add(label.Label{Name: name, DataOffset: abs, Synthetic: true})
	return name
}

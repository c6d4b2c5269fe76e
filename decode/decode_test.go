package decode

import (
	"testing"

	"github.com/rseqtools/bseq/instr"
	"github.com/rseqtools/bseq/internal/cursor"
	"github.com/rseqtools/bseq/label"
)

func TestDecodeNoteThenFin(t *testing.T) {
	buf := []byte{0x00, 100, 0x10, 0xFF} // cnm1 vel=100 gate=16, fin
	labels := label.New([]label.Label{{Name: "main", DataOffset: 0}})

	res, err := Decode(cursor.New(buf), 0, labels)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	chunk := res.Tracks["main"]
	if len(chunk) != 2 {
		t.Fatalf("len(chunk) = %d, want 2", len(chunk))
	}
	if chunk[0].Kind != instr.KindNote || chunk[0].Mnemonic != "cnm1" || chunk[0].Velocity != 100 || chunk[0].Gate != 16 {
		t.Errorf("chunk[0] = %+v, want note cnm1 100 16", chunk[0])
	}
	if chunk[1].Mnemonic != "fin" || !chunk[1].IsChunkTerminator() {
		t.Errorf("chunk[1] = %+v, want terminating fin", chunk[1])
	}
}

func TestDecodeJumpMintsSyntheticLabel(t *testing.T) {
	buf := []byte{0x89, 0x00, 0x00, 0x05, 0xFF, 0xFF} // jump +5; filler; fin (spec §8 S3)
	labels := label.New([]label.Label{{Name: "main", DataOffset: 0}})

	res, err := Decode(cursor.New(buf), 0, labels)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	chunk := res.Tracks["main"]
	if len(chunk) != 1 || chunk[0].Mnemonic != "jump" {
		t.Fatalf("chunk = %+v, want single jump", chunk)
	}
	op := chunk[0].Operands[0]
	if op.Kind != instr.OperandLabelRef || op.Label != "symb_0x5" {
		t.Errorf("jump target = %+v, want LabelRef symb_0x5", op)
	}
	synthetic := res.Tracks["symb_0x5"]
	if len(synthetic) != 1 || synthetic[0].Mnemonic != "fin" {
		t.Errorf("synthetic label's own chunk = %+v, want [fin]", synthetic)
	}
	if _, ok := res.Labels.ByOffset(5); !ok {
		t.Error("synthetic label was not added to the label table")
	}
}

func TestDecodePrefixChain(t *testing.T) {
	buf := []byte{0xA1, 0x02, 0x80, 0x05, 0xFF} // _v 2, wait 5; fin
	labels := label.New([]label.Label{{Name: "main", DataOffset: 0}})

	res, err := Decode(cursor.New(buf), 0, labels)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	chunk := res.Tracks["main"]
	if len(chunk) != 2 {
		t.Fatalf("len(chunk) = %d, want 2", len(chunk))
	}
	v := chunk[0]
	if v.Mnemonic != "_v" || len(v.Operands) != 2 {
		t.Fatalf("chunk[0] = %+v, want _v with 2 operands", v)
	}
	if v.Operands[0].U8 != 2 {
		t.Errorf("_v variable index = %d, want 2", v.Operands[0].U8)
	}
	nested := v.Operands[1].Nested
	if nested == nil || nested.Mnemonic != "wait" || nested.Operands[0].Varlen != 5 {
		t.Errorf("nested = %+v, want wait 5", nested)
	}
}

func TestDecodeAliasedLabelsShareChunk(t *testing.T) {
	buf := []byte{0xFF} // fin
	labels := label.New([]label.Label{
		{Name: "main", DataOffset: 0},
		{Name: "alias", DataOffset: 0},
	})

	res, err := Decode(cursor.New(buf), 0, labels)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(res.Tracks) != 2 {
		t.Fatalf("len(Tracks) = %d, want 2", len(res.Tracks))
	}
	if len(res.Tracks["main"]) != 1 || len(res.Tracks["alias"]) != 1 {
		t.Errorf("aliased tracks did not both decode: %+v", res.Tracks)
	}
}

func TestDecodeUnknownOpcode(t *testing.T) {
	buf := []byte{0x7E} // reserved note opcode
	labels := label.New([]label.Label{{Name: "main", DataOffset: 0}})

	_, err := Decode(cursor.New(buf), 0, labels)
	if _, ok := err.(*UnknownOpcodeError); !ok {
		t.Fatalf("err = %v (%T), want *UnknownOpcodeError", err, err)
	}
}

func TestDecodeVarlenTooLong(t *testing.T) {
	// wait opcode followed by 4 continuation-flagged bytes: ReadVarlen's
	// cursor.Error wraps cursor.ErrVarlenTooLong, which must be recognized
	// through errors.Is rather than compared for identity directly.
	buf := []byte{0x80, 0x80, 0x80, 0x80, 0x80}
	labels := label.New([]label.Label{{Name: "main", DataOffset: 0}})

	_, err := Decode(cursor.New(buf), 0, labels)
	if _, ok := err.(*VarlenTooLongError); !ok {
		t.Fatalf("err = %v (%T), want *VarlenTooLongError", err, err)
	}
}

func TestDecodeTruncatedInstruction(t *testing.T) {
	buf := []byte{0x80} // wait with no varlen operand
	labels := label.New([]label.Label{{Name: "main", DataOffset: 0}})

	_, err := Decode(cursor.New(buf), 0, labels)
	if _, ok := err.(*TruncatedInstructionError); !ok {
		t.Fatalf("err = %v (%T), want *TruncatedInstructionError", err, err)
	}
}

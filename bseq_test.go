package bseq

import (
	"testing"

	"github.com/rseqtools/bseq/instr"
	"github.com/rseqtools/bseq/internal/cursor"
	"github.com/rseqtools/bseq/label"
)

// buildContainer assembles a complete BSEQ byte image the way EncodeBinary
// does, but by hand from framing.go's own helpers, so these tests exercise
// parseFileHeader/writeFileHeader/parseDataSectionHeader directly against a
// fixture that isn't itself produced by EncodeBinary.
func buildContainer(t *testing.T, data []byte, labels []label.Label) []byte {
	t.Helper()
	labelBytes := label.Encode(labels)
	const dataHeaderSize = 0x0C
	dataSectionSize := dataHeaderSize + len(data)
	h := &fileHeader{
		Version:      DefaultVersion,
		HeaderSize:   fileHeaderSize,
		SectionCount: 2,
		DataOffset:   fileHeaderSize,
		DataSize:     uint32(dataSectionSize),
		LabelOffset:  uint32(fileHeaderSize + dataSectionSize),
		LabelSize:    uint32(len(labelBytes)),
	}
	h.TotalSize = h.LabelOffset + h.LabelSize

	buf := make([]byte, 0, h.TotalSize)
	buf = append(buf, writeFileHeader(h)...)
	buf = append(buf, dataSectionHeader(uint32(dataSectionSize))...)
	buf = append(buf, data...)
	buf = append(buf, labelBytes...)
	return buf
}

// TestDecodeBinaryS1EmptyTrack exercises spec §8 scenario S1: a single label
// "main" at offset 0 whose DATA payload is just "fin".
func TestDecodeBinaryS1EmptyTrack(t *testing.T) {
	buf := buildContainer(t, []byte{0xFF}, []label.Label{{Name: "main", DataOffset: 0}})

	f, err := DecodeBinary(buf)
	if err != nil {
		t.Fatalf("DecodeBinary: %v", err)
	}
	if f.Version != DefaultVersion {
		t.Errorf("Version = %v, want %v", f.Version, DefaultVersion)
	}
	chunk := f.Tracks["main"]
	if len(chunk) != 1 || chunk[0].Mnemonic != "fin" {
		t.Fatalf("Tracks[main] = %+v, want [fin]", chunk)
	}
}

// TestEncodeBinaryDecodeBinaryRoundTrip exercises spec §8 scenario S2 (wait,
// note, fin) end to end through EncodeBinary then DecodeBinary, covering
// invariant #1 ("decode(encode(program)) preserves instruction semantics").
func TestEncodeBinaryDecodeBinaryRoundTrip(t *testing.T) {
	f := &File{
		Version: DefaultVersion,
		Order:   []string{"main"},
		Tracks: map[string][]*instr.Instruction{
			"main": {
				instr.Mml("wait", instr.VarlenOperand(96)),
				instr.Note("cn4", 127, 96),
				instr.Mml("fin"),
			},
		},
	}
	buf, err := EncodeBinary(f)
	if err != nil {
		t.Fatalf("EncodeBinary: %v", err)
	}

	got, err := DecodeBinary(buf)
	if err != nil {
		t.Fatalf("DecodeBinary: %v", err)
	}
	chunk := got.Tracks["main"]
	if len(chunk) != 3 {
		t.Fatalf("len(Tracks[main]) = %d, want 3", len(chunk))
	}
	if chunk[0].Mnemonic != "wait" || chunk[0].Operands[0].Varlen != 96 {
		t.Errorf("chunk[0] = %+v", chunk[0])
	}
	if chunk[1].Kind != instr.KindNote || chunk[1].Mnemonic != "cn4" || chunk[1].Velocity != 127 || chunk[1].Gate != 96 {
		t.Errorf("chunk[1] = %+v", chunk[1])
	}
	if chunk[2].Mnemonic != "fin" {
		t.Errorf("chunk[2] = %+v", chunk[2])
	}
}

// rawLabelCount decodes only the LABL section of buf (bypassing decode.Decode
// entirely, so no new synthetic labels get minted in the process), letting a
// test see exactly what the encoder wrote to disk.
func rawLabelCount(t *testing.T, buf []byte) int {
	t.Helper()
	c := cursor.New(buf)
	h, err := parseFileHeader(c)
	if err != nil {
		t.Fatalf("parseFileHeader: %v", err)
	}
	labels, err := label.Decode(c, int(h.LabelOffset))
	if err != nil {
		t.Fatalf("label.Decode: %v", err)
	}
	return len(labels.Labels)
}

// TestEncodeBinaryOmitsSyntheticLabelByDefault exercises spec §4.5's default
// that decoder-minted synthetic labels "do not appear in the LABL section of
// the encoded file unless the caller asks" (spec §8 scenario S3's jump
// target).
func TestEncodeBinaryOmitsSyntheticLabelByDefault(t *testing.T) {
	// S3: jump +5 (absolute offset 5 from a "main" track based at 0); fin.
	buf := buildContainer(t,
		[]byte{0x89, 0x00, 0x00, 0x05, 0xFF, 0xFF},
		[]label.Label{{Name: "main", DataOffset: 0}},
	)

	f, err := DecodeBinary(buf)
	if err != nil {
		t.Fatalf("DecodeBinary: %v", err)
	}
	if src, ok := f.Labels.ByName("symb_0x5"); !ok || !src.Synthetic {
		t.Fatalf("decoded label table has no synthetic symb_0x5 entry: %+v, %v", src, ok)
	}
	if len(f.Order) != 2 {
		t.Fatalf("Order = %v, want 2 entries (main, symb_0x5)", f.Order)
	}

	reencoded, err := EncodeBinary(f)
	if err != nil {
		t.Fatalf("EncodeBinary (default, synthetic omitted): %v", err)
	}
	if n := rawLabelCount(t, reencoded); n != 1 {
		t.Errorf("LABL section has %d entries, want 1 (synthetic label omitted by default)", n)
	}

	// The jump target's instructions must still be present in DATA, synthetic
	// label or not -- only its LABL entry is suppressed, never its bytes.
	again, err := DecodeBinary(reencoded)
	if err != nil {
		t.Fatalf("DecodeBinary(EncodeBinary(f)): %v", err)
	}
	if chunk := again.Tracks["main"]; len(chunk) != 1 || chunk[0].Mnemonic != "jump" {
		t.Errorf("main track lost or changed after re-encode: %+v", chunk)
	} else if target := again.Tracks[chunk[0].Operands[0].Label]; len(target) != 1 || target[0].Mnemonic != "fin" {
		t.Errorf("jump target %q lost its instructions after re-encode: %+v", chunk[0].Operands[0].Label, target)
	}

	f.IncludeSynthetic = true
	withSynthetic, err := EncodeBinary(f)
	if err != nil {
		t.Fatalf("EncodeBinary (IncludeSynthetic): %v", err)
	}
	if n := rawLabelCount(t, withSynthetic); n != 2 {
		t.Errorf("LABL section has %d entries, want 2 with IncludeSynthetic set", n)
	}
}

func TestParseFileHeaderBadSignature(t *testing.T) {
	buf := buildContainer(t, []byte{0xFF}, []label.Label{{Name: "main", DataOffset: 0}})
	buf[0] = 'X'
	_, err := DecodeBinary(buf)
	if _, ok := err.(*BadSignatureError); !ok {
		t.Fatalf("err = %v (%T), want *BadSignatureError", err, err)
	}
}

func TestParseFileHeaderTruncated(t *testing.T) {
	buf := buildContainer(t, []byte{0xFF}, []label.Label{{Name: "main", DataOffset: 0}})
	_, err := DecodeBinary(buf[:fileHeaderSize-1])
	if _, ok := err.(*TruncatedHeaderError); !ok {
		t.Fatalf("err = %v (%T), want *TruncatedHeaderError", err, err)
	}
}

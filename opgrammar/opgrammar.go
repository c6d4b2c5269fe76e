// Package opgrammar holds the static, read-only tables that map an opcode
// byte to its mnemonic and operand schema for both the base MML opcode set
// and the MMLEX extended set entered via 0xF0. Everything else in the codec
// is table-driven from here: decode and encode both consult the same rows,
// eliminating the two mutually-inconsistent tables the source otherwise
// would have drifted into (spec §9, "Static opcode tables").
package opgrammar

import "fmt"

// FieldKind identifies one operand slot in an opcode's schema.
type FieldKind int

const (
	// FieldNone marks an opcode with no operand.
	FieldNone FieldKind = iota
	// FieldU8 is one unsigned byte.
	FieldU8
	// FieldS16 is a signed 16-bit big-endian word.
	FieldS16
	// FieldU24Addr is a 24-bit control-flow offset, interpreted relative to
	// the enclosing track's base offset and resolved to a label reference.
	FieldU24Addr
	// FieldVarlen is a 1-4 byte variable-length unsigned integer.
	FieldVarlen
	// FieldVMidi is encoded identically to FieldVarlen but documents a
	// 32-bit value field (spec §3, OperandType VMIDI). No base MML/MMLEX
	// row currently selects it; it is retained for forward compatibility
	// with opcodes outside the tables below.
	FieldVMidi
	// FieldRandom is the inline (min, max) pair carried by the _r prefix:
	// two signed 16-bit words.
	FieldRandom
	// FieldVariable is the inline U8 variable index carried by the _v
	// prefix.
	FieldVariable
)

// Row describes one opcode's mnemonic and operand schema.
type Row struct {
	Byte     byte
	Mnemonic string
	Fields   []FieldKind
}

// IsPrefix reports whether byte b (0xA0-0xA5) introduces a prefix chain:
// it carries its own inline operand(s) and then defers to the instruction
// that follows (spec §3, PrefixChain).
func IsPrefix(b byte) bool {
	return b >= 0xA0 && b <= 0xA5
}

const (
	// OpWait is the wait opcode: one varlen duration.
	OpWait = 0x80
	// OpPrg is the program-change opcode: one varlen program number.
	OpPrg = 0x81
	// OpOpenTrack spawns a new track: U8 track index, U24 address relative
	// to the current track base.
	OpOpenTrack = 0x88
	// OpJump is an unconditional jump and terminates the current chunk.
	OpJump = 0x89
	// OpCall pushes a return address and jumps; it does not terminate the
	// current chunk.
	OpCall = 0x8A
	// OpRandom is the _r prefix.
	OpRandom = 0xA0
	// OpVariable is the _v prefix.
	OpVariable = 0xA1
	// OpIf is the _if prefix.
	OpIf = 0xA2
	// OpTime is the _t prefix.
	OpTime = 0xA3
	// OpTimeRandom is the _tr composite prefix (_t followed by _r).
	OpTimeRandom = 0xA4
	// OpTimeVariable is the _tv composite prefix (_t followed by _v).
	OpTimeVariable = 0xA5
	// OpModDelay, OpTempo and OpSweepPitch all carry a signed 16-bit word.
	OpModDelay   = 0xE0
	OpTempo      = 0xE1
	OpSweepPitch = 0xE3
	// OpExCommand enters the MMLEX table via one following byte.
	OpExCommand = 0xF0
	// OpEnvReset, OpLoopEnd, OpRet, OpAllocTrack and OpFin take no operand
	// except OpAllocTrack (S16 track mask). OpRet ends a call chunk; OpFin
	// ends a track chunk.
	OpEnvReset   = 0xFB
	OpLoopEnd    = 0xFC
	OpRet        = 0xFD
	OpAllocTrack = 0xFE
	OpFin        = 0xFF
)

// mmlRows lists every opcode byte 0x80-0xFF with a fixed mnemonic and
// schema, excluding the note range (0x00-0x7F, handled by NoteName) and the
// parameter-set range 0xB0-0xDF (registered by init from paramMnemonics,
// below).
var mmlRows = []Row{
	{OpWait, "wait", []FieldKind{FieldVarlen}},
	{OpPrg, "prg", []FieldKind{FieldVarlen}},
	{OpOpenTrack, "opentrack", []FieldKind{FieldU8, FieldU24Addr}},
	{OpJump, "jump", []FieldKind{FieldU24Addr}},
	{OpCall, "call", []FieldKind{FieldU24Addr}},
	{OpRandom, "_r", []FieldKind{FieldRandom}},
	{OpVariable, "_v", []FieldKind{FieldVariable}},
	{OpIf, "_if", nil},
	{OpTime, "_t", []FieldKind{FieldS16}},
	{OpTimeRandom, "_tr", []FieldKind{FieldS16}},
	{OpTimeVariable, "_tv", []FieldKind{FieldS16}},
	{OpModDelay, "mod_delay", []FieldKind{FieldS16}},
	{OpTempo, "tempo", []FieldKind{FieldS16}},
	{OpSweepPitch, "sweep_pitch", []FieldKind{FieldS16}},
	{OpExCommand, "ex_command", nil},
	{OpEnvReset, "env_reset", nil},
	{OpLoopEnd, "loop_end", nil},
	{OpRet, "ret", nil},
	{OpAllocTrack, "alloctrack", []FieldKind{FieldS16}},
	{OpFin, "fin", nil},
}

// paramMnemonics names a handful of the 0xB0-0xDF parameter-set opcodes
// following NW4R-family sound-engine convention; 0xC1 is pinned to "volume"
// by spec §8 scenario S5. Bytes in range without an explicit name fall back
// to a generated "param_0xNN" mnemonic (still a single U8 operand), so the
// table remains total over the full range without inventing unverifiable
// lore for the remainder.
var paramMnemonics = map[byte]string{
	0xB0: "pan",
	0xB1: "main_volume",
	0xB2: "transpose",
	0xB3: "pitch_bend",
	0xB4: "pitch_bend_range",
	0xB5: "priority",
	0xB6: "poly",
	0xB7: "mono",
	0xB8: "portamento_sw",
	0xB9: "portamento_time",
	0xBA: "mod_depth",
	0xBB: "mod_speed",
	0xBC: "mod_type",
	0xBD: "mod_range",
	0xBE: "front_bypass",
	0xBF: "pseudo_reverb",
	0xC0: "reverb",
	0xC1: "volume",
	0xC2: "surround_pan",
	0xC3: "attack",
	0xC4: "decay",
	0xC5: "sustain",
	0xC6: "release",
	0xC7: "lpf_cutoff",
	0xC8: "bank_select",
}

// MMLEX mnemonics and schemas (spec §4.4): 0x80-0x8B variable arithmetic,
// 0x90-0x95 comparisons, 0xE0 userproc.
const (
	ExSetVar = 0x80
	ExModVar = 0x8B
	ExCmpEq  = 0x90
	ExCmpNe  = 0x95
	ExUserProc = 0xE0
)

var exArithMnemonics = []string{
	"setvar", "addvar", "subvar", "mulvar", "divvar", "shiftvar",
	"randvar", "andvar", "orvar", "xorvar", "notvar", "modvar",
}

var exCmpMnemonics = []string{
	"cmp_eq", "cmp_ge", "cmp_gt", "cmp_le", "cmp_lt", "cmp_ne",
}

var (
	mmlByByte     = map[byte]Row{}
	mmlByMnemonic = map[string]Row{}
	mmlexByByte   = map[byte]Row{}
	mmlexByMnemonic = map[string]Row{}
)

func init() {
	for _, row := range mmlRows {
		register(row)
	}
	for b := byte(0xB0); ; b++ {
		name, ok := paramMnemonics[b]
		if !ok {
			name = fmt.Sprintf("param_0x%02x", b)
		}
		register(Row{b, name, []FieldKind{FieldU8}})
		if b == 0xDF {
			break
		}
	}

	for i, name := range exArithMnemonics {
		b := byte(ExSetVar + i)
		registerEx(Row{b, name, []FieldKind{FieldU8, FieldS16}})
	}
	for i, name := range exCmpMnemonics {
		b := byte(ExCmpEq + i)
		registerEx(Row{b, name, []FieldKind{FieldU8, FieldS16}})
	}
	registerEx(Row{ExUserProc, "userproc", []FieldKind{FieldS16}})
}

func register(row Row) {
	mmlByByte[row.Byte] = row
	mmlByMnemonic[row.Mnemonic] = row
}

func registerEx(row Row) {
	mmlexByByte[row.Byte] = row
	mmlexByMnemonic[row.Mnemonic] = row
}

// Lookup returns the MML row for opcode byte b, for b in [0x80, 0xFF] (the
// non-note range). ok is false for bytes with no registered row.
func Lookup(b byte) (Row, bool) {
	row, ok := mmlByByte[b]
	return row, ok
}

// LookupMnemonic returns the MML row for the given mnemonic.
func LookupMnemonic(mnemonic string) (Row, bool) {
	row, ok := mmlByMnemonic[mnemonic]
	return row, ok
}

// LookupEx returns the MMLEX row for opcode byte b (the byte following
// 0xF0).
func LookupEx(b byte) (Row, bool) {
	row, ok := mmlexByByte[b]
	return row, ok
}

// LookupExMnemonic returns the MMLEX row for the given mnemonic.
func LookupExMnemonic(mnemonic string) (Row, bool) {
	row, ok := mmlexByMnemonic[mnemonic]
	return row, ok
}

// noteCycle is the 12-semitone-per-octave naming cycle used by NoteName:
// natural/sharp pairs only where the pitch class actually has a sharp
// (no E#, no B#).
var noteCycle = []string{
	"cn", "cs", "dn", "ds", "en", "fn", "fs", "gn", "gs", "an", "as", "bn",
}

// NoteName returns the pitch mnemonic for note opcode b (0x00-0x7D); the
// mapping is one-to-one onto 126 names from "cnm1" (0x00) to "fn9" (0x7D),
// which lies partway through the eleventh octave. Opcodes 0x7E and 0x7F
// are reserved.
func NoteName(b byte) (string, error) {
	if b >= 0x7E {
		return "", fmt.Errorf("opgrammar: note opcode 0x%02X is reserved", b)
	}
	octave := int(b)/12 - 1 // opcode 0 is octave -1.
	idx := int(b) % 12
	octLabel := fmt.Sprintf("%d", octave)
	if octave == -1 {
		octLabel = "m1"
	}
	return noteCycle[idx] + octLabel, nil
}

// NoteOpcode is the inverse of NoteName: it returns the opcode byte for a
// pitch mnemonic, used by the encoder.
func NoteOpcode(name string) (byte, bool) {
	if noteOpcodes == nil {
		buildNoteOpcodes()
	}
	b, ok := noteOpcodes[name]
	return b, ok
}

var noteOpcodes map[string]byte

func buildNoteOpcodes() {
	noteOpcodes = make(map[string]byte, 126)
	for b := 0; b < 0x7E; b++ {
		name, err := NoteName(byte(b))
		if err != nil {
			continue
		}
		noteOpcodes[name] = byte(b)
	}
}

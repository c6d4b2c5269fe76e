// Package text implements TextIO (spec §4.7): the line-oriented TSEQ
// assembler listing grammar of spec §6, in both directions.
//
// Numeric literals round-trip as plain decimal text (strconv), matching the
// ambient style of the rest of this codec; there is no dedicated lexer
// struct along the lines of a general-purpose language front end, since the
// grammar is a single flat line format with no nesting beyond one prefix
// chain per line.
package text

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/rseqtools/bseq/instr"
	"github.com/rseqtools/bseq/label"
	"github.com/rseqtools/bseq/opgrammar"
)

// DuplicateLabelError is returned when two label declarations share a name.
type DuplicateLabelError struct {
	Name string
}

func (e *DuplicateLabelError) Error() string {
	return fmt.Sprintf("text: duplicate label %q", e.Name)
}

// TextParseError reports a syntax error in a TSEQ listing, with the 1-based
// line and column at which it was detected.
type TextParseError struct {
	Line    int
	Column  int
	Message string
}

func (e *TextParseError) Error() string {
	return fmt.Sprintf("text: %d:%d: %s", e.Line, e.Column, e.Message)
}

// Program is a parsed TSEQ listing: the track order, as declared, and the
// decoded instruction stream for each label (spec §4.7: "preserve the order
// of labels as the authoritative track order").
type Program struct {
	Order  []string
	Tracks map[string][]*instr.Instruction
}

// Parse parses a TSEQ listing (spec §6 grammar).
func Parse(src string) (*Program, error) {
	p := &Program{Tracks: make(map[string][]*instr.Instruction)}
	seen := make(map[string]bool)
	var current string

	sc := bufio.NewScanner(strings.NewReader(src))
	lineNo := 0
	for sc.Scan() {
		lineNo++
		raw := sc.Text()
		body := stripComment(raw)
		trimmed := strings.TrimSpace(body)
		if trimmed == "" {
			continue
		}

		if name, isLabel := matchLabelDecl(trimmed); isLabel {
			if !isIdentifier(name) {
				return nil, &TextParseError{Line: lineNo, Column: 1, Message: fmt.Sprintf("invalid label name %q", name)}
			}
			if seen[name] {
				return nil, &DuplicateLabelError{Name: name}
			}
			seen[name] = true
			p.Order = append(p.Order, name)
			p.Tracks[name] = nil
			current = name
			continue
		}

		if current == "" {
			return nil, &TextParseError{Line: lineNo, Column: 1, Message: "instruction before any label declaration"}
		}
		in, err := parseInstruction(trimmed, lineNo)
		if err != nil {
			return nil, err
		}
		p.Tracks[current] = append(p.Tracks[current], in)
	}
	return p, nil
}

// stripComment removes a trailing ';' comment, the way spec §6's grammar
// defines `comment := ';' any*`.
func stripComment(line string) string {
	if i := strings.IndexByte(line, ';'); i >= 0 {
		return line[:i]
	}
	return line
}

// matchLabelDecl reports whether trimmed is exactly `identifier:` with
// nothing else on the line.
func matchLabelDecl(trimmed string) (string, bool) {
	i := strings.IndexByte(trimmed, ':')
	if i < 0 {
		return "", false
	}
	head := strings.TrimSpace(trimmed[:i])
	tail := strings.TrimSpace(trimmed[i+1:])
	if tail != "" || head == "" {
		return "", false
	}
	return head, true
}

func isIdentifier(s string) bool {
	for i, r := range s {
		switch {
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return len(s) > 0
}

// parseInstruction parses one instruction line, recursing through a prefix
// chain on the first top-level ':' (spec §6: `prefixed := ... (prefix_operands)
// ':' instruction`).
func parseInstruction(s string, lineNo int) (*instr.Instruction, error) {
	if i := strings.IndexByte(s, ':'); i >= 0 {
		head := strings.TrimSpace(s[:i])
		rest := strings.TrimSpace(s[i+1:])
		mnemonic, tokens, err := splitMnemonic(head, lineNo)
		if err != nil {
			return nil, err
		}
		row, ok := opgrammar.LookupMnemonic(mnemonic)
		if !ok || !opgrammar.IsPrefix(row.Byte) {
			return nil, &TextParseError{Line: lineNo, Column: 1, Message: fmt.Sprintf("%q is not a prefix opcode", mnemonic)}
		}
		operands, err := parseFields(row.Fields, tokens, lineNo)
		if err != nil {
			return nil, err
		}
		nested, err := parseInstruction(rest, lineNo)
		if err != nil {
			return nil, err
		}
		operands = append(operands, instr.NestedOperand(nested))
		return instr.Mml(mnemonic, operands...), nil
	}

	mnemonic, tokens, err := splitMnemonic(s, lineNo)
	if err != nil {
		return nil, err
	}

	if row, ok := opgrammar.LookupMnemonic(mnemonic); ok {
		operands, err := parseFields(row.Fields, tokens, lineNo)
		if err != nil {
			return nil, err
		}
		return instr.Mml(mnemonic, operands...), nil
	}
	if row, ok := opgrammar.LookupExMnemonic(mnemonic); ok {
		operands, err := parseFields(row.Fields, tokens, lineNo)
		if err != nil {
			return nil, err
		}
		return instr.MmlEx(mnemonic, operands...), nil
	}
	if _, ok := opgrammar.NoteOpcode(mnemonic); ok {
		if len(tokens) != 2 {
			return nil, &TextParseError{Line: lineNo, Column: 1, Message: fmt.Sprintf("note %q wants 2 operands, got %d", mnemonic, len(tokens))}
		}
		velocity, err := parseUint(tokens[0], 8, lineNo)
		if err != nil {
			return nil, err
		}
		gate, err := parseUint(tokens[1], 32, lineNo)
		if err != nil {
			return nil, err
		}
		return instr.Note(mnemonic, uint8(velocity), uint32(gate)), nil
	}
	return nil, &TextParseError{Line: lineNo, Column: 1, Message: fmt.Sprintf("unknown mnemonic %q", mnemonic)}
}

// splitMnemonic splits "mnemonic tok1, tok2" into its mnemonic and
// comma-separated operand tokens.
func splitMnemonic(s string, lineNo int) (string, []string, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return "", nil, &TextParseError{Line: lineNo, Column: 1, Message: "empty instruction"}
	}
	mnemonic := fields[0]
	rest := strings.TrimSpace(strings.TrimPrefix(s, mnemonic))
	var tokens []string
	if rest != "" {
		for _, tok := range strings.Split(rest, ",") {
			tokens = append(tokens, strings.TrimSpace(tok))
		}
	}
	return mnemonic, tokens, nil
}

// parseFields converts operand tokens into typed Operands per the schema in
// fields. FieldRandom consumes two tokens (min, max) for one schema entry.
func parseFields(fields []opgrammar.FieldKind, tokens []string, lineNo int) ([]instr.Operand, error) {
	var operands []instr.Operand
	ti := 0
	for _, f := range fields {
		switch f {
		case opgrammar.FieldU8, opgrammar.FieldVariable:
			v, err := nextUint(tokens, &ti, 8, lineNo)
			if err != nil {
				return nil, err
			}
			operands = append(operands, instr.U8Operand(uint8(v)))
		case opgrammar.FieldS16:
			v, err := nextInt(tokens, &ti, lineNo)
			if err != nil {
				return nil, err
			}
			operands = append(operands, instr.S16Operand(int16(v)))
		case opgrammar.FieldVarlen, opgrammar.FieldVMidi:
			v, err := nextUint(tokens, &ti, 32, lineNo)
			if err != nil {
				return nil, err
			}
			operands = append(operands, instr.VarlenOperand(uint32(v)))
		case opgrammar.FieldRandom:
			lo, err := nextInt(tokens, &ti, lineNo)
			if err != nil {
				return nil, err
			}
			hi, err := nextInt(tokens, &ti, lineNo)
			if err != nil {
				return nil, err
			}
			operands = append(operands, instr.S16Operand(int16(lo)), instr.S16Operand(int16(hi)))
		case opgrammar.FieldU24Addr:
			if ti >= len(tokens) {
				return nil, &TextParseError{Line: lineNo, Column: 1, Message: "missing branch target operand"}
			}
			name := tokens[ti]
			ti++
			if !isIdentifier(name) {
				return nil, &TextParseError{Line: lineNo, Column: 1, Message: fmt.Sprintf("invalid branch target %q", name)}
			}
			operands = append(operands, instr.Operand{Kind: instr.OperandLabelRef, Label: name})
		default:
			return nil, &TextParseError{Line: lineNo, Column: 1, Message: fmt.Sprintf("unsupported field kind %v", f)}
		}
	}
	return operands, nil
}

func nextUint(tokens []string, ti *int, bits int, lineNo int) (uint64, error) {
	if *ti >= len(tokens) {
		return 0, &TextParseError{Line: lineNo, Column: 1, Message: "missing operand"}
	}
	v, err := parseUint(tokens[*ti], bits, lineNo)
	*ti++
	return v, err
}

func nextInt(tokens []string, ti *int, lineNo int) (int64, error) {
	if *ti >= len(tokens) {
		return 0, &TextParseError{Line: lineNo, Column: 1, Message: "missing operand"}
	}
	v, err := strconv.ParseInt(tokens[*ti], 10, 16)
	if err != nil {
		return 0, &TextParseError{Line: lineNo, Column: 1, Message: fmt.Sprintf("invalid integer %q", tokens[*ti])}
	}
	*ti++
	return v, nil
}

func parseUint(tok string, bits int, lineNo int) (uint64, error) {
	v, err := strconv.ParseUint(tok, 10, bits)
	if err != nil {
		return 0, &TextParseError{Line: lineNo, Column: 1, Message: fmt.Sprintf("invalid unsigned integer %q", tok)}
	}
	return v, nil
}

// FormatOptions controls Format's rendering of label references (spec §9
// supplemented feature: the backward/forward jump annotation of spec §6 is
// opt-in so callers that only need a byte-stable listing can skip it).
type FormatOptions struct {
	// AnnotateJumps emits the informative "backwards/forward jump by N
	// bytes" comment described in spec §6 on every FieldU24Addr operand.
	AnnotateJumps bool
}

// Format renders a program back to TSEQ text (spec §4.7, §6). labels
// supplies the data offsets used to compute jump annotations; it may be nil
// if opts.AnnotateJumps is false.
func Format(p *Program, labels *label.Table, opts FormatOptions) string {
	var sb strings.Builder
	for _, name := range p.Order {
		fmt.Fprintf(&sb, "%s:\n", name)
		trackBase := 0
		if labels != nil {
			for _, l := range labels.Labels {
				if l.Name == name {
					trackBase = l.DataOffset
					break
				}
			}
		}
		for _, in := range p.Tracks[name] {
			sb.WriteString("    ")
			formatInstruction(&sb, in, labels, trackBase, opts)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func formatInstruction(sb *strings.Builder, in *instr.Instruction, labels *label.Table, trackBase int, opts FormatOptions) {
	if in.Kind == instr.KindNote {
		fmt.Fprintf(sb, "%s %d, %d", in.Mnemonic, in.Velocity, in.Gate)
		return
	}
	sb.WriteString(in.Mnemonic)
	n := len(in.Operands)
	isPrefix := n > 0 && in.Operands[n-1].Kind == instr.OperandNested
	own := in.Operands
	var nested *instr.Instruction
	if isPrefix {
		own = in.Operands[:n-1]
		nested = in.Operands[n-1].Nested
	}
	for i, op := range own {
		if i == 0 {
			sb.WriteString(" ")
		} else {
			sb.WriteString(", ")
		}
		formatOperand(sb, op, labels, trackBase, opts)
	}
	if nested != nil {
		sb.WriteString(": ")
		formatInstruction(sb, nested, labels, trackBase, opts)
	}
}

func formatOperand(sb *strings.Builder, op instr.Operand, labels *label.Table, trackBase int, opts FormatOptions) {
	if op.Kind != instr.OperandLabelRef {
		sb.WriteString(op.String())
		return
	}
	sb.WriteString(op.Label)
	if !opts.AnnotateJumps || labels == nil {
		return
	}
	for _, l := range labels.Labels {
		if l.Name == op.Label {
			delta := l.DataOffset - trackBase
			if delta <= 0 {
				fmt.Fprintf(sb, " ; backwards jump by %d bytes relative to the start offset of this sequence", -delta)
			} else {
				fmt.Fprintf(sb, " ; forward jump by %d bytes relative to the start offset of this sequence", delta)
			}
			return
		}
	}
}

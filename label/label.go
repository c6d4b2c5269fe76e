// Package label implements the LABL section of spec §4.2/§4.3: decoding the
// on-disk label table into a LabelTable, and packing a list of tracks back
// into LABL section bytes during encode.
package label

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/rseqtools/bseq/internal/cursor"
)

// Label is one (name, data_offset) entry (spec §3: Label).
type Label struct {
	Name       string
	DataOffset int
	// Synthetic is true for a label minted by the decoder for an unnamed
	// branch target (spec §4.5, "synthetic label set") rather than one read
	// from the file's own LABL section. Spec §4.5 states these "do not
	// appear in the LABL section of the encoded file unless the caller
	// asks" -- see bseq.File.IncludeSynthetic.
	Synthetic bool
}

// Table is the decoded LABL section: labels in file order plus the indexes
// the decoder and encoder need (spec §4.3).
type Table struct {
	// Labels are in file (on-disk) order.
	Labels []Label

	byOffset map[int][]Label
	byName   map[string]Label
}

// New builds a Table from an ordered label list, populating the by-offset
// and by-name indexes used by ByOffset, AllAt and ByName.
func New(labels []Label) *Table {
	t := &Table{Labels: labels}
	t.index()
	return t
}

func (t *Table) index() {
	t.byOffset = make(map[int][]Label, len(t.Labels))
	t.byName = make(map[string]Label, len(t.Labels))
	for _, l := range t.Labels {
		t.byOffset[l.DataOffset] = append(t.byOffset[l.DataOffset], l)
		t.byName[l.Name] = l
	}
}

// ByOffset returns the first label at the given data offset, if any. Two
// labels may alias the same offset (spec §4.5 edge case); AllAt returns the
// full set.
func (t *Table) ByOffset(offset int) (Label, bool) {
	ls, ok := t.byOffset[offset]
	if !ok || len(ls) == 0 {
		return Label{}, false
	}
	return ls[0], true
}

// AllAt returns every label alias sharing the given data offset.
func (t *Table) AllAt(offset int) []Label {
	return t.byOffset[offset]
}

// ByName returns the label with the given name, if any.
func (t *Table) ByName(name string) (Label, bool) {
	l, ok := t.byName[name]
	return l, ok
}

// Add appends a new label to the table and updates the offset and name
// indexes. Used by the decoder to mint synthetic labels for branch targets
// with no name in the on-disk LABL section (spec §9, "Synthetic label
// names").
func (t *Table) Add(l Label) {
	t.Labels = append(t.Labels, l)
	t.byOffset[l.DataOffset] = append(t.byOffset[l.DataOffset], l)
	t.byName[l.Name] = l
}

// SortedByOffset returns labels sorted ascending by DataOffset, the
// chunking boundary the Decoder walks (spec §4.3).
func (t *Table) SortedByOffset() []Label {
	out := make([]Label, len(t.Labels))
	copy(out, t.Labels)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DataOffset < out[j].DataOffset
	})
	return out
}

// Decode reads the LABL section located at the absolute offset base within
// c's byte image (spec §4.2).
func Decode(c *cursor.Reader, base int) (*Table, error) {
	c.Seek(base)
	tag, err := c.ReadTag(4)
	if err != nil {
		return nil, fmt.Errorf("label: reading LABL tag: %w", err)
	}
	if string(tag) != "LABL" {
		return nil, fmt.Errorf("label: invalid section tag at offset 0x%X; expected \"LABL\", got %q", base, tag)
	}
	if _, err := c.ReadU32(); err != nil { // size, not needed for decode.
		return nil, fmt.Errorf("label: reading LABL size: %w", err)
	}
	n, err := c.ReadU32()
	if err != nil {
		return nil, fmt.Errorf("label: reading label count: %w", err)
	}
	offsets := make([]uint32, n)
	for i := range offsets {
		v, err := c.ReadU32()
		if err != nil {
			return nil, fmt.Errorf("label: reading entry offset %d: %w", i, err)
		}
		offsets[i] = v
	}

	labels := make([]Label, n)
	seen := make(map[string]bool, n)
	for i, off := range offsets {
		c.Seek(base + 8 + int(off))
		dataOffset, err := c.ReadU32()
		if err != nil {
			return nil, fmt.Errorf("label: reading data offset of entry %d: %w", i, err)
		}
		nameLen, err := c.ReadU32()
		if err != nil {
			return nil, fmt.Errorf("label: reading name length of entry %d: %w", i, err)
		}
		nameBuf, err := c.ReadTag(int(nameLen))
		if err != nil {
			return nil, fmt.Errorf("label: reading name of entry %d: %w", i, err)
		}
		name := string(nameBuf)
		if name == "" {
			return nil, fmt.Errorf("label: entry %d has an empty name", i)
		}
		if seen[name] {
			return nil, fmt.Errorf("label: duplicate label name %q", name)
		}
		seen[name] = true
		labels[i] = Label{Name: name, DataOffset: int(dataOffset)}
	}
	return New(labels), nil
}

// pad4 rounds n up to the next multiple of 4.
func pad4(n int) int {
	return (n + 3) &^ 3
}

// Encode packs labels (in the desired file order) into a complete LABL
// section, per the layout of spec §4.3: entries packed end-to-end each
// padded to a 4-byte boundary, preceded by the entry offset table.
func Encode(labels []Label) []byte {
	n := len(labels)
	offsets := make([]uint32, n)
	entries := make([][]byte, n)

	off := uint32(4 + 4*n) // past the count field and the offset table.
	for i, l := range labels {
		entry := make([]byte, 8+len(l.Name))
		binary.BigEndian.PutUint32(entry[0:4], uint32(l.DataOffset))
		binary.BigEndian.PutUint32(entry[4:8], uint32(len(l.Name)))
		copy(entry[8:], l.Name)
		padded := pad4(len(entry))
		if padded != len(entry) {
			padEntry := make([]byte, padded)
			copy(padEntry, entry)
			entry = padEntry
		}
		entries[i] = entry
		offsets[i] = off
		off += uint32(padded)
	}

	// sizeField is the value written into the section's own size field, per
	// spec §4.3's literal formula; it comes to 4 bytes less than the
	// section's actual byte length (structLen), which is tracked separately
	// below for buf's allocation.
	sizeField := 8 + 4*n
	structLen := 4 + 4 + 4 + 4*n // tag + size field + count + offset table.
	for _, e := range entries {
		sizeField += len(e)
		structLen += len(e)
	}

	buf := make([]byte, structLen)
	copy(buf[0:4], "LABL")
	binary.BigEndian.PutUint32(buf[4:8], uint32(sizeField))
	binary.BigEndian.PutUint32(buf[8:12], uint32(n))
	pos := 12
	for _, o := range offsets {
		binary.BigEndian.PutUint32(buf[pos:pos+4], o)
		pos += 4
	}
	for _, e := range entries {
		copy(buf[pos:], e)
		pos += len(e)
	}
	return buf
}

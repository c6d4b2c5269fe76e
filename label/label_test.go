package label

import (
	"testing"

	"github.com/rseqtools/bseq/internal/cursor"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	labels := []Label{
		{Name: "main", DataOffset: 0},
		{Name: "t1", DataOffset: 10},
		{Name: "_symb_0x5", DataOffset: 5},
	}
	buf := Encode(labels)

	c := cursor.New(buf)
	got, err := Decode(c, 0)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got.Labels) != len(labels) {
		t.Fatalf("Decode: got %d labels, want %d", len(got.Labels), len(labels))
	}
	for i, want := range labels {
		if got.Labels[i] != want {
			t.Errorf("Labels[%d] = %+v, want %+v", i, got.Labels[i], want)
		}
	}
}

func TestByOffsetAliases(t *testing.T) {
	labels := []Label{
		{Name: "main", DataOffset: 0},
		{Name: "alias", DataOffset: 0},
	}
	tbl := New(labels)
	all := tbl.AllAt(0)
	if len(all) != 2 {
		t.Fatalf("AllAt(0) = %v, want 2 aliases", all)
	}
}

func TestSortedByOffset(t *testing.T) {
	labels := []Label{
		{Name: "b", DataOffset: 20},
		{Name: "a", DataOffset: 5},
	}
	tbl := New(labels)
	sorted := tbl.SortedByOffset()
	if sorted[0].Name != "a" || sorted[1].Name != "b" {
		t.Errorf("SortedByOffset = %+v, want a before b", sorted)
	}
}

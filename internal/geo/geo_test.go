package geo

import (
	"strings"
	"testing"
)

func TestEncodeKnownHash(t *testing.T) {
	if got := encodeGeohash(57.64911, 10.40744, 11); got != "u4pruydqqvj" {
		t.Fatalf("encode = %q, want u4pruydqqvj", got)
	}
	g := DefaultGrid()
	cells := g.Cells(57.64911, 10.40744)
	want := []string{"u4p", "u4pr", "u4pru", "u4pruy"}
	for i, w := range want {
		if cells[i] != w {
			t.Errorf("Cells[%d] = %q, want %q", i, cells[i], w)
		}
	}
	if g.Encode(0, 0, 7) != "" {
		t.Errorf("out-of-range resolution should encode to empty")
	}
}

func TestDecodeContainsPoint(t *testing.T) {
	b, ok := CellBounds("u4pruy")
	if !ok {
		t.Fatalf("decode failed")
	}
	if !b.Contains(57.64911, 10.40744) {
		t.Errorf("cell bounds %+v do not contain source point", b)
	}
	if _, ok := CellBounds("u4pa!"); ok {
		t.Errorf("expected invalid character to fail")
	}
}

func TestRingHasEightDistinctNeighbours(t *testing.T) {
	g := DefaultGrid()
	ring := g.Ring("u4pruy")
	if len(ring) != 9 {
		t.Fatalf("ring size = %d, want 9", len(ring))
	}
	seen := map[string]bool{}
	for _, c := range ring {
		if seen[c] {
			t.Errorf("duplicate cell %q", c)
		}
		seen[c] = true
		if len(c) != 6 || !strings.HasPrefix(c, "u4") {
			t.Errorf("unexpected neighbour %q", c)
		}
	}
}

func TestCoverCellAndLimit(t *testing.T) {
	g := DefaultGrid()
	b, _ := CellBounds("u4pruy")
	inner := Bounds{MinLat: b.MinLat + 1e-6, MaxLat: b.MaxLat - 1e-6, MinLon: b.MinLon + 1e-6, MaxLon: b.MaxLon - 1e-6}
	cells, ok := g.Cover(inner, 3, 100)
	if !ok || len(cells) != 1 || cells[0] != "u4pruy" {
		t.Fatalf("cover = %v, %v", cells, ok)
	}
	wide := Bounds{MinLat: 50, MaxLat: 60, MinLon: 0, MaxLon: 20}
	if _, ok := g.Cover(wide, 3, 100); ok {
		t.Errorf("expected cover over limit to fail")
	}
	coarse, ok := g.Cover(wide, 0, 1000)
	if !ok || len(coarse) == 0 {
		t.Fatalf("coarse cover = %v, %v", coarse, ok)
	}
}

func TestExpandAndCenterZoom(t *testing.T) {
	b := Bounds{MinLat: 10, MaxLat: 12, MinLon: 20, MaxLon: 24}
	z := b.Expand(2)
	if z.MinLat != 9 || z.MaxLat != 13 || z.MinLon != 18 || z.MaxLon != 26 {
		t.Errorf("Expand = %+v", z)
	}
	edge := Bounds{MinLat: 80, MaxLat: 89, MinLon: 170, MaxLon: 179}.Expand(3)
	if edge.MaxLat != 90 || edge.MaxLon != 180 {
		t.Errorf("Expand should clamp to globe, got %+v", edge)
	}
	v14 := FromCenterZoom(52.52, 13.405, 14, 1024, 768)
	v10 := FromCenterZoom(52.52, 13.405, 10, 1024, 768)
	if !v14.Contains(52.52, 13.405) || !v14.Valid() {
		t.Errorf("zoom 14 bounds %+v", v14)
	}
	if (v10.MaxLon - v10.MinLon) <= (v14.MaxLon - v14.MinLon) {
		t.Errorf("lower zoom should cover a wider span")
	}
}

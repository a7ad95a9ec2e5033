package spatial

import (
	"testing"

	"geotoken/internal/token"
)

func tok(id string, cells ...string) token.Token {
	t := token.Token{ID: id}
	copy(t.Cells[:], cells)
	return t
}

func TestInsertIsIdempotent(t *testing.T) {
	ix := NewIndex()
	ix.Insert(tok("a", "u3", "u33", "u33d", "u33dc"))
	ix.Insert(tok("a", "u3", "u33", "u33d", "u33dc"))
	if ix.Len() != 1 {
		t.Fatalf("Len = %d, want 1", ix.Len())
	}
	got := ix.QueryByCells([]string{"u33dc"}, 3)
	if len(got) != 1 {
		t.Fatalf("query = %v", got)
	}

	// 单元变更后旧单元不再命中
	ix.Insert(tok("a", "u3", "u33", "u33e", "u33ef"))
	if n := len(ix.QueryByCells([]string{"u33d"}, 2)); n != 0 {
		t.Errorf("stale cell still indexed, got %d", n)
	}
	if ix.CellCount(2) != 1 {
		t.Errorf("CellCount(2) = %d, want 1", ix.CellCount(2))
	}
}

func TestQueryByCellsDeduplicates(t *testing.T) {
	ix := NewIndex()
	ix.Insert(tok("a", "u3", "u33"))
	ix.Insert(tok("b", "u3", "u34"))
	ix.Insert(tok("c", "u4", "u40"))

	got := ix.QueryByCells([]string{"u3", "u3", "u4"}, 0)
	if len(got) != 3 {
		t.Fatalf("query = %v, want 3 ids", got)
	}
	got = ix.QueryByCells([]string{"u33", "u34", "u33"}, 1)
	if len(got) != 2 {
		t.Fatalf("query = %v, want a,b", got)
	}
	if len(ix.QueryByCells([]string{"u3"}, 9)) != 0 {
		t.Errorf("invalid resolution should return empty set")
	}
}

func TestRemove(t *testing.T) {
	ix := NewIndex()
	ix.Insert(tok("a", "u3", "u33", "u33d", "u33dc"))
	ix.Remove("a")
	ix.Remove("missing")
	if ix.Len() != 0 || ix.Has("a") {
		t.Fatalf("token still indexed")
	}
	for res := 0; res < token.Resolutions; res++ {
		if ix.CellCount(res) != 0 {
			t.Errorf("CellCount(%d) = %d after remove", res, ix.CellCount(res))
		}
	}
}

func TestMissingCellsAreSkipped(t *testing.T) {
	ix := NewIndex()
	ix.Insert(tok("a", "u3", "", "u33d"))
	if len(ix.QueryByCells([]string{"u3"}, 0)) != 1 {
		t.Errorf("coarse cell not indexed")
	}
	if ix.CellCount(1) != 0 || ix.CellCount(3) != 0 {
		t.Errorf("empty cells should not be indexed")
	}
}

func TestOverlap(t *testing.T) {
	ix := NewIndex()
	zone := map[string]struct{}{"a": {}, "b": {}, "c": {}}
	cases := []struct {
		cells []string
		want  float64
	}{
		{[]string{"a", "b"}, 1},
		{[]string{"a", "x", "y", "z"}, 0.25},
		{[]string{"a", "a", "x"}, 0.5},
		{nil, 0},
		{[]string{"", ""}, 0},
	}
	for _, c := range cases {
		if got := ix.Overlap(c.cells, zone); got != c.want {
			t.Errorf("Overlap(%v) = %v, want %v", c.cells, got, c.want)
		}
	}
	if ix.Overlap([]string{"a"}, nil) != 0 {
		t.Errorf("empty zone should give 0")
	}
}

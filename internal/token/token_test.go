package token

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

func TestParseLooseNumbers(t *testing.T) {
	tk, ok := Parse(map[string]any{
		"id":         "0xabc",
		"lat":        "52.5",
		"lon":        13.4,
		"generation": "3",
		"refCount":   "not-a-number",
		"message":    "hello",
		"cells":      []any{"u33", "u33d", 7, "u33dc0"},
		"createdAt":  float64(1700000000),
	})
	if !ok {
		t.Fatalf("expected ok")
	}
	if tk.Lat != 52.5 || tk.Lon != 13.4 {
		t.Errorf("coords = %v,%v", tk.Lat, tk.Lon)
	}
	if tk.Generation != 3 {
		t.Errorf("Generation = %d, want 3", tk.Generation)
	}
	if tk.RefCount != 0 {
		t.Errorf("RefCount = %d, want 0", tk.RefCount)
	}
	if tk.Cells[0] != "u33" || tk.Cells[2] != "" || tk.Cells[3] != "u33dc0" {
		t.Errorf("Cells = %v", tk.Cells)
	}
	if !tk.CreatedAt.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("CreatedAt = %v", tk.CreatedAt)
	}
	if !tk.HasMessage() {
		t.Errorf("HasMessage = false")
	}
}

func TestParseClampsHugeCounts(t *testing.T) {
	cases := []struct {
		name           string
		gen, ref, color any
		wantGen        int
		wantRef        int
		wantColor      int
	}{
		{"exponent", "1e30", float64(5), "-1e30", math.MaxInt32, 5, math.MinInt32},
		{"infinity", "Inf", "+Inf", "-Inf", math.MaxInt32, math.MaxInt32, math.MinInt32},
		{"nan", "NaN", "NaN", "NaN", 0, 0, 0},
		{"negative", float64(-4), "-2", float64(3), 0, 0, 3},
	}
	for _, c := range cases {
		tk, ok := Parse(map[string]any{"id": "x", "generation": c.gen, "refCount": c.ref, "colorIndex": c.color})
		if !ok {
			t.Fatalf("%s: expected ok", c.name)
		}
		if tk.Generation != c.wantGen || tk.RefCount != c.wantRef || tk.ColorIndex != c.wantColor {
			t.Errorf("%s: generation=%d refCount=%d colorIndex=%d, want %d %d %d",
				c.name, tk.Generation, tk.RefCount, tk.ColorIndex, c.wantGen, c.wantRef, c.wantColor)
		}
	}
}

func TestParseMissingID(t *testing.T) {
	if _, ok := Parse(map[string]any{"lat": 1.0}); ok {
		t.Fatalf("expected record without id to be rejected")
	}
	tk, ok := Parse(map[string]any{"id": float64(42)})
	if !ok || tk.ID != "42" {
		t.Fatalf("numeric id = %q, %v", tk.ID, ok)
	}
}

func TestParseCellKeysAndMillis(t *testing.T) {
	tk, _ := Parse(map[string]any{
		"id":        "a",
		"h3r0":      "u3",
		"cell1":     "u33",
		"createdAt": float64(1700000000123),
		"refCount":  -4.0,
	})
	if tk.Cells[0] != "u3" || tk.Cells[1] != "u33" {
		t.Errorf("Cells = %v", tk.Cells)
	}
	if tk.CreatedAt.UnixMilli() != 1700000000123 {
		t.Errorf("CreatedAt = %v", tk.CreatedAt)
	}
	if tk.RefCount != 0 {
		t.Errorf("negative refCount should clamp to 0, got %d", tk.RefCount)
	}
}

func TestParseJSONSkipsRecordsWithoutID(t *testing.T) {
	ts, skipped, err := ParseJSON([]byte(`[{"id":"a","generation":2},{"lat":1},{"id":"b","createdAt":"2024-01-02T03:04:05Z"}]`))
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	if len(ts) != 2 || skipped != 1 {
		t.Fatalf("got %d tokens, %d skipped", len(ts), skipped)
	}
	if ts[0].Generation != 2 {
		t.Errorf("Generation = %d", ts[0].Generation)
	}
	if ts[1].CreatedAt.Year() != 2024 {
		t.Errorf("CreatedAt = %v", ts[1].CreatedAt)
	}
	if _, _, err := ParseJSON([]byte(`{`)); err == nil {
		t.Errorf("expected decode error")
	}
}

func TestDecodeArrayAndNDJSON(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{"array", `[{"id":"a","lat":1},{"lat":2},{"id":"b","lat":3}]`},
		{"ndjson", "{\"id\":\"a\",\"lat\":1}\n{\"lat\":2}\n\n{\"id\":\"b\",\"lat\":3}\n"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var ids []string
			skipped, err := Decode(strings.NewReader(c.in), func(tk Token) error {
				ids = append(ids, tk.ID)
				return nil
			})
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if skipped != 1 || len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
				t.Errorf("ids=%v skipped=%d", ids, skipped)
			}
		})
	}
}

func TestDecodeStopsOnCallbackError(t *testing.T) {
	stop := errors.New("stop")
	n := 0
	_, err := Decode(strings.NewReader(`[{"id":"a"},{"id":"b"}]`), func(Token) error {
		n++
		return stop
	})
	if !errors.Is(err, stop) || n != 1 {
		t.Errorf("err=%v calls=%d", err, n)
	}
	if _, err := Decode(strings.NewReader("   "), func(Token) error { return nil }); err != nil {
		t.Errorf("empty input: %v", err)
	}
}

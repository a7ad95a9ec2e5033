package cache

import (
	"fmt"
	"testing"
	"time"

	"geotoken/internal/geo"
	"geotoken/internal/priority"
	"geotoken/internal/spatial"
	"geotoken/internal/token"
	"geotoken/internal/viewport"
)

var (
	t0     = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	berlin = geo.Bounds{MinLat: 52.50, MinLon: 13.38, MaxLat: 52.54, MaxLon: 13.44}
	grid   = geo.DefaultGrid()
)

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore(cfg Config) (*Store, *viewport.Tracker, *spatial.Index, *testClock) {
	ix := spatial.NewIndex()
	tr := viewport.NewTracker(viewport.DefaultConfig(), grid, ix)
	s := NewStore(cfg, priority.NewScorer(priority.DefaultConfig()), tr, ix)
	clk := &testClock{t: t0}
	s.now = clk.now
	return s, tr, ix, clk
}

func at(id string, lat, lon float64, gen int) token.Token {
	return token.Token{ID: id, Lat: lat, Lon: lon, Generation: gen, Cells: grid.Cells(lat, lon)}
}

func inView(id string, gen int) token.Token { return at(id, 52.52, 13.41, gen) }
func farAway(id string, gen int) token.Token { return at(id, 48.14, 11.58, gen) }

func TestUpsertPreservesInsertedAt(t *testing.T) {
	s, _, ix, clk := newTestStore(DefaultConfig())
	if !s.Upsert(inView("a", 1)) {
		t.Fatalf("first upsert should insert")
	}
	clk.advance(time.Minute)
	updated := inView("a", 2)
	if s.Upsert(updated) {
		t.Fatalf("second upsert should update")
	}
	e, ok := s.Get("a")
	if !ok {
		t.Fatalf("entry missing")
	}
	if !e.InsertedAt.Equal(t0) {
		t.Errorf("InsertedAt = %v, want %v", e.InsertedAt, t0)
	}
	if !e.LastAccessedAt.Equal(t0.Add(time.Minute)) {
		t.Errorf("LastAccessedAt = %v", e.LastAccessedAt)
	}
	if e.Token.Generation != 2 {
		t.Errorf("Generation = %d, want 2", e.Token.Generation)
	}
	if s.Len() != 1 || ix.Len() != 1 {
		t.Errorf("Len = %d, indexed = %d", s.Len(), ix.Len())
	}
}

func TestMarkViewed(t *testing.T) {
	s, _, _, clk := newTestStore(DefaultConfig())
	s.Upsert(inView("a", 0))
	clk.advance(time.Hour)
	if !s.MarkViewed("a") {
		t.Fatalf("MarkViewed on existing entry returned false")
	}
	if s.MarkViewed("missing") {
		t.Errorf("MarkViewed on missing entry returned true")
	}
	e, _ := s.Get("a")
	if !e.LastAccessedAt.Equal(clk.t) || !e.InsertedAt.Equal(t0) {
		t.Errorf("entry = %+v", e)
	}
}

func TestSoftPassHonoursMinKeep(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTokens, cfg.ForceThreshold = 2, 10
	s, tr, ix, clk := newTestStore(cfg)
	tr.SetViewport(berlin)
	for i := 0; i < 5; i++ {
		s.Upsert(farAway(fmt.Sprintf("t%d", i), i))
	}

	clk.advance(10 * time.Second)
	r := s.EvictionPass(clk.t)
	if r.Evicted != 0 || s.Len() != 5 {
		t.Fatalf("young entries evicted: %+v", r)
	}

	clk.advance(time.Minute)
	r = s.EvictionPass(clk.t)
	if r.Evicted != 3 || s.Len() != 2 || r.Emergency {
		t.Fatalf("pass = %+v, len = %d", r, s.Len())
	}
	// 分数最低（generation 最小）的先被淘汰
	for _, id := range []string{"t0", "t1", "t2"} {
		if _, ok := s.Get(id); ok {
			t.Errorf("%s should have been evicted", id)
		}
		if ix.Has(id) {
			t.Errorf("%s still in spatial index", id)
		}
	}
	for _, id := range []string{"t3", "t4"} {
		if _, ok := s.Get(id); !ok {
			t.Errorf("%s should have been kept", id)
		}
	}
}

func TestSoftPassKeepsZoneTokens(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTokens, cfg.ForceThreshold = 2, 10
	s, tr, _, clk := newTestStore(cfg)
	tr.SetViewport(berlin)
	for i := 0; i < 4; i++ {
		s.Upsert(inView(fmt.Sprintf("z%d", i), i))
	}
	s.Upsert(farAway("far", 8))
	clk.advance(time.Hour)

	r := s.EvictionPass(clk.t)
	if r.InZone != 4 || r.Candidates != 1 {
		t.Fatalf("pass = %+v", r)
	}
	// 只剩区域内条目，已无可淘汰候选
	if s.Len() != 4 || r.Emergency {
		t.Fatalf("len = %d, pass = %+v", s.Len(), r)
	}
	if _, ok := s.Get("far"); ok {
		t.Errorf("out-of-zone entry should be evicted despite high score")
	}
}

func TestEmergencyPass(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTokens, cfg.ForceThreshold = 2, 3
	s, tr, ix, clk := newTestStore(cfg)
	tr.SetViewport(berlin)
	for i := 0; i < 5; i++ {
		s.Upsert(inView(fmt.Sprintf("z%d", i), i))
	}

	r := s.EvictionPass(clk.t)
	if !r.Emergency || r.Evicted != 3 || s.Len() != 2 {
		t.Fatalf("pass = %+v, len = %d", r, s.Len())
	}
	for _, id := range []string{"z3", "z4"} {
		if _, ok := s.Get(id); !ok {
			t.Errorf("%s should survive the emergency pass", id)
		}
	}
	if ix.Len() != 2 {
		t.Errorf("index holds %d tokens, want 2", ix.Len())
	}
	st := s.Stats()
	if !st.LastEmergency || st.LastEvicted != 3 || st.Passes != 1 || st.TotalEvicted != 3 {
		t.Errorf("stats = %+v", st)
	}
}

func TestEmergencyNotTriggeredBelowForceThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTokens, cfg.ForceThreshold = 2, 10
	s, tr, _, clk := newTestStore(cfg)
	tr.SetViewport(berlin)
	for i := 0; i < 4; i++ {
		s.Upsert(inView(fmt.Sprintf("z%d", i), i))
	}
	if r := s.EvictionPass(clk.t); r.Emergency || s.Len() != 4 {
		t.Fatalf("pass = %+v", r)
	}

	r := s.ForcePass(clk.t)
	if !r.Emergency || s.Len() != 2 {
		t.Fatalf("force pass = %+v, len = %d", r, s.Len())
	}
}

func TestPassWithinCapacityEvictsNothing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTokens, cfg.ForceThreshold = 10, 20
	s, _, _, clk := newTestStore(cfg)
	for i := 0; i < 3; i++ {
		s.Upsert(farAway(fmt.Sprintf("t%d", i), 0))
	}
	clk.advance(time.Hour)
	if r := s.EvictionPass(clk.t); r.Evicted != 0 || r.Candidates != 3 {
		t.Fatalf("pass = %+v", r)
	}
}

func TestVisibleTokens(t *testing.T) {
	s, tr, _, _ := newTestStore(DefaultConfig())
	if got := s.VisibleTokens(10); got != nil {
		t.Fatalf("visible before viewport = %v", got)
	}
	tr.SetViewport(berlin)
	s.UpsertMany([]token.Token{
		inView("low", 0),
		inView("high", 5),
		at("mid", 52.51, 13.39, 2),
		at("buffer", 52.555, 13.41, 8),
		farAway("far", 8),
		{ID: "nocell", Lat: 52.53, Lon: 13.43, Generation: 3},
	})

	got := s.VisibleTokens(0)
	want := []string{"high", "nocell", "mid", "low"}
	if len(got) != len(want) {
		t.Fatalf("visible = %v", got)
	}
	for i, id := range want {
		if got[i].Token.ID != id {
			t.Errorf("visible[%d] = %s, want %s", i, got[i].Token.ID, id)
		}
	}
	if top := s.VisibleTokens(2); len(top) != 2 || top[0].Token.ID != "high" {
		t.Errorf("limited visible = %v", top)
	}
	if s.Len() != 6 {
		t.Errorf("VisibleTokens mutated the store")
	}
}

func TestUpdateWithoutCellsStaysSingleVisible(t *testing.T) {
	s, tr, ix, _ := newTestStore(DefaultConfig())
	tr.SetViewport(berlin)
	s.Upsert(inView("a", 1))
	s.Upsert(inView("b", 0))

	partial := inView("a", 4)
	partial.Cells = [token.Resolutions]string{}
	s.Upsert(partial)

	got := s.VisibleTokens(10)
	if len(got) != 2 {
		t.Fatalf("visible = %v, want 2 entries", got)
	}
	if got[0].Token.ID != "a" || got[1].Token.ID != "b" {
		t.Errorf("visible order = [%s %s], want [a b]", got[0].Token.ID, got[1].Token.ID)
	}
	if top := s.VisibleTokens(1); len(top) != 1 || top[0].Token.ID != "a" {
		t.Errorf("limited visible = %v", top)
	}
	if ix.Len() != 2 {
		t.Errorf("indexed = %d, want 2", ix.Len())
	}
}

func TestRemove(t *testing.T) {
	s, _, ix, _ := newTestStore(DefaultConfig())
	s.Upsert(inView("a", 0))
	if !s.Remove("a") || s.Remove("a") {
		t.Fatalf("Remove should succeed once")
	}
	if ix.Has("a") || s.Len() != 0 {
		t.Errorf("entry still present")
	}
}

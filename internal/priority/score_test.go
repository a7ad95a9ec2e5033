package priority

import (
	"testing"
	"time"

	"geotoken/internal/token"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestGenerationMonotonicAndCapped(t *testing.T) {
	s := NewScorer(DefaultConfig())
	base := token.Token{ID: "a", CreatedAt: now.Add(-40 * day)}
	prev := -1.0
	for g := 0; g <= 8; g++ {
		tk := base
		tk.Generation = g
		got := s.Score(tk, now, now)
		if got <= prev {
			t.Fatalf("generation %d scored %v, not above %v", g, got, prev)
		}
		prev = got
	}
	g8, g15 := base, base
	g8.Generation, g15.Generation = 8, 15
	if s.Score(g8, now, now) != s.Score(g15, now, now) {
		t.Errorf("generation above cap changed the score")
	}
}

func TestRefCountMonotonicAndCapped(t *testing.T) {
	s := NewScorer(DefaultConfig())
	base := token.Token{ID: "a", CreatedAt: now.Add(-40 * day)}
	prev := -1.0
	for r := 0; r <= 8; r++ {
		tk := base
		tk.RefCount = r
		got := s.Score(tk, now, now)
		if got <= prev {
			t.Fatalf("refCount %d scored %v, not above %v", r, got, prev)
		}
		prev = got
	}
	r8, r20 := base, base
	r8.RefCount, r20.RefCount = 8, 20
	if s.Explain(r8, now, now).RefCount != s.Explain(r20, now, now).RefCount {
		t.Errorf("refCount above cap changed its term")
	}
}

func TestCalibration(t *testing.T) {
	s := NewScorer(DefaultConfig())
	fresh := token.Token{ID: "new", CreatedAt: now}
	if got := s.Score(fresh, now, now); got < 0.9 || got >= 1.0 {
		t.Errorf("brand new token = %v, want [0.9, 1.0)", got)
	}

	eightDays := token.Token{ID: "8d", CreatedAt: now.Add(-8 * day)}
	if got := s.Score(eightDays, now, now); got >= 0.4 {
		t.Errorf("8-day-old token = %v, want < 0.4", got)
	}

	stale := token.Token{ID: "old", CreatedAt: now.Add(-90 * day)}
	if got := s.Score(stale, now.Add(-7*day), now); got >= 0.2 {
		t.Errorf("90-day-old token = %v, want < 0.2", got)
	}

	established := token.Token{ID: "est", Generation: 5, RefCount: 8, Message: "gm", CreatedAt: now.Add(-30 * day)}
	est := s.Score(established, now.Add(-30*time.Second), now)
	if est <= 3.0 || est >= 3.5 {
		t.Errorf("established token = %v, want (3.0, 3.5)", est)
	}

	twoDays := token.Token{ID: "2d", CreatedAt: now.Add(-2 * day)}
	ratio := est / s.Score(twoDays, now, now)
	if ratio < 3 || ratio > 6 {
		t.Errorf("established/new ratio = %v, want [3, 6]", ratio)
	}
}

func TestFailSoftFields(t *testing.T) {
	s := NewScorer(DefaultConfig())
	tk := token.Token{ID: "x", Generation: -3, RefCount: -1, Message: "   "}
	b := s.Explain(tk, time.Time{}, now)
	if b.Total() != 0 {
		t.Errorf("zero-valued token = %+v, want all-zero", b)
	}
}

func TestDecay(t *testing.T) {
	if decay(-time.Hour, time.Hour) != 1 {
		t.Errorf("negative age should not decay")
	}
	if got := decay(2*time.Hour, time.Hour); got != 0.25 {
		t.Errorf("decay(2 half-lives) = %v", got)
	}
}

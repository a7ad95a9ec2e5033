package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestTokenBucketRefillsEachSecond(t *testing.T) {
	now := time.Unix(1000, 0)
	tb := NewTokenBucket(2)
	tb.now = func() time.Time { return now }
	tb.lastSec = now.Unix()
	if !tb.Allow() || !tb.Allow() {
		t.Fatal("first two requests should pass")
	}
	if tb.Allow() {
		t.Fatal("third request in the same second should be limited")
	}
	now = now.Add(time.Second)
	if !tb.Allow() {
		t.Fatal("bucket should refill on the next second")
	}
}

func TestLimitReturns429(t *testing.T) {
	now := time.Unix(2000, 0)
	tb := NewTokenBucket(1)
	tb.now = func() time.Time { return now }
	tb.lastSec = now.Unix()
	h := Limit(tb, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	want := []int{http.StatusOK, http.StatusTooManyRequests}
	for i, code := range want {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != code {
			t.Fatalf("request %d: code = %d, want %d", i, rec.Code, code)
		}
	}
}

func TestEdgeGeoInjection(t *testing.T) {
	var got GeoHint
	var ok bool
	h := EdgeGeo(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok = GeoHintFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-EO-Geo-Latitude", "31.23")
	req.Header.Set("X-EO-Geo-Longitude", "121.47")
	req.Header.Set("X-EO-Geo-City", "Shanghai")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if !ok || got.Lat != 31.23 || got.Lon != 121.47 || got.City != "Shanghai" {
		t.Fatalf("hint = %+v ok=%v", got, ok)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-EO-Geo-Latitude", "abc")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if ok {
		t.Fatal("invalid headers should not inject a hint")
	}
}

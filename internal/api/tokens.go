package api

import (
	"bytes"
	"io"
	"net/http"
	"strconv"

	"geotoken/internal/logger"
	"geotoken/internal/token"
)

const (
	maxIngestBytes = 8 << 20
	defaultVisible = 500
	maxVisible     = 5000
)

// POST /tokens：JSON 数组或单个对象；缺少单元标识的 token 按坐标补齐
func (h *handlers) ingest(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIngestBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", err)
		return
	}
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '{' {
		b = append(append([]byte{'['}, b...), ']')
	}
	ts, skipped, err := token.ParseJSON(b)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", err)
		return
	}
	grid := h.d.Tracker.Grid()
	for i := range ts {
		if ts[i].Cells == ([token.Resolutions]string{}) {
			ts[i].Cells = grid.Cells(ts[i].Lat, ts[i].Lon)
		}
	}
	resp := ingestResponse{Accepted: len(ts), Skipped: skipped}
	resp.Added = h.d.Store.UpsertMany(ts)
	if resp.Added > 0 && h.d.Scheduler != nil {
		h.d.Scheduler.Trigger()
	}
	if h.d.Persister != nil && len(ts) > 0 {
		fresh := h.dedupe(r.Context(), ts)
		if len(fresh) > 0 {
			if err := h.d.Persister.Upsert(r.Context(), fresh); err != nil {
				logger.L().Warn("token_persist_error", "count", len(fresh), "err", err)
				resp.Error = err.Error()
			} else {
				resp.Persisted = len(fresh)
			}
		}
	}
	logger.L().Debug("token_ingest", "accepted", resp.Accepted, "added", resp.Added, "skipped", skipped, "persisted", resp.Persisted)
	writeJSON(w, http.StatusOK, resp)
}

// POST /tokens/viewed?id=：刷新最近访问时间
func (h *handlers) viewed(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing_id", nil)
		return
	}
	if !h.d.Store.MarkViewed(id) {
		writeError(w, http.StatusNotFound, "not_found", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /tokens/visible?limit=：视口内 token 按分数降序
func (h *handlers) visible(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	limit := defaultVisible
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxVisible {
		limit = maxVisible
	}
	ranked := h.d.Store.VisibleTokens(limit)
	out := make([]map[string]any, 0, len(ranked))
	for _, rk := range ranked {
		m := rk.Token.Record()
		m["score"] = rk.Score
		out = append(out, m)
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(out), "tokens": out})
}

// GET /stats
func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	snap := h.d.Tracker.Snapshot()
	writeJSON(w, http.StatusOK, statsResponse{
		Stats:       h.d.Store.Stats(),
		ViewportSet: snap.Set,
		Viewport:    snap.Viewport,
		Zone:        snap.Zone,
	})
}

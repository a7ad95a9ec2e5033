package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"

	"geotoken/internal/geo"
	"geotoken/internal/logger"
	"geotoken/internal/middleware"
	"geotoken/internal/token"
)

var errNoLocation = errors.New("no location for client")

// POST /viewport：bbox 或 center+zoom
func (h *handlers) viewport(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req viewportRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	if b, ok := req.bounds(); ok {
		if !b.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_bounds", nil)
			return
		}
		h.d.Tracker.SetViewport(b)
	} else if lat, lon, zoom, ok := req.centerZoom(); ok {
		if !validPoint(lat, lon) || zoom < 0 || zoom > 24 {
			writeError(w, http.StatusBadRequest, "invalid_center", nil)
			return
		}
		h.d.Tracker.SetCenterZoom(lat, lon, zoom)
	} else {
		writeError(w, http.StatusBadRequest, "missing_viewport", nil)
		return
	}
	h.applyViewport(w, r)
}

// POST /viewport/locate：按客户端 IP 设置初始视口；mmdb 无结果时使用边缘头部坐标
func (h *handlers) locate(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	lat, lon, err := h.resolveClient(r)
	if err != nil {
		writeError(w, http.StatusNotFound, "no_location", err)
		return
	}
	h.d.Tracker.SetCenterZoom(lat, lon, h.d.LocateZoom)
	h.applyViewport(w, r)
}

func (h *handlers) resolveClient(r *http.Request) (float64, float64, error) {
	ip := getClientIP(r)
	if h.d.Locator != nil {
		lat, lon, err := h.d.Locator.Locate(ip)
		if err == nil {
			return lat, lon, nil
		}
		logger.L().Debug("locate_miss", "ip", ip, "err", err)
	}
	if g, ok := middleware.GeoHintFrom(r.Context()); ok {
		return g.Lat, g.Lon, nil
	}
	return 0, 0, errNoLocation
}

// applyViewport：重新排程清理，并按视口自动拉取；拉取失败返回 502，缓存保持不变
func (h *handlers) applyViewport(w http.ResponseWriter, r *http.Request) {
	if h.d.Scheduler != nil {
		h.d.Scheduler.NotifyViewport()
	}
	snap := h.d.Tracker.Snapshot()
	resp := viewportResponse{Viewport: snap.Viewport, Zone: snap.Zone, ZoneRes: snap.ZoneRes}
	fi, err := h.fetch(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "fetch_failed", err)
		return
	}
	resp.Fetch = fi
	writeJSON(w, http.StatusOK, resp)
}

// fetch：未配置数据源或视口过大时跳过
func (h *handlers) fetch(ctx context.Context) (*fetchInfo, error) {
	if h.d.Source == nil || h.d.Loader == nil {
		return nil, nil
	}
	res, cells, ok := h.fetchCells()
	if !ok {
		logger.L().Debug("viewport_fetch_skip", "reason", "too_many_cells")
		return nil, nil
	}
	lr, err := h.d.Loader.Load(ctx, h.d.Source, cells, res)
	if err != nil {
		return nil, err
	}
	return &fetchInfo{
		Source:  h.d.Source.Name(),
		Res:     res,
		Cells:   len(cells),
		Fetched: lr.Fetched,
		Added:   lr.Added,
		Shared:  lr.Shared,
	}, nil
}

// fetchCells：选择覆盖单元数不超过 FetchCellLimit 的最细分辨率
func (h *handlers) fetchCells() (int, []string, bool) {
	for res := token.Resolutions - 1; res >= 0; res-- {
		cells, ok := h.d.Tracker.ViewportCells(res)
		if ok && len(cells) > 0 && len(cells) <= h.d.FetchCellLimit {
			return res, cells, true
		}
	}
	return 0, nil, false
}

func validPoint(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return false
	}
	return geo.Bounds{MinLat: -90, MinLon: -180, MaxLat: 90, MaxLon: 180}.Contains(lat, lon)
}

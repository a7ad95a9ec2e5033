package api

import (
	"geotoken/internal/cache"
	"geotoken/internal/geo"
)

// 文档注释：视口请求
// 背景：地图客户端可以直接上报可见范围，也可以只上报中心点与缩放级别；两种形式二选一，范围优先。
type viewportRequest struct {
	MinLat *float64 `json:"minLat"`
	MinLon *float64 `json:"minLon"`
	MaxLat *float64 `json:"maxLat"`
	MaxLon *float64 `json:"maxLon"`
	Lat    *float64 `json:"lat"`
	Lon    *float64 `json:"lon"`
	Zoom   *float64 `json:"zoom"`
}

func (v viewportRequest) bounds() (geo.Bounds, bool) {
	if v.MinLat == nil || v.MinLon == nil || v.MaxLat == nil || v.MaxLon == nil {
		return geo.Bounds{}, false
	}
	return geo.Bounds{MinLat: *v.MinLat, MinLon: *v.MinLon, MaxLat: *v.MaxLat, MaxLon: *v.MaxLon}, true
}

func (v viewportRequest) centerZoom() (lat, lon, zoom float64, ok bool) {
	if v.Lat == nil || v.Lon == nil || v.Zoom == nil {
		return 0, 0, 0, false
	}
	return *v.Lat, *v.Lon, *v.Zoom, true
}

type fetchInfo struct {
	Source  string `json:"source"`
	Res     int    `json:"res"`
	Cells   int    `json:"cells"`
	Fetched int    `json:"fetched"`
	Added   int    `json:"added"`
	Shared  bool   `json:"shared"`
}

type viewportResponse struct {
	Viewport geo.Bounds `json:"viewport"`
	Zone     geo.Bounds `json:"zone"`
	ZoneRes  int        `json:"zoneRes"`
	Fetch    *fetchInfo `json:"fetch,omitempty"`
}

type ingestResponse struct {
	Accepted  int    `json:"accepted"`
	Added     int    `json:"added"`
	Skipped   int    `json:"skipped"`
	Persisted int    `json:"persisted"`
	Error     string `json:"error,omitempty"`
}

type statsResponse struct {
	cache.Stats
	ViewportSet bool       `json:"viewportSet"`
	Viewport    geo.Bounds `json:"viewport"`
	Zone        geo.Bounds `json:"zone"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// 包 api：地图客户端使用的 HTTP 接口，上报视口、写入 token 与读取可见集合
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/redis/go-redis/v9"

	"geotoken/internal/cache"
	"geotoken/internal/source"
	"geotoken/internal/token"
	"geotoken/internal/viewport"
)

// Notifier：清理调度器的触发入口
type Notifier interface {
	NotifyViewport()
	Trigger()
}

// Persister：写入实时数据源（通常为 source.Postgres）
type Persister interface {
	Upsert(ctx context.Context, ts []token.Token) error
}

// Locator：IP 到坐标
type Locator interface {
	Locate(ip string) (float64, float64, error)
}

// Deps：路由依赖；Source/Persister/Locator/Redis 为空时对应功能降级
type Deps struct {
	Store     *cache.Store
	Tracker   *viewport.Tracker
	Scheduler Notifier
	Loader    *source.Loader
	Source    source.Source
	Persister Persister
	Locator   Locator
	Redis     *redis.Client

	// FetchCellLimit：自动拉取时单次请求的最大单元数，决定拉取分辨率
	FetchCellLimit int
	// LocateZoom：按 IP 定位时使用的缩放级别
	LocateZoom float64
}

type handlers struct {
	d Deps
}

// 构建并返回 API 路由：独立 ServeMux 便于在主入口挂载到 API_BASE 前缀
func BuildRoutes(d Deps) *http.ServeMux {
	if d.FetchCellLimit <= 0 {
		d.FetchCellLimit = 256
	}
	if d.LocateZoom <= 0 {
		d.LocateZoom = 11
	}
	h := &handlers{d: d}
	mux := http.NewServeMux()
	mux.HandleFunc("/viewport", h.viewport)
	mux.HandleFunc("/viewport/locate", h.locate)
	mux.HandleFunc("/tokens", h.ingest)
	mux.HandleFunc("/tokens/viewed", h.viewed)
	mux.HandleFunc("/tokens/visible", h.visible)
	mux.HandleFunc("/stats", h.stats)
	return mux
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, kind string, err error) {
	resp := errorResponse{Error: kind}
	if err != nil {
		resp.Message = err.Error()
	}
	writeJSON(w, code, resp)
}

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("allow", method)
	writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
	return false
}

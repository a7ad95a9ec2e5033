package middleware

import (
	"context"
	"net/http"
	"strconv"

	"geotoken/internal/logger"
)

// GeoHint：CDN 回源时改写到请求头中的访问者坐标
type GeoHint struct {
	ClientIP string
	Country  string
	City     string
	Lat      float64
	Lon      float64
}

type geoKey struct{}

// 文档注释：边缘地理上下文注入
// 背景：部署在 EdgeOne 等 CDN 之后时，请求头已携带访问者经纬度；本地 mmdb 不可用时可作为初始视口中心。
// 约束：经纬度缺失或解析失败时不注入；不阻断主流程。
func EdgeGeo(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g, ok := parseEdgeGeo(r); ok {
			logger.L().Debug("edge_geo_inject", "ip", g.ClientIP, "country", g.Country, "city", g.City, "lat", g.Lat, "lon", g.Lon)
			r = r.WithContext(context.WithValue(r.Context(), geoKey{}, g))
		}
		next.ServeHTTP(w, r)
	})
}

// GeoHintFrom：读取 EdgeGeo 注入的坐标
func GeoHintFrom(ctx context.Context) (GeoHint, bool) {
	g, ok := ctx.Value(geoKey{}).(GeoHint)
	return g, ok
}

func parseEdgeGeo(r *http.Request) (GeoHint, bool) {
	h := r.Header
	lat, err1 := strconv.ParseFloat(h.Get("X-EO-Geo-Latitude"), 64)
	lon, err2 := strconv.ParseFloat(h.Get("X-EO-Geo-Longitude"), 64)
	if err1 != nil || err2 != nil || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return GeoHint{}, false
	}
	return GeoHint{
		ClientIP: h.Get("X-EO-Client-IP"),
		Country:  h.Get("X-EO-Geo-Country"),
		City:     h.Get("X-EO-Geo-City"),
		Lat:      lat,
		Lon:      lon,
	}, true
}

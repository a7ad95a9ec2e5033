package geo

import "math"

// 文档注释：经纬度包围盒（WGS84）
// 约束：不处理跨越 180° 经线的视口；经度按 [-180,180]、纬度按 [-90,90] 截断。
type Bounds struct {
	MinLat float64 `json:"minLat"`
	MinLon float64 `json:"minLon"`
	MaxLat float64 `json:"maxLat"`
	MaxLon float64 `json:"maxLon"`
}

// Valid：最小值不大于最大值且均在合法范围内
func (b Bounds) Valid() bool {
	if math.IsNaN(b.MinLat) || math.IsNaN(b.MaxLat) || math.IsNaN(b.MinLon) || math.IsNaN(b.MaxLon) {
		return false
	}
	return b.MinLat <= b.MaxLat && b.MinLon <= b.MaxLon &&
		b.MinLat >= -90 && b.MaxLat <= 90 && b.MinLon >= -180 && b.MaxLon <= 180
}

// Contains：闭区间包含判定
func (b Bounds) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

func (b Bounds) Center() (float64, float64) {
	return (b.MinLat + b.MaxLat) / 2, (b.MinLon + b.MaxLon) / 2
}

// Expand：以中心为基准将半宽/半高放大 mult 倍，并截断到全球范围
func (b Bounds) Expand(mult float64) Bounds {
	if mult <= 0 {
		mult = 1
	}
	clat, clon := b.Center()
	hl := (b.MaxLat - b.MinLat) / 2 * mult
	hw := (b.MaxLon - b.MinLon) / 2 * mult
	return Bounds{
		MinLat: clampLat(clat - hl),
		MaxLat: clampLat(clat + hl),
		MinLon: clampLon(clon - hw),
		MaxLon: clampLon(clon + hw),
	}.normalize()
}

func (b Bounds) normalize() Bounds {
	b.MinLat, b.MaxLat = clampLat(b.MinLat), clampLat(b.MaxLat)
	b.MinLon, b.MaxLon = clampLon(b.MinLon), clampLon(b.MaxLon)
	return b
}

// 文档注释：中心点 + 缩放级别转包围盒
// 背景：地图端可能只上报 center/zoom；按 Web Mercator 256px 瓦片换算出给定像素尺寸下的可见范围。
func FromCenterZoom(lat, lon, zoom float64, widthPx, heightPx int) Bounds {
	if widthPx <= 0 {
		widthPx = 1024
	}
	if heightPx <= 0 {
		heightPx = 768
	}
	scale := 256 * math.Exp2(zoom)
	x := (clampLon(lon) + 180) / 360 * scale
	s := math.Sin(clampLat(lat) * math.Pi / 180)
	s = math.Max(-0.9999, math.Min(0.9999, s))
	y := (0.5 - math.Log((1+s)/(1-s))/(4*math.Pi)) * scale
	hw, hh := float64(widthPx)/2, float64(heightPx)/2
	b := Bounds{
		MinLon: pxToLon(x-hw, scale),
		MaxLon: pxToLon(x+hw, scale),
		MaxLat: pxToLat(y-hh, scale),
		MinLat: pxToLat(y+hh, scale),
	}
	return b.normalize()
}

func pxToLon(x, scale float64) float64 { return x/scale*360 - 180 }

func pxToLat(y, scale float64) float64 {
	n := math.Pi - 2*math.Pi*y/scale
	return 180 / math.Pi * math.Atan(math.Sinh(n))
}

func clampLat(v float64) float64 { return math.Max(-90, math.Min(90, v)) }
func clampLon(v float64) float64 { return math.Max(-180, math.Min(180, v)) }

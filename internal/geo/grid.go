package geo

import "geotoken/internal/token"

// 文档注释：四层空间网格
// 背景：层级 0..3 由粗到细，各层对应一个 geohash 精度；查询层与缓存使用同一套单元标识。
// 约束：Precisions 需严格递增；层级越界时返回空结果。
type Grid struct {
	Precisions [token.Resolutions]int
}

// DefaultGrid：3/4/5/6 字符，约 156km/39km/4.9km/1.2km
func DefaultGrid() Grid { return Grid{Precisions: [token.Resolutions]int{3, 4, 5, 6}} }

func (g Grid) valid(res int) bool {
	return res >= 0 && res < token.Resolutions && g.Precisions[res] > 0
}

// Encode：坐标在指定层级的单元标识
func (g Grid) Encode(lat, lon float64, res int) string {
	if !g.valid(res) {
		return ""
	}
	return encodeGeohash(clampLat(lat), clampLon(lon), g.Precisions[res])
}

// Cells：坐标在全部层级上的单元标识，用于为缺少单元的 token 补齐
func (g Grid) Cells(lat, lon float64) [token.Resolutions]string {
	var out [token.Resolutions]string
	for i := range out {
		out[i] = g.Encode(lat, lon, i)
	}
	return out
}

// Cover：覆盖包围盒的单元集合；超过 limit 个单元时 ok=false，由调用方降级
func (g Grid) Cover(b Bounds, res, limit int) ([]string, bool) {
	if !g.valid(res) || !b.Valid() {
		return nil, false
	}
	return cover(b, g.Precisions[res], limit)
}

// Ring：单元自身加 8 邻域
func (g Grid) Ring(cell string) []string {
	if cell == "" {
		return nil
	}
	ns := neighbors(cell)
	if ns == nil {
		return []string{cell}
	}
	return append([]string{cell}, ns...)
}

// CellBounds：单元包围盒
func CellBounds(cell string) (Bounds, bool) { return decodeGeohash(cell) }

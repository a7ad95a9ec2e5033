package geo

import "math"

// 文档注释：geohash（base32）编码/解码、近邻与包围盒覆盖
// 背景：作为四层空间单元标识方案；precision 越大单元越小（6 字符约 1.2km）。
// 约束：近邻返回 8 邻域，极地处越界的邻格被跳过；经度方向环绕。
const base32 = "0123456789bcdefghjkmnpqrstuvwxyz"

var base32Index = func() [256]int8 {
	var idx [256]int8
	for i := range idx {
		idx[i] = -1
	}
	for i := 0; i < len(base32); i++ {
		idx[base32[i]] = int8(i)
	}
	return idx
}()

var bits = [5]int{16, 8, 4, 2, 1}

func encodeGeohash(lat, lon float64, precision int) string {
	latInt := [2]float64{-90, 90}
	lonInt := [2]float64{-180, 180}
	bit, ch := 0, 0
	even := true
	out := make([]byte, 0, precision)
	for len(out) < precision {
		if even {
			mid := (lonInt[0] + lonInt[1]) / 2
			if lon >= mid {
				ch |= bits[bit]
				lonInt[0] = mid
			} else {
				lonInt[1] = mid
			}
		} else {
			mid := (latInt[0] + latInt[1]) / 2
			if lat >= mid {
				ch |= bits[bit]
				latInt[0] = mid
			} else {
				latInt[1] = mid
			}
		}
		even = !even
		if bit < 4 {
			bit++
		} else {
			out = append(out, base32[ch])
			bit, ch = 0, 0
		}
	}
	return string(out)
}

// decodeGeohash：返回单元包围盒；含非法字符时 ok=false
func decodeGeohash(hash string) (Bounds, bool) {
	if hash == "" {
		return Bounds{}, false
	}
	latInt := [2]float64{-90, 90}
	lonInt := [2]float64{-180, 180}
	even := true
	for i := 0; i < len(hash); i++ {
		v := base32Index[hash[i]]
		if v < 0 {
			return Bounds{}, false
		}
		for _, mask := range bits {
			if even {
				mid := (lonInt[0] + lonInt[1]) / 2
				if int(v)&mask != 0 {
					lonInt[0] = mid
				} else {
					lonInt[1] = mid
				}
			} else {
				mid := (latInt[0] + latInt[1]) / 2
				if int(v)&mask != 0 {
					latInt[0] = mid
				} else {
					latInt[1] = mid
				}
			}
			even = !even
		}
	}
	return Bounds{MinLat: latInt[0], MaxLat: latInt[1], MinLon: lonInt[0], MaxLon: lonInt[1]}, true
}

// cellSize：指定精度下单元的纬度高与经度宽（度）
func cellSize(precision int) (float64, float64) {
	n := 5 * precision
	lonBits := (n + 1) / 2
	latBits := n / 2
	return 180 / math.Exp2(float64(latBits)), 360 / math.Exp2(float64(lonBits))
}

func neighbors(hash string) []string {
	b, ok := decodeGeohash(hash)
	if !ok {
		return nil
	}
	h, w := b.MaxLat-b.MinLat, b.MaxLon-b.MinLon
	clat, clon := b.Center()
	out := make([]string, 0, 8)
	for dy := -1; dy <= 1; dy++ {
		lat := clat + float64(dy)*h
		if lat > 90 || lat < -90 {
			continue
		}
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			lon := clon + float64(dx)*w
			if lon > 180 {
				lon -= 360
			} else if lon < -180 {
				lon += 360
			}
			out = append(out, encodeGeohash(lat, lon, len(hash)))
		}
	}
	return out
}

// cover：枚举与包围盒相交的全部单元；数量超过 limit 时返回 ok=false
func cover(b Bounds, precision, limit int) ([]string, bool) {
	h, w := cellSize(precision)
	rows := int(math.Round(180 / h))
	cols := int(math.Round(360 / w))
	i0, i1 := cellIndex(b.MinLat+90, h, rows), cellIndex(b.MaxLat+90, h, rows)
	j0, j1 := cellIndex(b.MinLon+180, w, cols), cellIndex(b.MaxLon+180, w, cols)
	n := (i1 - i0 + 1) * (j1 - j0 + 1)
	if limit > 0 && n > limit {
		return nil, false
	}
	out := make([]string, 0, n)
	for i := i0; i <= i1; i++ {
		lat := -90 + (float64(i)+0.5)*h
		for j := j0; j <= j1; j++ {
			lon := -180 + (float64(j)+0.5)*w
			out = append(out, encodeGeohash(lat, lon, precision))
		}
	}
	return out, true
}

func cellIndex(offset, size float64, count int) int {
	i := int(math.Floor(offset / size))
	if i < 0 {
		return 0
	}
	if i >= count {
		return count - 1
	}
	return i
}

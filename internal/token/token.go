package token

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

// Resolutions：每个 token 携带的空间单元层级数（由粗到细）
const Resolutions = 4

// 文档注释：地理标记（只读）
// 背景：由查询层拉取后写入缓存；缓存只读取字段，不修改。
// 约束：Cells[i] 为第 i 层单元标识，缺失时为空串；数值字段已在入口处统一为类型化数值。
type Token struct {
	ID         string
	Lat        float64
	Lon        float64
	Elevation  float64
	ColorIndex int
	Generation int
	RefCount   int
	Message    string
	Cells      [Resolutions]string
	CreatedAt  time.Time
}

// HasMessage：消息非空（去除空白后）
func (t Token) HasMessage() bool { return strings.TrimSpace(t.Message) != "" }

// Cell：返回指定层级的单元标识，越界返回空串
func (t Token) Cell(res int) string {
	if res < 0 || res >= Resolutions {
		return ""
	}
	return t.Cells[res]
}

// Record：导出为 Parse 可读回的记录（镜像写入用）
func (t Token) Record() map[string]any {
	m := map[string]any{
		"id":         t.ID,
		"lat":        t.Lat,
		"lon":        t.Lon,
		"elevation":  t.Elevation,
		"colorIndex": t.ColorIndex,
		"generation": t.Generation,
		"refCount":   t.RefCount,
		"cells":      t.Cells[:],
	}
	if t.Message != "" {
		m["message"] = t.Message
	}
	if !t.CreatedAt.IsZero() {
		m["createdAt"] = t.CreatedAt.UnixMilli()
	}
	return m
}

// 文档注释：入口解析（宽松）
// 背景：上游字段可能是数字或数字字符串；统一在此转为数值，无法解析时记为 0，不报错。
// 约束：缺少 id 的记录无法作为缓存键，返回 false；其余字段缺失均可接受。
func Parse(raw map[string]any) (Token, bool) {
	var t Token
	t.ID = getStr(raw, "id")
	if t.ID == "" {
		if n, ok := raw["id"]; ok && n != nil {
			if f, ok := toFloat(n); ok {
				t.ID = strconv.FormatFloat(f, 'f', -1, 64)
			}
		}
	}
	if t.ID == "" {
		return Token{}, false
	}
	t.Lat = num(raw, "lat", "latitude")
	t.Lon = num(raw, "lon", "lng", "longitude")
	t.Elevation = num(raw, "elevation", "alt")
	t.ColorIndex = clampInt(num(raw, "colorIndex", "color_index"))
	t.Generation = nonNeg(num(raw, "generation"))
	t.RefCount = nonNeg(num(raw, "refCount", "ref_count", "referenceCount"))
	t.Message = getStr(raw, "message")
	t.Cells = parseCells(raw)
	t.CreatedAt = parseTime(first(raw, "createdAt", "created_at", "mintedAt"))
	return t, true
}

// ParseJSON：解析 JSON 数组，丢弃无 id 的记录并返回丢弃数
func ParseJSON(b []byte) ([]Token, int, error) {
	var raws []map[string]any
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&raws); err != nil {
		return nil, 0, err
	}
	out := make([]Token, 0, len(raws))
	skipped := 0
	for _, r := range raws {
		if t, ok := Parse(r); ok {
			out = append(out, t)
		} else {
			skipped++
		}
	}
	return out, skipped, nil
}

func parseCells(raw map[string]any) [Resolutions]string {
	var cells [Resolutions]string
	if arr, ok := raw["cells"].([]any); ok {
		for i := 0; i < len(arr) && i < Resolutions; i++ {
			if s, ok := arr[i].(string); ok {
				cells[i] = strings.TrimSpace(s)
			}
		}
		return cells
	}
	for i := 0; i < Resolutions; i++ {
		n := strconv.Itoa(i)
		cells[i] = strings.TrimSpace(getStr(raw, "cell"+n))
		if cells[i] == "" {
			cells[i] = strings.TrimSpace(getStr(raw, "h3r"+n))
		}
	}
	return cells
}

func first(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func num(m map[string]any, keys ...string) float64 {
	f, _ := toFloat(first(m, keys...))
	return f
}

// nonNeg：负数与 NaN 归零；超出 int32 的值截断到 MaxInt32，避免 int 转换溢出
func nonNeg(f float64) int {
	if math.IsNaN(f) || f <= 0 {
		return 0
	}
	if f >= math.MaxInt32 {
		return math.MaxInt32
	}
	return int(f)
}

func clampInt(f float64) int {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt32:
		return math.MaxInt32
	case f <= math.MinInt32:
		return math.MinInt32
	}
	return int(f)
}

func getStr(m map[string]any, k string) string {
	if v, ok := m[k].(string); ok {
		return v
	}
	return ""
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// parseTime：支持秒/毫秒时间戳与 RFC3339 字符串
func parseTime(v any) time.Time {
	if v == nil {
		return time.Time{}
	}
	if s, ok := v.(string); ok {
		if ts, err := time.Parse(time.RFC3339, strings.TrimSpace(s)); err == nil {
			return ts
		}
	}
	f, ok := toFloat(v)
	if !ok || f <= 0 {
		return time.Time{}
	}
	if f > 1e12 {
		return time.UnixMilli(int64(f))
	}
	return time.Unix(int64(f), 0)
}

// 文档注释：流式解码
// 背景：导入文件可能很大，按条解码并回调，不整体载入内存；支持 JSON 数组与逐行 JSON（NDJSON）两种格式。
// 约束：回调返回错误时立即停止并原样返回；缺少 id 的记录计入 skipped。
func Decode(r io.Reader, fn func(Token) error) (int, error) {
	skipped := 0
	emit := func(raw map[string]any) error {
		t, ok := Parse(raw)
		if !ok {
			skipped++
			return nil
		}
		return fn(t)
	}
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if errors.Is(err, io.EOF) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	dec := json.NewDecoder(br)
	dec.UseNumber()
	if first == '[' {
		if _, err := dec.Token(); err != nil {
			return 0, err
		}
		for dec.More() {
			var raw map[string]any
			if err := dec.Decode(&raw); err != nil {
				return skipped, err
			}
			if err := emit(raw); err != nil {
				return skipped, err
			}
		}
		_, err := dec.Token()
		return skipped, err
	}
	for {
		var raw map[string]any
		err := dec.Decode(&raw)
		if errors.Is(err, io.EOF) {
			return skipped, nil
		}
		if err != nil {
			return skipped, err
		}
		if err := emit(raw); err != nil {
			return skipped, err
		}
	}
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}

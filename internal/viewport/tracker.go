package viewport

import (
	"sync"

	"geotoken/internal/geo"
	"geotoken/internal/spatial"
	"geotoken/internal/token"
)

// 文档注释：视口跟踪参数
// 背景：缓存区 = 视口半宽/半高 × BufferMultiplier；单元重叠判定在视口边缘更准确，但需要索引已建立。
// 约束：ZoneResolution 为首选层级，覆盖单元数超过 MaxZoneCells 时逐级变粗；全部超限则本次退化为包围盒判定。
type Config struct {
	BufferMultiplier float64
	CellFilter       bool
	ZoneResolution   int
	OverlapThreshold float64
	MaxZoneCells     int
	ScreenWidthPx    int
	ScreenHeightPx   int
}

func DefaultConfig() Config {
	return Config{
		BufferMultiplier: 2.0,
		CellFilter:       true,
		ZoneResolution:   2,
		OverlapThreshold: 0.3,
		MaxZoneCells:     4096,
		ScreenWidthPx:    1024,
		ScreenHeightPx:   768,
	}
}

// Snapshot：当前视口状态的只读副本
type Snapshot struct {
	Set       bool
	Viewport  geo.Bounds
	Zone      geo.Bounds
	ZoneRes   int
	ZoneCells int
}

// Tracker：保存最新视口并派生缓存区；成员判定可与写入并发
type Tracker struct {
	cfg  Config
	grid geo.Grid
	ix   *spatial.Index

	mu        sync.RWMutex
	set       bool
	viewport  geo.Bounds
	zone      geo.Bounds
	zoneRes   int
	zoneCells map[string]struct{}
}

func NewTracker(cfg Config, grid geo.Grid, ix *spatial.Index) *Tracker {
	if cfg.BufferMultiplier <= 0 {
		cfg.BufferMultiplier = 1
	}
	if cfg.ZoneResolution < 0 || cfg.ZoneResolution >= token.Resolutions {
		cfg.ZoneResolution = token.Resolutions - 1
	}
	return &Tracker{cfg: cfg, grid: grid, ix: ix, zoneRes: -1}
}

func (t *Tracker) Grid() geo.Grid { return t.grid }

// SetViewport：保存视口并重算缓存区与区域单元集合
func (t *Tracker) SetViewport(b geo.Bounds) {
	zone := b.Expand(t.cfg.BufferMultiplier)
	res, cells := -1, map[string]struct{}(nil)
	if t.cfg.CellFilter {
		for r := t.cfg.ZoneResolution; r >= 0; r-- {
			cs, ok := t.grid.Cover(zone, r, t.cfg.MaxZoneCells)
			if !ok {
				continue
			}
			cells = make(map[string]struct{}, len(cs))
			for _, c := range cs {
				cells[c] = struct{}{}
			}
			res = r
			break
		}
	}
	t.mu.Lock()
	t.set = true
	t.viewport = b
	t.zone = zone
	t.zoneRes = res
	t.zoneCells = cells
	t.mu.Unlock()
}

// SetCenterZoom：按中心点与缩放级别设置视口
func (t *Tracker) SetCenterZoom(lat, lon, zoom float64) geo.Bounds {
	b := geo.FromCenterZoom(lat, lon, zoom, t.cfg.ScreenWidthPx, t.cfg.ScreenHeightPx)
	t.SetViewport(b)
	return b
}

// InZone：单元模式下按重叠比例判定，否则退化为包围盒判定；未设置视口时恒为 false
func (t *Tracker) InZone(tk token.Token) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.set {
		return false
	}
	if t.zoneRes >= 0 && len(t.zoneCells) > 0 {
		if cell := tk.Cell(t.zoneRes); cell != "" {
			ratio := t.ix.Overlap(t.grid.Ring(cell), t.zoneCells)
			return ratio >= t.cfg.OverlapThreshold
		}
	}
	return t.zone.Contains(tk.Lat, tk.Lon)
}

// InViewport：严格视口包含（渲染用，不含缓冲区）
func (t *Tracker) InViewport(tk token.Token) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.set && t.viewport.Contains(tk.Lat, tk.Lon)
}

// ViewportCells：覆盖当前视口的单元；未设置视口或超限时 ok=false
func (t *Tracker) ViewportCells(res int) ([]string, bool) {
	t.mu.RLock()
	vp, set := t.viewport, t.set
	t.mu.RUnlock()
	if !set {
		return nil, false
	}
	return t.grid.Cover(vp, res, t.cfg.MaxZoneCells)
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Snapshot{
		Set:       t.set,
		Viewport:  t.viewport,
		Zone:      t.zone,
		ZoneRes:   t.zoneRes,
		ZoneCells: len(t.zoneCells),
	}
}

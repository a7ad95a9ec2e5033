// 包 config：集中读取缓存引擎的可调常量；所有键均来自环境变量，解析失败时静默回退默认值
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"geotoken/internal/cache"
	"geotoken/internal/geo"
	"geotoken/internal/priority"
	"geotoken/internal/scheduler"
	"geotoken/internal/token"
	"geotoken/internal/viewport"
)

// Config：各组件参数的汇总
type Config struct {
	Cache     cache.Config
	Priority  priority.Config
	Viewport  viewport.Config
	Scheduler scheduler.Config
	Grid      geo.Grid
}

func Default() Config {
	return Config{
		Cache:     cache.DefaultConfig(),
		Priority:  priority.DefaultConfig(),
		Viewport:  viewport.DefaultConfig(),
		Scheduler: scheduler.DefaultConfig(),
		Grid:      geo.DefaultGrid(),
	}
}

// FromEnv：在默认值基础上按环境变量覆盖
func FromEnv() Config { return FromLookup(os.LookupEnv) }

// FromLookup：便于测试注入的变体
func FromLookup(lookup func(string) (string, bool)) Config {
	c := Default()
	e := env{lookup: lookup}

	c.Cache.MaxTokens = e.int("MAX_CACHED_TOKENS", c.Cache.MaxTokens)
	c.Cache.ForceThreshold = e.int("FORCE_CLEANUP_THRESHOLD", c.Cache.ForceThreshold)
	c.Cache.MinKeep = e.ms("MIN_KEEP_TIME_MS", c.Cache.MinKeep)
	c.Cache.ScoreTTL = e.ms("SCORE_RECOMPUTE_MS", c.Cache.ScoreTTL)
	c.Cache.RenderResolution = e.int("RENDER_RESOLUTION", c.Cache.RenderResolution)

	w := &c.Priority.Weights
	w.Generation = e.float("W_GENERATION", w.Generation)
	w.RefCount = e.float("W_REF_COUNT", w.RefCount)
	w.HasMessage = e.float("W_HAS_MESSAGE", w.HasMessage)
	w.Recency = e.float("W_RECENCY", w.Recency)
	w.Freshness = e.float("W_FRESHNESS", w.Freshness)
	c.Priority.GenerationCap = e.int("GENERATION_CAP", c.Priority.GenerationCap)
	c.Priority.RefCountCap = e.int("REF_COUNT_CAP", c.Priority.RefCountCap)
	c.Priority.ExplorationBonus = e.float("EXPLORATION_BONUS", c.Priority.ExplorationBonus)
	c.Priority.ExplorationBonusDays = e.float("EXPLORATION_BONUS_DAYS", c.Priority.ExplorationBonusDays)
	if d := e.float("FRESHNESS_HALF_LIFE_DAYS", 0); d > 0 {
		c.Priority.FreshnessHalfLife = time.Duration(d * float64(24*time.Hour))
	}
	if h := e.float("RECENCY_HALF_LIFE_HOURS", 0); h > 0 {
		c.Priority.RecencyHalfLife = time.Duration(h * float64(time.Hour))
	}

	c.Viewport.BufferMultiplier = e.float("VIEWPORT_BUFFER_MULTIPLIER", c.Viewport.BufferMultiplier)
	c.Viewport.CellFilter = e.bool("CELL_FILTER_ENABLED", c.Viewport.CellFilter)
	c.Viewport.ZoneResolution = e.int("ZONE_RESOLUTION", c.Viewport.ZoneResolution)
	c.Viewport.OverlapThreshold = e.float("H3_OVERLAP_THRESHOLD", c.Viewport.OverlapThreshold)
	c.Viewport.MaxZoneCells = e.int("MAX_ZONE_CELLS", c.Viewport.MaxZoneCells)
	c.Viewport.ScreenWidthPx = e.int("SCREEN_WIDTH_PX", c.Viewport.ScreenWidthPx)
	c.Viewport.ScreenHeightPx = e.int("SCREEN_HEIGHT_PX", c.Viewport.ScreenHeightPx)

	c.Scheduler.Debounce = e.ms("CLEANUP_DEBOUNCE_MS", c.Scheduler.Debounce)
	c.Scheduler.Periodic = e.ms("PERIODIC_CLEANUP_INTERVAL_MS", c.Scheduler.Periodic)
	c.Scheduler.MemoryInterval = e.ms("MEMORY_CHECK_INTERVAL_MS", c.Scheduler.MemoryInterval)
	c.Scheduler.TokenBytes = int64(e.int("TOKEN_FOOTPRINT_BYTES", int(c.Scheduler.TokenBytes)))
	c.Scheduler.WarningBytes = int64(e.int("MEMORY_WARNING_THRESHOLD", int(c.Scheduler.WarningBytes)))
	c.Scheduler.CriticalBytes = int64(e.int("MEMORY_CRITICAL_THRESHOLD", int(c.Scheduler.CriticalBytes)))

	if v, ok := lookup("CELL_PRECISIONS"); ok {
		if g, ok := parsePrecisions(v); ok {
			c.Grid = g
		}
	}
	return c
}

// parsePrecisions：逗号分隔的四个严格递增正整数
func parsePrecisions(s string) (geo.Grid, bool) {
	parts := strings.Split(s, ",")
	if len(parts) != token.Resolutions {
		return geo.Grid{}, false
	}
	var g geo.Grid
	prev := 0
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n <= prev || n > 12 {
			return geo.Grid{}, false
		}
		g.Precisions[i] = n
		prev = n
	}
	return g, true
}

type env struct {
	lookup func(string) (string, bool)
}

func (e env) str(k string) (string, bool) {
	v, ok := e.lookup(k)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e env) int(k string, def int) int {
	if v, ok := e.str(k); ok {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

func (e env) float(k string, def float64) float64 {
	if v, ok := e.str(k); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			return f
		}
	}
	return def
}

func (e env) ms(k string, def time.Duration) time.Duration {
	if v, ok := e.str(k); ok {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return time.Duration(n) * time.Millisecond
		}
	}
	return def
}

func (e env) bool(k string, def bool) bool {
	if v, ok := e.str(k); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

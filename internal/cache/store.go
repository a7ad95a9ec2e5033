package cache

import (
	"sort"
	"sync"
	"time"

	"geotoken/internal/logger"
	"geotoken/internal/metrics"
	"geotoken/internal/priority"
	"geotoken/internal/spatial"
	"geotoken/internal/token"
	"geotoken/internal/viewport"
)

// 文档注释：缓存容量与淘汰参数
// 背景：MaxTokens 为常规淘汰后的目标容量；ForceThreshold 为硬上限，超出后忽略区域与保留时间强制淘汰。
// 约束：ForceThreshold 应不小于 MaxTokens；MinKeep 内插入的条目只会被强制淘汰移除。
type Config struct {
	MaxTokens        int
	ForceThreshold   int
	MinKeep          time.Duration
	ScoreTTL         time.Duration
	RenderResolution int
}

func DefaultConfig() Config {
	return Config{
		MaxTokens:        5000,
		ForceThreshold:   7500,
		MinKeep:          30 * time.Second,
		ScoreTTL:         5 * time.Second,
		RenderResolution: 3,
	}
}

// Entry：缓存条目；分数为缓存值，访问与更新时失效
type Entry struct {
	Token          token.Token
	InsertedAt     time.Time
	LastAccessedAt time.Time

	score      float64
	scoredAt   time.Time
	scoreValid bool
}

// Ranked：渲染用投影
type Ranked struct {
	Token token.Token `json:"token"`
	Score float64     `json:"score"`
}

// PassResult：单次淘汰结果
type PassResult struct {
	At         time.Time
	Before     int
	After      int
	InZone     int
	Candidates int
	Evicted    int
	Emergency  bool
	Duration   time.Duration
}

// Stats：诊断快照，仅用于遥测
type Stats struct {
	Size           int       `json:"size"`
	Indexed        int       `json:"indexed"`
	ZoneTokens     int       `json:"zoneTokens"`
	ZoneCells      int       `json:"zoneCells"`
	ZoneResolution int       `json:"zoneResolution"`
	LastEvictionAt time.Time `json:"lastEvictionAt"`
	LastEvicted    int       `json:"lastEvicted"`
	LastEmergency  bool      `json:"lastEmergency"`
	Passes         int64     `json:"passes"`
	TotalEvicted   int64     `json:"totalEvicted"`
}

// 文档注释：有界 token 缓存
// 背景：条目表与空间索引作为一个整体由同一把读写锁保护；淘汰需要同时读区域成员、计算分数并从两处删除。
// 约束：写操作（写入/标记/淘汰/删除）独占；渲染读取与统计可并发。
type Store struct {
	cfg     Config
	scorer  *priority.Scorer
	tracker *viewport.Tracker
	ix      *spatial.Index
	now     func() time.Time

	mu      sync.RWMutex
	entries map[string]*Entry
	// 缺少渲染层级单元的条目，渲染时需线性补扫
	noCell map[string]struct{}

	lastPass     PassResult
	passes       int64
	totalEvicted int64
}

func NewStore(cfg Config, scorer *priority.Scorer, tracker *viewport.Tracker, ix *spatial.Index) *Store {
	if cfg.ForceThreshold < cfg.MaxTokens {
		cfg.ForceThreshold = cfg.MaxTokens
	}
	if cfg.RenderResolution < 0 || cfg.RenderResolution >= token.Resolutions {
		cfg.RenderResolution = token.Resolutions - 1
	}
	return &Store{
		cfg:     cfg,
		scorer:  scorer,
		tracker: tracker,
		ix:      ix,
		now:     time.Now,
		entries: make(map[string]*Entry),
		noCell:  make(map[string]struct{}),
	}
}

func (s *Store) Config() Config { return s.cfg }

func hasCells(t token.Token) bool {
	for _, c := range t.Cells {
		if c != "" {
			return true
		}
	}
	return false
}

// Upsert：新条目记录插入时间；已有条目保留插入时间、刷新访问时间，单元存在时重建索引
func (s *Store) Upsert(t token.Token) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLocked(t, s.now())
}

// UpsertMany：批量写入，返回新增条目数
func (s *Store) UpsertMany(ts []token.Token) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	added := 0
	for _, t := range ts {
		if s.upsertLocked(t, now) {
			added++
		}
	}
	metrics.CacheSize.Set(float64(len(s.entries)))
	return added
}

func (s *Store) upsertLocked(t token.Token, now time.Time) bool {
	if t.ID == "" {
		return false
	}
	if e, ok := s.entries[t.ID]; ok {
		e.Token = t
		e.LastAccessedAt = now
		e.scoreValid = false
		// 无单元的更新保留原索引，noCell 与索引保持一致
		if hasCells(t) {
			s.ix.Insert(t)
			s.trackCell(t)
		}
		metrics.UpsertsTotal.WithLabelValues("update").Inc()
		return false
	}
	s.entries[t.ID] = &Entry{Token: t, InsertedAt: now, LastAccessedAt: now}
	s.ix.Insert(t)
	s.trackCell(t)
	metrics.UpsertsTotal.WithLabelValues("insert").Inc()
	metrics.CacheSize.Set(float64(len(s.entries)))
	return true
}

func (s *Store) trackCell(t token.Token) {
	if t.Cell(s.cfg.RenderResolution) == "" {
		s.noCell[t.ID] = struct{}{}
	} else {
		delete(s.noCell, t.ID)
	}
}

// MarkViewed：刷新访问时间；不存在时返回 false
func (s *Store) MarkViewed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return false
	}
	e.LastAccessedAt = s.now()
	e.scoreValid = false
	return true
}

// Remove：显式删除（同时移出索引）
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return false
	}
	s.removeLocked(id)
	metrics.CacheSize.Set(float64(len(s.entries)))
	return true
}

func (s *Store) removeLocked(id string) {
	delete(s.entries, id)
	delete(s.noCell, id)
	s.ix.Remove(id)
}

// Get：返回条目副本
func (s *Store) Get(id string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// scoreLocked：写锁内使用，过期后重算并回写缓存分数
func (s *Store) scoreLocked(e *Entry, now time.Time) float64 {
	if e.scoreValid && now.Sub(e.scoredAt) < s.cfg.ScoreTTL && !now.Before(e.scoredAt) {
		return e.score
	}
	e.score = s.scorer.Score(e.Token, e.LastAccessedAt, now)
	e.scoredAt = now
	e.scoreValid = true
	return e.score
}

// peekScore：读锁内使用，不回写
func (s *Store) peekScore(e *Entry, now time.Time) float64 {
	if e.scoreValid && now.Sub(e.scoredAt) < s.cfg.ScoreTTL && !now.Before(e.scoredAt) {
		return e.score
	}
	return s.scorer.Score(e.Token, e.LastAccessedAt, now)
}

type scored struct {
	e     *Entry
	score float64
}

// ascending：分数升序；同分时插入更早者优先，再按 id 保证确定性
func ascending(xs []scored) {
	sort.Slice(xs, func(i, j int) bool {
		if xs[i].score != xs[j].score {
			return xs[i].score < xs[j].score
		}
		if !xs[i].e.InsertedAt.Equal(xs[j].e.InsertedAt) {
			return xs[i].e.InsertedAt.Before(xs[j].e.InsertedAt)
		}
		return xs[i].e.Token.ID < xs[j].e.Token.ID
	})
}

// EvictionPass：常规淘汰；仍高于 ForceThreshold 时执行强制淘汰
func (s *Store) EvictionPass(now time.Time) PassResult {
	return s.runPass(now, s.cfg.ForceThreshold)
}

// ForcePass：内存告警触发；常规淘汰后只要高于 MaxTokens 即执行强制淘汰
func (s *Store) ForcePass(now time.Time) PassResult {
	return s.runPass(now, s.cfg.MaxTokens)
}

func (s *Store) runPass(now time.Time, emergencyAbove int) PassResult {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	res := PassResult{At: now, Before: len(s.entries)}
	var cands []scored
	for _, e := range s.entries {
		if s.tracker.InZone(e.Token) {
			res.InZone++
			continue
		}
		if now.Sub(e.InsertedAt) < s.cfg.MinKeep {
			continue
		}
		cands = append(cands, scored{e: e, score: s.scoreLocked(e, now)})
	}
	res.Candidates = len(cands)
	if len(s.entries) > s.cfg.MaxTokens {
		ascending(cands)
		for _, c := range cands {
			if len(s.entries) <= s.cfg.MaxTokens {
				break
			}
			s.removeLocked(c.e.Token.ID)
			res.Evicted++
		}
		metrics.EvictionsTotal.WithLabelValues("soft").Add(float64(res.Evicted))
	}

	if len(s.entries) > emergencyAbove {
		res.Emergency = true
		n := s.emergencyLocked(now)
		res.Evicted += n
		metrics.EmergencyPassesTotal.Inc()
		metrics.EvictionsTotal.WithLabelValues("emergency").Add(float64(n))
		logger.L().Warn("cache_emergency_pass", "before", res.Before, "evicted", n, "in_zone", res.InZone, "max", s.cfg.MaxTokens)
	}

	res.After = len(s.entries)
	res.Duration = time.Since(start)
	s.lastPass = res
	s.passes++
	s.totalEvicted += int64(res.Evicted)

	metrics.CacheSize.Set(float64(res.After))
	metrics.ZoneTokens.Set(float64(res.InZone))
	metrics.PassDurationMs.Observe(float64(res.Duration.Microseconds()) / 1000)
	logger.L().Debug("cache_pass_done",
		"before", res.Before,
		"after", res.After,
		"in_zone", res.InZone,
		"candidates", res.Candidates,
		"evicted", res.Evicted,
		"emergency", res.Emergency,
	)
	return res
}

// emergencyLocked：忽略区域与保留时间，按分数升序淘汰至 MaxTokens
func (s *Store) emergencyLocked(now time.Time) int {
	all := make([]scored, 0, len(s.entries))
	for _, e := range s.entries {
		all = append(all, scored{e: e, score: s.scoreLocked(e, now)})
	}
	ascending(all)
	n := 0
	for _, c := range all {
		if len(s.entries) <= s.cfg.MaxTokens {
			break
		}
		s.removeLocked(c.e.Token.ID)
		n++
	}
	return n
}

// VisibleTokens：视口内（不含缓冲区）条目按分数降序，最多 limit 个；limit<=0 返回全部
func (s *Store) VisibleTokens(limit int) []Ranked {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.tracker.Snapshot().Set {
		return nil
	}
	now := s.now()
	var out []Ranked
	seen := make(map[string]struct{})
	add := func(e *Entry) {
		if _, dup := seen[e.Token.ID]; dup {
			return
		}
		seen[e.Token.ID] = struct{}{}
		if s.tracker.InViewport(e.Token) {
			out = append(out, Ranked{Token: e.Token, Score: s.peekScore(e, now)})
		}
	}
	if cells, ok := s.tracker.ViewportCells(s.cfg.RenderResolution); ok {
		for id := range s.ix.QueryByCells(cells, s.cfg.RenderResolution) {
			if e, ok := s.entries[id]; ok {
				add(e)
			}
		}
		for id := range s.noCell {
			if e, ok := s.entries[id]; ok {
				add(e)
			}
		}
	} else {
		for _, e := range s.entries {
			add(e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Token.ID < out[j].Token.ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := s.tracker.Snapshot()
	return Stats{
		Size:           len(s.entries),
		Indexed:        s.ix.Len(),
		ZoneTokens:     s.lastPass.InZone,
		ZoneCells:      snap.ZoneCells,
		ZoneResolution: snap.ZoneRes,
		LastEvictionAt: s.lastPass.At,
		LastEvicted:    s.lastPass.Evicted,
		LastEmergency:  s.lastPass.Emergency,
		Passes:         s.passes,
		TotalEvicted:   s.totalEvicted,
	}
}

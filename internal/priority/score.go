package priority

import (
	"math"
	"time"

	"geotoken/internal/token"
)

const day = 24 * time.Hour

// 文档注释：评分权重（五项之和约为 1）
type Weights struct {
	Generation float64
	RefCount   float64
	HasMessage float64
	Recency    float64
	Freshness  float64
}

// 文档注释：评分参数
// 背景：上限防止长引用链或热门 token 长期压制新内容；探索加成保证新 token 在发现期内保留可见。
// 约束：RecencyHalfLife 需足够短，使多日未查看的 token 近期项可忽略。
type Config struct {
	Weights              Weights
	GenerationCap        int
	RefCountCap          int
	ExplorationBonus     float64
	ExplorationBonusDays float64
	FreshnessHalfLife    time.Duration
	RecencyHalfLife      time.Duration
}

func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			Generation: 0.20,
			RefCount:   0.25,
			HasMessage: 0.15,
			Recency:    0.15,
			Freshness:  0.25,
		},
		GenerationCap:        8,
		RefCountCap:          8,
		ExplorationBonus:     0.55,
		ExplorationBonusDays: 7,
		FreshnessHalfLife:    30 * day,
		RecencyHalfLife:      24 * time.Hour,
	}
}

// Scorer：无状态评分函数，分数越高越应保留、越先展示
type Scorer struct {
	cfg Config
}

func NewScorer(cfg Config) *Scorer {
	if cfg.FreshnessHalfLife <= 0 {
		cfg.FreshnessHalfLife = 30 * day
	}
	if cfg.RecencyHalfLife <= 0 {
		cfg.RecencyHalfLife = 24 * time.Hour
	}
	return &Scorer{cfg: cfg}
}

func (s *Scorer) Config() Config { return s.cfg }

// Breakdown：各分项，便于诊断与测试
type Breakdown struct {
	Generation  float64
	RefCount    float64
	Message     float64
	Recency     float64
	Freshness   float64
	Exploration float64
}

func (b Breakdown) Total() float64 {
	return b.Generation + b.RefCount + b.Message + b.Recency + b.Freshness + b.Exploration
}

// Score：t 与最近访问时间在 now 时刻的分数；纯函数
func (s *Scorer) Score(t token.Token, lastAccessed, now time.Time) float64 {
	return s.Explain(t, lastAccessed, now).Total()
}

func (s *Scorer) Explain(t token.Token, lastAccessed, now time.Time) Breakdown {
	w := s.cfg.Weights
	var b Breakdown
	b.Generation = float64(capped(t.Generation, s.cfg.GenerationCap)) * w.Generation
	b.RefCount = float64(capped(t.RefCount, s.cfg.RefCountCap)) * w.RefCount
	if t.HasMessage() {
		b.Message = w.HasMessage
	}
	if !lastAccessed.IsZero() {
		b.Recency = w.Recency * decay(now.Sub(lastAccessed), s.cfg.RecencyHalfLife)
	}
	// 缺少铸造时间时不计新鲜度与探索加成
	if !t.CreatedAt.IsZero() {
		age := now.Sub(t.CreatedAt)
		b.Freshness = w.Freshness * decay(age, s.cfg.FreshnessHalfLife)
		if age <= time.Duration(s.cfg.ExplorationBonusDays*float64(day)) {
			b.Exploration = s.cfg.ExplorationBonus
		}
	}
	return b
}

func capped(v, limit int) int {
	if v <= 0 {
		return 0
	}
	if limit > 0 && v > limit {
		return limit
	}
	return v
}

// decay：半衰期指数衰减；age<0 视为 0
func decay(age, halfLife time.Duration) float64 {
	if age <= 0 {
		return 1
	}
	return math.Exp2(-float64(age) / float64(halfLife))
}

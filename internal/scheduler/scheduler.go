package scheduler

import (
	"context"
	"sync"
	"time"

	"geotoken/internal/cache"
	"geotoken/internal/logger"
	"geotoken/internal/metrics"
)

// Evictor：调度器所需的缓存能力
type Evictor interface {
	EvictionPass(now time.Time) cache.PassResult
	ForcePass(now time.Time) cache.PassResult
	Len() int
}

// 文档注释：清理调度参数
// 背景：视口变化后去抖触发；视口静止时由周期任务兜底；内存估算 = 条目数 × 单条估算字节。
// 约束：CriticalBytes 应大于 WarningBytes；任一间隔 <=0 表示关闭对应触发器。
type Config struct {
	Debounce       time.Duration
	Periodic       time.Duration
	MemoryInterval time.Duration
	TokenBytes     int64
	WarningBytes   int64
	CriticalBytes  int64
}

func DefaultConfig() Config {
	return Config{
		Debounce:       2 * time.Second,
		Periodic:       60 * time.Second,
		MemoryInterval: 10 * time.Second,
		TokenBytes:     2048,
		WarningBytes:   10 << 20,
		CriticalBytes:  20 << 20,
	}
}

// 文档注释：清理调度器（单写协程）
// 背景：去抖、周期、内存检查三类触发全部投递到同一循环协程执行，彼此不会交错；缓存本身另有读写锁保护并发写入。
// 约束：Start 仅能调用一次；Stop 幂等，会取消全部定时器并等待循环退出。
type Scheduler struct {
	cfg Config
	ev  Evictor
	now func() time.Time

	// wake：容量 1 的唤醒信号；待执行的触发记录在 pending* 中，多次触发合并为一次淘汰
	wake chan struct{}

	mu              sync.Mutex
	debounce        *time.Timer
	seq             uint64
	pendingDebounce bool
	pendingTrigger  bool
	started         bool
	stopped         bool
	cancel          context.CancelFunc
	done            chan struct{}

	// 仅由循环协程读写
	memLevel int
}

func New(cfg Config, ev Evictor) *Scheduler {
	return &Scheduler{
		cfg:   cfg,
		ev:    ev,
		now:   time.Now,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Start：启动循环协程；ctx 取消等同于 Stop
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()
	go s.loop(ctx)
}

// Stop：取消去抖定时器并等待循环退出
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
	cancel, started := s.cancel, s.started
	s.mu.Unlock()
	if !started {
		return
	}
	cancel()
	<-s.done
}

// NotifyViewport：重新计时；只有最后一次计时会触发
func (s *Scheduler) NotifyViewport() {
	if s.cfg.Debounce <= 0 {
		s.Trigger()
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.seq++
	seq := s.seq
	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.debounce = time.AfterFunc(s.cfg.Debounce, func() { s.fireDebounce(seq) })
}

// fireDebounce：已被后续计时取代的触发直接丢弃
func (s *Scheduler) fireDebounce(seq uint64) {
	s.mu.Lock()
	if seq != s.seq || s.stopped {
		s.mu.Unlock()
		return
	}
	s.pendingDebounce = true
	s.mu.Unlock()
	s.signal()
}

// Trigger：立即投递一次常规淘汰（如大批量写入之后）
func (s *Scheduler) Trigger() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.pendingTrigger = true
	s.mu.Unlock()
	s.signal()
}

// signal：标记先于信号写入，信号已满时循环取标记时仍会看到本次触发
func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// takePending：取出并清空待执行标记
func (s *Scheduler) takePending() (debounce, trigger bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	debounce, trigger = s.pendingDebounce, s.pendingTrigger
	s.pendingDebounce, s.pendingTrigger = false, false
	if s.stopped {
		return false, false
	}
	return debounce, trigger
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	periodic := tickerC(s.cfg.Periodic)
	memory := tickerC(s.cfg.MemoryInterval)
	defer periodic.stop()
	defer memory.stop()
	l := logger.L()
	l.Debug("cleanup_scheduler_started", "debounce", s.cfg.Debounce, "periodic", s.cfg.Periodic)
	for {
		select {
		case <-ctx.Done():
			l.Debug("cleanup_scheduler_stopped")
			return
		case <-periodic.c:
			s.runPass("periodic")
		case <-memory.c:
			s.checkMemory()
		case <-s.wake:
			debounce, trigger := s.takePending()
			switch {
			case debounce:
				s.runPass("debounce")
			case trigger:
				s.runPass("trigger")
			}
		}
	}
}

func (s *Scheduler) runPass(trigger string) cache.PassResult {
	metrics.PassesTotal.WithLabelValues(trigger).Inc()
	r := s.ev.EvictionPass(s.now())
	if r.Evicted > 0 {
		logger.L().Info("cleanup_pass", "trigger", trigger, "evicted", r.Evicted, "size", r.After, "emergency", r.Emergency)
	}
	return r
}

const (
	memOK = iota
	memWarning
	memCritical
)

// checkMemory：估算占用；越过告警阈值记一次日志，越过严重阈值立即强制淘汰
func (s *Scheduler) checkMemory() {
	est := int64(s.ev.Len()) * s.cfg.TokenBytes
	metrics.MemoryEstimateBytes.Set(float64(est))
	level := memOK
	switch {
	case s.cfg.CriticalBytes > 0 && est >= s.cfg.CriticalBytes:
		level = memCritical
	case s.cfg.WarningBytes > 0 && est >= s.cfg.WarningBytes:
		level = memWarning
	}
	prev := s.memLevel
	s.memLevel = level
	switch level {
	case memCritical:
		metrics.MemoryAlertsTotal.WithLabelValues("critical").Inc()
		metrics.PassesTotal.WithLabelValues("memory").Inc()
		r := s.ev.ForcePass(s.now())
		logger.L().Warn("memory_critical", "estimate_bytes", est, "evicted", r.Evicted, "size", r.After)
		after := int64(r.After) * s.cfg.TokenBytes
		metrics.MemoryEstimateBytes.Set(float64(after))
		if after < s.cfg.WarningBytes || s.cfg.WarningBytes <= 0 {
			s.memLevel = memOK
		} else {
			s.memLevel = memWarning
		}
	case memWarning:
		if prev < memWarning {
			metrics.MemoryAlertsTotal.WithLabelValues("warning").Inc()
			logger.L().Warn("memory_warning", "estimate_bytes", est, "threshold", s.cfg.WarningBytes)
		}
	}
}

type ticker struct {
	t *time.Ticker
	c <-chan time.Time
}

// tickerC：d<=0 时返回永不触发的通道
func tickerC(d time.Duration) ticker {
	if d <= 0 {
		return ticker{}
	}
	t := time.NewTicker(d)
	return ticker{t: t, c: t.C}
}

func (t ticker) stop() {
	if t.t != nil {
		t.t.Stop()
	}
}

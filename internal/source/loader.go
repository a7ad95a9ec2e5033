package source

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"geotoken/internal/logger"
	"geotoken/internal/metrics"
	"geotoken/internal/token"
)

// Upserter：批量写入缓存
type Upserter interface {
	UpsertMany(ts []token.Token) int
}

// Mirror：实时源成功后的镜像写入（可选）
type Mirror interface {
	Put(ctx context.Context, ts []token.Token) error
}

// LoadResult：一次加载的结果；Shared 表示复用了其他调用方的在途请求
type LoadResult struct {
	Fetched int
	Added   int
	Shared  bool
}

// 文档注释：去重加载器
// 背景：同一数据源同一时刻最多一个在途请求，并发调用方等待同一结果，不重复请求上游。
// 约束：失败时原样返回错误且不写缓存；写缓存只由发起请求的调用方执行一次。
type Loader struct {
	store  Upserter
	mirror Mirror
	sf     singleflight.Group
	// Timeout：共享请求的上限；不随发起方的取消而中断
	Timeout time.Duration
}

const defaultLoadTimeout = 30 * time.Second

func NewLoader(store Upserter, mirror Mirror) *Loader {
	return &Loader{store: store, mirror: mirror, Timeout: defaultLoadTimeout}
}

// Load：调用方取消时自身立即返回 ctx.Err()，在途请求继续为其他等待方完成
func (l *Loader) Load(ctx context.Context, src Source, cells []string, res int) (LoadResult, error) {
	ch := l.sf.DoChan(src.Name(), func() (any, error) {
		timeout := l.Timeout
		if timeout <= 0 {
			timeout = defaultLoadTimeout
		}
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		start := time.Now()
		ts, err := src.Fetch(fctx, cells, res)
		metrics.FetchDurationMs.WithLabelValues(src.Name()).Observe(float64(time.Since(start).Milliseconds()))
		if err != nil {
			metrics.FetchTotal.WithLabelValues(src.Name(), "fail").Inc()
			logger.L().Warn("token_fetch_error", "source", src.Name(), "res", res, "cells", len(cells), "err", err)
			return nil, err
		}
		metrics.FetchTotal.WithLabelValues(src.Name(), "ok").Inc()
		added := l.store.UpsertMany(ts)
		if l.mirror != nil && len(ts) > 0 {
			if err := l.mirror.Put(fctx, ts); err != nil {
				logger.L().Debug("token_mirror_error", "err", err)
			}
		}
		logger.L().Debug("token_fetch_done", "source", src.Name(), "res", res, "fetched", len(ts), "added", added)
		return LoadResult{Fetched: len(ts), Added: added}, nil
	})
	select {
	case <-ctx.Done():
		return LoadResult{}, ctx.Err()
	case out := <-ch:
		if out.Err != nil {
			return LoadResult{Shared: out.Shared}, out.Err
		}
		r := out.Val.(LoadResult)
		r.Shared = out.Shared
		return r, nil
	}
}

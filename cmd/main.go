// 程序入口：仅负责读取配置、初始化依赖并启动服务；API 注册在 internal/api 以便扩展
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"geotoken/internal/api"
	"geotoken/internal/cache"
	"geotoken/internal/config"
	"geotoken/internal/locate"
	"geotoken/internal/logger"
	"geotoken/internal/metrics"
	"geotoken/internal/middleware"
	"geotoken/internal/migrate"
	"geotoken/internal/priority"
	"geotoken/internal/scheduler"
	"geotoken/internal/source"
	"geotoken/internal/spatial"
	"geotoken/internal/utils"
	"geotoken/internal/viewport"
)

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	// 日志初始化
	l := logger.Setup()
	l.Debug("log_init_ok")
	apiBase := os.Getenv("API_BASE")
	if apiBase == "" {
		apiBase = "/api"
	}
	cfg := config.FromEnv()
	l.Debug("config_loaded", "base", apiBase, "max_tokens", cfg.Cache.MaxTokens, "force_threshold", cfg.Cache.ForceThreshold, "precisions", cfg.Grid.Precisions)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 背景：Postgres 与 Redis 均为可选；都缺失时服务仅作为内存缓存运行，依赖客户端 POST /tokens 写入
	var sources []source.Source
	var pg *source.Postgres
	db, err := utils.OpenPostgresFromEnv(ctx)
	if err != nil {
		l.Error("db_open_error", "err", err)
		os.Exit(1)
	}
	if db == nil {
		l.Info("db_disabled")
	} else {
		defer db.Close()
		l.Info("db_open_ok")
		if err := migrate.EnsureSchema(ctx, db); err != nil {
			l.Error("schema_error", "err", err)
			os.Exit(1)
		}
		pg = source.NewPostgres(db, envInt("PG_FETCH_LIMIT", 5000))
		sources = append(sources, pg)
	}
	var persister api.Persister
	if pg != nil {
		persister = pg
	}
	// 文档注释：嵌入式 SQLite 数据源（可选）
	// 背景：未部署 PostgreSQL 时作为实时源与写入目标；两者都配置时排在 Postgres 之后参与兜底
	if p := os.Getenv("SQLITE_PATH"); p != "" {
		lite, err := source.OpenSQLite(ctx, p, envInt("PG_FETCH_LIMIT", 5000))
		if err != nil {
			l.Error("sqlite_open_error", "path", p, "err", err)
			os.Exit(1)
		}
		defer lite.Close()
		l.Info("sqlite_open_ok", "path", p)
		sources = append(sources, lite)
		if persister == nil {
			persister = lite
		}
	}

	var mirror source.Mirror
	rc, err := utils.OpenRedisFromEnv(ctx)
	if err != nil {
		l.Error("redis_ping_error", "err", err)
	}
	if rc == nil {
		l.Info("redis_disabled")
	} else {
		defer rc.Close()
		l.Info("redis_ping_ok")
		rs := source.NewRedis(rc, os.Getenv("REDIS_PREFIX"), utils.RedisTTLFromEnv())
		sources = append(sources, rs)
		// 文档注释：实时源成功后镜像写入 Redis，实时源不可用时 Redis 作为兜底
		if len(sources) > 1 {
			mirror = rs
		}
	}

	// 缓存引擎：索引、评分、视口与存储由入口显式构建并注入
	ix := spatial.NewIndex()
	scorer := priority.NewScorer(cfg.Priority)
	tracker := viewport.NewTracker(cfg.Viewport, cfg.Grid, ix)
	store := cache.NewStore(cfg.Cache, scorer, tracker, ix)
	sched := scheduler.New(cfg.Scheduler, store)
	sched.Start(ctx)
	defer sched.Stop()

	loc, err := locate.Open(os.Getenv("GEOIP_MMDB_PATH"))
	if err != nil {
		l.Error("geoip_open_error", "err", err)
		loc, _ = locate.Open("")
	}
	defer loc.Close()
	l.Info("geoip_ready", "enabled", loc.Enabled())

	deps := api.Deps{
		Store:          store,
		Tracker:        tracker,
		Scheduler:      sched,
		Loader:         source.NewLoader(store, mirror),
		Locator:        loc,
		Redis:          rc,
		FetchCellLimit: envInt("FETCH_CELL_LIMIT", 256),
	}
	if len(sources) > 0 {
		deps.Source = source.NewChain("tokens", sources...)
	}
	deps.Persister = persister
	l.Debug("source_stack", "count", len(sources), "mirror", mirror != nil)

	mux := http.NewServeMux()
	// 文档注释：构建路由（携带缓存、视口与数据源）
	apiMux := api.BuildRoutes(deps)
	mux.Handle(apiBase+"/", http.StripPrefix(apiBase, apiMux))
	mux.Handle(apiBase+"/metrics", metrics.Handler())

	addr := os.Getenv("ADDR")
	if addr == "" {
		addr = ":8080"
	}
	handler := logger.AccessMiddleware(l)(mux)
	handler = middleware.Wrap(handler)
	s := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.Shutdown(sctx)
	}()

	if os.Getenv("TLS_ENABLE") == "true" {
		certPath := os.Getenv("TLS_CERT_PATH")
		keyPath := os.Getenv("TLS_KEY_PATH")
		if certPath == "" {
			certPath = filepath.Join("data", "certs", "server.crt")
		}
		if keyPath == "" {
			keyPath = filepath.Join("data", "certs", "server.key")
		}
		if err := utils.EnsureSelfSignedCert(certPath, keyPath, "geotoken.local"); err != nil {
			l.Error("tls_cert_error", "err", err)
			os.Exit(1)
		}
		l.Info("listening_tls", "addr", addr, "cert", certPath)
		err = s.ListenAndServeTLS(certPath, keyPath)
	} else {
		l.Info("listening", "addr", addr)
		err = s.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.Error("server_error", "err", err)
	}
	l.Info("shutdown")
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

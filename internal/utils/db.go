// 包 utils：外部存储连接工具，统一环境变量读取
package utils

import (
	"context"
	"database/sql"
	"net/url"
	"os"
	"strconv"
	"time"

	"geotoken/internal/logger"

	_ "github.com/lib/pq"
)

// BuildPostgresDSNFromEnv：从 PG_* 环境变量组装 DSN
// 约束：PG_HOST 未设置时返回空串，调用方据此跳过 Postgres 数据源
func BuildPostgresDSNFromEnv() string {
	host := os.Getenv("PG_HOST")
	if host == "" {
		return ""
	}
	port := envOr("PG_PORT", "5432")
	user := envOr("PG_USER", "postgres")
	db := envOr("PG_DB", "geotoken")
	ssl := envOr("PG_SSLMODE", "disable")
	u := url.URL{Scheme: "postgres", Host: host + ":" + port, Path: "/" + db}
	if pass := os.Getenv("PG_PASSWORD"); pass != "" {
		u.User = url.UserPassword(user, pass)
	} else {
		u.User = url.User(user)
	}
	u.RawQuery = "sslmode=" + ssl
	return u.String()
}

// OpenPostgresFromEnv：打开连接池并做一次带超时的 Ping
// 文档注释：未配置 PG_HOST 时返回 (nil, nil)
func OpenPostgresFromEnv(ctx context.Context) (*sql.DB, error) {
	dsn := BuildPostgresDSNFromEnv()
	if dsn == "" {
		return nil, nil
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(envInt("PG_MAX_OPEN_CONNS", 20))
	db.SetMaxIdleConns(envInt("PG_MAX_IDLE_CONNS", 10))
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.L().Debug("pg_open", "host", os.Getenv("PG_HOST"), "db", envOr("PG_DB", "geotoken"))
	return db, nil
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

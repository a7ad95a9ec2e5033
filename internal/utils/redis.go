package utils

import (
	"context"
	"os"
	"strconv"
	"time"

	"geotoken/internal/logger"

	"github.com/redis/go-redis/v9"
)

// OpenRedisFromEnv：从环境变量打开 Redis 客户端，支持 REDIS_DB 选择
// 约束：未配置 REDIS_HOST 时返回 nil；Ping 失败时关闭客户端并返回错误
func OpenRedisFromEnv(ctx context.Context) (*redis.Client, error) {
	host := os.Getenv("REDIS_HOST")
	if host == "" {
		return nil, nil
	}
	addr := host + ":" + envOr("REDIS_PORT", "6379")
	db := 0
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			db = n
		}
	}
	rc := redis.NewClient(&redis.Options{Addr: addr, Password: os.Getenv("REDIS_PASS"), DB: db})
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rc.Ping(pctx).Err(); err != nil {
		_ = rc.Close()
		return nil, err
	}
	logger.L().Debug("redis_open", "addr", addr, "db", db)
	return rc, nil
}

// RedisTTLFromEnv：镜像条目过期时间，REDIS_TOKEN_TTL_SEC 缺省 24h
func RedisTTLFromEnv() time.Duration {
	return time.Duration(envInt("REDIS_TOKEN_TTL_SEC", 86400)) * time.Second
}

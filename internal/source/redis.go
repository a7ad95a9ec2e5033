package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"geotoken/internal/logger"
	"geotoken/internal/token"
)

// 文档注释：Redis 兜底数据源
// 背景：实时源不可用时从 Redis 读取最近镜像的 token；单元集合保存 id，token 本体以 JSON 字符串存储。
// 约束：键格式 <prefix>:cell:<res>:<cell> 与 <prefix>:token:<id>；值中无法解析的记录直接跳过。
type Redis struct {
	rc     *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedis(rc *redis.Client, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = "geotoken"
	}
	return &Redis{rc: rc, prefix: prefix, ttl: ttl}
}

func (r *Redis) Name() string { return "redis" }

func (r *Redis) cellKey(res int, cell string) string {
	return r.prefix + ":cell:" + strconv.Itoa(res) + ":" + cell
}

func (r *Redis) tokenKey(id string) string { return r.prefix + ":token:" + id }

const mgetChunk = 500

func (r *Redis) Fetch(ctx context.Context, cells []string, res int) ([]token.Token, error) {
	if err := validRes(res); err != nil {
		return nil, err
	}
	if len(cells) == 0 {
		return nil, nil
	}
	pipe := r.rc.Pipeline()
	cmds := make([]*redis.StringSliceCmd, 0, len(cells))
	for _, c := range cells {
		cmds = append(cmds, pipe.SMembers(ctx, r.cellKey(res, c)))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis cell lookup: %w", err)
	}
	seen := make(map[string]struct{})
	var ids []string
	for _, cmd := range cmds {
		for _, id := range cmd.Val() {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	var out []token.Token
	for i := 0; i < len(ids); i += mgetChunk {
		end := i + mgetChunk
		if end > len(ids) {
			end = len(ids)
		}
		keys := make([]string, 0, end-i)
		for _, id := range ids[i:end] {
			keys = append(keys, r.tokenKey(id))
		}
		vals, err := r.rc.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("redis token lookup: %w", err)
		}
		for _, v := range vals {
			s, ok := v.(string)
			if !ok || s == "" {
				continue
			}
			if t, ok := decodeRecord(s); ok {
				out = append(out, t)
			}
		}
	}
	logger.L().Debug("redis_fetch_done", "res", res, "cells", len(cells), "tokens", len(out))
	return out, nil
}

// Put：镜像写入（实时源成功后由 Loader 调用）
func (r *Redis) Put(ctx context.Context, ts []token.Token) error {
	if len(ts) == 0 {
		return nil
	}
	pipe := r.rc.Pipeline()
	for _, t := range ts {
		b, err := json.Marshal(t.Record())
		if err != nil {
			return err
		}
		pipe.Set(ctx, r.tokenKey(t.ID), b, r.ttl)
		for res, c := range t.Cells {
			if c == "" {
				continue
			}
			k := r.cellKey(res, c)
			pipe.SAdd(ctx, k, t.ID)
			if r.ttl > 0 {
				pipe.Expire(ctx, k, r.ttl)
			}
		}
	}
	_, err := pipe.Exec(ctx)
	return err
}

func decodeRecord(s string) (token.Token, bool) {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return token.Token{}, false
	}
	return token.Parse(m)
}

package api

import (
	"context"
	"hash/fnv"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"geotoken/internal/token"
)

// 文档注释：计算布隆过滤器位置
// 参数：data 为参与哈希的字节序列，m 为位图大小，k 为哈希次数。
// 背景：使用 FNV64a 结合索引扰动生成 k 个位置，用于 GetBit/SetBit。
func bloomPositions(data []byte, m uint32, k int) []int64 {
	pos := make([]int64, k)
	for i := 0; i < k; i++ {
		h := fnv.New64a()
		h.Write([]byte{byte(i)})
		h.Write(data)
		pos[i] = int64(uint32(h.Sum64() % uint64(m)))
	}
	return pos
}

// bloomKey：token 的持久化指纹，计数或留言变化即视为新版本
func bloomKey(t token.Token) []byte {
	s := t.ID + "|" + strconv.Itoa(t.Generation) + "|" + strconv.Itoa(t.RefCount) + "|" + t.Message
	return []byte(s)
}

// 文档注释：检查并写入布隆过滤器位图
// 背景：客户端会重复提交同一批 token，短周期去重避免每次都写 Postgres。
// 返回：true 表示首次见到（已写入位图）；false 表示窗口内已见过。
// 异常：Redis 交互失败时返回 (true, err)；rc 为 nil 时视为首次见到，避免阻断主流程。
func bloomCheckAndSet(ctx context.Context, rc *redis.Client, key string, positions []int64, ttl time.Duration) (bool, error) {
	if rc == nil {
		return true, nil
	}
	pipe := rc.Pipeline()
	cmds := make([]*redis.IntCmd, len(positions))
	for i, p := range positions {
		cmds[i] = pipe.GetBit(ctx, key, p)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return true, err
	}
	seen := true
	for _, c := range cmds {
		if c.Val() == 0 {
			seen = false
			break
		}
	}
	if seen {
		return false, nil
	}
	pipe = rc.Pipeline()
	for _, p := range positions {
		pipe.SetBit(ctx, key, p, 1)
	}
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	return true, err
}

// dedupe：过滤掉窗口内已持久化过的 token；Redis 异常时全部放行
func (h *handlers) dedupe(ctx context.Context, ts []token.Token) []token.Token {
	if h.d.Redis == nil {
		return ts
	}
	out := ts[:0:0]
	for _, t := range ts {
		fresh, err := bloomCheckAndSet(ctx, h.d.Redis, bloomRedisKey, bloomPositions(bloomKey(t), bloomBits, bloomHashes), bloomTTL)
		if err != nil || fresh {
			out = append(out, t)
		}
	}
	return out
}

const (
	bloomRedisKey = "geotoken:bloom:persist"
	bloomBits     = 1 << 22
	bloomHashes   = 4
	bloomTTL      = 10 * time.Minute
)

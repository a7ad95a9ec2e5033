// 数据导入工具：从本地文件或 URL 读取 token（JSON 数组或 NDJSON），补齐空间单元后批量写入 PostgreSQL
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"geotoken/internal/config"
	"geotoken/internal/logger"
	"geotoken/internal/migrate"
	"geotoken/internal/source"
	"geotoken/internal/token"
	"geotoken/internal/utils"
)

type upserter interface {
	Upsert(ctx context.Context, ts []token.Token) error
}

var (
	flagBatch  int
	flagSQLite string
	flagMirror bool
)

var rootCmd = &cobra.Command{
	Use:   "token-ingest <file|url>",
	Short: "Bulk load geo tokens into the live token table",
	Long:  "Reads a JSON array or NDJSON stream of tokens, fills missing cell ids and upserts them in batches into PostgreSQL (PG_* env) or an SQLite file.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runIngest,
}

func init() {
	rootCmd.Flags().IntVar(&flagBatch, "batch", 5000, "tokens per transaction (env INGEST_BATCH)")
	rootCmd.Flags().StringVar(&flagSQLite, "sqlite", "", "write to this SQLite file instead of PostgreSQL (env SQLITE_PATH)")
	rootCmd.Flags().BoolVar(&flagMirror, "mirror", true, "also write the Redis fallback mirror when REDIS_HOST is set")
}

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	logger.Setup()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// 背景：按批提交降低锁与日志压力；配置了 Redis 时同步写入兜底镜像
func runIngest(cmd *cobra.Command, args []string) error {
	l := logger.L()
	src := os.Getenv("SRC")
	if len(args) > 0 {
		src = args[0]
	}
	if src == "" {
		return errors.New("no source: pass a file or url, or set SRC")
	}
	// 约束：命令行参数优先于环境变量
	batch := flagBatch
	if !cmd.Flags().Changed("batch") {
		batch = envInt("INGEST_BATCH", batch)
	}
	if batch <= 0 {
		batch = 5000
	}
	litePath := flagSQLite
	if !cmd.Flags().Changed("sqlite") {
		litePath = os.Getenv("SQLITE_PATH")
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var dst upserter
	if litePath != "" {
		lite, err := source.OpenSQLite(ctx, litePath, 0)
		if err != nil {
			return err
		}
		defer lite.Close()
		dst = lite
	} else {
		db, err := utils.OpenPostgresFromEnv(ctx)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		if db == nil {
			return errors.New("PG_HOST is not set; use --sqlite for a local file")
		}
		defer db.Close()
		if err := migrate.EnsureSchema(ctx, db); err != nil {
			return err
		}
		dst = source.NewPostgres(db, 0)
	}
	var mirror *source.Redis
	if flagMirror {
		if rc, err := utils.OpenRedisFromEnv(ctx); err != nil {
			l.Warn("redis_ping_error", "err", err)
		} else if rc != nil {
			defer rc.Close()
			mirror = source.NewRedis(rc, os.Getenv("REDIS_PREFIX"), utils.RedisTTLFromEnv())
		}
	}

	rd, err := open(ctx, src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer rd.Close()

	grid := config.FromEnv().Grid
	start := time.Now()
	buf := make([]token.Token, 0, batch)
	count := 0
	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		if err := dst.Upsert(ctx, buf); err != nil {
			return err
		}
		if mirror != nil {
			if err := mirror.Put(ctx, buf); err != nil {
				l.Warn("redis_mirror_error", "err", err)
			}
		}
		count += len(buf)
		l.Debug("ingest_batch", "count", count)
		buf = buf[:0]
		return nil
	}
	skipped, err := token.Decode(rd, func(t token.Token) error {
		if t.Cells == ([token.Resolutions]string{}) {
			t.Cells = grid.Cells(t.Lat, t.Lon)
		}
		buf = append(buf, t)
		if len(buf) >= batch {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	if err != nil {
		l.Error("ingest_error", "imported", count, "err", err)
		return err
	}
	l.Info("ingest_done", "imported", count, "skipped", skipped, "ms", time.Since(start).Milliseconds())
	return nil
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func open(ctx context.Context, src string) (io.ReadCloser, error) {
	if !strings.HasPrefix(src, "http://") && !strings.HasPrefix(src, "https://") {
		return os.Open(src)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &statusError{code: resp.StatusCode}
	}
	return resp.Body, nil
}

type statusError struct{ code int }

func (e *statusError) Error() string { return "bad status " + strconv.Itoa(e.code) }

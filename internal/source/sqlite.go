package source

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"geotoken/internal/logger"
	"geotoken/internal/migrate"
	"geotoken/internal/token"
)

// sqliteChunk：单条 IN (...) 的参数上限
const sqliteChunk = 500

// 文档注释：嵌入式 SQLite 数据源
// 背景：单机部署或离线演示时没有 PostgreSQL，使用同构表作为实时源；纯 Go 驱动无需 CGO。
// 约束：连接池固定为 1，写入串行；:memory: 库同样只存在于这一条连接上。
type SQLite struct {
	db    *sql.DB
	limit int
}

// OpenSQLite：打开或创建数据库文件，设置 pragma 并建表
func OpenSQLite(ctx context.Context, path string, limit int) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	for _, p := range []string{"PRAGMA journal_mode=WAL", "PRAGMA synchronous=NORMAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	if err := migrate.EnsureSQLiteSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	if limit <= 0 {
		limit = 5000
	}
	logger.L().Debug("sqlite_open", "path", path)
	return &SQLite{db: db, limit: limit}, nil
}

func (s *SQLite) Name() string { return "sqlite" }

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) Fetch(ctx context.Context, cells []string, res int) ([]token.Token, error) {
	if err := validRes(res); err != nil {
		return nil, err
	}
	var out []token.Token
	for start := 0; start < len(cells) && len(out) < s.limit; start += sqliteChunk {
		end := min(start+sqliteChunk, len(cells))
		part, err := s.fetchChunk(ctx, cells[start:end], res, s.limit-len(out))
		if err != nil {
			return nil, err
		}
		out = append(out, part...)
	}
	logger.L().Debug("sqlite_fetch_done", "res", res, "cells", len(cells), "tokens", len(out))
	return out, nil
}

func (s *SQLite) fetchChunk(ctx context.Context, cells []string, res, limit int) ([]token.Token, error) {
	args := make([]any, 0, len(cells)+1)
	for _, c := range cells {
		args = append(args, c)
	}
	args = append(args, limit)
	q := fmt.Sprintf(`SELECT id, lat, lon, elevation, color_index, generation, ref_count, message,
        cell_r0, cell_r1, cell_r2, cell_r3, created_at
        FROM tokens WHERE %s IN (%s) ORDER BY created_at DESC LIMIT ?`,
		cellColumns[res], strings.TrimSuffix(strings.Repeat("?,", len(cells)), ","))
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query tokens: %w", err)
	}
	defer rows.Close()
	var out []token.Token
	for rows.Next() {
		var (
			t                   token.Token
			elev                sql.NullFloat64
			color, gen, refs    sql.NullInt64
			msg, c0, c1, c2, c3 sql.NullString
			createdMs           int64
		)
		if err := rows.Scan(&t.ID, &t.Lat, &t.Lon, &elev, &color, &gen, &refs, &msg, &c0, &c1, &c2, &c3, &createdMs); err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		t.Elevation = elev.Float64
		t.ColorIndex = int(color.Int64)
		t.Generation = clampInt(gen.Int64)
		t.RefCount = clampInt(refs.Int64)
		t.Message = msg.String
		t.Cells = [token.Resolutions]string{c0.String, c1.String, c2.String, c3.String}
		if createdMs > 0 {
			t.CreatedAt = time.UnixMilli(createdMs).UTC()
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Upsert：与 Postgres.Upsert 相同的覆盖语义
func (s *SQLite) Upsert(ctx context.Context, ts []token.Token) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO tokens(id, lat, lon, elevation, color_index, generation, ref_count, message, cell_r0, cell_r1, cell_r2, cell_r3, created_at, updated_at)
        VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)
        ON CONFLICT(id) DO UPDATE SET generation=excluded.generation, ref_count=excluded.ref_count, message=excluded.message, updated_at=excluded.updated_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	now := time.Now().UnixMilli()
	for _, t := range ts {
		created := now
		if !t.CreatedAt.IsZero() {
			created = t.CreatedAt.UnixMilli()
		}
		if _, err := stmt.ExecContext(ctx, t.ID, t.Lat, t.Lon, t.Elevation, t.ColorIndex, t.Generation, t.RefCount, t.Message,
			t.Cells[0], t.Cells[1], t.Cells[2], t.Cells[3], created, now); err != nil {
			return fmt.Errorf("upsert token %s: %w", t.ID, err)
		}
	}
	return tx.Commit()
}

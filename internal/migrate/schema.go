package migrate

import (
	"context"
	"database/sql"
	"fmt"

	"geotoken/internal/logger"
)

// statements：token 表与四层单元索引；顺序执行
var statements = []string{
	`CREATE TABLE IF NOT EXISTS tokens (
            id TEXT PRIMARY KEY,
            lat DOUBLE PRECISION NOT NULL,
            lon DOUBLE PRECISION NOT NULL,
            elevation DOUBLE PRECISION,
            color_index INT,
            generation INT,
            ref_count INT,
            message TEXT,
            cell_r0 TEXT,
            cell_r1 TEXT,
            cell_r2 TEXT,
            cell_r3 TEXT,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,
	`CREATE INDEX IF NOT EXISTS idx_tokens_cell_r0 ON tokens(cell_r0)`,
	`CREATE INDEX IF NOT EXISTS idx_tokens_cell_r1 ON tokens(cell_r1)`,
	`CREATE INDEX IF NOT EXISTS idx_tokens_cell_r2 ON tokens(cell_r2)`,
	`CREATE INDEX IF NOT EXISTS idx_tokens_cell_r3 ON tokens(cell_r3)`,
	`CREATE INDEX IF NOT EXISTS idx_tokens_created ON tokens(created_at DESC)`,
}

// sqliteStatements：嵌入式数据源的同构表；created_at 以毫秒整数保存
var sqliteStatements = []string{
	`CREATE TABLE IF NOT EXISTS tokens (
            id TEXT PRIMARY KEY,
            lat REAL NOT NULL,
            lon REAL NOT NULL,
            elevation REAL,
            color_index INTEGER,
            generation INTEGER,
            ref_count INTEGER,
            message TEXT,
            cell_r0 TEXT,
            cell_r1 TEXT,
            cell_r2 TEXT,
            cell_r3 TEXT,
            created_at INTEGER NOT NULL,
            updated_at INTEGER NOT NULL
        )`,
	`CREATE INDEX IF NOT EXISTS idx_tokens_cell_r0 ON tokens(cell_r0)`,
	`CREATE INDEX IF NOT EXISTS idx_tokens_cell_r1 ON tokens(cell_r1)`,
	`CREATE INDEX IF NOT EXISTS idx_tokens_cell_r2 ON tokens(cell_r2)`,
	`CREATE INDEX IF NOT EXISTS idx_tokens_cell_r3 ON tokens(cell_r3)`,
	`CREATE INDEX IF NOT EXISTS idx_tokens_created ON tokens(created_at DESC)`,
}

// EnsureSchema：首次运行自动创建实时数据源所需表与索引
// 约束：使用 IF NOT EXISTS，可重复执行
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	return run(ctx, db, "postgres", statements)
}

// EnsureSQLiteSchema：嵌入式数据源建表
func EnsureSQLiteSchema(ctx context.Context, db *sql.DB) error {
	return run(ctx, db, "sqlite", sqliteStatements)
}

func run(ctx context.Context, db *sql.DB, dialect string, stmts []string) error {
	for i, s := range stmts {
		logger.L().Debug("schema_exec", "dialect", dialect, "idx", i)
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("%s schema statement %d: %w", dialect, i, err)
		}
	}
	logger.L().Debug("schema_done", "dialect", dialect)
	return nil
}

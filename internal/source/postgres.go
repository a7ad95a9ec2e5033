package source

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"geotoken/internal/logger"
	"geotoken/internal/token"
)

var cellColumns = [token.Resolutions]string{"cell_r0", "cell_r1", "cell_r2", "cell_r3"}

// 文档注释：PostgreSQL 实时数据源
// 背景：按层级单元列做 = ANY($1) 查询；表结构见 migrate.EnsureSchema。
// 约束：数值列允许为 NULL，读出时按 0 处理；单次返回上限由 limit 控制。
type Postgres struct {
	db    *sql.DB
	limit int
}

func NewPostgres(db *sql.DB, limit int) *Postgres {
	if limit <= 0 {
		limit = 5000
	}
	return &Postgres{db: db, limit: limit}
}

func (p *Postgres) Name() string { return "postgres" }

func (p *Postgres) Fetch(ctx context.Context, cells []string, res int) ([]token.Token, error) {
	if err := validRes(res); err != nil {
		return nil, err
	}
	if len(cells) == 0 {
		return nil, nil
	}
	q := fmt.Sprintf(`SELECT id, lat, lon, elevation, color_index, generation, ref_count, message,
        cell_r0, cell_r1, cell_r2, cell_r3, created_at
        FROM tokens WHERE %s = ANY($1) ORDER BY created_at DESC LIMIT $2`, cellColumns[res])
	rows, err := p.db.QueryContext(ctx, q, pq.Array(cells), p.limit)
	if err != nil {
		return nil, fmt.Errorf("query tokens: %w", err)
	}
	defer rows.Close()
	var out []token.Token
	for rows.Next() {
		var (
			t                   token.Token
			lat, lon, elev      sql.NullFloat64
			color, gen, refs    sql.NullInt64
			msg, c0, c1, c2, c3 sql.NullString
			created             sql.NullTime
		)
		if err := rows.Scan(&t.ID, &lat, &lon, &elev, &color, &gen, &refs, &msg, &c0, &c1, &c2, &c3, &created); err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		t.Lat, t.Lon, t.Elevation = lat.Float64, lon.Float64, elev.Float64
		t.ColorIndex = int(color.Int64)
		t.Generation = clampInt(gen.Int64)
		t.RefCount = clampInt(refs.Int64)
		t.Message = msg.String
		t.Cells = [token.Resolutions]string{c0.String, c1.String, c2.String, c3.String}
		if created.Valid {
			t.CreatedAt = created.Time
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	logger.L().Debug("pg_fetch_done", "res", res, "cells", len(cells), "tokens", len(out))
	return out, nil
}

// Upsert：写入或更新 token（导入与测试数据准备）
func (p *Postgres) Upsert(ctx context.Context, ts []token.Token) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO tokens(id, lat, lon, elevation, color_index, generation, ref_count, message, cell_r0, cell_r1, cell_r2, cell_r3, created_at)
        VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
        ON CONFLICT (id) DO UPDATE SET generation=EXCLUDED.generation, ref_count=EXCLUDED.ref_count, message=EXCLUDED.message, updated_at=now()`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, t := range ts {
		created := t.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}
		if _, err := stmt.ExecContext(ctx, t.ID, t.Lat, t.Lon, t.Elevation, t.ColorIndex, t.Generation, t.RefCount, t.Message,
			t.Cells[0], t.Cells[1], t.Cells[2], t.Cells[3], created); err != nil {
			return fmt.Errorf("upsert token %s: %w", t.ID, err)
		}
	}
	return tx.Commit()
}

func clampInt(v int64) int {
	if v < 0 {
		return 0
	}
	return int(v)
}

package spatial

import "geotoken/internal/token"

// 文档注释：多层级倒排索引（单元标识 → token id 集合）
// 背景：缓存按视口单元做重叠判定与渲染候选筛选；每层一张倒排表，另存 id → 各层单元以便删除与重建。
// 约束：非线程安全，由 cache.Store 的锁统一保护；缺失的单元直接跳过，不视为错误。
type Index struct {
	levels [token.Resolutions]map[string]map[string]struct{}
	byID   map[string][token.Resolutions]string
}

func NewIndex() *Index {
	ix := &Index{byID: make(map[string][token.Resolutions]string)}
	for i := range ix.levels {
		ix.levels[i] = make(map[string]map[string]struct{})
	}
	return ix
}

// Insert：登记 token 的四层单元；重复插入先移除旧登记，保证每层只出现一次
func (ix *Index) Insert(t token.Token) {
	if t.ID == "" {
		return
	}
	ix.Remove(t.ID)
	for res, cell := range t.Cells {
		if cell == "" {
			continue
		}
		set, ok := ix.levels[res][cell]
		if !ok {
			set = make(map[string]struct{})
			ix.levels[res][cell] = set
		}
		set[t.ID] = struct{}{}
	}
	ix.byID[t.ID] = t.Cells
}

// Remove：从全部层级删除；不存在时为空操作
func (ix *Index) Remove(id string) {
	cells, ok := ix.byID[id]
	if !ok {
		return
	}
	for res, cell := range cells {
		if cell == "" {
			continue
		}
		if set, ok := ix.levels[res][cell]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(ix.levels[res], cell)
			}
		}
	}
	delete(ix.byID, id)
}

// QueryByCells：给定层级下任一单元命中的 token 并集（去重）
func (ix *Index) QueryByCells(cells []string, res int) map[string]struct{} {
	out := make(map[string]struct{})
	if res < 0 || res >= token.Resolutions {
		return out
	}
	lvl := ix.levels[res]
	for _, c := range cells {
		for id := range lvl[c] {
			out[id] = struct{}{}
		}
	}
	return out
}

// Overlap：token 覆盖单元中落入区域单元集合的比例（按去重后的单元计）
func (ix *Index) Overlap(tokenCells []string, zone map[string]struct{}) float64 {
	if len(tokenCells) == 0 || len(zone) == 0 {
		return 0
	}
	seen := make(map[string]struct{}, len(tokenCells))
	in := 0
	for _, c := range tokenCells {
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		if _, ok := zone[c]; ok {
			in++
		}
	}
	if len(seen) == 0 {
		return 0
	}
	return float64(in) / float64(len(seen))
}

// Has：id 是否已登记
func (ix *Index) Has(id string) bool {
	_, ok := ix.byID[id]
	return ok
}

// Len：已登记 token 数
func (ix *Index) Len() int { return len(ix.byID) }

// CellCount：指定层级非空单元数
func (ix *Index) CellCount(res int) int {
	if res < 0 || res >= token.Resolutions {
		return 0
	}
	return len(ix.levels[res])
}

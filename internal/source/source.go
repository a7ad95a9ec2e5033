package source

import (
	"context"
	"errors"
	"fmt"

	"geotoken/internal/token"
)

// 文档注释：token 批量数据源（查询层）
// 背景：按调用方选择的层级与单元集合拉取 token；层级选择策略由调用方决定。
// 约束：Name 需稳定且唯一，用作在途请求去重键。
type Source interface {
	Name() string
	Fetch(ctx context.Context, cells []string, res int) ([]token.Token, error)
}

var ErrNoSource = errors.New("source: no source configured")

// Chain：依次尝试，首个成功的数据源即返回（实时源在前、兜底源在后）
type Chain struct {
	name string
	list []Source
}

func NewChain(name string, list ...Source) *Chain {
	var ps []Source
	for _, s := range list {
		if s != nil {
			ps = append(ps, s)
		}
	}
	return &Chain{name: name, list: ps}
}

func (c *Chain) Name() string { return c.name }

func (c *Chain) Len() int { return len(c.list) }

func (c *Chain) Fetch(ctx context.Context, cells []string, res int) ([]token.Token, error) {
	if len(c.list) == 0 {
		return nil, ErrNoSource
	}
	var errs []error
	for _, s := range c.list {
		ts, err := s.Fetch(ctx, cells, res)
		if err == nil {
			return ts, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errors.Join(errs...)
}

func validRes(res int) error {
	if res < 0 || res >= token.Resolutions {
		return fmt.Errorf("source: resolution %d out of range", res)
	}
	return nil
}

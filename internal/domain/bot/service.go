package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"intellibotic/internal/domain/flow"
	applog "intellibotic/internal/platform/log"
)

// Service Bot 用例：创建、打开、保存流程图、导入导出
type Service struct {
	repo Repository
}

// NewService 创建 Bot 服务
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Patch 部分更新，nil 字段保持不变
type Patch struct {
	Name        *string
	Description *string
	Flow        *flow.Document
}

// Export 导出信封
type Export struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Config      flow.Document `json:"config"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Create 创建 Bot；doc 为空时使用只含 start 节点的空流程图
func (s *Service) Create(ctx context.Context, name, description string, doc *flow.Document) (*Bot, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidBot)
	}

	g := flow.NewEmpty()
	if doc != nil {
		var err error
		if g, err = flow.FromPortable(*doc); err != nil {
			return nil, err
		}
	}

	b := &Bot{
		Name:        name,
		Description: description,
		Flow:        flow.ToPortable(g),
	}
	if owner, ok := OwnerFrom(ctx); ok {
		b.OwnerID = owner
	}
	if err := s.repo.Create(ctx, b); err != nil {
		return nil, err
	}
	applog.Info("[Bot/Create] Bot created", "bot_id", b.ID, "owner_id", b.OwnerID, "name", b.Name)
	return b, nil
}

// Get 获取 Bot
func (s *Service) Get(ctx context.Context, id string) (*Bot, error) {
	return s.repo.Get(ctx, id)
}

// List 分页列出 Bot
func (s *Service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	params.Normalize()
	return s.repo.List(ctx, params)
}

// Update 部分更新名称、描述、流程图
func (s *Service) Update(ctx context.Context, id string, p Patch) (*Bot, error) {
	b, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: name must not be empty", ErrInvalidBot)
		}
		b.Name = name
	}
	if p.Description != nil {
		b.Description = *p.Description
	}
	if p.Flow != nil {
		g, err := flow.FromPortable(*p.Flow)
		if err != nil {
			return nil, err
		}
		b.Flow = flow.ToPortable(g)
	}
	if err := s.repo.Update(ctx, b); err != nil {
		return nil, err
	}
	applog.Info("[Bot/Update] Bot updated", "bot_id", id)
	return b, nil
}

// Delete 删除 Bot
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	applog.Info("[Bot/Delete] Bot deleted", "bot_id", id)
	return nil
}

// Open 加载并重建流程图；结构损坏时返回 ErrCorruptGraph，不做自动修复
func (s *Service) Open(ctx context.Context, id string) (*flow.Graph, error) {
	doc, err := s.repo.LoadFlow(ctx, id)
	if err != nil {
		return nil, err
	}
	g, err := flow.FromPortable(doc)
	if err != nil {
		applog.Error("[Bot/Open] This bot could not be opened", "bot_id", id, "error", err)
		return nil, fmt.Errorf("open bot %s: %w", id, err)
	}
	return g, nil
}

// SaveFlow 整体替换流程图（后写者胜出）。存在 fatal 问题时不落库
func (s *Service) SaveFlow(ctx context.Context, id string, doc flow.Document) (flow.Report, error) {
	g, err := flow.FromPortable(doc)
	if err != nil {
		var ce *flow.CorruptError
		if errors.As(err, &ce) {
			return flow.Report{Issues: ce.Issues}, err
		}
		return flow.Report{}, err
	}
	return s.persist(ctx, id, g)
}

// Mutate 加载流程图，执行一次变更后保存
func (s *Service) Mutate(ctx context.Context, id string, fn func(g *flow.Graph) error) (*flow.Graph, flow.Report, error) {
	g, err := s.Open(ctx, id)
	if err != nil {
		return nil, flow.Report{}, err
	}
	if err := fn(g); err != nil {
		return nil, flow.Report{}, err
	}
	report, err := s.persist(ctx, id, g)
	if err != nil {
		return nil, report, err
	}
	return g, report, nil
}

func (s *Service) persist(ctx context.Context, id string, g *flow.Graph) (flow.Report, error) {
	report := flow.Validate(g)
	if err := report.Err(); err != nil {
		return report, err
	}
	if err := s.repo.SaveFlow(ctx, id, flow.ToPortable(g)); err != nil {
		return report, err
	}
	nodes, edges := g.Len()
	applog.Info("[Bot/Save] Flow saved",
		"bot_id", id,
		"nodes", nodes,
		"edges", edges,
		"warnings", len(report.Warnings()),
	)
	return report, nil
}

// Export 导出 Bot 配置信封
func (s *Service) Export(ctx context.Context, id string) (*Export, error) {
	b, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Export{
		ID:          b.ID,
		Name:        b.Name,
		Description: b.Description,
		Config:      b.Flow,
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
	}, nil
}

// Import 从导出配置（或旧版开发者模式配置）创建 Bot
func (s *Service) Import(ctx context.Context, name, description string, config []byte) (*Bot, error) {
	doc, err := flow.DecodeDocument(config)
	if err != nil {
		return nil, err
	}
	return s.Create(ctx, name, description, &doc)
}

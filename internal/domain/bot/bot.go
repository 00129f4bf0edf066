package bot

import (
	"context"
	"errors"
	"time"

	"intellibotic/internal/domain/flow"
)

var (
	ErrBotNotFound  = errors.New("bot not found")
	ErrBotNameTaken = errors.New("bot name already exists")
	ErrInvalidBot   = errors.New("invalid bot")
)

// Bot 一个聊天机器人：名称、描述与唯一的流程图
type Bot struct {
	ID          string        `json:"id"`
	OwnerID     string        `json:"owner_id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Flow        flow.Document `json:"config"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Summary 列表项，不含流程图
type Summary struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ListParams 列表查询参数
type ListParams struct {
	Page     int
	PageSize int
	Search   string
}

// ListResult 列表查询结果
type ListResult struct {
	Bots     []*Summary `json:"bots"`
	Total    int        `json:"total"`
	Page     int        `json:"page"`
	PageSize int        `json:"page_size"`
}

// Normalize 填充分页默认值
func (p *ListParams) Normalize() {
	if p.Page <= 0 {
		p.Page = 1
	}
	if p.PageSize <= 0 || p.PageSize > 100 {
		p.PageSize = 20
	}
}

// Repository Bot 存储接口
// 未找到返回 ErrBotNotFound；同一 owner 下重名返回 ErrBotNameTaken；其余 I/O 错误透传
// SaveFlow 为整体覆盖，后写者胜出，不做版本校验
type Repository interface {
	Create(ctx context.Context, b *Bot) error
	Get(ctx context.Context, id string) (*Bot, error)
	List(ctx context.Context, params ListParams) (*ListResult, error)
	Update(ctx context.Context, b *Bot) error
	Delete(ctx context.Context, id string) error

	LoadFlow(ctx context.Context, id string) (flow.Document, error)
	SaveFlow(ctx context.Context, id string, doc flow.Document) error
}

type ownerKey struct{}

// WithOwner 注入 owner scope 到 context（供 repository 层使用）
func WithOwner(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerKey{}, ownerID)
}

// OwnerFrom 从 context 读取 owner scope
func OwnerFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ownerKey{}).(string)
	return id, ok && id != ""
}

package redisdb

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"intellibotic/internal/domain/bot"
	"intellibotic/internal/domain/flow"
	applog "intellibotic/internal/platform/log"
)

// FlowCache bot.Repository 的读穿透缓存装饰器
// Get/LoadFlow 先读 Redis，写操作成功后删除缓存
type FlowCache struct {
	bot.Repository
	redis  *redis.Client
	ttl    time.Duration
	prefix string
}

// NewFlowCache 创建缓存装饰器
func NewFlowCache(inner bot.Repository, rdb *redis.Client, ttl time.Duration) *FlowCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &FlowCache{
		Repository: inner,
		redis:      rdb,
		ttl:        ttl,
		prefix:     "bot:flow:",
	}
}

func (c *FlowCache) key(id string) string {
	return c.prefix + id
}

func (c *FlowCache) Get(ctx context.Context, id string) (*bot.Bot, error) {
	if b, ok := c.lookup(ctx, id); ok {
		if owner, scoped := bot.OwnerFrom(ctx); scoped && b.OwnerID != owner {
			return nil, bot.ErrBotNotFound
		}
		return b, nil
	}

	b, err := c.Repository.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	c.store(ctx, b)
	return b, nil
}

func (c *FlowCache) LoadFlow(ctx context.Context, id string) (flow.Document, error) {
	b, err := c.Get(ctx, id)
	if err != nil {
		return flow.Document{}, err
	}
	return b.Flow, nil
}

func (c *FlowCache) Update(ctx context.Context, b *bot.Bot) error {
	if err := c.Repository.Update(ctx, b); err != nil {
		return err
	}
	c.invalidate(ctx, b.ID)
	return nil
}

func (c *FlowCache) Delete(ctx context.Context, id string) error {
	if err := c.Repository.Delete(ctx, id); err != nil {
		return err
	}
	c.invalidate(ctx, id)
	return nil
}

func (c *FlowCache) SaveFlow(ctx context.Context, id string, doc flow.Document) error {
	if err := c.Repository.SaveFlow(ctx, id, doc); err != nil {
		return err
	}
	c.invalidate(ctx, id)
	return nil
}

func (c *FlowCache) lookup(ctx context.Context, id string) (*bot.Bot, bool) {
	data, err := c.redis.Get(ctx, c.key(id)).Bytes()
	if err != nil {
		if err != redis.Nil {
			applog.Warn("[Bot/Cache] Redis GET failed", "bot_id", id, "error", err)
		}
		return nil, false
	}

	var b bot.Bot
	if err := json.Unmarshal(data, &b); err != nil {
		applog.Warn("[Bot/Cache] Failed to unmarshal cached bot", "bot_id", id, "error", err)
		return nil, false
	}
	applog.Debug("[Bot/Cache] Hit", "bot_id", id)
	return &b, true
}

func (c *FlowCache) store(ctx context.Context, b *bot.Bot) {
	data, err := json.Marshal(b)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, c.key(b.ID), data, c.ttl).Err(); err != nil {
		applog.Warn("[Bot/Cache] Failed to set cache", "bot_id", b.ID, "error", err)
	}
}

func (c *FlowCache) invalidate(ctx context.Context, id string) {
	if err := c.redis.Del(ctx, c.key(id)).Err(); err != nil {
		applog.Warn("[Bot/Cache] Failed to invalidate", "bot_id", id, "error", err)
	}
}

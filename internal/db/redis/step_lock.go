package redisdb

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	applog "intellibotic/internal/platform/log"
)

// StepLock 基于 SETNX 的会话级锁，串行化同一会话的回复
type StepLock struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewStepLock 创建会话锁，ttl 为最长持有时间
func NewStepLock(client *redis.Client, ttl time.Duration) *StepLock {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &StepLock{client: client, ttl: ttl, prefix: "sim:lock:"}
}

// Acquire 获取锁，已被持有时返回 false
func (l *StepLock) Acquire(ctx context.Context, sessionID string) (bool, error) {
	acquired, err := l.client.SetNX(ctx, l.prefix+sessionID, "locked", l.ttl).Result()
	if err != nil {
		applog.Warn("[Sim/Lock] Failed to acquire lock", "session_id", sessionID, "error", err)
		return false, err
	}
	if !acquired {
		applog.Debug("[Sim/Lock] Lock already held", "session_id", sessionID)
	}
	return acquired, nil
}

// Release 释放锁
func (l *StepLock) Release(ctx context.Context, sessionID string) error {
	if err := l.client.Del(ctx, l.prefix+sessionID).Err(); err != nil {
		applog.Warn("[Sim/Lock] Failed to release lock", "session_id", sessionID, "error", err)
		return err
	}
	return nil
}

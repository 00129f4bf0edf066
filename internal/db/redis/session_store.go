package redisdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"intellibotic/internal/domain/simulator"
	applog "intellibotic/internal/platform/log"
)

// SessionStore Redis Hash 实现的模拟会话存储，version 字段做 CAS
type SessionStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// SessionStoreConfig 会话存储配置
type SessionStoreConfig struct {
	Client    *redis.Client
	KeyPrefix string        // 默认 "sim:session:"
	TTL       time.Duration // 默认 1h
}

// NewSessionStore 创建会话存储
func NewSessionStore(cfg SessionStoreConfig) *SessionStore {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "sim:session:"
	}
	if cfg.TTL == 0 {
		cfg.TTL = time.Hour
	}
	return &SessionStore{
		client:    cfg.Client,
		keyPrefix: cfg.KeyPrefix,
		ttl:       cfg.TTL,
	}
}

func (s *SessionStore) key(id string) string {
	return s.keyPrefix + id
}

// Get 读取会话，不存在或已过期返回 ErrSessionNotFound
func (s *SessionStore) Get(ctx context.Context, id string) (*simulator.Session, error) {
	vals, err := s.client.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		applog.Error("[Sim/Redis] HGETALL failed", "session_id", id, "error", err)
		return nil, fmt.Errorf("redis HGETALL: %w", err)
	}
	if len(vals) == 0 {
		return nil, simulator.ErrSessionNotFound
	}

	sess := &simulator.Session{
		ID:        id,
		BotID:     vals["bot_id"],
		OwnerID:   vals["owner_id"],
		Cursor:    vals["cursor"],
		Status:    simulator.Status(vals["status"]),
		Variables: make(map[string]any),
	}
	decodeField(id, vals, "transcript", &sess.Transcript)
	decodeField(id, vals, "variables", &sess.Variables)
	decodeField(id, vals, "visited", &sess.Visited)
	decodeField(id, vals, "force_branches", &sess.ForceBranches)

	sess.Version, _ = strconv.ParseInt(vals["version"], 10, 64)
	sess.CreatedAt, _ = time.Parse(time.RFC3339Nano, vals["created_at"])
	sess.UpdatedAt, _ = time.Parse(time.RFC3339Nano, vals["updated_at"])
	if sess.Variables == nil {
		sess.Variables = make(map[string]any)
	}
	return sess, nil
}

func decodeField(id string, vals map[string]string, field string, dst any) {
	raw, ok := vals[field]
	if !ok || raw == "" {
		return
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		applog.Warn("[Sim/Redis] Failed to parse field", "session_id", id, "field", field, "error", err)
	}
}

// Save 仅在当前 version 等于 expectedVersion 时写入（CAS），并刷新 TTL
func (s *SessionStore) Save(ctx context.Context, sess *simulator.Session, expectedVersion int64) error {
	key := s.key(sess.ID)
	fields, err := buildSessionFields(sess)
	if err != nil {
		return err
	}

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, key, "version").Int64()
		if err == redis.Nil {
			current = 0
		} else if err != nil {
			return err
		}
		if current != expectedVersion {
			return simulator.ErrSessionConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fields)
			pipe.Expire(ctx, key, s.ttl)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		applog.Debug("[Sim/Redis] Session saved", "session_id", sess.ID, "version", sess.Version)
		return nil
	case errors.Is(err, simulator.ErrSessionConflict), errors.Is(err, redis.TxFailedErr):
		applog.Warn("[Sim/Redis] Version conflict", "session_id", sess.ID, "expected", expectedVersion)
		return simulator.ErrSessionConflict
	default:
		return fmt.Errorf("redis cas save: %w", err)
	}
}

// Delete 删除会话
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, s.key(id)).Result()
	if err != nil {
		return fmt.Errorf("redis DEL: %w", err)
	}
	if n == 0 {
		return simulator.ErrSessionNotFound
	}
	return nil
}

func buildSessionFields(sess *simulator.Session) (map[string]any, error) {
	fields := map[string]any{
		"bot_id":     sess.BotID,
		"owner_id":   sess.OwnerID,
		"cursor":     sess.Cursor,
		"status":     string(sess.Status),
		"version":    strconv.FormatInt(sess.Version, 10),
		"created_at": sess.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at": sess.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	for field, v := range map[string]any{
		"transcript":     sess.Transcript,
		"variables":      sess.Variables,
		"visited":        sess.Visited,
		"force_branches": sess.ForceBranches,
	} {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode session %s: %w", field, err)
		}
		fields[field] = string(data)
	}
	return fields, nil
}

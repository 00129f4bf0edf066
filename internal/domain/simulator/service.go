package simulator

import (
	"context"
	"fmt"

	"intellibotic/internal/domain/bot"
	"intellibotic/internal/domain/flow"
	applog "intellibotic/internal/platform/log"
)

// FlowOpener 按 Bot ID 打开流程图（bot.Service 实现）
type FlowOpener interface {
	Open(ctx context.Context, id string) (*flow.Graph, error)
}

// Service 模拟会话用例：加载流程图、推进会话、CAS 保存
type Service struct {
	engine *Engine
	bots   FlowOpener
	store  Store
	locker Locker
}

// NewService locker 可为空（单进程内存模式）
func NewService(engine *Engine, bots FlowOpener, store Store, locker Locker) *Service {
	return &Service{engine: engine, bots: bots, store: store, locker: locker}
}

// Start 为 Bot 新建模拟会话
func (s *Service) Start(ctx context.Context, botID string, opts StartOptions) (*Session, error) {
	g, err := s.bots.Open(ctx, botID)
	if err != nil {
		return nil, err
	}
	opts.BotID = botID
	if owner, ok := bot.OwnerFrom(ctx); ok {
		opts.OwnerID = owner
	}

	sess, err := s.engine.Start(ctx, g, opts)
	if err != nil {
		return nil, err
	}
	sess.Version = 1
	if err := s.store.Save(ctx, sess, 0); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	applog.FromContext(ctx).Info("[Sim/Start] session created", "session_id", sess.ID, "bot_id", botID, "status", sess.Status)
	return sess, nil
}

// Get 读取会话，非本人会话视为不存在
func (s *Service) Get(ctx context.Context, id string) (*Session, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if owner, ok := bot.OwnerFrom(ctx); ok && sess.OwnerID != owner {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Reply 提交一条用户输入
func (s *Service) Reply(ctx context.Context, id, text string) (*Session, error) {
	return s.advance(ctx, id, false, func(sess *Session, g *flow.Graph) error {
		return s.engine.Reply(ctx, sess, g, text)
	})
}

// Reset 使用 Bot 当前流程图重新开始会话
func (s *Service) Reset(ctx context.Context, id string) (*Session, error) {
	return s.advance(ctx, id, true, func(sess *Session, g *flow.Graph) error {
		s.engine.Reset(ctx, sess, g)
		return nil
	})
}

func (s *Service) advance(ctx context.Context, id string, allowDone bool, fn func(*Session, *flow.Graph) error) (*Session, error) {
	if s.locker != nil {
		ok, err := s.locker.Acquire(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("lock session: %w", err)
		}
		if !ok {
			return nil, ErrSessionConflict
		}
		defer func() {
			if err := s.locker.Release(context.WithoutCancel(ctx), id); err != nil {
				applog.FromContext(ctx).Warn("[Sim/Lock] release failed", "session_id", id, "err", err)
			}
		}()
	}

	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Status.Done() && !allowDone {
		return nil, ErrSessionFinished
	}
	g, err := s.bots.Open(ctx, sess.BotID)
	if err != nil {
		return nil, err
	}
	if err := fn(sess, g); err != nil {
		return nil, err
	}

	expected := sess.Version
	sess.Version++
	if err := s.store.Save(ctx, sess, expected); err != nil {
		return nil, err
	}
	return sess, nil
}

// Delete 删除会话
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return s.store.Delete(ctx, id)
}

// Transcript 导出纯文本对话记录
func (s *Service) Transcript(ctx context.Context, id string) (string, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return sess.ExportTranscript(), nil
}

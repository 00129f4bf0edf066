package simulator

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"
)

var (
	ErrSessionNotFound  = errors.New("simulation session not found")
	ErrSessionFinished  = errors.New("simulation session is finished")
	ErrSessionConflict  = errors.New("simulation session was modified concurrently")
	ErrFunctionNotFound = errors.New("function not registered")
	ErrExpression       = errors.New("invalid condition expression")
)

// Role 对话消息角色
type Role string

const (
	RoleBot    Role = "bot"
	RoleUser   Role = "user"
	RoleSystem Role = "system"
)

// Status 会话状态
type Status string

const (
	StatusActive        Status = "active"
	StatusAwaitingInput Status = "awaiting_input"
	StatusFinished      Status = "finished"
	StatusStepLimit     Status = "step_limit"
)

// Done 会话是否已结束（不再接受回复）
func (s Status) Done() bool {
	return s == StatusFinished || s == StatusStepLimit
}

// Message 对话记录中的一条消息
type Message struct {
	Role   Role      `json:"role"`
	Text   string    `json:"text"`
	NodeID string    `json:"node_id,omitempty"`
	At     time.Time `json:"at"`
}

// Session 模拟会话
type Session struct {
	ID            string            `json:"id"`
	BotID         string            `json:"bot_id"`
	OwnerID       string            `json:"owner_id"`
	Cursor        string            `json:"cursor,omitempty"`
	Status        Status            `json:"status"`
	Transcript    []Message         `json:"transcript"`
	Variables     map[string]any    `json:"variables"`
	Visited       []string          `json:"visited"`
	ForceBranches map[string]string `json:"force_branches,omitempty"`
	Version       int64             `json:"version"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Clone 深拷贝（variables 只拷贝一层）
func (s *Session) Clone() *Session {
	c := *s
	c.Transcript = append([]Message(nil), s.Transcript...)
	c.Visited = append([]string(nil), s.Visited...)
	c.Variables = maps.Clone(s.Variables)
	c.ForceBranches = maps.Clone(s.ForceBranches)
	return &c
}

// ExportTranscript 以 "[role] text" 每行一条导出对话
func (s *Session) ExportTranscript() string {
	var sb strings.Builder
	for _, m := range s.Transcript {
		fmt.Fprintf(&sb, "[%s] %s\n", m.Role, m.Text)
	}
	return sb.String()
}

// Store 会话存储端口。Save 以 expectedVersion 做 CAS，新会话传 0
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session, expectedVersion int64) error
	Delete(ctx context.Context, id string) error
}

// Locker 会话级互斥，防止同一会话并发回复
type Locker interface {
	Acquire(ctx context.Context, sessionID string) (bool, error)
	Release(ctx context.Context, sessionID string) error
}

// MemoryStore 进程内会话存储（测试与 memory:// 模式）
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) Save(_ context.Context, s *Session, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var current int64
	if cur, ok := m.sessions[s.ID]; ok {
		current = cur.Version
	}
	if current != expectedVersion {
		return ErrSessionConflict
	}
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(m.sessions, id)
	return nil
}

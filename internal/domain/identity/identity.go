package identity

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAuth         = errors.New("could not validate credentials")
	ErrUserExists   = errors.New("username already registered")
	ErrTokenRevoked = errors.New("token has been revoked")
)

// User 账号
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Identity 已验证的请求身份
type Identity struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	TokenID   string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Token 登录结果
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// UserStore 用户存储端口，未找到返回 ErrAuth，重名返回 ErrUserExists
type UserStore interface {
	CreateUser(ctx context.Context, u *User) error
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
}

// Denylist 已注销 token 的 jti 集合，条目在 token 过期后可丢弃
type Denylist interface {
	Revoke(ctx context.Context, jti string, until time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// MemoryUserStore 进程内用户存储（测试与 memory:// 模式）
type MemoryUserStore struct {
	mu     sync.RWMutex
	byID   map[string]*User
	byName map[string]string
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{byID: make(map[string]*User), byName: make(map[string]string)}
}

func (m *MemoryUserStore) CreateUser(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(u.Username)
	if _, ok := m.byName[key]; ok {
		return ErrUserExists
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	c := *u
	m.byID[u.ID] = &c
	m.byName[key] = u.ID
	return nil
}

func (m *MemoryUserStore) GetUserByUsername(_ context.Context, username string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byName[strings.ToLower(username)]
	if !ok {
		return nil, ErrAuth
	}
	c := *m.byID[id]
	return &c, nil
}

func (m *MemoryUserStore) GetUserByID(_ context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, ErrAuth
	}
	c := *u
	return &c, nil
}

// MemoryDenylist 进程内 denylist
type MemoryDenylist struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewMemoryDenylist() *MemoryDenylist {
	return &MemoryDenylist{entries: make(map[string]time.Time), now: time.Now}
}

func (d *MemoryDenylist) Revoke(_ context.Context, jti string, until time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[jti] = until
	return nil
}

func (d *MemoryDenylist) IsRevoked(_ context.Context, jti string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	until, ok := d.entries[jti]
	if !ok {
		return false, nil
	}
	if d.now().After(until) {
		delete(d.entries, jti)
		return false, nil
	}
	return true, nil
}

package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	applog "intellibotic/internal/platform/log"
)

const TokenTypeBearer = "bearer"

// Config 签发参数
type Config struct {
	Secret     string
	Issuer     string
	TTL        time.Duration
	BcryptCost int
}

// Service 注册、登录、token 校验与注销
type Service struct {
	cfg      Config
	users    UserStore
	denylist Denylist
	now      func() time.Time
}

func NewService(cfg Config, users UserStore, denylist Denylist) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{cfg: cfg, users: users, denylist: denylist, now: time.Now}
}

type claims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

// Register 创建账号，密码以 bcrypt 存储
func (s *Service) Register(ctx context.Context, username, password string) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, fmt.Errorf("%w: username and password are required", ErrAuth)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC(),
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	applog.Info("[Auth/Register] user created", "user_id", u.ID)
	return u, nil
}

// Authenticate 校验密码并签发 HS256 token
func (s *Service) Authenticate(ctx context.Context, username, password string) (*Token, error) {
	u, err := s.users.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, ErrAuth) {
			return nil, ErrAuth
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		applog.Warn("[Auth/Login] invalid credentials", "user_id", u.ID)
		return nil, ErrAuth
	}
	return s.issue(u)
}

func (s *Service) issue(u *User) (*Token, error) {
	now := s.now()
	exp := now.Add(s.cfg.TTL)
	c := claims{
		UserID: u.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.Username,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			Issuer:    s.cfg.Issuer,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(s.cfg.Secret))
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &Token{AccessToken: signed, TokenType: TokenTypeBearer, ExpiresAt: exp.UTC()}, nil
}

func (s *Service) parse(tokenStr string) (*claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	}
	if s.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.cfg.Issuer))
	}

	c := &claims{}
	token, err := jwt.ParseWithClaims(tokenStr, c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.Secret), nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrAuth, err)
	}
	if c.Subject == "" || c.UserID == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrAuth)
	}
	return c, nil
}

// Resolve 校验 token 并检查是否已注销
func (s *Service) Resolve(ctx context.Context, tokenStr string) (*Identity, error) {
	c, err := s.parse(tokenStr)
	if err != nil {
		return nil, err
	}
	if s.denylist != nil && c.ID != "" {
		revoked, err := s.denylist.IsRevoked(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("check denylist: %w", err)
		}
		if revoked {
			return nil, ErrTokenRevoked
		}
	}
	return &Identity{
		UserID:    c.UserID,
		Username:  c.Subject,
		TokenID:   c.ID,
		ExpiresAt: c.ExpiresAt.Time.UTC(),
	}, nil
}

// Revoke 注销 token，jti 进入 denylist 直到过期
func (s *Service) Revoke(ctx context.Context, tokenStr string) error {
	id, err := s.Resolve(ctx, tokenStr)
	if err != nil {
		return err
	}
	if s.denylist == nil || id.TokenID == "" {
		return nil
	}
	if err := s.denylist.Revoke(ctx, id.TokenID, id.ExpiresAt); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	applog.FromContext(ctx).Info("[Auth/Logout] token revoked", "user_id", id.UserID)
	return nil
}

// User 按 ID 读取账号
func (s *Service) User(ctx context.Context, id string) (*User, error) {
	return s.users.GetUserByID(ctx, id)
}

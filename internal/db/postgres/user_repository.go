package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"intellibotic/internal/domain/identity"
)

// UserRepository users 表存储
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) CreateUser(ctx context.Context, u *identity.User) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, username, password_hash, created_at) VALUES ($1, $2, $3, $4)`,
		u.ID, u.Username, u.PasswordHash, u.CreatedAt,
	)
	if pqCode(err) == pqUniqueViolation {
		return identity.ErrUserExists
	}
	return err
}

func (r *UserRepository) GetUserByUsername(ctx context.Context, username string) (*identity.User, error) {
	return r.getOne(ctx,
		`SELECT id, username, password_hash, created_at FROM users WHERE LOWER(username) = LOWER($1)`, username)
}

func (r *UserRepository) GetUserByID(ctx context.Context, id string) (*identity.User, error) {
	return r.getOne(ctx,
		`SELECT id, username, password_hash, created_at FROM users WHERE id = $1`, id)
}

func (r *UserRepository) getOne(ctx context.Context, query string, arg string) (*identity.User, error) {
	u := &identity.User{}
	err := r.db.QueryRowContext(ctx, query, arg).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) || pqCode(err) == pqInvalidTextFormat {
		return nil, identity.ErrAuth
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

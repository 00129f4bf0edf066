package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"intellibotic/internal/domain/bot"
	"intellibotic/internal/domain/flow"
	applog "intellibotic/internal/platform/log"
)

// BotRepository bots 表存储，流程图以 JSONB 保存
type BotRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewBotRepository 创建 PostgreSQL Bot 存储
func NewBotRepository(db *sql.DB) *BotRepository {
	return &BotRepository{db: db, now: time.Now}
}

// ownerFilter 按 context 中的 owner 追加过滤条件
func ownerFilter(ctx context.Context, query string, args []any) (string, []any) {
	if owner, ok := bot.OwnerFrom(ctx); ok {
		args = append(args, owner)
		query += fmt.Sprintf(" AND owner_id = $%d", len(args))
	}
	return query, args
}

func mapBotErr(err error) error {
	switch pqCode(err) {
	case pqUniqueViolation:
		return bot.ErrBotNameTaken
	case pqInvalidTextFormat:
		return bot.ErrBotNotFound
	}
	return err
}

func (r *BotRepository) Create(ctx context.Context, b *bot.Bot) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if owner, ok := bot.OwnerFrom(ctx); ok {
		b.OwnerID = owner
	}
	now := r.now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now

	doc, err := json.Marshal(b.Flow)
	if err != nil {
		return fmt.Errorf("encode flow: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO bots (id, owner_id, name, description, flow, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		b.ID, nullIfEmpty(b.OwnerID), b.Name, b.Description, doc, b.CreatedAt, b.UpdatedAt,
	)
	return mapBotErr(err)
}

func (r *BotRepository) Get(ctx context.Context, id string) (*bot.Bot, error) {
	query, args := ownerFilter(ctx,
		`SELECT id, COALESCE(owner_id::text,''), name, description, flow, created_at, updated_at
		 FROM bots WHERE id = $1`, []any{id})

	b := &bot.Bot{}
	var raw []byte
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&b.ID, &b.OwnerID, &b.Name, &b.Description, &raw, &b.CreatedAt, &b.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, bot.ErrBotNotFound
	}
	if err != nil {
		return nil, mapBotErr(err)
	}
	if b.Flow, err = decodeFlow(id, raw); err != nil {
		return nil, err
	}
	return b, nil
}

func decodeFlow(id string, raw []byte) (flow.Document, error) {
	var doc flow.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		applog.Error("[Storage] Stored flow is not valid JSON", "bot_id", id, "error", err)
		return flow.Document{}, fmt.Errorf("%w: stored flow: %v", flow.ErrCorruptGraph, err)
	}
	return doc, nil
}

func (r *BotRepository) List(ctx context.Context, params bot.ListParams) (*bot.ListResult, error) {
	params.Normalize()

	var where []string
	var args []any
	if owner, ok := bot.OwnerFrom(ctx); ok {
		args = append(args, owner)
		where = append(where, fmt.Sprintf("owner_id = $%d", len(args)))
	}
	if params.Search != "" {
		args = append(args, "%"+params.Search+"%")
		where = append(where, fmt.Sprintf("name ILIKE $%d", len(args)))
	}
	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM bots "+whereClause, args...).Scan(&total); err != nil {
		return nil, err
	}

	offset := (params.Page - 1) * params.PageSize
	query := fmt.Sprintf(
		`SELECT id, name, description, created_at, updated_at
		 FROM bots %s ORDER BY updated_at DESC, id LIMIT $%d OFFSET $%d`,
		whereClause, len(args)+1, len(args)+2,
	)
	args = append(args, params.PageSize, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := &bot.ListResult{Bots: []*bot.Summary{}, Total: total, Page: params.Page, PageSize: params.PageSize}
	for rows.Next() {
		s := &bot.Summary{}
		if err := rows.Scan(&s.ID, &s.Name, &s.Description, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		res.Bots = append(res.Bots, s)
	}
	return res, rows.Err()
}

func (r *BotRepository) Update(ctx context.Context, b *bot.Bot) error {
	doc, err := json.Marshal(b.Flow)
	if err != nil {
		return fmt.Errorf("encode flow: %w", err)
	}
	b.UpdatedAt = r.now().UTC()
	query, args := ownerFilter(ctx,
		`UPDATE bots SET name = $1, description = $2, flow = $3, updated_at = $4 WHERE id = $5`,
		[]any{b.Name, b.Description, doc, b.UpdatedAt, b.ID})
	return r.execOne(ctx, query, args)
}

func (r *BotRepository) Delete(ctx context.Context, id string) error {
	query, args := ownerFilter(ctx, `DELETE FROM bots WHERE id = $1`, []any{id})
	return r.execOne(ctx, query, args)
}

func (r *BotRepository) LoadFlow(ctx context.Context, id string) (flow.Document, error) {
	query, args := ownerFilter(ctx, `SELECT flow FROM bots WHERE id = $1`, []any{id})
	var raw []byte
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return flow.Document{}, bot.ErrBotNotFound
	}
	if err != nil {
		return flow.Document{}, mapBotErr(err)
	}
	return decodeFlow(id, raw)
}

// SaveFlow 整体覆盖，不做版本校验
func (r *BotRepository) SaveFlow(ctx context.Context, id string, doc flow.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode flow: %w", err)
	}
	query, args := ownerFilter(ctx,
		`UPDATE bots SET flow = $1, updated_at = $2 WHERE id = $3`,
		[]any{data, r.now().UTC(), id})
	return r.execOne(ctx, query, args)
}

func (r *BotRepository) execOne(ctx context.Context, query string, args []any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return mapBotErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return bot.ErrBotNotFound
	}
	return nil
}

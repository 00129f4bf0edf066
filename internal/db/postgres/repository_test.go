package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intellibotic/internal/domain/bot"
	"intellibotic/internal/domain/flow"
	"intellibotic/internal/domain/identity"
)

var fixedNow = time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)

func newMockRepo(t *testing.T) (*BotRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	repo := NewBotRepository(db)
	repo.now = func() time.Time { return fixedNow }
	return repo, mock
}

const emptyFlowJSON = `{"nodes":[{"id":"start","kind":"start","label":"Start","position":{"x":250,"y":50}}],"edges":[],"viewport":{"x":0,"y":0,"zoom":1}}`

func TestBotCreate(t *testing.T) {
	repo, mock := newMockRepo(t)
	ctx := bot.WithOwner(context.Background(), "u1")

	mock.ExpectExec(`INSERT INTO bots`).
		WithArgs(sqlmock.AnyArg(), "u1", "greeter", "desc", sqlmock.AnyArg(), fixedNow, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	b := &bot.Bot{Name: "greeter", Description: "desc", Flow: flow.ToPortable(flow.NewEmpty())}
	require.NoError(t, repo.Create(ctx, b))
	assert.NotEmpty(t, b.ID)
	assert.Equal(t, "u1", b.OwnerID)
	assert.Equal(t, fixedNow, b.CreatedAt)
}

func TestBotCreateNameTaken(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(`INSERT INTO bots`).WillReturnError(&pq.Error{Code: "23505"})

	err := repo.Create(context.Background(), &bot.Bot{Name: "dup"})
	assert.ErrorIs(t, err, bot.ErrBotNameTaken)
}

func TestBotGetScopedByOwner(t *testing.T) {
	repo, mock := newMockRepo(t)
	ctx := bot.WithOwner(context.Background(), "u1")

	rows := sqlmock.NewRows([]string{"id", "owner_id", "name", "description", "flow", "created_at", "updated_at"}).
		AddRow("b1", "u1", "greeter", "", []byte(emptyFlowJSON), fixedNow, fixedNow)
	mock.ExpectQuery(`FROM bots WHERE id = \$1 AND owner_id = \$2`).
		WithArgs("b1", "u1").
		WillReturnRows(rows)

	b, err := repo.Get(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "greeter", b.Name)
	require.Len(t, b.Flow.Nodes, 1)
	assert.Equal(t, "start", b.Flow.Nodes[0].ID)
}

func TestBotGetNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(`FROM bots WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "name", "description", "flow", "created_at", "updated_at"}))

	_, err := repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, bot.ErrBotNotFound)
}

func TestBotGetInvalidUUID(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(`FROM bots WHERE id = \$1`).WillReturnError(&pq.Error{Code: "22P02"})

	_, err := repo.Get(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, bot.ErrBotNotFound)
}

func TestLoadFlowCorruptJSON(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(`SELECT flow FROM bots WHERE id = \$1`).
		WithArgs("b1").
		WillReturnRows(sqlmock.NewRows([]string{"flow"}).AddRow([]byte(`{"nodes":`)))

	_, err := repo.LoadFlow(context.Background(), "b1")
	assert.ErrorIs(t, err, flow.ErrCorruptGraph)
}

func TestBotList(t *testing.T) {
	repo, mock := newMockRepo(t)
	ctx := bot.WithOwner(context.Background(), "u1")

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM bots WHERE owner_id = \$1 AND name ILIKE \$2`).
		WithArgs("u1", "%greet%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(`ORDER BY updated_at DESC, id LIMIT \$3 OFFSET \$4`).
		WithArgs("u1", "%greet%", 2, 2).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "created_at", "updated_at"}).
			AddRow("b3", "greeter 3", "", fixedNow, fixedNow))

	res, err := repo.List(ctx, bot.ListParams{Page: 2, PageSize: 2, Search: "greet"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	require.Len(t, res.Bots, 1)
	assert.Equal(t, "b3", res.Bots[0].ID)
}

func TestSaveFlowLastWriterWins(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(`UPDATE bots SET flow = \$1, updated_at = \$2 WHERE id = \$3`).
		WithArgs(sqlmock.AnyArg(), fixedNow, "b1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE bots SET flow`).
		WithArgs(sqlmock.AnyArg(), fixedNow, "gone").
		WillReturnResult(sqlmock.NewResult(0, 0))

	doc := flow.ToPortable(flow.Sample())
	require.NoError(t, repo.SaveFlow(context.Background(), "b1", doc))
	assert.ErrorIs(t, repo.SaveFlow(context.Background(), "gone", doc), bot.ErrBotNotFound)
}

func TestBotUpdateAndDelete(t *testing.T) {
	repo, mock := newMockRepo(t)
	ctx := bot.WithOwner(context.Background(), "u1")

	mock.ExpectExec(`UPDATE bots SET name = \$1, description = \$2, flow = \$3, updated_at = \$4 WHERE id = \$5 AND owner_id = \$6`).
		WithArgs("renamed", "", sqlmock.AnyArg(), fixedNow, "b1", "u1").
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectExec(`DELETE FROM bots WHERE id = \$1 AND owner_id = \$2`).
		WithArgs("b1", "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Update(ctx, &bot.Bot{ID: "b1", Name: "renamed"})
	assert.ErrorIs(t, err, bot.ErrBotNameTaken)
	assert.NoError(t, repo.Delete(ctx, "b1"))
}

func TestUserRepository(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewUserRepository(db)
	ctx := context.Background()

	mock.ExpectExec(`INSERT INTO users`).
		WithArgs(sqlmock.AnyArg(), "ada", "hash", fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO users`).WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectQuery(`WHERE LOWER\(username\) = LOWER\(\$1\)`).
		WithArgs("ADA").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "password_hash", "created_at"}).
			AddRow("u1", "ada", "hash", fixedNow))
	mock.ExpectQuery(`WHERE id = \$1`).
		WithArgs("nobody").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "password_hash", "created_at"}))

	require.NoError(t, repo.CreateUser(ctx, &identity.User{Username: "ada", PasswordHash: "hash", CreatedAt: fixedNow}))
	assert.ErrorIs(t, repo.CreateUser(ctx, &identity.User{Username: "ada"}), identity.ErrUserExists)

	u, err := repo.GetUserByUsername(ctx, "ADA")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)

	_, err = repo.GetUserByID(ctx, "nobody")
	assert.ErrorIs(t, err, identity.ErrAuth)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrationsEmbedded(t *testing.T) {
	data, err := Migrations.ReadFile("migrations/00001_init.sql")
	require.NoError(t, err)
	assert.Contains(t, string(data), "-- +goose Up")
	assert.Contains(t, string(data), "UNIQUE (owner_id, name)")
}

package redisdb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intellibotic/internal/domain/bot"
	"intellibotic/internal/domain/flow"
	"intellibotic/internal/domain/simulator"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestOpen(t *testing.T) {
	mr, _ := newTestRedis(t)
	client, err := Open(context.Background(), "redis://"+mr.Addr()+"/0", time.Second)
	require.NoError(t, err)
	client.Close()

	_, err = Open(context.Background(), "not a url", time.Second)
	assert.Error(t, err)
}

func TestSessionStoreRoundTripAndCAS(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewSessionStore(SessionStoreConfig{Client: client, TTL: time.Minute})
	ctx := context.Background()

	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	sess := &simulator.Session{
		ID:            "s1",
		BotID:         "b1",
		OwnerID:       "u1",
		Cursor:        "2",
		Status:        simulator.StatusAwaitingInput,
		Transcript:    []simulator.Message{{Role: simulator.RoleBot, Text: "What is your name?", NodeID: "2", At: now}},
		Variables:     map[string]any{"n": 3.0},
		Visited:       []string{"1", "2"},
		ForceBranches: map[string]string{"3": "false"},
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, store.Save(ctx, sess, 0))
	assert.Equal(t, time.Minute, mr.TTL("sim:session:s1"))

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, sess.BotID, got.BotID)
	assert.Equal(t, sess.Cursor, got.Cursor)
	assert.Equal(t, sess.Status, got.Status)
	assert.Equal(t, sess.Transcript, got.Transcript)
	assert.Equal(t, sess.Variables, got.Variables)
	assert.Equal(t, sess.Visited, got.Visited)
	assert.Equal(t, sess.ForceBranches, got.ForceBranches)
	assert.Equal(t, int64(1), got.Version)
	assert.True(t, now.Equal(got.CreatedAt))

	got.Version = 2
	require.NoError(t, store.Save(ctx, got, 1))

	sess.Version = 2
	err = store.Save(ctx, sess, 1)
	assert.ErrorIs(t, err, simulator.ErrSessionConflict)

	require.NoError(t, store.Delete(ctx, "s1"))
	_, err = store.Get(ctx, "s1")
	assert.ErrorIs(t, err, simulator.ErrSessionNotFound)
	assert.ErrorIs(t, store.Delete(ctx, "s1"), simulator.ErrSessionNotFound)
}

func TestSessionStoreExpires(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewSessionStore(SessionStoreConfig{Client: client, TTL: time.Minute})
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &simulator.Session{ID: "s1", Version: 1}, 0))
	mr.FastForward(2 * time.Minute)
	_, err := store.Get(ctx, "s1")
	assert.ErrorIs(t, err, simulator.ErrSessionNotFound)
}

func TestSessionStoreWithSimulatorService(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewSessionStore(SessionStoreConfig{Client: client})
	lock := NewStepLock(client, time.Second)

	repo := bot.NewMemoryRepository()
	bots := bot.NewService(repo)
	ctx := bot.WithOwner(context.Background(), "u1")
	sample := flow.ToPortable(flow.Sample())
	b, err := bots.Create(ctx, "greeter", "", &sample)
	require.NoError(t, err)

	svc := simulator.NewService(simulator.NewEngine(simulator.EngineConfig{}, nil), bots, store, lock)
	sess, err := svc.Start(ctx, b.ID, simulator.StartOptions{})
	require.NoError(t, err)

	sess, err = svc.Reply(ctx, sess.ID, "Ada")
	require.NoError(t, err)
	assert.Equal(t, simulator.StatusFinished, sess.Status)

	text, err := svc.Transcript(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "[bot] What is your name?\n[user] Ada\n[bot] Nice to meet you, Ada!\n", text)
}

func TestStepLock(t *testing.T) {
	mr, client := newTestRedis(t)
	lock := NewStepLock(client, 10*time.Second)
	ctx := context.Background()

	ok, err := lock.Acquire(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = lock.Acquire(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok, "second acquire must fail while held")

	require.NoError(t, lock.Release(ctx, "s1"))
	ok, err = lock.Acquire(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(11 * time.Second)
	ok, err = lock.Acquire(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, ok, "lock expires after ttl")
}

func TestDenylist(t *testing.T) {
	mr, client := newTestRedis(t)
	d := NewDenylist(client)
	ctx := context.Background()

	require.NoError(t, d.Revoke(ctx, "j1", time.Now().Add(time.Minute)))
	revoked, err := d.IsRevoked(ctx, "j1")
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = d.IsRevoked(ctx, "j2")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, d.Revoke(ctx, "old", time.Now().Add(-time.Minute)))
	assert.False(t, mr.Exists("auth:deny:old"))

	mr.FastForward(2 * time.Minute)
	revoked, err = d.IsRevoked(ctx, "j1")
	require.NoError(t, err)
	assert.False(t, revoked)
}

type countingRepo struct {
	bot.Repository
	gets int
}

func (r *countingRepo) Get(ctx context.Context, id string) (*bot.Bot, error) {
	r.gets++
	return r.Repository.Get(ctx, id)
}

func TestFlowCacheReadThroughAndInvalidate(t *testing.T) {
	mr, client := newTestRedis(t)
	inner := &countingRepo{Repository: bot.NewMemoryRepository()}
	cache := NewFlowCache(inner, client, time.Minute)
	ctx := bot.WithOwner(context.Background(), "u1")

	b := &bot.Bot{Name: "greeter", Flow: flow.ToPortable(flow.NewEmpty())}
	require.NoError(t, cache.Create(ctx, b))

	_, err := cache.Get(ctx, b.ID)
	require.NoError(t, err)
	doc, err := cache.LoadFlow(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, doc.Nodes, 1)
	assert.Equal(t, 1, inner.gets, "second read should hit the cache")
	assert.True(t, mr.Exists("bot:flow:"+b.ID))

	_, err = cache.Get(bot.WithOwner(context.Background(), "u2"), b.ID)
	assert.ErrorIs(t, err, bot.ErrBotNotFound, "cached bot must stay owner scoped")

	require.NoError(t, cache.SaveFlow(ctx, b.ID, flow.ToPortable(flow.Sample())))
	assert.False(t, mr.Exists("bot:flow:"+b.ID))

	doc, err = cache.LoadFlow(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, doc.Nodes, 5)
	assert.Equal(t, 2, inner.gets)

	require.NoError(t, cache.Delete(ctx, b.ID))
	_, err = cache.Get(ctx, b.ID)
	assert.True(t, errors.Is(err, bot.ErrBotNotFound))
}

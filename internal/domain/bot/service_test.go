package bot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intellibotic/internal/domain/flow"
)

func newTestService() (*Service, context.Context) {
	return NewService(NewMemoryRepository()), WithOwner(context.Background(), "user-1")
}

func TestCreateSeedsEmptyFlow(t *testing.T) {
	svc, ctx := newTestService()

	b, err := svc.Create(ctx, "  Support Bot ", "helps", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, b.ID)
	assert.Equal(t, "Support Bot", b.Name)
	assert.Equal(t, "user-1", b.OwnerID)
	assert.Equal(t, flow.ToPortable(flow.NewEmpty()), b.Flow)

	g, err := svc.Open(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, flow.Validate(g).HasFatal())
}

func TestCreateValidation(t *testing.T) {
	svc, ctx := newTestService()

	_, err := svc.Create(ctx, " ", "", nil)
	assert.ErrorIs(t, err, ErrInvalidBot)

	_, err = svc.Create(ctx, "dup", "", nil)
	require.NoError(t, err)
	_, err = svc.Create(ctx, "dup", "", nil)
	assert.ErrorIs(t, err, ErrBotNameTaken)

	// 不同 owner 可以重名
	_, err = svc.Create(WithOwner(context.Background(), "user-2"), "dup", "", nil)
	assert.NoError(t, err)
}

func TestOwnerScopeIsolation(t *testing.T) {
	svc, ctx := newTestService()
	b, err := svc.Create(ctx, "mine", "", nil)
	require.NoError(t, err)

	other := WithOwner(context.Background(), "user-2")
	_, err = svc.Get(other, b.ID)
	assert.ErrorIs(t, err, ErrBotNotFound)
	assert.ErrorIs(t, svc.Delete(other, b.ID), ErrBotNotFound)

	list, err := svc.List(other, ListParams{})
	require.NoError(t, err)
	assert.Zero(t, list.Total)
}

func TestSaveFlowRejectsFatal(t *testing.T) {
	svc, ctx := newTestService()
	b, err := svc.Create(ctx, "bot", "", nil)
	require.NoError(t, err)

	broken := flow.Document{Nodes: []flow.NodeDoc{{ID: "a", Kind: "message"}}}
	report, err := svc.SaveFlow(ctx, b.ID, broken)
	assert.ErrorIs(t, err, flow.ErrCorruptGraph)
	assert.Equal(t, 1, report.Count(flow.IssueMissingStartNode))

	stored, err := svc.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.Flow, stored.Flow)
}

func TestSaveFlowLastWriterWins(t *testing.T) {
	svc, ctx := newTestService()
	b, err := svc.Create(ctx, "bot", "", nil)
	require.NoError(t, err)

	first := flow.ToPortable(flow.NewBuilder("s").Add("a", flow.KindMessage, "first", "", "").Build())
	second := flow.ToPortable(flow.NewBuilder("s").Add("b", flow.KindMessage, "second", "", "").Build())

	_, err = svc.SaveFlow(ctx, b.ID, first)
	require.NoError(t, err)
	report, err := svc.SaveFlow(ctx, b.ID, second)
	require.NoError(t, err)
	assert.False(t, report.HasFatal())

	g, err := svc.Open(ctx, b.ID)
	require.NoError(t, err)
	_, hasA := g.Node("a")
	_, hasB := g.Node("b")
	assert.False(t, hasA)
	assert.True(t, hasB)
}

func TestMutate(t *testing.T) {
	svc, ctx := newTestService()
	b, err := svc.Create(ctx, "bot", "", nil)
	require.NoError(t, err)

	_, report, err := svc.Mutate(ctx, b.ID, func(g *flow.Graph) error {
		return g.AddNode(flow.Node{ID: "orphan", Kind: flow.KindMessage})
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count(flow.IssueUnreachableNode))

	_, _, err = svc.Mutate(ctx, b.ID, func(g *flow.Graph) error {
		return g.RemoveNode(flow.DefaultStartID)
	})
	assert.ErrorIs(t, err, flow.ErrForbiddenOperation)

	g, err := svc.Open(ctx, b.ID)
	require.NoError(t, err)
	_, ok := g.Node("orphan")
	assert.True(t, ok)
}

func TestOpenCorruptBot(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewService(repo)
	ctx := context.Background()

	b := &Bot{Name: "legacy", Flow: flow.Document{Nodes: []flow.NodeDoc{{ID: "x", Kind: "message"}}}}
	require.NoError(t, repo.Create(ctx, b))

	_, err := svc.Open(ctx, b.ID)
	assert.ErrorIs(t, err, flow.ErrCorruptGraph)
}

func TestExportImport(t *testing.T) {
	svc, ctx := newTestService()
	doc := flow.ToPortable(flow.Sample())
	b, err := svc.Create(ctx, "sample", "demo", &doc)
	require.NoError(t, err)

	exp, err := svc.Export(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, exp.ID)
	assert.Equal(t, doc, exp.Config)

	raw, err := flow.Marshal(flow.Sample())
	require.NoError(t, err)
	imported, err := svc.Import(ctx, "sample copy", "", raw)
	require.NoError(t, err)
	assert.NotEqual(t, b.ID, imported.ID)
	assert.Equal(t, doc, imported.Flow)

	_, err = svc.Import(ctx, "broken", "", []byte("{oops"))
	assert.ErrorIs(t, err, flow.ErrCorruptGraph)
}

func TestUpdatePartial(t *testing.T) {
	svc, ctx := newTestService()
	b, err := svc.Create(ctx, "bot", "old", nil)
	require.NoError(t, err)

	desc := "new"
	updated, err := svc.Update(ctx, b.ID, Patch{Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, "bot", updated.Name)
	assert.Equal(t, "new", updated.Description)

	empty := ""
	_, err = svc.Update(ctx, b.ID, Patch{Name: &empty})
	assert.ErrorIs(t, err, ErrInvalidBot)
}

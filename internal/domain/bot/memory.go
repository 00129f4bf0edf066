package bot

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"intellibotic/internal/domain/flow"
)

// MemoryRepository 进程内存储，用于本地开发（DATABASE_URL=memory://）和测试
type MemoryRepository struct {
	mu   sync.RWMutex
	bots map[string]*Bot
	now  func() time.Time
}

// NewMemoryRepository 创建内存存储
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		bots: make(map[string]*Bot),
		now:  time.Now,
	}
}

func (r *MemoryRepository) visible(ctx context.Context, b *Bot) bool {
	owner, ok := OwnerFrom(ctx)
	return !ok || b.OwnerID == owner
}

func (r *MemoryRepository) nameTaken(owner, name, exceptID string) bool {
	for _, b := range r.bots {
		if b.OwnerID == owner && b.Name == name && b.ID != exceptID {
			return true
		}
	}
	return false
}

func (r *MemoryRepository) Create(ctx context.Context, b *Bot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, ok := OwnerFrom(ctx); ok {
		b.OwnerID = owner
	}
	if r.nameTaken(b.OwnerID, b.Name, "") {
		return ErrBotNameTaken
	}
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	now := r.now()
	b.CreatedAt = now
	b.UpdatedAt = now

	stored := *b
	r.bots[b.ID] = &stored
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (*Bot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.bots[id]
	if !ok || !r.visible(ctx, b) {
		return nil, ErrBotNotFound
	}
	out := *b
	return &out, nil
}

func (r *MemoryRepository) List(ctx context.Context, params ListParams) (*ListResult, error) {
	params.Normalize()
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*Bot
	for _, b := range r.bots {
		if !r.visible(ctx, b) {
			continue
		}
		if params.Search != "" && !strings.Contains(strings.ToLower(b.Name), strings.ToLower(params.Search)) {
			continue
		}
		matched = append(matched, b)
	}
	slices.SortFunc(matched, func(a, b *Bot) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	res := &ListResult{Bots: []*Summary{}, Total: len(matched), Page: params.Page, PageSize: params.PageSize}
	offset := (params.Page - 1) * params.PageSize
	for i := offset; i < len(matched) && i < offset+params.PageSize; i++ {
		b := matched[i]
		res.Bots = append(res.Bots, &Summary{ID: b.ID, Name: b.Name, Description: b.Description, CreatedAt: b.CreatedAt, UpdatedAt: b.UpdatedAt})
	}
	return res, nil
}

func (r *MemoryRepository) Update(ctx context.Context, b *Bot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.bots[b.ID]
	if !ok || !r.visible(ctx, cur) {
		return ErrBotNotFound
	}
	if r.nameTaken(cur.OwnerID, b.Name, b.ID) {
		return ErrBotNameTaken
	}
	cur.Name = b.Name
	cur.Description = b.Description
	cur.Flow = b.Flow
	cur.UpdatedAt = r.now()
	b.UpdatedAt = cur.UpdatedAt
	return nil
}

func (r *MemoryRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bots[id]
	if !ok || !r.visible(ctx, b) {
		return ErrBotNotFound
	}
	delete(r.bots, id)
	return nil
}

func (r *MemoryRepository) LoadFlow(ctx context.Context, id string) (flow.Document, error) {
	b, err := r.Get(ctx, id)
	if err != nil {
		return flow.Document{}, err
	}
	return b.Flow, nil
}

func (r *MemoryRepository) SaveFlow(ctx context.Context, id string, doc flow.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bots[id]
	if !ok || !r.visible(ctx, b) {
		return ErrBotNotFound
	}
	b.Flow = doc
	b.UpdatedAt = r.now()
	return nil
}

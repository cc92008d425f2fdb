package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const memoryKey = "pluglist"

// MemoryBackend keeps the entry in process memory. Expiry is handled by
// Cache, so the item itself never expires.
type MemoryBackend struct {
	items *gocache.Cache
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		items: gocache.New(gocache.NoExpiration, 0),
	}
}

func (b *MemoryBackend) Name() string {
	return "memory"
}

func (b *MemoryBackend) Load(_ context.Context) (*Entry, error) {
	v, ok := b.items.Get(memoryKey)
	if !ok {
		return nil, ErrNoEntry
	}
	e := *v.(*Entry)
	return &e, nil
}

func (b *MemoryBackend) Stat(_ context.Context) (time.Time, error) {
	v, ok := b.items.Get(memoryKey)
	if !ok {
		return time.Time{}, ErrNoEntry
	}
	return v.(*Entry).StoredAt, nil
}

func (b *MemoryBackend) Store(_ context.Context, e *Entry) error {
	stored := &Entry{
		Data:     append([]byte(nil), e.Data...),
		StoredAt: e.StoredAt,
	}
	b.items.Set(memoryKey, stored, gocache.NoExpiration)
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context) error {
	b.items.Delete(memoryKey)
	return nil
}

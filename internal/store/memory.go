package store

import (
	"context"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"arena/internal/arena"
)

// DefaultCacheSize bounds the cache to roughly the recent history a user
// scrolls through.
const DefaultCacheSize = 50

// MemoryStore is a bounded LRU battle cache. Eviction only drops the local
// copy; the remote store keeps the full history.
type MemoryStore struct {
	cache *lru.Cache[string, *arena.Battle]
}

func NewMemoryStore(size int) (*MemoryStore, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, *arena.Battle](size)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{cache: cache}, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*arena.Battle, error) {
	b, ok := s.cache.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return b.Clone(), nil
}

func (s *MemoryStore) Put(_ context.Context, b *arena.Battle) error {
	s.cache.Add(b.ID, b.Clone())
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.cache.Remove(id)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]*arena.Battle, error) {
	keys := s.cache.Keys()
	out := make([]*arena.Battle, 0, len(keys))
	for _, k := range keys {
		if b, ok := s.cache.Peek(k); ok {
			out = append(out, b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *MemoryStore) Len() int { return s.cache.Len() }

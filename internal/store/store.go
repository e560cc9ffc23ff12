// Package store persists battles twice: a fast in-process LRU cache that
// serves every read, and a durable remote store that is the system of record
// across restarts. SyncedStore keeps the two eventually consistent.
package store

import (
	"context"
	"errors"

	"arena/internal/arena"
)

var ErrNotFound = errors.New("store: battle not found")

// Store is the battle persistence surface. Implementations return deep
// copies; callers own what they get back.
type Store interface {
	Get(ctx context.Context, id string) (*arena.Battle, error)
	Put(ctx context.Context, b *arena.Battle) error
	Delete(ctx context.Context, id string) error
	// List returns battles ordered by UpdatedAt, most recent first.
	List(ctx context.Context) ([]*arena.Battle, error)
}

package store

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"arena/internal/arena"
)

const (
	defaultDebounce   = 500 * time.Millisecond
	defaultBackoff    = time.Second
	defaultMaxBackoff = 30 * time.Second
	pushAttempts      = 6
)

// SyncedStore layers the LRU cache over the durable remote store. Reads and
// writes hit the cache synchronously; remote pushes are debounced per battle
// and retried with backoff, so a remote outage never blocks callers.
type SyncedStore struct {
	cache  *MemoryStore
	remote Store

	debounce   time.Duration
	backoff    time.Duration
	maxBackoff time.Duration

	mu      sync.Mutex
	pending map[string]*time.Timer
	closed  chan struct{}
	wg      sync.WaitGroup
}

// Option tweaks sync timing, mainly for tests.
type Option func(*SyncedStore)

func WithDebounce(d time.Duration) Option {
	return func(s *SyncedStore) { s.debounce = d }
}

func WithBackoff(base, max time.Duration) Option {
	return func(s *SyncedStore) { s.backoff, s.maxBackoff = base, max }
}

func NewSyncedStore(cache *MemoryStore, remote Store, opts ...Option) *SyncedStore {
	s := &SyncedStore{
		cache:      cache,
		remote:     remote,
		debounce:   defaultDebounce,
		backoff:    defaultBackoff,
		maxBackoff: defaultMaxBackoff,
		pending:    make(map[string]*time.Timer),
		closed:     make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Load reconciles remote history into the cache: both copies of a battle are
// merged by UpdatedAt, newest wins. Conflicting concurrent edits to one
// battle are not expected (one authoring user per battle), so a timestamp
// merge is sufficient.
func (s *SyncedStore) Load(ctx context.Context) error {
	remote, err := s.remote.List(ctx)
	if err != nil {
		return err
	}
	for _, rb := range remote {
		cb, err := s.cache.Get(ctx, rb.ID)
		if err == nil && cb.UpdatedAt.After(rb.UpdatedAt) {
			continue
		}
		if err := s.cache.Put(ctx, rb); err != nil {
			return err
		}
	}
	return nil
}

func (s *SyncedStore) Get(ctx context.Context, id string) (*arena.Battle, error) {
	b, err := s.cache.Get(ctx, id)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	b, err = s.remote.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	_ = s.cache.Put(ctx, b)
	return b, nil
}

// Put updates the cache synchronously and schedules a debounced remote push;
// bursts of updates to one battle coalesce into a single write.
func (s *SyncedStore) Put(ctx context.Context, b *arena.Battle) error {
	if err := s.cache.Put(ctx, b); err != nil {
		return err
	}
	s.schedule(b.ID)
	return nil
}

func (s *SyncedStore) schedule(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.closed:
		return
	default:
	}
	if t, ok := s.pending[id]; ok {
		t.Reset(s.debounce)
		return
	}
	// Register the push before the timer exists so Close always waits for a
	// flush that fires concurrently with shutdown.
	s.wg.Add(1)
	s.pending[id] = time.AfterFunc(s.debounce, func() { s.flush(id) })
}

// flush pushes the battle's current cache state to the remote store,
// retrying with doubling backoff. By reading the cache at push time, any
// updates that landed after scheduling ride along for free.
func (s *SyncedStore) flush(id string) {
	defer s.wg.Done()

	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()

	b, err := s.cache.Get(context.Background(), id)
	if err != nil {
		// Evicted or deleted before the push fired; nothing to sync.
		return
	}
	delay := s.backoff
	for attempt := 1; ; attempt++ {
		err := s.remote.Put(context.Background(), b)
		if err == nil {
			return
		}
		if attempt >= pushAttempts {
			log.Printf("store: giving up pushing battle %s after %d attempts: %v", id, attempt, err)
			return
		}
		log.Printf("store: push battle %s failed (attempt %d), retrying in %s: %v", id, attempt, delay, err)
		select {
		case <-s.closed:
			return
		case <-time.After(delay):
		}
		if delay *= 2; delay > s.maxBackoff {
			delay = s.maxBackoff
		}
	}
}

func (s *SyncedStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	if t, ok := s.pending[id]; ok {
		if t.Stop() {
			// Timer never fired, so its flush will never run Done.
			s.wg.Done()
		}
		delete(s.pending, id)
	}
	s.mu.Unlock()
	if err := s.cache.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.remote.Delete(ctx, id); err != nil {
		log.Printf("store: remote delete of battle %s failed: %v", id, err)
	}
	return nil
}

// List serves from the cache; it is authoritative for display.
func (s *SyncedStore) List(ctx context.Context) ([]*arena.Battle, error) {
	return s.cache.List(ctx)
}

// Close stops the debounce timers and flushes everything still pending,
// pushing in parallel with a small bound.
func (s *SyncedStore) Close(ctx context.Context) error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.pending))
	for id, t := range s.pending {
		if t.Stop() {
			s.wg.Done()
			ids = append(ids, id)
		}
		// A timer that already fired hands its battle to the in-flight
		// flush, which wg.Wait below drains.
	}
	s.pending = make(map[string]*time.Timer)
	close(s.closed)
	s.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, id := range ids {
		g.Go(func() error {
			b, err := s.cache.Get(ctx, id)
			if err != nil {
				return nil
			}
			return s.remote.Put(ctx, b)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	s.wg.Wait()
	return nil
}

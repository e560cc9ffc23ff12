// Package battle owns the comparison lifecycle: it fans one prompt out to
// every participating model's stream adapter, merges their events into the
// battle state, fires the completion barrier, and triggers judging.
package battle

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"arena/internal/arena"
	"arena/internal/stream"
)

// Store is the persistence surface the orchestrator writes through. The
// synced store keeps its cache authoritative, so Put errors are logged and
// never fail a battle.
type Store interface {
	Get(ctx context.Context, id string) (*arena.Battle, error)
	Put(ctx context.Context, b *arena.Battle) error
}

// Judge produces a verdict over a finished battle. A nil judgment with a nil
// error is not expected; failures return an error and the battle still
// reaches judged with judgment = null.
type Judge interface {
	Evaluate(ctx context.Context, b *arena.Battle) (*arena.Judgment, error)
}

// Recorder folds vote and judgment signals into the rankings.
type Recorder interface {
	RecordVote(ctx context.Context, b *arena.Battle) error
	RecordJudgment(ctx context.Context, b *arena.Battle) error
}

const cancelledMessage = "stopped by user"

type Orchestrator struct {
	adapters stream.Adapter
	judge    Judge
	store    Store
	rank     Recorder

	judgeTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*session
}

func NewOrchestrator(adapters stream.Adapter, judge Judge, store Store, rank Recorder) *Orchestrator {
	return &Orchestrator{
		adapters:     adapters,
		judge:        judge,
		store:        store,
		rank:         rank,
		judgeTimeout: 2 * time.Minute,
		sessions:     make(map[string]*session),
	}
}

// session is the single logical owner of one battle's state. All mutation
// goes through apply, which holds the session mutex; adapters never touch
// each other's responses.
type session struct {
	o *Orchestrator

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	battle   *arena.Battle
	seq      int64
	subs     map[int]chan arena.Event
	nextID   int
	released bool

	// remaining counts adapters that have not reached their terminal state;
	// the goroutine that decrements it to zero fires the barrier.
	remaining int32

	cancels map[string]context.CancelFunc
}

// Start validates the battle, opens one adapter per model and returns the
// initial battle snapshot. Streaming continues in the background; the given
// context is only used for validation-time persistence.
func (o *Orchestrator) Start(ctx context.Context, prompt string, models []arena.Model, settings arena.Settings) (*arena.Battle, error) {
	b, err := arena.NewBattle(prompt, models, settings)
	if err != nil {
		return nil, err
	}
	b.Status = arena.StatusStreaming

	sctx, cancel := context.WithCancel(context.Background())
	s := &session{
		o:         o,
		ctx:       sctx,
		cancel:    cancel,
		battle:    b,
		subs:      make(map[int]chan arena.Event),
		remaining: int32(len(models)),
		cancels:   make(map[string]context.CancelFunc, len(models)),
	}

	o.mu.Lock()
	o.sessions[b.ID] = s
	o.mu.Unlock()

	if err := o.store.Put(ctx, b.Clone()); err != nil {
		log.Printf("battle %s: initial persist failed: %v", b.ID, err)
	}

	for _, m := range models {
		// A stop can land while earlier adapters are still being opened;
		// adapters not yet open must not start streaming after it.
		if sctx.Err() != nil {
			s.apply(arena.Event{Type: arena.EventAdapterError, ModelID: m.ID, Message: cancelledMessage})
			s.adapterFinished()
			continue
		}
		ch, adapterCancel, err := o.adapters.Open(sctx, stream.Request{
			Model:    m,
			Prompt:   b.Prompt,
			Settings: b.Settings,
		})
		if err != nil {
			// The adapter never opened; its terminal state is this error.
			s.apply(arena.Event{Type: arena.EventAdapterError, ModelID: m.ID, Message: err.Error()})
			s.adapterFinished()
			continue
		}
		s.mu.Lock()
		s.cancels[m.ID] = adapterCancel
		s.mu.Unlock()
		go s.consume(m.ID, ch)
	}
	return s.snapshot(), nil
}

// consume drains one adapter's stream. It decrements the barrier counter
// exactly once: either after the terminal event or after the channel closes
// without one (cancellation).
func (s *session) consume(modelID string, ch <-chan stream.Event) {
	sawTerminal := false
	for ev := range ch {
		switch ev.Kind {
		case stream.KindContent:
			s.apply(arena.Event{Type: arena.EventStreamDelta, ModelID: modelID, Delta: ev.Delta})
		case stream.KindReasoning:
			s.apply(arena.Event{Type: arena.EventReasoningDelta, ModelID: modelID, Delta: ev.Delta})
		case stream.KindReasoningBoundary:
			s.apply(arena.Event{Type: arena.EventThinking, ModelID: modelID, Thinking: ev.Boundary == "start"})
		case stream.KindRetrievalStatus:
			s.apply(arena.Event{Type: arena.EventRetrievalStatus, ModelID: modelID, Retrieval: ev.Retrieval, Query: ev.Query})
		case stream.KindSources:
			s.apply(arena.Event{Type: arena.EventSources, ModelID: modelID, Sources: ev.Sources})
		case stream.KindUsage:
			s.apply(arena.Event{Type: arena.EventUsage, ModelID: modelID, Usage: ev.Usage})
		case stream.KindDone:
			sawTerminal = true
			s.apply(arena.Event{Type: arena.EventAdapterDone, ModelID: modelID})
		case stream.KindError:
			sawTerminal = true
			s.apply(arena.Event{Type: arena.EventAdapterError, ModelID: modelID, Message: ev.Err})
		}
	}
	if !sawTerminal {
		// Channel closed without done/error: the adapter was cancelled.
		s.apply(arena.Event{Type: arena.EventAdapterError, ModelID: modelID, Message: cancelledMessage})
	}
	s.adapterFinished()
}

// adapterFinished fires the completion barrier once every adapter is done.
func (s *session) adapterFinished() {
	if atomic.AddInt32(&s.remaining, -1) != 0 {
		return
	}
	s.apply(arena.Event{Type: arena.EventAllComplete})

	s.mu.Lock()
	hasErrors := s.battle.HasErrors()
	s.mu.Unlock()
	if hasErrors {
		// Judging needs a full set of valid responses; the battle stays
		// complete and voting among the surviving models remains open.
		s.o.release(s.battle.ID)
		return
	}
	s.apply(arena.Event{Type: arena.EventJudgingStarted})
	go s.runJudge()
}

func (s *session) runJudge() {
	ctx, cancel := context.WithTimeout(context.Background(), s.o.judgeTimeout)
	defer cancel()

	judgment, err := s.o.judge.Evaluate(ctx, s.snapshot())
	if err != nil {
		log.Printf("battle %s: judge failed, recording null judgment: %v", s.battle.ID, err)
		judgment = nil
	}
	s.apply(arena.Event{Type: arena.EventJudgmentReceived, Judgment: judgment})

	if judgment != nil {
		if err := s.o.rank.RecordJudgment(context.Background(), s.snapshot()); err != nil {
			log.Printf("battle %s: ranking judgment record failed: %v", s.battle.ID, err)
		}
	}
	s.o.release(s.battle.ID)
}

// apply folds one event into the battle, persists the new state and fans the
// event out to subscribers. It is the only write path for battle state.
func (s *session) apply(ev arena.Event) {
	s.mu.Lock()
	s.seq++
	ev.Seq = s.seq
	ev.BattleID = s.battle.ID
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	arena.Fold(s.battle, ev)
	snapshot := s.battle.Clone()
	if !s.released {
		for _, sub := range s.subs {
			select {
			case sub <- ev:
			default:
				// Slow subscriber; dropping beats stalling the stream merge.
			}
		}
	}
	s.mu.Unlock()

	if err := s.o.store.Put(context.Background(), snapshot); err != nil {
		log.Printf("battle %s: persist failed: %v", s.battle.ID, err)
	}
}

func (s *session) snapshot() *arena.Battle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.battle.Clone()
}

// release drops the finished session and closes its subscriber channels;
// reads fall through to the store.
func (o *Orchestrator) release(id string) {
	o.mu.Lock()
	s := o.sessions[id]
	delete(o.sessions, id)
	o.mu.Unlock()
	if s == nil {
		return
	}
	s.mu.Lock()
	s.released = true
	for id, sub := range s.subs {
		close(sub)
		delete(s.subs, id)
	}
	s.mu.Unlock()
	s.cancel()
}

func (o *Orchestrator) lookup(id string) *session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessions[id]
}

// Get returns the live battle state when a session is active, otherwise the
// stored copy.
func (o *Orchestrator) Get(ctx context.Context, id string) (*arena.Battle, error) {
	if s := o.lookup(id); s != nil {
		return s.snapshot(), nil
	}
	return o.store.Get(ctx, id)
}

// Stop cancels every adapter still open. Their channels close, each consumer
// marks its response with a cancellation error, and the barrier fires; the
// battle reaches complete with errors, so judging is skipped.
func (o *Orchestrator) Stop(id string) error {
	s := o.lookup(id)
	if s == nil {
		return arena.ErrBattleNotActive
	}
	s.mu.Lock()
	streaming := s.battle.Status == arena.StatusStreaming
	cancels := make([]context.CancelFunc, 0, len(s.cancels))
	for _, c := range s.cancels {
		cancels = append(cancels, c)
	}
	s.mu.Unlock()
	if !streaming {
		return arena.ErrBattleNotActive
	}
	// Cancel the session context too: adapter contexts descend from it, so
	// this reaches adapters opened concurrently with the stop.
	s.cancel()
	for _, c := range cancels {
		c()
	}
	return nil
}

// Vote records the user's choice. Voting is allowed at any point after
// creation, including before judging finishes or on battles that never get
// judged.
func (o *Orchestrator) Vote(ctx context.Context, id, modelID string) (*arena.Battle, error) {
	var b *arena.Battle
	if s := o.lookup(id); s != nil {
		s.mu.Lock()
		err := s.battle.ValidateVote(modelID)
		s.mu.Unlock()
		if err != nil {
			return nil, err
		}
		s.apply(arena.Event{Type: arena.EventVoteCast, VotedFor: modelID})
		b = s.snapshot()
	} else {
		stored, err := o.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := stored.ValidateVote(modelID); err != nil {
			return nil, err
		}
		stored.UserVote = modelID
		stored.UpdatedAt = time.Now().UTC()
		if err := o.store.Put(ctx, stored); err != nil {
			return nil, err
		}
		b = stored.Clone()
	}
	if err := o.rank.RecordVote(ctx, b); err != nil {
		log.Printf("battle %s: ranking vote record failed: %v", id, err)
	}
	return b, nil
}

// Update applies a serialized edit (pin, rename) to a live or stored battle.
func (o *Orchestrator) Update(ctx context.Context, id string, edit func(*arena.Battle)) (*arena.Battle, error) {
	if s := o.lookup(id); s != nil {
		s.mu.Lock()
		edit(s.battle)
		s.battle.UpdatedAt = time.Now().UTC()
		snapshot := s.battle.Clone()
		s.mu.Unlock()
		if err := o.store.Put(ctx, snapshot); err != nil {
			log.Printf("battle %s: persist failed: %v", id, err)
		}
		return snapshot, nil
	}
	b, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	edit(b)
	b.UpdatedAt = time.Now().UTC()
	if err := o.store.Put(ctx, b); err != nil {
		return nil, err
	}
	return b.Clone(), nil
}

// Subscribe attaches a listener to a live battle. The returned snapshot is
// the state at subscription time; events after it arrive on the channel.
// The cancel func detaches the listener. For battles with no active session
// the snapshot is returned with a nil channel.
func (o *Orchestrator) Subscribe(ctx context.Context, id string) (*arena.Battle, <-chan arena.Event, func(), error) {
	s := o.lookup(id)
	if s == nil {
		b, err := o.store.Get(ctx, id)
		if err != nil {
			return nil, nil, nil, err
		}
		return b, nil, func() {}, nil
	}
	ch := make(chan arena.Event, 256)
	s.mu.Lock()
	if s.released {
		snapshot := s.battle.Clone()
		s.mu.Unlock()
		return snapshot, nil, func() {}, nil
	}
	s.nextID++
	subID := s.nextID
	s.subs[subID] = ch
	snapshot := s.battle.Clone()
	s.mu.Unlock()
	cancel := func() {
		s.mu.Lock()
		delete(s.subs, subID)
		s.mu.Unlock()
	}
	return snapshot, ch, cancel, nil
}

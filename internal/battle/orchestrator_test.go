package battle

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"arena/internal/arena"
	"arena/internal/store"
	"arena/internal/stream"
	"arena/internal/tester"
)

// fakeJudge returns a canned verdict or error.
type fakeJudge struct {
	mu      sync.Mutex
	verdict func(b *arena.Battle) (*arena.Judgment, error)
	calls   int
}

func (j *fakeJudge) Evaluate(_ context.Context, b *arena.Battle) (*arena.Judgment, error) {
	j.mu.Lock()
	j.calls++
	j.mu.Unlock()
	return j.verdict(b)
}

func (j *fakeJudge) callCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.calls
}

func winnerVerdict(winnerID string, scores map[string]int) func(*arena.Battle) (*arena.Judgment, error) {
	return func(*arena.Battle) (*arena.Judgment, error) {
		w := winnerID
		return &arena.Judgment{
			WinnerID:  &w,
			Analysis:  "canned analysis",
			Scores:    scores,
			Criteria:  []string{"accuracy"},
			CreatedAt: time.Now().UTC(),
		}, nil
	}
}

// fakeRecorder counts ranking signals.
type fakeRecorder struct {
	mu        sync.Mutex
	votes     int
	judgments int
}

func (r *fakeRecorder) RecordVote(_ context.Context, _ *arena.Battle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.votes++
	return nil
}

func (r *fakeRecorder) RecordJudgment(_ context.Context, _ *arena.Battle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.judgments++
	return nil
}

func (r *fakeRecorder) counts() (votes, judgments int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.votes, r.judgments
}

func twoModels() []arena.Model {
	return []arena.Model{
		{ID: "a", Name: "model-a", Provider: "x"},
		{ID: "b", Name: "model-b", Provider: "y"},
	}
}

func contentScript(text string) []stream.Event {
	return []stream.Event{
		{Kind: stream.KindContent, Delta: text},
		{Kind: stream.KindDone},
	}
}

type fixture struct {
	orch  *Orchestrator
	store *store.MemoryStore
	judge *fakeJudge
	rank  *fakeRecorder
}

func newFixture(t *testing.T, adapters stream.Adapter, judge *fakeJudge) *fixture {
	t.Helper()
	s, err := store.NewMemoryStore(10)
	tester.NoErr(t, err)
	rank := &fakeRecorder{}
	return &fixture{
		orch:  NewOrchestrator(adapters, judge, s, rank),
		store: s,
		judge: judge,
		rank:  rank,
	}
}

func (f *fixture) stored(t *testing.T, id string) *arena.Battle {
	t.Helper()
	b, err := f.store.Get(context.Background(), id)
	tester.NoErr(t, err)
	return b
}

func (f *fixture) waitForStatus(t *testing.T, id string, status arena.Status) *arena.Battle {
	t.Helper()
	var b *arena.Battle
	tester.Eventually(t, 2*time.Second, func() bool {
		var err error
		b, err = f.orch.Get(context.Background(), id)
		return err == nil && b.Status == status
	}, "battle never reached "+string(status))
	return b
}

func TestFullLifecycle(t *testing.T) {
	adapters := &stream.ScriptAdapter{Scripts: map[string][]stream.Event{
		"a": contentScript("answer from a"),
		"b": contentScript("answer from b"),
	}}
	judge := &fakeJudge{verdict: winnerVerdict("a", map[string]int{"a": 8, "b": 6})}
	f := newFixture(t, adapters, judge)

	b, err := f.orch.Start(context.Background(), "compare yourselves", twoModels(), arena.Settings{})
	tester.NoErr(t, err)
	tester.Eq(t, b.Status, arena.StatusStreaming)

	got := f.waitForStatus(t, b.ID, arena.StatusJudged)
	tester.Eq(t, got.Responses["a"].Content, "answer from a")
	tester.Eq(t, got.Responses["b"].Content, "answer from b")
	tester.True(t, got.Responses["a"].Terminal())
	tester.True(t, got.Judgment != nil)
	tester.Eq(t, *got.Judgment.WinnerID, "a")
	tester.Eq(t, got.Judgment.Scores, map[string]int{"a": 8, "b": 6})

	_, judgments := f.rank.counts()
	tester.Eq(t, judgments, 1)

	// The session is gone; reads now come from the store.
	tester.Eventually(t, time.Second, func() bool {
		return f.stored(t, b.ID).Status == arena.StatusJudged
	})
}

func TestAdapterErrorSkipsJudging(t *testing.T) {
	adapters := &stream.ScriptAdapter{Scripts: map[string][]stream.Event{
		"a": contentScript("fine"),
		"b": contentScript("also fine"),
		"c": {
			{Kind: stream.KindContent, Delta: "par"},
			{Kind: stream.KindError, Err: "rate limited"},
		},
	}}
	judge := &fakeJudge{verdict: winnerVerdict("a", map[string]int{"a": 8})}
	f := newFixture(t, adapters, judge)

	models := append(twoModels(), arena.Model{ID: "c", Name: "model-c", Provider: "z"})
	b, err := f.orch.Start(context.Background(), "three way", models, arena.Settings{})
	tester.NoErr(t, err)

	got := f.waitForStatus(t, b.ID, arena.StatusComplete)
	tester.Eq(t, got.Responses["c"].Err, "rate limited")
	tester.True(t, got.Judgment == nil)
	tester.Eq(t, judge.callCount(), 0)

	// Voting among the survivors stays open.
	voted, err := f.orch.Vote(context.Background(), b.ID, "a")
	tester.NoErr(t, err)
	tester.Eq(t, voted.UserVote, "a")
	votes, judgments := f.rank.counts()
	tester.Eq(t, votes, 1)
	tester.Eq(t, judgments, 0)
}

func TestStopCancelsStreams(t *testing.T) {
	holdA := make(chan struct{})
	holdB := make(chan struct{})
	adapters := &stream.ScriptAdapter{
		Scripts: map[string][]stream.Event{
			"a": {{Kind: stream.KindContent, Delta: "partial a"}},
			"b": {{Kind: stream.KindContent, Delta: "partial b"}},
		},
		Hold: map[string]chan struct{}{"a": holdA, "b": holdB},
	}
	judge := &fakeJudge{verdict: winnerVerdict("a", nil)}
	f := newFixture(t, adapters, judge)

	b, err := f.orch.Start(context.Background(), "never finishes", twoModels(), arena.Settings{})
	tester.NoErr(t, err)

	tester.Eventually(t, time.Second, func() bool {
		got, err := f.orch.Get(context.Background(), b.ID)
		return err == nil && got.Responses["a"].Content != "" && got.Responses["b"].Content != ""
	})

	tester.NoErr(t, f.orch.Stop(b.ID))

	got := f.waitForStatus(t, b.ID, arena.StatusComplete)
	tester.Eq(t, got.Responses["a"].Err, "stopped by user")
	tester.Eq(t, got.Responses["b"].Err, "stopped by user")
	tester.Eq(t, got.Responses["a"].Content, "partial a", "partial content survives a stop")
	tester.Eq(t, judge.callCount(), 0)

	tester.ErrIs(t, f.orch.Stop(b.ID), arena.ErrBattleNotActive)
}

func TestAdapterTimeoutNamesTheTimeout(t *testing.T) {
	hold := make(chan struct{})
	defer close(hold)
	inner := &stream.ScriptAdapter{
		Scripts: map[string][]stream.Event{
			"a": {{Kind: stream.KindContent, Delta: "never finishes"}},
			"b": contentScript("done in time"),
		},
		Hold: map[string]chan struct{}{"a": hold},
	}
	judge := &fakeJudge{verdict: winnerVerdict("b", nil)}
	f := newFixture(t, stream.StreamTimeout(inner, 50*time.Millisecond), judge)

	b, err := f.orch.Start(context.Background(), "slow provider", twoModels(), arena.Settings{})
	tester.NoErr(t, err)

	got := f.waitForStatus(t, b.ID, arena.StatusComplete)
	tester.True(t, strings.Contains(got.Responses["a"].Err, "timed out"), got.Responses["a"].Err)
	tester.False(t, strings.Contains(got.Responses["a"].Err, "stopped by user"),
		"a provider timeout is not a user stop")
	tester.Eq(t, got.Responses["b"].Err, "")
	tester.Eq(t, judge.callCount(), 0)
}

// gatedAdapter blocks Open per model until the test releases it.
type gatedAdapter struct {
	inner stream.Adapter
	gate  map[string]chan struct{}
}

func (g *gatedAdapter) Open(ctx context.Context, req stream.Request) (<-chan stream.Event, context.CancelFunc, error) {
	if c, ok := g.gate[req.Model.ID]; ok {
		<-c
	}
	return g.inner.Open(ctx, req)
}

func TestStopReachesAdapterOpenedConcurrently(t *testing.T) {
	holdA := make(chan struct{})
	holdB := make(chan struct{})
	defer close(holdA)
	defer close(holdB)
	inner := &stream.ScriptAdapter{
		Scripts: map[string][]stream.Event{
			"a": {{Kind: stream.KindContent, Delta: "partial"}},
			"b": nil,
		},
		Hold: map[string]chan struct{}{"a": holdA, "b": holdB},
	}
	openB := make(chan struct{})
	adapters := &gatedAdapter{inner: inner, gate: map[string]chan struct{}{"b": openB}}
	judge := &fakeJudge{verdict: winnerVerdict("a", nil)}
	f := newFixture(t, adapters, judge)

	startErr := make(chan error, 1)
	go func() {
		_, err := f.orch.Start(context.Background(), "stop mid-open", twoModels(), arena.Settings{})
		startErr <- err
	}()

	// The battle is persisted before adapters open, so the id is visible
	// while Start is still blocked opening "b".
	var id string
	tester.Eventually(t, time.Second, func() bool {
		battles, err := f.store.List(context.Background())
		if err != nil || len(battles) == 0 {
			return false
		}
		id = battles[0].ID
		return true
	})

	tester.NoErr(t, f.orch.Stop(id))
	close(openB)
	tester.NoErr(t, <-startErr)

	// "b" opened after the stop; its stream must still be cancelled, not
	// left running until its own hold releases.
	got := f.waitForStatus(t, id, arena.StatusComplete)
	tester.Eq(t, got.Responses["a"].Err, "stopped by user")
	tester.Eq(t, got.Responses["b"].Err, "stopped by user")
}

func TestJudgeFailureRecordsNullJudgment(t *testing.T) {
	adapters := &stream.ScriptAdapter{Scripts: map[string][]stream.Event{
		"a": contentScript("one"),
		"b": contentScript("two"),
	}}
	judge := &fakeJudge{verdict: func(*arena.Battle) (*arena.Judgment, error) {
		return nil, errors.New("malformed verdict")
	}}
	f := newFixture(t, adapters, judge)

	b, err := f.orch.Start(context.Background(), "judge this", twoModels(), arena.Settings{})
	tester.NoErr(t, err)

	got := f.waitForStatus(t, b.ID, arena.StatusJudged)
	tester.True(t, got.Judgment == nil, "failed judging still closes the battle")
	_, judgments := f.rank.counts()
	tester.Eq(t, judgments, 0)
}

func TestTieJudgment(t *testing.T) {
	adapters := &stream.ScriptAdapter{Scripts: map[string][]stream.Event{
		"a": contentScript("same"),
		"b": contentScript("same"),
	}}
	judge := &fakeJudge{verdict: func(*arena.Battle) (*arena.Judgment, error) {
		return &arena.Judgment{Scores: map[string]int{"a": 7, "b": 7}, CreatedAt: time.Now()}, nil
	}}
	f := newFixture(t, adapters, judge)

	b, err := f.orch.Start(context.Background(), "tie me", twoModels(), arena.Settings{})
	tester.NoErr(t, err)

	got := f.waitForStatus(t, b.ID, arena.StatusJudged)
	tester.True(t, got.Judgment != nil)
	tester.True(t, got.Judgment.WinnerID == nil, "explicit tie keeps a nil winner")
	_, judgments := f.rank.counts()
	tester.Eq(t, judgments, 1)
}

func TestVoteWhileStreaming(t *testing.T) {
	hold := make(chan struct{})
	adapters := &stream.ScriptAdapter{
		Scripts: map[string][]stream.Event{
			"a": {{Kind: stream.KindContent, Delta: "slow"}},
			"b": contentScript("fast"),
		},
		Hold: map[string]chan struct{}{"a": hold},
	}
	judge := &fakeJudge{verdict: winnerVerdict("b", map[string]int{"a": 5, "b": 9})}
	f := newFixture(t, adapters, judge)

	b, err := f.orch.Start(context.Background(), "race", twoModels(), arena.Settings{})
	tester.NoErr(t, err)

	// Vote lands before the battle completes.
	voted, err := f.orch.Vote(context.Background(), b.ID, "b")
	tester.NoErr(t, err)
	tester.Eq(t, voted.UserVote, "b")

	_, err = f.orch.Vote(context.Background(), b.ID, "a")
	tester.ErrIs(t, err, arena.ErrAlreadyVoted)
	_, err = f.orch.Vote(context.Background(), b.ID, "ghost")
	tester.ErrIs(t, err, arena.ErrUnknownVote)

	close(hold)
	got := f.waitForStatus(t, b.ID, arena.StatusJudged)
	tester.Eq(t, got.UserVote, "b")
	votes, judgments := f.rank.counts()
	tester.Eq(t, votes, 1)
	tester.Eq(t, judgments, 1)
}

func TestVoteOnStoredBattle(t *testing.T) {
	adapters := &stream.ScriptAdapter{Scripts: map[string][]stream.Event{
		"a": contentScript("one"),
		"b": contentScript("two"),
	}}
	judge := &fakeJudge{verdict: winnerVerdict("a", map[string]int{"a": 8, "b": 6})}
	f := newFixture(t, adapters, judge)

	b, err := f.orch.Start(context.Background(), "vote later", twoModels(), arena.Settings{})
	tester.NoErr(t, err)
	f.waitForStatus(t, b.ID, arena.StatusJudged)

	// Session released; the vote goes through the store path.
	tester.Eventually(t, time.Second, func() bool {
		return f.stored(t, b.ID).Status == arena.StatusJudged
	})
	voted, err := f.orch.Vote(context.Background(), b.ID, "a")
	tester.NoErr(t, err)
	tester.Eq(t, voted.UserVote, "a")
	tester.Eq(t, f.stored(t, b.ID).UserVote, "a")
}

func TestUpdateEditsLiveAndStored(t *testing.T) {
	hold := make(chan struct{})
	adapters := &stream.ScriptAdapter{
		Scripts: map[string][]stream.Event{
			"a": {{Kind: stream.KindContent, Delta: "x"}},
			"b": contentScript("y"),
		},
		Hold: map[string]chan struct{}{"a": hold},
	}
	judge := &fakeJudge{verdict: winnerVerdict("a", map[string]int{"a": 8, "b": 6})}
	f := newFixture(t, adapters, judge)

	b, err := f.orch.Start(context.Background(), "edit me", twoModels(), arena.Settings{})
	tester.NoErr(t, err)

	got, err := f.orch.Update(context.Background(), b.ID, func(b *arena.Battle) {
		b.Pinned = true
		b.Title = "kept"
	})
	tester.NoErr(t, err)
	tester.True(t, got.Pinned)

	close(hold)
	final := f.waitForStatus(t, b.ID, arena.StatusJudged)
	tester.True(t, final.Pinned, "live edit survives completion")
	tester.Eq(t, final.Title, "kept")
}

func TestSubscribeStreamsEventsAndCloses(t *testing.T) {
	adapters := &stream.ScriptAdapter{
		Scripts: map[string][]stream.Event{
			"a": contentScript("one"),
			"b": contentScript("two"),
		},
		Delay: 5 * time.Millisecond,
	}
	judge := &fakeJudge{verdict: winnerVerdict("a", map[string]int{"a": 8, "b": 6})}
	f := newFixture(t, adapters, judge)

	b, err := f.orch.Start(context.Background(), "watch me", twoModels(), arena.Settings{})
	tester.NoErr(t, err)

	snapshot, events, cancel, err := f.orch.Subscribe(context.Background(), b.ID)
	tester.NoErr(t, err)
	defer cancel()
	tester.Eq(t, snapshot.ID, b.ID)

	var (
		sawJudgment bool
		lastSeq     int64
	)
	deadline := time.After(2 * time.Second)
	for events != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			tester.True(t, ev.Seq > lastSeq, "event sequence must be strictly increasing")
			lastSeq = ev.Seq
			if ev.Type == arena.EventJudgmentReceived {
				sawJudgment = true
			}
		case <-deadline:
			t.Fatal("subscription never closed")
		}
	}
	tester.True(t, sawJudgment)

	// A finished battle yields its snapshot with no event channel.
	snapshot, events, _, err = f.orch.Subscribe(context.Background(), b.ID)
	tester.NoErr(t, err)
	tester.Eq(t, snapshot.Status, arena.StatusJudged)
	tester.True(t, events == nil)
}

func TestStartValidation(t *testing.T) {
	f := newFixture(t, &stream.ScriptAdapter{}, &fakeJudge{verdict: winnerVerdict("a", nil)})

	_, err := f.orch.Start(context.Background(), "", twoModels(), arena.Settings{})
	tester.ErrIs(t, err, arena.ErrPromptRequired)

	_, err = f.orch.Start(context.Background(), "hi", twoModels()[:1], arena.Settings{})
	tester.ErrIs(t, err, arena.ErrModelCount)
}

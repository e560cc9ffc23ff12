package arena

import (
	"encoding/json"
	"testing"
	"time"

	"arena/internal/tester"
)

func testModels(n int) []Model {
	all := []Model{
		{ID: "a", Name: "model-a", Provider: "x"},
		{ID: "b", Name: "model-b", Provider: "y"},
		{ID: "c", Name: "model-c", Provider: "x"},
		{ID: "d", Name: "model-d", Provider: "z"},
	}
	return all[:n]
}

func TestNewBattleValidation(t *testing.T) {
	_, err := NewBattle("", testModels(2), Settings{})
	tester.ErrIs(t, err, ErrPromptRequired)

	_, err = NewBattle("hi", testModels(1), Settings{})
	tester.ErrIs(t, err, ErrModelCount)

	tooMany := append(testModels(4), Model{ID: "e", Provider: "w"})
	_, err = NewBattle("hi", tooMany, Settings{})
	tester.ErrIs(t, err, ErrModelCount)

	dup := []Model{{ID: "a", Provider: "x"}, {ID: "a", Provider: "y"}}
	_, err = NewBattle("hi", dup, Settings{})
	tester.ErrIs(t, err, ErrDuplicateModel)

	b, err := NewBattle("hi", testModels(3), Settings{})
	tester.NoErr(t, err)
	tester.Eq(t, b.Status, StatusPending)
	tester.Eq(t, b.Settings.Category, CategoryGeneral)
	tester.Eq(t, len(b.Responses), 3)
	for id := range b.Responses {
		tester.True(t, b.HasModel(id), "response key must be a participant")
	}
}

func TestValidateVote(t *testing.T) {
	b, err := NewBattle("hi", testModels(2), Settings{})
	tester.NoErr(t, err)

	tester.ErrIs(t, b.ValidateVote("nope"), ErrUnknownVote)
	tester.NoErr(t, b.ValidateVote("a"))

	b.UserVote = "a"
	tester.NoErr(t, b.ValidateVote("a"))
	tester.ErrIs(t, b.ValidateVote("b"), ErrAlreadyVoted)
}

func TestStatusForwardOnly(t *testing.T) {
	tester.True(t, StatusPending.CanAdvance(StatusStreaming))
	tester.True(t, StatusStreaming.CanAdvance(StatusComplete))
	tester.True(t, StatusComplete.CanAdvance(StatusJudged))
	tester.False(t, StatusJudged.CanAdvance(StatusStreaming))
	tester.False(t, StatusComplete.CanAdvance(StatusComplete))
}

func TestFoldStreamLifecycle(t *testing.T) {
	b, err := NewBattle("hi", testModels(2), Settings{})
	tester.NoErr(t, err)
	b.Status = StatusStreaming
	now := time.Now().UTC()

	Fold(b, Event{Type: EventStreamDelta, ModelID: "a", Delta: "Hello", At: now})
	Fold(b, Event{Type: EventStreamDelta, ModelID: "a", Delta: ", world", At: now})
	tester.Eq(t, b.Responses["a"].Content, "Hello, world")
	tester.Eq(t, b.Responses["a"].FirstTokenAt, now)

	Fold(b, Event{Type: EventAdapterDone, ModelID: "a", At: now})
	tester.True(t, b.Responses["a"].Terminal())
	tester.False(t, b.Responses["a"].Streaming)

	// Post-terminal deltas are dropped.
	Fold(b, Event{Type: EventStreamDelta, ModelID: "a", Delta: "late", At: now})
	tester.Eq(t, b.Responses["a"].Content, "Hello, world")

	Fold(b, Event{Type: EventAdapterError, ModelID: "b", Message: "boom", At: now})
	tester.Eq(t, b.Responses["b"].Err, "boom")
	tester.True(t, b.HasErrors())

	Fold(b, Event{Type: EventAllComplete, At: now})
	tester.Eq(t, b.Status, StatusComplete)
}

func TestFoldJudgment(t *testing.T) {
	b, err := NewBattle("hi", testModels(2), Settings{})
	tester.NoErr(t, err)
	b.Status = StatusJudging

	winner := "a"
	j := &Judgment{
		WinnerID:          &winner,
		Scores:            map[string]int{"a": 8, "b": 6},
		SuggestedCategory: "coding",
	}
	Fold(b, Event{Type: EventJudgmentReceived, Judgment: j, At: time.Now()})
	tester.Eq(t, b.Status, StatusJudged)
	tester.Eq(t, b.SuggestedCategory, "coding")

	// A second verdict cannot rewind or replace the first.
	Fold(b, Event{Type: EventJudgmentReceived, Judgment: nil, At: time.Now()})
	tester.True(t, b.Judgment != nil)
}

func TestCloneIsDeep(t *testing.T) {
	b, err := NewBattle("hi", testModels(2), Settings{})
	tester.NoErr(t, err)
	b.Responses["a"].Content = "original"
	b.Responses["a"].Sources = []Source{{URL: "https://example.com"}}
	winner := "a"
	b.Judgment = &Judgment{WinnerID: &winner, Scores: map[string]int{"a": 9}}

	c := b.Clone()
	c.Responses["a"].Content = "mutated"
	c.Responses["a"].Sources[0].URL = "https://other.example"
	*c.Judgment.WinnerID = "b"
	c.Judgment.Scores["a"] = 1

	tester.Eq(t, b.Responses["a"].Content, "original")
	tester.Eq(t, b.Responses["a"].Sources[0].URL, "https://example.com")
	tester.Eq(t, *b.Judgment.WinnerID, "a")
	tester.Eq(t, b.Judgment.Scores["a"], 9)
}

func TestBattleJSONRoundTrip(t *testing.T) {
	b, err := NewBattle("write a haiku", testModels(2), Settings{BlindMode: true, Category: "writing"})
	tester.NoErr(t, err)
	b.Status = StatusJudged
	b.UserVote = "b"
	b.Responses["a"].Content = "leaves drift down"
	b.Responses["a"].CompletedAt = time.Now().UTC().Truncate(time.Microsecond)
	b.Responses["a"].Usage = &Usage{InputTokens: 10, OutputTokens: 17}
	winner := "a"
	b.Judgment = &Judgment{
		WinnerID:  &winner,
		Analysis:  "a was sharper",
		Scores:    map[string]int{"a": 8, "b": 6},
		Criteria:  []string{"accuracy"},
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}

	raw, err := json.Marshal(b)
	tester.NoErr(t, err)
	var back Battle
	tester.NoErr(t, json.Unmarshal(raw, &back))
	tester.Eq(t, &back, b)
}

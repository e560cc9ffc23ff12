package judge

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"arena/internal/arena"
	"arena/internal/tester"
)

// scriptClient returns canned payloads, or errors, in order.
type scriptClient struct {
	payloads []string
	errs     []error
	calls    int
	lastIn   any
}

func (c *scriptClient) Name() string { return "script" }

func (c *scriptClient) GenerateJSON(_ context.Context, _ string, input any) (json.RawMessage, error) {
	i := c.calls
	c.calls++
	c.lastIn = input
	if i < len(c.errs) && c.errs[i] != nil {
		return nil, c.errs[i]
	}
	if i < len(c.payloads) {
		return json.RawMessage(c.payloads[i]), nil
	}
	return nil, errors.New("script exhausted")
}

func finishedBattle() *arena.Battle {
	return &arena.Battle{
		ID:     "b1",
		Prompt: "write a haiku about autumn",
		Models: []arena.Model{
			{ID: "a", Name: "model-a", Provider: "x"},
			{ID: "b", Name: "model-b", Provider: "y"},
		},
		Responses: map[string]*arena.Response{
			"a": {Content: "leaves drift down", Reasoning: "secret chain of thought", CompletedAt: time.Now()},
			"b": {Content: "red maple silence", CompletedAt: time.Now()},
		},
		Settings: arena.Settings{Category: "writing"},
		Status:   arena.StatusComplete,
	}
}

func TestEvaluateParsesVerdict(t *testing.T) {
	c := &scriptClient{payloads: []string{
		`{"winnerId":"a","analysis":"a was tighter","scores":{"a":8,"b":6},"criteria":["accuracy","clarity"]}`,
	}}
	e := NewEvaluator(c)

	j, err := e.Evaluate(context.Background(), finishedBattle())
	tester.NoErr(t, err)
	tester.Eq(t, *j.WinnerID, "a")
	tester.Eq(t, j.Scores, map[string]int{"a": 8, "b": 6})
	tester.Eq(t, j.Criteria, []string{"accuracy", "clarity"})
	tester.True(t, !j.CreatedAt.IsZero())

	// The judge input carries answer text only, never reasoning.
	raw, err := json.Marshal(c.lastIn)
	tester.NoErr(t, err)
	tester.False(t, strings.Contains(string(raw), "secret chain of thought"))
	tester.True(t, strings.Contains(string(raw), "leaves drift down"))
}

func TestEvaluateTie(t *testing.T) {
	c := &scriptClient{payloads: []string{
		`{"winnerId":null,"analysis":"equally good","scores":{"a":7,"b":7}}`,
	}}
	j, err := NewEvaluator(c).Evaluate(context.Background(), finishedBattle())
	tester.NoErr(t, err)
	tester.True(t, j.WinnerID == nil, "null winner is a tie, not an error")
	// Criteria default to the fixed set when the verdict omits them.
	tester.Eq(t, j.Criteria, Criteria)
}

func TestEvaluateMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":        `the winner is model a`,
		"no scores":       `{"winnerId":"a","analysis":"x"}`,
		"missing a model": `{"winnerId":"a","scores":{"a":8}}`,
		"unknown winner":  `{"winnerId":"ghost","scores":{"a":8,"b":6}}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			c := &scriptClient{payloads: []string{payload}}
			_, err := NewEvaluator(c).Evaluate(context.Background(), finishedBattle())
			tester.True(t, err != nil, "want parse error")
		})
	}
}

func TestEvaluateClampsScores(t *testing.T) {
	c := &scriptClient{payloads: []string{
		`{"winnerId":"a","scores":{"a":42,"b":-3}}`,
	}}
	j, err := NewEvaluator(c).Evaluate(context.Background(), finishedBattle())
	tester.NoErr(t, err)
	tester.Eq(t, j.Scores["a"], 10)
	tester.Eq(t, j.Scores["b"], 1)
}

func TestCategorySuggestionOnlyForGeneral(t *testing.T) {
	payload := `{"winnerId":"a","scores":{"a":8,"b":6},"suggestedCategory":"coding","categoryConfidence":0.9}`

	b := finishedBattle()
	b.Settings.Category = arena.CategoryGeneral
	j, err := NewEvaluator(&scriptClient{payloads: []string{payload}}).Evaluate(context.Background(), b)
	tester.NoErr(t, err)
	tester.Eq(t, j.SuggestedCategory, "coding")
	tester.Eq(t, j.CategoryConfidence, 0.9)

	// A user-chosen category is never second-guessed.
	b2 := finishedBattle()
	j, err = NewEvaluator(&scriptClient{payloads: []string{payload}}).Evaluate(context.Background(), b2)
	tester.NoErr(t, err)
	tester.Eq(t, j.SuggestedCategory, "")
	tester.Eq(t, j.CategoryConfidence, 0.0)
}

func TestRetryMiddleware(t *testing.T) {
	c := &scriptClient{
		errs:     []error{errors.New("transient"), errors.New("transient")},
		payloads: []string{"", "", `{"winnerId":"a","scores":{"a":8,"b":6}}`},
	}
	e := NewEvaluator(c, Retry(3, time.Millisecond))
	_, err := e.Evaluate(context.Background(), finishedBattle())
	tester.NoErr(t, err)
	tester.Eq(t, c.calls, 3)
}

func TestRetryStopsOnPermanent(t *testing.T) {
	c := &scriptClient{errs: []error{NewPermanentError(errors.New("context too long"))}}
	e := NewEvaluator(c, Retry(3, time.Millisecond))
	_, err := e.Evaluate(context.Background(), finishedBattle())
	tester.True(t, err != nil)
	tester.Eq(t, c.calls, 1)
}

func TestVerdictPromptSections(t *testing.T) {
	p := verdictPrompt(false)
	for _, section := range []string{"[PURPOSE]", "[OUTPUT]", "[RULES]", "[OUTPUT_FORMAT]"} {
		tester.True(t, strings.Contains(p, section), section)
	}
	tester.True(t, strings.Contains(p, "winnerId"))
	tester.False(t, strings.Contains(p, "suggestedCategory"))

	withSuggestion := verdictPrompt(true)
	tester.True(t, strings.Contains(withSuggestion, "suggestedCategory"))
	tester.True(t, strings.Contains(withSuggestion, "categoryConfidence"))
}

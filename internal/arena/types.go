package arena

import (
	"time"
)

// Status is the battle lifecycle state. Transitions are forward-only:
// pending -> streaming -> complete -> judging -> judged.
// A battle whose responses contain errors stays at complete.
type Status string

const (
	StatusPending   Status = "pending"
	StatusStreaming Status = "streaming"
	StatusComplete  Status = "complete"
	StatusJudging   Status = "judging"
	StatusJudged    Status = "judged"
)

// order maps each status to its position in the lifecycle.
var statusOrder = map[Status]int{
	StatusPending:   0,
	StatusStreaming: 1,
	StatusComplete:  2,
	StatusJudging:   3,
	StatusJudged:    4,
}

// CanAdvance reports whether moving from s to next is a forward transition.
func (s Status) CanAdvance(next Status) bool {
	return statusOrder[next] > statusOrder[s]
}

// Model is immutable reference data for one participating model.
type Model struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Provider string `json:"provider"`
	// Capable marks models with large context or extended reasoning support;
	// the surprise selector prefers them within a provider.
	Capable bool `json:"capable,omitempty"`
}

// ReasoningEffort controls how much thinking budget a model is asked for.
type ReasoningEffort string

const (
	EffortNone   ReasoningEffort = ""
	EffortLow    ReasoningEffort = "low"
	EffortMedium ReasoningEffort = "medium"
	EffortHigh   ReasoningEffort = "high"
)

// Settings are chosen at battle creation and immutable afterwards.
type Settings struct {
	WebSearch       bool            `json:"webSearch,omitempty"`
	ReasoningEffort ReasoningEffort `json:"reasoningEffort,omitempty"`
	BlindMode       bool            `json:"blindMode,omitempty"`
	Category        string          `json:"category,omitempty"`
	// ContextID optionally links a workspace document whose text was
	// prepended to the prompt. Resolution happens outside this core.
	ContextID   string  `json:"contextId,omitempty"`
	Temperature float32 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"maxTokens,omitempty"`
}

// Usage carries token accounting reported by a provider.
type Usage struct {
	InputTokens     int `json:"inputTokens"`
	OutputTokens    int `json:"outputTokens"`
	ReasoningTokens int `json:"reasoningTokens,omitempty"`
}

// Source is one retrieval citation attached to a response.
type Source struct {
	Title string `json:"title,omitempty"`
	URL   string `json:"url"`
}

// Response is the accumulated per-model state of one battle. It is owned by
// the orchestrator while streaming and becomes read-only once CompletedAt or
// Err is set.
type Response struct {
	Content   string    `json:"content"`
	Reasoning string    `json:"reasoning,omitempty"`
	Streaming bool      `json:"streaming"`
	Thinking  bool      `json:"thinking"`
	Err       string    `json:"error,omitempty"`
	Sources   []Source  `json:"sources,omitempty"`
	StartedAt time.Time `json:"startedAt"`
	// FirstTokenAt is zero until the first content or reasoning delta lands.
	FirstTokenAt time.Time `json:"firstTokenAt,omitzero"`
	CompletedAt  time.Time `json:"completedAt,omitzero"`
	Usage        *Usage    `json:"usage,omitempty"`
}

// Terminal reports whether the response has reached its final state.
func (r *Response) Terminal() bool {
	return r != nil && (r.Err != "" || !r.CompletedAt.IsZero())
}

// Judgment is the judge's structured verdict. Created once, immutable after.
type Judgment struct {
	// WinnerID is nil for an explicitly declared tie.
	WinnerID *string        `json:"winnerId"`
	Analysis string         `json:"analysis"`
	Scores   map[string]int `json:"scores"`
	Criteria []string       `json:"criteria"`
	// SuggestedCategory is advisory, only produced when the battle was
	// created with the "general" category. It never overrides the user's
	// own choice.
	SuggestedCategory  string    `json:"suggestedCategory,omitempty"`
	CategoryConfidence float64   `json:"categoryConfidence,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
}

// Battle is one comparison session between 2-4 models answering one prompt.
type Battle struct {
	ID        string               `json:"id"`
	Title     string               `json:"title,omitempty"`
	Prompt    string               `json:"prompt"`
	Models    []Model              `json:"models"`
	Responses map[string]*Response `json:"responses"`
	UserVote  string               `json:"userVote,omitempty"`
	Judgment  *Judgment            `json:"judgment,omitempty"`
	Settings  Settings             `json:"settings"`
	Status    Status               `json:"status"`
	Pinned    bool                 `json:"pinned,omitempty"`
	// SuggestedCategory mirrors the judge's advisory classification so it
	// survives even if the judgment payload is dropped from a projection.
	SuggestedCategory string    `json:"suggestedCategory,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// HasModel reports whether modelID participates in the battle.
func (b *Battle) HasModel(modelID string) bool {
	for _, m := range b.Models {
		if m.ID == modelID {
			return true
		}
	}
	return false
}

// ModelByID returns the participating model, if any.
func (b *Battle) ModelByID(modelID string) (Model, bool) {
	for _, m := range b.Models {
		if m.ID == modelID {
			return m, true
		}
	}
	return Model{}, false
}

// HasErrors reports whether any response ended with an error.
func (b *Battle) HasErrors() bool {
	for _, r := range b.Responses {
		if r != nil && r.Err != "" {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand to other goroutines.
func (b *Battle) Clone() *Battle {
	if b == nil {
		return nil
	}
	out := *b
	out.Models = append([]Model(nil), b.Models...)
	out.Responses = make(map[string]*Response, len(b.Responses))
	for id, r := range b.Responses {
		if r == nil {
			out.Responses[id] = nil
			continue
		}
		rc := *r
		rc.Sources = append([]Source(nil), r.Sources...)
		if r.Usage != nil {
			u := *r.Usage
			rc.Usage = &u
		}
		out.Responses[id] = &rc
	}
	if b.Judgment != nil {
		j := *b.Judgment
		if b.Judgment.WinnerID != nil {
			w := *b.Judgment.WinnerID
			j.WinnerID = &w
		}
		j.Scores = make(map[string]int, len(b.Judgment.Scores))
		for k, v := range b.Judgment.Scores {
			j.Scores[k] = v
		}
		j.Criteria = append([]string(nil), b.Judgment.Criteria...)
		out.Judgment = &j
	}
	return &out
}

// RankingEntry is the durable per-(model, category) aggregate. Counters only
// ever increase; AvgJudgeScore is a running mean over JudgeScoreCount samples.
type RankingEntry struct {
	ModelID            string  `json:"modelId"`
	Category           string  `json:"category"`
	Wins               int     `json:"wins"`
	Losses             int     `json:"losses"`
	Ties               int     `json:"ties"`
	VoteCount          int     `json:"voteCount"`
	JudgeAgreementCount int    `json:"judgeAgreementCount"`
	JudgeScoreCount    int     `json:"judgeScoreCount"`
	AvgJudgeScore      float64 `json:"avgJudgeScore"`
}

package arena

import "time"

// EventType enumerates the battle transitions in the append-only event log.
type EventType string

const (
	EventStreamDelta      EventType = "stream_delta"
	EventReasoningDelta   EventType = "reasoning_delta"
	EventThinking         EventType = "thinking"
	EventRetrievalStatus  EventType = "retrieval_status"
	EventSources          EventType = "sources"
	EventUsage            EventType = "usage"
	EventAdapterDone      EventType = "adapter_done"
	EventAdapterError     EventType = "adapter_error"
	EventAllComplete      EventType = "all_complete"
	EventJudgingStarted   EventType = "judging_started"
	EventJudgmentReceived EventType = "judgment_received"
	EventVoteCast         EventType = "vote_cast"
)

// Event is one typed transition. Seq is assigned per battle and is strictly
// increasing; events for the same model are ordered, events across models
// are not.
type Event struct {
	Seq      int64     `json:"seq"`
	Type     EventType `json:"type"`
	BattleID string    `json:"battleId"`
	ModelID  string    `json:"modelId,omitempty"`
	Delta    string    `json:"delta,omitempty"`
	Thinking bool      `json:"thinking,omitempty"`
	// Retrieval is "searching" or "done" for retrieval_status events.
	Retrieval string    `json:"retrieval,omitempty"`
	Query     string    `json:"query,omitempty"`
	Sources   []Source  `json:"sources,omitempty"`
	Usage     *Usage    `json:"usage,omitempty"`
	Message   string    `json:"message,omitempty"`
	Judgment  *Judgment `json:"judgment,omitempty"`
	VotedFor  string    `json:"votedFor,omitempty"`
	At        time.Time `json:"at"`
}

// Fold applies one event to the battle state. It is the single write path for
// battle mutation; callers serialize access per battle.
func Fold(b *Battle, ev Event) {
	if b == nil {
		return
	}
	b.UpdatedAt = ev.At
	r := b.Responses[ev.ModelID]
	switch ev.Type {
	case EventStreamDelta:
		if r == nil || r.Terminal() {
			return
		}
		if r.FirstTokenAt.IsZero() {
			r.FirstTokenAt = ev.At
		}
		r.Thinking = false
		r.Content += ev.Delta
	case EventReasoningDelta:
		if r == nil || r.Terminal() {
			return
		}
		if r.FirstTokenAt.IsZero() {
			r.FirstTokenAt = ev.At
		}
		r.Reasoning += ev.Delta
	case EventThinking:
		if r == nil || r.Terminal() {
			return
		}
		r.Thinking = ev.Thinking
	case EventSources:
		if r == nil || r.Terminal() {
			return
		}
		r.Sources = append(r.Sources, ev.Sources...)
	case EventUsage:
		if r == nil || ev.Usage == nil {
			return
		}
		u := *ev.Usage
		r.Usage = &u
	case EventAdapterDone:
		if r == nil || r.Terminal() {
			return
		}
		r.Streaming = false
		r.Thinking = false
		r.CompletedAt = ev.At
	case EventAdapterError:
		if r == nil || r.Terminal() {
			return
		}
		r.Streaming = false
		r.Thinking = false
		r.Err = ev.Message
	case EventAllComplete:
		if b.Status.CanAdvance(StatusComplete) {
			b.Status = StatusComplete
		}
	case EventJudgingStarted:
		if b.Status.CanAdvance(StatusJudging) {
			b.Status = StatusJudging
		}
	case EventJudgmentReceived:
		if !b.Status.CanAdvance(StatusJudged) {
			return
		}
		b.Status = StatusJudged
		b.Judgment = ev.Judgment
		if ev.Judgment != nil && ev.Judgment.SuggestedCategory != "" {
			b.SuggestedCategory = ev.Judgment.SuggestedCategory
		}
	case EventVoteCast:
		if b.HasModel(ev.VotedFor) {
			b.UserVote = ev.VotedFor
		}
	}
}

// Package ranking folds battle outcomes into durable per-(model, category)
// counters. Aggregation is idempotent per (battle, signal): replaying a vote
// or judgment never double-counts.
package ranking

import (
	"context"

	"arena/internal/arena"
)

// SignalType distinguishes the independent aggregation triggers.
type SignalType string

const (
	SignalVote      SignalType = "vote"
	SignalJudgment  SignalType = "judgment"
	SignalAgreement SignalType = "agreement"
)

// Delta is one counter increment set for a (model, category) key.
type Delta struct {
	ModelID        string
	Category       string
	Wins           int
	Losses         int
	Ties           int
	VoteCount      int
	JudgeAgreement int
	// JudgeScore, when set, feeds the running mean.
	JudgeScore *int
}

// Store applies counter deltas atomically per (model, category) key and
// enforces the per-(battle, signal) idempotency barrier. Apply returns false
// without changing anything when the signal was already recorded.
type Store interface {
	Apply(ctx context.Context, battleID string, signal SignalType, deltas []Delta) (bool, error)
	Query(ctx context.Context, category string) ([]arena.RankingEntry, error)
}

// Aggregator derives deltas from battle state. Vote and judgment arrive in
// either order; the agreement counter is evaluated whenever both are known
// and carries its own idempotency key.
type Aggregator struct {
	store Store
}

func NewAggregator(store Store) *Aggregator {
	return &Aggregator{store: store}
}

// RecordVote folds the user's vote: the chosen model gains a vote and a win,
// every other participant a loss.
func (a *Aggregator) RecordVote(ctx context.Context, b *arena.Battle) error {
	if b.UserVote == "" {
		return nil
	}
	category := b.Settings.Category
	deltas := make([]Delta, 0, len(b.Models))
	for _, m := range b.Models {
		d := Delta{ModelID: m.ID, Category: category}
		if m.ID == b.UserVote {
			d.VoteCount = 1
			d.Wins = 1
		} else {
			d.Losses = 1
		}
		deltas = append(deltas, d)
	}
	if _, err := a.store.Apply(ctx, b.ID, SignalVote, deltas); err != nil {
		return err
	}
	return a.recordAgreement(ctx, b)
}

// RecordJudgment folds the judge's verdict: each model's score joins its
// running mean, and an explicit tie bumps every participant's tie counter.
func (a *Aggregator) RecordJudgment(ctx context.Context, b *arena.Battle) error {
	j := b.Judgment
	if j == nil {
		return nil
	}
	category := b.Settings.Category
	deltas := make([]Delta, 0, len(b.Models))
	for _, m := range b.Models {
		d := Delta{ModelID: m.ID, Category: category}
		if score, ok := j.Scores[m.ID]; ok {
			s := score
			d.JudgeScore = &s
		}
		if j.WinnerID == nil {
			d.Ties = 1
		}
		deltas = append(deltas, d)
	}
	if _, err := a.store.Apply(ctx, b.ID, SignalJudgment, deltas); err != nil {
		return err
	}
	return a.recordAgreement(ctx, b)
}

// recordAgreement increments the judge-agreement counter when the user's
// vote matches the judge's winner. A mismatch or a tie records nothing; the
// disagreement is implicit in voteCount rising without agreement.
func (a *Aggregator) recordAgreement(ctx context.Context, b *arena.Battle) error {
	if b.UserVote == "" || b.Judgment == nil || b.Judgment.WinnerID == nil {
		return nil
	}
	if *b.Judgment.WinnerID != b.UserVote {
		return nil
	}
	_, err := a.store.Apply(ctx, b.ID, SignalAgreement, []Delta{{
		ModelID:        b.UserVote,
		Category:       b.Settings.Category,
		JudgeAgreement: 1,
	}})
	return err
}

// Query proxies the store.
func (a *Aggregator) Query(ctx context.Context, category string) ([]arena.RankingEntry, error) {
	return a.store.Query(ctx, category)
}

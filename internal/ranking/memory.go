package ranking

import (
	"context"
	"sort"
	"sync"

	"arena/internal/arena"
)

// MemoryStore keeps rankings in process. Counters for every (model, category)
// key mutate under one lock, so concurrent votes across battles cannot lose
// updates.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*arena.RankingEntry
	applied map[string]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*arena.RankingEntry),
		applied: make(map[string]bool),
	}
}

func entryKey(modelID, category string) string { return modelID + "\x00" + category }

func signalKey(battleID string, signal SignalType) string {
	return battleID + "\x00" + string(signal)
}

func (s *MemoryStore) Apply(_ context.Context, battleID string, signal SignalType, deltas []Delta) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sk := signalKey(battleID, signal)
	if s.applied[sk] {
		return false, nil
	}
	s.applied[sk] = true
	for _, d := range deltas {
		k := entryKey(d.ModelID, d.Category)
		e := s.entries[k]
		if e == nil {
			e = &arena.RankingEntry{ModelID: d.ModelID, Category: d.Category}
			s.entries[k] = e
		}
		e.Wins += d.Wins
		e.Losses += d.Losses
		e.Ties += d.Ties
		e.VoteCount += d.VoteCount
		e.JudgeAgreementCount += d.JudgeAgreement
		if d.JudgeScore != nil {
			e.AvgJudgeScore += (float64(*d.JudgeScore) - e.AvgJudgeScore) / float64(e.JudgeScoreCount+1)
			e.JudgeScoreCount++
		}
	}
	return true, nil
}

func (s *MemoryStore) Query(_ context.Context, category string) ([]arena.RankingEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []arena.RankingEntry
	for _, e := range s.entries {
		if category != "" && e.Category != category {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Wins != out[j].Wins {
			return out[i].Wins > out[j].Wins
		}
		if out[i].AvgJudgeScore != out[j].AvgJudgeScore {
			return out[i].AvgJudgeScore > out[j].AvgJudgeScore
		}
		return out[i].ModelID < out[j].ModelID
	})
	return out, nil
}

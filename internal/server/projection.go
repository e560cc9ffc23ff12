package server

import (
	"fmt"

	"arena/internal/arena"
)

// BattleView is the client-facing projection of a battle. In blind mode the
// participants are anonymized until the user votes; the stored battle always
// keeps real model identities, masking is a view concern only.
type BattleView struct {
	*arena.Battle
	Blind bool `json:"blind,omitempty"`
}

func blindAlias(i int) string { return fmt.Sprintf("model-%c", 'a'+i) }

// projectBattle returns the battle as clients may see it.
func projectBattle(b *arena.Battle) BattleView {
	if b == nil {
		return BattleView{}
	}
	if !b.Settings.BlindMode || b.UserVote != "" {
		return BattleView{Battle: b}
	}
	masked := b.Clone()
	alias := make(map[string]string, len(b.Models))
	for i, m := range masked.Models {
		a := blindAlias(i)
		alias[m.ID] = a
		masked.Models[i] = arena.Model{ID: a, Name: "???", Provider: "hidden"}
	}
	responses := make(map[string]*arena.Response, len(masked.Responses))
	for id, r := range masked.Responses {
		responses[alias[id]] = r
	}
	masked.Responses = responses
	// The verdict would name the winner; withhold it along with the
	// advisory category until the reveal.
	if masked.Judgment != nil {
		j := *masked.Judgment
		if j.WinnerID != nil {
			w := alias[*j.WinnerID]
			j.WinnerID = &w
		}
		scores := make(map[string]int, len(j.Scores))
		for id, s := range j.Scores {
			scores[alias[id]] = s
		}
		j.Scores = scores
		j.Analysis = ""
		masked.Judgment = &j
	}
	return BattleView{Battle: masked, Blind: true}
}

// resolveVoteTarget maps a blind-mode alias back to the real model id.
func resolveVoteTarget(b *arena.Battle, target string) string {
	if b == nil || !b.Settings.BlindMode || b.HasModel(target) {
		return target
	}
	for i, m := range b.Models {
		if blindAlias(i) == target {
			return m.ID
		}
	}
	return target
}

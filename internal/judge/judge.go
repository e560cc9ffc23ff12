// Package judge sends a finished battle to a fixed evaluation model and
// parses its structured verdict. Malformed output degrades to an error the
// orchestrator converts into a null judgment; nothing here panics past the
// orchestrator boundary.
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"arena/internal/arena"
)

// Evaluator invokes one fixed evaluation model over finished responses.
type Evaluator struct {
	client JSONClient
}

func NewEvaluator(client JSONClient, mws ...Middleware) *Evaluator {
	return &Evaluator{client: Wrap(client, mws...)}
}

// request is the judge payload. Reasoning/thinking text is deliberately
// excluded; the judge sees exactly what a reader of the answer would.
type request struct {
	Prompt    string          `json:"prompt"`
	Category  string          `json:"category,omitempty"`
	Responses []responseEntry `json:"responses"`
}

type responseEntry struct {
	ModelID   string `json:"modelId"`
	ModelName string `json:"modelName"`
	Content   string `json:"content"`
}

// verdict mirrors the judge's JSON output.
type verdict struct {
	WinnerID           *string        `json:"winnerId"`
	Analysis           string         `json:"analysis"`
	Scores             map[string]int `json:"scores"`
	Criteria           []string       `json:"criteria"`
	SuggestedCategory  string         `json:"suggestedCategory"`
	CategoryConfidence float64        `json:"categoryConfidence"`
}

// Evaluate produces the judgment for a finished battle. The caller
// guarantees every response completed without error.
func (e *Evaluator) Evaluate(ctx context.Context, b *arena.Battle) (*arena.Judgment, error) {
	req := request{Prompt: b.Prompt, Category: b.Settings.Category}
	for _, m := range b.Models {
		r := b.Responses[m.ID]
		if r == nil {
			return nil, fmt.Errorf("judge: battle %s has no response for model %s", b.ID, m.ID)
		}
		req.Responses = append(req.Responses, responseEntry{
			ModelID:   m.ID,
			ModelName: m.Name,
			Content:   r.Content,
		})
	}
	suggestCategory := b.Settings.Category == arena.CategoryGeneral

	raw, err := e.client.GenerateJSON(ctx, verdictPrompt(suggestCategory), req)
	if err != nil {
		return nil, fmt.Errorf("judge: %s call failed: %w", e.client.Name(), err)
	}
	return parseVerdict(raw, b, suggestCategory)
}

// parseVerdict validates the judge's JSON against the battle. A winner that
// is not a participant or a missing scores map is treated as malformed; a
// null winner is a first-class tie, not an error.
func parseVerdict(raw json.RawMessage, b *arena.Battle, suggestCategory bool) (*arena.Judgment, error) {
	var v verdict
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("judge: unparseable verdict: %w", err)
	}
	if len(v.Scores) == 0 {
		return nil, fmt.Errorf("judge: verdict has no scores")
	}
	scores := make(map[string]int, len(b.Models))
	for _, m := range b.Models {
		score, ok := v.Scores[m.ID]
		if !ok {
			return nil, fmt.Errorf("judge: verdict is missing a score for model %s", m.ID)
		}
		scores[m.ID] = clampScore(score)
	}
	if v.WinnerID != nil && !b.HasModel(*v.WinnerID) {
		return nil, fmt.Errorf("judge: verdict winner %q is not a participant", *v.WinnerID)
	}
	criteria := v.Criteria
	if len(criteria) == 0 {
		criteria = append([]string(nil), Criteria...)
	}
	j := &arena.Judgment{
		WinnerID:  v.WinnerID,
		Analysis:  v.Analysis,
		Scores:    scores,
		Criteria:  criteria,
		CreatedAt: time.Now().UTC(),
	}
	if suggestCategory && v.SuggestedCategory != "" && v.SuggestedCategory != arena.CategoryGeneral {
		j.SuggestedCategory = v.SuggestedCategory
		j.CategoryConfidence = v.CategoryConfidence
	}
	return j, nil
}

func clampScore(s int) int {
	if s < 1 {
		return 1
	}
	if s > 10 {
		return 10
	}
	return s
}

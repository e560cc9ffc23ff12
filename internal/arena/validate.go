package arena

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	MinModels = 2
	MaxModels = 4
)

// CategoryGeneral is the default category; battles created with it are
// eligible for an advisory category suggestion from the judge.
const CategoryGeneral = "general"

var (
	ErrPromptRequired  = errors.New("arena: prompt is required")
	ErrModelCount      = fmt.Errorf("arena: battle needs between %d and %d models", MinModels, MaxModels)
	ErrDuplicateModel  = errors.New("arena: duplicate model in battle")
	ErrUnknownVote     = errors.New("arena: vote target is not a participant")
	ErrAlreadyVoted    = errors.New("arena: battle already has a vote")
	ErrBattleNotActive = errors.New("arena: battle is not streaming")
)

// NewBattle validates the creation invariants and returns a battle in the
// pending state with one empty response per model.
func NewBattle(prompt string, models []Model, settings Settings) (*Battle, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, ErrPromptRequired
	}
	if len(models) < MinModels || len(models) > MaxModels {
		return nil, ErrModelCount
	}
	seen := make(map[string]bool, len(models))
	for _, m := range models {
		if strings.TrimSpace(m.ID) == "" {
			return nil, fmt.Errorf("arena: model id is required")
		}
		if seen[m.ID] {
			return nil, ErrDuplicateModel
		}
		seen[m.ID] = true
	}
	if strings.TrimSpace(settings.Category) == "" {
		settings.Category = CategoryGeneral
	}
	now := time.Now().UTC()
	b := &Battle{
		ID:        uuid.NewString(),
		Prompt:    prompt,
		Models:    append([]Model(nil), models...),
		Responses: make(map[string]*Response, len(models)),
		Settings:  settings,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, m := range models {
		b.Responses[m.ID] = &Response{StartedAt: now, Streaming: true}
	}
	return b, nil
}

// ValidateVote checks that modelID may receive this battle's vote.
func (b *Battle) ValidateVote(modelID string) error {
	if !b.HasModel(modelID) {
		return ErrUnknownVote
	}
	if b.UserVote != "" && b.UserVote != modelID {
		return ErrAlreadyVoted
	}
	return nil
}

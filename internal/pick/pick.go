// Package pick selects battle participants: a diversity-aware default pair
// per category, and a fully random "surprise" set.
package pick

import (
	"errors"
	"math/rand"
	"sort"

	"arena/internal/arena"
)

var ErrNotEnoughModels = errors.New("pick: fewer than two models available")

// Catalog holds the immutable model reference data plus per-category
// preference order. Availability is checked at selection time.
type Catalog struct {
	models []arena.Model
	// prefs maps category to model ids, best first. Categories without an
	// entry fall back to the "general" list, then to catalog order.
	prefs     map[string][]string
	available func(modelID string) bool
}

// New builds a catalog. available may be nil, meaning every model is up.
func New(models []arena.Model, prefs map[string][]string, available func(string) bool) *Catalog {
	if available == nil {
		available = func(string) bool { return true }
	}
	return &Catalog{models: models, prefs: prefs, available: available}
}

// Models returns the full catalog.
func (c *Catalog) Models() []arena.Model {
	return append([]arena.Model(nil), c.models...)
}

// ByID resolves ids against the catalog, failing on unknown ids.
func (c *Catalog) ByID(ids []string) ([]arena.Model, error) {
	out := make([]arena.Model, 0, len(ids))
	for _, id := range ids {
		m, ok := c.lookup(id)
		if !ok {
			return nil, errors.New("pick: unknown model id " + id)
		}
		out = append(out, m)
	}
	return out, nil
}

func (c *Catalog) lookup(id string) (arena.Model, bool) {
	for _, m := range c.models {
		if m.ID == id {
			return m, true
		}
	}
	return arena.Model{}, false
}

// ranked returns the preference list for a category, extended with any
// available models the list omits, filtered to availability.
func (c *Catalog) ranked(category string) []arena.Model {
	ids := c.prefs[category]
	if len(ids) == 0 {
		ids = c.prefs[arena.CategoryGeneral]
	}
	seen := make(map[string]bool, len(ids))
	var out []arena.Model
	for _, id := range ids {
		m, ok := c.lookup(id)
		if !ok || !c.available(m.ID) {
			continue
		}
		seen[m.ID] = true
		out = append(out, m)
	}
	for _, m := range c.models {
		if !seen[m.ID] && c.available(m.ID) {
			out = append(out, m)
		}
	}
	return out
}

// SmartPick returns two model ids for the category: the top-ranked available
// model plus the best-ranked model from a different provider. If every other
// available model shares the first's provider, the next-ranked model is used
// regardless of provider.
func (c *Catalog) SmartPick(category string) ([]string, error) {
	ranked := c.ranked(category)
	if len(ranked) < 2 {
		return nil, ErrNotEnoughModels
	}
	first := ranked[0]
	for _, m := range ranked[1:] {
		if m.Provider != first.Provider {
			return []string{first.ID, m.ID}, nil
		}
	}
	return []string{first.ID, ranked[1].ID}, nil
}

// SurpriseMe returns up to count model ids, taking one model per provider in
// shuffled provider order before reusing a provider. Within a provider,
// capable models are preferred; remaining order is random. Deterministic for
// a given rng.
func (c *Catalog) SurpriseMe(count int, rng *rand.Rand) ([]string, error) {
	if count < arena.MinModels {
		count = arena.MinModels
	}
	if count > arena.MaxModels {
		count = arena.MaxModels
	}
	byProvider := make(map[string][]arena.Model)
	var providers []string
	for _, m := range c.models {
		if !c.available(m.ID) {
			continue
		}
		if _, ok := byProvider[m.Provider]; !ok {
			providers = append(providers, m.Provider)
		}
		byProvider[m.Provider] = append(byProvider[m.Provider], m)
	}
	total := 0
	for _, ms := range byProvider {
		total += len(ms)
	}
	if total < arena.MinModels {
		return nil, ErrNotEnoughModels
	}
	if count > total {
		count = total
	}

	sort.Strings(providers)
	rng.Shuffle(len(providers), func(i, j int) {
		providers[i], providers[j] = providers[j], providers[i]
	})
	for _, p := range providers {
		ms := byProvider[p]
		rng.Shuffle(len(ms), func(i, j int) { ms[i], ms[j] = ms[j], ms[i] })
		// Stable partition: capable candidates ahead of the rest.
		sort.SliceStable(ms, func(i, j int) bool { return ms[i].Capable && !ms[j].Capable })
	}

	var out []string
	for round := 0; len(out) < count; round++ {
		progressed := false
		for _, p := range providers {
			if len(out) == count {
				break
			}
			ms := byProvider[p]
			if round >= len(ms) {
				continue
			}
			out = append(out, ms[round].ID)
			progressed = true
		}
		if !progressed {
			break
		}
	}
	return out, nil
}

package stream

import (
	"context"

	genai "google.golang.org/genai"

	"arena/internal/arena"
)

// GeminiAdapter streams responses through the official genai client. One
// adapter serves every Gemini model; the model name travels in the request.
type GeminiAdapter struct {
	cli *genai.Client
}

func NewGeminiAdapter(ctx context.Context) (*GeminiAdapter, error) {
	// The genai client reads GEMINI_API_KEY from the environment.
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, err
	}
	return &GeminiAdapter{cli: cli}, nil
}

// thinkingBudget maps reasoning effort to a Gemini thinking token budget.
func thinkingBudget(effort arena.ReasoningEffort) int32 {
	switch effort {
	case arena.EffortLow:
		return 1024
	case arena.EffortMedium:
		return 8192
	case arena.EffortHigh:
		return 24576
	default:
		return 0
	}
}

func (g *GeminiAdapter) Open(ctx context.Context, req Request) (<-chan Event, context.CancelFunc, error) {
	ctx, cancel := context.WithCancel(ctx)
	cfg := &genai.GenerateContentConfig{}
	if req.Settings.Temperature > 0 {
		cfg.Temperature = genai.Ptr(req.Settings.Temperature)
	}
	if req.Settings.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.Settings.MaxTokens)
	}
	if budget := thinkingBudget(req.Settings.ReasoningEffort); budget > 0 {
		cfg.ThinkingConfig = &genai.ThinkingConfig{
			IncludeThoughts: true,
			ThinkingBudget:  genai.Ptr(budget),
		}
	}
	if req.Settings.WebSearch {
		cfg.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}
	contents := []*genai.Content{{Parts: []*genai.Part{{Text: req.Prompt}}}}

	em := newEmitter(ctx, 64)
	go func() {
		inThought := false
		if req.Settings.WebSearch {
			em.send(Event{Kind: KindRetrievalStatus, Retrieval: "searching"})
		}
		for resp, err := range g.cli.Models.GenerateContentStream(ctx, req.Model.Name, contents, cfg) {
			if err != nil {
				em.finish(err)
				return
			}
			if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				continue
			}
			cand := resp.Candidates[0]
			for _, part := range cand.Content.Parts {
				if part.Text == "" {
					continue
				}
				if part.Thought {
					if !inThought {
						inThought = true
						if !em.send(Event{Kind: KindReasoningBoundary, Boundary: "start"}) {
							return
						}
					}
					if !em.send(Event{Kind: KindReasoning, Delta: part.Text}) {
						return
					}
					continue
				}
				if inThought {
					inThought = false
					if !em.send(Event{Kind: KindReasoningBoundary, Boundary: "end"}) {
						return
					}
				}
				if !em.send(Event{Kind: KindContent, Delta: part.Text}) {
					return
				}
			}
			if srcs := groundingSources(cand.GroundingMetadata); len(srcs) > 0 {
				em.send(Event{Kind: KindRetrievalStatus, Retrieval: "done"})
				if !em.send(Event{Kind: KindSources, Sources: srcs}) {
					return
				}
			}
			if u := resp.UsageMetadata; u != nil {
				usage := &arena.Usage{
					InputTokens:     int(u.PromptTokenCount),
					OutputTokens:    int(u.CandidatesTokenCount),
					ReasoningTokens: int(u.ThoughtsTokenCount),
				}
				if !em.send(Event{Kind: KindUsage, Usage: usage}) {
					return
				}
			}
		}
		em.finish(nil)
	}()
	return em.ch, cancel, nil
}

func groundingSources(md *genai.GroundingMetadata) []arena.Source {
	if md == nil {
		return nil
	}
	var out []arena.Source
	for _, chunk := range md.GroundingChunks {
		if chunk == nil || chunk.Web == nil || chunk.Web.URI == "" {
			continue
		}
		out = append(out, arena.Source{Title: chunk.Web.Title, URL: chunk.Web.URI})
	}
	return out
}

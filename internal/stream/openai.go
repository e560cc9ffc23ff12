package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"arena/internal/arena"
)

// OpenAIAdapter streams from an OpenAI-compatible chat completions endpoint
// over SSE. Groq is the default target; any compatible base URL works.
// See: https://console.groq.com/docs/api-reference
type OpenAIAdapter struct {
	http    *http.Client
	apiKey  string
	baseURL string
}

// NewOpenAIAdapter creates an adapter. If apiKey is empty, it falls back to
// GROQ_API_KEY. The http client carries no timeout; per-call deadlines come
// from the caller's context.
func NewOpenAIAdapter(apiKey, baseURL string) *OpenAIAdapter {
	if apiKey == "" {
		apiKey = os.Getenv("GROQ_API_KEY")
	}
	if baseURL == "" {
		baseURL = "https://api.groq.com/openai/v1/chat/completions"
	}
	return &OpenAIAdapter{
		http:    &http.Client{},
		apiKey:  apiKey,
		baseURL: baseURL,
	}
}

type oaChatReq struct {
	Model           string          `json:"model"`
	Messages        []oaMessage     `json:"messages"`
	Temperature     float32         `json:"temperature,omitempty"`
	MaxTokens       int             `json:"max_tokens,omitempty"`
	Stream          bool            `json:"stream"`
	StreamOptions   *oaStreamOpts   `json:"stream_options,omitempty"`
	ReasoningEffort string          `json:"reasoning_effort,omitempty"`
	SearchSettings  json.RawMessage `json:"search_settings,omitempty"`
}

type oaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaStreamOpts struct {
	IncludeUsage bool `json:"include_usage"`
}

type oaChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			Reasoning string `json:"reasoning"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (a *OpenAIAdapter) Open(ctx context.Context, req Request) (<-chan Event, context.CancelFunc, error) {
	ctx, cancel := context.WithCancel(ctx)
	body := oaChatReq{
		Model:         req.Model.Name,
		Messages:      []oaMessage{{Role: "user", Content: req.Prompt}},
		Temperature:   req.Settings.Temperature,
		MaxTokens:     req.Settings.MaxTokens,
		Stream:        true,
		StreamOptions: &oaStreamOpts{IncludeUsage: true},
	}
	if req.Settings.ReasoningEffort != arena.EffortNone {
		body.ReasoningEffort = string(req.Settings.ReasoningEffort)
	}
	b, _ := json.Marshal(body)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewReader(b))
	if err != nil {
		cancel()
		return nil, nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if a.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	em := newEmitter(ctx, 64)
	go func() {
		resp, err := a.http.Do(httpReq)
		if err != nil {
			em.finish(err)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			em.finish(fmt.Errorf("chat completions: unexpected status %s: %s", resp.Status, string(payload)))
			return
		}
		a.consume(resp.Body, em)
	}()
	return em.ch, cancel, nil
}

// consume reads SSE lines until [DONE] or EOF, translating each data chunk.
func (a *OpenAIAdapter) consume(body io.Reader, em *emitter) {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	inReasoning := false
	var usage *arena.Usage
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		if data == "[DONE]" {
			break
		}
		var chunk oaChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// A mangled frame is not worth failing the whole stream over.
			continue
		}
		if chunk.Usage != nil {
			usage = &arena.Usage{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
			}
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Reasoning != "" {
				if !inReasoning {
					inReasoning = true
					if !em.send(Event{Kind: KindReasoningBoundary, Boundary: "start"}) {
						return
					}
				}
				if !em.send(Event{Kind: KindReasoning, Delta: choice.Delta.Reasoning}) {
					return
				}
			}
			if choice.Delta.Content != "" {
				if inReasoning {
					inReasoning = false
					if !em.send(Event{Kind: KindReasoningBoundary, Boundary: "end"}) {
						return
					}
				}
				if !em.send(Event{Kind: KindContent, Delta: choice.Delta.Content}) {
					return
				}
			}
		}
	}
	if err := sc.Err(); err != nil {
		em.finish(err)
		return
	}
	if usage != nil && !em.send(Event{Kind: KindUsage, Usage: usage}) {
		return
	}
	em.finish(nil)
}

// StreamTimeout wraps an adapter with a per-call deadline. An expired
// deadline surfaces as the adapter's terminal error and feeds the battle's
// completion barrier like any other stream failure; a caller cancel still
// closes the stream without a terminal event.
func StreamTimeout(inner Adapter, d time.Duration) Adapter {
	if d <= 0 {
		d = 120 * time.Second
	}
	return Opener(func(ctx context.Context, req Request) (<-chan Event, context.CancelFunc, error) {
		tctx, cancel := context.WithTimeout(ctx, d)
		ch, innerCancel, err := inner.Open(tctx, req)
		if err != nil {
			cancel()
			return nil, nil, err
		}
		out := make(chan Event, 1)
		go func() {
			defer close(out)
			sawTerminal := false
			for ev := range ch {
				if ev.Terminal() {
					sawTerminal = true
				}
				out <- ev
			}
			// The inner stream closed without a terminal event because the
			// deadline cancelled it; name the timeout unless the caller
			// itself cancelled.
			if !sawTerminal && errors.Is(tctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				out <- Event{Kind: KindError, Err: fmt.Sprintf("stream timed out after %s", d)}
			}
		}()
		return out, func() { innerCancel(); cancel() }, nil
	})
}

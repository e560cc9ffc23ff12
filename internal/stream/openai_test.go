package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"arena/internal/arena"
	"arena/internal/tester"
)

func sseBody(frames ...string) string {
	var b strings.Builder
	for _, f := range frames {
		b.WriteString("data: " + f + "\n\n")
	}
	return b.String()
}

func contentFrame(text string) string {
	return `{"choices":[{"delta":{"content":` + string(mustJSON(text)) + `}}]}`
}

func reasoningFrame(text string) string {
	return `{"choices":[{"delta":{"reasoning":` + string(mustJSON(text)) + `}}]}`
}

func mustJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}

func TestConsumeTranslatesChunks(t *testing.T) {
	body := sseBody(
		reasoningFrame("let me think"),
		reasoningFrame(" about it"),
		contentFrame("the answer"),
		contentFrame(" is 4"),
		`{"choices":[],"usage":{"prompt_tokens":12,"completion_tokens":7}}`,
		"[DONE]",
	)
	a := NewOpenAIAdapter("key", "http://unused")
	em := newEmitter(context.Background(), 64)
	a.consume(strings.NewReader(body), em)

	evs := collect(t, em.ch)
	kinds := make([]Kind, len(evs))
	for i, ev := range evs {
		kinds[i] = ev.Kind
	}
	tester.Eq(t, kinds, []Kind{
		KindReasoningBoundary, KindReasoning, KindReasoning,
		KindReasoningBoundary, KindContent, KindContent,
		KindUsage, KindDone,
	})
	tester.Eq(t, evs[0].Boundary, "start")
	tester.Eq(t, evs[3].Boundary, "end")
	tester.Eq(t, evs[4].Delta, "the answer")
	tester.Eq(t, evs[6].Usage, &arena.Usage{InputTokens: 12, OutputTokens: 7})
}

func TestConsumeSkipsMangledFrames(t *testing.T) {
	body := "data: {not json\n\n" +
		": comment line\n\n" +
		sseBody(contentFrame("ok"), "[DONE]")
	a := NewOpenAIAdapter("key", "http://unused")
	em := newEmitter(context.Background(), 16)
	a.consume(strings.NewReader(body), em)

	evs := collect(t, em.ch)
	tester.Eq(t, len(evs), 2)
	tester.Eq(t, evs[0].Delta, "ok")
	tester.Eq(t, evs[1].Kind, KindDone)
}

func TestOpenAIAdapterOpen(t *testing.T) {
	var gotReq oaChatReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tester.Eq(t, r.Header.Get("Authorization"), "Bearer test-key")
		tester.NoErr(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(sseBody(contentFrame("hello"), "[DONE]")))
	}))
	defer srv.Close()

	a := NewOpenAIAdapter("test-key", srv.URL)
	ch, cancel, err := a.Open(context.Background(), Request{
		Model:    arena.Model{ID: "m1", Name: "llama-3.3-70b-versatile", Provider: "groq"},
		Prompt:   "say hello",
		Settings: arena.Settings{ReasoningEffort: arena.EffortMedium, MaxTokens: 256},
	})
	tester.NoErr(t, err)
	defer cancel()

	evs := collect(t, ch)
	tester.Eq(t, evs[0].Delta, "hello")
	tester.Eq(t, evs[len(evs)-1].Kind, KindDone)

	tester.Eq(t, gotReq.Model, "llama-3.3-70b-versatile")
	tester.True(t, gotReq.Stream)
	tester.Eq(t, gotReq.ReasoningEffort, "medium")
	tester.Eq(t, gotReq.MaxTokens, 256)
	tester.Eq(t, gotReq.Messages, []oaMessage{{Role: "user", Content: "say hello"}})
}

func TestOpenAIAdapterErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	a := NewOpenAIAdapter("test-key", srv.URL)
	ch, cancel, err := a.Open(context.Background(), Request{Model: arena.Model{Name: "ghost"}})
	tester.NoErr(t, err)
	defer cancel()

	evs := collect(t, ch)
	tester.Eq(t, len(evs), 1)
	tester.Eq(t, evs[0].Kind, KindError)
	tester.True(t, strings.Contains(evs[0].Err, "model not found"))
}

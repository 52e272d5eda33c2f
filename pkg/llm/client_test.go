package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func chatReply(content string) map[string]any {
	return map[string]any{
		"choices": []any{
			map[string]any{
				"message":       map[string]any{"content": content},
				"finish_reason": "stop",
			},
		},
	}
}

func newChatServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(handler))
	t.Cleanup(server.Close)
	return server
}

func noSleep(time.Duration) {}

func TestCompleteJSONSendsJSONModeRequest(t *testing.T) {
	server := newChatServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test" {
			t.Errorf("authorization = %q", got)
		}
		var req chatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "demo-model" || req.Temperature != 0 {
			t.Errorf("model=%q temperature=%v", req.Model, req.Temperature)
		}
		if req.ResponseFormat["type"] != "json_object" {
			t.Errorf("response_format = %v", req.ResponseFormat)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Content != "pray" {
			t.Errorf("messages = %+v", req.Messages)
		}
		_ = json.NewEncoder(w).Encode(chatReply(`{"continue_adding":true}`))
	})

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
	got, err := client.CompleteJSON(context.Background(), "system", "pray")
	if err != nil {
		t.Fatalf("CompleteJSON: %v", err)
	}
	if got != `{"continue_adding":true}` {
		t.Fatalf("content = %q", got)
	}
}

func TestCompleteJSONRequiresPromptsAndKey(t *testing.T) {
	client := NewClient(Config{APIKey: "test"})
	if _, err := client.CompleteJSON(context.Background(), "", "user"); err == nil {
		t.Fatal("expected error for empty system prompt")
	}
	if _, err := client.CompleteJSON(context.Background(), "system", " "); err == nil {
		t.Fatal("expected error for empty user prompt")
	}
	if _, err := NewClient(Config{}).CompleteJSON(context.Background(), "s", "u"); err == nil {
		t.Fatal("expected error for missing api key")
	}
}

func TestCompleteJSONToolCallArguments(t *testing.T) {
	server := newChatServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{
				map[string]any{
					"message": map[string]any{
						"content": "",
						"tool_calls": []any{
							map[string]any{"type": "function", "function": map[string]any{"name": "judge", "arguments": `{"is_relevant":false}`}},
						},
					},
				},
			},
		})
	})
	client := NewClient(Config{APIKey: "test", BaseURL: server.URL})
	got, err := client.CompleteJSON(context.Background(), "s", "u")
	if err != nil {
		t.Fatal(err)
	}
	if got != `{"is_relevant":false}` {
		t.Fatalf("content = %q", got)
	}
}

func TestCompleteJSONRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	server := newChatServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"slow down"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(chatReply(`{"ok":true}`))
	})

	var slept []time.Duration
	client := NewClient(
		Config{APIKey: "test", BaseURL: server.URL},
		WithSleeper(func(d time.Duration) { slept = append(slept, d) }),
	)
	if _, err := client.CompleteJSON(context.Background(), "s", "u"); err != nil {
		t.Fatalf("CompleteJSON: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
	if len(slept) != 1 || slept[0] != 2*time.Second {
		t.Fatalf("slept = %v, want [2s]", slept)
	}
}

func TestCompleteJSONRetriesEmptyContent(t *testing.T) {
	var calls atomic.Int32
	server := newChatServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			_ = json.NewEncoder(w).Encode(chatReply(""))
			return
		}
		_ = json.NewEncoder(w).Encode(chatReply(`{"ok":true}`))
	})
	client := NewClient(Config{APIKey: "test", BaseURL: server.URL}, WithSleeper(noSleep))
	if _, err := client.CompleteJSON(context.Background(), "s", "u"); err != nil {
		t.Fatalf("CompleteJSON: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}
}

func TestCompleteJSONGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	server := newChatServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})
	client := NewClient(Config{APIKey: "test", BaseURL: server.URL}, WithSleeper(noSleep), WithRetryMaxAttempts(2))
	_, err := client.CompleteJSON(context.Background(), "s", "u")
	if err == nil {
		t.Fatal("expected error")
	}
	var statusErr *httpStatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected wrapped 502, got %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
}

func TestCompleteJSONDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := newChatServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
	})
	client := NewClient(Config{APIKey: "bad", BaseURL: server.URL}, WithSleeper(noSleep))
	if _, err := client.CompleteJSON(context.Background(), "s", "u"); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestBackoffDelayDoublesAndCaps(t *testing.T) {
	c := NewClient(Config{}, WithRetryBackoff(time.Second, 5*time.Second))
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := c.backoffDelay(i + 1); got != w {
			t.Errorf("attempt %d: delay = %v, want %v", i+1, got, w)
		}
	}
}

func TestParseRetryAfter(t *testing.T) {
	if d, ok := parseRetryAfter("3"); !ok || d != 3*time.Second {
		t.Fatalf("got %v %v", d, ok)
	}
	if _, ok := parseRetryAfter("-1"); ok {
		t.Fatal("negative seconds accepted")
	}
	if _, ok := parseRetryAfter("soon"); ok {
		t.Fatal("garbage accepted")
	}
}

func TestDecodeJSON(t *testing.T) {
	type verdict struct {
		ContinueAdding bool `json:"continue_adding"`
	}
	inputs := []string{
		`{"continue_adding":true}`,
		"```json\n{\"continue_adding\":true}\n```",
		"Sure! Here is the answer: {\"continue_adding\": true} Hope that helps.",
	}
	for _, in := range inputs {
		var v verdict
		if err := DecodeJSON(in, &v); err != nil {
			t.Errorf("DecodeJSON(%q): %v", in, err)
			continue
		}
		if !v.ContinueAdding {
			t.Errorf("DecodeJSON(%q) = %+v", in, v)
		}
	}
	var v verdict
	if err := DecodeJSON("not json at all", &v); err == nil {
		t.Fatal("expected error")
	}
	if err := DecodeJSON("   ", &v); err == nil {
		t.Fatal("expected error for empty payload")
	}
}

func TestSummarizePayloadSnippetTruncates(t *testing.T) {
	got := summarizePayloadSnippet(strings.Repeat("a ", 200))
	if !strings.HasSuffix(got, "...") || len([]rune(got)) != 163 {
		t.Fatalf("snippet = %q", got)
	}
	if summarizePayloadSnippet("") != "<empty>" {
		t.Fatal("expected <empty>")
	}
}

type scriptedCompleter struct {
	reply string
	err   error
}

func (s scriptedCompleter) CompleteJSON(context.Context, string, string) (string, error) {
	return s.reply, s.err
}

func TestInvokeDecodesTypedResult(t *testing.T) {
	type query struct {
		Verse         string `json:"verse"`
		Justification string `json:"justification"`
	}
	got, err := Invoke[query](context.Background(), scriptedCompleter{reply: `{"verse":"hope","justification":"because"}`}, "s", "u")
	if err != nil {
		t.Fatal(err)
	}
	if got.Verse != "hope" || got.Justification != "because" {
		t.Fatalf("got %+v", got)
	}

	if _, err := Invoke[query](context.Background(), scriptedCompleter{reply: "nope"}, "s", "u"); err == nil {
		t.Fatal("expected decode error")
	}
	boom := errors.New("boom")
	if _, err := Invoke[query](context.Background(), scriptedCompleter{err: boom}, "s", "u"); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestInvokeAsyncDeliversOnce(t *testing.T) {
	ch := InvokeAsync[map[string]bool](context.Background(), scriptedCompleter{reply: `{"ok":true}`}, "s", "u")
	res, open := <-ch
	if !open {
		t.Fatal("channel closed before result")
	}
	v, err := res.Unwrap()
	if err != nil || !v["ok"] {
		t.Fatalf("got %v %v", v, err)
	}
	if _, open := <-ch; open {
		t.Fatal("channel should be closed after one result")
	}
}

func TestEmbed(t *testing.T) {
	server := newChatServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req embeddingRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "text-embedding-3-small" {
			t.Errorf("model = %q", req.Model)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []any{map[string]any{"index": 0, "embedding": []float32{0.1, 0.2, 0.3}}},
		})
	})
	client := NewClient(Config{APIKey: "test", BaseURL: server.URL})
	vec, err := client.Embed(context.Background(), "hope")
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 3 || vec[2] != 0.3 {
		t.Fatalf("vec = %v", vec)
	}
	if _, err := client.Embed(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty text")
	}
}

func TestEmbedFallsBackToBareEmbedding(t *testing.T) {
	server := newChatServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"embedding": []float32{1, 2}})
	})
	client := NewClient(Config{APIKey: "test", BaseURL: server.URL})
	vec, err := client.Embed(context.Background(), "hope")
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 2 {
		t.Fatalf("vec = %v", vec)
	}
}

func TestEmbedBatchOrdersByIndex(t *testing.T) {
	server := newChatServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []any{
				map[string]any{"index": 1, "embedding": []float32{2}},
				map[string]any{"index": 0, "embedding": []float32{1}},
			},
		})
	})
	client := NewClient(Config{APIKey: "test", BaseURL: server.URL})
	vecs, err := client.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if vecs[0][0] != 1 || vecs[1][0] != 2 {
		t.Fatalf("vecs = %v", vecs)
	}
}

package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/omrylcn/gbot/internal/errdefs"
)

// fakeProvider satisfies Provider with a canned handler, for registry tests.
type fakeProvider struct {
	name string
	fn   func(ChatRequest) (*ChatResponse, error)
}

func (f *fakeProvider) Name() string         { return f.name }
func (f *fakeProvider) DefaultModel() string { return f.name + "-default" }
func (f *fakeProvider) Chat(_ context.Context, req ChatRequest) (*ChatResponse, error) {
	return f.fn(req)
}

func fastRetry() RetryConfig {
	return RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

// --- OpenAI wire format ---

// TestOpenAIChat_WireFormat verifies the request body sent to an
// OpenAI-compatible endpoint: tool call arguments as a JSON string,
// tool results linked by tool_call_id, and options mapped onto
// max_tokens/temperature.
func TestOpenAIChat_WireFormat(t *testing.T) {
	var captured map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected Authorization header: %q", auth)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &captured); err != nil {
			t.Errorf("request body is not JSON: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"choices": [{"message": {"content": "done"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
		}`)
	}))
	defer srv.Close()

	p := NewOpenAIProvider("openai", "test-key", srv.URL, "gpt-4o")
	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages: []Message{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "weather?"},
			{Role: "assistant", ToolCalls: []ToolCall{
				{ID: "call_1", Name: "get_weather", Arguments: map[string]interface{}{"city": "Paris"}},
			}},
			{Role: "tool", Content: "sunny", ToolCallID: "call_1"},
		},
		Tools: []ToolDefinition{NewToolDefinition("get_weather", "Current weather", map[string]interface{}{
			"type": "object",
		})},
		Options: map[string]interface{}{
			OptMaxTokens:   256,
			OptTemperature: 0.5,
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "done" || resp.FinishReason != "stop" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 15 {
		t.Errorf("usage not parsed: %+v", resp.Usage)
	}

	if captured["model"] != "gpt-4o" {
		t.Errorf("model = %v", captured["model"])
	}
	if captured["max_tokens"] != float64(256) || captured["temperature"] != 0.5 {
		t.Errorf("options not mapped: max_tokens=%v temperature=%v",
			captured["max_tokens"], captured["temperature"])
	}
	if captured["tool_choice"] != "auto" {
		t.Errorf("tool_choice = %v", captured["tool_choice"])
	}

	msgs := captured["messages"].([]interface{})
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	assistant := msgs[2].(map[string]interface{})
	tcs := assistant["tool_calls"].([]interface{})
	fn := tcs[0].(map[string]interface{})["function"].(map[string]interface{})
	args, ok := fn["arguments"].(string)
	if !ok {
		t.Fatalf("tool call arguments must be a JSON string, got %T", fn["arguments"])
	}
	if !strings.Contains(args, `"Paris"`) {
		t.Errorf("arguments = %q", args)
	}
	toolMsg := msgs[3].(map[string]interface{})
	if toolMsg["tool_call_id"] != "call_1" {
		t.Errorf("tool_call_id = %v", toolMsg["tool_call_id"])
	}
}

// TestOpenAIChat_ToolCallResponse verifies that returned tool calls have
// their argument string decoded into a map.
func TestOpenAIChat_ToolCallResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"choices": [{"message": {"content": "", "tool_calls": [
				{"id": "call_9", "type": "function",
				 "function": {"name": "search", "arguments": "{\"query\": \"go\"}"}}
			]}, "finish_reason": "tool_calls"}]
		}`)
	}))
	defer srv.Close()

	p := NewOpenAIProvider("openai", "k", srv.URL, "gpt-4o")
	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(resp.ToolCalls))
	}
	tc := resp.ToolCalls[0]
	if tc.ID != "call_9" || tc.Name != "search" || tc.Arguments["query"] != "go" {
		t.Errorf("tool call not parsed: %+v", tc)
	}
	if resp.FinishReason != "tool_calls" {
		t.Errorf("finish reason = %q", resp.FinishReason)
	}
}

// TestOpenAI_ResponseFormatModes verifies the two response_format
// encodings: json_object when no schema is given, json_schema otherwise.
func TestOpenAI_ResponseFormatModes(t *testing.T) {
	p := NewOpenAIProvider("openai", "k", "", "gpt-4o")

	body := p.buildRequestBody("gpt-4o", ChatRequest{
		Options: map[string]interface{}{OptResponseFormat: &ResponseFormat{Name: "facts"}},
	})
	rf := body["response_format"].(map[string]interface{})
	if rf["type"] != "json_object" {
		t.Errorf("nil schema: type = %v", rf["type"])
	}

	schema := map[string]interface{}{"type": "object"}
	body = p.buildRequestBody("gpt-4o", ChatRequest{
		Options: map[string]interface{}{OptResponseFormat: &ResponseFormat{Name: "plan", Schema: schema}},
	})
	rf = body["response_format"].(map[string]interface{})
	if rf["type"] != "json_schema" {
		t.Errorf("with schema: type = %v", rf["type"])
	}
	js := rf["json_schema"].(map[string]interface{})
	if js["name"] != "plan" || js["strict"] != true {
		t.Errorf("json_schema block = %v", js)
	}

	body = p.buildRequestBody("gpt-4o", ChatRequest{})
	if _, present := body["response_format"]; present {
		t.Error("response_format present without option")
	}
}

// TestOpenAI_ResolveModel verifies the OpenRouter prefix rule: unprefixed
// models fall back to the provider default.
func TestOpenAI_ResolveModel(t *testing.T) {
	tests := []struct {
		provider string
		model    string
		want     string
	}{
		{"openai", "", "default-model"},
		{"openai", "gpt-4o-mini", "gpt-4o-mini"},
		{"openrouter", "gpt-4o", "default-model"},
		{"openrouter", "anthropic/claude-sonnet-4-5-20250929", "anthropic/claude-sonnet-4-5-20250929"},
	}
	for _, tt := range tests {
		p := NewOpenAIProvider(tt.provider, "k", "", "default-model")
		if got := p.resolveModel(tt.model); got != tt.want {
			t.Errorf("%s resolveModel(%q) = %q, want %q", tt.provider, tt.model, got, tt.want)
		}
	}
}

// --- Anthropic wire format ---

// TestAnthropicChat_WireFormat verifies system extraction, tool_result
// mapping and the version headers.
func TestAnthropicChat_WireFormat(t *testing.T) {
	var captured map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "ant-key" {
			t.Errorf("missing x-api-key header")
		}
		if r.Header.Get("anthropic-version") == "" {
			t.Errorf("missing anthropic-version header")
		}
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &captured)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"content": [{"type": "text", "text": "hello"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 10, "output_tokens": 5}
		}`)
	}))
	defer srv.Close()

	p := NewAnthropicProvider("ant-key", WithAnthropicBaseURL(srv.URL))
	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages: []Message{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "hi"},
			{Role: "assistant", Content: "checking", ToolCalls: []ToolCall{
				{ID: "tu_1", Name: "lookup", Arguments: map[string]interface{}{"q": "x"}},
			}},
			{Role: "tool", Content: "result text", ToolCallID: "tu_1"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hello" || resp.FinishReason != "stop" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 15 {
		t.Errorf("usage not combined: %+v", resp.Usage)
	}

	if _, hasSystemMsg := captured["system"]; !hasSystemMsg {
		t.Fatal("system prompt not extracted to top-level field")
	}
	msgs := captured["messages"].([]interface{})
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages (system extracted), got %d", len(msgs))
	}
	last := msgs[2].(map[string]interface{})
	if last["role"] != "user" {
		t.Errorf("tool result role = %v, want user", last["role"])
	}
	blocks := last["content"].([]interface{})
	block := blocks[0].(map[string]interface{})
	if block["type"] != "tool_result" || block["tool_use_id"] != "tu_1" {
		t.Errorf("tool_result block = %v", block)
	}
}

// TestAnthropicChat_ToolUse verifies stop_reason and tool_use parsing.
func TestAnthropicChat_ToolUse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"content": [
				{"type": "text", "text": "let me check"},
				{"type": "tool_use", "id": "tu_2", "name": "search", "input": {"query": "go"}}
			],
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 1, "output_tokens": 1}
		}`)
	}))
	defer srv.Close()

	p := NewAnthropicProvider("k", WithAnthropicBaseURL(srv.URL))
	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.FinishReason != "tool_calls" {
		t.Errorf("finish reason = %q, want tool_calls", resp.FinishReason)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "search" {
		t.Fatalf("tool calls = %+v", resp.ToolCalls)
	}
	if resp.ToolCalls[0].Arguments["query"] != "go" {
		t.Errorf("arguments = %v", resp.ToolCalls[0].Arguments)
	}
	if resp.Content != "let me check" {
		t.Errorf("content = %q", resp.Content)
	}
}

// TestAnthropicChat_StructuredOutput verifies that a schema request forces
// a tool and that the forced tool's input is unwrapped back into content.
func TestAnthropicChat_StructuredOutput(t *testing.T) {
	var captured map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &captured)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"content": [{"type": "tool_use", "id": "tu_3", "name": "plan",
				"input": {"objective": "tidy up"}}],
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 1, "output_tokens": 1}
		}`)
	}))
	defer srv.Close()

	p := NewAnthropicProvider("k", WithAnthropicBaseURL(srv.URL))
	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "plan it"}},
		Options: map[string]interface{}{
			OptResponseFormat: &ResponseFormat{
				Name:   "plan",
				Schema: map[string]interface{}{"type": "object"},
			},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tc := captured["tool_choice"].(map[string]interface{})
	if tc["type"] != "tool" || tc["name"] != "plan" {
		t.Errorf("tool_choice = %v", tc)
	}

	if len(resp.ToolCalls) != 0 {
		t.Errorf("tool calls should be unwrapped, got %+v", resp.ToolCalls)
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(resp.Content), &out); err != nil {
		t.Fatalf("content is not JSON: %v", err)
	}
	if out["objective"] != "tidy up" {
		t.Errorf("unwrapped content = %q", resp.Content)
	}
	if resp.FinishReason != "stop" {
		t.Errorf("finish reason = %q", resp.FinishReason)
	}
}

// --- Retry ---

// TestRetryDo_RetriesTransient verifies 5xx responses are retried until
// success.
func TestRetryDo_RetriesTransient(t *testing.T) {
	calls := 0
	out, err := RetryDo(context.Background(), fastRetry(), func() (string, error) {
		calls++
		if calls < 3 {
			return "", &HTTPError{Status: 500, Body: "boom"}
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "ok" || calls != 3 {
		t.Errorf("out=%q calls=%d", out, calls)
	}
}

// TestRetryDo_NonRetryable verifies a 4xx response fails immediately.
func TestRetryDo_NonRetryable(t *testing.T) {
	calls := 0
	_, err := RetryDo(context.Background(), fastRetry(), func() (string, error) {
		calls++
		return "", &HTTPError{Status: 400, Body: "bad request"}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

// TestRetryDo_Exhausted verifies the last error is returned after all
// attempts fail.
func TestRetryDo_Exhausted(t *testing.T) {
	calls := 0
	_, err := RetryDo(context.Background(), fastRetry(), func() (string, error) {
		calls++
		return "", &HTTPError{Status: 429, Body: "slow down", RetryAfter: time.Millisecond}
	})
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.Status != 429 {
		t.Fatalf("expected final 429, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls (1 + 2 retries), got %d", calls)
	}
}

// TestRetryDo_ContextCancelled verifies cancellation interrupts the
// backoff wait.
func TestRetryDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := RetryDo(ctx, RetryConfig{MaxRetries: 3, BaseDelay: time.Hour, MaxDelay: time.Hour},
		func() (string, error) {
			return "", &HTTPError{Status: 500, Body: "x"}
		})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

// TestOpenAIChat_RetryOn429 verifies an end-to-end retry against a live
// test server.
func TestOpenAIChat_RetryOn429(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			http.Error(w, `{"error": "rate limited"}`, http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"choices": [{"message": {"content": "recovered"}}]}`)
	}))
	defer srv.Close()

	p := NewOpenAIProvider("openai", "k", srv.URL, "gpt-4o")
	p.retryConfig = fastRetry()

	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "recovered" {
		t.Errorf("content = %q", resp.Content)
	}
	if hits.Load() != 2 {
		t.Errorf("expected 2 requests, got %d", hits.Load())
	}
}

func TestParseRetryAfter(t *testing.T) {
	if d := ParseRetryAfter("7"); d != 7*time.Second {
		t.Errorf("seconds form = %v", d)
	}
	if d := ParseRetryAfter(""); d != 0 {
		t.Errorf("empty = %v", d)
	}
	if d := ParseRetryAfter("not-a-date"); d != 0 {
		t.Errorf("garbage = %v", d)
	}
}

// --- Registry ---

// TestRegistry_Resolve verifies prefix routing: a registered prefix is
// stripped, everything else goes to the default provider untouched.
func TestRegistry_Resolve(t *testing.T) {
	reg := NewRegistry("openrouter")
	reg.Register(&fakeProvider{name: "openrouter"}, 0)
	reg.Register(&fakeProvider{name: "anthropic"}, 0)

	tests := []struct {
		model        string
		wantProvider string
		wantModel    string
	}{
		{"anthropic/claude-sonnet-4-5-20250929", "anthropic", "claude-sonnet-4-5-20250929"},
		{"deepseek/deepseek-chat", "openrouter", "deepseek/deepseek-chat"},
		{"gpt-4o", "openrouter", "gpt-4o"},
		{"", "openrouter", ""},
	}
	for _, tt := range tests {
		p, model, err := reg.Resolve(tt.model)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", tt.model, err)
		}
		if p.Name() != tt.wantProvider || model != tt.wantModel {
			t.Errorf("Resolve(%q) = (%s, %q), want (%s, %q)",
				tt.model, p.Name(), model, tt.wantProvider, tt.wantModel)
		}
	}
}

// TestRegistry_ResolveEmpty verifies the config error when nothing is
// registered.
func TestRegistry_ResolveEmpty(t *testing.T) {
	reg := NewRegistry("")
	_, _, err := reg.Resolve("gpt-4o")
	if !errdefs.Is(err, errdefs.ConfigError) {
		t.Fatalf("expected config error, got %v", err)
	}
}

// TestRegistry_FirstRegisteredIsDefault verifies the fallback default.
func TestRegistry_FirstRegisteredIsDefault(t *testing.T) {
	reg := NewRegistry("")
	reg.Register(&fakeProvider{name: "groq"}, 0)
	p, model, err := reg.Resolve("llama-3.3-70b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name() != "groq" || model != "llama-3.3-70b" {
		t.Errorf("got (%s, %q)", p.Name(), model)
	}
}

// TestRegistry_ChatErrorKinds verifies provider failures surface as typed
// errors: 429 as rate_limited, everything else as provider_error.
func TestRegistry_ChatErrorKinds(t *testing.T) {
	reg := NewRegistry("openai")
	reg.Register(&fakeProvider{name: "openai", fn: func(ChatRequest) (*ChatResponse, error) {
		return nil, &HTTPError{Status: 429, Body: "rate limited"}
	}}, 0)

	_, err := reg.Chat(context.Background(), ChatRequest{Model: "gpt-4o"})
	if !errdefs.Is(err, errdefs.RateLimited) {
		t.Fatalf("expected rate_limited, got %v", err)
	}

	reg = NewRegistry("openai")
	reg.Register(&fakeProvider{name: "openai", fn: func(ChatRequest) (*ChatResponse, error) {
		return nil, errors.New("connection reset")
	}}, 0)

	_, err = reg.Chat(context.Background(), ChatRequest{Model: "gpt-4o"})
	if !errdefs.Is(err, errdefs.ProviderError) {
		t.Fatalf("expected provider_error, got %v", err)
	}
}

// TestRegistry_ChatStripsPrefix verifies the model reaching the provider
// has the routing prefix removed.
func TestRegistry_ChatStripsPrefix(t *testing.T) {
	var gotModel string
	reg := NewRegistry("")
	reg.Register(&fakeProvider{name: "anthropic", fn: func(req ChatRequest) (*ChatResponse, error) {
		gotModel = req.Model
		return &ChatResponse{Content: "ok"}, nil
	}}, 0)

	if _, err := reg.Chat(context.Background(), ChatRequest{Model: "anthropic/claude-sonnet-4-5-20250929"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotModel != "claude-sonnet-4-5-20250929" {
		t.Errorf("provider saw model %q", gotModel)
	}
}

// --- JSON extraction ---

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"plain", `{"a": 1}`, `{"a": 1}`, false},
		{"fenced", "```json\n{\"a\": 1}\n```", `{"a": 1}`, false},
		{"fence no tag", "```\n{\"a\": 1}\n```", `{"a": 1}`, false},
		{"prose wrapped", `Here is the plan: {"a": 1} hope that helps`, `{"a": 1}`, false},
		{"trailing comma repaired", `{"a": 1,}`, `{"a": 1}`, false},
		{"no json", "I could not produce a plan.", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			var a, b interface{}
			if json.Unmarshal([]byte(got), &a) != nil {
				t.Fatalf("result not JSON: %q", got)
			}
			json.Unmarshal([]byte(tt.want), &b)
			aj, _ := json.Marshal(a)
			bj, _ := json.Marshal(b)
			if string(aj) != string(bj) {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

// --- Summarizer ---

// TestSummarizer_Summarize verifies prompt assembly: system prompt first,
// tool turns filtered out, closing user instruction appended, and the low
// temperature applied.
func TestSummarizer_Summarize(t *testing.T) {
	var got ChatRequest
	reg := NewRegistry("")
	reg.Register(&fakeProvider{name: "openai", fn: func(req ChatRequest) (*ChatResponse, error) {
		got = req
		return &ChatResponse{Content: "  They planned a trip.\n- TOPICS: travel  "}, nil
	}}, 0)

	s := NewSummarizer(reg, "")
	summary, err := s.Summarize(context.Background(), []Message{
		{Role: "user", Content: "let's plan a trip"},
		{Role: "assistant", ToolCalls: []ToolCall{{ID: "c1", Name: "search"}}},
		{Role: "tool", Content: "flights found", ToolCallID: "c1"},
		{Role: "assistant", Content: "How about Lisbon?"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary != "They planned a trip.\n- TOPICS: travel" {
		t.Errorf("summary = %q", summary)
	}

	if len(got.Messages) != 4 {
		t.Fatalf("expected 4 prompt messages, got %d", len(got.Messages))
	}
	if got.Messages[0].Role != "system" || !strings.Contains(got.Messages[0].Content, "conversation summarizer") {
		t.Errorf("first message = %+v", got.Messages[0])
	}
	for _, m := range got.Messages[1 : len(got.Messages)-1] {
		if m.Role == "tool" || m.Content == "" {
			t.Errorf("tool or empty turn leaked into prompt: %+v", m)
		}
	}
	last := got.Messages[len(got.Messages)-1]
	if last.Role != "user" || last.Content != "Summarize this conversation concisely." {
		t.Errorf("closing instruction = %+v", last)
	}
	if got.Options[OptTemperature] != 0.3 || got.Options[OptMaxTokens] != 500 {
		t.Errorf("options = %v", got.Options)
	}
}

// TestSummarizer_SummarizeEmpty verifies nothing is sent when the
// conversation has no text turns.
func TestSummarizer_SummarizeEmpty(t *testing.T) {
	reg := NewRegistry("")
	reg.Register(&fakeProvider{name: "openai", fn: func(ChatRequest) (*ChatResponse, error) {
		t.Error("unexpected model call for empty conversation")
		return &ChatResponse{}, nil
	}}, 0)

	s := NewSummarizer(reg, "")
	summary, err := s.Summarize(context.Background(), []Message{
		{Role: "tool", Content: "x", ToolCallID: "c"},
	})
	if err != nil || summary != "" {
		t.Errorf("got (%q, %v), want empty", summary, err)
	}
}

// TestSummarizer_ExtractFacts verifies the preference list shape and the
// merge-map conversion.
func TestSummarizer_ExtractFacts(t *testing.T) {
	reg := NewRegistry("")
	reg.Register(&fakeProvider{name: "openai", fn: func(req ChatRequest) (*ChatResponse, error) {
		if req.Options[OptTemperature] != 0.1 {
			t.Errorf("temperature = %v", req.Options[OptTemperature])
		}
		if rf, ok := req.Options[OptResponseFormat].(*ResponseFormat); !ok || rf.Schema != nil {
			t.Errorf("expected plain JSON mode, got %v", req.Options[OptResponseFormat])
		}
		return &ChatResponse{Content: "```json\n" +
			`{"preferences": [{"key": "language", "value": "en"}], "notes": ["Works at ACME"]}` +
			"\n```"}, nil
	}}, 0)

	s := NewSummarizer(reg, "")
	facts, err := s.ExtractFacts(context.Background(), []Message{
		{Role: "user", Content: "please answer in English, I work at ACME"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if facts.Empty() {
		t.Fatal("facts should not be empty")
	}
	m := facts.PreferenceMap()
	if m["language"] != "en" {
		t.Errorf("preference map = %v", m)
	}
	if len(facts.Notes) != 1 || facts.Notes[0] != "Works at ACME" {
		t.Errorf("notes = %v", facts.Notes)
	}
}

// TestSummarizer_ExtractFactsNothing verifies the {} response yields empty
// facts rather than an error.
func TestSummarizer_ExtractFactsNothing(t *testing.T) {
	reg := NewRegistry("")
	reg.Register(&fakeProvider{name: "openai", fn: func(ChatRequest) (*ChatResponse, error) {
		return &ChatResponse{Content: "{}"}, nil
	}}, 0)

	s := NewSummarizer(reg, "")
	facts, err := s.ExtractFacts(context.Background(), []Message{
		{Role: "user", Content: "hello"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !facts.Empty() {
		t.Errorf("facts = %+v", facts)
	}
	if facts.PreferenceMap() != nil {
		t.Errorf("preference map should be nil, got %v", facts.PreferenceMap())
	}
}

package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAIComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("auth = %q", r.Header.Get("Authorization"))
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content-type = %q", r.Header.Get("Content-Type"))
		}

		var req oaiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.Model != "gpt-4o" {
			t.Errorf("model = %q", req.Model)
		}
		if len(req.Messages) != 2 {
			t.Errorf("messages = %d", len(req.Messages))
		}
		if req.Messages[0].Role != "system" {
			t.Errorf("messages[0].role = %q", req.Messages[0].Role)
		}
		if req.MaxTokens != openAIDefaultMaxTokens {
			t.Errorf("max_tokens = %d", req.MaxTokens)
		}

		resp := oaiResponse{
			ID:    "chatcmpl-123",
			Model: "gpt-4o",
			Choices: []oaiChoice{
				{Index: 0, Message: oaiMessage{Role: "assistant", Content: "Halo! Ada yang bisa dibantu?"}},
			},
			Usage: oaiUsage{PromptTokens: 10, CompletionTokens: 5},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	p := NewOpenAIProvider("openai", server.URL, "test-key", nil)

	resp, err := p.Complete(context.Background(), &CompletionRequest{
		Model: "gpt-4o",
		Messages: []Message{
			{Role: RoleSystem, Content: "You are helpful."},
			{Role: RoleUser, Content: "Hi"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	if resp.ID != "chatcmpl-123" {
		t.Errorf("id = %q", resp.ID)
	}
	text, ok := resp.Output.(Text)
	if !ok {
		t.Fatalf("output = %T, want Text", resp.Output)
	}
	if text != "Halo! Ada yang bisa dibantu?" {
		t.Errorf("content = %q", text)
	}
	if resp.Usage.InputTokens != 10 {
		t.Errorf("input_tokens = %d", resp.Usage.InputTokens)
	}
	if resp.Usage.OutputTokens != 5 {
		t.Errorf("output_tokens = %d", resp.Usage.OutputTokens)
	}
}

func TestOpenAICompleteToolCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req oaiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.ToolChoice != "auto" {
			t.Errorf("tool_choice = %q", req.ToolChoice)
		}
		if len(req.Tools) != 1 {
			t.Fatalf("tools = %d", len(req.Tools))
		}
		tool := req.Tools[0]
		if tool.Type != "function" || tool.Function.Name != "create_transaction" {
			t.Errorf("tool = %+v", tool)
		}
		required, _ := tool.Function.Parameters["required"].([]any)
		if len(required) != 1 || required[0] != "amount" {
			t.Errorf("required = %v", tool.Function.Parameters["required"])
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","model":"gpt-4o","choices":[{"index":0,"finish_reason":"tool_calls","message":{"role":"assistant","content":"","tool_calls":[{"id":"call_1","type":"function","function":{"name":"create_transaction","arguments":"{\"amount\":50000,\"tx_type\":\"expense\"}"}}]}}]}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider("openai", server.URL, "key", nil)
	resp, err := p.Complete(context.Background(), &CompletionRequest{
		Model:    "gpt-4o",
		Messages: []Message{{Role: RoleUser, Content: "catat 50rb"}},
		Tools: []Tool{{
			Name:        "create_transaction",
			Description: "Record a transaction",
			Params: []Param{
				{Name: "amount", Type: ParamNumber, Required: true},
				{Name: "tx_type", Type: ParamString, Enum: []string{"income", "expense"}},
			},
		}},
	})
	if err != nil {
		t.Fatal(err)
	}
	call, ok := resp.Output.(Call)
	if !ok {
		t.Fatalf("output = %T, want Call", resp.Output)
	}
	if call.Name != "create_transaction" {
		t.Errorf("name = %q", call.Name)
	}
	if call.Arguments["amount"] != float64(50000) {
		t.Errorf("amount = %v", call.Arguments["amount"])
	}
	if resp.Text() != "" {
		t.Errorf("Text() = %q for a call", resp.Text())
	}
}

func TestOpenAICompleteBadToolArguments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"tool_calls":[{"function":{"name":"x","arguments":"{not json"}}]}}]}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider("openai", server.URL, "key", nil)
	_, err := p.Complete(context.Background(), &CompletionRequest{Model: "gpt-4o"})
	if !errors.Is(err, ErrProviderFailure) {
		t.Fatalf("err = %v, want provider failure", err)
	}
}

func TestOpenAICompleteAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"rate_limit_error"}}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider("openai", server.URL, "key", nil)

	_, err := p.Complete(context.Background(), &CompletionRequest{
		Model:    "gpt-4o",
		Messages: []Message{{Role: RoleUser, Content: "Hi"}},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %T, want *ProviderError", err)
	}
	if pe.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d", pe.StatusCode)
	}
	if pe.Body == "" {
		t.Error("body should be captured")
	}
	if !IsRateLimitError(err) {
		t.Error("IsRateLimitError = false")
	}
}

func TestOpenAICompleteErrorInBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		resp := oaiResponse{
			Error: &oaiError{Type: "invalid_request_error", Message: "bad model"},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	p := NewOpenAIProvider("openai", server.URL, "key", nil)

	_, err := p.Complete(context.Background(), &CompletionRequest{
		Model:    "bad-model",
		Messages: []Message{{Role: RoleUser, Content: "Hi"}},
	})
	if !errors.Is(err, ErrProviderFailure) {
		t.Fatalf("err = %v, want provider failure", err)
	}
}

func TestOpenAIEmptyContentIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id":"x","choices":[{"message":{"role":"assistant","content":""},"finish_reason":"length"}]}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider("openai", server.URL, "key", nil)
	resp, err := p.Complete(context.Background(), &CompletionRequest{Model: "gpt-4o"})
	if err != nil {
		t.Fatal(err)
	}
	if text, ok := resp.Output.(Text); !ok || text != "" {
		t.Errorf("output = %#v", resp.Output)
	}
}

func TestOpenAIReasoningModel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]any
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			t.Fatal(err)
		}
		if _, ok := raw["temperature"]; ok {
			t.Error("temperature must not be sent to reasoning models")
		}
		if _, ok := raw["max_tokens"]; ok {
			t.Error("max_tokens must not be sent to reasoning models")
		}
		if raw["max_completion_tokens"] != float64(500) {
			t.Errorf("max_completion_tokens = %v", raw["max_completion_tokens"])
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider("openai", server.URL, "key", nil)
	_, err := p.Complete(context.Background(), &CompletionRequest{
		Model:       "o3-mini",
		MaxTokens:   500,
		Temperature: Temperature(0.3),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestOpenAINoAPIKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "" {
			t.Errorf("expected no auth header, got %q", auth)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"local"}}]}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider("ollama", server.URL, "", nil)
	resp, err := p.Complete(context.Background(), &CompletionRequest{Model: "llama3"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Text() != "local" {
		t.Errorf("content = %q", resp.Text())
	}
}

func TestOpenAIStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "text/event-stream" {
			t.Errorf("accept = %q", r.Header.Get("Accept"))
		}
		var req oaiRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			t.Error("stream flag not set")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n")
		_, _ = fmt.Fprint(w, ": keep-alive\n\n")
		_, _ = fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Ha\"}}]}\n\n")
		_, _ = fmt.Fprint(w, "data:\n\n")
		_, _ = fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
		_, _ = fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ignored\"}}]}\n\n")
	}))
	defer server.Close()

	p := NewOpenAIProvider("openai", server.URL, "key", nil)
	var tokens []string
	text, err := StreamText(context.Background(), p, &CompletionRequest{Model: "gpt-4o"}, func(tok string) {
		tokens = append(tokens, tok)
	})
	if err != nil {
		t.Fatal(err)
	}
	if text != "Halo" {
		t.Errorf("text = %q", text)
	}
	if len(tokens) != 2 {
		t.Errorf("tokens = %q, want 2 non-empty callbacks", tokens)
	}
}

func TestIsReasoningModel(t *testing.T) {
	tests := []struct {
		model string
		want  bool
	}{
		{"o1-preview", true},
		{"o3-mini", true},
		{"gpt-5", true},
		{"gpt-4o", false},
		{"llama3", false},
	}
	for _, tt := range tests {
		if got := isReasoningModel(tt.model); got != tt.want {
			t.Errorf("isReasoningModel(%q) = %v, want %v", tt.model, got, tt.want)
		}
	}
}

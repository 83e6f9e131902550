package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	openAIDefaultBaseURL   = "https://api.openai.com/v1"
	openAICompletionsPath  = "/chat/completions"
	openAIDefaultMaxTokens = 2048
)

// reasoningModelPrefixes do not accept temperature and take
// max_completion_tokens instead of max_tokens.
var reasoningModelPrefixes = []string{"o1", "o3", "gpt-5"}

// OpenAIProvider implements the Provider interface for any
// OpenAI-compatible API (OpenAI, Azure, Ollama, vLLM, Groq,
// Together, OVH, etc.).
type OpenAIProvider struct {
	id      string
	baseURL string
	apiKey  string
	models  []ModelInfo
	client  *http.Client
	logger  *zap.Logger
}

// OpenAIOption configures an OpenAIProvider.
type OpenAIOption func(*OpenAIProvider)

// WithOpenAIHTTPClient sets a custom HTTP client.
func WithOpenAIHTTPClient(c *http.Client) OpenAIOption {
	return func(p *OpenAIProvider) { p.client = c }
}

// WithOpenAILogger sets the logger used for request diagnostics.
func WithOpenAILogger(l *zap.Logger) OpenAIOption {
	return func(p *OpenAIProvider) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewOpenAIProvider creates a provider for any OpenAI-compatible endpoint.
func NewOpenAIProvider(id, baseURL, apiKey string, models []ModelInfo, opts ...OpenAIOption) *OpenAIProvider {
	if baseURL == "" {
		baseURL = openAIDefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	p := &OpenAIProvider{
		id:      id,
		baseURL: baseURL,
		apiKey:  apiKey,
		models:  models,
		client:  &http.Client{Timeout: 120 * time.Second},
		logger:  zap.NewNop(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *OpenAIProvider) ID() string { return p.id }

func (p *OpenAIProvider) Models() []ModelInfo { return p.models }

func (p *OpenAIProvider) SupportsFeature(f Feature) bool {
	return anySupports(p.models, f)
}

// -- OpenAI wire types --

type oaiRequest struct {
	Model               string       `json:"model"`
	Messages            []oaiMessage `json:"messages"`
	MaxTokens           int          `json:"max_tokens,omitempty"`
	MaxCompletionTokens int          `json:"max_completion_tokens,omitempty"`
	Temperature         *float64     `json:"temperature,omitempty"`
	Stream              bool         `json:"stream,omitempty"`
	Tools               []oaiTool    `json:"tools,omitempty"`
	ToolChoice          string       `json:"tool_choice,omitempty"`
}

type oaiMessage struct {
	Role      string        `json:"role"`
	Content   string        `json:"content"`
	ToolCalls []oaiToolCall `json:"tool_calls,omitempty"`
}

type oaiTool struct {
	Type     string          `json:"type"`
	Function oaiFunctionDecl `json:"function"`
}

type oaiFunctionDecl struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type oaiToolCall struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Function oaiFunctionCall `json:"function"`
}

type oaiFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type oaiResponse struct {
	ID      string      `json:"id"`
	Model   string      `json:"model"`
	Choices []oaiChoice `json:"choices"`
	Usage   oaiUsage    `json:"usage"`
	Error   *oaiError   `json:"error,omitempty"`
}

type oaiChoice struct {
	Index        int        `json:"index"`
	Message      oaiMessage `json:"message"`
	FinishReason string     `json:"finish_reason"`
}

type oaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type oaiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

type oaiStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *oaiError `json:"error,omitempty"`
}

// Complete sends a non-streaming completion request.
func (p *OpenAIProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	oaiReq := p.toOAIRequest(req)
	oaiReq.Stream = false

	p.logger.Debug("openai: request",
		zap.String("provider", p.id), zap.String("model", oaiReq.Model),
		zap.Int("messages", len(oaiReq.Messages)), zap.Int("tools", len(oaiReq.Tools)))

	respBody, err := postJSON(ctx, p.client, p.id, p.baseURL+openAICompletionsPath, p.headers(), oaiReq)
	if err != nil {
		p.logger.Error("openai: request failed", zap.String("provider", p.id), zap.Error(err))
		return nil, err
	}

	var oaiResp oaiResponse
	if err := decodeResponse(p.id, respBody, &oaiResp); err != nil {
		return nil, err
	}
	if oaiResp.Error != nil {
		return nil, &ProviderError{Provider: p.id, Err: fmt.Errorf("openai error [%s]: %s", oaiResp.Error.Type, oaiResp.Error.Message)}
	}

	resp := &CompletionResponse{
		ID:    oaiResp.ID,
		Model: oaiResp.Model,
		Usage: Usage{
			InputTokens:  oaiResp.Usage.PromptTokens,
			OutputTokens: oaiResp.Usage.CompletionTokens,
		},
	}

	if len(oaiResp.Choices) == 0 {
		resp.Output = Text("")
		p.logger.Warn("openai: empty content", zap.String("provider", p.id), zap.String("id", oaiResp.ID))
		return resp, nil
	}

	choice := oaiResp.Choices[0]
	resp.FinishReason = choice.FinishReason
	if len(choice.Message.ToolCalls) > 0 {
		call, err := p.toCall(choice.Message.ToolCalls[0])
		if err != nil {
			return nil, err
		}
		resp.Output = call
		return resp, nil
	}

	resp.Output = Text(choice.Message.Content)
	if choice.Message.Content == "" {
		p.logger.Warn("openai: empty content",
			zap.String("provider", p.id), zap.String("finish_reason", choice.FinishReason))
	}
	return resp, nil
}

// Stream opens a streaming completion. Events are "data: {json}" lines
// terminated by "data: [DONE]".
func (p *OpenAIProvider) Stream(ctx context.Context, req *CompletionRequest) (ResponseStream, error) {
	oaiReq := p.toOAIRequest(req)
	oaiReq.Stream = true
	oaiReq.Tools = nil
	oaiReq.ToolChoice = ""

	resp, err := openStream(ctx, p.client, p.id, p.baseURL+openAICompletionsPath, p.headers(), oaiReq)
	if err != nil {
		p.logger.Error("openai: stream failed", zap.String("provider", p.id), zap.Error(err))
		return nil, err
	}
	return newSSEStream(ctx, p.id, resp.Body, p.decodeChunk), nil
}

func (p *OpenAIProvider) decodeChunk(ev sseEvent) (StreamChunk, bool, error) {
	if ev.Data == "[DONE]" {
		return StreamChunk{Done: true}, false, nil
	}
	var chunk oaiStreamChunk
	if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
		return StreamChunk{}, true, nil
	}
	if chunk.Error != nil {
		return StreamChunk{}, false, &ProviderError{Provider: p.id, Err: fmt.Errorf("openai stream error [%s]: %s", chunk.Error.Type, chunk.Error.Message)}
	}
	if len(chunk.Choices) == 0 {
		return StreamChunk{}, true, nil
	}
	return StreamChunk{Content: chunk.Choices[0].Delta.Content}, false, nil
}

func (p *OpenAIProvider) toCall(tc oaiToolCall) (Call, error) {
	args := map[string]any{}
	if strings.TrimSpace(tc.Function.Arguments) != "" {
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			return Call{}, &ProviderError{Provider: p.id, Err: fmt.Errorf("decode tool arguments for %s: %w", tc.Function.Name, err)}
		}
	}
	return Call{Name: tc.Function.Name, Arguments: args}, nil
}

func (p *OpenAIProvider) toOAIRequest(req *CompletionRequest) oaiRequest {
	msgs := make([]oaiMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = oaiMessage{Role: string(m.Role), Content: m.Content}
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = maxTokensFor(p.models, req.Model)
	}
	if maxTokens == 0 {
		maxTokens = openAIDefaultMaxTokens
	}

	out := oaiRequest{
		Model:    req.Model,
		Messages: msgs,
	}
	if isReasoningModel(req.Model) {
		out.MaxCompletionTokens = maxTokens
	} else {
		out.MaxTokens = maxTokens
		out.Temperature = req.Temperature
	}

	if len(req.Tools) > 0 {
		out.Tools = make([]oaiTool, len(req.Tools))
		for i, t := range req.Tools {
			out.Tools[i] = oaiTool{
				Type: "function",
				Function: oaiFunctionDecl{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  objectSchema(t.Params, false),
				},
			}
		}
		out.ToolChoice = string(req.ToolChoice)
		if out.ToolChoice == "" {
			out.ToolChoice = string(ToolChoiceAuto)
		}
	}
	return out
}

func isReasoningModel(model string) bool {
	for _, prefix := range reasoningModelPrefixes {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}

func (p *OpenAIProvider) headers() map[string]string {
	h := map[string]string{}
	if p.apiKey != "" {
		h["Authorization"] = "Bearer " + p.apiKey
	}
	return h
}

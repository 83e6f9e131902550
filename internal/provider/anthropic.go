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
	anthropicDefaultBaseURL = "https://api.anthropic.com"
	anthropicMessagesPath   = "/v1/messages"
	anthropicAPIVersion     = "2023-06-01"
)

// AnthropicProvider implements the Provider interface for the
// Anthropic Messages API.
type AnthropicProvider struct {
	id      string
	baseURL string
	apiKey  string
	models  []ModelInfo
	client  *http.Client
	logger  *zap.Logger
}

// AnthropicOption configures an AnthropicProvider.
type AnthropicOption func(*AnthropicProvider)

// WithAnthropicHTTPClient sets a custom HTTP client.
func WithAnthropicHTTPClient(c *http.Client) AnthropicOption {
	return func(p *AnthropicProvider) { p.client = c }
}

// WithAnthropicLogger sets the logger used for request diagnostics.
func WithAnthropicLogger(l *zap.Logger) AnthropicOption {
	return func(p *AnthropicProvider) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewAnthropicProvider creates a provider for the Anthropic API.
func NewAnthropicProvider(id, baseURL, apiKey string, models []ModelInfo, opts ...AnthropicOption) *AnthropicProvider {
	if baseURL == "" {
		baseURL = anthropicDefaultBaseURL
	}
	p := &AnthropicProvider{
		id:      id,
		baseURL: strings.TrimRight(baseURL, "/"),
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

func (p *AnthropicProvider) ID() string { return p.id }

func (p *AnthropicProvider) Models() []ModelInfo { return p.models }

func (p *AnthropicProvider) SupportsFeature(f Feature) bool {
	return anySupports(p.models, f)
}

// -- Anthropic wire types --

type anthRequest struct {
	Model       string          `json:"model"`
	System      string          `json:"system,omitempty"`
	Messages    []anthMessage   `json:"messages"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature *float64        `json:"temperature,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	Tools       []anthTool      `json:"tools,omitempty"`
	ToolChoice  *anthToolChoice `json:"tool_choice,omitempty"`
}

type anthMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthToolChoice struct {
	Type string `json:"type"`
}

type anthResponse struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Model      string             `json:"model"`
	Content    []anthContentBlock `json:"content"`
	StopReason string             `json:"stop_reason"`
	Usage      anthUsage          `json:"usage"`
	Error      *anthError         `json:"error,omitempty"`
}

type anthContentBlock struct {
	Type  string         `json:"type"`
	Text  string         `json:"text,omitempty"`
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
}

type anthUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type anthStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error *anthError `json:"error,omitempty"`
}

// Complete sends a non-streaming completion request.
func (p *AnthropicProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	anthReq := p.toAnthRequest(req)

	p.logger.Debug("anthropic: request",
		zap.String("provider", p.id), zap.String("model", anthReq.Model),
		zap.Int("messages", len(anthReq.Messages)), zap.Int("tools", len(anthReq.Tools)))

	respBody, err := postJSON(ctx, p.client, p.id, p.baseURL+anthropicMessagesPath, p.headers(), anthReq)
	if err != nil {
		p.logger.Error("anthropic: request failed", zap.String("provider", p.id), zap.Error(err))
		return nil, err
	}

	var anthResp anthResponse
	if err := decodeResponse(p.id, respBody, &anthResp); err != nil {
		return nil, err
	}
	if anthResp.Error != nil {
		return nil, &ProviderError{Provider: p.id, Err: fmt.Errorf("anthropic error [%s]: %s", anthResp.Error.Type, anthResp.Error.Message)}
	}

	resp := &CompletionResponse{
		ID:           anthResp.ID,
		Model:        anthResp.Model,
		FinishReason: anthResp.StopReason,
		Usage: Usage{
			InputTokens:  anthResp.Usage.InputTokens,
			OutputTokens: anthResp.Usage.OutputTokens,
		},
	}

	for _, b := range anthResp.Content {
		if b.Type == "tool_use" {
			args := b.Input
			if args == nil {
				args = map[string]any{}
			}
			resp.Output = Call{Name: b.Name, Arguments: args}
			return resp, nil
		}
	}

	content := p.extractContent(anthResp.Content)
	resp.Output = Text(content)
	if content == "" {
		p.logger.Warn("anthropic: empty content",
			zap.String("provider", p.id), zap.String("stop_reason", anthResp.StopReason))
	}
	return resp, nil
}

// Stream opens a streaming completion. Text arrives in content_block_delta
// events; message_stop ends the stream and ping events are ignored.
func (p *AnthropicProvider) Stream(ctx context.Context, req *CompletionRequest) (ResponseStream, error) {
	anthReq := p.toAnthRequest(req)
	anthReq.Stream = true
	anthReq.Tools = nil
	anthReq.ToolChoice = nil

	resp, err := openStream(ctx, p.client, p.id, p.baseURL+anthropicMessagesPath, p.headers(), anthReq)
	if err != nil {
		p.logger.Error("anthropic: stream failed", zap.String("provider", p.id), zap.Error(err))
		return nil, err
	}
	return newSSEStream(ctx, p.id, resp.Body, p.decodeEvent), nil
}

func (p *AnthropicProvider) decodeEvent(ev sseEvent) (StreamChunk, bool, error) {
	var e anthStreamEvent
	if err := json.Unmarshal([]byte(ev.Data), &e); err != nil {
		return StreamChunk{}, true, nil
	}
	switch e.Type {
	case "content_block_delta":
		if e.Delta.Type != "" && e.Delta.Type != "text_delta" {
			return StreamChunk{}, true, nil
		}
		return StreamChunk{Content: e.Delta.Text}, false, nil
	case "message_stop":
		return StreamChunk{Done: true}, false, nil
	case "error":
		msg := "unknown stream error"
		if e.Error != nil {
			msg = e.Error.Type + ": " + e.Error.Message
		}
		return StreamChunk{}, false, &ProviderError{Provider: p.id, Err: fmt.Errorf("anthropic stream error: %s", msg)}
	default:
		return StreamChunk{}, true, nil
	}
}

func (p *AnthropicProvider) toAnthRequest(req *CompletionRequest) anthRequest {
	var system []string
	msgs := make([]anthMessage, 0, len(req.Messages))

	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		msgs = append(msgs, anthMessage{Role: string(m.Role), Content: m.Content})
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = maxTokensFor(p.models, req.Model)
	}
	if maxTokens == 0 {
		maxTokens = 4096
	}

	out := anthRequest{
		Model:       req.Model,
		System:      strings.Join(system, "\n\n"),
		Messages:    msgs,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}

	if len(req.Tools) > 0 {
		out.Tools = make([]anthTool, len(req.Tools))
		for i, t := range req.Tools {
			out.Tools[i] = anthTool{
				Name:        t.Name,
				Description: t.Description,
				InputSchema: objectSchema(t.Params, false),
			}
		}
		choice := "auto"
		if req.ToolChoice == ToolChoiceNone {
			choice = "none"
		}
		out.ToolChoice = &anthToolChoice{Type: choice}
	}
	return out
}

func (p *AnthropicProvider) extractContent(blocks []anthContentBlock) string {
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}

func (p *AnthropicProvider) headers() map[string]string {
	return map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": anthropicAPIVersion,
	}
}

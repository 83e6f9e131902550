package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const geminiDefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiProvider implements the Provider interface for the Gemini
// generateContent API.
type GeminiProvider struct {
	id      string
	baseURL string
	apiKey  string
	models  []ModelInfo
	client  *http.Client
	logger  *zap.Logger
}

// GeminiOption configures a GeminiProvider.
type GeminiOption func(*GeminiProvider)

// WithGeminiHTTPClient sets a custom HTTP client.
func WithGeminiHTTPClient(c *http.Client) GeminiOption {
	return func(p *GeminiProvider) { p.client = c }
}

// WithGeminiLogger sets the logger used for request diagnostics.
func WithGeminiLogger(l *zap.Logger) GeminiOption {
	return func(p *GeminiProvider) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewGeminiProvider creates a provider for the Gemini API.
func NewGeminiProvider(id, baseURL, apiKey string, models []ModelInfo, opts ...GeminiOption) *GeminiProvider {
	if baseURL == "" {
		baseURL = geminiDefaultBaseURL
	}
	p := &GeminiProvider{
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

func (p *GeminiProvider) ID() string { return p.id }

func (p *GeminiProvider) Models() []ModelInfo { return p.models }

func (p *GeminiProvider) SupportsFeature(f Feature) bool {
	return anySupports(p.models, f)
}

// -- Gemini wire types --

type gemRequest struct {
	Contents          []gemContent         `json:"contents"`
	SystemInstruction *gemContent          `json:"systemInstruction,omitempty"`
	Tools             []gemTool            `json:"tools,omitempty"`
	ToolConfig        *gemToolConfig       `json:"toolConfig,omitempty"`
	GenerationConfig  *gemGenerationConfig `json:"generationConfig,omitempty"`
}

type gemContent struct {
	Role  string    `json:"role,omitempty"`
	Parts []gemPart `json:"parts"`
}

type gemPart struct {
	Text         string           `json:"text,omitempty"`
	FunctionCall *gemFunctionCall `json:"functionCall,omitempty"`
}

type gemFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type gemTool struct {
	FunctionDeclarations []gemFunctionDecl `json:"functionDeclarations"`
}

type gemFunctionDecl struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type gemToolConfig struct {
	FunctionCallingConfig gemFunctionCallingConfig `json:"functionCallingConfig"`
}

type gemFunctionCallingConfig struct {
	Mode string `json:"mode"`
}

type gemGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

type gemResponse struct {
	Candidates []struct {
		Content      gemContent `json:"content"`
		FinishReason string     `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
	ResponseID   string `json:"responseId"`
	Error        *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

// Complete sends a non-streaming generateContent request.
func (p *GeminiProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	gemReq := p.toGemRequest(req)
	endpoint := p.endpoint(req.Model, "generateContent", false)

	p.logger.Debug("gemini: request",
		zap.String("provider", p.id), zap.String("model", req.Model),
		zap.Int("contents", len(gemReq.Contents)), zap.Int("tools", len(req.Tools)))

	respBody, err := postJSON(ctx, p.client, p.id, endpoint, p.headers(), gemReq)
	if err != nil {
		p.logger.Error("gemini: request failed", zap.String("provider", p.id), zap.Error(err))
		return nil, err
	}

	var gemResp gemResponse
	if err := decodeResponse(p.id, respBody, &gemResp); err != nil {
		return nil, err
	}
	if gemResp.Error != nil {
		return nil, &ProviderError{
			Provider:   p.id,
			StatusCode: gemResp.Error.Code,
			Err:        fmt.Errorf("gemini error [%s]: %s", gemResp.Error.Status, gemResp.Error.Message),
		}
	}

	resp := &CompletionResponse{
		ID:    gemResp.ResponseID,
		Model: gemResp.ModelVersion,
		Usage: Usage{
			InputTokens:  gemResp.UsageMetadata.PromptTokenCount,
			OutputTokens: gemResp.UsageMetadata.CandidatesTokenCount,
		},
	}
	if resp.Model == "" {
		resp.Model = req.Model
	}
	if len(gemResp.Candidates) == 0 {
		p.logger.Warn("gemini: no candidates", zap.String("provider", p.id))
		resp.Output = Text("")
		return resp, nil
	}

	cand := gemResp.Candidates[0]
	resp.FinishReason = cand.FinishReason
	var texts []string
	for _, part := range cand.Content.Parts {
		if part.FunctionCall != nil {
			args := part.FunctionCall.Args
			if args == nil {
				args = map[string]any{}
			}
			resp.Output = Call{Name: part.FunctionCall.Name, Arguments: args}
			return resp, nil
		}
		if part.Text != "" {
			texts = append(texts, part.Text)
		}
	}

	content := strings.Join(texts, "")
	resp.Output = Text(content)
	if content == "" {
		p.logger.Warn("gemini: empty content",
			zap.String("provider", p.id), zap.String("finish_reason", cand.FinishReason))
	}
	return resp, nil
}

// Stream opens streamGenerateContent in SSE mode. Gemini sends no
// terminator event, so the stream ends when the body does.
func (p *GeminiProvider) Stream(ctx context.Context, req *CompletionRequest) (ResponseStream, error) {
	gemReq := p.toGemRequest(req)
	gemReq.Tools = nil
	gemReq.ToolConfig = nil
	endpoint := p.endpoint(req.Model, "streamGenerateContent", true)

	resp, err := openStream(ctx, p.client, p.id, endpoint, p.headers(), gemReq)
	if err != nil {
		p.logger.Error("gemini: stream failed", zap.String("provider", p.id), zap.Error(err))
		return nil, err
	}
	return newSSEStream(ctx, p.id, resp.Body, p.decodeChunk), nil
}

func (p *GeminiProvider) decodeChunk(ev sseEvent) (StreamChunk, bool, error) {
	var r gemResponse
	if err := json.Unmarshal([]byte(ev.Data), &r); err != nil {
		return StreamChunk{}, true, nil
	}
	if r.Error != nil {
		return StreamChunk{}, false, &ProviderError{
			Provider:   p.id,
			StatusCode: r.Error.Code,
			Err:        fmt.Errorf("gemini stream error: %s", r.Error.Message),
		}
	}
	if len(r.Candidates) == 0 {
		return StreamChunk{}, true, nil
	}
	var b strings.Builder
	for _, part := range r.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	if b.Len() == 0 {
		return StreamChunk{}, true, nil
	}
	return StreamChunk{Content: b.String()}, false, nil
}

func (p *GeminiProvider) toGemRequest(req *CompletionRequest) gemRequest {
	var system []string
	contents := make([]gemContent, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			contents = append(contents, gemContent{Role: "model", Parts: []gemPart{{Text: m.Content}}})
		default:
			contents = append(contents, gemContent{Role: "user", Parts: []gemPart{{Text: m.Content}}})
		}
	}

	out := gemRequest{Contents: contents}
	if len(system) > 0 {
		out.SystemInstruction = &gemContent{Parts: []gemPart{{Text: strings.Join(system, "\n\n")}}}
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = maxTokensFor(p.models, req.Model)
	}
	if req.Temperature != nil || maxTokens > 0 {
		out.GenerationConfig = &gemGenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: maxTokens,
		}
	}

	if len(req.Tools) > 0 {
		decls := make([]gemFunctionDecl, len(req.Tools))
		for i, t := range req.Tools {
			decls[i] = gemFunctionDecl{Name: t.Name, Description: t.Description}
			if len(t.Params) > 0 {
				decls[i].Parameters = objectSchema(t.Params, true)
			}
		}
		out.Tools = []gemTool{{FunctionDeclarations: decls}}
		mode := "AUTO"
		if req.ToolChoice == ToolChoiceNone {
			mode = "NONE"
		}
		out.ToolConfig = &gemToolConfig{FunctionCallingConfig: gemFunctionCallingConfig{Mode: mode}}
	}
	return out
}

func (p *GeminiProvider) endpoint(model, method string, sse bool) string {
	u := p.baseURL + "/models/" + url.PathEscape(model) + ":" + method
	if sse {
		u += "?alt=sse"
	}
	return u
}

func (p *GeminiProvider) headers() map[string]string {
	return map[string]string{"x-goog-api-key": p.apiKey}
}

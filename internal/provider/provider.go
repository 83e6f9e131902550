package provider

import "context"

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ParamType is the strict type of a tool parameter. Every adapter translates
// it into its own schema dialect.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamNumber  ParamType = "number"
	ParamInteger ParamType = "integer"
	ParamBoolean ParamType = "boolean"
	ParamArray   ParamType = "array" // array of strings
)

type Param struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Description string    `json:"description,omitempty"`
	Required    bool      `json:"required,omitempty"`
	Enum        []string  `json:"enum,omitempty"`
}

// Tool is a callable action offered to the model.
type Tool struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Params      []Param `json:"params,omitempty"`
}

// RequiredParams returns the names of required parameters in declaration order.
func (t Tool) RequiredParams() []string {
	var names []string
	for _, p := range t.Params {
		if p.Required {
			names = append(names, p.Name)
		}
	}
	return names
}

type ToolChoice string

const (
	ToolChoiceAuto ToolChoice = "auto"
	ToolChoiceNone ToolChoice = "none"
)

type CompletionRequest struct {
	Model       string     `json:"model"`
	Messages    []Message  `json:"messages"`
	MaxTokens   int        `json:"max_tokens,omitempty"`
	Temperature *float64   `json:"temperature,omitempty"`
	Stream      bool       `json:"stream,omitempty"`
	Tools       []Tool     `json:"tools,omitempty"`
	ToolChoice  ToolChoice `json:"tool_choice,omitempty"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Output is either Text or Call. No other implementations exist, so callers
// switch on the concrete type.
type Output interface {
	output()
}

// Text is a plain-text model answer. It may be empty.
type Text string

// Call is a structured tool invocation chosen by the model.
type Call struct {
	Name      string         `json:"function_name"`
	Arguments map[string]any `json:"arguments"`
}

func (Text) output() {}
func (Call) output() {}

type CompletionResponse struct {
	ID           string `json:"id"`
	Model        string `json:"model"`
	Output       Output `json:"-"`
	FinishReason string `json:"finish_reason,omitempty"`
	Usage        Usage  `json:"usage"`
}

// Text returns the plain-text output, or "" when the model chose a tool.
func (r *CompletionResponse) Text() string {
	if t, ok := r.Output.(Text); ok {
		return string(t)
	}
	return ""
}

type StreamChunk struct {
	Content string `json:"content"`
	Done    bool   `json:"done"`
}

type ResponseStream interface {
	Recv() (StreamChunk, error)
	Close() error
}

type Provider interface {
	ID() string
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
	Stream(ctx context.Context, req *CompletionRequest) (ResponseStream, error)
	Models() []ModelInfo
	SupportsFeature(feature Feature) bool
}

// Temperature is a convenience for building requests.
func Temperature(f float64) *float64 { return &f }

package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/opentalon/aspri/internal/capability"
	"github.com/opentalon/aspri/internal/provider"
)

const (
	// HistoryTurns is how many history entries the classifier sees by default.
	HistoryTurns = 4

	coreCallConfidence   = 0.9
	pluginCallConfidence = 0.95
	legacyConfidence     = 0.5
	classifierMaxTokens  = 512
)

const instruction = `You classify messages sent to a personal assistant that manages finance, schedules and notes.
Call exactly one of the provided functions with every parameter you can extract from the message.
Dates use YYYY-MM-DD, times use YYYY-MM-DD HH:mm. Amounts are plain numbers: 15rb = 15000, 1.5jt = 1500000.
Use confirm or cancel only when the user answers a pending confirmation.
If no function fits, reply with JSON {"action":"unknown","module":"general","entities":{}}.`

const jsonInstruction = `You classify messages sent to a personal assistant that manages finance, schedules and notes.
Pick exactly one action from the list below and extract its parameters.
Dates use YYYY-MM-DD, times use YYYY-MM-DD HH:mm. Amounts are plain numbers: 15rb = 15000, 1.5jt = 1500000.
Use confirm or cancel only when the user answers a pending confirmation.
Reply with JSON only, no prose:
{"action":"<name>","module":"<module>","entities":{...},"confidence":<0..1>}
If no action fits, reply {"action":"unknown","module":"general","entities":{}}.

Actions:
`

// Classifier asks the model which capability a message invokes.
type Classifier struct {
	provider provider.Provider
	model    string
	logger   *zap.Logger
	onFail   func(providerID string)
	history  int
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithLogger sets the classifier logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Classifier) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithFailureHook is called with the provider id whenever classification
// degrades because of a provider error.
func WithFailureHook(fn func(providerID string)) Option {
	return func(c *Classifier) { c.onFail = fn }
}

// WithHistory sets how many history entries the model sees.
func WithHistory(n int) Option {
	return func(c *Classifier) {
		if n > 0 {
			c.history = n
		}
	}
}

func NewClassifier(p provider.Provider, model string, opts ...Option) *Classifier {
	c := &Classifier{provider: p, model: model, logger: zap.NewNop(), history: HistoryTurns}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Classify never fails: provider errors and unusable output become
// Unknown with confidence 0.
func (c *Classifier) Classify(ctx context.Context, history []provider.Message, message string, caps []capability.Descriptor) Intent {
	req := &provider.CompletionRequest{
		Model:       c.model,
		MaxTokens:   classifierMaxTokens,
		Temperature: provider.Temperature(0),
	}
	system := instruction
	if provider.ModelSupports(c.provider, c.model, provider.FeatureTools) {
		req.Tools = capability.Tools(caps)
		req.ToolChoice = provider.ToolChoiceAuto
	} else {
		system = jsonInstruction + describeActions(caps)
	}

	msgs := make([]provider.Message, 0, c.history+2)
	msgs = append(msgs, provider.Message{Role: provider.RoleSystem, Content: system})
	for _, m := range lastTurns(history, c.history) {
		if m.Role == provider.RoleSystem {
			continue
		}
		msgs = append(msgs, m)
	}
	msgs = append(msgs, provider.Message{Role: provider.RoleUser, Content: message})

	req.Messages = msgs

	resp, err := c.provider.Complete(ctx, req)
	if err != nil {
		c.logger.Warn("intent: classification failed", zap.String("provider", c.provider.ID()), zap.Error(err))
		if c.onFail != nil {
			c.onFail(c.provider.ID())
		}
		return Unknown()
	}

	var in Intent
	switch out := resp.Output.(type) {
	case provider.Call:
		in = FromCall(out)
	case provider.Text:
		in = FromText(string(out))
	default:
		in = Unknown()
	}
	c.logger.Debug("intent: classified",
		zap.String("module", string(in.Module)), zap.String("action", in.Action),
		zap.Float64("confidence", in.Confidence))
	return in
}

// describeActions renders caps as one line per action for models that only
// answer in text.
func describeActions(caps []capability.Descriptor) string {
	var b strings.Builder
	for _, d := range caps {
		fmt.Fprintf(&b, "- %s: %s", d.Name, d.Description)
		if len(d.Params) > 0 {
			b.WriteString(" Parameters:")
			for i, p := range d.Params {
				if i > 0 {
					b.WriteString(",")
				}
				fmt.Fprintf(&b, " %s (%s", p.Name, p.Type)
				if p.Required {
					b.WriteString(", required")
				}
				if len(p.Enum) > 0 {
					fmt.Fprintf(&b, ", one of %s", strings.Join(p.Enum, "|"))
				}
				b.WriteString(")")
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

// FromCall normalizes a structured call.
func FromCall(call provider.Call) Intent {
	m, ok := ModuleOf(call.Name)
	if !ok || call.Name == ActionUnknown {
		return Unknown()
	}
	conf := coreCallConfidence
	if m == capability.ModulePlugin {
		conf = pluginCallConfidence
	}
	return Intent{
		Module:               m,
		Action:               call.Name,
		Entities:             Entities(call.Arguments).Clone(),
		Confidence:           conf,
		RequiresConfirmation: RequiresConfirmation(call.Name),
	}
}

type legacyIntent struct {
	Action     string         `json:"action"`
	Module     string         `json:"module"`
	Entities   map[string]any `json:"entities"`
	Confidence *float64       `json:"confidence"`
}

// FromText parses the JSON-in-text answer older prompts produce. Markdown
// fences are stripped; anything unparsable becomes Unknown.
func FromText(text string) Intent {
	raw := stripFences(text)
	if raw == "" {
		return Unknown()
	}
	var li legacyIntent
	if err := json.Unmarshal([]byte(raw), &li); err != nil {
		return Unknown()
	}
	m, ok := ModuleOf(li.Action)
	if !ok || li.Action == ActionUnknown {
		return Unknown()
	}
	conf := legacyConfidence
	if li.Confidence != nil {
		conf = clamp(*li.Confidence)
	}
	return Intent{
		Module:               m,
		Action:               li.Action,
		Entities:             Entities(li.Entities).Clone(),
		Confidence:           conf,
		RequiresConfirmation: RequiresConfirmation(li.Action),
	}
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```JSON", "")
	s = strings.ReplaceAll(s, "```", "")
	s = strings.TrimSpace(s)
	if i, j := strings.Index(s, "{"), strings.LastIndex(s, "}"); i > 0 && j > i {
		s = s[i : j+1]
	}
	return s
}

func clamp(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

func lastTurns(history []provider.Message, n int) []provider.Message {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

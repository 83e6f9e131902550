package executor

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/opentalon/aspri/internal/plugin"
)

const (
	DefaultMaxMessageBytes = 4 * 1024
	DefaultPluginTimeout   = 30 * time.Second
)

var defaultForbiddenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\[tool_call\]`),
	regexp.MustCompile(`\[tool_use\]`),
	regexp.MustCompile(`<tool_call>`),
	regexp.MustCompile(`<function_call>`),
	regexp.MustCompile(`"type"\s*:\s*"function"`),
	regexp.MustCompile(`"tool_calls"\s*:\s*\[`),
}

// Guard bounds plugin calls in time and scrubs what they return before it
// reaches the user or the conversation history.
type Guard struct {
	MaxMessageBytes   int
	Timeout           time.Duration
	ForbiddenPatterns []*regexp.Regexp
}

func NewGuard() *Guard {
	return &Guard{
		MaxMessageBytes:   DefaultMaxMessageBytes,
		Timeout:           DefaultPluginTimeout,
		ForbiddenPatterns: defaultForbiddenPatterns,
	}
}

// Sanitize truncates oversized text and masks tool-call markup.
func (g *Guard) Sanitize(s string) string {
	if s == "" {
		return s
	}
	if g.MaxMessageBytes > 0 && len(s) > g.MaxMessageBytes {
		s = strings.ToValidUTF8(s[:g.MaxMessageBytes], "") + "\n[terpotong]"
	}
	for _, pat := range g.ForbiddenPatterns {
		s = pat.ReplaceAllStringFunc(s, func(match string) string {
			return strings.Repeat("*", len(match))
		})
	}
	return s
}

// Run calls fn with a deadline. A call that outlives it is reported as a
// timeout; fn keeps the cancelled context and is expected to return soon.
func (g *Guard) Run(ctx context.Context, slug string, fn func(ctx context.Context) (plugin.Outcome, error)) (plugin.Outcome, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.Timeout)
	defer cancel()

	type result struct {
		out plugin.Outcome
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := fn(callCtx)
		done <- result{out, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return plugin.Outcome{}, r.err
		}
		r.out.Message = g.Sanitize(r.out.Message)
		return r.out, nil
	case <-callCtx.Done():
		return plugin.Outcome{}, fmt.Errorf("plugin %q timed out after %s", slug, g.Timeout)
	}
}

package provider

import (
	"fmt"
	"strings"
)

// ModelRef names a model as "provider/model", e.g. "openai/gpt-4o-mini".
// Everything after the first slash is the model id.
type ModelRef string

func (r ModelRef) Provider() string {
	p, _, ok := strings.Cut(string(r), "/")
	if !ok {
		return ""
	}
	return p
}

func (r ModelRef) Model() string {
	_, m, ok := strings.Cut(string(r), "/")
	if !ok {
		return string(r)
	}
	return m
}

func (r ModelRef) String() string { return string(r) }

func ParseModelRef(s string) (ModelRef, error) {
	ref := ModelRef(s)
	if ref.Provider() == "" || ref.Model() == "" {
		return "", fmt.Errorf("invalid model ref %q: want provider/model", s)
	}
	return ref, nil
}

// Feature is an optional capability of a model's API.
type Feature string

const (
	// FeatureTools means the model accepts native function declarations.
	FeatureTools Feature = "tools"
	// FeatureStreaming means the model can stream its reply.
	FeatureStreaming Feature = "streaming"
)

// DefaultFeatures apply to models that declare none. All three wire
// formats support both.
var DefaultFeatures = []Feature{FeatureTools, FeatureStreaming}

// ParseFeature accepts the names used in configuration.
func ParseFeature(s string) (Feature, error) {
	switch f := Feature(s); f {
	case FeatureTools, FeatureStreaming:
		return f, nil
	}
	return "", fmt.Errorf("unknown model feature %q", s)
}

// ModelInfo describes one configured model.
type ModelInfo struct {
	ID         string
	ProviderID string
	// MaxTokens caps replies when the request does not set a limit.
	MaxTokens int
	Features  []Feature
}

func (m ModelInfo) SupportsFeature(f Feature) bool {
	feats := m.Features
	if len(feats) == 0 {
		feats = DefaultFeatures
	}
	for _, feat := range feats {
		if feat == f {
			return true
		}
	}
	return false
}

// findModel returns the configured entry for model id.
func findModel(models []ModelInfo, id string) (ModelInfo, bool) {
	for _, m := range models {
		if m.ID == id {
			return m, true
		}
	}
	return ModelInfo{}, false
}

// anySupports is the provider-level answer: true when no models are
// configured, otherwise when at least one configured model has f.
func anySupports(models []ModelInfo, f Feature) bool {
	if len(models) == 0 {
		return true
	}
	for _, m := range models {
		if m.SupportsFeature(f) {
			return true
		}
	}
	return false
}

// ModelSupports answers for one model of p. Models p does not list fall
// back to p.SupportsFeature.
func ModelSupports(p Provider, model string, f Feature) bool {
	if m, ok := findModel(p.Models(), model); ok {
		return m.SupportsFeature(f)
	}
	return p.SupportsFeature(f)
}

// maxTokensFor returns the configured reply cap of model, or 0.
func maxTokensFor(models []ModelInfo, model string) int {
	if m, ok := findModel(models, model); ok {
		return m.MaxTokens
	}
	return 0
}

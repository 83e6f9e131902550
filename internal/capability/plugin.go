package capability

import (
	"fmt"
	"sort"
	"strings"

	"github.com/opentalon/aspri/internal/provider"
)

// PluginIntent is an action declared by a plugin. Entities uses the loose
// "type|null" convention: a nullable type is optional, anything else is
// required.
type PluginIntent struct {
	Action      string            `yaml:"action" json:"action"`
	Description string            `yaml:"description" json:"description"`
	Entities    map[string]string `yaml:"entities" json:"entities"`
	Examples    []string          `yaml:"examples" json:"examples"`
}

// PluginSource is one active plugin and the intents it contributes.
type PluginSource struct {
	Slug    string
	Name    string
	Intents []PluginIntent
}

// Descriptors converts the plugin's intents into strict descriptors.
func (p PluginSource) Descriptors() ([]Descriptor, error) {
	if p.Slug == "" {
		return nil, fmt.Errorf("plugin %q has no slug", p.Name)
	}
	out := make([]Descriptor, 0, len(p.Intents))
	for _, in := range p.Intents {
		if in.Action == "" {
			return nil, fmt.Errorf("plugin %q: intent without action", p.Slug)
		}
		name := PluginActionName(p.Slug, in.Action)
		if !ValidName(name) {
			return nil, fmt.Errorf("plugin %q action %q: name %q is longer than %d characters", p.Slug, in.Action, name, MaxNameLength)
		}

		names := make([]string, 0, len(in.Entities))
		for n := range in.Entities {
			names = append(names, n)
		}
		sort.Strings(names)

		params := []provider.Param{{
			Name:        PluginSlugParam,
			Type:        provider.ParamString,
			Description: "Plugin that handles this action",
			Required:    true,
			Enum:        []string{p.Slug},
		}}
		for _, n := range names {
			if n == PluginSlugParam {
				continue
			}
			param, err := ParseParamSpec(n, in.Entities[n])
			if err != nil {
				return nil, fmt.Errorf("plugin %q action %q: %w", p.Slug, in.Action, err)
			}
			params = append(params, param)
		}

		desc := in.Description
		if p.Name != "" {
			desc = fmt.Sprintf("[%s] %s", p.Name, desc)
		}
		if len(in.Examples) > 0 {
			desc += " Examples: " + strings.Join(quoteAll(in.Examples), ", ")
		}

		out = append(out, Descriptor{
			Tool:   provider.Tool{Name: name, Description: desc, Params: params},
			Source: p.Slug,
		})
	}
	return out, nil
}

// ParseParamSpec turns a loose entity declaration into a strict parameter.
//
//	"number"             required number
//	"string|null"        optional string
//	"string[]|null"      optional array of strings
//	"\"a\"|\"b\"|null"   optional string limited to a and b
func ParseParamSpec(name, spec string) (provider.Param, error) {
	p := provider.Param{Name: name, Required: true}
	var alts []string
	for _, part := range strings.Split(spec, "|") {
		part = strings.TrimSpace(part)
		switch {
		case part == "":
		case strings.EqualFold(part, "null"):
			p.Required = false
		default:
			alts = append(alts, part)
		}
	}
	if len(alts) == 0 {
		p.Type = provider.ParamString
		return p, nil
	}

	var literals []string
	for _, a := range alts {
		if lit, ok := unquote(a); ok {
			literals = append(literals, lit)
		}
	}
	if len(literals) > 0 {
		if len(literals) != len(alts) {
			return provider.Param{}, fmt.Errorf("entity %q: cannot mix literals and types in %q", name, spec)
		}
		p.Type = provider.ParamString
		p.Enum = literals
		return p, nil
	}
	if len(alts) > 1 {
		return provider.Param{}, fmt.Errorf("entity %q: union type %q not supported", name, spec)
	}

	t := strings.ToLower(alts[0])
	switch {
	case strings.HasSuffix(t, "[]") || t == "array":
		p.Type = provider.ParamArray
	case t == "string" || t == "date" || t == "datetime":
		p.Type = provider.ParamString
	case t == "number" || t == "float":
		p.Type = provider.ParamNumber
	case t == "int" || t == "integer":
		p.Type = provider.ParamInteger
	case t == "bool" || t == "boolean":
		p.Type = provider.ParamBoolean
	default:
		return provider.Param{}, fmt.Errorf("entity %q: unknown type %q", name, alts[0])
	}
	return p, nil
}

func unquote(s string) (string, bool) {
	if len(s) >= 2 && (s[0] == '"' && s[len(s)-1] == '"' || s[0] == '\'' && s[len(s)-1] == '\'') {
		return s[1 : len(s)-1], true
	}
	return "", false
}

func quoteAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = fmt.Sprintf("%q", s)
	}
	return out
}

package provider

import "strings"

// objectSchema renders params as a JSON-schema object. upper selects the
// OpenAPI-style upper-case type names Gemini documents.
func objectSchema(params []Param, upper bool) map[string]any {
	typeName := func(t string) string {
		if upper {
			return strings.ToUpper(t)
		}
		return t
	}

	props := make(map[string]any, len(params))
	required := make([]string, 0, len(params))
	for _, p := range params {
		prop := map[string]any{"type": typeName(string(paramTypeOrString(p.Type)))}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Type == ParamArray {
			prop["items"] = map[string]any{"type": typeName(string(ParamString))}
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"type":       typeName("object"),
		"properties": props,
		"required":   required,
	}
}

func paramTypeOrString(t ParamType) ParamType {
	if t == "" {
		return ParamString
	}
	return t
}

// Package capability builds the list of actions offered to the model on
// each turn: the fixed core modules plus whatever the user's active plugins
// contribute.
package capability

import (
	"errors"
	"fmt"
	"strings"

	"github.com/opentalon/aspri/internal/provider"
)

// Module is a functional grouping of actions.
type Module string

const (
	ModuleFinance  Module = "finance"
	ModuleSchedule Module = "schedule"
	ModuleNotes    Module = "notes"
	ModulePlugin   Module = "plugin"
	ModuleGeneral  Module = "general"
)

// CoreModules are the built-in domain modules, in prompt order.
var CoreModules = []Module{ModuleFinance, ModuleSchedule, ModuleNotes}

// PluginPrefix starts every plugin-contributed action name.
const PluginPrefix = "plugin_"

// PluginSlugParam is the discriminating parameter carried by every plugin action.
const PluginSlugParam = "plugin_slug"

// ErrCollision is returned when a plugin action would shadow another action.
var ErrCollision = errors.New("capability name collision")

// Descriptor is one callable action. Source is the core module name or the
// plugin slug.
type Descriptor struct {
	provider.Tool
	Source string
}

// IsPlugin reports whether the descriptor was contributed by a plugin.
func (d Descriptor) IsPlugin() bool {
	return strings.HasPrefix(d.Name, PluginPrefix)
}

// Tools strips descriptors down to the model-facing tool list.
func Tools(descs []Descriptor) []provider.Tool {
	tools := make([]provider.Tool, len(descs))
	for i, d := range descs {
		tools[i] = d.Tool
	}
	return tools
}

// Find returns the descriptor with the given name.
func Find(descs []Descriptor, name string) (Descriptor, bool) {
	for _, d := range descs {
		if d.Name == name {
			return d, true
		}
	}
	return Descriptor{}, false
}

// Build merges the core descriptors of modules, the general set and the
// plugin descriptors. It fails on the first plugin action whose name
// collides with one already present.
func Build(modules []Module, plugins []PluginSource) ([]Descriptor, error) {
	descs := CoreDescriptors(modules...)
	seen := make(map[string]bool, len(descs))
	for _, d := range descs {
		seen[d.Name] = true
	}
	for _, p := range plugins {
		pds, err := p.Descriptors()
		if err != nil {
			return nil, err
		}
		for _, d := range pds {
			if seen[d.Name] {
				return nil, fmt.Errorf("%w: %q from plugin %q", ErrCollision, d.Name, p.Slug)
			}
			seen[d.Name] = true
			descs = append(descs, d)
		}
	}
	return descs, nil
}

// MaxNameLength is the longest function name every provider accepts.
const MaxNameLength = 64

// PluginActionName namespaces action under the plugin's own slug. The
// prefix is always added, so a plugin cannot claim another plugin's
// namespace. Characters providers reject in function names become '_'.
func PluginActionName(slug, action string) string {
	return PluginPrefix + slugPrefix(slug) + "_" + sanitizeName(action)
}

func slugPrefix(slug string) string {
	return sanitizeName(strings.ReplaceAll(slug, "-", "_"))
}

// sanitizeName maps everything outside [a-zA-Z0-9_-] to '_'.
func sanitizeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		}
		return '_'
	}, s)
}

// ValidName reports whether name is acceptable as a provider function name.
func ValidName(name string) bool {
	if name == "" || len(name) > MaxNameLength {
		return false
	}
	return sanitizeName(name) == name
}

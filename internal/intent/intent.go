// Package intent turns a user message into a normalized Intent.
package intent

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/opentalon/aspri/internal/capability"
)

const (
	ActionUnknown  = "unknown"
	ActionConfirm  = "confirm"
	ActionCancel   = "cancel"
	ActionGreeting = "greeting"
	ActionHelp     = "help"
)

// Intent is the classification of one user message.
type Intent struct {
	Module               capability.Module `json:"module"`
	Action               string            `json:"action"`
	Entities             Entities          `json:"entities"`
	Confidence           float64           `json:"confidence"`
	RequiresConfirmation bool              `json:"requires_confirmation"`
}

// Unknown is the intent every unrecognized or failed classification
// degrades to.
func Unknown() Intent {
	return Intent{Module: capability.ModuleGeneral, Action: ActionUnknown, Entities: Entities{}}
}

// IsView reports whether the intent only reads data.
func (i Intent) IsView() bool {
	return strings.HasPrefix(i.Action, "view_")
}

var actionModules = map[string]capability.Module{
	"create_transaction": capability.ModuleFinance,
	"update_transaction": capability.ModuleFinance,
	"delete_transaction": capability.ModuleFinance,
	"view_transactions":  capability.ModuleFinance,
	"view_balance":       capability.ModuleFinance,
	"create_schedule":    capability.ModuleSchedule,
	"update_schedule":    capability.ModuleSchedule,
	"delete_schedule":    capability.ModuleSchedule,
	"view_schedules":     capability.ModuleSchedule,
	"create_note":        capability.ModuleNotes,
	"update_note":        capability.ModuleNotes,
	"delete_note":        capability.ModuleNotes,
	"view_notes":         capability.ModuleNotes,
	ActionConfirm:        capability.ModuleGeneral,
	ActionCancel:         capability.ModuleGeneral,
	ActionGreeting:       capability.ModuleGeneral,
	ActionHelp:           capability.ModuleGeneral,
	ActionUnknown:        capability.ModuleGeneral,
}

var mutatingActions = map[string]bool{
	"create_transaction": true,
	"update_transaction": true,
	"delete_transaction": true,
	"create_schedule":    true,
	"update_schedule":    true,
	"delete_schedule":    true,
	"create_note":        true,
	"update_note":        true,
	"delete_note":        true,
}

// ModuleOf maps an action name to its module. Plugin-namespaced names map
// to the plugin module; anything else unknown reports false.
func ModuleOf(action string) (capability.Module, bool) {
	if m, ok := actionModules[action]; ok {
		return m, true
	}
	if strings.HasPrefix(action, capability.PluginPrefix) && len(action) > len(capability.PluginPrefix) {
		return capability.ModulePlugin, true
	}
	return "", false
}

// RequiresConfirmation reports whether action mutates state. Every plugin
// action counts as mutating.
func RequiresConfirmation(action string) bool {
	if mutatingActions[action] {
		return true
	}
	m, ok := ModuleOf(action)
	return ok && m == capability.ModulePlugin
}

// Entities holds extracted parameters. Values keep their decoded JSON
// types: string, float64, bool, []any or nil.
type Entities map[string]any

// Has reports whether key is present with a non-empty value.
func (e Entities) Has(key string) bool {
	v, ok := e[key]
	if !ok || v == nil {
		return false
	}
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x) != ""
	case []any:
		return len(x) > 0
	case []string:
		return len(x) > 0
	}
	return true
}

// String returns the value of key as a trimmed string.
func (e Entities) String(key string) string {
	switch x := e[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

// Number returns the value of key as a float. Numeric strings are parsed;
// anything else reports false.
func (e Entities) Number(key string) (float64, bool) {
	switch x := e[key].(type) {
	case float64:
		return x, !math.IsNaN(x)
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}

// Strings returns the value of key as a string list. A single string is
// split on commas.
func (e Entities) Strings(key string) []string {
	var out []string
	switch x := e[key].(type) {
	case []string:
		out = append(out, x...)
	case []any:
		for _, v := range x {
			if s := strings.TrimSpace(fmt.Sprint(v)); s != "" && v != nil {
				out = append(out, s)
			}
		}
	case string:
		for _, s := range strings.Split(x, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// Keys returns the keys in sorted order.
func (e Entities) Keys() []string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a shallow copy with nil values dropped.
func (e Entities) Clone() Entities {
	out := make(Entities, len(e))
	for k, v := range e {
		if v != nil {
			out[k] = v
		}
	}
	return out
}

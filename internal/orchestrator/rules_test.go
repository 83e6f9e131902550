package orchestrator

import (
	"strings"
	"testing"
)

func TestDefaultRulesNotEmpty(t *testing.T) {
	rc := DefaultRulesConfig()
	if len(rc.Rules()) == 0 {
		t.Error("default rules should not be empty")
	}
}

func TestDefaultRulesContainSafetyRule(t *testing.T) {
	prompt := DefaultRulesConfig().BuildPromptSection()
	if !strings.Contains(prompt, "CRITICAL SAFETY RULE") {
		t.Error("rules should contain the plugin output safety rule")
	}
	if !strings.Contains(prompt, "ATURAN KEAMANAN") {
		t.Error("rules should contain the Indonesian safety rule")
	}
}

func TestDefaultRulesContainLanguageRule(t *testing.T) {
	prompt := DefaultRulesConfig().BuildPromptSection()
	if !strings.Contains(prompt, "language of the user's latest message") {
		t.Error("rules should tell the model to mirror the user's language")
	}
}

func TestCustomRulesAppended(t *testing.T) {
	custom := []string{
		"Never give investment advice",
		"Prefer metric units",
	}
	rc := NewRulesConfig(custom)

	rules := rc.Rules()
	expected := len(defaultRules) + 2
	if len(rules) != expected {
		t.Fatalf("expected %d rules, got %d", expected, len(rules))
	}
	if rules[len(rules)-2] != custom[0] || rules[len(rules)-1] != custom[1] {
		t.Errorf("custom rules not appended in order: %v", rules[len(rules)-2:])
	}
}

func TestCustomRulesMarkedInPrompt(t *testing.T) {
	rc := NewRulesConfig([]string{"Never give investment advice"})
	prompt := rc.BuildPromptSection()
	if !strings.Contains(prompt, "- [custom] Never give investment advice") {
		t.Errorf("custom rule should be marked, got:\n%s", prompt)
	}
}

func TestEmptyCustomRulesIgnored(t *testing.T) {
	rc := NewRulesConfig([]string{"", "  ", "\t"})
	if len(rc.Rules()) != len(defaultRules) {
		t.Errorf("blank custom rules should be dropped, got %d rules", len(rc.Rules()))
	}
}

func TestDefaultRulesNotMutatedByCustom(t *testing.T) {
	before := len(defaultRules)
	_ = NewRulesConfig([]string{"extra"})
	if len(defaultRules) != before {
		t.Error("NewRulesConfig must not modify the default rule list")
	}
}

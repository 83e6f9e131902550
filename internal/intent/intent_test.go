package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opentalon/aspri/internal/capability"
)

func TestModuleOf(t *testing.T) {
	tests := []struct {
		action string
		module capability.Module
		ok     bool
	}{
		{"create_transaction", capability.ModuleFinance, true},
		{"view_schedules", capability.ModuleSchedule, true},
		{"update_note", capability.ModuleNotes, true},
		{"greeting", capability.ModuleGeneral, true},
		{"plugin_mood_journal_checkin", capability.ModulePlugin, true},
		{"plugin_", "", false},
		{"launch_rocket", "", false},
	}
	for _, tt := range tests {
		m, ok := ModuleOf(tt.action)
		assert.Equal(t, tt.ok, ok, tt.action)
		assert.Equal(t, tt.module, m, tt.action)
	}
}

func TestRequiresConfirmation(t *testing.T) {
	for _, a := range []string{"create_transaction", "update_schedule", "delete_note", "plugin_books_add"} {
		assert.True(t, RequiresConfirmation(a), a)
	}
	for _, a := range []string{"view_balance", "view_notes", "greeting", "help", "confirm", "cancel", "unknown", "bogus"} {
		assert.False(t, RequiresConfirmation(a), a)
	}
}

func TestEntitiesAccessors(t *testing.T) {
	e := Entities{
		"amount":  float64(50000),
		"str_num": " 1500 ",
		"title":   "  Rapat  ",
		"empty":   "   ",
		"nil":     nil,
		"tags":    []any{"a", " b ", ""},
		"csv":     "x, y,,z",
		"flag":    true,
	}

	assert.True(t, e.Has("amount"))
	assert.False(t, e.Has("empty"))
	assert.False(t, e.Has("nil"))
	assert.False(t, e.Has("missing"))

	assert.Equal(t, "Rapat", e.String("title"))
	assert.Equal(t, "50000", e.String("amount"))
	assert.Equal(t, "true", e.String("flag"))
	assert.Equal(t, "", e.String("missing"))

	n, ok := e.Number("amount")
	assert.True(t, ok)
	assert.Equal(t, 50000.0, n)
	n, ok = e.Number("str_num")
	assert.True(t, ok)
	assert.Equal(t, 1500.0, n)
	_, ok = e.Number("title")
	assert.False(t, ok)

	assert.Equal(t, []string{"a", "b"}, e.Strings("tags"))
	assert.Equal(t, []string{"x", "y", "z"}, e.Strings("csv"))

	c := e.Clone()
	_, has := c["nil"]
	assert.False(t, has)
	assert.Equal(t, []string{"amount", "csv", "empty", "flag", "str_num", "tags", "title"}, c.Keys())
}

func TestMatchConfirmation(t *testing.T) {
	tests := []struct {
		text string
		want Reply
	}{
		{"ya", ReplyConfirm},
		{"Iya!", ReplyConfirm},
		{"  OK.  ", ReplyConfirm},
		{"simpan", ReplyConfirm},
		{"y", ReplyConfirm},
		{"batal", ReplyCancel},
		{"Nggak!!", ReplyCancel},
		{"no", ReplyCancel},
		{"ya tapi ganti jadi 60rb", ReplyNone},
		{"catat pengeluaran", ReplyNone},
		{"yayasan", ReplyNone},
		{"", ReplyNone},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MatchConfirmation(tt.text), tt.text)
	}
}

func TestIsView(t *testing.T) {
	assert.True(t, Intent{Action: "view_balance"}.IsView())
	assert.False(t, Intent{Action: "create_note"}.IsView())
}

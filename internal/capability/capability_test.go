package capability

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentalon/aspri/internal/provider"
)

func names(descs []Descriptor) []string {
	out := make([]string, len(descs))
	for i, d := range descs {
		out[i] = d.Name
	}
	return out
}

func TestCoreDescriptors(t *testing.T) {
	descs := CoreDescriptors(CoreModules...)
	want := []string{
		"create_transaction", "update_transaction", "delete_transaction", "view_transactions", "view_balance",
		"create_schedule", "update_schedule", "delete_schedule", "view_schedules",
		"create_note", "update_note", "delete_note", "view_notes",
		"confirm", "cancel", "greeting", "help",
	}
	if diff := cmp.Diff(want, names(descs)); diff != "" {
		t.Errorf("core names mismatch (-want +got):\n%s", diff)
	}

	d, ok := Find(descs, "create_transaction")
	require.True(t, ok)
	assert.Equal(t, "finance", d.Source)
	assert.Equal(t, []string{"tx_type", "amount"}, d.RequiredParams())
}

func TestCoreDescriptorsGeneralAlwaysIncluded(t *testing.T) {
	descs := CoreDescriptors(ModuleNotes)
	assert.Equal(t, []string{
		"create_note", "update_note", "delete_note", "view_notes",
		"confirm", "cancel", "greeting", "help",
	}, names(descs))
}

func TestCoreDescriptorsAreCopies(t *testing.T) {
	a := CoreDescriptors(ModuleFinance)
	a[0].Params[0].Name = "mutated"
	b := CoreDescriptors(ModuleFinance)
	assert.Equal(t, "tx_type", b[0].Params[0].Name)
}

func TestCoreModuleOf(t *testing.T) {
	m, ok := CoreModuleOf("delete_schedule")
	require.True(t, ok)
	assert.Equal(t, ModuleSchedule, m)

	_, ok = CoreModuleOf("plugin_mood_checkin")
	assert.False(t, ok)
}

func TestParseParamSpec(t *testing.T) {
	tests := []struct {
		spec string
		want provider.Param
	}{
		{"number", provider.Param{Name: "x", Type: provider.ParamNumber, Required: true}},
		{"number|null", provider.Param{Name: "x", Type: provider.ParamNumber}},
		{"string|null", provider.Param{Name: "x", Type: provider.ParamString}},
		{"integer", provider.Param{Name: "x", Type: provider.ParamInteger, Required: true}},
		{"boolean|null", provider.Param{Name: "x", Type: provider.ParamBoolean}},
		{"string[]|null", provider.Param{Name: "x", Type: provider.ParamArray}},
		{"date", provider.Param{Name: "x", Type: provider.ParamString, Required: true}},
		{`"daily"|"weekly"|null`, provider.Param{Name: "x", Type: provider.ParamString, Enum: []string{"daily", "weekly"}}},
		{"", provider.Param{Name: "x", Type: provider.ParamString, Required: true}},
		{"null", provider.Param{Name: "x", Type: provider.ParamString}},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := ParseParamSpec("x", tt.spec)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseParamSpec(%q) (-want +got):\n%s", tt.spec, diff)
			}
		})
	}
}

func TestParseParamSpecErrors(t *testing.T) {
	for _, spec := range []string{"object", "string|number", `"a"|string`} {
		_, err := ParseParamSpec("x", spec)
		assert.Error(t, err, spec)
	}
}

func moodPlugin() PluginSource {
	return PluginSource{
		Slug: "mood-journal",
		Name: "Mood Journal",
		Intents: []PluginIntent{
			{
				Action:      "checkin",
				Description: "Daily mood check-in",
				Entities:    map[string]string{"period": "string|null", "score": "number"},
				Examples:    []string{"mood check-in hari ini"},
			},
			{
				Action:      "weekly_insight",
				Description: "Weekly mood insight",
			},
		},
	}
}

func TestPluginDescriptors(t *testing.T) {
	descs, err := moodPlugin().Descriptors()
	require.NoError(t, err)
	require.Len(t, descs, 2)

	d := descs[0]
	assert.Equal(t, "plugin_mood_journal_checkin", d.Name)
	assert.Equal(t, "mood-journal", d.Source)
	assert.True(t, d.IsPlugin())
	assert.Contains(t, d.Description, "Mood Journal")
	assert.Contains(t, d.Description, `"mood check-in hari ini"`)

	want := []provider.Param{
		{Name: PluginSlugParam, Type: provider.ParamString, Description: "Plugin that handles this action", Required: true, Enum: []string{"mood-journal"}},
		{Name: "period", Type: provider.ParamString},
		{Name: "score", Type: provider.ParamNumber, Required: true},
	}
	if diff := cmp.Diff(want, d.Params); diff != "" {
		t.Errorf("params (-want +got):\n%s", diff)
	}

	assert.Equal(t, "plugin_mood_journal_weekly_insight", descs[1].Name)
}

func TestPluginNamesAreSanitized(t *testing.T) {
	src := PluginSource{Slug: "cek.cuaca", Intents: []PluginIntent{{Action: "cek cuaca hari ini"}}}
	descs, err := src.Descriptors()
	require.NoError(t, err)
	require.Len(t, descs, 1)
	assert.Equal(t, "plugin_cek_cuaca_cek_cuaca_hari_ini", descs[0].Name)
	assert.True(t, ValidName(descs[0].Name))
	assert.Equal(t, []string{"cek.cuaca"}, descs[0].Params[0].Enum)

	all, err := Build(CoreModules, []PluginSource{src})
	require.NoError(t, err)
	for _, d := range all {
		assert.True(t, ValidName(d.Name), d.Name)
	}
}

func TestPluginNameTooLong(t *testing.T) {
	src := PluginSource{Slug: "p", Intents: []PluginIntent{{Action: strings.Repeat("a", MaxNameLength)}}}
	_, err := src.Descriptors()
	assert.Error(t, err)
}

func TestPluginCannotClaimForeignNamespace(t *testing.T) {
	weather := PluginSource{Slug: "weather", Intents: []PluginIntent{{Action: "plugin_reminder_set"}}}
	descs, err := weather.Descriptors()
	require.NoError(t, err)
	assert.Equal(t, "plugin_weather_plugin_reminder_set", descs[0].Name)

	reminder := PluginSource{Slug: "reminder", Intents: []PluginIntent{{Action: "set"}}}
	all, err := Build(nil, []PluginSource{weather, reminder})
	require.NoError(t, err)
	d, ok := Find(all, "plugin_reminder_set")
	require.True(t, ok)
	assert.Equal(t, "reminder", d.Source)
}

func TestValidName(t *testing.T) {
	assert.True(t, ValidName("create_transaction"))
	assert.True(t, ValidName("plugin_a-b_c"))
	assert.False(t, ValidName(""))
	assert.False(t, ValidName("a.b"))
	assert.False(t, ValidName("a b"))
	assert.False(t, ValidName(strings.Repeat("x", MaxNameLength+1)))
}

func TestBuildRejectsCollision(t *testing.T) {
	dup := PluginSource{Slug: "mood_journal", Intents: []PluginIntent{{Action: "checkin"}}}
	_, err := Build(CoreModules, []PluginSource{moodPlugin(), dup})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCollision))
	assert.True(t, IsCollision(err))
}

func TestBuildMerges(t *testing.T) {
	descs, err := Build([]Module{ModuleFinance}, []PluginSource{moodPlugin()})
	require.NoError(t, err)
	assert.Len(t, descs, 5+4+2)
	assert.Len(t, Tools(descs), len(descs))
}

type fakeLister struct {
	sources []PluginSource
	err     error
	calls   int
}

func (f *fakeLister) ListActiveCapabilitiesForUser(_ context.Context, _ string) ([]PluginSource, error) {
	f.calls++
	return f.sources, f.err
}

func TestRegistryForUser(t *testing.T) {
	bad := PluginSource{Slug: "bad", Intents: []PluginIntent{{Action: "x", Entities: map[string]string{"a": "object"}}}}
	dup := PluginSource{Slug: "mood_journal", Intents: []PluginIntent{{Action: "checkin"}}}
	lister := &fakeLister{sources: []PluginSource{moodPlugin(), bad, dup}}
	r := NewRegistry(nil, lister, nil)

	descs := r.ForUser(context.Background(), "u1")
	assert.Equal(t, 1, lister.calls)
	assert.Len(t, descs, 17+2)

	_, ok := Find(descs, "plugin_bad_x")
	assert.False(t, ok, "invalid plugin must be skipped")
}

func TestRegistryListerFailureKeepsCore(t *testing.T) {
	r := NewRegistry([]Module{ModuleFinance}, &fakeLister{err: errors.New("db down")}, nil)
	descs := r.ForUser(context.Background(), "u1")
	assert.Len(t, descs, 5+4)
}

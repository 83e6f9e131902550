package plugin

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkg "github.com/opentalon/aspri/pkg/plugin"
)

const helperEnv = "ASPRI_PLUGIN_HELPER"

// TestHelperPlugin is not a real test: when the helper variable is set the
// test binary turns into a plugin process serving kursHandler.
func TestHelperPlugin(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		t.Skip("helper process")
	}
	_ = pkg.Serve(&kursHandler{})
	os.Exit(0)
}

func helperEntry(t *testing.T) Entry {
	t.Helper()
	t.Setenv(helperEnv, "1")
	return Entry{
		Slug:    "kurs",
		Process: os.Args[0],
		Args:    []string{"-test.run=^TestHelperPlugin$"},
		Enabled: true,
	}
}

func TestProcessStartAndStop(t *testing.T) {
	e := helperEntry(t)
	proc := NewProcess(nil, e.Process, e.Args...)
	hs, err := proc.Start(defaultHandshakeTimeout)
	require.NoError(t, err)
	assert.Equal(t, "unix", hs.Network)
	assert.True(t, proc.Running())

	client, err := DialFromHandshake(hs, defaultDialTimeout)
	require.NoError(t, err)
	assert.Equal(t, "Kurs", client.Capabilities().Name)
	require.NoError(t, client.Close())

	require.NoError(t, proc.Stop(defaultStopGrace))
	assert.False(t, proc.Running())
	assert.NoError(t, proc.Stop(defaultStopGrace), "stopping twice is a no-op")
}

func TestProcessWithoutHandshake(t *testing.T) {
	proc := NewProcess(nil, "/bin/true")
	_, err := proc.Start(defaultHandshakeTimeout)
	assert.Error(t, err)
}

func TestHostProcessPlugin(t *testing.T) {
	h := NewHost(nil, nil)
	require.NoError(t, h.Load(helperEntry(t)))
	defer h.Close()

	out, err := h.Handle(context.Background(), "u9", "kurs", "track", map[string]any{"currency": "EUR"})
	require.NoError(t, err)
	assert.Equal(t, "Kurs EUR dipantau untuk u9", out.Message)
}

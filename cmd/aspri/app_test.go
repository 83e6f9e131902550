package main

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/opentalon/aspri/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	yml := `
models:
  primary: anthropic/claude-haiku
  providers:
    anthropic:
      base_url: http://127.0.0.1:1
      api_key: test
      api: anthropic-messages
    openai:
      api_key: test
store:
  data_dir: ` + filepath.ToSlash(t.TempDir()) + `
metrics:
  listen: ""
`
	cfg, err := config.Parse([]byte(yml))
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestPrimaryProvider(t *testing.T) {
	cfg := testConfig(t)
	ref, p, err := primaryProvider(cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if p.ID() != "anthropic" {
		t.Errorf("provider = %q, want anthropic", p.ID())
	}
	if ref.Model() != "claude-haiku" {
		t.Errorf("model = %q", ref.Model())
	}
}

func TestBuildAndChat(t *testing.T) {
	cfg := testConfig(t)
	a, err := build(context.Background(), cfg, false, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer a.close()
	if a.storeKind != "sqlite" {
		t.Errorf("storeKind = %q", a.storeKind)
	}

	reply, err := a.chat.Handle(context.Background(), "u1", "t1", "apa kabar?")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(reply.Text, "Maaf") {
		t.Errorf("reply = %q", reply.Text)
	}
}

func TestBuildEphemeral(t *testing.T) {
	cfg := testConfig(t)
	a, err := build(context.Background(), cfg, true, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer a.close()
	if a.memThreads == nil || a.storeKind != "memory" {
		t.Fatalf("ephemeral build = %q", a.storeKind)
	}
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := newLogger(config.LogConfig{Level: "chatty"}); err == nil {
		t.Error("expected error")
	}
	if _, err := newLogger(config.LogConfig{Level: "warn", Development: true}); err != nil {
		t.Errorf("newLogger = %v", err)
	}
}

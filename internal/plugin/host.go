// Package plugin hosts ASPRI plugins. A plugin is either a Lua script run
// in-process or a separate program reached over a socket; either way it
// contributes intents to the capability registry and handles the actions it
// declared.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/opentalon/aspri/internal/capability"
	"github.com/opentalon/aspri/internal/lua"
	pkg "github.com/opentalon/aspri/pkg/plugin"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultDialTimeout      = 5 * time.Second
	defaultStopGrace        = 5 * time.Second
)

var (
	ErrUnknownPlugin = errors.New("plugin: unknown plugin")
	ErrNotActive     = errors.New("plugin: not active for user")
	ErrUnknownAction = errors.New("plugin: unknown action")
)

// Entry is one configured plugin. Exactly one of Script, Process and
// Address is set.
type Entry struct {
	Slug    string `yaml:"slug"`
	Name    string `yaml:"name"`
	Script  string `yaml:"script"`
	Process string `yaml:"process"`
	// Args are passed to Process.
	Args []string `yaml:"args"`
	// Address reaches an already running plugin: unix:///path or tcp://host:port.
	Address string                    `yaml:"address"`
	Enabled bool                      `yaml:"enabled"`
	Intents []capability.PluginIntent `yaml:"intents"`
	// Users limits the plugin to these user ids. Empty means everyone.
	Users []string `yaml:"users"`
}

func (e Entry) activeFor(userID string) bool {
	if len(e.Users) == 0 {
		return true
	}
	for _, u := range e.Users {
		if u == userID {
			return true
		}
	}
	return false
}

// Kind is "lua", "process" or "remote".
func (e Entry) Kind() (string, error) {
	var kinds []string
	if e.Script != "" {
		kinds = append(kinds, "lua")
	}
	if e.Process != "" {
		kinds = append(kinds, "process")
	}
	if e.Address != "" {
		kinds = append(kinds, "remote")
	}
	if len(kinds) != 1 {
		return "", fmt.Errorf("plugin %q: exactly one of script, process or address is required", e.Slug)
	}
	return kinds[0], nil
}

// Outcome is a plugin's answer to one action.
type Outcome struct {
	Success bool
	Message string
	Data    map[string]any
}

// StateStore is the persistent key/value space Lua plugins read and write.
type StateStore interface {
	lua.KV
	Flush(slug string) error
}

type call struct {
	slug     string
	userID   string
	action   string
	entities map[string]any
}

type backend interface {
	handle(ctx context.Context, c call) (Outcome, error)
	close() error
}

type loaded struct {
	entry   Entry
	kind    string
	intents []capability.PluginIntent
	backend backend
}

// resolve maps the namespaced name offered to the model, or the plugin's
// own action name, back to the declared action.
func (l *loaded) resolve(action string) (string, bool) {
	for _, in := range l.intents {
		if in.Action == action || capability.PluginActionName(l.entry.Slug, in.Action) == action {
			return in.Action, true
		}
	}
	return "", false
}

// Host loads plugins and dispatches actions to them.
type Host struct {
	mu      sync.RWMutex
	plugins map[string]*loaded
	state   StateStore
	logger  *zap.Logger
}

func NewHost(state StateStore, logger *zap.Logger) *Host {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Host{
		plugins: make(map[string]*loaded),
		state:   state,
		logger:  logger,
	}
}

// LoadAll loads all enabled plugins.
func (h *Host) LoadAll(entries []Entry) error {
	var errs []string
	for _, e := range entries {
		if !e.Enabled {
			h.logger.Info("plugin-host: disabled, skipping", zap.String("plugin", e.Slug))
			continue
		}
		if err := h.Load(e); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", e.Slug, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to load plugins: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Load validates a single plugin, starts or dials it when it runs out of
// process, and registers it. Out-of-process plugins describe their own
// actions unless the entry lists intents.
func (h *Host) Load(e Entry) error {
	if e.Slug == "" {
		return fmt.Errorf("plugin %q has no slug", e.Name)
	}
	kind, err := e.Kind()
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.plugins[e.Slug]; exists {
		return fmt.Errorf("plugin %q already loaded", e.Slug)
	}

	l := &loaded{entry: e, kind: kind, intents: e.Intents}
	switch kind {
	case "lua":
		if _, err := os.Stat(e.Script); err != nil {
			return fmt.Errorf("script: %w", err)
		}
		l.backend = &luaBackend{script: e.Script, state: h.state, logger: h.logger}
	default:
		rb, err := h.connect(e, kind)
		if err != nil {
			return err
		}
		l.backend = rb
		if len(l.intents) == 0 {
			l.intents = rb.client.Intents()
		}
		if l.entry.Name == "" {
			l.entry.Name = rb.client.Capabilities().Name
		}
	}

	src := capability.PluginSource{Slug: e.Slug, Name: l.entry.Name, Intents: l.intents}
	if _, err := src.Descriptors(); err != nil {
		_ = l.backend.close()
		return err
	}

	h.plugins[e.Slug] = l
	h.logger.Info("plugin-host: loaded",
		zap.String("plugin", e.Slug), zap.String("kind", kind), zap.Int("intents", len(l.intents)))
	return nil
}

func (h *Host) connect(e Entry, kind string) (*remoteBackend, error) {
	if kind == "process" {
		proc := NewProcess(h.logger, e.Process, e.Args...)
		hs, err := proc.Start(defaultHandshakeTimeout)
		if err != nil {
			return nil, fmt.Errorf("start %s: %w", e.Slug, err)
		}
		client, err := DialFromHandshake(hs, defaultDialTimeout)
		if err != nil {
			_ = proc.Stop(defaultStopGrace)
			return nil, fmt.Errorf("dial %s: %w", e.Slug, err)
		}
		return &remoteBackend{client: client, process: proc}, nil
	}

	network, addr, err := pkg.ParseAddress(e.Address)
	if err != nil {
		return nil, err
	}
	client, err := Dial(network, addr, defaultDialTimeout)
	if err != nil {
		return nil, fmt.Errorf("connect remote %s at %s: %w", e.Slug, e.Address, err)
	}
	return &remoteBackend{client: client}, nil
}

// Unload removes a plugin, stopping its process if the host started it.
func (h *Host) Unload(slug string) error {
	h.mu.Lock()
	l, ok := h.plugins[slug]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownPlugin, slug)
	}
	delete(h.plugins, slug)
	h.mu.Unlock()
	return l.backend.close()
}

// Close unloads every plugin.
func (h *Host) Close() {
	for _, slug := range h.List() {
		if err := h.Unload(slug); err != nil {
			h.logger.Warn("plugin-host: unload failed", zap.String("plugin", slug), zap.Error(err))
		}
	}
}

// List returns the slugs of all loaded plugins, sorted.
func (h *Host) List() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.plugins))
	for slug := range h.plugins {
		names = append(names, slug)
	}
	sort.Strings(names)
	return names
}

// ListActiveCapabilitiesForUser returns the plugins userID may use.
func (h *Host) ListActiveCapabilitiesForUser(_ context.Context, userID string) ([]capability.PluginSource, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []capability.PluginSource
	for _, l := range h.plugins {
		if !l.entry.activeFor(userID) {
			continue
		}
		out = append(out, capability.PluginSource{Slug: l.entry.Slug, Name: l.entry.Name, Intents: l.intents})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

// Handle runs action on the plugin. action may be the namespaced name
// offered to the model or the plugin's own action name.
func (h *Host) Handle(ctx context.Context, userID, slug, action string, entities map[string]any) (Outcome, error) {
	h.mu.RLock()
	l, ok := h.plugins[slug]
	h.mu.RUnlock()
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %q", ErrUnknownPlugin, slug)
	}
	if !l.entry.activeFor(userID) {
		return Outcome{}, fmt.Errorf("%w: %q", ErrNotActive, slug)
	}
	bare, ok := l.resolve(action)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %q on %q", ErrUnknownAction, action, slug)
	}

	args := make(map[string]any, len(entities))
	for k, v := range entities {
		if k == capability.PluginSlugParam {
			continue
		}
		args[k] = v
	}

	out, err := l.backend.handle(ctx, call{slug: slug, userID: userID, action: bare, entities: args})
	if err != nil {
		return Outcome{}, fmt.Errorf("plugin %s: %w", slug, err)
	}
	return out, nil
}

type luaBackend struct {
	script string
	state  StateStore
	logger *zap.Logger
}

func (b *luaBackend) handle(ctx context.Context, c call) (Outcome, error) {
	var kv lua.KV
	if b.state != nil {
		kv = b.state
	}
	res, err := lua.RunHandle(ctx, b.script, lua.HandleCall{
		Plugin:   c.slug,
		UserID:   c.userID,
		Action:   c.action,
		Entities: c.entities,
	}, kv)
	if b.state != nil {
		if ferr := b.state.Flush(c.slug); ferr != nil {
			b.logger.Warn("plugin-host: flush state failed", zap.String("plugin", c.slug), zap.Error(ferr))
		}
	}
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Success: res.Success, Message: res.Message, Data: res.Data}, nil
}

func (b *luaBackend) close() error { return nil }

type remoteBackend struct {
	client  *Client
	process *Process
}

func (b *remoteBackend) handle(ctx context.Context, c call) (Outcome, error) {
	resp, err := b.client.ExecuteContext(ctx, pkg.Request{
		Plugin: c.slug,
		UserID: c.userID,
		Action: c.action,
		Args:   c.entities,
	})
	if err != nil {
		return Outcome{}, err
	}
	if resp.Error != "" {
		return Outcome{}, errors.New(resp.Error)
	}
	return Outcome{Success: resp.Success, Message: resp.Message, Data: resp.Data}, nil
}

func (b *remoteBackend) close() error {
	err := b.client.Close()
	if b.process != nil {
		if perr := b.process.Stop(defaultStopGrace); perr != nil {
			err = errors.Join(err, perr)
		}
	}
	return err
}

package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrNoKey is returned by Get and Delete for a key the plugin never set.
var ErrNoKey = errors.New("plugin state: no such key")

// PluginStateStore is the key/value space Lua plugins see as their state
// table. Each plugin slug is a namespace persisted to dir/<slug>/state.yaml,
// loaded on first access and written back by Flush when it changed.
type PluginStateStore struct {
	mu     sync.Mutex
	data   map[string]map[string]string
	loaded map[string]bool
	dirty  map[string]bool
	dir    string
}

func NewPluginStateStore(dir string) *PluginStateStore {
	return &PluginStateStore{
		data:   make(map[string]map[string]string),
		loaded: make(map[string]bool),
		dirty:  make(map[string]bool),
		dir:    dir,
	}
}

// namespace returns the slug's map, loading it from disk once. Caller holds mu.
func (s *PluginStateStore) namespace(slug string) (map[string]string, error) {
	if !s.loaded[slug] {
		ns, err := s.read(slug)
		if err != nil {
			return nil, err
		}
		s.data[slug] = ns
		s.loaded[slug] = true
	}
	return s.data[slug], nil
}

func (s *PluginStateStore) Get(slug, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, err := s.namespace(slug)
	if err != nil {
		return "", err
	}
	val, ok := ns[key]
	if !ok {
		return "", fmt.Errorf("%s/%s: %w", slug, key, ErrNoKey)
	}
	return val, nil
}

func (s *PluginStateStore) Set(slug, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, err := s.namespace(slug)
	if err != nil {
		return err
	}
	if cur, ok := ns[key]; ok && cur == value {
		return nil
	}
	ns[key] = value
	s.dirty[slug] = true
	return nil
}

func (s *PluginStateStore) Delete(slug, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, err := s.namespace(slug)
	if err != nil {
		return err
	}
	if _, ok := ns[key]; !ok {
		return fmt.Errorf("%s/%s: %w", slug, key, ErrNoKey)
	}
	delete(ns, key)
	s.dirty[slug] = true
	return nil
}

// Keys returns the slug's keys in sorted order.
func (s *PluginStateStore) Keys(slug string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, err := s.namespace(slug)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(ns))
	for k := range ns {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Flush writes the slug's namespace if it changed since the last flush.
func (s *PluginStateStore) Flush(slug string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty[slug] || s.dir == "" {
		delete(s.dirty, slug)
		return nil
	}

	pluginDir := filepath.Join(s.dir, slug)
	if err := os.MkdirAll(pluginDir, 0700); err != nil {
		return fmt.Errorf("creating plugin state dir: %w", err)
	}
	data, err := yaml.Marshal(s.data[slug])
	if err != nil {
		return fmt.Errorf("marshaling plugin state: %w", err)
	}
	if err := os.WriteFile(filepath.Join(pluginDir, "state.yaml"), data, 0600); err != nil {
		return fmt.Errorf("writing plugin state: %w", err)
	}
	delete(s.dirty, slug)
	return nil
}

func (s *PluginStateStore) read(slug string) (map[string]string, error) {
	ns := make(map[string]string)
	if s.dir == "" {
		return ns, nil
	}
	data, err := os.ReadFile(filepath.Join(s.dir, slug, "state.yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return ns, nil
		}
		return nil, fmt.Errorf("reading plugin state: %w", err)
	}
	if err := yaml.Unmarshal(data, &ns); err != nil {
		return nil, fmt.Errorf("parsing plugin state: %w", err)
	}
	if ns == nil {
		ns = make(map[string]string)
	}
	return ns, nil
}

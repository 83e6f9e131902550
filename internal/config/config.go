package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/opentalon/aspri/internal/plugin"
	"github.com/opentalon/aspri/internal/provider"
)

const (
	DefaultTTL            = "5m"
	DefaultSweepSchedule  = "@every 1m"
	DefaultHistoryWindow  = 20
	DefaultClassifierTurn = 4
	DefaultRequestTimeout = "120s"
	DefaultTimezone       = "Asia/Jakarta"

	PendingSQL   = "sql"
	PendingRedis = "redis"
)

type Config struct {
	Models  ModelsConfig   `yaml:"models"`
	Store   StoreConfig    `yaml:"store"`
	Pending PendingConfig  `yaml:"pending"`
	Chat    ChatConfig     `yaml:"chat"`
	Plugins []plugin.Entry `yaml:"plugins"`
	Rules   []string       `yaml:"rules"`
	Metrics MetricsConfig  `yaml:"metrics"`
	Log     LogConfig      `yaml:"log"`
}

type ModelsConfig struct {
	Providers map[string]ProviderConfig `yaml:"providers"`
	// Primary is the provider/model pair used for classification and
	// free-text replies.
	Primary string `yaml:"primary"`
	// Fallbacks are tried in order when the primary fails with a
	// rate limit, auth rejection, server error or transport failure.
	Fallbacks []string `yaml:"fallbacks"`
}

type ProviderConfig struct {
	BaseURL string            `yaml:"base_url"`
	APIKey  string            `yaml:"api_key"`
	API     string            `yaml:"api"`
	Models  []ModelDefinition `yaml:"models"`
}

// ModelDefinition describes one model of a provider. Features lists the
// optional API features the model has ("tools", "streaming"); empty means
// both. A model without "tools" is classified through a JSON prompt.
type ModelDefinition struct {
	ID        string   `yaml:"id"`
	MaxTokens int      `yaml:"max_tokens"`
	Features  []string `yaml:"features"`
}

type StoreConfig struct {
	Driver  string `yaml:"driver"`
	DataDir string `yaml:"data_dir"`
	DSN     string `yaml:"dsn"`
}

type PendingConfig struct {
	TTL       string `yaml:"ttl"`
	Backend   string `yaml:"backend"`
	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`
	Sweep     string `yaml:"sweep"`
	// Retention keeps resolved actions readable in Redis; empty uses the
	// store default.
	Retention string `yaml:"retention"`
}

type ChatConfig struct {
	HistoryWindow     int    `yaml:"history_window"`
	ClassifierHistory int    `yaml:"classifier_history"`
	RequestTimeout    string `yaml:"request_timeout"`
	Timezone          string `yaml:"timezone"`
	// Personalize restates templated replies through the model in the
	// user's persona and language. Off by default: it adds a model call.
	Personalize bool `yaml:"personalize"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)}`)

func expandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

func expandEnvInConfig(cfg *Config) {
	for name, p := range cfg.Models.Providers {
		p.BaseURL = expandEnv(p.BaseURL)
		p.APIKey = expandEnv(p.APIKey)
		cfg.Models.Providers[name] = p
	}
	cfg.Store.DataDir = expandEnv(cfg.Store.DataDir)
	cfg.Store.DSN = expandEnv(cfg.Store.DSN)
	cfg.Pending.RedisAddr = expandEnv(cfg.Pending.RedisAddr)
	cfg.Metrics.Listen = expandEnv(cfg.Metrics.Listen)
	for i := range cfg.Plugins {
		cfg.Plugins[i].Script = expandEnv(cfg.Plugins[i].Script)
		cfg.Plugins[i].Process = expandEnv(cfg.Plugins[i].Process)
		cfg.Plugins[i].Address = expandEnv(cfg.Plugins[i].Address)
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "sqlite"
	}
	if cfg.Store.DataDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Store.DataDir = filepath.Join(home, ".aspri")
		} else {
			cfg.Store.DataDir = ".aspri"
		}
	}
	if cfg.Pending.TTL == "" {
		cfg.Pending.TTL = DefaultTTL
	}
	if cfg.Pending.Backend == "" {
		cfg.Pending.Backend = PendingSQL
	}
	if cfg.Pending.Sweep == "" {
		cfg.Pending.Sweep = DefaultSweepSchedule
	}
	if cfg.Chat.HistoryWindow <= 0 {
		cfg.Chat.HistoryWindow = DefaultHistoryWindow
	}
	if cfg.Chat.ClassifierHistory <= 0 {
		cfg.Chat.ClassifierHistory = DefaultClassifierTurn
	}
	if cfg.Chat.RequestTimeout == "" {
		cfg.Chat.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Chat.Timezone == "" {
		cfg.Chat.Timezone = DefaultTimezone
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// LoadEnv reads KEY=VALUE pairs from path into the environment. Variables
// already set win. A missing file is not an error.
func LoadEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

// Load reads the .env file next to path, then parses path.
func Load(path string) (*Config, error) {
	if err := LoadEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	expandEnvInConfig(&cfg)
	applyDefaults(&cfg)
	return &cfg, nil
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error

	ref, err := provider.ParseModelRef(c.Models.Primary)
	switch {
	case c.Models.Primary == "":
		errs = append(errs, errors.New("models.primary is required"))
	case err != nil:
		errs = append(errs, fmt.Errorf("models.primary: %w", err))
	default:
		if _, ok := c.Models.Providers[ref.Provider()]; !ok {
			errs = append(errs, fmt.Errorf("models.primary: unknown provider %q", ref.Provider()))
		}
	}
	for i, f := range c.Models.Fallbacks {
		fref, err := provider.ParseModelRef(f)
		if err != nil {
			errs = append(errs, fmt.Errorf("models.fallbacks[%d]: %w", i, err))
			continue
		}
		if _, ok := c.Models.Providers[fref.Provider()]; !ok {
			errs = append(errs, fmt.Errorf("models.fallbacks[%d]: unknown provider %q", i, fref.Provider()))
		}
	}
	for id, p := range c.Models.Providers {
		switch p.API {
		case "", provider.APIOpenAI, provider.APIAnthropic, provider.APIGemini:
		default:
			errs = append(errs, fmt.Errorf("models.providers.%s: unknown api %q", id, p.API))
		}
		for _, m := range p.Models {
			for _, f := range m.Features {
				if _, err := provider.ParseFeature(f); err != nil {
					errs = append(errs, fmt.Errorf("models.providers.%s.%s: %w", id, m.ID, err))
				}
			}
		}
	}

	switch c.Store.Driver {
	case "sqlite":
	case "postgres":
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver))
	}

	switch c.Pending.Backend {
	case PendingSQL:
	case PendingRedis:
		if c.Pending.RedisAddr == "" {
			errs = append(errs, errors.New("pending.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("pending.backend: unknown backend %q", c.Pending.Backend))
	}
	if _, err := c.Pending.TTLDuration(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Pending.RetentionDuration(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Chat.Timeout(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Chat.Location(); err != nil {
		errs = append(errs, err)
	}

	seen := map[string]bool{}
	for i, p := range c.Plugins {
		switch {
		case p.Slug == "":
			errs = append(errs, fmt.Errorf("plugins[%d]: slug is required", i))
		case seen[p.Slug]:
			errs = append(errs, fmt.Errorf("plugins[%d]: duplicate slug %q", i, p.Slug))
		}
		seen[p.Slug] = true
		if _, err := p.Kind(); err != nil {
			errs = append(errs, fmt.Errorf("plugins[%d]: %w", i, err))
		}
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (p PendingConfig) TTLDuration() (time.Duration, error) {
	return parsePositive("pending.ttl", p.TTL)
}

func (p PendingConfig) RetentionDuration() (time.Duration, error) {
	if p.Retention == "" {
		return 0, nil
	}
	return parsePositive("pending.retention", p.Retention)
}

func (c ChatConfig) Timeout() (time.Duration, error) {
	return parsePositive("chat.request_timeout", c.RequestTimeout)
}

// Location resolves the zone dates are read and shown in.
func (c ChatConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("chat.timezone: %w", err)
	}
	return loc, nil
}

func parsePositive(field, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive, got %s", field, s)
	}
	return d, nil
}

// ProviderConfigs converts the provider section into adapter configs.
func (c *Config) ProviderConfigs() []provider.ProviderConfig {
	out := make([]provider.ProviderConfig, 0, len(c.Models.Providers))
	for id, p := range c.Models.Providers {
		models := make([]provider.ModelInfo, 0, len(p.Models))
		for _, m := range p.Models {
			var feats []provider.Feature
			for _, f := range m.Features {
				if feat, err := provider.ParseFeature(f); err == nil {
					feats = append(feats, feat)
				}
			}
			models = append(models, provider.ModelInfo{
				ID:         m.ID,
				ProviderID: id,
				MaxTokens:  m.MaxTokens,
				Features:   feats,
			})
		}
		out = append(out, provider.ProviderConfig{
			ID:      id,
			BaseURL: p.BaseURL,
			APIKey:  p.APIKey,
			API:     p.API,
			Models:  models,
		})
	}
	return out
}

// ParseLevel accepts debug, info, warn and error.
func ParseLevel(s string) (string, error) {
	switch l := strings.ToLower(strings.TrimSpace(s)); l {
	case "debug", "info", "warn", "error":
		return l, nil
	}
	return "", fmt.Errorf("log.level: unknown level %q", s)
}

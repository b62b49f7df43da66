package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// EnvPrefix scopes environment overrides: SECRETARY_LLM__MODEL sets llm.model.
const EnvPrefix = "SECRETARY_"

// LLM provider names.
const (
	ProviderGemini     = "gemini"
	ProviderOpenAI     = "openai"
	ProviderDeepSeek   = "deepseek"
	ProviderOpenRouter = "openrouter"
)

// providerKeyEnv lists the well-known key variables in selection order.
var providerKeyEnv = []struct{ provider, env string }{
	{ProviderGemini, "GEMINI_API_KEY"},
	{ProviderDeepSeek, "DEEPSEEK_API_KEY"},
	{ProviderOpenAI, "OPENAI_API_KEY"},
	{ProviderOpenRouter, "OPENROUTER_API_KEY"},
}

type TelegramConfig struct {
	Token     string   `koanf:"token" yaml:"token"`
	AllowFrom []string `koanf:"allow_from" yaml:"allow_from"`
	Proxy     string   `koanf:"proxy" yaml:"proxy,omitempty"`
}

type LLMConfig struct {
	Provider    string        `koanf:"provider" yaml:"provider"`
	Model       string        `koanf:"model" yaml:"model"`
	APIKey      string        `koanf:"api_key" yaml:"api_key"`
	APIBase     string        `koanf:"api_base" yaml:"api_base,omitempty"`
	Timeout     time.Duration `koanf:"timeout" yaml:"timeout"`
	Temperature float64       `koanf:"temperature" yaml:"temperature"`
	MaxTokens   int           `koanf:"max_tokens" yaml:"max_tokens"`
}

type SchedulerConfig struct {
	StoreFile    string        `koanf:"store_file" yaml:"store_file"`
	MisfireGrace time.Duration `koanf:"misfire_grace" yaml:"misfire_grace"`
}

type StoreConfig struct {
	Path string `koanf:"path" yaml:"path"`
}

type BriefingConfig struct {
	Enabled bool   `koanf:"enabled" yaml:"enabled"`
	Time    string `koanf:"time" yaml:"time"`
}

type SessionConfig struct {
	MaxHistory int `koanf:"max_history" yaml:"max_history"`
	CacheSize  int `koanf:"cache_size" yaml:"cache_size"`
}

type MetricsConfig struct {
	Listen string `koanf:"listen" yaml:"listen"`
}

type LogConfig struct {
	Debug bool   `koanf:"debug" yaml:"debug"`
	Dir   string `koanf:"dir" yaml:"dir"`
}

type Config struct {
	Workspace string          `koanf:"workspace" yaml:"workspace"`
	Timezone  string          `koanf:"timezone" yaml:"timezone"`
	Telegram  TelegramConfig  `koanf:"telegram" yaml:"telegram"`
	LLM       LLMConfig       `koanf:"llm" yaml:"llm"`
	Scheduler SchedulerConfig `koanf:"scheduler" yaml:"scheduler"`
	Store     StoreConfig     `koanf:"store" yaml:"store"`
	Briefing  BriefingConfig  `koanf:"briefing" yaml:"briefing"`
	Session   SessionConfig   `koanf:"session" yaml:"session"`
	Metrics   MetricsConfig   `koanf:"metrics" yaml:"metrics"`
	Log       LogConfig       `koanf:"log" yaml:"log"`
}

// Defaults returns the default configuration as a koanf map.
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"workspace": ".secretary",
		"timezone":  "Asia/Ho_Chi_Minh",
		"telegram": map[string]interface{}{
			"token":      "",
			"allow_from": []string{},
		},
		"llm": map[string]interface{}{
			"provider":    "",
			"model":       "",
			"api_key":     "",
			"timeout":     "30s",
			"temperature": 0.2,
			"max_tokens":  2048,
		},
		"scheduler": map[string]interface{}{
			"store_file":    "jobs.json",
			"misfire_grace": "60s",
		},
		"store": map[string]interface{}{
			"path": "bot_data.db",
		},
		"briefing": map[string]interface{}{
			"enabled": true,
			"time":    "06:30",
		},
		"session": map[string]interface{}{
			"max_history": 10,
			"cache_size":  256,
		},
		"metrics": map[string]interface{}{
			"listen": "",
		},
		"log": map[string]interface{}{
			"debug": false,
			"dir":   "logs",
		},
	}
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	cfg, err := unmarshal(newKoanf())
	if err != nil {
		panic(fmt.Sprintf("config: bad defaults: %v", err))
	}
	return cfg
}

func newKoanf() *koanf.Koanf {
	k := koanf.New(".")
	// confmap never fails on a static map.
	_ = k.Load(confmap.Provider(Defaults(), "."), nil)
	return k
}

func unmarshal(k *koanf.Koanf) (*Config, error) {
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Load layers defaults, the optional YAML file at path and the environment.
func Load(path string) (*Config, error) {
	k := newKoanf()

	if path != "" {
		path = expandPath(path)
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file: %w", err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if token := os.Getenv("TELEGRAM_TOKEN"); token != "" && k.String("telegram.token") == "" {
		k.Set("telegram.token", token)
	}

	cfg, err := unmarshal(k)
	if err != nil {
		return nil, err
	}
	cfg.resolveProvider(os.Getenv)
	cfg.Workspace = expandPath(cfg.Workspace)
	return cfg, nil
}

// resolveProvider fills llm.provider and llm.api_key from the well-known
// key variables when the config leaves them empty.
func (c *Config) resolveProvider(getenv func(string) string) {
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if c.LLM.APIKey != "" {
		if c.LLM.Provider == "" {
			c.LLM.Provider = ProviderGemini
		}
		return
	}
	for _, p := range providerKeyEnv {
		if c.LLM.Provider != "" && c.LLM.Provider != p.provider {
			continue
		}
		if key := getenv(p.env); key != "" {
			c.LLM.Provider = p.provider
			c.LLM.APIKey = key
			return
		}
	}
}

// Validate reports missing credentials and out-of-range values.
func (c *Config) Validate() error {
	var errs []error
	if c.Telegram.Token == "" {
		errs = append(errs, errors.New("telegram token is required (set TELEGRAM_TOKEN or telegram.token)"))
	}
	if c.LLM.APIKey == "" {
		errs = append(errs, errors.New("LLM API key is required (set GEMINI_API_KEY, OPENAI_API_KEY, DEEPSEEK_API_KEY or llm.api_key)"))
	}
	switch c.LLM.Provider {
	case "", ProviderGemini, ProviderOpenAI, ProviderDeepSeek, ProviderOpenRouter:
	default:
		errs = append(errs, fmt.Errorf("unknown llm provider: %s", c.LLM.Provider))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if c.LLM.Timeout <= 0 {
		errs = append(errs, errors.New("llm.timeout must be positive"))
	}
	if c.Scheduler.MisfireGrace < 0 {
		errs = append(errs, errors.New("scheduler.misfire_grace must not be negative"))
	}
	if _, err := time.Parse("15:04", c.Briefing.Time); c.Briefing.Enabled && err != nil {
		errs = append(errs, fmt.Errorf("briefing.time %q is not HH:MM", c.Briefing.Time))
	}
	if c.Session.MaxHistory < 0 || c.Session.CacheSize <= 0 {
		errs = append(errs, errors.New("session.max_history must be >= 0 and session.cache_size > 0"))
	}
	return errors.Join(errs...)
}

// Location loads the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// ResolvePath anchors a relative path in the workspace.
func (c *Config) ResolvePath(p string) string {
	p = expandPath(p)
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Workspace, p)
}

// WriteFile writes c as YAML to path, creating parent directories.
func (c *Config) WriteFile(path string) error {
	data, err := yamlv3.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	path = expandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

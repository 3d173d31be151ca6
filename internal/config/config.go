package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// LogConfig configures the zap logger and its rotated file sink.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// StoreConfig selects the job store backend.
type StoreConfig struct {
	Type           string `yaml:"type"`
	Path           string `yaml:"path"`
	DatabaseURLEnv string `yaml:"database_url_env"`
}

// StateConfig selects where cursors, checkpoints and the session cache live.
type StateConfig struct {
	Type        string `yaml:"type"`
	Dir         string `yaml:"dir"`
	RedisURLEnv string `yaml:"redis_url_env"`
	KeyPrefix   string `yaml:"key_prefix"`
}

// SessionConfig configures how the cookie/token pair is obtained.
type SessionConfig struct {
	Source              string   `yaml:"source"`
	CookieEnv           string   `yaml:"cookie_env"`
	TokenEnv            string   `yaml:"token_env"`
	Command             []string `yaml:"command,omitempty"`
	BootstrapURL        string   `yaml:"bootstrap_url"`
	AuthFailureStatuses []int    `yaml:"auth_failure_statuses"`
}

// FetchConfig holds the listing API endpoint and the search criteria.
type FetchConfig struct {
	BaseURL      string     `yaml:"base_url"`
	PageSize     int        `yaml:"page_size"`
	MaxPages     int        `yaml:"max_pages"`
	MaxAttempts  int        `yaml:"max_attempts"`
	TimeoutSecs  int        `yaml:"timeout_secs"`
	PageDelayMS  int        `yaml:"page_delay_ms"`
	FetchDetails bool       `yaml:"fetch_details"`
	ExcludeTerms []string   `yaml:"exclude_terms,omitempty"`
	Keywords     []string   `yaml:"keywords"`
	Period       string     `yaml:"publication_period"`
	Occupations  []string   `yaml:"occupations,omitempty"`
	Schedules    []string   `yaml:"schedules,omitempty"`
	Sectors      []string   `yaml:"sectors,omitempty"`
	Offerings    []string   `yaml:"offerings,omitempty"`
	Locations    []string   `yaml:"locations,omitempty"`
	Languages    []Language `yaml:"languages,omitempty"`
}

type Language struct {
	ISOCode string `yaml:"iso_code"`
	Level   string `yaml:"level"`
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type      string                `yaml:"type"`
	Dimension int                   `yaml:"dimension"`
	OpenAI    *OpenAIEmbedderConfig `yaml:"openai,omitempty"`
}

type VectorizeConfig struct {
	Workers int `yaml:"workers"`
	Limit   int `yaml:"limit"`
}

type RankConfig struct {
	PageSize         int `yaml:"page_size"`
	CacheTTLSecs     int `yaml:"cache_ttl_secs"`
	SummarySentences int `yaml:"summary_sentences"`
}

type ScheduleConfig struct {
	Spec string `yaml:"spec"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Log       LogConfig       `yaml:"log"`
	Store     StoreConfig     `yaml:"store"`
	State     StateConfig     `yaml:"state"`
	Session   SessionConfig   `yaml:"session"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Vectorize VectorizeConfig `yaml:"vectorize"`
	Rank      RankConfig      `yaml:"rank"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyConfigDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/eures-rank/config.yaml.
// If neither exists, it writes defaults to ~/.config/eures-rank/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate rejects backend names nothing can be built from.
func (c *AppConfig) Validate() error {
	switch c.Store.Type {
	case "bolt", "memory", "postgres":
	default:
		return fmt.Errorf("unknown store type %q", c.Store.Type)
	}
	switch c.State.Type {
	case "file", "redis":
	default:
		return fmt.Errorf("unknown state type %q", c.State.Type)
	}
	switch c.Session.Source {
	case "static", "command", "bootstrap":
	default:
		return fmt.Errorf("unknown session source %q", c.Session.Source)
	}
	if c.Session.Source == "command" && len(c.Session.Command) == 0 {
		return errors.New("session source command needs session.command")
	}
	switch c.Embedder.Type {
	case "hashing", "openai":
	default:
		return fmt.Errorf("unknown embedder %q", c.Embedder.Type)
	}
	return nil
}

// FetchTimeout is the per-request timeout of the listing API client.
func (c *AppConfig) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSecs) * time.Second
}

// PageDelay is the pause between consecutive listing pages. A negative
// page_delay_ms disables it.
func (c *AppConfig) PageDelay() time.Duration {
	return time.Duration(max(c.Fetch.PageDelayMS, 0)) * time.Millisecond
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "eures-rank", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Fetch: FetchConfig{
			Keywords: []string{"software engineer"},
			Period:   "LAST_WEEK",
		},
		Embedder: EmbedderConfig{Type: "hashing"},
	}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 10
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = 3
	}
	if cfg.Log.MaxAgeDays == 0 {
		cfg.Log.MaxAgeDays = 28
	}

	if cfg.Store.Type == "" {
		cfg.Store.Type = "bolt"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "jobs.db"
	}
	if cfg.Store.DatabaseURLEnv == "" {
		cfg.Store.DatabaseURLEnv = "DATABASE_URL"
	}

	if cfg.State.Type == "" {
		cfg.State.Type = "file"
	}
	if cfg.State.Dir == "" {
		cfg.State.Dir = "state"
	}
	if cfg.State.RedisURLEnv == "" {
		cfg.State.RedisURLEnv = "REDIS_URL"
	}
	if cfg.State.KeyPrefix == "" {
		cfg.State.KeyPrefix = "eures-rank:"
	}

	if cfg.Session.Source == "" {
		cfg.Session.Source = "static"
	}
	if cfg.Session.CookieEnv == "" {
		cfg.Session.CookieEnv = "EURES_COOKIE"
	}
	if cfg.Session.TokenEnv == "" {
		cfg.Session.TokenEnv = "EURES_XSRF_TOKEN"
	}
	if cfg.Session.BootstrapURL == "" {
		cfg.Session.BootstrapURL = "https://europa.eu/eures/portal/jv-se/search"
	}
	if len(cfg.Session.AuthFailureStatuses) == 0 {
		cfg.Session.AuthFailureStatuses = []int{401, 403}
	}

	if cfg.Fetch.BaseURL == "" {
		cfg.Fetch.BaseURL = "https://europa.eu/eures/eures-apps/searchengine"
	}
	if cfg.Fetch.PageSize == 0 {
		cfg.Fetch.PageSize = 50
	}
	if cfg.Fetch.MaxAttempts == 0 {
		cfg.Fetch.MaxAttempts = 3
	}
	if cfg.Fetch.TimeoutSecs == 0 {
		cfg.Fetch.TimeoutSecs = 30
	}
	if cfg.Fetch.PageDelayMS == 0 {
		cfg.Fetch.PageDelayMS = 1000
	}
	if cfg.Fetch.Period == "" {
		cfg.Fetch.Period = "LAST_WEEK"
	}

	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "hashing"
	}
	if cfg.Embedder.Type == "hashing" && cfg.Embedder.Dimension == 0 {
		cfg.Embedder.Dimension = 512
	}
	if cfg.Embedder.Type == "openai" {
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		if cfg.Embedder.OpenAI.BaseURL == "" {
			cfg.Embedder.OpenAI.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Embedder.OpenAI.APIKeyEnv == "" {
			cfg.Embedder.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
		}
		if cfg.Embedder.OpenAI.Model == "" {
			cfg.Embedder.OpenAI.Model = "text-embedding-3-small"
		}
		if cfg.Embedder.OpenAI.TimeoutSecs == 0 {
			cfg.Embedder.OpenAI.TimeoutSecs = 30
		}
		if cfg.Embedder.OpenAI.MaxRetries == 0 {
			cfg.Embedder.OpenAI.MaxRetries = 5
		}
	}

	if cfg.Vectorize.Workers == 0 {
		cfg.Vectorize.Workers = 1
	}
	if cfg.Rank.PageSize == 0 {
		cfg.Rank.PageSize = 10
	}
	if cfg.Rank.CacheTTLSecs == 0 {
		cfg.Rank.CacheTTLSecs = 600
	}
	if cfg.Rank.SummarySentences == 0 {
		cfg.Rank.SummarySentences = 1
	}
	if cfg.Schedule.Spec == "" {
		cfg.Schedule.Spec = "@every 6h"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
}

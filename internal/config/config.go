// Package config loads the mehrguard service configuration from YAML.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mehrguard/mehrguard/internal/engine"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Engine      EngineConfig      `yaml:"engine"`
	Tables      TablesConfig      `yaml:"tables"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Health      HealthConfig      `yaml:"health"`
	Development DevelopmentConfig `yaml:"development"`
}

type ServerConfig struct {
	HTTP ServerHTTPConfig `yaml:"http"`
	TLS  ServerTLSConfig  `yaml:"tls"`

	// MaxBatchSize caps the URLs accepted by one batch request.
	MaxBatchSize int `yaml:"max_batch_size"`
	// Workers bounds batch fan-out; 0 means GOMAXPROCS.
	Workers int `yaml:"workers"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig meters analyses per client address. A batch costs one
// token per URL.
type RateLimitConfig struct {
	Enabled   bool    `yaml:"enabled"`
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

type ServerHTTPConfig struct {
	Addr string `yaml:"addr"`

	ReadTimeout    string `yaml:"read_timeout"`
	WriteTimeout   string `yaml:"write_timeout"`
	MaxRequestSize string `yaml:"max_request_size"`
}

type ServerTLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// EngineConfig selects the scoring configuration. File, when set, is an
// engine JSON document and takes precedence over Preset; the rule lists and
// Counterfactuals then adjust whichever was chosen.
type EngineConfig struct {
	Preset             string   `yaml:"preset"`
	File               string   `yaml:"file"`
	DisabledRuleGroups []string `yaml:"disabled_rule_groups"`
	DisabledRules      []string `yaml:"disabled_rules"`
	Counterfactuals    *bool    `yaml:"counterfactuals"`
}

// TablesConfig controls where detection tables come from and how they are
// refreshed.
type TablesConfig struct {
	// ManifestPath is a manifest applied at startup and, with Watch, on
	// every change.
	ManifestPath string        `yaml:"manifest_path"`
	Watch        bool          `yaml:"watch"`
	Debounce     time.Duration `yaml:"debounce"`

	// DBPath records accepted manifests so restarts keep the newest one.
	DBPath      string `yaml:"db_path"`
	HistoryKeep int    `yaml:"history_keep"`

	Update TablesUpdateConfig `yaml:"update"`
}

type TablesUpdateConfig struct {
	Enabled        bool          `yaml:"enabled"`
	URL            string        `yaml:"url"`
	Interval       time.Duration `yaml:"interval"`
	Timeout        time.Duration `yaml:"timeout"`
	AllowDowngrade bool          `yaml:"allow_downgrade"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type HealthConfig struct {
	Path          string `yaml:"path"`
	ReadinessPath string `yaml:"readiness_path"`
}

type DevelopmentConfig struct {
	PProf DevelopmentPProfConfig `yaml:"pprof"`
}

type DevelopmentPProfConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	resolvePaths(&cfg, filepath.Dir(path))
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromBytes loads configuration from bytes without applying environment
// overrides. This is intended for testing where env vars should not interfere.
func LoadFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given. Environment
// overrides apply.
func Default() (*Config, error) {
	var cfg Config
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.HTTP.Addr == "" {
		cfg.Server.HTTP.Addr = "127.0.0.1:8080"
	}
	if cfg.Server.HTTP.ReadTimeout == "" {
		cfg.Server.HTTP.ReadTimeout = "30s"
	}
	if cfg.Server.HTTP.WriteTimeout == "" {
		cfg.Server.HTTP.WriteTimeout = "1m"
	}
	if cfg.Server.HTTP.MaxRequestSize == "" {
		cfg.Server.HTTP.MaxRequestSize = "1MB"
	}
	if cfg.Server.MaxBatchSize <= 0 {
		cfg.Server.MaxBatchSize = 1000
	}
	if cfg.Server.RateLimit.PerSecond == 0 {
		cfg.Server.RateLimit.PerSecond = 50
	}
	if cfg.Server.RateLimit.Burst == 0 {
		cfg.Server.RateLimit.Burst = 200
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stderr"
	}

	if cfg.Engine.Preset == "" {
		cfg.Engine.Preset = "default"
	}

	if cfg.Tables.Debounce <= 0 {
		cfg.Tables.Debounce = 250 * time.Millisecond
	}
	if cfg.Tables.HistoryKeep <= 0 {
		cfg.Tables.HistoryKeep = 20
	}
	if cfg.Tables.Update.Interval <= 0 {
		cfg.Tables.Update.Interval = 6 * time.Hour
	}
	if cfg.Tables.Update.Timeout <= 0 {
		cfg.Tables.Update.Timeout = 30 * time.Second
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Health.Path == "" {
		cfg.Health.Path = "/health"
	}
	if cfg.Health.ReadinessPath == "" {
		cfg.Health.ReadinessPath = "/ready"
	}
	if cfg.Development.PProf.Addr == "" {
		cfg.Development.PProf.Addr = "localhost:6060"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MEHRGUARD_HTTP_ADDR"); v != "" {
		cfg.Server.HTTP.Addr = v
	}
	if v := os.Getenv("MEHRGUARD_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MEHRGUARD_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("MEHRGUARD_PRESET"); v != "" {
		cfg.Engine.Preset = v
	}
	if v := os.Getenv("MEHRGUARD_MANIFEST"); v != "" {
		cfg.Tables.ManifestPath = v
	}
	if v := os.Getenv("MEHRGUARD_UPDATE_URL"); v != "" {
		cfg.Tables.Update.URL = v
		cfg.Tables.Update.Enabled = true
	}
	if v := os.Getenv("MEHRGUARD_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Workers = n
		}
	}
	if v := os.Getenv("MEHRGUARD_DATA_DIR"); v != "" {
		cfg.Tables.DBPath = filepath.Join(v, "tables.db")
	}
}

// resolvePaths makes relative file references relative to the config file.
func resolvePaths(cfg *Config, base string) {
	for _, p := range []*string{&cfg.Engine.File, &cfg.Tables.ManifestPath, &cfg.Tables.DBPath} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
}

func validateConfig(cfg *Config) error {
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid logging.level %q", cfg.Logging.Level)
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid logging.format %q", cfg.Logging.Format)
	}
	if _, err := time.ParseDuration(cfg.Server.HTTP.ReadTimeout); err != nil {
		return fmt.Errorf("parse server.http.read_timeout: %w", err)
	}
	if _, err := time.ParseDuration(cfg.Server.HTTP.WriteTimeout); err != nil {
		return fmt.Errorf("parse server.http.write_timeout: %w", err)
	}
	if _, err := ParseByteSize(cfg.Server.HTTP.MaxRequestSize); err != nil {
		return fmt.Errorf("parse server.http.max_request_size: %w", err)
	}
	if cfg.Server.Workers < 0 {
		return fmt.Errorf("server.workers must be >= 0")
	}
	if rl := cfg.Server.RateLimit; rl.Enabled && (rl.PerSecond <= 0 || rl.Burst < 1) {
		return fmt.Errorf("server.rate_limit needs per_second > 0 and burst >= 1")
	}
	if cfg.Server.TLS.Enabled && (cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "") {
		return fmt.Errorf("server.tls enabled but cert_file/key_file missing")
	}
	if cfg.Engine.File == "" {
		if _, err := cfg.Engine.Build(); err != nil {
			return err
		}
	}
	if cfg.Tables.Watch && cfg.Tables.ManifestPath == "" {
		return fmt.Errorf("tables.watch requires tables.manifest_path")
	}
	if cfg.Tables.Update.Enabled {
		u, err := url.Parse(cfg.Tables.Update.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid tables.update.url %q", cfg.Tables.Update.URL)
		}
	}
	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}
	return nil
}

// Build returns the engine configuration this section describes. A File is
// read from disk, so Build can fail after Load succeeded if it changes.
func (c EngineConfig) Build() (*engine.Config, error) {
	var p engine.Params
	if c.File != "" {
		data, err := os.ReadFile(c.File)
		if err != nil {
			return nil, fmt.Errorf("read engine config: %w", err)
		}
		base, err := engine.ParseConfigJSON(data)
		if err != nil {
			return nil, err
		}
		p = base.Params()
	} else {
		base, err := engine.Preset(strings.ToLower(strings.TrimSpace(c.Preset)))
		if err != nil {
			return nil, err
		}
		p = base.Params()
	}
	p.DisabledRuleGroups = append(p.DisabledRuleGroups, c.DisabledRuleGroups...)
	p.DisabledRules = append(p.DisabledRules, c.DisabledRules...)
	if c.Counterfactuals != nil {
		p.EnableCounterfactuals = *c.Counterfactuals
	}
	return engine.NewConfig(p)
}

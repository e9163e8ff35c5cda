package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_ParsesAllSections(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(cfgPath, []byte(`
server:
  http:
    addr: "127.0.0.1:9999"
    read_timeout: 10s
    write_timeout: 2m
    max_request_size: 2MiB
  max_batch_size: 50
  workers: 4
logging:
  level: debug
  format: json
engine:
  preset: strict
  disabled_rule_groups: [obfuscation]
  disabled_rules: ["transport.http"]
  counterfactuals: false
tables:
  manifest_path: tables/manifest.json
  watch: true
  debounce: 50ms
  db_path: data/tables.db
  update:
    enabled: true
    url: https://updates.example.com/manifest.json
    interval: 30m
metrics:
  enabled: true
`), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.HTTP.Addr != "127.0.0.1:9999" {
		t.Fatalf("addr: got %q", cfg.Server.HTTP.Addr)
	}
	if cfg.Server.MaxBatchSize != 50 || cfg.Server.Workers != 4 {
		t.Fatalf("batch settings: got %d/%d", cfg.Server.MaxBatchSize, cfg.Server.Workers)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("logging.format: got %q", cfg.Logging.Format)
	}
	if cfg.Tables.Debounce != 50*time.Millisecond {
		t.Fatalf("debounce: got %v", cfg.Tables.Debounce)
	}
	if cfg.Tables.Update.Interval != 30*time.Minute {
		t.Fatalf("update interval: got %v", cfg.Tables.Update.Interval)
	}
	if want := filepath.Join(dir, "tables", "manifest.json"); cfg.Tables.ManifestPath != want {
		t.Fatalf("manifest_path: expected %q, got %q", want, cfg.Tables.ManifestPath)
	}
	if want := filepath.Join(dir, "data", "tables.db"); cfg.Tables.DBPath != want {
		t.Fatalf("db_path: expected %q, got %q", want, cfg.Tables.DBPath)
	}

	ec, err := cfg.Engine.Build()
	if err != nil {
		t.Fatal(err)
	}
	if ec.SuspiciousThreshold() != 45 {
		t.Fatalf("strict preset not applied: suspicious threshold %d", ec.SuspiciousThreshold())
	}
	if ec.CounterfactualsEnabled() {
		t.Fatal("counterfactuals should be overridden off")
	}
	for _, id := range ec.EnabledRules() {
		if id == "transport.http" || strings.HasPrefix(id, "obfuscation.") {
			t.Fatalf("rule %s should be disabled", id)
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.HTTP.Addr != "127.0.0.1:8080" {
		t.Errorf("default addr: got %q", cfg.Server.HTTP.Addr)
	}
	if cfg.Server.HTTP.MaxRequestSize != "1MB" {
		t.Errorf("default max_request_size: got %q", cfg.Server.HTTP.MaxRequestSize)
	}
	if cfg.Server.MaxBatchSize != 1000 {
		t.Errorf("default max_batch_size: got %d", cfg.Server.MaxBatchSize)
	}
	if cfg.Engine.Preset != "default" {
		t.Errorf("default preset: got %q", cfg.Engine.Preset)
	}
	if cfg.Tables.Update.Interval != 6*time.Hour {
		t.Errorf("default update interval: got %v", cfg.Tables.Update.Interval)
	}
	if rl := cfg.Server.RateLimit; rl.Enabled || rl.PerSecond != 50 || rl.Burst != 200 {
		t.Errorf("default rate_limit: %+v", rl)
	}
	if cfg.Tables.HistoryKeep != 20 {
		t.Errorf("default history_keep: got %d", cfg.Tables.HistoryKeep)
	}
	if cfg.Metrics.Path != "/metrics" || cfg.Health.Path != "/health" || cfg.Health.ReadinessPath != "/ready" {
		t.Errorf("default paths: %q %q %q", cfg.Metrics.Path, cfg.Health.Path, cfg.Health.ReadinessPath)
	}
}

func TestLoad_DefaultsNotOverridden(t *testing.T) {
	cfg := &Config{}
	cfg.Tables.Update.Interval = time.Hour
	cfg.Logging.Level = "warn"
	applyDefaults(cfg)
	if cfg.Tables.Update.Interval != time.Hour {
		t.Errorf("expected interval to be kept, got %v", cfg.Tables.Update.Interval)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected level to be kept, got %q", cfg.Logging.Level)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(cfgPath, []byte("server:\n  http:\n    addr: 127.0.0.1:1111\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MEHRGUARD_HTTP_ADDR", "127.0.0.1:2222")
	t.Setenv("MEHRGUARD_LOG_LEVEL", "debug")
	t.Setenv("MEHRGUARD_PRESET", "lenient")
	t.Setenv("MEHRGUARD_UPDATE_URL", "https://example.com/m.json")
	t.Setenv("MEHRGUARD_WORKERS", "3")
	t.Setenv("MEHRGUARD_DATA_DIR", filepath.Join(dir, "data"))

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.HTTP.Addr != "127.0.0.1:2222" {
		t.Errorf("addr override: got %q", cfg.Server.HTTP.Addr)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level override: got %q", cfg.Logging.Level)
	}
	if cfg.Engine.Preset != "lenient" {
		t.Errorf("preset override: got %q", cfg.Engine.Preset)
	}
	if !cfg.Tables.Update.Enabled || cfg.Tables.Update.URL != "https://example.com/m.json" {
		t.Errorf("update override: %+v", cfg.Tables.Update)
	}
	if cfg.Server.Workers != 3 {
		t.Errorf("workers override: got %d", cfg.Server.Workers)
	}
	if want := filepath.Join(dir, "data", "tables.db"); cfg.Tables.DBPath != want {
		t.Errorf("data dir override: expected %q, got %q", want, cfg.Tables.DBPath)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"log level":      "logging:\n  level: loud\n",
		"log format":     "logging:\n  format: xml\n",
		"read timeout":   "server:\n  http:\n    read_timeout: soon\n",
		"request size":   "server:\n  http:\n    max_request_size: huge\n",
		"workers":        "server:\n  workers: -1\n",
		"tls":            "server:\n  tls:\n    enabled: true\n",
		"preset":         "engine:\n  preset: paranoid\n",
		"rule group":     "engine:\n  disabled_rule_groups: [nope]\n",
		"watch":          "tables:\n  watch: true\n",
		"update url":     "tables:\n  update:\n    enabled: true\n    url: ftp://example.com/m.json\n",
		"metrics path":   "metrics:\n  path: metrics\n",
		"rate limit":     "server:\n  rate_limit:\n    enabled: true\n    per_second: -1\n",
		"malformed yaml": "server: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadFromBytes([]byte(doc)); err == nil {
				t.Fatalf("expected error for %s", name)
			}
		})
	}
}

func TestEngineConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.json")
	if err := os.WriteFile(path, []byte(`{"safeThreshold": 5, "suspiciousThreshold": 30, "enableMl": false}`), 0o600); err != nil {
		t.Fatal(err)
	}
	on := true
	ec, err := EngineConfig{Preset: "lenient", File: path, Counterfactuals: &on}.Build()
	if err != nil {
		t.Fatal(err)
	}
	if ec.SafeThreshold() != 5 || ec.SuspiciousThreshold() != 30 {
		t.Fatalf("file thresholds not applied: %d/%d", ec.SafeThreshold(), ec.SuspiciousThreshold())
	}
	if ec.MLEnabled() || !ec.CounterfactualsEnabled() {
		t.Fatalf("flags not applied: ml=%v cf=%v", ec.MLEnabled(), ec.CounterfactualsEnabled())
	}

	if _, err := (EngineConfig{File: filepath.Join(dir, "missing.json")}).Build(); err == nil {
		t.Fatal("expected error for missing engine file")
	}
}

func TestParseByteSize(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"123", 123},
		{"64B", 64},
		{"1KB", 1000},
		{"2MB", 2_000_000},
		{"3GB", 3_000_000_000},
		{"1KiB", 1024},
		{"2mib", 2 * 1024 * 1024},
		{"500_000", 500_000},
	}
	for _, tc := range cases {
		got, err := ParseByteSize(tc.in)
		if err != nil {
			t.Fatalf("ParseByteSize(%q) error: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseByteSize(%q)=%d, want %d", tc.in, got, tc.want)
		}
	}
	for _, bad := range []string{"", "nope", "MB", "-1KB", "99999999999GB"} {
		if _, err := ParseByteSize(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
provider:
  account_id: "001-001-1234567-001"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Provider.BackoffBaseSeconds != 5 {
		t.Errorf("backoff base = %d, want 5", cfg.Provider.BackoffBaseSeconds)
	}
	if cfg.Provider.MaxRetries != 10 {
		t.Errorf("max retries = %d, want 10", cfg.Provider.MaxRetries)
	}
	if cfg.Monitoring.CheckIntervalSeconds != 300 {
		t.Errorf("check interval = %d, want 300", cfg.Monitoring.CheckIntervalSeconds)
	}
	if cfg.Email.Port != 587 {
		t.Errorf("email port = %d, want 587", cfg.Email.Port)
	}
	if cfg.History.FilePath == "" {
		t.Error("history file path default missing")
	}
	if cfg.Metrics.Addr == "" {
		t.Error("metrics addr default missing")
	}
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
provider:
  stream_url: "http://localhost:8091"
  rest_url: "http://localhost:8091"
  account_id: "stub"
  streaming: true
  backoff_base_seconds: 2
  max_retries: 4
rules:
  - id: "eurusd-above-110"
    symbol: "EURUSD"
    kind: "fixed_price"
    target_price: 1.1000
    direction: "above"
    enabled: true
monitoring:
  enabled: true
  symbols: ["EURUSD", "GBPJPY"]
  time_frames: ["M5", "H1"]
  periods: [50, 200]
  check_interval_seconds: 60
telegram:
  enabled: true
  chat_id: 123456
email:
  enabled: true
  host: "smtp.example.com"
  from: "alerts@example.com"
  to: "me@example.com"
  accept_fallback: true
  always_copy: false
history:
  file_path: "data/history.jsonl"
  postgres:
    enabled: true
metrics:
  enabled: true
  addr: "localhost:9100"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if !cfg.Provider.Streaming {
		t.Error("streaming not set")
	}
	if cfg.Provider.BackoffBaseSeconds != 2 {
		t.Errorf("backoff base = %d, want 2", cfg.Provider.BackoffBaseSeconds)
	}
	if len(cfg.Rules) != 1 || cfg.Rules[0].Symbol != "EURUSD" {
		t.Errorf("rules = %+v", cfg.Rules)
	}
	if cfg.Rules[0].Direction != "above" || cfg.Rules[0].TargetPrice != 1.1000 {
		t.Errorf("rule fields = %+v", cfg.Rules[0])
	}
	if len(cfg.Monitoring.Periods) != 2 || cfg.Monitoring.Periods[1] != 200 {
		t.Errorf("monitoring periods = %v", cfg.Monitoring.Periods)
	}
	if cfg.Telegram.ChatID != 123456 {
		t.Errorf("chat id = %d", cfg.Telegram.ChatID)
	}
	if !cfg.History.Postgres.Enabled {
		t.Error("postgres not enabled")
	}
	if cfg.Metrics.Addr != "localhost:9100" {
		t.Errorf("metrics addr = %q", cfg.Metrics.Addr)
	}
}

func TestWarnings_FlagsInertRuleKinds(t *testing.T) {
	path := writeConfig(t, `
rules:
  - id: "ok"
    symbol: "EURUSD"
    kind: "fixed_price"
    target_price: 1.1
    direction: "above"
    enabled: true
  - id: "inert-ema"
    symbol: "EURUSD"
    kind: "ema"
    period: 50
    enabled: true
  - id: "typo"
    symbol: "EURUSD"
    kind: "fixedprice"
    enabled: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	warnings := cfg.Warnings()
	if len(warnings) != 2 {
		t.Fatalf("warnings = %v, want 2 entries", warnings)
	}
	if !strings.Contains(warnings[0], "inert-ema") || !strings.Contains(warnings[0], "monitoring") {
		t.Errorf("ema warning = %q", warnings[0])
	}
	if !strings.Contains(warnings[1], "typo") || !strings.Contains(warnings[1], "unknown kind") {
		t.Errorf("unknown-kind warning = %q", warnings[1])
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

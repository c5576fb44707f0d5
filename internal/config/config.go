package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Provider struct {
	StreamURL          string `yaml:"stream_url"`
	RestURL            string `yaml:"rest_url"`
	AccountID          string `yaml:"account_id"`
	TokenEnv           string `yaml:"token_env"` // env var holding the API token
	Streaming          bool   `yaml:"streaming"`
	BackoffBaseSeconds int    `yaml:"backoff_base_seconds"`
	MaxRetries         int    `yaml:"max_retries"`
	PollIntervalSecs   int    `yaml:"poll_interval_seconds"`
	RateLimitPerSecond int    `yaml:"rate_limit_per_second"`
	TimeoutSeconds     int    `yaml:"timeout_seconds"`
}

type Rule struct {
	ID          string  `yaml:"id"`
	Symbol      string  `yaml:"symbol"`
	Kind        string  `yaml:"kind"` // fixed_price | ema | ma
	TargetPrice float64 `yaml:"target_price"`
	Period      int     `yaml:"period"`
	Direction   string  `yaml:"direction"` // above | below
	TimeFrame   string  `yaml:"time_frame"`
	Enabled     bool    `yaml:"enabled"`
}

type Monitoring struct {
	Enabled              bool     `yaml:"enabled"`
	Symbols              []string `yaml:"symbols"`
	TimeFrames           []string `yaml:"time_frames"`
	Periods              []int    `yaml:"periods"`
	CheckIntervalSeconds int      `yaml:"check_interval_seconds"`
}

type Telegram struct {
	Enabled  bool   `yaml:"enabled"`
	TokenEnv string `yaml:"token_env"`
	ChatID   int64  `yaml:"chat_id"`
}

type Email struct {
	Enabled        bool   `yaml:"enabled"`
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	From           string `yaml:"from"`
	To             string `yaml:"to"`
	PasswordEnv    string `yaml:"password_env"`
	AcceptFallback bool   `yaml:"accept_fallback"`
	AlwaysCopy     bool   `yaml:"always_copy"`
}

type Postgres struct {
	Enabled bool   `yaml:"enabled"`
	DSNEnv  string `yaml:"dsn_env"`
}

type History struct {
	FilePath string   `yaml:"file_path"`
	Postgres Postgres `yaml:"postgres"`
}

type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type Root struct {
	Provider   Provider   `yaml:"provider"`
	Rules      []Rule     `yaml:"rules"`
	Monitoring Monitoring `yaml:"monitoring"`
	Telegram   Telegram   `yaml:"telegram"`
	Email      Email      `yaml:"email"`
	History    History    `yaml:"history"`
	Metrics    Metrics    `yaml:"metrics"`
}

func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}

	// Provider defaults target a live OANDA-style account; the stub server
	// overrides these in dev configs.
	if c.Provider.StreamURL == "" {
		c.Provider.StreamURL = "https://stream-fxpractice.oanda.com"
	}
	if c.Provider.RestURL == "" {
		c.Provider.RestURL = "https://api-fxpractice.oanda.com"
	}
	if c.Provider.TokenEnv == "" {
		c.Provider.TokenEnv = "FXSENTRY_API_TOKEN"
	}
	if c.Provider.BackoffBaseSeconds == 0 {
		c.Provider.BackoffBaseSeconds = 5
	}
	if c.Provider.MaxRetries == 0 {
		c.Provider.MaxRetries = 10
	}
	if c.Provider.PollIntervalSecs == 0 {
		c.Provider.PollIntervalSecs = 15
	}
	if c.Provider.RateLimitPerSecond == 0 {
		c.Provider.RateLimitPerSecond = 5
	}
	if c.Provider.TimeoutSeconds == 0 {
		c.Provider.TimeoutSeconds = 10
	}

	if c.Monitoring.CheckIntervalSeconds == 0 {
		c.Monitoring.CheckIntervalSeconds = 300
	}
	if len(c.Monitoring.TimeFrames) == 0 {
		c.Monitoring.TimeFrames = []string{"M5"}
	}
	if len(c.Monitoring.Periods) == 0 {
		c.Monitoring.Periods = []int{50}
	}

	if c.Telegram.TokenEnv == "" {
		c.Telegram.TokenEnv = "FXSENTRY_TELEGRAM_TOKEN"
	}
	if c.Email.Port == 0 {
		c.Email.Port = 587
	}
	if c.Email.PasswordEnv == "" {
		c.Email.PasswordEnv = "FXSENTRY_SMTP_PASSWORD"
	}

	if c.History.FilePath == "" {
		c.History.FilePath = "data/alert_history.jsonl"
	}
	if c.History.Postgres.DSNEnv == "" {
		c.History.Postgres.DSNEnv = "FXSENTRY_PG_DSN"
	}

	if c.Metrics.Addr == "" {
		c.Metrics.Addr = "localhost:8090"
	}
	return c, nil
}

// Warnings reports entries that load fine but can never take effect, so the
// daemon logs them at startup instead of silently ignoring them.
func (c Root) Warnings() []string {
	var warnings []string
	for _, r := range c.Rules {
		switch r.Kind {
		case "", "fixed_price":
		case "ema", "ma":
			warnings = append(warnings, fmt.Sprintf(
				"rule %q has kind %q: indicator crossings are configured through the monitoring block, this rule will never fire", r.ID, r.Kind))
		default:
			warnings = append(warnings, fmt.Sprintf(
				"rule %q has unknown kind %q and will never fire", r.ID, r.Kind))
		}
	}
	return warnings
}

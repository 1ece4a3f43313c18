// Package config loads service configuration from an optional YAML file, a
// .env file and the process environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"carrierplan/internal/model"
	"carrierplan/internal/opt"
)

type Config struct {
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"database_url"`
	DBMigrate   bool   `yaml:"db_migrate"`
	RedisURL    string `yaml:"redis_url"`

	RateRPS   float64 `yaml:"rate_rps"`
	RateBurst int     `yaml:"rate_burst"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // text|json

	Auth Auth `yaml:"auth"`

	WebhookMaxAttempts int `yaml:"webhook_max_attempts"`

	Optimizer model.OptimizerConfig `yaml:"optimizer"`
}

type Auth struct {
	Mode       string `yaml:"mode"` // dev|hmac
	HMACSecret string `yaml:"hmac_secret"`
}

// Default returns the configuration used when nothing else is set.
func Default() Config {
	return Config{
		Port:               "8080",
		DBMigrate:          true,
		RateRPS:            20,
		RateBurst:          40,
		LogLevel:           "info",
		LogFormat:          "text",
		Auth:               Auth{Mode: "dev"},
		WebhookMaxAttempts: 5,
		Optimizer: model.OptimizerConfig{
			TimeBudgetMs:         2000,
			Acceptance:           opt.DefaultAcceptance(),
			InsertionThresholdMs: 200,
			BidMarkup:            0.1,
			MinBid:               1,
		},
	}
}

// Load reads path (when non-empty), then .env, then the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("config: load .env: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("PORT", &c.Port)
	str("DATABASE_URL", &c.DatabaseURL)
	str("REDIS_URL", &c.RedisURL)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("AUTH_MODE", &c.Auth.Mode)
	str("AUTH_HMAC_SECRET", &c.Auth.HMACSecret)
	if v, ok := lookup("DB_MIGRATE"); ok && v != "" {
		c.DBMigrate = v != "false"
	}
	if v, ok := lookup("RATE_RPS"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: RATE_RPS: %w", err)
		}
		c.RateRPS = f
	}
	ints := map[string]*int{
		"RATE_BURST":              &c.RateBurst,
		"WEBHOOK_MAX_ATTEMPTS":    &c.WebhookMaxAttempts,
		"OPT_TIME_BUDGET_MS":      &c.Optimizer.TimeBudgetMs,
		"OPT_SAFETY_MARGIN_MS":    &c.Optimizer.SafetyMarginMs,
		"OPT_INSERTION_THRESHOLD": &c.Optimizer.InsertionThresholdMs,
	}
	for key, dst := range ints {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		*dst = n
	}
	if v, ok := lookup("OPT_POLICY"); ok && v != "" {
		c.Optimizer.Acceptance.Policy = opt.Policy(strings.ToLower(v))
	}
	return nil
}

func (c Config) Validate() error {
	if c.RateRPS < 0 || c.RateBurst < 0 {
		return fmt.Errorf("config: rate_rps and rate_burst must be >= 0")
	}
	if c.Optimizer.TimeBudgetMs < 0 || c.Optimizer.SafetyMarginMs < 0 {
		return fmt.Errorf("config: optimizer budgets must be >= 0")
	}
	if err := c.Optimizer.Acceptance.Validate(); err != nil {
		return fmt.Errorf("config: optimizer: %w", err)
	}
	switch c.Auth.Mode {
	case "dev":
	case "hmac":
		if c.Auth.HMACSecret == "" {
			return fmt.Errorf("config: auth mode hmac requires hmac_secret")
		}
	default:
		return fmt.Errorf("config: unknown auth mode %q", c.Auth.Mode)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// ConfigureLogging applies the log level and format to the standard logrus
// logger.
func (c Config) ConfigureLogging() {
	if lvl, err := log.ParseLevel(c.LogLevel); err == nil {
		log.SetLevel(lvl)
	}
	if strings.EqualFold(c.LogFormat, "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

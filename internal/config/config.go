// Package config loads server settings from .env, an optional YAML file and
// the environment, in that order of increasing precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"recoverydispatch/internal/model"
)

type Config struct {
	Port          string `yaml:"port"`
	DatabaseURL   string `yaml:"databaseUrl"`
	DBMigrate     bool   `yaml:"dbMigrate"`
	MigrationsDir string `yaml:"migrationsDir"`
	RedisURL      string `yaml:"redisUrl"`

	ETA struct {
		Provider  string        `yaml:"provider"` // google | haversine
		GoogleKey string        `yaml:"googleKey"`
		RateRPS   float64       `yaml:"rateRps"`
		CacheTTL  time.Duration `yaml:"cacheTtl"`
	} `yaml:"eta"`

	Auth struct {
		Mode       string `yaml:"mode"` // dev | hmac
		HMACSecret string `yaml:"hmacSecret"`
	} `yaml:"auth"`

	RateRPS   float64 `yaml:"rateRps"`
	RateBurst int     `yaml:"rateBurst"`

	WebhookMaxAttempts int `yaml:"webhookMaxAttempts"`

	Kafka struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
	} `yaml:"kafka"`

	Log struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`

	// Policies overrides the built-in defaults; per-tenant and per-run
	// overrides are applied on top.
	Policies model.PolicyPatch `yaml:"policies"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	var c Config
	c.Port = "8080"
	c.DBMigrate = true
	c.MigrationsDir = "db/migrations"
	c.ETA.Provider = "haversine"
	c.ETA.CacheTTL = 10 * time.Minute
	c.Auth.Mode = "dev"
	c.WebhookMaxAttempts = 10
	c.Kafka.Topic = "recovery.dispatch.events"
	c.Log.Level = "info"
	return c
}

// BasePolicies returns built-in policies with the config file overrides applied.
func (c Config) BasePolicies() model.Policies {
	return c.Policies.Apply(model.DefaultPolicies())
}

// Load reads .env (without overriding real environment variables), then the
// YAML file named by CONFIG_FILE, then environment overrides.
func Load() (Config, error) {
	_ = godotenv.Load()
	c := Defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := c.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := c.applyEnv(os.Getenv); err != nil {
		return Config{}, err
	}
	return c, c.Validate()
}

func (c *Config) loadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	str("PORT", &c.Port)
	str("DATABASE_URL", &c.DatabaseURL)
	str("MIGRATIONS_DIR", &c.MigrationsDir)
	str("REDIS_URL", &c.RedisURL)
	str("ETA_PROVIDER", &c.ETA.Provider)
	str("GOOGLE_MAPS_KEY", &c.ETA.GoogleKey)
	str("AUTH_MODE", &c.Auth.Mode)
	str("AUTH_HMAC_SECRET", &c.Auth.HMACSecret)
	str("KAFKA_TOPIC", &c.Kafka.Topic)
	str("LOG_LEVEL", &c.Log.Level)

	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = nil
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				c.Kafka.Brokers = append(c.Kafka.Brokers, b)
			}
		}
	}

	var err error
	parse := func(key string, fn func(string) error) {
		if v := getenv(key); v != "" && err == nil {
			if e := fn(v); e != nil {
				err = fmt.Errorf("%s: %w", key, e)
			}
		}
	}
	parse("DB_MIGRATE", func(v string) (e error) { c.DBMigrate, e = strconv.ParseBool(v); return })
	parse("LOG_DEV", func(v string) (e error) { c.Log.Development, e = strconv.ParseBool(v); return })
	parse("ETA_RATE_RPS", func(v string) (e error) { c.ETA.RateRPS, e = strconv.ParseFloat(v, 64); return })
	parse("ETA_CACHE_TTL", func(v string) (e error) { c.ETA.CacheTTL, e = time.ParseDuration(v); return })
	parse("RATE_RPS", func(v string) (e error) { c.RateRPS, e = strconv.ParseFloat(v, 64); return })
	parse("RATE_BURST", func(v string) (e error) { c.RateBurst, e = strconv.Atoi(v); return })
	parse("WEBHOOK_MAX_ATTEMPTS", func(v string) (e error) { c.WebhookMaxAttempts, e = strconv.Atoi(v); return })
	return err
}

// Validate rejects combinations the server cannot start with.
func (c Config) Validate() error {
	switch c.ETA.Provider {
	case "haversine":
	case "google":
		if c.ETA.GoogleKey == "" {
			return fmt.Errorf("GOOGLE_MAPS_KEY is required when ETA_PROVIDER=google")
		}
	default:
		return fmt.Errorf("unknown ETA provider %q", c.ETA.Provider)
	}
	switch c.Auth.Mode {
	case "dev":
	case "hmac":
		if c.Auth.HMACSecret == "" {
			return fmt.Errorf("AUTH_HMAC_SECRET is required when AUTH_MODE=hmac")
		}
	default:
		return fmt.Errorf("unknown auth mode %q", c.Auth.Mode)
	}
	if p := c.BasePolicies(); p.MaxLegMiles <= 0 {
		return fmt.Errorf("policies.maxLegMiles must be > 0")
	}
	return nil
}

// Package config loads client settings from an optional YAML file with
// environment variables taking precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultListenAddr       = ":8080"
	defaultRequestTimeout   = 15 * time.Second
	defaultUpdatesChannel   = "read-model-updates"
	defaultJournalTableName = "MutationJournal"
)

// Config is the full client configuration.
type Config struct {
	BackendBaseURL string        `yaml:"backend_base_url"`
	ListenAddr     string        `yaml:"listen_addr"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	Debug          bool          `yaml:"debug"`
	Redis          Redis         `yaml:"redis"`
	Auth           Auth          `yaml:"auth"`
	Journal        Journal       `yaml:"journal"`
}

// Redis configures the read-model updates subscription. An empty connection
// string disables it.
type Redis struct {
	ConnectionString string `yaml:"connection_string"`
	Channel          string `yaml:"channel"`
}

// Auth configures token validation.
type Auth struct {
	Domain     string `yaml:"domain"`
	Audience   string `yaml:"audience"`
	TestMode   bool   `yaml:"test_mode"`
	TestSecret string `yaml:"test_secret"`
}

// Issuer is the expected token issuer for Domain.
func (a Auth) Issuer() string {
	if a.Domain == "" {
		return ""
	}
	return "https://" + a.Domain + "/"
}

// JWKSURL is where signing keys for Domain are published.
func (a Auth) JWKSURL() string {
	return fmt.Sprintf("https://%s/.well-known/jwks.json", a.Domain)
}

// Journal configures the Azure Table outcome journal. An empty connection
// string disables it.
type Journal struct {
	ConnectionString string `yaml:"connection_string"`
	Table            string `yaml:"table"`
}

// Load reads path (when non-empty), overlays the environment and applies
// defaults. The result is validated.
func Load(path string, getenv func(string) string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return Config{}, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	setString(&c.BackendBaseURL, getenv("BACKEND_BASE_URL"))
	setString(&c.ListenAddr, getenv("LISTEN_ADDR"))
	setString(&c.Redis.ConnectionString, getenv("REDIS_CONNECTION_STRING"))
	setString(&c.Redis.Channel, getenv("READ_MODEL_UPDATES_CHANNEL"))
	setString(&c.Auth.Domain, getenv("AUTH0_DOMAIN"))
	setString(&c.Auth.Audience, getenv("AUTH0_AUDIENCE"))
	setString(&c.Auth.TestSecret, getenv("TEST_JWT_SECRET"))
	setString(&c.Journal.ConnectionString, getenv("STORAGE_CONNECTION_STRING"))
	setString(&c.Journal.Table, getenv("JOURNAL_TABLE"))

	if v := getenv("AUTH0_TEST_MODE"); v != "" {
		c.Auth.TestMode = v == "1" || strings.EqualFold(v, "true")
	}
	if v := getenv("DEBUG"); v != "" {
		dbg, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid DEBUG: %w", err)
		}
		c.Debug = dbg
	}
	if v := getenv("REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid REQUEST_TIMEOUT %q", v)
		}
		c.RequestTimeout = d
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = defaultListenAddr
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.Redis.Channel == "" {
		c.Redis.Channel = defaultUpdatesChannel
	}
	if c.Journal.Table == "" {
		c.Journal.Table = defaultJournalTableName
	}
}

// Validate reports every missing or inconsistent setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.BackendBaseURL == "" {
		errs = append(errs, errors.New("missing backend base url"))
	}
	if c.RequestTimeout < 0 {
		errs = append(errs, errors.New("request timeout must be positive"))
	}
	if c.Auth.TestMode {
		if c.Auth.TestSecret == "" {
			errs = append(errs, errors.New("TEST_JWT_SECRET must be set when AUTH0_TEST_MODE=1"))
		}
	} else if c.Auth.Domain == "" || c.Auth.Audience == "" {
		errs = append(errs, errors.New("missing Auth0 config"))
	}
	return errors.Join(errs...)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

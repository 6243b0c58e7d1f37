// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for the inbox triage run.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// defaultFetchLimit caps how many unread messages one run processes.
const defaultFetchLimit = 50

// Config holds the complete application configuration.
type Config struct {
	// Notifier selects the digest sink: "telegram", "ses" or "console".
	// Empty means auto-detect from the configured sections.
	Notifier string         `yaml:"notifier"`
	Auth     AuthConfig     `yaml:"auth"`
	Rules    RulesConfig    `yaml:"rules"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Telegram TelegramConfig `yaml:"telegram"`
	SES      SESConfig      `yaml:"ses"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// AuthConfig holds Gmail credential configuration.
type AuthConfig struct {
	// Mode is "interactive" (OAuth consent flow) or "service"
	// (domain-wide delegated service account).
	Mode               string `yaml:"mode"`
	ClientFile         string `yaml:"client_file"`
	TokenFile          string `yaml:"token_file"`
	ServiceAccountFile string `yaml:"service_account_file"`
	Impersonate        string `yaml:"impersonate"`
}

// RulesConfig holds the categorization ruleset location.
type RulesConfig struct {
	File string `yaml:"file"`
}

// FetchConfig holds message retrieval options.
type FetchConfig struct {
	Limit int64 `yaml:"limit"`
}

// TelegramConfig holds Telegram Bot API credentials.
type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// SESConfig holds AWS SES digest delivery configuration.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Sender          string `yaml:"sender"`
	Recipient       string `yaml:"recipient"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	cfg.applyEnvVars()

	return cfg, nil
}

// TelegramConfigured returns true if both Telegram credentials are set.
func (c *Config) TelegramConfigured() bool {
	return c.Telegram.BotToken != "" && c.Telegram.ChatID != ""
}

// SESConfigured returns true if the minimum SES fields are set. Access keys
// are optional: the AWS SDK falls back to its default credential chain.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != "" && c.SES.Sender != "" && c.SES.Recipient != ""
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.Auth.Mode = "interactive"
	c.Auth.ClientFile = "./credentials/oauth_client.json"
	c.Auth.TokenFile = "./credentials/token.json"
	c.Rules.File = "./categories.yaml"
	c.Fetch.Limit = defaultFetchLimit
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("NOTIFIER"); v != "" {
		c.Notifier = strings.ToLower(v)
	}

	if v := os.Getenv("GMAIL_AUTH_MODE"); v != "" {
		c.Auth.Mode = strings.ToLower(v)
	}
	if v := os.Getenv("GMAIL_CLIENT_FILE"); v != "" {
		c.Auth.ClientFile = v
	}
	if v := os.Getenv("GMAIL_TOKEN_FILE"); v != "" {
		c.Auth.TokenFile = v
	}
	if v := os.Getenv("GMAIL_SERVICE_ACCOUNT_FILE"); v != "" {
		c.Auth.ServiceAccountFile = v
	}
	if v := os.Getenv("GMAIL_IMPERSONATE"); v != "" {
		c.Auth.Impersonate = v
	}

	if v := os.Getenv("RULES_FILE"); v != "" {
		c.Rules.File = v
	}

	if v := os.Getenv("FETCH_LIMIT"); v != "" {
		if limit, err := strconv.ParseInt(v, 10, 64); err == nil && limit > 0 {
			c.Fetch.Limit = limit
		}
	}

	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.Telegram.ChatID = v
	}

	if v := os.Getenv("SES_REGION"); v != "" {
		c.SES.Region = v
	}
	if v := os.Getenv("SES_ACCESS_KEY_ID"); v != "" {
		c.SES.AccessKeyID = v
	}
	if v := os.Getenv("SES_SECRET_ACCESS_KEY"); v != "" {
		c.SES.SecretAccessKey = v
	}
	if v := os.Getenv("SES_SENDER"); v != "" {
		c.SES.Sender = v
	}
	if v := os.Getenv("SES_RECIPIENT"); v != "" {
		c.SES.Recipient = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

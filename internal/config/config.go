// Package config loads the watcher configuration with the precedence
// config file < environment. The environment variable names match the
// ones the monitoring deployment has always used.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/opsdrift/ecswatch/internal/notify"
)

// Config holds the application configuration.
type Config struct {
	// MonitoringTagKey and MonitoringTagValue select the clusters opted
	// into monitoring. Leaving either empty disables tag-based opt-in.
	MonitoringTagKey   string `mapstructure:"monitoring_tag_key"`
	MonitoringTagValue string `mapstructure:"monitoring_tag_value"`

	// CheckAllClusters monitors every cluster regardless of tags.
	CheckAllClusters bool `mapstructure:"check_all_clusters"`

	// NotificationChannel is "sns" or "slack".
	NotificationChannel string `mapstructure:"notification_channel"`
	// NotificationTopic is the SNS topic ARN alerts are published to.
	NotificationTopic string `mapstructure:"notification_topic"`
	// SlackWebhookURL is the Slack incoming webhook (slack channel only).
	SlackWebhookURL string `mapstructure:"slack_webhook_url"`

	LogLevel string `mapstructure:"log_level"`

	History HistoryConfig `mapstructure:"history"`

	CustomAction CustomActionConfig `mapstructure:"custom_action"`
}

// CustomActionConfig configures an optional command run per alert.
type CustomActionConfig struct {
	// Command is the executable to invoke. Empty disables custom actions.
	Command string `mapstructure:"command"`
	// TimeoutSeconds bounds a single invocation.
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// HistoryConfig configures the optional alert history store.
type HistoryConfig struct {
	// Backend is "", "sqlite" or "postgres". Empty disables history.
	Backend string `mapstructure:"backend"`
	// Path is the SQLite database file (sqlite backend).
	Path string `mapstructure:"path"`
	// URL is the PostgreSQL connection string (postgres backend).
	URL string `mapstructure:"url"`
	// MigrationsPath is the schema migrations directory.
	MigrationsPath string `mapstructure:"migrations_path"`
}

// Destination returns where alerts are sent for the configured channel.
func (c *Config) Destination() string {
	if c.NotificationChannel == notify.ChannelSlack {
		return c.SlackWebhookURL
	}
	return c.NotificationTopic
}

// Load reads configuration from an optional yaml file and the
// environment. When configFile is empty, config.yaml is searched in the
// working directory, ./configs and /etc/ecswatch.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("notification_channel", notify.ChannelSNS)
	v.SetDefault("log_level", "info")
	v.SetDefault("history.path", "./ecswatch.db")
	v.SetDefault("history.migrations_path", "./migrations")

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/ecswatch")
	}

	if err := v.ReadInConfig(); err != nil {
		// A missing file falls back to defaults plus environment.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if _, ok := err.(*os.PathError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnvOverrides layers the long-standing environment variable names
// over the file values. They keep their original, mixed-case spelling.
func applyEnvOverrides(cfg *Config) {
	if val, ok := os.LookupEnv("monitoringTagKeyName"); ok {
		cfg.MonitoringTagKey = val
	}
	if val, ok := os.LookupEnv("monitoringTagKeyValue"); ok {
		cfg.MonitoringTagValue = val
	}
	if val, ok := os.LookupEnv("checkAllClusters"); ok {
		cfg.CheckAllClusters = parseBool(val)
	}
	if val, ok := os.LookupEnv("sendEmailNotification"); ok {
		cfg.NotificationTopic = val
	}
	if val, ok := os.LookupEnv("slackWebhookURL"); ok {
		cfg.SlackWebhookURL = val
	}
	if val, ok := os.LookupEnv("ECSWATCH_LOG_LEVEL"); ok {
		cfg.LogLevel = val
	}
	if val, ok := os.LookupEnv("customActionCommand"); ok {
		cfg.CustomAction.Command = val
	}
}

// parseBool accepts "true" and "yes" in any case; everything else is false.
func parseBool(val string) bool {
	switch strings.ToLower(val) {
	case "true", "yes":
		return true
	default:
		return false
	}
}

// Validate checks channel and history settings for consistency.
func (c *Config) Validate() error {
	switch c.NotificationChannel {
	case notify.ChannelSNS:
		if c.NotificationTopic == "" {
			return fmt.Errorf("notification_topic (or sendEmailNotification) is required for the sns channel")
		}
	case notify.ChannelSlack:
		if c.SlackWebhookURL == "" {
			return fmt.Errorf("slack_webhook_url is required for the slack channel")
		}
	default:
		return fmt.Errorf("unsupported notification channel: %s", c.NotificationChannel)
	}

	switch c.History.Backend {
	case "", "sqlite":
	case "postgres":
		if c.History.URL == "" {
			return fmt.Errorf("history.url is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unsupported history backend: %s", c.History.Backend)
	}

	return nil
}

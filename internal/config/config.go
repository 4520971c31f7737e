// Package config loads service configuration from an optional YAML file and
// the environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/withObsrvr/obsrvr-ads-uploader/internal/ads"
	"github.com/withObsrvr/obsrvr-ads-uploader/internal/uploader"
)

type Config struct {
	Service     ServiceConfig                    `yaml:"service"`
	Source      SourceConfig                     `yaml:"source"`
	Ads         ads.Config                       `yaml:"ads"`
	Trigger     TriggerConfig                    `yaml:"trigger"`
	Archive     ArchiveConfig                    `yaml:"archive"`
	History     HistoryConfig                    `yaml:"history"`
	Metrics     MetricsConfig                    `yaml:"metrics"`
	Logging     LoggingConfig                    `yaml:"logging"`
	UploadTypes map[string]uploader.UploadConfig `yaml:"upload_types"`
}

type ServiceConfig struct {
	DefaultUploadType string   `yaml:"default_upload_type"`
	EnabledTypes      []string `yaml:"enabled_types"` // empty = all
}

type SourceConfig struct {
	BucketURL string `yaml:"bucket_url"` // template with {bucket}
}

type TriggerConfig struct {
	SubscriptionURL       string        `yaml:"subscription_url"`
	MaxConcurrentMessages int           `yaml:"max_concurrent_messages"`
	ShutdownTimeout       time.Duration `yaml:"shutdown_timeout"`
}

type ArchiveConfig struct {
	BucketURL string `yaml:"bucket_url"` // empty disables archiving
	Prefix    string `yaml:"prefix"`
}

type HistoryConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"` // empty disables history
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Address   string `yaml:"address"`
	Namespace string `yaml:"namespace"`
}

type LoggingConfig struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Service: ServiceConfig{DefaultUploadType: "ACA"},
		Source:  SourceConfig{BucketURL: "gs://{bucket}"},
		Ads: ads.Config{
			APIVersion: ads.DefaultAPIVersion,
			Timeout:    60 * time.Second,
			MaxRetries: ads.DefaultMaxRetries,
		},
		Trigger: TriggerConfig{
			MaxConcurrentMessages: 4,
			ShutdownTimeout:       30 * time.Second,
		},
		Archive: ArchiveConfig{Prefix: "failed/"},
		Metrics: MetricsConfig{Enabled: true, Address: ":9090", Namespace: "ads_uploader"},
		Logging: LoggingConfig{Format: "json", Level: "info"},
	}
}

// Load reads CONFIG_FILE (if set), applies environment overrides and
// validates the result.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// MustLoad is Load that exits the process on error.
func MustLoad() Config {
	log.Println("[config] loading")
	cfg, err := Load()
	if err != nil {
		log.Fatalf("[config] %v", err)
	}
	return cfg
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Service.DefaultUploadType = getenvDefault("DEFAULT_UPLOAD_TYPE", c.Service.DefaultUploadType)
	if v := os.Getenv("ENABLED_UPLOAD_TYPES"); v != "" {
		c.Service.EnabledTypes = splitList(v)
	}

	c.Source.BucketURL = getenvDefault("SOURCE_BUCKET_URL", c.Source.BucketURL)

	c.Ads.DeveloperToken = getenvDefault("ADS_DEVELOPER_TOKEN", c.Ads.DeveloperToken)
	c.Ads.LoginCustomerID = getenvDefault("ADS_LOGIN_CUSTOMER_ID", c.Ads.LoginCustomerID)
	c.Ads.APIVersion = getenvDefault("ADS_API_VERSION", c.Ads.APIVersion)

	c.Trigger.SubscriptionURL = getenvDefault("PUBSUB_SUBSCRIPTION", c.Trigger.SubscriptionURL)

	c.Archive.BucketURL = getenvDefault("ARCHIVE_BUCKET_URL", c.Archive.BucketURL)
	c.Archive.Prefix = getenvDefault("ARCHIVE_PREFIX", c.Archive.Prefix)

	c.History.PostgresDSN = getenvDefault("HISTORY_DSN", c.History.PostgresDSN)

	c.Metrics.Address = getenvDefault("METRICS_ADDR", c.Metrics.Address)
	c.Metrics.Namespace = getenvDefault("METRICS_NAMESPACE", c.Metrics.Namespace)

	c.Logging.Format = getenvDefault("LOG_FORMAT", c.Logging.Format)
	c.Logging.Level = getenvDefault("LOG_LEVEL", c.Logging.Level)

	var err error
	if c.Ads.MaxRetries, err = getenvInt("ADS_MAX_RETRIES", c.Ads.MaxRetries); err != nil {
		return err
	}
	if c.Ads.Timeout, err = getenvDuration("ADS_TIMEOUT", c.Ads.Timeout); err != nil {
		return err
	}
	if c.Trigger.MaxConcurrentMessages, err = getenvInt("MAX_CONCURRENT_MESSAGES", c.Trigger.MaxConcurrentMessages); err != nil {
		return err
	}
	if c.Trigger.ShutdownTimeout, err = getenvDuration("SHUTDOWN_TIMEOUT", c.Trigger.ShutdownTimeout); err != nil {
		return err
	}
	if v := os.Getenv("METRICS_ENABLED"); v != "" {
		c.Metrics.Enabled = v == "true"
	}
	return nil
}

// Validate checks settings that do not depend on the registry.
func (c Config) Validate() error {
	var errs []error
	if c.Service.DefaultUploadType == "" {
		errs = append(errs, errors.New("service.default_upload_type is required"))
	}
	if !strings.Contains(c.Source.BucketURL, "{bucket}") {
		errs = append(errs, fmt.Errorf("source.bucket_url %q has no {bucket} placeholder", c.Source.BucketURL))
	}
	if c.Trigger.MaxConcurrentMessages < 1 {
		errs = append(errs, fmt.Errorf("trigger.max_concurrent_messages must be at least 1, got %d", c.Trigger.MaxConcurrentMessages))
	}
	if c.Ads.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("ads.max_retries must not be negative, got %d", c.Ads.MaxRetries))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, nil
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all billsync configuration.
type Config struct {
	Storage   StorageConfig   `mapstructure:"storage"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Backfill  BackfillConfig  `mapstructure:"backfill"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Alerts    AlertsConfig    `mapstructure:"alerts"`
}

// StorageConfig defines database settings.
type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig defines the HTTP API settings.
type ServerConfig struct {
	Listen       string `mapstructure:"listen"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// RetryConfig bounds retries of provider pulls and token fetches.
type RetryConfig struct {
	PullAttempts  int    `mapstructure:"pull_attempts"`
	TokenAttempts int    `mapstructure:"token_attempts"`
	BaseDelay     string `mapstructure:"base_delay"`
	MaxDelay      string `mapstructure:"max_delay"`
}

// BackfillConfig holds backfill job defaults.
type BackfillConfig struct {
	LookbackMonths int    `mapstructure:"lookback_months"`
	Delay          string `mapstructure:"delay"`
	OnlyMissing    bool   `mapstructure:"only_missing"`
	Schedule       string `mapstructure:"schedule"`
}

// ProvidersConfig holds per-connector settings.
type ProvidersConfig struct {
	Azure      AzureConfig      `mapstructure:"azure"`
	AWS        AWSConfig        `mapstructure:"aws"`
	GCP        GCPConfig        `mapstructure:"gcp"`
	Rackspace  RackspaceConfig  `mapstructure:"rackspace"`
	Wasabi     WasabiConfig     `mapstructure:"wasabi"`
	WasabiMain WasabiMainConfig `mapstructure:"wasabi_main"`
}

// AzureConfig defines the Azure endpoints.
type AzureConfig struct {
	LoginURL      string `mapstructure:"login_url"`
	ManagementURL string `mapstructure:"management_url"`
	APIVersion    string `mapstructure:"api_version"`
	MaxPages      int    `mapstructure:"max_pages"`
}

// AWSConfig defines the Cost Explorer region.
type AWSConfig struct {
	Region string `mapstructure:"region"`
}

// GCPConfig defines the manual GCP figure.
type GCPConfig struct {
	ManualAmount   string `mapstructure:"manual_amount"`
	ManualCurrency string `mapstructure:"manual_currency"`
}

// RackspaceConfig defines the Rackspace endpoints and CSV behavior.
type RackspaceConfig struct {
	IdentityURL  string `mapstructure:"identity_url"`
	BillingURL   string `mapstructure:"billing_url"`
	CSVImport    bool   `mapstructure:"csv_import"`
	HistoryYears int    `mapstructure:"history_years"`
}

// WasabiConfig defines the WACM endpoint and paging limits.
type WasabiConfig struct {
	WACMURL  string `mapstructure:"wacm_url"`
	PageSize int    `mapstructure:"page_size"`
	MaxPages int    `mapstructure:"max_pages"`
}

// WasabiMainConfig points at the usage pricing table. Empty uses the built-in table.
type WasabiMainConfig struct {
	PricingFile string `mapstructure:"pricing_file"`
}

// AlertsConfig defines alerting integrations.
type AlertsConfig struct {
	Slack   SlackConfig   `mapstructure:"slack"`
	Webhook WebhookConfig `mapstructure:"webhook"`
}

// SlackConfig defines Slack webhook settings.
type SlackConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	WebhookURL string `mapstructure:"webhook_url"`
	Channel    string `mapstructure:"channel"`
}

// WebhookConfig defines generic webhook settings.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Secret  string `mapstructure:"secret"`
}

// Load reads configuration from file and environment variables.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("find home directory: %w", err)
		}

		v.AddConfigPath(filepath.Join(home, ".billsync"))
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	// Defaults
	home, _ := os.UserHomeDir()
	v.SetDefault("storage.path", filepath.Join(home, ".billsync", "billsync.db"))
	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("retry.pull_attempts", 4)
	v.SetDefault("retry.token_attempts", 4)
	v.SetDefault("retry.base_delay", "1s")
	v.SetDefault("retry.max_delay", "30s")
	v.SetDefault("backfill.lookback_months", 12)
	v.SetDefault("backfill.delay", "1s")
	v.SetDefault("backfill.only_missing", true)
	v.SetDefault("backfill.schedule", "")
	v.SetDefault("providers.azure.login_url", "https://login.microsoftonline.com")
	v.SetDefault("providers.azure.management_url", "https://management.azure.com")
	v.SetDefault("providers.azure.api_version", "2023-03-01")
	v.SetDefault("providers.azure.max_pages", 50)
	v.SetDefault("providers.aws.region", "us-east-1")
	v.SetDefault("providers.gcp.manual_amount", "")
	v.SetDefault("providers.gcp.manual_currency", "USD")
	v.SetDefault("providers.rackspace.identity_url", "https://identity.api.rackspacecloud.com")
	v.SetDefault("providers.rackspace.billing_url", "https://billing.api.rackspacecloud.com")
	v.SetDefault("providers.rackspace.csv_import", true)
	v.SetDefault("providers.rackspace.history_years", 2)
	v.SetDefault("providers.wasabi.wacm_url", "https://api.wasabisys.com/wacm")
	v.SetDefault("providers.wasabi.page_size", 100)
	v.SetDefault("providers.wasabi.max_pages", 50)
	v.SetDefault("providers.wasabi_main.pricing_file", "")
	v.SetDefault("alerts.slack.channel", "#billing")

	// Environment variables
	v.SetEnvPrefix("BILLSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

package cli

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ogulcanaydogan/billsync/internal/config"
	"github.com/ogulcanaydogan/billsync/pkg/alerts"
	"github.com/ogulcanaydogan/billsync/pkg/backfill"
	"github.com/ogulcanaydogan/billsync/pkg/ingest"
	"github.com/ogulcanaydogan/billsync/pkg/model"
	"github.com/ogulcanaydogan/billsync/pkg/providers"
	"github.com/ogulcanaydogan/billsync/pkg/retry"
	"github.com/ogulcanaydogan/billsync/pkg/storage"
	"github.com/prometheus/client_golang/prometheus"
)

// app is the fully wired service graph shared by every command.
type app struct {
	cfg          *config.Config
	logger       *slog.Logger
	store        storage.Storage
	connectors   *providers.Registry
	ingestor     *ingest.Ingestor
	orchestrator *backfill.Orchestrator
	metrics      *prometheus.Registry
	now          func() time.Time
}

func newApp(cfg *config.Config) (*app, error) {
	logger := newLogger(cfg)

	provCfg, err := providerConfig(cfg)
	if err != nil {
		return nil, err
	}
	tokenPolicy, err := retryPolicy(cfg, cfg.Retry.TokenAttempts, logger)
	if err != nil {
		return nil, err
	}
	pullPolicy, err := retryPolicy(cfg, cfg.Retry.PullAttempts, logger)
	if err != nil {
		return nil, err
	}

	connectors, err := providers.NewDefaultRegistry(provCfg, providers.Deps{
		Logger:      logger,
		TokenPolicy: tokenPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("init connectors: %w", err)
	}

	store, err := initStorage(cfg)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	metrics := backfill.NewMetrics(reg)

	ingestor := ingest.New(ingest.Config{
		Connectors: connectors,
		Store:      store,
		Policy:     pullPolicy,
		Logger:     logger,
		Observe:    metrics.ObservePull,
	})

	defaults, err := backfillDefaults(cfg)
	if err != nil {
		store.Close()
		return nil, err
	}
	orchestrator := backfill.New(backfill.Config{
		Ingestor:  ingestor,
		Vendors:   store,
		Notifiers: initNotifiers(cfg),
		Metrics:   metrics,
		Logger:    logger,
		Defaults:  defaults,
	})

	return &app{
		cfg:          cfg,
		logger:       logger,
		store:        store,
		connectors:   connectors,
		ingestor:     ingestor,
		orchestrator: orchestrator,
		metrics:      reg,
		now:          time.Now,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// initStorage creates a storage backend from config.
func initStorage(cfg *config.Config) (storage.Storage, error) {
	return storage.NewSQLite(cfg.Storage.Path)
}

// initNotifiers creates job notifiers from config.
func initNotifiers(cfg *config.Config) []alerts.Notifier {
	var notifiers []alerts.Notifier

	if cfg.Alerts.Slack.Enabled && cfg.Alerts.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alerts.NewSlackNotifier(
			cfg.Alerts.Slack.WebhookURL,
			cfg.Alerts.Slack.Channel,
		))
	}

	if cfg.Alerts.Webhook.Enabled && cfg.Alerts.Webhook.URL != "" {
		notifiers = append(notifiers, alerts.NewWebhookNotifier(
			cfg.Alerts.Webhook.URL,
			cfg.Alerts.Webhook.Secret,
		))
	}

	return notifiers
}

func parseDuration(key, value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("config %s: %w", key, err)
	}
	return d, nil
}

func retryPolicy(cfg *config.Config, attempts int, logger *slog.Logger) (retry.Policy, error) {
	if attempts <= 0 {
		attempts = retry.DefaultAttempts
	}
	p := retry.NewPolicy(attempts, logger)
	var err error
	if p.BaseDelay, err = parseDuration("retry.base_delay", cfg.Retry.BaseDelay, retry.DefaultBaseDelay); err != nil {
		return p, err
	}
	if p.MaxDelay, err = parseDuration("retry.max_delay", cfg.Retry.MaxDelay, retry.DefaultMaxDelay); err != nil {
		return p, err
	}
	return p, nil
}

func backfillDefaults(cfg *config.Config) (model.BackfillOptions, error) {
	delay, err := parseDuration("backfill.delay", cfg.Backfill.Delay, time.Second)
	if err != nil {
		return model.BackfillOptions{}, err
	}
	return model.BackfillOptions{
		LookbackMonths: cfg.Backfill.LookbackMonths,
		OnlyMissing:    cfg.Backfill.OnlyMissing,
		DelayMS:        delay.Milliseconds(),
		Retries:        cfg.Retry.PullAttempts,
	}, nil
}

// providerConfig maps file configuration onto connector settings.
func providerConfig(cfg *config.Config) (providers.Config, error) {
	pc := providers.DefaultConfig()
	p := cfg.Providers

	if p.Azure.LoginURL != "" {
		pc.Azure.LoginURL = p.Azure.LoginURL
	}
	if p.Azure.ManagementURL != "" {
		pc.Azure.ManagementURL = p.Azure.ManagementURL
	}
	if p.Azure.APIVersion != "" {
		pc.Azure.APIVersion = p.Azure.APIVersion
	}
	if p.Azure.MaxPages > 0 {
		pc.Azure.MaxPages = p.Azure.MaxPages
	}
	if p.AWS.Region != "" {
		pc.AWS.Region = p.AWS.Region
	}
	pc.GCP = providers.GCPConfig{
		ManualAmount:   p.GCP.ManualAmount,
		ManualCurrency: p.GCP.ManualCurrency,
	}
	if p.Rackspace.IdentityURL != "" {
		pc.Rackspace.IdentityURL = p.Rackspace.IdentityURL
	}
	if p.Rackspace.BillingURL != "" {
		pc.Rackspace.BillingURL = p.Rackspace.BillingURL
	}
	pc.Rackspace.CSVImport = p.Rackspace.CSVImport
	if p.Rackspace.HistoryYears > 0 {
		pc.Rackspace.HistoryYears = p.Rackspace.HistoryYears
	}
	if p.Wasabi.WACMURL != "" {
		pc.Wasabi.BaseURL = p.Wasabi.WACMURL
	}
	if p.Wasabi.PageSize > 0 {
		pc.Wasabi.PageSize = p.Wasabi.PageSize
	}
	if p.Wasabi.MaxPages > 0 {
		pc.Wasabi.MaxPages = p.Wasabi.MaxPages
	}

	if p.WasabiMain.PricingFile != "" {
		pricing, err := providers.LoadPricing(p.WasabiMain.PricingFile)
		if err != nil {
			return pc, fmt.Errorf("load wasabi pricing: %w", err)
		}
		pc.WasabiMain.Pricing = pricing
	}
	return pc, nil
}

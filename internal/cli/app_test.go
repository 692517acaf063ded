package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ogulcanaydogan/billsync/internal/config"
	"github.com/ogulcanaydogan/billsync/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func TestProviderConfig(t *testing.T) {
	pricing := filepath.Join(t.TempDir(), "wasabi.yaml")
	require.NoError(t, os.WriteFile(pricing, []byte(`
provider: wasabi-main
currency: USD
rates:
  active_storage_gb_month: "0.0059"
  deleted_storage_gb_month: "0.0059"
  ingress_gb: "0"
  egress_gb: "0"
  api_calls_per_1000: "0"
`), 0o644))

	cfg := loadTestConfig(t, `
providers:
  aws:
    region: eu-central-1
  rackspace:
    csv_import: false
    history_years: 3
  wasabi:
    wacm_url: http://wacm.local
  wasabi_main:
    pricing_file: `+pricing+`
`)

	pc, err := providerConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "eu-central-1", pc.AWS.Region)
	assert.False(t, pc.Rackspace.CSVImport)
	assert.Equal(t, 3, pc.Rackspace.HistoryYears)
	assert.Equal(t, "http://wacm.local", pc.Wasabi.BaseURL)
	assert.Equal(t, 100, pc.Wasabi.PageSize)
	require.NotNil(t, pc.WasabiMain.Pricing)
	assert.Equal(t, "0.0059", pc.WasabiMain.Pricing.Rates.ActiveStorageGBMonth)
}

func TestProviderConfig_BadPricingFile(t *testing.T) {
	cfg := loadTestConfig(t, `
providers:
  wasabi_main:
    pricing_file: /does/not/exist.yaml
`)
	_, err := providerConfig(cfg)
	assert.Error(t, err)
}

func TestBackfillDefaultsAndRetryPolicy(t *testing.T) {
	cfg := loadTestConfig(t, `
retry:
  pull_attempts: 6
  base_delay: 250ms
backfill:
  lookback_months: 3
  delay: 1500ms
`)

	opts, err := backfillDefaults(cfg)
	require.NoError(t, err)
	assert.Equal(t, model.BackfillOptions{LookbackMonths: 3, OnlyMissing: true, DelayMS: 1500, Retries: 6}, opts)

	p, err := retryPolicy(cfg, cfg.Retry.PullAttempts, nil)
	require.NoError(t, err)
	assert.Equal(t, 6, p.Attempts)
	assert.Equal(t, 250*time.Millisecond, p.BaseDelay)
	assert.Equal(t, 30*time.Second, p.MaxDelay)

	cfg.Backfill.Delay = "soon"
	_, err = backfillDefaults(cfg)
	assert.Error(t, err)
}

func TestNewAppWiresEveryBillingProvider(t *testing.T) {
	cfg := loadTestConfig(t, "storage:\n  path: "+filepath.Join(t.TempDir(), "billsync.db")+"\n")

	a, err := newApp(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	for _, p := range model.BillingProviders {
		_, err := a.connectors.Get(p)
		assert.NoError(t, err, p)
	}
	assert.False(t, a.orchestrator.Status().Running)
}

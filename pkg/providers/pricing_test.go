package providers_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ogulcanaydogan/billsync/pkg/providers"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPricing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wasabi.yaml")
	data := []byte(`
provider: wasabi-main
updated: "2026-01-01"
rates:
  active_storage_gb_month: "0.0070"
  egress_gb: "0.01"
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	p, err := providers.LoadPricing(path)
	require.NoError(t, err)
	assert.Equal(t, "wasabi-main", p.Provider)
	assert.Equal(t, "USD", p.Currency)
	assert.Equal(t, "0.0070", p.Rates.ActiveStorageGBMonth)
}

func TestLoadPricing_FileNotFound(t *testing.T) {
	_, err := providers.LoadPricing("/nonexistent/path.yaml")
	assert.Error(t, err)
}

func TestLoadPricing_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(path, []byte("invalid: [yaml"), 0o644))

	_, err := providers.LoadPricing(path)
	assert.Error(t, err)
}

func TestLoadPricingFromBytes_Validation(t *testing.T) {
	_, err := providers.LoadPricingFromBytes([]byte(`rates: {}`))
	assert.ErrorContains(t, err, "missing provider")

	_, err = providers.LoadPricingFromBytes([]byte("provider: x\nrates:\n  egress_gb: \"abc\"\n"))
	assert.ErrorContains(t, err, "egress_gb")

	_, err = providers.LoadPricingFromBytes([]byte("provider: x\nrates:\n  egress_gb: \"-1\"\n"))
	assert.ErrorContains(t, err, "negative")
}

func TestDefaultWasabiPricing(t *testing.T) {
	p := providers.DefaultWasabiPricing()
	assert.Equal(t, "wasabi-main", p.Provider)
	assert.Equal(t, "USD", p.Currency)
}

func TestPriceUsage(t *testing.T) {
	p := providers.DefaultWasabiPricing()
	rows, err := providers.PriceUsage(providers.UsageTotals{
		ActiveStorageGBMonth: decimal.NewFromInt(1000),
	}, p)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Active Storage", rows[0].ResourceType)
	assert.Equal(t, "6.9", rows[0].Amount.String())
}

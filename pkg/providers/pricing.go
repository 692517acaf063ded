package providers

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/ogulcanaydogan/billsync/pkg/breakdown"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

//go:embed pricing/wasabi.yaml
var defaultWasabiPricing []byte

// WasabiPricing is a per-unit price table for raw Wasabi usage metrics.
type WasabiPricing struct {
	Provider string      `yaml:"provider"`
	Updated  string      `yaml:"updated"`
	Currency string      `yaml:"currency"`
	Rates    WasabiRates `yaml:"rates"`
}

// WasabiRates holds decimal rates as strings so YAML floats never round.
type WasabiRates struct {
	ActiveStorageGBMonth  string `yaml:"active_storage_gb_month"`
	DeletedStorageGBMonth string `yaml:"deleted_storage_gb_month"`
	IngressGB             string `yaml:"ingress_gb"`
	EgressGB              string `yaml:"egress_gb"`
	APICallsPer1000       string `yaml:"api_calls_per_1000"`
}

type wasabiRateTable struct {
	activeStorage  decimal.Decimal
	deletedStorage decimal.Decimal
	ingress        decimal.Decimal
	egress         decimal.Decimal
	apiPer1000     decimal.Decimal
}

// LoadPricing reads a YAML pricing file.
func LoadPricing(path string) (*WasabiPricing, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing file %s: %w", path, err)
	}
	p, err := LoadPricingFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("pricing file %s: %w", path, err)
	}
	return p, nil
}

// LoadPricingFromBytes parses and validates YAML pricing data.
func LoadPricingFromBytes(data []byte) (*WasabiPricing, error) {
	var p WasabiPricing
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse pricing data: %w", err)
	}
	if p.Provider == "" {
		return nil, fmt.Errorf("missing provider name")
	}
	p.Currency = breakdown.NormalizeCurrency(p.Currency, breakdown.DefaultCurrency)
	if _, err := p.table(); err != nil {
		return nil, err
	}
	return &p, nil
}

// DefaultWasabiPricing returns the built-in price table.
func DefaultWasabiPricing() *WasabiPricing {
	p, err := LoadPricingFromBytes(defaultWasabiPricing)
	if err != nil {
		panic(fmt.Sprintf("built-in wasabi pricing: %v", err))
	}
	return p
}

func (p *WasabiPricing) table() (wasabiRateTable, error) {
	var t wasabiRateTable
	fields := []struct {
		name string
		text string
		dst  *decimal.Decimal
	}{
		{"active_storage_gb_month", p.Rates.ActiveStorageGBMonth, &t.activeStorage},
		{"deleted_storage_gb_month", p.Rates.DeletedStorageGBMonth, &t.deletedStorage},
		{"ingress_gb", p.Rates.IngressGB, &t.ingress},
		{"egress_gb", p.Rates.EgressGB, &t.egress},
		{"api_calls_per_1000", p.Rates.APICallsPer1000, &t.apiPer1000},
	}
	for _, f := range fields {
		if f.text == "" {
			*f.dst = decimal.Zero
			continue
		}
		d, err := decimal.NewFromString(f.text)
		if err != nil {
			return t, fmt.Errorf("rate %s: %w", f.name, err)
		}
		if d.IsNegative() {
			return t, fmt.Errorf("rate %s: must not be negative", f.name)
		}
		*f.dst = d
	}
	return t, nil
}

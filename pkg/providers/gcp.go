package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ogulcanaydogan/billsync/pkg/breakdown"
	"github.com/ogulcanaydogan/billsync/pkg/model"
	"github.com/shopspring/decimal"
)

// SourceGCPManual tags snapshots carrying an operator supplied figure.
const SourceGCPManual = "gcp-manual"

// GCP has no live billing integration. It reports a manually configured
// amount per vendor, or the global configured amount, and otherwise fails.
type GCP struct {
	cfg GCPConfig
}

// NewGCP creates the GCP connector.
func NewGCP(cfg GCPConfig) *GCP {
	return &GCP{cfg: cfg}
}

// Provider implements Connector.
func (g *GCP) Provider() model.Provider { return model.ProviderGCP }

// Pull implements Connector.
func (g *GCP) Pull(_ context.Context, vendor model.Vendor, creds model.Credentials, period model.BillingPeriod) (*model.PulledBilling, error) {
	amountText := firstNonEmpty(creds.Get("manualAmount", "manual_amount"), g.cfg.ManualAmount)
	if amountText == "" {
		return nil, fmt.Errorf("gcp vendor %s: %w: no manual amount configured", vendor.ID, model.ErrUnsupportedIntegration)
	}
	amount, err := decimal.NewFromString(amountText)
	if err != nil {
		return nil, fmt.Errorf("gcp manual amount %q: %w", amountText, err)
	}
	currency := breakdown.NormalizeCurrency(
		firstNonEmpty(creds.Get("manualCurrency", "manual_currency"), g.cfg.ManualCurrency),
		breakdown.DefaultCurrency,
	)

	rows := breakdown.Summarize([]model.BreakdownRow{{
		ResourceType: "Manual Entry",
		Currency:     currency,
		Amount:       amount,
	}})
	raw, err := json.Marshal(map[string]string{"manualAmount": amount.String(), "currency": currency})
	if err != nil {
		return nil, fmt.Errorf("marshal gcp raw payload: %w", err)
	}

	return &model.PulledBilling{
		PeriodStart: period.Start,
		PeriodEnd:   period.End,
		Amount:      amount,
		Currency:    currency,
		Source:      SourceGCPManual,
		Breakdown:   rows,
		Raw:         raw,
	}, nil
}

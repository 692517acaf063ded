package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ogulcanaydogan/billsync/pkg/breakdown"
	"github.com/ogulcanaydogan/billsync/pkg/csvusage"
	"github.com/ogulcanaydogan/billsync/pkg/model"
	"github.com/ogulcanaydogan/billsync/pkg/providers"
	"github.com/ogulcanaydogan/billsync/pkg/storage"
)

// ImportResult summarizes a manual Rackspace CSV import.
type ImportResult struct {
	Snapshot   *model.BillingSnapshot `json:"snapshot"`
	Parsed     int                    `json:"parsed"`
	Dropped    int                    `json:"dropped"`
	Added      int                    `json:"added"`
	Duplicates int                    `json:"duplicates"`
	Created    bool                   `json:"created"`
}

type rackspaceRaw struct {
	Rows    []csvusage.UsageRow `json:"rows"`
	Imports int                 `json:"csvImports"`
}

// ImportRackspaceCSV merges an invoice-detail export into the vendor's
// snapshot for the period. Rows already present are not counted twice. An
// existing snapshot is updated in place; otherwise a new one is created.
func (i *Ingestor) ImportRackspaceCSV(ctx context.Context, vendor model.Vendor, period model.BillingPeriod, csvText string) (*ImportResult, error) {
	if vendor.Provider != model.ProviderRackspace {
		return nil, fmt.Errorf("vendor %s: csv import requires provider %q, got %q", vendor.ID, model.ProviderRackspace, vendor.Provider)
	}
	parsed, err := csvusage.ParseRackspace(csvText, breakdown.DefaultCurrency)
	if err != nil {
		return nil, fmt.Errorf("parse rackspace csv: %w", err)
	}

	key := model.KeyFor(vendor, period)
	existing, err := i.store.FindSnapshot(ctx, key)
	if err != nil {
		return nil, err
	}

	var raw map[string]json.RawMessage
	var prior rackspaceRaw
	if existing != nil && len(existing.Raw) > 0 {
		if err := json.Unmarshal(existing.Raw, &raw); err != nil {
			return nil, fmt.Errorf("decode existing raw payload: %w", err)
		}
		if err := json.Unmarshal(existing.Raw, &prior); err != nil {
			return nil, fmt.Errorf("decode existing usage rows: %w", err)
		}
	}
	if raw == nil {
		raw = make(map[string]json.RawMessage)
	}

	set := csvusage.NewSet()
	set.Add(prior.Rows...)
	added := set.Add(parsed.Rows...)

	rows := set.Within(period)
	summarized := breakdown.Summarize(csvusage.ToBreakdown(rows))
	total := breakdown.Total(summarized)
	currency := breakdown.DominantCurrency(summarized, breakdown.DefaultCurrency)

	for k, v := range map[string]any{
		"rows":       rows,
		"rowCount":   len(rows),
		"csvImports": prior.Imports + 1,
	} {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode raw payload: %w", err)
		}
		raw[k] = b
	}
	rawJSON, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode raw payload: %w", err)
	}

	res := &ImportResult{
		Parsed:     len(parsed.Rows),
		Dropped:    parsed.Dropped,
		Added:      added,
		Duplicates: len(parsed.Rows) - added,
	}

	if existing == nil {
		snap := &model.BillingSnapshot{
			VendorID:    key.VendorID,
			Provider:    key.Provider,
			PeriodStart: key.PeriodStart,
			PeriodEnd:   key.PeriodEnd,
			Amount:      total,
			Currency:    currency,
			Source:      providers.SourceRackspaceCSV,
			Breakdown:   summarized,
			Raw:         rawJSON,
			PulledAt:    i.now().UTC(),
		}
		if err := i.store.InsertSnapshot(ctx, snap); err != nil {
			return nil, err
		}
		res.Snapshot = snap
		res.Created = true
	} else {
		err := i.store.UpdateSnapshotRaw(ctx, key, storage.SnapshotUpdate{
			Amount:    total,
			Currency:  currency,
			Source:    providers.SourceRackspaceCSV,
			Breakdown: summarized,
			Raw:       rawJSON,
		})
		if err != nil {
			return nil, err
		}
		existing.Amount = total
		existing.Currency = currency
		existing.Source = providers.SourceRackspaceCSV
		existing.Breakdown = summarized
		existing.Raw = rawJSON
		res.Snapshot = existing
	}

	i.logger.Info("imported rackspace csv",
		"vendor_id", vendor.ID,
		"period_start", key.PeriodStart,
		"parsed", res.Parsed,
		"added", res.Added,
		"duplicates", res.Duplicates,
		"amount", total.String(),
	)
	return res, nil
}

package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/ogulcanaydogan/billsync/pkg/breakdown"
	"github.com/ogulcanaydogan/billsync/pkg/model"
	"github.com/shopspring/decimal"
)

// SourceWasabiMainUsage tags snapshots priced from raw usage metrics.
const SourceWasabiMainUsage = "wasabi-main-usage-priced"

var (
	bytesPerGB    = decimal.NewFromInt(1_000_000_000)
	thousandCalls = decimal.NewFromInt(1000)
)

// WasabiMain lists daily usage records and prices them with a rate table.
// It is the only connector that computes cost instead of reading it.
type WasabiMain struct {
	client  wasabiClient
	pricing *WasabiPricing
}

// NewWasabiMain creates the usage-priced connector. A nil price table uses the built-in one.
func NewWasabiMain(cfg WasabiConfig, main WasabiMainConfig, deps Deps) *WasabiMain {
	pricing := main.Pricing
	if pricing == nil {
		pricing = DefaultWasabiPricing()
	}
	return &WasabiMain{
		client:  wasabiClient{cfg: withWasabiDefaults(cfg), deps: deps.withDefaults()},
		pricing: pricing,
	}
}

// Provider implements Connector.
func (w *WasabiMain) Provider() model.Provider { return model.ProviderWasabiMain }

// UsageTotals are the raw metrics for a period.
type UsageTotals struct {
	ActiveStorageGBMonth  decimal.Decimal `json:"active_storage_gb_month"`
	DeletedStorageGBMonth decimal.Decimal `json:"deleted_storage_gb_month"`
	IngressGB             decimal.Decimal `json:"ingress_gb"`
	EgressGB              decimal.Decimal `json:"egress_gb"`
	APICalls              decimal.Decimal `json:"api_calls"`
	Records               int             `json:"records"`
}

// Pull implements Connector.
func (w *WasabiMain) Pull(ctx context.Context, vendor model.Vendor, creds model.Credentials, period model.BillingPeriod) (*model.PulledBilling, error) {
	c, err := w.client.credentials(model.ProviderWasabiMain, vendor, creds)
	if err != nil {
		return nil, err
	}
	listing, err := w.client.list(ctx, c, "/v1/usages", url.Values{
		"from": {period.StartDate()},
		"to":   {period.EndDate()},
	})
	if err != nil {
		return nil, fmt.Errorf("wasabi usage: %w", err)
	}

	var records []any
	for _, rec := range listing.Items {
		if !c.matches(rec) {
			continue
		}
		if day, ok := lookupDate(rec, "date", "startTime", "usageDate", "StartTime"); ok && !period.Contains(day) {
			continue
		}
		records = append(records, rec)
	}

	totals := AccumulateUsage(records, period)
	rows, err := PriceUsage(totals, w.pricing)
	if err != nil {
		return nil, err
	}
	currency := w.pricing.Currency

	raw, err := json.Marshal(map[string]any{
		"totals":         totals,
		"pricingUpdated": w.pricing.Updated,
		"pages":          listing.Pages,
		"truncated":      listing.Truncated,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal wasabi-main raw payload: %w", err)
	}

	return &model.PulledBilling{
		PeriodStart: period.Start,
		PeriodEnd:   period.End,
		Amount:      breakdown.Total(rows),
		Currency:    currency,
		Source:      SourceWasabiMainUsage,
		Breakdown:   rows,
		Raw:         raw,
	}, nil
}

// AccumulateUsage sums daily records. Storage is a daily GB reading, so each
// day contributes GB divided by the days in that day's month.
func AccumulateUsage(records []any, period model.BillingPeriod) UsageTotals {
	var t UsageTotals
	for _, rec := range records {
		day, ok := lookupDate(rec, "date", "startTime", "usageDate", "StartTime")
		if !ok {
			day = period.Start
		}
		days := decimal.NewFromInt(int64(daysInMonth(day)))

		active := usageGB(rec, []string{"activeStorageGB", "active_storage_gb"}, []string{"ActiveStorage", "activeStorageBytes", "PaddedStorageSizeBytes"})
		deleted := usageGB(rec, []string{"deletedStorageGB", "deleted_storage_gb"}, []string{"DeletedStorage", "deletedStorageBytes", "DeletedStorageSizeBytes"})
		t.ActiveStorageGBMonth = t.ActiveStorageGBMonth.Add(active.Div(days))
		t.DeletedStorageGBMonth = t.DeletedStorageGBMonth.Add(deleted.Div(days))

		t.IngressGB = t.IngressGB.Add(usageGB(rec, []string{"ingressGB", "ingress_gb", "uploadGB"}, []string{"StorageWrote", "ingressBytes", "UploadBytes"}))
		t.EgressGB = t.EgressGB.Add(usageGB(rec, []string{"egressGB", "egress_gb", "downloadGB"}, []string{"StorageRead", "egressBytes", "DownloadBytes"}))
		if calls, ok := lookupDecimal(rec, "apiCalls", "api_calls", "NumAPICalls", "requests"); ok {
			t.APICalls = t.APICalls.Add(calls)
		}
		t.Records++
	}
	return t
}

func usageGB(rec any, gbPaths, bytePaths []string) decimal.Decimal {
	if v, ok := lookupDecimal(rec, gbPaths...); ok {
		return v
	}
	if v, ok := lookupDecimal(rec, bytePaths...); ok {
		return v.Div(bytesPerGB)
	}
	return decimal.Zero
}

// PriceUsage converts usage totals into priced breakdown rows.
func PriceUsage(t UsageTotals, pricing *WasabiPricing) ([]model.BreakdownRow, error) {
	rates, err := pricing.table()
	if err != nil {
		return nil, err
	}
	cur := pricing.Currency
	rows := []model.BreakdownRow{
		{ResourceType: "Active Storage", Currency: cur, Amount: t.ActiveStorageGBMonth.Mul(rates.activeStorage)},
		{ResourceType: "Deleted Storage", Currency: cur, Amount: t.DeletedStorageGBMonth.Mul(rates.deletedStorage)},
		{ResourceType: "Ingress", Currency: cur, Amount: t.IngressGB.Mul(rates.ingress)},
		{ResourceType: "Egress", Currency: cur, Amount: t.EgressGB.Mul(rates.egress)},
		{ResourceType: "API Calls", Currency: cur, Amount: t.APICalls.Div(thousandCalls).Mul(rates.apiPer1000)},
	}
	for i := range rows {
		rows[i].Amount = rows[i].Amount.Round(4)
	}
	return breakdown.Summarize(rows), nil
}

func daysInMonth(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

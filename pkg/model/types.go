package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the calendar date format used for every billing period boundary.
const DateLayout = "2006-01-02"

// Provider identifies the cloud vendor family behind a Vendor.
type Provider string

const (
	ProviderAzure      Provider = "azure"
	ProviderAWS        Provider = "aws"
	ProviderGCP        Provider = "gcp"
	ProviderRackspace  Provider = "rackspace"
	ProviderWasabi     Provider = "wasabi"
	ProviderWasabiMain Provider = "wasabi-main"
	ProviderPrivate    Provider = "private"
	ProviderVSAX       Provider = "vsax"
	ProviderOther      Provider = "other"
)

// BillingProviders lists the providers that have a billing connector, in dispatch order.
var BillingProviders = []Provider{
	ProviderAzure,
	ProviderAWS,
	ProviderGCP,
	ProviderRackspace,
	ProviderWasabi,
	ProviderWasabiMain,
}

// ParseProvider validates a provider name.
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case ProviderAzure, ProviderAWS, ProviderGCP, ProviderRackspace, ProviderWasabi,
		ProviderWasabiMain, ProviderPrivate, ProviderVSAX, ProviderOther:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedProvider, s)
	}
}

// SupportsBilling reports whether billing data can be pulled for the provider.
func (p Provider) SupportsBilling() bool {
	for _, bp := range BillingProviders {
		if p == bp {
			return true
		}
	}
	return false
}

// Credentials are decrypted vendor credentials. Keys are connector specific.
type Credentials map[string]string

// Get returns the first non-empty value among the given keys.
func (c Credentials) Get(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(c[k]); v != "" {
			return v
		}
	}
	return ""
}

// Vendor is a billed cloud account owned by the vendor registry.
type Vendor struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Provider       Provider  `json:"provider"`
	AccountID      string    `json:"account_id,omitempty"`
	SubscriptionID string    `json:"subscription_id,omitempty"`
	Credentials    string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// BillingPeriod is an inclusive range of UTC calendar dates.
// EndExclusive is always End plus one day.
type BillingPeriod struct {
	Start        time.Time `json:"period_start"`
	End          time.Time `json:"period_end"`
	EndExclusive time.Time `json:"period_end_exclusive"`
}

// NewBillingPeriod truncates both bounds to UTC dates and derives EndExclusive.
func NewBillingPeriod(start, end time.Time) (BillingPeriod, error) {
	s := TruncateDate(start)
	e := TruncateDate(end)
	if e.Before(s) {
		return BillingPeriod{}, fmt.Errorf("%w: end %s is before start %s",
			ErrInvalidRange, e.Format(DateLayout), s.Format(DateLayout))
	}
	return BillingPeriod{Start: s, End: e, EndExclusive: e.AddDate(0, 0, 1)}, nil
}

// TruncateDate drops the time of day, anchoring the date in UTC.
func TruncateDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// StartDate returns the start formatted as YYYY-MM-DD.
func (p BillingPeriod) StartDate() string { return p.Start.Format(DateLayout) }

// EndDate returns the inclusive end formatted as YYYY-MM-DD.
func (p BillingPeriod) EndDate() string { return p.End.Format(DateLayout) }

// EndExclusiveDate returns the exclusive end formatted as YYYY-MM-DD.
func (p BillingPeriod) EndExclusiveDate() string { return p.EndExclusive.Format(DateLayout) }

// Overlaps reports whether the inclusive date range [start, end] intersects the period.
func (p BillingPeriod) Overlaps(start, end time.Time) bool {
	return !TruncateDate(start).After(p.End) && !TruncateDate(end).Before(p.Start)
}

// Contains reports whether the date falls inside the period.
func (p BillingPeriod) Contains(t time.Time) bool {
	d := TruncateDate(t)
	return !d.Before(p.Start) && !d.After(p.End)
}

func (p BillingPeriod) String() string {
	return p.StartDate() + ".." + p.EndDate()
}

// BreakdownRow is one normalized cost bucket.
type BreakdownRow struct {
	ResourceType string          `json:"resource_type"`
	Currency     string          `json:"currency"`
	Amount       decimal.Decimal `json:"amount"`
}

// PulledBilling is the canonical output of a provider connector.
type PulledBilling struct {
	PeriodStart time.Time       `json:"period_start"`
	PeriodEnd   time.Time       `json:"period_end"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Source      string          `json:"source"`
	Breakdown   []BreakdownRow  `json:"breakdown"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

// SnapshotKey identifies exactly one persisted snapshot.
type SnapshotKey struct {
	VendorID    string   `json:"vendor_id"`
	Provider    Provider `json:"provider"`
	PeriodStart string   `json:"period_start"`
	PeriodEnd   string   `json:"period_end"`
}

// KeyFor builds the snapshot key for a vendor and period.
func KeyFor(v Vendor, p BillingPeriod) SnapshotKey {
	return SnapshotKey{
		VendorID:    v.ID,
		Provider:    v.Provider,
		PeriodStart: p.StartDate(),
		PeriodEnd:   p.EndDate(),
	}
}

// BillingSnapshot is a persisted billing pull for one vendor and period.
type BillingSnapshot struct {
	ID          string          `json:"id"`
	VendorID    string          `json:"vendor_id"`
	Provider    Provider        `json:"provider"`
	PeriodStart string          `json:"period_start"`
	PeriodEnd   string          `json:"period_end"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Source      string          `json:"source"`
	Breakdown   []BreakdownRow  `json:"breakdown"`
	Raw         json.RawMessage `json:"raw,omitempty"`
	PulledAt    time.Time       `json:"pulled_at"`
}

// Key returns the snapshot's identity tuple.
func (s *BillingSnapshot) Key() SnapshotKey {
	return SnapshotKey{
		VendorID:    s.VendorID,
		Provider:    s.Provider,
		PeriodStart: s.PeriodStart,
		PeriodEnd:   s.PeriodEnd,
	}
}

// SnapshotFilter narrows snapshot listings. Zero values match everything.
type SnapshotFilter struct {
	VendorID string   `json:"vendor_id,omitempty"`
	Provider Provider `json:"provider,omitempty"`
	From     string   `json:"from,omitempty"`
	To       string   `json:"to,omitempty"`
}

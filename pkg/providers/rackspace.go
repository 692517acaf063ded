package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ogulcanaydogan/billsync/pkg/breakdown"
	"github.com/ogulcanaydogan/billsync/pkg/csvusage"
	"github.com/ogulcanaydogan/billsync/pkg/model"
	"github.com/ogulcanaydogan/billsync/pkg/retry"
)

const (
	// SourceRackspaceCSV tags snapshots built from invoice detail CSVs.
	SourceRackspaceCSV = "rackspace-invoice-csv"
	// SourceRackspaceSummary tags snapshots built from billing summary entries.
	SourceRackspaceSummary = "rackspace-billing-summary"
)

var ranPattern = regexp.MustCompile(`\d{3}-[a-z0-9-]+`)

// Rackspace reads billing through the identity and billing APIs.
type Rackspace struct {
	cfg    RackspaceConfig
	tokens *TokenCache
	deps   Deps

	// accounts remembers catalog-derived RANs per credential key, since a
	// cached token skips the identity call that exposes the catalog.
	accounts sync.Map
}

// NewRackspace creates the Rackspace connector.
func NewRackspace(cfg RackspaceConfig, deps Deps) *Rackspace {
	deps = deps.withDefaults()
	d := DefaultConfig().Rackspace
	if cfg.IdentityURL == "" {
		cfg.IdentityURL = d.IdentityURL
	}
	if cfg.BillingURL == "" {
		cfg.BillingURL = d.BillingURL
	}
	if cfg.HistoryYears <= 0 {
		cfg.HistoryYears = d.HistoryYears
	}
	return &Rackspace{cfg: cfg, tokens: NewTokenCache(deps.Now), deps: deps}
}

// Provider implements Connector.
func (r *Rackspace) Provider() model.Provider { return model.ProviderRackspace }

type rackspaceSession struct {
	token   string
	account string
}

type rackspaceInvoice struct {
	ID            string `json:"id"`
	Date          string `json:"date,omitempty"`
	CoverageStart string `json:"coverage_start,omitempty"`
	CoverageEnd   string `json:"coverage_end,omitempty"`
	Amount        string `json:"amount,omitempty"`
	Currency      string `json:"currency,omitempty"`
	Description   string `json:"description,omitempty"`
}

// Pull implements Connector.
func (r *Rackspace) Pull(ctx context.Context, vendor model.Vendor, creds model.Credentials, period model.BillingPeriod) (*model.PulledBilling, error) {
	username := creds.Get("username", "user")
	apiKey := creds.Get("apiKey", "api_key")
	if username == "" {
		return nil, missing(model.ProviderRackspace, "username")
	}
	if apiKey == "" {
		return nil, missing(model.ProviderRackspace, "apiKey")
	}

	from, err := r.historyStart(period)
	if err != nil {
		return nil, err
	}

	sess, err := r.authenticate(ctx, username, apiKey, firstNonEmpty(vendor.AccountID, creds.Get("accountNumber", "accountId", "ran")))
	if err != nil {
		return nil, err
	}

	invoices, err := r.billingSummary(ctx, sess, from, period)
	if err != nil {
		return nil, fmt.Errorf("rackspace billing summary: %w", err)
	}

	csvImport := r.cfg.CSVImport
	if v := strings.ToLower(creds.Get("csvImport")); v == "false" || v == "0" {
		csvImport = false
	}
	if !csvImport {
		return r.fromSummary(sess, invoices, period)
	}
	return r.fromCSV(ctx, sess, invoices, period)
}

// historyStart clamps the query to the billing API's history window.
func (r *Rackspace) historyStart(period model.BillingPeriod) (time.Time, error) {
	windowStart := model.TruncateDate(r.deps.Now()).AddDate(-r.cfg.HistoryYears, 0, 0)
	if period.End.Before(windowStart) {
		return time.Time{}, retry.Permanent(fmt.Errorf("rackspace: period %s predates the %d-year billing history window", period, r.cfg.HistoryYears))
	}
	if period.Start.Before(windowStart) {
		return windowStart, nil
	}
	return period.Start, nil
}

func (r *Rackspace) authenticate(ctx context.Context, username, apiKey, account string) (rackspaceSession, error) {
	var catalog any
	key := CacheKey("rackspace", username, apiKey)
	token, err := r.tokens.Get(ctx, key, func(ctx context.Context) (Token, error) {
		return retry.Do(ctx, r.deps.TokenPolicy, "rackspace token", func(ctx context.Context) (Token, error) {
			doc, err := postJSON(ctx, r.deps.HTTPClient, strings.TrimRight(r.cfg.IdentityURL, "/")+"/v2.0/tokens", nil, map[string]any{
				"auth": map[string]any{
					"RAX-KSKEY:apiKeyCredentials": map[string]string{"username": username, "apiKey": apiKey},
				},
			})
			if err != nil {
				return Token{}, err
			}
			id := lookupString(doc, "access.token.id")
			if id == "" {
				return Token{}, retry.Permanent(errors.New("identity response has no token id"))
			}
			expires := r.deps.Now().Add(time.Hour)
			if s := lookupString(doc, "access.token.expires"); s != "" {
				if t, err := time.Parse(time.RFC3339, s); err == nil {
					expires = t
				}
			}
			catalog = doc
			return Token{Value: id, ExpiresAt: expires}, nil
		})
	})
	if err != nil {
		return rackspaceSession{}, fmt.Errorf("rackspace identity: %w", err)
	}

	if catalog != nil {
		if ran := accountFromCatalog(catalog); ran != "" {
			r.accounts.Store(key, ran)
		}
	}
	if account == "" {
		if ran, ok := r.accounts.Load(key); ok {
			account = ran.(string)
		}
	}
	if account == "" {
		return rackspaceSession{}, missing(model.ProviderRackspace, "accountNumber (not derivable from service catalog)")
	}
	return rackspaceSession{token: token, account: account}, nil
}

// accountFromCatalog extracts the RAN from service catalog endpoint URLs.
func accountFromCatalog(doc any) string {
	if ran := ranPattern.FindString(strings.ToLower(lookupString(doc, "access.user.RAX-AUTH:domainId"))); ran != "" {
		return ran
	}
	for _, svc := range lookupSlice(doc, "access.serviceCatalog") {
		for _, ep := range lookupSlice(svc, "endpoints") {
			for _, field := range []string{"publicURL", "internalURL", "tenantId"} {
				if ran := ranPattern.FindString(strings.ToLower(lookupString(ep, field))); ran != "" {
					return ran
				}
			}
		}
	}
	return ""
}

func (r *Rackspace) accountURL(sess rackspaceSession, suffix string) string {
	return fmt.Sprintf("%s/v2/accounts/%s%s", strings.TrimRight(r.cfg.BillingURL, "/"), url.PathEscape(sess.account), suffix)
}

// billingSummary lists invoice entries whose coverage overlaps the period.
func (r *Rackspace) billingSummary(ctx context.Context, sess rackspaceSession, from time.Time, period model.BillingPeriod) ([]rackspaceInvoice, error) {
	q := url.Values{
		"from": {from.Format(model.DateLayout)},
		// Invoices for a month are issued after it closes.
		"to": {period.EndExclusive.AddDate(0, 1, 0).Format(model.DateLayout)},
	}
	doc, err := getJSON(ctx, r.deps.HTTPClient, r.accountURL(sess, "/billing-summary?"+q.Encode()), http.Header{"X-Auth-Token": {sess.token}})
	if err != nil {
		return nil, err
	}

	var out []rackspaceInvoice
	for _, item := range lookupSlice(doc, "billingSummary.item", "billingSummary.items", "items", "invoices") {
		kind := strings.ToUpper(lookupString(item, "type"))
		if kind != "" && kind != "INVOICE" {
			continue
		}
		inv := rackspaceInvoice{
			ID:            lookupString(item, "id", "invoiceId", "billNo"),
			Date:          lookupString(item, "date", "invoiceDate"),
			CoverageStart: lookupString(item, "coverageStartDate", "coverageStart", "periodStart"),
			CoverageEnd:   lookupString(item, "coverageEndDate", "coverageEnd", "periodEnd"),
			Amount:        lookupString(item, "amount", "totalAmount"),
			Currency:      lookupString(item, "currency", "currencyCode"),
			Description:   lookupString(item, "description", "name"),
		}
		if inv.ID == "" || !invoiceCovers(inv, period) {
			continue
		}
		out = append(out, inv)
	}
	return out, nil
}

// invoiceCovers checks the coverage window, whose end date is exclusive. An
// invoice without coverage dates is kept; its CSV rows are filtered later and
// its summary total goes through invoiceIssuedFor.
func invoiceCovers(inv rackspaceInvoice, period model.BillingPeriod) bool {
	start, okStart := csvusage.ParseDate(inv.CoverageStart)
	end, okEnd := csvusage.ParseDate(inv.CoverageEnd)
	if !okStart || !okEnd {
		return true
	}
	last := end.AddDate(0, 0, -1)
	if last.Before(start) {
		last = start
	}
	return period.Overlaps(start, last)
}

func hasCoverage(inv rackspaceInvoice) bool {
	_, okStart := csvusage.ParseDate(inv.CoverageStart)
	_, okEnd := csvusage.ParseDate(inv.CoverageEnd)
	return okStart && okEnd
}

// invoiceIssuedFor attributes a coverage-less invoice to the period when it was
// issued after the period closed and within the following month.
func invoiceIssuedFor(inv rackspaceInvoice, period model.BillingPeriod) bool {
	issued, ok := csvusage.ParseDate(inv.Date)
	if !ok {
		return false
	}
	return issued.After(period.End) && issued.Before(period.EndExclusive.AddDate(0, 1, 0))
}

func (r *Rackspace) fromCSV(ctx context.Context, sess rackspaceSession, invoices []rackspaceInvoice, period model.BillingPeriod) (*model.PulledBilling, error) {
	set := csvusage.NewSet()
	var succeeded, dropped, duplicates int
	var failures []string

	for _, inv := range invoices {
		text, err := r.invoiceCSV(ctx, sess, inv.ID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.deps.Logger.Warn("rackspace invoice csv failed", "invoice", inv.ID, "error", err)
			failures = append(failures, inv.ID+": "+err.Error())
			continue
		}
		parsed, err := csvusage.ParseRackspace(text, inv.Currency)
		if err != nil {
			failures = append(failures, inv.ID+": "+err.Error())
			continue
		}
		succeeded++
		dropped += parsed.Dropped
		duplicates += len(parsed.Rows) - set.Add(parsed.Rows...)
	}

	if succeeded == 0 {
		return nil, fmt.Errorf("rackspace csv import: no invoice detail could be imported (%d invoices, %d failures)", len(invoices), len(failures))
	}
	rows := set.Within(period)
	if len(rows) == 0 {
		return nil, fmt.Errorf("rackspace csv import: no usage rows fall within %s", period)
	}

	summarized := breakdown.Summarize(csvusage.ToBreakdown(rows))
	raw, err := json.Marshal(map[string]any{
		"account":          sess.account,
		"invoices":         invoices,
		"invoicesImported": succeeded,
		"failures":         failures,
		"rowCount":         len(rows),
		"droppedRows":      dropped,
		"duplicateRows":    duplicates,
		"rows":             rows,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal rackspace raw payload: %w", err)
	}

	return &model.PulledBilling{
		PeriodStart: period.Start,
		PeriodEnd:   period.End,
		Amount:      breakdown.Total(summarized),
		Currency:    breakdown.DominantCurrency(summarized, breakdown.DefaultCurrency),
		Source:      SourceRackspaceCSV,
		Breakdown:   summarized,
		Raw:         raw,
	}, nil
}

func (r *Rackspace) invoiceCSV(ctx context.Context, sess rackspaceSession, invoiceID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.accountURL(sess, "/invoices/"+url.PathEscape(invoiceID)+"/detail"), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Auth-Token", sess.token)
	req.Header.Set("Accept", "text/csv")
	body, err := do(r.deps.HTTPClient, req)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// fromSummary is the best-effort path when CSV import is off. Its rows come
// from invoice totals and are labeled with a distinct source.
func (r *Rackspace) fromSummary(sess rackspaceSession, invoices []rackspaceInvoice, period model.BillingPeriod) (*model.PulledBilling, error) {
	var rows []model.BreakdownRow
	var used []rackspaceInvoice
	for _, inv := range invoices {
		if !hasCoverage(inv) && !invoiceIssuedFor(inv, period) {
			r.deps.Logger.Debug("rackspace invoice outside period", "invoice", inv.ID, "date", inv.Date)
			continue
		}
		used = append(used, inv)
		amount, ok := csvusage.ParseAmount(inv.Amount)
		if !ok {
			continue
		}
		rows = append(rows, model.BreakdownRow{
			ResourceType: breakdown.NormalizeRackspaceResourceType(inv.Description),
			Currency:     breakdown.NormalizeCurrency(inv.Currency, breakdown.DefaultCurrency),
			Amount:       amount,
		})
	}

	summarized := breakdown.Summarize(rows)
	raw, err := json.Marshal(map[string]any{
		"account":  sess.account,
		"invoices": used,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal rackspace raw payload: %w", err)
	}
	return &model.PulledBilling{
		PeriodStart: period.Start,
		PeriodEnd:   period.End,
		Amount:      breakdown.Total(summarized),
		Currency:    breakdown.DominantCurrency(summarized, breakdown.DefaultCurrency),
		Source:      SourceRackspaceSummary,
		Breakdown:   summarized,
		Raw:         raw,
	}, nil
}

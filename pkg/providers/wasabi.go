package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ogulcanaydogan/billsync/pkg/breakdown"
	"github.com/ogulcanaydogan/billsync/pkg/model"
	"github.com/ogulcanaydogan/billsync/pkg/paginate"
)

// SourceWasabiWACM tags snapshots built from WACM invoices.
const SourceWasabiWACM = "wasabi-wacm-invoices"

var (
	wasabiItemPaths  = []string{"data.items", "data.content", "items", "content", "data"}
	wasabiTotalPaths = []string{"data.total", "data.totalElements", "total", "totalElements", "data.page.total"}

	wasabiAccountIDPaths    = []string{"subAccountId", "sub_account_id", "accountId", "account_id", "subAccount.id"}
	wasabiAccountNamePaths  = []string{"subAccountName", "sub_account_name", "accountName", "account_name", "subAccount.name"}
	wasabiAccountEmailPaths = []string{"subAccountEmail", "email", "accountEmail", "subAccount.email"}
)

// wasabiClient lists WACM resources with basic auth and paging.
type wasabiClient struct {
	cfg  WasabiConfig
	deps Deps
}

type wasabiCreds struct {
	username string
	apiKey   string
	keys     map[string]struct{}
}

func (w wasabiClient) credentials(provider model.Provider, vendor model.Vendor, creds model.Credentials) (wasabiCreds, error) {
	c := wasabiCreds{
		username: creds.Get("username", "user", "accessKey"),
		apiKey:   creds.Get("apiKey", "api_key", "password", "secretKey"),
		keys:     make(map[string]struct{}),
	}
	if c.username == "" {
		return c, missing(provider, "username")
	}
	if c.apiKey == "" {
		return c, missing(provider, "apiKey")
	}
	for _, k := range []string{
		vendor.AccountID,
		creds.Get("subAccountId", "accountId"),
		creds.Get("subAccountName", "accountName"),
		creds.Get("subAccountEmail", "email"),
	} {
		if n := normalizeLookupKey(k); n != "" {
			c.keys[n] = struct{}{}
		}
	}
	return c, nil
}

// matches reports whether an item belongs to the vendor. Unscoped
// credentials match every item.
func (c wasabiCreds) matches(item any) bool {
	if len(c.keys) == 0 {
		return true
	}
	for _, paths := range [][]string{wasabiAccountIDPaths, wasabiAccountNamePaths, wasabiAccountEmailPaths} {
		for _, p := range paths {
			if v := normalizeLookupKey(lookupString(item, p)); v != "" {
				if _, ok := c.keys[v]; ok {
					return true
				}
			}
		}
	}
	return false
}

// list fetches every page of a WACM collection.
func (w wasabiClient) list(ctx context.Context, c wasabiCreds, path string, query url.Values) (paginate.Result[any], error) {
	base := strings.TrimRight(w.cfg.BaseURL, "/") + path
	fetch := func(ctx context.Context, page, size int) (paginate.Page[any], error) {
		q := url.Values{}
		for k, vs := range query {
			q[k] = vs
		}
		q.Set("page", strconv.Itoa(page))
		q.Set("size", strconv.Itoa(size))

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+q.Encode(), nil)
		if err != nil {
			return paginate.Page[any]{}, fmt.Errorf("create request: %w", err)
		}
		req.SetBasicAuth(c.username, c.apiKey)
		req.Header.Set("Accept", "application/json")

		body, err := do(w.deps.HTTPClient, req)
		if err != nil {
			return paginate.Page[any]{}, err
		}
		doc, err := decodeDocument(body)
		if err != nil {
			return paginate.Page[any]{}, err
		}
		return wasabiPage(doc), nil
	}

	res, err := paginate.FetchAll(ctx, fetch, w.cfg.PageSize, w.cfg.MaxPages)
	if err != nil {
		return res, err
	}
	if res.Truncated {
		w.deps.Logger.Warn("wasabi listing truncated", "path", path, "pages", res.Pages)
	}
	return res, nil
}

func wasabiPage(doc any) paginate.Page[any] {
	if arr, ok := doc.([]any); ok {
		return paginate.Page[any]{Items: arr, Total: -1}
	}
	return paginate.Page[any]{
		Items: lookupSlice(doc, wasabiItemPaths...),
		Total: lookupInt(doc, wasabiTotalPaths...),
	}
}

func withWasabiDefaults(cfg WasabiConfig) WasabiConfig {
	d := DefaultConfig().Wasabi
	if cfg.BaseURL == "" {
		cfg.BaseURL = d.BaseURL
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = d.PageSize
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = d.MaxPages
	}
	return cfg
}

// Wasabi reads billed invoice amounts from WACM.
type Wasabi struct {
	client wasabiClient
}

// NewWasabi creates the WACM invoice connector.
func NewWasabi(cfg WasabiConfig, deps Deps) *Wasabi {
	return &Wasabi{client: wasabiClient{cfg: withWasabiDefaults(cfg), deps: deps.withDefaults()}}
}

// Provider implements Connector.
func (w *Wasabi) Provider() model.Provider { return model.ProviderWasabi }

// Pull implements Connector.
func (w *Wasabi) Pull(ctx context.Context, vendor model.Vendor, creds model.Credentials, period model.BillingPeriod) (*model.PulledBilling, error) {
	c, err := w.client.credentials(model.ProviderWasabi, vendor, creds)
	if err != nil {
		return nil, err
	}
	listing, err := w.client.list(ctx, c, "/v1/invoices", url.Values{
		"from": {period.StartDate()},
		"to":   {period.EndDate()},
	})
	if err != nil {
		return nil, fmt.Errorf("wasabi invoices: %w", err)
	}

	var (
		rows     []model.BreakdownRow
		matched  []any
		invoices int
	)
	for _, inv := range listing.Items {
		if !c.matches(inv) {
			continue
		}
		start, okStart := lookupDate(inv, "periodStart", "startDate", "billingPeriod.start", "from")
		end, okEnd := lookupDate(inv, "periodEnd", "endDate", "billingPeriod.end", "to")
		if okStart && okEnd && !period.Overlaps(start, end) {
			continue
		}
		invoices++
		matched = append(matched, inv)
		rows = append(rows, wasabiInvoiceRows(inv)...)
	}

	summarized := breakdown.Summarize(rows)
	raw, err := json.Marshal(map[string]any{
		"invoices":  matched,
		"pages":     listing.Pages,
		"truncated": listing.Truncated,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal wasabi raw payload: %w", err)
	}

	return &model.PulledBilling{
		PeriodStart: period.Start,
		PeriodEnd:   period.End,
		Amount:      breakdown.Total(summarized),
		Currency:    breakdown.DominantCurrency(summarized, breakdown.DefaultCurrency),
		Source:      SourceWasabiWACM,
		Breakdown:   summarized,
		Raw:         raw,
	}, nil
}

// wasabiInvoiceRows prefers itemized lines and falls back to the invoice total.
func wasabiInvoiceRows(inv any) []model.BreakdownRow {
	currency := breakdown.NormalizeCurrency(lookupString(inv, "currency", "currencyCode"), breakdown.DefaultCurrency)

	var rows []model.BreakdownRow
	for _, li := range lookupSlice(inv, "lineItems", "items", "charges") {
		amount, ok := lookupDecimal(li, "amount", "total", "cost")
		if !ok {
			continue
		}
		rows = append(rows, model.BreakdownRow{
			ResourceType: breakdown.NormalizeResourceType(lookupString(li, "description", "name", "type", "category")),
			Currency:     breakdown.NormalizeCurrency(lookupString(li, "currency"), currency),
			Amount:       amount,
		})
	}
	if len(rows) > 0 {
		return rows
	}
	if amount, ok := lookupDecimal(inv, "amount", "total", "totalAmount", "amountDue"); ok {
		rows = append(rows, model.BreakdownRow{
			ResourceType: "Storage",
			Currency:     currency,
			Amount:       amount,
		})
	}
	return rows
}

package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ogulcanaydogan/billsync/pkg/breakdown"
	"github.com/ogulcanaydogan/billsync/pkg/model"
	"github.com/ogulcanaydogan/billsync/pkg/retry"
)

// SourceAzureCostManagement tags snapshots produced by the Azure connector.
const SourceAzureCostManagement = "azure-cost-management"

var (
	azureCostColumns     = []string{"Cost", "PreTaxCost", "CostUSD", "PreTaxCostUSD"}
	azureCurrencyColumns = []string{"Currency", "BillingCurrency", "BillingCurrencyCode"}
	azureServiceColumns  = []string{"ServiceName", "MeterCategory", "ResourceType"}
)

// Azure queries the Cost Management API with client-credentials tokens.
type Azure struct {
	cfg    AzureConfig
	tokens *TokenCache
	deps   Deps
}

// NewAzure creates an Azure connector sharing the given token cache.
func NewAzure(cfg AzureConfig, tokens *TokenCache, deps Deps) *Azure {
	deps = deps.withDefaults()
	if tokens == nil {
		tokens = NewTokenCache(deps.Now)
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultConfig().Azure.APIVersion
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultConfig().Azure.MaxPages
	}
	return &Azure{cfg: cfg, tokens: tokens, deps: deps}
}

// Provider implements Connector.
func (a *Azure) Provider() model.Provider { return model.ProviderAzure }

type azureCreds struct {
	tenantID       string
	clientID       string
	clientSecret   string
	subscriptionID string
}

func (a *Azure) credentials(vendor model.Vendor, creds model.Credentials) (azureCreds, error) {
	c := azureCreds{
		tenantID:       creds.Get("tenantId", "tenant_id", "tenant"),
		clientID:       creds.Get("clientId", "client_id", "appId"),
		clientSecret:   creds.Get("clientSecret", "client_secret", "secret"),
		subscriptionID: firstNonEmpty(vendor.SubscriptionID, creds.Get("subscriptionId", "subscription_id")),
	}
	switch {
	case c.tenantID == "":
		return c, missing(model.ProviderAzure, "tenantId")
	case c.clientID == "":
		return c, missing(model.ProviderAzure, "clientId")
	case c.clientSecret == "":
		return c, missing(model.ProviderAzure, "clientSecret")
	case c.subscriptionID == "":
		return c, missing(model.ProviderAzure, "subscriptionId")
	}
	return c, nil
}

// Pull implements Connector.
func (a *Azure) Pull(ctx context.Context, vendor model.Vendor, creds model.Credentials, period model.BillingPeriod) (*model.PulledBilling, error) {
	c, err := a.credentials(vendor, creds)
	if err != nil {
		return nil, err
	}

	token, err := a.token(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("azure token: %w", err)
	}

	result, err := a.queryWithFallback(ctx, vendor, c.subscriptionID, token, period)
	if statusIs(err, http.StatusUnauthorized) {
		a.deps.Logger.Info("azure rejected cached token, refreshing", "vendor_id", vendor.ID)
		a.tokens.Invalidate(a.tokenKey(c))
		if token, err = a.token(ctx, c); err != nil {
			return nil, fmt.Errorf("azure token: %w", err)
		}
		result, err = a.queryWithFallback(ctx, vendor, c.subscriptionID, token, period)
	}
	if err != nil {
		return nil, fmt.Errorf("azure cost query: %w", err)
	}

	rows := breakdown.Summarize(result.rows)
	currency := breakdown.DominantCurrency(rows, breakdown.DefaultCurrency)

	raw, err := json.Marshal(map[string]any{
		"subscriptionId":    c.subscriptionID,
		"groupedByResource": result.byResource,
		"pages":             result.pages,
		"columns":           result.columns,
		"rowCount":          result.rowCount,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal azure raw payload: %w", err)
	}

	return &model.PulledBilling{
		PeriodStart: period.Start,
		PeriodEnd:   period.End,
		Amount:      breakdown.Total(rows),
		Currency:    currency,
		Source:      SourceAzureCostManagement,
		Breakdown:   rows,
		Raw:         raw,
	}, nil
}

// queryWithFallback drops resource grouping when the API rejects the grouped
// query. Auth and throttling failures are returned as is.
func (a *Azure) queryWithFallback(ctx context.Context, vendor model.Vendor, subscriptionID, token string, period model.BillingPeriod) (azureResult, error) {
	result, err := a.query(ctx, subscriptionID, token, period, true)
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode < 400 || httpErr.StatusCode >= 500 {
		return result, err
	}
	switch httpErr.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests:
		return result, err
	}
	a.deps.Logger.Info("azure rejected resource grouping, retrying without it",
		"vendor_id", vendor.ID,
		"status", httpErr.StatusCode,
	)
	return a.query(ctx, subscriptionID, token, period, false)
}

func statusIs(err error, code int) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == code
}

func (a *Azure) tokenKey(c azureCreds) string {
	return CacheKey("azure", c.tenantID, c.clientID, c.clientSecret)
}

func (a *Azure) token(ctx context.Context, c azureCreds) (string, error) {
	return a.tokens.Get(ctx, a.tokenKey(c), func(ctx context.Context) (Token, error) {
		return retry.Do(ctx, a.deps.TokenPolicy, "azure token", func(ctx context.Context) (Token, error) {
			return a.fetchToken(ctx, c)
		})
	})
}

func (a *Azure) fetchToken(ctx context.Context, c azureCreds) (Token, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"scope":         {strings.TrimRight(a.cfg.ManagementURL, "/") + "/.default"},
	}
	endpoint := fmt.Sprintf("%s/%s/oauth2/v2.0/token", strings.TrimRight(a.cfg.LoginURL, "/"), url.PathEscape(c.tenantID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := do(a.deps.HTTPClient, req)
	if err != nil {
		return Token{}, err
	}
	doc, err := decodeDocument(body)
	if err != nil {
		return Token{}, err
	}

	value := lookupString(doc, "access_token")
	if value == "" {
		return Token{}, retry.Permanent(errors.New("token response has no access_token"))
	}
	ttl := lookupInt(doc, "expires_in")
	if ttl <= 0 {
		ttl = 3600
	}
	return Token{Value: value, ExpiresAt: a.deps.Now().Add(time.Duration(ttl) * time.Second)}, nil
}

type azureResult struct {
	rows       []model.BreakdownRow
	columns    []string
	pages      int
	rowCount   int
	byResource bool
}

func (a *Azure) query(ctx context.Context, subscriptionID, token string, period model.BillingPeriod, byResource bool) (azureResult, error) {
	grouping := []map[string]string{{"type": "Dimension", "name": "ServiceName"}}
	if byResource {
		grouping = append(grouping, map[string]string{"type": "Dimension", "name": "ResourceId"})
	}
	payload := map[string]any{
		"type":      "ActualCost",
		"timeframe": "Custom",
		"timePeriod": map[string]string{
			"from": period.StartDate() + "T00:00:00Z",
			"to":   period.EndDate() + "T23:59:59Z",
		},
		"dataset": map[string]any{
			"granularity": "None",
			"aggregation": map[string]any{
				"totalCost": map[string]string{"name": "Cost", "function": "Sum"},
			},
			"grouping": grouping,
		},
	}

	next := fmt.Sprintf("%s/subscriptions/%s/providers/Microsoft.CostManagement/query?api-version=%s",
		strings.TrimRight(a.cfg.ManagementURL, "/"), url.PathEscape(subscriptionID), url.QueryEscape(a.cfg.APIVersion))
	header := http.Header{"Authorization": {"Bearer " + token}}

	res := azureResult{byResource: byResource}
	for next != "" {
		if res.pages >= a.cfg.MaxPages {
			a.deps.Logger.Warn("azure cost query truncated", "pages", res.pages)
			break
		}
		doc, err := postJSON(ctx, a.deps.HTTPClient, next, header, payload)
		if err != nil {
			return res, err
		}
		res.pages++

		cols := azureColumns(doc)
		if res.columns == nil {
			res.columns = cols.names
		}
		for _, r := range lookupSlice(doc, "properties.rows", "rows") {
			cells, ok := r.([]any)
			if !ok {
				continue
			}
			res.rowCount++
			if row, ok := cols.row(cells); ok {
				res.rows = append(res.rows, row)
			}
		}
		next = lookupString(doc, "properties.nextLink", "nextLink")
	}
	return res, nil
}

type azureColumnIndex struct {
	names    []string
	cost     int
	currency int
	service  int
}

// azureColumns maps the result columns by name so reordered responses still parse.
func azureColumns(doc any) azureColumnIndex {
	idx := azureColumnIndex{cost: -1, currency: -1, service: -1}
	byName := make(map[string]int)
	for i, c := range lookupSlice(doc, "properties.columns", "columns") {
		name := lookupString(c, "name")
		idx.names = append(idx.names, name)
		if _, seen := byName[strings.ToLower(name)]; !seen {
			byName[strings.ToLower(name)] = i
		}
	}
	find := func(candidates []string) int {
		for _, c := range candidates {
			if i, ok := byName[strings.ToLower(c)]; ok {
				return i
			}
		}
		return -1
	}
	idx.cost = find(azureCostColumns)
	idx.currency = find(azureCurrencyColumns)
	idx.service = find(azureServiceColumns)
	return idx
}

func (idx azureColumnIndex) row(cells []any) (model.BreakdownRow, bool) {
	if idx.cost < 0 || idx.cost >= len(cells) {
		return model.BreakdownRow{}, false
	}
	amount, ok := asDecimal(cells[idx.cost])
	if !ok {
		return model.BreakdownRow{}, false
	}
	row := model.BreakdownRow{Amount: amount, Currency: breakdown.DefaultCurrency}
	if idx.currency >= 0 && idx.currency < len(cells) {
		row.Currency = breakdown.NormalizeCurrency(asString(cells[idx.currency]), breakdown.DefaultCurrency)
	}
	if idx.service >= 0 && idx.service < len(cells) {
		row.ResourceType = asString(cells[idx.service])
	}
	row.ResourceType = breakdown.NormalizeResourceType(row.ResourceType)
	return row, true
}

// nonTaggableNamespaces are resource providers whose line items cannot carry tags.
var nonTaggableNamespaces = []string{
	"microsoft.marketplace",
	"microsoft.saas",
	"microsoft.capacity",
	"microsoft.billing",
	"microsoft.consumption",
}

// ErrNonTaggableResource marks a billed item that maps to no taggable cloud
// resource. Callers fall back to cached data instead of failing.
var ErrNonTaggableResource = errors.New("resource is not taggable")

// ParseAzureResourceID validates an ARM resource id and returns its provider
// namespace. Marketplace and billing namespaces yield ErrNonTaggableResource.
func ParseAzureResourceID(id string) (string, error) {
	parts := strings.Split(strings.Trim(id, "/"), "/")
	if len(parts) < 2 || !strings.EqualFold(parts[0], "subscriptions") {
		return "", retry.Permanent(fmt.Errorf("not an ARM resource id: %q", id))
	}
	for i := 0; i+1 < len(parts); i++ {
		if strings.EqualFold(parts[i], "providers") {
			ns := strings.ToLower(parts[i+1])
			for _, nt := range nonTaggableNamespaces {
				if ns == nt {
					return ns, fmt.Errorf("%w: InvalidResourceNamespace %s", ErrNonTaggableResource, parts[i+1])
				}
			}
			return ns, nil
		}
	}
	return "", fmt.Errorf("%w: %q names no resource provider", ErrNonTaggableResource, id)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

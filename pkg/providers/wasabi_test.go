package providers_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ogulcanaydogan/billsync/pkg/model"
	"github.com/ogulcanaydogan/billsync/pkg/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wasabiServer(t *testing.T, pages map[string]map[string]string) (*httptest.Server, *[]string) {
	t.Helper()
	var requested []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "acme", user)
		assert.Equal(t, "key", pass)
		assert.Equal(t, "2026-08-01", r.URL.Query().Get("from"))
		assert.Equal(t, "2026-08-31", r.URL.Query().Get("to"))

		requested = append(requested, r.URL.Path+"?page="+r.URL.Query().Get("page"))
		body, ok := pages[r.URL.Path][r.URL.Query().Get("page")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &requested
}

func TestWasabi_InvoicesPagedAndScopedToAccount(t *testing.T) {
	srv, requested := wasabiServer(t, map[string]map[string]string{
		"/v1/invoices": {
			"1": `{"data":{"total":3,"items":[
				{"subAccountId":"SA-100","periodStart":"2026-08-01","periodEnd":"2026-08-31","currency":"usd",
				 "lineItems":[{"description":"Storage","amount":"5.99"},{"description":"Deleted  Storage","amount":"1.00"}]},
				{"subAccountId":"SA-200","periodStart":"2026-08-01","periodEnd":"2026-08-31","amount":"100"}
			]}}`,
			"2": `{"data":{"total":3,"items":[
				{"subAccountName":"ACME corp.","periodStart":"2026-08-01","periodEnd":"2026-08-31","amount":"2.00"}
			]}}`,
		},
	})
	w := providers.NewWasabi(providers.WasabiConfig{BaseURL: srv.URL, PageSize: 2, MaxPages: 10}, testDeps(srv.Client()))

	b, err := w.Pull(context.Background(),
		model.Vendor{ID: "v-w", AccountID: "sa_100"},
		model.Credentials{"username": "acme", "apiKey": "key", "subAccountName": "acme-corp"},
		august(t))
	require.NoError(t, err)

	assert.Equal(t, []string{"/v1/invoices?page=1", "/v1/invoices?page=2"}, *requested)
	assert.Equal(t, providers.SourceWasabiWACM, b.Source)
	assert.Equal(t, "8.99", b.Amount.String())
	require.Len(t, b.Breakdown, 2)
	assert.Equal(t, "Storage", b.Breakdown[0].ResourceType)
	assert.Equal(t, "7.99", b.Breakdown[0].Amount.String())
	assert.Equal(t, "Deleted Storage", b.Breakdown[1].ResourceType)
}

func TestWasabi_StopsAtReportedTotal(t *testing.T) {
	srv, requested := wasabiServer(t, map[string]map[string]string{
		"/v1/invoices": {
			"1": `{"total":2,"items":[{"amount":"1"},{"amount":"2"}]}`,
		},
	})
	w := providers.NewWasabi(providers.WasabiConfig{BaseURL: srv.URL, PageSize: 2, MaxPages: 10}, testDeps(srv.Client()))

	b, err := w.Pull(context.Background(), model.Vendor{ID: "v"}, model.Credentials{"username": "acme", "apiKey": "key"}, august(t))
	require.NoError(t, err)
	assert.Len(t, *requested, 1)
	assert.Equal(t, "3", b.Amount.String())
}

func TestWasabi_MissingCredentials(t *testing.T) {
	w := providers.NewWasabi(providers.WasabiConfig{}, providers.Deps{})
	_, err := w.Pull(context.Background(), model.Vendor{ID: "v"}, model.Credentials{"username": "u"}, august(t))
	assert.ErrorIs(t, err, model.ErrMissingCredentials)
}

func TestWasabiMain_PricesUsage(t *testing.T) {
	srv, _ := wasabiServer(t, map[string]map[string]string{
		"/v1/usages": {
			"1": `{"data":{"items":[
				{"subAccountId":"SA-100","date":"2026-08-01","activeStorageGB":"3100","deletedStorageGB":"310","egressGB":"10","apiCalls":"5000"},
				{"subAccountId":"SA-100","date":"2026-08-02","ActiveStorage":3100000000000},
				{"subAccountId":"SA-100","date":"2026-09-01","activeStorageGB":"99999"},
				{"subAccountId":"SA-999","date":"2026-08-01","activeStorageGB":"99999"}
			]}}`,
		},
	})
	pricing, err := providers.LoadPricingFromBytes([]byte(`
provider: wasabi-main
currency: USD
rates:
  active_storage_gb_month: "0.0069"
  deleted_storage_gb_month: "0.0069"
  egress_gb: "0.01"
  api_calls_per_1000: "0.004"
`))
	require.NoError(t, err)
	w := providers.NewWasabiMain(
		providers.WasabiConfig{BaseURL: srv.URL, PageSize: 10, MaxPages: 5},
		providers.WasabiMainConfig{Pricing: pricing},
		testDeps(srv.Client()),
	)

	b, err := w.Pull(context.Background(), model.Vendor{ID: "v-wm", AccountID: "SA-100"},
		model.Credentials{"username": "acme", "apiKey": "key"}, august(t))
	require.NoError(t, err)

	assert.Equal(t, providers.SourceWasabiMainUsage, b.Source)
	assert.Equal(t, "1.569", b.Amount.String())
	require.Len(t, b.Breakdown, 4)
	assert.Equal(t, "Active Storage", b.Breakdown[0].ResourceType)
	assert.Equal(t, "1.38", b.Breakdown[0].Amount.String())
	assert.Equal(t, "Egress", b.Breakdown[1].ResourceType)
	assert.Equal(t, "Deleted Storage", b.Breakdown[2].ResourceType)
	assert.Equal(t, "API Calls", b.Breakdown[3].ResourceType)
}

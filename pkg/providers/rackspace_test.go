package providers_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/ogulcanaydogan/billsync/pkg/model"
	"github.com/ogulcanaydogan/billsync/pkg/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rackspaceDetailCSV = "BILL_NO,ACCOUNT_NO,SERVICE_TYPE,EVENT_TYPE,BILL_START_DATE,BILL_END_DATE,AMOUNT,CURRENCY\r\n" +
	"B1,020-12345,Cloud Servers Hosting Service (August 2026),USAGE,2026-08-01,2026-09-01,10.00,USD\r\n" +
	"B1,020-12345,Cloud Files,USAGE,2026-08-01,2026-09-01,\"1,234.50\",USD\r\n" +
	"B1,020-12345,Cloud Files,USAGE,2026-08-01,2026-09-01,0,USD\r\n" +
	"B1,020-12345,Cloud Files,USAGE,2026-07-01,2026-08-01,99.00,USD\r\n"

type rackspaceFake struct {
	identityCalls int32
	csvCalls      int32
	failCSV       bool
	csv           string
	summary       string
}

func (f *rackspaceFake) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v2.0/tokens", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.identityCalls, 1)
		assert.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access":{
			"token":{"id":"rs-token","expires":"2099-01-01T00:00:00Z"},
			"serviceCatalog":[
				{"name":"cloudFiles","endpoints":[{"publicURL":"https://storage.example.com/v1/MossoCloudFS_abc"}]},
				{"name":"cloudBilling","endpoints":[{"publicURL":"https://billing.example.com/v2/accounts/020-12345"}]}
			]}}`)
	})
	mux.HandleFunc("/v2/accounts/020-12345/billing-summary", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "rs-token", r.Header.Get("X-Auth-Token"))
		assert.Equal(t, "2026-08-01", r.URL.Query().Get("from"))
		w.Header().Set("Content-Type", "application/json")
		if f.summary != "" {
			fmt.Fprint(w, f.summary)
			return
		}
		fmt.Fprint(w, `{"billingSummary":{"item":[
			{"type":"INVOICE","id":"INV-1","coverageStartDate":"2026-08-01","coverageEndDate":"2026-09-01","amount":"1244.50","currency":"USD","description":"Managed Cloud (August 2026)"},
			{"type":"INVOICE","id":"INV-1B","coverageStartDate":"2026-08-01","coverageEndDate":"2026-09-01","amount":"0","currency":"USD"},
			{"type":"INVOICE","id":"INV-2","coverageStartDate":"2026-09-01","coverageEndDate":"2026-10-01","amount":"50","currency":"USD"},
			{"type":"PAYMENT","id":"PAY-1","amount":"-1000"}
		]}}`)
	})
	detail := func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.csvCalls, 1)
		assert.Equal(t, "text/csv", r.Header.Get("Accept"))
		if f.failCSV {
			http.Error(w, "gone", http.StatusNotFound)
			return
		}
		fmt.Fprint(w, f.csv)
	}
	mux.HandleFunc("/v2/accounts/020-12345/invoices/INV-1/detail", detail)
	mux.HandleFunc("/v2/accounts/020-12345/invoices/INV-1B/detail", detail)
	mux.HandleFunc("/v2/accounts/020-12345/invoices/INV-2/detail", func(w http.ResponseWriter, _ *http.Request) {
		t.Error("invoice outside the period must not be downloaded")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestRackspace(srv *httptest.Server, csvImport bool) *providers.Rackspace {
	return providers.NewRackspace(providers.RackspaceConfig{
		IdentityURL: srv.URL,
		BillingURL:  srv.URL,
		CSVImport:   csvImport,
	}, testDeps(srv.Client()))
}

var rackspaceCreds = model.Credentials{"username": "ops", "apiKey": "k"}

func TestRackspace_CSVImportDedupesOverlappingInvoices(t *testing.T) {
	f := &rackspaceFake{csv: rackspaceDetailCSV}
	rs := newTestRackspace(f.server(t), true)

	b, err := rs.Pull(context.Background(), model.Vendor{ID: "v-rs"}, rackspaceCreds, august(t))
	require.NoError(t, err)

	assert.Equal(t, providers.SourceRackspaceCSV, b.Source)
	assert.EqualValues(t, 2, f.csvCalls)
	assert.Equal(t, "1244.5", b.Amount.String())
	require.Len(t, b.Breakdown, 2)
	assert.Equal(t, "Cloud Files", b.Breakdown[0].ResourceType)
	assert.Equal(t, "1234.5", b.Breakdown[0].Amount.String())
	assert.Equal(t, "Cloud Servers", b.Breakdown[1].ResourceType)
}

func TestRackspace_TokenAndAccountReused(t *testing.T) {
	f := &rackspaceFake{csv: rackspaceDetailCSV}
	rs := newTestRackspace(f.server(t), true)

	for i := 0; i < 2; i++ {
		_, err := rs.Pull(context.Background(), model.Vendor{ID: "v-rs"}, rackspaceCreds, august(t))
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, f.identityCalls)
}

func TestRackspace_CSVRequiredButNoInvoiceSucceeds(t *testing.T) {
	f := &rackspaceFake{failCSV: true}
	rs := newTestRackspace(f.server(t), true)

	_, err := rs.Pull(context.Background(), model.Vendor{ID: "v-rs"}, rackspaceCreds, august(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no invoice detail could be imported")
}

func TestRackspace_CSVWithNoRowsInPeriodFails(t *testing.T) {
	f := &rackspaceFake{csv: "BILL_NO,BILL_START_DATE,BILL_END_DATE,AMOUNT\nB1,2026-07-01,2026-08-01,5.00\n"}
	rs := newTestRackspace(f.server(t), true)

	_, err := rs.Pull(context.Background(), model.Vendor{ID: "v-rs"}, rackspaceCreds, august(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no usage rows")
}

func TestRackspace_SummaryFallbackIsSeparateSource(t *testing.T) {
	f := &rackspaceFake{}
	rs := newTestRackspace(f.server(t), false)

	b, err := rs.Pull(context.Background(), model.Vendor{ID: "v-rs"}, rackspaceCreds, august(t))
	require.NoError(t, err)

	assert.Equal(t, providers.SourceRackspaceSummary, b.Source)
	assert.EqualValues(t, 0, f.csvCalls)
	assert.Equal(t, "1244.5", b.Amount.String())
	require.Len(t, b.Breakdown, 1)
	assert.Equal(t, "Managed Cloud", b.Breakdown[0].ResourceType)
}

func TestRackspace_SummaryAttributesUndatedInvoicesByIssueDate(t *testing.T) {
	f := &rackspaceFake{summary: `{"billingSummary":{"item":[
		{"type":"INVOICE","id":"INV-JUL","date":"2026-08-01","amount":"40","currency":"USD"},
		{"type":"INVOICE","id":"INV-AUG","date":"2026-09-01","amount":"100","currency":"USD","description":"Cloud Servers"},
		{"type":"INVOICE","id":"INV-SEP","date":"2026-10-01","amount":"900","currency":"USD"},
		{"type":"INVOICE","id":"INV-NODATE","amount":"7","currency":"USD"}
	]}}`}
	rs := newTestRackspace(f.server(t), false)

	b, err := rs.Pull(context.Background(), model.Vendor{ID: "v-rs"}, rackspaceCreds, august(t))
	require.NoError(t, err)

	assert.Equal(t, "100", b.Amount.String())
	require.Len(t, b.Breakdown, 1)
	assert.Equal(t, "Cloud Servers", b.Breakdown[0].ResourceType)
	assert.Contains(t, string(b.Raw), "INV-AUG")
	assert.NotContains(t, string(b.Raw), "INV-SEP")
}

func TestRackspace_PeriodBeforeHistoryWindow(t *testing.T) {
	f := &rackspaceFake{}
	rs := newTestRackspace(f.server(t), true)

	old, err := model.NewBillingPeriod(testNow.AddDate(-3, 0, 0), testNow.AddDate(-3, 0, 5))
	require.NoError(t, err)
	_, err = rs.Pull(context.Background(), model.Vendor{ID: "v-rs"}, rackspaceCreds, old)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "history window")
	assert.EqualValues(t, 0, f.identityCalls)
}

func TestRackspace_MissingCredentials(t *testing.T) {
	rs := providers.NewRackspace(providers.RackspaceConfig{}, providers.Deps{})
	_, err := rs.Pull(context.Background(), model.Vendor{ID: "v"}, model.Credentials{"username": "u"}, august(t))
	assert.ErrorIs(t, err, model.ErrMissingCredentials)
}

package backfill_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ogulcanaydogan/billsync/pkg/backfill"
	"github.com/ogulcanaydogan/billsync/pkg/ingest"
	"github.com/ogulcanaydogan/billsync/pkg/model"
	"github.com/ogulcanaydogan/billsync/pkg/providers"
	"github.com/ogulcanaydogan/billsync/pkg/retry"
	"github.com/ogulcanaydogan/billsync/pkg/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubConnector struct {
	provider model.Provider
	failOn   string
}

func (s stubConnector) Provider() model.Provider { return s.provider }

func (s stubConnector) Pull(_ context.Context, v model.Vendor, _ model.Credentials, p model.BillingPeriod) (*model.PulledBilling, error) {
	if p.StartDate() == s.failOn {
		return nil, retry.Permanent(errors.New("access denied"))
	}
	amount := decimal.NewFromInt(int64(p.Start.Month()))
	return &model.PulledBilling{
		PeriodStart: p.Start,
		PeriodEnd:   p.End,
		Amount:      amount,
		Currency:    "USD",
		Source:      "stub",
		Breakdown:   []model.BreakdownRow{{ResourceType: "Compute", Currency: "USD", Amount: amount}},
	}, nil
}

func TestBackfillStoresOneSnapshotPerVendorMonth(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewSQLite(filepath.Join(t.TempDir(), "backfill.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.UpsertVendor(ctx, &model.Vendor{ID: "az", Name: "a", Provider: model.ProviderAzure}))
	require.NoError(t, store.UpsertVendor(ctx, &model.Vendor{ID: "rs", Name: "b", Provider: model.ProviderRackspace}))

	conns := providers.NewRegistry()
	require.NoError(t, conns.Register(stubConnector{provider: model.ProviderAzure}))
	require.NoError(t, conns.Register(stubConnector{provider: model.ProviderRackspace, failOn: "2026-08-01"}))

	reg := prometheus.NewRegistry()
	metrics := backfill.NewMetrics(reg)
	ing := ingest.New(ingest.Config{
		Connectors: conns,
		Store:      store,
		Policy: retry.Policy{
			Attempts: 2,
			Sleep:    func(context.Context, time.Duration) error { return nil },
		},
		Observe: metrics.ObservePull,
	})
	o := backfill.New(backfill.Config{
		Ingestor: ing,
		Vendors:  store,
		Metrics:  metrics,
		Now:      func() time.Time { return testNow },
		Sleep:    func(context.Context, time.Duration) error { return nil },
	})

	st, err := o.Run(ctx, model.BackfillOptions{LookbackMonths: 3})
	require.NoError(t, err)
	assert.Equal(t, 5, st.Summary.Success)
	assert.Equal(t, 1, st.Summary.Failed)
	assert.Contains(t, st.FailuresPreview[0].Error, "access denied")

	snaps, err := store.ListSnapshots(ctx, model.SnapshotFilter{})
	require.NoError(t, err)
	assert.Len(t, snaps, 5)

	// A second onlyMissing run retries only the failed pair.
	st, err = o.Run(ctx, model.BackfillOptions{LookbackMonths: 3, OnlyMissing: true})
	require.NoError(t, err)
	assert.Equal(t, 5, st.Summary.Skipped)
	assert.Equal(t, 1, st.Progress.Attempted)
	assert.Equal(t, 1, st.Summary.Failed)

	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP billsync_backfill_pairs_total Vendor-month pairs processed by backfill jobs, by outcome.
# TYPE billsync_backfill_pairs_total counter
billsync_backfill_pairs_total{provider="azure",result="skipped"} 3
billsync_backfill_pairs_total{provider="azure",result="success"} 3
billsync_backfill_pairs_total{provider="rackspace",result="failed"} 2
billsync_backfill_pairs_total{provider="rackspace",result="skipped"} 2
billsync_backfill_pairs_total{provider="rackspace",result="success"} 2
`), "billsync_backfill_pairs_total"))
	assert.Equal(t, 3, testutil.CollectAndCount(reg, "billsync_provider_pull_seconds"))
}

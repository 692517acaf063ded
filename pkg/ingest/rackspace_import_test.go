package ingest_test

import (
	"context"
	"testing"

	"github.com/ogulcanaydogan/billsync/pkg/model"
	"github.com/ogulcanaydogan/billsync/pkg/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const invoiceA = "BILL_NO,ACCOUNT_NO,SERVICE_TYPE,BILL_START_DATE,BILL_END_DATE,AMOUNT,CURRENCY\n" +
	"B1,020-1,Cloud Servers,2026-08-01,2026-09-01,10.00,USD\n" +
	"B1,020-1,Cloud Files,2026-08-01,2026-09-01,2.50,USD\n"

const invoiceB = "BILL_NO,ACCOUNT_NO,SERVICE_TYPE,BILL_START_DATE,BILL_END_DATE,AMOUNT,CURRENCY\n" +
	"B1,020-1,Cloud Files,2026-08-01,2026-09-01,2.50,USD\n" +
	"B2,020-1,Cloud Load Balancers (August 2026),2026-08-01,2026-09-01,4.00,USD\n" +
	"B2,020-1,Cloud Files,2026-09-01,2026-10-01,9.00,USD\n"

var rackspaceVendor = model.Vendor{ID: "rs1", Provider: model.ProviderRackspace}

func TestImportRackspaceCSV_CreatesThenMergesInPlace(t *testing.T) {
	store := newStore(t)
	ing := newIngestor(t, store)
	ctx := context.Background()

	first, err := ing.ImportRackspaceCSV(ctx, rackspaceVendor, aug(t), invoiceA)
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Equal(t, 2, first.Added)
	assert.Equal(t, "12.5", first.Snapshot.Amount.String())
	assert.Equal(t, providers.SourceRackspaceCSV, first.Snapshot.Source)

	again, err := ing.ImportRackspaceCSV(ctx, rackspaceVendor, aug(t), invoiceA)
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, 0, again.Added)
	assert.Equal(t, 2, again.Duplicates)
	assert.Equal(t, "12.5", again.Snapshot.Amount.String())

	merged, err := ing.ImportRackspaceCSV(ctx, rackspaceVendor, aug(t), invoiceB)
	require.NoError(t, err)
	assert.Equal(t, 2, merged.Added)
	assert.Equal(t, 1, merged.Duplicates)
	// The September row is stored but falls outside August.
	assert.Equal(t, "16.5", merged.Snapshot.Amount.String())

	stored, err := store.FindSnapshot(ctx, model.KeyFor(rackspaceVendor, aug(t)))
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, first.Snapshot.ID, stored.ID)
	assert.Equal(t, "16.5", stored.Amount.String())
	require.Len(t, stored.Breakdown, 3)
	assert.Equal(t, "Cloud Servers", stored.Breakdown[0].ResourceType)
	assert.Equal(t, "Cloud Load Balancers", stored.Breakdown[1].ResourceType)

	all, err := store.ListSnapshots(ctx, model.SnapshotFilter{VendorID: "rs1"})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestImportRackspaceCSV_RejectsOtherProviders(t *testing.T) {
	ing := newIngestor(t, newStore(t))
	_, err := ing.ImportRackspaceCSV(context.Background(), azureVendor, aug(t), invoiceA)
	assert.Error(t, err)
}

func TestImportRackspaceCSV_MissingHeader(t *testing.T) {
	ing := newIngestor(t, newStore(t))
	_, err := ing.ImportRackspaceCSV(context.Background(), rackspaceVendor, aug(t), "A,B\n1,2\n")
	assert.Error(t, err)
}

package providers_test

import (
	"context"
	"testing"

	"github.com/ogulcanaydogan/billsync/pkg/model"
	"github.com/ogulcanaydogan/billsync/pkg/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGCP_UnsupportedWithoutManualAmount(t *testing.T) {
	g := providers.NewGCP(providers.GCPConfig{})
	_, err := g.Pull(context.Background(), model.Vendor{ID: "v"}, nil, august(t))
	assert.ErrorIs(t, err, model.ErrUnsupportedIntegration)
}

func TestGCP_ManualAmount(t *testing.T) {
	g := providers.NewGCP(providers.GCPConfig{ManualAmount: "42.10", ManualCurrency: "eur"})

	b, err := g.Pull(context.Background(), model.Vendor{ID: "v"}, nil, august(t))
	require.NoError(t, err)
	assert.Equal(t, providers.SourceGCPManual, b.Source)
	assert.Equal(t, "42.1", b.Amount.String())
	assert.Equal(t, "EUR", b.Currency)
	require.Len(t, b.Breakdown, 1)

	// A per-vendor figure overrides the global one.
	b, err = g.Pull(context.Background(), model.Vendor{ID: "v"}, model.Credentials{"manualAmount": "7"}, august(t))
	require.NoError(t, err)
	assert.Equal(t, "7", b.Amount.String())
}

func TestGCP_InvalidManualAmount(t *testing.T) {
	g := providers.NewGCP(providers.GCPConfig{ManualAmount: "lots"})
	_, err := g.Pull(context.Background(), model.Vendor{ID: "v"}, nil, august(t))
	require.Error(t, err)
	assert.NotErrorIs(t, err, model.ErrUnsupportedIntegration)
}

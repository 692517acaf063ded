package providers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ogulcanaydogan/billsync/pkg/model"
	"github.com/ogulcanaydogan/billsync/pkg/retry"
)

// Connector pulls one billing period for one vendor and returns it in canonical form.
type Connector interface {
	// Provider returns the provider this connector serves.
	Provider() model.Provider

	// Pull fetches and normalizes billing data for the period.
	Pull(ctx context.Context, vendor model.Vendor, creds model.Credentials, period model.BillingPeriod) (*model.PulledBilling, error)
}

// Deps are shared collaborators injected into every connector.
type Deps struct {
	HTTPClient  *http.Client
	Logger      *slog.Logger
	TokenPolicy retry.Policy
	Now         func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.HTTPClient == nil {
		d.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if d.Logger == nil {
		d.Logger = slog.New(slog.DiscardHandler)
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.TokenPolicy.Attempts == 0 {
		d.TokenPolicy = retry.NewPolicy(retry.DefaultAttempts, d.Logger)
	}
	return d
}

// Config holds per-provider endpoint and behavior settings.
type Config struct {
	Azure      AzureConfig
	AWS        AWSConfig
	GCP        GCPConfig
	Rackspace  RackspaceConfig
	Wasabi     WasabiConfig
	WasabiMain WasabiMainConfig
}

// AzureConfig configures the Cost Management connector.
type AzureConfig struct {
	LoginURL      string
	ManagementURL string
	APIVersion    string
	MaxPages      int
}

// AWSConfig configures the Cost Explorer connector.
type AWSConfig struct {
	Region string
}

// GCPConfig holds the manual fallback figure used in place of a live integration.
type GCPConfig struct {
	ManualAmount   string
	ManualCurrency string
}

// RackspaceConfig configures the Rackspace identity and billing endpoints.
type RackspaceConfig struct {
	IdentityURL  string
	BillingURL   string
	CSVImport    bool
	HistoryYears int
}

// WasabiConfig configures the WACM listing endpoints shared by both Wasabi connectors.
type WasabiConfig struct {
	BaseURL  string
	PageSize int
	MaxPages int
}

// WasabiMainConfig configures synthetic pricing of raw usage metrics.
type WasabiMainConfig struct {
	Pricing *WasabiPricing
}

// DefaultConfig returns production endpoints.
func DefaultConfig() Config {
	return Config{
		Azure: AzureConfig{
			LoginURL:      "https://login.microsoftonline.com",
			ManagementURL: "https://management.azure.com",
			APIVersion:    "2023-03-01",
			MaxPages:      50,
		},
		AWS: AWSConfig{Region: "us-east-1"},
		Rackspace: RackspaceConfig{
			IdentityURL:  "https://identity.api.rackspacecloud.com",
			BillingURL:   "https://billing.api.rackspacecloud.com",
			CSVImport:    true,
			HistoryYears: 2,
		},
		Wasabi: WasabiConfig{
			BaseURL:  "https://api.wasabisys.com/wacm",
			PageSize: 100,
			MaxPages: 50,
		},
	}
}

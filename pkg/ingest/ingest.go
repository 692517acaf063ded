// Package ingest pulls billing data through a provider connector and stores
// it as a snapshot, replacing any earlier snapshot for the same key.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ogulcanaydogan/billsync/pkg/model"
	"github.com/ogulcanaydogan/billsync/pkg/providers"
	"github.com/ogulcanaydogan/billsync/pkg/retry"
	"github.com/ogulcanaydogan/billsync/pkg/storage"
)

// ConnectorSource resolves the connector for a provider.
type ConnectorSource interface {
	Get(p model.Provider) (providers.Connector, error)
}

// Hook runs after every successful snapshot insert. Hook errors are logged
// and never fail the pull.
type Hook interface {
	AfterInsert(ctx context.Context, vendor model.Vendor, billing *model.PulledBilling) error
}

// HookFunc adapts a function to Hook.
type HookFunc func(ctx context.Context, vendor model.Vendor, billing *model.PulledBilling) error

// AfterInsert implements Hook.
func (f HookFunc) AfterInsert(ctx context.Context, vendor model.Vendor, billing *model.PulledBilling) error {
	return f(ctx, vendor, billing)
}

// PullObserver is told how long each connector pull took and how it ended.
type PullObserver func(provider model.Provider, elapsed time.Duration, err error)

// Config wires an Ingestor.
type Config struct {
	Connectors ConnectorSource
	Store      storage.SnapshotStore
	Decrypter  Decrypter
	Hooks      []Hook
	Policy     retry.Policy
	Logger     *slog.Logger
	Now        func() time.Time
	Observe    PullObserver
}

// Ingestor performs single vendor pulls.
type Ingestor struct {
	connectors ConnectorSource
	store      storage.SnapshotStore
	decrypter  Decrypter
	hooks      []Hook
	policy     retry.Policy
	logger     *slog.Logger
	now        func() time.Time
	observe    PullObserver
}

// New creates an Ingestor.
func New(cfg Config) *Ingestor {
	i := &Ingestor{
		connectors: cfg.Connectors,
		store:      cfg.Store,
		decrypter:  cfg.Decrypter,
		hooks:      cfg.Hooks,
		policy:     cfg.Policy,
		logger:     cfg.Logger,
		now:        cfg.Now,
		observe:    cfg.Observe,
	}
	if i.decrypter == nil {
		i.decrypter = JSONDecrypter{}
	}
	if i.logger == nil {
		i.logger = slog.New(slog.DiscardHandler)
	}
	if i.now == nil {
		i.now = time.Now
	}
	if i.policy.Attempts == 0 {
		i.policy = retry.NewPolicy(retry.DefaultAttempts, i.logger)
	}
	return i
}

// Option adjusts a single pull.
type Option func(*pullOptions)

type pullOptions struct {
	attempts int
}

// WithAttempts overrides the retry attempt budget for one pull.
func WithAttempts(n int) Option {
	return func(o *pullOptions) { o.attempts = n }
}

// Pull decrypts the vendor's credentials and runs its connector under the retry policy.
func (i *Ingestor) Pull(ctx context.Context, vendor model.Vendor, period model.BillingPeriod, opts ...Option) (*model.PulledBilling, error) {
	var o pullOptions
	for _, opt := range opts {
		opt(&o)
	}

	if !vendor.Provider.SupportsBilling() {
		return nil, fmt.Errorf("vendor %s: %w: %q has no billing connector", vendor.ID, model.ErrUnsupportedProvider, vendor.Provider)
	}
	conn, err := i.connectors.Get(vendor.Provider)
	if err != nil {
		return nil, err
	}
	creds, err := i.decrypter.Decrypt(ctx, vendor)
	if err != nil {
		return nil, fmt.Errorf("decrypt credentials for vendor %s: %w", vendor.ID, retry.Permanent(err))
	}

	policy := i.policy
	if o.attempts > 0 {
		policy = policy.WithAttempts(o.attempts)
	}

	i.logger.Debug("pulling billing",
		"vendor_id", vendor.ID,
		"provider", vendor.Provider,
		"period_start", period.StartDate(),
		"period_end", period.EndDate(),
	)
	start := time.Now()
	billing, err := retry.Do(ctx, policy, fmt.Sprintf("%s pull", vendor.Provider), func(ctx context.Context) (*model.PulledBilling, error) {
		return conn.Pull(ctx, vendor, creds, period)
	})
	if i.observe != nil {
		i.observe(vendor.Provider, time.Since(start), err)
	}
	if err != nil {
		return nil, err
	}
	return billing, nil
}

// PullAndStore pulls one period and replaces the stored snapshot for its key.
func (i *Ingestor) PullAndStore(ctx context.Context, vendor model.Vendor, period model.BillingPeriod, opts ...Option) (*model.BillingSnapshot, error) {
	billing, err := i.Pull(ctx, vendor, period, opts...)
	if err != nil {
		return nil, err
	}
	snap, err := i.replace(ctx, vendor, period, billing)
	if err != nil {
		return nil, err
	}
	i.runHooks(ctx, vendor, billing)
	return snap, nil
}

// HasSnapshot reports whether a snapshot exists for the vendor and period.
func (i *Ingestor) HasSnapshot(ctx context.Context, vendor model.Vendor, period model.BillingPeriod) (bool, error) {
	snap, err := i.store.FindSnapshot(ctx, model.KeyFor(vendor, period))
	if err != nil {
		return false, err
	}
	return snap != nil, nil
}

func (i *Ingestor) replace(ctx context.Context, vendor model.Vendor, period model.BillingPeriod, billing *model.PulledBilling) (*model.BillingSnapshot, error) {
	key := model.KeyFor(vendor, period)
	snap := &model.BillingSnapshot{
		VendorID:    key.VendorID,
		Provider:    key.Provider,
		PeriodStart: key.PeriodStart,
		PeriodEnd:   key.PeriodEnd,
		Amount:      billing.Amount,
		Currency:    billing.Currency,
		Source:      billing.Source,
		Breakdown:   billing.Breakdown,
		Raw:         billing.Raw,
		PulledAt:    i.now().UTC(),
	}

	deleted, err := i.swap(ctx, snap)
	if err != nil {
		return nil, err
	}
	i.logger.Info("stored billing snapshot",
		"vendor_id", vendor.ID,
		"provider", vendor.Provider,
		"period_start", key.PeriodStart,
		"period_end", key.PeriodEnd,
		"amount", snap.Amount.String(),
		"currency", snap.Currency,
		"source", snap.Source,
		"replaced", deleted,
	)
	return snap, nil
}

func (i *Ingestor) runHooks(ctx context.Context, vendor model.Vendor, billing *model.PulledBilling) {
	for _, h := range i.hooks {
		if err := h.AfterInsert(ctx, vendor, billing); err != nil {
			i.logger.Warn("post-insert hook failed",
				"vendor_id", vendor.ID,
				"provider", vendor.Provider,
				"error", err,
			)
		}
	}
}

func (i *Ingestor) swap(ctx context.Context, snap *model.BillingSnapshot) (int64, error) {
	if r, ok := i.store.(storage.SnapshotReplacer); ok {
		return r.ReplaceSnapshot(ctx, snap)
	}
	deleted, err := i.store.DeleteSnapshotsForVendorPeriod(ctx, snap.Key())
	if err != nil {
		return 0, err
	}
	if err := i.store.InsertSnapshot(ctx, snap); err != nil {
		return 0, err
	}
	return deleted, nil
}

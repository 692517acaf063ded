package storage

import (
	"context"
	"encoding/json"

	"github.com/ogulcanaydogan/billsync/pkg/model"
	"github.com/shopspring/decimal"
)

// SnapshotStore persists billing snapshots. There is at most one snapshot per
// key; re-ingestion deletes the old row and inserts a new one.
type SnapshotStore interface {
	// DeleteSnapshotsForVendorPeriod removes every snapshot for the key and
	// returns how many rows were deleted.
	DeleteSnapshotsForVendorPeriod(ctx context.Context, key model.SnapshotKey) (int64, error)

	// InsertSnapshot stores a new snapshot, assigning an ID if empty.
	InsertSnapshot(ctx context.Context, snap *model.BillingSnapshot) error

	// FindSnapshot returns the snapshot for the key, or nil when none exists.
	FindSnapshot(ctx context.Context, key model.SnapshotKey) (*model.BillingSnapshot, error)

	// UpdateSnapshotRaw merges new figures into an existing snapshot in place.
	UpdateSnapshotRaw(ctx context.Context, key model.SnapshotKey, update SnapshotUpdate) error

	// ListSnapshots returns snapshots matching the filter, newest period first.
	ListSnapshots(ctx context.Context, filter model.SnapshotFilter) ([]model.BillingSnapshot, error)
}

// SnapshotReplacer is implemented by stores that can swap the snapshot for a
// key atomically. Callers fall back to delete-then-insert otherwise.
type SnapshotReplacer interface {
	ReplaceSnapshot(ctx context.Context, snap *model.BillingSnapshot) (int64, error)
}

// SnapshotUpdate carries the fields an in-place import may rewrite.
type SnapshotUpdate struct {
	Amount    decimal.Decimal
	Currency  string
	Source    string
	Breakdown []model.BreakdownRow
	Raw       json.RawMessage
}

// VendorRegistry reads billed vendor accounts.
type VendorRegistry interface {
	// GetVendorByID returns the vendor, or nil when it does not exist.
	GetVendorByID(ctx context.Context, id string) (*model.Vendor, error)

	// ListVendors returns every vendor ordered by name.
	ListVendors(ctx context.Context) ([]model.Vendor, error)
}

// Storage is the full persistence layer.
type Storage interface {
	SnapshotStore
	VendorRegistry

	// UpsertVendor creates or updates a vendor, assigning an ID if empty.
	UpsertVendor(ctx context.Context, v *model.Vendor) error

	// DeleteVendor removes a vendor. Its snapshots are kept.
	DeleteVendor(ctx context.Context, id string) error

	// Close releases resources.
	Close() error
}

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ogulcanaydogan/billsync/pkg/model"
	"github.com/shopspring/decimal"

	_ "modernc.org/sqlite"
)

// SQLite implements Storage on an SQLite database.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ Storage          = (*SQLite)(nil)
	_ SnapshotReplacer = (*SQLite)(nil)
)

// NewSQLite opens or creates an SQLite database at the given path.
func NewSQLite(dbPath string) (*SQLite, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db, now: time.Now}, nil
}

const snapshotColumns = "id, vendor_id, provider, period_start, period_end, amount, currency, source, breakdown, raw, pulled_at"

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLite) DeleteSnapshotsForVendorPeriod(ctx context.Context, key model.SnapshotKey) (int64, error) {
	return deleteSnapshots(ctx, s.db, key)
}

func (s *SQLite) InsertSnapshot(ctx context.Context, snap *model.BillingSnapshot) error {
	return s.insertSnapshot(ctx, s.db, snap)
}

// ReplaceSnapshot deletes every snapshot for snap's key and inserts snap in one
// transaction. On failure the previous snapshot is left in place.
func (s *SQLite) ReplaceSnapshot(ctx context.Context, snap *model.BillingSnapshot) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin replace: %w", err)
	}
	defer tx.Rollback()

	deleted, err := deleteSnapshots(ctx, tx, snap.Key())
	if err != nil {
		return 0, err
	}
	if err := s.insertSnapshot(ctx, tx, snap); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit replace: %w", err)
	}
	return deleted, nil
}

func deleteSnapshots(ctx context.Context, ex execer, key model.SnapshotKey) (int64, error) {
	res, err := ex.ExecContext(ctx,
		`DELETE FROM billing_snapshots
		 WHERE vendor_id = ? AND provider = ? AND period_start = ? AND period_end = ?`,
		key.VendorID, string(key.Provider), key.PeriodStart, key.PeriodEnd,
	)
	if err != nil {
		return 0, fmt.Errorf("delete snapshots for %s/%s %s..%s: %w",
			key.VendorID, key.Provider, key.PeriodStart, key.PeriodEnd, err)
	}
	return res.RowsAffected()
}

func (s *SQLite) insertSnapshot(ctx context.Context, ex execer, snap *model.BillingSnapshot) error {
	if snap.ID == "" {
		snap.ID = uuid.New().String()
	}
	if snap.PulledAt.IsZero() {
		snap.PulledAt = s.now().UTC()
	}
	breakdown, raw, err := encodeSnapshotBlobs(snap.Breakdown, snap.Raw)
	if err != nil {
		return err
	}

	_, err = ex.ExecContext(ctx,
		`INSERT INTO billing_snapshots (`+snapshotColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.VendorID, string(snap.Provider), snap.PeriodStart, snap.PeriodEnd,
		snap.Amount.String(), snap.Currency, snap.Source, breakdown, raw, snap.PulledAt,
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

func (s *SQLite) FindSnapshot(ctx context.Context, key model.SnapshotKey) (*model.BillingSnapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+snapshotColumns+` FROM billing_snapshots
		 WHERE vendor_id = ? AND provider = ? AND period_start = ? AND period_end = ?`,
		key.VendorID, string(key.Provider), key.PeriodStart, key.PeriodEnd,
	)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find snapshot: %w", err)
	}
	return snap, nil
}

func (s *SQLite) UpdateSnapshotRaw(ctx context.Context, key model.SnapshotKey, update SnapshotUpdate) error {
	breakdown, raw, err := encodeSnapshotBlobs(update.Breakdown, update.Raw)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE billing_snapshots
		 SET amount = ?, currency = ?, source = ?, breakdown = ?, raw = ?, updated_at = ?
		 WHERE vendor_id = ? AND provider = ? AND period_start = ? AND period_end = ?`,
		update.Amount.String(), update.Currency, update.Source, breakdown, raw, s.now().UTC(),
		key.VendorID, string(key.Provider), key.PeriodStart, key.PeriodEnd,
	)
	if err != nil {
		return fmt.Errorf("update snapshot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update snapshot: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("snapshot %s/%s %s..%s: %w",
			key.VendorID, key.Provider, key.PeriodStart, key.PeriodEnd, model.ErrNotFound)
	}
	return nil
}

func (s *SQLite) ListSnapshots(ctx context.Context, filter model.SnapshotFilter) ([]model.BillingSnapshot, error) {
	query := "SELECT " + snapshotColumns + " FROM billing_snapshots"
	where, args := buildWhereClause(filter)
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY period_start DESC, vendor_id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var out []model.BillingSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		out = append(out, *snap)
	}
	return out, rows.Err()
}

func (s *SQLite) UpsertVendor(ctx context.Context, v *model.Vendor) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if _, err := model.ParseProvider(string(v.Provider)); err != nil {
		return err
	}
	now := s.now().UTC()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = now
	}
	v.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO vendors (id, name, provider, account_id, subscription_id, credentials, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = excluded.name,
		   provider = excluded.provider,
		   account_id = excluded.account_id,
		   subscription_id = excluded.subscription_id,
		   credentials = excluded.credentials,
		   updated_at = excluded.updated_at`,
		v.ID, v.Name, string(v.Provider), v.AccountID, v.SubscriptionID, v.Credentials, v.CreatedAt, v.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert vendor: %w", err)
	}
	return nil
}

func (s *SQLite) GetVendorByID(ctx context.Context, id string) (*model.Vendor, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, provider, account_id, subscription_id, credentials, created_at, updated_at
		 FROM vendors WHERE id = ?`, id)
	v, err := scanVendor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get vendor: %w", err)
	}
	return v, nil
}

func (s *SQLite) ListVendors(ctx context.Context) ([]model.Vendor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, provider, account_id, subscription_id, credentials, created_at, updated_at
		 FROM vendors ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list vendors: %w", err)
	}
	defer rows.Close()

	var out []model.Vendor
	for rows.Next() {
		v, err := scanVendor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan vendor row: %w", err)
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

func (s *SQLite) DeleteVendor(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM vendors WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete vendor: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete vendor: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("vendor %q: %w", id, model.ErrNotFound)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row scanner) (*model.BillingSnapshot, error) {
	var (
		snap                  model.BillingSnapshot
		provider, amount      string
		breakdownJSON, rawTxt string
	)
	if err := row.Scan(&snap.ID, &snap.VendorID, &provider, &snap.PeriodStart, &snap.PeriodEnd,
		&amount, &snap.Currency, &snap.Source, &breakdownJSON, &rawTxt, &snap.PulledAt); err != nil {
		return nil, err
	}
	snap.Provider = model.Provider(provider)

	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s amount %q: %w", snap.ID, amount, err)
	}
	snap.Amount = d
	if err := json.Unmarshal([]byte(breakdownJSON), &snap.Breakdown); err != nil {
		return nil, fmt.Errorf("snapshot %s breakdown: %w", snap.ID, err)
	}
	if rawTxt != "" && rawTxt != "null" {
		snap.Raw = json.RawMessage(rawTxt)
	}
	return &snap, nil
}

func scanVendor(row scanner) (*model.Vendor, error) {
	var v model.Vendor
	var provider string
	if err := row.Scan(&v.ID, &v.Name, &provider, &v.AccountID, &v.SubscriptionID,
		&v.Credentials, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, err
	}
	v.Provider = model.Provider(provider)
	return &v, nil
}

func encodeSnapshotBlobs(rows []model.BreakdownRow, raw json.RawMessage) (string, string, error) {
	if rows == nil {
		rows = []model.BreakdownRow{}
	}
	b, err := json.Marshal(rows)
	if err != nil {
		return "", "", fmt.Errorf("encode breakdown: %w", err)
	}
	rawText := "null"
	if len(raw) > 0 {
		if !json.Valid(raw) {
			return "", "", errors.New("encode raw payload: invalid JSON")
		}
		rawText = string(raw)
	}
	return string(b), rawText, nil
}

func buildWhereClause(filter model.SnapshotFilter) (string, []any) {
	var conditions []string
	var args []any

	if filter.VendorID != "" {
		conditions = append(conditions, "vendor_id = ?")
		args = append(args, filter.VendorID)
	}
	if filter.Provider != "" {
		conditions = append(conditions, "provider = ?")
		args = append(args, string(filter.Provider))
	}
	if filter.From != "" {
		conditions = append(conditions, "period_end >= ?")
		args = append(args, filter.From)
	}
	if filter.To != "" {
		conditions = append(conditions, "period_start <= ?")
		args = append(args, filter.To)
	}

	return strings.Join(conditions, " AND "), args
}

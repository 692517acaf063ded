package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ogulcanaydogan/billsync/pkg/breakdown"
	"github.com/ogulcanaydogan/billsync/pkg/ingest"
	"github.com/ogulcanaydogan/billsync/pkg/model"
	"github.com/ogulcanaydogan/billsync/pkg/period"
	"github.com/ogulcanaydogan/billsync/pkg/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

const maxCSVUpload = 32 << 20

// Jobs is the backfill control surface the API exposes.
type Jobs interface {
	Start(ctx context.Context, opts model.BackfillOptions) (string, error)
	Status() model.BackfillJobState
	Cancel() bool
}

// Syncer pulls and imports billing for a single vendor.
type Syncer interface {
	PullAndStore(ctx context.Context, vendor model.Vendor, p model.BillingPeriod, opts ...ingest.Option) (*model.BillingSnapshot, error)
	ImportRackspaceCSV(ctx context.Context, vendor model.Vendor, p model.BillingPeriod, csvText string) (*ingest.ImportResult, error)
}

// Store is the read side the API needs.
type Store interface {
	storage.VendorRegistry
	ListSnapshots(ctx context.Context, filter model.SnapshotFilter) ([]model.BillingSnapshot, error)
}

// Server provides health, backfill control, sync, and snapshot API endpoints.
type Server struct {
	jobs     Jobs
	syncer   Syncer
	store    Store
	gatherer prometheus.Gatherer
	defaults model.BackfillOptions
	now      func() time.Time
	mux      *http.ServeMux
	logger   *slog.Logger
}

// Options wires a Server.
type Options struct {
	Jobs     Jobs
	Syncer   Syncer
	Store    Store
	Gatherer prometheus.Gatherer
	Defaults model.BackfillOptions
	Now      func() time.Time
	Logger   *slog.Logger
}

// NewServer creates an API server.
func NewServer(opts Options) *Server {
	s := &Server{
		jobs:     opts.Jobs,
		syncer:   opts.Syncer,
		store:    opts.Store,
		gatherer: opts.Gatherer,
		defaults: opts.Defaults,
		now:      opts.Now,
		mux:      http.NewServeMux(),
		logger:   opts.Logger,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /api/v1/backfill", s.handleBackfillStatus)
	s.mux.HandleFunc("POST /api/v1/backfill", s.handleBackfillStart)
	s.mux.HandleFunc("DELETE /api/v1/backfill", s.handleBackfillCancel)
	s.mux.HandleFunc("POST /api/v1/sync", s.handleSync)
	s.mux.HandleFunc("POST /api/v1/vendors/{id}/rackspace-csv", s.handleImportCSV)
	s.mux.HandleFunc("GET /api/v1/snapshots", s.handleSnapshots)
	s.mux.HandleFunc("GET /api/v1/report", s.handleReport)
	if s.gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

// Handler returns the HTTP handler for this server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidRange),
		errors.Is(err, model.ErrUnsupportedProvider),
		errors.Is(err, model.ErrMissingCredentials):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrUnsupportedIntegration):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrJobRunning):
		return http.StatusConflict
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleBackfillStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.jobs.Status())
}

func (s *Server) handleBackfillStart(w http.ResponseWriter, r *http.Request) {
	opts := s.defaults
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&opts); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, fmt.Errorf("decode backfill options: %w", err))
			return
		}
	}

	id, err := s.jobs.Start(r.Context(), opts)
	if err != nil {
		writeJSON(w, statusFor(err), map[string]any{
			"error": err.Error(),
			"job":   s.jobs.Status(),
		})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id})
}

func (s *Server) handleBackfillCancel(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"canceled": s.jobs.Cancel()})
}

type syncRequest struct {
	VendorID string `json:"vendor_id"`
	period.Options
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode sync request: %w", err))
		return
	}
	vendor, ok := s.vendor(ctx, w, req.VendorID)
	if !ok {
		return
	}
	p, err := period.Resolve(req.Options, s.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	snap, err := s.syncer.PullAndStore(ctx, *vendor, p)
	if err != nil {
		s.logger.Warn("manual sync failed", "vendor_id", vendor.ID, "provider", vendor.Provider, "period_start", p.StartDate(), "error", err)
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleImportCSV(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Minute)
	defer cancel()

	vendor, ok := s.vendor(ctx, w, r.PathValue("id"))
	if !ok {
		return
	}
	q := r.URL.Query()
	p, err := period.Resolve(period.Options{PeriodStart: q.Get("periodStart"), PeriodEnd: q.Get("periodEnd")}, s.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCSVUpload))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("read csv body: %w", err))
		return
	}

	res, err := s.syncer.ImportRackspaceCSV(ctx, *vendor, p, string(body))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) vendor(ctx context.Context, w http.ResponseWriter, id string) (*model.Vendor, bool) {
	if id == "" {
		writeError(w, http.StatusBadRequest, errors.New("vendor_id is required"))
		return nil, false
	}
	v, err := s.store.GetVendorByID(ctx, id)
	if err != nil {
		s.logger.Error("get vendor", "vendor_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("internal error"))
		return nil, false
	}
	if v == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("vendor %q: %w", id, model.ErrNotFound))
		return nil, false
	}
	return v, true
}

func snapshotFilter(r *http.Request) (model.SnapshotFilter, error) {
	q := r.URL.Query()
	f := model.SnapshotFilter{
		VendorID: q.Get("vendor_id"),
		From:     q.Get("from"),
		To:       q.Get("to"),
	}
	if p := q.Get("provider"); p != "" {
		provider, err := model.ParseProvider(p)
		if err != nil {
			return f, err
		}
		f.Provider = provider
	}
	for _, d := range []string{f.From, f.To} {
		if d == "" {
			continue
		}
		if _, err := period.ParseDate(d); err != nil {
			return f, err
		}
	}
	return f, nil
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	filter, err := snapshotFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	snaps, err := s.store.ListSnapshots(ctx, filter)
	if err != nil {
		s.logger.Error("query snapshots", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if snaps == nil {
		snaps = []model.BillingSnapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

// Report is the cross-snapshot breakdown for a filter.
type Report struct {
	Filter    model.SnapshotFilter       `json:"filter"`
	Snapshots int                        `json:"snapshots"`
	Totals    map[string]decimal.Decimal `json:"totals"`
	Breakdown []model.BreakdownRow       `json:"breakdown"`
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	filter, err := snapshotFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	snaps, err := s.store.ListSnapshots(ctx, filter)
	if err != nil {
		s.logger.Error("aggregate snapshots", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, BuildReport(filter, snaps))
}

// BuildReport merges snapshot breakdowns into one summarized breakdown and
// per-currency totals.
func BuildReport(filter model.SnapshotFilter, snaps []model.BillingSnapshot) Report {
	rep := Report{Filter: filter, Snapshots: len(snaps), Totals: map[string]decimal.Decimal{}}
	var rows []model.BreakdownRow
	for _, snap := range snaps {
		rows = append(rows, snap.Breakdown...)
		cur := breakdown.NormalizeCurrency(snap.Currency, breakdown.DefaultCurrency)
		rep.Totals[cur] = rep.Totals[cur].Add(snap.Amount)
	}
	rep.Breakdown = breakdown.Summarize(rows)
	if rep.Breakdown == nil {
		rep.Breakdown = []model.BreakdownRow{}
	}
	return rep
}

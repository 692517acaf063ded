// Package backfill drives billing ingestion across every (month, vendor)
// pair of a lookback window, one pair at a time.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ogulcanaydogan/billsync/pkg/alerts"
	"github.com/ogulcanaydogan/billsync/pkg/ingest"
	"github.com/ogulcanaydogan/billsync/pkg/model"
	"github.com/ogulcanaydogan/billsync/pkg/period"
	"github.com/ogulcanaydogan/billsync/pkg/retry"
	"github.com/ogulcanaydogan/billsync/pkg/storage"
)

// Ingestor is the per-pair work the orchestrator delegates.
type Ingestor interface {
	PullAndStore(ctx context.Context, vendor model.Vendor, p model.BillingPeriod, opts ...ingest.Option) (*model.BillingSnapshot, error)
	HasSnapshot(ctx context.Context, vendor model.Vendor, p model.BillingPeriod) (bool, error)
}

// Config wires an Orchestrator.
type Config struct {
	Ingestor  Ingestor
	Vendors   storage.VendorRegistry
	Notifiers []alerts.Notifier
	Metrics   *Metrics
	Logger    *slog.Logger
	Now       func() time.Time
	Sleep     retry.SleepFunc
	Defaults  model.BackfillOptions
}

// Orchestrator runs at most one backfill job at a time and exposes its
// progress for polling.
type Orchestrator struct {
	ingestor  Ingestor
	vendors   storage.VendorRegistry
	notifiers []alerts.Notifier
	metrics   *Metrics
	logger    *slog.Logger
	now       func() time.Time
	sleep     retry.SleepFunc
	defaults  model.BackfillOptions

	mu     sync.RWMutex
	state  model.BackfillJobState
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an idle orchestrator.
func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		ingestor:  cfg.Ingestor,
		vendors:   cfg.Vendors,
		notifiers: cfg.Notifiers,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		now:       cfg.Now,
		sleep:     cfg.Sleep,
		defaults:  cfg.Defaults,
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.sleep == nil {
		o.sleep = retry.Sleep
	}
	if o.defaults.LookbackMonths <= 0 {
		o.defaults.LookbackMonths = 12
	}
	if o.defaults.Retries <= 0 {
		o.defaults.Retries = retry.DefaultAttempts
	}
	return o
}

// Status returns a copy of the current or most recent job state.
func (o *Orchestrator) Status() model.BackfillJobState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state.Clone()
}

// Start launches a job in the background and returns its id. It fails with
// model.ErrJobRunning while another job is running. The job outlives ctx's
// cancellation; use Cancel to stop it.
func (o *Orchestrator) Start(ctx context.Context, opts model.BackfillOptions) (string, error) {
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	id, err := o.begin(opts, cancel)
	if err != nil {
		cancel()
		return "", err
	}
	go o.run(jobCtx)
	return id, nil
}

// Run executes a job synchronously and returns its final state.
func (o *Orchestrator) Run(ctx context.Context, opts model.BackfillOptions) (model.BackfillJobState, error) {
	jobCtx, cancel := context.WithCancel(ctx)
	if _, err := o.begin(opts, cancel); err != nil {
		cancel()
		return model.BackfillJobState{}, err
	}
	o.run(jobCtx)
	return o.Status(), nil
}

// Cancel asks the running job to stop after its current pair. It reports
// whether a job was running.
func (o *Orchestrator) Cancel() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if !o.state.Running || o.cancel == nil {
		return false
	}
	o.cancel()
	return true
}

// Wait blocks until the running job, if any, has finished.
func (o *Orchestrator) Wait() {
	o.mu.RLock()
	done := o.done
	o.mu.RUnlock()
	if done != nil {
		<-done
	}
}

func (o *Orchestrator) withDefaults(opts model.BackfillOptions) model.BackfillOptions {
	if opts.LookbackMonths <= 0 {
		opts.LookbackMonths = o.defaults.LookbackMonths
	}
	if opts.Retries <= 0 {
		opts.Retries = o.defaults.Retries
	}
	if opts.DelayMS < 0 {
		opts.DelayMS = 0
	}
	return opts
}

// begin is the running guard: it claims the singleton job slot.
func (o *Orchestrator) begin(opts model.BackfillOptions, cancel context.CancelFunc) (string, error) {
	opts = o.withDefaults(opts)
	if opts.Provider != "" && !opts.Provider.SupportsBilling() {
		return "", fmt.Errorf("%w: %q has no billing connector", model.ErrUnsupportedProvider, opts.Provider)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Running {
		return "", fmt.Errorf("%w: %s", model.ErrJobRunning, o.state.JobID)
	}

	started := o.now().UTC()
	o.state = model.BackfillJobState{
		Running:         true,
		JobID:           uuid.New().String(),
		StartedAt:       &started,
		Options:         opts,
		FailuresPreview: []model.BackfillFailure{},
	}
	o.cancel = cancel
	o.done = make(chan struct{})
	o.metrics.setRunning(true)
	return o.state.JobID, nil
}

func (o *Orchestrator) update(fn func(s *model.BackfillJobState)) {
	o.mu.Lock()
	fn(&o.state)
	o.mu.Unlock()
}

func (o *Orchestrator) run(ctx context.Context) {
	var jobErr error
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("backfill panicked", "panic", r, "stack", string(debug.Stack()))
			jobErr = fmt.Errorf("panic: %v", r)
		}
		o.finish(jobErr)
	}()
	jobErr = o.loop(ctx)
}

func (o *Orchestrator) loop(ctx context.Context) error {
	st := o.Status()
	opts := st.Options
	log := o.logger.With("job_id", st.JobID)

	months := period.LookbackMonths(o.now(), opts.LookbackMonths)
	vendors, err := o.selectVendors(ctx, opts)
	if err != nil {
		return fmt.Errorf("list vendors: %w", err)
	}

	o.update(func(s *model.BackfillJobState) {
		s.Progress.Months = len(months)
		s.Progress.Vendors = len(vendors)
		s.Progress.TotalVendorMonths = len(months) * len(vendors)
	})
	log.Info("backfill started",
		"months", len(months),
		"vendors", len(vendors),
		"only_missing", opts.OnlyMissing,
		"lookback_months", opts.LookbackMonths,
	)

	delay := time.Duration(opts.DelayMS) * time.Millisecond
	total := len(months) * len(vendors)
	n := 0
	for _, m := range months {
		for _, v := range vendors {
			if err := ctx.Err(); err != nil {
				return err
			}
			n++
			o.processPair(ctx, log, opts, v, m)

			if delay > 0 && n < total {
				if err := o.sleep(ctx, delay); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (o *Orchestrator) processPair(ctx context.Context, log *slog.Logger, opts model.BackfillOptions, v model.Vendor, m model.BillingPeriod) {
	o.update(func(s *model.BackfillJobState) {
		s.Progress.CurrentVendorID = v.ID
		s.Progress.CurrentProvider = v.Provider
		s.Progress.CurrentPeriodStart = m.StartDate()
	})

	failure := func(kind string, err error) model.BackfillFailure {
		return model.BackfillFailure{
			Type:        kind,
			VendorID:    v.ID,
			Provider:    v.Provider,
			PeriodStart: m.StartDate(),
			PeriodEnd:   m.EndDate(),
			Error:       err.Error(),
		}
	}

	if opts.OnlyMissing {
		exists, err := o.ingestor.HasSnapshot(ctx, v, m)
		if err != nil {
			log.Warn("snapshot lookup failed",
				"vendor_id", v.ID, "provider", v.Provider, "period_start", m.StartDate(), "error", err)
			o.update(func(s *model.BackfillJobState) {
				s.Progress.Completed++
				s.Progress.FailedVendorMonths++
				s.RecordFailure(failure(model.FailureLookup, err))
			})
			o.metrics.pair(v.Provider, resultFailed)
			return
		}
		if exists {
			o.update(func(s *model.BackfillJobState) {
				s.Progress.Completed++
				s.Progress.Skipped++
			})
			o.metrics.pair(v.Provider, resultSkipped)
			return
		}
	}

	o.update(func(s *model.BackfillJobState) { s.Progress.Attempted++ })
	_, err := o.ingestor.PullAndStore(ctx, v, m, ingest.WithAttempts(opts.Retries))
	if err != nil {
		log.Warn("vendor-month failed",
			"vendor_id", v.ID, "provider", v.Provider, "period_start", m.StartDate(), "error", err)
		o.update(func(s *model.BackfillJobState) {
			s.Progress.Completed++
			s.Progress.FailedVendorMonths++
			s.RecordFailure(failure(model.FailurePull, err))
		})
		o.metrics.pair(v.Provider, resultFailed)
		return
	}
	o.update(func(s *model.BackfillJobState) {
		s.Progress.Completed++
		s.Progress.SuccessVendorMonths++
	})
	o.metrics.pair(v.Provider, resultSuccess)
}

// selectVendors applies the provider and id filters and keeps only vendors
// whose provider has a billing connector.
func (o *Orchestrator) selectVendors(ctx context.Context, opts model.BackfillOptions) ([]model.Vendor, error) {
	all, err := o.vendors.ListVendors(ctx)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]struct{}, len(opts.VendorIDs))
	for _, id := range opts.VendorIDs {
		ids[id] = struct{}{}
	}

	var out []model.Vendor
	for _, v := range all {
		if !v.Provider.SupportsBilling() {
			continue
		}
		if opts.Provider != "" && v.Provider != opts.Provider {
			continue
		}
		if len(ids) > 0 {
			if _, ok := ids[v.ID]; !ok {
				continue
			}
		}
		out = append(out, v)
	}
	return out, nil
}

func (o *Orchestrator) finish(jobErr error) {
	finished := o.now().UTC()

	o.mu.Lock()
	s := &o.state
	s.Running = false
	s.FinishedAt = &finished
	s.Progress.CurrentVendorID = ""
	s.Progress.CurrentProvider = ""
	s.Progress.CurrentPeriodStart = ""
	if jobErr != nil {
		msg := jobErr.Error()
		if errors.Is(jobErr, context.Canceled) {
			msg = "canceled"
		}
		s.Error = msg
		s.RecordFailure(model.BackfillFailure{Type: model.FailureOrchestration, Error: msg})
	}
	var elapsed time.Duration
	if s.StartedAt != nil {
		elapsed = finished.Sub(*s.StartedAt)
	}
	s.Summary = &model.BackfillSummary{
		OK:       jobErr == nil && s.Progress.FailedVendorMonths == 0,
		Total:    s.Progress.TotalVendorMonths,
		Success:  s.Progress.SuccessVendorMonths,
		Failed:   s.Progress.FailedVendorMonths,
		Skipped:  s.Progress.Skipped,
		Duration: elapsed.Round(time.Millisecond).String(),
	}
	final := s.Clone()
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	done := o.done
	o.mu.Unlock()

	o.metrics.setRunning(false)
	o.logger.Info("backfill finished",
		"job_id", final.JobID,
		"ok", final.Summary.OK,
		"success", final.Summary.Success,
		"failed", final.Summary.Failed,
		"skipped", final.Summary.Skipped,
		"duration", final.Summary.Duration,
		"error", final.Error,
	)
	o.notify(final)
	if done != nil {
		close(done)
	}
}

func (o *Orchestrator) notify(final model.BackfillJobState) {
	if len(o.notifiers) == 0 {
		return
	}
	alert := alerts.FromJob(final)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, n := range o.notifiers {
		if err := n.Send(ctx, alert); err != nil {
			o.logger.Warn("job notification failed", "notifier", n.Name(), "job_id", final.JobID, "error", err)
		}
	}
}

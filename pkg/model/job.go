package model

import "time"

// Failure types recorded in a backfill job.
const (
	FailurePull          = "pull"
	FailureLookup        = "snapshot-lookup"
	FailureOrchestration = "orchestration"
)

// MaxFailuresPreview caps the failures kept verbatim in a job state.
const MaxFailuresPreview = 50

// BackfillOptions select what a backfill job covers.
type BackfillOptions struct {
	LookbackMonths int      `json:"lookback_months"`
	Provider       Provider `json:"provider,omitempty"`
	VendorIDs      []string `json:"vendor_ids,omitempty"`
	OnlyMissing    bool     `json:"only_missing"`
	DelayMS        int64    `json:"delay_ms"`
	Retries        int      `json:"retries"`
}

// BackfillProgress counts processed (vendor, month) pairs.
type BackfillProgress struct {
	Months              int      `json:"months"`
	Vendors             int      `json:"vendors"`
	TotalVendorMonths   int      `json:"total_vendor_months"`
	Completed           int      `json:"completed"`
	Attempted           int      `json:"attempted"`
	SuccessVendorMonths int      `json:"success_vendor_months"`
	FailedVendorMonths  int      `json:"failed_vendor_months"`
	Skipped             int      `json:"skipped"`
	CurrentVendorID     string   `json:"current_vendor_id,omitempty"`
	CurrentProvider     Provider `json:"current_provider,omitempty"`
	CurrentPeriodStart  string   `json:"current_period_start,omitempty"`
}

// BackfillFailure describes one failed pair.
type BackfillFailure struct {
	Type        string   `json:"type"`
	VendorID    string   `json:"vendor_id,omitempty"`
	Provider    Provider `json:"provider,omitempty"`
	PeriodStart string   `json:"period_start,omitempty"`
	PeriodEnd   string   `json:"period_end,omitempty"`
	Error       string   `json:"error"`
}

// BackfillSummary is written once when a job ends.
type BackfillSummary struct {
	OK       bool   `json:"ok"`
	Total    int    `json:"total"`
	Success  int    `json:"success"`
	Failed   int    `json:"failed"`
	Skipped  int    `json:"skipped"`
	Duration string `json:"duration"`
}

// BackfillJobState is the progress record of the current or last job.
type BackfillJobState struct {
	Running         bool              `json:"running"`
	JobID           string            `json:"job_id,omitempty"`
	StartedAt       *time.Time        `json:"started_at,omitempty"`
	FinishedAt      *time.Time        `json:"finished_at,omitempty"`
	Options         BackfillOptions   `json:"options"`
	Progress        BackfillProgress  `json:"progress"`
	Summary         *BackfillSummary  `json:"summary,omitempty"`
	Error           string            `json:"error,omitempty"`
	FailuresPreview []BackfillFailure `json:"failures_preview"`
	FailureCount    int               `json:"failure_count"`
}

// Clone returns a deep copy safe to hand to readers.
func (s BackfillJobState) Clone() BackfillJobState {
	out := s
	if s.StartedAt != nil {
		t := *s.StartedAt
		out.StartedAt = &t
	}
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		out.FinishedAt = &t
	}
	if s.Summary != nil {
		sum := *s.Summary
		out.Summary = &sum
	}
	out.Options.VendorIDs = append([]string(nil), s.Options.VendorIDs...)
	out.FailuresPreview = append([]BackfillFailure{}, s.FailuresPreview...)
	return out
}

// RecordFailure counts a failure and keeps it verbatim while the preview has room.
func (s *BackfillJobState) RecordFailure(f BackfillFailure) {
	s.FailureCount++
	if len(s.FailuresPreview) < MaxFailuresPreview {
		s.FailuresPreview = append(s.FailuresPreview, f)
	}
}

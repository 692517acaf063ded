package alerts

import (
	"context"
	"fmt"

	"github.com/ogulcanaydogan/billsync/pkg/model"
)

// AlertLevel indicates how a backfill job ended.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "info"     // Every pair succeeded or was skipped
	AlertWarning  AlertLevel = "warning"  // Some pairs failed
	AlertCritical AlertLevel = "critical" // The job itself aborted
)

// Alert is a backfill job completion notice.
type Alert struct {
	Level    AlertLevel `json:"level"`
	JobID    string     `json:"job_id"`
	OK       bool       `json:"ok"`
	Total    int        `json:"total"`
	Success  int        `json:"success"`
	Failed   int        `json:"failed"`
	Skipped  int        `json:"skipped"`
	Duration string     `json:"duration"`
	Error    string     `json:"error,omitempty"`
	Message  string     `json:"message"`
}

// FromJob builds the completion alert for a finished job.
func FromJob(state model.BackfillJobState) Alert {
	a := Alert{
		JobID: state.JobID,
		Error: state.Error,
	}
	if s := state.Summary; s != nil {
		a.OK = s.OK
		a.Total = s.Total
		a.Success = s.Success
		a.Failed = s.Failed
		a.Skipped = s.Skipped
		a.Duration = s.Duration
	}

	switch {
	case state.Error != "":
		a.Level = AlertCritical
		a.Message = fmt.Sprintf("Backfill %s aborted: %s", state.JobID, state.Error)
	case a.Failed > 0:
		a.Level = AlertWarning
		a.Message = fmt.Sprintf("Backfill %s finished with %d of %d vendor-months failed", state.JobID, a.Failed, a.Total)
	default:
		a.Level = AlertInfo
		a.Message = fmt.Sprintf("Backfill %s finished: %d stored, %d skipped", state.JobID, a.Success, a.Skipped)
	}
	return a
}

// Notifier sends alerts to external systems.
type Notifier interface {
	// Name returns the notifier identifier.
	Name() string

	// Send delivers an alert. Implementations must be safe for concurrent use.
	Send(ctx context.Context, alert Alert) error
}

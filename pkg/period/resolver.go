package period

import (
	"fmt"
	"strings"
	"time"

	"github.com/ogulcanaydogan/billsync/pkg/model"
)

// Options carries an optional custom range as YYYY-MM-DD strings.
type Options struct {
	PeriodStart string `json:"periodStart,omitempty"`
	PeriodEnd   string `json:"periodEnd,omitempty"`
}

// Resolve turns options into a billing period. With no dates it returns the
// current UTC month to date. Supplying only one bound is an error.
func Resolve(opts Options, now time.Time) (model.BillingPeriod, error) {
	startStr := strings.TrimSpace(opts.PeriodStart)
	endStr := strings.TrimSpace(opts.PeriodEnd)

	switch {
	case startStr == "" && endStr == "":
		return MonthToDate(now), nil
	case startStr == "" || endStr == "":
		return model.BillingPeriod{}, fmt.Errorf("%w: periodStart and periodEnd must be supplied together", model.ErrInvalidRange)
	}

	start, err := ParseDate(startStr)
	if err != nil {
		return model.BillingPeriod{}, err
	}
	end, err := ParseDate(endStr)
	if err != nil {
		return model.BillingPeriod{}, err
	}
	return model.NewBillingPeriod(start, end)
}

// ParseDate parses a strict YYYY-MM-DD calendar date in UTC.
func ParseDate(s string) (time.Time, error) {
	if len(s) != len(model.DateLayout) {
		return time.Time{}, fmt.Errorf("%w: %q is not YYYY-MM-DD", model.ErrInvalidRange, s)
	}
	t, err := time.ParseInLocation(model.DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q is not YYYY-MM-DD", model.ErrInvalidRange, s)
	}
	return t, nil
}

// MonthToDate returns the first of now's UTC month through today.
func MonthToDate(now time.Time) model.BillingPeriod {
	today := model.TruncateDate(now.UTC())
	first := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
	return model.BillingPeriod{Start: first, End: today, EndExclusive: today.AddDate(0, 0, 1)}
}

// Month returns the whole calendar month containing t.
func Month(t time.Time) model.BillingPeriod {
	d := t.UTC()
	first := time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
	next := first.AddDate(0, 1, 0)
	return model.BillingPeriod{Start: first, End: next.AddDate(0, 0, -1), EndExclusive: next}
}

// LookbackMonths returns whole calendar months, oldest first, starting
// lookback months before now and stopping before the current month.
func LookbackMonths(now time.Time, lookback int) []model.BillingPeriod {
	if lookback <= 0 {
		return nil
	}
	current := Month(now).Start
	months := make([]model.BillingPeriod, 0, lookback)
	for i := lookback; i >= 1; i-- {
		months = append(months, Month(current.AddDate(0, -i, 0)))
	}
	return months
}

package csvusage

import "github.com/ogulcanaydogan/billsync/pkg/model"

// Set accumulates usage rows, collapsing identical dedupe keys. It keeps
// first-seen order so repeated imports produce stable output.
type Set struct {
	seen map[string]struct{}
	rows []UsageRow
}

// NewSet creates an empty row set.
func NewSet() *Set {
	return &Set{seen: make(map[string]struct{})}
}

// Add inserts rows not already present and returns how many were new.
func (s *Set) Add(rows ...UsageRow) int {
	added := 0
	for _, r := range rows {
		k := r.Key()
		if _, dup := s.seen[k]; dup {
			continue
		}
		s.seen[k] = struct{}{}
		s.rows = append(s.rows, r)
		added++
	}
	return added
}

// Len returns the number of distinct rows.
func (s *Set) Len() int { return len(s.rows) }

// Rows returns the distinct rows in insertion order.
func (s *Set) Rows() []UsageRow {
	out := make([]UsageRow, len(s.rows))
	copy(out, s.rows)
	return out
}

// Within returns the rows whose usage window intersects the period.
func (s *Set) Within(p model.BillingPeriod) []UsageRow {
	var out []UsageRow
	for _, r := range s.rows {
		if p.Overlaps(r.PeriodStart, r.PeriodEnd) {
			out = append(out, r)
		}
	}
	return out
}

// ToBreakdown converts usage rows into unsummarized breakdown rows.
func ToBreakdown(rows []UsageRow) []model.BreakdownRow {
	out := make([]model.BreakdownRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.BreakdownRow{
			ResourceType: r.ResourceType,
			Currency:     r.Currency,
			Amount:       r.Amount,
		})
	}
	return out
}

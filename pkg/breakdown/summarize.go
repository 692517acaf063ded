package breakdown

import (
	"regexp"
	"sort"
	"strings"

	"github.com/ogulcanaydogan/billsync/pkg/model"
	"github.com/shopspring/decimal"
)

// Uncategorized is the resource type used when a line item names none.
const Uncategorized = "Uncategorized"

// DefaultCurrency is assumed when a vendor payload omits the currency.
const DefaultCurrency = "USD"

var (
	currencyCode = regexp.MustCompile(`^[A-Z]{3}$`)

	// "Cloud Servers (March 2024)" -> "Cloud Servers"
	monthYearSuffix = regexp.MustCompile(`(?i)\s*\(\s*(jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?\s+\d{4}\s*\)\s*$`)

	rackspaceNoise = regexp.MustCompile(`(?i)\b(hosting service|hypervisor)\b`)
)

// NormalizeResourceType collapses whitespace and substitutes Uncategorized for blanks.
func NormalizeResourceType(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return Uncategorized
	}
	return s
}

// NormalizeRackspaceResourceType also strips the "(Month Year)" suffix and
// service-name noise words Rackspace appends to product names.
func NormalizeRackspaceResourceType(s string) string {
	s = monthYearSuffix.ReplaceAllString(s, "")
	s = rackspaceNoise.ReplaceAllString(s, " ")
	s = strings.Trim(strings.Join(strings.Fields(s), " "), " -:")
	return NormalizeResourceType(s)
}

// NormalizeCurrency upper-cases a three-letter code, falling back for anything else.
func NormalizeCurrency(s, fallback string) string {
	c := strings.ToUpper(strings.TrimSpace(s))
	if currencyCode.MatchString(c) {
		return c
	}
	if fallback == "" {
		return DefaultCurrency
	}
	return fallback
}

type groupKey struct {
	resourceType string
	currency     string
}

// Summarize groups rows by resource type and currency, sums amounts, drops
// zero-sum groups, and sorts by descending amount. Ties keep first-seen order.
func Summarize(rows []model.BreakdownRow) []model.BreakdownRow {
	index := make(map[groupKey]int, len(rows))
	var out []model.BreakdownRow

	for _, r := range rows {
		k := groupKey{
			resourceType: NormalizeResourceType(r.ResourceType),
			currency:     NormalizeCurrency(r.Currency, DefaultCurrency),
		}
		if i, ok := index[k]; ok {
			out[i].Amount = out[i].Amount.Add(r.Amount)
			continue
		}
		index[k] = len(out)
		out = append(out, model.BreakdownRow{ResourceType: k.resourceType, Currency: k.currency, Amount: r.Amount})
	}

	kept := out[:0]
	for _, r := range out {
		if !r.Amount.IsZero() {
			kept = append(kept, r)
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Amount.GreaterThan(kept[j].Amount)
	})
	return kept
}

// Total sums the amounts of all rows.
func Total(rows []model.BreakdownRow) decimal.Decimal {
	total := decimal.Zero
	for _, r := range rows {
		total = total.Add(r.Amount)
	}
	return total
}

// DominantCurrency returns the currency carrying the largest absolute amount.
func DominantCurrency(rows []model.BreakdownRow, fallback string) string {
	byCurrency := make(map[string]decimal.Decimal)
	best, bestAmount := "", decimal.Zero
	for _, r := range rows {
		sum := byCurrency[r.Currency].Add(r.Amount.Abs())
		byCurrency[r.Currency] = sum
		if best == "" || sum.GreaterThan(bestAmount) {
			best, bestAmount = r.Currency, sum
		}
	}
	if best == "" {
		return NormalizeCurrency(fallback, DefaultCurrency)
	}
	return best
}

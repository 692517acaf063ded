package csvusage

import (
	"errors"
	"strings"
	"time"

	"github.com/ogulcanaydogan/billsync/pkg/breakdown"
	"github.com/ogulcanaydogan/billsync/pkg/model"
	"github.com/shopspring/decimal"
)

// Rackspace invoice-detail column names.
const (
	ColBillNo          = "BILL_NO"
	ColAccountNo       = "ACCOUNT_NO"
	ColParentAccountNo = "PARENT_ACCOUNT_NO"
	ColUsageRecordID   = "USAGE_RECORD_ID"
	ColResID           = "RES_ID"
	ColResName         = "RES_NAME"
	ColServiceType     = "SERVICE_TYPE"
	ColEventType       = "EVENT_TYPE"
	ColEventStartDate  = "EVENT_START_DATE"
	ColEventEndDate    = "EVENT_END_DATE"
	ColBillStartDate   = "BILL_START_DATE"
	ColBillEndDate     = "BILL_END_DATE"
	ColAmount          = "AMOUNT"
	ColCurrency        = "CURRENCY"
	ColProduct         = "PRODUCT"
)

// ErrNoHeader is returned when the CSV lacks the columns needed to price rows.
var ErrNoHeader = errors.New("csv: missing AMOUNT or BILL_START_DATE/BILL_END_DATE header")

var dateLayouts = []string{
	model.DateLayout,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"01/02/2006",
	"01/02/2006 15:04:05",
	"1/2/2006",
	"02-Jan-2006",
	"20060102",
}

// UsageRow is one normalized Rackspace usage line.
type UsageRow struct {
	BillNo          string          `json:"bill_no"`
	AccountNo       string          `json:"account_no"`
	ParentAccountNo string          `json:"parent_account_no,omitempty"`
	UsageRecordID   string          `json:"usage_record_id,omitempty"`
	ResID           string          `json:"res_id,omitempty"`
	ResName         string          `json:"res_name,omitempty"`
	ServiceType     string          `json:"service_type"`
	EventType       string          `json:"event_type,omitempty"`
	EventStartDate  string          `json:"event_start_date,omitempty"`
	EventEndDate    string          `json:"event_end_date,omitempty"`
	ResourceType    string          `json:"resource_type"`
	PeriodStart     time.Time       `json:"period_start"`
	PeriodEnd       time.Time       `json:"period_end"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
}

// Key is the dedupe identity of the row.
func (r UsageRow) Key() string {
	return strings.Join([]string{
		r.BillNo, r.AccountNo, r.ParentAccountNo, r.UsageRecordID, r.ResID, r.ResName,
		r.ServiceType, r.EventType, r.EventStartDate, r.EventEndDate,
		r.Amount.String(), r.Currency,
	}, "\x1f")
}

// ParseResult holds accepted rows and the number of dropped data lines.
type ParseResult struct {
	Rows    []UsageRow
	Dropped int
}

// ParseRackspace tokenizes an invoice-detail export and normalizes its rows.
// Rows with a zero or non-numeric amount, or without both bill dates, are
// dropped. Vendor end dates are exclusive, so PeriodEnd is the day before.
func ParseRackspace(text, defaultCurrency string) (ParseResult, error) {
	records := Tokenize(text)
	if len(records) == 0 {
		return ParseResult{}, nil
	}

	h := NewHeader(records[0])
	if !h.Has(ColAmount) || !h.Has(ColBillStartDate, ColEventStartDate) || !h.Has(ColBillEndDate, ColEventEndDate) {
		return ParseResult{}, ErrNoHeader
	}

	var res ParseResult
	for _, rec := range records[1:] {
		row, ok := normalizeRow(h, rec, defaultCurrency)
		if !ok {
			res.Dropped++
			continue
		}
		res.Rows = append(res.Rows, row)
	}
	return res, nil
}

func normalizeRow(h Header, rec []string, defaultCurrency string) (UsageRow, bool) {
	amount, ok := ParseAmount(h.Get(rec, ColAmount))
	if !ok || amount.IsZero() {
		return UsageRow{}, false
	}

	start, okStart := ParseDate(h.Get(rec, ColBillStartDate, ColEventStartDate))
	end, okEnd := ParseDate(h.Get(rec, ColBillEndDate, ColEventEndDate))
	if !okStart || !okEnd {
		return UsageRow{}, false
	}
	periodEnd := end.AddDate(0, 0, -1)
	if periodEnd.Before(start) {
		periodEnd = start
	}

	serviceType := h.Get(rec, ColServiceType)
	label := serviceType
	if label == "" {
		label = h.Get(rec, ColProduct, ColEventType)
	}

	return UsageRow{
		BillNo:          h.Get(rec, ColBillNo),
		AccountNo:       h.Get(rec, ColAccountNo),
		ParentAccountNo: h.Get(rec, ColParentAccountNo),
		UsageRecordID:   h.Get(rec, ColUsageRecordID),
		ResID:           h.Get(rec, ColResID),
		ResName:         h.Get(rec, ColResName),
		ServiceType:     serviceType,
		EventType:       h.Get(rec, ColEventType),
		EventStartDate:  h.Get(rec, ColEventStartDate),
		EventEndDate:    h.Get(rec, ColEventEndDate),
		ResourceType:    breakdown.NormalizeRackspaceResourceType(label),
		PeriodStart:     start,
		PeriodEnd:       periodEnd,
		Amount:          amount,
		Currency:        breakdown.NormalizeCurrency(h.Get(rec, ColCurrency), defaultCurrency),
	}, true
}

// ParseAmount accepts plain decimals plus thousands separators, a leading
// currency symbol, and accounting-style parentheses for negatives.
func ParseAmount(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, false
	}
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	s = strings.TrimLeft(s, "$€£ ")
	s = strings.ReplaceAll(s, ",", "")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	if negative {
		d = d.Neg()
	}
	return d, true
}

// ParseDate tries the date layouts seen in Rackspace exports and returns a UTC date.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return model.TruncateDate(t), true
		}
	}
	return time.Time{}, false
}

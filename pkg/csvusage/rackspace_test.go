package csvusage_test

import (
	"testing"
	"time"

	"github.com/ogulcanaydogan/billsync/pkg/csvusage"
	"github.com/ogulcanaydogan/billsync/pkg/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rackspaceCSV = "\uFEFFBILL_NO,ACCOUNT_NO,PARENT_ACCOUNT_NO,USAGE_RECORD_ID,RES_ID,RES_NAME,SERVICE_TYPE,EVENT_TYPE,EVENT_START_DATE,EVENT_END_DATE,BILL_START_DATE,BILL_END_DATE,AMOUNT,CURRENCY\r\n" +
	"B-1,020-123,,U1,srv-1,web01,Cloud Servers (January 2024),USAGE,2024-01-01,2024-02-01,2024-01-01,2024-02-01,120.50,usd\r\n" +
	"B-1,020-123,,U2,vol-1,\"data, primary\",Managed Hosting Service,USAGE,2024-01-01,2024-02-01,2024-01-01,2024-02-01,\"1,024.00\",USD\r\n" +
	"B-1,020-123,,U3,,,Cloud Files,USAGE,2024-01-01,2024-02-01,2024-01-01,2024-02-01,0.00,USD\r\n" +
	"B-1,020-123,,U4,,,Cloud Files,USAGE,2024-01-01,2024-02-01,2024-01-01,2024-02-01,n/a,USD\r\n" +
	"B-1,020-123,,U5,,,Cloud Files,USAGE,,,,,5.00,USD\r\n" +
	"B-1,020-123,,U6,,,Credit,ADJUSTMENT,2024-01-15,2024-01-15,2024-01-15,2024-01-15,(10.00),USD\r\n"

func TestParseRackspace(t *testing.T) {
	res, err := csvusage.ParseRackspace(rackspaceCSV, "USD")
	require.NoError(t, err)
	require.Len(t, res.Rows, 3)
	assert.Equal(t, 3, res.Dropped)

	first := res.Rows[0]
	assert.Equal(t, "Cloud Servers", first.ResourceType)
	assert.Equal(t, "USD", first.Currency)
	assert.True(t, decimal.RequireFromString("120.50").Equal(first.Amount))
	assert.Equal(t, "2024-01-01", first.PeriodStart.Format(model.DateLayout))
	assert.Equal(t, "2024-01-31", first.PeriodEnd.Format(model.DateLayout))

	second := res.Rows[1]
	assert.Equal(t, "Managed", second.ResourceType)
	assert.Equal(t, "data, primary", second.ResName)
	assert.True(t, decimal.RequireFromString("1024").Equal(second.Amount))

	credit := res.Rows[2]
	assert.True(t, decimal.RequireFromString("-10").Equal(credit.Amount))
	assert.Equal(t, credit.PeriodStart, credit.PeriodEnd)
}

func TestParseRackspace_MissingHeader(t *testing.T) {
	_, err := csvusage.ParseRackspace("FOO,BAR\n1,2\n", "USD")
	assert.ErrorIs(t, err, csvusage.ErrNoHeader)
}

func TestParseRackspace_EmptyInput(t *testing.T) {
	res, err := csvusage.ParseRackspace("", "USD")
	require.NoError(t, err)
	assert.Empty(t, res.Rows)
}

func TestSet_DedupeIsIdempotent(t *testing.T) {
	once, err := csvusage.ParseRackspace(rackspaceCSV, "USD")
	require.NoError(t, err)
	twice, err := csvusage.ParseRackspace(rackspaceCSV, "USD")
	require.NoError(t, err)

	set := csvusage.NewSet()
	assert.Equal(t, len(once.Rows), set.Add(once.Rows...))
	assert.Equal(t, 0, set.Add(twice.Rows...))
	assert.Equal(t, len(once.Rows), set.Len())
}

func TestSet_Within(t *testing.T) {
	res, err := csvusage.ParseRackspace(rackspaceCSV, "USD")
	require.NoError(t, err)
	set := csvusage.NewSet()
	set.Add(res.Rows...)

	feb, err := model.NewBillingPeriod(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, set.Within(feb))

	jan, err := model.NewBillingPeriod(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, set.Within(jan), 3)

	rows := csvusage.ToBreakdown(set.Within(jan))
	assert.Len(t, rows, 3)
	assert.Equal(t, "Cloud Servers", rows[0].ResourceType)
}

func TestParseDate(t *testing.T) {
	for _, s := range []string{"2024-01-05", "01/05/2024", "2024-01-05 13:00:00", "2024-01-05T10:00:00Z", "20240105"} {
		d, ok := csvusage.ParseDate(s)
		require.True(t, ok, s)
		assert.Equal(t, "2024-01-05", d.Format(model.DateLayout), s)
	}
	_, ok := csvusage.ParseDate("soon")
	assert.False(t, ok)
}

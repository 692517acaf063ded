package providers_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/ogulcanaydogan/billsync/pkg/model"
	"github.com/ogulcanaydogan/billsync/pkg/providers"
	"github.com/ogulcanaydogan/billsync/pkg/retry"
)

var testNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func testDeps(client *http.Client) providers.Deps {
	return providers.Deps{
		HTTPClient: client,
		Now:        func() time.Time { return testNow },
		TokenPolicy: retry.Policy{
			Attempts:  2,
			BaseDelay: time.Millisecond,
			MaxDelay:  time.Millisecond,
			Sleep:     func(context.Context, time.Duration) error { return nil },
		},
	}
}

func august(t testing.TB) model.BillingPeriod {
	t.Helper()
	p, err := model.NewBillingPeriod(
		time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC),
	)
	if err != nil {
		t.Fatalf("period: %v", err)
	}
	return p
}

package paginate_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ogulcanaydogan/billsync/pkg/paginate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pagesOf(total int, reportTotal bool, calls *int) paginate.PageFunc[int] {
	return func(_ context.Context, page, size int) (paginate.Page[int], error) {
		*calls++
		var items []int
		for i := (page - 1) * size; i < page*size && i < total; i++ {
			items = append(items, i)
		}
		t := -1
		if reportTotal {
			t = total
		}
		return paginate.Page[int]{Items: items, Total: t}, nil
	}
}

func TestFetchAll_StopsOnShortPage(t *testing.T) {
	calls := 0
	res, err := paginate.FetchAll(context.Background(), pagesOf(25, false, &calls), 10, 50)
	require.NoError(t, err)
	assert.Len(t, res.Items, 25)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, res.Pages)
	assert.False(t, res.Truncated)
	assert.Equal(t, 24, res.Items[24])
}

func TestFetchAll_StopsOnReportedTotal(t *testing.T) {
	calls := 0
	res, err := paginate.FetchAll(context.Background(), pagesOf(20, true, &calls), 10, 50)
	require.NoError(t, err)
	assert.Len(t, res.Items, 20)
	assert.Equal(t, 2, calls, "a full last page must not trigger an extra request when the total is known")
	assert.False(t, res.Truncated)
}

func TestFetchAll_ExactMultipleWithoutTotal(t *testing.T) {
	calls := 0
	res, err := paginate.FetchAll(context.Background(), pagesOf(20, false, &calls), 10, 50)
	require.NoError(t, err)
	assert.Len(t, res.Items, 20)
	assert.Equal(t, 3, calls)
}

func TestFetchAll_Truncated(t *testing.T) {
	calls := 0
	res, err := paginate.FetchAll(context.Background(), pagesOf(1000, false, &calls), 10, 5)
	require.NoError(t, err)
	assert.Len(t, res.Items, 50)
	assert.Equal(t, 5, calls)
	assert.True(t, res.Truncated)
}

func TestFetchAll_Error(t *testing.T) {
	boom := errors.New("boom")
	fetch := func(_ context.Context, page, _ int) (paginate.Page[int], error) {
		if page == 2 {
			return paginate.Page[int]{}, boom
		}
		return paginate.Page[int]{Items: []int{1, 2}, Total: -1}, nil
	}
	res, err := paginate.FetchAll(context.Background(), fetch, 2, 10)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, res.Items, 2)
}

func TestFetchAll_InvalidArgs(t *testing.T) {
	calls := 0
	_, err := paginate.FetchAll(context.Background(), pagesOf(1, false, &calls), 0, 1)
	assert.Error(t, err)
	_, err = paginate.FetchAll(context.Background(), pagesOf(1, false, &calls), 1, 0)
	assert.Error(t, err)
	assert.Equal(t, 0, calls)
}

func TestFetchAll_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	_, err := paginate.FetchAll(ctx, pagesOf(100, false, &calls), 10, 10)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, calls)
}

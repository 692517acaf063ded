package paginate

import (
	"context"
	"fmt"
)

// Page is one response from a paged list endpoint. Total is the vendor's
// reported item count, or a negative number when the endpoint reports none.
type Page[T any] struct {
	Items []T
	Total int
}

// PageFunc fetches a single 1-based page.
type PageFunc[T any] func(ctx context.Context, page, pageSize int) (Page[T], error)

// Result is the accumulated listing.
type Result[T any] struct {
	Items     []T
	Pages     int
	Truncated bool
}

// FetchAll walks pages sequentially until a short page, the reported total,
// or maxPages. Hitting maxPages with more data possibly pending marks the
// result truncated.
func FetchAll[T any](ctx context.Context, fetch PageFunc[T], pageSize, maxPages int) (Result[T], error) {
	if pageSize <= 0 {
		return Result[T]{}, fmt.Errorf("paginate: page size must be positive, got %d", pageSize)
	}
	if maxPages <= 0 {
		return Result[T]{}, fmt.Errorf("paginate: max pages must be positive, got %d", maxPages)
	}

	var res Result[T]
	for page := 1; page <= maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		p, err := fetch(ctx, page, pageSize)
		if err != nil {
			return res, fmt.Errorf("fetch page %d: %w", page, err)
		}
		res.Pages++
		res.Items = append(res.Items, p.Items...)

		if len(p.Items) < pageSize {
			return res, nil
		}
		if p.Total >= 0 && len(res.Items) >= p.Total {
			return res, nil
		}
	}

	res.Truncated = true
	return res, nil
}

package transport

import "context"

// PageFunc fetches one page starting at token and returns its items and the
// token of the next page. An empty next token marks the last page.
type PageFunc[T any] func(ctx context.Context, token string) (items []T, next string, err error)

// FetchAll drains a paginated listing. There is no bound on the number of
// pages: a server that never returns an empty token blocks the caller until
// ctx is done.
func FetchAll[T any](ctx context.Context, page PageFunc[T]) ([]T, error) {
	var (
		all   []T
		token string
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		items, next, err := page(ctx, token)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
		if next == "" {
			return all, nil
		}
		token = next
	}
}

// FetchAllOrEmpty is FetchAll with NotFound treated as an empty collection.
func FetchAllOrEmpty[T any](ctx context.Context, page PageFunc[T]) ([]T, error) {
	items, err := FetchAll(ctx, page)
	if err != nil {
		return nil, IgnoreNotFound(err)
	}
	return items, nil
}

package auth0

import (
	"context"
	"errors"
	"fmt"
)

// PageSize is the number of records requested per page from list endpoints.
const PageSize = 20

var (
	ErrRemoteFetch   = errors.New("remote fetch failed")
	ErrInvalidRecord = errors.New("invalid remote record")
)

// PageFunc fetches a single page of a remote collection.
// Pages are zero-based.
type PageFunc[T any] func(ctx context.Context, page, perPage int) ([]T, error)

// FetchError is returned by Paginate when a page request fails.
type FetchError struct {
	Page int
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch page %d: %v", e.Page, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func (e *FetchError) Is(target error) bool {
	return target == ErrRemoteFetch
}

// Paginate retrieves a complete remote collection by requesting pages of
// PageSize items in increasing order until a page comes back short.
//
// A final page holding exactly PageSize items cannot be told apart from a
// full intermediate page, so it costs one extra (empty) request.
// The first failing request aborts the whole pagination.
func Paginate[T any](ctx context.Context, fetch PageFunc[T]) ([]T, error) {
	var all []T
	for page := 0; ; page++ {
		items, err := fetch(ctx, page, PageSize)
		if err != nil {
			return nil, &FetchError{Page: page, Err: err}
		}
		all = append(all, items...)
		if len(items) < PageSize {
			return all, nil
		}
	}
}

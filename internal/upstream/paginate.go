package upstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// PageFunc fetches one page. page is 1-based; cursor is the value returned as next by the
// previous page ("" for the first page and for numbered pagination). An empty next on a
// cursor-paginated source ends the walk.
type PageFunc[T any] func(ctx context.Context, page int, cursor string) (items []T, next string, err error)

// Pagination describes a sequential page walk.
type Pagination struct {
	Provider string
	// Pages is the number of pages the walk intends to cover.
	Pages int
	// Attempts per page; transient failures are retried with linear backoff.
	Attempts int
	// Backoff is multiplied by the attempt number between retries.
	Backoff time.Duration
	// Pace spaces consecutive page requests. Zero disables pacing.
	Pace time.Duration
	// Cursor selects cursor-based pagination instead of numbered pages.
	Cursor bool
}

// Paginate walks pages 1..Pages in order.
//
// A 429 stops the walk and marks the result partial. Transient failures are retried up to
// Attempts times. Any failure on the first page is returned as an error; failures on later
// pages truncate the walk and mark it partial. An empty page, or a missing cursor, ends
// the walk without marking it partial. A cancelled or expired ctx is always returned as
// an error, whichever page it interrupts.
func Paginate[T any](ctx context.Context, p Pagination, fetch PageFunc[T]) ([]T, bool, error) {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	var limiter *rate.Limiter
	if p.Pace > 0 {
		limiter = rate.NewLimiter(rate.Every(p.Pace), 1)
	}

	var (
		all     []T
		cursor  string
		partial bool
	)
	for page := 1; page <= p.Pages; page++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				if ctx.Err() == nil {
					// The limiter refuses a wait that would outlast the deadline.
					err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
				}
				return nil, false, fmt.Errorf("page %d: %w", page, err)
			}
		}

		items, next, err := fetchWithRetry(ctx, p, attempts, page, cursor, fetch)
		if err != nil {
			if ctx.Err() != nil {
				return nil, false, fmt.Errorf("page %d: %w", page, ctx.Err())
			}
			if page == 1 {
				return nil, false, fmt.Errorf("first page: %w", err)
			}
			if errors.Is(err, ErrRateLimited) {
				log.Warn().Str("provider", p.Provider).Int("page", page).Msg("rate limited, stopping pagination")
			} else {
				log.Warn().Err(err).Str("provider", p.Provider).Int("page", page).Msg("page failed, truncating pagination")
			}
			partial = true
			break
		}

		if len(items) == 0 {
			break
		}
		all = append(all, items...)

		if p.Cursor {
			if next == "" {
				break
			}
			cursor = next
		}
	}
	return all, partial, nil
}

func fetchWithRetry[T any](ctx context.Context, p Pagination, attempts, page int, cursor string, fetch PageFunc[T]) ([]T, string, error) {
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		items, next, err := fetch(ctx, page, cursor)
		if err == nil {
			return items, next, nil
		}
		lastErr = err
		if !Retryable(err) || attempt == attempts {
			break
		}
		log.Debug().Err(err).Str("provider", p.Provider).Int("page", page).Int("attempt", attempt).Msg("retrying page")
		if err := sleep(ctx, time.Duration(attempt)*p.Backoff); err != nil {
			return nil, "", err
		}
	}
	return nil, "", lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

package upstream

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// FanOut calls fetch for every partition concurrently. A failing partition contributes
// nothing and marks the result partial, as does a partition that reports its own partial
// coverage. Results are concatenated in partition order so the
// output does not depend on completion order. FanOut fails with ErrFatal only when every
// partition came back empty.
func FanOut[P fmt.Stringer, T any](ctx context.Context, provider string, partitions []P, fetch func(context.Context, P) ([]T, bool, error)) ([]T, bool, error) {
	results := make([][]T, len(partitions))
	short := make([]bool, len(partitions))

	var g errgroup.Group
	for i, part := range partitions {
		g.Go(func() error {
			items, partial, err := fetch(ctx, part)
			if err != nil {
				log.Warn().Err(err).Str("provider", provider).Str("partition", part.String()).Msg("partition failed")
				short[i] = true
				return nil
			}
			results[i], short[i] = items, partial
			return nil
		})
	}
	_ = g.Wait()

	var (
		all     []T
		partial bool
	)
	for i := range partitions {
		if short[i] {
			partial = true
		}
		all = append(all, results[i]...)
	}
	if len(all) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		return nil, false, fmt.Errorf("%w: all %d partitions of %s returned nothing", ErrFatal, len(partitions), provider)
	}
	return all, partial, nil
}

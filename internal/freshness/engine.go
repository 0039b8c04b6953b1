package freshness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"cryptomovers/internal/cache"
	"cryptomovers/internal/lease"
	"cryptomovers/internal/metrics"
	"cryptomovers/internal/models"
	"cryptomovers/internal/pipeline"
	"cryptomovers/internal/worker"
)

// ErrTimeout is returned when a synchronous refresh misses its deadline.
var ErrTimeout = errors.New("refresh timed out")

// Runner produces a ranked result. *pipeline.Pipeline is the production runner.
type Runner interface {
	Run(ctx context.Context, mode pipeline.Mode) (models.RankedResult, error)
}

// Response is a served entry and the X-Source it was served under.
type Response struct {
	Entry  models.CacheEntry
	Source string
}

// Engine applies one Policy to one dataset.
type Engine struct {
	dataset string
	policy  Policy
	entries *cache.EntryStore
	leases  *lease.Manager
	runner  Runner
	pool    *worker.Pool

	flight       singleflight.Group
	pollInterval time.Duration
	now          func() time.Time
}

func NewEngine(dataset string, policy Policy, entries *cache.EntryStore, leases *lease.Manager, runner Runner, pool *worker.Pool) *Engine {
	defaults := DefaultPolicy(policy.SoftRefresh, policy.RetryDelay)
	if policy.LockTimeout <= 0 {
		policy.LockTimeout = defaults.LockTimeout
	}
	if policy.LockTTL <= 0 {
		policy.LockTTL = defaults.LockTTL
	}
	if policy.EntryTTL <= 0 {
		policy.EntryTTL = defaults.EntryTTL
	}
	if policy.SyncTimeout <= 0 {
		policy.SyncTimeout = defaults.SyncTimeout
	}
	return &Engine{
		dataset:      dataset,
		policy:       policy,
		entries:      entries,
		leases:       leases,
		runner:       runner,
		pool:         pool,
		pollInterval: 250 * time.Millisecond,
		now:          time.Now,
	}
}

func (e *Engine) Dataset() string {
	return e.dataset
}

func (e *Engine) Policy() Policy {
	return e.policy
}

// Serve answers one request for the dataset.
func (e *Engine) Serve(ctx context.Context) (Response, error) {
	now := e.now()
	entry, err := e.entries.Get(ctx, e.dataset)
	if err != nil {
		log.Warn().Err(err).Str("dataset", e.dataset).Msg("cache read failed, treating as miss")
		entry = nil
	}

	held := false
	if entry != nil && entry.Age(now) >= e.policy.SoftRefresh {
		held = e.leases.IsHeld(ctx, e.dataset, now, e.policy.LockTimeout)
	}

	action := Decide(entry, held, now, e.policy)
	log.Debug().Str("dataset", e.dataset).Stringer("action", action).Msg("freshness decision")

	switch action {
	case ColdStart:
		return e.coldStart(ctx)
	case ProactiveRefresh:
		return e.served(*entry, e.scheduleRefresh(ctx, entry)), nil
	default:
		return e.served(*entry, action.Source()), nil
	}
}

// Refresh runs a deep refresh now, whatever the entry's age. When it fails and an entry
// exists, that entry is returned marked failed under SourceFallback.
func (e *Engine) Refresh(ctx context.Context) (Response, error) {
	prev, err := e.entries.Get(ctx, e.dataset)
	if err != nil {
		log.Warn().Err(err).Str("dataset", e.dataset).Msg("cache read failed before forced refresh")
		prev = nil
	}

	l := e.leases.Acquire(ctx, e.dataset)
	if l == nil {
		if prev != nil {
			return e.served(*prev, SourceUpdateInProgress), nil
		}
		waitCtx, cancel := context.WithTimeout(ctx, e.policy.SyncTimeout)
		defer cancel()
		return e.awaitEntry(waitCtx)
	}
	defer e.leases.Release(context.WithoutCancel(ctx), l)

	entry, err := e.refresh(ctx, pipeline.ModeDeep, prev)
	if err != nil {
		if prev == nil {
			return Response{}, err
		}
		log.Warn().Err(err).Str("dataset", e.dataset).Msg("forced refresh failed, keeping previous entry")
		return e.served(entry, SourceFallback), nil
	}
	return e.served(entry, SourceLive), nil
}

// scheduleRefresh takes the lease and hands a deep refresh to the pool. It returns the
// X-Source of the stale response.
func (e *Engine) scheduleRefresh(ctx context.Context, prev *models.CacheEntry) string {
	l := e.leases.Acquire(ctx, e.dataset)
	if l == nil {
		// Strict lease taken by someone else.
		return SourceUpdateInProgress
	}

	scheduled := e.pool.TryGo(e.dataset, func(ctx context.Context) {
		defer e.leases.Release(ctx, l)
		if _, err := e.refresh(ctx, pipeline.ModeDeep, prev); err != nil {
			log.Error().Err(err).Str("dataset", e.dataset).Msg("background refresh failed")
		}
	})
	if !scheduled {
		e.leases.Release(context.WithoutCancel(ctx), l)
		log.Warn().Str("dataset", e.dataset).Msg("background pool saturated, refresh skipped")
		return SourceRateLimited
	}
	return SourceProactive
}

// coldStart collapses concurrent cold starts in this process into one refresh bounded by
// SyncTimeout. A caller whose own context ends stops waiting; the refresh continues for
// the others.
func (e *Engine) coldStart(ctx context.Context) (Response, error) {
	ch := e.flight.DoChan(e.dataset, func() (any, error) {
		syncCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.policy.SyncTimeout)
		defer cancel()
		return e.coldRefresh(syncCtx)
	})

	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Response{}, res.Err
		}
		resp := res.Val.(Response)
		metrics.ObserveServed(e.dataset, resp.Source)
		return resp, nil
	}
}

func (e *Engine) coldRefresh(ctx context.Context) (Response, error) {
	l := e.leases.Acquire(ctx, e.dataset)
	if l == nil {
		return e.awaitEntry(ctx)
	}
	defer e.leases.Release(context.WithoutCancel(ctx), l)

	entry, err := e.refresh(ctx, pipeline.ModeCold, nil)
	if err == nil {
		return Response{Entry: entry, Source: SourceLive}, nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %s after %s: %w", ErrTimeout, e.dataset, e.policy.SyncTimeout, err)
	}

	// Another process may have stored an entry while this one was fetching.
	prev, gerr := e.entries.Get(context.WithoutCancel(ctx), e.dataset)
	if gerr == nil && prev != nil {
		log.Warn().Err(err).Str("dataset", e.dataset).Msg("cold start failed, serving concurrently stored entry")
		return Response{Entry: *prev, Source: SourceFallback}, nil
	}
	log.Error().Err(err).Str("dataset", e.dataset).Msg("cold start failed with no fallback")
	return Response{}, err
}

// awaitEntry polls until the holder of a strict lease stores an entry.
func (e *Engine) awaitEntry(ctx context.Context) (Response, error) {
	t := time.NewTicker(e.pollInterval)
	defer t.Stop()
	for {
		entry, err := e.entries.Get(ctx, e.dataset)
		if err == nil && entry != nil {
			return Response{Entry: *entry, Source: SourceLive}, nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return Response{}, fmt.Errorf("%w: %s: waiting for concurrent refresh", ErrTimeout, e.dataset)
			}
			return Response{}, ctx.Err()
		case <-t.C:
		}
	}
}

// refresh runs the pipeline and writes the outcome. On failure with prev, prev is
// rewritten with the failed attempt recorded and returned alongside the error.
func (e *Engine) refresh(ctx context.Context, mode pipeline.Mode, prev *models.CacheEntry) (models.CacheEntry, error) {
	start := e.now()
	result, err := e.runner.Run(ctx, mode)
	done := e.now()

	if err != nil {
		metrics.ObserveRefresh(e.dataset, mode.String(), "failure", done.Sub(start))
		if prev == nil {
			return models.CacheEntry{}, err
		}
		failed := *prev
		failed.LastUpdateAttempt = done
		failed.LastUpdateFailed = true
		if perr := e.entries.Put(context.WithoutCancel(ctx), e.dataset, &failed, e.policy.EntryTTL); perr != nil {
			log.Warn().Err(perr).Str("dataset", e.dataset).Msg("recording failed attempt")
		}
		return failed, err
	}

	result.Timestamp = done
	entry := models.CacheEntry{
		Payload:           result,
		Timestamp:         done,
		LastUpdateAttempt: done,
		IsPartial:         result.IsPartial,
	}
	if perr := e.entries.Put(context.WithoutCancel(ctx), e.dataset, &entry, e.policy.EntryTTL); perr != nil {
		log.Warn().Err(perr).Str("dataset", e.dataset).Msg("cache write failed, serving unsaved result")
	}

	outcome := "success"
	if entry.IsPartial {
		outcome = "partial"
	}
	metrics.ObserveRefresh(e.dataset, mode.String(), outcome, done.Sub(start))
	log.Info().
		Str("dataset", e.dataset).
		Stringer("mode", mode).
		Int("gainers", len(result.Gainers)).
		Int("losers", len(result.Losers)).
		Bool("partial", entry.IsPartial).
		Dur("took", done.Sub(start)).
		Msg("refresh stored")
	return entry, nil
}

func (e *Engine) served(entry models.CacheEntry, source string) Response {
	metrics.ObserveServed(e.dataset, source)
	return Response{Entry: entry, Source: source}
}

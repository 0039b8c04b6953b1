// Package freshness decides, per request, whether a dataset is served from cache,
// served stale while a background refresh runs, or fetched synchronously.
package freshness

import (
	"time"

	"cryptomovers/internal/models"
)

// X-Source values reported with every response.
const (
	SourceFresh            = "Cache-Fresh"
	SourceUpdateInProgress = "Cache-UpdateInProgress"
	SourceProactive        = "Cache-Proactive"
	SourceRateLimited      = "Cache-RateLimited"
	SourceLive             = "Live-Fetch"
	SourceFallback         = "Cache-Fallback-Error"
)

// Action is the serving strategy picked for one request.
type Action int

const (
	// Fresh serves the entry as is.
	Fresh Action = iota
	// UpdateInProgress serves the stale entry; another request is refreshing it.
	UpdateInProgress
	// ProactiveRefresh serves the stale entry and schedules a background refresh.
	ProactiveRefresh
	// RateLimited serves the stale entry without refreshing because the last attempt
	// was too recent.
	RateLimited
	// ColdStart blocks on a synchronous refresh because nothing is cached.
	ColdStart
)

func (a Action) String() string {
	switch a {
	case Fresh:
		return "fresh"
	case UpdateInProgress:
		return "update_in_progress"
	case ProactiveRefresh:
		return "proactive_refresh"
	case RateLimited:
		return "rate_limited"
	case ColdStart:
		return "cold_start"
	default:
		return "unknown"
	}
}

// Source is the X-Source value of a response served under a.
func (a Action) Source() string {
	switch a {
	case Fresh:
		return SourceFresh
	case UpdateInProgress:
		return SourceUpdateInProgress
	case ProactiveRefresh:
		return SourceProactive
	case RateLimited:
		return SourceRateLimited
	default:
		return SourceLive
	}
}

// Policy tunes one dataset.
type Policy struct {
	// SoftRefresh is the age after which an entry is refreshed in the background.
	SoftRefresh time.Duration
	// RetryDelay is the minimum spacing between refresh attempts of a stale entry.
	RetryDelay  time.Duration
	// LockTimeout is the age after which a lease no longer counts as held.
	LockTimeout time.Duration
	LockTTL     time.Duration
	EntryTTL    time.Duration
	// SyncTimeout bounds a cold-start refresh.
	SyncTimeout time.Duration
}

// DefaultPolicy returns the shared timeouts with the given refresh windows.
func DefaultPolicy(softRefresh, retryDelay time.Duration) Policy {
	return Policy{
		SoftRefresh: softRefresh,
		RetryDelay:  retryDelay,
		LockTimeout: 2 * time.Minute,
		LockTTL:     2 * time.Minute,
		EntryTTL:    48 * time.Hour,
		SyncTimeout: 45 * time.Second,
	}
}

// Decide picks the action for entry at now. lockHeld only matters for stale entries.
func Decide(entry *models.CacheEntry, lockHeld bool, now time.Time, p Policy) Action {
	switch {
	case entry == nil:
		return ColdStart
	case entry.Age(now) < p.SoftRefresh:
		return Fresh
	case lockHeld:
		return UpdateInProgress
	case entry.SinceAttempt(now) >= p.RetryDelay:
		return ProactiveRefresh
	default:
		return RateLimited
	}
}

// Package lease implements the refresh marker that tells concurrent requests a refresh
// for a dataset is believed to be in flight.
//
// In advisory mode (the default) a lease is a timestamped marker with a short TTL.
// Acquire always writes it, so two requests that both observe "no lease" within the same
// narrow window will both refresh. That race is accepted: refreshes are idempotent and the
// last write wins. Strict mode uses SET NX with a holder token and compare-and-delete on
// release, so at most one holder exists per key until the TTL lapses.
package lease

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"cryptomovers/internal/store"
)

// ErrStore wraps store failures. Lease operations log and swallow it.
var ErrStore = errors.New("lease store error")

// AdvisoryLease is a held (or believed held) refresh marker.
type AdvisoryLease struct {
	Key        string
	AcquiredAt time.Time
	token      string
}

// Manager acquires and releases leases in the shared store.
type Manager struct {
	kv     store.Store
	ttl    time.Duration
	strict bool
	now    func() time.Time
}

func NewManager(kv store.Store, ttl time.Duration, strict bool) *Manager {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Manager{kv: kv, ttl: ttl, strict: strict, now: time.Now}
}

func lockKey(dataset string) string {
	return dataset + ":lock"
}

func encode(at time.Time, token string) string {
	return strconv.FormatInt(at.UnixMilli(), 10) + "/" + token
}

func decode(v string) (time.Time, bool) {
	ms, _, _ := strings.Cut(v, "/")
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(n), true
}

// Acquire writes the marker for dataset. It returns nil only in strict mode when another
// holder already owns the key. A store failure yields a lease in either mode and the
// refresh runs unprotected.
func (m *Manager) Acquire(ctx context.Context, dataset string) *AdvisoryLease {
	l := &AdvisoryLease{Key: dataset, AcquiredAt: m.now(), token: uuid.NewString()}
	value := encode(l.AcquiredAt, l.token)

	if !m.strict {
		if err := m.kv.Set(ctx, lockKey(dataset), value, m.ttl); err != nil {
			log.Warn().Err(fmt.Errorf("%w: %v", ErrStore, err)).Str("dataset", dataset).Msg("lease write failed, refreshing without it")
		}
		return l
	}

	ok, err := m.kv.SetNX(ctx, lockKey(dataset), value, m.ttl)
	if err != nil {
		log.Warn().Err(fmt.Errorf("%w: %v", ErrStore, err)).Str("dataset", dataset).Msg("strict lease write failed, refreshing without it")
		return l
	}
	if !ok {
		return nil
	}
	return l
}

// Release removes the marker. It never fails: missing or expired leases are fine and store
// errors are logged.
func (m *Manager) Release(ctx context.Context, l *AdvisoryLease) {
	if l == nil {
		return
	}
	var err error
	if m.strict {
		_, err = m.kv.DeleteIfEquals(ctx, lockKey(l.Key), encode(l.AcquiredAt, l.token))
	} else {
		err = m.kv.Delete(ctx, lockKey(l.Key))
	}
	if err != nil {
		log.Warn().Err(fmt.Errorf("%w: %v", ErrStore, err)).Str("dataset", l.Key).Msg("lease release failed")
	}
}

// IsHeld reports whether a marker for dataset exists and is younger than timeout at now.
// A store error counts as not held.
func (m *Manager) IsHeld(ctx context.Context, dataset string, now time.Time, timeout time.Duration) bool {
	v, found, err := m.kv.Get(ctx, lockKey(dataset))
	if err != nil {
		log.Warn().Err(fmt.Errorf("%w: %v", ErrStore, err)).Str("dataset", dataset).Msg("lease read failed")
		return false
	}
	if !found {
		return false
	}
	at, ok := decode(v)
	if !ok {
		return false
	}
	return now.Sub(at) < timeout
}

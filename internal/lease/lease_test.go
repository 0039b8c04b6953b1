package lease

import (
	"context"
	"errors"
	"testing"
	"time"

	"cryptomovers/internal/store"
)

func newManager(t *testing.T, strict bool) (*Manager, store.Store) {
	t.Helper()
	kv, err := store.NewMemory(16)
	if err != nil {
		t.Fatalf("memory store: %v", err)
	}
	return NewManager(kv, 2*time.Minute, strict), kv
}

func TestAdvisoryAcquireRelease(t *testing.T) {
	m, _ := newManager(t, false)
	ctx := context.Background()

	first := m.Acquire(ctx, "market_data")
	if first == nil {
		t.Fatal("advisory acquire must always return a lease")
	}
	if second := m.Acquire(ctx, "market_data"); second == nil {
		t.Fatal("advisory acquire must succeed even when a lease exists")
	}
	if !m.IsHeld(ctx, "market_data", first.AcquiredAt.Add(time.Second), 2*time.Minute) {
		t.Fatal("lease should be held")
	}

	m.Release(ctx, first)
	if m.IsHeld(ctx, "market_data", time.Now(), 2*time.Minute) {
		t.Fatal("lease should be released")
	}
	m.Release(ctx, first)
	m.Release(ctx, nil)
}

func TestIsHeldHonoursTimeout(t *testing.T) {
	m, kv := newManager(t, false)
	ctx := context.Background()
	l := m.Acquire(ctx, "dex_data:eth")

	if m.IsHeld(ctx, "dex_data:eth", l.AcquiredAt.Add(2*time.Minute), 2*time.Minute) {
		t.Error("a lease at its timeout is not held")
	}
	if !m.IsHeld(ctx, "dex_data:eth", l.AcquiredAt.Add(119*time.Second), 2*time.Minute) {
		t.Error("a lease under its timeout is held")
	}

	if err := kv.Set(ctx, "dex_data:eth:lock", "garbage", time.Minute); err != nil {
		t.Fatal(err)
	}
	if m.IsHeld(ctx, "dex_data:eth", time.Now(), 2*time.Minute) {
		t.Error("an unparsable marker is not held")
	}
}

func TestStrictIsExclusive(t *testing.T) {
	m, _ := newManager(t, true)
	ctx := context.Background()

	a := m.Acquire(ctx, "market_data")
	if a == nil {
		t.Fatal("first strict acquire should succeed")
	}
	if b := m.Acquire(ctx, "market_data"); b != nil {
		t.Fatal("second strict acquire should fail while the first is held")
	}

	stale := &AdvisoryLease{Key: "market_data", AcquiredAt: a.AcquiredAt, token: "someone-else"}
	m.Release(ctx, stale)
	if !m.IsHeld(ctx, "market_data", a.AcquiredAt, time.Minute) {
		t.Fatal("releasing with a foreign token must not remove the lease")
	}

	m.Release(ctx, a)
	if c := m.Acquire(ctx, "market_data"); c == nil {
		t.Fatal("acquire after release should succeed")
	}
}

type failingStore struct{ store.Store }

var errDown = errors.New("store down")

func (failingStore) Get(context.Context, string) (string, bool, error) { return "", false, errDown }
func (failingStore) Set(context.Context, string, string, time.Duration) error {
	return errDown
}
func (failingStore) SetNX(context.Context, string, string, time.Duration) (bool, error) {
	return false, errDown
}
func (failingStore) Delete(context.Context, string) error { return errDown }
func (failingStore) DeleteIfEquals(context.Context, string, string) (bool, error) {
	return false, errDown
}

func TestStoreErrorsAreSwallowed(t *testing.T) {
	ctx := context.Background()

	advisory := NewManager(failingStore{}, time.Minute, false)
	l := advisory.Acquire(ctx, "k")
	if l == nil {
		t.Fatal("advisory acquire proceeds without the store")
	}
	advisory.Release(ctx, l)
	if advisory.IsHeld(ctx, "k", time.Now(), time.Minute) {
		t.Fatal("unreadable lease is not held")
	}

	strict := NewManager(failingStore{}, time.Minute, true)
	l = strict.Acquire(ctx, "k")
	if l == nil {
		t.Fatal("strict acquire proceeds unprotected when the store is down")
	}
	strict.Release(ctx, l)
}

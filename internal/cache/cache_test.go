package cache

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"cryptomovers/internal/models"
	"cryptomovers/internal/store"
)

func testStore(t *testing.T) (*EntryStore, store.Store) {
	t.Helper()
	kv, err := store.NewMemory(16)
	if err != nil {
		t.Fatalf("memory store: %v", err)
	}
	return NewEntryStore(kv), kv
}

func sampleEntry() *models.CacheEntry {
	ts := time.UnixMilli(1_700_000_000_000)
	week := 12.5
	return &models.CacheEntry{
		Payload: models.RankedResult{
			Timestamp: ts,
			Gainers:   []models.Item{{ID: "pepe", Symbol: "pepe", Name: "Pepe", Price: 0.0000012, Change24h: 341.2, Change7d: &week}},
			Losers:    []models.Item{{ID: "luna", Symbol: "luna", Name: "Terra", Price: 0.3, Change24h: -28.1}},
			IsPartial: true,
		},
		Timestamp:         ts,
		LastUpdateAttempt: ts.Add(3 * time.Minute),
		LastUpdateFailed:  true,
		IsPartial:         true,
	}
}

func TestPutGet(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()
	want := sampleEntry()

	if err := s.Put(ctx, "market_data", want, time.Hour); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.Get(ctx, "market_data")
	if err != nil || got == nil {
		t.Fatalf("get: entry=%v err=%v", got, err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("entry mismatch (-want +got):\n%s", diff)
	}
}

func TestGetMissing(t *testing.T) {
	s, _ := testStore(t)
	got, err := s.Get(context.Background(), "nothing")
	if err != nil || got != nil {
		t.Fatalf("got %v, %v; want nil, nil", got, err)
	}
}

func TestGetCorruptIsMiss(t *testing.T) {
	s, kv := testStore(t)
	ctx := context.Background()
	for _, raw := range []string{
		`{"timestamp": `,
		`[]`,
		`{"v": 99, "timestamp": 1700000000000}`,
		`{"v": 1}`,
	} {
		if err := kv.Set(ctx, "k", raw, time.Minute); err != nil {
			t.Fatalf("set: %v", err)
		}
		got, err := s.Get(ctx, "k")
		if err != nil || got != nil {
			t.Errorf("%s: got %v, %v; want miss", raw, got, err)
		}
	}
}

func TestDecodeRepairsAttemptOrdering(t *testing.T) {
	e, err := Decode(`{"v":1,"timestamp":2000,"lastUpdateAttempt":1000,"payload":{"gainers":null,"losers":null}}`)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if e.LastUpdateAttempt.Before(e.Timestamp) {
		t.Error("lastUpdateAttempt must not precede timestamp")
	}
	if e.Payload.Gainers == nil || e.Payload.Losers == nil {
		t.Error("lists should decode as empty, not nil")
	}
}

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"cryptomovers/internal/models"
	"cryptomovers/internal/store"
)

// EnvelopeVersion is bumped whenever the stored layout changes. Entries written with any
// other version are treated as absent.
const EnvelopeVersion = 1

// ErrCorrupt marks a stored value that cannot be decoded. Get never returns it; it is
// logged and the entry is reported missing.
var ErrCorrupt = errors.New("corrupt cache entry")

type envelope struct {
	Version           int                 `json:"v"`
	Timestamp         int64               `json:"timestamp"`
	LastUpdateAttempt int64               `json:"lastUpdateAttempt"`
	LastUpdateFailed  bool                `json:"lastUpdateFailed"`
	IsPartial         bool                `json:"isPartial"`
	Payload           models.RankedResult `json:"payload"`
}

// EntryStore reads and writes CacheEntry values in the shared store.
type EntryStore struct {
	kv store.Store
}

func NewEntryStore(kv store.Store) *EntryStore {
	return &EntryStore{kv: kv}
}

// Get returns the entry for key, or nil when it is absent or unreadable.
func (s *EntryStore) Get(ctx context.Context, key string) (*models.CacheEntry, error) {
	raw, found, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	if !found {
		return nil, nil
	}
	entry, err := Decode(raw)
	if err != nil {
		log.Warn().Err(err).Str("dataset", key).Msg("ignoring unreadable cache entry")
		return nil, nil
	}
	return entry, nil
}

// Put stores entry under key for ttl.
func (s *EntryStore) Put(ctx context.Context, key string, entry *models.CacheEntry, ttl time.Duration) error {
	raw, err := Encode(entry)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, key, raw, ttl); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// Encode serializes entry into the versioned envelope.
func Encode(entry *models.CacheEntry) (string, error) {
	env := envelope{
		Version:           EnvelopeVersion,
		Timestamp:         entry.Timestamp.UnixMilli(),
		LastUpdateAttempt: entry.LastUpdateAttempt.UnixMilli(),
		LastUpdateFailed:  entry.LastUpdateFailed,
		IsPartial:         entry.IsPartial,
		Payload:           entry.Payload,
	}
	b, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("encode cache entry: %w", err)
	}
	return string(b), nil
}

// Decode parses a stored envelope.
func Decode(raw string) (*models.CacheEntry, error) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if env.Version != EnvelopeVersion {
		return nil, fmt.Errorf("%w: envelope version %d", ErrCorrupt, env.Version)
	}
	if env.Timestamp <= 0 {
		return nil, fmt.Errorf("%w: missing timestamp", ErrCorrupt)
	}

	entry := &models.CacheEntry{
		Payload:           env.Payload,
		Timestamp:         time.UnixMilli(env.Timestamp),
		LastUpdateAttempt: time.UnixMilli(env.LastUpdateAttempt),
		LastUpdateFailed:  env.LastUpdateFailed,
		IsPartial:         env.IsPartial,
	}
	if entry.LastUpdateAttempt.Before(entry.Timestamp) {
		entry.LastUpdateAttempt = entry.Timestamp
	}
	entry.Payload.Timestamp = entry.Timestamp
	if entry.Payload.Gainers == nil {
		entry.Payload.Gainers = []models.Item{}
	}
	if entry.Payload.Losers == nil {
		entry.Payload.Losers = []models.Item{}
	}
	return entry, nil
}

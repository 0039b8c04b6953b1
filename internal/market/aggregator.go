package market

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"cryptomovers/internal/exchanges"
	"cryptomovers/internal/models"
	"cryptomovers/internal/pipeline"
)

// supplySnapshot remembers listing metadata from the last primary success so fallback
// tickers can be published under the same ids with a market cap.
type supplySnapshot struct {
	ID          string
	Name        string
	Image       string
	Circulating float64
	UpdatedAt   time.Time
}

func (s supplySnapshot) valid(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.UpdatedAt) < ttl
}

// Aggregator fetches the market listing from the primary source, or from exchange
// tickers (fallback) when the primary yields nothing. A fallback batch is always partial.
type Aggregator struct {
	primary   pipeline.Source
	providers []exchanges.Provider
	supplies  map[string]supplySnapshot
	mu        sync.RWMutex
	supplyTTL time.Duration
	now       func() time.Time
}

// NewAggregator creates a new market data aggregator
func NewAggregator(primary pipeline.Source, providers []exchanges.Provider, supplyTTL time.Duration) *Aggregator {
	return &Aggregator{
		primary:   primary,
		providers: providers,
		supplies:  make(map[string]supplySnapshot),
		supplyTTL: supplyTTL,
		now:       time.Now,
	}
}

func (a *Aggregator) Name() string {
	return a.primary.Name()
}

// Fetch tries the primary listing first, then each exchange in order.
func (a *Aggregator) Fetch(ctx context.Context, mode pipeline.Mode) (pipeline.Batch, error) {
	batch, err := a.primary.Fetch(ctx, mode)
	if err == nil && len(batch.Items) > 0 {
		a.updateSupplyCache(batch.Items)
		log.Info().Str("source", a.primary.Name()).Int("items", len(batch.Items)).Bool("partial", batch.Partial).Msg("listing fetched")
		return batch, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return pipeline.Batch{}, ctxErr
	}
	if err == nil {
		err = fmt.Errorf("%s returned no records", a.primary.Name())
	}
	log.Warn().Err(err).Str("source", a.primary.Name()).Msg("primary listing failed, trying exchanges")

	items, err := a.fetchFromExchanges(ctx)
	if err != nil {
		log.Error().Err(err).Str("source", "all").Msg("listing failed")
		return pipeline.Batch{}, err
	}
	return pipeline.Batch{Items: items, Partial: true}, nil
}

// updateSupplyCache derives circulating supply from market cap and price.
func (a *Aggregator) updateSupplyCache(items []models.Item) {
	now := a.now()

	a.mu.Lock()
	defer a.mu.Unlock()

	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		key := strings.ToUpper(it.Symbol)
		// Listings are ordered by market cap; the first holder of a symbol wins.
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		snapshot := supplySnapshot{ID: it.ID, Name: it.Name, Image: it.Image, UpdatedAt: now}
		if it.Price > 0 && it.MarketCap > 0 {
			snapshot.Circulating = it.MarketCap / it.Price
		}
		a.supplies[key] = snapshot
	}
	log.Debug().Int("symbols", len(seen)).Msg("supply cache updated")
}

func (a *Aggregator) fetchFromExchanges(ctx context.Context) ([]models.Item, error) {
	var lastErr error
	for _, provider := range a.providers {
		items, err := provider.Tickers(ctx)
		if err != nil {
			log.Warn().Err(err).Str("provider", provider.Name()).Msg("exchange tickers failed")
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if len(items) == 0 {
			log.Warn().Str("provider", provider.Name()).Msg("exchange returned no USDT tickers")
			continue
		}
		log.Info().Str("provider", provider.Name()).Int("items", len(items)).Msg("listing served from exchange")
		return a.composeItems(items), nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("all exchanges failed, last error: %w", lastErr)
	}
	return nil, fmt.Errorf("no exchange returned tickers")
}

// composeItems maps exchange tickers onto cached listing metadata where it is still valid.
func (a *Aggregator) composeItems(items []models.Item) []models.Item {
	now := a.now()

	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]models.Item, len(items))
	hits := 0
	for i, it := range items {
		snapshot, ok := a.supplies[strings.ToUpper(it.Symbol)]
		if ok && snapshot.valid(now, a.supplyTTL) {
			it.ID, it.Name, it.Image = snapshot.ID, snapshot.Name, snapshot.Image
			if snapshot.Circulating > 0 {
				it.MarketCap = it.Price * snapshot.Circulating
			}
			hits++
		}
		out[i] = it
	}
	log.Debug().Int("items", len(items)).Int("supply_hits", hits).Msg("composed exchange tickers")
	return out
}

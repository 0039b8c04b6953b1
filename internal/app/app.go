// Package app wires configuration into one freshness engine per dataset key.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"cryptomovers/internal/cache"
	"cryptomovers/internal/coingecko"
	"cryptomovers/internal/coinmarketcap"
	"cryptomovers/internal/config"
	"cryptomovers/internal/exchanges"
	"cryptomovers/internal/exclusion"
	"cryptomovers/internal/freshness"
	"cryptomovers/internal/geckoterminal"
	"cryptomovers/internal/lease"
	"cryptomovers/internal/market"
	"cryptomovers/internal/pipeline"
	"cryptomovers/internal/store"
	"cryptomovers/internal/upstream"
	"cryptomovers/internal/worker"
)

// Dataset keys. Per-network keys append ":<network>" where network may be AllNetworks.
const (
	MarketKey   = "market_data"
	PoolsPrefix = "dex_data"
	PairsPrefix = "dex_pairs"
	AllNetworks = "all"
)

var (
	ErrUnknownNetwork = errors.New("unknown network")
	ErrPairsDisabled  = errors.New("missing CMC key")
)

// Dataset is anything that serves one dataset: an engine or a network slice of one.
type Dataset interface {
	Dataset() string
	Serve(ctx context.Context) (freshness.Response, error)
}

// App owns the shared store, the background pool and every engine.
type App struct {
	cfg     *config.Config
	kv      store.Store
	pool    *worker.Pool
	engines map[string]*freshness.Engine
}

// New connects the configured store and builds the engines.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	var (
		kv  store.Store
		err error
	)
	switch cfg.Store {
	case "memory":
		kv, err = store.NewMemory(cfg.MemoryStoreSize)
	default:
		kv, err = store.NewRedis(ctx, cfg.Redis)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", cfg.Store, err)
	}
	return NewWithStore(cfg, kv), nil
}

// NewWithStore builds the engines on an existing store.
func NewWithStore(cfg *config.Config, kv store.Store) *App {
	a := &App{
		cfg:     cfg,
		kv:      kv,
		pool:    worker.NewPool(cfg.Workers),
		engines: make(map[string]*freshness.Engine),
	}

	httpClient := upstream.SharedHTTPClient(time.Duration(cfg.HTTPTimeout))
	entries := cache.NewEntryStore(kv)
	exclusions := exclusion.NewLoader(upstream.NewClient("exclusions", httpClient, nil), cfg.Exclusions.Sources, cfg.Exclusions.Extra...)

	a.add(MarketKey, cfg.Market, entries, pipeline.New(pipelineConfig(cfg.Market, cfg.Market.TopN, cfg.PlaceholderIcon, pipeline.DedupeNone), a.marketSource(httpClient), exclusions, nil))

	networks := append(slices.Clone(cfg.Networks), AllNetworks)
	for _, n := range networks {
		scope := []string{n}
		topN, dedupe := cfg.Pools.TopN, pipeline.DedupeByLiquidity
		if n == AllNetworks {
			scope, topN, dedupe = cfg.Networks, cfg.Pools.TopNAll, pipeline.DedupeByVolume
		}
		pools := geckoterminal.NewClient(httpClient, geckoterminal.Options{
			BaseURL:   cfg.Upstreams.GeckoTerminal,
			Networks:  scope,
			Pages:     cfg.Pools.Pages,
			ColdPages: cfg.Pools.ColdPages,
		})
		a.add(PoolsKey(n), cfg.Pools, entries, pipeline.New(pipelineConfig(cfg.Pools, topN, cfg.PlaceholderIcon, dedupe), pools, exclusions, nil))
	}

	if cfg.CMCAPIKey == "" {
		log.Warn().Msg("CMC_API_KEY not set, DEX pairs datasets disabled")
		return a
	}
	// One walk across every network feeds all pair views; per-network views are sliced
	// from it at serve time. The stored ranking keeps every pair the walk can return.
	pairs := coinmarketcap.NewClient(httpClient, coinmarketcap.Options{
		BaseURL:      cfg.Upstreams.CoinMarketCap,
		APIKey:       cfg.CMCAPIKey,
		Networks:     cfg.Networks,
		Pages:        cfg.Pairs.Pages,
		ColdPages:    cfg.Pairs.ColdPages,
		Limit:        cfg.Pairs.PageSize,
		LiquidityMin: cfg.Pairs.MinLiquidity,
		Backoff:      time.Duration(cfg.Pairs.Backoff),
	})
	retain := max(cfg.Pairs.Pages, 1) * max(cfg.Pairs.PageSize, 100)
	a.add(PairsKey(AllNetworks), cfg.Pairs, entries, pipeline.New(pipelineConfig(cfg.Pairs, retain, cfg.PlaceholderIcon, pipeline.DedupeNone), pairs, exclusions, pairs))
	return a
}

func (a *App) marketSource(httpClient *http.Client) pipeline.Source {
	var headers map[string]string
	if a.cfg.CoinGeckoAPIKey != "" {
		headers = map[string]string{"x-cg-demo-api-key": a.cfg.CoinGeckoAPIKey}
	}
	gecko := coingecko.NewClient(httpClient, coingecko.Options{
		BaseURL:   a.cfg.Upstreams.CoinGecko,
		PerPage:   a.cfg.Market.PageSize,
		Pages:     a.cfg.Market.Pages,
		ColdPages: a.cfg.Market.ColdPages,
		Pace:      time.Duration(a.cfg.Market.Pace),
		Backoff:   time.Duration(a.cfg.Market.Backoff),
		Headers:   headers,
	})
	providers := []exchanges.Provider{
		exchanges.NewBinanceProvider(httpClient, a.cfg.Upstreams.Binance),
		exchanges.NewOKXProvider(httpClient, a.cfg.Upstreams.OKX),
		exchanges.NewBybitProvider(httpClient, a.cfg.Upstreams.Bybit),
		exchanges.NewBitgetProvider(httpClient, a.cfg.Upstreams.Bitget),
	}
	return market.NewAggregator(gecko, providers, 24*time.Hour)
}

func (a *App) add(key string, d config.Dataset, entries *cache.EntryStore, runner freshness.Runner) {
	policy := d.Policy.Policy()
	leases := lease.NewManager(a.kv, policy.LockTTL, a.cfg.StrictLease)
	a.engines[key] = freshness.NewEngine(key, policy, entries, leases, runner, a.pool)
}

func pipelineConfig(d config.Dataset, topN int, placeholder string, dedupe pipeline.DedupeMode) pipeline.Config {
	return pipeline.Config{
		TopN:              topN,
		MinLiquidity:      d.MinLiquidity,
		MinVolume:         d.MinVolume,
		MaxCapToLiquidity: d.MaxCapToLiquidity,
		DropFlat:          d.DropFlat,
		Dedupe:            dedupe,
		IconLookupCap:     d.IconLookupCap,
		PlaceholderIcon:   placeholder,
	}
}

func PoolsKey(network string) string { return PoolsPrefix + ":" + network }

func PairsKey(network string) string { return PairsPrefix + ":" + network }

// Market returns the CEX movers engine.
func (a *App) Market() *freshness.Engine {
	return a.engines[MarketKey]
}

// Pools returns the pools engine for network ("all" included).
func (a *App) Pools(network string) (*freshness.Engine, error) {
	e, ok := a.engines[PoolsKey(network)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNetwork, network)
	}
	return e, nil
}

// Pairs returns the DEX pairs view for network. It fails with ErrPairsDisabled when no
// CMC key is configured.
func (a *App) Pairs(network string) (Dataset, error) {
	if a.cfg.CMCAPIKey == "" {
		return nil, ErrPairsDisabled
	}
	topN := a.cfg.Pairs.TopN
	if network == AllNetworks {
		topN = a.cfg.Pairs.TopNAll
	} else if !slices.Contains(a.cfg.Networks, network) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNetwork, network)
	}
	return &networkView{
		engine:  a.engines[PairsKey(AllNetworks)],
		network: network,
		topN:    max(topN, 1),
	}, nil
}

// Engine looks up any engine by dataset key.
func (a *App) Engine(key string) (*freshness.Engine, bool) {
	e, ok := a.engines[key]
	return e, ok
}

// Keys lists every dataset key in sorted order.
func (a *App) Keys() []string {
	keys := lo.Keys(a.engines)
	slices.Sort(keys)
	return keys
}

// Warm serves every dataset in keys once so a cold instance starts populated. It goes
// through the freshness policy: fresh entries and leases held elsewhere cause no fetch,
// missing entries are fetched synchronously and stale ones in the background.
func (a *App) Warm(ctx context.Context, keys ...string) {
	var g errgroup.Group
	g.SetLimit(max(a.cfg.Workers, 1))
	for _, key := range keys {
		e, ok := a.engines[key]
		if !ok {
			continue
		}
		g.Go(func() error {
			resp, err := e.Serve(ctx)
			if err != nil {
				log.Warn().Err(err).Str("dataset", key).Msg("warm-up failed")
				return nil
			}
			log.Info().Str("dataset", key).Str("source", resp.Source).Msg("warm-up done")
			return nil
		})
	}
	_ = g.Wait()
}

// Ping checks the store.
func (a *App) Ping(ctx context.Context) error {
	_, _, err := a.kv.Get(ctx, "healthz")
	return err
}

// Close waits for background refreshes, then closes the store.
func (a *App) Close(ctx context.Context) error {
	return errors.Join(a.pool.Close(ctx), a.kv.Close())
}

// Package config loads settings from the environment (.env supported) with an optional
// YAML file for per-dataset tuning. Environment values win over the file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"cryptomovers/internal/freshness"
	"cryptomovers/internal/store"
)

// Duration decodes "12m"-style strings. An unparsable value is logged and leaves the
// default in place.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	v, err := time.ParseDuration(n.Value)
	if err != nil {
		log.Warn().Str("value", n.Value).Int("line", n.Line).Msg("ignoring unparsable duration")
		return nil
	}
	*d = Duration(v)
	return nil
}

// PolicyConfig is the file form of freshness.Policy.
type PolicyConfig struct {
	SoftRefresh Duration `yaml:"soft_refresh"`
	RetryDelay  Duration `yaml:"retry_delay"`
	LockTimeout Duration `yaml:"lock_timeout"`
	LockTTL     Duration `yaml:"lock_ttl"`
	EntryTTL    Duration `yaml:"entry_ttl"`
	SyncTimeout Duration `yaml:"sync_timeout"`
}

func (p PolicyConfig) Policy() freshness.Policy {
	return freshness.Policy{
		SoftRefresh: time.Duration(p.SoftRefresh),
		RetryDelay:  time.Duration(p.RetryDelay),
		LockTimeout: time.Duration(p.LockTimeout),
		LockTTL:     time.Duration(p.LockTTL),
		EntryTTL:    time.Duration(p.EntryTTL),
		SyncTimeout: time.Duration(p.SyncTimeout),
	}
}

func policyConfig(p freshness.Policy) PolicyConfig {
	return PolicyConfig{
		SoftRefresh: Duration(p.SoftRefresh),
		RetryDelay:  Duration(p.RetryDelay),
		LockTimeout: Duration(p.LockTimeout),
		LockTTL:     Duration(p.LockTTL),
		EntryTTL:    Duration(p.EntryTTL),
		SyncTimeout: Duration(p.SyncTimeout),
	}
}

// Dataset tunes one dataset family.
type Dataset struct {
	Policy PolicyConfig `yaml:"policy"`

	TopN int `yaml:"top_n"`
	// TopNAll applies to the cross-network variant of a per-network dataset.
	TopNAll   int `yaml:"top_n_all"`
	Pages     int `yaml:"pages"`
	ColdPages int `yaml:"cold_pages"`
	PageSize  int `yaml:"page_size"`

	Pace    Duration `yaml:"pace"`
	Backoff Duration `yaml:"backoff"`

	MinLiquidity      float64 `yaml:"min_liquidity"`
	MinVolume         float64 `yaml:"min_volume"`
	MaxCapToLiquidity float64 `yaml:"max_cap_to_liquidity"`
	DropFlat          bool    `yaml:"drop_flat"`
	IconLookupCap     int     `yaml:"icon_lookup_cap"`
}

type Exclusions struct {
	Sources []string `yaml:"sources"`
	// Extra symbols excluded regardless of the lists.
	Extra []string `yaml:"extra"`
}

// Upstreams overrides provider base URLs; empty keeps each client's default.
type Upstreams struct {
	CoinGecko     string `yaml:"coingecko"`
	CoinMarketCap string `yaml:"coinmarketcap"`
	GeckoTerminal string `yaml:"geckoterminal"`
	Binance       string `yaml:"binance"`
	OKX           string `yaml:"okx"`
	Bybit         string `yaml:"bybit"`
	Bitget        string `yaml:"bitget"`
}

type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`
	LogPretty  bool   `yaml:"log_pretty"`

	// Store is "redis" or "memory".
	Store           string            `yaml:"store"`
	MemoryStoreSize int               `yaml:"memory_store_size"`
	Redis           store.RedisConfig `yaml:"redis"`
	StrictLease     bool              `yaml:"strict_lease"`
	Workers         int               `yaml:"workers"`

	HTTPTimeout     Duration `yaml:"http_timeout"`
	PlaceholderIcon string   `yaml:"placeholder_icon"`
	Networks        []string `yaml:"networks"`

	Exclusions Exclusions `yaml:"exclusions"`
	Upstreams  Upstreams  `yaml:"upstreams"`

	Market Dataset `yaml:"market"`
	Pairs  Dataset `yaml:"pairs"`
	Pools  Dataset `yaml:"pools"`

	// Secrets come from the environment only.
	CMCAPIKey       string `yaml:"-"`
	CoinGeckoAPIKey string `yaml:"-"`
	TelegramToken   string `yaml:"-"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ListenAddr:      ":8080",
		LogLevel:        "info",
		Store:           "redis",
		MemoryStoreSize: 1024,
		Redis:           store.RedisConfig{Addr: []string{"localhost:6379"}},
		Workers:         4,
		HTTPTimeout:     Duration(15 * time.Second),
		PlaceholderIcon: "/images/placeholder.png",
		Networks:        []string{"solana", "eth", "bsc", "base"},
		Exclusions: Exclusions{
			Extra: []string{"USDT", "USDC", "DAI", "FDUSD", "TUSD", "USDE", "PYUSD", "FRAX", "LUSD", "USDD", "WETH", "WBNB", "WSOL", "CBETH"},
		},
		Market: Dataset{
			Policy:    policyConfig(freshness.DefaultPolicy(12*time.Minute, 2*time.Minute)),
			TopN:      50,
			Pages:     6,
			ColdPages: 1,
			PageSize:  250,
			Pace:      Duration(2 * time.Second),
			Backoff:   Duration(2 * time.Second),
		},
		Pairs: Dataset{
			Policy:        policyConfig(freshness.DefaultPolicy(18*time.Minute, 2*time.Minute)),
			TopN:          20,
			TopNAll:       20,
			Pages:         3,
			ColdPages:     1,
			PageSize:      100,
			Backoff:       Duration(time.Second),
			MinLiquidity:  10000,
			IconLookupCap: 100,
		},
		Pools: Dataset{
			Policy:            policyConfig(freshness.DefaultPolicy(5*time.Minute, time.Minute)),
			TopN:              20,
			TopNAll:           50,
			Pages:             2,
			ColdPages:         2,
			MinLiquidity:      5000,
			MinVolume:         1000,
			MaxCapToLiquidity: 10000,
			DropFlat:          true,
		},
	}
}

// Load reads .env (if present), the YAML file at path (or MOVERS_CONFIG when path is
// empty), then environment overrides.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading .env: %w", err)
		}
		log.Debug().Msg("no .env file, using process environment")
	}

	cfg := Default()
	if path == "" {
		path = os.Getenv("MOVERS_CONFIG")
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.ListenAddr, "MOVERS_LISTEN_ADDR")
	if port := os.Getenv("PORT"); port != "" && os.Getenv("MOVERS_LISTEN_ADDR") == "" {
		c.ListenAddr = ":" + port
	}
	setString(&c.LogLevel, "MOVERS_LOG_LEVEL")
	setBool(&c.LogPretty, "MOVERS_LOG_PRETTY")
	setString(&c.Store, "MOVERS_STORE")
	setBool(&c.StrictLease, "MOVERS_STRICT_LEASE")
	setInt(&c.Workers, "MOVERS_WORKERS")
	setList(&c.Networks, "MOVERS_NETWORKS")
	setList(&c.Exclusions.Sources, "MOVERS_EXCLUSION_SOURCES")
	setString(&c.PlaceholderIcon, "MOVERS_PLACEHOLDER_ICON")

	setList(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Username, "REDIS_USERNAME")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setInt(&c.Redis.DB, "REDIS_DB")
	setBool(&c.Redis.TLSEnabled, "REDIS_TLS")

	setString(&c.CMCAPIKey, "CMC_API_KEY")
	setString(&c.CoinGeckoAPIKey, "COINGECKO_API_KEY")
	setString(&c.TelegramToken, "TELEGRAM_BOT_TOKEN")
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store {
	case "redis":
		if len(c.Redis.Addr) == 0 {
			errs = append(errs, errors.New("redis store needs at least one address"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}
	if len(c.Networks) == 0 {
		errs = append(errs, errors.New("no networks configured"))
	}
	for name, d := range map[string]Dataset{"market": c.Market, "pairs": c.Pairs, "pools": c.Pools} {
		if d.Policy.SoftRefresh <= 0 {
			errs = append(errs, fmt.Errorf("%s: soft_refresh must be positive", name))
		}
		if d.TopN <= 0 {
			errs = append(errs, fmt.Errorf("%s: top_n must be positive", name))
		}
	}
	return errors.Join(errs...)
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setList(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	*dst = lo.Compact(lo.Map(strings.Split(v, ","), func(part string, _ int) string {
		return strings.TrimSpace(part)
	}))
}

func setInt(dst *int, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("ignoring non-integer setting")
		return
	}
	*dst = n
}

func setBool(dst *bool, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("ignoring non-boolean setting")
		return
	}
	*dst = b
}

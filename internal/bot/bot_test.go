package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"cryptomovers/internal/app"
	"cryptomovers/internal/cache"
	"cryptomovers/internal/freshness"
	"cryptomovers/internal/lease"
	"cryptomovers/internal/models"
	"cryptomovers/internal/pipeline"
	"cryptomovers/internal/store"
	"cryptomovers/internal/worker"
)

type staticRunner struct {
	result models.RankedResult
	err    error
}

func (r staticRunner) Run(context.Context, pipeline.Mode) (models.RankedResult, error) {
	return r.result, r.err
}

type fakeDatasets struct {
	market *freshness.Engine
	pools  map[string]*freshness.Engine
}

func (f fakeDatasets) Market() *freshness.Engine { return f.market }

func (f fakeDatasets) Pools(network string) (*freshness.Engine, error) {
	if e, ok := f.pools[network]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("%w: %q", app.ErrUnknownNetwork, network)
}

func (f fakeDatasets) Pairs(string) (app.Dataset, error) {
	return nil, app.ErrPairsDisabled
}

func newEngine(t *testing.T, dataset string, r freshness.Runner) *freshness.Engine {
	t.Helper()
	kv, err := store.NewMemory(16)
	if err != nil {
		t.Fatal(err)
	}
	pool := worker.NewPool(1)
	t.Cleanup(func() { _ = pool.Close(context.Background()) })
	policy := freshness.DefaultPolicy(time.Minute, time.Minute)
	return freshness.NewEngine(dataset, policy, cache.NewEntryStore(kv), lease.NewManager(kv, time.Minute, false), r, pool)
}

func items(prefix string, n int, change float64) []models.Item {
	out := make([]models.Item, n)
	for i := range out {
		out[i] = models.Item{ID: fmt.Sprintf("%s%d", prefix, i), Symbol: fmt.Sprintf("%s%d", prefix, i), Price: 1.5, Change24h: change, Volume24h: 2.5e6}
	}
	return out
}

func TestReply(t *testing.T) {
	result := models.RankedResult{Gainers: items("up", 12, 5), Losers: items("dn", 2, -5)}
	data := fakeDatasets{
		market: newEngine(t, "market_data", staticRunner{result: result}),
		pools:  map[string]*freshness.Engine{"eth": newEngine(t, "dex_data:eth", staticRunner{err: errors.New("down")})},
	}
	b := &Bot{data: data}
	ctx := context.Background()

	gainers := b.reply(ctx, "gainers", "")
	if !strings.HasPrefix(gainers, "🚀 TOP GAINERS") || !strings.Contains(gainers, "#10 UP9") || strings.Contains(gainers, "#11") {
		t.Errorf("gainers reply:\n%s", gainers)
	}
	if strings.Contains(gainers, "DN0") {
		t.Errorf("gainers reply lists losers:\n%s", gainers)
	}

	losers := b.reply(ctx, "losers", "")
	if !strings.Contains(losers, "🥇 #1 DN0") || !strings.Contains(losers, "🔴-5.00%") {
		t.Errorf("losers reply:\n%s", losers)
	}

	cases := map[string][2]string{
		"unknown network": {"pools", "tron"},
		"pairs disabled":  {"dex", "eth"},
		"fetch failure":   {"pools", "ETH"},
		"help":            {"start", ""},
	}
	want := map[string]string{
		"unknown network": `Unknown network "tron"`,
		"pairs disabled":  "DEX pairs are not enabled",
		"fetch failure":   "Data unavailable",
		"help":            "/gainers",
	}
	for name, c := range cases {
		if got := b.reply(ctx, c[0], c[1]); !strings.Contains(got, want[name]) {
			t.Errorf("%s: reply = %q", name, got)
		}
	}
}

func TestFormatMoversFooter(t *testing.T) {
	entry := models.CacheEntry{
		Timestamp:        time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC),
		IsPartial:        true,
		LastUpdateFailed: true,
	}
	got := formatMovers("T", entry, formatList(nil))
	want := "T\n\nNo movers\n\n📊 Updated: 2024-05-01 09:30 UTC (partial) ⚠️ last refresh failed"
	if got != want {
		t.Errorf("formatMovers = %q, want %q", got, want)
	}
}

func TestFormatItem(t *testing.T) {
	pool := models.Item{Symbol: "pepe", Price: 0.00001234, Change24h: 12.5, Volume24h: 90000, Liquidity: 250000}
	if got, want := formatItem(1, pool), "🥇 #1 PEPE | 💰 $1.234e-05 (🟢12.50%) | 📈 Vol: 90.00 K | 💧 Liq: 250.00 K"; got != want {
		t.Errorf("pool line = %q, want %q", got, want)
	}
	coin := models.Item{Symbol: "btc", Price: 65000, Change24h: 0, Volume24h: 3.2e10, MarketCap: 1.28e12}
	if got, want := formatItem(4, coin), "▫️ #4 BTC | 💰 $65000.0000 (➖0.00%) | 📈 Vol: 32.00 B | 💎 MC: 1280.00 B"; got != want {
		t.Errorf("coin line = %q, want %q", got, want)
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "N/A"},
		{12.5, "12.50"},
		{4200, "4.20 K"},
		{2.5e6, "2.50 M"},
		{7.1e9, "7.10 B"},
	}
	for _, tt := range tests {
		if got := formatValue(tt.in); got != tt.want {
			t.Errorf("formatValue(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatPrice(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "N/A"},
		{1.5, "$1.5000"},
		{0.1, "$0.1"},
		{0.000123456789, "$0.00012345679"},
	}
	for _, tt := range tests {
		if got := formatPrice(tt.in); got != tt.want {
			t.Errorf("formatPrice(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

package exchanges

import (
	"context"
	"strings"

	"cryptomovers/internal/models"
)

// Provider lists every spot ticker of one exchange in a single call. It backs the
// market listing when the primary aggregator cannot be reached.
type Provider interface {
	Name() string
	Tickers(ctx context.Context) ([]models.Item, error)
}

// quoteAsset is the only quote the fallback ranks against.
const quoteAsset = "USDT"

// usdtBase returns the base asset of a USDT pair. Both "BTCUSDT" and "BTC-USDT" are
// accepted; anything quoted in another asset is rejected.
func usdtBase(pair string) (string, bool) {
	base, ok := strings.CutSuffix(strings.ToUpper(pair), quoteAsset)
	if !ok {
		return "", false
	}
	base = strings.TrimSuffix(base, "-")
	if base == "" {
		return "", false
	}
	return base, true
}

// tickerItem builds the normalized record for a USDT ticker. ID is the lowercased base
// asset until the aggregator maps it to a listing id.
func tickerItem(base string, price, change, quoteVolume float64) models.Item {
	return models.Item{
		ID:        strings.ToLower(base),
		Symbol:    base,
		Name:      base,
		Price:     price,
		Change24h: change,
		Volume24h: quoteVolume,
	}
}

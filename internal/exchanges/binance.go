package exchanges

import (
	"context"
	"net/http"

	"github.com/samber/lo"

	"cryptomovers/internal/models"
	"cryptomovers/internal/upstream"
)

type BinanceProvider struct {
	client  *upstream.Client
	baseURL string
}

func NewBinanceProvider(httpClient *http.Client, baseURL string) *BinanceProvider {
	if baseURL == "" {
		baseURL = "https://api.binance.com"
	}
	return &BinanceProvider{
		client:  upstream.NewClient("binance", httpClient, nil),
		baseURL: baseURL,
	}
}

func (b *BinanceProvider) Name() string {
	return "binance"
}

type binanceTicker24hr struct {
	Symbol             string        `json:"symbol"`
	LastPrice          models.Number `json:"lastPrice"`
	PriceChangePercent models.Number `json:"priceChangePercent"`
	QuoteVolume        models.Number `json:"quoteVolume"`
}

func (b *BinanceProvider) Tickers(ctx context.Context) ([]models.Item, error) {
	var tickers []binanceTicker24hr
	if err := b.client.GetJSON(ctx, b.baseURL+"/api/v3/ticker/24hr", &tickers); err != nil {
		return nil, err
	}

	return lo.FilterMap(tickers, func(t binanceTicker24hr, _ int) (models.Item, bool) {
		base, ok := usdtBase(t.Symbol)
		if !ok || !t.LastPrice.Valid || !t.PriceChangePercent.Valid {
			return models.Item{}, false
		}
		return tickerItem(base, t.LastPrice.Float(), t.PriceChangePercent.Float(), t.QuoteVolume.Float()), true
	}), nil
}

package exchanges

import (
	"context"
	"fmt"
	"net/http"

	"github.com/samber/lo"

	"cryptomovers/internal/models"
	"cryptomovers/internal/upstream"
)

type BybitProvider struct {
	client  *upstream.Client
	baseURL string
}

func NewBybitProvider(httpClient *http.Client, baseURL string) *BybitProvider {
	if baseURL == "" {
		baseURL = "https://api.bybit.com"
	}
	return &BybitProvider{
		client:  upstream.NewClient("bybit", httpClient, nil),
		baseURL: baseURL,
	}
}

func (b *BybitProvider) Name() string {
	return "bybit"
}

type bybitTicker struct {
	Symbol       string        `json:"symbol"`
	LastPrice    models.Number `json:"lastPrice"`
	Price24hPcnt models.Number `json:"price24hPcnt"` // decimal, "0.0123" means 1.23%
	Turnover24h  models.Number `json:"turnover24h"`
}

type bybitTickerResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List []bybitTicker `json:"list"`
	} `json:"result"`
}

func (b *BybitProvider) Tickers(ctx context.Context) ([]models.Item, error) {
	url := b.baseURL + "/v5/market/tickers?category=spot"
	var resp bybitTickerResponse
	if err := b.client.GetJSON(ctx, url, &resp); err != nil {
		return nil, err
	}

	// Bybit returns retCode 0 for success
	if resp.RetCode != 0 {
		return nil, upstream.NewProviderError(b.Name(), url, 0, fmt.Errorf("%w: Bybit API error: %s (code %d)", upstream.ErrTransient, resp.RetMsg, resp.RetCode))
	}

	return lo.FilterMap(resp.Result.List, func(t bybitTicker, _ int) (models.Item, bool) {
		base, ok := usdtBase(t.Symbol)
		if !ok || !t.LastPrice.Valid || !t.Price24hPcnt.Valid {
			return models.Item{}, false
		}
		return tickerItem(base, t.LastPrice.Float(), t.Price24hPcnt.Float()*100, t.Turnover24h.Float()), true
	}), nil
}

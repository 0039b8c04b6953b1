package exchanges

import (
	"context"
	"fmt"
	"net/http"

	"github.com/samber/lo"

	"cryptomovers/internal/models"
	"cryptomovers/internal/upstream"
)

type BitgetProvider struct {
	client  *upstream.Client
	baseURL string
}

func NewBitgetProvider(httpClient *http.Client, baseURL string) *BitgetProvider {
	if baseURL == "" {
		baseURL = "https://api.bitget.com"
	}
	return &BitgetProvider{
		client:  upstream.NewClient("bitget", httpClient, nil),
		baseURL: baseURL,
	}
}

func (b *BitgetProvider) Name() string {
	return "bitget"
}

type bitgetTicker struct {
	Symbol      string        `json:"symbol"`
	LastPr      models.Number `json:"lastPr"`
	Change24h   models.Number `json:"change24h"` // decimal
	QuoteVolume models.Number `json:"quoteVolume"`
}

type bitgetTickerResponse struct {
	Code string         `json:"code"`
	Msg  string         `json:"msg"`
	Data []bitgetTicker `json:"data"`
}

func (b *BitgetProvider) Tickers(ctx context.Context) ([]models.Item, error) {
	url := b.baseURL + "/api/v2/spot/market/tickers"
	var resp bitgetTickerResponse
	if err := b.client.GetJSON(ctx, url, &resp); err != nil {
		return nil, err
	}

	// Bitget returns code "00000" for success
	if resp.Code != "00000" {
		return nil, upstream.NewProviderError(b.Name(), url, 0, fmt.Errorf("%w: Bitget API error: %s (code %s)", upstream.ErrTransient, resp.Msg, resp.Code))
	}

	return lo.FilterMap(resp.Data, func(t bitgetTicker, _ int) (models.Item, bool) {
		base, ok := usdtBase(t.Symbol)
		if !ok || !t.LastPr.Valid || !t.Change24h.Valid {
			return models.Item{}, false
		}
		return tickerItem(base, t.LastPr.Float(), t.Change24h.Float()*100, t.QuoteVolume.Float()), true
	}), nil
}

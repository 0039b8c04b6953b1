package exchanges

import (
	"context"
	"fmt"
	"net/http"

	"cryptomovers/internal/models"
	"cryptomovers/internal/upstream"
)

type OKXProvider struct {
	client  *upstream.Client
	baseURL string
}

func NewOKXProvider(httpClient *http.Client, baseURL string) *OKXProvider {
	if baseURL == "" {
		baseURL = "https://www.okx.com"
	}
	return &OKXProvider{
		client:  upstream.NewClient("okx", httpClient, nil),
		baseURL: baseURL,
	}
}

func (o *OKXProvider) Name() string {
	return "okx"
}

type okxTickerResponse struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data []struct {
		InstID    string        `json:"instId"`
		Last      models.Number `json:"last"`
		Open24h   models.Number `json:"open24h"`
		VolCcy24h models.Number `json:"volCcy24h"`
	} `json:"data"`
}

func (o *OKXProvider) Tickers(ctx context.Context) ([]models.Item, error) {
	url := o.baseURL + "/api/v5/market/tickers?instType=SPOT"
	var resp okxTickerResponse
	if err := o.client.GetJSON(ctx, url, &resp); err != nil {
		return nil, err
	}

	// OKX returns code "0" for success
	if resp.Code != "0" {
		return nil, upstream.NewProviderError(o.Name(), url, 0, fmt.Errorf("%w: OKX API error: %s (code %s)", upstream.ErrTransient, resp.Msg, resp.Code))
	}

	items := make([]models.Item, 0, len(resp.Data))
	for _, t := range resp.Data {
		base, ok := usdtBase(t.InstID)
		if !ok || !t.Last.Valid || !t.Open24h.Valid || t.Open24h.Float() == 0 {
			continue
		}
		last := t.Last.Float()
		// 24h change percentage: (last/open24h - 1) * 100
		change := (last/t.Open24h.Float() - 1) * 100
		items = append(items, tickerItem(base, last, change, t.VolCcy24h.Float()))
	}
	return items, nil
}

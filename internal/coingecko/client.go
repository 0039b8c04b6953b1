package coingecko

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/samber/lo"

	"cryptomovers/internal/models"
	"cryptomovers/internal/pipeline"
	"cryptomovers/internal/upstream"
)

const defaultBaseURL = "https://api.coingecko.com/api/v3"

type Options struct {
	BaseURL   string
	PerPage   int
	Pages     int
	ColdPages int
	// Pace spaces page requests; Backoff is the linear retry step.
	Pace    time.Duration
	Backoff time.Duration
	Headers map[string]string
}

// Client walks the /coins/markets listing ordered by market cap.
type Client struct {
	api  *upstream.Client
	opts Options
}

func NewClient(httpClient *http.Client, opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.PerPage <= 0 {
		opts.PerPage = 250
	}
	if opts.Pages <= 0 {
		opts.Pages = 6
	}
	if opts.ColdPages <= 0 {
		opts.ColdPages = 1
	}
	headers := map[string]string{"Referer": "https://www.coingecko.com/"}
	for k, v := range opts.Headers {
		headers[k] = v
	}
	return &Client{
		api:  upstream.NewClient("coingecko", httpClient, headers),
		opts: opts,
	}
}

func (c *Client) Name() string {
	return "coingecko"
}

type marketCoin struct {
	ID           string        `json:"id"`
	Symbol       string        `json:"symbol"`
	Name         string        `json:"name"`
	Image        string        `json:"image"`
	CurrentPrice models.Number `json:"current_price"`
	MarketCap    models.Number `json:"market_cap"`
	TotalVolume  models.Number `json:"total_volume"`
	Change24h    models.Number `json:"price_change_percentage_24h"`
	Change7d     models.Number `json:"price_change_percentage_7d_in_currency"`
	Change30d    models.Number `json:"price_change_percentage_30d_in_currency"`
	Change1y     models.Number `json:"price_change_percentage_1y_in_currency"`
}

// Fetch reads ColdPages pages in cold mode and Pages pages otherwise.
func (c *Client) Fetch(ctx context.Context, mode pipeline.Mode) (pipeline.Batch, error) {
	pages := c.opts.Pages
	if mode == pipeline.ModeCold {
		pages = c.opts.ColdPages
	}
	p := upstream.Pagination{
		Provider: c.Name(),
		Pages:    pages,
		Attempts: 2,
		Backoff:  c.opts.Backoff,
		Pace:     c.opts.Pace,
	}
	raw, partial, err := upstream.Paginate(ctx, p, c.fetchPage)
	if err != nil {
		return pipeline.Batch{}, err
	}
	return pipeline.Batch{Items: lo.FilterMap(raw, toItem), Partial: partial}, nil
}

func (c *Client) fetchPage(ctx context.Context, page int, _ string) ([]marketCoin, string, error) {
	url := fmt.Sprintf("%s/coins/markets?vs_currency=usd&order=market_cap_desc&per_page=%d&page=%d&price_change_percentage=24h,7d,30d,1y",
		c.opts.BaseURL, c.opts.PerPage, page)
	var coins []marketCoin
	if err := c.api.GetJSON(ctx, url, &coins); err != nil {
		return nil, "", err
	}
	return coins, "", nil
}

func toItem(c marketCoin, _ int) (models.Item, bool) {
	if strings.TrimSpace(c.Symbol) == "" || !c.CurrentPrice.Valid || !c.Change24h.Valid {
		return models.Item{}, false
	}
	return models.Item{
		ID:        c.ID,
		Symbol:    c.Symbol,
		Name:      c.Name,
		Image:     c.Image,
		Price:     c.CurrentPrice.Float(),
		Change24h: c.Change24h.Float(),
		Change7d:  c.Change7d.Ptr(),
		Change30d: c.Change30d.Ptr(),
		Change1y:  c.Change1y.Ptr(),
		Volume24h: c.TotalVolume.Float(),
		MarketCap: c.MarketCap.Float(),
	}, true
}

package geckoterminal

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"cryptomovers/internal/models"
	"cryptomovers/internal/pipeline"
	"cryptomovers/internal/upstream"
)

const (
	defaultBaseURL = "https://api.geckoterminal.com/api/v2"
	poolURLBase    = "https://www.geckoterminal.com"
)

// Network is a GeckoTerminal network id and the partition key of a pool scan.
type Network string

func (n Network) String() string { return string(n) }

type Options struct {
	BaseURL  string
	Networks []string
	// Pages per network, fetched concurrently. ColdPages applies in cold mode.
	Pages     int
	ColdPages int
}

// Client scans the most active pools of one or more networks.
type Client struct {
	api      *upstream.Client
	opts     Options
	networks []Network
}

func NewClient(httpClient *http.Client, opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.Pages <= 0 {
		opts.Pages = 2
	}
	if opts.ColdPages <= 0 || opts.ColdPages > opts.Pages {
		opts.ColdPages = opts.Pages
	}
	networks := make([]Network, len(opts.Networks))
	for i, n := range opts.Networks {
		networks[i] = Network(n)
	}
	return &Client{
		api:      upstream.NewClient("geckoterminal", httpClient, nil),
		opts:     opts,
		networks: networks,
	}
}

func (c *Client) Name() string {
	return "geckoterminal"
}

type poolAttributes struct {
	Name              string        `json:"name"`
	Address           string        `json:"address"`
	BaseTokenPriceUSD models.Number `json:"base_token_price_usd"`
	ReserveInUSD      models.Number `json:"reserve_in_usd"`
	FDVUSD            models.Number `json:"fdv_usd"`
	MarketCapUSD      models.Number `json:"market_cap_usd"`
	PriceChange       struct {
		M30 models.Number `json:"m30"`
		H1  models.Number `json:"h1"`
		H6  models.Number `json:"h6"`
		H24 models.Number `json:"h24"`
	} `json:"price_change_percentage"`
	Volume struct {
		H24 models.Number `json:"h24"`
	} `json:"volume_usd"`
}

type pool struct {
	ID            string         `json:"id"`
	Attributes    poolAttributes `json:"attributes"`
	Relationships struct {
		BaseToken struct {
			Data struct {
				ID string `json:"id"`
			} `json:"data"`
		} `json:"base_token"`
	} `json:"relationships"`
}

type token struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Attributes struct {
		Symbol   string `json:"symbol"`
		Name     string `json:"name"`
		ImageURL string `json:"image_url"`
	} `json:"attributes"`
}

type poolsResponse struct {
	Data     []pool  `json:"data"`
	Included []token `json:"included"`
}

// Fetch scans every configured network in parallel.
func (c *Client) Fetch(ctx context.Context, mode pipeline.Mode) (pipeline.Batch, error) {
	pages := c.opts.Pages
	if mode == pipeline.ModeCold {
		pages = c.opts.ColdPages
	}
	items, partial, err := upstream.FanOut(ctx, c.Name(), c.networks, func(ctx context.Context, n Network) ([]models.Item, bool, error) {
		return c.fetchNetwork(ctx, n, pages)
	})
	if err != nil {
		return pipeline.Batch{}, err
	}
	return pipeline.Batch{Items: items, Partial: partial}, nil
}

// fetchNetwork fetches pages 1..pages concurrently. A failed page marks the partition
// partial; the partition fails only when every page failed.
func (c *Client) fetchNetwork(ctx context.Context, n Network, pages int) ([]models.Item, bool, error) {
	results := make([]*poolsResponse, pages)
	errs := make([]error, pages)

	var g errgroup.Group
	for i := range pages {
		g.Go(func() error {
			url := fmt.Sprintf("%s/networks/%s/pools?page=%d&include=base_token&sort=h24_volume_usd_desc", c.opts.BaseURL, n, i+1)
			var resp poolsResponse
			if err := c.api.GetJSON(ctx, url, &resp); err != nil {
				errs[i] = err
				return nil
			}
			results[i] = &resp
			return nil
		})
	}
	_ = g.Wait()

	var (
		pools   []pool
		partial bool
		lastErr error
	)
	tokens := make(map[string]token)
	for i, resp := range results {
		if resp == nil {
			log.Warn().Err(errs[i]).Str("provider", c.Name()).Str("network", n.String()).Int("page", i+1).Msg("pool page failed")
			partial, lastErr = true, errs[i]
			continue
		}
		pools = append(pools, resp.Data...)
		for _, t := range resp.Included {
			if t.Type == "token" {
				tokens[t.ID] = t
			}
		}
	}
	if len(pools) == 0 && lastErr != nil {
		return nil, false, lastErr
	}

	items := make([]models.Item, 0, len(pools))
	for _, p := range pools {
		if it, ok := toItem(p, tokens, n); ok {
			items = append(items, it)
		}
	}
	return items, partial, nil
}

func toItem(p pool, tokens map[string]token, n Network) (models.Item, bool) {
	attr := p.Attributes
	if !attr.BaseTokenPriceUSD.Valid || !attr.PriceChange.H24.Valid {
		return models.Item{}, false
	}

	name, _, _ := strings.Cut(attr.Name, "/")
	name = strings.TrimSpace(name)
	tok, hasToken := tokens[p.Relationships.BaseToken.Data.ID]
	symbol := name
	if hasToken && tok.Attributes.Symbol != "" {
		symbol = tok.Attributes.Symbol
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return models.Item{}, false
	}

	image := tok.Attributes.ImageURL
	if strings.Contains(image, "missing.png") {
		image = ""
	}
	marketCap := attr.MarketCapUSD.Float()
	if marketCap == 0 {
		marketCap = attr.FDVUSD.Float()
	}

	return models.Item{
		ID:        p.ID,
		Symbol:    symbol,
		Name:      name,
		Image:     image,
		Price:     attr.BaseTokenPriceUSD.Float(),
		Change24h: attr.PriceChange.H24.Float(),
		Change30m: attr.PriceChange.M30.Ptr(),
		Change1h:  attr.PriceChange.H1.Ptr(),
		Change6h:  attr.PriceChange.H6.Ptr(),
		Volume24h: attr.Volume.H24.Float(),
		MarketCap: marketCap,
		Liquidity: attr.ReserveInUSD.Float(),
		Network:   n.String(),
		Address:   attr.Address,
		URL:       fmt.Sprintf("%s/%s/pools/%s", poolURLBase, n, attr.Address),
	}, true
}

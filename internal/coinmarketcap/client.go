package coinmarketcap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/samber/lo"

	"cryptomovers/internal/models"
	"cryptomovers/internal/pipeline"
	"cryptomovers/internal/upstream"
)

const defaultBaseURL = "https://pro-api.coinmarketcap.com"

// Network slugs and platform names keyed by the network ids the HTTP surface accepts.
var (
	networkSlugs = map[string]string{
		"eth":    "ethereum",
		"solana": "solana",
		"bsc":    "bsc",
		"base":   "base",
	}
	platformNetworks = map[string]string{
		"Ethereum":                "eth",
		"Solana":                  "solana",
		"BNB Smart Chain (BEP20)": "bsc",
		"Base":                    "base",
	}
)

type Options struct {
	BaseURL string
	APIKey  string
	// Networks are the ids to scan; empty means every known network.
	Networks     []string
	Pages        int
	ColdPages    int
	Limit        int
	LiquidityMin float64
	Backoff      time.Duration
}

// Client reads DEX spot pairs sorted by 24h change and resolves base asset logos.
type Client struct {
	api  *upstream.Client
	opts Options
}

func NewClient(httpClient *http.Client, opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.Pages <= 0 {
		opts.Pages = 3
	}
	if opts.ColdPages <= 0 {
		opts.ColdPages = opts.Pages
	}
	if opts.Limit <= 0 {
		opts.Limit = 100
	}
	if len(opts.Networks) == 0 {
		opts.Networks = []string{"eth", "solana", "bsc", "base"}
	}
	return &Client{
		api:  upstream.NewClient("coinmarketcap", httpClient, map[string]string{"X-CMC_PRO_API_KEY": opts.APIKey}),
		opts: opts,
	}
}

func (c *Client) Name() string {
	return "coinmarketcap"
}

// assetID accepts ids sent either as numbers or strings.
type assetID string

func (a *assetID) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(bytes.TrimSpace(data), `"`)
	if bytes.Equal(data, []byte("null")) {
		*a = ""
		return nil
	}
	*a = assetID(data)
	return nil
}

type spotPair struct {
	BaseAssetID       assetID       `json:"base_asset_id"`
	BaseAssetName     string        `json:"base_asset_name"`
	BaseAssetSymbol   string        `json:"base_asset_symbol"`
	BaseAssetContract string        `json:"base_asset_contract_address"`
	ContractAddress   string        `json:"contract_address"`
	Platform          *struct {
		Name string `json:"name"`
	} `json:"platform"`
	Price     models.Number `json:"price"`
	Change24h models.Number `json:"percent_change_24h"`
	Volume24h models.Number `json:"volume_24h"`
	Liquidity models.Number `json:"liquidity"`
	DexURL    string        `json:"dex_url"`
}

type spotPairsResponse struct {
	Data   []spotPair `json:"data"`
	Status struct {
		ScrollID string `json:"scroll_id"`
	} `json:"status"`
	ScrollID string `json:"scroll_id"`
}

// Fetch walks the scroll cursor for up to Pages pages (ColdPages in cold mode).
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
		Cursor:   true,
	}
	raw, partial, err := upstream.Paginate(ctx, p, c.fetchPage)
	if err != nil {
		return pipeline.Batch{}, err
	}
	return pipeline.Batch{Items: lo.FilterMap(raw, toItem), Partial: partial}, nil
}

func (c *Client) pairsURL(cursor string) string {
	slugs := lo.FilterMap(c.opts.Networks, func(n string, _ int) (string, bool) {
		s, ok := networkSlugs[n]
		return s, ok
	})
	q := url.Values{}
	q.Set("limit", fmt.Sprint(c.opts.Limit))
	q.Set("sort", "percent_change_24h")
	q.Set("sort_dir", "desc")
	q.Set("network_slug", strings.Join(slugs, ","))
	if c.opts.LiquidityMin > 0 {
		q.Set("liquidity_min", fmt.Sprint(c.opts.LiquidityMin))
	}
	if cursor != "" {
		q.Set("scroll_id", cursor)
	}
	return c.opts.BaseURL + "/v4/dex/spot-pairs/latest?" + q.Encode()
}

func (c *Client) fetchPage(ctx context.Context, _ int, cursor string) ([]spotPair, string, error) {
	var resp spotPairsResponse
	if err := c.api.GetJSON(ctx, c.pairsURL(cursor), &resp); err != nil {
		return nil, "", err
	}
	next := resp.Status.ScrollID
	if next == "" {
		next = resp.ScrollID
	}
	return resp.Data, next, nil
}

func toItem(p spotPair, _ int) (models.Item, bool) {
	if strings.TrimSpace(p.BaseAssetSymbol) == "" || !p.Price.Valid || !p.Change24h.Valid {
		return models.Item{}, false
	}
	network := "unknown"
	if p.Platform != nil {
		network = p.Platform.Name
		if id, ok := platformNetworks[p.Platform.Name]; ok {
			network = id
		}
	}
	id := p.ContractAddress
	if id == "" {
		id = string(p.BaseAssetID)
	}
	return models.Item{
		ID:        id,
		Symbol:    p.BaseAssetSymbol,
		Name:      p.BaseAssetName,
		Price:     p.Price.Float(),
		Change24h: p.Change24h.Float(),
		Volume24h: p.Volume24h.Float(),
		Liquidity: p.Liquidity.Float(),
		Network:   network,
		Address:   p.BaseAssetContract,
		URL:       p.DexURL,
		AssetID:   string(p.BaseAssetID),
	}, true
}

type assetInfo struct {
	ID   assetID `json:"id"`
	Logo string  `json:"logo"`
}

// Icons resolves logos for asset ids in one /v2/cryptocurrency/info call.
func (c *Client) Icons(ctx context.Context, assetIDs []string) (map[string]string, error) {
	u := c.opts.BaseURL + "/v2/cryptocurrency/info?id=" + url.QueryEscape(strings.Join(assetIDs, ","))
	var resp struct {
		Data map[string]json.RawMessage `json:"data"`
	}
	if err := c.api.GetJSON(ctx, u, &resp); err != nil {
		return nil, err
	}

	icons := make(map[string]string, len(resp.Data))
	for key, raw := range resp.Data {
		// v2 returns one object per id; some keys carry an array instead.
		var one assetInfo
		if err := json.Unmarshal(raw, &one); err == nil {
			icons[lo.Ternary(one.ID != "", string(one.ID), key)] = one.Logo
			continue
		}
		var many []assetInfo
		if err := json.Unmarshal(raw, &many); err == nil {
			for _, info := range many {
				icons[lo.Ternary(info.ID != "", string(info.ID), key)] = info.Logo
			}
		}
	}
	return icons, nil
}

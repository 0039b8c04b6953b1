package models

import "time"

// Item is one ranked asset or pool. Items are never mutated once placed in a RankedResult.
type Item struct {
	ID        string  `json:"id"`
	Symbol    string  `json:"symbol"`
	Name      string  `json:"name"`
	Image     string  `json:"image,omitempty"`
	Price     float64 `json:"price"`
	Change24h float64 `json:"change_24h"`

	// Listing horizons (CEX).
	Change7d  *float64 `json:"change_7d,omitempty"`
	Change30d *float64 `json:"change_30d,omitempty"`
	Change1y  *float64 `json:"change_1y,omitempty"`

	// Pool horizons (DEX).
	Change30m *float64 `json:"change_30m,omitempty"`
	Change1h  *float64 `json:"change_1h,omitempty"`
	Change6h  *float64 `json:"change_6h,omitempty"`

	Volume24h float64 `json:"volume_24h"`
	MarketCap float64 `json:"market_cap,omitempty"`
	Liquidity float64 `json:"liquidity,omitempty"`
	Network   string  `json:"network,omitempty"`
	Address   string  `json:"address,omitempty"`
	URL       string  `json:"url,omitempty"`

	// AssetID keys the icon side-load; it is not part of the published record.
	AssetID string `json:"-"`
}

// RankedResult holds the top movers of one refresh.
type RankedResult struct {
	Timestamp time.Time `json:"-"`
	Gainers   []Item    `json:"gainers"`
	Losers    []Item    `json:"losers"`
	IsPartial bool      `json:"isPartial"`
}

// CacheEntry is the stored state of one dataset.
type CacheEntry struct {
	Payload           RankedResult
	Timestamp         time.Time
	LastUpdateAttempt time.Time
	LastUpdateFailed  bool
	IsPartial         bool
}

// Age returns how old the payload is at now.
func (e *CacheEntry) Age(now time.Time) time.Duration {
	return now.Sub(e.Timestamp)
}

// SinceAttempt returns the time elapsed since the last refresh attempt.
func (e *CacheEntry) SinceAttempt(now time.Time) time.Duration {
	return now.Sub(e.LastUpdateAttempt)
}

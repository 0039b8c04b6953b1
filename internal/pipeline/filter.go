package pipeline

import (
	"context"
	"math"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"cryptomovers/internal/exclusion"
	"cryptomovers/internal/models"
)

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func (p *Pipeline) keep(it models.Item, excluded exclusion.Set) bool {
	if it.Symbol == "" || !finite(it.Price) || !finite(it.Change24h) {
		return false
	}
	if excluded.Contains(it.Symbol) {
		return false
	}
	if p.cfg.MinLiquidity > 0 && it.Liquidity < p.cfg.MinLiquidity {
		return false
	}
	if p.cfg.MinVolume > 0 && it.Volume24h < p.cfg.MinVolume {
		return false
	}
	if p.cfg.DropFlat && it.Change24h == 0 {
		return false
	}
	// A market cap far beyond the pool's liquidity is the usual sign of a manipulated listing.
	if p.cfg.MaxCapToLiquidity > 0 && it.Liquidity > 0 && it.MarketCap/it.Liquidity > p.cfg.MaxCapToLiquidity {
		return false
	}
	return true
}

func (p *Pipeline) filter(items []models.Item, excluded exclusion.Set) []models.Item {
	return lo.FilterMap(items, func(it models.Item, _ int) (models.Item, bool) {
		it = sanitize(it)
		return it, p.keep(it, excluded)
	})
}

// sanitize zeroes non-finite secondary figures so a single drifted field neither slips
// past the thresholds nor makes the entry unencodable.
func sanitize(it models.Item) models.Item {
	for _, v := range []*float64{&it.Volume24h, &it.MarketCap, &it.Liquidity} {
		if !finite(*v) {
			*v = 0
		}
	}
	for _, v := range []**float64{&it.Change7d, &it.Change30d, &it.Change1y, &it.Change30m, &it.Change1h, &it.Change6h} {
		if *v != nil && !finite(**v) {
			*v = nil
		}
	}
	return it
}

// dedupe keeps one item per symbol (case-insensitive). The survivor takes the slot of the
// first occurrence so output order stays tied to upstream order.
func dedupe(items []models.Item, mode DedupeMode) []models.Item {
	if mode == DedupeNone {
		return items
	}
	better := func(a, b models.Item) bool {
		if mode == DedupeByLiquidity {
			return a.Liquidity > b.Liquidity
		}
		return a.Volume24h > b.Volume24h
	}

	slot := make(map[string]int, len(items))
	out := make([]models.Item, 0, len(items))
	for _, it := range items {
		key := normalizeSymbol(it.Symbol)
		if i, ok := slot[key]; ok {
			if better(it, out[i]) {
				out[i] = it
			}
			continue
		}
		slot[key] = len(out)
		out = append(out, it)
	}
	return out
}

// enrich fills missing icons from the enricher, falling back to the placeholder.
func (p *Pipeline) enrich(ctx context.Context, items []models.Item) {
	var icons map[string]string
	if p.enricher != nil {
		ids := lo.Uniq(lo.FilterMap(items, func(it models.Item, _ int) (string, bool) {
			return it.AssetID, it.AssetID != ""
		}))
		if len(ids) > p.cfg.IconLookupCap {
			ids = ids[:p.cfg.IconLookupCap]
		}
		if len(ids) > 0 {
			var err error
			icons, err = p.enricher.Icons(ctx, ids)
			if err != nil {
				log.Warn().Err(err).Str("source", p.source.Name()).Int("ids", len(ids)).Msg("icon side-load failed, using placeholders")
			}
		}
	}

	for i := range items {
		if items[i].Image != "" {
			continue
		}
		if icon, ok := icons[items[i].AssetID]; ok && icon != "" {
			items[i].Image = icon
			continue
		}
		items[i].Image = p.cfg.PlaceholderIcon
	}
}

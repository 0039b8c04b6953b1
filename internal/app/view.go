package app

import (
	"context"
	"slices"

	"github.com/samber/lo"

	"cryptomovers/internal/freshness"
	"cryptomovers/internal/models"
)

// networkView serves the top movers of one network out of a cross-network engine.
type networkView struct {
	engine  *freshness.Engine
	network string
	topN    int
}

func (v *networkView) Dataset() string {
	return PairsKey(v.network)
}

func (v *networkView) Serve(ctx context.Context) (freshness.Response, error) {
	resp, err := v.engine.Serve(ctx)
	if err != nil {
		return resp, err
	}
	resp.Entry.Payload = narrow(resp.Entry.Payload, v.network, v.topN)
	return resp, nil
}

// narrow keeps the first n items of each list that belong to network. Both lists are
// already ranked, so filtering preserves the order. The input slices are not modified.
func narrow(r models.RankedResult, network string, n int) models.RankedResult {
	pick := func(items []models.Item) []models.Item {
		if network != AllNetworks {
			items = lo.Filter(items, func(it models.Item, _ int) bool { return it.Network == network })
		}
		return slices.Clone(lo.Slice(items, 0, n))
	}
	r.Gainers = pick(r.Gainers)
	r.Losers = pick(r.Losers)
	return r
}

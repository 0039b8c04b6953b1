package pipeline

import (
	"cmp"
	"slices"
	"strings"

	"cryptomovers/internal/models"
)

func normalizeSymbol(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Rank returns the top n gainers (positive 24h change, descending) and the top n losers
// (negative 24h change, ascending). Unchanged items rank in neither list, so the two lists
// never share an item. Sorting is stable: ties keep upstream order and identical input
// gives identical output.
func Rank(items []models.Item, n int) (gainers, losers []models.Item) {
	n = max(n, 0)
	gainers = make([]models.Item, 0, n)
	losers = make([]models.Item, 0, n)
	for _, it := range items {
		switch {
		case it.Change24h > 0:
			gainers = append(gainers, it)
		case it.Change24h < 0:
			losers = append(losers, it)
		}
	}

	slices.SortStableFunc(gainers, func(a, b models.Item) int {
		return cmp.Compare(b.Change24h, a.Change24h)
	})
	slices.SortStableFunc(losers, func(a, b models.Item) int {
		return cmp.Compare(a.Change24h, b.Change24h)
	})
	return truncate(gainers, n), truncate(losers, n)
}

func truncate(items []models.Item, n int) []models.Item {
	if len(items) > n {
		return slices.Clip(items[:n])
	}
	return items
}

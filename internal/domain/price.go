package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PriceSource holds a single exchange price reading used for weighted averaging.
type PriceSource struct {
	Exchange  string          `json:"exchange"`
	Price     decimal.Decimal `json:"price"`
	Weight    decimal.Decimal `json:"weight"` // 0–100 integer stored as decimal
	FetchedAt time.Time       `json:"fetched_at"`
}

// NormalizeSymbol upper-cases a trading pair and strips separators, so
// "btc-usdt", "BTC/USDT" and "BTCUSDT" all map to "BTCUSDT".
func NormalizeSymbol(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.NewReplacer("-", "", "/", "", "_", "").Replace(s)
}

// WeightedPrice averages the sources by weight. Sources with a zero weight
// or a non-positive price are skipped; with none left it returns zero.
func WeightedPrice(sources []PriceSource) decimal.Decimal {
	var sumWeighted, sumWeights decimal.Decimal
	for _, s := range sources {
		if !s.Price.IsPositive() || s.Weight.IsZero() {
			continue
		}
		sumWeighted = sumWeighted.Add(s.Price.Mul(s.Weight))
		sumWeights = sumWeights.Add(s.Weight)
	}
	if sumWeights.IsZero() {
		return decimal.Zero
	}
	return sumWeighted.Div(sumWeights)
}

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketInfo is a tradable instrument with its quantum and top of book.
// Ask and Bid are invalid when the venue has no liquidity on that side.
type MarketInfo struct {
	Name         string              `json:"name"`
	BaseAsset    string              `json:"base_asset"`
	QuoteAsset   string              `json:"quote_asset"`
	AssetType    AssetType           `json:"asset_type"`
	PriceStep    decimal.Decimal     `json:"price_step"`
	QuantityStep decimal.Decimal     `json:"quantity_step"`
	Ask          decimal.NullDecimal `json:"ask"`
	Bid          decimal.NullDecimal `json:"bid"`
	Last         decimal.NullDecimal `json:"last"`
	Timestamp    time.Time           `json:"timestamp"`
}

// Spread returns ask - bid when both sides are quoted.
func (m MarketInfo) Spread() (decimal.Decimal, bool) {
	if !m.Ask.Valid || !m.Bid.Valid {
		return decimal.Zero, false
	}
	return m.Ask.Decimal.Sub(m.Bid.Decimal), true
}

func (m MarketInfo) Mid() (decimal.Decimal, bool) {
	if !m.Ask.Valid || !m.Bid.Valid {
		return decimal.Zero, false
	}
	return m.Ask.Decimal.Add(m.Bid.Decimal).Div(decimal.NewFromInt(2)), true
}

// ReferencePrice is the bid, falling back to the ask.
func (m MarketInfo) ReferencePrice() (decimal.Decimal, bool) {
	if m.Bid.Valid {
		return m.Bid.Decimal, true
	}
	if m.Ask.Valid {
		return m.Ask.Decimal, true
	}
	return decimal.Zero, false
}

func (m MarketInfo) HasQuote() bool {
	return m.Ask.Valid || m.Bid.Valid
}

// FloorToStep snaps v down onto the grid of step. A non-positive step
// returns v unchanged.
func FloorToStep(v, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return v
	}
	return v.Div(step).Floor().Mul(step)
}

// NullPrice wraps a float quote as a valid NullDecimal.
func NullPrice(v float64) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.NewFromFloat(v))
}

package domain

import "github.com/shopspring/decimal"

// Position is the current holding of one instrument. A base asset may be
// held through several instruments (spot and perp).
type Position struct {
	AssetName string          `json:"asset_name"`
	BaseAsset string          `json:"base_asset"`
	AssetType AssetType       `json:"asset_type"`
	Amount    decimal.Decimal `json:"amount"`
}

// NetAmount sums the amounts of every position held for one base asset.
func NetAmount(positions []Position) decimal.Decimal {
	total := decimal.Zero
	for _, p := range positions {
		total = total.Add(p.Amount)
	}
	return total
}

// AmountOf sums the amounts held through instruments of one class.
func AmountOf(positions []Position, t AssetType) decimal.Decimal {
	total := decimal.Zero
	for _, p := range positions {
		if p.AssetType == t {
			total = total.Add(p.Amount)
		}
	}
	return total
}

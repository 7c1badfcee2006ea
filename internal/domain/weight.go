package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Weight is the target share of nominal for one ticker. ComboWeight is
// signed and may exceed any leverage limit before scaling.
type Weight struct {
	Ticker       string              `json:"ticker"`
	ComboWeight  decimal.Decimal     `json:"combo_weight"`
	AsOf         time.Time           `json:"as_of"`
	ArrivalPrice decimal.NullDecimal `json:"arrival_price"`
	Momentum     decimal.NullDecimal `json:"momentum"`
	Trend        decimal.NullDecimal `json:"trend"`
}

package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// Trade is an intended change of holding. A positive Amount buys, a negative
// Amount sells.
type Trade struct {
	Symbol        string              `json:"symbol"`
	AssetType     AssetType           `json:"asset_type"`
	Amount        decimal.Decimal     `json:"amount"`
	LimitPrice    decimal.NullDecimal `json:"limit_price"`
	PostOnly      bool                `json:"post_only,omitempty"`
	ReduceOnly    bool                `json:"reduce_only,omitempty"`
	Expiry        *time.Time          `json:"expiry,omitempty"`
	ClientOrderID string              `json:"client_order_id,omitempty"`
}

func (t Trade) Side() OrderSide {
	if t.Amount.IsNegative() {
		return SideSell
	}
	return SideBuy
}

func (t Trade) AbsoluteAmount() decimal.Decimal {
	return t.Amount.Abs()
}

func (t Trade) OrderType() OrderType {
	if t.LimitPrice.Valid {
		return OrderTypeLimit
	}
	return OrderTypeMarket
}

// IsTradable reports whether the trade has a non-zero amount and, when it
// carries a limit price, a notional of at least minOrderValue.
func (t Trade) IsTradable(minOrderValue decimal.Decimal) bool {
	if t.Amount.IsZero() {
		return false
	}
	if !t.LimitPrice.Valid || !minOrderValue.IsPositive() {
		return true
	}
	return t.Amount.Abs().Mul(t.LimitPrice.Decimal).GreaterThanOrEqual(minOrderValue)
}

// AsMarket returns a market order for amount in the same instrument.
func (t Trade) AsMarket(amount decimal.Decimal) Trade {
	return Trade{
		Symbol:     t.Symbol,
		AssetType:  t.AssetType,
		Amount:     amount,
		ReduceOnly: t.ReduceOnly,
	}
}

func (t Trade) String() string {
	if t.LimitPrice.Valid {
		return fmt.Sprintf("%s %s %s %s @ %s", t.AssetType, t.Side(), t.Amount.Abs(), t.Symbol, t.LimitPrice.Decimal)
	}
	return fmt.Sprintf("%s %s %s %s @ market", t.AssetType, t.Side(), t.Amount.Abs(), t.Symbol)
}

func (t Trade) compatible(o Trade) bool {
	if t.Symbol != o.Symbol || t.AssetType != o.AssetType {
		return false
	}
	if t.LimitPrice.Valid != o.LimitPrice.Valid {
		return false
	}
	if t.LimitPrice.Valid && !t.LimitPrice.Decimal.Equal(o.LimitPrice.Decimal) {
		return false
	}
	if (t.Expiry == nil) != (o.Expiry == nil) {
		return false
	}
	return t.Expiry == nil || t.Expiry.Equal(*o.Expiry)
}

// Add sums two trades on the same instrument, limit price and expiry.
func (t Trade) Add(o Trade) (Trade, error) {
	if !t.compatible(o) {
		return Trade{}, fmt.Errorf("%w: %s and %s", ErrIncompatibleTrades, t, o)
	}
	sum := t
	sum.Amount = t.Amount.Add(o.Amount)
	sum.PostOnly = t.PostOnly || o.PostOnly
	sum.ReduceOnly = t.ReduceOnly && o.ReduceOnly
	sum.ClientOrderID = ""
	return sum, nil
}

// MergeTrades sums compatible trades and drops the ones that net to zero.
// The result is ordered by symbol.
func MergeTrades(trades []Trade) []Trade {
	var merged []Trade
next:
	for _, t := range trades {
		for i := range merged {
			if sum, err := merged[i].Add(t); err == nil {
				merged[i] = sum
				continue next
			}
		}
		merged = append(merged, t)
	}

	out := merged[:0]
	for _, t := range merged {
		if !t.Amount.IsZero() {
			out = append(out, t)
		}
	}
	SortTrades(out)
	return out
}

func SortTrades(trades []Trade) {
	sort.SliceStable(trades, func(i, j int) bool {
		if trades[i].Symbol != trades[j].Symbol {
			return trades[i].Symbol < trades[j].Symbol
		}
		return trades[i].AssetType < trades[j].AssetType
	})
}

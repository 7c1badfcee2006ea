package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusNew            OrderStatus = "NEW"
	OrderStatusOpen           OrderStatus = "OPEN"
	OrderStatusFilled         OrderStatus = "FILLED"
	OrderStatusCanceled       OrderStatus = "CANCELED"
	OrderStatusTriggered      OrderStatus = "TRIGGERED"
	OrderStatusRejected       OrderStatus = "REJECTED"
	OrderStatusMarginCanceled OrderStatus = "MARGIN_CANCELED"
	OrderStatusWaitingFill    OrderStatus = "WAITING_FILL"
	OrderStatusWaitingTrigger OrderStatus = "WAITING_TRIGGER"
)

func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusMarginCanceled:
		return true
	}
	return false
}

// Order is the venue-side state of a placed order. Values are replaced,
// never mutated.
type Order struct {
	ID         string              `json:"id"`
	Symbol     string              `json:"symbol"`
	AssetType  AssetType           `json:"asset_type"`
	Created    time.Time           `json:"created"`
	Side       OrderSide           `json:"side"`
	Status     OrderStatus         `json:"status"`
	Amount     decimal.Decimal     `json:"amount"`
	Filled     decimal.Decimal     `json:"filled"`
	LimitPrice decimal.NullDecimal `json:"limit_price"`
	ClientID   string              `json:"client_id,omitempty"`
}

func (o Order) Type() OrderType {
	if o.LimitPrice.Valid {
		return OrderTypeLimit
	}
	return OrderTypeMarket
}

// Remaining is the unfilled quantity, signed by side.
func (o Order) Remaining() decimal.Decimal {
	rem := o.Amount.Sub(o.Filled)
	if rem.IsNegative() {
		rem = decimal.Zero
	}
	if o.Side == SideSell {
		return rem.Neg()
	}
	return rem
}

// WithFill returns a copy with the new status and filled quantity, clamped
// to [0, Amount].
func (o Order) WithFill(status OrderStatus, filled decimal.Decimal) Order {
	next := o
	next.Status = status
	switch {
	case filled.IsNegative():
		next.Filled = decimal.Zero
	case filled.GreaterThan(o.Amount):
		next.Filled = o.Amount
	default:
		next.Filled = filled
	}
	return next
}

type OrderUpdateType string

const (
	OrderUpdateCreated           OrderUpdateType = "CREATED"
	OrderUpdatePartiallyFilled   OrderUpdateType = "PARTIALLY_FILLED"
	OrderUpdateFilled            OrderUpdateType = "FILLED"
	OrderUpdateCancelled         OrderUpdateType = "CANCELLED"
	OrderUpdateTimedOut          OrderUpdateType = "TIMED_OUT"
	OrderUpdateMarketOrderPlaced OrderUpdateType = "MARKET_ORDER_PLACED"
	OrderUpdateError             OrderUpdateType = "ERROR"
)

func (t OrderUpdateType) IsTerminal() bool {
	return t == OrderUpdateFilled || t == OrderUpdateCancelled
}

// OrderUpdate is one event of the order lifecycle stream.
type OrderUpdate struct {
	Symbol  string          `json:"symbol"`
	Type    OrderUpdateType `json:"type"`
	Order   *Order          `json:"order,omitempty"`
	Message string          `json:"message,omitempty"`
	Err     error           `json:"-"`
	Time    time.Time       `json:"time"`
}

// ClassifyOrder maps venue order state onto the update it produces.
func ClassifyOrder(o Order) OrderUpdateType {
	switch o.Status {
	case OrderStatusFilled:
		return OrderUpdateFilled
	case OrderStatusCanceled, OrderStatusRejected, OrderStatusMarginCanceled:
		return OrderUpdateCancelled
	}
	if o.Filled.IsPositive() && o.Filled.LessThan(o.Amount) {
		return OrderUpdatePartiallyFilled
	}
	return OrderUpdateCreated
}

// OrderRequest is a placement call to the venue.
type OrderRequest struct {
	Symbol        string
	AssetType     AssetType
	Side          OrderSide
	Type          OrderType
	Quantity      decimal.Decimal
	LimitPrice    decimal.NullDecimal
	PostOnly      bool
	ReduceOnly    bool
	ClientOrderID string
}

func NewOrderRequest(t Trade) OrderRequest {
	return OrderRequest{
		Symbol:        t.Symbol,
		AssetType:     t.AssetType,
		Side:          t.Side(),
		Type:          t.OrderType(),
		Quantity:      t.Amount.Abs(),
		LimitPrice:    t.LimitPrice,
		PostOnly:      t.PostOnly,
		ReduceOnly:    t.ReduceOnly,
		ClientOrderID: t.ClientOrderID,
	}
}

// PlacementResult is the outcome of one request in a batch placement.
type PlacementResult struct {
	Order Order
	Err   error
}

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type CycleStatus string

const (
	CycleRunning   CycleStatus = "running"
	CycleCompleted CycleStatus = "completed"
	CycleSkipped   CycleStatus = "skipped"
	CycleDryRun    CycleStatus = "dry_run"
	CycleFailed    CycleStatus = "failed"
	CycleCancelled CycleStatus = "cancelled"
)

// CycleRecord is one journalled rebalance run.
type CycleRecord struct {
	ID         string          `json:"id"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Status     CycleStatus     `json:"status"`
	Nominal    decimal.Decimal `json:"nominal"`
	TradeCount int             `json:"trade_count"`
	Message    string          `json:"message,omitempty"`
}

// OrderUpdateRecord is the stored form of an OrderUpdate.
type OrderUpdateRecord struct {
	ID         int64               `json:"id"`
	CycleID    string              `json:"cycle_id"`
	Symbol     string              `json:"symbol"`
	Type       OrderUpdateType     `json:"type"`
	OrderID    string              `json:"order_id,omitempty"`
	Status     OrderStatus         `json:"status,omitempty"`
	Side       OrderSide           `json:"side,omitempty"`
	Amount     decimal.Decimal     `json:"amount"`
	Filled     decimal.Decimal     `json:"filled"`
	LimitPrice decimal.NullDecimal `json:"limit_price"`
	Message    string              `json:"message,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
}

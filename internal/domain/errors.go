package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNoMarkets             = errors.New("no markets for token")
	ErrNoAsk                 = errors.New("no ask price")
	ErrNoBid                 = errors.New("no bid price")
	ErrInvalidQuantum        = errors.New("market has no valid price or quantity step")
	ErrShortSpotNotPermitted = errors.New("short spot not permitted")
	ErrZeroNominal           = errors.New("nominal is zero")
	ErrNotTradable           = errors.New("trade is not tradable")
	ErrIncompatibleTrades    = errors.New("trades cannot be combined")
	ErrOpenOrders            = errors.New("open orders present")
	ErrCycleInProgress       = errors.New("rebalance cycle already in progress")
	ErrUnknownSymbol         = errors.New("unknown symbol")
	ErrCycleNotFound         = errors.New("cycle not found")
)

// ConfigError reports a missing or invalid setting. It is fatal at startup.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// VenueError is a rejection reported by the trading venue.
type VenueError struct {
	Op      string
	Code    int
	Message string
}

func (e *VenueError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("venue %s error %d: %s", e.Op, e.Code, e.Message)
	}
	return fmt.Sprintf("venue %s error: %s", e.Op, e.Message)
}

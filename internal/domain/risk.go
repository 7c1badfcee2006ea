package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskConfig bounds how target weights turn into trades.
type RiskConfig struct {
	MaxLeverage      decimal.Decimal
	TradeBuffer      decimal.Decimal
	MaxWeightAbs     decimal.Decimal
	NominalCash      decimal.NullDecimal
	BaseCurrency     string
	AssetPermissions AssetPermissions
	RebalanceMode    RebalanceMode
	PostOnly         bool
}

type OrderManagementSettings struct {
	UnfilledOrderTimeout    time.Duration
	SwitchToMarketOnTimeout bool
	StatusCheckInterval     time.Duration
}

func DefaultOrderManagementSettings() OrderManagementSettings {
	return OrderManagementSettings{
		UnfilledOrderTimeout:    5 * time.Minute,
		SwitchToMarketOnTimeout: true,
		StatusCheckInterval:     5 * time.Second,
	}
}

package usecase

import (
	"github.com/shopspring/decimal"
	"github.com/vitos/crypto_rebalancer/internal/domain"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func quote(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(dec(s))
}

func spotMarket(base, bid, ask string) domain.MarketInfo {
	m := domain.MarketInfo{
		Name:         base + "/USDC",
		BaseAsset:    base,
		QuoteAsset:   "USDC",
		AssetType:    domain.AssetTypeSpot,
		PriceStep:    dec("0.01"),
		QuantityStep: dec("0.001"),
	}
	if bid != "" {
		m.Bid = quote(bid)
	}
	if ask != "" {
		m.Ask = quote(ask)
	}
	return m
}

func perpMarket(base, bid, ask string) domain.MarketInfo {
	m := spotMarket(base, bid, ask)
	m.Name = base
	m.AssetType = domain.AssetTypeFuture
	m.PriceStep = dec("0.1")
	return m
}

func weightsOf(kv map[string]string) map[string]domain.Weight {
	out := make(map[string]domain.Weight, len(kv))
	for ticker, w := range kv {
		out[ticker] = domain.Weight{Ticker: ticker, ComboWeight: dec(w)}
	}
	return out
}

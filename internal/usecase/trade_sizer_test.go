package usecase

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_rebalancer/internal/domain"
	"go.uber.org/zap"
)

func riskConfig(perms domain.AssetPermissions) domain.RiskConfig {
	return domain.RiskConfig{
		MaxLeverage:      dec("1"),
		TradeBuffer:      dec("0.04"),
		NominalCash:      quote("10000"),
		BaseCurrency:     "USDC",
		AssetPermissions: perms,
		RebalanceMode:    domain.RebalanceCenter,
	}
}

func newSizer(cfg domain.RiskConfig) *TradeSizer {
	return NewTradeSizer(cfg, domain.NewTickerAliases(nil), zap.NewNop())
}

func TestTradeSizer_LeverageCap(t *testing.T) {
	cfg := riskConfig(domain.PermissionSpotAndPerp)
	weights := weightsOf(map[string]string{"BTC/USDC": "1.5", "ETH/USDC": "-1.0", "SOL/USDC": "0.5"})
	markets := map[string][]domain.MarketInfo{
		"BTC": {perpMarket("BTC", "100", "101")},
		"ETH": {perpMarket("ETH", "50", "51")},
		"SOL": {perpMarket("SOL", "20", "21")},
	}

	res := newSizer(cfg).CalculateTrades(weights, nil, markets)

	gross := decimal.Zero
	for _, target := range res.Targets {
		gross = gross.Add(target.Abs())
	}
	epsilon := dec("0.000000000001")
	assert.True(t, gross.LessThanOrEqual(cfg.MaxLeverage.Add(epsilon)), "gross %s", gross)
	assert.True(t, res.Scale.LessThan(dec("1")))
	require.Len(t, res.Trades, 3)

	// Relative sizing is preserved.
	ratio := res.Targets["BTC/USDC"].Div(res.Targets["SOL/USDC"])
	assert.True(t, ratio.Sub(dec("3")).Abs().LessThan(epsilon), "ratio %s", ratio)
}

func TestTradeSizer_NoScalingBelowCap(t *testing.T) {
	cfg := riskConfig(domain.PermissionSpotAndPerp)
	weights := weightsOf(map[string]string{"BTC": "0.3", "ETH": "-0.2"})
	markets := map[string][]domain.MarketInfo{
		"BTC": {perpMarket("BTC", "100", "101")},
		"ETH": {perpMarket("ETH", "50", "51")},
	}

	res := newSizer(cfg).CalculateTrades(weights, nil, markets)
	assert.True(t, res.Scale.Equal(dec("1")))
	assert.True(t, res.Targets["BTC"].Equal(dec("0.3")))
}

func TestTradeSizer_MaxWeightAbsClamp(t *testing.T) {
	cfg := riskConfig(domain.PermissionSpotAndPerp)
	cfg.MaxWeightAbs = dec("0.25")
	weights := weightsOf(map[string]string{"BTC": "0.8", "ETH": "-0.9"})
	markets := map[string][]domain.MarketInfo{
		"BTC": {perpMarket("BTC", "100", "101")},
		"ETH": {perpMarket("ETH", "50", "51")},
	}

	res := newSizer(cfg).CalculateTrades(weights, nil, markets)
	assert.True(t, res.Targets["BTC"].Equal(dec("0.25")))
	assert.True(t, res.Targets["ETH"].Equal(dec("-0.25")))
}

func TestTradeSizer_BandIdempotence(t *testing.T) {
	cfg := riskConfig(domain.PermissionSpotAndPerp)
	positions := map[string][]domain.Position{
		"BTC": {{AssetName: "BTC", BaseAsset: "BTC", AssetType: domain.AssetTypeFuture, Amount: dec("10")}},
	}
	markets := map[string][]domain.MarketInfo{"BTC": {perpMarket("BTC", "100", "101")}}

	// current weight is 10 * 100 / 10000 = 0.10
	for _, target := range []string{"0.12", "0.14", "0.06", "0.10"} {
		res := newSizer(cfg).CalculateTrades(weightsOf(map[string]string{"BTC": target}), positions, markets)
		assert.Empty(t, res.Trades, "target %s", target)
		assert.Empty(t, res.Diagnostics, "target %s", target)
	}

	res := newSizer(cfg).CalculateTrades(weightsOf(map[string]string{"BTC": "0.15"}), positions, markets)
	assert.Len(t, res.Trades, 1)
}

func TestTradeSizer_EdgeVersusCenter(t *testing.T) {
	positions := map[string][]domain.Position{
		"BTC": {{AssetName: "BTC", BaseAsset: "BTC", AssetType: domain.AssetTypeFuture, Amount: dec("20")}},
	}
	markets := map[string][]domain.MarketInfo{"BTC": {perpMarket("BTC", "100", "101")}}
	weights := weightsOf(map[string]string{"BTC": "-0.10"})

	center := riskConfig(domain.PermissionPerpetualFutures)
	edge := center
	edge.RebalanceMode = domain.RebalanceEdge

	centerRes := newSizer(center).CalculateTrades(weights, positions, markets)
	edgeRes := newSizer(edge).CalculateTrades(weights, positions, markets)
	require.Len(t, centerRes.Trades, 1)
	require.Len(t, edgeRes.Trades, 1)

	// 20% -> -10% sells 30% of 10000 at bid 100; 20% -> -6% sells 26%.
	assert.True(t, centerRes.Trades[0].Amount.Equal(dec("-30")), centerRes.Trades[0].Amount.String())
	assert.True(t, edgeRes.Trades[0].Amount.Equal(dec("-26")), edgeRes.Trades[0].Amount.String())
	assert.True(t, edgeRes.Trades[0].Amount.Abs().LessThan(centerRes.Trades[0].Amount.Abs()))

	// bid + 0.382 * spread = 100.382, floored to 0.1
	assert.True(t, centerRes.Trades[0].LimitPrice.Decimal.Equal(dec("100.3")))
	assert.Equal(t, domain.SideSell, centerRes.Trades[0].Side())
}

func TestTradeSizer_QuantumRounding(t *testing.T) {
	cfg := riskConfig(domain.PermissionSpotAndPerp)
	markets := map[string][]domain.MarketInfo{
		"BTC": {spotMarket("BTC", "100", "101")},
		"ETH": {perpMarket("ETH", "57.37", "57.91")},
	}
	weights := weightsOf(map[string]string{"BTC/USDC": "0.123456", "ETH/USDC": "-0.0777"})

	res := newSizer(cfg).CalculateTrades(weights, nil, markets)
	require.Len(t, res.Trades, 2)

	bySymbol := map[string]domain.Trade{}
	for _, tr := range res.Trades {
		bySymbol[tr.Symbol] = tr
		var m domain.MarketInfo
		for _, list := range markets {
			for _, mk := range list {
				if mk.Name == tr.Symbol {
					m = mk
				}
			}
		}
		assert.True(t, tr.Amount.Mod(m.QuantityStep).IsZero(), "amount %s step %s", tr.Amount, m.QuantityStep)
		assert.True(t, tr.LimitPrice.Decimal.Mod(m.PriceStep).IsZero(), "limit %s step %s", tr.LimitPrice.Decimal, m.PriceStep)
		assert.False(t, tr.Amount.IsZero())
	}

	// 1234.56 / 101 = 12.2233..., floored to 0.001
	btc := bySymbol["BTC/USDC"]
	assert.True(t, btc.Amount.Equal(dec("12.223")), btc.Amount.String())
	// 100 + 0.618 = 100.618, floored to 0.01
	assert.True(t, btc.LimitPrice.Decimal.Equal(dec("100.61")), btc.LimitPrice.Decimal.String())
}

func TestTradeSizer_NoZeroTrades(t *testing.T) {
	cfg := riskConfig(domain.PermissionSpotAndPerp)
	cfg.TradeBuffer = decimal.Zero
	m := perpMarket("BTC", "100", "101")
	m.QuantityStep = dec("10")
	markets := map[string][]domain.MarketInfo{"BTC": {m}}

	for _, target := range []string{"0.05", "0.09", "0.1", "0.0001"} {
		res := newSizer(cfg).CalculateTrades(weightsOf(map[string]string{"BTC": target}), nil, markets)
		for _, tr := range res.Trades {
			assert.False(t, tr.Amount.IsZero(), "target %s", target)
		}
	}

	res := newSizer(cfg).CalculateTrades(weightsOf(map[string]string{"BTC": "0.05"}), nil, markets)
	assert.Empty(t, res.Trades)
}

func TestTradeSizer_MarketSelection(t *testing.T) {
	cfg := riskConfig(domain.PermissionSpotAndPerp)
	markets := map[string][]domain.MarketInfo{
		"BTC": {perpMarket("BTC", "100.5", "101.5"), spotMarket("BTC", "100", "101")},
	}

	buy := newSizer(cfg).CalculateTrades(weightsOf(map[string]string{"BTC/USDC": "0.2"}), nil, markets)
	require.Len(t, buy.Trades, 1)
	assert.Equal(t, "BTC/USDC", buy.Trades[0].Symbol)
	assert.Equal(t, domain.AssetTypeSpot, buy.Trades[0].AssetType)

	sell := newSizer(cfg).CalculateTrades(weightsOf(map[string]string{"BTC/USDC": "-0.2"}), nil, markets)
	require.Len(t, sell.Trades, 1)
	assert.Equal(t, "BTC", sell.Trades[0].Symbol)
	assert.Equal(t, domain.AssetTypeFuture, sell.Trades[0].AssetType)
}

func TestTradeSizer_PermissionsFilterMarkets(t *testing.T) {
	cfg := riskConfig(domain.PermissionLongSpot)
	markets := map[string][]domain.MarketInfo{
		"BTC": {perpMarket("BTC", "99", "100")},
	}

	res := newSizer(cfg).CalculateTrades(weightsOf(map[string]string{"BTC": "0.2"}), nil, markets)
	assert.Empty(t, res.Trades)
	require.Len(t, res.Diagnostics, 1)
	assert.True(t, errors.Is(res.Diagnostics[0].Err, domain.ErrNoMarkets))
	assert.False(t, res.Diagnostics[0].IsPricingError())
}

func TestTradeSizer_ShortSpotGuardFlattens(t *testing.T) {
	cfg := riskConfig(domain.PermissionLongSpot)
	markets := map[string][]domain.MarketInfo{"BTC": {spotMarket("BTC", "100", "101")}}
	positions := map[string][]domain.Position{
		"BTC": {{AssetName: "BTC/USDC", BaseAsset: "BTC", AssetType: domain.AssetTypeSpot, Amount: dec("5")}},
	}

	res := newSizer(cfg).CalculateTrades(weightsOf(map[string]string{"BTC/USDC": "-0.2"}), positions, markets)
	require.Len(t, res.Trades, 1)
	assert.Empty(t, res.Diagnostics)
	assert.True(t, res.Trades[0].Amount.Equal(dec("-5")), res.Trades[0].Amount.String())
	assert.True(t, res.Trades[0].LimitPrice.Decimal.Equal(dec("100.38")))
}

func TestTradeSizer_ShortSpotGuardWithoutHolding(t *testing.T) {
	cfg := riskConfig(domain.PermissionLongSpot)
	markets := map[string][]domain.MarketInfo{"BTC": {spotMarket("BTC", "100", "101")}}

	res := newSizer(cfg).CalculateTrades(weightsOf(map[string]string{"BTC/USDC": "-0.2"}), nil, markets)
	assert.Empty(t, res.Trades)
	require.Len(t, res.Diagnostics, 1)
	assert.True(t, errors.Is(res.Diagnostics[0].Err, domain.ErrShortSpotNotPermitted))
}

func TestTradeSizer_ShortSpotGuardRoutesToFutures(t *testing.T) {
	cfg := riskConfig(domain.PermissionLongSpotAndPerp)
	markets := map[string][]domain.MarketInfo{
		"BTC": {spotMarket("BTC", "100", "101"), perpMarket("BTC", "99", "100")},
	}

	res := newSizer(cfg).CalculateTrades(weightsOf(map[string]string{"BTC/USDC": "-0.2"}), nil, markets)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, domain.AssetTypeFuture, res.Trades[0].AssetType)
	// -0.2 * 10000 / 99 = -20.2020..., floored to 0.001
	assert.True(t, res.Trades[0].Amount.Equal(dec("-20.203")), res.Trades[0].Amount.String())
}

func TestTradeSizer_MissingPriceIsScopedToTicker(t *testing.T) {
	cfg := riskConfig(domain.PermissionSpotAndPerp)
	markets := map[string][]domain.MarketInfo{
		"BTC": {perpMarket("BTC", "100", "")},
		"ETH": {perpMarket("ETH", "50", "51")},
		"SOL": {perpMarket("SOL", "", "21")},
	}
	positions := map[string][]domain.Position{
		"SOL": {{AssetName: "SOL", BaseAsset: "SOL", AssetType: domain.AssetTypeFuture, Amount: dec("100")}},
	}
	weights := weightsOf(map[string]string{"BTC": "0.2", "ETH": "0.2", "SOL": "-0.1"})

	res := newSizer(cfg).CalculateTrades(weights, positions, markets)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, "ETH", res.Trades[0].Symbol)

	require.Len(t, res.Diagnostics, 2)
	assert.Equal(t, "BTC", res.Diagnostics[0].Ticker)
	assert.True(t, errors.Is(res.Diagnostics[0].Err, domain.ErrNoAsk))
	assert.Equal(t, "SOL", res.Diagnostics[1].Ticker)
	assert.True(t, errors.Is(res.Diagnostics[1].Err, domain.ErrNoBid))
	assert.True(t, res.Diagnostics[1].IsPricingError())
}

func TestTradeSizer_MarkToMarketNominal(t *testing.T) {
	cfg := riskConfig(domain.PermissionSpotAndPerp)
	cfg.NominalCash = decimal.NullDecimal{}
	markets := map[string][]domain.MarketInfo{
		"BTC": {spotMarket("BTC", "100", "101"), perpMarket("BTC", "99", "100")},
		"ETH": {perpMarket("ETH", "50", "51")},
	}
	positions := map[string][]domain.Position{
		"USDC": {{AssetName: "USDC", BaseAsset: "USDC", AssetType: domain.AssetTypeSpot, Amount: dec("5000")}},
		"BTC":  {{AssetName: "BTC/USDC", BaseAsset: "BTC", AssetType: domain.AssetTypeSpot, Amount: dec("10")}},
		"ETH":  {{AssetName: "ETH", BaseAsset: "ETH", AssetType: domain.AssetTypeFuture, Amount: dec("-2")}},
		"DOGE": {{AssetName: "DOGE", BaseAsset: "DOGE", AssetType: domain.AssetTypeSpot, Amount: dec("1000")}},
	}

	res := newSizer(cfg).CalculateTrades(map[string]domain.Weight{}, positions, markets)
	// 5000 + 10 * 100 (best bid) - 2 * 51 (best ask), DOGE unquoted
	assert.True(t, res.Nominal.Equal(dec("5898")), res.Nominal.String())
}

func TestTradeSizer_ZeroNominal(t *testing.T) {
	cfg := riskConfig(domain.PermissionSpotAndPerp)
	cfg.NominalCash = decimal.NullDecimal{}

	res := newSizer(cfg).CalculateTrades(weightsOf(map[string]string{"BTC": "0.5"}), nil, nil)
	assert.Empty(t, res.Trades)
	require.Len(t, res.Diagnostics, 1)
	assert.True(t, errors.Is(res.Diagnostics[0].Err, domain.ErrZeroNominal))
}

func TestTradeSizer_AliasedToken(t *testing.T) {
	cfg := riskConfig(domain.PermissionSpotAndPerp)
	sizer := NewTradeSizer(cfg, domain.NewTickerAliases(map[string]string{"BTC": "UBTC"}), zap.NewNop())
	markets := map[string][]domain.MarketInfo{"BTC": {spotMarket("BTC", "100", "101")}}

	res := sizer.CalculateTrades(weightsOf(map[string]string{"UBTC/USDC": "0.2"}), nil, markets)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, "BTC/USDC", res.Trades[0].Symbol)
}

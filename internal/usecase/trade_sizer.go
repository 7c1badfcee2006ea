package usecase

import (
	"errors"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/vitos/crypto_rebalancer/internal/domain"
	"go.uber.org/zap"
)

var (
	buyLimitFactor  = decimal.RequireFromString("0.618")
	sellLimitFactor = decimal.RequireFromString("0.382")
	one             = decimal.NewFromInt(1)
)

// Diagnostic explains why a ticker produced no trade.
type Diagnostic struct {
	Ticker string
	Symbol string
	Err    error
}

// IsPricingError is true for failures that stop a ticker from being priced,
// as opposed to normal no-op outcomes.
func (d Diagnostic) IsPricingError() bool {
	return errors.Is(d.Err, domain.ErrNoAsk) ||
		errors.Is(d.Err, domain.ErrNoBid) ||
		errors.Is(d.Err, domain.ErrInvalidQuantum) ||
		errors.Is(d.Err, domain.ErrZeroNominal)
}

type SizingResult struct {
	Trades      []domain.Trade
	Diagnostics []Diagnostic
	Nominal     decimal.Decimal
	Scale       decimal.Decimal
	// Targets holds the leverage-constrained weight per ticker.
	Targets map[string]decimal.Decimal
}

// TradeSizer turns target weights into quantised limit trades.
type TradeSizer struct {
	cfg     domain.RiskConfig
	aliases *domain.TickerAliases
	logger  *zap.Logger
}

func NewTradeSizer(cfg domain.RiskConfig, aliases *domain.TickerAliases, logger *zap.Logger) *TradeSizer {
	return &TradeSizer{
		cfg:     cfg,
		aliases: aliases,
		logger:  logger,
	}
}

type candidate struct {
	market domain.MarketInfo
	price  decimal.Decimal
	weight decimal.Decimal
}

// CalculateTrades sizes one trade per ticker whose current weight sits
// outside its tolerance band. Tickers are processed in ascending order.
func (s *TradeSizer) CalculateTrades(
	weights map[string]domain.Weight,
	positions map[string][]domain.Position,
	markets map[string][]domain.MarketInfo,
) SizingResult {
	res := SizingResult{Scale: one, Targets: make(map[string]decimal.Decimal, len(weights))}

	res.Nominal = s.nominal(positions, markets)
	if !res.Nominal.IsPositive() {
		s.logger.Warn("Cannot size trades without nominal", zap.String("nominal", res.Nominal.String()))
		res.Diagnostics = append(res.Diagnostics, Diagnostic{Err: domain.ErrZeroNominal})
		return res
	}

	tickers := make([]string, 0, len(weights))
	for ticker := range weights {
		tickers = append(tickers, ticker)
	}
	sort.Strings(tickers)

	gross := decimal.Zero
	clamped := make(map[string]decimal.Decimal, len(weights))
	for _, ticker := range tickers {
		w := s.clamp(weights[ticker].ComboWeight)
		clamped[ticker] = w
		gross = gross.Add(w.Abs())
	}
	if gross.GreaterThan(s.cfg.MaxLeverage) {
		res.Scale = s.cfg.MaxLeverage.Div(gross)
	}

	s.logger.Debug("Sizing trades",
		zap.String("nominal", res.Nominal.String()),
		zap.String("gross_leverage", gross.String()),
		zap.String("scale", res.Scale.String()),
		zap.Int("weights", len(weights)),
	)

	for _, ticker := range tickers {
		target := res.Scale.Mul(clamped[ticker])
		res.Targets[ticker] = target

		trade, diag := s.sizeTicker(ticker, target, positions, markets, res.Nominal)
		if diag != nil {
			res.Diagnostics = append(res.Diagnostics, *diag)
		}
		if trade != nil {
			res.Trades = append(res.Trades, *trade)
		}
	}
	return res
}

func (s *TradeSizer) clamp(w decimal.Decimal) decimal.Decimal {
	limit := s.cfg.MaxWeightAbs
	if !limit.IsPositive() {
		return w
	}
	if w.GreaterThan(limit) {
		return limit
	}
	if w.LessThan(limit.Neg()) {
		return limit.Neg()
	}
	return w
}

// nominal is the configured cash or the mark-to-market book value in the
// base currency. Holdings without a usable quote count as zero.
func (s *TradeSizer) nominal(positions map[string][]domain.Position, markets map[string][]domain.MarketInfo) decimal.Decimal {
	if s.cfg.NominalCash.Valid {
		return s.cfg.NominalCash.Decimal
	}

	total := decimal.Zero
	for base, list := range positions {
		for _, p := range list {
			if p.Amount.IsZero() {
				continue
			}
			if base == s.cfg.BaseCurrency || p.BaseAsset == s.cfg.BaseCurrency {
				total = total.Add(p.Amount)
				continue
			}
			price, ok := bestQuote(markets[base], p.Amount.IsPositive())
			if !ok {
				s.logger.Debug("No quote for holding, valued at zero",
					zap.String("asset", p.AssetName),
					zap.String("amount", p.Amount.String()))
				continue
			}
			total = total.Add(p.Amount.Mul(price))
		}
	}
	return total
}

// bestQuote is the highest bid for a long holding or the lowest ask for a
// short one.
func bestQuote(markets []domain.MarketInfo, long bool) (decimal.Decimal, bool) {
	var best decimal.Decimal
	found := false
	for _, m := range markets {
		if long {
			if m.Bid.Valid && (!found || m.Bid.Decimal.GreaterThan(best)) {
				best, found = m.Bid.Decimal, true
			}
			continue
		}
		if m.Ask.Valid && (!found || m.Ask.Decimal.LessThan(best)) {
			best, found = m.Ask.Decimal, true
		}
	}
	return best, found
}

func (s *TradeSizer) candidates(token string, amount, nominal decimal.Decimal, markets map[string][]domain.MarketInfo) []candidate {
	var out []candidate
	for _, m := range markets[token] {
		if !s.cfg.AssetPermissions.AllowsAssetType(m.AssetType) {
			continue
		}
		price, ok := m.ReferencePrice()
		if !ok {
			continue
		}
		out = append(out, candidate{
			market: m,
			price:  price,
			weight: amount.Mul(price).Div(nominal),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].price.Equal(out[j].price) {
			return out[i].price.LessThan(out[j].price)
		}
		return out[i].market.Name < out[j].market.Name
	})
	return out
}

// selectCandidate routes sells to the highest-priced listing and buys to the
// lowest-priced one.
func selectCandidate(cands []candidate, target decimal.Decimal) candidate {
	last := cands[len(cands)-1]
	if target.Sub(last.weight).IsNegative() {
		return last
	}
	return cands[0]
}

// rebalanceTarget returns the weight to trade to, or false when current is
// already inside the band.
func (s *TradeSizer) rebalanceTarget(target, current decimal.Decimal) (decimal.Decimal, bool) {
	lower := target.Sub(s.cfg.TradeBuffer)
	upper := target.Add(s.cfg.TradeBuffer)
	if current.GreaterThanOrEqual(lower) && current.LessThanOrEqual(upper) {
		return decimal.Zero, false
	}
	if s.cfg.RebalanceMode == domain.RebalanceEdge {
		if current.GreaterThan(upper) {
			return upper, true
		}
		return lower, true
	}
	return target, true
}

func (s *TradeSizer) sizeTicker(
	ticker string,
	target decimal.Decimal,
	positions map[string][]domain.Position,
	markets map[string][]domain.MarketInfo,
	nominal decimal.Decimal,
) (*domain.Trade, *Diagnostic) {
	token, _ := domain.SplitTicker(ticker)
	token = s.aliases.Canonical(token)

	held := positions[token]
	amount := domain.NetAmount(held)

	cands := s.candidates(token, amount, nominal, markets)
	if len(cands) == 0 {
		s.logger.Info("No markets for ticker", zap.String("ticker", ticker), zap.String("token", token))
		return nil, &Diagnostic{Ticker: ticker, Err: domain.ErrNoMarkets}
	}

	sel := selectCandidate(cands, target)
	rebalTo, trade := s.rebalanceTarget(target, sel.weight)
	if !trade {
		s.logger.Debug("Within tolerance band",
			zap.String("ticker", ticker),
			zap.String("current", sel.weight.String()),
			zap.String("target", target.String()))
		return nil, nil
	}

	if rebalTo.IsNegative() && sel.market.AssetType == domain.AssetTypeSpot &&
		!s.cfg.AssetPermissions.Has(domain.PermissionShortSpot) {
		if fut, ok := lastOfType(cands, domain.AssetTypeFuture); ok {
			sel = fut
			rebalTo, trade = s.rebalanceTarget(target, sel.weight)
			if !trade {
				return nil, nil
			}
		} else {
			return s.flattenSpot(ticker, sel.market, domain.AmountOf(held, domain.AssetTypeSpot))
		}
	}

	delta := rebalTo.Sub(sel.weight)
	if delta.IsZero() {
		return nil, nil
	}
	m := sel.market
	if !m.QuantityStep.IsPositive() || !m.PriceStep.IsPositive() {
		return nil, &Diagnostic{Ticker: ticker, Symbol: m.Name, Err: domain.ErrInvalidQuantum}
	}

	buy := delta.IsPositive()
	var execPrice decimal.Decimal
	if buy {
		if !m.Ask.Valid {
			return nil, s.priceFailure(ticker, m, domain.ErrNoAsk)
		}
		execPrice = m.Ask.Decimal
	} else {
		if !m.Bid.Valid {
			return nil, s.priceFailure(ticker, m, domain.ErrNoBid)
		}
		execPrice = m.Bid.Decimal
	}

	size := domain.FloorToStep(delta.Mul(nominal).Div(execPrice), m.QuantityStep)
	if size.IsZero() {
		s.logger.Debug("Trade rounds to zero", zap.String("ticker", ticker), zap.String("symbol", m.Name))
		return nil, nil
	}

	limit, err := limitPrice(m, buy)
	if err != nil {
		return nil, s.priceFailure(ticker, m, err)
	}

	t := s.newTrade(m, size, limit)
	s.logger.Info("Sized trade",
		zap.String("ticker", ticker),
		zap.String("symbol", m.Name),
		zap.String("asset_type", m.AssetType.String()),
		zap.String("current_weight", sel.weight.String()),
		zap.String("target_weight", target.String()),
		zap.String("rebalance_to", rebalTo.String()),
		zap.String("amount", size.String()),
		zap.String("limit", limit.String()),
	)
	return &t, nil
}

// flattenSpot closes a long spot holding when the target is short and
// shorting spot is not allowed. The remaining short is left for a futures
// listing in a later cycle.
func (s *TradeSizer) flattenSpot(ticker string, m domain.MarketInfo, holding decimal.Decimal) (*domain.Trade, *Diagnostic) {
	if !holding.IsPositive() {
		s.logger.Info("Short spot not permitted, skipping", zap.String("ticker", ticker), zap.String("symbol", m.Name))
		return nil, &Diagnostic{Ticker: ticker, Symbol: m.Name, Err: domain.ErrShortSpotNotPermitted}
	}
	if !m.QuantityStep.IsPositive() || !m.PriceStep.IsPositive() {
		return nil, &Diagnostic{Ticker: ticker, Symbol: m.Name, Err: domain.ErrInvalidQuantum}
	}

	size := domain.FloorToStep(holding, m.QuantityStep).Neg()
	if size.IsZero() {
		return nil, nil
	}
	limit, err := limitPrice(m, false)
	if err != nil {
		return nil, s.priceFailure(ticker, m, err)
	}

	t := s.newTrade(m, size, limit)
	s.logger.Info("Flattening long spot instead of shorting",
		zap.String("ticker", ticker),
		zap.String("symbol", m.Name),
		zap.String("amount", size.String()),
		zap.String("limit", limit.String()),
	)
	return &t, nil
}

func (s *TradeSizer) newTrade(m domain.MarketInfo, size, limit decimal.Decimal) domain.Trade {
	return domain.Trade{
		Symbol:     m.Name,
		AssetType:  m.AssetType,
		Amount:     size,
		LimitPrice: decimal.NewNullDecimal(limit),
		PostOnly:   s.cfg.PostOnly,
	}
}

func (s *TradeSizer) priceFailure(ticker string, m domain.MarketInfo, err error) *Diagnostic {
	s.logger.Warn("Cannot price trade",
		zap.String("ticker", ticker),
		zap.String("symbol", m.Name),
		zap.Error(err))
	return &Diagnostic{Ticker: ticker, Symbol: m.Name, Err: err}
}

// limitPrice places the order inside the spread, 61.8% of the way from the
// bid for buys and 38.2% for sells, floored to the price step.
func limitPrice(m domain.MarketInfo, buy bool) (decimal.Decimal, error) {
	if !m.Bid.Valid {
		return decimal.Zero, domain.ErrNoBid
	}
	if !m.Ask.Valid {
		return decimal.Zero, domain.ErrNoAsk
	}
	spread, _ := m.Spread()
	factor := sellLimitFactor
	if buy {
		factor = buyLimitFactor
	}
	limit := domain.FloorToStep(m.Bid.Decimal.Add(spread.Mul(factor)), m.PriceStep)
	if !limit.IsPositive() {
		return decimal.Zero, domain.ErrInvalidQuantum
	}
	return limit, nil
}

func lastOfType(cands []candidate, t domain.AssetType) (candidate, bool) {
	for i := len(cands) - 1; i >= 0; i-- {
		if cands[i].market.AssetType == t {
			return cands[i], true
		}
	}
	return candidate{}, false
}

package usecase

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vitos/crypto_rebalancer/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// TradeExecutor sends trades to the venue. Spot and futures go out as
// separate batches, placed concurrently.
type TradeExecutor struct {
	venue         domain.TradingVenue
	minOrderValue decimal.Decimal
	logger        *zap.Logger
}

func NewTradeExecutor(venue domain.TradingVenue, minOrderValue decimal.Decimal, logger *zap.Logger) *TradeExecutor {
	return &TradeExecutor{
		venue:         venue,
		minOrderValue: minOrderValue,
		logger:        logger,
	}
}

// NewClientOrderID returns a 128-bit hex client order id.
func NewClientOrderID() string {
	id := uuid.New()
	return "0x" + hex.EncodeToString(id[:])
}

// PlacementFunc receives the outcome of one trade. Calls for trades of the
// same asset type arrive in trade order; different asset types interleave.
type PlacementFunc func(trade domain.Trade, order domain.Order, err error)

// Execute places every trade and reports each outcome through onResult.
// Once ctx is done no further batches are sent.
func (e *TradeExecutor) Execute(ctx context.Context, trades []domain.Trade, onResult PlacementFunc) error {
	batches := make(map[domain.AssetType][]domain.Trade)
	for _, t := range trades {
		batches[t.AssetType] = append(batches[t.AssetType], t)
	}

	var g errgroup.Group
	for _, assetType := range domain.AssetTypes {
		batch := batches[assetType]
		if len(batch) == 0 {
			continue
		}
		g.Go(func() error {
			e.placeBatch(ctx, assetType, batch, onResult)
			return nil
		})
	}
	return g.Wait()
}

func (e *TradeExecutor) placeBatch(ctx context.Context, assetType domain.AssetType, batch []domain.Trade, onResult PlacementFunc) {
	reqs := make([]domain.OrderRequest, 0, len(batch))
	placeable := make([]domain.Trade, 0, len(batch))
	for _, t := range batch {
		if !t.IsTradable(e.minOrderValue) {
			onResult(t, domain.Order{}, fmt.Errorf("%w: %s", domain.ErrNotTradable, t))
			continue
		}
		if t.ClientOrderID == "" {
			t.ClientOrderID = NewClientOrderID()
		}
		reqs = append(reqs, domain.NewOrderRequest(t))
		placeable = append(placeable, t)
	}
	if len(reqs) == 0 || ctx.Err() != nil {
		return
	}

	e.logger.Info("Placing orders", zap.String("asset_type", assetType.String()), zap.Int("count", len(reqs)))
	results, err := e.venue.PlaceOrders(ctx, assetType, reqs)
	if err != nil {
		e.logger.Error("Batch placement failed", zap.String("asset_type", assetType.String()), zap.Error(err))
		for _, t := range placeable {
			onResult(t, domain.Order{}, err)
		}
		return
	}

	for i, t := range placeable {
		if i >= len(results) {
			onResult(t, domain.Order{}, fmt.Errorf("venue returned %d results for %d orders", len(results), len(reqs)))
			continue
		}
		onResult(t, results[i].Order, results[i].Err)
	}
}

// PlaceMarket sends a single market order for t.
func (e *TradeExecutor) PlaceMarket(ctx context.Context, t domain.Trade) (domain.Order, error) {
	if t.Amount.IsZero() {
		return domain.Order{}, fmt.Errorf("%w: %s", domain.ErrNotTradable, t)
	}
	t.LimitPrice = decimal.NullDecimal{}
	if t.ClientOrderID == "" {
		t.ClientOrderID = NewClientOrderID()
	}
	return e.venue.PlaceOrder(ctx, domain.NewOrderRequest(t))
}

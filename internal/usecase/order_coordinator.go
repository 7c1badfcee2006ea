package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vitos/crypto_rebalancer/internal/domain"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// OrderCoordinator places a batch of trades and follows every resting order
// until it fills, is cancelled, or times out and is replaced at market.
type OrderCoordinator struct {
	venue    domain.TradingVenue
	executor *TradeExecutor
	logger   *zap.Logger
	now      func() time.Time
}

type CoordinatorOption func(*OrderCoordinator)

// WithClock replaces time.Now for order ages.
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *OrderCoordinator) {
		c.now = now
	}
}

func NewOrderCoordinator(venue domain.TradingVenue, executor *TradeExecutor, logger *zap.Logger, opts ...CoordinatorOption) *OrderCoordinator {
	c := &OrderCoordinator{
		venue:    venue,
		executor: executor,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// orderRun is the state of one ManageOrders call. Nothing in it is shared
// with other runs.
type orderRun struct {
	c        *OrderCoordinator
	ctx      context.Context
	cancel   context.CancelFunc
	settings domain.OrderManagementSettings
	table    *trackerTable
	queue    *updateQueue
	subs     []domain.Subscription
	once     sync.Once
	logger   *zap.Logger
}

// ManageOrders places trades and returns the stream of their lifecycle
// updates. The stream closes once every tracked order is resolved or ctx is
// cancelled. The error is only for failing to subscribe to order pushes, in
// which case nothing was placed.
func (c *OrderCoordinator) ManageOrders(ctx context.Context, trades []domain.Trade, settings domain.OrderManagementSettings) (<-chan domain.OrderUpdate, error) {
	defaults := domain.DefaultOrderManagementSettings()
	if settings.UnfilledOrderTimeout <= 0 {
		settings.UnfilledOrderTimeout = defaults.UnfilledOrderTimeout
	}
	if settings.StatusCheckInterval <= 0 {
		settings.StatusCheckInterval = defaults.StatusCheckInterval
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &orderRun{
		c:        c,
		ctx:      runCtx,
		cancel:   cancel,
		settings: settings,
		table:    newTrackerTable(),
		// Draining stops only when the caller goes away, not when the run ends.
		queue:  newUpdateQueue(ctx.Done()),
		logger: c.logger,
	}

	for _, assetType := range domain.AssetTypes {
		sub, err := c.venue.SubscribeOrderUpdates(runCtx, assetType, r.onPush)
		if err != nil {
			cancel()
			if closeErr := r.closeSubscriptions(); closeErr != nil {
				c.logger.Warn("Failed to close order subscriptions", zap.Error(closeErr))
			}
			r.queue.Close()
			return nil, fmt.Errorf("subscribe %s order updates: %w", assetType, err)
		}
		r.subs = append(r.subs, sub)
	}

	c.logger.Info("Managing orders",
		zap.Int("trades", len(trades)),
		zap.Duration("unfilled_order_timeout", settings.UnfilledOrderTimeout),
		zap.Bool("switch_to_market", settings.SwitchToMarketOnTimeout),
	)

	go r.watchCancel()
	go r.monitor()
	go r.place(trades)

	return r.queue.out, nil
}

func (r *orderRun) watchCancel() {
	<-r.ctx.Done()
	r.finish("cancelled")
}

// finish tears the run down exactly once, whichever path gets here first.
func (r *orderRun) finish(reason string) {
	r.once.Do(func() {
		r.cancel()
		if err := r.closeSubscriptions(); err != nil {
			r.logger.Warn("Failed to close order subscriptions", zap.Error(err))
		}
		r.queue.Close()
		r.logger.Info("Order management finished", zap.String("reason", reason))
	})
}

func (r *orderRun) closeSubscriptions() error {
	var err error
	for _, sub := range r.subs {
		err = multierr.Append(err, sub.Close())
	}
	return err
}

func (r *orderRun) emit(u domain.OrderUpdate) {
	u.Time = r.c.now()
	if !r.queue.Push(u) {
		r.logger.Debug("Dropping update after shutdown",
			zap.String("symbol", u.Symbol),
			zap.String("type", string(u.Type)))
	}
}

func orderUpdate(kind domain.OrderUpdateType, o domain.Order, msg string) domain.OrderUpdate {
	return domain.OrderUpdate{Symbol: o.Symbol, Type: kind, Order: &o, Message: msg}
}

func errorUpdate(symbol string, o *domain.Order, err error) domain.OrderUpdate {
	return domain.OrderUpdate{Symbol: symbol, Type: domain.OrderUpdateError, Order: o, Message: err.Error(), Err: err}
}

// --- Placement ---

func (r *orderRun) place(trades []domain.Trade) {
	if err := r.c.executor.Execute(r.ctx, trades, r.onPlaced); err != nil {
		r.logger.Error("Order placement aborted", zap.Error(err))
	}
	if r.table.MarkPlaced() {
		r.finish("no orders left to track")
	}
}

func (r *orderRun) onPlaced(t domain.Trade, o domain.Order, err error) {
	if r.ctx.Err() != nil {
		return
	}
	if err != nil {
		r.logger.Warn("Order placement failed", zap.String("symbol", t.Symbol), zap.String("trade", t.String()), zap.Error(err))
		r.emit(errorUpdate(t.Symbol, nil, err))
		return
	}
	if o.Symbol == "" {
		o.Symbol = t.Symbol
	}

	kind := domain.ClassifyOrder(o)
	if o.Type() == domain.OrderTypeMarket || o.Status.IsTerminal() {
		r.emit(orderUpdate(kind, o, ""))
		return
	}

	r.logger.Info("Order placed",
		zap.String("symbol", o.Symbol),
		zap.String("order_id", o.ID),
		zap.String("side", string(o.Side)),
		zap.String("amount", o.Amount.String()),
		zap.String("limit", o.LimitPrice.Decimal.String()),
	)
	r.table.Track(OrderTracker{Order: o, Trade: t, CreatedAt: r.c.now()}, func(tr OrderTracker) {
		r.emit(orderUpdate(kind, tr.Order, ""))
	})
}

// --- Push ---

func (r *orderRun) onPush(o domain.Order) {
	if r.ctx.Err() != nil {
		return
	}
	res, drained := r.table.Apply(o, func(tr OrderTracker, kind domain.OrderUpdateType) {
		r.emit(orderUpdate(kind, tr.Order, ""))
	})
	switch res {
	case applyUnknown:
		r.logger.Debug("Ignoring update for untracked order", zap.String("order_id", o.ID), zap.String("symbol", o.Symbol))
	case applyIgnored:
		r.logger.Debug("Ignoring update for timed out order", zap.String("order_id", o.ID), zap.String("symbol", o.Symbol))
	}
	if drained {
		r.finish("all orders resolved")
	}
}

// --- Timeouts ---

func (r *orderRun) monitor() {
	ticker := time.NewTicker(r.settings.StatusCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.checkTimeouts()
		}
	}
}

func (r *orderRun) checkTimeouts() {
	for _, tr := range r.table.Expire(r.c.now(), r.settings.UnfilledOrderTimeout) {
		if r.ctx.Err() != nil {
			return
		}
		r.escalate(tr)
	}
}

// escalate cancels a timed out order and, when configured, replaces the
// unfilled remainder with a market order. A failed cancel is not escalated
// so the order cannot fill twice; the next cycle reconciles it.
func (r *orderRun) escalate(tr OrderTracker) {
	o := tr.Order
	log := r.logger.With(zap.String("symbol", o.Symbol), zap.String("order_id", o.ID))

	cancelErr := r.c.venue.CancelOrder(r.ctx, o.AssetType, o.Symbol, o.ID)
	r.emit(orderUpdate(domain.OrderUpdateTimedOut, o, fmt.Sprintf("unfilled after %s", r.settings.UnfilledOrderTimeout)))

	switch {
	case cancelErr != nil:
		log.Error("Failed to cancel timed out order", zap.Error(cancelErr))
		r.emit(errorUpdate(o.Symbol, &o, fmt.Errorf("cancel timed out order %s: %w", o.ID, cancelErr)))
	case !r.settings.SwitchToMarketOnTimeout:
		log.Info("Order timed out")
	default:
		remaining := o.Remaining()
		if remaining.IsZero() {
			log.Info("Timed out order has nothing left to fill")
			break
		}
		placed, err := r.c.executor.PlaceMarket(r.ctx, tr.Trade.AsMarket(remaining))
		if err != nil {
			log.Error("Failed to place market order", zap.Error(err))
			r.emit(errorUpdate(o.Symbol, &o, fmt.Errorf("market order for %s: %w", o.Symbol, err)))
			break
		}
		if placed.Symbol == "" {
			placed.Symbol = o.Symbol
		}
		log.Info("Switched to market order", zap.String("market_order_id", placed.ID), zap.String("amount", remaining.String()))
		r.emit(orderUpdate(domain.OrderUpdateMarketOrderPlaced, placed, ""))
	}

	if r.table.Remove(o.ID) {
		r.finish("all orders resolved")
	}
}

package domain

import "context"

// TradingVenue places, cancels and streams orders.
type TradingVenue interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (Order, error)
	// PlaceOrders places one batch of orders of a single asset type and
	// returns one result per request, in request order.
	PlaceOrders(ctx context.Context, assetType AssetType, reqs []OrderRequest) ([]PlacementResult, error)
	CancelOrder(ctx context.Context, assetType AssetType, symbol, orderID string) error
	GetOpenOrders(ctx context.Context) ([]Order, error)
	// SubscribeOrderUpdates delivers order state pushes for one asset type.
	// The handler may be called from any goroutine.
	SubscribeOrderUpdates(ctx context.Context, assetType AssetType, handler func(Order)) (Subscription, error)
}

// MarketDataVenue answers market and holding queries.
type MarketDataVenue interface {
	// GetMarkets returns markets keyed by canonical base asset. An empty
	// baseAssets set means every listed market.
	GetMarkets(ctx context.Context, baseAssets []string, quoteCurrency string, permissions AssetPermissions) (map[string][]MarketInfo, error)
	GetPositions(ctx context.Context) (map[string][]Position, error)
}

type Venue interface {
	TradingVenue
	MarketDataVenue
}

type Subscription interface {
	Close() error
}

type WeightSource interface {
	GetWeights(ctx context.Context) (map[string]Weight, error)
}

// RebalanceJournal records what each cycle decided and what the venue did.
type RebalanceJournal interface {
	StartCycle(ctx context.Context, cycle CycleRecord) error
	FinishCycle(ctx context.Context, cycle CycleRecord) error
	SaveTrades(ctx context.Context, cycleID string, trades []Trade) error
	SaveOrderUpdate(ctx context.Context, cycleID string, update OrderUpdate) error
	ListCycles(ctx context.Context, limit int) ([]CycleRecord, error)
	GetCycle(ctx context.Context, id string) (*CycleRecord, error)
	ListTrades(ctx context.Context, cycleID string) ([]Trade, error)
	ListOrderUpdates(ctx context.Context, cycleID string) ([]OrderUpdateRecord, error)
}

// NopJournal discards everything.
type NopJournal struct{}

func (NopJournal) StartCycle(context.Context, CycleRecord) error { return nil }

func (NopJournal) FinishCycle(context.Context, CycleRecord) error { return nil }

func (NopJournal) SaveTrades(context.Context, string, []Trade) error { return nil }

func (NopJournal) SaveOrderUpdate(context.Context, string, OrderUpdate) error { return nil }

func (NopJournal) ListCycles(context.Context, int) ([]CycleRecord, error) { return nil, nil }

func (NopJournal) GetCycle(context.Context, string) (*CycleRecord, error) { return nil, nil }

func (NopJournal) ListTrades(context.Context, string) ([]Trade, error) { return nil, nil }

func (NopJournal) ListOrderUpdates(context.Context, string) ([]OrderUpdateRecord, error) {
	return nil, nil
}

var _ RebalanceJournal = NopJournal{}

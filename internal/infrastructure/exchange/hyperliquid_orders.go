package exchange

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/vitos/crypto_rebalancer/internal/domain"
	"go.uber.org/zap"
)

const (
	tifGtc = "Gtc"
	tifIoc = "Ioc"
	tifAlo = "Alo"
)

// Field order matters: actions are msgpack-encoded in declaration order
// before signing.
type limitOrderType struct {
	Tif string `json:"tif" msgpack:"tif"`
}

type orderTypeWire struct {
	Limit limitOrderType `json:"limit" msgpack:"limit"`
}

type orderWire struct {
	Asset      int           `json:"a" msgpack:"a"`
	IsBuy      bool          `json:"b" msgpack:"b"`
	LimitPx    string        `json:"p" msgpack:"p"`
	Size       string        `json:"s" msgpack:"s"`
	ReduceOnly bool          `json:"r" msgpack:"r"`
	OrderType  orderTypeWire `json:"t" msgpack:"t"`
	Cloid      string        `json:"c,omitempty" msgpack:"c,omitempty"`
}

type orderAction struct {
	Type     string      `json:"type" msgpack:"type"`
	Orders   []orderWire `json:"orders" msgpack:"orders"`
	Grouping string      `json:"grouping" msgpack:"grouping"`
}

type cancelWire struct {
	Asset int   `json:"a" msgpack:"a"`
	Oid   int64 `json:"o" msgpack:"o"`
}

type cancelAction struct {
	Type    string       `json:"type" msgpack:"type"`
	Cancels []cancelWire `json:"cancels" msgpack:"cancels"`
}

type exchangeRequest struct {
	Action       any       `json:"action"`
	Nonce        uint64    `json:"nonce"`
	Signature    Signature `json:"signature"`
	VaultAddress *string   `json:"vaultAddress"`
}

type exchangeResponse struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type statusesResponse struct {
	Type string `json:"type"`
	Data struct {
		Statuses []json.RawMessage `json:"statuses"`
	} `json:"data"`
}

type orderStatusWire struct {
	Resting *struct {
		Oid int64 `json:"oid"`
	} `json:"resting"`
	Filled *struct {
		TotalSz string `json:"totalSz"`
		AvgPx   string `json:"avgPx"`
		Oid     int64  `json:"oid"`
	} `json:"filled"`
	Error string `json:"error"`
}

func (h *HyperliquidAdapter) nextNonce() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := uint64(time.Now().UnixMilli())
	if n <= h.lastNonce {
		n = h.lastNonce + 1
	}
	h.lastNonce = n
	return n
}

// exchange signs and sends an action. Actions are not retried: a timeout
// may still have reached the venue.
func (h *HyperliquidAdapter) exchange(ctx context.Context, op string, action any) ([]json.RawMessage, error) {
	if h.signer == nil {
		return nil, &domain.VenueError{Op: op, Message: "no signing key configured"}
	}
	nonce := h.nextNonce()
	sig, err := h.signer.SignAction(action, nonce, h.cfg.VaultAddress)
	if err != nil {
		return nil, err
	}
	req := exchangeRequest{Action: action, Nonce: nonce, Signature: sig}
	if h.cfg.VaultAddress != "" {
		vault := h.cfg.VaultAddress
		req.VaultAddress = &vault
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	data, err := h.post(ctx, "/exchange", body)
	if err != nil {
		var statusErr *httpStatusError
		if errors.As(err, &statusErr) {
			return nil, &domain.VenueError{Op: op, Code: statusErr.Code, Message: statusErr.Body}
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var resp exchangeResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", op, err)
	}
	if resp.Status != "ok" {
		var msg string
		if err := json.Unmarshal(resp.Response, &msg); err != nil {
			msg = string(resp.Response)
		}
		return nil, &domain.VenueError{Op: op, Message: msg}
	}
	var statuses statusesResponse
	if err := json.Unmarshal(resp.Response, &statuses); err != nil {
		return nil, fmt.Errorf("decode %s statuses: %w", op, err)
	}
	return statuses.Data.Statuses, nil
}

// marketPrice is the aggressive IOC price for a market order: best ask plus
// slippage for buys, best bid minus slippage for sells.
func (h *HyperliquidAdapter) marketPrice(ctx context.Context, a assetMeta, buy bool) (decimal.Decimal, error) {
	bid, ask, _, err := h.topOfBook(ctx, a.Coin)
	if err != nil {
		return decimal.Zero, err
	}
	if buy {
		if !ask.Valid {
			return decimal.Zero, fmt.Errorf("%w: %s", domain.ErrNoAsk, a.Symbol)
		}
		return roundToTick(ask.Decimal.Mul(decimal.NewFromInt(1).Add(h.cfg.Slippage)), a.baseTick()), nil
	}
	if !bid.Valid {
		return decimal.Zero, fmt.Errorf("%w: %s", domain.ErrNoBid, a.Symbol)
	}
	return roundToTick(bid.Decimal.Mul(decimal.NewFromInt(1).Sub(h.cfg.Slippage)), a.baseTick()), nil
}

func (h *HyperliquidAdapter) buildOrder(ctx context.Context, req domain.OrderRequest) (orderWire, assetMeta, error) {
	a, err := h.asset(req.Symbol)
	if err != nil {
		return orderWire{}, a, err
	}
	if a.AssetType != req.AssetType {
		return orderWire{}, a, fmt.Errorf("%w: %s is %s, not %s", domain.ErrUnknownSymbol, req.Symbol, a.AssetType, req.AssetType)
	}

	buy := req.Side == domain.SideBuy
	w := orderWire{
		Asset:      a.Index,
		IsBuy:      buy,
		Size:       wire(req.Quantity),
		ReduceOnly: req.ReduceOnly,
		Cloid:      req.ClientOrderID,
	}
	switch {
	case req.Type == domain.OrderTypeMarket || !req.LimitPrice.Valid:
		px, err := h.marketPrice(ctx, a, buy)
		if err != nil {
			return orderWire{}, a, err
		}
		w.LimitPx = wire(px)
		w.OrderType.Limit.Tif = tifIoc
	case req.PostOnly:
		w.LimitPx = wire(req.LimitPrice.Decimal)
		w.OrderType.Limit.Tif = tifAlo
	default:
		w.LimitPx = wire(req.LimitPrice.Decimal)
		w.OrderType.Limit.Tif = tifGtc
	}
	return w, a, nil
}

// toOrder maps one placement status onto the order it created.
func toOrder(req domain.OrderRequest, raw json.RawMessage) (domain.Order, error) {
	var st orderStatusWire
	if err := json.Unmarshal(raw, &st); err != nil {
		return domain.Order{}, fmt.Errorf("decode order status: %w", err)
	}

	o := domain.Order{
		Symbol:    req.Symbol,
		AssetType: req.AssetType,
		Created:   time.Now(),
		Side:      req.Side,
		Amount:    req.Quantity,
		Filled:    decimal.Zero,
		ClientID:  req.ClientOrderID,
	}
	if req.Type == domain.OrderTypeLimit {
		o.LimitPrice = req.LimitPrice
	}

	switch {
	case st.Error != "":
		return domain.Order{}, &domain.VenueError{Op: "order", Message: st.Error}
	case st.Filled != nil:
		filled, err := decimal.NewFromString(st.Filled.TotalSz)
		if err != nil {
			return domain.Order{}, fmt.Errorf("decode filled size: %w", err)
		}
		o.ID = strconv.FormatInt(st.Filled.Oid, 10)
		o = o.WithFill(domain.OrderStatusFilled, filled)
	case st.Resting != nil:
		o.ID = strconv.FormatInt(st.Resting.Oid, 10)
		o.Status = domain.OrderStatusOpen
	default:
		return domain.Order{}, fmt.Errorf("unexpected order status %s", string(raw))
	}
	return o, nil
}

func (h *HyperliquidAdapter) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	results, err := h.PlaceOrders(ctx, req.AssetType, []domain.OrderRequest{req})
	if err != nil {
		return domain.Order{}, err
	}
	return results[0].Order, results[0].Err
}

// PlaceOrders sends the requests as one order action. Requests that cannot
// be built get their own error and are left out of the batch.
func (h *HyperliquidAdapter) PlaceOrders(ctx context.Context, assetType domain.AssetType, reqs []domain.OrderRequest) ([]domain.PlacementResult, error) {
	if err := h.ensureMeta(ctx); err != nil {
		return nil, err
	}

	results := make([]domain.PlacementResult, len(reqs))
	action := orderAction{Type: "order", Grouping: "na"}
	var sent []int
	for i, req := range reqs {
		w, _, err := h.buildOrder(ctx, req)
		if err != nil {
			results[i].Err = err
			continue
		}
		action.Orders = append(action.Orders, w)
		sent = append(sent, i)
	}
	if len(sent) == 0 {
		return results, nil
	}

	h.logger.Info("Sending orders", zap.String("asset_type", assetType.String()), zap.Int("count", len(sent)))
	statuses, err := h.exchange(ctx, "order", action)
	if err != nil {
		return nil, err
	}
	if len(statuses) != len(sent) {
		h.logger.Warn("Order status count mismatch", zap.Int("sent", len(sent)), zap.Int("statuses", len(statuses)))
	}

	for j, i := range sent {
		if j >= len(statuses) {
			results[i].Err = &domain.VenueError{Op: "order", Message: "no status returned"}
			continue
		}
		results[i].Order, results[i].Err = toOrder(reqs[i], statuses[j])
	}
	return results, nil
}

func (h *HyperliquidAdapter) CancelOrder(ctx context.Context, assetType domain.AssetType, symbol, orderID string) error {
	if err := h.ensureMeta(ctx); err != nil {
		return err
	}
	a, err := h.asset(symbol)
	if err != nil {
		return err
	}
	oid, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid order id %q: %w", orderID, err)
	}

	statuses, err := h.exchange(ctx, "cancel", cancelAction{
		Type:    "cancel",
		Cancels: []cancelWire{{Asset: a.Index, Oid: oid}},
	})
	if err != nil {
		return err
	}
	if len(statuses) == 0 {
		return &domain.VenueError{Op: "cancel", Message: "no status returned"}
	}

	var ok string
	if err := json.Unmarshal(statuses[0], &ok); err == nil && ok == "success" {
		return nil
	}
	var st orderStatusWire
	if err := json.Unmarshal(statuses[0], &st); err == nil && st.Error != "" {
		return &domain.VenueError{Op: "cancel", Message: st.Error}
	}
	return &domain.VenueError{Op: "cancel", Message: string(statuses[0])}
}

type openOrderWire struct {
	Coin      string `json:"coin"`
	Side      string `json:"side"`
	LimitPx   string `json:"limitPx"`
	Sz        string `json:"sz"`
	Oid       int64  `json:"oid"`
	Timestamp int64  `json:"timestamp"`
	OrigSz    string `json:"origSz"`
	Cloid     string `json:"cloid"`
}

// toDomain converts a venue order. Sz is the unfilled remainder.
func (w openOrderWire) toDomain(a assetMeta, status domain.OrderStatus) (domain.Order, error) {
	remaining, err := decimal.NewFromString(w.Sz)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order %d size: %w", w.Oid, err)
	}
	amount := remaining
	if w.OrigSz != "" {
		if amount, err = decimal.NewFromString(w.OrigSz); err != nil {
			return domain.Order{}, fmt.Errorf("order %d original size: %w", w.Oid, err)
		}
	}
	o := domain.Order{
		ID:        strconv.FormatInt(w.Oid, 10),
		Symbol:    a.Symbol,
		AssetType: a.AssetType,
		Created:   time.UnixMilli(w.Timestamp),
		Side:      domain.SideBuy,
		Status:    status,
		Amount:    amount,
		ClientID:  w.Cloid,
	}
	if w.Side == "A" {
		o.Side = domain.SideSell
	}
	if px, err := decimal.NewFromString(w.LimitPx); err == nil {
		o.LimitPrice = decimal.NewNullDecimal(px)
	}
	return o.WithFill(status, amount.Sub(remaining)), nil
}

func (h *HyperliquidAdapter) GetOpenOrders(ctx context.Context) ([]domain.Order, error) {
	if err := h.ensureMeta(ctx); err != nil {
		return nil, err
	}
	var open []openOrderWire
	if err := h.info(ctx, map[string]any{"type": "frontendOpenOrders", "user": h.cfg.Address}, &open); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(open))
	for _, w := range open {
		a, ok := h.resolveCoin(w.Coin)
		if !ok {
			continue
		}
		o, err := w.toDomain(a, domain.OrderStatusOpen)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// SubscribeOrderUpdates registers handler for pushes of one asset type on
// the shared account stream.
func (h *HyperliquidAdapter) SubscribeOrderUpdates(ctx context.Context, assetType domain.AssetType, handler func(domain.Order)) (domain.Subscription, error) {
	if err := h.ensureMeta(ctx); err != nil {
		return nil, err
	}
	return h.stream.add(ctx, assetType, handler)
}

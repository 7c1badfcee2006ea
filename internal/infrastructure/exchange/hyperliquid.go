package exchange

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/vitos/crypto_rebalancer/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	HyperliquidMainnetURL   = "https://api.hyperliquid.xyz"
	HyperliquidTestnetURL   = "https://api.hyperliquid-testnet.xyz"
	HyperliquidMainnetWSURL = "wss://api.hyperliquid.xyz/ws"
	HyperliquidTestnetWSURL = "wss://api.hyperliquid-testnet.xyz/ws"

	perpQuote       = "USDC"
	spotAssetOffset = 10000
	bookFetchLimit  = 8
)

type HyperliquidConfig struct {
	BaseURL      string
	WSURL        string
	Address      string
	VaultAddress string
	Mainnet      bool
	// Slippage bounds market orders, which are sent as IOC limits.
	Slippage   decimal.Decimal
	MaxRetries uint
	Timeout    time.Duration
}

// assetMeta describes one tradable listing. Symbol is what the rest of the
// bot calls it; Coin is what the venue uses in books and pushes.
type assetMeta struct {
	Symbol     string
	Coin       string
	Base       string
	Quote      string
	AssetType  domain.AssetType
	Index      int
	SzDecimals int
}

func (a assetMeta) maxDecimals() int {
	if a.AssetType == domain.AssetTypeSpot {
		return spotMaxDecimals
	}
	return perpMaxDecimals
}

func (a assetMeta) baseTick() decimal.Decimal {
	return baseTick(a.SzDecimals, a.maxDecimals())
}

// HyperliquidAdapter implements domain.Venue over the Hyperliquid REST and
// websocket APIs.
type HyperliquidAdapter struct {
	cfg     HyperliquidConfig
	signer  *Signer
	aliases *domain.TickerAliases
	client  *http.Client
	logger  *zap.Logger

	mu        sync.Mutex
	bySymbol  map[string]assetMeta
	byCoin    map[string]assetMeta
	lastNonce uint64
	stream    *orderStream
}

var _ domain.Venue = (*HyperliquidAdapter)(nil)

// NewHyperliquidAdapter builds an adapter. A nil signer gives a read-only
// adapter that fails on order actions.
func NewHyperliquidAdapter(cfg HyperliquidConfig, signer *Signer, aliases *domain.TickerAliases, logger *zap.Logger) *HyperliquidAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = HyperliquidMainnetURL
		if !cfg.Mainnet {
			cfg.BaseURL = HyperliquidTestnetURL
		}
	}
	if cfg.WSURL == "" {
		cfg.WSURL = HyperliquidMainnetWSURL
		if !cfg.Mainnet {
			cfg.WSURL = HyperliquidTestnetWSURL
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if !cfg.Slippage.IsPositive() {
		cfg.Slippage = decimal.RequireFromString("0.05")
	}
	if cfg.Address == "" && signer != nil {
		cfg.Address = signer.Address().Hex()
	}

	h := &HyperliquidAdapter{
		cfg:     cfg,
		signer:  signer,
		aliases: aliases,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
	}
	h.stream = newOrderStream(cfg.WSURL, cfg.Address, h.resolveCoin, logger)
	return h
}

// --- REST ---

type httpStatusError struct {
	Code int
	Body string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Code, e.Body)
}

func (h *HyperliquidAdapter) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, &httpStatusError{Code: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}

// info queries the read-only endpoint. Transport errors, 429 and 5xx are
// retried with exponential backoff; other failures are returned at once.
func (h *HyperliquidAdapter) info(ctx context.Context, request any, out any) error {
	body, err := json.Marshal(request)
	if err != nil {
		return err
	}

	op := func() ([]byte, error) {
		data, err := h.post(ctx, "/info", body)
		var statusErr *httpStatusError
		if errors.As(err, &statusErr) && statusErr.Code != http.StatusTooManyRequests && statusErr.Code < 500 {
			return nil, backoff.Permanent(err)
		}
		return data, err
	}
	data, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(h.cfg.MaxRetries),
	)
	if err != nil {
		return fmt.Errorf("info %s: %w", requestType(request), err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode info %s: %w", requestType(request), err)
	}
	return nil
}

func requestType(request any) string {
	if m, ok := request.(map[string]any); ok {
		if t, ok := m["type"].(string); ok {
			return t
		}
	}
	return "request"
}

// --- Metadata ---

type perpMetaResponse struct {
	Universe []struct {
		Name        string `json:"name"`
		SzDecimals  int    `json:"szDecimals"`
		MaxLeverage int    `json:"maxLeverage"`
		IsDelisted  bool   `json:"isDelisted"`
	} `json:"universe"`
}

type spotMetaResponse struct {
	Universe []struct {
		Name   string `json:"name"`
		Tokens []int  `json:"tokens"`
		Index  int    `json:"index"`
	} `json:"universe"`
	Tokens []struct {
		Name       string `json:"name"`
		SzDecimals int    `json:"szDecimals"`
		Index      int    `json:"index"`
	} `json:"tokens"`
}

// loadMeta fetches the perp and spot universes and rebuilds the lookup maps.
func (h *HyperliquidAdapter) loadMeta(ctx context.Context) error {
	var perp perpMetaResponse
	if err := h.info(ctx, map[string]any{"type": "meta"}, &perp); err != nil {
		return err
	}
	var spot spotMetaResponse
	if err := h.info(ctx, map[string]any{"type": "spotMeta"}, &spot); err != nil {
		return err
	}

	bySymbol := make(map[string]assetMeta)
	byCoin := make(map[string]assetMeta)
	for i, u := range perp.Universe {
		if u.IsDelisted {
			continue
		}
		a := assetMeta{
			Symbol:     u.Name,
			Coin:       u.Name,
			Base:       u.Name,
			Quote:      perpQuote,
			AssetType:  domain.AssetTypeFuture,
			Index:      i,
			SzDecimals: u.SzDecimals,
		}
		bySymbol[a.Symbol] = a
		byCoin[a.Coin] = a
	}

	tokens := make(map[int]int, len(spot.Tokens))
	for i, t := range spot.Tokens {
		tokens[t.Index] = i
	}
	for _, u := range spot.Universe {
		if len(u.Tokens) != 2 {
			continue
		}
		bi, ok1 := tokens[u.Tokens[0]]
		qi, ok2 := tokens[u.Tokens[1]]
		if !ok1 || !ok2 {
			continue
		}
		base, quote := spot.Tokens[bi], spot.Tokens[qi]
		a := assetMeta{
			Symbol:     base.Name + "/" + quote.Name,
			Coin:       u.Name,
			Base:       base.Name,
			Quote:      quote.Name,
			AssetType:  domain.AssetTypeSpot,
			Index:      spotAssetOffset + u.Index,
			SzDecimals: base.SzDecimals,
		}
		bySymbol[a.Symbol] = a
		byCoin[a.Coin] = a
	}

	h.mu.Lock()
	h.bySymbol = bySymbol
	h.byCoin = byCoin
	h.mu.Unlock()

	h.logger.Debug("Loaded venue metadata", zap.Int("perps", len(perp.Universe)), zap.Int("spot_pairs", len(spot.Universe)))
	return nil
}

func (h *HyperliquidAdapter) ensureMeta(ctx context.Context) error {
	h.mu.Lock()
	loaded := h.bySymbol != nil
	h.mu.Unlock()
	if loaded {
		return nil
	}
	return h.loadMeta(ctx)
}

func (h *HyperliquidAdapter) asset(symbol string) (assetMeta, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	a, ok := h.bySymbol[symbol]
	if !ok {
		return assetMeta{}, fmt.Errorf("%w: %s", domain.ErrUnknownSymbol, symbol)
	}
	return a, nil
}

// resolveCoin maps a pushed coin name to its listing. Spot coins are either
// "@N" or a "BASE/QUOTE" pair name.
func (h *HyperliquidAdapter) resolveCoin(coin string) (assetMeta, bool) {
	h.mu.Lock()
	a, ok := h.byCoin[coin]
	h.mu.Unlock()
	if ok {
		return a, true
	}
	if strings.HasPrefix(coin, "@") || strings.Contains(coin, "/") {
		return assetMeta{Symbol: coin, Coin: coin, AssetType: domain.AssetTypeSpot}, true
	}
	return assetMeta{Symbol: coin, Coin: coin, AssetType: domain.AssetTypeFuture}, coin != ""
}

// --- Market data ---

type bookLevel struct {
	Px string `json:"px"`
	Sz string `json:"sz"`
	N  int    `json:"n"`
}

type l2BookResponse struct {
	Coin   string        `json:"coin"`
	Time   int64         `json:"time"`
	Levels [][]bookLevel `json:"levels"`
}

// topOfBook returns the best bid and ask for coin. A side without levels is
// left invalid.
func (h *HyperliquidAdapter) topOfBook(ctx context.Context, coin string) (bid, ask decimal.NullDecimal, ts time.Time, err error) {
	var book l2BookResponse
	if err = h.info(ctx, map[string]any{"type": "l2Book", "coin": coin}, &book); err != nil {
		return bid, ask, ts, err
	}
	ts = time.UnixMilli(book.Time)
	if len(book.Levels) > 0 && len(book.Levels[0]) > 0 {
		if px, perr := decimal.NewFromString(book.Levels[0][0].Px); perr == nil {
			bid = decimal.NewNullDecimal(px)
		}
	}
	if len(book.Levels) > 1 && len(book.Levels[1]) > 0 {
		if px, perr := decimal.NewFromString(book.Levels[1][0].Px); perr == nil {
			ask = decimal.NewNullDecimal(px)
		}
	}
	return bid, ask, ts, nil
}

// GetMarkets lists the perp and spot listings of the requested canonical
// tokens with their top of book. A failed book fetch leaves that listing
// unquoted instead of failing the call.
func (h *HyperliquidAdapter) GetMarkets(ctx context.Context, baseAssets []string, quoteCurrency string, permissions domain.AssetPermissions) (map[string][]domain.MarketInfo, error) {
	if err := h.loadMeta(ctx); err != nil {
		return nil, err
	}

	filter := make(map[string]bool, len(baseAssets))
	for _, b := range baseAssets {
		filter[b] = true
	}

	h.mu.Lock()
	var selected []assetMeta
	for _, a := range h.bySymbol {
		if !permissions.AllowsAssetType(a.AssetType) {
			continue
		}
		if quoteCurrency != "" && h.aliases.Canonical(a.Quote) != quoteCurrency {
			continue
		}
		if len(filter) > 0 && !filter[h.aliases.Canonical(a.Base)] {
			continue
		}
		selected = append(selected, a)
	}
	h.mu.Unlock()

	var mids map[string]string
	if err := h.info(ctx, map[string]any{"type": "allMids"}, &mids); err != nil {
		h.logger.Warn("Failed to get mid prices", zap.Error(err))
	}

	markets := make([]domain.MarketInfo, len(selected))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bookFetchLimit)
	for i, a := range selected {
		g.Go(func() error {
			m := domain.MarketInfo{
				Name:         a.Symbol,
				BaseAsset:    h.aliases.Canonical(a.Base),
				QuoteAsset:   h.aliases.Canonical(a.Quote),
				AssetType:    a.AssetType,
				QuantityStep: quantityStep(a.SzDecimals),
				PriceStep:    a.baseTick(),
				Timestamp:    time.Now(),
			}
			if mid, err := decimal.NewFromString(mids[a.Coin]); err == nil {
				m.Last = decimal.NewNullDecimal(mid)
			}

			bid, ask, ts, err := h.topOfBook(gctx, a.Coin)
			if err != nil {
				h.logger.Warn("Failed to get order book", zap.String("symbol", a.Symbol), zap.String("coin", a.Coin), zap.Error(err))
			} else {
				m.Bid, m.Ask, m.Timestamp = bid, ask, ts
			}
			if ref, ok := m.ReferencePrice(); ok {
				m.PriceStep = validTick(ref, a.baseTick())
			} else if m.Last.Valid {
				m.PriceStep = validTick(m.Last.Decimal, a.baseTick())
			}
			markets[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string][]domain.MarketInfo)
	for _, m := range markets {
		out[m.BaseAsset] = append(out[m.BaseAsset], m)
	}
	return out, nil
}

// --- Account ---

type clearinghouseStateResponse struct {
	AssetPositions []struct {
		Position struct {
			Coin          string `json:"coin"`
			Szi           string `json:"szi"`
			PositionValue string `json:"positionValue"`
		} `json:"position"`
	} `json:"assetPositions"`
	MarginSummary struct {
		AccountValue string `json:"accountValue"`
	} `json:"marginSummary"`
}

type spotStateResponse struct {
	Balances []struct {
		Coin  string `json:"coin"`
		Total string `json:"total"`
	} `json:"balances"`
}

// GetPositions returns spot balances and perp positions keyed by canonical
// token. Perp margin is reported as quote cash net of the open perp
// notional, so valuing the perps on top of it adds back to account value.
func (h *HyperliquidAdapter) GetPositions(ctx context.Context) (map[string][]domain.Position, error) {
	var perp clearinghouseStateResponse
	if err := h.info(ctx, map[string]any{"type": "clearinghouseState", "user": h.cfg.Address}, &perp); err != nil {
		return nil, err
	}
	var spot spotStateResponse
	if err := h.info(ctx, map[string]any{"type": "spotClearinghouseState", "user": h.cfg.Address}, &spot); err != nil {
		return nil, err
	}

	out := make(map[string][]domain.Position)
	add := func(p domain.Position) {
		if p.Amount.IsZero() {
			return
		}
		out[p.BaseAsset] = append(out[p.BaseAsset], p)
	}

	for _, b := range spot.Balances {
		total, err := decimal.NewFromString(b.Total)
		if err != nil {
			return nil, fmt.Errorf("spot balance %s: %w", b.Coin, err)
		}
		add(domain.Position{AssetName: b.Coin, BaseAsset: h.aliases.Canonical(b.Coin), AssetType: domain.AssetTypeSpot, Amount: total})
	}

	cash := decimal.Zero
	if v := perp.MarginSummary.AccountValue; v != "" {
		var err error
		if cash, err = decimal.NewFromString(v); err != nil {
			return nil, fmt.Errorf("account value: %w", err)
		}
	}
	for _, ap := range perp.AssetPositions {
		p := ap.Position
		szi, err := decimal.NewFromString(p.Szi)
		if err != nil {
			return nil, fmt.Errorf("position %s size: %w", p.Coin, err)
		}
		if value, err := decimal.NewFromString(p.PositionValue); err == nil {
			if szi.IsNegative() {
				cash = cash.Add(value)
			} else {
				cash = cash.Sub(value)
			}
		}
		add(domain.Position{AssetName: p.Coin, BaseAsset: h.aliases.Canonical(p.Coin), AssetType: domain.AssetTypeFuture, Amount: szi})
	}
	add(domain.Position{AssetName: perpQuote, BaseAsset: h.aliases.Canonical(perpQuote), AssetType: domain.AssetTypeFuture, Amount: cash})

	return out, nil
}

package exchange

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/vitos/crypto_rebalancer/internal/domain"
	"go.uber.org/zap"
)

const wsPingInterval = 30 * time.Second

type orderHandler struct {
	assetType domain.AssetType
	fn        func(domain.Order)
}

// orderStream is one websocket subscribed to the account's orderUpdates.
// It is opened by the first subscription and closed with the last one.
type orderStream struct {
	url     string
	user    string
	resolve func(coin string) (assetMeta, bool)
	logger  *zap.Logger

	mu       sync.Mutex
	writeMu  sync.Mutex
	conn     *websocket.Conn
	done     chan struct{}
	handlers map[int]orderHandler
	nextID   int
}

func newOrderStream(url, user string, resolve func(string) (assetMeta, bool), logger *zap.Logger) *orderStream {
	return &orderStream{
		url:      url,
		user:     user,
		resolve:  resolve,
		logger:   logger,
		handlers: make(map[int]orderHandler),
	}
}

type streamSubscription struct {
	stream *orderStream
	id     int
	once   sync.Once
}

func (s *streamSubscription) Close() error {
	var err error
	s.once.Do(func() {
		err = s.stream.remove(s.id)
	})
	return err
}

func (s *orderStream) add(ctx context.Context, assetType domain.AssetType, fn func(domain.Order)) (domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		if err := s.connect(ctx); err != nil {
			return nil, err
		}
	}
	id := s.nextID
	s.nextID++
	s.handlers[id] = orderHandler{assetType: assetType, fn: fn}
	return &streamSubscription{stream: s, id: id}, nil
}

// connect must be called with mu held.
func (s *orderStream) connect(ctx context.Context) error {
	c, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	sub := map[string]any{
		"method": "subscribe",
		"subscription": map[string]any{
			"type": "orderUpdates",
			"user": s.user,
		},
	}
	if err := s.write(c, sub); err != nil {
		c.Close()
		return err
	}

	s.conn = c
	s.done = make(chan struct{})
	go s.readLoop(c, s.done)
	go s.pingLoop(c, s.done)
	s.logger.Info("Order stream connected", zap.String("url", s.url))
	return nil
}

func (s *orderStream) remove(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.handlers, id)
	if len(s.handlers) > 0 || s.conn == nil {
		return nil
	}
	close(s.done)
	err := s.conn.Close()
	s.conn = nil
	s.logger.Info("Order stream closed")
	return err
}

func (s *orderStream) write(c *websocket.Conn, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return c.WriteMessage(websocket.TextMessage, data)
}

func (s *orderStream) pingLoop(c *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := s.write(c, map[string]string{"method": "ping"}); err != nil {
				s.logger.Warn("WS ping failed", zap.Error(err))
				return
			}
		}
	}
}

func (s *orderStream) readLoop(c *websocket.Conn, done chan struct{}) {
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			select {
			case <-done:
			default:
				s.logger.Error("WS read error", zap.Error(err))
				s.mu.Lock()
				if s.conn == c {
					close(s.done)
					s.conn = nil
				}
				s.mu.Unlock()
				c.Close()
			}
			return
		}
		s.dispatch(message)
	}
}

type wsEnvelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type wsOrderUpdate struct {
	Order           openOrderWire `json:"order"`
	Status          string        `json:"status"`
	StatusTimestamp int64         `json:"statusTimestamp"`
}

var wsStatuses = map[string]domain.OrderStatus{
	"open":           domain.OrderStatusOpen,
	"filled":         domain.OrderStatusFilled,
	"canceled":       domain.OrderStatusCanceled,
	"triggered":      domain.OrderStatusTriggered,
	"rejected":       domain.OrderStatusRejected,
	"marginCanceled": domain.OrderStatusMarginCanceled,
}

// toOrderStatus maps a pushed status. The venue has many cancel reasons
// ("reduceOnlyCanceled", "selfTradeCanceled", ...); all of them end the order.
func toOrderStatus(s string) domain.OrderStatus {
	if st, ok := wsStatuses[s]; ok {
		return st
	}
	if strings.HasSuffix(s, "Canceled") {
		return domain.OrderStatusCanceled
	}
	if strings.HasSuffix(s, "Rejected") {
		return domain.OrderStatusRejected
	}
	return domain.OrderStatusNew
}

func (s *orderStream) dispatch(message []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		s.logger.Warn("WS unmarshal error", zap.Error(err))
		return
	}
	if env.Channel != "orderUpdates" {
		return
	}

	var updates []wsOrderUpdate
	if err := json.Unmarshal(env.Data, &updates); err != nil {
		s.logger.Warn("Malformed order update", zap.Error(err), zap.ByteString("data", env.Data))
		return
	}

	s.mu.Lock()
	handlers := make([]orderHandler, 0, len(s.handlers))
	for _, h := range s.handlers {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()

	for _, u := range updates {
		a, ok := s.resolve(u.Order.Coin)
		if !ok {
			continue
		}
		o, err := u.Order.toDomain(a, toOrderStatus(u.Status))
		if err != nil {
			s.logger.Warn("Malformed order update", zap.String("coin", u.Order.Coin), zap.Error(err))
			continue
		}
		for _, h := range handlers {
			if h.assetType == a.AssetType {
				h.fn(o)
			}
		}
	}
}

package weights

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/vitos/crypto_rebalancer/internal/domain"
	"go.uber.org/zap"
)

const feedDateLayout = "2006-01-02"

var ErrInvalidFeed = errors.New("invalid weights feed response")

type HTTPConfig struct {
	URL        string
	APIKey     string
	MaxRetries uint
	Timeout    time.Duration
}

// HTTPSource reads target weights from a factor feed.
type HTTPSource struct {
	cfg    HTTPConfig
	client *http.Client
	logger *zap.Logger
}

var _ domain.WeightSource = (*HTTPSource)(nil)

func NewHTTPSource(cfg HTTPConfig, logger *zap.Logger) *HTTPSource {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &HTTPSource{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type feedResponse struct {
	Success json.RawMessage `json:"success"`
	Data    []feedWeight    `json:"data"`
}

type feedWeight struct {
	Ticker       string           `json:"ticker"`
	ComboWeight  decimal.Decimal  `json:"combo_weight"`
	Date         string           `json:"date"`
	ArrivalPrice *decimal.Decimal `json:"arrival_price"`
	Momentum     *decimal.Decimal `json:"momentum_megafactor"`
	Trend        *decimal.Decimal `json:"trend_megafactor"`
}

// succeeded accepts both true and "true"; the feed has served either.
func (r feedResponse) succeeded() bool {
	s := strings.Trim(strings.TrimSpace(string(r.Success)), `"`)
	return strings.EqualFold(s, "true")
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("weights feed http %d: %s", e.code, e.body)
}

func (s *HTTPSource) fetch(ctx context.Context) ([]byte, error) {
	u, err := url.Parse(s.cfg.URL)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("weights url: %w", err))
	}
	if s.cfg.APIKey != "" {
		q := u.Query()
		q.Set("api_key", s.cfg.APIKey)
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		err := &statusError{code: resp.StatusCode, body: string(body)}
		if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode < 500 {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	return body, nil
}

// GetWeights fetches the feed and returns weights keyed by ticker. A later
// row for the same ticker replaces an earlier one.
func (s *HTTPSource) GetWeights(ctx context.Context) (map[string]domain.Weight, error) {
	body, err := backoff.Retry(ctx, func() ([]byte, error) {
		return s.fetch(ctx)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(s.cfg.MaxRetries),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.logger.Warn("Weights fetch failed, retrying", zap.Error(err), zap.Duration("retry_in", next))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("fetch weights: %w", err)
	}

	var resp feedResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode weights: %w", err)
	}
	if !resp.succeeded() || len(resp.Data) == 0 {
		return nil, ErrInvalidFeed
	}

	out := make(map[string]domain.Weight, len(resp.Data))
	for _, fw := range resp.Data {
		w, err := fw.toDomain()
		if err != nil {
			return nil, err
		}
		out[w.Ticker] = w
	}
	s.logger.Info("Fetched weights", zap.Int("count", len(out)))
	return out, nil
}

func (fw feedWeight) toDomain() (domain.Weight, error) {
	if fw.Ticker == "" {
		return domain.Weight{}, fmt.Errorf("%w: row without ticker", ErrInvalidFeed)
	}
	w := domain.Weight{
		Ticker:       fw.Ticker,
		ComboWeight:  fw.ComboWeight,
		ArrivalPrice: nullable(fw.ArrivalPrice),
		Momentum:     nullable(fw.Momentum),
		Trend:        nullable(fw.Trend),
	}
	if fw.Date != "" {
		asOf, err := time.Parse(feedDateLayout, fw.Date)
		if err != nil {
			return domain.Weight{}, fmt.Errorf("weight %s date %q: %w", fw.Ticker, fw.Date, err)
		}
		w.AsOf = asOf
	}
	return w, nil
}

func nullable(v *decimal.Decimal) decimal.NullDecimal {
	if v == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(*v)
}

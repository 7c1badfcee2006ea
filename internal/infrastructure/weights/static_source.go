package weights

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitos/crypto_rebalancer/internal/domain"
)

// StaticSource serves a fixed set of weights, typically from config.
type StaticSource struct {
	weights map[string]domain.Weight
}

var _ domain.WeightSource = (*StaticSource)(nil)

func NewStaticSource(weights map[string]decimal.Decimal) *StaticSource {
	now := time.Now().UTC()
	out := make(map[string]domain.Weight, len(weights))
	for ticker, w := range weights {
		out[ticker] = domain.Weight{Ticker: ticker, ComboWeight: w, AsOf: now}
	}
	return &StaticSource{weights: out}
}

// GetWeights returns a copy so callers may modify the result.
func (s *StaticSource) GetWeights(ctx context.Context) (map[string]domain.Weight, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[string]domain.Weight, len(s.weights))
	for k, v := range s.weights {
		out[k] = v
	}
	return out, nil
}

package weights

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const feedBody = `{"success":"true","data":[
	{"ticker":"BTC","combo_weight":0.25,"date":"2024-05-01","arrival_price":64000.5,"momentum_megafactor":1.2,"trend_megafactor":-0.4,"carry_megafactor":0.1},
	{"ticker":"ETH","combo_weight":"-0.125","date":"2024-05-01"}]}`

func newFeed(t *testing.T, handler http.HandlerFunc) *HTTPSource {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPSource(HTTPConfig{URL: srv.URL + "/weights", APIKey: "secret key", MaxRetries: 3, Timeout: time.Second}, zap.NewNop())
}

func TestHTTPSource_GetWeights(t *testing.T) {
	keys := make(chan string, 1)
	src := newFeed(t, func(w http.ResponseWriter, r *http.Request) {
		keys <- r.URL.Query().Get("api_key")
		io.WriteString(w, feedBody)
	})

	weights, err := src.GetWeights(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "secret key", <-keys)
	require.Len(t, weights, 2)

	btc := weights["BTC"]
	assert.True(t, btc.ComboWeight.Equal(decimal.RequireFromString("0.25")))
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), btc.AsOf)
	require.True(t, btc.ArrivalPrice.Valid)
	assert.True(t, btc.ArrivalPrice.Decimal.Equal(decimal.RequireFromString("64000.5")))
	assert.True(t, btc.Trend.Decimal.Equal(decimal.RequireFromString("-0.4")))

	eth := weights["ETH"]
	assert.True(t, eth.ComboWeight.Equal(decimal.RequireFromString("-0.125")))
	assert.False(t, eth.ArrivalPrice.Valid)
	assert.False(t, eth.Momentum.Valid)
}

func TestHTTPSource_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	src := newFeed(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "try later", http.StatusBadGateway)
			return
		}
		io.WriteString(w, feedBody)
	})

	weights, err := src.GetWeights(context.Background())
	require.NoError(t, err)
	assert.Len(t, weights, 2)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPSource_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	src := newFeed(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	})

	_, err := src.GetWeights(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPSource_InvalidResponses(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not successful", `{"success":false,"data":[{"ticker":"BTC","combo_weight":0.1}]}`},
		{"empty data", `{"success":true,"data":[]}`},
		{"missing ticker", `{"success":true,"data":[{"combo_weight":0.1}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newFeed(t, func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, tt.body)
			})
			_, err := src.GetWeights(context.Background())
			assert.True(t, errors.Is(err, ErrInvalidFeed), "got %v", err)
		})
	}
}

func TestHTTPSource_BadDate(t *testing.T) {
	src := newFeed(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"success":true,"data":[{"ticker":"BTC","combo_weight":0.1,"date":"01/05/2024"}]}`)
	})
	_, err := src.GetWeights(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BTC")
}

func TestStaticSource(t *testing.T) {
	src := NewStaticSource(map[string]decimal.Decimal{
		"BTC": decimal.RequireFromString("0.6"),
		"ETH": decimal.RequireFromString("-0.2"),
	})

	weights, err := src.GetWeights(context.Background())
	require.NoError(t, err)
	require.Len(t, weights, 2)
	assert.Equal(t, "BTC", weights["BTC"].Ticker)
	assert.True(t, weights["ETH"].ComboWeight.Equal(decimal.RequireFromString("-0.2")))

	delete(weights, "BTC")
	again, err := src.GetWeights(context.Background())
	require.NoError(t, err)
	assert.Len(t, again, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.GetWeights(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

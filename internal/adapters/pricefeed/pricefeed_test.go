package pricefeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(srv *httptest.Server) *Client {
	c := NewClient(srv.URL, 1000)
	c.sleep = func(context.Context, int) {}
	return c
}

func TestGetQuote_Decodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote", r.URL.Path)
		assert.Equal(t, "WMATIC/USDC", r.URL.Query().Get("symbol"))
		assert.Equal(t, "quickswap", r.URL.Query().Get("venue"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"price":"0.855","liquidity":"50000","volume_24h":"120000","observed_at":"2026-03-10T12:00:00Z","confidence":0.8}`))
	}))
	defer srv.Close()

	q, err := newTestClient(srv).GetQuote(context.Background(), "WMATIC/USDC", "quickswap")
	require.NoError(t, err)
	assert.Equal(t, "0.855", q.Price.String())
	assert.Equal(t, "50000", q.Liquidity.String())
	assert.Equal(t, 0.8, q.Confidence)
	assert.Equal(t, "quickswap", q.Venue)
	assert.True(t, q.Valid())
}

func TestGetQuote_DefaultConfidence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"price":1.5}`))
	}))
	defer srv.Close()

	q, err := newTestClient(srv).GetQuote(context.Background(), "ETH/USDC", "uniswap")
	require.NoError(t, err)
	assert.Equal(t, 1.0, q.Confidence)
}

func TestGetQuote_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"price":"2"}`))
	}))
	defer srv.Close()

	q, err := newTestClient(srv).GetQuote(context.Background(), "ETH/USDC", "uniswap")
	require.NoError(t, err)
	assert.Equal(t, "2", q.Price.String())
	assert.Equal(t, int32(3), calls.Load())
}

func TestGetQuote_NotFoundIsNoQuote(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).GetQuote(context.Background(), "ETH/USDC", "uniswap")
	assert.ErrorIs(t, err, ErrNoQuote)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetQuote_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad symbol"))
	}))
	defer srv.Close()

	_, err := newTestClient(srv).GetQuote(context.Background(), "??", "uniswap")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad symbol")
	assert.Equal(t, int32(1), calls.Load())
}

func TestFixture_Deterministic(t *testing.T) {
	f := NewFixture(map[string]decimal.Decimal{"WMATIC/USDC": decimal.RequireFromString("0.85")},
		decimal.NewFromInt(50000), 50)
	ctx := context.Background()

	a1, err := f.GetQuote(ctx, "WMATIC/USDC", "quickswap")
	require.NoError(t, err)
	a2, err := f.GetQuote(ctx, "WMATIC/USDC", "quickswap")
	require.NoError(t, err)
	assert.True(t, a1.Price.Equal(a2.Price))

	// ±50 bps alrededor del precio base
	lo := decimal.RequireFromString("0.85").Mul(decimal.RequireFromString("0.995"))
	hi := decimal.RequireFromString("0.85").Mul(decimal.RequireFromString("1.005"))
	for _, venue := range []string{"quickswap", "sushiswap", "uniswap", "balancer"} {
		q, err := f.GetQuote(ctx, "WMATIC/USDC", venue)
		require.NoError(t, err)
		assert.True(t, q.Price.GreaterThanOrEqual(lo) && q.Price.LessThanOrEqual(hi), "%s: %s", venue, q.Price)
		assert.True(t, q.Volume24h.IsZero())
	}

	_, err = f.GetQuote(ctx, "ETH/USDC", "quickswap")
	assert.ErrorIs(t, err, ErrNoQuote)
}

func TestFixture_SetBase(t *testing.T) {
	f := NewFixture(map[string]decimal.Decimal{}, decimal.NewFromInt(1000), 0)
	f.SetBase("ETH/USDC", decimal.NewFromInt(3000))
	q, err := f.GetQuote(context.Background(), "ETH/USDC", "uniswap")
	require.NoError(t, err)
	assert.True(t, q.Price.IsPositive())
}

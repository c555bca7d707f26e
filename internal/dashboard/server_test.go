package dashboard

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livetape/config"
	"livetape/internal/metrics"
	"livetape/internal/models"
	"livetape/internal/stream"
	"livetape/internal/tape"
	"livetape/logger"
)

func TestNormalizeAddress(t *testing.T) {
	cases := map[string]string{
		"":                               "0.0.0.0:8080",
		"  :9090  ":                      "0.0.0.0:9090",
		"localhost":                      "localhost:8080",
		"0.0.0.0:80":                     "0.0.0.0:80",
		"[::1]:443":                      "[::1]:443",
		"::1":                            "[::1]:8080",
		"*:8080":                         "0.0.0.0:8080",
		"http://13.200.112.203:8080":     "13.200.112.203:8080",
		"https://13.200.112.203":         "13.200.112.203:8080",
		"http://:7070":                   "0.0.0.0:7070",
		"tcp://localhost:5050":           "localhost:5050",
		"https://dashboard.example.com/": "dashboard.example.com:8080",
	}

	for input, want := range cases {
		if got := normalizeAddress(input); got != want {
			t.Fatalf("normalizeAddress(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestNewServerDisabled(t *testing.T) {
	srv, err := NewServer(config.DashboardConfig{}, logger.Discard(), Deps{})
	require.NoError(t, err)
	assert.Nil(t, srv)
	assert.Equal(t, "", srv.Address())
}

type fakeStreams struct {
	mu     sync.Mutex
	symbol string
	sets   []string
}

func (f *fakeStreams) Symbol() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.symbol
}

func (f *fakeStreams) SetSymbol(symbol string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.symbol = symbol
	f.sets = append(f.sets, symbol)
}

func (f *fakeStreams) States() map[models.VenueID]stream.State {
	return map[models.VenueID]stream.State{models.OKXSpot: stream.Open, models.MEXCSpot: stream.ReconnectPending}
}

type fakeLiquidations struct{}

func (fakeLiquidations) Active() bool { return true }
func (fakeLiquidations) States() map[string]stream.State {
	return map[string]stream.State{"OKX": stream.Open}
}

type fixture struct {
	srv     *Server
	streams *fakeStreams
	tape    *tape.TradeTape
	book    *tape.LiquidationBook
	router  http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	streams := &fakeStreams{symbol: "BTC"}
	tt := tape.NewTradeTape(config.TapeConfig{})
	tt.Reset("BTC")
	book := tape.NewLiquidationBook(config.TapeConfig{})

	srv, err := NewServer(config.DashboardConfig{Enabled: true, Address: ":9000", MetricsHistory: 10, LogHistory: 10}, logger.Discard(), Deps{
		Trades:       streams,
		Liquidations: fakeLiquidations{},
		Tape:         tt,
		Book:         book,
	})
	require.NoError(t, err)
	require.NotNil(t, srv)
	t.Cleanup(srv.cleanup)

	router, err := srv.buildRouter("livetape")
	require.NoError(t, err)
	return &fixture{srv: srv, streams: streams, tape: tt, book: book, router: router}
}

func (f *fixture) do(t *testing.T, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res := httptest.NewRecorder()
	f.router.ServeHTTP(res, req)
	return res
}

func decode(t *testing.T, res *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), v), res.Body.String())
}

func TestServerAddressNormalized(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "0.0.0.0:9000", f.srv.Address())
	assert.NotNil(t, f.srv.Hub())
}

func TestTradesEndpoint(t *testing.T) {
	f := newFixture(t)
	f.tape.Add(models.Trade{ID: "1", Venue: models.OKXSpot, Symbol: "BTC", TimestampMs: 1, QuoteValue: decimal.NewFromInt(50)})
	f.tape.Add(models.Trade{ID: "2", Venue: models.BybitPerp, Symbol: "BTC", TimestampMs: 2, QuoteValue: decimal.NewFromInt(5000)})

	var body struct {
		Symbol string         `json:"symbol"`
		Trades []models.Trade `json:"trades"`
	}

	res := f.do(t, http.MethodGet, "/api/trades", nil)
	require.Equal(t, http.StatusOK, res.Code)
	decode(t, res, &body)
	assert.Equal(t, "BTC", body.Symbol)
	require.Len(t, body.Trades, 2)
	assert.Equal(t, "2", body.Trades[0].ID)

	res = f.do(t, http.MethodGet, "/api/trades?venue=okx_spot", nil)
	require.Equal(t, http.StatusOK, res.Code)
	decode(t, res, &body)
	require.Len(t, body.Trades, 1)
	assert.Equal(t, models.OKXSpot, body.Trades[0].Venue)

	res = f.do(t, http.MethodGet, "/api/trades?min_usd=1000", nil)
	decode(t, res, &body)
	require.Len(t, body.Trades, 1)
	assert.Equal(t, "2", body.Trades[0].ID)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/trades?venue=KRAKEN", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/trades?limit=x", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/trades?min_usd=-1", nil).Code)
}

func TestTradeStatsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.tape.Add(models.Trade{ID: "1", Venue: models.Hyperliquid, Symbol: "BTC", QuoteValue: decimal.NewFromInt(200000)})

	var stats tape.TradeStats
	res := f.do(t, http.MethodGet, "/api/trades/stats", nil)
	require.Equal(t, http.StatusOK, res.Code)
	decode(t, res, &stats)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.WhaleCount)
}

func TestLiquidationEndpoints(t *testing.T) {
	f := newFixture(t)
	f.book.Add(models.Liquidation{Symbol: "BTC", Side: models.SideSell, USDValue: 150000, Exchange: models.ExchangeBybitPerp})

	var list struct {
		Liquidations []map[string]interface{} `json:"liquidations"`
	}
	res := f.do(t, http.MethodGet, "/api/liquidations?limit=5", nil)
	require.Equal(t, http.StatusOK, res.Code)
	decode(t, res, &list)
	require.Len(t, list.Liquidations, 1)
	assert.Equal(t, "LEVIATHAN", list.Liquidations[0]["severity"])

	var summary tape.LiquidationSummary
	res = f.do(t, http.MethodGet, "/api/liquidations/summary", nil)
	require.Equal(t, http.StatusOK, res.Code)
	decode(t, res, &summary)
	assert.Equal(t, int64(1), summary.SessionCount)
	require.Len(t, summary.TopAssets, 1)
	assert.Equal(t, "BTC", summary.TopAssets[0].Symbol)
}

func TestSymbolEndpoints(t *testing.T) {
	f := newFixture(t)
	f.tape.Add(models.Trade{ID: "1", Venue: models.OKXSpot, Symbol: "BTC"})

	var got map[string]string
	res := f.do(t, http.MethodGet, "/api/symbol", nil)
	decode(t, res, &got)
	assert.Equal(t, "BTC", got["symbol"])

	res = f.do(t, http.MethodPut, "/api/symbol", []byte(`{"symbol":" eth "}`))
	require.Equal(t, http.StatusOK, res.Code)
	decode(t, res, &got)
	assert.Equal(t, "ETH", got["symbol"])
	assert.Equal(t, "ETH", f.streams.Symbol())
	assert.Equal(t, "ETH", f.tape.Symbol())
	assert.Empty(t, f.tape.Unified(0))

	// same symbol leaves the streams alone
	f.do(t, http.MethodPut, "/api/symbol", []byte(`{"symbol":"ETH"}`))
	assert.Equal(t, []string{"ETH"}, f.streams.sets)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPut, "/api/symbol", []byte(`{"symbol":"BTC-USDT"}`)).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPut, "/api/symbol", []byte(`not json`)).Code)
}

func TestVenuesEndpoint(t *testing.T) {
	f := newFixture(t)
	res := f.do(t, http.MethodGet, "/api/venues", nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.JSONEq(t, `{
		"trades": {"OKX_SPOT": "open", "MEXC_SPOT": "reconnect_pending"},
		"liquidations": {"active": true, "venues": {"OKX": "open"}},
		"dashboard_clients": 0
	}`, res.Body.String())
}

func TestMetricsEndpointEmitsStoredMetrics(t *testing.T) {
	f := newFixture(t)
	metrics.EmitMetric(logger.Discard(), "channels", "trades_buffer_length", 5, "gauge", logger.Fields{"capacity": 10})

	res := f.do(t, http.MethodGet, "/api/metrics", nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.NotEmpty(t, f.srv.history.metrics.snapshot())
	assert.Contains(t, res.Body.String(), "trades_buffer_length")
}

func TestPrometheusAndIndexRoutes(t *testing.T) {
	f := newFixture(t)

	res := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), "go_goroutines")

	res = f.do(t, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), "livetape")

	res = f.do(t, http.MethodGet, "/assets/app.js", nil)
	assert.Equal(t, http.StatusOK, res.Code)
}

func TestRoutesWithoutDeps(t *testing.T) {
	srv, err := NewServer(config.DashboardConfig{Enabled: true}, logger.Discard(), Deps{})
	require.NoError(t, err)
	t.Cleanup(srv.cleanup)
	router, err := srv.buildRouter("livetape")
	require.NoError(t, err)

	for _, path := range []string{"/api/trades", "/api/trades/stats", "/api/liquidations", "/api/liquidations/summary", "/api/symbol"} {
		res := httptest.NewRecorder()
		router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusServiceUnavailable, res.Code, path)
	}
}

package liquidation

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livetape/config"
	"livetape/internal/models"
	"livetape/internal/stream"
	"livetape/internal/stream/streamtest"
	"livetape/logger"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond

	venueBinance = models.ExchangeBinancePerp
	venueBybit   = models.ExchangeBybitPerp
	venueOKX     = "OKX"
)

var venues = []string{venueBinance, venueBybit, venueOKX}

type sink struct {
	mu   sync.Mutex
	liqs []models.Liquidation
}

func (s *sink) add(l models.Liquidation) {
	s.mu.Lock()
	s.liqs = append(s.liqs, l)
	s.mu.Unlock()
}

func (s *sink) all() []models.Liquidation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Liquidation(nil), s.liqs...)
}

func newTestAggregator(t *testing.T) (*Aggregator, *streamtest.FakeDialer, *streamtest.ManualClock) {
	t.Helper()
	dialer := streamtest.NewFakeDialer()
	clock := streamtest.NewManualClock()
	a := NewAggregator(
		WithDialer(dialer),
		WithClock(clock),
		WithReconnectDelay(5*time.Second),
		WithLogger(logger.Discard()),
	)
	t.Cleanup(a.Stop)
	return a, dialer, clock
}

func waitOpen(t *testing.T, a *Aggregator, dialer *streamtest.FakeDialer, dials int) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, v := range venues {
			if dialer.Dials(v) != dials || a.States()[v] != stream.Open {
				return false
			}
		}
		return true
	}, waitFor, tick)
}

func TestAggregatorHandshakes(t *testing.T) {
	a, dialer, _ := newTestAggregator(t)
	a.Start((&sink{}).add)
	waitOpen(t, a, dialer, 1)

	assert.Equal(t, "wss://fstream.binance.com/ws/!forceOrder@arr", dialer.Latest(venueBinance).URL)
	assert.Empty(t, dialer.Latest(venueBinance).Writes())

	bybitSub := dialer.Latest(venueBybit).Writes()
	require.Len(t, bybitSub, 1)
	var req struct {
		Op   string   `json:"op"`
		Args []string `json:"args"`
	}
	require.NoError(t, json.Unmarshal(bybitSub[0], &req))
	assert.Equal(t, "subscribe", req.Op)
	require.Len(t, req.Args, 18)
	assert.Equal(t, "liquidation.BTCUSDT", req.Args[0])
	assert.Equal(t, "liquidation.LTCUSDT", req.Args[17])

	okxSub := dialer.Latest(venueOKX).Writes()
	require.Len(t, okxSub, 1)
	assert.JSONEq(t, `{"op":"subscribe","args":[
		{"channel":"liquidation-orders","instType":"SWAP"},
		{"channel":"liquidation-orders","instType":"FUTURES"}]}`, string(okxSub[0]))
}

func TestAggregatorSideMapping(t *testing.T) {
	a, dialer, _ := newTestAggregator(t)
	got := &sink{}
	a.Start(got.add)
	waitOpen(t, a, dialer, 1)

	require.True(t, dialer.Latest(venueBinance).Push(
		`{"e":"forceOrder","E":1700000000000,"o":{"s":"BTCUSDT","S":"SELL","q":"0.5","p":"40000","T":1700000000000}}`))
	require.Eventually(t, func() bool { return len(got.all()) == 1 }, waitFor, tick)
	require.True(t, dialer.Latest(venueBybit).Push(
		`{"topic":"liquidation.ETHUSDT","ts":1700000000100,"data":{"price":"2000","side":"Buy","size":"1","symbol":"ETHUSDT","updatedTime":1700000000100}}`))
	require.Eventually(t, func() bool { return len(got.all()) == 2 }, waitFor, tick)
	require.True(t, dialer.Latest(venueOKX).Push(
		`{"arg":{"channel":"liquidation-orders","instType":"SWAP"},"data":[{"instId":"SOL-USDT-SWAP","instType":"SWAP","details":[{"bkPx":"100","sz":"2","side":"buy","posSide":"short","ts":"1700000000200"}]}]}`))
	require.Eventually(t, func() bool { return len(got.all()) == 3 }, waitFor, tick)

	liqs := got.all()
	assert.Equal(t, models.SideSell, liqs[0].Side, "binance SELL order")
	assert.Equal(t, models.ExchangeBinancePerp, liqs[0].Exchange)
	assert.Equal(t, models.SideSell, liqs[1].Side, "bybit Buy position is a liquidated long")
	assert.Equal(t, models.ExchangeBybitPerp, liqs[1].Exchange)
	assert.Equal(t, models.SideBuy, liqs[2].Side, "okx buy order")
	assert.Equal(t, models.ExchangeOKXPerp, liqs[2].Exchange)
}

func TestAggregatorUnbundlesOKXDetails(t *testing.T) {
	a, dialer, _ := newTestAggregator(t)
	got := &sink{}
	a.Start(got.add)
	waitOpen(t, a, dialer, 1)

	require.True(t, dialer.Latest(venueOKX).Push(`{"arg":{"channel":"liquidation-orders","instType":"SWAP"},"data":[{
		"instId":"BTC-USDT-SWAP","instType":"SWAP","details":[
			{"bkPx":"50000","sz":"0.1","side":"sell","posSide":"long","ts":"1700000000000"},
			{"bkPx":"50010","sz":"0.2","side":"sell","posSide":"long","ts":"1700000000001"}]}]}`))

	require.Eventually(t, func() bool { return len(got.all()) == 2 }, waitFor, tick)
	time.Sleep(20 * time.Millisecond)
	liqs := got.all()
	require.Len(t, liqs, 2)
	assert.Equal(t, 5000.0, liqs[0].USDValue)
	assert.Equal(t, 10002.0, liqs[1].USDValue)
}

func TestAggregatorStartIsIdempotent(t *testing.T) {
	a, dialer, _ := newTestAggregator(t)
	first, second := &sink{}, &sink{}
	a.Start(first.add)
	waitOpen(t, a, dialer, 1)

	a.Start(second.add)
	time.Sleep(20 * time.Millisecond)
	for _, v := range venues {
		assert.Equal(t, 1, dialer.Dials(v), v)
		assert.False(t, dialer.Latest(v).Closed(), v)
	}

	require.True(t, dialer.Latest(venueBinance).Push(`{"e":"forceOrder","E":1,"o":{"s":"BTCUSDT","S":"BUY","q":"1","p":"1"}}`))
	require.Eventually(t, func() bool { return len(first.all()) == 1 }, waitFor, tick)
	assert.Empty(t, second.all())
}

func TestAggregatorReconnectsSingleVenue(t *testing.T) {
	a, dialer, clock := newTestAggregator(t)
	a.Start((&sink{}).add)
	waitOpen(t, a, dialer, 1)

	dialer.Latest(venueBybit).Close()
	require.Eventually(t, func() bool { return a.States()[venueBybit] == stream.ReconnectPending }, waitFor, tick)
	clock.Advance(5 * time.Second)

	require.Eventually(t, func() bool {
		return dialer.Dials(venueBybit) == 2 && a.States()[venueBybit] == stream.Open
	}, waitFor, tick)
	assert.Len(t, dialer.Latest(venueBybit).Writes(), 1, "resubscribes after reconnect")
	assert.Equal(t, 1, dialer.Dials(venueBinance))
	assert.Equal(t, 1, dialer.Dials(venueOKX))
}

func TestAggregatorStopCancelsReconnect(t *testing.T) {
	a, dialer, clock := newTestAggregator(t)
	got := &sink{}
	a.Start(got.add)
	waitOpen(t, a, dialer, 1)

	dialer.Latest(venueOKX).Close()
	require.Eventually(t, func() bool { return a.States()[venueOKX] == stream.ReconnectPending }, waitFor, tick)

	a.Stop()
	assert.False(t, a.Active())
	clock.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, dialer.Dials(venueOKX))
	for _, v := range venues {
		assert.True(t, dialer.Latest(v).Closed(), v)
	}

	a.Start(got.add)
	waitOpen(t, a, dialer, 2)
}

func TestCodecsFromConfig(t *testing.T) {
	codecs := CodecsFromConfig(config.LiquidationsConfig{
		BybitSymbols: []string{"BTCUSDT"},
		OKXURL:       "wss://okx.test/ws",
	})
	require.Len(t, codecs, 3)
	assert.Equal(t, "wss://okx.test/ws", codecs[2].URL(""))
	data, err := json.Marshal(codecs[1].Subscription(""))
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":"subscribe","args":["liquidation.BTCUSDT"]}`, string(data))
}

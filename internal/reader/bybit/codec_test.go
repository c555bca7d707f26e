package bybit

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livetape/internal/models"
	"livetape/internal/stream"
)

func TestTradeSubscription(t *testing.T) {
	c := NewPerpTradeCodec("")
	assert.Equal(t, LinearURL, c.URL("BTC"))

	data, err := json.Marshal(c.Subscription("btc"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":"subscribe","args":["publicTrade.BTCUSDT"]}`, string(data))
	assert.JSONEq(t, `{"op":"ping"}`, string(c.Heartbeat()))
	assert.Equal(t, SpotURL, NewSpotTradeCodec("").URL("BTC"))
}

func TestTradeDecode(t *testing.T) {
	c := NewSpotTradeCodec("")
	msg := `{"topic":"publicTrade.BTCUSDT","type":"snapshot","ts":1700000000500,"data":[
		{"T":1700000000400,"s":"BTCUSDT","S":"Buy","v":"0.010","p":"43000.5","L":"PlusTick","i":"2290000000071234567","BT":false},
		{"T":1700000000450,"s":"BTCUSDT","S":"Sell","v":"2","p":"43000","i":""}
	]}`

	trades, err := c.Decode([]byte(msg))
	require.NoError(t, err)
	require.Len(t, trades, 2)

	assert.Equal(t, "2290000000071234567", trades[0].ID)
	assert.Equal(t, "43000.5", trades[0].Price)
	assert.Equal(t, "0.010", trades[0].Quantity)
	assert.Equal(t, "430.005", trades[0].QuoteValue.String())
	assert.False(t, trades[0].IsSellerInitiated)
	assert.Equal(t, models.BybitSpot, trades[0].Venue)

	assert.Equal(t, "1700000000450", trades[1].ID, "missing id falls back to timestamp")
	assert.True(t, trades[1].IsSellerInitiated)
	assert.Equal(t, "86000", trades[1].QuoteValue.String())
}

func TestTradeDecodeRejects(t *testing.T) {
	c := NewPerpTradeCodec("")
	cases := []struct {
		msg  string
		want error
	}{
		{`{"success":true,"ret_msg":"","conn_id":"x","op":"subscribe"}`, stream.ErrUnrelated},
		{`{"success":true,"ret_msg":"pong","op":"ping"}`, stream.ErrUnrelated},
		{`{"topic":"orderbook.50.BTCUSDT","data":{}}`, stream.ErrUnrelated},
		{`[1,2`, stream.ErrMalformed},
		{`{"topic":"publicTrade.BTCUSDT","data":[{"S":"Hold","v":"1","p":"1"}]}`, stream.ErrMalformed},
		{`{"topic":"publicTrade.BTCUSDT","data":[{"S":"Buy","v":"x","p":"1"}]}`, stream.ErrMalformed},
	}
	for _, tc := range cases {
		trades, err := c.Decode([]byte(tc.msg))
		assert.True(t, errors.Is(err, tc.want), "%s: got %v", tc.msg, err)
		assert.Empty(t, trades)
	}
}

func TestTradeDecodeForSubscribedTopic(t *testing.T) {
	c := NewPerpTradeCodec("")
	var _ stream.SymbolDecoder[models.Trade] = c

	eth := `{"topic":"publicTrade.ETHUSDT","ts":1700000000500,"data":[{"T":1,"S":"Buy","v":"1","p":"2000","i":"7"}]}`
	trades, err := c.DecodeFor("BTC", []byte(eth))
	assert.ErrorIs(t, err, stream.ErrUnrelated)
	assert.Empty(t, trades)

	trades, err = c.DecodeFor("ETH", []byte(eth))
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "7", trades[0].ID)

	_, err = c.DecodeFor("ETH", []byte(`{"topic":"publicTrade.ETHUSDTX","data":[]}`))
	assert.ErrorIs(t, err, stream.ErrUnrelated)
}

func TestLiquidationSubscription(t *testing.T) {
	c := NewLiquidationCodec("", []string{"BTCUSDT", "ethusdt"}, nil)
	data, err := json.Marshal(c.Subscription(""))
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":"subscribe","args":["liquidation.BTCUSDT","liquidation.ETHUSDT"]}`, string(data))
	assert.Nil(t, NewLiquidationCodec("", nil, nil).Subscription(""))
}

func TestLiquidationSideMapping(t *testing.T) {
	c := NewLiquidationCodec("", nil, nil)
	cases := map[string]models.Side{
		"Buy":  models.SideSell,
		"Sell": models.SideBuy,
	}
	for raw, want := range cases {
		msg := `{"topic":"liquidation.ETHUSDT","type":"snapshot","ts":1700000001000,"data":{"price":"2000.5","side":"` + raw + `","size":"3","symbol":"ETHUSDT","updatedTime":1700000000999}}`
		liqs, err := c.Decode([]byte(msg))
		require.NoError(t, err)
		require.Len(t, liqs, 1)
		assert.Equal(t, want, liqs[0].Side, "raw side %s", raw)
		assert.Equal(t, "ETH", liqs[0].Symbol)
		assert.Equal(t, 6001.5, liqs[0].USDValue)
		assert.Equal(t, int64(1700000001000), liqs[0].TimestampMs)
		assert.Equal(t, models.ExchangeBybitPerp, liqs[0].Exchange)
	}
}

func TestLiquidationArrayData(t *testing.T) {
	c := NewLiquidationCodec("", nil, nil)
	msg := `{"topic":"allLiquidation.SOLUSDT","type":"snapshot","ts":1700000002000,"data":[
		{"T":1700000001990,"s":"SOLUSDT","S":"Sell","v":"10","p":"60"},
		{"T":0,"s":"SHIB1000USDT","S":"Buy","v":"1000","p":"0.01"}
	]}`
	liqs, err := c.Decode([]byte(msg))
	require.NoError(t, err)
	require.Len(t, liqs, 2)
	assert.Equal(t, models.SideBuy, liqs[0].Side)
	assert.Equal(t, int64(1700000001990), liqs[0].TimestampMs)
	assert.Equal(t, 600.0, liqs[0].USDValue)
	assert.Equal(t, "SHIB", liqs[1].Symbol)
	assert.Equal(t, int64(1700000002000), liqs[1].TimestampMs)
}

func TestLiquidationTimeFallback(t *testing.T) {
	c := NewLiquidationCodec("", nil, func() time.Time { return time.UnixMilli(42) })
	liqs, err := c.Decode([]byte(`{"topic":"liquidation.BTCUSDT","data":{"price":"1","side":"Buy","size":"1","symbol":"BTCUSDT"}}`))
	require.NoError(t, err)
	assert.Equal(t, int64(42), liqs[0].TimestampMs)

	_, err = c.Decode([]byte(`{"topic":"liquidation.BTCUSDT"}`))
	assert.ErrorIs(t, err, stream.ErrMalformed)
	_, err = c.Decode([]byte(`{"topic":"liquidation.BTCUSDT","data":{"price":"1","side":"Long","size":"1","symbol":"BTCUSDT"}}`))
	assert.ErrorIs(t, err, stream.ErrMalformed)
}

package okx

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livetape/internal/models"
	"livetape/internal/stream"
)

func TestTradeSubscription(t *testing.T) {
	spot, perp := NewSpotTradeCodec(""), NewPerpTradeCodec("")
	assert.Equal(t, PublicURL, spot.URL("BTC"))
	assert.Equal(t, PublicURL, perp.URL("BTC"))

	data, err := json.Marshal(spot.Subscription("BTC"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":"subscribe","args":[{"channel":"trades","instId":"BTC-USDT"}]}`, string(data))

	data, err = json.Marshal(perp.Subscription("BTC"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":"subscribe","args":[{"channel":"trades","instId":"BTC-USDT-SWAP"}]}`, string(data))
	assert.Equal(t, "ping", string(perp.Heartbeat()))
}

func TestTradeDecode(t *testing.T) {
	c := NewPerpTradeCodec("")
	msg := `{"arg":{"channel":"trades","instId":"BTC-USDT-SWAP"},"data":[
		{"instId":"BTC-USDT-SWAP","tradeId":"130639474","px":"42219.9","sz":"0.12","side":"buy","ts":"1630048897897","count":"3"},
		{"instId":"BTC-USDT-SWAP","tradeId":"0","px":"42219.8","sz":"1","side":"sell","ts":"1630048897900"}
	]}`
	trades, err := c.Decode([]byte(msg))
	require.NoError(t, err)
	require.Len(t, trades, 2)

	assert.Equal(t, "130639474", trades[0].ID)
	assert.Equal(t, "5066.388", trades[0].QuoteValue.String())
	assert.Equal(t, int64(1630048897897), trades[0].TimestampMs)
	assert.False(t, trades[0].IsSellerInitiated)
	assert.Equal(t, models.OKXPerp, trades[0].Venue)

	assert.Equal(t, "1630048897900", trades[1].ID)
	assert.True(t, trades[1].IsSellerInitiated)
}

func TestTradeDecodeRejects(t *testing.T) {
	c := NewSpotTradeCodec("")
	cases := []struct {
		msg  string
		want error
	}{
		{`pong`, stream.ErrUnrelated},
		{`{"event":"subscribe","arg":{"channel":"trades","instId":"BTC-USDT"},"connId":"a4d3ae55"}`, stream.ErrUnrelated},
		{`{"event":"error","code":"60012","msg":"Invalid request"}`, stream.ErrUnrelated},
		{`{"arg":{"channel":"tickers"},"data":[]}`, stream.ErrUnrelated},
		{`{"arg":`, stream.ErrMalformed},
		{`{"arg":{"channel":"trades"},"data":[{"px":"1","sz":"1","side":"buy","ts":"soon"}]}`, stream.ErrMalformed},
		{`{"arg":{"channel":"trades"},"data":[{"px":"1","sz":"1","side":"hold","ts":"1"}]}`, stream.ErrMalformed},
	}
	for _, tc := range cases {
		trades, err := c.Decode([]byte(tc.msg))
		assert.ErrorIs(t, err, tc.want, tc.msg)
		assert.Empty(t, trades)
	}
}

func TestLiquidationSubscription(t *testing.T) {
	data, err := json.Marshal(NewLiquidationCodec("", nil).Subscription(""))
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":"subscribe","args":[
		{"channel":"liquidation-orders","instType":"SWAP"},
		{"channel":"liquidation-orders","instType":"FUTURES"}
	]}`, string(data))
}

func TestLiquidationUnbundlesDetails(t *testing.T) {
	c := NewLiquidationCodec("", nil)
	msg := `{"arg":{"channel":"liquidation-orders","instType":"SWAP"},"data":[{
		"instFamily":"BTC-USDT","instId":"BTC-USDT-SWAP","instType":"SWAP","uly":"BTC-USDT",
		"details":[
			{"bkLoss":"0","bkPx":"50000","ccy":"","posSide":"short","side":"buy","sz":"0.1","ts":"1700000000001"},
			{"bkLoss":"0","bkPx":"50010","ccy":"","posSide":"long","side":"sell","sz":"0.2","ts":"1700000000002"}
		]}]}`

	liqs, err := c.Decode([]byte(msg))
	require.NoError(t, err)
	require.Len(t, liqs, 2)

	assert.Equal(t, 5000.0, liqs[0].USDValue)
	assert.Equal(t, 10002.0, liqs[1].USDValue)
	assert.Equal(t, models.SideBuy, liqs[0].Side)
	assert.Equal(t, models.SideSell, liqs[1].Side)
	for _, l := range liqs {
		assert.Equal(t, "BTC", l.Symbol)
		assert.Equal(t, models.ExchangeOKXPerp, l.Exchange)
	}
	assert.Equal(t, int64(1700000000002), liqs[1].TimestampMs)
}

func TestLiquidationManyInstruments(t *testing.T) {
	c := NewLiquidationCodec("", func() time.Time { return time.UnixMilli(99) })
	msg := `{"arg":{"channel":"liquidation-orders","instType":"FUTURES"},"data":[
		{"instId":"ETH-USD-240329","instType":"FUTURES","details":[
			{"bkPx":"3000","sz":"1","side":"","posSide":"short","ts":""},
			{"bkPx":"3001","sz":"2","side":"","posSide":"long","ts":"1700000000000"},
			{"bkPx":"0","sz":"5","side":"buy","ts":"1700000000000"}
		]},
		{"instId":"SOL-USDT-SWAP","instType":"SWAP","details":[
			{"bkPx":"100","sz":"-1","side":"sell","ts":"1700000000000"},
			{"bkPx":"100","sz":"3","side":"sell","ts":"1700000000000"}
		]}
	]}`

	liqs, err := c.Decode([]byte(msg))
	require.NoError(t, err)
	require.Len(t, liqs, 3, "non-positive price or size is skipped")

	assert.Equal(t, "ETH", liqs[0].Symbol)
	assert.Equal(t, models.SideBuy, liqs[0].Side, "short position closes with a buy")
	assert.Equal(t, int64(99), liqs[0].TimestampMs)
	assert.Equal(t, models.ExchangeOKXFutures, liqs[0].Exchange)
	assert.Equal(t, models.SideSell, liqs[1].Side, "long position closes with a sell")

	assert.Equal(t, "SOL", liqs[2].Symbol)
	assert.Equal(t, models.ExchangeOKXPerp, liqs[2].Exchange)
	assert.Equal(t, 300.0, liqs[2].USDValue)
}

func TestLiquidationRejects(t *testing.T) {
	c := NewLiquidationCodec("", nil)
	_, err := c.Decode([]byte(`pong`))
	assert.ErrorIs(t, err, stream.ErrUnrelated)
	_, err = c.Decode([]byte(`{"event":"subscribe","arg":{"channel":"liquidation-orders","instType":"SWAP"}}`))
	assert.ErrorIs(t, err, stream.ErrUnrelated)
	_, err = c.Decode([]byte(`{"arg":{"channel":"liquidation-orders"},"data":[{"instId":"BTC-USDT-SWAP","details":[{"bkPx":"1","sz":"1","side":"hold","ts":"1"}]}]}`))
	assert.ErrorIs(t, err, stream.ErrMalformed)
}

func TestLiquidationSkipsUnparsableDetail(t *testing.T) {
	c := NewLiquidationCodec("", nil)
	msg := `{"arg":{"channel":"liquidation-orders","instType":"SWAP"},"data":[{
		"instId":"BTC-USDT-SWAP","instType":"SWAP","details":[
			{"bkPx":"","sz":"1","side":"sell","ts":"1700000000000"},
			{"bkPx":"50000","sz":"0.1","side":"buy","ts":"1700000000001"},
			{"bkPx":"50000","sz":"lots","side":"buy","ts":"1700000000002"},
			{"bkPx":"50000","sz":"1","side":"hold","ts":"1700000000003"}
		]}]}`

	liqs, err := c.Decode([]byte(msg))
	require.NoError(t, err)
	require.Len(t, liqs, 1)
	assert.Equal(t, "50000", liqs[0].Price)
	assert.Equal(t, 5000.0, liqs[0].USDValue)
	assert.Equal(t, int64(1700000000001), liqs[0].TimestampMs)
}

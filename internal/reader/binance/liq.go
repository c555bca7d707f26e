package binance

import (
	"encoding/json"

	futures "github.com/adshao/go-binance/v2/futures"

	"livetape/internal/models"
	"livetape/internal/reader"
	"livetape/internal/symbols"
)

const ForceOrderURL = "wss://fstream.binance.com/ws/!forceOrder@arr"

// liqSide maps the forced order side. Binance reports the side of the
// liquidation order itself, so it passes straight through.
var liqSide = map[futures.SideType]models.Side{
	futures.SideTypeBuy:  models.SideBuy,
	futures.SideTypeSell: models.SideSell,
}

// LiquidationCodec decodes the all-market force order stream.
type LiquidationCodec struct {
	url string
	now reader.Clock
}

func NewLiquidationCodec(url string, now reader.Clock) *LiquidationCodec {
	if url == "" {
		url = ForceOrderURL
	}
	return &LiquidationCodec{url: url, now: now}
}

func (c *LiquidationCodec) Venue() string { return models.ExchangeBinancePerp }

func (c *LiquidationCodec) URL(string) string { return c.url }

func (c *LiquidationCodec) Subscription(string) any { return nil }

func (c *LiquidationCodec) Decode(payload []byte) ([]models.Liquidation, error) {
	var evt futures.WsLiquidationOrderEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, reader.Malformed(c.Venue(), err)
	}
	if evt.Event != "forceOrder" && evt.LiquidationOrder.Symbol == "" {
		return nil, reader.Unrelated(c.Venue(), "event "+evt.Event)
	}

	o := evt.LiquidationOrder
	side, ok := liqSide[o.Side]
	if !ok {
		return nil, reader.UnknownSide(c.Venue(), string(o.Side))
	}
	usd, err := models.Notional(o.Price, o.OrigQuantity)
	if err != nil {
		return nil, reader.Malformed(c.Venue(), err)
	}

	ts := evt.Time
	if ts == 0 {
		ts = o.TradeTime
	}
	if ts == 0 {
		ts = c.now.Millis()
	}
	value, _ := usd.Float64()
	return []models.Liquidation{{
		Symbol:      symbols.ToBase("binance", o.Symbol),
		Side:        side,
		Price:       o.Price,
		Quantity:    o.OrigQuantity,
		USDValue:    value,
		TimestampMs: ts,
		Exchange:    models.ExchangeBinancePerp,
	}}, nil
}

package binance

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/adshao/go-binance/v2"

	"livetape/internal/models"
	"livetape/internal/reader"
	"livetape/internal/symbols"
)

const (
	SpotStreamBase = "wss://stream.binance.com:9443/ws"
	PerpStreamBase = "wss://fstream.binance.com/ws"
)

// TradeCodec decodes the raw <symbol>usdt@trade stream. Spot and USD-M
// futures share the payload layout.
type TradeCodec struct {
	venue models.VenueID
	base  string
}

// NewSpotTradeCodec returns the BINANCE_SPOT codec. An empty base uses the
// public endpoint.
func NewSpotTradeCodec(base string) *TradeCodec {
	if base == "" {
		base = SpotStreamBase
	}
	return &TradeCodec{venue: models.BinanceSpot, base: strings.TrimRight(base, "/")}
}

// NewPerpTradeCodec returns the BINANCE_PERP codec.
func NewPerpTradeCodec(base string) *TradeCodec {
	if base == "" {
		base = PerpStreamBase
	}
	return &TradeCodec{venue: models.BinancePerp, base: strings.TrimRight(base, "/")}
}

func (c *TradeCodec) Venue() string { return string(c.venue) }

func (c *TradeCodec) URL(symbol string) string {
	return c.base + "/" + symbols.BinanceStream(symbol) + "@trade"
}

// Subscription is nil: the stream name in the URL selects the feed.
func (c *TradeCodec) Subscription(string) any { return nil }

func (c *TradeCodec) Decode(payload []byte) ([]models.Trade, error) {
	var evt binance.WsTradeEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, reader.Malformed(c.Venue(), err)
	}
	if evt.Event != "" && evt.Event != "trade" {
		return nil, reader.Unrelated(c.Venue(), "event "+evt.Event)
	}
	if evt.Price == "" || evt.Quantity == "" {
		return nil, reader.Unrelated(c.Venue(), "no trade fields")
	}

	quote, err := models.Notional(evt.Price, evt.Quantity)
	if err != nil {
		return nil, reader.Malformed(c.Venue(), err)
	}
	return []models.Trade{{
		ID:                reader.TradeID(strconv.FormatInt(evt.TradeID, 10), evt.Time),
		Price:             evt.Price,
		Quantity:          evt.Quantity,
		QuoteValue:        quote,
		TimestampMs:       evt.Time,
		IsSellerInitiated: evt.IsBuyerMaker,
		Venue:             c.venue,
	}}, nil
}

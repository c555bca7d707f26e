// Package okx decodes the OKX v5 public trades and liquidation-orders
// channels.
package okx

import (
	"encoding/json"

	"livetape/internal/models"
	"livetape/internal/reader"
	"livetape/internal/symbols"
)

const PublicURL = "wss://ws.okx.com:8443/ws/v5/public"

type channelArg struct {
	Channel  string `json:"channel"`
	InstID   string `json:"instId,omitempty"`
	InstType string `json:"instType,omitempty"`
}

type subscribeRequest struct {
	Op   string       `json:"op"`
	Args []channelArg `json:"args"`
}

type tradeEntry struct {
	InstID  string `json:"instId"`
	TradeID string `json:"tradeId"`
	Px      string `json:"px"`
	Sz      string `json:"sz"`
	Side    string `json:"side"`
	Ts      string `json:"ts"`
}

type tradePayload struct {
	Event string       `json:"event"`
	Arg   channelArg   `json:"arg"`
	Data  []tradeEntry `json:"data"`
}

// TradeCodec decodes the trades channel for one spot or swap instrument.
// Both markets share the public endpoint.
type TradeCodec struct {
	venue models.VenueID
	url   string
	swap  bool
}

func NewSpotTradeCodec(url string) *TradeCodec {
	return newTradeCodec(models.OKXSpot, url, false)
}

func NewPerpTradeCodec(url string) *TradeCodec {
	return newTradeCodec(models.OKXPerp, url, true)
}

func newTradeCodec(venue models.VenueID, url string, swap bool) *TradeCodec {
	if url == "" {
		url = PublicURL
	}
	return &TradeCodec{venue: venue, url: url, swap: swap}
}

func (c *TradeCodec) Venue() string { return string(c.venue) }

func (c *TradeCodec) URL(string) string { return c.url }

func (c *TradeCodec) Subscription(symbol string) any {
	return subscribeRequest{
		Op:   "subscribe",
		Args: []channelArg{{Channel: "trades", InstID: symbols.OKXInstrument(symbol, c.swap)}},
	}
}

// Heartbeat is the bare text ping OKX expects on idle connections.
func (c *TradeCodec) Heartbeat() []byte { return []byte("ping") }

func (c *TradeCodec) Decode(payload []byte) ([]models.Trade, error) {
	if reader.IsText(payload, "pong") {
		return nil, reader.Unrelated(c.Venue(), "pong")
	}
	var msg tradePayload
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, reader.Malformed(c.Venue(), err)
	}
	if msg.Event != "" {
		return nil, reader.Unrelated(c.Venue(), "event "+msg.Event)
	}
	if msg.Arg.Channel != "trades" {
		return nil, reader.Unrelated(c.Venue(), "channel "+msg.Arg.Channel)
	}

	trades := make([]models.Trade, 0, len(msg.Data))
	for _, t := range msg.Data {
		ts, err := models.ParseMillis(t.Ts)
		if err != nil {
			return nil, reader.Malformed(c.Venue(), err)
		}
		quote, err := models.Notional(t.Px, t.Sz)
		if err != nil {
			return nil, reader.Malformed(c.Venue(), err)
		}
		var sellerInitiated bool
		switch t.Side {
		case "sell":
			sellerInitiated = true
		case "buy":
		default:
			return nil, reader.UnknownSide(c.Venue(), t.Side)
		}
		trades = append(trades, models.Trade{
			ID:                reader.TradeID(t.TradeID, ts),
			Price:             t.Px,
			Quantity:          t.Sz,
			QuoteValue:        quote,
			TimestampMs:       ts,
			IsSellerInitiated: sellerInitiated,
			Venue:             c.venue,
		})
	}
	return trades, nil
}

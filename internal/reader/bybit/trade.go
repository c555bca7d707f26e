// Package bybit decodes Bybit v5 public trade and liquidation streams.
package bybit

import (
	"encoding/json"
	"strings"

	"livetape/internal/models"
	"livetape/internal/reader"
	"livetape/internal/symbols"
)

const (
	SpotURL   = "wss://stream.bybit.com/v5/public/spot"
	LinearURL = "wss://stream.bybit.com/v5/public/linear"
)

var heartbeat = []byte(`{"op":"ping"}`)

type subscribeRequest struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

type tradeEntry struct {
	Time   int64  `json:"T"`
	Symbol string `json:"s"`
	Side   string `json:"S"`
	Size   string `json:"v"`
	Price  string `json:"p"`
	ID     string `json:"i"`
}

type tradePayload struct {
	Topic string       `json:"topic"`
	Type  string       `json:"type"`
	Ts    int64        `json:"ts"`
	Data  []tradeEntry `json:"data"`
	Op    string       `json:"op"`
}

// TradeCodec decodes publicTrade.<PAIR> on the spot or linear endpoint.
type TradeCodec struct {
	venue models.VenueID
	url   string
}

func NewSpotTradeCodec(url string) *TradeCodec {
	if url == "" {
		url = SpotURL
	}
	return &TradeCodec{venue: models.BybitSpot, url: url}
}

func NewPerpTradeCodec(url string) *TradeCodec {
	if url == "" {
		url = LinearURL
	}
	return &TradeCodec{venue: models.BybitPerp, url: url}
}

func (c *TradeCodec) Venue() string { return string(c.venue) }

func (c *TradeCodec) URL(string) string { return c.url }

func (c *TradeCodec) Subscription(symbol string) any {
	return subscribeRequest{Op: "subscribe", Args: []string{topic(symbol)}}
}

func (c *TradeCodec) Heartbeat() []byte { return heartbeat }

// describe names a non-data frame: an op reply or a foreign topic.
func describe(topic, op string) string {
	if topic == "" {
		return "op " + op
	}
	return "topic " + topic
}

const tradeTopicPrefix = "publicTrade."

func topic(symbol string) string {
	return tradeTopicPrefix + symbols.USDTPair(symbol)
}

// Decode accepts a publicTrade frame for any pair.
func (c *TradeCodec) Decode(payload []byte) ([]models.Trade, error) {
	return c.decode(payload, func(t string) bool { return strings.HasPrefix(t, tradeTopicPrefix) })
}

// DecodeFor accepts only the topic subscribed for symbol.
func (c *TradeCodec) DecodeFor(symbol string, payload []byte) ([]models.Trade, error) {
	want := topic(symbol)
	return c.decode(payload, func(t string) bool { return t == want })
}

func (c *TradeCodec) decode(payload []byte, accept func(topic string) bool) ([]models.Trade, error) {
	var msg tradePayload
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, reader.Malformed(c.Venue(), err)
	}
	if !accept(msg.Topic) {
		return nil, reader.Unrelated(c.Venue(), describe(msg.Topic, msg.Op))
	}

	trades := make([]models.Trade, 0, len(msg.Data))
	for _, t := range msg.Data {
		quote, err := models.Notional(t.Price, t.Size)
		if err != nil {
			return nil, reader.Malformed(c.Venue(), err)
		}
		var sellerInitiated bool
		switch t.Side {
		case "Sell":
			sellerInitiated = true
		case "Buy":
		default:
			return nil, reader.UnknownSide(c.Venue(), t.Side)
		}
		ts := t.Time
		if ts == 0 {
			ts = msg.Ts
		}
		trades = append(trades, models.Trade{
			ID:                reader.TradeID(t.ID, ts),
			Price:             t.Price,
			Quantity:          t.Size,
			QuoteValue:        quote,
			TimestampMs:       ts,
			IsSellerInitiated: sellerInitiated,
			Venue:             c.venue,
		})
	}
	return trades, nil
}

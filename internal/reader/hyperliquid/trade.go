// Package hyperliquid decodes the Hyperliquid trades subscription.
package hyperliquid

import (
	"encoding/json"
	"strconv"
	"strings"

	"livetape/internal/models"
	"livetape/internal/reader"
)

const URL = "wss://api.hyperliquid.xyz/ws"

type subscription struct {
	Type string `json:"type"`
	Coin string `json:"coin,omitempty"`
}

type subscriptionMessage struct {
	Method       string       `json:"method"`
	Subscription subscription `json:"subscription"`
}

type wsResponse struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type wsTrade struct {
	Coin string `json:"coin"`
	Side string `json:"side"`
	Px   string `json:"px"`
	Sz   string `json:"sz"`
	Hash string `json:"hash"`
	Time int64  `json:"time"`
	Tid  uint64 `json:"tid"`
}

// TradeCodec decodes the perpetual trades channel for one coin.
type TradeCodec struct {
	url string
}

func NewTradeCodec(url string) *TradeCodec {
	if url == "" {
		url = URL
	}
	return &TradeCodec{url: url}
}

func (c *TradeCodec) Venue() string { return string(models.Hyperliquid) }

func (c *TradeCodec) URL(string) string { return c.url }

func (c *TradeCodec) Subscription(symbol string) any {
	return subscriptionMessage{
		Method:       "subscribe",
		Subscription: subscription{Type: "trades", Coin: strings.ToUpper(symbol)},
	}
}

func (c *TradeCodec) Heartbeat() []byte { return []byte(`{"method":"ping"}`) }

func (c *TradeCodec) Decode(payload []byte) ([]models.Trade, error) {
	var msg wsResponse
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, reader.Malformed(c.Venue(), err)
	}
	if msg.Channel != "trades" {
		return nil, reader.Unrelated(c.Venue(), "channel "+msg.Channel)
	}
	var data []wsTrade
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		return nil, reader.Malformed(c.Venue(), err)
	}

	trades := make([]models.Trade, 0, len(data))
	for _, t := range data {
		quote, err := models.Notional(t.Px, t.Sz)
		if err != nil {
			return nil, reader.Malformed(c.Venue(), err)
		}
		var sellerInitiated bool
		switch t.Side {
		case "A", "S":
			// the aggressor hit the bid
			sellerInitiated = true
		case "B":
		default:
			return nil, reader.UnknownSide(c.Venue(), t.Side)
		}
		trades = append(trades, models.Trade{
			ID:                reader.TradeID(strconv.FormatUint(t.Tid, 10), t.Time),
			Price:             t.Px,
			Quantity:          t.Sz,
			QuoteValue:        quote,
			TimestampMs:       t.Time,
			IsSellerInitiated: sellerInitiated,
			Venue:             models.Hyperliquid,
		})
	}
	return trades, nil
}

// Package mexc decodes the MEXC spot deals stream.
package mexc

import (
	"encoding/json"
	"strconv"
	"strings"

	"livetape/internal/models"
	"livetape/internal/reader"
	"livetape/internal/symbols"
)

const (
	URL         = "wss://wbs.mexc.com/ws"
	dealChannel = "spot@public.deals.v3.api"
)

type subscribeRequest struct {
	Op     string `json:"op"`
	Symbol string `json:"symbol"`
}

type deal struct {
	Price     string `json:"p"`
	Volume    string `json:"v"`
	Side      int    `json:"S"`
	Time      int64  `json:"t"`
	TradeTime int64  `json:"T"`
}

type dealPayload struct {
	Channel string `json:"c"`
	Symbol  string `json:"s"`
	Data    *struct {
		Deals []deal `json:"deals"`
	} `json:"d"`
	Msg string `json:"msg"`
}

// TradeCodec decodes spot deals. MEXC sends no trade id, so ids are
// synthesized from the deal time.
type TradeCodec struct {
	url string
}

func NewTradeCodec(url string) *TradeCodec {
	if url == "" {
		url = URL
	}
	return &TradeCodec{url: url}
}

func (c *TradeCodec) Venue() string { return string(models.MEXCSpot) }

func (c *TradeCodec) URL(string) string { return c.url }

func (c *TradeCodec) Subscription(symbol string) any {
	return subscribeRequest{Op: "sub.deal", Symbol: symbols.USDTPair(symbol)}
}

func (c *TradeCodec) Heartbeat() []byte { return []byte(`{"method":"PING"}`) }

func (c *TradeCodec) Decode(payload []byte) ([]models.Trade, error) {
	var msg dealPayload
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, reader.Malformed(c.Venue(), err)
	}
	if !strings.HasPrefix(msg.Channel, dealChannel) || msg.Data == nil {
		if msg.Channel == "" {
			return nil, reader.Unrelated(c.Venue(), "reply "+msg.Msg)
		}
		return nil, reader.Unrelated(c.Venue(), "channel "+msg.Channel)
	}

	trades := make([]models.Trade, 0, len(msg.Data.Deals))
	for _, d := range msg.Data.Deals {
		quote, err := models.Notional(d.Price, d.Volume)
		if err != nil {
			return nil, reader.Malformed(c.Venue(), err)
		}
		var sellerInitiated bool
		switch d.Side {
		case 2:
			sellerInitiated = true
		case 1:
		default:
			return nil, reader.UnknownSide(c.Venue(), strconv.Itoa(d.Side))
		}
		ts := d.Time
		if ts == 0 {
			ts = d.TradeTime
		}
		trades = append(trades, models.Trade{
			ID:                reader.TradeID("", ts),
			Price:             d.Price,
			Quantity:          d.Volume,
			QuoteValue:        quote,
			TimestampMs:       ts,
			IsSellerInitiated: sellerInitiated,
			Venue:             models.MEXCSpot,
		})
	}
	return trades, nil
}


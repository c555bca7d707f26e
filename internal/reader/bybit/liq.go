package bybit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"livetape/internal/models"
	"livetape/internal/reader"
	"livetape/internal/symbols"
)

// liqSide maps the liquidated position side to the forced order side. Bybit
// reports "Buy" when a long position was closed, which the engine sells.
var liqSide = map[string]models.Side{
	"Buy":  models.SideSell,
	"Sell": models.SideBuy,
}

type liqEntry struct {
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	Price       string `json:"price"`
	Size        string `json:"size"`
	UpdatedTime int64  `json:"updatedTime"`
}

// allLiqEntry is the compact layout of allLiquidation.<PAIR>.
type allLiqEntry struct {
	Time   int64  `json:"T"`
	Symbol string `json:"s"`
	Side   string `json:"S"`
	Size   string `json:"v"`
	Price  string `json:"p"`
}

type liqPayload struct {
	Topic string          `json:"topic"`
	Ts    int64           `json:"ts"`
	Data  json.RawMessage `json:"data"`
	Op    string          `json:"op"`
}

// LiquidationCodec subscribes to liquidation.<PAIR> for a fixed pair list on
// the linear endpoint. Bybit has no all-market liquidation channel.
type LiquidationCodec struct {
	url   string
	pairs []string
	now   reader.Clock
}

func NewLiquidationCodec(url string, pairs []string, now reader.Clock) *LiquidationCodec {
	if url == "" {
		url = LinearURL
	}
	return &LiquidationCodec{url: url, pairs: append([]string(nil), pairs...), now: now}
}

func (c *LiquidationCodec) Venue() string { return models.ExchangeBybitPerp }

func (c *LiquidationCodec) URL(string) string { return c.url }

func (c *LiquidationCodec) Heartbeat() []byte { return heartbeat }

func (c *LiquidationCodec) Subscription(string) any {
	if len(c.pairs) == 0 {
		return nil
	}
	args := make([]string, 0, len(c.pairs))
	for _, p := range c.pairs {
		args = append(args, "liquidation."+strings.ToUpper(p))
	}
	return subscribeRequest{Op: "subscribe", Args: args}
}

func (c *LiquidationCodec) Decode(payload []byte) ([]models.Liquidation, error) {
	var msg liqPayload
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, reader.Malformed(c.Venue(), err)
	}
	if !strings.HasPrefix(msg.Topic, "liquidation.") && !strings.HasPrefix(msg.Topic, "allLiquidation.") {
		return nil, reader.Unrelated(c.Venue(), describe(msg.Topic, msg.Op))
	}

	raw := bytes.TrimSpace(msg.Data)
	if len(raw) == 0 {
		return nil, reader.Malformed(c.Venue(), fmt.Errorf("missing data"))
	}
	if raw[0] == '[' {
		var entries []allLiqEntry
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, reader.Malformed(c.Venue(), err)
		}
		out := make([]models.Liquidation, 0, len(entries))
		for _, e := range entries {
			l, err := c.build(e.Symbol, e.Side, e.Price, e.Size, e.Time, msg.Ts)
			if err != nil {
				return nil, err
			}
			out = append(out, l)
		}
		return out, nil
	}

	var e liqEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, reader.Malformed(c.Venue(), err)
	}
	l, err := c.build(e.Symbol, e.Side, e.Price, e.Size, msg.Ts, e.UpdatedTime)
	if err != nil {
		return nil, err
	}
	return []models.Liquidation{l}, nil
}

// build picks the first non-zero of the candidate timestamps, then the
// receive time.
func (c *LiquidationCodec) build(symbol, rawSide, price, size string, times ...int64) (models.Liquidation, error) {
	side, ok := liqSide[rawSide]
	if !ok {
		return models.Liquidation{}, reader.UnknownSide(c.Venue(), rawSide)
	}
	usd, err := models.Notional(price, size)
	if err != nil {
		return models.Liquidation{}, reader.Malformed(c.Venue(), err)
	}
	var ts int64
	for _, t := range times {
		if t != 0 {
			ts = t
			break
		}
	}
	if ts == 0 {
		ts = c.now.Millis()
	}
	value, _ := usd.Float64()
	return models.Liquidation{
		Symbol:      symbols.ToBase("bybit", symbol),
		Side:        side,
		Price:       price,
		Quantity:    size,
		USDValue:    value,
		TimestampMs: ts,
		Exchange:    models.ExchangeBybitPerp,
	}, nil
}

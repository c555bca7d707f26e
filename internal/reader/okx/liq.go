package okx

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"livetape/internal/models"
	"livetape/internal/reader"
)

const liquidationChannel = "liquidation-orders"

// liqSide maps the order side of the forced close.
var liqSide = map[string]models.Side{
	"buy":  models.SideBuy,
	"sell": models.SideSell,
}

// posSide is used when a detail carries no order side: closing a short
// buys, closing a long sells.
var posSide = map[string]models.Side{
	"short": models.SideBuy,
	"long":  models.SideSell,
}

var instTypeTag = map[string]string{
	"SWAP":    models.ExchangeOKXPerp,
	"FUTURES": models.ExchangeOKXFutures,
}

type liqDetail struct {
	BkPx    string `json:"bkPx"`
	Sz      string `json:"sz"`
	Side    string `json:"side"`
	PosSide string `json:"posSide"`
	Ts      string `json:"ts"`
}

type liqInstrument struct {
	InstID   string      `json:"instId"`
	InstType string      `json:"instType"`
	Details  []liqDetail `json:"details"`
}

type liqPayload struct {
	Event string          `json:"event"`
	Arg   channelArg      `json:"arg"`
	Data  []liqInstrument `json:"data"`
}

// detailAmounts parses price and size. An unparsable or non-positive value
// drops only that detail.
func detailAmounts(d liqDetail) (px, sz decimal.Decimal, ok bool) {
	px, err := decimal.NewFromString(d.BkPx)
	if err != nil || !px.IsPositive() {
		return px, sz, false
	}
	sz, err = decimal.NewFromString(d.Sz)
	if err != nil || !sz.IsPositive() {
		return px, sz, false
	}
	return px, sz, true
}

// LiquidationCodec subscribes to liquidation-orders for perpetual swaps and
// dated futures. Each instrument entry may bundle several details; every
// detail becomes one event.
type LiquidationCodec struct {
	url string
	now reader.Clock
}

func NewLiquidationCodec(url string, now reader.Clock) *LiquidationCodec {
	if url == "" {
		url = PublicURL
	}
	return &LiquidationCodec{url: url, now: now}
}

func (c *LiquidationCodec) Venue() string { return "OKX" }

func (c *LiquidationCodec) URL(string) string { return c.url }

func (c *LiquidationCodec) Heartbeat() []byte { return []byte("ping") }

func (c *LiquidationCodec) Subscription(string) any {
	return subscribeRequest{
		Op: "subscribe",
		Args: []channelArg{
			{Channel: liquidationChannel, InstType: "SWAP"},
			{Channel: liquidationChannel, InstType: "FUTURES"},
		},
	}
}

func (c *LiquidationCodec) Decode(payload []byte) ([]models.Liquidation, error) {
	if reader.IsText(payload, "pong") {
		return nil, reader.Unrelated(c.Venue(), "pong")
	}
	var msg liqPayload
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, reader.Malformed(c.Venue(), err)
	}
	if msg.Event != "" {
		return nil, reader.Unrelated(c.Venue(), "event "+msg.Event)
	}
	if msg.Arg.Channel != liquidationChannel {
		return nil, reader.Unrelated(c.Venue(), "channel "+msg.Arg.Channel)
	}

	var (
		out       []models.Liquidation
		rejectErr error
	)
	for _, inst := range msg.Data {
		base := inst.InstID
		if i := strings.IndexByte(base, '-'); i >= 0 {
			base = base[:i]
		}
		instType := inst.InstType
		if instType == "" {
			instType = msg.Arg.InstType
		}
		tag, ok := instTypeTag[instType]
		if !ok {
			tag = models.ExchangeOKXPerp
		}

		for _, d := range inst.Details {
			px, sz, ok := detailAmounts(d)
			if !ok {
				continue
			}
			side, ok := liqSide[d.Side]
			if !ok && d.Side == "" {
				side, ok = posSide[d.PosSide]
			}
			if !ok {
				rejectErr = reader.UnknownSide(c.Venue(), d.Side+"/"+d.PosSide)
				continue
			}
			ts, err := models.ParseMillis(d.Ts)
			if err != nil {
				ts = c.now.Millis()
			}
			value, _ := px.Mul(sz).Float64()
			out = append(out, models.Liquidation{
				Symbol:      strings.ToUpper(base),
				Side:        side,
				Price:       d.BkPx,
				Quantity:    d.Sz,
				USDValue:    value,
				TimestampMs: ts,
				Exchange:    tag,
			})
		}
	}
	if len(out) == 0 && rejectErr != nil {
		return nil, rejectErr
	}
	return out, nil
}

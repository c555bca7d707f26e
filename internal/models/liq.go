package models

import "time"

// Side is the direction of the forced order that closed a position.
// BUY means a short was liquidated; SELL means a long was liquidated.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Exchange tags attached to liquidation events.
const (
	ExchangeBinancePerp = "BINANCE_PERP"
	ExchangeBybitPerp   = "BYBIT_PERP"
	ExchangeOKXPerp     = "OKX_PERP"
	ExchangeOKXFutures  = "OKX_FUTURES"
)

// Liquidation is a forced position closure normalized across venues.
type Liquidation struct {
	Symbol      string  `json:"symbol"`
	Side        Side    `json:"side"`
	Price       string  `json:"price"`
	Quantity    string  `json:"quantity"`
	USDValue    float64 `json:"usdValue"`
	TimestampMs int64   `json:"timestamp"`
	Exchange    string  `json:"exchange"`
}

// Time returns the event time as UTC.
func (l Liquidation) Time() time.Time {
	return time.UnixMilli(l.TimestampMs).UTC()
}

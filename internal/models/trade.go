package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// VenueID names one of the fixed trade streams.
type VenueID string

const (
	BinanceSpot VenueID = "BINANCE_SPOT"
	BinancePerp VenueID = "BINANCE_PERP"
	BybitSpot   VenueID = "BYBIT_SPOT"
	BybitPerp   VenueID = "BYBIT_PERP"
	OKXSpot     VenueID = "OKX_SPOT"
	OKXPerp     VenueID = "OKX_PERP"
	Hyperliquid VenueID = "HYPERLIQUID"
	MEXCSpot    VenueID = "MEXC_SPOT"
)

// AllVenues lists every trade venue in display order.
var AllVenues = []VenueID{
	BinanceSpot,
	BinancePerp,
	BybitSpot,
	BybitPerp,
	OKXSpot,
	OKXPerp,
	Hyperliquid,
	MEXCSpot,
}

// Valid reports whether v is one of the known venues.
func (v VenueID) Valid() bool {
	for _, known := range AllVenues {
		if v == known {
			return true
		}
	}
	return false
}

// Trade is a single public execution normalized across venues. Price and
// Quantity keep the venue's literal formatting.
type Trade struct {
	ID                string          `json:"id"`
	Price             string          `json:"price"`
	Quantity          string          `json:"qty"`
	QuoteValue        decimal.Decimal `json:"quoteQty"`
	TimestampMs       int64           `json:"time"`
	IsSellerInitiated bool            `json:"isBuyerMaker"`
	Venue             VenueID         `json:"exchange"`
	Symbol            string          `json:"symbol"`
}

// Time returns the venue event time as UTC.
func (t Trade) Time() time.Time {
	return time.UnixMilli(t.TimestampMs).UTC()
}

// QuoteFloat returns the quote value as float64 for aggregation.
func (t Trade) QuoteFloat() float64 {
	f, _ := t.QuoteValue.Float64()
	return f
}

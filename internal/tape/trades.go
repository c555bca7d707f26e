// Package tape keeps the rolling in-memory views the dashboard reads: the
// per-venue trade tape and the liquidation book.
package tape

import (
	"sort"
	"sync"
	"time"

	"livetape/config"
	"livetape/internal/models"
	"livetape/internal/ringbuf"
)

// VenueStats summarises one venue's recent activity. LastEventMs is zero
// for a venue that has been silent since the last reset.
type VenueStats struct {
	Venue       models.VenueID `json:"venue"`
	Count       int            `json:"count"`
	LastEventMs int64          `json:"lastEventMs"`
}

type TradeStats struct {
	Symbol          string       `json:"symbol"`
	Venues          []VenueStats `json:"venues"`
	Total           int          `json:"total"`
	TradesPerSecond float64      `json:"tradesPerSecond"`
	BuyPercent      float64      `json:"buyPercent"`
	WhaleCount      int          `json:"whaleCount"`
}

// TradeTape holds the newest trades per venue, newest first.
type TradeTape struct {
	perVenue   int
	unified    int
	biasWindow int
	whaleUSD   float64
	rateWindow time.Duration
	now        func() time.Time

	mu       sync.RWMutex
	symbol   string
	trades   map[models.VenueID]*ringbuf.Buffer[models.Trade]
	lastSeen map[models.VenueID]int64
	arrivals []time.Time
}

func NewTradeTape(cfg config.TapeConfig) *TradeTape {
	d := config.Default().Tape
	if cfg.PerVenue <= 0 {
		cfg.PerVenue = d.PerVenue
	}
	if cfg.Unified <= 0 {
		cfg.Unified = d.Unified
	}
	if cfg.BiasWindow <= 0 {
		cfg.BiasWindow = d.BiasWindow
	}
	if cfg.WhaleUSD <= 0 {
		cfg.WhaleUSD = d.WhaleUSD
	}
	return &TradeTape{
		perVenue:   cfg.PerVenue,
		unified:    cfg.Unified,
		biasWindow: cfg.BiasWindow,
		whaleUSD:   cfg.WhaleUSD,
		rateWindow: time.Second,
		now:        time.Now,
		trades:     make(map[models.VenueID]*ringbuf.Buffer[models.Trade]),
		lastSeen:   make(map[models.VenueID]int64),
	}
}

// Add records t. Trades for a symbol other than the current one are
// ignored once the tape has been reset to a symbol.
func (tt *TradeTape) Add(t models.Trade) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	if tt.symbol != "" && t.Symbol != tt.symbol {
		return
	}

	buf, ok := tt.trades[t.Venue]
	if !ok {
		buf = ringbuf.New[models.Trade](tt.perVenue)
		tt.trades[t.Venue] = buf
	}
	buf.Push(t)

	now := tt.now()
	tt.lastSeen[t.Venue] = now.UnixMilli()
	tt.arrivals = append(tt.arrivals, now)
	tt.pruneArrivalsLocked(now)
}

func (tt *TradeTape) pruneArrivalsLocked(now time.Time) {
	cutoff := now.Add(-tt.rateWindow)
	i := 0
	for i < len(tt.arrivals) && !tt.arrivals[i].After(cutoff) {
		i++
	}
	tt.arrivals = tt.arrivals[i:]
}

// Reset clears every buffer and pins the tape to symbol.
func (tt *TradeTape) Reset(symbol string) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	tt.symbol = symbol
	tt.trades = make(map[models.VenueID]*ringbuf.Buffer[models.Trade])
	tt.lastSeen = make(map[models.VenueID]int64)
	tt.arrivals = nil
}

func (tt *TradeTape) Symbol() string {
	tt.mu.RLock()
	defer tt.mu.RUnlock()
	return tt.symbol
}

// Venue returns up to limit trades for one venue, newest first.
func (tt *TradeTape) Venue(id models.VenueID, limit int) []models.Trade {
	tt.mu.RLock()
	defer tt.mu.RUnlock()
	buf, ok := tt.trades[id]
	if !ok {
		return []models.Trade{}
	}
	return buf.Newest(limit)
}

// Unified merges every venue by event time, newest first.
func (tt *TradeTape) Unified(limit int) []models.Trade {
	tt.mu.RLock()
	defer tt.mu.RUnlock()
	return tt.unifiedLocked(limit)
}

func (tt *TradeTape) unifiedLocked(limit int) []models.Trade {
	if limit <= 0 || limit > tt.unified {
		limit = tt.unified
	}
	var all []models.Trade
	for _, buf := range tt.trades {
		all = append(all, buf.Newest(0)...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].TimestampMs > all[j].TimestampMs
	})
	if len(all) > limit {
		all = all[:limit]
	}
	return all
}

// Filter returns unified trades whose quote value is at least minUSD.
func (tt *TradeTape) Filter(minUSD float64, limit int) []models.Trade {
	tt.mu.RLock()
	defer tt.mu.RUnlock()
	var out []models.Trade
	for _, t := range tt.unifiedLocked(0) {
		if t.QuoteFloat() >= minUSD {
			out = append(out, t)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out
}

func (tt *TradeTape) Stats() TradeStats {
	tt.mu.Lock()
	defer tt.mu.Unlock()

	now := tt.now()
	tt.pruneArrivalsLocked(now)

	stats := TradeStats{
		Symbol:          tt.symbol,
		TradesPerSecond: float64(len(tt.arrivals)) / tt.rateWindow.Seconds(),
	}
	for _, id := range models.AllVenues {
		var n int
		if buf, ok := tt.trades[id]; ok {
			n = buf.Len()
		}
		stats.Venues = append(stats.Venues, VenueStats{Venue: id, Count: n, LastEventMs: tt.lastSeen[id]})
		stats.Total += n
	}

	unified := tt.unifiedLocked(0)
	var buy, sell float64
	for i, t := range unified {
		q := t.QuoteFloat()
		if i < tt.biasWindow {
			if t.IsSellerInitiated {
				sell += q
			} else {
				buy += q
			}
		}
		if q >= tt.whaleUSD {
			stats.WhaleCount++
		}
	}
	if buy+sell > 0 {
		stats.BuyPercent = buy / (buy + sell) * 100
	} else {
		stats.BuyPercent = 50
	}
	return stats
}

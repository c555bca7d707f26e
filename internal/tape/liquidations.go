package tape

import (
	"sort"
	"sync"
	"time"

	"livetape/config"
	"livetape/internal/models"
	"livetape/internal/ringbuf"
)

// Severity tiers a liquidation by its USD value.
type Severity string

const (
	SeverityNominal     Severity = "NOMINAL"
	SeveritySignificant Severity = "SIGNIFICANT"
	SeverityWhale       Severity = "WHALE"
	SeverityLeviathan   Severity = "LEVIATHAN"
)

func SeverityOf(usd float64) Severity {
	switch {
	case usd >= 100_000:
		return SeverityLeviathan
	case usd >= 50_000:
		return SeverityWhale
	case usd >= 10_000:
		return SeveritySignificant
	default:
		return SeverityNominal
	}
}

const (
	densityWindow    = time.Minute
	densityReference = 200_000.0
)

type SymbolTotals struct {
	Symbol   string  `json:"symbol"`
	TotalUSD float64 `json:"totalUsd"`
	BuyUSD   float64 `json:"buyUsd"`
	SellUSD  float64 `json:"sellUsd"`
	Count    int     `json:"count"`
}

type LiquidationSummary struct {
	SessionUSD   float64        `json:"sessionUsd"`
	SessionCount int64          `json:"sessionCount"`
	Density      float64        `json:"density"`
	BySymbol     []SymbolTotals `json:"bySymbol"`
	TopAssets    []SymbolTotals `json:"topAssets"`
}

// LiquidationBook keeps a bounded liquidation history, newest first, plus
// session totals that only ever grow.
type LiquidationBook struct {
	symbolWindow time.Duration
	topAssets    int
	now          func() time.Time

	mu           sync.RWMutex
	history      *ringbuf.Buffer[models.Liquidation]
	sessionUSD   float64
	sessionCount int64
}

func NewLiquidationBook(cfg config.TapeConfig) *LiquidationBook {
	d := config.Default().Tape
	if cfg.Liquidations <= 0 {
		cfg.Liquidations = d.Liquidations
	}
	if cfg.SymbolWindow <= 0 {
		cfg.SymbolWindow = d.SymbolWindow
	}
	if cfg.TopAssets <= 0 {
		cfg.TopAssets = d.TopAssets
	}
	return &LiquidationBook{
		symbolWindow: cfg.SymbolWindow,
		topAssets:    cfg.TopAssets,
		now:          time.Now,
		history:      ringbuf.New[models.Liquidation](cfg.Liquidations),
	}
}

func (b *LiquidationBook) Add(l models.Liquidation) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history.Push(l)
	b.sessionUSD += l.USDValue
	b.sessionCount++
}

// Recent returns up to limit liquidations, newest first.
func (b *LiquidationBook) Recent(limit int) []models.Liquidation {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.history.Newest(limit)
}

func (b *LiquidationBook) Session() (usd float64, count int64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sessionUSD, b.sessionCount
}

// BySymbol aggregates the history newer than window, largest total first.
func (b *LiquidationBook) BySymbol(window time.Duration) []SymbolTotals {
	if window <= 0 {
		window = b.symbolWindow
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	cutoff := b.now().Add(-window).UnixMilli()
	return aggregate(b.history, func(l models.Liquidation) bool { return l.TimestampMs >= cutoff })
}

// TopAssets aggregates the whole history and keeps the n largest symbols.
func (b *LiquidationBook) TopAssets(n int) []SymbolTotals {
	if n <= 0 {
		n = b.topAssets
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := aggregate(b.history, func(models.Liquidation) bool { return true })
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// Density scales the USD liquidated in the last minute to 0..100.
func (b *LiquidationBook) Density(now time.Time) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	cutoff := now.Add(-densityWindow).UnixMilli()
	var sum float64
	b.history.Each(func(l models.Liquidation) bool {
		if l.TimestampMs >= cutoff {
			sum += l.USDValue
		}
		return true
	})
	d := sum / densityReference * 10
	if d < 0 {
		return 0
	}
	if d > 100 {
		return 100
	}
	return d
}

func (b *LiquidationBook) Summary() LiquidationSummary {
	usd, count := b.Session()
	return LiquidationSummary{
		SessionUSD:   usd,
		SessionCount: count,
		Density:      b.Density(b.now()),
		BySymbol:     b.BySymbol(0),
		TopAssets:    b.TopAssets(0),
	}
}

func aggregate(history *ringbuf.Buffer[models.Liquidation], keep func(models.Liquidation) bool) []SymbolTotals {
	totals := make(map[string]*SymbolTotals)
	history.Each(func(l models.Liquidation) bool {
		if !keep(l) {
			return true
		}
		st, ok := totals[l.Symbol]
		if !ok {
			st = &SymbolTotals{Symbol: l.Symbol}
			totals[l.Symbol] = st
		}
		st.TotalUSD += l.USDValue
		st.Count++
		if l.Side == models.SideBuy {
			st.BuyUSD += l.USDValue
		} else {
			st.SellUSD += l.USDValue
		}
		return true
	})
	out := make([]SymbolTotals, 0, len(totals))
	for _, st := range totals {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalUSD == out[j].TotalUSD {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].TotalUSD > out[j].TotalUSD
	})
	return out
}

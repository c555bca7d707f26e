// Package channel holds the bounded buffers between the stream callbacks
// and the dispatch workers.
package channel

import (
	"context"
	"sync"
	"time"

	"livetape/internal/metrics"
	"livetape/internal/models"
	"livetape/logger"
)

type Stats struct {
	TradesSent          int64
	TradesDropped       int64
	LiquidationsSent    int64
	LiquidationsDropped int64
}

// Buffers never block the sender: a full buffer drops the event and
// counts it.
type Buffers struct {
	Trades       chan models.Trade
	Liquidations chan models.Liquidation

	stats      Stats
	statsMutex sync.RWMutex
	closeOnce  sync.Once
	log        *logger.Log
}

func NewBuffers(tradeBufferSize, liquidationBufferSize int) *Buffers {
	log := logger.GetLogger()
	b := &Buffers{
		Trades:       make(chan models.Trade, tradeBufferSize),
		Liquidations: make(chan models.Liquidation, liquidationBufferSize),
		log:          log,
	}

	log.WithComponent("channels").WithFields(logger.Fields{
		"trade_buffer_size":       tradeBufferSize,
		"liquidation_buffer_size": liquidationBufferSize,
	}).Info("channels initialized")
	return b
}

// SendTrade enqueues t and reports whether it was accepted.
func (b *Buffers) SendTrade(t models.Trade) bool {
	select {
	case b.Trades <- t:
		b.statsMutex.Lock()
		b.stats.TradesSent++
		b.statsMutex.Unlock()
		return true
	default:
		b.statsMutex.Lock()
		b.stats.TradesDropped++
		b.statsMutex.Unlock()
		metrics.EmitDropMetric(b.log, metrics.DropMetricTrade, string(t.Venue), "trade", t.Symbol, "buffer")
		return false
	}
}

// SendLiquidation enqueues l and reports whether it was accepted.
func (b *Buffers) SendLiquidation(l models.Liquidation) bool {
	select {
	case b.Liquidations <- l:
		b.statsMutex.Lock()
		b.stats.LiquidationsSent++
		b.statsMutex.Unlock()
		return true
	default:
		b.statsMutex.Lock()
		b.stats.LiquidationsDropped++
		b.statsMutex.Unlock()
		metrics.EmitDropMetric(b.log, metrics.DropMetricLiquidation, l.Exchange, "liquidation", l.Symbol, "buffer")
		return false
	}
}

func (b *Buffers) GetStats() Stats {
	b.statsMutex.RLock()
	defer b.statsMutex.RUnlock()
	return b.stats
}

// Gauges describes both buffers for channel size metrics.
func (b *Buffers) Gauges() []metrics.BufferGauge {
	return []metrics.BufferGauge{
		{Name: "trades", Len: func() int { return len(b.Trades) }, Cap: func() int { return cap(b.Trades) }},
		{Name: "liquidations", Len: func() int { return len(b.Liquidations) }, Cap: func() int { return cap(b.Liquidations) }},
	}
}

// StartStatsReporting logs the counters every interval until ctx is done.
func (b *Buffers) StartStatsReporting(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.logStats()
			}
		}
	}()
}

func (b *Buffers) logStats() {
	stats := b.GetStats()
	b.log.WithComponent("channels").WithFields(logger.Fields{
		"trades_sent":          stats.TradesSent,
		"trades_dropped":       stats.TradesDropped,
		"liquidations_sent":    stats.LiquidationsSent,
		"liquidations_dropped": stats.LiquidationsDropped,
		"trade_channel_len":    len(b.Trades),
		"trade_channel_cap":    cap(b.Trades),
		"liq_channel_len":      len(b.Liquidations),
		"liq_channel_cap":      cap(b.Liquidations),
	}).Info("channel statistics")
}

// Close closes both channels. Senders must be stopped first.
func (b *Buffers) Close() {
	b.closeOnce.Do(func() {
		close(b.Trades)
		close(b.Liquidations)
		b.log.WithComponent("channels").Info("all channels closed")
	})
}

// Package dispatch drains the channel buffers and fans each event out to
// the registered sinks.
package dispatch

import (
	"context"
	"fmt"
	"sync"

	"livetape/internal/channel"
	"livetape/internal/models"
	"livetape/logger"
)

type TradeSink func(ctx context.Context, t models.Trade)

type LiquidationSink func(ctx context.Context, l models.Liquidation)

type Dispatcher struct {
	buffers      *channel.Buffers
	trades       []TradeSink
	liquidations []LiquidationSink

	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	log     *logger.Log
}

func New(buffers *channel.Buffers) *Dispatcher {
	return &Dispatcher{buffers: buffers, log: logger.GetLogger()}
}

// OnTrade registers a trade sink. Sinks must be registered before Start.
func (d *Dispatcher) OnTrade(s TradeSink) { d.trades = append(d.trades, s) }

func (d *Dispatcher) OnLiquidation(s LiquidationSink) {
	d.liquidations = append(d.liquidations, s)
}

func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return fmt.Errorf("dispatcher already running")
	}
	d.running = true
	ctx, d.cancel = context.WithCancel(ctx)

	d.log.WithComponent("dispatcher").WithFields(logger.Fields{
		"trade_sinks":       len(d.trades),
		"liquidation_sinks": len(d.liquidations),
	}).Info("starting dispatcher")

	d.wg.Add(2)
	go d.tradeWorker(ctx)
	go d.liquidationWorker(ctx)
	return nil
}

// Stop cancels the workers and waits for them to return.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.cancel()
	d.mu.Unlock()

	d.wg.Wait()
	d.log.WithComponent("dispatcher").Info("dispatcher stopped")
}

func (d *Dispatcher) tradeWorker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-d.buffers.Trades:
			if !ok {
				return
			}
			for _, sink := range d.trades {
				sink(ctx, t)
			}
		}
	}
}

func (d *Dispatcher) liquidationWorker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case l, ok := <-d.buffers.Liquidations:
			if !ok {
				return
			}
			for _, sink := range d.liquidations {
				sink(ctx, l)
			}
		}
	}
}

package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livetape/internal/channel"
	"livetape/internal/models"
)

type sinkRecorder struct {
	mu     sync.Mutex
	trades []string
	liqs   []string
}

func (r *sinkRecorder) trade(_ context.Context, t models.Trade) {
	r.mu.Lock()
	r.trades = append(r.trades, t.ID)
	r.mu.Unlock()
}

func (r *sinkRecorder) liquidation(_ context.Context, l models.Liquidation) {
	r.mu.Lock()
	r.liqs = append(r.liqs, l.Symbol)
	r.mu.Unlock()
}

func (r *sinkRecorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.trades), len(r.liqs)
}

func TestDispatcherFansOutInOrder(t *testing.T) {
	buffers := channel.NewBuffers(16, 16)
	d := New(buffers)
	a, b := &sinkRecorder{}, &sinkRecorder{}
	d.OnTrade(a.trade)
	d.OnTrade(b.trade)
	d.OnLiquidation(a.liquidation)

	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()

	for _, id := range []string{"1", "2", "3"} {
		buffers.SendTrade(models.Trade{ID: id})
	}
	buffers.SendLiquidation(models.Liquidation{Symbol: "BTC"})

	require.Eventually(t, func() bool {
		ta, la := a.counts()
		tb, _ := b.counts()
		return ta == 3 && tb == 3 && la == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"1", "2", "3"}, a.trades)
}

func TestDispatcherStartTwice(t *testing.T) {
	d := New(channel.NewBuffers(1, 1))
	require.NoError(t, d.Start(context.Background()))
	assert.Error(t, d.Start(context.Background()))
	d.Stop()
	d.Stop()
}

func TestDispatcherStopsOnClosedBuffers(t *testing.T) {
	buffers := channel.NewBuffers(1, 1)
	d := New(buffers)
	require.NoError(t, d.Start(context.Background()))
	buffers.Close()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("workers did not exit after buffers closed")
	}
	d.Stop()
}

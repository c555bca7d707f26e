package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livetape/config"
	"livetape/logger"
)

// capture registers a buffered handler for the duration of the test.
func capture(t *testing.T) <-chan Metric {
	t.Helper()
	events := make(chan Metric, 16)
	id := RegisterMetricHandler(func(m Metric) {
		select {
		case events <- m:
		default:
		}
	})
	require.NotZero(t, id)
	t.Cleanup(func() { UnregisterMetricHandler(id) })
	return events
}

func next(t *testing.T, events <-chan Metric) Metric {
	t.Helper()
	select {
	case m := <-events:
		return m
	case <-time.After(time.Second):
		t.Fatal("no metric delivered")
		return Metric{}
	}
}

func assertNone(t *testing.T, events <-chan Metric) {
	t.Helper()
	select {
	case m := <-events:
		t.Fatalf("unexpected metric %s", m.Name)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestRegisterMetricHandlerIDs(t *testing.T) {
	a := RegisterMetricHandler(func(Metric) {})
	b := RegisterMetricHandler(func(Metric) {})
	t.Cleanup(func() {
		UnregisterMetricHandler(a)
		UnregisterMetricHandler(b)
	})
	assert.NotZero(t, a)
	assert.NotEqual(t, a, b)
	assert.Zero(t, RegisterMetricHandler(nil))
}

func TestUnregisteredHandlerStopsReceiving(t *testing.T) {
	got := 0
	id := RegisterMetricHandler(func(Metric) { got++ })
	EmitMetric(logger.Discard(), "tape", "updates", 1, "", nil)
	UnregisterMetricHandler(id)
	EmitMetric(logger.Discard(), "tape", "updates", 1, "", nil)
	assert.Equal(t, 1, got)
}

func TestEmitMetricDelivers(t *testing.T) {
	events := capture(t)
	fields := logger.Fields{"venue": "BINANCE_SPOT", "unit": "count"}

	EmitMetric(logger.Discard(), "trade_stream", "frames_received", 3, "gauge", fields)

	m := next(t, events)
	assert.Equal(t, "trade_stream", m.Component)
	assert.Equal(t, "frames_received", m.Name)
	assert.Equal(t, "gauge", m.Type)
	assert.Equal(t, 3, m.Value)
	assert.Equal(t, "BINANCE_SPOT", m.Fields["venue"])
	assert.NotContains(t, m.Fields, "metric")
	assert.Len(t, fields, 2, "caller fields mutated")
}

func TestEmitMetricDefaultsToCounter(t *testing.T) {
	events := capture(t)
	EmitMetric(logger.Discard(), "tape", "updates", 7, "", nil)
	assert.Equal(t, "counter", next(t, events).Type)
}

func TestEmitMetricRequiresName(t *testing.T) {
	events := capture(t)
	EmitMetric(logger.Discard(), "component", "", 1, "counter", nil)
	assertNone(t, events)
}

func TestChannelSizeFeatureGate(t *testing.T) {
	events := capture(t)
	Configure(config.MetricsConfig{ChannelSize: false})
	t.Cleanup(func() { Configure(config.MetricsConfig{ChannelSize: true}) })
	require.False(t, IsFeatureEnabled(FeatureChannelSize))

	EmitMetric(logger.Discard(), "channel_buffers", "trades"+bufferLengthSuffix, 1, "gauge", nil)
	EmitMetric(logger.Discard(), "channel_drops", string(DropMetricTrade), 1, "counter", nil)

	assert.Equal(t, string(DropMetricTrade), next(t, events).Name)
	assertNone(t, events)
}

func TestEmitDropMetricFields(t *testing.T) {
	events := capture(t)
	EmitDropMetric(logger.Discard(), DropMetricLiquidation, "OKX", "liquidation", "", "buffer")

	m := next(t, events)
	assert.Equal(t, "channel_drops", m.Component)
	assert.Equal(t, 1, m.Value)
	assert.Equal(t, logger.Fields{"venue": "OKX", "kind": "liquidation", "stage": "buffer"}, m.Fields)
}

func TestChannelSizeMetricsEmitGauges(t *testing.T) {
	events := capture(t)
	buf := make(chan int, 4)
	buf <- 1

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartChannelSizeMetrics(ctx, 5*time.Millisecond, BufferGauge{
		Name: "trades",
		Len:  func() int { return len(buf) },
		Cap:  func() int { return cap(buf) },
	})

	m := next(t, events)
	assert.Equal(t, "trades"+bufferLengthSuffix, m.Name)
	assert.Equal(t, 1, m.Value)
	assert.Equal(t, 4, m.Fields["capacity"])
}

package metrics

import (
	"context"
	"time"

	"livetape/logger"
)

const bufferLengthSuffix = "_buffer_length"

// BufferGauge describes one buffered channel to sample.
type BufferGauge struct {
	Name string
	Len  func() int
	Cap  func() int
}

// StartChannelSizeMetrics emits an occupancy gauge per buffer every
// interval until ctx is cancelled. A non-positive interval uses one second.
func StartChannelSizeMetrics(ctx context.Context, interval time.Duration, gauges ...BufferGauge) {
	if !IsFeatureEnabled(FeatureChannelSize) || len(gauges) == 0 {
		return
	}
	if interval <= 0 {
		interval = time.Second
	}

	log := logger.GetLogger()
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, g := range gauges {
					EmitMetric(log, "channel_buffers", g.Name+bufferLengthSuffix, g.Len(), "gauge", logger.Fields{
						"buffer":   g.Name,
						"capacity": g.Cap(),
					})
				}
			}
		}
	}()
}

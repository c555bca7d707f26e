package metrics

import "livetape/logger"

// DropMetric identifies the metric name emitted when channel messages are dropped.
type DropMetric string

const (
	// DropMetricTrade records trades dropped because the fan-in buffer was full.
	DropMetricTrade DropMetric = "trade_messages_dropped"
	// DropMetricLiquidation records dropped liquidation events.
	DropMetricLiquidation DropMetric = "liquidation_messages_dropped"
	// DropMetricHubClient records frames dropped for a slow dashboard client.
	DropMetricHubClient DropMetric = "hub_client_messages_dropped"
)

// EmitDropMetric records one dropped message. Optional metadata (venue,
// kind, symbol, stage) becomes metric fields when set.
func EmitDropMetric(log *logger.Log, metric DropMetric, venue, kind, symbol, stage string) {
	fields := logger.Fields{}
	if venue != "" {
		fields["venue"] = venue
	}
	if kind != "" {
		fields["kind"] = kind
	}
	if symbol != "" {
		fields["symbol"] = symbol
	}
	if stage != "" {
		fields["stage"] = stage
	}

	drops.WithLabelValues(string(metric), venue).Inc()
	EmitMetric(log, "channel_drops", string(metric), 1, "counter", fields)
}

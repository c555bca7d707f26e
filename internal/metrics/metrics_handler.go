package metrics

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"livetape/config"
	"livetape/logger"
)

// Metric is one emitted measurement. Fields carries the caller's labels
// only; the name, type and value live in their own members.
type Metric struct {
	Timestamp time.Time
	Component string
	Name      string
	Value     interface{}
	Type      string
	Fields    logger.Fields
}

type MetricHandler func(Metric)

// MetricHandlerID is returned by RegisterMetricHandler. Zero is never a
// live registration.
type MetricHandlerID uint64

// Feature is a group of metrics that configuration can switch off.
type Feature int

const FeatureChannelSize Feature = iota

const defaultMetricType = "counter"

var timeNow = time.Now

// fanout delivers each metric to every registered handler, outside its lock.
type fanout struct {
	mu       sync.RWMutex
	next     MetricHandlerID
	handlers map[MetricHandlerID]MetricHandler
}

func (f *fanout) add(h MetricHandler) MetricHandlerID {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handlers == nil {
		f.handlers = make(map[MetricHandlerID]MetricHandler)
	}
	f.next++
	f.handlers[f.next] = h
	return f.next
}

func (f *fanout) remove(id MetricHandlerID) {
	f.mu.Lock()
	delete(f.handlers, id)
	f.mu.Unlock()
}

func (f *fanout) snapshot() []MetricHandler {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]MetricHandler, 0, len(f.handlers))
	for _, h := range f.handlers {
		out = append(out, h)
	}
	return out
}

func (f *fanout) send(m Metric) {
	for _, h := range f.snapshot() {
		h(m)
	}
}

var (
	handlers           fanout
	channelSizeEnabled atomic.Bool
)

func init() {
	channelSizeEnabled.Store(true)
}

// Configure applies the feature toggles of the metrics section.
func Configure(cfg config.MetricsConfig) {
	channelSizeEnabled.Store(cfg.ChannelSize)
}

func IsFeatureEnabled(f Feature) bool {
	if f == FeatureChannelSize {
		return channelSizeEnabled.Load()
	}
	return true
}

// gated reports whether name belongs to a feature that is switched off.
func gated(name string) bool {
	return strings.HasSuffix(name, bufferLengthSuffix) && !IsFeatureEnabled(FeatureChannelSize)
}

// RegisterMetricHandler subscribes h to every emitted metric. A nil h is
// ignored and yields 0.
func RegisterMetricHandler(h MetricHandler) MetricHandlerID {
	if h == nil {
		return 0
	}
	return handlers.add(h)
}

func UnregisterMetricHandler(id MetricHandlerID) {
	if id != 0 {
		handlers.remove(id)
	}
}

// recordMetric logs the metric at debug and fans it out. Unnamed and gated
// metrics are dropped and report false.
func recordMetric(log *logger.Log, component, name string, value interface{}, metricType string, fields logger.Fields) (Metric, bool) {
	if name == "" || gated(name) {
		return Metric{}, false
	}
	if metricType == "" {
		metricType = defaultMetricType
	}
	if log == nil {
		log = logger.GetLogger()
	}

	labels := make(logger.Fields, len(fields))
	for k, v := range fields {
		labels[k] = v
	}
	m := Metric{
		Timestamp: timeNow(),
		Component: component,
		Name:      name,
		Value:     value,
		Type:      metricType,
		Fields:    labels,
	}

	log.WithComponent(component).WithFields(labels).WithFields(logger.Fields{
		"metric":      name,
		"metric_type": metricType,
		"value":       value,
	}).Debug("metric")

	handlers.send(m)
	return m, true
}

package dashboard

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"livetape/config"
	"livetape/internal/metrics"
	"livetape/internal/ringbuf"
	"livetape/logger"
)

const defaultHistory = 200

// ring keeps the newest limit items in arrival order.
type ring[T any] struct {
	mu  sync.RWMutex
	buf *ringbuf.Buffer[T]
}

func newRing[T any](limit int) *ring[T] {
	if limit <= 0 {
		limit = defaultHistory
	}
	return &ring[T]{buf: ringbuf.New[T](limit)}
}

func (r *ring[T]) push(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf.Push(v)
}

func (r *ring[T]) snapshot() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.buf.Chronological()
}

// history is the recent activity behind /api/metrics, /api/logs and
// /api/resources.
type history struct {
	metrics   *metricStore
	logs      *logStore
	resources *resourceSampler
	handler   metrics.MetricHandlerID
}

func newHistory(cfg config.DashboardConfig, log *logger.Log) *history {
	h := &history{
		metrics:   newMetricStore(cfg.MetricsHistory),
		logs:      newLogStore(cfg.LogHistory),
		resources: newResourceSampler(cfg.MetricsHistory, cfg.RefreshInterval, log),
	}
	h.handler = metrics.RegisterMetricHandler(h.metrics.handle)
	log.AddHook(h.logs)
	return h
}

func (h *history) close() {
	metrics.UnregisterMetricHandler(h.handler)
	h.logs.close()
	h.resources.stop()
}

type metricRecord struct {
	Timestamp time.Time     `json:"timestamp"`
	Component string        `json:"component"`
	Name      string        `json:"name"`
	Value     interface{}   `json:"value"`
	Type      string        `json:"type"`
	Fields    logger.Fields `json:"fields,omitempty"`
}

type metricStore struct {
	*ring[metricRecord]
}

func newMetricStore(limit int) *metricStore {
	return &metricStore{ring: newRing[metricRecord](limit)}
}

func (s *metricStore) handle(m metrics.Metric) {
	s.push(metricRecord{
		Timestamp: m.Timestamp,
		Component: m.Component,
		Name:      m.Name,
		Value:     m.Value,
		Type:      m.Type,
		Fields:    m.Fields,
	})
}

type logRecord struct {
	Timestamp time.Time     `json:"timestamp"`
	Level     string        `json:"level"`
	Component string        `json:"component,omitempty"`
	Message   string        `json:"message"`
	Fields    logger.Fields `json:"fields,omitempty"`
}

// logStore is a logrus hook capturing entries until closed. It stays
// attached to the logger afterwards and ignores everything.
type logStore struct {
	*ring[logRecord]
	closed atomic.Bool
}

func newLogStore(limit int) *logStore {
	return &logStore{ring: newRing[logRecord](limit)}
}

func (s *logStore) Levels() []logrus.Level { return logrus.AllLevels }

func (s *logStore) Fire(entry *logrus.Entry) error {
	if s.closed.Load() {
		return nil
	}
	rec := logRecord{
		Timestamp: entry.Time,
		Level:     entry.Level.String(),
		Message:   entry.Message,
	}
	rec.Component, _ = entry.Data["component"].(string)
	for k, v := range entry.Data {
		if k == "component" {
			continue
		}
		if rec.Fields == nil {
			rec.Fields = logger.Fields{}
		}
		rec.Fields[k] = jsonSafe(v)
	}
	s.push(rec)
	return nil
}

func (s *logStore) close() { s.closed.Store(true) }

// jsonSafe renders errors and Stringers as text; errors would otherwise
// marshal as {}.
func jsonSafe(v interface{}) interface{} {
	switch val := v.(type) {
	case error:
		return val.Error()
	case fmt.Stringer:
		return val.String()
	}
	return v
}

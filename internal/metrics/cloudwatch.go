package metrics

import (
	"context"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"livetape/logger"
)

const defaultNamespace = "Livetape"

// cloudWatchTarget is where numeric metrics go once InitCloudWatch has
// found credentials. A nil client means publishing is off.
type cloudWatchTarget struct {
	client    *cloudwatch.Client
	namespace string
	region    string
}

func (t *cloudWatchTarget) enabled() bool { return t != nil && t.client != nil }

// throttle admits a key at most once per interval.
type throttle struct {
	mu    sync.Mutex
	every time.Duration
	now   func() time.Time
	last  map[string]time.Time
}

func newThrottle(every time.Duration, now func() time.Time) *throttle {
	return &throttle{every: every, now: now, last: make(map[string]time.Time)}
}

func (t *throttle) allow(key string) bool {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, seen := t.last[key]; seen && now.Sub(prev) < t.every {
		return false
	}
	t.last[key] = now
	return true
}

var (
	target atomic.Pointer[cloudWatchTarget]

	// one datum per metric and dimension set per minute
	publishThrottle = newThrottle(time.Minute, func() time.Time { return timeNow() })

	putMetricData = func(ctx context.Context, t *cloudWatchTarget, data []cwtypes.MetricDatum) error {
		_, err := t.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(t.namespace),
			MetricData: data,
		})
		return err
	}
)

func cwLog() *logger.Entry { return logger.GetLogger().WithComponent("cloudwatch") }

// InitCloudWatch loads the default AWS configuration for region (AWS_REGION
// when empty) and enables publishing. A load failure is logged and leaves
// publishing off.
func InitCloudWatch(ctx context.Context, region, namespace string) {
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		cwLog().WithError(err).Warn("aws configuration unavailable, cloudwatch publishing disabled")
		return
	}

	t := &cloudWatchTarget{
		client:    cloudwatch.NewFromConfig(cfg),
		namespace: namespace,
		region:    cfg.Region,
	}
	if t.namespace == "" {
		t.namespace = defaultNamespace
	}
	if t.region == "" {
		t.region = region
	}
	target.Store(t)
	cwLog().WithFields(logger.Fields{"region": t.region, "namespace": t.namespace}).Info("cloudwatch publishing enabled")
}

// EmitMetric records the metric for logs and handlers, then publishes it to
// CloudWatch when the value is numeric and publishing is enabled.
func EmitMetric(log *logger.Log, component, name string, value interface{}, metricType string, fields logger.Fields) {
	m, ok := recordMetric(log, component, name, value, metricType, fields)
	if !ok {
		return
	}
	if v, numeric := toFloat64(m.Value); numeric {
		publishDatum(m, v)
	}
}

// PublishReport forwards the numeric fields of a runtime report in a single
// request. It matches logger.ReportSink.
func PublishReport(ctx context.Context, fields logger.Fields) {
	t := target.Load()
	if !t.enabled() {
		return
	}
	dims := []cwtypes.Dimension{dimension("component", "report")}
	var data []cwtypes.MetricDatum
	for name, raw := range fields {
		v, ok := toFloat64(raw)
		if !ok {
			continue
		}
		unit := cwtypes.StandardUnitCount
		if strings.HasSuffix(name, "_percent") {
			unit = cwtypes.StandardUnitPercent
		}
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String(name),
			Dimensions: dims,
			Unit:       unit,
			Value:      aws.Float64(v),
		})
	}
	put(ctx, t, data)
}

// dimensionsFor turns the component and every non-empty string label other
// than unit into dimensions, sorted by name.
func dimensionsFor(m Metric) []cwtypes.Dimension {
	dims := []cwtypes.Dimension{dimension("component", m.Component)}
	names := make([]string, 0, len(m.Fields))
	for k := range m.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		if s, ok := m.Fields[k].(string); ok && s != "" && k != "unit" {
			dims = append(dims, dimension(k, s))
		}
	}
	return dims
}

func throttleKey(name string, dims []cwtypes.Dimension) string {
	var b strings.Builder
	b.WriteString(name)
	for _, d := range dims {
		b.WriteString("|")
		b.WriteString(aws.ToString(d.Name))
		b.WriteString("=")
		b.WriteString(aws.ToString(d.Value))
	}
	return b.String()
}

func publishDatum(m Metric, v float64) {
	t := target.Load()
	if !t.enabled() {
		return
	}
	dims := dimensionsFor(m)
	if !publishThrottle.allow(throttleKey(m.Name, dims)) {
		return
	}
	unit := cwtypes.StandardUnitCount
	if raw, ok := m.Fields["unit"].(string); ok {
		if u, known := metricUnitFromString(raw); known {
			unit = u
		}
	}
	put(context.Background(), t, []cwtypes.MetricDatum{{
		MetricName: aws.String(m.Name),
		Dimensions: dims,
		Unit:       unit,
		Timestamp:  aws.Time(m.Timestamp),
		Value:      aws.Float64(v),
	}})
}

func put(ctx context.Context, t *cloudWatchTarget, data []cwtypes.MetricDatum) {
	if len(data) == 0 {
		return
	}
	if err := putMetricData(ctx, t, data); err != nil {
		cwLog().WithError(err).Warn("cloudwatch publish failed")
		return
	}
	cwLog().WithField("count", len(data)).Debug("cloudwatch datums published")
}

func dimension(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}

func toFloat64(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

func metricUnitFromString(unit string) (cwtypes.StandardUnit, bool) {
	units := map[string]cwtypes.StandardUnit{
		"count":        cwtypes.StandardUnitCount,
		"percent":      cwtypes.StandardUnitPercent,
		"bytes":        cwtypes.StandardUnitBytes,
		"milliseconds": cwtypes.StandardUnitMilliseconds,
		"seconds":      cwtypes.StandardUnitSeconds,
	}
	u, ok := units[strings.ToLower(unit)]
	return u, ok
}

package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OtelMetrics records counters and histograms via the global OTEL
// MeterProvider. Configure the provider (e.g. via an OTLP or Prometheus
// exporter) before constructing this type; NewOtelMetrics itself performs no
// exporter setup.
type OtelMetrics struct {
	meter      metric.Meter
	mu         sync.Mutex
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
}

// NewOtelMetrics constructs a Metrics recorder backed by the global OTEL
// meter named "github.com/muellerberndt/legion-core".
func NewOtelMetrics() Metrics {
	return &OtelMetrics{
		meter:      otel.Meter("github.com/muellerberndt/legion-core"),
		counters:   make(map[string]metric.Int64Counter),
		histograms: make(map[string]metric.Float64Histogram),
	}
}

func (m *OtelMetrics) IncCounter(name string, labels ...Field) {
	c, err := m.counter(name)
	if err != nil {
		return
	}
	c.Add(context.Background(), 1, metric.WithAttributes(toAttrs(labels)...))
}

func (m *OtelMetrics) ObserveDuration(name string, d time.Duration, labels ...Field) {
	h, err := m.histogram(name)
	if err != nil {
		return
	}
	h.Record(context.Background(), d.Seconds(), metric.WithAttributes(toAttrs(labels)...))
}

func (m *OtelMetrics) counter(name string) (metric.Int64Counter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.counters[name]; ok {
		return c, nil
	}
	c, err := m.meter.Int64Counter(name)
	if err != nil {
		return nil, err
	}
	m.counters[name] = c
	return c, nil
}

func (m *OtelMetrics) histogram(name string) (metric.Float64Histogram, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.histograms[name]; ok {
		return h, nil
	}
	h, err := m.meter.Float64Histogram(name)
	if err != nil {
		return nil, err
	}
	m.histograms[name] = h
	return h, nil
}

func toAttrs(fields []Field) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(fields))
	for _, f := range fields {
		switch v := f.Value.(type) {
		case string:
			attrs = append(attrs, attribute.String(f.Key, v))
		case int:
			attrs = append(attrs, attribute.Int(f.Key, v))
		case bool:
			attrs = append(attrs, attribute.Bool(f.Key, v))
		default:
			attrs = append(attrs, attribute.String(f.Key, anyToString(v)))
		}
	}
	return attrs
}

func anyToString(v any) string {
	if s, ok := v.(interface{ String() string }); ok {
		return s.String()
	}
	return ""
}

package telemetry

import "time"

type (
	// NoopLogger discards every log message. Useful in tests and for callers
	// that have not wired a logger yet.
	NoopLogger struct{}

	// NoopMetrics discards every recorded metric.
	NoopMetrics struct{}
)

// NewNoopLogger constructs a Logger that discards all messages.
func NewNoopLogger() Logger { return NoopLogger{} }

// NewNoopMetrics constructs a Metrics recorder that discards all observations.
func NewNoopMetrics() Metrics { return NoopMetrics{} }

func (NoopLogger) Debug(string, ...Field) {}
func (NoopLogger) Info(string, ...Field)  {}
func (NoopLogger) Warn(string, ...Field)  {}
func (NoopLogger) Error(string, ...Field) {}

func (NoopMetrics) IncCounter(string, ...Field)                  {}
func (NoopMetrics) ObserveDuration(string, time.Duration, ...Field) {}
